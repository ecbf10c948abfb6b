package main

import (
	"context"
	"fmt"

	"github.com/shulehq/shule/core/identity"
)

// deleteIdentity removes an identity from both systems. After a partial
// delete the credential is already gone and re-running finishes the job.
func (cli *commandLine) deleteIdentity(id string) error {
	state, err := cli.idtSvc.SynchronizeDelete(context.Background(), id)
	if err != nil {
		if state == identity.StatePartialDelete {
			return fmt.Errorf("partial delete of %s, re-run to finish: %w", id, err)
		}
		return err
	}
	fmt.Printf("deleted identity %s\n", id)
	return nil
}
