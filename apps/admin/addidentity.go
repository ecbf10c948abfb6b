package main

import (
	"context"
	"fmt"

	"github.com/shulehq/shule/core"
	"github.com/shulehq/shule/core/identity"
)

// addIdentity provisions an identity on both the credential provider and
// the record store.
func (cli *commandLine) addIdentity(email, name, role, branchID, secret string) error {
	ni := identity.NewIdentity{
		Email:    core.CleanString(email, true /* lower */),
		Name:     core.CleanString(name),
		Role:     identity.Role(role),
		BranchID: branchID,
		Secret:   secret,
	}
	if !ni.Role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}

	idt, state, err := cli.idtSvc.SynchronizeCreate(context.Background(), ni)
	if err != nil {
		return fmt.Errorf("create ended in state %q: %w", state, err)
	}
	fmt.Printf("created identity %s (%s)\n", idt.ID, idt.Email)
	return nil
}
