package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"syscall"

	"golang.org/x/term"

	"github.com/shulehq/shule/core"
	"github.com/shulehq/shule/core/identity"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db     *sql.DB
	conf   *core.Config
	idtSvc identity.Service
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS] - run DB migrations (up, down, status, ...)")
	fmt.Println("  addidentity -email EMAIL -name NAME -role ROLE [-branch BRANCH_ID] - provision an identity; the secret will be prompted next")
	fmt.Println("  deleteidentity -id ID - remove an identity from both systems; safe to re-run after a partial delete")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addIdentityCmd := flag.NewFlagSet("addidentity", flag.ExitOnError)
	addIdentityEmail := addIdentityCmd.String("email", "", "The identity's email address.")
	addIdentityName := addIdentityCmd.String("name", "", "The identity's full name.")
	addIdentityRole := addIdentityCmd.String("role", string(identity.RoleStudent), "The identity's role.")
	addIdentityBranch := addIdentityCmd.String("branch", "", "Optional branch ID.")

	deleteIdentityCmd := flag.NewFlagSet("deleteidentity", flag.ExitOnError)
	deleteIdentityID := deleteIdentityCmd.String("id", "", "The identity's ID.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "addidentity":
		if err := addIdentityCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addIdentityEmail == "" || *addIdentityName == "" {
			addIdentityCmd.Usage()
			return errHelp
		}
		fmt.Print("Enter secret:")
		secret, err := readPasswordFunc(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return err
		}
		if len(secret) == 0 {
			addIdentityCmd.Usage()
			return errHelp
		}
		return cli.addIdentity(*addIdentityEmail, *addIdentityName, *addIdentityRole, *addIdentityBranch, string(secret))
	case "deleteidentity":
		if err := deleteIdentityCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *deleteIdentityID == "" {
			deleteIdentityCmd.Usage()
			return errHelp
		}
		return cli.deleteIdentity(*deleteIdentityID)
	default:
		cli.printUsage()
		return errHelp
	}
}
