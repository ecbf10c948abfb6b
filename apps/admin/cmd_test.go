package main

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"testing"

	"github.com/shulehq/shule/core"
	"github.com/shulehq/shule/core/identity"
	emailsvc "github.com/shulehq/shule/services/email"
	providersvc "github.com/shulehq/shule/services/provider"
	inmemrepos "github.com/shulehq/shule/storage/database/inmem"
	testutil "github.com/shulehq/shule/tests"
)

var idtRepo identity.Repository

func setup(t *testing.T) *commandLine {
	t.Helper()

	conf := testutil.NewTestConfig()
	idtRepo = inmemrepos.NewIdentityRepository()
	idtSvc := identity.NewService(
		idtRepo,
		providersvc.NewLocalProvider(conf),
		emailsvc.NewConsoleServiceMock(conf),
		testutil.NewLogger(),
		conf,
	)

	return &commandLine{
		conf:   conf,
		idtSvc: idtSvc,
	}
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	gooseRunFunc = func(command string, db *sql.DB, dir string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "course", "sql"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			if err := cli.run(args); err != nil {
				if tt.wantErr != nil {
					if err != tt.wantErr {
						t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
					}
				} else if tt.wantErrStr != "" {
					if err.Error() != tt.wantErrStr {
						t.Errorf("cli.run() error.Error() = %s, wantErrStr %s", err.Error(), tt.wantErrStr)
					}
				} else {
					t.Errorf("cli.run() unexpected error = %v", err)
				}
			}
		})
	}
}

func Test_commandLine_addIdentity(t *testing.T) {
	cli := setup(t)

	type extra struct {
		secret string
	}
	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"addidentity"}, wantErr: errHelp},
		{name: "email but no secret", args: []string{"addidentity", "-email", "a@test.cd", "-name", "A"}, wantErr: errHelp},
		{
			name: "invalid role", args: []string{"addidentity", "-email", "a@test.cd", "-name", "A", "-role", "boss"},
			extra: extra{secret: "S3cr3t!pass"}, wantErrStr: `invalid role "boss"`,
		},
		{
			name: "created", args: []string{"addidentity", "-email", "a@test.cd", "-name", "A", "-role", "teacher"},
			extra: extra{secret: "S3cr3t!pass"},
		},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		readPasswordFunc = func(fd int) ([]byte, error) {
			if extra, ok := tt.extra.(extra); ok {
				return []byte(extra.secret), nil
			}
			return nil, nil
		}

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			if err == nil {
				idt, err := idtRepo.FindByExternalIDOrEmail(context.Background(), "", "a@test.cd")
				if err != nil {
					t.Fatalf("FindByExternalIDOrEmail() failed: %v", err)
				}
				if !idt.ExternalID.Valid {
					t.Error("created identity has no external ID")
				}
			} else if tt.wantErr != nil {
				if err != tt.wantErr {
					t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
				}
			} else if tt.wantErrStr != "" {
				if err.Error() != tt.wantErrStr {
					t.Errorf("cli.run() error.Error() = %s, wantErrStr %s", err.Error(), tt.wantErrStr)
				}
			} else {
				t.Errorf("cli.run() unexpected error = %v", err)
			}
		})
	}
}

func Test_commandLine_deleteIdentity(t *testing.T) {
	cli := setup(t)

	readPasswordFunc = func(fd int) ([]byte, error) { return []byte("S3cr3t!pass"), nil }
	if err := cli.run([]string{"admin", "addidentity", "-email", "gone@test.cd", "-name", "Gone", "-role", "student"}); err != nil {
		t.Fatalf("addidentity failed: %v", err)
	}
	idt, err := idtRepo.FindByExternalIDOrEmail(context.Background(), "", "gone@test.cd")
	if err != nil {
		t.Fatalf("FindByExternalIDOrEmail() failed: %v", err)
	}

	if err := cli.run([]string{"admin", "deleteidentity"}); err != errHelp {
		t.Errorf("cli.run() error = %v, wantErr %v", err, errHelp)
	}

	if err := cli.run([]string{"admin", "deleteidentity", "-id", idt.ID}); err != nil {
		t.Errorf("cli.run() error = %v", err)
	}
	if _, err := idtRepo.GetIdentity(context.Background(), idt.ID); !core.IsKind(err, core.KindNotFound) {
		t.Error("row should be gone")
	}

	if err := cli.run([]string{"admin", "deleteidentity", "-id", idt.ID}); !core.IsKind(err, core.KindNotFound) {
		t.Errorf("error kind = %v; want NotFound", core.KindOf(err))
	}
}
