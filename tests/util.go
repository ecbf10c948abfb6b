package testutil

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/shulehq/shule/core"
	"github.com/shulehq/shule/core/identity"
)

func CreateIdentity(
	t *testing.T,
	repo identity.Repository,
	name, email string,
	role identity.Role,
	externalID, branchID string,
	createdAt ...time.Time,
) identity.Identity {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	idt := identity.Identity{
		ExternalID: null.NewString(externalID, externalID != ""),
		Email:      email,
		Role:       role,
		BranchID:   null.NewString(branchID, branchID != ""),
		Name:       name,
		CreatedAt:  tstamp,
		UpdatedAt:  tstamp,
	}
	idt, err := repo.InsertIdentity(context.Background(), idt)
	if err != nil {
		t.Fatalf("CreateIdentity() failed: %v", err)
	}
	return idt
}

// NewLogger returns a core.Logger for tests; Fatal logs without exiting.
func NewLogger() core.Logger {
	return &testLogger{std: log.New(os.Stdout, "TEST : ", log.LstdFlags)}
}

type testLogger struct {
	std *log.Logger
}

var _ core.Logger = (*testLogger)(nil)

func (l testLogger) print(lvl, msg string, args []interface{}) {
	l.std.Println(lvl + " " + msg)
	for _, arg := range args {
		l.std.Printf("%+v\n", arg)
	}
}

func (l testLogger) Debug(msg string, args ...interface{}) { l.print("DEBUG", msg, args) }
func (l testLogger) Info(msg string, args ...interface{})  { l.print("INFO", msg, args) }
func (l testLogger) Warn(msg string, args ...interface{})  { l.print("WARN", msg, args) }
func (l testLogger) Error(msg string, args ...interface{}) { l.print("ERROR", msg, args) }
func (l testLogger) Fatal(msg string, args ...interface{}) { l.print("FATAL", msg, args) }

// NewTestConfig returns a Config suitable for tests; no .env file is read
// and debug is off so error responses take their production shape.
func NewTestConfig() *core.Config {
	for key, val := range map[string]string{"ENV": "TEST", "TEST_DEBUG": "false"} {
		if err := os.Setenv(key, val); err != nil {
			fmt.Printf("os.Setenv(): %v", err)
		}
	}
	return core.NewConfig()
}
