package identity_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/shulehq/shule/core"
	"github.com/shulehq/shule/core/identity"
	emailsvc "github.com/shulehq/shule/services/email"
	inmemrepos "github.com/shulehq/shule/storage/database/inmem"
	testutil "github.com/shulehq/shule/tests"
)

// fakeProvider implements identity.Provider with injectable failures. It
// deliberately does not enforce email uniqueness so that racing creates
// are arbitrated by the record store alone.
type fakeProvider struct {
	mu         sync.Mutex
	seq        int
	creds      map[string]string // externalID -> email
	failCreate error
	failDelete error
	failUpdate error
	verified   identity.VerifiedToken
	failVerify error
}

var _ identity.Provider = (*fakeProvider)(nil)

func newFakeProvider() *fakeProvider {
	return &fakeProvider{creds: make(map[string]string)}
}

func (p *fakeProvider) CreateCredential(_ context.Context, email, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failCreate != nil {
		return "", p.failCreate
	}
	p.seq++
	externalID := fmt.Sprintf("ext-%03d", p.seq)
	p.creds[externalID] = email
	return externalID, nil
}

func (p *fakeProvider) UpdateCredentialEmail(_ context.Context, _, newEmail string) error {
	return p.failUpdate
}

func (p *fakeProvider) UpdateCredentialSecret(_ context.Context, _, _ string) error {
	return p.failUpdate
}

func (p *fakeProvider) DeleteCredential(_ context.Context, externalID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failDelete != nil {
		return p.failDelete
	}
	delete(p.creds, externalID)
	return nil
}

func (p *fakeProvider) VerifyToken(_ context.Context, _ string) (identity.VerifiedToken, error) {
	if p.failVerify != nil {
		return identity.VerifiedToken{}, p.failVerify
	}
	return p.verified, nil
}

func (p *fakeProvider) credCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// failingDeleteRepo makes row deletes fail.
type failingDeleteRepo struct {
	identity.Repository
	err error
}

func (r failingDeleteRepo) DeleteIdentity(_ context.Context, _ string) error {
	return r.err
}

func setupService(provider identity.Provider) (identity.Service, identity.Repository) {
	conf := testutil.NewTestConfig()
	repo := inmemrepos.NewIdentityRepository()
	svc := identity.NewService(repo, provider, emailsvc.NewConsoleServiceMock(conf), testutil.NewLogger(), conf)
	return svc, repo
}

func TestService_SynchronizeCreate(t *testing.T) {
	ctx := context.Background()
	ni := identity.NewIdentity{
		Email:  "jdoe@test.cd",
		Secret: "S3cr3t!pass",
		Role:   identity.RoleTeacher,
		Name:   "John Doe",
	}

	t.Run("committed", func(t *testing.T) {
		provider := newFakeProvider()
		svc, _ := setupService(provider)

		idt, state, err := svc.SynchronizeCreate(ctx, ni)
		if err != nil {
			t.Fatalf("SynchronizeCreate() error = %v", err)
		}
		if state != identity.StateCommitted {
			t.Errorf("state = %v; want %v", state, identity.StateCommitted)
		}
		if !idt.ExternalID.Valid || idt.ExternalID.String == "" {
			t.Error("created identity has no external ID")
		}
		if got, err := svc.GetByExternalID(ctx, idt.ExternalID.String); err != nil || got.Email != ni.Email {
			t.Errorf("GetByExternalID() = %v, %v", got, err)
		}
	})

	t.Run("provider rejects: aborted, no row", func(t *testing.T) {
		provider := newFakeProvider()
		provider.failCreate = identity.ErrDuplicateIdentity
		svc, repo := setupService(provider)

		_, state, err := svc.SynchronizeCreate(ctx, ni)
		if !core.IsKind(err, core.KindDuplicateIdentity) {
			t.Errorf("error kind = %v; want DuplicateIdentity", core.KindOf(err))
		}
		if state != identity.StateAborted {
			t.Errorf("state = %v; want %v", state, identity.StateAborted)
		}
		if _, err := repo.FindByExternalIDOrEmail(ctx, "", ni.Email); !core.IsKind(err, core.KindNotFound) {
			t.Error("no row should have been written")
		}
	})

	t.Run("row conflict: rolled back, credential compensated", func(t *testing.T) {
		provider := newFakeProvider()
		svc, repo := setupService(provider)
		testutil.CreateIdentity(t, repo, "Prior", ni.Email, identity.RoleStudent, "ext-prior", "")

		_, state, err := svc.SynchronizeCreate(ctx, ni)
		if !core.IsKind(err, core.KindConflict) {
			t.Errorf("error kind = %v; want Conflict", core.KindOf(err))
		}
		if state != identity.StateRolledBack {
			t.Errorf("state = %v; want %v", state, identity.StateRolledBack)
		}
		if n := provider.credCount(); n != 0 {
			t.Errorf("credential count = %d; want 0 (compensated)", n)
		}
	})

	t.Run("compensation fails: inconsistent, original error surfaced", func(t *testing.T) {
		provider := newFakeProvider()
		provider.failDelete = identity.ErrProviderUnavailable
		svc, repo := setupService(provider)
		testutil.CreateIdentity(t, repo, "Prior", ni.Email, identity.RoleStudent, "ext-prior", "")

		_, state, err := svc.SynchronizeCreate(ctx, ni)
		if !core.IsKind(err, core.KindConflict) {
			t.Errorf("error kind = %v; want Conflict (the insert error wins)", core.KindOf(err))
		}
		if state != identity.StateInconsistent {
			t.Errorf("state = %v; want %v", state, identity.StateInconsistent)
		}
		if n := provider.credCount(); n != 1 {
			t.Errorf("credential count = %d; want 1 (orphan left behind)", n)
		}
	})
}

func TestService_SynchronizeCreate_racingSameEmail(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	svc, _ := setupService(provider)

	type result struct {
		state identity.SyncState
		err   error
	}
	results := make(chan result, 2)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, state, err := svc.SynchronizeCreate(ctx, identity.NewIdentity{
				Email:  "race@test.cd",
				Secret: "S3cr3t!pass",
				Role:   identity.RoleStudent,
				Name:   fmt.Sprintf("Racer %d", i),
			})
			results <- result{state: state, err: err}
		}(i)
	}
	wg.Wait()
	close(results)

	var committed, rolledBack int
	for res := range results {
		switch res.state {
		case identity.StateCommitted:
			committed++
		case identity.StateRolledBack:
			rolledBack++
			if !core.IsKind(res.err, core.KindConflict) {
				t.Errorf("loser error kind = %v; want Conflict", core.KindOf(res.err))
			}
		default:
			t.Errorf("unexpected state %v (err %v)", res.state, res.err)
		}
	}
	if committed != 1 || rolledBack != 1 {
		t.Errorf("committed = %d, rolledBack = %d; want exactly one of each", committed, rolledBack)
	}
	if n := provider.credCount(); n != 1 {
		t.Errorf("credential count = %d; want 1 (loser compensated)", n)
	}
}

func TestService_SynchronizeDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("committed", func(t *testing.T) {
		provider := newFakeProvider()
		svc, repo := setupService(provider)
		externalID, _ := provider.CreateCredential(ctx, "gone@test.cd", "S3cr3t!pass")
		idt := testutil.CreateIdentity(t, repo, "Gone", "gone@test.cd", identity.RoleStudent, externalID, "")

		state, err := svc.SynchronizeDelete(ctx, idt.ID)
		if err != nil {
			t.Fatalf("SynchronizeDelete() error = %v", err)
		}
		if state != identity.StateCommitted {
			t.Errorf("state = %v; want %v", state, identity.StateCommitted)
		}
		if _, err := repo.GetIdentity(ctx, idt.ID); !core.IsKind(err, core.KindNotFound) {
			t.Error("row should be gone")
		}
		if n := provider.credCount(); n != 0 {
			t.Errorf("credential count = %d; want 0", n)
		}
	})

	t.Run("unknown identity: aborted", func(t *testing.T) {
		svc, _ := setupService(newFakeProvider())

		state, err := svc.SynchronizeDelete(ctx, "b9b55b2c-0cd8-44d9-a8a2-73ff88bbd412")
		if !core.IsKind(err, core.KindNotFound) {
			t.Errorf("error kind = %v; want NotFound", core.KindOf(err))
		}
		if state != identity.StateAborted {
			t.Errorf("state = %v; want %v", state, identity.StateAborted)
		}
	})

	t.Run("provider down: row still deleted", func(t *testing.T) {
		provider := newFakeProvider()
		provider.failDelete = identity.ErrProviderUnavailable
		svc, repo := setupService(provider)
		idt := testutil.CreateIdentity(t, repo, "Stays", "stays@test.cd", identity.RoleStudent, "ext-1", "")

		state, err := svc.SynchronizeDelete(ctx, idt.ID)
		if err != nil {
			t.Fatalf("SynchronizeDelete() error = %v", err)
		}
		if state != identity.StateCommitted {
			t.Errorf("state = %v; want %v", state, identity.StateCommitted)
		}
		if _, err := repo.GetIdentity(ctx, idt.ID); !core.IsKind(err, core.KindNotFound) {
			t.Error("row should be gone even when the provider delete fails")
		}
	})

	t.Run("row delete fails: partial delete", func(t *testing.T) {
		provider := newFakeProvider()
		conf := testutil.NewTestConfig()
		inner := inmemrepos.NewIdentityRepository()
		repo := failingDeleteRepo{Repository: inner, err: errors.New("connection reset")}
		svc := identity.NewService(repo, provider, emailsvc.NewConsoleServiceMock(conf), testutil.NewLogger(), conf)

		externalID, _ := provider.CreateCredential(ctx, "half@test.cd", "S3cr3t!pass")
		idt := testutil.CreateIdentity(t, inner, "Half", "half@test.cd", identity.RoleStudent, externalID, "")

		state, err := svc.SynchronizeDelete(ctx, idt.ID)
		if !core.IsKind(err, core.KindPartialDelete) {
			t.Errorf("error kind = %v; want PartialDelete", core.KindOf(err))
		}
		if state != identity.StatePartialDelete {
			t.Errorf("state = %v; want %v", state, identity.StatePartialDelete)
		}
		// credential is gone; retry can finish the row
		if n := provider.credCount(); n != 0 {
			t.Errorf("credential count = %d; want 0", n)
		}
		if _, err := inner.GetIdentity(ctx, idt.ID); err != nil {
			t.Error("row should survive a partial delete")
		}
	})
}

func TestService_SyncOnVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("mismatched payload: rejected, no write", func(t *testing.T) {
		svc, repo := setupService(newFakeProvider())

		_, err := svc.SyncOnVerify(ctx, "ext-verified", identity.SyncPayload{
			ExternalID: "ext-other",
			Email:      "liar@test.cd",
		})
		if !core.IsKind(err, core.KindIdentityMismatch) {
			t.Errorf("error kind = %v; want IdentityMismatch", core.KindOf(err))
		}
		if _, err := repo.FindByExternalIDOrEmail(ctx, "", "liar@test.cd"); !core.IsKind(err, core.KindNotFound) {
			t.Error("no row should have been written")
		}
	})

	t.Run("first contact: row provisioned as student", func(t *testing.T) {
		svc, _ := setupService(newFakeProvider())

		idt, err := svc.SyncOnVerify(ctx, "ext-new", identity.SyncPayload{
			ExternalID: "ext-new",
			Email:      "new@test.cd",
			Name:       "New Comer",
		})
		if err != nil {
			t.Fatalf("SyncOnVerify() error = %v", err)
		}
		if idt.Role != identity.RoleStudent {
			t.Errorf("role = %v; want %v", idt.Role, identity.RoleStudent)
		}
		if idt.ExternalID.String != "ext-new" {
			t.Errorf("external ID = %v; want ext-new", idt.ExternalID.String)
		}
	})

	t.Run("pre-provisioned row adopts external ID", func(t *testing.T) {
		svc, repo := setupService(newFakeProvider())
		seeded := testutil.CreateIdentity(t, repo, "Seeded", "seeded@test.cd", identity.RoleTeacher, "", "")

		idt, err := svc.SyncOnVerify(ctx, "ext-adopt", identity.SyncPayload{
			ExternalID: "ext-adopt",
			Email:      "seeded@test.cd",
			Phone:      "+243 999 000 111",
		})
		if err != nil {
			t.Fatalf("SyncOnVerify() error = %v", err)
		}
		if idt.ID != seeded.ID {
			t.Errorf("expected the seeded row to be adopted, got a new one (%v)", idt.ID)
		}
		if idt.ExternalID.String != "ext-adopt" {
			t.Errorf("external ID = %v; want ext-adopt", idt.ExternalID.String)
		}
		// role is owned by the admin paths, never the sync path
		if idt.Role != identity.RoleTeacher {
			t.Errorf("role = %v; want %v", idt.Role, identity.RoleTeacher)
		}
		if idt.Phone.String != "+243 999 000 111" {
			t.Errorf("phone = %v; not refreshed", idt.Phone.String)
		}
	})

	t.Run("email mirrored from provider", func(t *testing.T) {
		svc, repo := setupService(newFakeProvider())
		seeded := testutil.CreateIdentity(t, repo, "Moved", "old@test.cd", identity.RoleStudent, "ext-moved", "")

		idt, err := svc.SyncOnVerify(ctx, "ext-moved", identity.SyncPayload{
			ExternalID: "ext-moved",
			Email:      "new@test.cd",
		})
		if err != nil {
			t.Fatalf("SyncOnVerify() error = %v", err)
		}
		if idt.ID != seeded.ID || idt.Email != "new@test.cd" {
			t.Errorf("email = %v; want new@test.cd on the same row", idt.Email)
		}
		// sparse payloads leave existing fields alone
		if idt.Name != "Moved" {
			t.Errorf("name = %v; should be untouched", idt.Name)
		}
	})

	t.Run("email collision with another provider identity: rejected, no write", func(t *testing.T) {
		svc, repo := setupService(newFakeProvider())
		victim := testutil.CreateIdentity(t, repo, "Victim", "victim@test.cd", identity.RoleAdmin, "ext-victim", "")

		_, err := svc.SyncOnVerify(ctx, "ext-intruder", identity.SyncPayload{
			ExternalID: "ext-intruder",
			Email:      "victim@test.cd",
			Name:       "Intruder",
			Phone:      "+1 555 0000",
		})
		if !core.IsKind(err, core.KindIdentityMismatch) {
			t.Errorf("error kind = %v; want IdentityMismatch", core.KindOf(err))
		}
		refreshed, _ := repo.GetIdentity(ctx, victim.ID)
		if refreshed.Name != "Victim" || refreshed.Phone.Valid {
			t.Errorf("row = %+v; must be untouched", refreshed)
		}
		if refreshed.ExternalID.String != "ext-victim" {
			t.Errorf("external ID = %v; must be untouched", refreshed.ExternalID.String)
		}
	})

	t.Run("repeated calls converge on the same row", func(t *testing.T) {
		svc, repo := setupService(newFakeProvider())

		payload := identity.SyncPayload{
			ExternalID: "ext-again",
			Email:      "again@test.cd",
			Name:       "Again",
		}
		first, err := svc.SyncOnVerify(ctx, "ext-again", payload)
		if err != nil {
			t.Fatalf("SyncOnVerify() error = %v", err)
		}
		second, err := svc.SyncOnVerify(ctx, "ext-again", payload)
		if err != nil {
			t.Fatalf("SyncOnVerify() error = %v", err)
		}
		if second.ID != first.ID {
			t.Errorf("second call hit row %v; want %v", second.ID, first.ID)
		}
		all, err := repo.QueryIdentities(ctx, nil, nil)
		if err != nil {
			t.Fatalf("QueryIdentities() error = %v", err)
		}
		if len(all) != 1 {
			t.Errorf("row count = %d; want 1", len(all))
		}
	})
}

func TestService_ChangeEmail(t *testing.T) {
	ctx := context.Background()

	t.Run("provider rejection leaves the row untouched", func(t *testing.T) {
		provider := newFakeProvider()
		provider.failUpdate = identity.ErrDuplicateIdentity
		svc, repo := setupService(provider)
		idt := testutil.CreateIdentity(t, repo, "Keeper", "keeper@test.cd", identity.RoleStudent, "ext-k", "")

		if _, err := svc.ChangeEmail(ctx, idt, "token", "taken@test.cd"); !core.IsKind(err, core.KindDuplicateIdentity) {
			t.Errorf("error kind = %v; want DuplicateIdentity", core.KindOf(err))
		}
		refreshed, _ := repo.GetIdentity(ctx, idt.ID)
		if refreshed.Email != "keeper@test.cd" {
			t.Errorf("email = %v; row must not change when the provider refuses", refreshed.Email)
		}
	})

	t.Run("row mirrors the provider", func(t *testing.T) {
		svc, repo := setupService(newFakeProvider())
		idt := testutil.CreateIdentity(t, repo, "Mover", "mover@test.cd", identity.RoleStudent, "ext-m", "")

		updated, err := svc.ChangeEmail(ctx, idt, "token", "Mover.New@Test.cd")
		if err != nil {
			t.Fatalf("ChangeEmail() error = %v", err)
		}
		if updated.Email != "mover.new@test.cd" {
			t.Errorf("email = %v; want mover.new@test.cd", updated.Email)
		}
		refreshed, _ := repo.GetIdentity(ctx, idt.ID)
		if refreshed.Email != "mover.new@test.cd" {
			t.Errorf("stored email = %v; want mover.new@test.cd", refreshed.Email)
		}
	})
}
