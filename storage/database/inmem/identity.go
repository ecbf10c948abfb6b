package inmemrepos

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/shulehq/shule/core"
	"github.com/shulehq/shule/core/identity"
)

// identityRepository is an in-memory identity.Repository for DEV and TEST
// runs. The email uniqueness check happens under the same lock as the
// insert, mirroring the single-statement atomicity of the real store.
type identityRepository struct {
	mu    sync.RWMutex
	table map[string]*identity.Identity
}

var _ identity.Repository = (*identityRepository)(nil)

func NewIdentityRepository() *identityRepository {
	return &identityRepository{table: make(map[string]*identity.Identity)}
}

func (repo *identityRepository) query() []identity.Identity {
	identities := make([]identity.Identity, 0, len(repo.table))
	for _, idt := range repo.table {
		identities = append(identities, *idt)
	}
	return identities
}

func (repo *identityRepository) FindByExternalIDOrEmail(_ context.Context, externalID, email string) (identity.Identity, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	for _, idt := range repo.table {
		if externalID != "" && idt.ExternalID.Valid && idt.ExternalID.String == externalID {
			return *idt, nil
		}
		if email != "" && idt.Email == email {
			return *idt, nil
		}
	}
	return identity.Identity{}, identity.ErrNotFound
}

func (repo *identityRepository) GetIdentity(_ context.Context, id string) (identity.Identity, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	if idt, ok := repo.table[id]; ok {
		return *idt, nil
	}
	return identity.Identity{}, identity.ErrNotFound
}

func (repo *identityRepository) QueryIdentities(_ context.Context, filter *identity.QueryFilter, ordering []core.DBOrdering) ([]identity.Identity, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	identities := make([]identity.Identity, 0)
	for _, idt := range repo.query() {
		if filter != nil && !matches(idt, filter) {
			continue
		}
		identities = append(identities, idt)
	}

	sort.Slice(identities, func(i, j int) bool {
		if len(ordering) > 0 && ordering[0].Field == "name" {
			if ordering[0].Ascending {
				return identities[i].Name < identities[j].Name
			}
			return identities[i].Name > identities[j].Name
		}
		return identities[i].CreatedAt.After(identities[j].CreatedAt)
	})
	return identities, nil
}

func (repo *identityRepository) InsertIdentity(_ context.Context, idt identity.Identity) (identity.Identity, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	for _, existing := range repo.table {
		if existing.Email == idt.Email {
			return identity.Identity{}, identity.ErrEmailExists
		}
		if idt.ExternalID.Valid && existing.ExternalID.Valid && existing.ExternalID.String == idt.ExternalID.String {
			return identity.Identity{}, identity.ErrEmailExists
		}
	}

	idt.ID = uuid.New().String()
	repo.table[idt.ID] = &idt
	return idt, nil
}

func (repo *identityRepository) UpdateIdentity(_ context.Context, idt identity.Identity) (identity.Identity, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.table[idt.ID]; !ok {
		return identity.Identity{}, identity.ErrNotFound
	}
	for _, existing := range repo.table {
		if existing.ID != idt.ID && existing.Email == idt.Email {
			return identity.Identity{}, identity.ErrEmailExists
		}
	}
	repo.table[idt.ID] = &idt
	return idt, nil
}

func (repo *identityRepository) DeleteIdentity(_ context.Context, id string) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.table[id]; !ok {
		return identity.ErrNotFound
	}
	delete(repo.table, id)
	return nil
}

func matches(idt identity.Identity, filter *identity.QueryFilter) bool {
	if filter.Search != "" {
		search := strings.ToLower(filter.Search)
		if !strings.Contains(strings.ToLower(idt.Name), search) &&
			!strings.Contains(strings.ToLower(idt.Email), search) {
			return false
		}
	}
	if len(filter.Roles) > 0 {
		var found bool
		for _, r := range filter.Roles {
			if idt.Role == r {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.BranchID != "" && (!idt.BranchID.Valid || idt.BranchID.String != filter.BranchID) {
		return false
	}
	if !filter.CreatedFrom.IsZero() && idt.CreatedAt.Before(filter.CreatedFrom.UTC()) {
		return false
	}
	if !filter.CreatedTo.IsZero() && idt.CreatedAt.After(filter.CreatedTo.UTC()) {
		return false
	}
	return true
}
