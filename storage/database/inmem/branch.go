package inmemrepos

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/shulehq/shule/core"
	"github.com/shulehq/shule/core/branch"
)

type branchRepository struct {
	mu    sync.RWMutex
	table map[string]*branch.Branch
}

var _ branch.Repository = (*branchRepository)(nil)

func NewBranchRepository() *branchRepository {
	return &branchRepository{table: make(map[string]*branch.Branch)}
}

func (repo *branchRepository) GetBranch(_ context.Context, id string) (branch.Branch, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	if b, ok := repo.table[id]; ok {
		return *b, nil
	}
	return branch.Branch{}, branch.ErrNotFound
}

func (repo *branchRepository) QueryBranches(_ context.Context, ordering []core.DBOrdering) ([]branch.Branch, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	branches := make([]branch.Branch, 0, len(repo.table))
	for _, b := range repo.table {
		branches = append(branches, *b)
	}

	descByName := len(ordering) > 0 && ordering[0].Field == "name" && !ordering[0].Ascending
	sort.Slice(branches, func(i, j int) bool {
		if descByName {
			return branches[i].Name > branches[j].Name
		}
		return branches[i].Name < branches[j].Name
	})
	return branches, nil
}

func (repo *branchRepository) InsertBranch(_ context.Context, b branch.Branch) (branch.Branch, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	for _, existing := range repo.table {
		if existing.Name == b.Name {
			return branch.Branch{}, branch.ErrNameExists
		}
	}

	b.ID = uuid.New().String()
	repo.table[b.ID] = &b
	return b, nil
}

func (repo *branchRepository) UpdateBranch(_ context.Context, b branch.Branch) (branch.Branch, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.table[b.ID]; !ok {
		return branch.Branch{}, branch.ErrNotFound
	}
	for _, existing := range repo.table {
		if existing.ID != b.ID && existing.Name == b.Name {
			return branch.Branch{}, branch.ErrNameExists
		}
	}
	repo.table[b.ID] = &b
	return b, nil
}

func (repo *branchRepository) DeleteBranch(_ context.Context, id string) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.table[id]; !ok {
		return branch.ErrNotFound
	}
	delete(repo.table, id)
	return nil
}
