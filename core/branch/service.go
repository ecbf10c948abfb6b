package branch

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/shulehq/shule/core"
)

var (
	// errors
	ErrNotFound   = core.NewError(core.KindNotFound, "branch not found")
	ErrNameExists = core.NewError(core.KindConflict, "a branch with this name already exists")
)

type (
	Repository interface {
		GetBranch(ctx context.Context, id string) (Branch, error)
		QueryBranches(ctx context.Context, ordering []core.DBOrdering) ([]Branch, error)
		InsertBranch(ctx context.Context, b Branch) (Branch, error)
		UpdateBranch(ctx context.Context, b Branch) (Branch, error)
		DeleteBranch(ctx context.Context, id string) error
	}

	Service interface {
		Create(ctx context.Context, nb NewBranch) (Branch, error)
		GetByID(ctx context.Context, id string) (Branch, error)
		Query(ctx context.Context, ordering []core.DBOrdering) ([]Branch, error)
		Update(ctx context.Context, id string, ub UpdateBranch) (Branch, error)
		Delete(ctx context.Context, id string) error
	}

	service struct {
		repo Repository
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository) *service {
	return &service{repo: repo}
}

func (svc *service) Create(ctx context.Context, nb NewBranch) (Branch, error) {
	now := time.Now().UTC()
	b := Branch{
		Name:      nb.Name,
		City:      null.NewString(nb.City, nb.City != ""),
		Address:   null.NewString(nb.Address, nb.Address != ""),
		Phone:     null.NewString(nb.Phone, nb.Phone != ""),
		CreatedAt: now,
		UpdatedAt: now,
	}
	created, err := svc.repo.InsertBranch(ctx, b)
	return created, errors.Wrap(err, "inserting branch")
}

func (svc *service) GetByID(ctx context.Context, id string) (Branch, error) {
	return svc.repo.GetBranch(ctx, id)
}

func (svc *service) Query(ctx context.Context, ordering []core.DBOrdering) ([]Branch, error) {
	return svc.repo.QueryBranches(ctx, ordering)
}

func (svc *service) Update(ctx context.Context, id string, ub UpdateBranch) (Branch, error) {
	b, err := svc.repo.GetBranch(ctx, id)
	if err != nil {
		return Branch{}, errors.Wrap(err, "finding branch")
	}

	if ub.Name != "" {
		b.Name = ub.Name
	}
	if ub.City != "" {
		b.City = null.StringFrom(ub.City)
	}
	if ub.Address != "" {
		b.Address = null.StringFrom(ub.Address)
	}
	if ub.Phone != "" {
		b.Phone = null.StringFrom(ub.Phone)
	}
	b.UpdatedAt = time.Now().UTC()

	updated, err := svc.repo.UpdateBranch(ctx, b)
	return updated, errors.Wrap(err, "updating branch")
}

func (svc *service) Delete(ctx context.Context, id string) error {
	return errors.Wrap(svc.repo.DeleteBranch(ctx, id), "deleting branch")
}
