package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/shulehq/shule/core"
	"github.com/shulehq/shule/core/branch"
)

type branchRepository struct {
	db *sqlx.DB
}

var _ branch.Repository = (*branchRepository)(nil) // interface compliance check

func NewBranchRepository(db *sqlx.DB) *branchRepository {
	return &branchRepository{db: db}
}

func (repo branchRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return branch.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo branchRepository) GetBranch(ctx context.Context, id string) (branch.Branch, error) {
	if _, err := uuid.Parse(id); err != nil {
		return branch.Branch{}, branch.ErrNotFound
	}
	var b branch.Branch
	if err := repo.db.GetContext(ctx, &b, `SELECT * FROM branch WHERE id = $1`, id); err != nil {
		return branch.Branch{}, repo.trapNoRowsErr(err, "finding branch by ID")
	}
	return b, nil
}

func (repo branchRepository) QueryBranches(ctx context.Context, ordering []core.DBOrdering) ([]branch.Branch, error) {
	query := `SELECT * FROM branch`
	if len(ordering) > 0 {
		orderList := make([]string, 0, len(ordering))
		for _, ord := range ordering {
			orderList = append(orderList, ord.String())
		}
		query += " ORDER BY " + strings.Join(orderList, ", ")
	} else {
		query += " ORDER BY name ASC"
	}

	var branches []branch.Branch
	if err := repo.db.SelectContext(ctx, &branches, query); err != nil {
		return nil, errors.Wrap(err, "querying branches")
	}
	return branches, nil
}

func (repo branchRepository) InsertBranch(ctx context.Context, b branch.Branch) (branch.Branch, error) {
	b.ID = uuid.New().String()
	_, err := repo.db.NamedExecContext(ctx,
		`INSERT INTO branch (id, name, city, address, phone, created_at, updated_at)
		 VALUES (:id, :name, :city, :address, :phone, :created_at, :updated_at)`,
		b,
	)
	if err != nil {
		return branch.Branch{}, trapConflictErr(err, branch.ErrNameExists, "inserting branch")
	}
	return b, nil
}

func (repo branchRepository) UpdateBranch(ctx context.Context, b branch.Branch) (branch.Branch, error) {
	res, err := repo.db.NamedExecContext(ctx,
		`UPDATE branch
		 SET name = :name, city = :city, address = :address, phone = :phone, updated_at = :updated_at
		 WHERE id = :id`,
		b,
	)
	if err != nil {
		return branch.Branch{}, trapConflictErr(err, branch.ErrNameExists, "updating branch")
	}
	if cnt, err := res.RowsAffected(); err == nil && cnt == 0 {
		return branch.Branch{}, branch.ErrNotFound
	}
	return b, nil
}

func (repo branchRepository) DeleteBranch(ctx context.Context, id string) error {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM branch WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting branch")
	}
	if cnt, err := res.RowsAffected(); err == nil && cnt == 0 {
		return branch.ErrNotFound
	}
	return nil
}
