package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/shulehq/shule/core"
	"github.com/shulehq/shule/core/identity"
)

// psql unique constraint violation
const uniqueViolation = "23505"

type identityRepository struct {
	db *sqlx.DB
}

var _ identity.Repository = (*identityRepository)(nil) // interface compliance check

func NewIdentityRepository(db *sqlx.DB) *identityRepository {
	return &identityRepository{db: db}
}

// trapNoRowsErr maps psql "no rows" err to identity.ErrNotFound
func (repo identityRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return identity.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

// trapConflictErr maps psql unique violations to conflictErr
func trapConflictErr(err, conflictErr error, msg string) error {
	if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
		return conflictErr
	}
	return errors.Wrap(err, msg)
}

func (repo identityRepository) FindByExternalIDOrEmail(ctx context.Context, externalID, email string) (identity.Identity, error) {
	var idt identity.Identity
	err := repo.db.GetContext(ctx, &idt,
		`SELECT * FROM identity
		 WHERE (external_id = $1 AND $1 <> '') OR (email = $2 AND $2 <> '')
		 LIMIT 1`,
		externalID, email,
	)
	if err != nil {
		return identity.Identity{}, repo.trapNoRowsErr(err, "finding identity")
	}
	return idt, nil
}

func (repo identityRepository) GetIdentity(ctx context.Context, id string) (identity.Identity, error) {
	if _, err := uuid.Parse(id); err != nil {
		return identity.Identity{}, identity.ErrNotFound
	}
	var idt identity.Identity
	if err := repo.db.GetContext(ctx, &idt, `SELECT * FROM identity WHERE id = $1`, id); err != nil {
		return identity.Identity{}, repo.trapNoRowsErr(err, "finding identity by ID")
	}
	return idt, nil
}

func (repo identityRepository) QueryIdentities(ctx context.Context, filter *identity.QueryFilter, ordering []core.DBOrdering) ([]identity.Identity, error) {
	query := `SELECT * FROM identity`
	var clauses []string
	var args []interface{}

	if filter != nil {
		// identities with Name or Email matching the search keyword
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			clauses = append(clauses, `(name ILIKE ? OR email ILIKE ?)`)
			args = append(args, val, val)
		}
		if len(filter.Roles) > 0 {
			roles := make([]string, 0, len(filter.Roles))
			for _, r := range filter.Roles {
				roles = append(roles, string(r))
			}
			clauses = append(clauses, `role = ANY(?)`)
			args = append(args, pq.StringArray(roles))
		}
		if filter.BranchID != "" {
			clauses = append(clauses, `branch_id = ?`)
			args = append(args, filter.BranchID)
		}
		if !filter.CreatedFrom.IsZero() {
			clauses = append(clauses, `created_at >= ?`)
			args = append(args, filter.CreatedFrom.UTC())
		}
		if !filter.CreatedTo.IsZero() {
			clauses = append(clauses, `created_at <= ?`)
			args = append(args, filter.CreatedTo.UTC())
		}
	}

	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	if len(ordering) > 0 {
		orderList := make([]string, 0, len(ordering))
		for _, ord := range ordering {
			orderList = append(orderList, ord.String())
		}
		query += " ORDER BY " + strings.Join(orderList, ", ")
	} else {
		query += " ORDER BY created_at DESC"
	}

	var identities []identity.Identity
	if err := repo.db.SelectContext(ctx, &identities, repo.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "querying identities")
	}
	return identities, nil
}

func (repo identityRepository) InsertIdentity(ctx context.Context, idt identity.Identity) (identity.Identity, error) {
	idt.ID = uuid.New().String()
	_, err := repo.db.NamedExecContext(ctx,
		`INSERT INTO identity (id, external_id, email, role, branch_id, name, gender, birth_date, phone, avatar_url, created_at, updated_at)
		 VALUES (:id, :external_id, :email, :role, :branch_id, :name, :gender, :birth_date, :phone, :avatar_url, :created_at, :updated_at)`,
		idt,
	)
	if err != nil {
		return identity.Identity{}, trapConflictErr(err, identity.ErrEmailExists, "inserting identity")
	}
	return idt, nil
}

func (repo identityRepository) UpdateIdentity(ctx context.Context, idt identity.Identity) (identity.Identity, error) {
	res, err := repo.db.NamedExecContext(ctx,
		`UPDATE identity
		 SET external_id = :external_id, email = :email, role = :role, branch_id = :branch_id,
		     name = :name, gender = :gender, birth_date = :birth_date, phone = :phone,
		     avatar_url = :avatar_url, updated_at = :updated_at
		 WHERE id = :id`,
		idt,
	)
	if err != nil {
		return identity.Identity{}, trapConflictErr(err, identity.ErrEmailExists, "updating identity")
	}
	if cnt, err := res.RowsAffected(); err == nil && cnt == 0 {
		return identity.Identity{}, identity.ErrNotFound
	}
	return idt, nil
}

func (repo identityRepository) DeleteIdentity(ctx context.Context, id string) error {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM identity WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting identity")
	}
	if cnt, err := res.RowsAffected(); err == nil && cnt == 0 {
		// an unexpected miss here is a real inconsistency; surface it
		return identity.ErrNotFound
	}
	return nil
}
