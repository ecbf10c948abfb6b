package branch

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/shulehq/shule/core"
)

// Branch is an organizational unit identities may be affiliated with.
type Branch struct {
	ID        string      `json:"id" db:"id"`
	Name      string      `json:"name" db:"name"`
	City      null.String `json:"city" db:"city"`
	Address   null.String `json:"address" db:"address"`
	Phone     null.String `json:"phone" db:"phone"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"` // UTC
	UpdatedAt time.Time   `json:"updated_at" db:"updated_at"` // UTC
}

// NewBranch contains information needed to create a new Branch.
type NewBranch struct {
	Name    string `json:"name" validate:"required"`
	City    string `json:"city"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

func (nb *NewBranch) Validate(validate *validator.Validate) error {
	nb.Name = core.CleanString(nb.Name)
	nb.City = core.CleanString(nb.City)
	return validate.Struct(nb)
}

// UpdateBranch defines what may be modified on an existing Branch.
type UpdateBranch struct {
	Name    string `json:"name"`
	City    string `json:"city"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

func (ub *UpdateBranch) Validate(validate *validator.Validate) error {
	ub.Name = core.CleanString(ub.Name)
	ub.City = core.CleanString(ub.City)
	return validate.Struct(ub)
}
