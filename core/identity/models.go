package identity

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/shulehq/shule/core"
)

// Role is owned exclusively by the record store; the credential provider
// has no concept of role.
type Role string

const (
	RoleSuperAdmin Role = "superadmin"
	RoleAdmin      Role = "admin"
	RoleFinance    Role = "finance"
	RoleTeacher    Role = "teacher"
	RoleStudent    Role = "student"
)

var (
	AllRoles = []Role{RoleSuperAdmin, RoleAdmin, RoleFinance, RoleTeacher, RoleStudent}

	rolePriorities = map[Role]int{
		RoleSuperAdmin: 50,
		RoleAdmin:      40,
		RoleFinance:    30,
		RoleTeacher:    20,
		RoleStudent:    10,
	}

	Roles = []RoleInfo{
		{Name: "Student", Value: RoleStudent},
		{Name: "Teacher", Value: RoleTeacher},
		{Name: "Finance", Value: RoleFinance},
		{Name: "Admin", Value: RoleAdmin},
		{Name: "Super Admin", Value: RoleSuperAdmin},
	}
)

type RoleInfo struct {
	Name  string `json:"name"`
	Value Role   `json:"value"`
}

func (r Role) Valid() bool {
	_, ok := rolePriorities[r]
	return ok
}

func RolePriority(role Role) int {
	return rolePriorities[role]
}

// Identity is the unit being synchronized: a credential at the external
// provider plus a row in the record store, joined by ExternalID.
type Identity struct {
	ID         string      `json:"id" db:"id"`
	ExternalID null.String `json:"external_id" db:"external_id"` // provider-assigned; immutable once set
	Email      string      `json:"email" db:"email"`
	Role       Role        `json:"role" db:"role"`
	BranchID   null.String `json:"branch_id" db:"branch_id"`
	Name       string      `json:"name" db:"name"`
	Gender     null.String `json:"gender" db:"gender"`
	BirthDate  null.Time   `json:"birth_date" db:"birth_date"`
	Phone      null.String `json:"phone" db:"phone"`
	AvatarURL  null.String `json:"avatar_url" db:"avatar_url"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"` // UTC
	UpdatedAt  time.Time   `json:"updated_at" db:"updated_at"` // UTC
}

func (idt *Identity) IsSuperAdmin() bool { return idt.Role == RoleSuperAdmin }
func (idt *Identity) IsAdmin() bool      { return idt.Role == RoleAdmin || idt.Role == RoleSuperAdmin }
func (idt *Identity) IsFinance() bool    { return idt.Role == RoleFinance }
func (idt *Identity) IsTeacher() bool    { return idt.Role == RoleTeacher }
func (idt *Identity) IsStudent() bool    { return idt.Role == RoleStudent }

// BranchUnscoped reports whether the identity operates across branches:
// SuperAdmins always do, and so does a Finance identity explicitly
// provisioned with no branch.
func (idt *Identity) BranchUnscoped() bool {
	if idt.Role == RoleSuperAdmin {
		return true
	}
	return idt.Role == RoleFinance && !idt.BranchID.Valid
}

// NewIdentity contains information needed to provision an Identity on both
// the credential provider and the record store (Operation A).
type NewIdentity struct {
	Email     string `json:"email" validate:"required,email"`
	Secret    string `json:"secret" validate:"required"`
	Role      Role   `json:"role" validate:"required,role"`
	BranchID  string `json:"branch_id" validate:"omitempty,uuid4"`
	Name      string `json:"name" validate:"required"`
	Gender    string `json:"gender" validate:"omitempty,oneof=female male other"`
	BirthDate string `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	Phone     string `json:"phone"`
	AvatarURL string `json:"avatar_url" validate:"omitempty,url"`
}

func (ni *NewIdentity) Validate(validate *validator.Validate) error {
	ni.Email = core.CleanString(ni.Email, true /* lower */)
	ni.Name = core.CleanString(ni.Name)
	ni.Phone = core.CleanString(ni.Phone)
	return validate.Struct(ni)
}

// UpdateIdentity defines what may be modified on an existing Identity.
// Role and BranchID are admin-only; the access gate strips them for
// non-admin callers before they ever reach the service.
type UpdateIdentity struct {
	Name      string  `json:"name"`
	Gender    string  `json:"gender" validate:"omitempty,oneof=female male other"`
	BirthDate string  `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	Phone     string  `json:"phone"`
	AvatarURL string  `json:"avatar_url" validate:"omitempty,url"`
	Role      Role    `json:"role" validate:"omitempty,role"`
	BranchID  *string `json:"branch_id" validate:"omitempty,uuid4"`
}

func (ui *UpdateIdentity) Validate(validate *validator.Validate) error {
	ui.Name = core.CleanString(ui.Name)
	ui.Phone = core.CleanString(ui.Phone)
	return validate.Struct(ui)
}

// SyncPayload is the profile a verified caller claims on the read-repair
// path (Operation C). ExternalID must match the token-verified one.
type SyncPayload struct {
	ExternalID string `json:"external_id" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	Name       string `json:"name"`
	Gender     string `json:"gender" validate:"omitempty,oneof=female male other"`
	BirthDate  string `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	Phone      string `json:"phone"`
	AvatarURL  string `json:"avatar_url" validate:"omitempty,url"`
}

func (sp *SyncPayload) Validate(validate *validator.Validate) error {
	sp.Email = core.CleanString(sp.Email, true /* lower */)
	sp.Name = core.CleanString(sp.Name)
	return validate.Struct(sp)
}

type QueryFilter struct {
	Search      string    `query:"search"`
	Roles       []Role    `query:"role"`
	BranchID    string    `query:"branch_id"`
	CreatedFrom time.Time `query:"created_from"`
	CreatedTo   time.Time `query:"created_to"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Roles == nil && qf.BranchID == "" &&
		qf.CreatedFrom.IsZero() && qf.CreatedTo.IsZero()
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.BranchID = core.CleanString(qf.BranchID)
}

func parseBirthDate(s string) null.Time {
	if s == "" {
		return null.Time{}
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return null.Time{}
	}
	return null.TimeFrom(t)
}
