package identity

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/shulehq/shule/core"
)

var (
	// errors
	ErrNotFound            = core.NewError(core.KindNotFound, "identity not found")
	ErrEmailExists         = core.NewError(core.KindConflict, "an identity with this email already exists")
	ErrDuplicateIdentity   = core.NewError(core.KindDuplicateIdentity, "this email is already registered with the credential provider")
	ErrWeakSecret          = core.NewError(core.KindWeakSecret, "the credential provider rejected this secret as too weak")
	ErrInvalidEmail        = core.NewError(core.KindInvalidEmail, "the credential provider rejected this email address")
	ErrInvalidSession      = core.NewError(core.KindInvalidSession, "session token is invalid or expired")
	ErrProviderUnavailable = core.NewError(core.KindProviderUnavailable, "credential provider unavailable")
	ErrIdentityMismatch    = core.NewError(core.KindIdentityMismatch, "verified identity does not match the claimed payload")
)

// SyncState is the terminal state of a cross-system operation. Operators
// query logs for StateInconsistent and StatePartialDelete directly; the
// former needs manual reconciliation, the latter a retry.
type SyncState string

const (
	StateCommitted     SyncState = "committed"
	StateAborted       SyncState = "aborted"        // no side effect on either system
	StateRolledBack    SyncState = "rolled_back"    // provider side compensated
	StateInconsistent  SyncState = "inconsistent"   // compensation failed; reconcile out-of-band
	StatePartialDelete SyncState = "partial_delete" // credential gone, row survives; retryable
)

type (
	// VerifiedToken is the provider's attestation of a bearer credential.
	VerifiedToken struct {
		ExternalID string
		Email      string
	}

	// Provider issues operations against the external credential provider.
	// Implementations hold no local state; every call is bounded by ctx.
	Provider interface {
		CreateCredential(ctx context.Context, email, secret string) (externalID string, err error)
		// UpdateCredentialEmail and UpdateCredentialSecret are self-service
		// only: they require a live session token belonging to the identity
		// being changed. There is deliberately no administrative credential
		// edit.
		UpdateCredentialEmail(ctx context.Context, sessionToken, newEmail string) error
		UpdateCredentialSecret(ctx context.Context, sessionToken, newSecret string) error
		// DeleteCredential uses the administrative channel and is idempotent:
		// deleting an absent credential reports success.
		DeleteCredential(ctx context.Context, externalID string) error
		VerifyToken(ctx context.Context, idToken string) (VerifiedToken, error)
	}

	Repository interface {
		// FindByExternalIDOrEmail matches on either key; ErrNotFound when absent.
		FindByExternalIDOrEmail(ctx context.Context, externalID, email string) (Identity, error)
		GetIdentity(ctx context.Context, id string) (Identity, error)
		QueryIdentities(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Identity, error)
		// InsertIdentity fails with ErrEmailExists on the unique email constraint.
		InsertIdentity(ctx context.Context, idt Identity) (Identity, error)
		UpdateIdentity(ctx context.Context, idt Identity) (Identity, error)
		// DeleteIdentity surfaces ErrNotFound: an unexpected miss here is a
		// real inconsistency worth seeing, unlike the provider-side delete.
		DeleteIdentity(ctx context.Context, id string) error
	}

	Service interface {
		SynchronizeCreate(ctx context.Context, ni NewIdentity) (Identity, SyncState, error)
		SynchronizeDelete(ctx context.Context, id string) (SyncState, error)
		SyncOnVerify(ctx context.Context, verifiedExternalID string, payload SyncPayload) (Identity, error)
		GetByID(ctx context.Context, id string) (Identity, error)
		GetByExternalID(ctx context.Context, externalID string) (Identity, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Identity, error)
		UpdateProfile(ctx context.Context, id string, ui UpdateIdentity) (Identity, error)
		ChangeEmail(ctx context.Context, idt Identity, sessionToken, newEmail string) (Identity, error)
		ChangeSecret(ctx context.Context, sessionToken, newSecret string) error
	}

	service struct {
		repo     Repository
		provider Provider
		mailSvc  core.EmailService
		logger   core.Logger
		conf     *core.Config
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, provider Provider, mailSvc core.EmailService, logger core.Logger, conf *core.Config) *service {
	return &service{
		repo:     repo,
		provider: provider,
		mailSvc:  mailSvc,
		logger:   logger,
		conf:     conf,
	}
}

// SynchronizeCreate provisions both the provider credential and the
// record-store row (Operation A). The provider is written first: it is the
// harder side to roll back, and an orphan row with no login path is worse
// than a compensatable orphan credential.
func (svc *service) SynchronizeCreate(ctx context.Context, ni NewIdentity) (Identity, SyncState, error) {
	externalID, err := svc.provider.CreateCredential(ctx, ni.Email, ni.Secret)
	if err != nil {
		return Identity{}, StateAborted, errors.Wrap(err, "creating credential")
	}

	now := time.Now().UTC()
	idt := Identity{
		ExternalID: null.StringFrom(externalID),
		Email:      ni.Email,
		Role:       ni.Role,
		BranchID:   null.NewString(ni.BranchID, ni.BranchID != ""),
		Name:       ni.Name,
		Gender:     null.NewString(ni.Gender, ni.Gender != ""),
		BirthDate:  parseBirthDate(ni.BirthDate),
		Phone:      null.NewString(ni.Phone, ni.Phone != ""),
		AvatarURL:  null.NewString(ni.AvatarURL, ni.AvatarURL != ""),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	created, insErr := svc.repo.InsertIdentity(ctx, idt)
	if insErr == nil {
		svc.sendWelcomeEmail(created)
		return created, StateCommitted, nil
	}

	// compensation: delete the credential created in step 1. Best-effort;
	// if it fails too, the original insert error still wins and the orphan
	// is logged for reconciliation.
	if delErr := svc.provider.DeleteCredential(ctx, externalID); delErr != nil {
		svc.logger.Error(
			fmt.Sprintf("orphaned credential %q (email %q): compensation failed at %s: %v",
				externalID, ni.Email, now.Format(time.RFC3339), delErr),
			delErr,
		)
		return Identity{}, StateInconsistent, errors.Wrap(insErr, "inserting identity")
	}
	return Identity{}, StateRolledBack, errors.Wrap(insErr, "inserting identity")
}

// SynchronizeDelete removes both sides of an Identity (Operation B). The
// provider delete never blocks the row delete: stale application data
// (e.g. continued billing) is the costlier leftover, so the row goes even
// when the credential cleanup fails. Retrying after StatePartialDelete is
// safe; step 2 is a no-op the second time around.
func (svc *service) SynchronizeDelete(ctx context.Context, id string) (SyncState, error) {
	idt, err := svc.repo.GetIdentity(ctx, id)
	if err != nil {
		return StateAborted, errors.Wrap(err, "finding identity")
	}

	if idt.ExternalID.Valid {
		if err := svc.provider.DeleteCredential(ctx, idt.ExternalID.String); err != nil {
			svc.logger.Warn(
				fmt.Sprintf("credential %q may outlive identity %q: provider delete failed: %v",
					idt.ExternalID.String, idt.ID, err),
				err,
			)
		}
	}

	if err := svc.repo.DeleteIdentity(ctx, idt.ID); err != nil {
		svc.logger.Error(
			fmt.Sprintf("partial delete of identity %q (credential %q already removed): %v",
				idt.ID, idt.ExternalID.String, err),
			err,
		)
		return StatePartialDelete, core.WrapError(err, core.KindPartialDelete, "identity row not deleted; retry")
	}
	return StateCommitted, nil
}

// SyncOnVerify is the read-repair path (Operation C): the provider has
// already verified the caller's token, and the claimed payload is used to
// create or refresh the record-store row. Role and branch are never
// touched here; those move through the admin paths only.
func (svc *service) SyncOnVerify(ctx context.Context, verifiedExternalID string, payload SyncPayload) (Identity, error) {
	if payload.ExternalID != verifiedExternalID {
		// never silently corrected: a verified caller must not write
		// another identity's row
		return Identity{}, ErrIdentityMismatch
	}

	now := time.Now().UTC()

	idt, err := svc.repo.FindByExternalIDOrEmail(ctx, verifiedExternalID, payload.Email)
	if err != nil {
		if errors.Cause(err) != ErrNotFound {
			return Identity{}, errors.Wrap(err, "finding identity")
		}
		// first authenticated contact: provision the row
		idt = Identity{
			ExternalID: null.StringFrom(verifiedExternalID),
			Email:      payload.Email,
			Role:       RoleStudent,
			Name:       payload.Name,
			Gender:     null.NewString(payload.Gender, payload.Gender != ""),
			BirthDate:  parseBirthDate(payload.BirthDate),
			Phone:      null.NewString(payload.Phone, payload.Phone != ""),
			AvatarURL:  null.NewString(payload.AvatarURL, payload.AvatarURL != ""),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		created, err := svc.repo.InsertIdentity(ctx, idt)
		return created, errors.Wrap(err, "inserting identity")
	}

	// an email match bound to a different provider identity is not the
	// caller's row; writing it would hand one caller another's record
	if idt.ExternalID.Valid && idt.ExternalID.String != verifiedExternalID {
		return Identity{}, ErrIdentityMismatch
	}

	// pre-provisioned rows adopt the provider identity on first contact
	if !idt.ExternalID.Valid {
		idt.ExternalID = null.StringFrom(verifiedExternalID)
	}
	// the provider owns the login email; mirror it
	idt.Email = payload.Email
	if payload.Name != "" {
		idt.Name = payload.Name
	}
	if payload.Gender != "" {
		idt.Gender = null.StringFrom(payload.Gender)
	}
	if payload.BirthDate != "" {
		idt.BirthDate = parseBirthDate(payload.BirthDate)
	}
	if payload.Phone != "" {
		idt.Phone = null.StringFrom(payload.Phone)
	}
	if payload.AvatarURL != "" {
		idt.AvatarURL = null.StringFrom(payload.AvatarURL)
	}
	idt.UpdatedAt = now

	updated, err := svc.repo.UpdateIdentity(ctx, idt)
	return updated, errors.Wrap(err, "updating identity")
}

func (svc *service) GetByID(ctx context.Context, id string) (Identity, error) {
	return svc.repo.GetIdentity(ctx, id)
}

func (svc *service) GetByExternalID(ctx context.Context, externalID string) (Identity, error) {
	return svc.repo.FindByExternalIDOrEmail(ctx, externalID, "")
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Identity, error) {
	return svc.repo.QueryIdentities(ctx, filter, ordering)
}

// UpdateProfile mutates record-store-owned fields only; the provider is
// not involved. Email changes move through ChangeEmail instead.
func (svc *service) UpdateProfile(ctx context.Context, id string, ui UpdateIdentity) (Identity, error) {
	idt, err := svc.repo.GetIdentity(ctx, id)
	if err != nil {
		return Identity{}, errors.Wrap(err, "finding identity")
	}

	if ui.Name != "" {
		idt.Name = ui.Name
	}
	if ui.Gender != "" {
		idt.Gender = null.StringFrom(ui.Gender)
	}
	if ui.BirthDate != "" {
		idt.BirthDate = parseBirthDate(ui.BirthDate)
	}
	if ui.Phone != "" {
		idt.Phone = null.StringFrom(ui.Phone)
	}
	if ui.AvatarURL != "" {
		idt.AvatarURL = null.StringFrom(ui.AvatarURL)
	}
	if ui.Role != "" {
		idt.Role = ui.Role
	}
	if ui.BranchID != nil {
		idt.BranchID = null.NewString(*ui.BranchID, *ui.BranchID != "")
	}
	idt.UpdatedAt = time.Now().UTC()

	updated, err := svc.repo.UpdateIdentity(ctx, idt)
	return updated, errors.Wrap(err, "updating identity")
}

// ChangeEmail is self-service: the provider (source of truth for the login
// email) is updated first, then the row mirrors it. A failed mirror is
// logged and repaired by the next SyncOnVerify; the two systems never
// diverge for longer than that single step.
func (svc *service) ChangeEmail(ctx context.Context, idt Identity, sessionToken, newEmail string) (Identity, error) {
	newEmail = core.CleanString(newEmail, true /* lower */)
	if err := svc.provider.UpdateCredentialEmail(ctx, sessionToken, newEmail); err != nil {
		return idt, errors.Wrap(err, "updating credential email")
	}

	idt.Email = newEmail
	idt.UpdatedAt = time.Now().UTC()
	updated, err := svc.repo.UpdateIdentity(ctx, idt)
	if err != nil {
		svc.logger.Warn(
			fmt.Sprintf("email diverged for identity %q: provider has %q, row update failed: %v",
				idt.ID, newEmail, err),
			err,
		)
		return idt, errors.Wrap(err, "mirroring email")
	}
	return updated, nil
}

func (svc *service) ChangeSecret(ctx context.Context, sessionToken, newSecret string) error {
	return errors.Wrap(svc.provider.UpdateCredentialSecret(ctx, sessionToken, newSecret), "updating credential secret")
}

func (svc *service) sendWelcomeEmail(idt Identity) {
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Name: idt.Name, Address: idt.Email}},
		Subject: "Welcome to " + svc.conf.AppName,
		BodyStr: fmt.Sprintf(
			"Hi %s,\n\nAn account has been created for you. Sign in at %s with this email address.\n",
			idt.Name, svc.conf.FrontendBaseURL,
		),
	})
}
