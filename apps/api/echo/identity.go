package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/shulehq/shule/core"
	"github.com/shulehq/shule/core/identity"
)

var (
	errIdtNotFoundInCtx  = errors.New("identity object not found in echo.Context")
	errNoPermsToSetRole  = "not enough rights to set this role"
	errBranchOutOfScope  = "cannot assign an identity to another branch"
	orderingFields       = []string{"name", "email", "role", "created_at"}
	branchOrderingFields = []string{"name", "city", "created_at"}
)

type identityApi struct {
	svc        identity.Service
	validate   *validator.Validate
	translator ut.Translator
}

func registerIdentityAPI(
	g *echo.Group,
	gate echo.MiddlewareFunc,
	svc identity.Service,
	validate *validator.Validate,
	translator ut.Translator,
) {
	api := identityApi{
		svc:        svc,
		validate:   validate,
		translator: translator,
	}

	ig := g.Group("/identities", gate)

	ig.POST("", api.create, adminMiddleware(svc))
	ig.GET("", api.query, requireRolesMiddleware(svc, identity.RoleAdmin, identity.RoleSuperAdmin, identity.RoleFinance))
	ig.GET("/roles", api.queryRoles, adminMiddleware(svc))

	// read-repair and self-service endpoints; no record-store row required
	// for /sync, which provisions one on first contact
	ig.POST("/sync", api.sync)
	ig.GET("/me", api.retrieveSelf)
	ig.PUT("/me/email", api.changeEmail)
	ig.PUT("/me/secret", api.changeSecret)

	// detail endpoints
	dg := ig.Group("/:id", ctxIdentityOrElevatedMiddleware(api.svc))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.destroy, adminMiddleware(svc))
}

// Handlers

func (api *identityApi) create(ctx echo.Context) error {
	var data identity.NewIdentity
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewIdentity")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxIdt, err := getContextIdentity(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context identity")
	}
	// caller cannot set a role above their own
	if identity.RolePriority(data.Role) > identity.RolePriority(ctxIdt.Role) {
		return core.NewValidationError(nil, core.FieldError{Field: "role", Error: errNoPermsToSetRole})
	}
	// branch-scoped callers provision within their own branch only
	if !ctxIdt.BranchUnscoped() && ctxIdt.BranchID.Valid && data.BranchID != ctxIdt.BranchID.String {
		return core.NewValidationError(nil, core.FieldError{Field: "branch_id", Error: errBranchOutOfScope})
	}

	idt, state, err := api.svc.SynchronizeCreate(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating identity")
	}

	return ctx.JSON(http.StatusCreated, SyncResponse{State: state, Identity: idt})
}

func (api *identityApi) query(ctx echo.Context) error {
	ctxIdt, err := getContextIdentity(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context identity")
	}

	filter := new(identity.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []identity.Identity{})
	}
	filter.Clean()
	// branch-scoped callers only see their own branch
	if !ctxIdt.BranchUnscoped() && ctxIdt.BranchID.Valid {
		filter.BranchID = ctxIdt.BranchID.String
	}

	ordering := new(Ordering)
	ordering.Bind(ctx, orderingFields...)

	identities, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying identities")
	}
	if identities == nil {
		identities = []identity.Identity{}
	}
	return ctx.JSON(http.StatusOK, identities)
}

func (api *identityApi) queryRoles(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, identity.Roles)
}

func (api *identityApi) sync(ctx echo.Context) error {
	var data identity.SyncPayload
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SyncPayload")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	verified, err := getContextVerifiedToken(ctx)
	if err != nil {
		return errors.Wrap(err, "getting verified token")
	}

	idt, err := api.svc.SyncOnVerify(ctx.Request().Context(), verified.ExternalID, data)
	if err != nil {
		return errors.Wrap(err, "syncing identity")
	}
	return ctx.JSON(http.StatusOK, idt)
}

func (api *identityApi) retrieveSelf(ctx echo.Context) error {
	ctxIdt, err := getContextIdentity(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context identity")
	}
	return ctx.JSON(http.StatusOK, ctxIdt)
}

func (api *identityApi) changeEmail(ctx echo.Context) error {
	var data ChangeEmailRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ChangeEmailRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxIdt, err := getContextIdentity(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context identity")
	}
	token, err := getContextToken(ctx)
	if err != nil {
		return errors.Wrap(err, "getting session token")
	}

	idt, err := api.svc.ChangeEmail(ctx.Request().Context(), ctxIdt, token, data.NewEmail)
	if err != nil {
		return errors.Wrap(err, "changing email")
	}
	return ctx.JSON(http.StatusOK, idt)
}

func (api *identityApi) changeSecret(ctx echo.Context) error {
	var data identity.ChangeSecret
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ChangeSecret")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	token, err := getContextToken(ctx)
	if err != nil {
		return errors.Wrap(err, "getting session token")
	}

	if err := api.svc.ChangeSecret(ctx.Request().Context(), token, data.NewSecret); err != nil {
		return errors.Wrap(err, "changing secret")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Secret has been changed."})
}

func (api *identityApi) retrieve(ctx echo.Context) error {
	idt, ok := ctx.Get("object").(identity.Identity)
	if !ok {
		return errors.Wrap(errIdtNotFoundInCtx, "retrieving object from context")
	}
	return ctx.JSON(http.StatusOK, idt)
}

func (api *identityApi) update(ctx echo.Context) error {
	idt, ok := ctx.Get("object").(identity.Identity)
	if !ok {
		return errors.Wrap(errIdtNotFoundInCtx, "retrieving object from context")
	}

	var data identity.UpdateIdentity
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateIdentity")
	}

	ctxIdt, err := getContextIdentity(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context identity")
	}
	if !ctxIdt.IsAdmin() {
		// `Role` and `BranchID` can only be changed by admin
		if data.Role != "" || data.BranchID != nil {
			return errHttpForbidden
		}
	}

	if err := data.Validate(api.validate); err != nil {
		return err
	}

	// caller cannot set a role above their own
	if identity.RolePriority(data.Role) > identity.RolePriority(ctxIdt.Role) {
		return core.NewValidationError(nil, core.FieldError{Field: "role", Error: errNoPermsToSetRole})
	}
	// branch-scoped callers cannot move identities out of their branch
	if data.BranchID != nil && !ctxIdt.BranchUnscoped() && ctxIdt.BranchID.Valid && *data.BranchID != ctxIdt.BranchID.String {
		return core.NewValidationError(nil, core.FieldError{Field: "branch_id", Error: errBranchOutOfScope})
	}

	idt, err = api.svc.UpdateProfile(ctx.Request().Context(), idt.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating identity")
	}
	return ctx.JSON(http.StatusOK, idt)
}

func (api *identityApi) destroy(ctx echo.Context) error {
	idt, ok := ctx.Get("object").(identity.Identity)
	if !ok {
		return errors.Wrap(errIdtNotFoundInCtx, "retrieving object from context")
	}

	// Say No to Suicide! callers cannot delete themselves
	ctxIdt, err := getContextIdentity(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context identity")
	}
	if idt.ID == ctxIdt.ID {
		return errHttpForbidden
	}

	if _, err := api.svc.SynchronizeDelete(ctx.Request().Context(), idt.ID); err != nil {
		return errors.Wrap(err, "deleting identity")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// ctxIdentityOrElevatedMiddleware loads the target identity into the
// context when the caller is the target themselves, or an Admin or
// Finance identity within branch scope. Everything else gets 404.
func ctxIdentityOrElevatedMiddleware(svc identity.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			ctxIdt, err := getContextIdentity(ctx, svc)
			if err != nil {
				return errors.Wrap(err, "getting context identity")
			}

			target, err := svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
			if err != nil {
				if core.IsKind(err, core.KindNotFound) {
					return errHttpNotFound
				}
				return errors.Wrap(err, "finding identity by ID")
			}

			if target.ID == ctxIdt.ID ||
				((ctxIdt.IsAdmin() || ctxIdt.IsFinance()) && sameBranchOrElevated(ctxIdt, target)) {
				ctx.Set("object", target)
				return next(ctx)
			}
			return errHttpNotFound
		}
	}
}

type (
	SyncResponse struct {
		State    identity.SyncState `json:"state"`
		Identity identity.Identity  `json:"identity"`
	}

	ChangeEmailRequest struct {
		NewEmail string `json:"new_email" validate:"required,email"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}
)

func (cer *ChangeEmailRequest) Validate(validate *validator.Validate) error {
	cer.NewEmail = core.CleanString(cer.NewEmail, true /* lower */)
	return validate.Struct(cer)
}
