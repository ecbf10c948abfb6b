package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/shulehq/shule/core/identity"
)

// adminMiddleware restricts an endpoint to Admin and SuperAdmin callers.
func adminMiddleware(svc identity.Service) echo.MiddlewareFunc {
	return requireRolesMiddleware(svc, identity.RoleAdmin, identity.RoleSuperAdmin)
}

func requireRolesMiddleware(svc identity.Service, roles ...identity.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			ctxIdt, err := getContextIdentity(ctx, svc)
			if err != nil {
				return errors.Wrap(err, "getting context identity")
			}
			for _, role := range roles {
				if ctxIdt.Role == role {
					return next(ctx)
				}
			}
			return errHttpForbidden
		}
	}
}

// sameBranchOrElevated reports whether ctxIdt may act on target: callers
// operating across branches always may, the rest only within their own
// branch. Identities with no branch are reachable by any elevated caller.
func sameBranchOrElevated(ctxIdt, target identity.Identity) bool {
	if ctxIdt.BranchUnscoped() {
		return true
	}
	if !target.BranchID.Valid {
		return true
	}
	return ctxIdt.BranchID.Valid && ctxIdt.BranchID.String == target.BranchID.String
}
