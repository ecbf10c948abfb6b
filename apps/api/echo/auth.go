package echoapi

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/shulehq/shule/core"
	"github.com/shulehq/shule/core/identity"
)

var (
	contextTokenKey    = "sessionToken"
	contextVerifiedKey = "verifiedToken"
	contextIdentityKey = "identity"
)

// accessGateMiddleware verifies the caller's bearer token against the
// credential provider and stashes the attestation in the request context.
// It does not require a record-store row: the sync endpoint must remain
// reachable on an identity's very first authenticated contact.
func accessGateMiddleware(provider identity.Provider) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			token := extractBearerToken(ctx)
			if token == "" {
				return errUnauthorized
			}

			verified, err := provider.VerifyToken(ctx.Request().Context(), token)
			if err != nil {
				if core.IsKind(err, core.KindInvalidSession) {
					return errUnauthorized
				}
				return errors.Wrap(err, "verifying token")
			}

			ctx.Set(contextTokenKey, token)
			ctx.Set(contextVerifiedKey, verified)
			return next(ctx)
		}
	}
}

func extractBearerToken(ctx echo.Context) string {
	header := ctx.Request().Header.Get(echo.HeaderAuthorization)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func getContextToken(ctx echo.Context) (string, error) {
	if token, ok := ctx.Get(contextTokenKey).(string); ok && token != "" {
		return token, nil
	}
	return "", errUnauthorized
}

func getContextVerifiedToken(ctx echo.Context) (identity.VerifiedToken, error) {
	if verified, ok := ctx.Get(contextVerifiedKey).(identity.VerifiedToken); ok {
		return verified, nil
	}
	return identity.VerifiedToken{}, errUnauthorized
}

// getContextIdentity resolves the caller's record-store row from the
// verified attestation. The row is cached on the context for the rest of
// the request. Callers with a valid credential but no row yet get 403:
// they must hit the sync endpoint first.
func getContextIdentity(ctx echo.Context, svc identity.Service) (identity.Identity, error) {
	if idt, ok := ctx.Get(contextIdentityKey).(identity.Identity); ok {
		return idt, nil
	}

	verified, err := getContextVerifiedToken(ctx)
	if err != nil {
		return identity.Identity{}, err
	}

	idt, err := svc.GetByExternalID(ctx.Request().Context(), verified.ExternalID)
	if err != nil {
		if core.IsKind(err, core.KindNotFound) {
			return identity.Identity{}, errHttpForbidden
		}
		return identity.Identity{}, errors.Wrap(err, "finding identity by external ID")
	}
	ctx.Set(contextIdentityKey, idt)
	return idt, nil
}
