package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasAnyRole(c.Request().Context(), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasAnyRole reports whether the caller holds one of roles. admin holds all.
func HasAnyRole(ctx context.Context, roles ...string) bool {
	for _, has := range RolesFromContext(ctx) {
		if has == RoleAdmin {
			return true
		}
		for _, required := range roles {
			if has == required {
				return true
			}
		}
	}
	return false
}

// CanActFor reports whether the caller may act on data owned by one of
// ownerIDs: staff (secretary, admin) always may; patients and doctors only
// for their own role id.
func CanActFor(ctx context.Context, ownerIDs ...string) bool {
	if HasAnyRole(ctx, RoleSecretary) {
		return true
	}
	uid := UserIDFromContext(ctx)
	if uid == "" {
		return false
	}
	for _, id := range ownerIDs {
		if id == uid {
			return true
		}
	}
	return false
}
