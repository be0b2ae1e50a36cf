package auth

import (
	"context"
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
)

// IsAdmin reports whether the caller is an administrator. Admins may read and
// change records and collections they do not own.
func IsAdmin(ctx context.Context) bool {
	return slices.Contains(RolesFromContext(ctx), RoleAdmin)
}

// RequireUser rejects requests that reached a handler without a caller id.
func RequireUser() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if UserIDFromContext(c.Request().Context()) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			return next(c)
		}
	}
}
