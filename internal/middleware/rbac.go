package middleware

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/channelhub/internal/auth"
)

// AdminGuard fronts the /admin group: withdrawal decisions, listing
// moderation, engagement synthesis and ledger sweeps all need the admin
// claim on the bearer token.
func AdminGuard(next echo.HandlerFunc) echo.HandlerFunc {
	return roleGuard([]string{auth.RoleAdmin}, "admin access only", "admin access only")(next)
}

// RequireRoles lets a route through when the token's role claim is one of
// roles, e.g. listing writes are RequireRoles(auth.RoleSeller). A request
// with no role claim at all is refused with "role missing".
func RequireRoles(roles ...string) echo.MiddlewareFunc {
	return roleGuard(roles, "role missing", "access denied")
}

func roleGuard(roles []string, missing, denied string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, _ := c.Get(auth.KeyRole).(string)
			switch {
			case role == "":
				return c.JSON(http.StatusForbidden, echo.Map{"error": missing})
			case !slices.Contains(roles, role):
				return c.JSON(http.StatusForbidden, echo.Map{"error": denied})
			}
			return next(c)
		}
	}
}
