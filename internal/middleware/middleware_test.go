package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/channelhub/internal/auth"
	"github.com/sudo-init-do/channelhub/internal/observability"
)

func ok(c echo.Context) error { return c.NoContent(http.StatusNoContent) }

func withRole(role string, h echo.HandlerFunc) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/admin/stats", nil), rec)
	if role != "" {
		c.Set(auth.KeyRole, role)
	}
	return rec, h(c)
}

func TestAdminGuard(t *testing.T) {
	rec, err := withRole(auth.RoleAdmin, AdminGuard(ok))
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec, err = withRole(auth.RoleSeller, AdminGuard(ok))
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.JSONEq(t, `{"error":"admin access only"}`, rec.Body.String())

	rec, err = withRole("", AdminGuard(ok))
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireRoles(t *testing.T) {
	guard := RequireRoles(auth.RoleSeller, auth.RoleAdmin)

	rec, err := withRole(auth.RoleSeller, guard(ok))
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec, err = withRole(auth.RoleMember, guard(ok))
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.JSONEq(t, `{"error":"access denied"}`, rec.Body.String())

	rec, err = withRole("", guard(ok))
	require.NoError(t, err)
	require.JSONEq(t, `{"error":"role missing"}`, rec.Body.String())
}

type withdrawalForm struct {
	Amount int64  `json:"amount" validate:"gt=0"`
	Method string `json:"method" validate:"required,oneof=bank paypal upi crypto"`
}

func TestValidator(t *testing.T) {
	v := NewValidator()
	require.NoError(t, v.Validate(withdrawalForm{Amount: 5, Method: "upi"}))

	err := v.Validate(withdrawalForm{Amount: 0, Method: "cash"})
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "Amount: gt=0"), err.Error())
	require.Contains(t, err.Error(), "Method: oneof=bank paypal upi crypto")
}

func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := echo.New()
	e.Use(Metrics(observability.New(reg)))
	e.GET("/listings/:id", func(c echo.Context) error {
		if c.Param("id") == "missing" {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		return c.NoContent(http.StatusOK)
	})

	for _, p := range []string{"/listings/a", "/listings/b", "/listings/missing"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	n, err := testutil.GatherAndCount(reg, "channelhub_http_requests_total")
	require.NoError(t, err)
	require.Equal(t, 2, n, "one series per status on the route template")
}
