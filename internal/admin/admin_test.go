package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/channelhub/internal/account"
	"github.com/sudo-init-do/channelhub/internal/auth"
	"github.com/sudo-init-do/channelhub/internal/bonus"
	"github.com/sudo-init-do/channelhub/internal/jobs"
	"github.com/sudo-init-do/channelhub/internal/logging"
	"github.com/sudo-init-do/channelhub/internal/middleware"
	"github.com/sudo-init-do/channelhub/internal/model"
	"github.com/sudo-init-do/channelhub/internal/moderation"
	"github.com/sudo-init-do/channelhub/internal/records"
	"github.com/sudo-init-do/channelhub/internal/storage"
	"github.com/sudo-init-do/channelhub/internal/storage/memory"
)

type fixture struct {
	e       *echo.Echo
	store   storage.Store
	gate    *moderation.Gate
	listing model.Listing
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })
	repo := records.New(store, logging.Discard(), nil)
	engine := bonus.NewEngine(repo, bonus.WithLogger(logging.Discard()))
	accounts := account.NewService(repo, engine, account.WithLogger(logging.Discard()))
	gate := moderation.NewGate(repo, logging.Discard(), nil)
	rec := jobs.NewReconciler(repo, engine, logging.Discard(), nil)
	h := NewHandler(gate, accounts, repo, rec, logging.Discard())

	a, _, _, err := accounts.Create(ctx, account.Signup{ID: "a", Email: "ann@x.io"}, "")
	require.NoError(t, err)
	_, res, _, err := accounts.Create(ctx, account.Signup{ID: "b", Email: "bob@x.io"}, a.ReferralCode)
	require.NoError(t, err)
	require.True(t, res.Credited)
	l, err := gate.Submit(ctx, "a", moderation.Draft{Title: "Fitness channel", Price: 500})
	require.NoError(t, err)

	e := echo.New()
	e.Validator = middleware.NewValidator()
	g := e.Group("/admin", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(auth.KeyRole, c.Request().Header.Get("X-Test-Role"))
			return next(c)
		}
	}, middleware.AdminGuard)
	g.GET("/listings", h.ListListings)
	g.POST("/listings/:id/approve", h.ApproveListing)
	g.POST("/listings/:id/reject", h.RejectListing)
	g.POST("/listings/:id/block", h.BlockListing)
	g.POST("/listings/:id/unblock", h.UnblockListing)
	g.GET("/accounts", h.ListAccounts)
	g.POST("/accounts/:id/suspend", h.SuspendAccount)
	g.POST("/accounts/:id/activate", h.ActivateAccount)
	g.GET("/referral-bonuses", h.ListReferralBonuses)
	g.GET("/stats", h.Stats)
	g.POST("/reconcile", h.Reconcile)
	return fixture{e: e, store: store, gate: gate, listing: l}
}

func (f fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-Test-Role", auth.RoleAdmin)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func listing(t *testing.T, rec *httptest.ResponseRecorder) model.Listing {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var l model.Listing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &l))
	return l
}

func TestModerationRoutes(t *testing.T) {
	f := newFixture(t)
	id := f.listing.ID

	rec := f.do(t, http.MethodGet, "/admin/listings?status=pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), id)

	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/admin/listings?status=weird", "").Code)

	l := listing(t, f.do(t, http.MethodPost, "/admin/listings/"+id+"/approve", ""))
	require.True(t, l.Visible())

	l = listing(t, f.do(t, http.MethodPost, "/admin/listings/"+id+"/block", `{"reason":"spam"}`))
	require.False(t, l.Visible())
	require.Equal(t, "spam", l.BlockReason)
	require.Equal(t, model.ApprovalApproved, l.ApprovalStatus)

	l = listing(t, f.do(t, http.MethodPost, "/admin/listings/"+id+"/unblock", ""))
	require.True(t, l.Visible())

	rec = f.do(t, http.MethodPost, "/admin/listings/"+id+"/reject", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	l = listing(t, f.do(t, http.MethodPost, "/admin/listings/"+id+"/reject", `{"reason":"misleading stats"}`))
	require.Equal(t, model.StatusRejected, l.Status)
	require.True(t, l.Blocked)

	// a rejected listing may be approved again
	l = listing(t, f.do(t, http.MethodPost, "/admin/listings/"+id+"/approve", ""))
	require.True(t, l.Visible())
	require.Empty(t, l.RejectionReason)

	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/admin/listings/nope/approve", "").Code)
}

func TestNonAdminRejected(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.Header.Set("X-Test-Role", auth.RoleSeller)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAccountSuspension(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/admin/accounts/b/suspend", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"isActive":false`)

	rec = f.do(t, http.MethodGet, "/admin/accounts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Accounts []struct {
			ID       string `json:"id"`
			IsActive bool   `json:"isActive"`
		} `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Accounts, 2)

	rec = f.do(t, http.MethodPost, "/admin/accounts/b/activate", "")
	require.Contains(t, rec.Body.String(), `"isActive":true`)

	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/admin/accounts/ghost/suspend", "").Code)
}

func TestStatsBonusesAndReconcile(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/admin/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, float64(2), stats["accounts"])
	require.Equal(t, float64(1), stats["referred_accounts"])
	require.Equal(t, float64(20), stats["wallet_total"])
	require.Equal(t, float64(1), stats["pending_listings"])
	require.Equal(t, float64(10), stats["bonus_paid_total"])

	rec = f.do(t, http.MethodGet, "/admin/referral-bonuses", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"referrerId":"a"`)
	require.Contains(t, rec.Body.String(), `"bonusAmount":10`)

	rec = f.do(t, http.MethodPost, "/admin/reconcile", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rep jobs.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	require.Equal(t, 2, rep.Checked)
	require.Empty(t, rep.Drifts)

	// tamper with a wallet so the sweep reports drift
	require.NoError(t, f.store.Update(context.Background(), records.AccountPath("a"), storage.Patch{"walletBalance": storage.Increment(5)}))
	rec = f.do(t, http.MethodPost, "/admin/reconcile", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	require.Len(t, rep.Drifts, 1)
	require.Equal(t, "a", rep.Drifts[0].AccountID)
	require.Equal(t, int64(15), rep.Drifts[0].WalletBalance)
}
