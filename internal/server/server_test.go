package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/channelhub/internal/account"
	"github.com/sudo-init-do/channelhub/internal/auth"
	"github.com/sudo-init-do/channelhub/internal/bonus"
	"github.com/sudo-init-do/channelhub/internal/config"
	"github.com/sudo-init-do/channelhub/internal/engagement"
	"github.com/sudo-init-do/channelhub/internal/jobs"
	"github.com/sudo-init-do/channelhub/internal/logging"
	"github.com/sudo-init-do/channelhub/internal/model"
	"github.com/sudo-init-do/channelhub/internal/moderation"
	"github.com/sudo-init-do/channelhub/internal/observability"
	"github.com/sudo-init-do/channelhub/internal/records"
	"github.com/sudo-init-do/channelhub/internal/referral"
	"github.com/sudo-init-do/channelhub/internal/storage/memory"
	"github.com/sudo-init-do/channelhub/internal/storage/storagetest"
	"github.com/sudo-init-do/channelhub/internal/withdrawal"
)

type harness struct {
	srv    *Server
	tokens *auth.TokenManager
	store  *storagetest.Flaky
}

func newHarness(t *testing.T, signupRate float64) harness {
	t.Helper()
	inner := memory.New()
	t.Cleanup(func() { _ = inner.Close() })
	store := storagetest.NewFlaky(inner)

	reg := prometheus.NewRegistry()
	metrics := observability.New(reg)
	log := logging.Discard()

	repo := records.New(store, log, metrics)
	engine := bonus.NewEngine(repo, bonus.WithLogger(log), bonus.WithMetrics(metrics))
	tokens := auth.NewTokenManager("s3cret", "channelhub", time.Hour)
	cfg := config.Config{Port: "0", AppURL: "https://hub.example", SignupRatePerSecond: signupRate}

	srv := New(cfg, Components{
		Store:      store,
		Repo:       repo,
		Tokens:     tokens,
		Accounts:   account.NewService(repo, engine, account.WithLogger(log)),
		Ledger:     withdrawal.NewLedger(repo, withdrawal.WithLogger(log)),
		Gate:       moderation.NewGate(repo, log, metrics),
		Synth:      engagement.New(repo, engagement.WithLogger(log)),
		Resolver:   referral.NewResolver(nil, log, metrics),
		Reconciler: jobs.NewReconciler(repo, engine, log, metrics),
		Metrics:    metrics,
		Gatherer:   reg,
		Logger:     log,
	})
	return harness{srv: srv, tokens: tokens, store: store}
}

func (h harness) do(t *testing.T, method, path, userID, role, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if userID != "" {
		tok, err := h.tokens.Generate(userID, userID+"@x.io", role)
		require.NoError(t, err)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthReadyAndMetrics(t *testing.T) {
	h := newHarness(t, 100)

	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/health", "", "", "").Code)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/ready", "", "", "").Code)

	h.store.FailNext(storagetest.OpGet, "accounts/readiness-probe", 1)
	rec := h.do(t, http.MethodGet, "/ready", "", "", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = h.do(t, http.MethodGet, "/metrics", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "channelhub_http_requests_total")
}

func TestShareLinkRedirectsAndCaches(t *testing.T) {
	h := newHarness(t, 100)

	rec := h.do(t, http.MethodGet, "/r/AB12CD34", "", "", "")
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "https://hub.example/signup?ref=AB12CD34", rec.Header().Get(echo.HeaderLocation))
	require.Contains(t, rec.Header().Get("Set-Cookie"), referral.CookieName+"=AB12CD34")

	rec = h.do(t, http.MethodPost, "/referrals/resolve", "", "", `{"url":"https://hub.example/#/join?inviteCode=ZZ99YY88"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"code":"ZZ99YY88","source":"fragment"}`, rec.Body.String())
}

func TestReferralSignupThroughRoutes(t *testing.T) {
	h := newHarness(t, 100)

	rec := h.do(t, http.MethodPost, "/accounts", "a", auth.RoleMember, `{}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var a struct {
		Account struct {
			ReferralCode string `json:"referralCode"`
		} `json:"account"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))

	rec = h.do(t, http.MethodPost, "/accounts", "b", auth.RoleMember, `{"code":"`+a.Account.ReferralCode+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"credited":true`)

	rec = h.do(t, http.MethodGet, "/wallet/balance", "a", auth.RoleMember, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"balance":10`)
	require.Contains(t, rec.Body.String(), `"total_referrals":1`)

	rec = h.do(t, http.MethodGet, "/admin/referral-bonuses", "root", auth.RoleAdmin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Bonuses []struct {
			BonusAmount int64 `json:"bonusAmount"`
		} `json:"referral_bonuses"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Bonuses, 1)
	require.Equal(t, int64(10), out.Bonuses[0].BonusAmount)

	require.Equal(t, http.StatusForbidden, h.do(t, http.MethodGet, "/admin/referral-bonuses", "a", auth.RoleMember, "").Code)
	require.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodGet, "/wallet/balance", "", "", "").Code)
}

func TestListingModerationThroughRoutes(t *testing.T) {
	h := newHarness(t, 100)

	rec := h.do(t, http.MethodPost, "/listings", "s1", auth.RoleSeller, `{"title":"Fitness channel","price":500}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var l model.Listing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &l))

	require.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/listings/"+l.ID, "", "", "").Code)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/admin/listings/"+l.ID+"/approve", "root", auth.RoleAdmin, "").Code)

	rec = h.do(t, http.MethodGet, "/listings/"+l.ID, "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &l))
	require.NotNil(t, l.FakePrice)
	require.GreaterOrEqual(t, *l.FakePrice, int64(1000))
	require.LessOrEqual(t, *l.FakePrice, int64(1750))

	rec = h.do(t, http.MethodGet, "/listings/mine", "s1", auth.RoleSeller, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), l.ID)
}

func TestSignupRateLimited(t *testing.T) {
	h := newHarness(t, 1)

	require.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/accounts", "a", auth.RoleMember, `{}`).Code)
	require.Equal(t, http.StatusTooManyRequests, h.do(t, http.MethodPost, "/accounts", "b", auth.RoleMember, `{}`).Code)

	// other routes are not limited
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/accounts/me", "a", auth.RoleMember, "").Code)
}
