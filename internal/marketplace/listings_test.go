package marketplace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/channelhub/internal/auth"
	"github.com/sudo-init-do/channelhub/internal/engagement"
	"github.com/sudo-init-do/channelhub/internal/logging"
	"github.com/sudo-init-do/channelhub/internal/middleware"
	"github.com/sudo-init-do/channelhub/internal/model"
	"github.com/sudo-init-do/channelhub/internal/moderation"
	"github.com/sudo-init-do/channelhub/internal/records"
	"github.com/sudo-init-do/channelhub/internal/storage/memory"
)

type fixture struct {
	e      *echo.Echo
	gate   *moderation.Gate
	tokens *auth.TokenManager
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })
	repo := records.New(store, logging.Discard(), nil)
	gate := moderation.NewGate(repo, logging.Discard(), nil)
	synth := engagement.New(repo, engagement.WithLogger(logging.Discard()))
	h := NewHandler(gate, synth, logging.Discard())
	tokens := auth.NewTokenManager("s3cret", "channelhub", time.Hour)

	e := echo.New()
	e.Validator = middleware.NewValidator()
	e.GET("/listings", h.List)
	e.GET("/listings/live", h.Live)
	e.GET("/listings/:id", h.Get)
	api := e.Group("", tokens.Middleware())
	api.GET("/listings/mine", h.Mine, middleware.RequireRoles(auth.RoleSeller))
	api.POST("/listings", h.Create, middleware.RequireRoles(auth.RoleSeller))
	api.PATCH("/listings/:id", h.Update, middleware.RequireRoles(auth.RoleSeller))
	api.POST("/listings/:id/like", h.Like)
	api.POST("/listings/:id/comment", h.Comment)
	api.POST("/listings/:id/view", h.View)
	api.POST("/listings/:id/sales", h.RecordSale)
	return fixture{e: e, gate: gate, tokens: tokens}
}

func (f fixture) do(t *testing.T, method, path, userID, role, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if userID != "" {
		tok, err := f.tokens.Generate(userID, userID+"@x.io", role)
		require.NoError(t, err)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decodeListing(t *testing.T, rec *httptest.ResponseRecorder) model.Listing {
	t.Helper()
	var l model.Listing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &l))
	return l
}

func (f fixture) submit(t *testing.T, seller, body string) model.Listing {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/listings", seller, auth.RoleSeller, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeListing(t, rec)
}

func TestSellerListingLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/listings", "m1", auth.RoleMember, `{"title":"Course","price":500}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/listings", "s1", auth.RoleSeller, `{"title":"","price":0}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	l := f.submit(t, "s1", `{"title":"Cooking channel","price":500,"category":"food"}`)
	require.Equal(t, model.ApprovalPending, l.ApprovalStatus)

	// pending listings stay hidden
	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/listings/"+l.ID, "", "", "").Code)

	_, err := f.gate.Approve(context.Background(), l.ID)
	require.NoError(t, err)

	rec = f.do(t, http.MethodGet, "/listings/"+l.ID, "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	seen := decodeListing(t, rec)
	require.NotNil(t, seen.FakePrice)
	require.GreaterOrEqual(t, *seen.FakePrice, int64(1000))
	require.LessOrEqual(t, *seen.FakePrice, int64(1750))

	rec = f.do(t, http.MethodPatch, "/listings/"+l.ID, "s2", auth.RoleSeller, `{"price":900}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPatch, "/listings/"+l.ID, "s1", auth.RoleSeller, `{"price":900}`)
	require.Equal(t, http.StatusOK, rec.Code)
	edited := decodeListing(t, rec)
	require.Equal(t, int64(900), edited.Price)
	require.Equal(t, *seen.FakePrice, *edited.FakePrice)

	rec = f.do(t, http.MethodGet, "/listings/mine", "s1", auth.RoleSeller, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), l.ID)
}

func TestInteractions(t *testing.T) {
	f := newFixture(t)
	l := f.submit(t, "s1", `{"title":"Travel vlog","price":300}`)

	rec := f.do(t, http.MethodPost, "/listings/"+l.ID+"/like", "b1", auth.RoleMember, "")
	require.Equal(t, http.StatusConflict, rec.Code)

	_, err := f.gate.Approve(context.Background(), l.ID)
	require.NoError(t, err)

	base := decodeListing(t, f.do(t, http.MethodGet, "/listings/"+l.ID, "", "", ""))
	rec = f.do(t, http.MethodPost, "/listings/"+l.ID+"/like", "b1", auth.RoleMember, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, *base.Likes+1, *decodeListing(t, rec).Likes)

	rec = f.do(t, http.MethodPost, "/listings/"+l.ID+"/sales", "b1", auth.RoleMember, `{"transactionId":"tx-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	sold := decodeListing(t, rec)
	require.Equal(t, *base.SoldCount+1, *sold.SoldCount)
	require.Nil(t, sold.Sales)

	rec = f.do(t, http.MethodPost, "/listings/"+l.ID+"/sales", "b1", auth.RoleMember, `{"transactionId":"tx-1"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/listings/"+l.ID+"/sales", "b1", auth.RoleMember, `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/listings/missing/view", "b1", auth.RoleMember, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListFiltersAndPages(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{
		`{"title":"Cooking basics","price":100,"category":"food"}`,
		`{"title":"Street food tour","price":800,"category":"food"}`,
		`{"title":"Guitar lessons","price":400,"category":"music"}`,
	} {
		l := f.submit(t, "s1", body)
		_, err := f.gate.Approve(context.Background(), l.ID)
		require.NoError(t, err)
	}
	f.submit(t, "s1", `{"title":"Unreviewed food","price":50,"category":"food"}`)

	var out struct {
		Listings []model.Listing `json:"listings"`
		Total    int             `json:"total"`
	}
	rec := f.do(t, http.MethodGet, "/listings?category=food", "", "", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, 2, out.Total)

	rec = f.do(t, http.MethodGet, "/listings?q=FOOD&max_price=500", "", "", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, 0, out.Total)

	rec = f.do(t, http.MethodGet, "/listings?limit=1&offset=1", "", "", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, 3, out.Total)
	require.Len(t, out.Listings, 1)
	require.NotNil(t, out.Listings[0].Views)
}

func TestLiveFeedPushesApprovals(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.e)
	defer srv.Close()

	l := f.submit(t, "s1", `{"title":"Live course","price":250}`)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/listings/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	type event struct {
		Type string          `json:"type"`
		Data []model.Listing `json:"data"`
	}
	read := func() event {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		var evt event
		require.NoError(t, conn.ReadJSON(&evt))
		require.Equal(t, "listings", evt.Type)
		return evt
	}

	require.Empty(t, read().Data)

	_, err = f.gate.Approve(context.Background(), l.ID)
	require.NoError(t, err)

	for {
		evt := read()
		if len(evt.Data) == 1 {
			require.Equal(t, l.ID, evt.Data[0].ID)
			require.NotNil(t, evt.Data[0].Rating)
			return
		}
	}
}
