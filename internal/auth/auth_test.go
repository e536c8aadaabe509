package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParse(t *testing.T) {
	tm := NewTokenManager("s3cret", "channelhub", time.Hour)
	tok, err := tm.Generate("u1", "ann@x.io", RoleSeller)
	require.NoError(t, err)

	claims, err := tm.Parse(tok)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.UserID)
	require.Equal(t, "ann@x.io", claims.Email)
	require.Equal(t, RoleSeller, claims.Role)
}

func TestParseRejects(t *testing.T) {
	tm := NewTokenManager("s3cret", "channelhub", time.Hour)
	tok, err := tm.Generate("u1", "", RoleMember)
	require.NoError(t, err)

	_, err = NewTokenManager("other", "channelhub", time.Hour).Parse(tok)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewTokenManager("s3cret", "someone-else", time.Hour).Parse(tok)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired := NewTokenManager("s3cret", "channelhub", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, err := expired.Generate("u1", "", "")
	require.NoError(t, err)
	_, err = tm.Parse(old)
	require.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": "u1", "iss": "channelhub"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tm.Parse(unsigned)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	tm := NewTokenManager("s3cret", "channelhub", time.Hour)
	e := echo.New()
	h := tm.Middleware()(func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"user": UserID(c), "email": Email(c), "role": c.Get(KeyRole)})
	})

	call := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/accounts/me", nil)
		if header != "" {
			req.Header.Set(echo.HeaderAuthorization, header)
		}
		rec := httptest.NewRecorder()
		require.NoError(t, h(e.NewContext(req, rec)))
		return rec
	}

	require.Equal(t, http.StatusUnauthorized, call("").Code)
	require.Equal(t, http.StatusUnauthorized, call("Token abc").Code)
	require.Equal(t, http.StatusUnauthorized, call("Bearer not-a-jwt").Code)

	tok, err := tm.Generate("u1", "ann@x.io", "")
	require.NoError(t, err)
	rec := call("Bearer " + tok)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"user":"u1","email":"ann@x.io","role":"member"}`, rec.Body.String())
}
