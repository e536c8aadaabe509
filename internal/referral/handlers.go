package referral

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// CookieName holds the cached referral code on the client.
const CookieName = "ref_code"

const cookieTTL = 30 * 24 * time.Hour

// CookieCache adapts the ref_code cookie of one request to Cache.
type CookieCache struct {
	c echo.Context
}

func NewCookieCache(c echo.Context) *CookieCache { return &CookieCache{c: c} }

func (cc *CookieCache) Load(context.Context) (string, error) {
	ck, err := cc.c.Cookie(CookieName)
	if err == http.ErrNoCookie {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return ck.Value, nil
}

func (cc *CookieCache) Store(_ context.Context, code string) error {
	cc.c.SetCookie(&http.Cookie{
		Name:     CookieName,
		Value:    code,
		Path:     "/",
		MaxAge:   int(cookieTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

type Handler struct {
	resolver *Resolver
	appURL   string
}

func NewHandler(resolver *Resolver, appURL string) *Handler {
	return &Handler{resolver: resolver, appURL: strings.TrimRight(appURL, "/")}
}

// ShareLink handles GET /r/:code: caches the code and sends the visitor to
// the signup page.
func (h *Handler) ShareLink(c echo.Context) error {
	loc := Location{Query: c.QueryParams(), Path: c.Request().URL.Path}
	res, ok := h.resolver.Resolve(c.Request().Context(), loc, NewCookieCache(c))
	target := h.appURL + "/signup"
	if ok {
		target += "?ref=" + url.QueryEscape(res.Code)
	}
	return c.Redirect(http.StatusFound, target)
}

// Resolve handles POST /referrals/resolve. The client posts its full URL
// because fragments never reach the server on their own.
func (h *Handler) Resolve(c echo.Context) error {
	var req struct {
		URL string `json:"url"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	loc, err := ParseLocation(req.URL)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid url"})
	}
	res, ok := h.resolver.Resolve(c.Request().Context(), loc, NewCookieCache(c))
	if !ok {
		return c.JSON(http.StatusOK, echo.Map{"code": nil})
	}
	return c.JSON(http.StatusOK, res)
}
