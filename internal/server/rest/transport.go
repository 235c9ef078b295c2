package rest

import (
	"net/http"
	"strings"
	"time"
)

const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

// SessionTransport moves session tokens between the server and the client
// as HttpOnly cookies.
type SessionTransport struct {
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func (t SessionTransport) cookie(name, value string, ttl time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   t.Secure,
		SameSite: http.SameSiteStrictMode,
	}
	if ttl > 0 {
		c.MaxAge = int(ttl / time.Second)
		c.Expires = time.Now().Add(ttl)
	} else {
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
	}
	return c
}

// SetSession sets both token cookies.
func (t SessionTransport) SetSession(w http.ResponseWriter, accessToken, refreshToken string) {
	http.SetCookie(w, t.cookie(AccessTokenCookie, accessToken, t.AccessTTL))
	http.SetCookie(w, t.cookie(RefreshTokenCookie, refreshToken, t.RefreshTTL))
}

// ClearSession expires both token cookies.
func (t SessionTransport) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, t.cookie(AccessTokenCookie, "", 0))
	http.SetCookie(w, t.cookie(RefreshTokenCookie, "", 0))
}

// AccessToken reads the access token from its cookie, falling back to an
// "Authorization: Bearer" header.
func (t SessionTransport) AccessToken(r *http.Request) string {
	if c, err := r.Cookie(AccessTokenCookie); err == nil && c.Value != "" {
		return c.Value
	}

	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

// RefreshToken reads the refresh token from its cookie, falling back to the
// value supplied in the request body.
func (t SessionTransport) RefreshToken(r *http.Request, fromBody string) string {
	if c, err := r.Cookie(RefreshTokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return strings.TrimSpace(fromBody)
}
