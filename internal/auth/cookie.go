package auth

import (
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

// CookieName carries the signed session token. The bearer header and this
// cookie are two transports into the same session store, never separate
// truth sources.
const CookieName = "pos_session"

// CookieCodec signs the session token into an HttpOnly cookie so a tampered
// value is rejected before it ever reaches the store.
type CookieCodec struct {
	codec  *securecookie.SecureCookie
	secure bool
}

// NewCookieCodec builds the codec from a 32 or 64 byte HMAC key. secure
// marks the cookie Secure and should be on whenever TLS terminates in front.
func NewCookieCodec(hashKey []byte, secure bool) *CookieCodec {
	sc := securecookie.New(hashKey, nil)
	sc.MaxAge(0) // session expiry is owned by the store, not the cookie
	return &CookieCodec{codec: sc, secure: secure}
}

func (c *CookieCodec) Set(w http.ResponseWriter, token string, expiresAt time.Time) error {
	encoded, err := c.codec.Encode(CookieName, token)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    encoded,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (c *CookieCodec) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Read extracts and verifies the token from the request cookie. A missing or
// tampered cookie reads as absent.
func (c *CookieCodec) Read(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", false
	}

	var token string
	if err := c.codec.Decode(CookieName, cookie.Value, &token); err != nil {
		return "", false
	}
	return token, true
}
