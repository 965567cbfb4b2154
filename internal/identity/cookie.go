package identity

import (
	"errors"
	"net/http"
	"net/url"
	"time"
)

const cookieMaxAge = 90 * 24 * time.Hour

// CookieJar persists identities in browser cookies for one request/response
// pair, the server-side counterpart of the panel's local storage.
type CookieJar struct {
	r      *http.Request
	w      http.ResponseWriter
	secure bool
}

// NewCookieJar binds a jar to the current exchange.
func NewCookieJar(w http.ResponseWriter, r *http.Request, secure bool) *CookieJar {
	return &CookieJar{r: r, w: w, secure: secure}
}

func (j *CookieJar) Load(key string) (string, bool, error) {
	c, err := j.r.Cookie(key)
	if errors.Is(err, http.ErrNoCookie) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	value, err := url.QueryUnescape(c.Value)
	if err != nil {
		return "", false, nil
	}
	return value, value != "", nil
}

func (j *CookieJar) Save(key, value string) error {
	http.SetCookie(j.w, &http.Cookie{
		Name:     key,
		Value:    url.QueryEscape(value),
		Path:     "/",
		MaxAge:   int(cookieMaxAge / time.Second),
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (j *CookieJar) Delete(key string) error {
	http.SetCookie(j.w, &http.Cookie{
		Name:     key,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
