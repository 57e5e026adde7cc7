package httpserver

import (
	"net/http"

	"github.com/eclosion-app/eclosion/internal/apperr"
)

// PassphraseCookieName is the opaque session cookie a caller may use to carry
// a server-side-resolved passphrase. Resolving the cookie value into an
// actual passphrase is the job of the external session store (out of scope,
// §1); this package only reads the two transport locations spec.md §6 names.
const PassphraseCookieName = "notes_session"

// PassphraseHeaderName lets a desktop-proximal client supply the passphrase
// directly, bypassing the session cookie.
const PassphraseHeaderName = "X-Notes-Key"

// PassphraseFromRequest extracts the passphrase from the X-Notes-Key header
// or, failing that, the session cookie. Per spec.md §6, when neither is
// present the caller must fail the request with ValidationError("Session
// expired.").
func PassphraseFromRequest(r *http.Request) (string, error) {
	if key := r.Header.Get(PassphraseHeaderName); key != "" {
		return key, nil
	}

	if c, err := r.Cookie(PassphraseCookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}

	return "", apperr.ValidationErr("Session expired.")
}
