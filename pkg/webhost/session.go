package webhost

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// SessionCookie is the cookie holding the signed client id.
const SessionCookie = "mtm_session"

type sessions struct {
	secret []byte
	path   string
}

func (s *sessions) sign(id string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(id))
	return id + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (s *sessions) verify(value string) (string, bool) {
	id, _, ok := strings.Cut(value, ".")
	if !ok || id == "" {
		return "", false
	}
	if !hmac.Equal([]byte(s.sign(id)), []byte(value)) {
		return "", false
	}
	return id, true
}

// clientID returns the session id from the request cookie, issuing a new
// one when it is missing or its signature does not match.
func (s *sessions) clientID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if id, ok := s.verify(c.Value); ok {
			return id
		}
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    s.sign(id),
		Path:     s.path,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}
