package auth

import (
	"crypto/sha256"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/securecookie"
)

const (
	sessionCookie = "calassist_session"
	stateCookie   = "calassist_oauth"

	sessionTTL = 7 * 24 * time.Hour
	stateTTL   = 10 * time.Minute
)

var errNoState = errors.New("oauth state cookie missing or invalid")

type sessionValue struct {
	UserID  int64 `json:"uid"`
	Expires int64 `json:"exp"`
}

// loginState survives the round trip to the identity provider.
type loginState struct {
	State    string `json:"state"`
	Nonce    string `json:"nonce"`
	ReturnTo string `json:"return_to,omitempty"`
	Expires  int64  `json:"exp"`
}

// SessionManager manages browser sessions.
type SessionManager struct {
	codec  *securecookie.SecureCookie
	secure bool
	now    func() time.Time
}

func NewSessionManager(secret, baseURL string) *SessionManager {
	hashKey := sha256.Sum256([]byte("session-hash:" + secret))
	blockKey := sha256.Sum256([]byte("session-block:" + secret))
	sc := securecookie.New(hashKey[:], blockKey[:])
	sc.MaxAge(int(sessionTTL / time.Second))
	sc.SetSerializer(securecookie.JSONEncoder{})

	secure := true
	if base, err := url.Parse(baseURL); err == nil && base.Scheme != "https" {
		secure = false
	}

	return &SessionManager{codec: sc, secure: secure, now: time.Now}
}

// Issue sets the session cookie for a user.
func (m *SessionManager) Issue(w http.ResponseWriter, userID int64) error {
	expires := m.now().Add(sessionTTL)
	encoded, err := m.codec.Encode(sessionCookie, sessionValue{UserID: userID, Expires: expires.Unix()})
	if err != nil {
		return err
	}
	m.set(w, sessionCookie, encoded, expires)
	return nil
}

// Clear removes the session cookie.
func (m *SessionManager) Clear(w http.ResponseWriter) {
	m.set(w, sessionCookie, "", time.Unix(0, 0))
}

// CurrentUserID extracts the user ID from the request session if present.
func (m *SessionManager) CurrentUserID(r *http.Request) (int64, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return 0, false
	}
	var v sessionValue
	if err := m.codec.Decode(sessionCookie, c.Value, &v); err != nil {
		return 0, false
	}
	if v.UserID == 0 || time.Unix(v.Expires, 0).Before(m.now()) {
		return 0, false
	}
	return v.UserID, true
}

func (m *SessionManager) issueState(w http.ResponseWriter, st loginState) error {
	expires := m.now().Add(stateTTL)
	st.Expires = expires.Unix()
	encoded, err := m.codec.Encode(stateCookie, st)
	if err != nil {
		return err
	}
	m.set(w, stateCookie, encoded, expires)
	return nil
}

// consumeState reads and clears the login state cookie.
func (m *SessionManager) consumeState(w http.ResponseWriter, r *http.Request) (loginState, error) {
	m.set(w, stateCookie, "", time.Unix(0, 0))
	c, err := r.Cookie(stateCookie)
	if err != nil {
		return loginState{}, errNoState
	}
	var st loginState
	if err := m.codec.Decode(stateCookie, c.Value, &st); err != nil {
		return loginState{}, errNoState
	}
	if time.Unix(st.Expires, 0).Before(m.now()) {
		return loginState{}, errNoState
	}
	return st, nil
}

func (m *SessionManager) set(w http.ResponseWriter, name, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
