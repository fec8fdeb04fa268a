package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBadToken     = errors.New("crypto/session: malformed token")
	ErrBadSignature = errors.New("crypto/session: signature mismatch")
	ErrExpiredToken = errors.New("crypto/session: token expired")
)

// SessionIssuer mints and verifies HMAC-SHA256 session tokens of the form
// base64url(id "." unix) "." base64url(mac).
type SessionIssuer struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewSessionIssuer returns an issuer keyed by secret. Tokens older than
// maxAge are rejected; maxAge <= 0 disables expiry.
func NewSessionIssuer(secret string, maxAge time.Duration) *SessionIssuer {
	return &SessionIssuer{secret: []byte(secret), maxAge: maxAge, now: time.Now}
}

// Issue mints a token for a fresh random session ID.
func (s *SessionIssuer) Issue() (token, sessionID string) {
	sessionID = uuid.NewString()
	return s.IssueFor(sessionID, s.now()), sessionID
}

// IssueFor mints a token for sessionID issued at t.
func (s *SessionIssuer) IssueFor(sessionID string, t time.Time) string {
	payload := sessionID + "." + strconv.FormatInt(t.Unix(), 10)
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(payload)) + "." + enc.EncodeToString(s.mac(payload))
}

// Verify checks token and returns its session ID.
func (s *SessionIssuer) Verify(token string) (string, error) {
	body, sig, ok := strings.Cut(token, ".")
	if !ok {
		return "", ErrBadToken
	}
	enc := base64.RawURLEncoding
	payload, err := enc.DecodeString(body)
	if err != nil {
		return "", ErrBadToken
	}
	mac, err := enc.DecodeString(sig)
	if err != nil {
		return "", ErrBadToken
	}
	if !hmac.Equal(mac, s.mac(string(payload))) {
		return "", ErrBadSignature
	}

	id, ts, ok := strings.Cut(string(payload), ".")
	if !ok || id == "" {
		return "", ErrBadToken
	}
	issued, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: timestamp", ErrBadToken)
	}
	if s.maxAge > 0 && s.now().Sub(time.Unix(issued, 0)) > s.maxAge {
		return "", ErrExpiredToken
	}
	return id, nil
}

func (s *SessionIssuer) mac(payload string) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(payload))
	return h.Sum(nil)
}

// String never exposes the secret.
func (s *SessionIssuer) String() string {
	return fmt.Sprintf("SessionIssuer{maxAge: %s, secret: ***}", s.maxAge)
}
