package aureuspay

import (
	"context"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// CredentialSource supplies the bearer credential attached to every API
// request. Implementations may serve a fixed long-lived token or derive
// short-lived tokens from an underlying session.
type CredentialSource interface {
	Token(ctx context.Context) (string, error)
}

// RefreshableCredentialSource is an optional capability: sources that can
// silently renew their credential implement it, and the transport uses it to
// recover from a rejected token. Refresh replaces the stored credential and
// returns the new token.
type RefreshableCredentialSource interface {
	CredentialSource
	Refresh(ctx context.Context) (string, error)
}

// credentialClaims is the decoded token payload. Only the subject and expiry
// matter to the client; everything else the server put in the token is opaque.
type credentialClaims struct {
	SubjectID string `json:"subjectId"`
	jwt.RegisteredClaims
}

// Credential holds an opaque signed API credential. The client never verifies
// the signature (it holds no key); it only checks the token's structure and
// expiry so obviously-bad credentials fail before any network call.
type Credential struct {
	token  string
	claims *credentialClaims
}

// NewCredential wraps a caller-supplied token string. The credential is
// immutable; supply a new Credential to replace it.
func NewCredential(token string) *Credential {
	return &Credential{token: token}
}

// Validate checks the token's structure: exactly three dot-separated parts, a
// payload that decodes to a JSON object, a subjectId claim, and (when an exp
// claim is present) an expiry strictly in the future.
func (c *Credential) Validate() error {
	claims := &credentialClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(c.token, claims); err != nil {
		return NewError(ErrCodeMalformedCredential, "credential is not a well-formed token", map[string]interface{}{
			"cause": err.Error(),
		})
	}
	if claims.SubjectID == "" {
		return NewError(ErrCodeMissingSubject, "credential payload has no subjectId", nil)
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(time.Now()) {
		return NewError(ErrCodeExpiredCredential, "credential has expired", map[string]interface{}{
			"expiredAt": claims.ExpiresAt.Format(time.RFC3339),
		})
	}
	c.claims = claims
	return nil
}

// SubjectID returns the subject encoded in the credential. It is only
// populated after a successful Validate.
func (c *Credential) SubjectID() string {
	if c.claims == nil {
		return ""
	}
	return c.claims.SubjectID
}

// Token returns the raw credential string.
func (c *Credential) Token() string {
	return c.token
}

// staticSource serves a fixed token and cannot refresh. This is the
// long-lived API key strategy: when the server rejects the token the caller
// has to mint a new key.
type staticSource struct {
	token string
}

// StaticCredential returns a CredentialSource that always serves the given
// token and has no refresh capability.
func StaticCredential(token string) CredentialSource {
	return &staticSource{token: token}
}

func (s *staticSource) Token(ctx context.Context) (string, error) {
	return s.token, nil
}

// SessionCredential is the short-lived token strategy: the current token is
// served until the transport asks for a refresh, at which point renew is
// called to derive a replacement from the underlying session.
type SessionCredential struct {
	mu    sync.Mutex
	token string
	renew func(ctx context.Context) (string, error)
}

// NewSessionCredential builds a refreshable source. renew is invoked at most
// once per rejected request.
func NewSessionCredential(initial string, renew func(ctx context.Context) (string, error)) *SessionCredential {
	return &SessionCredential{token: initial, renew: renew}
}

func (s *SessionCredential) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

// Refresh renews the credential and stores it for subsequent requests.
func (s *SessionCredential) Refresh(ctx context.Context) (string, error) {
	token, err := s.renew(ctx)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return token, nil
}
