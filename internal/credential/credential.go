// Package credential abstracts the managed authentication service that owns
// identities and sessions. The portal never stores sessions itself; it only asks
// the backend about the tokens a browser presents.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ChannelSMS is the only OTP delivery channel the portal uses.
const ChannelSMS = "sms"

var (
	// ErrInvalidCredentials is returned when an email/password pair is rejected.
	ErrInvalidCredentials = errors.New("invalid login credentials")
	// ErrInvalidCode is returned when the backend rejects an OTP.
	ErrInvalidCode = errors.New("invalid or expired verification code")
	// ErrSessionInvalid means no usable session exists where one was expected.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrUserExists is returned by SignUp for an already registered email.
	ErrUserExists = errors.New("user already registered")
	// ErrProviderUnsupported is returned for OAuth providers the backend does not offer.
	ErrProviderUnsupported = errors.New("oauth provider not supported")
)

// Identity is the authenticated principal as reported by the backend.
type Identity struct {
	ID       string
	Email    string
	Phone    string
	Provider string
	Metadata map[string]string
}

// DisplayName picks the best human readable name out of the identity metadata.
func (i Identity) DisplayName() string {
	for _, key := range []string{"full_name", "name"} {
		if v := strings.TrimSpace(i.Metadata[key]); v != "" {
			return v
		}
	}
	return ""
}

// AvatarURL returns the avatar reference supplied by an OAuth provider, if any.
func (i Identity) AvatarURL() string {
	return i.Metadata["avatar_url"]
}

// Session binds backend issued tokens to an identity.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Identity     Identity
}

// Active reports whether the session carries tokens a browser can use. Sign-ups that
// still wait for email confirmation return an identity without tokens.
func (s Session) Active() bool {
	return s.AccessToken != ""
}

// OAuthStart is the redirect target of an OAuth sign-in plus the PKCE verifier the
// caller must keep until the callback.
type OAuthStart struct {
	URL      string
	Verifier string
}

// Backend is the contract of the credential service.
type Backend interface {
	SignInWithPassword(ctx context.Context, email, password string) (Session, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]string) (Session, error)
	SignInWithOAuth(ctx context.Context, provider, redirectTo string) (OAuthStart, error)
	ExchangeCode(ctx context.Context, code, verifier string) (Session, error)
	SignInWithOTP(ctx context.Context, phone string, createUser bool) error
	VerifyOTP(ctx context.Context, phone, code, channel string) (Session, error)
	GetUser(ctx context.Context, accessToken string) (Identity, error)
	RefreshSession(ctx context.Context, refreshToken string) (Session, error)
	SignOut(ctx context.Context, accessToken string) error
}

// APIError is a backend rejection that does not map onto one of the sentinel errors.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("credential backend: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("credential backend: %d: %s", e.Status, e.Message)
}
