package credential

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/crypto/bcrypt"

	"github.com/vgo-rewards/vgo_portal/internal/notification"
)

const (
	otpLength       = 6
	refreshTTLRatio = 24 * 7
	tokenAccess     = "access"
	tokenRefresh    = "refresh"
)

// MemoryConfig tunes the in-process backend.
type MemoryConfig struct {
	Secret     string
	SessionTTL time.Duration
	OTPTTL     time.Duration
	BcryptCost int
	Providers  []string
}

type memoryUser struct {
	identity     Identity
	passwordHash []byte
	tokenVersion int
}

type pendingOTP struct {
	code       string
	createUser bool
}

type pendingOAuth struct {
	provider  string
	challenge string
}

// OAuthProfile is what the simulated provider reports for the next sign-in.
type OAuthProfile struct {
	Email     string
	FullName  string
	AvatarURL string
}

// Memory is a self-contained Backend for development and tests. Identities live in
// process memory, OTP codes are delivered through a Notifier and sessions are HS256
// JWTs invalidated by bumping a per-identity token version.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]*memoryUser
	byEmail  map[string]string
	byPhone  map[string]string
	profiles map[string]OAuthProfile

	otps   *gocache.Cache
	oauth  *gocache.Cache
	notify notification.Notifier
	cfg    MemoryConfig
	secret []byte
	now    func() time.Time
}

// NewMemory builds an in-process credential backend.
func NewMemory(cfg MemoryConfig, notifier notification.Notifier) (*Memory, error) {
	if cfg.Secret == "" {
		return nil, errors.New("memory backend secret is required")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = 5 * time.Minute
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	m := &Memory{
		users:    make(map[string]*memoryUser),
		byEmail:  make(map[string]string),
		byPhone:  make(map[string]string),
		profiles: make(map[string]OAuthProfile),
		otps:     gocache.New(cfg.OTPTTL, time.Minute),
		oauth:    gocache.New(10*time.Minute, time.Minute),
		notify:   notifier,
		cfg:      cfg,
		secret:   []byte(cfg.Secret),
		now:      time.Now,
	}
	for _, p := range cfg.Providers {
		m.profiles[p] = OAuthProfile{Email: p + ".user@vgo.local", FullName: "VGo " + p + " user"}
	}
	return m, nil
}

// SetOAuthProfile configures the identity the simulated provider returns.
func (m *Memory) SetOAuthProfile(provider string, profile OAuthProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[provider] = profile
}

// SignInWithPassword verifies a bcrypt hashed password.
func (m *Memory) SignInWithPassword(_ context.Context, email, password string) (Session, error) {
	m.mu.RLock()
	u := m.lookup(m.byEmail, normalizeEmail(email))
	m.mu.RUnlock()
	if u == nil || u.passwordHash == nil {
		return Session{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	return m.issue(u)
}

// SignUp creates an email identity and signs it in immediately.
func (m *Memory) SignUp(_ context.Context, email, password string, metadata map[string]string) (Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, &APIError{Status: 422, Code: "validation_failed", Message: "email and password are required"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), m.cfg.BcryptCost)
	if err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	if _, exists := m.byEmail[email]; exists {
		m.mu.Unlock()
		return Session{}, ErrUserExists
	}
	u := m.create(Identity{Email: email, Provider: "email", Metadata: copyMetadata(metadata)})
	u.passwordHash = hash
	m.mu.Unlock()

	return m.issue(u)
}

// SignInWithOAuth simulates the provider round trip by redirecting straight back
// with a one-time code.
func (m *Memory) SignInWithOAuth(_ context.Context, provider, redirectTo string) (OAuthStart, error) {
	m.mu.RLock()
	_, ok := m.profiles[provider]
	m.mu.RUnlock()
	if !ok {
		return OAuthStart{}, fmt.Errorf("%w: %s", ErrProviderUnsupported, provider)
	}
	verifier, err := NewVerifier()
	if err != nil {
		return OAuthStart{}, err
	}
	target, err := url.Parse(redirectTo)
	if err != nil {
		return OAuthStart{}, fmt.Errorf("parse redirect: %w", err)
	}
	code := uuid.NewString()
	m.oauth.SetDefault(code, pendingOAuth{provider: provider, challenge: Challenge(verifier)})

	q := target.Query()
	q.Set("code", code)
	target.RawQuery = q.Encode()
	return OAuthStart{URL: target.String(), Verifier: verifier}, nil
}

// ExchangeCode resolves a simulated OAuth code into a session.
func (m *Memory) ExchangeCode(_ context.Context, code, verifier string) (Session, error) {
	v, ok := m.oauth.Get(code)
	if !ok {
		return Session{}, fmt.Errorf("%w: unknown or expired auth code", ErrSessionInvalid)
	}
	m.oauth.Delete(code)
	pending := v.(pendingOAuth)
	if Challenge(verifier) != pending.challenge {
		return Session{}, fmt.Errorf("%w: code verifier mismatch", ErrSessionInvalid)
	}

	m.mu.Lock()
	p := m.profiles[pending.provider]
	email := normalizeEmail(p.Email)
	u := m.lookup(m.byEmail, email)
	if u == nil {
		meta := map[string]string{"full_name": p.FullName, "name": p.FullName}
		if p.AvatarURL != "" {
			meta["avatar_url"] = p.AvatarURL
		}
		u = m.create(Identity{Email: email, Provider: pending.provider, Metadata: meta})
	}
	m.mu.Unlock()

	return m.issue(u)
}

// SignInWithOTP generates a code for phone and delivers it by SMS.
func (m *Memory) SignInWithOTP(ctx context.Context, phone string, createUser bool) error {
	m.mu.RLock()
	u := m.lookup(m.byPhone, phone)
	m.mu.RUnlock()
	if u == nil && !createUser {
		return &APIError{Status: 422, Code: "otp_disabled", Message: "signups not allowed for otp"}
	}

	code, err := randomDigits(otpLength)
	if err != nil {
		return err
	}
	m.otps.SetDefault(phone, pendingOTP{code: code, createUser: createUser})

	if m.notify == nil {
		return nil
	}
	body := fmt.Sprintf("Your VGo verification code is %s. It expires in %d minutes.", code, int(m.cfg.OTPTTL.Minutes()))
	if err := m.notify.Send(ctx, notification.Message{Kind: notification.KindOTP, Destination: phone, Body: body}); err != nil {
		m.otps.Delete(phone)
		return fmt.Errorf("deliver otp: %w", err)
	}
	return nil
}

// VerifyOTP checks the code last sent to phone. A code is single use.
func (m *Memory) VerifyOTP(_ context.Context, phone, code, channel string) (Session, error) {
	if channel != "" && channel != ChannelSMS {
		return Session{}, &APIError{Status: 400, Code: "validation_failed", Message: "unsupported channel " + channel}
	}
	v, ok := m.otps.Get(phone)
	if !ok {
		return Session{}, ErrInvalidCode
	}
	pending := v.(pendingOTP)
	if pending.code != code {
		return Session{}, ErrInvalidCode
	}
	m.otps.Delete(phone)

	m.mu.Lock()
	u := m.lookup(m.byPhone, phone)
	if u == nil {
		if !pending.createUser {
			m.mu.Unlock()
			return Session{}, ErrInvalidCode
		}
		u = m.create(Identity{Phone: phone, Provider: "phone", Metadata: map[string]string{}})
	}
	m.mu.Unlock()

	return m.issue(u)
}

// GetUser validates an access token and returns its identity.
func (m *Memory) GetUser(_ context.Context, accessToken string) (Identity, error) {
	u, err := m.verify(accessToken, tokenAccess)
	if err != nil {
		return Identity{}, err
	}
	return u.identity, nil
}

// RefreshSession issues a new session for a valid refresh token.
func (m *Memory) RefreshSession(_ context.Context, refreshToken string) (Session, error) {
	u, err := m.verify(refreshToken, tokenRefresh)
	if err != nil {
		return Session{}, err
	}
	return m.issue(u)
}

// SignOut invalidates every token issued so far for the identity.
func (m *Memory) SignOut(_ context.Context, accessToken string) error {
	u, err := m.verify(accessToken, tokenAccess)
	if err != nil {
		return nil
	}
	m.mu.Lock()
	u.tokenVersion++
	m.mu.Unlock()
	return nil
}

// lookup must be called with m.mu held.
func (m *Memory) lookup(index map[string]string, key string) *memoryUser {
	if key == "" {
		return nil
	}
	id, ok := index[key]
	if !ok {
		return nil
	}
	return m.users[id]
}

// create must be called with m.mu held for writing.
func (m *Memory) create(identity Identity) *memoryUser {
	identity.ID = uuid.NewString()
	u := &memoryUser{identity: identity}
	m.users[identity.ID] = u
	if identity.Email != "" {
		m.byEmail[identity.Email] = identity.ID
	}
	if identity.Phone != "" {
		m.byPhone[identity.Phone] = identity.ID
	}
	return u
}

func (m *Memory) issue(u *memoryUser) (Session, error) {
	m.mu.RLock()
	identity, version := u.identity, u.tokenVersion
	m.mu.RUnlock()

	now := m.now()
	exp := now.Add(m.cfg.SessionTTL)
	access, err := m.sign(identity.ID, version, tokenAccess, now, exp)
	if err != nil {
		return Session{}, err
	}
	refresh, err := m.sign(identity.ID, version, tokenRefresh, now, now.Add(m.cfg.SessionTTL*refreshTTLRatio))
	if err != nil {
		return Session{}, err
	}
	return Session{AccessToken: access, RefreshToken: refresh, ExpiresAt: exp.UTC(), Identity: identity}, nil
}

func (m *Memory) sign(sub string, version int, typ string, iat, exp time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub": sub,
		"ver": version,
		"typ": typ,
		"jti": uuid.NewString(),
		"iat": iat.Unix(),
		"exp": exp.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *Memory) verify(token, typ string) (*memoryUser, error) {
	if token == "" {
		return nil, ErrSessionInvalid
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}
	if t, _ := claims["typ"].(string); t != typ {
		return nil, fmt.Errorf("%w: unexpected token type", ErrSessionInvalid)
	}
	sub, _ := claims.GetSubject()
	ver, _ := claims["ver"].(float64)

	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[sub]
	if !ok || u.tokenVersion != int(ver) {
		return nil, fmt.Errorf("%w: token revoked", ErrSessionInvalid)
	}
	return u, nil
}

func randomDigits(n int) (string, error) {
	digits := make([]byte, n)
	for i := range digits {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generate otp: %w", err)
		}
		digits[i] = byte('0' + d.Int64())
	}
	return string(digits), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func copyMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var _ Backend = (*Memory)(nil)
