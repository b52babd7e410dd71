package credential

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/vgo-rewards/vgo_portal/internal/notification"
)

var codePattern = regexp.MustCompile(`\b(\d{6})\b`)

type smsInbox struct {
	mu   sync.Mutex
	last map[string]string
	fail error
}

func (s *smsInbox) Send(_ context.Context, msg notification.Message) error {
	if s.fail != nil {
		return s.fail
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		s.last = map[string]string{}
	}
	s.last[msg.Destination] = codePattern.FindStringSubmatch(msg.Body)[1]
	return nil
}

func (s *smsInbox) code(phone string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[phone]
}

func newTestMemory(t *testing.T, inbox *smsInbox) *Memory {
	t.Helper()
	m, err := NewMemory(MemoryConfig{
		Secret:     "test-secret",
		SessionTTL: time.Minute,
		BcryptCost: bcrypt.MinCost,
		Providers:  []string{"google"},
	}, inbox)
	require.NoError(t, err)
	return m
}

func TestMemoryPasswordLifecycle(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory(t, &smsInbox{})

	signed, err := m.SignUp(ctx, "Alice@Example.com", "s3cret", map[string]string{"full_name": "Alice"})
	require.NoError(t, err)
	require.True(t, signed.Active())
	require.Equal(t, "alice@example.com", signed.Identity.Email)
	require.Equal(t, "Alice", signed.Identity.DisplayName())

	_, err = m.SignUp(ctx, "alice@example.com", "other", nil)
	require.ErrorIs(t, err, ErrUserExists)

	_, err = m.SignInWithPassword(ctx, "alice@example.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	sess, err := m.SignInWithPassword(ctx, "alice@example.com", "s3cret")
	require.NoError(t, err)

	who, err := m.GetUser(ctx, sess.AccessToken)
	require.NoError(t, err)
	require.Equal(t, signed.Identity.ID, who.ID)

	_, err = m.GetUser(ctx, sess.RefreshToken)
	require.ErrorIs(t, err, ErrSessionInvalid, "refresh tokens are not access tokens")

	refreshed, err := m.RefreshSession(ctx, sess.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, sess.AccessToken, refreshed.AccessToken)

	require.NoError(t, m.SignOut(ctx, sess.AccessToken))
	_, err = m.GetUser(ctx, refreshed.AccessToken)
	require.ErrorIs(t, err, ErrSessionInvalid)
	_, err = m.RefreshSession(ctx, refreshed.RefreshToken)
	require.ErrorIs(t, err, ErrSessionInvalid)
}

func TestMemoryOTP(t *testing.T) {
	ctx := context.Background()
	inbox := &smsInbox{}
	m := newTestMemory(t, inbox)
	const phone = "+919876543210"

	err := m.SignInWithOTP(ctx, phone, false)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "unknown phone without create_user is rejected")

	require.NoError(t, m.SignInWithOTP(ctx, phone, true))
	code := inbox.code(phone)
	require.Len(t, code, 6)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	_, err = m.VerifyOTP(ctx, phone, wrong, ChannelSMS)
	require.ErrorIs(t, err, ErrInvalidCode)

	sess, err := m.VerifyOTP(ctx, phone, code, ChannelSMS)
	require.NoError(t, err)
	require.Equal(t, phone, sess.Identity.Phone)

	_, err = m.VerifyOTP(ctx, phone, code, ChannelSMS)
	require.ErrorIs(t, err, ErrInvalidCode, "codes are single use")

	require.NoError(t, m.SignInWithOTP(ctx, phone, false))
	again, err := m.VerifyOTP(ctx, phone, inbox.code(phone), ChannelSMS)
	require.NoError(t, err)
	require.Equal(t, sess.Identity.ID, again.Identity.ID)
}

func TestMemoryOTPDeliveryFailure(t *testing.T) {
	ctx := context.Background()
	inbox := &smsInbox{fail: errors.New("carrier down")}
	m := newTestMemory(t, inbox)

	err := m.SignInWithOTP(ctx, "+14155550100", true)
	require.ErrorContains(t, err, "carrier down")
	_, ok := m.otps.Get("+14155550100")
	require.False(t, ok)
}

func TestMemoryOAuth(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory(t, &smsInbox{})
	m.SetOAuthProfile("google", OAuthProfile{Email: "bob@example.com", FullName: "Bob"})

	_, err := m.SignInWithOAuth(ctx, "myspace", "http://localhost/auth/callback")
	require.ErrorIs(t, err, ErrProviderUnsupported)

	start, err := m.SignInWithOAuth(ctx, "google", "http://localhost/auth/callback")
	require.NoError(t, err)
	u, err := url.Parse(start.URL)
	require.NoError(t, err)
	code := u.Query().Get("code")
	require.NotEmpty(t, code)

	_, err = m.ExchangeCode(ctx, code, "not-the-verifier")
	require.ErrorIs(t, err, ErrSessionInvalid)

	start, err = m.SignInWithOAuth(ctx, "google", "http://localhost/auth/callback")
	require.NoError(t, err)
	u, _ = url.Parse(start.URL)
	sess, err := m.ExchangeCode(ctx, u.Query().Get("code"), start.Verifier)
	require.NoError(t, err)
	require.Equal(t, "bob@example.com", sess.Identity.Email)
	require.Equal(t, "Bob", sess.Identity.DisplayName())
	require.Equal(t, "google", sess.Identity.Provider)
}

func TestMemoryRejectsExpiredTokens(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory(t, &smsInbox{})
	sess, err := m.SignUp(ctx, "carol@example.com", "pw", nil)
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = m.GetUser(ctx, sess.AccessToken)
	require.ErrorIs(t, err, ErrSessionInvalid)
}
