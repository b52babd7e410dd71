package auth

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

	"github.com/vgo-rewards/vgo_portal/internal/credential"
	"github.com/vgo-rewards/vgo_portal/internal/notification"
	"github.com/vgo-rewards/vgo_portal/internal/otp"
	"github.com/vgo-rewards/vgo_portal/internal/phone"
	"github.com/vgo-rewards/vgo_portal/internal/profile"
	"github.com/vgo-rewards/vgo_portal/internal/provision"
)

var smsCode = regexp.MustCompile(`\b(\d{6})\b`)

type inbox struct {
	mu   sync.Mutex
	last map[string]string
}

func (i *inbox) Send(_ context.Context, msg notification.Message) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.last == nil {
		i.last = map[string]string{}
	}
	i.last[msg.Destination] = smsCode.FindStringSubmatch(msg.Body)[1]
	return nil
}

func (i *inbox) code(number string) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.last[number]
}

// countingBackend counts every backend call and signs out.
type countingBackend struct {
	credential.Backend
	mu       sync.Mutex
	calls    int
	signOuts int
}

func (b *countingBackend) hit() {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
}

func (b *countingBackend) SignInWithOTP(ctx context.Context, number string, createUser bool) error {
	b.hit()
	return b.Backend.SignInWithOTP(ctx, number, createUser)
}

func (b *countingBackend) VerifyOTP(ctx context.Context, number, code, channel string) (credential.Session, error) {
	b.hit()
	return b.Backend.VerifyOTP(ctx, number, code, channel)
}

func (b *countingBackend) SignOut(ctx context.Context, token string) error {
	b.mu.Lock()
	b.signOuts++
	b.mu.Unlock()
	return b.Backend.SignOut(ctx, token)
}

type failingCreate struct {
	profile.Repository
}

func (failingCreate) Create(context.Context, profile.Profile) error {
	return errors.New("disk full")
}

type fixture struct {
	svc     *Service
	backend *countingBackend
	memory  *credential.Memory
	repo    profile.Repository
	sms     *inbox
}

func newFixture(t *testing.T, repo profile.Repository) fixture {
	t.Helper()
	sms := &inbox{}
	memory, err := credential.NewMemory(credential.MemoryConfig{
		Secret:     "test-secret",
		SessionTTL: time.Minute,
		BcryptCost: bcrypt.MinCost,
		Providers:  []string{"google"},
	}, sms)
	require.NoError(t, err)
	if repo == nil {
		repo = profile.NewMemoryRepository()
	}
	backend := &countingBackend{Backend: memory}
	svc := NewService(backend, repo, otp.NewMemoryStore(time.Minute), provision.NewGuard(repo, nil), []string{"google"}, nil)
	return fixture{svc: svc, backend: backend, memory: memory, repo: repo, sms: sms}
}

func TestInvalidPhoneNeverReachesBackend(t *testing.T) {
	f := newFixture(t, nil)
	for _, raw := range []string{"12345", "5876543210", "98765-4321", "abcdefghij", "9876543210123456"} {
		_, err := f.svc.RequestPhoneCode(context.Background(), "flow", otp.PurposeRegister, PhoneCodeInput{Phone: raw, CallingCode: "+91"})
		require.ErrorIs(t, err, phone.ErrInvalidFormat, raw)
	}
	require.Zero(t, f.backend.calls)
}

func TestPhoneRegistrationProvisionsProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	age := 22

	number, err := f.svc.RequestPhoneCode(ctx, "flow-1", otp.PurposeRegister, PhoneCodeInput{
		Phone:       "98765 43210",
		CallingCode: "+91",
		Attributes:  profile.Attributes{FullName: "Kiran", Age: &age, Category: "Student"},
	})
	require.NoError(t, err)
	require.Equal(t, "+919876543210", number)

	_, err = f.svc.VerifyPhoneCode(ctx, "flow-1", otp.PurposeRegister, "000000")
	if f.sms.code(number) == "000000" {
		t.Skip("generated code collided with the wrong guess")
	}
	require.ErrorIs(t, err, otp.ErrInvalidCode)

	session, err := f.svc.VerifyPhoneCode(ctx, "flow-1", otp.PurposeRegister, f.sms.code(number))
	require.NoError(t, err)
	require.True(t, session.Active())

	stored, err := f.repo.FindByID(ctx, session.Identity.ID)
	require.NoError(t, err)
	require.Equal(t, number, stored.Phone)
	require.Equal(t, "Kiran", stored.FullName)
	require.Equal(t, "Student", stored.Category)

	// a second registration for the same number stops at the pre-check
	calls := f.backend.calls
	_, err = f.svc.RequestPhoneCode(ctx, "flow-2", otp.PurposeRegister, PhoneCodeInput{Phone: "9876543210", CallingCode: "+91"})
	require.ErrorIs(t, err, otp.ErrAlreadyRegistered)
	require.Equal(t, calls, f.backend.calls)

	// and the phone can now log in
	_, err = f.svc.RequestPhoneCode(ctx, "flow-3", otp.PurposeLogin, PhoneCodeInput{Phone: "9876543210", CallingCode: "+91"})
	require.NoError(t, err)
	again, err := f.svc.VerifyPhoneCode(ctx, "flow-3", otp.PurposeLogin, f.sms.code(number))
	require.NoError(t, err)
	require.Equal(t, session.Identity.ID, again.Identity.ID)
}

func TestProvisioningFailureBlocksSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, failingCreate{Repository: profile.NewMemoryRepository()})

	number, err := f.svc.RequestPhoneCode(ctx, "flow", otp.PurposeRegister, PhoneCodeInput{Phone: "9123456780", CallingCode: "+91"})
	require.NoError(t, err)

	session, err := f.svc.VerifyPhoneCode(ctx, "flow", otp.PurposeRegister, f.sms.code(number))
	require.ErrorIs(t, err, provision.ErrProvisioningFailed)
	require.False(t, session.Active())
	require.Equal(t, 1, f.backend.signOuts)

	// the challenge is gone, the visitor has to start over
	_, err = f.svc.VerifyPhoneCode(ctx, "flow", otp.PurposeRegister, "123456")
	require.ErrorIs(t, err, otp.ErrNotRequested)
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	age := 35

	_, err := f.svc.SignUp(ctx, SignUpInput{Email: "a@example.com", Password: "secret1", ConfirmPassword: "secret2"})
	require.ErrorIs(t, err, ErrPasswordMismatch)

	_, err = f.svc.SignUp(ctx, SignUpInput{Email: "not-an-email", Password: "secret1", ConfirmPassword: "secret1"})
	require.ErrorIs(t, err, ErrInvalidInput)

	bad := 5
	_, err = f.svc.SignUp(ctx, SignUpInput{Email: "a@example.com", Password: "secret1", ConfirmPassword: "secret1",
		Attributes: profile.Attributes{Age: &bad}})
	require.ErrorIs(t, err, profile.ErrInvalidAttribute)

	session, err := f.svc.SignUp(ctx, SignUpInput{
		Email:           "Asha@Example.com",
		Password:        "secret1",
		ConfirmPassword: "secret1",
		Attributes:      profile.Attributes{FullName: "Asha", Age: &age, Gender: "Female", Category: "Employee", City: "Pune"},
	})
	require.NoError(t, err)
	stored, err := f.repo.FindByID(ctx, session.Identity.ID)
	require.NoError(t, err)
	require.Equal(t, "asha@example.com", stored.Email)
	require.Equal(t, "Employee", stored.Category)

	_, err = f.svc.SignUp(ctx, SignUpInput{Email: "asha@example.com", Password: "secret1", ConfirmPassword: "secret1"})
	require.ErrorIs(t, err, credential.ErrUserExists)

	// password login does not provision
	login, err := f.svc.PasswordLogin(ctx, "asha@example.com", "secret1")
	require.NoError(t, err)
	require.Equal(t, session.Identity.ID, login.Identity.ID)
	_, err = f.svc.PasswordLogin(ctx, "asha@example.com", "wrong")
	require.ErrorIs(t, err, credential.ErrInvalidCredentials)
}

func TestOAuthProvisionsOnCallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.memory.SetOAuthProfile("google", credential.OAuthProfile{Email: "g@example.com", FullName: "G User"})

	_, err := f.svc.StartOAuth(ctx, "github", "http://localhost/auth/callback")
	require.ErrorIs(t, err, credential.ErrProviderUnsupported)

	start, err := f.svc.StartOAuth(ctx, "Google", "http://localhost/auth/callback")
	require.NoError(t, err)
	code := codeFrom(t, start.URL)

	session, err := f.svc.CompleteOAuth(ctx, code, start.Verifier)
	require.NoError(t, err)
	stored, err := f.repo.FindByID(ctx, session.Identity.ID)
	require.NoError(t, err)
	require.Equal(t, "G User", stored.FullName)

	// replayed callback is rejected
	_, err = f.svc.CompleteOAuth(ctx, code, start.Verifier)
	require.ErrorIs(t, err, credential.ErrSessionInvalid)
}

func codeFrom(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	code := u.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}
