package otp

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vgo-rewards/vgo_portal/internal/credential"
	"github.com/vgo-rewards/vgo_portal/internal/profile"
)

// fakeBackend records OTP traffic and accepts a single configured code.
type fakeBackend struct {
	credential.Backend
	validCode   string
	dispatchErr error
	dispatched  []string
	createUser  []bool
	verifyCalls int
}

func (b *fakeBackend) SignInWithOTP(_ context.Context, phone string, createUser bool) error {
	if b.dispatchErr != nil {
		return b.dispatchErr
	}
	b.dispatched = append(b.dispatched, phone)
	b.createUser = append(b.createUser, createUser)
	return nil
}

func (b *fakeBackend) VerifyOTP(_ context.Context, phone, code, channel string) (credential.Session, error) {
	b.verifyCalls++
	if channel != credential.ChannelSMS || code != b.validCode {
		return credential.Session{}, credential.ErrInvalidCode
	}
	return credential.Session{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Identity:     credential.Identity{ID: uuid.NewString(), Phone: phone},
	}, nil
}

func newTestFlow(t *testing.T, profiles ...profile.Profile) (*Flow, *fakeBackend) {
	t.Helper()
	repo := profile.NewMemoryRepository()
	for _, p := range profiles {
		require.NoError(t, repo.Create(context.Background(), p))
	}
	backend := &fakeBackend{validCode: "123456"}
	return NewFlow(backend, repo, nil), backend
}

func TestVerifyBeforeRequestFailsFast(t *testing.T) {
	flow, backend := newTestFlow(t)
	ch := NewChallenge(PurposeRegister)

	_, err := flow.VerifyCode(context.Background(), &ch, "123456")
	require.ErrorIs(t, err, ErrNotRequested)
	require.Equal(t, PhaseNotStarted, ch.Phase)
	require.Zero(t, backend.verifyCalls)
}

func TestRegistrationPrecheckRejectsKnownPhone(t *testing.T) {
	flow, backend := newTestFlow(t, profile.Profile{ID: uuid.NewString(), Phone: "+919999999999"})
	ch := NewChallenge(PurposeRegister)

	err := flow.RequestCode(context.Background(), &ch, "+919999999999")
	require.ErrorIs(t, err, ErrAlreadyRegistered)
	require.Empty(t, backend.dispatched)
	require.Equal(t, PhaseNotStarted, ch.Phase)
}

func TestLoginPrecheckRejectsUnknownPhone(t *testing.T) {
	flow, backend := newTestFlow(t)
	ch := NewChallenge(PurposeLogin)

	err := flow.RequestCode(context.Background(), &ch, "+911234567890")
	require.ErrorIs(t, err, ErrNotRegistered)
	require.Empty(t, backend.dispatched)
	require.Equal(t, PhaseNotStarted, ch.Phase)
}

func TestLoginDispatchesForKnownPhone(t *testing.T) {
	flow, backend := newTestFlow(t, profile.Profile{ID: uuid.NewString(), Phone: "+919812345678"})
	ch := NewChallenge(PurposeLogin)

	require.NoError(t, flow.RequestCode(context.Background(), &ch, "+919812345678"))
	require.Equal(t, PhaseSent, ch.Phase)
	require.Equal(t, []string{"+919812345678"}, backend.dispatched)
	require.Equal(t, []bool{false}, backend.createUser)
}

func TestRejectedCodeAllowsReentry(t *testing.T) {
	ctx := context.Background()
	flow, backend := newTestFlow(t)
	ch := NewChallenge(PurposeRegister)

	require.NoError(t, flow.RequestCode(ctx, &ch, "+919876543210"))
	require.Equal(t, PhaseSent, ch.Phase)
	require.Equal(t, []bool{true}, backend.createUser)

	_, err := flow.VerifyCode(ctx, &ch, "000000")
	require.ErrorIs(t, err, ErrInvalidCode)
	require.ErrorIs(t, err, credential.ErrInvalidCode)
	require.Equal(t, PhaseFailed, ch.Phase)
	require.Equal(t, 1, ch.Attempts)

	session, err := flow.VerifyCode(ctx, &ch, "123456")
	require.NoError(t, err)
	require.Equal(t, PhaseVerified, ch.Phase)
	require.NotEmpty(t, session.Identity.ID)

	_, err = flow.VerifyCode(ctx, &ch, "123456")
	require.ErrorIs(t, err, ErrAlreadyVerified)
	require.ErrorIs(t, flow.RequestCode(ctx, &ch, "+919876543210"), ErrAlreadyVerified)
	require.Equal(t, 2, backend.verifyCalls)
}

func TestMalformedCodeSkipsBackend(t *testing.T) {
	ctx := context.Background()
	flow, backend := newTestFlow(t)
	ch := NewChallenge(PurposeRegister)
	require.NoError(t, flow.RequestCode(ctx, &ch, "+919876543210"))

	for _, code := range []string{"", "12345", "1234567", "12a456", "１２３４５６"} {
		_, err := flow.VerifyCode(ctx, &ch, code)
		require.ErrorIs(t, err, ErrMalformedCode, code)
	}
	require.Zero(t, backend.verifyCalls)
	require.Equal(t, PhaseSent, ch.Phase)
	require.Zero(t, ch.Attempts)
}

func TestDispatchFailureMovesToFailed(t *testing.T) {
	ctx := context.Background()
	flow, backend := newTestFlow(t)
	backend.dispatchErr = errors.New("sms provider down")
	ch := NewChallenge(PurposeRegister)

	require.Error(t, flow.RequestCode(ctx, &ch, "+919876543210"))
	require.Equal(t, PhaseFailed, ch.Phase)

	_, err := flow.VerifyCode(ctx, &ch, "123456")
	require.ErrorIs(t, err, ErrNotRequested)

	backend.dispatchErr = nil
	require.NoError(t, flow.RequestCode(ctx, &ch, "+919876543210"))
	require.Equal(t, PhaseSent, ch.Phase)
}

func TestRequestRequiresNormalizedPhone(t *testing.T) {
	flow, backend := newTestFlow(t)
	ch := NewChallenge(PurposeRegister)
	err := flow.RequestCode(context.Background(), &ch, "98765 43210")
	require.Error(t, err)
	require.Empty(t, backend.dispatched)
}
