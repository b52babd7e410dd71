// Package otp drives the phone verification sequence used by phone login and phone
// registration.
package otp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vgo-rewards/vgo_portal/internal/credential"
	"github.com/vgo-rewards/vgo_portal/internal/logging"
	"github.com/vgo-rewards/vgo_portal/internal/metrics"
	"github.com/vgo-rewards/vgo_portal/internal/phone"
	"github.com/vgo-rewards/vgo_portal/internal/profile"
)

const codeLength = 6

var (
	// ErrNotRegistered is returned by a login request for a phone without a profile.
	ErrNotRegistered = errors.New("phone number is not registered")
	// ErrAlreadyRegistered is returned by a registration request for a phone that
	// already has a profile.
	ErrAlreadyRegistered = errors.New("phone number is already registered")
	// ErrMalformedCode is returned for codes that are not exactly six digits.
	ErrMalformedCode = errors.New("verification code must be 6 digits")
	// ErrInvalidCode is returned when the credential backend rejects the code.
	ErrInvalidCode = errors.New("invalid verification code")
	// ErrNotRequested is returned when a code is verified before one was sent.
	ErrNotRequested = errors.New("no verification code has been requested")
	// ErrAlreadyVerified is returned for any operation on a completed challenge.
	ErrAlreadyVerified = errors.New("phone number already verified")
)

// Phase is the position of a challenge in the verification sequence.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseSent       Phase = "sent"
	PhaseVerified   Phase = "verified"
	PhaseFailed     Phase = "failed"
)

// Purpose selects the existence pre-check applied before a code is dispatched.
type Purpose string

const (
	PurposeLogin    Purpose = "login"
	PurposeRegister Purpose = "register"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == PurposeLogin || p == PurposeRegister
}

// Challenge is the transient state of one verification attempt.
type Challenge struct {
	Purpose    Purpose            `json:"purpose"`
	Phone      string             `json:"phone,omitempty"`
	Phase      Phase              `json:"phase"`
	Dispatched bool               `json:"dispatched"`
	Attempts   int                `json:"attempts"`
	Pending    profile.Attributes `json:"pending"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// NewChallenge returns an idle challenge for purpose.
func NewChallenge(purpose Purpose) Challenge {
	return Challenge{Purpose: purpose, Phase: PhaseNotStarted}
}

// Flow applies the state transitions. It holds no per-visitor state; challenges are
// passed in and persisted by the caller.
type Flow struct {
	backend  credential.Backend
	profiles profile.Repository
	logger   *slog.Logger
	now      func() time.Time
}

// NewFlow builds a flow over the credential backend and the profile store.
func NewFlow(backend credential.Backend, profiles profile.Repository, logger *slog.Logger) *Flow {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Flow{backend: backend, profiles: profiles, logger: logger, now: time.Now}
}

// RequestCode runs the existence pre-check for ch.Purpose and dispatches a code to
// number, which must already be normalized. It may be called again from Sent or
// Failed to resend.
func (f *Flow) RequestCode(ctx context.Context, ch *Challenge, number string) error {
	purpose := string(ch.Purpose)
	if ch.Phase == PhaseVerified {
		return ErrAlreadyVerified
	}
	if !ch.Purpose.Valid() {
		return fmt.Errorf("otp: unknown purpose %q", ch.Purpose)
	}
	if !phone.IsE164(number) {
		return fmt.Errorf("%w: %s is not normalized", phone.ErrInvalidFormat, logging.MaskPhone(number))
	}

	_, err := f.profiles.FindByPhone(ctx, number)
	registered := err == nil
	if err != nil && !errors.Is(err, profile.ErrNotFound) {
		metrics.OTPDispatch(purpose, "failed")
		return fmt.Errorf("otp: profile lookup: %w", err)
	}
	switch {
	case ch.Purpose == PurposeLogin && !registered:
		metrics.OTPDispatch(purpose, "not_registered")
		return ErrNotRegistered
	case ch.Purpose == PurposeRegister && registered:
		metrics.OTPDispatch(purpose, "already_registered")
		return ErrAlreadyRegistered
	}

	if ch.Phone != number {
		ch.Attempts = 0
	}
	ch.Phone = number
	ch.UpdatedAt = f.now().UTC()
	if err := f.backend.SignInWithOTP(ctx, number, ch.Purpose == PurposeRegister); err != nil {
		ch.Phase = PhaseFailed
		ch.Dispatched = false
		metrics.OTPDispatch(purpose, "failed")
		f.logger.Warn("otp dispatch failed", "purpose", purpose, "phone", logging.MaskPhone(number), "error", err)
		return fmt.Errorf("otp: dispatch: %w", err)
	}
	ch.Phase = PhaseSent
	ch.Dispatched = true
	ch.Attempts = 0
	metrics.OTPDispatch(purpose, "sent")
	f.logger.Info("otp dispatched", "purpose", purpose, "phone", logging.MaskPhone(number))
	return nil
}

// VerifyCode checks code against the backend. On success the challenge becomes
// Verified and the backend session is returned. A rejected code leaves the challenge
// Failed and re-entry allowed.
func (f *Flow) VerifyCode(ctx context.Context, ch *Challenge, code string) (credential.Session, error) {
	purpose := string(ch.Purpose)
	if ch.Phase == PhaseVerified {
		return credential.Session{}, ErrAlreadyVerified
	}
	if ch.Phone == "" || !ch.Dispatched || (ch.Phase != PhaseSent && ch.Phase != PhaseFailed) {
		metrics.OTPVerify(purpose, "not_requested")
		return credential.Session{}, ErrNotRequested
	}
	code = strings.TrimSpace(code)
	if !wellFormed(code) {
		metrics.OTPVerify(purpose, "malformed")
		return credential.Session{}, ErrMalformedCode
	}

	ch.UpdatedAt = f.now().UTC()
	session, err := f.backend.VerifyOTP(ctx, ch.Phone, code, credential.ChannelSMS)
	if err != nil {
		ch.Phase = PhaseFailed
		if errors.Is(err, credential.ErrInvalidCode) {
			ch.Attempts++
			metrics.OTPVerify(purpose, "invalid")
			f.logger.Info("otp rejected", "purpose", purpose, "phone", logging.MaskPhone(ch.Phone), "attempts", ch.Attempts)
			return credential.Session{}, fmt.Errorf("%w: %w", ErrInvalidCode, err)
		}
		metrics.OTPVerify(purpose, "failed")
		return credential.Session{}, fmt.Errorf("otp: verify: %w", err)
	}
	if !session.Active() || session.Identity.ID == "" {
		ch.Phase = PhaseFailed
		metrics.OTPVerify(purpose, "failed")
		return credential.Session{}, credential.ErrSessionInvalid
	}

	ch.Phase = PhaseVerified
	metrics.OTPVerify(purpose, "verified")
	f.logger.Info("otp verified", "purpose", purpose, "phone", logging.MaskPhone(ch.Phone), "identity_id", session.Identity.ID)
	return session, nil
}

func wellFormed(code string) bool {
	if len(code) != codeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
