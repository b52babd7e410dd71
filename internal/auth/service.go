// Package auth composes the sign-in and registration flows of the portal on top of
// the credential backend, the OTP state machine and the provisioning guard.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/vgo-rewards/vgo_portal/internal/credential"
	"github.com/vgo-rewards/vgo_portal/internal/logging"
	"github.com/vgo-rewards/vgo_portal/internal/otp"
	"github.com/vgo-rewards/vgo_portal/internal/phone"
	"github.com/vgo-rewards/vgo_portal/internal/profile"
	"github.com/vgo-rewards/vgo_portal/internal/provision"
)

const minPasswordLength = 6

var (
	// ErrInvalidInput is returned for missing or malformed form fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPasswordMismatch is returned when the password confirmation differs.
	ErrPasswordMismatch = errors.New("passwords do not match")
)

// SignUpInput is the email registration form.
type SignUpInput struct {
	Email           string
	Password        string
	ConfirmPassword string
	Attributes      profile.Attributes
}

// PhoneCodeInput is a request for an OTP. Attributes are only kept for registration.
type PhoneCodeInput struct {
	Phone       string
	CallingCode string
	Attributes  profile.Attributes
}

// Service runs the canonical flows: email and password login, email sign-up, OAuth
// login, phone login and phone registration.
type Service struct {
	backend   credential.Backend
	flow      *otp.Flow
	store     otp.Store
	guard     *provision.Guard
	providers map[string]bool
	logger    *slog.Logger
}

// NewService wires the flows. providers is the OAuth allowlist.
func NewService(backend credential.Backend, profiles profile.Repository, store otp.Store, guard *provision.Guard, providers []string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	allowed := make(map[string]bool, len(providers))
	for _, p := range providers {
		allowed[strings.ToLower(strings.TrimSpace(p))] = true
	}
	return &Service{
		backend:   backend,
		flow:      otp.NewFlow(backend, profiles, logger),
		store:     store,
		guard:     guard,
		providers: allowed,
		logger:    logger,
	}
}

// PasswordLogin signs in with email and password. The profile was provisioned when
// the account was created, so the guard is not consulted.
func (s *Service) PasswordLogin(ctx context.Context, email, password string) (credential.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return credential.Session{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	session, err := s.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		s.logger.Info("password login rejected", "email", logging.MaskEmail(email), "error", err)
		return credential.Session{}, err
	}
	return session, nil
}

// SignUp registers an email account and provisions its profile. The returned
// session is inactive while the backend waits for email confirmation.
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (credential.Session, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return credential.Session{}, fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	if len(in.Password) < minPasswordLength {
		return credential.Session{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	if in.Password != in.ConfirmPassword {
		return credential.Session{}, ErrPasswordMismatch
	}
	if err := profile.Validate(in.Attributes); err != nil {
		return credential.Session{}, err
	}

	session, err := s.backend.SignUp(ctx, email, in.Password, metadata(in.Attributes))
	if err != nil {
		return credential.Session{}, err
	}
	if _, err := s.guard.Ensure(ctx, provision.Subject{Identity: session.Identity, Attributes: in.Attributes}); err != nil {
		s.abandon(ctx, session)
		return credential.Session{}, err
	}
	return session, nil
}

// StartOAuth returns the provider redirect for an allowed provider.
func (s *Service) StartOAuth(ctx context.Context, provider, redirectTo string) (credential.OAuthStart, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !s.providers[provider] {
		return credential.OAuthStart{}, fmt.Errorf("%w: %s", credential.ErrProviderUnsupported, provider)
	}
	return s.backend.SignInWithOAuth(ctx, provider, redirectTo)
}

// CompleteOAuth exchanges the callback code and provisions the profile.
func (s *Service) CompleteOAuth(ctx context.Context, code, verifier string) (credential.Session, error) {
	if strings.TrimSpace(code) == "" || verifier == "" {
		return credential.Session{}, fmt.Errorf("%w: missing authorization code", credential.ErrSessionInvalid)
	}
	session, err := s.backend.ExchangeCode(ctx, code, verifier)
	if err != nil {
		return credential.Session{}, err
	}
	if _, err := s.guard.Ensure(ctx, provision.Subject{Identity: session.Identity}); err != nil {
		s.abandon(ctx, session)
		return credential.Session{}, err
	}
	return session, nil
}

// RequestPhoneCode normalizes the number and dispatches a code for the flow's
// purpose. It returns the canonical number.
func (s *Service) RequestPhoneCode(ctx context.Context, flowID string, purpose otp.Purpose, in PhoneCodeInput) (string, error) {
	number, err := phone.Normalize(in.Phone, in.CallingCode)
	if err != nil {
		return "", err
	}
	if purpose == otp.PurposeRegister {
		if err := profile.Validate(in.Attributes); err != nil {
			return "", err
		}
	}

	ch, err := s.store.Load(ctx, flowID, purpose)
	if err != nil {
		return "", err
	}
	if purpose == otp.PurposeRegister {
		ch.Pending = in.Attributes
	}
	reqErr := s.flow.RequestCode(ctx, &ch, number)
	if errors.Is(reqErr, otp.ErrAlreadyVerified) {
		return "", reqErr
	}
	if err := s.store.Save(ctx, flowID, ch); err != nil {
		return "", err
	}
	return number, reqErr
}

// VerifyPhoneCode checks the code and, once verified, provisions the profile. A
// provisioning failure discards the session so the visitor cannot reach protected
// pages without a profile.
func (s *Service) VerifyPhoneCode(ctx context.Context, flowID string, purpose otp.Purpose, code string) (credential.Session, error) {
	ch, err := s.store.Load(ctx, flowID, purpose)
	if err != nil {
		return credential.Session{}, err
	}
	session, verifyErr := s.flow.VerifyCode(ctx, &ch, code)
	if verifyErr != nil {
		if ch.Phase != otp.PhaseNotStarted {
			if err := s.store.Save(ctx, flowID, ch); err != nil {
				s.logger.Warn("otp challenge save failed", "error", err)
			}
		}
		return credential.Session{}, verifyErr
	}
	if err := s.store.Delete(ctx, flowID); err != nil {
		s.logger.Warn("otp challenge delete failed", "error", err)
	}

	subject := provision.Subject{Identity: session.Identity, Phone: ch.Phone}
	if purpose == otp.PurposeRegister {
		subject.Attributes = ch.Pending
	}
	if _, err := s.guard.Ensure(ctx, subject); err != nil {
		s.abandon(ctx, session)
		return credential.Session{}, err
	}
	return session, nil
}

// Logout revokes the session behind accessToken.
func (s *Service) Logout(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	return s.backend.SignOut(ctx, accessToken)
}

// abandon signs out a session that must not be used, best effort.
func (s *Service) abandon(ctx context.Context, session credential.Session) {
	if !session.Active() {
		return
	}
	if err := s.backend.SignOut(ctx, session.AccessToken); err != nil {
		s.logger.Warn("sign out after failed provisioning", "identity_id", session.Identity.ID, "error", err)
	}
}

func metadata(a profile.Attributes) map[string]string {
	out := map[string]string{}
	if v := strings.TrimSpace(a.FullName); v != "" {
		out["full_name"] = v
	}
	if a.Gender != "" {
		out["gender"] = a.Gender
	}
	if a.Category != "" {
		out["category"] = a.Category
	}
	if v := strings.TrimSpace(a.City); v != "" {
		out["city"] = v
	}
	if a.Age != nil {
		out["age"] = fmt.Sprint(*a.Age)
	}
	return out
}
