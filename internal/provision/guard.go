// Package provision makes sure every authenticated identity owns exactly one profile.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/vgo-rewards/vgo_portal/internal/credential"
	"github.com/vgo-rewards/vgo_portal/internal/logging"
	"github.com/vgo-rewards/vgo_portal/internal/metrics"
	"github.com/vgo-rewards/vgo_portal/internal/profile"
)

// ErrProvisioningFailed is returned when the profile row could not be created for a
// reason other than a concurrent insert of the same row.
var ErrProvisioningFailed = errors.New("profile provisioning failed")

// Result describes how Ensure satisfied the one-profile-per-identity rule.
type Result string

const (
	ResultCreated   Result = "created"
	ResultExisting  Result = "existing"
	ResultDuplicate Result = "duplicate"
)

// Subject is a freshly authenticated identity plus the attributes collected by the
// flow that authenticated it.
type Subject struct {
	Identity   credential.Identity
	Phone      string
	Attributes profile.Attributes
}

// Guard provisions profiles.
type Guard struct {
	repo   profile.Repository
	logger *slog.Logger
	group  singleflight.Group
}

// NewGuard builds a provisioning guard over repo.
func NewGuard(repo profile.Repository, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Guard{repo: repo, logger: logger}
}

// Ensure returns once a profile row exists for subject's identity. It is safe to call
// repeatedly and concurrently for the same identity.
func (g *Guard) Ensure(ctx context.Context, subject Subject) (Result, error) {
	id := strings.TrimSpace(subject.Identity.ID)
	if id == "" {
		return "", credential.ErrSessionInvalid
	}

	// The shared call must outlive a cancelled first caller.
	shared := context.WithoutCancel(ctx)
	v, err, _ := g.group.Do(id, func() (any, error) {
		return g.ensure(shared, id, subject)
	})
	if err != nil {
		metrics.Provision("failed")
		return "", err
	}
	result := v.(Result)
	metrics.Provision(string(result))
	return result, nil
}

func (g *Guard) ensure(ctx context.Context, id string, subject Subject) (Result, error) {
	_, err := g.repo.FindByID(ctx, id)
	if err == nil {
		return ResultExisting, nil
	}
	if !errors.Is(err, profile.ErrNotFound) {
		g.logger.Error("profile lookup failed", "identity_id", id, "error", err)
		return "", fmt.Errorf("%w: lookup: %v", ErrProvisioningFailed, err)
	}

	row := newProfile(id, subject)
	err = g.repo.Create(ctx, row)
	switch {
	case err == nil:
		g.logger.Info("profile provisioned", "identity_id", id,
			"email", logging.MaskEmail(row.Email), "phone", logging.MaskPhone(row.Phone))
		return ResultCreated, nil
	case errors.Is(err, profile.ErrDuplicate):
		// Only a collision on this identity's own row counts as provisioned; a phone
		// already bound to another profile leaves this identity without one.
		if _, findErr := g.repo.FindByID(ctx, id); findErr != nil {
			g.logger.Warn("profile insert collided with another profile", "identity_id", id,
				"phone", logging.MaskPhone(row.Phone), "error", findErr)
			return "", fmt.Errorf("%w: phone already bound to another profile", ErrProvisioningFailed)
		}
		g.logger.Info("profile already provisioned concurrently", "identity_id", id)
		return ResultDuplicate, nil
	default:
		g.logger.Error("profile insert failed", "identity_id", id, "error", err)
		return "", fmt.Errorf("%w: %v", ErrProvisioningFailed, err)
	}
}

func newProfile(id string, s Subject) profile.Profile {
	attrs := s.Attributes
	p := profile.Profile{
		ID:        id,
		Email:     strings.TrimSpace(s.Identity.Email),
		Phone:     s.Phone,
		FullName:  strings.TrimSpace(attrs.FullName),
		Gender:    attrs.Gender,
		Category:  attrs.Category,
		City:      strings.TrimSpace(attrs.City),
		AvatarURL: attrs.AvatarURL,
	}
	if attrs.Age != nil {
		age := *attrs.Age
		p.Age = &age
	}
	if p.Phone == "" {
		p.Phone = s.Identity.Phone
	}
	if p.FullName == "" {
		p.FullName = s.Identity.DisplayName()
	}
	if p.AvatarURL == "" {
		p.AvatarURL = s.Identity.AvatarURL()
	}
	return p
}
