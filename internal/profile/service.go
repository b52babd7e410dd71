package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	minAge = 10
	maxAge = 100
)

// ErrInvalidAttribute wraps every validation failure of user-entered fields.
var ErrInvalidAttribute = errors.New("invalid profile attribute")

var (
	genders    = []string{"Male", "Female", "Other"}
	categories = []string{"Student", "Employee", "Employer"}
)

// Service exposes the account surface: reading and editing one's own profile.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a profile service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Get returns the profile of identity id.
func (s *Service) Get(ctx context.Context, id string) (Profile, error) {
	return s.repo.FindByID(ctx, id)
}

// Update validates and applies an account edit. Identity id, email and phone are
// not editable here.
func (s *Service) Update(ctx context.Context, id string, patch Patch) (Profile, error) {
	if patch.Empty() {
		return s.repo.FindByID(ctx, id)
	}
	if err := s.validatePatch(patch); err != nil {
		return Profile{}, err
	}
	trimPatch(&patch)
	return s.repo.Update(ctx, id, patch)
}

// Validate checks attributes collected by a sign-up form.
func Validate(a Attributes) error {
	if a.Age != nil {
		if err := validateAge(*a.Age); err != nil {
			return err
		}
	}
	if a.Gender != "" && !oneOf(a.Gender, genders) {
		return fmt.Errorf("%w: gender must be one of %s", ErrInvalidAttribute, strings.Join(genders, ", "))
	}
	if a.Category != "" && !oneOf(a.Category, categories) {
		return fmt.Errorf("%w: category must be one of %s", ErrInvalidAttribute, strings.Join(categories, ", "))
	}
	return nil
}

func (s *Service) validatePatch(p Patch) error {
	a := Attributes{Age: p.Age}
	if p.Gender != nil {
		if *p.Gender == "" {
			return fmt.Errorf("%w: gender cannot be cleared", ErrInvalidAttribute)
		}
		a.Gender = *p.Gender
	}
	if p.Category != nil {
		if *p.Category == "" {
			return fmt.Errorf("%w: category cannot be cleared", ErrInvalidAttribute)
		}
		a.Category = *p.Category
	}
	if err := Validate(a); err != nil {
		return err
	}
	if p.DateOfBirth != nil && p.DateOfBirth.After(s.now()) {
		return fmt.Errorf("%w: date of birth is in the future", ErrInvalidAttribute)
	}
	return nil
}

func validateAge(age int) error {
	if age < minAge || age > maxAge {
		return fmt.Errorf("%w: age must be between %d and %d", ErrInvalidAttribute, minAge, maxAge)
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func trimPatch(p *Patch) {
	for _, f := range []*string{p.FullName, p.City, p.Country, p.Address, p.AvatarURL} {
		if f != nil {
			*f = strings.TrimSpace(*f)
		}
	}
}
