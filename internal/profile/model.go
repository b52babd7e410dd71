package profile

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no profile matches the lookup key.
	ErrNotFound = errors.New("profile not found")
	// ErrDuplicate is returned when an insert collides with an existing row
	// (same identity id or same phone).
	ErrDuplicate = errors.New("profile already exists")
)

// Profile is the application-owned record of user attributes, keyed by identity id.
type Profile struct {
	ID          string
	Email       string
	Phone       string
	FullName    string
	Age         *int
	Gender      string
	Category    string
	City        string
	Country     string
	Address     string
	DateOfBirth *time.Time
	AvatarURL   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Attributes are the user-entered fields collected during a sign-up flow.
type Attributes struct {
	FullName  string `json:"full_name,omitempty"`
	Age       *int   `json:"age,omitempty"`
	Gender    string `json:"gender,omitempty"`
	Category  string `json:"category,omitempty"`
	City      string `json:"city,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Patch lists the account fields a user may edit. Nil means unchanged.
type Patch struct {
	FullName    *string
	Age         *int
	Gender      *string
	Category    *string
	City        *string
	Country     *string
	Address     *string
	DateOfBirth *time.Time
	AvatarURL   *string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.FullName == nil && p.Age == nil && p.Gender == nil && p.Category == nil &&
		p.City == nil && p.Country == nil && p.Address == nil && p.DateOfBirth == nil && p.AvatarURL == nil
}

// Apply copies the patched fields onto profile.
func (p Patch) Apply(profile *Profile) {
	if p.FullName != nil {
		profile.FullName = *p.FullName
	}
	if p.Age != nil {
		age := *p.Age
		profile.Age = &age
	}
	if p.Gender != nil {
		profile.Gender = *p.Gender
	}
	if p.Category != nil {
		profile.Category = *p.Category
	}
	if p.City != nil {
		profile.City = *p.City
	}
	if p.Country != nil {
		profile.Country = *p.Country
	}
	if p.Address != nil {
		profile.Address = *p.Address
	}
	if p.DateOfBirth != nil {
		dob := *p.DateOfBirth
		profile.DateOfBirth = &dob
	}
	if p.AvatarURL != nil {
		profile.AvatarURL = *p.AvatarURL
	}
}
