package profile

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/vgo-rewards/vgo_portal/internal/gate"
)

// Handler exposes the account page endpoints behind the route gate.
type Handler struct {
	svc *Service
}

// NewHandler builds an account handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type profileResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	FullName    string    `json:"full_name"`
	Age         *int      `json:"age,omitempty"`
	Gender      string    `json:"gender,omitempty"`
	Category    string    `json:"category,omitempty"`
	City        string    `json:"city,omitempty"`
	Country     string    `json:"country,omitempty"`
	Address     string    `json:"address,omitempty"`
	DateOfBirth string    `json:"date_of_birth,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toResponse(p Profile) profileResponse {
	out := profileResponse{
		ID:        p.ID,
		Email:     p.Email,
		Phone:     p.Phone,
		FullName:  p.FullName,
		Age:       p.Age,
		Gender:    p.Gender,
		Category:  p.Category,
		City:      p.City,
		Country:   p.Country,
		Address:   p.Address,
		AvatarURL: p.AvatarURL,
		UpdatedAt: p.UpdatedAt,
	}
	if p.DateOfBirth != nil {
		out.DateOfBirth = p.DateOfBirth.Format(time.DateOnly)
	}
	return out
}

type updateRequest struct {
	FullName    *string `json:"full_name"`
	Age         *int    `json:"age"`
	Gender      *string `json:"gender"`
	Category    *string `json:"category"`
	City        *string `json:"city"`
	Country     *string `json:"country"`
	Address     *string `json:"address"`
	DateOfBirth *string `json:"date_of_birth"`
	AvatarURL   *string `json:"avatar_url"`
}

// Get returns the caller's profile.
func (h *Handler) Get(c *fiber.Ctx) error {
	identity, ok := gate.IdentityFrom(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "not signed in")
	}
	p, err := h.svc.Get(c.UserContext(), identity.ID)
	if err != nil {
		return err
	}
	return c.JSON(toResponse(p))
}

// Update edits the caller's profile.
func (h *Handler) Update(c *fiber.Ctx) error {
	identity, ok := gate.IdentityFrom(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "not signed in")
	}
	var req updateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	patch := Patch{
		FullName:  req.FullName,
		Age:       req.Age,
		Gender:    req.Gender,
		Category:  req.Category,
		City:      req.City,
		Country:   req.Country,
		Address:   req.Address,
		AvatarURL: req.AvatarURL,
	}
	if req.DateOfBirth != nil {
		dob, err := time.Parse(time.DateOnly, *req.DateOfBirth)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "date_of_birth must be YYYY-MM-DD")
		}
		patch.DateOfBirth = &dob
	}
	p, err := h.svc.Update(c.UserContext(), identity.ID, patch)
	if err != nil {
		return err
	}
	return c.JSON(toResponse(p))
}
