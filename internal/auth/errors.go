package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/vgo-rewards/vgo_portal/internal/credential"
	"github.com/vgo-rewards/vgo_portal/internal/otp"
	"github.com/vgo-rewards/vgo_portal/internal/phone"
	"github.com/vgo-rewards/vgo_portal/internal/profile"
	"github.com/vgo-rewards/vgo_portal/internal/provision"
)

// Problem is the JSON error body returned to the forms.
type Problem struct {
	Status   int    `json:"-"`
	Message  string `json:"error"`
	Code     string `json:"code"`
	Redirect string `json:"redirect,omitempty"`
}

type mapping struct {
	target   error
	status   int
	code     string
	redirect string
}

// Order matters: otp.ErrInvalidCode wraps credential.ErrInvalidCode.
var mappings = []mapping{
	{phone.ErrInvalidFormat, http.StatusBadRequest, "invalid_format", ""},
	{otp.ErrNotRegistered, http.StatusNotFound, "not_registered", "/register"},
	{otp.ErrAlreadyRegistered, http.StatusConflict, "already_registered", "/login-phone"},
	{otp.ErrMalformedCode, http.StatusBadRequest, "malformed_code", ""},
	{otp.ErrInvalidCode, http.StatusUnauthorized, "invalid_code", ""},
	{otp.ErrNotRequested, http.StatusConflict, "code_not_requested", ""},
	{otp.ErrAlreadyVerified, http.StatusConflict, "already_verified", "/dashboard"},
	{provision.ErrProvisioningFailed, http.StatusInternalServerError, "provisioning_failed", ""},
	{credential.ErrSessionInvalid, http.StatusUnauthorized, "session_invalid", "/login"},
	{credential.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", ""},
	{credential.ErrInvalidCode, http.StatusUnauthorized, "invalid_code", ""},
	{credential.ErrUserExists, http.StatusConflict, "user_exists", "/login"},
	{credential.ErrProviderUnsupported, http.StatusBadRequest, "provider_unsupported", ""},
	{profile.ErrInvalidAttribute, http.StatusBadRequest, "invalid_attribute", ""},
	{profile.ErrNotFound, http.StatusNotFound, "profile_not_found", ""},
	{ErrPasswordMismatch, http.StatusBadRequest, "password_mismatch", ""},
	{ErrInvalidInput, http.StatusBadRequest, "invalid_input", ""},
}

// Classify maps an error onto the portal's error taxonomy.
func Classify(err error) Problem {
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			msg := err.Error()
			if m.status >= http.StatusInternalServerError {
				msg = m.target.Error()
			}
			return Problem{Status: m.status, Message: msg, Code: m.code, Redirect: m.redirect}
		}
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return Problem{Status: fe.Code, Message: fe.Message, Code: statusCode(fe.Code)}
	}
	var apiErr *credential.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusTooManyRequests:
			return Problem{Status: http.StatusTooManyRequests, Message: apiErr.Message, Code: "rate_limited"}
		case apiErr.Status >= http.StatusBadRequest && apiErr.Status < http.StatusInternalServerError:
			msg := apiErr.Message
			if msg == "" {
				msg = http.StatusText(apiErr.Status)
			}
			return Problem{Status: apiErr.Status, Message: msg, Code: "backend_rejected"}
		}
		return Problem{Status: http.StatusBadGateway, Message: "credential service unavailable", Code: "backend_error"}
	}
	return Problem{Status: http.StatusInternalServerError, Message: "internal error", Code: "internal_error"}
}

func statusCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "rate_limited"
	default:
		if status >= http.StatusInternalServerError {
			return "internal_error"
		}
		return "request_failed"
	}
}

// ErrorHandler renders every handler error as a Problem.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		p := Classify(err)
		if p.Status >= http.StatusInternalServerError {
			logger.Error("request failed", "path", c.Path(), "code", p.Code, "error", err)
		}
		return c.Status(p.Status).JSON(p)
	}
}
