package auth

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/vgo-rewards/vgo_portal/internal/credential"
	"github.com/vgo-rewards/vgo_portal/internal/otp"
	"github.com/vgo-rewards/vgo_portal/internal/phone"
	"github.com/vgo-rewards/vgo_portal/internal/provision"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err      error
		status   int
		code     string
		redirect string
	}{
		{fmt.Errorf("%w: bad", phone.ErrInvalidFormat), http.StatusBadRequest, "invalid_format", ""},
		{otp.ErrNotRegistered, http.StatusNotFound, "not_registered", "/register"},
		{otp.ErrAlreadyRegistered, http.StatusConflict, "already_registered", "/login-phone"},
		{otp.ErrMalformedCode, http.StatusBadRequest, "malformed_code", ""},
		{fmt.Errorf("%w: %w", otp.ErrInvalidCode, credential.ErrInvalidCode), http.StatusUnauthorized, "invalid_code", ""},
		{fmt.Errorf("%w: disk full", provision.ErrProvisioningFailed), http.StatusInternalServerError, "provisioning_failed", ""},
		{credential.ErrSessionInvalid, http.StatusUnauthorized, "session_invalid", "/login"},
		{otp.ErrNotRequested, http.StatusConflict, "code_not_requested", ""},
		{fiber.NewError(http.StatusTooManyRequests, "slow down"), http.StatusTooManyRequests, "rate_limited", ""},
		{&credential.APIError{Status: 500, Message: "boom"}, http.StatusBadGateway, "backend_error", ""},
		{&credential.APIError{Status: 422, Message: "Phone logins are disabled"}, http.StatusUnprocessableEntity, "backend_rejected", ""},
		{fmt.Errorf("otp: %w", &credential.APIError{Status: 503}), http.StatusBadGateway, "backend_error", ""},
		{errors.New("surprise"), http.StatusInternalServerError, "internal_error", ""},
	}
	for _, tc := range cases {
		p := Classify(tc.err)
		require.Equal(t, tc.status, p.Status, tc.err.Error())
		require.Equal(t, tc.code, p.Code, tc.err.Error())
		require.Equal(t, tc.redirect, p.Redirect, tc.err.Error())
	}
}

func TestClassifyKeepsBackendRejectionMessage(t *testing.T) {
	p := Classify(&credential.APIError{Status: 422, Message: "Signups not allowed for this instance"})
	require.Equal(t, "Signups not allowed for this instance", p.Message)

	p = Classify(&credential.APIError{Status: 400})
	require.Equal(t, http.StatusText(http.StatusBadRequest), p.Message)

	p = Classify(&credential.APIError{Status: 500, Message: "db down"})
	require.Equal(t, "credential service unavailable", p.Message)
}

func TestClassifyHidesInternalDetails(t *testing.T) {
	p := Classify(fmt.Errorf("%w: pq: connection refused", provision.ErrProvisioningFailed))
	require.Equal(t, provision.ErrProvisioningFailed.Error(), p.Message)
}
