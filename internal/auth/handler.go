package auth

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/vgo-rewards/vgo_portal/internal/gate"
	"github.com/vgo-rewards/vgo_portal/internal/logging"
	"github.com/vgo-rewards/vgo_portal/internal/otp"
	"github.com/vgo-rewards/vgo_portal/internal/profile"
)

const (
	// FlowCookie carries the id of the visitor's OTP challenge.
	FlowCookie     = "vgo-otp-flow"
	verifierCookie = "vgo-pkce-verifier"
	dashboardPath  = "/dashboard"
	loginPath      = "/login"
)

// HandlerOptions configure cookies and redirect targets.
type HandlerOptions struct {
	Cookies     gate.CookieOptions
	FlowTTL     time.Duration
	CallbackURL string
}

// Handler exposes the sign-in and registration endpoints.
type Handler struct {
	svc  *Service
	opts HandlerOptions
}

// NewHandler builds the auth handler.
func NewHandler(svc *Service, opts HandlerOptions) *Handler {
	if opts.FlowTTL <= 0 {
		opts.FlowTTL = 10 * time.Minute
	}
	return &Handler{svc: svc, opts: opts}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type redirectResponse struct {
	Redirect string `json:"redirect"`
}

// Login signs in with email and password.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	session, err := h.svc.PasswordLogin(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	gate.SetSession(c, session, h.opts.Cookies)
	return c.Status(http.StatusOK).JSON(redirectResponse{Redirect: dashboardPath})
}

type registerRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	profile.Attributes
}

// Register creates an email account.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	session, err := h.svc.SignUp(c.UserContext(), SignUpInput{
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		Attributes:      req.Attributes,
	})
	if err != nil {
		return err
	}
	if !session.Active() {
		return c.Status(http.StatusAccepted).JSON(fiber.Map{
			"confirmation_required": true,
			"redirect":              loginPath,
		})
	}
	gate.SetSession(c, session, h.opts.Cookies)
	return c.Status(http.StatusCreated).JSON(redirectResponse{Redirect: dashboardPath})
}

// OAuthStart redirects to the provider. The PKCE verifier waits in a cookie for the
// callback.
func (h *Handler) OAuthStart(c *fiber.Ctx) error {
	start, err := h.svc.StartOAuth(c.UserContext(), c.Params("provider"), h.opts.CallbackURL)
	if err != nil {
		return err
	}
	c.Cookie(&fiber.Cookie{
		Name:     verifierCookie,
		Value:    start.Verifier,
		Path:     "/",
		HTTPOnly: true,
		Secure:   h.opts.Cookies.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
		Expires:  time.Now().Add(h.opts.FlowTTL),
	})
	return c.Redirect(start.URL, http.StatusFound)
}

// OAuthCallback completes an OAuth sign-in. Failures go back to the login page with
// the error code in the query string.
func (h *Handler) OAuthCallback(c *fiber.Ctx) error {
	verifier := c.Cookies(verifierCookie)
	h.clearCookie(c, verifierCookie)
	if reason := c.Query("error"); reason != "" {
		return c.Redirect(loginPath+"?error=oauth_denied", http.StatusFound)
	}
	session, err := h.svc.CompleteOAuth(c.UserContext(), c.Query("code"), verifier)
	if err != nil {
		p := Classify(err)
		h.svc.logger.Warn("oauth callback failed", "code", p.Code, "error", err)
		return c.Redirect(loginPath+"?error="+url.QueryEscape(p.Code), http.StatusFound)
	}
	gate.SetSession(c, session, h.opts.Cookies)
	return c.Redirect(dashboardPath, http.StatusFound)
}

type codeRequest struct {
	Phone       string `json:"phone"`
	CallingCode string `json:"calling_code"`
	profile.Attributes
}

type codeSentResponse struct {
	Status string `json:"status"`
	Phone  string `json:"phone"`
	Next   string `json:"next"`
}

// RequestLoginCode sends a code to a registered phone.
func (h *Handler) RequestLoginCode(c *fiber.Ctx) error {
	return h.requestCode(c, otp.PurposeLogin, "/login-phone/verify")
}

// RequestRegisterCode sends a code to a phone that has no account yet.
func (h *Handler) RequestRegisterCode(c *fiber.Ctx) error {
	return h.requestCode(c, otp.PurposeRegister, "/register/verify")
}

func (h *Handler) requestCode(c *fiber.Ctx, purpose otp.Purpose, next string) error {
	var req codeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	flowID := h.flowID(c)
	number, err := h.svc.RequestPhoneCode(c.UserContext(), flowID, purpose, PhoneCodeInput{
		Phone:       req.Phone,
		CallingCode: req.CallingCode,
		Attributes:  req.Attributes,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusAccepted).JSON(codeSentResponse{
		Status: "code_sent",
		Phone:  logging.MaskPhone(number),
		Next:   next,
	})
}

type verifyRequest struct {
	Code string `json:"code"`
}

// VerifyLoginCode completes a phone login.
func (h *Handler) VerifyLoginCode(c *fiber.Ctx) error {
	return h.verifyCode(c, otp.PurposeLogin)
}

// VerifyRegisterCode completes a phone registration.
func (h *Handler) VerifyRegisterCode(c *fiber.Ctx) error {
	return h.verifyCode(c, otp.PurposeRegister)
}

func (h *Handler) verifyCode(c *fiber.Ctx, purpose otp.Purpose) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	flowID := strings.TrimSpace(c.Cookies(FlowCookie))
	if flowID == "" {
		return otp.ErrNotRequested
	}
	session, err := h.svc.VerifyPhoneCode(c.UserContext(), flowID, purpose, req.Code)
	if err != nil {
		return err
	}
	h.clearCookie(c, FlowCookie)
	gate.SetSession(c, session, h.opts.Cookies)
	return c.Status(http.StatusOK).JSON(redirectResponse{Redirect: dashboardPath})
}

// Logout revokes the session and clears its cookies.
func (h *Handler) Logout(c *fiber.Ctx) error {
	token := c.Cookies(gate.AccessCookie)
	if err := h.svc.Logout(c.UserContext(), token); err != nil {
		h.svc.logger.Warn("logout failed", "error", err)
	}
	gate.ClearSession(c, h.opts.Cookies)
	return c.Status(http.StatusOK).JSON(redirectResponse{Redirect: loginPath})
}

// flowID returns the visitor's flow id, issuing one on first use.
func (h *Handler) flowID(c *fiber.Ctx) string {
	if id := strings.TrimSpace(c.Cookies(FlowCookie)); id != "" {
		if _, err := uuid.Parse(id); err == nil {
			return id
		}
	}
	id := uuid.NewString()
	c.Cookie(&fiber.Cookie{
		Name:     FlowCookie,
		Value:    id,
		Path:     "/",
		HTTPOnly: true,
		Secure:   h.opts.Cookies.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
		Expires:  time.Now().Add(h.opts.FlowTTL),
	})
	return id
}

func (h *Handler) clearCookie(c *fiber.Ctx, name string) {
	if c.Cookies(name) == "" {
		return
	}
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Path:     "/",
		HTTPOnly: true,
		Secure:   h.opts.Cookies.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}
