package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// GoTrue talks to a Supabase Auth (GoTrue) deployment over its REST API.
type GoTrue struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewGoTrue builds a client for the project at baseURL (e.g. https://xyz.supabase.co).
func NewGoTrue(baseURL, apiKey string, timeout time.Duration) *GoTrue {
	return &GoTrue{
		baseURL: strings.TrimRight(baseURL, "/") + "/auth/v1",
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type gotrueUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Phone        string         `json:"phone"`
	AppMetadata  map[string]any `json:"app_metadata"`
	UserMetadata map[string]any `json:"user_metadata"`
}

type gotrueSession struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int64       `json:"expires_in"`
	ExpiresAt    int64       `json:"expires_at"`
	User         *gotrueUser `json:"user"`
}

// signup returns either a session or, while email confirmation is pending, a bare user.
type gotrueSignup struct {
	gotrueSession
	gotrueUser
}

type gotrueError struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// SignInWithPassword exchanges an email/password pair for a session.
func (g *GoTrue) SignInWithPassword(ctx context.Context, email, password string) (Session, error) {
	var out gotrueSession
	err := g.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"password"}}, "",
		map[string]string{"email": email, "password": password}, &out)
	if err != nil {
		return Session{}, mapStatus(err, ErrInvalidCredentials, http.StatusBadRequest, http.StatusUnauthorized)
	}
	return out.session(), nil
}

// SignUp registers an email identity. With email confirmation enabled the returned
// session is inactive and only carries the identity.
func (g *GoTrue) SignUp(ctx context.Context, email, password string, metadata map[string]string) (Session, error) {
	var out gotrueSignup
	body := map[string]any{"email": email, "password": password}
	if len(metadata) > 0 {
		body["data"] = metadata
	}
	if err := g.do(ctx, http.MethodPost, "/signup", nil, "", body, &out); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Code == "user_already_exists" || apiErr.Code == "email_exists") {
			return Session{}, fmt.Errorf("%w: %s", ErrUserExists, apiErr.Message)
		}
		return Session{}, err
	}
	if out.AccessToken != "" {
		return out.session(), nil
	}
	return Session{Identity: out.gotrueUser.identity()}, nil
}

// SignInWithOAuth builds the provider redirect using the PKCE flow.
func (g *GoTrue) SignInWithOAuth(_ context.Context, provider, redirectTo string) (OAuthStart, error) {
	if provider == "" {
		return OAuthStart{}, ErrProviderUnsupported
	}
	verifier, err := NewVerifier()
	if err != nil {
		return OAuthStart{}, err
	}
	q := url.Values{}
	q.Set("provider", provider)
	q.Set("redirect_to", redirectTo)
	q.Set("code_challenge", Challenge(verifier))
	q.Set("code_challenge_method", "s256")
	return OAuthStart{URL: g.baseURL + "/authorize?" + q.Encode(), Verifier: verifier}, nil
}

// ExchangeCode completes a PKCE OAuth flow.
func (g *GoTrue) ExchangeCode(ctx context.Context, code, verifier string) (Session, error) {
	var out gotrueSession
	err := g.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"pkce"}}, "",
		map[string]string{"auth_code": code, "code_verifier": verifier}, &out)
	if err != nil {
		return Session{}, mapStatus(err, ErrSessionInvalid, http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound)
	}
	return out.session(), nil
}

// SignInWithOTP asks the backend to text a one-time code to phone.
func (g *GoTrue) SignInWithOTP(ctx context.Context, phone string, createUser bool) error {
	return g.do(ctx, http.MethodPost, "/otp", nil, "",
		map[string]any{"phone": phone, "create_user": createUser}, nil)
}

// VerifyOTP checks a code previously sent to phone.
func (g *GoTrue) VerifyOTP(ctx context.Context, phone, code, channel string) (Session, error) {
	if channel == "" {
		channel = ChannelSMS
	}
	var out gotrueSession
	err := g.do(ctx, http.MethodPost, "/verify", nil, "",
		map[string]string{"type": channel, "phone": phone, "token": code}, &out)
	if err != nil {
		return Session{}, mapStatus(err, ErrInvalidCode, http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden)
	}
	return out.session(), nil
}

// GetUser resolves the identity behind an access token.
func (g *GoTrue) GetUser(ctx context.Context, accessToken string) (Identity, error) {
	if accessToken == "" {
		return Identity{}, ErrSessionInvalid
	}
	var out gotrueUser
	if err := g.do(ctx, http.MethodGet, "/user", nil, accessToken, nil, &out); err != nil {
		return Identity{}, mapStatus(err, ErrSessionInvalid, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound)
	}
	if out.ID == "" {
		return Identity{}, ErrSessionInvalid
	}
	return out.identity(), nil
}

// RefreshSession trades a refresh token for a new session.
func (g *GoTrue) RefreshSession(ctx context.Context, refreshToken string) (Session, error) {
	if refreshToken == "" {
		return Session{}, ErrSessionInvalid
	}
	var out gotrueSession
	err := g.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"refresh_token"}}, "",
		map[string]string{"refresh_token": refreshToken}, &out)
	if err != nil {
		return Session{}, mapStatus(err, ErrSessionInvalid, http.StatusBadRequest, http.StatusUnauthorized)
	}
	return out.session(), nil
}

// SignOut revokes the session behind accessToken. Already invalid tokens are not an error.
func (g *GoTrue) SignOut(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	err := g.do(ctx, http.MethodPost, "/logout", nil, accessToken, nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
		return nil
	}
	return err
}

func (g *GoTrue) do(ctx context.Context, method, path string, query url.Values, bearer string, body, out any) error {
	endpoint := g.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", g.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	} else {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("credential backend %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{Status: resp.StatusCode}
	var ge gotrueError
	if json.Unmarshal(raw, &ge) == nil {
		apiErr.Code = ge.ErrorCode
		if apiErr.Code == "" {
			apiErr.Code = ge.Error
		}
		for _, m := range []string{ge.Msg, ge.Message, ge.ErrorDescription, ge.Error} {
			if m != "" {
				apiErr.Message = m
				break
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// mapStatus rewrites API errors with one of the given statuses into sentinel.
func mapStatus(err error, sentinel error, statuses ...int) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	for _, s := range statuses {
		if apiErr.Status == s {
			return fmt.Errorf("%w: %s", sentinel, apiErr.Message)
		}
	}
	return err
}

func (s gotrueSession) session() Session {
	out := Session{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken}
	switch {
	case s.ExpiresAt > 0:
		out.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	case s.ExpiresIn > 0:
		out.ExpiresAt = time.Now().Add(time.Duration(s.ExpiresIn) * time.Second).UTC()
	}
	if s.User != nil {
		out.Identity = s.User.identity()
	}
	return out
}

func (u gotrueUser) identity() Identity {
	id := Identity{ID: u.ID, Email: u.Email, Metadata: map[string]string{}}
	if u.Phone != "" {
		id.Phone = "+" + strings.TrimPrefix(u.Phone, "+")
	}
	if p, ok := u.AppMetadata["provider"].(string); ok {
		id.Provider = p
	}
	for k, v := range u.UserMetadata {
		if s, ok := v.(string); ok {
			id.Metadata[k] = s
		}
	}
	return id
}

var _ Backend = (*GoTrue)(nil)
