// Package client talks to the backend auth service over REST.
package client

import (
	"chat-session/auth"
	"chat-session/contract"
	"chat-session/domain"
	"chat-session/errors"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
)

const (
	pathRegister = "/auth/register"
	pathLogin    = "/auth/login"
	pathRefresh  = "/auth/refresh"
	pathMe       = "/auth/me"
	pathLogout   = "/auth/logout"
)

// Config holds configuration for creating an AuthClient.
type Config struct {
	// BaseURL is the backend root, e.g. "http://localhost:3000".
	BaseURL string
	// HTTPClient is used for all requests. It must carry a cookie jar: the
	// refresh credential travels as an httpOnly cookie. If nil, resty's
	// client is used with a fresh jar.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// AuthClient calls the /auth endpoints. Authorized calls carry the access
// credential from the token store and retry once through the refresher on 401.
type AuthClient struct {
	rest      *resty.Client
	store     contract.TokenStore
	refresher contract.Refresher
	log       *slog.Logger
}

func NewAuthClient(config Config, store contract.TokenStore) (*AuthClient, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("client: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("client: invalid BaseURL %q: %w", config.BaseURL, err)
	}

	log := config.Logger
	if log == nil {
		log = slog.Default()
	}

	var rest *resty.Client
	if config.HTTPClient != nil {
		rest = resty.NewWithClient(config.HTTPClient)
	} else {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("client: cookie jar: %w", err)
		}
		rest = resty.New().SetCookieJar(jar)
	}
	rest.SetBaseURL(strings.TrimSuffix(config.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetLogger(restyLogger{log: log})

	return &AuthClient{
		rest:  rest,
		store: store,
		log:   log,
	}, nil
}

// UseRefresher enables the transparent 401 refresh-and-retry.
func (c *AuthClient) UseRefresher(refresher contract.Refresher) {
	c.refresher = refresher
}

func (c *AuthClient) Register(ctx context.Context, req domain.RegisterRequest) (domain.AuthResponse, error) {
	var resp domain.AuthResponse
	if err := c.do(ctx, http.MethodPost, pathRegister, "", req, &resp); err != nil {
		return domain.AuthResponse{}, fmt.Errorf("register: %w", err)
	}
	return resp, nil
}

func (c *AuthClient) Login(ctx context.Context, req domain.LoginRequest) (domain.AuthResponse, error) {
	var resp domain.AuthResponse
	if err := c.do(ctx, http.MethodPost, pathLogin, "", req, &resp); err != nil {
		return domain.AuthResponse{}, fmt.Errorf("login: %w", err)
	}
	return resp, nil
}

// Refresh exchanges the refresh cookie for a new access credential.
// It is the raw call: coalescing lives in auth.Refresher.
func (c *AuthClient) Refresh(ctx context.Context) (domain.Credential, error) {
	var resp struct {
		AccessToken string `json:"accessToken"`
	}
	if err := c.do(ctx, http.MethodPost, pathRefresh, "", nil, &resp); err != nil {
		return domain.Credential{}, fmt.Errorf("refresh: %w", err)
	}
	if resp.AccessToken == "" {
		return domain.Credential{}, fmt.Errorf("refresh: %w: empty access token", errors.ErrInvalidCredentials)
	}
	return auth.NewCredential(resp.AccessToken), nil
}

func (c *AuthClient) Me(ctx context.Context) (domain.User, error) {
	var user domain.User
	if err := c.doAuthorized(ctx, http.MethodGet, pathMe, nil, &user); err != nil {
		return domain.User{}, fmt.Errorf("me: %w", err)
	}
	return user, nil
}

// Logout invalidates the refresh credential server-side. It sends the
// bearer header when a credential is present and never refreshes.
func (c *AuthClient) Logout(ctx context.Context) error {
	token := ""
	if credential, ok := c.store.Get(); ok {
		token = credential.AccessToken
	}
	if err := c.do(ctx, http.MethodPost, pathLogout, token, nil, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// doAuthorized performs an authenticated call with exactly one
// refresh-and-retry when the server answers 401.
func (c *AuthClient) doAuthorized(ctx context.Context, method, path string, body, out any) error {
	credential, ok := c.store.Get()
	if !ok {
		return errors.ErrNotAuthenticated
	}

	err := c.do(ctx, method, path, credential.AccessToken, body, out)
	if !isUnauthorized(err) || c.refresher == nil {
		return err
	}

	c.log.Debug("Access credential rejected, refreshing", "path", path)
	credential, err = c.refresher.Refresh(ctx)
	if err != nil {
		return err
	}
	return c.do(ctx, method, path, credential.AccessToken, body, out)
}

func (c *AuthClient) do(ctx context.Context, method, path, accessToken string, body, out any) error {
	apiErr := &errors.APIError{}
	request := c.rest.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetError(apiErr)
	if body != nil {
		request.SetBody(body)
	}
	if out != nil {
		request.SetResult(out)
	}

	response, err := request.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrNetworkUnavailable, err)
	}
	if response.IsError() || response.StatusCode() < http.StatusOK || response.StatusCode() >= http.StatusMultipleChoices {
		return mapAPIError(response.StatusCode(), apiErr)
	}
	return nil
}

// mapAPIError completes the decoded error body and wraps it in the
// matching sentinel.
func mapAPIError(status int, apiErr *errors.APIError) error {
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	apiErr.StatusCode = status

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %w", errors.ErrInvalidCredentials, apiErr)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", errors.ErrRateLimited, apiErr)
	case status >= 400 && status < 500:
		return fmt.Errorf("%w: %w", errors.ErrInvalidRequest, apiErr)
	default:
		return fmt.Errorf("%w: %w", errors.ErrUnknownServerError, apiErr)
	}
}

func isUnauthorized(err error) bool {
	var apiErr *errors.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// restyLogger routes resty's own diagnostics to the session logger.
type restyLogger struct {
	log *slog.Logger
}

func (l restyLogger) Errorf(format string, v ...any) {
	l.log.Error(fmt.Sprintf(format, v...))
}

func (l restyLogger) Warnf(format string, v ...any) {
	l.log.Warn(fmt.Sprintf(format, v...))
}

func (l restyLogger) Debugf(format string, v ...any) {
	l.log.Debug(fmt.Sprintf(format, v...))
}
