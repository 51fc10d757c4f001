// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package platform talks to the external meeting platform's REST API.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/Solodarko/attendance-session-service/internal/domain"
	"github.com/Solodarko/attendance-session-service/internal/logging"
)

const (
	// BaseURL is the base URL for the Zoom REST API.
	BaseURL = "https://api.zoom.us/v2"
	// AuthURL is the OAuth token endpoint.
	AuthURL = "https://zoom.us/oauth/token"
	// DefaultClientTimeout bounds each API request.
	DefaultClientTimeout = 30 * time.Second

	defaultMaxRetries     = 3
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 30 * time.Second
)

// Config holds the credentials and tunables for the Zoom controller.
type Config struct {
	AccountID    string
	ClientID     string
	ClientSecret string
	// Optional overrides, used in tests.
	BaseURL        string
	AuthURL        string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
}

// ZoomController ends meetings through Zoom's server-to-server OAuth API.
type ZoomController struct {
	config      Config
	oauthConfig *clientcredentials.Config
	// authDisabled skips the OAuth transport, used when tests point the
	// controller at a local server.
	authDisabled bool
}

// NewZoomController creates a controller with Zoom server-to-server OAuth
// credentials.
func NewZoomController(config Config) *ZoomController {
	if config.BaseURL == "" {
		config.BaseURL = BaseURL
	}
	if config.AuthURL == "" {
		config.AuthURL = AuthURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultClientTimeout
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = defaultMaxRetries
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = defaultInitialBackoff
	}

	// Zoom server-to-server OAuth wants account_credentials grants with the
	// account id as a form parameter.
	oauthConfig := &clientcredentials.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		TokenURL:     config.AuthURL,
		EndpointParams: url.Values{
			"grant_type": []string{"account_credentials"},
			"account_id": []string{config.AccountID},
		},
		AuthStyle: oauth2.AuthStyleInParams,
	}

	return &ZoomController{
		config:      config,
		oauthConfig: oauthConfig,
	}
}

// ServiceReady checks if the controller has credentials to work with.
func (c *ZoomController) ServiceReady() bool {
	return c.authDisabled || (c.config.AccountID != "" && c.config.ClientID != "" && c.config.ClientSecret != "")
}

// EndMeeting implements domain.PlatformController. It asks Zoom to end the
// live meeting so trailing participant events stop.
func (c *ZoomController) EndMeeting(ctx context.Context, platformMeetingID string) error {
	if platformMeetingID == "" {
		return domain.NewValidationError("platform meeting ID is required")
	}

	path := fmt.Sprintf("/meetings/%s/status", platformMeetingID)
	body := map[string]string{"action": "end"}

	resp, err := c.doRequest(ctx, http.MethodPut, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK:
		slog.InfoContext(ctx, "ended meeting at platform", "platform_meeting_id", platformMeetingID)
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return domain.NewNotFoundError("meeting not found at platform")
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.NewUnauthorizedError("platform rejected the credentials")
	default:
		return domain.NewInternalError(fmt.Sprintf("unexpected platform response: %d %s", resp.StatusCode, readErrorBody(resp)))
	}
}

// httpClient returns a client whose transport injects OAuth tokens.
func (c *ZoomController) httpClient(ctx context.Context) *http.Client {
	if c.authDisabled {
		return &http.Client{Timeout: c.config.Timeout}
	}
	return &http.Client{
		Timeout: c.config.Timeout,
		Transport: &oauth2.Transport{
			Base:   http.DefaultTransport,
			Source: c.oauthConfig.TokenSource(ctx),
		},
	}
}

// doRequest performs an authenticated request, retrying transient failures
// with exponential backoff and jitter.
func (c *ZoomController) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, domain.NewInternalError("failed to marshal platform request", err)
	}

	requestURL := c.config.BaseURL + path
	client := c.httpClient(ctx)

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, domain.NewUnavailableError("platform request cancelled", ctx.Err())
			case <-time.After(backoffWithJitter(c.config.InitialBackoff, attempt)):
			}
			slog.DebugContext(ctx, "retrying platform request", "method", method, "path", path, "attempt", attempt)
		}

		req, err := http.NewRequestWithContext(ctx, method, requestURL, bytes.NewReader(jsonBody))
		if err != nil {
			return nil, domain.NewInternalError("failed to create platform request", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if !shouldRetry(resp.StatusCode) {
			return resp, nil
		}

		lastErr = fmt.Errorf("platform responded %d: %s", resp.StatusCode, readErrorBody(resp))
		_ = resp.Body.Close()
	}

	slog.ErrorContext(ctx, "platform request failed after retries",
		"method", method, "path", path, logging.ErrKey, lastErr)
	return nil, domain.NewUnavailableError("platform request failed", lastErr)
}

// shouldRetry reports whether the status code is worth another attempt.
// Server errors and rate limits are transient, client errors are not.
func shouldRetry(statusCode int) bool {
	return statusCode >= 500 || statusCode == http.StatusTooManyRequests
}

// backoffWithJitter spreads retries so concurrent terminations do not hammer
// the platform in lockstep.
func backoffWithJitter(initial time.Duration, attempt int) time.Duration {
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	if backoff > float64(defaultMaxBackoff) {
		backoff = float64(defaultMaxBackoff)
	}
	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	return time.Duration(backoff + jitter)
}

func readErrorBody(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 512))
	if err != nil {
		return ""
	}
	return string(data)
}

var _ domain.PlatformController = (*ZoomController)(nil)
