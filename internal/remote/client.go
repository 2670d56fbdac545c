// Package remote is the HTTP transport to the remote job queue.
//
// Every call goes through one serial.Serializer: the server rotates the
// request token on each response, and the next call must present the rotated
// token. Transient transport failures are retried inside the serialized slot.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mattjoyce/bridgeq/internal/log"
	"github.com/mattjoyce/bridgeq/internal/retry"
	"github.com/mattjoyce/bridgeq/internal/serial"
)

const (
	// APIPrefix is prepended to every procedure path.
	APIPrefix = "/StoredProcedure"

	// HeaderRequestToken carries the session token.
	HeaderRequestToken = "Rediacc-RequestToken"

	DefaultTimeout = 30 * time.Second

	maxResponseBytes = 8 << 20
)

//go:generate mockgen -destination=mocks/mock_tokens.go -package=mocks github.com/mattjoyce/bridgeq/internal/remote TokenStore

// TokenStore persists the rotating request token.
type TokenStore interface {
	Token(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string) error
}

// Observer receives one callback per finished call.
type Observer func(procedure string, code Code, elapsed time.Duration)

// Config configures a Client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	Retry      retry.Config
	HTTPClient *http.Client
	OnRetry    retry.Notify
	OnCall     Observer
}

// Client calls stored procedures on the remote API.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenStore
	queue   *serial.Serializer
	retry   retry.Config
	onRetry retry.Notify
	onCall  Observer
	logger  *slog.Logger
}

// New creates a Client. A zero cfg.Retry selects retry.DefaultConfig.
func New(cfg Config, tokens TokenStore) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	rc := cfg.Retry
	if rc.BaseDelay == 0 && rc.MaxDelay == 0 && rc.MaxRetries == 0 {
		rc = retry.DefaultConfig()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/") + APIPrefix,
		http:    hc,
		tokens:  tokens,
		queue:   serial.New(),
		retry:   rc,
		onRetry: cfg.OnRetry,
		onCall:  cfg.OnCall,
		logger:  log.WithComponent("remote"),
	}
}

// APIURL returns the base URL the client posts to, without the prefix.
func (c *Client) APIURL() string {
	return strings.TrimSuffix(c.baseURL, APIPrefix)
}

// Pending reports how many calls are queued or running.
func (c *Client) Pending() int {
	return c.queue.Len()
}

// Call posts params to the named procedure and returns the decoded response.
// Calls are executed strictly in the order they were made.
func (c *Client) Call(ctx context.Context, procedure string, params any) (*Response, error) {
	return serial.Run(ctx, c.queue, func(ctx context.Context) (*Response, error) {
		start := time.Now()
		resp, err := c.call(ctx, procedure, params)
		if c.onCall != nil {
			code := Code("")
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				code = apiErr.Code
			} else if err != nil {
				code = CodeGeneral
			}
			c.onCall(procedure, code, time.Since(start))
		}
		return resp, err
	})
}

func (c *Client) call(ctx context.Context, procedure string, params any) (*Response, error) {
	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to encode params: %w", procedure, err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to load request token: %w", procedure, err)
	}

	url := c.baseURL + "/" + strings.TrimPrefix(procedure, "/")
	var raw []byte
	err = retry.DoNotify(ctx, c.retry, func(ctx context.Context) error {
		raw, err = c.post(ctx, url, token, body)
		return err
	}, c.notifyRetry(procedure))
	if err != nil {
		return nil, c.transportError(procedure, err)
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &APIError{Code: CodeGeneral, Procedure: procedure, Message: "malformed response body", Err: err}
	}

	// The server already rotated the token when it sent one, even if the
	// call itself failed.
	if next := resp.NextToken(); next != "" {
		if err := c.tokens.SetToken(ctx, next); err != nil {
			c.logger.Error("failed to persist rotated token", "procedure", procedure, "error", err)
		}
	}

	if resp.Failure != 0 {
		return nil, &APIError{
			Code:      codeForStatus(resp.Failure),
			Status:    resp.Failure,
			Procedure: procedure,
			Message:   resp.primaryMessage(),
			Details:   resp.Errors,
		}
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, url, token string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set(HeaderRequestToken, token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", retry.ErrNoResponse, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", retry.ErrNoResponse, err)
	}
	if resp.StatusCode >= 400 {
		return nil, &statusError{status: resp.StatusCode, body: raw}
	}
	return raw, nil
}

func (c *Client) notifyRetry(procedure string) retry.Notify {
	return func(attempt int, delay time.Duration, err error) {
		c.logger.Warn("retrying call", "procedure", procedure, "attempt", attempt+1, "delay", delay, "error", err)
		if c.onRetry != nil {
			c.onRetry(attempt, delay, err)
		}
	}
}

// transportError maps an error that escaped the retry loop.
func (c *Client) transportError(procedure string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var se *statusError
	if errors.As(err, &se) {
		var body Response
		if json.Unmarshal(se.body, &body) == nil && body.Failure != 0 {
			return &APIError{
				Code:      codeForStatus(body.Failure),
				Status:    body.Failure,
				Procedure: procedure,
				Message:   body.primaryMessage(),
				Details:   body.Errors,
				Err:       err,
			}
		}
		msg := "Request failed"
		switch code := codeForStatus(se.status); code {
		case CodeUnauthorized:
			msg = "Authentication required"
		case CodeForbidden:
			msg = "Permission denied"
		case CodeNotFound:
			msg = "Resource not found"
		case CodeServer:
			msg = "Server error. Please try again later."
		}
		return &APIError{Code: codeForStatus(se.status), Status: se.status, Procedure: procedure, Message: msg, Err: err}
	}

	if errors.Is(err, retry.ErrNoResponse) {
		return &APIError{Code: CodeNetwork, Procedure: procedure, Message: "Network error: " + err.Error(), Err: err}
	}
	return &APIError{Code: CodeGeneral, Procedure: procedure, Message: err.Error(), Err: err}
}
