// Package transport talks to jurisdiction endpoints and classifies their
// failures into retryable transport errors and terminal business rejections.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rezonia/einvoicing/internal/logger"
	"github.com/rezonia/einvoicing/internal/model"
)

// maximum response size read from a channel
const maxBody = 4 << 20

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPConfig configures an HTTP client for one channel
type HTTPConfig struct {
	Channel    string
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient HTTPDoer
	Logger     *zerolog.Logger
}

// HTTPClient sends requests to a channel and maps failures to model errors
type HTTPClient struct {
	channel string
	baseURL string
	token   string
	client  HTTPDoer
	logger  zerolog.Logger
}

// NewHTTPClient creates a channel client
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := &HTTPClient{
		channel: cfg.Channel,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  cfg.HTTPClient,
		logger:  logger.WithComponent("transport").With().Str("channel", cfg.Channel).Logger(),
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger != nil {
		c.logger = *cfg.Logger
	}
	return c
}

// Channel returns the channel name used in errors
func (c *HTTPClient) Channel() string {
	return c.channel
}

// BaseURL returns the endpoint root
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Do sends body to path and returns the response body of a 2xx answer.
// Any other outcome is a *model.TransportError or *model.BusinessRejection.
func (c *HTTPClient) Do(ctx context.Context, method, path, contentType string, body []byte) ([]byte, error) {
	if c.baseURL == "" {
		return nil, model.NewTransportError(model.TransportMisconfigured, c.channel, "no base URL configured", nil)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, model.NewTransportError(model.TransportMisconfigured, c.channel, "failed to create request", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json, application/xml;q=0.9, text/xml;q=0.8")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.classifyError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, model.NewTransportError(model.TransportNetwork, c.channel, "failed to read response", err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("channel request")

	if err := Classify(c.channel, resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// DoJSON sends in as JSON and decodes a JSON answer into out
func (c *HTTPClient) DoJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return model.NewTransportError(model.TransportMisconfigured, c.channel, "failed to marshal request", err)
		}
	}

	respBody, err := c.Do(ctx, method, path, "application/json", body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return model.NewTransportError(model.TransportBadResponse, c.channel, "failed to parse response", err)
	}
	return nil
}

func (c *HTTPClient) classifyError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return model.NewTransportError(model.TransportTimeout, c.channel, "request timeout", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.NewTransportError(model.TransportTimeout, c.channel, "request timeout", err)
	}
	return model.NewTransportError(model.TransportNetwork, c.channel, "failed to execute request", err)
}

// Classify maps an HTTP status to nil (2xx), a transport error, or a business rejection
func Classify(channel string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	var te *model.TransportError
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		te = model.NewTransportError(model.TransportAuth, channel, fmt.Sprintf("authentication failed: %d", status), nil)
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		te = model.NewTransportError(model.TransportTimeout, channel, fmt.Sprintf("upstream timeout: %d", status), nil)
	case status == http.StatusTooManyRequests:
		te = model.NewTransportError(model.TransportRateLimited, channel, "rate limit exceeded", nil)
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity, status == http.StatusConflict:
		code, msg := rejectionDetails(body)
		if msg == "" {
			msg = fmt.Sprintf("request refused: %d", status)
		}
		return model.NewBusinessRejection(channel, code, msg)
	case status >= 500:
		te = model.NewTransportError(model.TransportUnavailable, channel, fmt.Sprintf("channel unavailable: %d", status), nil)
	default:
		te = model.NewTransportError(model.TransportBadResponse, channel, fmt.Sprintf("unexpected status: %d", status), nil)
	}
	te.StatusCode = status
	return te
}

// rejectionDetails pulls a code and message out of common JSON error bodies
func rejectionDetails(body []byte) (string, string) {
	var payload struct {
		Code        string `json:"code"`
		CodeRetour  string `json:"codeRetour"`
		Message     string `json:"message"`
		Libelle     string `json:"libelle"`
		Error       string `json:"error"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", strings.TrimSpace(truncate(string(body), 512))
	}
	code := first(payload.Code, payload.CodeRetour)
	msg := first(payload.Message, payload.Libelle, payload.Description, payload.Error)
	return code, msg
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
