package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"agrisync/internal/config"
	"agrisync/internal/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// TokenProvider supplies the current auth token, or "" when signed out.
type TokenProvider interface {
	Token() string
}

// Client is the single chokepoint for calls to the portal backend. Every
// call gets the configured timeout, the deployment's fixed credential
// header, and failure classification into HTTPError vs NetworkError.
type Client struct {
	baseURL    string
	authHeader string
	timeout    time.Duration
	httpClient *http.Client
	tokens     TokenProvider
	logger     *zerolog.Logger

	redis    *redis.Client
	cacheTTL time.Duration
}

// NewClient constructs a gateway from backend config. tokens may be nil for
// unauthenticated deployments.
func NewClient(cfg config.BackendConfig, tokens TokenProvider, logger *zerolog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		authHeader: cfg.AuthHeader,
		timeout:    timeout,
		httpClient: &http.Client{},
		tokens:     tokens,
		logger:     logger,
		cacheTTL:   cfg.CacheTTL,
	}
}

// UseRedisCache configures optional Redis caching for GET endpoints.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// filePart is one file attachment in a multipart body.
type filePart struct {
	field    string
	filename string
	reader   io.Reader
}

// call issues one request. Exactly one of jsonBody/form is set. The response
// is decoded into out when the backend answers JSON; a 2xx non-JSON body is
// assigned when out is *string, otherwise discarded.
func (c *Client) call(ctx context.Context, endpoint, method, path string, jsonBody any, form map[string]string, files []filePart, extra http.Header, out any) error {
	start := time.Now()
	err := c.doCall(ctx, method, path, jsonBody, form, files, extra, out)
	c.observe(endpoint, start, err)
	return err
}

func (c *Client) doCall(ctx context.Context, method, path string, jsonBody any, form map[string]string, files []filePart, extra http.Header, out any) error {
	var body io.Reader
	contentType := ""

	switch {
	case jsonBody != nil:
		data, err := json.Marshal(jsonBody)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	case form != nil || len(files) > 0:
		buf := &bytes.Buffer{}
		mw := multipart.NewWriter(buf)
		for k, v := range form {
			if err := mw.WriteField(k, v); err != nil {
				return fmt.Errorf("encode form field %s: %w", k, err)
			}
		}
		for _, f := range files {
			part, err := mw.CreateFormFile(f.field, f.filename)
			if err != nil {
				return fmt.Errorf("create form file %s: %w", f.field, err)
			}
			if _, err := io.Copy(part, f.reader); err != nil {
				return fmt.Errorf("copy form file %s: %w", f.field, err)
			}
		}
		if err := mw.Close(); err != nil {
			return fmt.Errorf("finish multipart body: %w", err)
		}
		body = buf
		contentType = mw.FormDataContentType()
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set(c.authHeader, "Bearer "+token)
		}
	}
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.classifyTransport(ctx, err)
	}

	isJSON := strings.Contains(resp.Header.Get("Content-Type"), "application/json")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newHTTPError(resp.StatusCode, data, isJSON)
	}

	if out == nil {
		return nil
	}
	if !isJSON {
		// 2xx with a non-JSON body: raw text is the success value.
		if s, ok := out.(*string); ok {
			*s = string(data)
			return nil
		}
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// classifyTransport separates caller cancellation from connectivity
// failures. Exceeding the per-call deadline counts as a timeout, which is
// still retryable; the caller pulling the plug is not.
func (c *Client) classifyTransport(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}

	timeout := errors.Is(err, context.DeadlineExceeded)
	var netErr net.Error
	if !timeout && errors.As(err, &netErr) && netErr.Timeout() {
		timeout = true
	}
	return &NetworkError{Timeout: timeout, Err: err}
}

// newHTTPError prefers the server-supplied error field, falling back to the
// transport status text.
func newHTTPError(status int, body []byte, isJSON bool) *HTTPError {
	message := http.StatusText(status)
	details := json.RawMessage(nil)

	if isJSON {
		details = json.RawMessage(body)
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(body, &payload); err == nil {
			switch {
			case payload.Error != "":
				message = payload.Error
			case payload.Message != "":
				message = payload.Message
			}
		}
	} else if s := strings.TrimSpace(string(body)); s != "" {
		message = s
	}

	return &HTTPError{Status: status, Message: message, Details: details}
}

func (c *Client) observe(endpoint string, start time.Time, err error) {
	result := "ok"
	switch {
	case err == nil:
	case IsRetryable(err):
		result = "network_error"
	case errors.Is(err, context.Canceled):
		result = "cancelled"
	default:
		var he *HTTPError
		if errors.As(err, &he) {
			result = fmt.Sprintf("http_%d", he.Status)
		} else {
			result = "error"
		}
	}
	metrics.RecordGatewayRequest(endpoint, result, time.Since(start).Seconds())

	if err != nil {
		c.logger.Debug().Err(err).Str("endpoint", endpoint).Msg("Gateway call failed")
	}
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}
