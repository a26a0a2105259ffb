package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/lalith-99/echoclient/internal/apperr"
	"github.com/lalith-99/echoclient/internal/observ"
	"go.uber.org/zap"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultTLSTimeout     = 5 * time.Second

	// maxErrorBody caps how much of an error response is read for detail text.
	maxErrorBody = 64 << 10
)

// Client talks to the chat backend's REST API. It holds no credential:
// every authenticated method takes the token explicitly.
//
// Client satisfies repository.AuthAPI, repository.DirectoryAPI and
// repository.MessageAPI.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    defaultHTTPClient(timeout),
		logger:  observ.Component(logger, "client"),
	}
}

// NewWithHTTPClient is for tests that need httptest's client.
func NewWithHTTPClient(baseURL string, hc *http.Client, logger *zap.Logger) *Client {
	c := New(baseURL, 0, logger)
	c.http = hc
	return c
}

func defaultHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultTLSTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// request describes one call. body is already encoded; contentType goes
// with it.
type request struct {
	method      string
	path        string
	token       string
	body        []byte
	contentType string
}

func jsonRequest(method, path, token string, payload any) (request, error) {
	r := request{method: method, path: path, token: token}
	if payload == nil {
		return r, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return r, fmt.Errorf("encode %s body: %w", path, err)
	}
	r.body = data
	r.contentType = "application/json"
	return r, nil
}

// do performs r and decodes a 2xx body into result (if result is non-nil).
// Non-2xx responses become *apperr.APIError.
func do[R any](ctx context.Context, c *Client, r request, result *R) error {
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", r.method, r.path, err)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("Accept", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %v", r.method, r.path, apperr.ErrGeneric, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeError(resp)
		c.logger.Debug("request failed",
			zap.String("method", r.method),
			zap.String("path", r.path),
			zap.Int("status", resp.StatusCode),
			zap.String("detail", apiErr.Detail),
		)
		return apiErr
	}

	if result == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode %s %s: %w: %v", r.method, r.path, apperr.ErrMalformed, err)
	}
	return nil
}

// decodeError reads the error body. FastAPI-style backends send
// {"detail": "..."}, echostream sends {"error": "..."}; detail may also be a
// validation list, in which case the raw JSON is kept.
func decodeError(resp *http.Response) *apperr.APIError {
	apiErr := &apperr.APIError{
		Status: resp.StatusCode,
		Kind:   apperr.KindForStatus(resp.StatusCode),
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return apiErr
	}

	var body struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		apiErr.Detail = strings.TrimSpace(string(raw))
		return apiErr
	}

	switch {
	case len(body.Detail) > 0:
		var s string
		if err := json.Unmarshal(body.Detail, &s); err == nil {
			apiErr.Detail = s
		} else {
			apiErr.Detail = string(body.Detail)
		}
	case body.Error != "":
		apiErr.Detail = body.Error
	}
	return apiErr
}
