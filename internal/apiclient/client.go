// Package apiclient talks to the translation backend over HTTP.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ncecere/voice_translator/internal/models"
)

// IdempotencyHeader carries the logical request id on translate calls.
const IdempotencyHeader = "Idempotency-Key"

// ErrMalformedBody is returned when a response body cannot be decoded.
var ErrMalformedBody = errors.New("apiclient: malformed response body")

// StatusError reports a non-2xx answer from an endpoint whose body is not
// interpreted by the caller.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("status %d", e.Status)
}

// Client issues requests against one backend base URL. Deadlines come from the
// caller's context.
type Client struct {
	baseURL   string
	http      *http.Client
	authToken string
	logger    *slog.Logger
}

type Options struct {
	BaseURL    string
	AuthToken  string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("apiclient: base url required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("apiclient: parse base url: %w", err)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{baseURL: base, http: hc, authToken: opts.AuthToken, logger: logger}, nil
}

// HealthCheck succeeds only on a 200 from GET /health.
func (c *Client) HealthCheck(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return err
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Status: resp.StatusCode}
	}
	return nil
}

// Translate posts one translation attempt. Application semantics are left to
// the caller: the decoded body (when any) and the status are returned as-is,
// and transport failures come back unwrapped with status 0.
func (c *Client) Translate(ctx context.Context, req models.TranslateRequest) (*models.TranslateResponse, int, error) {
	headers := map[string]string{}
	if req.RequestID != "" {
		headers[IdempotencyHeader] = req.RequestID
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/translate", req, headers)
	if err != nil {
		return nil, 0, err
	}
	defer drain(resp)

	var out models.TranslateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if resp.StatusCode == http.StatusOK {
			return nil, resp.StatusCode, fmt.Errorf("%w: %v", ErrMalformedBody, err)
		}
		return nil, resp.StatusCode, nil
	}
	return &out, resp.StatusCode, nil
}

// Credits reads the canonical balance for userID.
func (c *Client) Credits(ctx context.Context, userID string) (*models.UserCredits, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/credits/"+url.PathEscape(userID), nil, nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	var out models.UserCredits
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	return &out, nil
}

// AddCredits reports a verified entitlement to the backend.
func (c *Client) AddCredits(ctx context.Context, req models.AddCreditsRequest) (*models.AddCreditsResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/add-credits", req, nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	var out models.AddCreditsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	if !out.Success {
		return &out, &StatusError{Status: resp.StatusCode, Message: out.Error}
	}
	return &out, nil
}

// Languages lists the languages the backend accepts.
func (c *Client) Languages(ctx context.Context) ([]models.Language, error) {
	resp, err := c.do(ctx, http.MethodGet, "/languages", nil, nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	var out models.LanguagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	return out.Languages, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("backend request failed", slog.String("path", path), slog.String("error", err.Error()))
		return nil, err
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = body.Detail
	}
	return &StatusError{Status: resp.StatusCode, Message: msg}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
