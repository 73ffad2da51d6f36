package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Client is the HTTP implementation of Gateway. Requests carry a bearer API
// key and, where provided, an Idempotency-Key header so network retries
// cannot double-charge.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientHTTPClient overrides the underlying HTTP client.
func WithClientHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

// NewClient creates a Gateway client against the given processor base URL.
func NewClient(baseURL, apiKey string, logger zerolog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// do executes one processor call and decodes the response into out (when
// non-nil). Processor error codes map onto the package sentinels.
func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	var apiErr apiError
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	json.Unmarshal(data, &apiErr)

	c.logger.Warn().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Str("code", apiErr.Code).
		Msg("payment processor error")

	switch {
	case resp.StatusCode == http.StatusPaymentRequired || apiErr.Code == "card_declined":
		return fmt.Errorf("%w: %s", ErrDeclined, apiErr.Message)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("payment processor: status %d: %s", resp.StatusCode, apiErr.Message)
	}
}

func (c *Client) Authorize(ctx context.Context, req AuthorizeRequest) (*Authorization, error) {
	var auth Authorization
	if err := c.do(ctx, http.MethodPost, "/v1/authorizations", req.IdempotencyKey, req, &auth); err != nil {
		return nil, err
	}
	return &auth, nil
}

func (c *Client) Capture(ctx context.Context, paymentIntentID string) error {
	return c.do(ctx, http.MethodPost, "/v1/authorizations/"+paymentIntentID+"/capture", "capture-"+paymentIntentID, nil, nil)
}

func (c *Client) Refund(ctx context.Context, paymentIntentID string) error {
	return c.do(ctx, http.MethodPost, "/v1/authorizations/"+paymentIntentID+"/refund", "refund-"+paymentIntentID, nil, nil)
}

func (c *Client) Void(ctx context.Context, paymentIntentID string) error {
	return c.do(ctx, http.MethodPost, "/v1/authorizations/"+paymentIntentID+"/void", "void-"+paymentIntentID, nil, nil)
}

func (c *Client) Transfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	var tr Transfer
	if err := c.do(ctx, http.MethodPost, "/v1/transfers", req.IdempotencyKey, req, &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}
