package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrEndpointNotFound is returned for operations on unknown endpoint IDs.
var ErrEndpointNotFound = errors.New("webhook endpoint not found")

// WebhookEndpoint is a registered HTTP destination for lifecycle events.
type WebhookEndpoint struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret,omitempty"`
	Events    []string  `json:"events"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// DeliveryRecord captures the outcome of one webhook POST.
type DeliveryRecord struct {
	ID         string    `json:"id"`
	EndpointID string    `json:"endpointId"`
	EventID    string    `json:"eventId"`
	EventType  string    `json:"eventType"`
	StatusCode int       `json:"statusCode"`
	Attempt    int       `json:"attempt"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SignPayload computes a hex-encoded HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches the HMAC-SHA256 of
// payload under secret. Comparison is constant-time.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func validateWebhookURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

// eventMatches supports exact types ("case.completed") and wildcard
// patterns ("case.*", "*").
func eventMatches(pattern, eventType string) bool {
	if pattern == eventType || pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		return strings.HasPrefix(eventType, pattern[:len(pattern)-1])
	}
	return false
}

// WebhookDispatcher delivers lifecycle events to registered endpoints with
// HMAC signing and bounded retries. It implements Subscriber so it can be
// attached directly to the Bus.
type WebhookDispatcher struct {
	mu          sync.RWMutex
	endpoints   map[string]*WebhookEndpoint
	deliveries  []DeliveryRecord
	httpClient  *http.Client
	maxAttempts int
	retryDelay  time.Duration
	logger      zerolog.Logger
}

// DispatcherOption configures a WebhookDispatcher.
type DispatcherOption func(*WebhookDispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) DispatcherOption {
	return func(d *WebhookDispatcher) { d.httpClient = c }
}

// WithMaxAttempts sets the total delivery attempts per endpoint per event.
func WithMaxAttempts(n int) DispatcherOption {
	return func(d *WebhookDispatcher) { d.maxAttempts = n }
}

// WithRetryDelay sets the base delay between delivery attempts.
func WithRetryDelay(delay time.Duration) DispatcherOption {
	return func(d *WebhookDispatcher) { d.retryDelay = delay }
}

// NewWebhookDispatcher creates a dispatcher with a 10s HTTP timeout and
// three attempts per delivery.
func NewWebhookDispatcher(logger zerolog.Logger, opts ...DispatcherOption) *WebhookDispatcher {
	d := &WebhookDispatcher{
		endpoints:   make(map[string]*WebhookEndpoint),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		maxAttempts: 3,
		retryDelay:  time.Second,
		logger:      logger,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Register validates and stores a new endpoint. An empty secret gets a
// cryptographically random one.
func (d *WebhookDispatcher) Register(rawURL, secret string, eventPatterns []string) (*WebhookEndpoint, error) {
	if err := validateWebhookURL(rawURL); err != nil {
		return nil, err
	}
	if secret == "" {
		s, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
		secret = s
	}
	if len(eventPatterns) == 0 {
		eventPatterns = []string{"*"}
	}

	ep := &WebhookEndpoint{
		ID:        uuid.NewString(),
		URL:       rawURL,
		Secret:    secret,
		Events:    eventPatterns,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}

	d.mu.Lock()
	d.endpoints[ep.ID] = ep
	d.mu.Unlock()
	return ep, nil
}

// Deactivate marks an endpoint inactive so it no longer receives events.
func (d *WebhookDispatcher) Deactivate(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ep, ok := d.endpoints[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEndpointNotFound, id)
	}
	ep.Active = false
	return nil
}

// Remove deletes an endpoint.
func (d *WebhookDispatcher) Remove(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.endpoints[id]; !ok {
		return fmt.Errorf("%w: %s", ErrEndpointNotFound, id)
	}
	delete(d.endpoints, id)
	return nil
}

// Endpoints returns a snapshot of all registered endpoints.
func (d *WebhookDispatcher) Endpoints() []*WebhookEndpoint {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*WebhookEndpoint, 0, len(d.endpoints))
	for _, ep := range d.endpoints {
		out = append(out, ep)
	}
	return out
}

// Deliveries returns the most recent delivery records, newest last.
func (d *WebhookDispatcher) Deliveries(limit int) []DeliveryRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if limit <= 0 || limit > len(d.deliveries) {
		limit = len(d.deliveries)
	}
	out := make([]DeliveryRecord, limit)
	copy(out, d.deliveries[len(d.deliveries)-limit:])
	return out
}

// Publish implements Subscriber. Each matching active endpoint gets the
// event POSTed with retry.
func (d *WebhookDispatcher) Publish(ctx context.Context, event Event) error {
	d.mu.RLock()
	var targets []*WebhookEndpoint
	for _, ep := range d.endpoints {
		if !ep.Active {
			continue
		}
		for _, pat := range ep.Events {
			if eventMatches(pat, event.Type) {
				targets = append(targets, ep)
				break
			}
		}
	}
	d.mu.RUnlock()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	for _, ep := range targets {
		d.deliverWithRetry(ctx, ep, event, payload)
	}
	return nil
}

func (d *WebhookDispatcher) deliverWithRetry(ctx context.Context, ep *WebhookEndpoint, event Event, payload []byte) {
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		rec := d.deliverOnce(ctx, ep, event, payload, attempt)

		d.mu.Lock()
		d.deliveries = append(d.deliveries, rec)
		d.mu.Unlock()

		if rec.Success {
			return
		}

		d.logger.Warn().
			Str("endpoint_id", ep.ID).
			Str("event_type", event.Type).
			Int("attempt", attempt).
			Str("error", rec.Error).
			Msg("webhook delivery failed")

		if attempt < d.maxAttempts {
			select {
			case <-time.After(d.retryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (d *WebhookDispatcher) deliverOnce(ctx context.Context, ep *WebhookEndpoint, event Event, payload []byte, attempt int) DeliveryRecord {
	rec := DeliveryRecord{
		ID:         uuid.NewString(),
		EndpointID: ep.ID,
		EventID:    event.ID,
		EventType:  event.Type,
		Attempt:    attempt,
		CreatedAt:  time.Now().UTC(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		rec.Error = err.Error()
		return rec
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+SignPayload(payload, ep.Secret))
	req.Header.Set("X-Webhook-ID", ep.ID)
	req.Header.Set("X-Webhook-Timestamp", rec.CreatedAt.Format(time.RFC3339))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		rec.Error = err.Error()
		return rec
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	rec.StatusCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		rec.Success = true
	} else {
		rec.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
	}
	return rec
}
