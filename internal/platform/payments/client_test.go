package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "sk_test_123", zerolog.Nop())
}

func TestClient_Authorize(t *testing.T) {
	var gotAuth, gotIdem string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotIdem = r.Header.Get("Idempotency-Key")
		if r.URL.Path != "/v1/authorizations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req AuthorizeRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(Authorization{
			PaymentIntentID: "pi_1",
			AmountCents:     req.AmountCents,
			Status:          "authorized",
		})
	})

	auth, err := client.Authorize(context.Background(), AuthorizeRequest{
		AmountCents:    4500,
		Currency:       "usd",
		PatientID:      "pat-1",
		CaseID:         "case-1",
		IdempotencyKey: "auth-case-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if auth.PaymentIntentID != "pi_1" || auth.AmountCents != 4500 {
		t.Errorf("unexpected authorization: %+v", auth)
	}
	if gotAuth != "Bearer sk_test_123" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
	if gotIdem != "auth-case-1" {
		t.Errorf("unexpected idempotency key %q", gotIdem)
	}
}

func TestClient_Authorize_Declined(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]string{"code": "card_declined", "message": "insufficient funds"})
	})

	_, err := client.Authorize(context.Background(), AuthorizeRequest{AmountCents: 2500})
	if !errors.Is(err, ErrDeclined) {
		t.Errorf("expected ErrDeclined, got %v", err)
	}
}

func TestClient_Capture_Paths(t *testing.T) {
	var gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})

	if err := client.Capture(context.Background(), "pi_9"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/v1/authorizations/pi_9/capture" {
		t.Errorf("unexpected path %s", gotPath)
	}

	if err := client.Refund(context.Background(), "pi_9"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/v1/authorizations/pi_9/refund" {
		t.Errorf("unexpected path %s", gotPath)
	}

	if err := client.Void(context.Background(), "pi_9"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/v1/authorizations/pi_9/void" {
		t.Errorf("unexpected path %s", gotPath)
	}
}

func TestClient_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	err := client.Capture(context.Background(), "pi_missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestClient_ServerErrorIsUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	err := client.Refund(context.Background(), "pi_1")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestClient_Transfer(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transfers" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(Transfer{TransferID: "tr_1", AmountCents: 2000, Status: "paid"})
	})

	tr, err := client.Transfer(context.Background(), TransferRequest{
		AmountCents: 2000,
		Currency:    "usd",
		DoctorID:    "doc-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.TransferID != "tr_1" || tr.AmountCents != 2000 {
		t.Errorf("unexpected transfer: %+v", tr)
	}
}

// ===================== Retry =====================

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	var calls int32
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(_ context.Context) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return ErrUnavailable
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetry_DoesNotRetryPermanentErrors(t *testing.T) {
	var calls int32
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}, func(_ context.Context) error {
		atomic.AddInt32(&calls, 1)
		return ErrDeclined
	})
	if !errors.Is(err, ErrDeclined) {
		t.Errorf("expected ErrDeclined, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call for permanent error, got %d", calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	var calls int32
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(_ context.Context) error {
		atomic.AddInt32(&calls, 1)
		return ErrUnavailable
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetry_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Minute}, func(_ context.Context) error {
		return ErrUnavailable
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
