package aggregator

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kursadbilgin/rcs-campaign-engine/internal/domain"
)

func newTestGupshup(t *testing.T, baseURL string) *Gupshup {
	t.Helper()

	g, err := NewGupshup(Config{
		APIKey:        "test-key",
		AppName:       "test-app",
		WebhookSecret: "test-secret",
		BaseURL:       baseURL,
		Timeout:       5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewGupshup() error = %v", err)
	}
	return g
}

func TestGupshupSendRCSSuccess(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("apikey"); got != "test-key" {
			t.Errorf("apikey header = %q, want %q", got, "test-key")
		}

		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"submitted","messageId":"gs-1"}`))
	}))
	defer server.Close()

	g := newTestGupshup(t, server.URL)

	resp, err := g.SendRCS(context.Background(), SendRequest{
		MessageID:      "m1",
		RecipientPhone: "+919876543210",
		Text:           "hello",
		RichCard: &domain.RichCard{
			Title:    "Sale",
			MediaURL: "https://cdn.example.com/sale.jpg",
		},
	})
	if err != nil {
		t.Fatalf("SendRCS() unexpected error: %v", err)
	}

	if !resp.Success {
		t.Fatal("SendRCS() success = false, want true")
	}
	if resp.ExternalID != "gs-1" {
		t.Fatalf("ExternalID = %q, want %q", resp.ExternalID, "gs-1")
	}

	if gotBody["channel"] != "rcs" {
		t.Fatalf("request.channel = %v, want rcs", gotBody["channel"])
	}
	if gotBody["destination"] != "+919876543210" {
		t.Fatalf("request.destination = %v, want +919876543210", gotBody["destination"])
	}
	msg, _ := gotBody["message"].(map[string]any)
	if msg["type"] != "card" {
		t.Fatalf("request.message.type = %v, want card", msg["type"])
	}
}

func TestGupshupSendSMSVendorRejection(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"rejected","errorCode":"1002","message":"invalid destination"}`))
	}))
	defer server.Close()

	g := newTestGupshup(t, server.URL)

	resp, err := g.SendSMS(context.Background(), SendRequest{
		RecipientPhone: "+919876543210",
		Text:           "hello",
	})
	if err != nil {
		t.Fatalf("SendSMS() unexpected error: %v", err)
	}

	if resp.Success {
		t.Fatal("SendSMS() success = true, want false")
	}
	if resp.ErrorCode != "1002" {
		t.Fatalf("ErrorCode = %q, want %q", resp.ErrorCode, "1002")
	}
}

func TestGupshupRateLimit(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	g := newTestGupshup(t, server.URL)

	_, err := g.SendRCS(context.Background(), SendRequest{
		RecipientPhone: "+919876543210",
		Text:           "hello",
	})
	if err == nil {
		t.Fatal("expected rate limit error")
	}

	if !IsRateLimited(err) {
		t.Fatalf("IsRateLimited() = false, want true (err=%v)", err)
	}
	if !IsTransient(err) {
		t.Fatalf("IsTransient() = false, want true")
	}
	if got := RetryAfter(err); got != 30*time.Second {
		t.Fatalf("RetryAfter() = %v, want 30s", got)
	}
}

func TestGupshupErrorClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		wantTransient bool
	}{
		{name: "bad request is permanent", statusCode: http.StatusBadRequest, wantTransient: false},
		{name: "internal server error is transient", statusCode: http.StatusInternalServerError, wantTransient: true},
		{name: "bad gateway is transient", statusCode: http.StatusBadGateway, wantTransient: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte(`{"message":"vendor failed"}`))
			}))
			defer server.Close()

			g := newTestGupshup(t, server.URL)

			_, err := g.SendSMS(context.Background(), SendRequest{
				RecipientPhone: "+919876543210",
				Text:           "hello",
			})
			if err == nil {
				t.Fatal("expected error")
			}

			if got := IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.wantTransient)
			}

			var vendorErr *VendorError
			if !errors.As(err, &vendorErr) {
				t.Fatalf("expected VendorError, got %T", err)
			}
			if vendorErr.StatusCode != tc.statusCode {
				t.Fatalf("VendorError.StatusCode = %d, want %d", vendorErr.StatusCode, tc.statusCode)
			}
		})
	}
}

func TestGupshupCapabilityCheckDegradesOnError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	g := newTestGupshup(t, server.URL)

	results, err := g.CheckCapability(context.Background(), []string{"+911111111111", "+912222222222"})
	if err != nil {
		t.Fatalf("CheckCapability() unexpected error: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	for _, r := range results {
		if r.RCSEnabled {
			t.Fatalf("RCSEnabled for %s = true, want false on vendor error", r.Phone)
		}
	}
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestGupshupParseWebhook(t *testing.T) {
	t.Parallel()

	g := newTestGupshup(t, "https://example.com")
	body := []byte(`{"eventType":"delivered","messageId":"gs-1"}`)

	update, err := g.ParseWebhook(body, map[string]string{
		signatureHeader: signBody("test-secret", body),
	})
	if err != nil {
		t.Fatalf("ParseWebhook() unexpected error: %v", err)
	}

	if update.State != StateDelivered {
		t.Fatalf("State = %q, want %q", update.State, StateDelivered)
	}
	if update.ExternalID != "gs-1" {
		t.Fatalf("ExternalID = %q, want %q", update.ExternalID, "gs-1")
	}
}

func TestGupshupParseWebhookInvalidSignature(t *testing.T) {
	t.Parallel()

	g := newTestGupshup(t, "https://example.com")
	body := []byte(`{"eventType":"delivered","messageId":"gs-1"}`)

	_, err := g.ParseWebhook(body, map[string]string{signatureHeader: "forged"})
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("ParseWebhook() error = %v, want ErrInvalidSignature", err)
	}

	_, err = g.ParseWebhook(body, map[string]string{})
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("ParseWebhook() without header error = %v, want ErrInvalidSignature", err)
	}
}

func TestGupshupStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "sent", body: `{"eventType":"sent","messageId":"x"}`, want: StateSent},
		{name: "read", body: `{"eventType":"read","messageId":"x"}`, want: StateRead},
		{name: "failed", body: `{"eventType":"failed","messageId":"x"}`, want: StateFailed},
		{name: "error maps to failed", body: `{"status":"error","messageId":"x"}`, want: StateFailed},
		{name: "unknown state", body: `{"status":"queued","messageId":"x"}`, want: StateUnknown},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			update, err := parseStatusPayload([]byte(tt.body))
			if err != nil {
				t.Fatalf("parseStatusPayload() unexpected error: %v", err)
			}
			if update.State != tt.want {
				t.Fatalf("State = %q, want %q", update.State, tt.want)
			}
		})
	}
}

func TestAggregatorFactory(t *testing.T) {
	t.Parallel()

	agg, err := New(Config{Vendor: "mock"})
	if err != nil {
		t.Fatalf("New(mock) unexpected error: %v", err)
	}
	if agg.Name() != "mock" {
		t.Fatalf("Name() = %q, want mock", agg.Name())
	}

	if _, err := New(Config{Vendor: "carrier-pigeon"}); err == nil {
		t.Fatal("New() with unknown vendor expected error")
	}
}
