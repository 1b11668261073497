package aggregator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/rcs-campaign-engine/internal/domain"
)

// Delivery states reported by vendors, normalized.
const (
	StateSent      = "sent"
	StateDelivered = "delivered"
	StateRead      = "read"
	StateFailed    = "failed"
	StateUnknown   = "unknown"
)

// SendRequest carries one outbound message to the vendor.
type SendRequest struct {
	MessageID      string
	RecipientPhone string
	Text           string
	RichCard       *domain.RichCard
	Suggestions    []domain.SuggestedAction
}

// SendResponse is the vendor's synchronous answer to a send.
type SendResponse struct {
	Success      bool
	ExternalID   string
	ErrorCode    string
	ErrorMessage string
}

// Capability is the RCS reachability of one phone number.
type Capability struct {
	Phone       string
	RCSEnabled  bool
	Features    []string
	LastChecked time.Time
}

// StatusUpdate is a normalized delivery-status report, from a webhook
// or a status poll.
type StatusUpdate struct {
	ExternalID   string
	State        string
	ErrorCode    string
	ErrorMessage string
	OccurredAt   time.Time
}

// Aggregator is the RCS/SMS vendor port.
type Aggregator interface {
	Name() string
	SendRCS(ctx context.Context, req SendRequest) (*SendResponse, error)
	SendSMS(ctx context.Context, req SendRequest) (*SendResponse, error)
	CheckCapability(ctx context.Context, phones []string) ([]Capability, error)
	DeliveryStatus(ctx context.Context, externalID string) (*StatusUpdate, error)
	ParseWebhook(body []byte, headers map[string]string) (*StatusUpdate, error)
	ValidateSignature(body []byte, signature string) bool
}

// Config selects and configures the vendor adapter.
type Config struct {
	Vendor        string
	APIKey        string
	AppName       string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
}

// New selects the vendor adapter at startup.
func New(cfg Config) (Aggregator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Vendor)) {
	case "gupshup":
		return NewGupshup(cfg)
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown aggregator vendor %q", cfg.Vendor)
	}
}
