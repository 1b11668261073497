package aggregator

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/kursadbilgin/rcs-campaign-engine/internal/domain"
)

const (
	defaultGupshupBaseURL = "https://api.gupshup.io/rcs/api/v1"
	defaultGupshupTimeout = 30 * time.Second
	defaultRetryAfter     = 60 * time.Second

	signatureHeader = "x-gupshup-signature"
)

// Gupshup sends RCS and SMS through the Gupshup messaging API and
// verifies its delivery webhooks.
type Gupshup struct {
	client        *resty.Client
	appName       string
	webhookSecret string
	baseURL       string
}

func NewGupshup(cfg Config) (*Gupshup, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gupshup api key is required")
	}
	if strings.TrimSpace(cfg.AppName) == "" {
		return nil, fmt.Errorf("gupshup app name is required")
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, fmt.Errorf("gupshup webhook secret is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultGupshupBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGupshupTimeout
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(0)
	client.SetHeader("apikey", cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")

	return &Gupshup{
		client:        client,
		appName:       cfg.AppName,
		webhookSecret: cfg.WebhookSecret,
		baseURL:       baseURL,
	}, nil
}

func (g *Gupshup) Name() string { return "gupshup" }

type gupshupSendResult struct {
	Status    string `json:"status"`
	MessageID string `json:"messageId"`
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

func (g *Gupshup) SendRCS(ctx context.Context, req SendRequest) (*SendResponse, error) {
	payload := map[string]any{
		"channel":     "rcs",
		"source":      g.appName,
		"destination": req.RecipientPhone,
		"message":     buildRCSMessage(req),
	}
	return g.send(ctx, payload)
}

func (g *Gupshup) SendSMS(ctx context.Context, req SendRequest) (*SendResponse, error) {
	payload := map[string]any{
		"channel":     "sms",
		"source":      g.appName,
		"destination": req.RecipientPhone,
		"message": map[string]any{
			"type": "text",
			"text": req.Text,
		},
	}
	return g.send(ctx, payload)
}

func (g *Gupshup) send(ctx context.Context, payload map[string]any) (*SendResponse, error) {
	if g == nil || g.client == nil {
		return nil, fmt.Errorf("aggregator is not initialized")
	}

	response, err := g.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(g.baseURL + "/msg")
	if err != nil {
		return nil, &VendorError{
			Message:   "gupshup request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	if response.StatusCode() == http.StatusTooManyRequests {
		return nil, &VendorError{
			StatusCode: response.StatusCode(),
			Message:    "rate limit exceeded",
			Transient:  true,
			RetryAfter: parseRetryAfter(response.Header().Get("Retry-After")),
		}
	}

	var result gupshupSendResult
	if jsonErr := json.Unmarshal(response.Body(), &result); jsonErr != nil && response.IsSuccess() {
		return nil, &VendorError{
			StatusCode: response.StatusCode(),
			Message:    "gupshup returned unparseable response",
			Transient:  true,
			Cause:      jsonErr,
		}
	}

	if !response.IsSuccess() {
		return nil, &VendorError{
			StatusCode: response.StatusCode(),
			Code:       result.ErrorCode,
			Message:    vendorErrorMessage(response.StatusCode(), result.Message),
			Transient:  isTransientHTTPStatus(response.StatusCode()),
		}
	}

	if result.Status == "submitted" {
		return &SendResponse{Success: true, ExternalID: result.MessageID}, nil
	}

	return &SendResponse{
		Success:      false,
		ErrorCode:    result.ErrorCode,
		ErrorMessage: result.Message,
	}, nil
}

// CheckCapability queries RCS reachability per number. A transport
// failure degrades to rcs_enabled=false for every queried number so a
// flaky capability endpoint falls back to SMS instead of blocking.
func (g *Gupshup) CheckCapability(ctx context.Context, phones []string) ([]Capability, error) {
	if g == nil || g.client == nil {
		return nil, fmt.Errorf("aggregator is not initialized")
	}

	now := time.Now().UTC()
	results := make([]Capability, 0, len(phones))

	for _, phone := range phones {
		response, err := g.client.R().
			SetContext(ctx).
			SetBody(map[string]any{"phone": phone, "channel": "rcs"}).
			Post(g.baseURL + "/capability")
		if err != nil || !response.IsSuccess() {
			results = append(results, Capability{Phone: phone, LastChecked: now})
			continue
		}

		var data struct {
			RCSEnabled bool     `json:"rcsEnabled"`
			Features   []string `json:"features"`
		}
		if jsonErr := json.Unmarshal(response.Body(), &data); jsonErr != nil {
			results = append(results, Capability{Phone: phone, LastChecked: now})
			continue
		}

		results = append(results, Capability{
			Phone:       phone,
			RCSEnabled:  data.RCSEnabled,
			Features:    data.Features,
			LastChecked: now,
		})
	}

	return results, nil
}

func (g *Gupshup) DeliveryStatus(ctx context.Context, externalID string) (*StatusUpdate, error) {
	if g == nil || g.client == nil {
		return nil, fmt.Errorf("aggregator is not initialized")
	}

	response, err := g.client.R().
		SetContext(ctx).
		Get(g.baseURL + "/msg/status/" + externalID)
	if err != nil {
		return nil, &VendorError{
			Message:   "gupshup status request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if !response.IsSuccess() {
		return nil, &VendorError{
			StatusCode: response.StatusCode(),
			Message:    vendorErrorMessage(response.StatusCode(), ""),
			Transient:  isTransientHTTPStatus(response.StatusCode()),
		}
	}

	return parseStatusPayload(response.Body())
}

// ParseWebhook verifies the signature and normalizes the payload.
// A failed signature check returns ErrInvalidSignature.
func (g *Gupshup) ParseWebhook(body []byte, headers map[string]string) (*StatusUpdate, error) {
	signature := headerValue(headers, signatureHeader)
	if !g.ValidateSignature(body, signature) {
		return nil, ErrInvalidSignature
	}

	return parseStatusPayload(body)
}

// ValidateSignature checks the HMAC-SHA256 hex digest of the raw body
// using a constant-time compare.
func (g *Gupshup) ValidateSignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

func buildRCSMessage(req SendRequest) map[string]any {
	if req.RichCard != nil {
		return buildRichCardMessage(req)
	}

	msg := map[string]any{
		"type": "text",
		"text": req.Text,
	}
	if len(req.Suggestions) > 0 {
		msg["suggestions"] = buildSuggestions(req.Suggestions)
	}
	return msg
}

func buildRichCardMessage(req SendRequest) map[string]any {
	card := req.RichCard

	description := card.Description
	if description == "" {
		description = req.Text
	}

	payload := map[string]any{
		"title":       card.Title,
		"description": description,
	}

	if card.MediaURL != "" {
		mediaType := card.MediaType
		if mediaType == "" {
			mediaType = "image/jpeg"
		}
		mediaHeight := card.MediaHeight
		if mediaHeight == "" {
			mediaHeight = "MEDIUM"
		}
		payload["media"] = map[string]any{
			"url":         card.MediaURL,
			"contentType": mediaType,
			"height":      mediaHeight,
		}
	}

	if len(req.Suggestions) > 0 {
		payload["suggestions"] = buildSuggestions(req.Suggestions)
	}

	return map[string]any{
		"type":    "card",
		"payload": payload,
	}
}

func buildSuggestions(suggestions []domain.SuggestedAction) []map[string]any {
	out := make([]map[string]any, 0, len(suggestions))
	for _, s := range suggestions {
		switch s.Type {
		case domain.SuggestionURL:
			out = append(out, map[string]any{
				"type": "action",
				"text": s.Text,
				"action": map[string]any{
					"type": "url",
					"url":  s.URL,
				},
			})
		case domain.SuggestionDial:
			out = append(out, map[string]any{
				"type": "action",
				"text": s.Text,
				"action": map[string]any{
					"type":        "dial",
					"phoneNumber": s.PhoneNumber,
				},
			})
		default:
			postback := s.PostbackData
			if postback == "" {
				postback = s.Text
			}
			out = append(out, map[string]any{
				"type":         "reply",
				"text":         s.Text,
				"postbackData": postback,
			})
		}
	}
	return out
}

func parseStatusPayload(body []byte) (*StatusUpdate, error) {
	var data struct {
		EventType    string `json:"eventType"`
		Status       string `json:"status"`
		MessageID    string `json:"messageId"`
		ExternalID   string `json:"externalId"`
		ErrorCode    string `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to parse status payload: %w", err)
	}

	vendorState := data.EventType
	if vendorState == "" {
		vendorState = data.Status
	}

	state := StateUnknown
	switch vendorState {
	case "sent":
		state = StateSent
	case "delivered":
		state = StateDelivered
	case "read":
		state = StateRead
	case "failed", "error":
		state = StateFailed
	}

	externalID := data.ExternalID
	if externalID == "" {
		externalID = data.MessageID
	}

	return &StatusUpdate{
		ExternalID:   externalID,
		State:        state,
		ErrorCode:    data.ErrorCode,
		ErrorMessage: data.ErrorMessage,
		OccurredAt:   time.Now().UTC(),
	}, nil
}

func parseRetryAfter(header string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds <= 0 {
		return defaultRetryAfter
	}
	return time.Duration(seconds) * time.Second
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func vendorErrorMessage(statusCode int, message string) string {
	base := fmt.Sprintf("gupshup returned status %d", statusCode)
	if message == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, message)
}

func headerValue(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
