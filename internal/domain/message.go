package domain

import (
	"fmt"
	"strings"
	"time"
)

// MessageStatus represents the lifecycle state of a message.
type MessageStatus string

const (
	StatusPending           MessageStatus = "PENDING"
	StatusQueued            MessageStatus = "QUEUED"
	StatusSent              MessageStatus = "SENT"
	StatusDelivered         MessageStatus = "DELIVERED"
	StatusRead              MessageStatus = "READ"
	StatusFailed            MessageStatus = "FAILED"
	StatusExpired           MessageStatus = "EXPIRED"
	StatusFallbackSent      MessageStatus = "FALLBACK_SENT"
	StatusFallbackDelivered MessageStatus = "FALLBACK_DELIVERED"
)

func (s MessageStatus) String() string { return string(s) }

func (s MessageStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusQueued, StatusSent, StatusDelivered, StatusRead,
		StatusFailed, StatusExpired, StatusFallbackSent, StatusFallbackDelivered:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
// FAILED is terminal only once retry and fallback are both off the table,
// which the delivery service decides; here it counts as non-terminal.
func (s MessageStatus) IsTerminal() bool {
	switch s {
	case StatusRead, StatusExpired, StatusFallbackDelivered:
		return true
	}
	return false
}

func ParseMessageStatusFromString(s string) (MessageStatus, error) {
	st := MessageStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid message status %q", ErrValidation, s)
	}
	return st, nil
}

// Channel represents the delivery channel.
type Channel string

const (
	ChannelRCS Channel = "RCS"
	ChannelSMS Channel = "SMS"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelRCS, ChannelSMS:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// Priority represents the message priority level.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

func ParsePriorityFromString(s string) (Priority, error) {
	pr := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if !pr.IsValid() {
		return "", fmt.Errorf("%w: invalid priority %q", ErrValidation, s)
	}
	return pr, nil
}

// FailureReason categorizes a delivery failure and drives the
// retry/fallback decision.
type FailureReason string

const (
	FailureInvalidNumber   FailureReason = "INVALID_NUMBER"
	FailureRCSNotSupported FailureReason = "RCS_NOT_SUPPORTED"
	FailureNetworkError    FailureReason = "NETWORK_ERROR"
	FailureRateLimited     FailureReason = "RATE_LIMITED"
	FailureBlocked         FailureReason = "BLOCKED"
	FailureExpired         FailureReason = "EXPIRED"
	FailureUnknown         FailureReason = "UNKNOWN"
)

func (r FailureReason) String() string { return string(r) }

// IsPermanent reports whether the reason rules out any further attempt
// on the current channel.
func (r FailureReason) IsPermanent() bool {
	switch r {
	case FailureInvalidNumber, FailureBlocked:
		return true
	}
	return false
}

// Suggestion action types.
const (
	SuggestionReply = "reply"
	SuggestionURL   = "url"
	SuggestionDial  = "dial"
)

// SuggestedAction is an interactive element attached to an RCS message.
type SuggestedAction struct {
	Type         string `json:"type"`
	Text         string `json:"text"`
	PostbackData string `json:"postbackData,omitempty"`
	URL          string `json:"url,omitempty"`
	PhoneNumber  string `json:"phoneNumber,omitempty"`
}

// RichCard is the rich media card of an RCS message.
type RichCard struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	MediaURL    string `json:"mediaUrl,omitempty"`
	MediaType   string `json:"mediaType,omitempty"`
	MediaHeight string `json:"mediaHeight,omitempty"`
}

// MessageContent carries the text plus optional rich elements.
type MessageContent struct {
	Text        string            `json:"text"`
	RichCard    *RichCard         `json:"richCard,omitempty"`
	Suggestions []SuggestedAction `json:"suggestions,omitempty"`
}

// MaxSMSContent is the concatenated-SMS length most vendors accept.
const MaxSMSContent = 1600

// ToSMSText flattens rich content into plain text for the SMS leg.
// Card title, description and media URL become prefixed lines, url and
// dial suggestions become inline links, reply suggestions are dropped
// since SMS has no equivalent.
func (c MessageContent) ToSMSText() string {
	var b strings.Builder
	b.WriteString(c.Text)

	if card := c.RichCard; card != nil {
		if card.Title != "" {
			b.WriteString("\n\n" + card.Title)
		}
		if card.Description != "" {
			b.WriteString("\n" + card.Description)
		}
		if card.MediaURL != "" {
			b.WriteString("\nView: " + card.MediaURL)
		}
	}

	if len(c.Suggestions) > 0 {
		b.WriteString("\n")
		for _, s := range c.Suggestions {
			switch {
			case s.Type == SuggestionURL && s.URL != "":
				b.WriteString("\n" + s.Text + ": " + s.URL)
			case s.Type == SuggestionDial && s.PhoneNumber != "":
				b.WriteString("\nCall: " + s.PhoneNumber)
			}
		}
	}

	text := b.String()
	if runes := []rune(text); len(runes) > MaxSMSContent {
		text = string(runes[:MaxSMSContent-3]) + "..."
	}

	return strings.TrimSpace(text)
}

// DeliveryAttempt is one entry in a message's attempt log.
type DeliveryAttempt struct {
	Number       int           `json:"number"`
	Channel      Channel       `json:"channel"`
	Status       MessageStatus `json:"status"`
	Aggregator   string        `json:"aggregator,omitempty"`
	ExternalID   string        `json:"externalId,omitempty"`
	ErrorCode    string        `json:"errorCode,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	AttemptedAt  time.Time     `json:"attemptedAt"`
}

// DefaultMaxRetries bounds delivery attempts per channel.
const DefaultMaxRetries = 3

// Message is one delivery unit, owned by exactly one campaign.
type Message struct {
	ID             string
	CampaignID     string
	TenantID       string
	RecipientPhone string
	Content        MessageContent
	Channel        Channel
	Status         MessageStatus
	Priority       Priority
	FailureReason  FailureReason

	RetryCount int
	MaxRetries int

	FallbackEnabled   bool
	FallbackTriggered bool

	Aggregator string
	ExternalID string

	Attempts []DeliveryAttempt
	Metadata map[string]string

	QueuedAt    *time.Time
	SentAt      *time.Time
	DeliveredAt *time.Time
	ReadAt      *time.Time
	FailedAt    *time.Time
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewMessage creates a PENDING RCS message for one recipient. The phone
// number is normalized to E.164 and the message expires at the end of
// the creation day.
func NewMessage(id, campaignID, tenantID, phone string, content MessageContent, priority Priority, fallbackEnabled bool, now time.Time) (*Message, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: message id is required", ErrValidation)
	}
	if strings.TrimSpace(campaignID) == "" {
		return nil, fmt.Errorf("%w: campaign id is required", ErrValidation)
	}
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if strings.TrimSpace(content.Text) == "" {
		return nil, fmt.Errorf("%w: content text is required", ErrValidation)
	}
	if !priority.IsValid() {
		return nil, fmt.Errorf("%w: invalid priority %q", ErrValidation, priority)
	}

	normalized, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}

	now = now.UTC()

	return &Message{
		ID:              id,
		CampaignID:      campaignID,
		TenantID:        tenantID,
		RecipientPhone:  normalized,
		Content:         content,
		Channel:         ChannelRCS,
		Status:          StatusPending,
		Priority:        priority,
		MaxRetries:      DefaultMaxRetries,
		FallbackEnabled: fallbackEnabled,
		Metadata:        map[string]string{},
		ExpiresAt:       endOfDay(now),
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// NormalizePhone converts a phone number to E.164. Bare 10-digit
// numbers get the +91 country code.
func NormalizePhone(phone string) (string, error) {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}

	d := digits.String()
	if len(d) < 10 || len(d) > 15 {
		return "", fmt.Errorf("%w: invalid phone number %q", ErrValidation, phone)
	}
	if len(d) == 10 {
		return "+91" + d, nil
	}
	return "+" + d, nil
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 0, 0, time.UTC)
}

// Queue transitions PENDING to QUEUED.
func (m *Message) Queue(now time.Time) error {
	if m.Status != StatusPending {
		return fmt.Errorf("%w: cannot queue message in %s status", ErrInvalidState, m.Status)
	}

	now = now.UTC()
	m.Status = StatusQueued
	m.QueuedAt = &now
	m.UpdatedAt = now
	return nil
}

// MarkSent records a successful handoff to the aggregator. The external
// ID is the correlation key for later webhook updates.
func (m *Message) MarkSent(aggregator, externalID string, now time.Time) error {
	if m.Status != StatusQueued && m.Status != StatusPending && m.Status != StatusFailed {
		return fmt.Errorf("%w: cannot mark sent from %s status", ErrInvalidState, m.Status)
	}

	now = now.UTC()
	m.Status = StatusSent
	m.SentAt = &now
	m.UpdatedAt = now
	m.Aggregator = aggregator
	m.ExternalID = externalID

	m.recordAttempt(DeliveryAttempt{
		Channel:    m.Channel,
		Status:     StatusSent,
		Aggregator: aggregator,
		ExternalID: externalID,
	}, now)

	return nil
}

// MarkDelivered applies a delivery receipt. QUEUED is accepted because
// vendor receipts can outrun the local SENT write.
func (m *Message) MarkDelivered(now time.Time) error {
	if m.Status != StatusSent && m.Status != StatusQueued {
		return fmt.Errorf("%w: cannot mark delivered from %s status", ErrInvalidState, m.Status)
	}

	now = now.UTC()
	m.Status = StatusDelivered
	m.DeliveredAt = &now
	m.UpdatedAt = now

	m.recordAttempt(DeliveryAttempt{
		Channel:    m.Channel,
		Status:     StatusDelivered,
		Aggregator: m.Aggregator,
	}, now)

	return nil
}

// MarkRead applies a read receipt. SMS has no read receipts, so the
// call is a no-op on that channel.
func (m *Message) MarkRead(now time.Time) error {
	if m.Channel != ChannelRCS {
		return nil
	}
	if m.Status != StatusDelivered {
		return fmt.Errorf("%w: cannot mark read from %s status", ErrInvalidState, m.Status)
	}

	now = now.UTC()
	m.Status = StatusRead
	m.ReadAt = &now
	m.UpdatedAt = now
	return nil
}

// MarkFailed records a failed attempt with a categorized reason.
func (m *Message) MarkFailed(reason FailureReason, errorCode, errorMessage string, now time.Time) {
	now = now.UTC()
	m.Status = StatusFailed
	m.FailedAt = &now
	m.UpdatedAt = now
	m.FailureReason = reason

	m.recordAttempt(DeliveryAttempt{
		Channel:      m.Channel,
		Status:       StatusFailed,
		Aggregator:   m.Aggregator,
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
	}, now)
}

// MarkExpired moves any non-terminal message past its expiry to EXPIRED.
func (m *Message) MarkExpired(now time.Time) error {
	if m.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot expire message in %s status", ErrInvalidState, m.Status)
	}

	now = now.UTC()
	m.Status = StatusExpired
	m.FailureReason = FailureExpired
	m.UpdatedAt = now
	return nil
}

// ShouldRetry reports whether another attempt on the current channel is
// allowed.
func (m *Message) ShouldRetry(now time.Time) bool {
	if m.Status != StatusFailed {
		return false
	}
	if m.RetryCount >= m.MaxRetries {
		return false
	}
	if m.IsExpired(now) {
		return false
	}
	return !m.FailureReason.IsPermanent()
}

// ShouldFallbackToSMS reports whether the SMS leg should be triggered.
func (m *Message) ShouldFallbackToSMS() bool {
	if !m.FallbackEnabled || m.FallbackTriggered {
		return false
	}
	if m.Channel == ChannelSMS {
		return false
	}
	if m.FailureReason == FailureRCSNotSupported {
		return true
	}
	return m.RetryCount >= m.MaxRetries
}

// TriggerFallback switches the message to the SMS channel: content is
// flattened to plain text, status returns to PENDING and the retry
// counter restarts for the new channel.
func (m *Message) TriggerFallback(now time.Time) error {
	if !m.ShouldFallbackToSMS() {
		return fmt.Errorf("%w: fallback is not applicable", ErrInvalidState)
	}

	now = now.UTC()
	if m.Metadata == nil {
		m.Metadata = map[string]string{}
	}
	m.Metadata["original_channel"] = strings.ToLower(m.Channel.String())

	m.Channel = ChannelSMS
	m.Status = StatusPending
	m.FallbackTriggered = true
	m.RetryCount = 0
	m.Content = MessageContent{Text: m.Content.ToSMSText()}
	m.UpdatedAt = now
	return nil
}

// MarkFallbackSent records the SMS leg handoff.
func (m *Message) MarkFallbackSent(aggregator, externalID string, now time.Time) error {
	if !m.FallbackTriggered {
		return fmt.Errorf("%w: fallback was not triggered", ErrInvalidState)
	}

	now = now.UTC()
	m.Status = StatusFallbackSent
	m.SentAt = &now
	m.UpdatedAt = now
	m.Aggregator = aggregator
	m.ExternalID = externalID

	m.recordAttempt(DeliveryAttempt{
		Channel:    ChannelSMS,
		Status:     StatusFallbackSent,
		Aggregator: aggregator,
		ExternalID: externalID,
	}, now)

	return nil
}

// MarkFallbackDelivered applies a delivery receipt for the SMS leg.
func (m *Message) MarkFallbackDelivered(now time.Time) error {
	if m.Status != StatusFallbackSent {
		return fmt.Errorf("%w: cannot mark fallback delivered from %s status", ErrInvalidState, m.Status)
	}

	now = now.UTC()
	m.Status = StatusFallbackDelivered
	m.DeliveredAt = &now
	m.UpdatedAt = now
	return nil
}

// IncrementRetry bumps the retry counter before a requeue.
func (m *Message) IncrementRetry(now time.Time) {
	m.RetryCount++
	m.UpdatedAt = now.UTC()
}

func (m *Message) IsExpired(now time.Time) bool {
	return now.UTC().After(m.ExpiresAt)
}

// IsDelivered reports whether the recipient received the message on
// either channel.
func (m *Message) IsDelivered() bool {
	switch m.Status {
	case StatusDelivered, StatusRead, StatusFallbackDelivered:
		return true
	}
	return false
}

func (m *Message) recordAttempt(a DeliveryAttempt, now time.Time) {
	a.Number = len(m.Attempts) + 1
	a.AttemptedAt = now
	m.Attempts = append(m.Attempts, a)
}
