package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CampaignStatus represents the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "DRAFT"
	CampaignScheduled CampaignStatus = "SCHEDULED"
	CampaignActive    CampaignStatus = "ACTIVE"
	CampaignPaused    CampaignStatus = "PAUSED"
	CampaignCompleted CampaignStatus = "COMPLETED"
	CampaignCancelled CampaignStatus = "CANCELLED"
)

func (s CampaignStatus) String() string { return string(s) }

func (s CampaignStatus) IsValid() bool {
	switch s {
	case CampaignDraft, CampaignScheduled, CampaignActive, CampaignPaused,
		CampaignCompleted, CampaignCancelled:
		return true
	}
	return false
}

func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignCompleted || s == CampaignCancelled
}

func ParseCampaignStatusFromString(s string) (CampaignStatus, error) {
	st := CampaignStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid campaign status %q", ErrValidation, s)
	}
	return st, nil
}

// CampaignType classifies the send operation.
type CampaignType string

const (
	CampaignPromotional   CampaignType = "PROMOTIONAL"
	CampaignTransactional CampaignType = "TRANSACTIONAL"
	CampaignReminder      CampaignType = "REMINDER"
	CampaignNotification  CampaignType = "NOTIFICATION"
)

func (t CampaignType) String() string { return string(t) }

func (t CampaignType) IsValid() bool {
	switch t {
	case CampaignPromotional, CampaignTransactional, CampaignReminder, CampaignNotification:
		return true
	}
	return false
}

func ParseCampaignTypeFromString(s string) (CampaignType, error) {
	ct := CampaignType(strings.ToUpper(strings.TrimSpace(s)))
	if !ct.IsValid() {
		return "", fmt.Errorf("%w: invalid campaign type %q", ErrValidation, s)
	}
	return ct, nil
}

// CampaignStats holds monotonically increasing delivery counters.
// MessagesSent counts send attempts, not unique messages, so it can
// exceed TotalRecipients when retries occur.
type CampaignStats struct {
	TotalRecipients   int `json:"totalRecipients"`
	MessagesSent      int `json:"messagesSent"`
	MessagesDelivered int `json:"messagesDelivered"`
	MessagesFailed    int `json:"messagesFailed"`
	MessagesRead      int `json:"messagesRead"`
	FallbackTriggered int `json:"fallbackTriggered"`
	OptOuts           int `json:"optOuts"`
}

// DeliveryRate returns delivered as a percentage of sent attempts.
func (s CampaignStats) DeliveryRate() float64 {
	if s.MessagesSent == 0 {
		return 0
	}
	return float64(s.MessagesDelivered) / float64(s.MessagesSent) * 100
}

// ReadRate returns read as a percentage of delivered.
func (s CampaignStats) ReadRate() float64 {
	if s.MessagesDelivered == 0 {
		return 0
	}
	return float64(s.MessagesRead) / float64(s.MessagesDelivered) * 100
}

// Campaign is one send operation owned by a tenant.
type Campaign struct {
	ID           string
	TenantID     string
	Name         string
	Type         CampaignType
	Status       CampaignStatus
	Priority     Priority
	TemplateID   string
	ScheduledFor *time.Time

	EnableFallback  bool
	FallbackChannel Channel
	RateLimit       int

	AudienceIDs    []string
	RecipientCount int
	Stats          CampaignStats

	Metadata map[string]string
	Tags     []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewCampaign creates a DRAFT campaign and returns its creation event.
func NewCampaign(id, tenantID, name, templateID string, campaignType CampaignType, priority Priority, now time.Time) (*Campaign, []Event, error) {
	if strings.TrimSpace(id) == "" {
		return nil, nil, fmt.Errorf("%w: campaign id is required", ErrValidation)
	}
	if strings.TrimSpace(tenantID) == "" {
		return nil, nil, fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if strings.TrimSpace(name) == "" {
		return nil, nil, fmt.Errorf("%w: campaign name is required", ErrValidation)
	}
	if !campaignType.IsValid() {
		return nil, nil, fmt.Errorf("%w: invalid campaign type %q", ErrValidation, campaignType)
	}
	if !priority.IsValid() {
		return nil, nil, fmt.Errorf("%w: invalid priority %q", ErrValidation, priority)
	}

	now = now.UTC()
	c := &Campaign{
		ID:              id,
		TenantID:        tenantID,
		Name:            name,
		Type:            campaignType,
		Status:          CampaignDraft,
		Priority:        priority,
		TemplateID:      templateID,
		EnableFallback:  true,
		FallbackChannel: ChannelSMS,
		Metadata:        map[string]string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	events := []Event{c.newEvent(EventCampaignCreated, now, map[string]any{
		"name": name,
		"type": campaignType.String(),
	})}

	return c, events, nil
}

// Schedule moves a DRAFT campaign to SCHEDULED. The time must be
// strictly in the future.
func (c *Campaign) Schedule(at, now time.Time) ([]Event, error) {
	if c.Status != CampaignDraft {
		return nil, fmt.Errorf("%w: cannot schedule campaign in %s status", ErrInvalidState, c.Status)
	}
	if !at.After(now) {
		return nil, fmt.Errorf("%w: scheduled time must be in the future", ErrValidation)
	}

	now = now.UTC()
	at = at.UTC()
	c.Status = CampaignScheduled
	c.ScheduledFor = &at
	c.UpdatedAt = now

	return []Event{c.newEvent(EventCampaignScheduled, now, map[string]any{
		"scheduled_for": at.Format(time.RFC3339),
	})}, nil
}

// Activate moves a DRAFT or SCHEDULED campaign to ACTIVE. A campaign
// without recipients cannot be activated.
func (c *Campaign) Activate(now time.Time) ([]Event, error) {
	if c.Status != CampaignDraft && c.Status != CampaignScheduled {
		return nil, fmt.Errorf("%w: cannot activate campaign in %s status", ErrInvalidState, c.Status)
	}
	if c.RecipientCount == 0 {
		return nil, fmt.Errorf("%w: campaign must have at least one recipient", ErrValidation)
	}

	now = now.UTC()
	c.Status = CampaignActive
	c.UpdatedAt = now

	return []Event{c.newEvent(EventCampaignActivated, now, map[string]any{
		"recipient_count": c.RecipientCount,
	})}, nil
}

// Pause suspends an ACTIVE campaign. Already-enqueued jobs finish their
// current attempt; only new batch creation stops.
func (c *Campaign) Pause(now time.Time) ([]Event, error) {
	if c.Status != CampaignActive {
		return nil, fmt.Errorf("%w: cannot pause campaign in %s status", ErrInvalidState, c.Status)
	}

	now = now.UTC()
	c.Status = CampaignPaused
	c.UpdatedAt = now

	return []Event{c.newEvent(EventCampaignPaused, now, map[string]any{})}, nil
}

// Resume reactivates a PAUSED campaign.
func (c *Campaign) Resume(now time.Time) ([]Event, error) {
	if c.Status != CampaignPaused {
		return nil, fmt.Errorf("%w: cannot resume campaign in %s status", ErrInvalidState, c.Status)
	}

	now = now.UTC()
	c.Status = CampaignActive
	c.UpdatedAt = now

	return []Event{c.newEvent(EventCampaignResumed, now, map[string]any{})}, nil
}

// Complete finishes an ACTIVE or PAUSED campaign.
func (c *Campaign) Complete(now time.Time) ([]Event, error) {
	if c.Status != CampaignActive && c.Status != CampaignPaused {
		return nil, fmt.Errorf("%w: cannot complete campaign in %s status", ErrInvalidState, c.Status)
	}

	now = now.UTC()
	c.Status = CampaignCompleted
	c.UpdatedAt = now

	return []Event{c.newEvent(EventCampaignCompleted, now, map[string]any{
		"sent":          c.Stats.MessagesSent,
		"delivered":     c.Stats.MessagesDelivered,
		"failed":        c.Stats.MessagesFailed,
		"delivery_rate": c.Stats.DeliveryRate(),
	})}, nil
}

// Cancel aborts any non-terminal campaign and records the reason.
func (c *Campaign) Cancel(reason string, now time.Time) ([]Event, error) {
	if c.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: cannot cancel campaign in %s status", ErrInvalidState, c.Status)
	}

	now = now.UTC()
	c.Status = CampaignCancelled
	if c.Metadata == nil {
		c.Metadata = map[string]string{}
	}
	c.Metadata["cancellation_reason"] = reason
	c.UpdatedAt = now

	return []Event{c.newEvent(EventCampaignCancelled, now, map[string]any{
		"reason": reason,
	})}, nil
}

// AddAudience attaches an audience segment to a DRAFT campaign.
// Repeated IDs are ignored.
func (c *Campaign) AddAudience(audienceID string, recipientCount int, now time.Time) ([]Event, error) {
	if c.Status != CampaignDraft {
		return nil, fmt.Errorf("%w: cannot add audience to campaign in %s status", ErrInvalidState, c.Status)
	}
	if strings.TrimSpace(audienceID) == "" {
		return nil, fmt.Errorf("%w: audience id is required", ErrValidation)
	}
	if recipientCount < 0 {
		return nil, fmt.Errorf("%w: recipient count cannot be negative", ErrValidation)
	}

	for _, id := range c.AudienceIDs {
		if id == audienceID {
			return nil, nil
		}
	}

	now = now.UTC()
	c.AudienceIDs = append(c.AudienceIDs, audienceID)
	c.RecipientCount += recipientCount
	c.Stats.TotalRecipients = c.RecipientCount
	c.UpdatedAt = now

	return []Event{c.newEvent(EventCampaignAudienceAdded, now, map[string]any{
		"audience_id":     audienceID,
		"recipient_count": recipientCount,
	})}, nil
}

// CanBeModified reports whether audience and template changes are
// still allowed.
func (c *Campaign) CanBeModified() bool {
	return c.Status == CampaignDraft || c.Status == CampaignScheduled
}

// IsDue reports whether a scheduled campaign is ready to run.
func (c *Campaign) IsDue(now time.Time) bool {
	if c.Status == CampaignActive {
		return true
	}
	if c.Status != CampaignScheduled {
		return false
	}
	return c.ScheduledFor == nil || !now.UTC().Before(*c.ScheduledFor)
}

func (c *Campaign) newEvent(eventType string, now time.Time, data map[string]any) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		AggregateID: c.ID,
		OccurredAt:  now,
		Data:        data,
	}
}
