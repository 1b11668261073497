package repository

import (
	"encoding/json"
	"time"

	"github.com/kursadbilgin/rcs-campaign-engine/internal/domain"
)

// MessageModel is the persistence model for the messages table. Rich
// structures travel as JSONB.
type MessageModel struct {
	ID             string               `gorm:"type:uuid;primaryKey"`
	CampaignID     string               `gorm:"type:uuid;not null;index:idx_messages_campaign_status"`
	TenantID       string               `gorm:"type:uuid;not null"`
	RecipientPhone string               `gorm:"type:varchar(20);not null"`
	Content        json.RawMessage      `gorm:"type:jsonb;not null"`
	Channel        domain.Channel       `gorm:"type:varchar(10);not null"`
	Status         domain.MessageStatus `gorm:"type:varchar(20);not null;index:idx_messages_campaign_status"`
	Priority       domain.Priority      `gorm:"type:varchar(10);not null"`
	FailureReason  *string              `gorm:"type:varchar(30)"`

	RetryCount int `gorm:"not null;default:0"`
	MaxRetries int `gorm:"not null;default:3"`

	FallbackEnabled   bool `gorm:"not null;default:true"`
	FallbackTriggered bool `gorm:"not null;default:false"`

	Aggregator *string `gorm:"type:varchar(50)"`
	ExternalID *string `gorm:"type:varchar(255);index:idx_messages_external_id"`

	Attempts json.RawMessage `gorm:"type:jsonb"`
	Metadata json.RawMessage `gorm:"type:jsonb"`

	QueuedAt    *time.Time
	SentAt      *time.Time
	DeliveredAt *time.Time
	ReadAt      *time.Time
	FailedAt    *time.Time
	ExpiresAt   time.Time `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (MessageModel) TableName() string {
	return "messages"
}

// CampaignModel is the persistence model for the campaigns table.
// Stats live in dedicated columns so counters can be incremented with
// SQL expressions under concurrency.
type CampaignModel struct {
	ID           string                `gorm:"type:uuid;primaryKey"`
	TenantID     string                `gorm:"type:uuid;not null;index"`
	Name         string                `gorm:"type:varchar(255);not null"`
	Type         domain.CampaignType   `gorm:"type:varchar(20);not null"`
	Status       domain.CampaignStatus `gorm:"type:varchar(20);not null;index"`
	Priority     domain.Priority       `gorm:"type:varchar(10);not null"`
	TemplateID   *string               `gorm:"type:uuid"`
	ScheduledFor *time.Time

	EnableFallback  bool           `gorm:"not null;default:true"`
	FallbackChannel domain.Channel `gorm:"type:varchar(10);not null;default:SMS"`
	RateLimit       int            `gorm:"not null;default:0"`

	AudienceIDs    json.RawMessage `gorm:"type:jsonb"`
	RecipientCount int             `gorm:"not null;default:0"`

	StatsTotalRecipients   int `gorm:"not null;default:0"`
	StatsSent              int `gorm:"not null;default:0"`
	StatsDelivered         int `gorm:"not null;default:0"`
	StatsFailed            int `gorm:"not null;default:0"`
	StatsRead              int `gorm:"not null;default:0"`
	StatsFallbackTriggered int `gorm:"not null;default:0"`
	StatsOptOuts           int `gorm:"not null;default:0"`

	Metadata json.RawMessage `gorm:"type:jsonb"`
	Tags     json.RawMessage `gorm:"type:jsonb"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (CampaignModel) TableName() string {
	return "campaigns"
}

// TemplateModel is the persistence model for the templates table.
type TemplateModel struct {
	ID        string                `gorm:"type:uuid;primaryKey"`
	TenantID  string                `gorm:"type:uuid;not null;index"`
	Name      string                `gorm:"type:varchar(255);not null"`
	Status    domain.TemplateStatus `gorm:"type:varchar(20);not null"`
	Content   json.RawMessage       `gorm:"type:jsonb;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TemplateModel) TableName() string {
	return "templates"
}

// OptOutModel is the persistence model for the opt_outs table.
type OptOutModel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	TenantID  string `gorm:"type:uuid;not null;uniqueIndex:idx_opt_outs_tenant_phone"`
	Phone     string `gorm:"type:varchar(20);not null;uniqueIndex:idx_opt_outs_tenant_phone"`
	Reason    string `gorm:"type:text"`
	CreatedAt time.Time
}

func (OptOutModel) TableName() string {
	return "opt_outs"
}

// EventModel is the persistence model for the append-only events table.
type EventModel struct {
	ID          string          `gorm:"type:uuid;primaryKey"`
	Type        string          `gorm:"type:varchar(50);not null"`
	AggregateID string          `gorm:"type:uuid;not null;uniqueIndex:idx_events_aggregate_version"`
	Version     int             `gorm:"not null;uniqueIndex:idx_events_aggregate_version"`
	Data        json.RawMessage `gorm:"type:jsonb"`
	OccurredAt  time.Time       `gorm:"not null"`
}

func (EventModel) TableName() string {
	return "events"
}

func messageModelFromDomain(m *domain.Message) *MessageModel {
	if m == nil {
		return nil
	}

	content, _ := json.Marshal(m.Content)
	attempts, _ := json.Marshal(m.Attempts)
	metadata, _ := json.Marshal(m.Metadata)

	return &MessageModel{
		ID:                m.ID,
		CampaignID:        m.CampaignID,
		TenantID:          m.TenantID,
		RecipientPhone:    m.RecipientPhone,
		Content:           content,
		Channel:           m.Channel,
		Status:            m.Status,
		Priority:          m.Priority,
		FailureReason:     optionalString(string(m.FailureReason)),
		RetryCount:        m.RetryCount,
		MaxRetries:        m.MaxRetries,
		FallbackEnabled:   m.FallbackEnabled,
		FallbackTriggered: m.FallbackTriggered,
		Aggregator:        optionalString(m.Aggregator),
		ExternalID:        optionalString(m.ExternalID),
		Attempts:          attempts,
		Metadata:          metadata,
		QueuedAt:          m.QueuedAt,
		SentAt:            m.SentAt,
		DeliveredAt:       m.DeliveredAt,
		ReadAt:            m.ReadAt,
		FailedAt:          m.FailedAt,
		ExpiresAt:         m.ExpiresAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func messageModelToDomain(model *MessageModel) *domain.Message {
	if model == nil {
		return nil
	}

	var content domain.MessageContent
	_ = json.Unmarshal(model.Content, &content)

	var attempts []domain.DeliveryAttempt
	if len(model.Attempts) > 0 {
		_ = json.Unmarshal(model.Attempts, &attempts)
	}

	metadata := map[string]string{}
	if len(model.Metadata) > 0 {
		_ = json.Unmarshal(model.Metadata, &metadata)
	}

	return &domain.Message{
		ID:                model.ID,
		CampaignID:        model.CampaignID,
		TenantID:          model.TenantID,
		RecipientPhone:    model.RecipientPhone,
		Content:           content,
		Channel:           model.Channel,
		Status:            model.Status,
		Priority:          model.Priority,
		FailureReason:     domain.FailureReason(stringValue(model.FailureReason)),
		RetryCount:        model.RetryCount,
		MaxRetries:        model.MaxRetries,
		FallbackEnabled:   model.FallbackEnabled,
		FallbackTriggered: model.FallbackTriggered,
		Aggregator:        stringValue(model.Aggregator),
		ExternalID:        stringValue(model.ExternalID),
		Attempts:          attempts,
		Metadata:          metadata,
		QueuedAt:          model.QueuedAt,
		SentAt:            model.SentAt,
		DeliveredAt:       model.DeliveredAt,
		ReadAt:            model.ReadAt,
		FailedAt:          model.FailedAt,
		ExpiresAt:         model.ExpiresAt,
		CreatedAt:         model.CreatedAt,
		UpdatedAt:         model.UpdatedAt,
	}
}

func campaignModelFromDomain(c *domain.Campaign) *CampaignModel {
	if c == nil {
		return nil
	}

	audiences, _ := json.Marshal(c.AudienceIDs)
	metadata, _ := json.Marshal(c.Metadata)
	tags, _ := json.Marshal(c.Tags)

	return &CampaignModel{
		ID:                     c.ID,
		TenantID:               c.TenantID,
		Name:                   c.Name,
		Type:                   c.Type,
		Status:                 c.Status,
		Priority:               c.Priority,
		TemplateID:             optionalString(c.TemplateID),
		ScheduledFor:           c.ScheduledFor,
		EnableFallback:         c.EnableFallback,
		FallbackChannel:        c.FallbackChannel,
		RateLimit:              c.RateLimit,
		AudienceIDs:            audiences,
		RecipientCount:         c.RecipientCount,
		StatsTotalRecipients:   c.Stats.TotalRecipients,
		StatsSent:              c.Stats.MessagesSent,
		StatsDelivered:         c.Stats.MessagesDelivered,
		StatsFailed:            c.Stats.MessagesFailed,
		StatsRead:              c.Stats.MessagesRead,
		StatsFallbackTriggered: c.Stats.FallbackTriggered,
		StatsOptOuts:           c.Stats.OptOuts,
		Metadata:               metadata,
		Tags:                   tags,
		CreatedAt:              c.CreatedAt,
		UpdatedAt:              c.UpdatedAt,
	}
}

func campaignModelToDomain(model *CampaignModel) *domain.Campaign {
	if model == nil {
		return nil
	}

	var audiences []string
	if len(model.AudienceIDs) > 0 {
		_ = json.Unmarshal(model.AudienceIDs, &audiences)
	}

	metadata := map[string]string{}
	if len(model.Metadata) > 0 {
		_ = json.Unmarshal(model.Metadata, &metadata)
	}

	var tags []string
	if len(model.Tags) > 0 {
		_ = json.Unmarshal(model.Tags, &tags)
	}

	return &domain.Campaign{
		ID:              model.ID,
		TenantID:        model.TenantID,
		Name:            model.Name,
		Type:            model.Type,
		Status:          model.Status,
		Priority:        model.Priority,
		TemplateID:      stringValue(model.TemplateID),
		ScheduledFor:    model.ScheduledFor,
		EnableFallback:  model.EnableFallback,
		FallbackChannel: model.FallbackChannel,
		RateLimit:       model.RateLimit,
		AudienceIDs:     audiences,
		RecipientCount:  model.RecipientCount,
		Stats: domain.CampaignStats{
			TotalRecipients:   model.StatsTotalRecipients,
			MessagesSent:      model.StatsSent,
			MessagesDelivered: model.StatsDelivered,
			MessagesFailed:    model.StatsFailed,
			MessagesRead:      model.StatsRead,
			FallbackTriggered: model.StatsFallbackTriggered,
			OptOuts:           model.StatsOptOuts,
		},
		Metadata:  metadata,
		Tags:      tags,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}

func templateModelFromDomain(t *domain.Template) *TemplateModel {
	if t == nil {
		return nil
	}

	content, _ := json.Marshal(t.Content)

	return &TemplateModel{
		ID:        t.ID,
		TenantID:  t.TenantID,
		Name:      t.Name,
		Status:    t.Status,
		Content:   content,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func templateModelToDomain(model *TemplateModel) *domain.Template {
	if model == nil {
		return nil
	}

	var content domain.MessageContent
	_ = json.Unmarshal(model.Content, &content)

	return &domain.Template{
		ID:        model.ID,
		TenantID:  model.TenantID,
		Name:      model.Name,
		Status:    model.Status,
		Content:   content,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}

func optOutModelFromDomain(o *domain.OptOut) *OptOutModel {
	if o == nil {
		return nil
	}

	return &OptOutModel{
		ID:        o.ID,
		TenantID:  o.TenantID,
		Phone:     o.Phone,
		Reason:    o.Reason,
		CreatedAt: o.CreatedAt,
	}
}

func optOutModelToDomain(model *OptOutModel) *domain.OptOut {
	if model == nil {
		return nil
	}

	return &domain.OptOut{
		ID:        model.ID,
		TenantID:  model.TenantID,
		Phone:     model.Phone,
		Reason:    model.Reason,
		CreatedAt: model.CreatedAt,
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
