package domain

import "time"

// Campaign event types.
const (
	EventCampaignCreated       = "campaign.created"
	EventCampaignScheduled     = "campaign.scheduled"
	EventCampaignActivated     = "campaign.activated"
	EventCampaignPaused        = "campaign.paused"
	EventCampaignResumed       = "campaign.resumed"
	EventCampaignCompleted     = "campaign.completed"
	EventCampaignCancelled     = "campaign.cancelled"
	EventCampaignAudienceAdded = "campaign.audience_added"
)

// Event records one aggregate state change. State-mutating operations
// return the events they produce; the caller persists them in the same
// transaction as the aggregate.
type Event struct {
	ID          string
	Type        string
	AggregateID string
	Version     int
	OccurredAt  time.Time
	Data        map[string]any
}
