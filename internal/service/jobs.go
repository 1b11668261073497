package service

import "encoding/json"

// DispatchJob asks the dispatcher to run one delivery attempt.
type DispatchJob struct {
	MessageID string `json:"messageId"`
}

// FallbackJob asks the fallback worker to send the SMS leg.
type FallbackJob struct {
	MessageID string `json:"messageId"`
}

// OrchestrateJob asks the orchestrator to expand one campaign.
type OrchestrateJob struct {
	CampaignID string `json:"campaignId"`
}

// WebhookJob carries a raw vendor callback for asynchronous processing.
type WebhookJob struct {
	WebhookID  string            `json:"webhookId"`
	Aggregator string            `json:"aggregator"`
	Payload    json.RawMessage   `json:"payload"`
	Headers    map[string]string `json:"headers"`
}
