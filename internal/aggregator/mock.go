package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Mock is an in-memory vendor for local runs and tests. Every send
// succeeds and every number is RCS-capable unless marked otherwise.
type Mock struct {
	counter atomic.Int64

	mu       sync.RWMutex
	noRCS    map[string]struct{}
	statuses map[string]*StatusUpdate
}

func NewMock() *Mock {
	return &Mock{
		noRCS:    make(map[string]struct{}),
		statuses: make(map[string]*StatusUpdate),
	}
}

func (m *Mock) Name() string { return "mock" }

// DisableRCS marks a number as not RCS-capable.
func (m *Mock) DisableRCS(phone string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noRCS[phone] = struct{}{}
}

func (m *Mock) SendRCS(ctx context.Context, req SendRequest) (*SendResponse, error) {
	return m.send(req)
}

func (m *Mock) SendSMS(ctx context.Context, req SendRequest) (*SendResponse, error) {
	return m.send(req)
}

func (m *Mock) send(req SendRequest) (*SendResponse, error) {
	externalID := fmt.Sprintf("mock-%d", m.counter.Add(1))

	m.mu.Lock()
	m.statuses[externalID] = &StatusUpdate{
		ExternalID: externalID,
		State:      StateSent,
		OccurredAt: time.Now().UTC(),
	}
	m.mu.Unlock()

	return &SendResponse{Success: true, ExternalID: externalID}, nil
}

func (m *Mock) CheckCapability(ctx context.Context, phones []string) ([]Capability, error) {
	now := time.Now().UTC()

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]Capability, 0, len(phones))
	for _, phone := range phones {
		_, disabled := m.noRCS[phone]
		results = append(results, Capability{
			Phone:       phone,
			RCSEnabled:  !disabled,
			LastChecked: now,
		})
	}
	return results, nil
}

func (m *Mock) DeliveryStatus(ctx context.Context, externalID string) (*StatusUpdate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, ok := m.statuses[externalID]
	if !ok {
		return nil, fmt.Errorf("unknown external id %q", externalID)
	}
	copied := *status
	return &copied, nil
}

func (m *Mock) ParseWebhook(body []byte, headers map[string]string) (*StatusUpdate, error) {
	return parseStatusPayload(body)
}

func (m *Mock) ValidateSignature(body []byte, signature string) bool {
	return json.Valid(body)
}
