package service

import (
	"context"
	"time"

	"github.com/kursadbilgin/rcs-campaign-engine/internal/aggregator"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/audience"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/domain"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/queue"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/repository"
)

// fakeUnitOfWork runs the callback against a fixed set of fake
// repositories without any transaction.
type fakeUnitOfWork struct {
	repos repository.Repositories
}

func (u *fakeUnitOfWork) Do(ctx context.Context, fn func(r repository.Repositories) error) error {
	return fn(u.repos)
}

type fakeMessageRepo struct {
	createFn          func(ctx context.Context, m *domain.Message) error
	createBatchFn     func(ctx context.Context, messages []*domain.Message) error
	getByIDFn         func(ctx context.Context, id string) (*domain.Message, error)
	getByExternalIDFn func(ctx context.Context, externalID string) (*domain.Message, error)
	listFn            func(ctx context.Context, params repository.MessageListParams) ([]domain.Message, int64, error)
	saveFn            func(ctx context.Context, m *domain.Message) error
	lockFn            func(ctx context.Context, id string) (*domain.Message, error)
}

func (f *fakeMessageRepo) Create(ctx context.Context, m *domain.Message) error {
	if f.createFn == nil {
		return nil
	}
	return f.createFn(ctx, m)
}

func (f *fakeMessageRepo) CreateBatch(ctx context.Context, messages []*domain.Message) error {
	if f.createBatchFn == nil {
		return nil
	}
	return f.createBatchFn(ctx, messages)
}

func (f *fakeMessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	if f.getByIDFn == nil {
		return nil, domain.ErrNotFound
	}
	return f.getByIDFn(ctx, id)
}

func (f *fakeMessageRepo) GetByExternalID(ctx context.Context, externalID string) (*domain.Message, error) {
	if f.getByExternalIDFn == nil {
		return nil, domain.ErrNotFound
	}
	return f.getByExternalIDFn(ctx, externalID)
}

func (f *fakeMessageRepo) List(ctx context.Context, params repository.MessageListParams) ([]domain.Message, int64, error) {
	if f.listFn == nil {
		return nil, 0, nil
	}
	return f.listFn(ctx, params)
}

func (f *fakeMessageRepo) Save(ctx context.Context, m *domain.Message) error {
	if f.saveFn == nil {
		return nil
	}
	return f.saveFn(ctx, m)
}

func (f *fakeMessageRepo) LockForProcessing(ctx context.Context, id string) (*domain.Message, error) {
	if f.lockFn == nil {
		return nil, domain.ErrNotFound
	}
	return f.lockFn(ctx, id)
}

type fakeCampaignRepo struct {
	createFn         func(ctx context.Context, c *domain.Campaign) error
	getByIDFn        func(ctx context.Context, id string) (*domain.Campaign, error)
	saveFn           func(ctx context.Context, c *domain.Campaign) error
	incrementStatsFn func(ctx context.Context, id string, delta repository.StatsDelta) error
	listByStatusFn   func(ctx context.Context, status domain.CampaignStatus, limit int) ([]domain.Campaign, error)
}

func (f *fakeCampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	if f.createFn == nil {
		return nil
	}
	return f.createFn(ctx, c)
}

func (f *fakeCampaignRepo) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	if f.getByIDFn == nil {
		return nil, domain.ErrNotFound
	}
	return f.getByIDFn(ctx, id)
}

func (f *fakeCampaignRepo) Save(ctx context.Context, c *domain.Campaign) error {
	if f.saveFn == nil {
		return nil
	}
	return f.saveFn(ctx, c)
}

func (f *fakeCampaignRepo) IncrementStats(ctx context.Context, id string, delta repository.StatsDelta) error {
	if f.incrementStatsFn == nil {
		return nil
	}
	return f.incrementStatsFn(ctx, id, delta)
}

func (f *fakeCampaignRepo) ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]domain.Campaign, error) {
	if f.listByStatusFn == nil {
		return nil, nil
	}
	return f.listByStatusFn(ctx, status, limit)
}

type fakeTemplateRepo struct {
	createFn  func(ctx context.Context, t *domain.Template) error
	getByIDFn func(ctx context.Context, id string) (*domain.Template, error)
	saveFn    func(ctx context.Context, t *domain.Template) error
}

func (f *fakeTemplateRepo) Create(ctx context.Context, t *domain.Template) error {
	if f.createFn == nil {
		return nil
	}
	return f.createFn(ctx, t)
}

func (f *fakeTemplateRepo) GetByID(ctx context.Context, id string) (*domain.Template, error) {
	if f.getByIDFn == nil {
		return nil, domain.ErrNotFound
	}
	return f.getByIDFn(ctx, id)
}

func (f *fakeTemplateRepo) Save(ctx context.Context, t *domain.Template) error {
	if f.saveFn == nil {
		return nil
	}
	return f.saveFn(ctx, t)
}

type fakeOptOutRepo struct {
	createFn         func(ctx context.Context, o *domain.OptOut) error
	isOptedOutFn     func(ctx context.Context, tenantID, phone string) (bool, error)
	filterOptedOutFn func(ctx context.Context, tenantID string, phones []string) (map[string]bool, error)
}

func (f *fakeOptOutRepo) Create(ctx context.Context, o *domain.OptOut) error {
	if f.createFn == nil {
		return nil
	}
	return f.createFn(ctx, o)
}

func (f *fakeOptOutRepo) IsOptedOut(ctx context.Context, tenantID, phone string) (bool, error) {
	if f.isOptedOutFn == nil {
		return false, nil
	}
	return f.isOptedOutFn(ctx, tenantID, phone)
}

func (f *fakeOptOutRepo) FilterOptedOut(ctx context.Context, tenantID string, phones []string) (map[string]bool, error) {
	if f.filterOptedOutFn == nil {
		return map[string]bool{}, nil
	}
	return f.filterOptedOutFn(ctx, tenantID, phones)
}

type fakeEventRepo struct {
	appendFn func(ctx context.Context, events []domain.Event) error
	getFn    func(ctx context.Context, aggregateID string) ([]domain.Event, error)
}

func (f *fakeEventRepo) Append(ctx context.Context, events []domain.Event) error {
	if f.appendFn == nil {
		return nil
	}
	return f.appendFn(ctx, events)
}

func (f *fakeEventRepo) GetByAggregateID(ctx context.Context, aggregateID string) ([]domain.Event, error) {
	if f.getFn == nil {
		return nil, nil
	}
	return f.getFn(ctx, aggregateID)
}

type fakePublisher struct {
	enqueueFn      func(ctx context.Context, job queue.Job) error
	enqueueBatchFn func(ctx context.Context, jobs []queue.Job) error
	scheduleFn     func(ctx context.Context, job queue.Job, delay time.Duration) error
}

func (f *fakePublisher) Enqueue(ctx context.Context, job queue.Job) error {
	if f.enqueueFn == nil {
		return nil
	}
	return f.enqueueFn(ctx, job)
}

func (f *fakePublisher) EnqueueBatch(ctx context.Context, jobs []queue.Job) error {
	if f.enqueueBatchFn == nil {
		return nil
	}
	return f.enqueueBatchFn(ctx, jobs)
}

func (f *fakePublisher) Schedule(ctx context.Context, job queue.Job, delay time.Duration) error {
	if f.scheduleFn == nil {
		return nil
	}
	return f.scheduleFn(ctx, job, delay)
}

func (f *fakePublisher) Close() error { return nil }

type fakeAggregator struct {
	name              string
	sendRCSFn         func(ctx context.Context, req aggregator.SendRequest) (*aggregator.SendResponse, error)
	sendSMSFn         func(ctx context.Context, req aggregator.SendRequest) (*aggregator.SendResponse, error)
	checkCapabilityFn func(ctx context.Context, phones []string) ([]aggregator.Capability, error)
}

func (f *fakeAggregator) Name() string {
	if f.name == "" {
		return "fake"
	}
	return f.name
}

func (f *fakeAggregator) SendRCS(ctx context.Context, req aggregator.SendRequest) (*aggregator.SendResponse, error) {
	if f.sendRCSFn == nil {
		return &aggregator.SendResponse{Success: true, ExternalID: "ext-rcs"}, nil
	}
	return f.sendRCSFn(ctx, req)
}

func (f *fakeAggregator) SendSMS(ctx context.Context, req aggregator.SendRequest) (*aggregator.SendResponse, error) {
	if f.sendSMSFn == nil {
		return &aggregator.SendResponse{Success: true, ExternalID: "ext-sms"}, nil
	}
	return f.sendSMSFn(ctx, req)
}

func (f *fakeAggregator) CheckCapability(ctx context.Context, phones []string) ([]aggregator.Capability, error) {
	if f.checkCapabilityFn == nil {
		caps := make([]aggregator.Capability, 0, len(phones))
		for _, p := range phones {
			caps = append(caps, aggregator.Capability{Phone: p, RCSEnabled: true})
		}
		return caps, nil
	}
	return f.checkCapabilityFn(ctx, phones)
}

func (f *fakeAggregator) DeliveryStatus(ctx context.Context, externalID string) (*aggregator.StatusUpdate, error) {
	return &aggregator.StatusUpdate{ExternalID: externalID, State: aggregator.StateUnknown}, nil
}

func (f *fakeAggregator) ParseWebhook(body []byte, headers map[string]string) (*aggregator.StatusUpdate, error) {
	return nil, aggregator.ErrInvalidSignature
}

func (f *fakeAggregator) ValidateSignature(body []byte, signature string) bool { return false }

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, tenantID string) (bool, error)
	waitFn  func(ctx context.Context, tenantID string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, tenantID string) (bool, error) {
	if f.allowFn == nil {
		return true, nil
	}
	return f.allowFn(ctx, tenantID)
}

func (f *fakeRateLimiter) Wait(ctx context.Context, tenantID string) error {
	if f.waitFn == nil {
		return nil
	}
	return f.waitFn(ctx, tenantID)
}

type fakeResolver struct {
	resolveFn func(ctx context.Context, tenantID string, audienceIDs []string) ([]audience.Recipient, error)
}

func (f *fakeResolver) Resolve(ctx context.Context, tenantID string, audienceIDs []string) ([]audience.Recipient, error) {
	if f.resolveFn == nil {
		return nil, nil
	}
	return f.resolveFn(ctx, tenantID, audienceIDs)
}

func newFakeUoW(repos repository.Repositories) *fakeUnitOfWork {
	if repos.Messages == nil {
		repos.Messages = &fakeMessageRepo{}
	}
	if repos.Campaigns == nil {
		repos.Campaigns = &fakeCampaignRepo{}
	}
	if repos.Templates == nil {
		repos.Templates = &fakeTemplateRepo{}
	}
	if repos.OptOuts == nil {
		repos.OptOuts = &fakeOptOutRepo{}
	}
	if repos.Events == nil {
		repos.Events = &fakeEventRepo{}
	}
	return &fakeUnitOfWork{repos: repos}
}
