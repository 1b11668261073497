package handler

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kursadbilgin/rcs-campaign-engine/internal/domain"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/queue"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/repository"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/service"
	"github.com/kursadbilgin/rcs-campaign-engine/internal/transport"
)

func TestCampaignIntegration_CreateCampaign(t *testing.T) {
	t.Parallel()

	svc := &stubCampaignService{
		createFn: func(ctx context.Context, input service.CreateCampaignInput) (*domain.Campaign, error) {
			campaign, _, err := domain.NewCampaign("camp-created", input.TenantID, input.Name, input.TemplateID, input.Type, input.Priority, time.Now())
			if err != nil {
				return nil, err
			}
			return campaign, nil
		},
	}

	app := newCampaignTestApp(t, svc)

	validBody := `{"tenantId":"tenant-1","name":"summer-sale","type":"promotional","priority":"high","templateId":"tmpl-1"}`
	resp, body := performRequest(t, app, http.MethodPost, "/v1/campaigns", validBody)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", resp.StatusCode, string(body))
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["id"] != "camp-created" {
		t.Fatalf("id = %v, want camp-created", parsed["id"])
	}
	if parsed["status"] != domain.CampaignDraft.String() {
		t.Fatalf("status = %v, want DRAFT", parsed["status"])
	}

	invalidTypeBody := `{"tenantId":"tenant-1","name":"summer-sale","type":"carrier-pigeon","priority":"high"}`
	resp, _ = performRequest(t, app, http.MethodPost, "/v1/campaigns", invalidTypeBody)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for invalid type", resp.StatusCode)
	}
}

func TestCampaignIntegration_GetCampaign(t *testing.T) {
	t.Parallel()

	svc := &stubCampaignService{
		getByIDFn: func(ctx context.Context, id string) (*domain.Campaign, error) {
			if id != "camp-found" {
				return nil, domain.ErrNotFound
			}
			campaign, _, err := domain.NewCampaign("camp-found", "tenant-1", "summer-sale", "tmpl-1", domain.CampaignPromotional, domain.PriorityHigh, time.Now())
			return campaign, err
		},
	}

	app := newCampaignTestApp(t, svc)

	resp, _ := performRequest(t, app, http.MethodGet, "/v1/campaigns/camp-found", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/campaigns/not-exists", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCampaignIntegration_LifecycleTransitions(t *testing.T) {
	t.Parallel()

	svc := &stubCampaignService{
		activateFn: func(ctx context.Context, id string) (*domain.Campaign, error) {
			if id == "camp-completed" {
				return nil, fmt.Errorf("%w: cannot activate campaign in COMPLETED status", domain.ErrInvalidState)
			}
			campaign, _, err := domain.NewCampaign(id, "tenant-1", "summer-sale", "tmpl-1", domain.CampaignPromotional, domain.PriorityHigh, time.Now())
			if err != nil {
				return nil, err
			}
			campaign.Status = domain.CampaignActive
			return campaign, nil
		},
		cancelFn: func(ctx context.Context, id, reason string) (*domain.Campaign, error) {
			if reason != "budget cut" {
				t.Fatalf("reason = %q, want budget cut", reason)
			}
			campaign, _, err := domain.NewCampaign(id, "tenant-1", "summer-sale", "tmpl-1", domain.CampaignPromotional, domain.PriorityHigh, time.Now())
			if err != nil {
				return nil, err
			}
			campaign.Status = domain.CampaignCancelled
			return campaign, nil
		},
	}

	app := newCampaignTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/campaigns/camp-1/activate", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/campaigns/camp-completed/activate", "")
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 for invalid state", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/campaigns/camp-1/cancel", `{"reason":"budget cut"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestCampaignIntegration_ScheduleCampaign(t *testing.T) {
	t.Parallel()

	expectedAt, _ := time.Parse(time.RFC3339, "2026-09-01T10:00:00Z")
	svc := &stubCampaignService{
		scheduleFn: func(ctx context.Context, id string, at time.Time) (*domain.Campaign, error) {
			if !at.Equal(expectedAt) {
				t.Fatalf("at = %v, want %v", at, expectedAt)
			}
			campaign, _, err := domain.NewCampaign(id, "tenant-1", "summer-sale", "tmpl-1", domain.CampaignPromotional, domain.PriorityHigh, time.Now())
			if err != nil {
				return nil, err
			}
			campaign.Status = domain.CampaignScheduled
			campaign.ScheduledFor = &expectedAt
			return campaign, nil
		},
	}

	app := newCampaignTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/campaigns/camp-1/schedule", `{"scheduledFor":"2026-09-01T10:00:00Z"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/campaigns/camp-1/schedule", `{"scheduledFor":"next tuesday"}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for invalid scheduledFor", resp.StatusCode)
	}
}

func TestMessageIntegration_SendMessage(t *testing.T) {
	t.Parallel()

	svc := &stubMessageService{
		sendFn: func(ctx context.Context, m *domain.Message) (*domain.Message, error) {
			m.ID = "msg-created"
			return m, nil
		},
	}

	app := newMessageTestApp(t, svc)

	validBody := `{"campaignId":"camp-1","tenantId":"tenant-1","recipientPhone":"+919876543210","priority":"high","content":{"text":"hello"}}`
	resp, body := performRequest(t, app, http.MethodPost, "/v1/messages", validBody)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["id"] != "msg-created" {
		t.Fatalf("id = %v, want msg-created", parsed["id"])
	}
	if parsed["status"] != domain.StatusPending.String() {
		t.Fatalf("status = %v, want PENDING", parsed["status"])
	}

	missingPhoneBody := `{"campaignId":"camp-1","tenantId":"tenant-1","recipientPhone":"","priority":"high","content":{"text":"hello"}}`
	resp, _ = performRequest(t, app, http.MethodPost, "/v1/messages", missingPhoneBody)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing phone", resp.StatusCode)
	}
}

func TestMessageIntegration_ListMessagesPaginationAndFilters(t *testing.T) {
	t.Parallel()

	svc := &stubMessageService{
		listFn: func(ctx context.Context, params repository.MessageListParams) ([]domain.Message, int64, error) {
			if params.Page != 2 || params.PageSize != 10 {
				t.Fatalf("page/pageSize = %d/%d, want 2/10", params.Page, params.PageSize)
			}
			if params.CampaignID == nil || *params.CampaignID != "camp-1" {
				t.Fatalf("campaignId filter = %v, want camp-1", params.CampaignID)
			}
			if params.Status == nil || *params.Status != domain.StatusSent {
				t.Fatalf("status filter = %v, want SENT", params.Status)
			}
			if params.Channel == nil || *params.Channel != domain.ChannelRCS {
				t.Fatalf("channel filter = %v, want RCS", params.Channel)
			}

			m, err := domain.NewMessage("msg-1", "camp-1", "tenant-1", "+919876543210", domain.MessageContent{Text: "hello"}, domain.PriorityHigh, true, time.Now())
			if err != nil {
				return nil, 0, err
			}
			return []domain.Message{*m}, 1, nil
		},
	}

	app := newMessageTestApp(t, svc)

	path := "/v1/messages?page=2&pageSize=10&campaignId=camp-1&status=sent&channel=rcs"
	resp, body := performRequest(t, app, http.MethodGet, path, "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Data []map[string]any `json:"data"`
		Meta struct {
			Page     int   `json:"page"`
			PageSize int   `json:"pageSize"`
			Total    int64 `json:"total"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.Meta.Page != 2 || parsed.Meta.PageSize != 10 || parsed.Meta.Total != 1 {
		t.Fatalf("meta = %+v, want page=2,pageSize=10,total=1", parsed.Meta)
	}
	if len(parsed.Data) != 1 {
		t.Fatalf("data len = %d, want 1", len(parsed.Data))
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/messages?pageSize=1000", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for oversized pageSize", resp.StatusCode)
	}
}

func TestWebhookIntegration_ReceiveWebhook(t *testing.T) {
	t.Parallel()

	var captured queue.Job
	pub := &stubPublisher{
		enqueueFn: func(ctx context.Context, job queue.Job) error {
			captured = job
			return nil
		},
	}

	app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
	if err := RegisterWebhookRoutes(app, pub); err != nil {
		t.Fatalf("RegisterWebhookRoutes() error = %v", err)
	}

	resp, body := performRequest(t, app, http.MethodPost, "/webhooks/gupshup", `{"type":"message-event","payload":{"id":"ext-1","type":"delivered"}}`)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}

	if captured.Queue != queue.QueueWebhook {
		t.Fatalf("queue = %s, want %s", captured.Queue, queue.QueueWebhook)
	}
	if captured.Priority != domain.PriorityUrgent {
		t.Fatalf("priority = %s, want URGENT", captured.Priority)
	}

	var payload service.WebhookJob
	if err := json.Unmarshal(captured.Payload, &payload); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if payload.Aggregator != "gupshup" {
		t.Fatalf("aggregator = %q, want gupshup", payload.Aggregator)
	}
	if !strings.Contains(string(payload.Payload), "message-event") {
		t.Fatalf("payload = %s, want raw body preserved", string(payload.Payload))
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/webhooks/gupshup", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for empty body", resp.StatusCode)
	}
}

func TestHealthIntegration_LivezAndReadyz(t *testing.T) {
	t.Parallel()

	t.Run("livez returns 200", func(t *testing.T) {
		t.Parallel()

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sql.OpenDB(stubConnector{}), newStubRedisClient(nil), stubBroker{connected: true})

		resp, body := performRequest(t, app, http.MethodGet, "/livez", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 200 when dependencies healthy", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(nil)
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, rdb, stubBroker{connected: true})

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 503 when dependencies down", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{pingErr: errors.New("postgres down")})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(errors.New("redis down"))
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, rdb, stubBroker{connected: false})

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
		}
	})
}

type stubCampaignService struct {
	createFn      func(ctx context.Context, input service.CreateCampaignInput) (*domain.Campaign, error)
	getByIDFn     func(ctx context.Context, id string) (*domain.Campaign, error)
	scheduleFn    func(ctx context.Context, id string, at time.Time) (*domain.Campaign, error)
	activateFn    func(ctx context.Context, id string) (*domain.Campaign, error)
	pauseFn       func(ctx context.Context, id string) (*domain.Campaign, error)
	resumeFn      func(ctx context.Context, id string) (*domain.Campaign, error)
	completeFn    func(ctx context.Context, id string) (*domain.Campaign, error)
	cancelFn      func(ctx context.Context, id, reason string) (*domain.Campaign, error)
	addAudienceFn func(ctx context.Context, id, audienceID string, recipientCount int) (*domain.Campaign, error)
	eventsFn      func(ctx context.Context, id string) ([]domain.Event, error)
}

func (s *stubCampaignService) Create(ctx context.Context, input service.CreateCampaignInput) (*domain.Campaign, error) {
	if s.createFn != nil {
		return s.createFn(ctx, input)
	}
	return nil, errors.New("not implemented")
}

func (s *stubCampaignService) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	if s.getByIDFn != nil {
		return s.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubCampaignService) Schedule(ctx context.Context, id string, at time.Time) (*domain.Campaign, error) {
	if s.scheduleFn != nil {
		return s.scheduleFn(ctx, id, at)
	}
	return nil, errors.New("not implemented")
}

func (s *stubCampaignService) Activate(ctx context.Context, id string) (*domain.Campaign, error) {
	if s.activateFn != nil {
		return s.activateFn(ctx, id)
	}
	return nil, errors.New("not implemented")
}

func (s *stubCampaignService) Pause(ctx context.Context, id string) (*domain.Campaign, error) {
	if s.pauseFn != nil {
		return s.pauseFn(ctx, id)
	}
	return nil, errors.New("not implemented")
}

func (s *stubCampaignService) Resume(ctx context.Context, id string) (*domain.Campaign, error) {
	if s.resumeFn != nil {
		return s.resumeFn(ctx, id)
	}
	return nil, errors.New("not implemented")
}

func (s *stubCampaignService) Complete(ctx context.Context, id string) (*domain.Campaign, error) {
	if s.completeFn != nil {
		return s.completeFn(ctx, id)
	}
	return nil, errors.New("not implemented")
}

func (s *stubCampaignService) Cancel(ctx context.Context, id, reason string) (*domain.Campaign, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, id, reason)
	}
	return nil, errors.New("not implemented")
}

func (s *stubCampaignService) AddAudience(ctx context.Context, id, audienceID string, recipientCount int) (*domain.Campaign, error) {
	if s.addAudienceFn != nil {
		return s.addAudienceFn(ctx, id, audienceID, recipientCount)
	}
	return nil, errors.New("not implemented")
}

func (s *stubCampaignService) Events(ctx context.Context, id string) ([]domain.Event, error) {
	if s.eventsFn != nil {
		return s.eventsFn(ctx, id)
	}
	return nil, nil
}

type stubMessageService struct {
	sendFn func(ctx context.Context, m *domain.Message) (*domain.Message, error)
	getFn  func(ctx context.Context, id string) (*domain.Message, error)
	listFn func(ctx context.Context, params repository.MessageListParams) ([]domain.Message, int64, error)
}

func (s *stubMessageService) SendMessage(ctx context.Context, m *domain.Message) (*domain.Message, error) {
	if s.sendFn != nil {
		return s.sendFn(ctx, m)
	}
	return nil, errors.New("not implemented")
}

func (s *stubMessageService) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubMessageService) ListMessages(ctx context.Context, params repository.MessageListParams) ([]domain.Message, int64, error) {
	if s.listFn != nil {
		return s.listFn(ctx, params)
	}
	return nil, 0, nil
}

type stubPublisher struct {
	enqueueFn func(ctx context.Context, job queue.Job) error
}

func (s *stubPublisher) Enqueue(ctx context.Context, job queue.Job) error {
	if s.enqueueFn != nil {
		return s.enqueueFn(ctx, job)
	}
	return nil
}

func (s *stubPublisher) EnqueueBatch(ctx context.Context, jobs []queue.Job) error { return nil }

func (s *stubPublisher) Schedule(ctx context.Context, job queue.Job, delay time.Duration) error {
	return nil
}

func (s *stubPublisher) Close() error { return nil }

func newCampaignTestApp(t *testing.T, svc CampaignService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	if err := RegisterCampaignRoutes(app, svc); err != nil {
		t.Fatalf("RegisterCampaignRoutes() error = %v", err)
	}

	return app
}

func newMessageTestApp(t *testing.T, svc MessageService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	if err := RegisterMessageRoutes(app, svc); err != nil {
		t.Fatalf("RegisterMessageRoutes() error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubBroker struct {
	connected bool
}

func (b stubBroker) Connected() bool { return b.connected }

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }

type stubRedisHook struct {
	pingErr error
}

func (h stubRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h stubRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "ping") {
			if h.pingErr != nil {
				cmd.SetErr(h.pingErr)
				return h.pingErr
			}
			cmd.SetErr(nil)
			return nil
		}
		cmd.SetErr(nil)
		return nil
	}
}

func (h stubRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			cmd.SetErr(nil)
		}
		return nil
	}
}

func newStubRedisClient(pingErr error) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:6379",
		DialTimeout:  time.Millisecond,
		ReadTimeout:  time.Millisecond,
		WriteTimeout: time.Millisecond,
	})
	rdb.AddHook(stubRedisHook{pingErr: pingErr})
	return rdb
}
