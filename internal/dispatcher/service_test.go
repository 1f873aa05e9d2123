package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/pactsign-backend/internal/mail"
	"github.com/angelmondragon/pactsign-backend/pkg/config"
	"github.com/angelmondragon/pactsign-backend/pkg/db/dbtest"
	"github.com/angelmondragon/pactsign-backend/pkg/db/models"
	"github.com/angelmondragon/pactsign-backend/pkg/enums"
	"github.com/angelmondragon/pactsign-backend/pkg/logger"
	"github.com/angelmondragon/pactsign-backend/pkg/metrics"
	"github.com/angelmondragon/pactsign-backend/pkg/outbox"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeTransport struct {
	mu       sync.Mutex
	failures int
	sent     []mail.Message
	onSend   func()
}

func (f *fakeTransport) Send(_ context.Context, msg mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onSend != nil {
		f.onSend()
	}
	if f.failures > 0 {
		f.failures--
		return errors.New("smtp 451 try again later")
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeLoader struct {
	objects map[string][]byte
}

func (f fakeLoader) Load(_ context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return data, nil
}

type harness struct {
	db        *gorm.DB
	svc       *Service
	transport *fakeTransport
	registry  *prometheus.Registry
	clock     time.Time
	logs      *bytes.Buffer
}

func newHarness(t *testing.T, transport *fakeTransport, loader mail.AttachmentLoader) *harness {
	t.Helper()
	db := dbtest.Open(t)
	renderer, err := mail.NewRenderer()
	require.NoError(t, err)

	h := &harness{db: db, transport: transport, registry: prometheus.NewRegistry(), clock: baseTime, logs: &bytes.Buffer{}}
	svc, err := NewService(ServiceParams{
		Config: config.OutboxConfig{
			BatchSize:       10,
			PollInterval:    time.Second,
			BackoffBase:     30 * time.Second,
			BackoffMax:      30 * time.Minute,
			BackoffJitter:   5 * time.Second,
			StaleClaimAfter: 5 * time.Minute,
			SendTimeout:     time.Second,
		},
		Logger:      logger.New(logger.Options{ServiceName: "dispatcher-test", Output: h.logs}),
		Repository:  outbox.NewRepository(db),
		Renderer:    renderer,
		Transport:   transport,
		Attachments: loader,
		Metrics:     metrics.NewDispatchMetrics(h.registry),
		Now:         func() time.Time { return h.clock },
		Jitter:      func(time.Duration) time.Duration { return 0 },
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) seed(t *testing.T, mutate func(*models.EmailOutbox)) models.EmailOutbox {
	t.Helper()
	row := models.EmailOutbox{
		ID:             uuid.Must(uuid.NewV7()),
		Template:       enums.EmailTemplateSigningRequest,
		RecipientEmail: "bob@example.com",
		RecipientName:  "Bob",
		TemplateVariables: map[string]any{
			"contractTitle": "NDA",
			"recipientName": "Bob",
			"contractUrl":   "https://sign.example.com/s/abc",
		},
		Status:     enums.EmailOutboxPending,
		MaxRetries: 5,
		CreatedAt:  baseTime,
		UpdatedAt:  baseTime,
		Version:    1,
	}
	if mutate != nil {
		mutate(&row)
	}
	require.NoError(t, h.db.Create(&row).Error)
	return row
}

func (h *harness) reload(t *testing.T, id uuid.UUID) models.EmailOutbox {
	t.Helper()
	var row models.EmailOutbox
	require.NoError(t, h.db.First(&row, "id = ?", id).Error)
	return row
}

func (h *harness) counter(t *testing.T, name string) float64 {
	t.Helper()
	families, err := h.registry.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestDeliverSuccessMarksSent(t *testing.T) {
	h := newHarness(t, &fakeTransport{}, nil)
	row := h.seed(t, nil)

	handled, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, handled)

	got := h.reload(t, row.ID)
	assert.Equal(t, enums.EmailOutboxSent, got.Status)
	require.NotNil(t, got.SentAt)
	assert.True(t, got.SentAt.Equal(baseTime))
	assert.Nil(t, got.ErrorMessage)
	assert.Equal(t, int64(3), got.Version)

	require.Len(t, h.transport.sent, 1)
	msg := h.transport.sent[0]
	assert.Equal(t, "bob@example.com", msg.To)
	assert.Equal(t, "Signature requested: NDA", msg.Subject)
	assert.Contains(t, msg.HTML, "https://sign.example.com/s/abc")
	assert.Equal(t, 1.0, h.counter(t, "email_outbox_sent_total"))
}

func TestFirstFailureSchedulesRetryAfterBase(t *testing.T) {
	h := newHarness(t, &fakeTransport{failures: 1}, nil)
	row := h.seed(t, nil)

	_, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)

	got := h.reload(t, row.ID)
	assert.Equal(t, enums.EmailOutboxPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.NextRetryAt)
	assert.True(t, got.NextRetryAt.Equal(baseTime.Add(30*time.Second)), "got %s", got.NextRetryAt)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "smtp 451")

	// Not due yet.
	h.clock = baseTime.Add(10 * time.Second)
	handled, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, handled)
	assert.Equal(t, 1.0, h.counter(t, "email_outbox_retried_total"))
}

func TestPermanentFailureAfterMaxRetries(t *testing.T) {
	h := newHarness(t, &fakeTransport{failures: 100}, nil)
	row := h.seed(t, nil)
	ctx := context.Background()

	attempts := 0
	for i := 0; i < 10; i++ {
		handled, err := h.svc.processBatch(ctx)
		require.NoError(t, err)
		attempts += handled
		current := h.reload(t, row.ID)
		if current.Status == enums.EmailOutboxFailed {
			break
		}
		require.NotNil(t, current.NextRetryAt)
		h.clock = current.NextRetryAt.Add(time.Second)
	}

	got := h.reload(t, row.ID)
	assert.Equal(t, 5, attempts)
	assert.Equal(t, enums.EmailOutboxFailed, got.Status)
	assert.Equal(t, 5, got.RetryCount)
	assert.Nil(t, got.NextRetryAt)
	assert.Equal(t, 1.0, h.counter(t, "email_outbox_failed_total"))
	assert.Equal(t, 4.0, h.counter(t, "email_outbox_retried_total"))

	handled, err := h.svc.processBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, handled, "failed entries are never picked up again")
}

func TestBackoffDoublesBetweenAttempts(t *testing.T) {
	h := newHarness(t, &fakeTransport{failures: 3}, nil)
	row := h.seed(t, nil)
	ctx := context.Background()

	var delays []time.Duration
	for i := 0; i < 3; i++ {
		_, err := h.svc.processBatch(ctx)
		require.NoError(t, err)
		got := h.reload(t, row.ID)
		require.NotNil(t, got.NextRetryAt)
		delays = append(delays, got.NextRetryAt.Sub(h.clock))
		h.clock = *got.NextRetryAt
	}
	assert.Equal(t, []time.Duration{30 * time.Second, time.Minute, 2 * time.Minute}, delays)
}

func TestStaleClaimIsRecoveredWithoutConsumingRetry(t *testing.T) {
	h := newHarness(t, &fakeTransport{}, nil)
	claimedAt := baseTime.Add(-10 * time.Minute)
	stale := h.seed(t, func(r *models.EmailOutbox) {
		r.Status = enums.EmailOutboxSending
		r.ClaimedAt = &claimedAt
		r.RetryCount = 2
		r.Version = 4
	})
	recent := baseTime.Add(-time.Minute)
	busy := h.seed(t, func(r *models.EmailOutbox) {
		r.Status = enums.EmailOutboxSending
		r.ClaimedAt = &recent
	})

	handled, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, handled)

	got := h.reload(t, stale.ID)
	assert.Equal(t, enums.EmailOutboxSent, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, enums.EmailOutboxSending, h.reload(t, busy.ID).Status)
	assert.Contains(t, h.logs.String(), "reclaimed stale outbox entry")
}

func TestLostWriteBackDiscardsResult(t *testing.T) {
	transport := &fakeTransport{}
	h := newHarness(t, transport, nil)
	row := h.seed(t, nil)
	transport.onSend = func() {
		// Another dispatcher reclaims the row while this send is in flight.
		require.NoError(t, h.db.Model(&models.EmailOutbox{}).
			Where("id = ?", row.ID).
			Update("version", gorm.Expr("version + 1")).Error)
	}

	_, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)

	got := h.reload(t, row.ID)
	assert.Equal(t, enums.EmailOutboxSending, got.Status)
	assert.Nil(t, got.SentAt)
	assert.Equal(t, 1.0, h.counter(t, "email_outbox_claim_conflicts_total"))
	assert.Zero(t, h.counter(t, "email_outbox_sent_total"))
}

func TestAttachmentsAreLoadedBeforeSend(t *testing.T) {
	loader := fakeLoader{objects: map[string][]byte{"contracts/1/signed.pdf": []byte("%PDF")}}
	h := newHarness(t, &fakeTransport{}, loader)
	row := h.seed(t, func(r *models.EmailOutbox) {
		r.Template = enums.EmailTemplateCompleted
		r.Attachments = []models.EmailAttachment{{Filename: "contract.pdf", ContentType: "application/pdf", StorageKey: "contracts/1/signed.pdf"}}
	})

	_, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, enums.EmailOutboxSent, h.reload(t, row.ID).Status)
	require.Len(t, h.transport.sent, 1)
	require.Len(t, h.transport.sent[0].Attachments, 1)
	assert.Equal(t, []byte("%PDF"), h.transport.sent[0].Attachments[0].Data)
}

func TestMissingAttachmentCountsAsTransportFailure(t *testing.T) {
	h := newHarness(t, &fakeTransport{}, fakeLoader{})
	row := h.seed(t, func(r *models.EmailOutbox) {
		r.Attachments = []models.EmailAttachment{{Filename: "contract.pdf", StorageKey: "missing.pdf"}}
	})

	_, err := h.svc.processBatch(context.Background())
	require.NoError(t, err)

	got := h.reload(t, row.ID)
	assert.Equal(t, enums.EmailOutboxPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "missing.pdf")
	assert.Empty(t, h.transport.sent)
}

type lostClaimRepo struct {
	outboxRepository
	entries []models.EmailOutbox
}

func (r lostClaimRepo) FetchDispatchable(context.Context, time.Time, time.Time, int) ([]models.EmailOutbox, error) {
	return r.entries, nil
}

func (lostClaimRepo) Claim(context.Context, uuid.UUID, int64, time.Time, time.Time) (bool, error) {
	return false, nil
}

func TestLostClaimSkipsEntry(t *testing.T) {
	transport := &fakeTransport{}
	registry := prometheus.NewRegistry()
	renderer, err := mail.NewRenderer()
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Logger:     logger.New(logger.Options{ServiceName: "dispatcher-test", Output: &bytes.Buffer{}}),
		Repository: lostClaimRepo{entries: []models.EmailOutbox{{ID: uuid.New(), Version: 1}}},
		Renderer:   renderer,
		Transport:  transport,
		Metrics:    metrics.NewDispatchMetrics(registry),
	})
	require.NoError(t, err)

	handled, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, handled)
	assert.Empty(t, transport.sent)
}

func TestWakeDoesNotBlockAndStopWaits(t *testing.T) {
	h := newHarness(t, &fakeTransport{}, nil)
	h.svc.Wake()
	h.svc.Wake()

	h.svc.Start(context.Background())
	row := h.seed(t, nil)
	h.svc.Wake()

	require.Eventually(t, func() bool {
		var got models.EmailOutbox
		if err := h.db.First(&got, "id = ?", row.ID).Error; err != nil {
			return false
		}
		return got.Status == enums.EmailOutboxSent
	}, 2*time.Second, 10*time.Millisecond)

	h.svc.Stop()
	h.svc.Stop()
}

// gatedTransport holds every send until release is closed.
type gatedTransport struct {
	started chan struct{}
	release chan struct{}

	mu     sync.Mutex
	sent   []mail.Message
	ctxErr []error
}

func (g *gatedTransport) Send(ctx context.Context, msg mail.Message) error {
	g.started <- struct{}{}
	<-g.release
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ctxErr = append(g.ctxErr, ctx.Err())
	if err := ctx.Err(); err != nil {
		return err
	}
	g.sent = append(g.sent, msg)
	return nil
}

func TestStopFinishesInFlightSendAndLeavesRestOfBatch(t *testing.T) {
	h := newHarness(t, &fakeTransport{}, nil)
	gate := &gatedTransport{started: make(chan struct{}, 1), release: make(chan struct{})}
	h.svc.transport = gate

	first := h.seed(t, nil)
	second := h.seed(t, func(row *models.EmailOutbox) { row.CreatedAt = baseTime.Add(time.Second) })

	h.svc.Start(context.Background())
	select {
	case <-gate.started:
	case <-time.After(2 * time.Second):
		t.Fatal("send never started")
	}

	stopped := make(chan struct{})
	go func() {
		h.svc.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a send was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(gate.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the send finished")
	}

	require.Len(t, gate.ctxErr, 1, "only the claimed entry is sent")
	assert.NoError(t, gate.ctxErr[0])
	assert.Equal(t, enums.EmailOutboxSent, h.reload(t, first.ID).Status)

	rest := h.reload(t, second.ID)
	assert.Equal(t, enums.EmailOutboxPending, rest.Status)
	assert.Equal(t, 0, rest.RetryCount)
}
