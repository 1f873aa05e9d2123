// Package dispatcher drains the email outbox: it claims due entries, renders
// and sends them, and records the outcome with bounded exponential retry.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pactsign-backend/internal/mail"
	"github.com/angelmondragon/pactsign-backend/pkg/config"
	"github.com/angelmondragon/pactsign-backend/pkg/db/models"
	"github.com/angelmondragon/pactsign-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pactsign-backend/pkg/errors"
	"github.com/angelmondragon/pactsign-backend/pkg/logger"
	"github.com/angelmondragon/pactsign-backend/pkg/metrics"
	"github.com/angelmondragon/pactsign-backend/pkg/outbox"
)

const (
	defaultBatchSize    = 10
	defaultPollInterval = 10 * time.Second
	defaultSendTimeout  = 30 * time.Second
	defaultStaleAfter   = 5 * time.Minute
	maxErrorBackoff     = time.Minute
)

type outboxRepository interface {
	FetchDispatchable(ctx context.Context, now, staleCutoff time.Time, limit int) ([]models.EmailOutbox, error)
	Claim(ctx context.Context, id uuid.UUID, version int64, now, staleCutoff time.Time) (bool, error)
	MarkSent(ctx context.Context, id uuid.UUID, claimVersion int64, now time.Time) (bool, error)
	MarkRetry(ctx context.Context, id uuid.UUID, claimVersion int64, retryCount int, nextRetryAt time.Time, cause error, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, claimVersion int64, retryCount int, cause error, now time.Time) (bool, error)
}

type renderer interface {
	Render(template enums.EmailTemplate, vars map[string]any) (mail.Rendered, error)
}

type ServiceParams struct {
	Config      config.OutboxConfig
	Logger      *logger.Logger
	Repository  outboxRepository
	Renderer    renderer
	Transport   mail.Transport
	Attachments mail.AttachmentLoader
	Metrics     *metrics.DispatchMetrics
	Now         func() time.Time
	Jitter      func(window time.Duration) time.Duration
}

type Service struct {
	logg         *logger.Logger
	repo         outboxRepository
	renderer     renderer
	transport    mail.Transport
	attachments  mail.AttachmentLoader
	metrics      *metrics.DispatchMetrics
	backoff      outbox.Backoff
	batchSize    int
	pollInterval time.Duration
	sendTimeout  time.Duration
	staleAfter   time.Duration
	now          func() time.Time
	jitter       func(time.Duration) time.Duration

	wake chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.Renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if params.Transport == nil {
		return nil, errors.New("mail transport is required")
	}

	cfg := params.Config
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	staleAfter := cfg.StaleClaimAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	jitter := params.Jitter
	if jitter == nil {
		jitter = outbox.RandomJitter
	}

	return &Service{
		logg:         params.Logger,
		repo:         params.Repository,
		renderer:     params.Renderer,
		transport:    params.Transport,
		attachments:  params.Attachments,
		metrics:      params.Metrics,
		backoff:      outbox.BackoffFromConfig(cfg),
		batchSize:    batch,
		pollInterval: poll,
		sendTimeout:  sendTimeout,
		staleAfter:   staleAfter,
		now:          func() time.Time { return now().UTC() },
		jitter:       jitter,
		wake:         make(chan struct{}, 1),
	}, nil
}

// Wake cuts the current idle wait short. It never blocks.
func (s *Service) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start runs the loop in the background until Stop or ctx cancellation.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		if err := s.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logg.Error(runCtx, "email dispatcher stopped unexpectedly", err)
		}
	}(s.done)
}

// Stop cancels a loop started with Start. The entry being sent is finished
// and written back first; the rest of the batch stays for the next run.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Service) Run(ctx context.Context) error {
	backoff := s.pollInterval
	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "email dispatcher context canceled")
			return ctx.Err()
		default:
		}

		handled, err := s.processBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logg.Error(ctx, "email dispatcher batch error", err)
			backoff = nextBackoff(backoff, s.pollInterval, maxErrorBackoff)
			if err := s.sleep(ctx, backoff); err != nil {
				return err
			}
			continue
		}
		backoff = s.pollInterval

		// A full batch suggests more work is waiting.
		if handled >= s.batchSize {
			continue
		}
		if err := s.idle(ctx); err != nil {
			return err
		}
	}
}

// processBatch delivers one batch and reports how many entries it fetched.
func (s *Service) processBatch(ctx context.Context) (int, error) {
	now := s.now()
	entries, err := s.repo.FetchDispatchable(ctx, now, now.Add(-s.staleAfter), s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch dispatchable: %w", err)
	}
	for i := range entries {
		if ctx.Err() != nil {
			return i, nil
		}
		if err := s.deliver(ctx, entries[i]); err != nil {
			return len(entries), err
		}
	}
	return len(entries), nil
}

// deliver claims, sends, and records a single entry. Only persistence errors
// are returned; delivery failures are written back to the row.
func (s *Service) deliver(ctx context.Context, entry models.EmailOutbox) error {
	ctx = s.logg.WithOutboxEntry(ctx, entry.ID.String(), string(entry.Template))
	template := string(entry.Template)

	claimedAt := s.now()
	ok, err := s.repo.Claim(ctx, entry.ID, entry.Version, claimedAt, claimedAt.Add(-s.staleAfter))
	if err != nil {
		return fmt.Errorf("claim %s: %w", entry.ID, err)
	}
	if !ok {
		s.metrics.IncConflict()
		s.logg.Debug(ctx, "outbox entry claimed elsewhere")
		return nil
	}
	if entry.Status == enums.EmailOutboxSending {
		s.logg.Warn(ctx, "reclaimed stale outbox entry")
	}
	claimVersion := entry.Version + 1

	// A claimed entry is sent and written back even if ctx is cancelled.
	work := context.WithoutCancel(ctx)
	started := time.Now()
	sendErr := s.send(work, entry)
	s.metrics.ObserveSend(template, time.Since(started))

	writeCtx, cancel := context.WithTimeout(work, s.sendTimeout)
	defer cancel()

	now := s.now()
	if sendErr == nil {
		written, err := s.repo.MarkSent(writeCtx, entry.ID, claimVersion, now)
		if err != nil {
			return fmt.Errorf("mark sent %s: %w", entry.ID, err)
		}
		if !written {
			s.lostClaim(ctx)
			return nil
		}
		s.metrics.IncSent(template)
		s.logg.Info(ctx, "email sent")
		return nil
	}

	outcome := s.backoff.NextAttempt(now, entry.RetryCount, entry.MaxRetries, s.jitter(s.backoff.Jitter))
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"retry_count": outcome.RetryCount,
		"max_retries": entry.MaxRetries,
		"error":       sendErr.Error(),
	})
	var written bool
	if outcome.Failed {
		written, err = s.repo.MarkFailed(writeCtx, entry.ID, claimVersion, outcome.RetryCount, sendErr, now)
		if err != nil {
			return fmt.Errorf("mark failed %s: %w", entry.ID, err)
		}
		if written {
			s.metrics.IncFailed(template)
			s.logg.Warn(logCtx, "email delivery failed permanently")
		}
	} else {
		written, err = s.repo.MarkRetry(writeCtx, entry.ID, claimVersion, outcome.RetryCount, outcome.NextRetryAt, sendErr, now)
		if err != nil {
			return fmt.Errorf("mark retry %s: %w", entry.ID, err)
		}
		if written {
			s.metrics.IncRetried(template)
			s.logg.Warn(s.logg.WithField(logCtx, "next_retry_at", outcome.NextRetryAt), "email delivery failed, retry scheduled")
		}
	}
	if !written {
		s.lostClaim(ctx)
	}
	return nil
}

func (s *Service) lostClaim(ctx context.Context) {
	s.metrics.IncConflict()
	s.logg.Warn(ctx, "outbox entry changed while sending, result discarded")
}

// send renders the entry, loads attachments, and hands the message to the
// transport under the per-send timeout. Every failure is a transport error.
func (s *Service) send(ctx context.Context, entry models.EmailOutbox) error {
	rendered, err := s.renderer.Render(entry.Template, map[string]any(entry.TemplateVariables))
	if err != nil {
		return transportError("render email", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	attachments, err := s.loadAttachments(sendCtx, entry.Attachments)
	if err != nil {
		return transportError("load attachments", err)
	}
	msg := mail.Message{
		To:          entry.RecipientEmail,
		ToName:      entry.RecipientName,
		Subject:     rendered.Subject,
		HTML:        rendered.HTML,
		Text:        rendered.Text,
		Attachments: attachments,
	}
	if err := s.transport.Send(sendCtx, msg); err != nil {
		return transportError("send email", err)
	}
	return nil
}

// transportError keeps the cause text so it lands in error_message.
func transportError(step string, err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeTransport, err, fmt.Sprintf("%s: %v", step, err))
}

func (s *Service) loadAttachments(ctx context.Context, refs []models.EmailAttachment) ([]mail.Attachment, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	if s.attachments == nil {
		return nil, errors.New("attachment storage is not configured")
	}
	out := make([]mail.Attachment, 0, len(refs))
	for _, ref := range refs {
		data, err := s.attachments.Load(ctx, ref.StorageKey)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", ref.StorageKey, err)
		}
		out = append(out, mail.Attachment{Filename: ref.Filename, ContentType: ref.ContentType, Data: data})
	}
	return out, nil
}

// idle waits for the poll interval or a wake signal.
func (s *Service) idle(ctx context.Context) error {
	timer := time.NewTimer(s.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.wake:
		return nil
	case <-timer.C:
		return nil
	}
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}
