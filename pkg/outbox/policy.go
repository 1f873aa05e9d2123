package outbox

import (
	"math/rand"
	"sync"
	"time"

	"github.com/angelmondragon/pactsign-backend/pkg/config"
)

// Backoff computes the delay before a failed entry becomes dispatchable again.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration
}

func BackoffFromConfig(cfg config.OutboxConfig) Backoff {
	return Backoff{Base: cfg.BackoffBase, Max: cfg.BackoffMax, Jitter: cfg.BackoffJitter}
}

// Delay is min(Base*2^attempt, Max); attempt is the retry count before the
// failure being scheduled.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := b.Base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if b.Max > 0 && delay >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}

// Outcome is the state an entry moves to after a failed attempt.
type Outcome struct {
	RetryCount  int
	Failed      bool
	NextRetryAt time.Time
}

// NextAttempt applies one failure to an entry with the given counters. The
// entry fails permanently once retryCount reaches maxRetries.
func (b Backoff) NextAttempt(now time.Time, retryCount, maxRetries int, jitter time.Duration) Outcome {
	next := retryCount + 1
	if next >= maxRetries {
		return Outcome{RetryCount: next, Failed: true}
	}
	if jitter < 0 {
		jitter = 0
	}
	return Outcome{
		RetryCount:  next,
		NextRetryAt: now.Add(b.Delay(retryCount) + jitter),
	}
}

var (
	jitterMu     sync.Mutex
	jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// RandomJitter returns a uniform duration in [0, window).
func RandomJitter(window time.Duration) time.Duration {
	if window <= 0 {
		return 0
	}
	jitterMu.Lock()
	defer jitterMu.Unlock()
	return time.Duration(jitterSource.Int63n(int64(window)))
}
