package processor

import (
	"math/rand"
	"sync"
	"time"
)

const (
	defaultBackoffBase   = time.Second
	defaultBackoffJitter = time.Second
	defaultBackoffCap    = 5 * time.Minute
)

// BackoffPolicy computes retry delays as min(2^attempt * base + jitter, cap).
// Exponential growth spaces attempts out; the uniform jitter keeps a burst of
// failed jobs from resubmitting in lockstep. The attempt number passed in is
// the pre-retry attempt count so the delay grows monotonically.
type BackoffPolicy struct {
	Base   time.Duration
	Jitter time.Duration
	Cap    time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewBackoffPolicy returns a policy with the default 1s base, 1s jitter
// window, and 5 minute ceiling.
func NewBackoffPolicy() *BackoffPolicy {
	return &BackoffPolicy{
		Base:   defaultBackoffBase,
		Jitter: defaultBackoffJitter,
		Cap:    defaultBackoffCap,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Delay returns the wait before the next attempt following a failure on the
// supplied attempt number (1-based).
func (p *BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := p.Base
	if base <= 0 {
		base = defaultBackoffBase
	}
	ceiling := p.Cap
	if ceiling <= 0 {
		ceiling = defaultBackoffCap
	}

	// 2^attempt saturates quickly; past the ceiling the jitter is irrelevant.
	if attempt >= 63 || base<<uint(attempt) <= 0 || base<<uint(attempt) >= ceiling {
		return ceiling
	}

	delay := base<<uint(attempt) + p.jitter()
	if delay > ceiling {
		return ceiling
	}
	return delay
}

func (p *BackoffPolicy) jitter() time.Duration {
	if p.Jitter <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rnd == nil {
		p.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return time.Duration(p.rnd.Int63n(int64(p.Jitter)))
}
