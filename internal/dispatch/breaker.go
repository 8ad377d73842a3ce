package dispatch

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-quiver/internal/device"
)

// ErrBreakerOpen is returned while a Breaker refuses work.
var ErrBreakerOpen = errors.New("device breaker is open")

// BreakerState is the position of a Breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Breaker stops sending work to a device after maxFailures consecutive
// device-reported failures. After cooldown one trial call is let through; its
// outcome closes or reopens the breaker. Safe for concurrent use.
type Breaker struct {
	mu          sync.Mutex
	name        string
	state       BreakerState
	failures    int
	maxFailures int
	cooldown    time.Duration
	openedAt    time.Time
	trialing    bool
	now         func() time.Time
}

// Ticket is handed out by Allow and returned to Record. Only the ticket of
// the half-open trial call can move the breaker out of the half-open state.
type Ticket struct {
	trial bool
}

func NewBreaker(name string, maxFailures int, cooldown time.Duration) *Breaker {
	b := &Breaker{name: name, maxFailures: max(maxFailures, 1), cooldown: cooldown, now: time.Now}
	breakerState.WithLabelValues(name).Set(float64(BreakerClosed))
	return b
}

// Allow reports whether a call may proceed. In the half-open state only
// the single trial call is allowed.
func (b *Breaker) Allow() (Ticket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return Ticket{}, nil
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return Ticket{}, ErrBreakerOpen
		}
		b.set(BreakerHalfOpen)
	}
	if b.trialing {
		return Ticket{}, ErrBreakerOpen
	}
	b.trialing = true
	return Ticket{trial: true}, nil
}

// Record feeds the outcome of an allowed call back. Only errors carrying a
// device Stage count as failures; caller mistakes leave the breaker alone.
// Calls admitted before the breaker opened are ignored until it closes.
func (b *Breaker) Record(t Ticket, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.trial {
		b.trialing = false
	} else if b.state != BreakerClosed {
		return
	}

	if err == nil || !isDeviceFailure(err) {
		if b.state == BreakerHalfOpen {
			log.Info().Str("breaker", b.name).Msg("Device breaker closed")
			b.set(BreakerClosed)
		}
		b.failures = 0
		return
	}

	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.maxFailures {
		b.openedAt = b.now()
		log.Warn().Str("breaker", b.name).Int("failures", b.failures).Err(err).Msg("Device breaker opened")
		b.set(BreakerOpen)
	}
}

// State returns the current position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) set(s BreakerState) {
	b.state = s
	breakerState.WithLabelValues(b.name).Set(float64(s))
}

func isDeviceFailure(err error) bool {
	_, ok := device.StageOf(err)
	return ok
}
