// Package breaker implements a per-dependency circuit breaker.
//
// A Breaker starts closed. Consecutive failures reaching the configured
// threshold open it; while open every call is rejected with ErrOpen. Once the
// open duration has elapsed the next call moves it to half-open and is let
// through as the single trial call: success closes the breaker, failure opens
// it again with a fresh opened-at timestamp.
//
// Callers report the outcome of an admitted call themselves, so only
// availability failures have to be counted.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when a call is rejected without contacting the dependency.
var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const (
	DefaultFailureThreshold = 5
	DefaultOpenDuration     = 60 * time.Second
)

// Snapshot is a point-in-time copy of a breaker's bookkeeping.
type Snapshot struct {
	Name         string     `json:"service"`
	State        State      `json:"state"`
	FailureCount int        `json:"fail_counter"`
	SuccessCount int        `json:"success_counter"`
	LastFailure  *time.Time `json:"last_failure"`
	OpenedAt     *time.Time `json:"opened_at"`
}

type Option func(*Breaker)

func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

func WithOpenDuration(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.openDuration = d
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// WithOnStateChange registers a hook invoked after every transition. It runs
// outside the breaker lock.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) {
		b.onStateChange = fn
	}
}

type Breaker struct {
	name          string
	threshold     int
	openDuration  time.Duration
	now           func() time.Time
	onStateChange func(name string, from, to State)

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	lastFailure   time.Time
	openedAt      time.Time
	trialInFlight bool
}

func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:         name,
		threshold:    DefaultFailureThreshold,
		openDuration: DefaultOpenDuration,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Name() string { return b.name }

// Allow asks for permission to make one call. On success the returned done
// function must be called exactly once with the call's outcome.
func (b *Breaker) Allow() (done func(success bool), err error) {
	b.mu.Lock()

	var transition *[2]State
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.openDuration {
			b.mu.Unlock()
			return nil, ErrOpen
		}
		transition = &[2]State{StateOpen, StateHalfOpen}
		b.state = StateHalfOpen
		b.trialInFlight = true
	case StateHalfOpen:
		if b.trialInFlight {
			b.mu.Unlock()
			return nil, ErrOpen
		}
		b.trialInFlight = true
	}
	state := b.state
	b.mu.Unlock()

	if transition != nil {
		b.notify(transition[0], transition[1])
	}

	var once sync.Once
	return func(success bool) {
		once.Do(func() { b.record(state, success) })
	}, nil
}

// Execute runs fn if the breaker admits the call and counts any error it
// returns as a failure.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	done, err := b.Allow()
	if err != nil {
		return err
	}
	err = fn(ctx)
	done(err == nil)
	return err
}

func (b *Breaker) record(admittedIn State, success bool) {
	b.mu.Lock()
	from := b.state

	if admittedIn == StateHalfOpen {
		b.trialInFlight = false
	}

	if success {
		b.successes++
		if b.state == StateHalfOpen && admittedIn == StateHalfOpen {
			b.state = StateClosed
			b.failures = 0
		} else if b.state == StateClosed {
			b.failures = 0
		}
	} else {
		now := b.now()
		b.lastFailure = now
		b.successes = 0
		switch b.state {
		case StateClosed:
			b.failures++
			if b.failures >= b.threshold {
				b.state = StateOpen
				b.openedAt = now
			}
		case StateHalfOpen:
			if admittedIn == StateHalfOpen {
				b.failures++
				b.state = StateOpen
				b.openedAt = now
			}
		}
	}
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) notify(from, to State) {
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}

// Snapshot reports the current bookkeeping. It never changes state, even
// when the open duration has already elapsed.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		Name:         b.name,
		State:        b.state,
		FailureCount: b.failures,
		SuccessCount: b.successes,
	}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		s.LastFailure = &t
	}
	if !b.openedAt.IsZero() {
		t := b.openedAt
		s.OpenedAt = &t
	}
	return s
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
