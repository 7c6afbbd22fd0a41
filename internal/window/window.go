// Package window implements the voting window: an OPEN/CLOSED state machine
// driven by a deadline, rechecked on a fixed interval, with a one-time
// redirect when it closes.
package window

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type State int

const (
	Open State = iota
	Closed
)

func (s State) String() string {
	if s == Closed {
		return "CLOSED"
	}
	return "OPEN"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const (
	ClosedMessage = "Voting is closed"

	DefaultInterval      = 60 * time.Second
	DefaultRedirectDelay = 3 * time.Second
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

type Option func(*Window)

func WithClock(clock Clock) Option {
	return func(w *Window) { w.clock = clock }
}

func WithInterval(interval time.Duration) Option {
	return func(w *Window) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithRedirect sets where clients go once voting closes and how long after
// the transition the redirect fires.
func WithRedirect(destination string, delay time.Duration) Option {
	return func(w *Window) {
		w.redirect = destination
		if delay >= 0 {
			w.delay = delay
		}
	}
}

// WithAfterFunc replaces time.AfterFunc for scheduling the redirect.
func WithAfterFunc(after func(time.Duration, func())) Option {
	return func(w *Window) { w.after = after }
}

// OnClose registers the redirect side effect.
func OnClose(fn func(redirect string)) Option {
	return func(w *Window) { w.onClose = fn }
}

type Window struct {
	name     string
	deadline time.Time
	clock    Clock
	interval time.Duration
	redirect string
	delay    time.Duration
	after    func(time.Duration, func())
	onClose  func(string)

	mu    sync.Mutex
	state State
	fired bool
}

// New builds a window that starts CLOSED when the deadline has already
// passed. The redirect for an already-passed deadline is scheduled by the
// first Check or Run.
func New(name string, deadline time.Time, opts ...Option) *Window {
	w := &Window{
		name:     name,
		deadline: deadline,
		clock:    realClock{},
		interval: DefaultInterval,
		delay:    DefaultRedirectDelay,
		after: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	if !w.clock.Now().Before(w.deadline) {
		w.state = Closed
	}
	return w
}

func (w *Window) Name() string            { return w.name }
func (w *Window) Deadline() time.Time     { return w.deadline }
func (w *Window) Redirect() string        { return w.redirect }
func (w *Window) Interval() time.Duration { return w.interval }

// State is the state as of the last check.
func (w *Window) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Closed re-evaluates the deadline and reports whether voting is over.
func (w *Window) Closed() bool {
	return w.Check() == Closed
}

// Check compares the clock to the deadline, performing the OPEN to CLOSED
// transition if due. The close callback is scheduled at most once.
func (w *Window) Check() State {
	now := w.clock.Now()

	w.mu.Lock()
	if w.state == Open && !now.Before(w.deadline) {
		w.state = Closed
		log.WithFields(log.Fields{"window": w.name, "deadline": w.deadline}).Info("voting window closed")
	}
	state := w.state
	schedule := state == Closed && !w.fired
	if schedule {
		w.fired = true
	}
	w.mu.Unlock()

	if schedule && w.onClose != nil {
		redirect := w.redirect
		w.after(w.delay, func() { w.onClose(redirect) })
	}
	return state
}

// TimeRemaining renders the countdown, floor-divided into days, hours and
// minutes, or the closed message.
func (w *Window) TimeRemaining() string {
	if w.Check() == Closed {
		return ClosedMessage
	}
	return FormatRemaining(w.deadline.Sub(w.clock.Now()))
}

func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return ClosedMessage
	}
	total := int64(d / time.Minute)
	days := total / (24 * 60)
	hours := (total % (24 * 60)) / 60
	minutes := total % 60
	return fmt.Sprintf("Voting closes in %dd %dh %dm", days, hours, minutes)
}

// Run checks immediately and then every interval until the window closes
// or ctx is done.
func (w *Window) Run(ctx context.Context) {
	if w.Check() == Closed {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.Check() == Closed {
				return
			}
		}
	}
}
