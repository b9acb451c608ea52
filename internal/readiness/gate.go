// Package readiness implements a single-use notification with one producer
// and one consumer. The producer either signals once or abandons the gate;
// the consumer waits for either outcome bounded by a deadline.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrTimeout = errors.New("readiness: timed out")
	ErrClosed  = errors.New("readiness: sender dropped without signal")
)

// State is the gate state as observed by the consumer.
type State int

const (
	Pending State = iota
	Signaled
	Abandoned
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Signaled:
		return "signaled"
	case Abandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Sender is the producing half. The channel lives in a slot guarded by mx;
// Signal and Abandon both take it, so only the first of them has any effect.
type Sender struct {
	mx sync.Mutex
	ch chan struct{}
}

// Receiver is the consuming half.
type Receiver struct {
	ch    <-chan struct{}
	mx    sync.Mutex
	state State
}

// New returns both halves of a fresh gate in the Pending state.
func New() (*Sender, *Receiver) {
	// buffered, so Signal never blocks even if nobody waits anymore
	ch := make(chan struct{}, 1)
	return &Sender{ch: ch}, &Receiver{ch: ch}
}

func (s *Sender) take() chan struct{} {
	s.mx.Lock()
	defer s.mx.Unlock()
	ch := s.ch
	s.ch = nil
	return ch
}

// Signal moves the gate to Signaled. It reports whether this call was the one
// which fired; every later call (and any call after Abandon) is a no-op.
func (s *Sender) Signal() bool {
	ch := s.take()
	if ch == nil {
		return false
	}
	ch <- struct{}{}
	close(ch)
	return true
}

// Abandon drops the sender without signaling. No-op after Signal.
func (s *Sender) Abandon() {
	ch := s.take()
	if ch == nil {
		return
	}
	close(ch)
}

// Held reports whether the sender still owns the signaling capability.
func (s *Sender) Held() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.ch != nil
}

// Wait blocks until the gate is signaled or abandoned, the timeout elapses or
// ctx is done. A timeout <= 0 waits without a deadline.
// Returns nil, ErrClosed, ErrTimeout or the context error.
func (r *Receiver) Wait(ctx context.Context, timeout time.Duration) error {
	switch r.observed() {
	case Signaled:
		return nil
	case Abandoned:
		return ErrClosed
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case _, ok := <-r.ch:
		if !ok {
			r.set(Abandoned)
			return ErrClosed
		}
		r.set(Signaled)
		return nil
	case <-deadline:
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the last state observed by Wait, or peeks at the channel
// when nothing was observed yet.
func (r *Receiver) State() State {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.state != Pending {
		return r.state
	}
	select {
	case _, ok := <-r.ch:
		if ok {
			r.state = Signaled
		} else {
			r.state = Abandoned
		}
	default:
	}
	return r.state
}

func (r *Receiver) observed() State {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.state
}

func (r *Receiver) set(s State) {
	r.mx.Lock()
	r.state = s
	r.mx.Unlock()
}
