package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jwebster45206/storyloom/pkg/entry"
)

// State is the lifecycle of a playback session.
type State int

const (
	Idle State = iota
	Running
	Paused
	Completed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether the session has finished.
func (s State) Terminal() bool {
	return s == Completed || s == Cancelled
}

// Session is one run over a slice of entries.
type Session struct {
	entries []entry.Entry
	opts    Options

	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	pauseCh  chan struct{} // closed while paused
	resumeCh chan struct{} // closed while running

	done chan struct{}
}

func newSession(ctx context.Context, entries []entry.Entry, opts Options) *Session {
	sctx, cancel := context.WithCancel(ctx)
	resumeCh := make(chan struct{})
	close(resumeCh)
	return &Session{
		entries:  entries,
		opts:     opts,
		parent:   ctx,
		ctx:      sctx,
		cancel:   cancel,
		state:    Idle,
		pauseCh:  make(chan struct{}),
		resumeCh: resumeCh,
		done:     make(chan struct{}),
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session reaches Completed or Cancelled.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Entries returns the entries this session plays.
func (s *Session) Entries() []entry.Entry {
	return s.entries
}

// Pause suspends reveal and inter-entry waits. It reports whether the session was running.
func (s *Session) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running {
		return false
	}
	s.state = Paused
	s.resumeCh = make(chan struct{})
	close(s.pauseCh)
	return true
}

// Resume continues a paused session from where it stopped.
func (s *Session) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Paused {
		return false
	}
	s.state = Running
	s.pauseCh = make(chan struct{})
	close(s.resumeCh)
	return true
}

// Cancel stops the session. Remaining entries are rendered instantly.
func (s *Session) Cancel() {
	s.cancel()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

func (s *Session) cancelled() bool {
	return s.ctx.Err() != nil
}

// waitIfPaused blocks while paused. It returns false if the session was cancelled.
func (s *Session) waitIfPaused() bool {
	s.mu.Lock()
	ch := s.resumeCh
	s.mu.Unlock()

	select {
	case <-ch:
		return !s.cancelled()
	case <-s.ctx.Done():
		return false
	}
}

// sleep waits for d of running time; time spent paused does not count.
// It returns false if the session was cancelled.
func (s *Session) sleep(d time.Duration) bool {
	remaining := d
	for remaining > 0 {
		if !s.waitIfPaused() {
			return false
		}

		s.mu.Lock()
		pauseCh := s.pauseCh
		s.mu.Unlock()

		start := time.Now()
		timer := time.NewTimer(remaining)
		select {
		case <-timer.C:
			return !s.cancelled()
		case <-s.ctx.Done():
			timer.Stop()
			return false
		case <-pauseCh:
			timer.Stop()
			remaining -= time.Since(start)
		}
	}
	return !s.cancelled()
}
