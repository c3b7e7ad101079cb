// Package playback reveals newly generated entries with a typewriter effect
// and delivers each one to the configured webhook.
package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jwebster45206/storyloom/pkg/entry"
)

// Renderer displays entries.
type Renderer interface {
	// Reveal shows the first revealed runes of e's content.
	Reveal(e entry.Entry, revealed int)
	// Render shows e in full.
	Render(e entry.Entry)
	// Teardown removes playback affordances once a session ends.
	Teardown()
}

// WebhookSender delivers one entry to an external destination.
type WebhookSender interface {
	Send(ctx context.Context, e entry.Entry) error
}

// Notifier surfaces transient messages to the user.
type Notifier interface {
	Notify(level slog.Level, msg string)
}

// Options configures one playback session.
type Options struct {
	AnimationEnabled bool
	Interval         time.Duration
	Pause            time.Duration
	// Webhook is nil when no destination is configured.
	Webhook WebhookSender
}

// OptionsFromSettings builds options from the story settings.
func OptionsFromSettings(s entry.Settings, webhook WebhookSender) Options {
	s = s.WithDefaults()
	return Options{
		AnimationEnabled: s.AnimationEnabled,
		Interval:         time.Duration(s.TypewriterIntervalMs) * time.Millisecond,
		Pause:            time.Duration(s.EntryPauseMs) * time.Millisecond,
		Webhook:          webhook,
	}
}

// Controller runs at most one playback session at a time.
type Controller struct {
	renderer Renderer
	notifier Notifier
	logger   *slog.Logger

	mu      sync.Mutex
	current *Session
}

func NewController(renderer Renderer, notifier Notifier, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		renderer: renderer,
		notifier: notifier,
		logger:   logger,
	}
}

// Play starts a session over entries[startExclusive+1:] without waiting for it.
// A session already in progress is cancelled, and its remaining entries are
// rendered in full, before Play returns and the new one begins.
func (c *Controller) Play(ctx context.Context, startExclusive int, entries []entry.Entry, opts Options) *Session {
	from := startExclusive + 1
	if from < 0 {
		from = 0
	}
	if from > len(entries) {
		from = len(entries)
	}
	slice := make([]entry.Entry, len(entries)-from)
	copy(slice, entries[from:])

	s := newSession(ctx, slice, opts)
	s.setState(Running)

	c.mu.Lock()
	prev := c.current
	c.current = s
	c.mu.Unlock()

	// The lock is released first so the finishing session's renderer can
	// call back into the controller.
	if prev != nil {
		prev.Cancel()
		<-prev.Done()
	}
	go c.run(s)
	return s
}

// Current returns the latest session, or nil.
func (c *Controller) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Pause pauses the current session.
func (c *Controller) Pause() bool {
	if s := c.Current(); s != nil {
		return s.Pause()
	}
	return false
}

// Resume resumes the current session.
func (c *Controller) Resume() bool {
	if s := c.Current(); s != nil {
		return s.Resume()
	}
	return false
}

// Cancel cancels the current session.
func (c *Controller) Cancel() {
	if s := c.Current(); s != nil {
		s.Cancel()
	}
}

// Wait blocks until the current session, if any, has finished.
func (c *Controller) Wait() {
	if s := c.Current(); s != nil {
		<-s.Done()
	}
}

// State returns the current session's state, or Idle.
func (c *Controller) State() State {
	if s := c.Current(); s != nil {
		return s.State()
	}
	return Idle
}

func (c *Controller) run(s *Session) {
	defer close(s.done)
	defer c.renderer.Teardown()

	for i, e := range s.entries {
		if !s.waitIfPaused() || !c.playEntry(s, e) {
			c.finishCancelled(s, i)
			return
		}
	}
	s.setState(Completed)
	c.logger.Debug("Playback completed", "entries", len(s.entries))
}

// playEntry displays one entry. It returns false if the session was cancelled.
func (c *Controller) playEntry(s *Session, e entry.Entry) bool {
	webhookDone := c.deliver(s, e)

	if e.Type.Instant() {
		c.renderer.Render(e)
		return c.await(s, webhookDone)
	}

	if !s.opts.AnimationEnabled {
		c.renderer.Render(e)
		return !s.cancelled()
	}

	runes := []rune(e.Content)
	if len(runes) == 0 {
		c.renderer.Render(e)
	}
	for n := 1; n <= len(runes); n++ {
		if !s.waitIfPaused() {
			return false
		}
		c.renderer.Reveal(e, n)
		if n < len(runes) && !s.sleep(s.opts.Interval) {
			return false
		}
	}

	// Advance after the longer of the pause and the webhook.
	if !s.sleep(s.opts.Pause) {
		return false
	}
	return c.await(s, webhookDone)
}

// deliver sends e to the webhook in the background. The returned channel is
// closed once delivery has finished, successfully or not.
func (c *Controller) deliver(s *Session, e entry.Entry) <-chan struct{} {
	done := make(chan struct{})
	if s.opts.Webhook == nil {
		close(done)
		return done
	}

	go func() {
		defer close(done)
		// Delivery outlives a cancelled session; the sender applies its own timeout.
		if err := s.opts.Webhook.Send(context.WithoutCancel(s.parent), e); err != nil {
			c.logger.Warn("Webhook delivery failed", "entry_id", e.ID, "error", err)
			if c.notifier != nil {
				c.notifier.Notify(slog.LevelWarn, "Webhook delivery failed: "+err.Error())
			}
		}
	}()
	return done
}

func (c *Controller) await(s *Session, ch <-chan struct{}) bool {
	select {
	case <-ch:
		return !s.cancelled()
	case <-s.ctx.Done():
		return false
	}
}

func (c *Controller) finishCancelled(s *Session, from int) {
	for _, e := range s.entries[from:] {
		c.renderer.Render(e)
	}
	s.setState(Cancelled)
	c.logger.Debug("Playback cancelled", "rendered_instantly", len(s.entries)-from)
}
