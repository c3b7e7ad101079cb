package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jwebster45206/storyloom/internal/playback"
	"github.com/jwebster45206/storyloom/internal/services"
	"github.com/jwebster45206/storyloom/internal/timeline"
	"github.com/jwebster45206/storyloom/pkg/entry"
	"github.com/jwebster45206/storyloom/pkg/reconcile"
)

// Messages delivered to the UI from background goroutines.
type revealMsg struct {
	entry    entry.Entry
	revealed int
}

type renderMsg struct {
	entry entry.Entry
}

type teardownMsg struct{}

type playbackMsg struct {
	ids []string
}

type timelineMsg struct {
	change timeline.Change
}

type notifyMsg struct {
	level slog.Level
	text  string
}

type conflictMsg struct {
	report reconcile.ChangeReport
	reply  chan<- reconcile.Resolution
}

type incomingMsg struct {
	list *services.IncomingList
	err  error
}

// bridge forwards messages to the running program. Messages sent before the
// program is attached are dropped.
type bridge struct {
	mu   sync.RWMutex
	send func(tea.Msg)
}

func (b *bridge) attach(p *tea.Program) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.send = p.Send
}

func (b *bridge) Send(msg tea.Msg) {
	b.mu.RLock()
	send := b.send
	b.mu.RUnlock()
	if send != nil {
		send(msg)
	}
}

// Reveal, Render and Teardown implement playback.Renderer.
func (b *bridge) Reveal(e entry.Entry, revealed int) {
	b.Send(revealMsg{entry: e, revealed: revealed})
}

func (b *bridge) Render(e entry.Entry) {
	b.Send(renderMsg{entry: e})
}

func (b *bridge) Teardown() {
	b.Send(teardownMsg{})
}

// Notify implements playback.Notifier.
func (b *bridge) Notify(level slog.Level, msg string) {
	b.Send(notifyMsg{level: level, text: msg})
}

// Resolve asks the user through the conflict modal and blocks for the answer.
func (b *bridge) Resolve(ctx context.Context, report reconcile.ChangeReport) (reconcile.Resolution, error) {
	reply := make(chan reconcile.Resolution, 1)
	b.Send(conflictMsg{report: report, reply: reply})
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return reconcile.ReloadRemote, ctx.Err()
	}
}

// Watch forwards timeline changes until the returned function is called.
func (b *bridge) Watch(store *timeline.Store) func() {
	return store.Subscribe(func(c timeline.Change) {
		b.Send(timelineMsg{change: c})
	})
}

// announcingPlayer tells the UI which entries a session is about to reveal so
// they stay hidden until playback reaches them.
type announcingPlayer struct {
	controller *playback.Controller
	bridge     *bridge
}

func (p *announcingPlayer) Play(ctx context.Context, startExclusive int, entries []entry.Entry, opts playback.Options) *playback.Session {
	var ids []string
	for i := startExclusive + 1; i >= 0 && i < len(entries); i++ {
		ids = append(ids, entries[i].ID)
	}
	p.bridge.Send(playbackMsg{ids: ids})
	return p.controller.Play(ctx, startExclusive, entries, opts)
}

// IncomingSource lists webhooks the relay has received.
type IncomingSource interface {
	IncomingWebhooks(ctx context.Context, sinceID int64, limit int) (*services.IncomingList, error)
}

// pollIncoming polls the relay for incoming webhooks until ctx is done.
func pollIncoming(ctx context.Context, src IncomingSource, interval time.Duration, b *bridge) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var since int64
	enabled := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		list, err := src.IncomingWebhooks(ctx, since, 10)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.Send(incomingMsg{err: err})
			continue
		}
		if list.LastID != nil {
			since = *list.LastID
		}
		if len(list.Records) > 0 || list.Enabled != enabled {
			b.Send(incomingMsg{list: list})
		}
		enabled = list.Enabled
	}
}
