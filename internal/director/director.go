// Package director sequences the user-facing story actions: it gates on the
// active session, reconciles with the persisted story, runs generation, appends
// the results and starts playback.
package director

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/jwebster45206/storyloom/internal/generation"
	"github.com/jwebster45206/storyloom/internal/playback"
	"github.com/jwebster45206/storyloom/internal/timeline"
	"github.com/jwebster45206/storyloom/pkg/entry"
	"github.com/jwebster45206/storyloom/pkg/reconcile"
	"github.com/jwebster45206/storyloom/pkg/tagstream"
)

var (
	// ErrReloaded means the user chose to adopt the remote story; the pending action was dropped.
	ErrReloaded = errors.New("remote story reloaded, action aborted")
	// ErrInactiveSession means another client session owns the story.
	ErrInactiveSession = errors.New("another session is active")
)

// SessionGate decides whether this client may act on the story.
type SessionGate interface {
	IsActive(ctx context.Context, sessionID string) (bool, error)
}

// Resolver asks the user how to settle a detected conflict.
type Resolver interface {
	Resolve(ctx context.Context, report reconcile.ChangeReport) (reconcile.Resolution, error)
}

// Generator produces entries from a payload.
type Generator interface {
	Generate(ctx context.Context, p generation.Payload, opts generation.NetworkOptions) (*tagstream.Result, error)
}

// Player plays newly appended entries.
type Player interface {
	Play(ctx context.Context, startExclusive int, entries []entry.Entry, opts playback.Options) *playback.Session
}

// Config wires a Director.
type Config struct {
	SessionID string
	Files     timeline.FileStore
	Timeline  *timeline.Store
	Gate      SessionGate
	Resolver  Resolver
	Generator Generator
	Player    Player
	Notifier  playback.Notifier
	// Webhooks returns the outgoing webhook for the given settings, or nil.
	Webhooks func(entry.Settings) playback.WebhookSender
	Counter  generation.TokenCounter
	Logger   *slog.Logger
}

// Director owns the story state outside the timeline and sequences actions on it.
type Director struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.RWMutex
	worldView  string
	characters []entry.Character
	settings   entry.Settings
}

func New(cfg Config) *Director {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Director{
		cfg:      cfg,
		logger:   logger,
		settings: entry.DefaultSettings(),
	}
}

// Timeline returns the entry store.
func (d *Director) Timeline() *timeline.Store {
	return d.cfg.Timeline
}

func (d *Director) Settings() entry.Settings {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.settings
}

func (d *Director) WorldView() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.worldView
}

func (d *Director) Characters() []entry.Character {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.characters)
}

// Load replaces all local state with the persisted story.
func (d *Director) Load(ctx context.Context) error {
	remote, err := d.RemoteSnapshot(ctx)
	if err != nil {
		return err
	}
	d.adopt(remote)
	d.logger.Info("Story loaded",
		"entries", len(remote.Entries),
		"characters", len(remote.Characters))
	return nil
}

// Snapshot returns the local state.
func (d *Director) Snapshot() entry.StorySnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return entry.StorySnapshot{
		Entries:    d.cfg.Timeline.All(),
		WorldView:  d.worldView,
		Characters: slices.Clone(d.characters),
		Settings:   d.settings,
	}
}

// RemoteSnapshot reads the persisted story. Missing files read as empty.
func (d *Director) RemoteSnapshot(ctx context.Context) (entry.StorySnapshot, error) {
	snap := entry.StorySnapshot{Settings: entry.DefaultSettings()}

	story, found, err := d.cfg.Files.ReadFile(ctx, entry.StoryPath)
	if err != nil {
		return snap, fmt.Errorf("failed to read %s: %w", entry.StoryPath, err)
	}
	if found {
		if snap.Entries, err = entry.UnmarshalTimeline([]byte(story)); err != nil {
			return snap, err
		}
	}

	world, _, err := d.cfg.Files.ReadFile(ctx, entry.WorldViewPath)
	if err != nil {
		return snap, fmt.Errorf("failed to read %s: %w", entry.WorldViewPath, err)
	}
	snap.WorldView = world

	chars, found, err := d.cfg.Files.ReadFile(ctx, entry.CharactersPath)
	if err != nil {
		return snap, fmt.Errorf("failed to read %s: %w", entry.CharactersPath, err)
	}
	if found && chars != "" {
		if err := json.Unmarshal([]byte(chars), &snap.Characters); err != nil {
			return snap, fmt.Errorf("failed to parse %s: %w", entry.CharactersPath, err)
		}
	}

	settings, found, err := d.cfg.Files.ReadFile(ctx, entry.SettingsPath)
	if err != nil {
		return snap, fmt.Errorf("failed to read %s: %w", entry.SettingsPath, err)
	}
	if found && settings != "" {
		// Decode over the defaults so absent keys keep their stock values.
		if err := json.Unmarshal([]byte(settings), &snap.Settings); err != nil {
			return snap, fmt.Errorf("failed to parse %s: %w", entry.SettingsPath, err)
		}
	}
	return snap, nil
}

func (d *Director) adopt(remote entry.StorySnapshot) {
	d.mu.Lock()
	d.worldView = remote.WorldView
	d.characters = slices.Clone(remote.Characters)
	d.settings = remote.Settings
	d.mu.Unlock()

	d.cfg.Timeline.Replace(remote.Entries)
}

// Generate runs one generation turn. instruction is an optional author note.
//
// It returns ErrReloaded when the user chose to adopt a changed remote story.
// Any other failure is also recorded as a reject entry on the timeline.
func (d *Director) Generate(ctx context.Context, instruction string) error {
	if err := d.prepare(ctx, true); err != nil {
		return err
	}

	snap := d.Snapshot()
	payload, err := generation.NewPayloadBuilder().
		WithSettings(snap.Settings).
		WithWorldView(snap.WorldView).
		WithCharacters(snap.Characters).
		WithHistory(snap.Entries).
		WithInstruction(instruction).
		WithTokenCounter(d.cfg.Counter).
		Build()
	if err != nil {
		return d.fail(ctx, err)
	}

	result, err := d.cfg.Generator.Generate(ctx, payload, generation.OptionsFromSettings(snap.Settings))
	if err != nil {
		return d.fail(ctx, err)
	}

	tl := d.cfg.Timeline
	start := tl.Len() - 1
	tl.Append(result.Entries...)
	tl.Append(result.Rejects...)
	if err := tl.Flush(ctx); err != nil {
		d.logger.Error("Failed to save generated entries", "error", err)
		d.notify(slog.LevelError, "Could not save the story: "+err.Error())
	}

	d.logger.Info("Generation appended",
		"entries", len(result.Entries),
		"rejects", len(result.Rejects))

	if d.cfg.Player != nil {
		d.cfg.Player.Play(ctx, start, tl.All(), d.playbackOptions(snap.Settings))
	}
	return nil
}

// AddEntry appends a user-authored entry after the same gate and reconciliation as Generate.
func (d *Director) AddEntry(ctx context.Context, e entry.Entry) error {
	if err := d.prepare(ctx, false); err != nil {
		return err
	}
	d.cfg.Timeline.Append(e)
	if err := d.cfg.Timeline.Flush(ctx); err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}
	return nil
}

// DeleteAfter removes every entry after id once the gate and reconciliation pass.
func (d *Director) DeleteAfter(ctx context.Context, id string) (int, error) {
	if err := d.prepare(ctx, false); err != nil {
		return 0, err
	}
	n, err := d.cfg.Timeline.DeleteAfter(id)
	if err != nil {
		return 0, err
	}
	if err := d.cfg.Timeline.Flush(ctx); err != nil {
		return n, fmt.Errorf("failed to save timeline: %w", err)
	}
	return n, nil
}

// prepare runs the session gate and the reconcile-before-write check.
func (d *Director) prepare(ctx context.Context, purge bool) error {
	if d.cfg.Gate != nil {
		active, err := d.cfg.Gate.IsActive(ctx, d.cfg.SessionID)
		if err != nil {
			return fmt.Errorf("failed to check active session: %w", err)
		}
		if !active {
			d.notify(slog.LevelWarn, "Another session is active; this one is read-only.")
			return ErrInactiveSession
		}
	}

	tl := d.cfg.Timeline
	if purge {
		if n := tl.PurgeRejects(); n > 0 {
			d.logger.Debug("Purged reject entries", "count", n)
		}
	}
	if err := tl.Flush(ctx); err != nil {
		return fmt.Errorf("failed to save before reconcile: %w", err)
	}

	remote, err := d.RemoteSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch remote story: %w", err)
	}

	local := d.Snapshot()
	report := reconcile.DetectChanges(local, remote)
	if !report.HasChanges {
		return nil
	}

	d.logger.Info("Remote story changed", "summary", report.Summary)
	resolution := reconcile.OverwriteRemote
	if d.cfg.Resolver != nil {
		if resolution, err = d.cfg.Resolver.Resolve(ctx, report); err != nil {
			return fmt.Errorf("failed to resolve conflict: %w", err)
		}
	}

	switch resolution {
	case reconcile.ReloadRemote:
		d.adopt(remote)
		d.notify(slog.LevelInfo, "Reloaded the saved story ("+report.Summary+").")
		return ErrReloaded
	default:
		return d.overwrite(ctx, local, report)
	}
}

// overwrite pushes local non-timeline state over the remote copy. The timeline
// is marked dirty and written by the Flush that follows the pending action,
// even when that action leaves it unchanged.
func (d *Director) overwrite(ctx context.Context, local entry.StorySnapshot, report reconcile.ChangeReport) error {
	if report.StoryChanges != nil {
		d.cfg.Timeline.MarkDirty()
	}
	if report.WorldViewChanged {
		if err := d.cfg.Files.WriteFile(ctx, entry.WorldViewPath, local.WorldView); err != nil {
			return fmt.Errorf("failed to overwrite %s: %w", entry.WorldViewPath, err)
		}
	}
	if report.CharactersChanged {
		if err := d.writeJSON(ctx, entry.CharactersPath, local.Characters); err != nil {
			return err
		}
	}
	if report.SettingsChanged {
		if err := d.writeJSON(ctx, entry.SettingsPath, local.Settings); err != nil {
			return err
		}
	}
	return nil
}

func (d *Director) writeJSON(ctx context.Context, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	if err := d.cfg.Files.WriteFile(ctx, path, string(data)); err != nil {
		return fmt.Errorf("failed to overwrite %s: %w", path, err)
	}
	return nil
}

// fail records a final generation failure as a reject entry and notifies the user.
func (d *Director) fail(ctx context.Context, err error) error {
	if errors.Is(err, generation.ErrGenerationInProgress) {
		d.notify(slog.LevelWarn, "A generation is already running.")
		return err
	}
	if errors.Is(err, context.Canceled) {
		d.notify(slog.LevelInfo, "Generation cancelled.")
		return err
	}

	hint := Hint(err)
	d.logger.Error("Generation failed", "error", err)

	d.cfg.Timeline.Append(entry.NewReject(hint))
	if ferr := d.cfg.Timeline.Flush(ctx); ferr != nil {
		d.logger.Error("Failed to save reject entry", "error", ferr)
	}
	d.notify(slog.LevelError, hint)
	return err
}

func (d *Director) playbackOptions(s entry.Settings) playback.Options {
	var sender playback.WebhookSender
	if d.cfg.Webhooks != nil {
		sender = d.cfg.Webhooks(s)
	}
	return playback.OptionsFromSettings(s, sender)
}

func (d *Director) notify(level slog.Level, msg string) {
	if d.cfg.Notifier != nil {
		d.cfg.Notifier.Notify(level, msg)
	}
}
