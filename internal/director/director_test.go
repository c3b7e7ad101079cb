package director

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/storyloom/internal/generation"
	"github.com/jwebster45206/storyloom/internal/playback"
	"github.com/jwebster45206/storyloom/internal/services"
	"github.com/jwebster45206/storyloom/internal/timeline"
	"github.com/jwebster45206/storyloom/pkg/entry"
	"github.com/jwebster45206/storyloom/pkg/reconcile"
)

const testSettingsJSON = `{"baseUrl":"https://llm.example.com/v1","apiKey":"sk-test","model":"test-model","networkTimeoutSec":1,"recoveryTimeoutSec":1}`

type fakeResolver struct {
	resolution reconcile.Resolution
	reports    []reconcile.ChangeReport
}

func (f *fakeResolver) Resolve(ctx context.Context, r reconcile.ChangeReport) (reconcile.Resolution, error) {
	f.reports = append(f.reports, r)
	return f.resolution, nil
}

type playCall struct {
	start   int
	entries []entry.Entry
	opts    playback.Options
}

type fakePlayer struct {
	calls []playCall
}

func (f *fakePlayer) Play(ctx context.Context, start int, entries []entry.Entry, opts playback.Options) *playback.Session {
	f.calls = append(f.calls, playCall{start: start, entries: entries, opts: opts})
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	levels []slog.Level
	msgs   []string
}

func (f *fakeNotifier) Notify(level slog.Level, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levels = append(f.levels, level)
	f.msgs = append(f.msgs, msg)
}

type fixture struct {
	relay    *services.MockRelayClient
	tl       *timeline.Store
	resolver *fakeResolver
	player   *fakePlayer
	notifier *fakeNotifier
	d        *Director
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	relay := services.NewMockRelayClient()
	relay.SetFile(entry.SettingsPath, testSettingsJSON)
	relay.SetFile(entry.WorldViewPath, "A foggy port.")

	f := &fixture{
		relay:    relay,
		tl:       timeline.NewStore(relay, time.Hour, logger),
		resolver: &fakeResolver{resolution: reconcile.OverwriteRemote},
		player:   &fakePlayer{},
		notifier: &fakeNotifier{},
	}
	f.d = New(Config{
		SessionID: "session-a",
		Files:     relay,
		Timeline:  f.tl,
		Gate:      relay,
		Resolver:  f.resolver,
		Generator: generation.NewCoordinator(relay, logger),
		Player:    f.player,
		Notifier:  f.notifier,
		Logger:    logger,
	})
	require.NoError(t, f.d.Load(context.Background()))
	return f
}

func (f *fixture) reply(content string) {
	f.relay.ChatCompletionsFunc = func(ctx context.Context, p generation.Payload, timeout time.Duration) (*openai.ChatCompletionResponse, error) {
		return services.CompletionResponse(content), nil
	}
}

func (f *fixture) savedStory(t *testing.T) []entry.Entry {
	t.Helper()
	data, ok := f.relay.File(entry.StoryPath)
	require.True(t, ok, "story file written")
	es, err := entry.UnmarshalTimeline([]byte(data))
	require.NoError(t, err)
	return es
}

func TestLoad_SettingsDefaults(t *testing.T) {
	f := newFixture(t)
	s := f.d.Settings()
	assert.Equal(t, "test-model", s.Model)
	assert.Equal(t, 2, s.MaxNetworkRetries, "absent keys keep defaults")
	assert.Equal(t, 1, s.NetworkTimeoutSec)
	assert.Equal(t, "A foggy port.", f.d.WorldView())
}

func TestGenerate_AppendsAndPlays(t *testing.T) {
	f := newFixture(t)
	existing := entry.New(entry.TypeNarration, "", "Fog rolls in.")
	require.NoError(t, f.d.AddEntry(context.Background(), existing))

	f.reply(`<dialogue name="Ann">Who goes there?</dialogue><reject>skipped a beat</reject>`)
	require.NoError(t, f.d.Generate(context.Background(), ""))

	all := f.tl.All()
	require.Len(t, all, 3)
	assert.Equal(t, entry.TypeDialogue, all[1].Type)
	assert.Equal(t, entry.TypeReject, all[2].Type, "rejects follow entries")

	saved := f.savedStory(t)
	assert.Len(t, saved, 3)

	require.Len(t, f.player.calls, 1)
	assert.Equal(t, 0, f.player.calls[0].start)
	assert.Len(t, f.player.calls[0].entries, 3)
	assert.Nil(t, f.player.calls[0].opts.Webhook)

	completions, _, _ := f.relay.GetCalls()
	require.Len(t, completions, 1)
	assert.Equal(t, "test-model", completions[0].Request.Model)
}

func TestGenerate_PurgesRejectsFirst(t *testing.T) {
	f := newFixture(t)
	f.tl.Append(entry.New(entry.TypeNarration, "", "kept"), entry.NewReject("old failure"))
	require.NoError(t, f.tl.Flush(context.Background()))

	f.reply(`<narration>next</narration>`)
	require.NoError(t, f.d.Generate(context.Background(), ""))

	var contents []string
	for _, e := range f.tl.All() {
		contents = append(contents, e.Content)
	}
	assert.Equal(t, []string{"kept", "next"}, contents)

	completions, _, _ := f.relay.GetCalls()
	require.Len(t, completions, 1)
	for _, m := range completions[0].Request.Messages {
		assert.NotContains(t, m.Content, "old failure")
	}
}

func TestGenerate_ConflictReload(t *testing.T) {
	f := newFixture(t)
	f.resolver.resolution = reconcile.ReloadRemote

	remote := []entry.Entry{entry.New(entry.TypeNarration, "", "written elsewhere")}
	data, err := entry.MarshalTimeline(remote)
	require.NoError(t, err)
	f.relay.SetFile(entry.StoryPath, string(data))

	err = f.d.Generate(context.Background(), "")
	assert.ErrorIs(t, err, ErrReloaded)

	require.Len(t, f.resolver.reports, 1)
	report := f.resolver.reports[0]
	require.NotNil(t, report.StoryChanges)
	assert.Len(t, report.StoryChanges.Added, 1)

	assert.Equal(t, remote[0].ID, f.tl.All()[0].ID)
	completions, _, _ := f.relay.GetCalls()
	assert.Empty(t, completions, "reload aborts the generation")
	assert.Empty(t, f.player.calls)
}

func TestGenerate_ConflictOverwrite(t *testing.T) {
	f := newFixture(t)
	f.relay.SetFile(entry.WorldViewPath, "Someone else's world.")
	f.reply(`<narration>ours</narration>`)

	require.NoError(t, f.d.Generate(context.Background(), ""))

	require.Len(t, f.resolver.reports, 1)
	assert.True(t, f.resolver.reports[0].WorldViewChanged)

	world, _ := f.relay.File(entry.WorldViewPath)
	assert.Equal(t, "A foggy port.", world, "local world view overwrites remote")
	assert.Len(t, f.savedStory(t), 1)
}

func TestGenerate_FailureAppendsReject(t *testing.T) {
	f := newFixture(t)
	f.relay.ChatCompletionsFunc = func(ctx context.Context, p generation.Payload, timeout time.Duration) (*openai.ChatCompletionResponse, error) {
		return nil, &generation.HTTPStatusError{Status: 429, Body: "slow down"}
	}

	err := f.d.Generate(context.Background(), "")
	var se *generation.HTTPStatusError
	require.True(t, errors.As(err, &se))

	all := f.tl.All()
	require.Len(t, all, 1)
	assert.Equal(t, entry.TypeReject, all[0].Type)
	assert.Contains(t, all[0].Content, "Rate limited")

	require.NotEmpty(t, f.notifier.msgs)
	assert.Equal(t, slog.LevelError, f.notifier.levels[len(f.notifier.levels)-1])
	assert.Len(t, f.savedStory(t), 1, "reject is persisted")
	assert.Empty(t, f.player.calls)
}

func TestGenerate_ParseExhaustedAppendsReject(t *testing.T) {
	f := newFixture(t)
	f.reply("no tags, ever")

	settings := `{"baseUrl":"https://llm.example.com/v1","model":"m","maxParseRetries":0}`
	f.relay.SetFile(entry.SettingsPath, settings)
	require.NoError(t, f.d.Load(context.Background()))

	err := f.d.Generate(context.Background(), "")
	var ex *generation.ExhaustedError
	require.True(t, errors.As(err, &ex))
	assert.Equal(t, 1, ex.ParseAttempts)

	all := f.tl.All()
	require.Len(t, all, 1)
	assert.Contains(t, all[0].Content, "after 1 attempts")
}

func TestGenerate_InactiveSession(t *testing.T) {
	f := newFixture(t)
	f.relay.SetActive("session-b")

	err := f.d.Generate(context.Background(), "")
	assert.ErrorIs(t, err, ErrInactiveSession)

	completions, _, _ := f.relay.GetCalls()
	assert.Empty(t, completions)
	assert.Equal(t, 0, f.tl.Len())

	assert.ErrorIs(t, f.d.AddEntry(context.Background(), entry.New(entry.TypeDirection, "", "x")), ErrInactiveSession)
}

func TestGenerate_WebhookOptions(t *testing.T) {
	f := newFixture(t)
	var gotURL string
	f.d.cfg.Webhooks = func(s entry.Settings) playback.WebhookSender {
		gotURL = s.WebhookURL
		return services.NewWebhookSender(f.relay, s)
	}
	f.relay.SetFile(entry.SettingsPath, `{"baseUrl":"https://llm.example.com/v1","model":"m","webhookUrl":"https://hooks.example.com/in"}`)
	require.NoError(t, f.d.Load(context.Background()))
	f.reply(`<narration>hi</narration>`)

	require.NoError(t, f.d.Generate(context.Background(), ""))
	assert.Equal(t, "https://hooks.example.com/in", gotURL)
	require.Len(t, f.player.calls, 1)
	assert.NotNil(t, f.player.calls[0].opts.Webhook)
}

func TestAddEntry(t *testing.T) {
	f := newFixture(t)
	e := entry.New(entry.TypeDirection, "", "Cut to the docks.")

	require.NoError(t, f.d.AddEntry(context.Background(), e))
	saved := f.savedStory(t)
	require.Len(t, saved, 1)
	assert.Equal(t, e.ID, saved[0].ID)
	assert.Empty(t, f.player.calls)
}

func TestDeleteAfter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := entry.New(entry.TypeNarration, "", "Fog rolls in.")
	require.NoError(t, f.d.AddEntry(ctx, first))
	require.NoError(t, f.d.AddEntry(ctx, entry.New(entry.TypeDirection, "", "Cut to the docks.")))
	require.NoError(t, f.d.AddEntry(ctx, entry.New(entry.TypeDirection, "", "Night falls.")))

	n, err := f.d.DeleteAfter(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	saved := f.savedStory(t)
	require.Len(t, saved, 1)
	assert.Equal(t, first.ID, saved[0].ID)

	_, err = f.d.DeleteAfter(ctx, "missing")
	assert.ErrorIs(t, err, timeline.ErrNotFound)
}

func TestDeleteAfter_OverwriteWithNothingRemoved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := entry.New(entry.TypeNarration, "", "Fog rolls in.")
	require.NoError(t, f.d.AddEntry(ctx, first))

	remote := []entry.Entry{first, entry.New(entry.TypeNarration, "", "written elsewhere")}
	data, err := entry.MarshalTimeline(remote)
	require.NoError(t, err)
	f.relay.SetFile(entry.StoryPath, string(data))

	n, err := f.d.DeleteAfter(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	require.Len(t, f.resolver.reports, 1)

	saved := f.savedStory(t)
	require.Len(t, saved, 1, "local timeline overwrites remote")
	assert.Equal(t, first.ID, saved[0].ID)

	require.NoError(t, f.d.AddEntry(ctx, entry.New(entry.TypeDirection, "", "Night falls.")))
	assert.Len(t, f.resolver.reports, 1, "no second conflict")
}

func TestStoryOverwriteMarksTimelineDirty(t *testing.T) {
	f := newFixture(t)
	remote := []entry.Entry{entry.New(entry.TypeNarration, "", "written elsewhere")}
	data, err := entry.MarshalTimeline(remote)
	require.NoError(t, err)
	f.relay.SetFile(entry.StoryPath, string(data))

	require.NoError(t, f.d.prepare(context.Background(), false))
	assert.True(t, f.tl.Dirty())
}

func TestHint(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"auth", &generation.HTTPStatusError{Status: 401}, "API key"},
		{"rate limit", &generation.HTTPStatusError{Status: 429}, "Rate limited"},
		{"context", &generation.HTTPStatusError{Status: 400, Body: `{"code":"context_length_exceeded"}`}, "context window"},
		{"moderation", &generation.HTTPStatusError{Status: 400, Body: "flagged by moderation"}, "moderation"},
		{"server", &generation.HTTPStatusError{Status: 503}, "server error"},
		{"network", &generation.NetworkError{Op: "POST", Err: errors.New("refused")}, "Could not reach"},
		{"other", errors.New("boom"), "Generation failed: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, Hint(tt.err), tt.want)
		})
	}
}
