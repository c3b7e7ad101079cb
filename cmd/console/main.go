package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/jwebster45206/storyloom/internal/config"
	"github.com/jwebster45206/storyloom/internal/director"
	"github.com/jwebster45206/storyloom/internal/generation"
	"github.com/jwebster45206/storyloom/internal/logger"
	"github.com/jwebster45206/storyloom/internal/playback"
	"github.com/jwebster45206/storyloom/internal/services"
	"github.com/jwebster45206/storyloom/internal/timeline"
	"github.com/jwebster45206/storyloom/pkg/entry"
)

const incomingPollInterval = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// The terminal belongs to the UI, so logs go to a file.
	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logFile.Close()
	}()
	log := logger.SetupWriter(cfg, logFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := services.NewRelayClient(cfg.RelayURL, log)
	if err := relay.Health(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Could not connect to the relay at %s: %v\nTry: docker-compose up -d\n", cfg.RelayURL, err)
		os.Exit(1)
	}

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if err := relay.SetActiveSession(ctx, sessionID); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to claim the story session: %v\n", err)
		os.Exit(1)
	}
	log.Info("Session claimed", "session_id", sessionID)

	b := &bridge{}
	controller := playback.NewController(b, b, log)
	store := timeline.NewStore(relay, timeline.DefaultDebounce, log)

	d := director.New(director.Config{
		SessionID: sessionID,
		Files:     relay,
		Timeline:  store,
		Gate:      relay,
		Resolver:  b,
		Generator: generation.NewCoordinator(relay, log),
		Player:    &announcingPlayer{controller: controller, bridge: b},
		Notifier:  b,
		Webhooks: func(s entry.Settings) playback.WebhookSender {
			if sender := services.NewWebhookSender(relay, s); sender != nil {
				return sender
			}
			return nil
		},
		Counter: generation.NewTiktokenCounter("", log),
		Logger:  log,
	})
	if err := d.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load the story: %v\n", err)
		os.Exit(1)
	}

	p := tea.NewProgram(NewConsoleUI(ctx, d, controller, sessionID),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion())
	b.attach(p)
	unwatch := b.Watch(store)

	go pollIncoming(ctx, relay, incomingPollInterval, b)

	_, runErr := p.Run()

	unwatch()
	controller.Cancel()
	cancel()

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer flushCancel()
	if err := store.Flush(flushCtx); err != nil {
		log.Error("Failed to save the story on exit", "error", err)
		fmt.Fprintf(os.Stderr, "Failed to save the story: %v\n", err)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", runErr)
		os.Exit(1)
	}
}
