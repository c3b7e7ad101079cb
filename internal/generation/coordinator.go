// Package generation turns a completion payload into recovered story entries,
// retrying network failures and unparseable output on two independent axes.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"

	"github.com/jwebster45206/storyloom/pkg/entry"
	"github.com/jwebster45206/storyloom/pkg/tagstream"
)

// Coordinator runs one generation at a time against a CompletionClient.
type Coordinator struct {
	client CompletionClient
	logger *slog.Logger
	busy   atomic.Bool
}

// NewCoordinator creates a coordinator. A nil logger falls back to slog.Default.
func NewCoordinator(client CompletionClient, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		client: client,
		logger: logger,
	}
}

// Busy reports whether a generation is currently running.
func (c *Coordinator) Busy() bool {
	return c.busy.Load()
}

// Generate requests a completion and recovers entries from it.
//
// Network failures are retried inside a network loop; parse failures re-run a
// whole network loop. A response cut off at an opening dialogue or action tag
// succeeds with a reject describing the suppression. Once both loops give up, the last parse
// error is returned wrapped in *ExhaustedError. Generate never touches the timeline.
func (c *Coordinator) Generate(ctx context.Context, p Payload, opts NetworkOptions) (*tagstream.Result, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return nil, ErrGenerationInProgress
	}
	defer c.busy.Store(false)

	start := time.Now()
	defer func() { generationDuration.Observe(time.Since(start).Seconds()) }()

	opts = opts.withDefaults()

	var (
		lastErr  error
		rejected string
	)
	for attempt := 0; attempt <= opts.MaxParseRetries; attempt++ {
		raw, err := c.networkLoop(ctx, p, opts, rejected)
		if err != nil {
			return nil, err
		}

		result, err := tagstream.Recover(raw)
		if err == nil {
			// A stop can cut the reply after some complete entries.
			if len(p.Request.Stop) > 0 && tagstream.TruncatedOpenTag(raw) {
				parseAttempts.WithLabelValues("banned_stop").Inc()
				result.Rejects = append(result.Rejects, c.bannedStop(raw, p))
				return result, nil
			}
			parseAttempts.WithLabelValues("success").Inc()
			return result, nil
		}

		var pe *tagstream.ParseError
		if !errors.As(err, &pe) {
			return nil, err
		}

		if tagstream.TruncatedOpenTag(raw) {
			parseAttempts.WithLabelValues("banned_stop").Inc()
			return &tagstream.Result{
				Entries: []entry.Entry{},
				Rejects: []entry.Entry{c.bannedStop(raw, p)},
			}, nil
		}

		parseAttempts.WithLabelValues("parse_error").Inc()
		lastErr = err
		rejected = raw
		c.logger.Warn("Failed to parse model output",
			"attempt", attempt+1,
			"max_attempts", opts.MaxParseRetries+1,
			"error", err)
	}

	c.logger.Error("Generation exhausted parse retries", "error", lastErr)
	return nil, &ExhaustedError{ParseAttempts: opts.MaxParseRetries + 1, Err: lastErr}
}

// networkLoop returns the raw message text of one successful round-trip.
// A recovered result equal to rejected belongs to an earlier parse attempt
// and is not accepted.
func (c *Coordinator) networkLoop(ctx context.Context, p Payload, opts NetworkOptions, rejected string) (string, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = opts.BaseDelay
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0
	exp.Reset()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		resp, err := c.client.ChatCompletions(ctx, p, opts.Timeout)
		if err == nil {
			msg, err := messageContent(resp)
			if err != nil {
				networkAttempts.WithLabelValues("error").Inc()
				return "", err
			}
			networkAttempts.WithLabelValues("success").Inc()
			return msg, nil
		}

		if !IsNetworkError(err) {
			var se *HTTPStatusError
			if errors.As(err, &se) {
				networkAttempts.WithLabelValues("http_error").Inc()
			} else {
				networkAttempts.WithLabelValues("error").Inc()
			}
			return "", err
		}
		networkAttempts.WithLabelValues("network_error").Inc()

		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}

		if msg, ok := c.recoverLast(ctx, p, opts); ok {
			if msg != rejected {
				networkAttempts.WithLabelValues("recovered").Inc()
				c.logger.Info("Recovered completion after network failure", "attempt", attempt+1)
				return msg, nil
			}
			networkAttempts.WithLabelValues("stale").Inc()
			c.logger.Debug("Ignoring recovered completion from a rejected attempt", "attempt", attempt+1)
		}

		if attempt >= opts.MaxNetworkRetries {
			c.logger.Error("Completion request failed", "attempts", attempt+1, "error", err)
			return "", err
		}

		wait := exp.NextBackOff()
		c.logger.Warn("Completion request failed, retrying",
			"attempt", attempt+1,
			"retry_in", wait,
			"error", err)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		}
	}
}

// recoverLast asks the relay whether it already holds a result for this request,
// which happens when the model answered after our own timeout fired.
func (c *Coordinator) recoverLast(ctx context.Context, p Payload, opts NetworkOptions) (string, bool) {
	resp, err := c.client.ChatCompletionsLast(ctx, p, opts.RecoveryTimeout)
	if err != nil {
		if !errors.Is(err, ErrNothingToRecover) {
			c.logger.Debug("Last completion recovery failed", "error", err)
		}
		return "", false
	}
	msg, err := messageContent(resp)
	if err != nil || strings.TrimSpace(msg) == "" {
		return "", false
	}
	return msg, true
}

func messageContent(resp *openai.ChatCompletionResponse) (string, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("malformed completion response: no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// bannedStop builds the reject for a reply cut off at a stopped character's tag.
func (c *Coordinator) bannedStop(raw string, p Payload) entry.Entry {
	speaker := tagstream.TruncatedSpeaker(raw)
	if speaker == "" {
		speaker = stoppedSpeaker(p.Request.Stop)
	}
	c.logger.Info("Generation stopped at suppressed character", "speaker", speaker)
	return entry.NewReject(bannedStopMessage(speaker))
}

func bannedStopMessage(speaker string) string {
	if speaker == "" {
		return "Generation stopped: the model tried to write for a character that is set to stop on generate."
	}
	return fmt.Sprintf("Generation stopped: the model tried to write for %s, who is set to stop on generate.", speaker)
}
