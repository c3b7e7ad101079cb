package generation

import (
	"context"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/jwebster45206/storyloom/pkg/entry"
)

// Payload is one completion request as sent to the relay.
type Payload struct {
	BaseURL string                       `json:"baseUrl"`
	APIKey  string                       `json:"apiKey"`
	Request openai.ChatCompletionRequest `json:"payload"`
}

// CompletionClient issues completion calls through the relay.
//
// Implementations return *NetworkError when no response arrived, *HTTPStatusError
// for error statuses, and a plain error for malformed success bodies.
type CompletionClient interface {
	ChatCompletions(ctx context.Context, p Payload, timeout time.Duration) (*openai.ChatCompletionResponse, error)
	// ChatCompletionsLast returns the relay's stored result for an identical request,
	// or ErrNothingToRecover.
	ChatCompletionsLast(ctx context.Context, p Payload, timeout time.Duration) (*openai.ChatCompletionResponse, error)
}

const (
	DefaultBaseDelay         = 500 * time.Millisecond
	DefaultNetworkTimeout    = 60 * time.Second
	DefaultRecoveryTimeout   = 5 * time.Second
	DefaultMaxNetworkRetries = 2
	DefaultMaxParseRetries   = 2
)

// NetworkOptions tunes both retry loops.
type NetworkOptions struct {
	Timeout           time.Duration
	RecoveryTimeout   time.Duration
	MaxNetworkRetries int
	MaxParseRetries   int
	// BaseDelay is the first backoff delay; each later network retry doubles it.
	BaseDelay time.Duration
}

// OptionsFromSettings maps the user's settings onto NetworkOptions.
func OptionsFromSettings(s entry.Settings) NetworkOptions {
	s = s.WithDefaults()
	return NetworkOptions{
		Timeout:           time.Duration(s.NetworkTimeoutSec) * time.Second,
		RecoveryTimeout:   time.Duration(s.RecoveryTimeoutSec) * time.Second,
		MaxNetworkRetries: s.MaxNetworkRetries,
		MaxParseRetries:   s.MaxParseRetries,
		BaseDelay:         DefaultBaseDelay,
	}
}

func (o NetworkOptions) withDefaults() NetworkOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultNetworkTimeout
	}
	if o.RecoveryTimeout <= 0 {
		o.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if o.MaxNetworkRetries < 0 {
		o.MaxNetworkRetries = DefaultMaxNetworkRetries
	}
	if o.MaxParseRetries < 0 {
		o.MaxParseRetries = DefaultMaxParseRetries
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	return o
}
