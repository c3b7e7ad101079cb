package generation

import (
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/jwebster45206/storyloom/pkg/entry"
	"github.com/jwebster45206/storyloom/pkg/tagstream"
)

// PayloadBuilder assembles a completion payload from the story state using a fluent interface.
type PayloadBuilder struct {
	settings    entry.Settings
	worldView   string
	characters  []entry.Character
	history     []entry.Entry
	instruction string
	counter     TokenCounter
}

// NewPayloadBuilder creates a builder with default settings and approximate token counting.
func NewPayloadBuilder() *PayloadBuilder {
	return &PayloadBuilder{
		settings: entry.DefaultSettings(),
		counter:  ApproxCounter{},
	}
}

// WithSettings sets the connection, sampling and budget settings.
func (b *PayloadBuilder) WithSettings(s entry.Settings) *PayloadBuilder {
	b.settings = s.WithDefaults()
	return b
}

// WithWorldView sets the free-form world description.
func (b *PayloadBuilder) WithWorldView(worldView string) *PayloadBuilder {
	b.worldView = worldView
	return b
}

// WithCharacters sets the cast. Disabled characters are left out of the prompt
// but still contribute stop sequences.
func (b *PayloadBuilder) WithCharacters(chars []entry.Character) *PayloadBuilder {
	b.characters = chars
	return b
}

// WithHistory sets the timeline. Reject entries are never sent to the model.
func (b *PayloadBuilder) WithHistory(entries []entry.Entry) *PayloadBuilder {
	b.history = entries
	return b
}

// WithInstruction sets an optional author note for this turn.
func (b *PayloadBuilder) WithInstruction(instruction string) *PayloadBuilder {
	b.instruction = instruction
	return b
}

// WithTokenCounter overrides the token counter used for budgeting.
func (b *PayloadBuilder) WithTokenCounter(c TokenCounter) *PayloadBuilder {
	if c != nil {
		b.counter = c
	}
	return b
}

// Build constructs the payload.
func (b *PayloadBuilder) Build() (Payload, error) {
	if b.settings.BaseURL == "" {
		return Payload{}, fmt.Errorf("base URL is required")
	}
	if b.settings.Model == "" {
		return Payload{}, fmt.Errorf("model is required")
	}

	system := b.systemPrompt()
	final := ContinuePrompt
	if b.instruction != "" {
		final = ContinuePrompt + "\n\nAuthor note: " + b.instruction
	}

	// The response needs room too, so MaxTokens comes out of the budget first.
	budget := b.settings.ContextTokenBudget - b.settings.MaxTokens -
		b.counter.Count(system) - b.counter.Count(final)
	history := b.windowHistory(budget)

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
	}
	if len(history) > 0 {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: tagstream.Serialize(history),
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: final,
	})

	return Payload{
		BaseURL: b.settings.BaseURL,
		APIKey:  b.settings.APIKey,
		Request: openai.ChatCompletionRequest{
			Model:       b.settings.Model,
			Messages:    messages,
			Temperature: b.settings.Temperature,
			MaxTokens:   b.settings.MaxTokens,
			Stop:        StopSequences(b.characters),
		},
	}, nil
}

func (b *PayloadBuilder) systemPrompt() string {
	var sb strings.Builder

	if b.settings.SystemPrompt != "" {
		sb.WriteString(b.settings.SystemPrompt)
	} else {
		sb.WriteString(DefaultSystemPrompt)
	}
	sb.WriteString("\n\n" + FormatInstructions)

	if w := strings.TrimSpace(b.worldView); w != "" {
		sb.WriteString("\n\n### World\n" + w)
	}

	var cast []string
	for _, c := range b.characters {
		if !c.Enabled {
			continue
		}
		line := "- " + c.Name
		if c.Description != "" {
			line += ": " + c.Description
		}
		if c.StopOnGenerate {
			line += " (never write dialogue or actions for this character)"
		}
		cast = append(cast, line)
	}
	if len(cast) > 0 {
		sb.WriteString("\n\n### Characters\n" + strings.Join(cast, "\n"))
	}
	return sb.String()
}

// windowHistory keeps the newest non-reject entries that fit both HistoryLimit and the token budget.
func (b *PayloadBuilder) windowHistory(budget int) []entry.Entry {
	history := entry.WithoutRejects(b.history)
	if limit := b.settings.HistoryLimit; len(history) > limit {
		history = history[len(history)-limit:]
	}

	start := len(history)
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		cost := b.counter.Count(tagstream.SerializeEntry(history[i])) + 1
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}
	return history[start:]
}

// StopSequences returns one name="NAME" stop per character flagged
// StopOnGenerate. Providers strip the matched stop from the reply, so the
// text ends in a bare "<dialogue " or "<action " opening the coordinator
// recognizes as a banned stop.
func StopSequences(chars []entry.Character) []string {
	var stops []string
	for _, c := range chars {
		if !c.StopOnGenerate || c.Name == "" {
			continue
		}
		stops = append(stops, fmt.Sprintf(`name="%s"`, c.Name))
	}
	return stops
}

// stoppedSpeaker returns the character name behind stops when exactly one
// character is stopped, so a cut-off reply can still be attributed.
func stoppedSpeaker(stops []string) string {
	var names []string
	for _, s := range stops {
		name, ok := strings.CutPrefix(s, `name="`)
		if !ok {
			continue
		}
		names = append(names, strings.TrimSuffix(name, `"`))
	}
	if len(names) != 1 {
		return ""
	}
	return names[0]
}
