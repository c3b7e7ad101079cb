package entry

// Persisted file paths, relative to the relay data directory.
const (
	StoryPath      = "story.jsonl"
	WorldViewPath  = "world.txt"
	CharactersPath = "characters.json"
	SettingsPath   = "settings.json"
)

// Character is a member of the story cast.
type Character struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	// StopOnGenerate forbids the model from speaking or acting as this character.
	StopOnGenerate bool `json:"stopOnGenerate"`
	Enabled        bool `json:"enabled"`
}

// Settings is the user-editable configuration stored alongside the story.
type Settings struct {
	BaseURL      string  `json:"baseUrl"`
	APIKey       string  `json:"apiKey"`
	Model        string  `json:"model"`
	Temperature  float32 `json:"temperature"`
	MaxTokens    int     `json:"maxTokens"`
	SystemPrompt string  `json:"systemPrompt"`

	WebhookURL            string `json:"webhookUrl"`
	WebhookTimeoutSec     int    `json:"webhookTimeoutSec"`
	EnableIncomingWebhook bool   `json:"enableIncomingWebhook"`

	AnimationEnabled     bool `json:"animationEnabled"`
	TypewriterIntervalMs int  `json:"typewriterIntervalMs"`
	EntryPauseMs         int  `json:"entryPauseMs"`

	NetworkTimeoutSec  int `json:"networkTimeoutSec"`
	RecoveryTimeoutSec int `json:"recoveryTimeoutSec"`
	MaxNetworkRetries  int `json:"maxNetworkRetries"`
	MaxParseRetries    int `json:"maxParseRetries"`

	HistoryLimit       int `json:"historyLimit"`
	ContextTokenBudget int `json:"contextTokenBudget"`
}

// DefaultSettings returns settings populated with the stock values.
func DefaultSettings() Settings {
	return Settings{
		Temperature:          0.8,
		MaxTokens:            1024,
		WebhookTimeoutSec:    30,
		AnimationEnabled:     true,
		TypewriterIntervalMs: 30,
		EntryPauseMs:         800,
		NetworkTimeoutSec:    60,
		RecoveryTimeoutSec:   5,
		MaxNetworkRetries:    2,
		MaxParseRetries:      2,
		HistoryLimit:         200,
		ContextTokenBudget:   12000,
	}
}

// WithDefaults fills zero-valued tunables from DefaultSettings.
// Boolean flags and user-supplied strings are left untouched.
func (s Settings) WithDefaults() Settings {
	d := DefaultSettings()
	if s.MaxTokens <= 0 {
		s.MaxTokens = d.MaxTokens
	}
	if s.WebhookTimeoutSec <= 0 {
		s.WebhookTimeoutSec = d.WebhookTimeoutSec
	}
	if s.TypewriterIntervalMs <= 0 {
		s.TypewriterIntervalMs = d.TypewriterIntervalMs
	}
	if s.EntryPauseMs < 0 {
		s.EntryPauseMs = d.EntryPauseMs
	}
	if s.NetworkTimeoutSec <= 0 {
		s.NetworkTimeoutSec = d.NetworkTimeoutSec
	}
	if s.RecoveryTimeoutSec <= 0 {
		s.RecoveryTimeoutSec = d.RecoveryTimeoutSec
	}
	if s.MaxNetworkRetries < 0 {
		s.MaxNetworkRetries = d.MaxNetworkRetries
	}
	if s.MaxParseRetries < 0 {
		s.MaxParseRetries = d.MaxParseRetries
	}
	if s.HistoryLimit <= 0 {
		s.HistoryLimit = d.HistoryLimit
	}
	if s.ContextTokenBudget <= 0 {
		s.ContextTokenBudget = d.ContextTokenBudget
	}
	return s
}

// StorySnapshot is a point-in-time copy of everything that makes up a story.
// It is built fresh from the persisted files for every reconciliation.
type StorySnapshot struct {
	Entries    []Entry     `json:"entries"`
	WorldView  string      `json:"worldView"`
	Characters []Character `json:"characters"`
	Settings   Settings    `json:"settings"`
}
