package generation

// DefaultSystemPrompt is used when the story settings carry no system prompt of their own.
const DefaultSystemPrompt = `You are the co-author of an interactive story. Continue the story from where it left off, staying consistent with the world and the cast below. Keep each response to a few short beats.`

// FormatInstructions tells the model how to mark up its output.
// It is always appended after the system prompt.
const FormatInstructions = `### Output format
Write every beat as exactly one tag, one tag per line:
- <narration>Scene description or prose.</narration>
- <dialogue name="CharacterName">Spoken words only.</dialogue>
- <action name="CharacterName">What the character physically does.</action>
- <direction>A stage direction or note about pacing.</direction>
If you must refuse or cannot continue in character, answer with a single <reject>reason</reject> tag.
Do not write anything outside of tags. Do not nest tags.`

// ContinuePrompt is the final user turn when no explicit instruction is given.
const ContinuePrompt = "Continue the story."
