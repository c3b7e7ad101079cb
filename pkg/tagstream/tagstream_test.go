package tagstream

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/storyloom/pkg/entry"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "unterminated attribute quote",
			in:   `<action name="Bob>did something</action>`,
			want: `<action name="Bob">did something</action>`,
		},
		{
			name: "truncated closing tag at end",
			in:   `<dialogue name="A">hi</dial`,
			want: `<dialogue name="A">hi</dialogue>`,
		},
		{
			name: "truncated closing tag before next tag",
			in:   `<narration>rain</narr<action name="B">runs</action>`,
			want: `<narration>rain</narration><action name="B">runs</action>`,
		},
		{
			name: "doubled close bracket",
			in:   `<narration>>>night falls</narration>>`,
			want: `<narration>night falls</narration>`,
		},
		{
			name: "complete closing tag untouched",
			in:   `<dialogue name="A">hi</dial>`,
			want: `<dialogue name="A">hi</dial>`,
		},
		{
			name: "unknown closing prefix untouched",
			in:   `<thought>hmm</tho`,
			want: `<thought>hmm</tho`,
		},
		{
			name: "clean input unchanged",
			in:   `<dialogue name="A">hello</dialogue>`,
			want: `<dialogue name="A">hello</dialogue>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	inputs := []string{
		`<action name="Bob>did something</action>`,
		`<dialogue name="A">hi</dial`,
		`<narration>>>x</narration>>`,
		`plain prose with no tags`,
		`<a name="x" id="y>z</a>`,
	}
	for _, in := range inputs {
		once := Sanitize(in)
		assert.Equal(t, once, Sanitize(once), "input %q", in)
	}
}

func TestExtract_TypoClose(t *testing.T) {
	spans := Extract(`<dialogue name="A">hi</dial><narration>x</>`)
	require.Len(t, spans, 2)
	assert.Equal(t, "dialogue", spans[0].Close)
	assert.Equal(t, "narration", spans[1].Close)
	assert.Equal(t, `<dialogue name="A">hi</dialogue>`, spans[0].Markup())
}

func TestEscapeStrayMarkup(t *testing.T) {
	assert.Equal(t, "a &lt; b &amp; c", escapeStrayMarkup("a < b & c"))
	assert.Equal(t, "fish &amp; chips &lt;3", escapeStrayMarkup("fish & chips <3"))
	assert.Equal(t, "caf&eacute; &amp;", escapeStrayMarkup("caf&eacute; &"))
}

func TestRecover(t *testing.T) {
	raw := `<narration>The door creaks.</narration>
<dialogue name="Ann">Who's there?</dialogue>
<action name="Bob">steps inside</action>`

	res, err := Recover(raw)
	require.NoError(t, err)
	require.Len(t, res.Entries, 3)
	assert.Empty(t, res.Rejects)

	assert.Equal(t, entry.TypeNarration, res.Entries[0].Type)
	assert.Nil(t, res.Entries[0].Name)
	assert.Equal(t, "The door creaks.", res.Entries[0].Content)

	assert.Equal(t, entry.TypeDialogue, res.Entries[1].Type)
	require.NotNil(t, res.Entries[1].Name)
	assert.Equal(t, "Ann", *res.Entries[1].Name)
	assert.Equal(t, "Who's there?", res.Entries[1].Content)

	assert.Equal(t, entry.TypeAction, res.Entries[2].Type)
	assert.Equal(t, "Bob", *res.Entries[2].Name)
}

func TestRecover_RepairsTypoClose(t *testing.T) {
	res, err := Recover(`<dialogue name="A">hi</dial>`)
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, entry.TypeDialogue, res.Entries[0].Type)
	assert.Equal(t, "A", *res.Entries[0].Name)
	assert.Equal(t, "hi", res.Entries[0].Content)
}

func TestRecover_RepairsUnterminatedQuote(t *testing.T) {
	res, err := Recover(`<action name="Bob>did something</action>`)
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, entry.TypeAction, res.Entries[0].Type)
	assert.Equal(t, "Bob", *res.Entries[0].Name)
	assert.Equal(t, "did something", res.Entries[0].Content)
}

func TestRecover_NoTags(t *testing.T) {
	_, err := Recover("Once upon a time there was only prose.")
	require.Error(t, err)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, KindXMLParse, pe.Kind)
	assert.True(t, pe.Retryable())
}

func TestRecover_UnknownTagPreserved(t *testing.T) {
	res, err := Recover(`<thought>I wonder</thought>`)
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, entry.Type("thought"), res.Entries[0].Type)
	assert.False(t, res.Entries[0].Type.Known())
}

func TestRecover_DropsWhitespaceOnly(t *testing.T) {
	res, err := Recover("<narration>   \n </narration><narration> ok </narration>")
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "ok", res.Entries[0].Content)
}

func TestRecover_SplitsRejects(t *testing.T) {
	res, err := Recover(`<narration>a</narration><reject>out of character</reject>`)
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	require.Len(t, res.Rejects, 1)
	assert.Equal(t, entry.TypeReject, res.Rejects[0].Type)
	assert.Equal(t, "out of character", res.Rejects[0].Content)
	assert.Len(t, res.All(), 2)
}

func TestRecover_StrayMarkupInContent(t *testing.T) {
	res, err := Recover(`<narration>3 < 4 & 5 > 2</narration>`)
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "3 < 4 & 5 > 2", res.Entries[0].Content)
}

func TestRecover_MalformedNesting(t *testing.T) {
	_, err := Recover(`<narration>a <b>bold</narration>`)
	require.Error(t, err)
	var pe *ParseError
	assert.True(t, errors.As(err, &pe))
}

func TestSerialize_RoundTrip(t *testing.T) {
	entries := []entry.Entry{
		entry.New(entry.TypeNarration, "", "Fog & rain <again>"),
		entry.New(entry.TypeDialogue, `Ann "the bold"`, "Line one.\nLine two."),
		entry.New(entry.TypeAction, "Bob", "waves"),
	}

	out := Serialize(entries)
	res, err := Recover(out)
	require.NoError(t, err)
	require.Len(t, res.Entries, len(entries))
	for i, want := range entries {
		got := res.Entries[i]
		assert.Equal(t, want.Type, got.Type)
		assert.Equal(t, want.Content, got.Content)
		assert.Equal(t, want.NameOr(""), got.NameOr(""))
	}
}

func TestSerializeEntry(t *testing.T) {
	e := entry.New(entry.TypeDialogue, "Ann", "hi")
	assert.Equal(t, `<dialogue name="Ann">hi</dialogue>`, SerializeEntry(e))

	n := entry.New(entry.TypeNarration, "", "x")
	assert.Equal(t, `<narration>x</narration>`, SerializeEntry(n))
}

func TestTruncatedOpenTag(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{`<narration>x</narration>` + "\n" + `<dialogue name="Ann"`, true},
		{`<narration>x</narration><action`, true},
		{`<narration>x</narration><action name="B">`, false},
		{`<narration>x</narration>`, false},
		{`<narration>x</narration><narration`, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TruncatedOpenTag(tt.raw), "raw %q", tt.raw)
	}
}

func TestTruncatedSpeaker(t *testing.T) {
	assert.Equal(t, "Ann", TruncatedSpeaker(`<narration>x</narration><dialogue name="Ann"`))
	assert.Equal(t, "Bo", TruncatedSpeaker(`<action name="Bo`))
	assert.Equal(t, "", TruncatedSpeaker(`<action`))
	assert.Equal(t, "", TruncatedSpeaker(`<narration>x</narration>`))
}
