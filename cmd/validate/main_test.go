package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/storyloom/pkg/entry"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestValidateDir_Valid(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		entry.StoryPath: `{"id":"a","type":"narration","name":null,"content":"Fog.","createdAt":"2024-05-01T10:00:00.000Z"}
{"id":"b","type":"flashback","name":null,"content":"Years ago.","createdAt":"2024-05-01T10:00:01.000Z"}
`,
		entry.WorldViewPath:  "A foggy port.",
		entry.CharactersPath: `[{"id":"c1","name":"Mara","description":"","stopOnGenerate":true,"enabled":true}]`,
		entry.SettingsPath:   `{"baseUrl":"https://llm.example.com/v1","model":"m"}`,
	})

	v := &StoryValidator{}
	require.NoError(t, v.validateDir(dir))
	require.Len(t, v.warnings, 1)
	assert.Contains(t, v.warnings[0], "flashback")
}

func TestValidateDir_EmptyDirIsValid(t *testing.T) {
	v := &StoryValidator{}
	assert.NoError(t, v.validateDir(t.TempDir()))
}

func TestValidateDir_Errors(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  string
	}{
		{
			"duplicate entry id",
			map[string]string{entry.StoryPath: `{"id":"a","type":"narration","content":"x","createdAt":"2024-05-01T10:00:00.000Z"}
{"id":"a","type":"narration","content":"y","createdAt":"2024-05-01T10:00:00.000Z"}`},
			"duplicate id 'a'",
		},
		{
			"bad timestamp",
			map[string]string{entry.StoryPath: `{"id":"a","type":"narration","content":"x","createdAt":"yesterday"}`},
			"not an ISO-8601 timestamp",
		},
		{
			"broken jsonl",
			map[string]string{entry.StoryPath: `{"id":`},
			"line 1",
		},
		{
			"unknown settings field",
			map[string]string{entry.SettingsPath: `{"theme":"dark"}`},
			"strict JSON",
		},
		{
			"bad webhook url",
			map[string]string{entry.SettingsPath: `{"webhookUrl":"ftp://hooks.example.com"}`},
			"webhookUrl",
		},
		{
			"character without name",
			map[string]string{entry.CharactersPath: `[{"id":"c1","name":" "}]`},
			"has no name",
		},
		{
			"world view not utf8",
			map[string]string{entry.WorldViewPath: "\xff\xfe"},
			"UTF-8",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &StoryValidator{}
			err := v.validateDir(writeFiles(t, tt.files))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateDir_NotADirectory(t *testing.T) {
	dir := writeFiles(t, map[string]string{"file.txt": "x"})
	v := &StoryValidator{}
	assert.Error(t, v.validateDir(filepath.Join(dir, "file.txt")))
}
