package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jwebster45206/storyloom/pkg/entry"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <data-dir>\n", os.Args[0])
		os.Exit(1)
	}

	dir := os.Args[1]
	validator := &StoryValidator{}

	if err := validator.validateDir(dir); err != nil {
		fmt.Fprintf(os.Stderr, "Validation failed: %v\n", err)
		os.Exit(1)
	}

	for _, w := range validator.warnings {
		fmt.Println(w)
	}
	fmt.Println("Story files are valid!")
}

// StoryValidator checks the persisted story files in a relay data directory.
type StoryValidator struct {
	errors   []string
	warnings []string
}

func (v *StoryValidator) validateDir(dir string) error {
	fmt.Printf("Validating %s...\n", dir)

	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("failed to open data directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	v.errors = nil
	v.warnings = nil

	if data, ok, err := readOptional(dir, entry.StoryPath); err != nil {
		return err
	} else if ok {
		v.validateStory(data)
	}

	if data, ok, err := readOptional(dir, entry.WorldViewPath); err != nil {
		return err
	} else if ok && !utf8.Valid(data) {
		v.addError(entry.WorldViewPath + " is not valid UTF-8")
	}

	if data, ok, err := readOptional(dir, entry.CharactersPath); err != nil {
		return err
	} else if ok {
		v.validateCharacters(data)
	}

	if data, ok, err := readOptional(dir, entry.SettingsPath); err != nil {
		return err
	} else if ok {
		v.validateSettings(data)
	}

	if len(v.errors) > 0 {
		return fmt.Errorf("validation errors in %s:\n%s", dir, strings.Join(v.errors, "\n"))
	}
	return nil
}

// readOptional reads dir/name. A missing file is not an error; the relay treats it as empty.
func readOptional(dir, name string) ([]byte, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, true, nil
}

func (v *StoryValidator) validateStory(data []byte) {
	entries, err := entry.UnmarshalTimeline(data)
	if err != nil {
		v.addError(fmt.Sprintf("%s: %v", entry.StoryPath, err))
		return
	}

	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		where := fmt.Sprintf("%s entry %d", entry.StoryPath, i+1)
		switch {
		case e.ID == "":
			v.addError(where + " has no id")
		case seen[e.ID]:
			v.addError(fmt.Sprintf("%s has duplicate id '%s'", where, e.ID))
		}
		seen[e.ID] = true

		if e.Type == "" {
			v.addError(where + " has no type")
		} else if !e.Type.Known() {
			v.addWarning(fmt.Sprintf("%s has unrecognized type '%s' (kept as-is)", where, e.Type))
		}
		if e.IsReject() {
			v.addWarning(where + " is a reject entry; it is purged on the next generation")
		}

		v.validateTimestamp(where+" createdAt", e.CreatedAt)
		if e.UpdatedAt != nil {
			v.validateTimestamp(where+" updatedAt", *e.UpdatedAt)
		}
	}
}

func (v *StoryValidator) validateTimestamp(field, ts string) {
	if ts == "" {
		v.addError(field + " is empty")
		return
	}
	if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
		v.addError(fmt.Sprintf("%s '%s' is not an ISO-8601 timestamp", field, ts))
	}
}

func (v *StoryValidator) validateCharacters(data []byte) {
	var chars []entry.Character
	if err := decodeStrict(data, &chars); err != nil {
		v.addError(fmt.Sprintf("%s failed strict JSON unmarshaling: %v", entry.CharactersPath, err))
		return
	}

	seen := make(map[string]bool, len(chars))
	for i, c := range chars {
		where := fmt.Sprintf("%s character %d", entry.CharactersPath, i+1)
		if c.ID == "" {
			v.addError(where + " has no id")
		} else if seen[c.ID] {
			v.addError(fmt.Sprintf("%s has duplicate id '%s'", where, c.ID))
		}
		seen[c.ID] = true

		if strings.TrimSpace(c.Name) == "" {
			v.addError(where + " has no name")
		} else if !validNameRegex.MatchString(c.Name) {
			v.addWarning(fmt.Sprintf("%s name '%s' cannot be used as a stop sequence", where, c.Name))
		}
	}
}

func (v *StoryValidator) validateSettings(data []byte) {
	s := entry.DefaultSettings()
	if err := decodeStrict(data, &s); err != nil {
		v.addError(fmt.Sprintf("%s failed strict JSON unmarshaling: %v", entry.SettingsPath, err))
		return
	}

	v.validateURL("baseUrl", s.BaseURL)
	v.validateURL("webhookUrl", s.WebhookURL)

	if s.Temperature < 0 || s.Temperature > 2 {
		v.addError(fmt.Sprintf("%s temperature %.2f is outside 0-2", entry.SettingsPath, s.Temperature))
	}
	if s.BaseURL != "" && s.Model == "" {
		v.addWarning(entry.SettingsPath + " sets baseUrl without a model")
	}
}

func (v *StoryValidator) validateURL(field, raw string) {
	if raw == "" {
		return
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		v.addError(fmt.Sprintf("%s %s '%s' must be an absolute http(s) URL", entry.SettingsPath, field, raw))
	}
}

func decodeStrict(data []byte, v any) error {
	decoder := json.NewDecoder(strings.NewReader(string(data)))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func (v *StoryValidator) addError(msg string) {
	v.errors = append(v.errors, "  - "+msg)
}

func (v *StoryValidator) addWarning(msg string) {
	v.warnings = append(v.warnings, "  ! "+msg)
}

// Names used as stop sequences should be printable and single-line.
var validNameRegex = regexp.MustCompile(`^[^\r\n\t]{1,64}$`)
