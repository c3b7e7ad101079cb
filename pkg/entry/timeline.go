package entry

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
)

// MarshalTimeline encodes entries as newline-delimited JSON, one entry per line.
// The result is meant to replace the whole timeline file.
func MarshalTimeline(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	for i, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal entry %d (%s): %w", i, e.ID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// UnmarshalTimeline decodes a newline-delimited JSON timeline. Blank lines are skipped.
func UnmarshalTimeline(data []byte) ([]Entry, error) {
	entries := make([]Entry, 0)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("failed to parse timeline line %d: %w", lineNumber, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read timeline: %w", err)
	}
	return entries, nil
}
