package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// ErrInvalidPath is returned for paths outside the data directory or with a
// disallowed extension. Handlers map it to 400.
var ErrInvalidPath = errors.New("invalid file path")

// AllowedExtensions are the only file types the relay will touch.
var AllowedExtensions = []string{".txt", ".json", ".jsonl"}

const (
	DefaultBackupGenerations = 30
	backupTimestampLayout    = "2006-01-02T15-04-05.000000Z"
)

// FileManager reads and writes plain text files under a data directory.
// Writes are atomic and the previous version is kept as a rotating backup.
type FileManager struct {
	dataDir     string
	backupDir   string
	generations int
	logger      *slog.Logger
	now         func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewFileManager creates the data and backup directories if needed.
func NewFileManager(dataDir, backupDir string, generations int, logger *slog.Logger) (*FileManager, error) {
	if dataDir == "" {
		dataDir = "./data"
	}
	if backupDir == "" {
		backupDir = filepath.Join(dataDir, "backups")
	}
	if generations < 1 {
		generations = DefaultBackupGenerations
	}

	absData, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	absBackup, err := filepath.Abs(backupDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve backup directory: %w", err)
	}
	for _, dir := range []string{absData, absBackup} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	logger.Info("File manager initialized", "data_dir", absData, "backup_dir", absBackup)

	return &FileManager{
		dataDir:     absData,
		backupDir:   absBackup,
		generations: generations,
		logger:      logger,
		now:         time.Now,
		locks:       make(map[string]*sync.Mutex),
	}, nil
}

// DataDir returns the absolute data directory.
func (m *FileManager) DataDir() string {
	return m.dataDir
}

// resolve validates a client supplied relative path and returns its absolute form.
func (m *FileManager) resolve(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(AllowedExtensions, ext) {
		return "", fmt.Errorf("%w: extension %q is not allowed (allowed: %s)", ErrInvalidPath, ext, strings.Join(AllowedExtensions, ", "))
	}
	if path == "" || filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: %q must be relative to the data directory", ErrInvalidPath, path)
	}

	full := filepath.Join(m.dataDir, path)
	rel, err := filepath.Rel(m.dataDir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q is outside the data directory", ErrInvalidPath, path)
	}
	return full, nil
}

func (m *FileManager) lockFor(full string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	mu, ok := m.locks[full]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[full] = mu
	}
	return mu
}

// Read returns the file content. A missing file returns found=false and no error.
func (m *FileManager) Read(ctx context.Context, path string) (content string, found bool, err error) {
	full, err := m.resolve(path)
	if err != nil {
		return "", false, err
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			m.logger.Debug("File not found", "path", path)
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	m.logger.Debug("File read", "path", path, "bytes", len(data))
	return string(data), true, nil
}

// Write atomically replaces the file content. An existing file is copied to
// the backup directory first; backup failures are logged but do not fail the write.
func (m *FileManager) Write(ctx context.Context, path, content string) error {
	full, err := m.resolve(path)
	if err != nil {
		return err
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidPath)
	}

	mu := m.lockFor(full)
	mu.Lock()
	defer mu.Unlock()

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	if err := m.backup(full); err != nil {
		m.logger.Warn("Backup failed, continuing with write", "path", path, "error", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(full)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	m.logger.Info("File written", "path", path, "bytes", len(content))
	return nil
}

// Delete removes the file. Deleting a missing file succeeds.
func (m *FileManager) Delete(ctx context.Context, path string) error {
	full, err := m.resolve(path)
	if err != nil {
		return err
	}

	mu := m.lockFor(full)
	mu.Lock()
	defer mu.Unlock()

	if err := os.Remove(full); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			m.logger.Debug("File already absent", "path", path)
			return nil
		}
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	m.logger.Info("File deleted", "path", path)
	return nil
}

// backup copies full to <stem>.<UTC timestamp><ext>.bak, mirroring the
// relative directory, then prunes the oldest generations.
func (m *FileManager) backup(full string) error {
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	rel, err := filepath.Rel(m.dataDir, filepath.Dir(full))
	if err != nil {
		return err
	}
	dir := filepath.Join(m.backupDir, rel)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	base := filepath.Base(full)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	ts := m.now().UTC().Format(backupTimestampLayout)
	name := fmt.Sprintf("%s.%s%s.bak", stem, ts, ext)

	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return err
	}
	return m.rotate(dir, stem, ext)
}

// rotate keeps the newest generations backups for one file. Timestamps sort lexically.
func (m *FileManager) rotate(dir, stem, ext string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	prefix := stem + "."
	suffix := ext + ".bak"
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n := e.Name(); strings.HasPrefix(n, prefix) && strings.HasSuffix(n, suffix) {
			names = append(names, n)
		}
	}
	if len(names) <= m.generations {
		return nil
	}

	slices.Sort(names)
	for _, n := range names[:len(names)-m.generations] {
		if err := os.Remove(filepath.Join(dir, n)); err != nil {
			m.logger.Warn("Failed to prune backup", "file", n, "error", err)
		}
	}
	return nil
}

// Backups lists backup file names for path, oldest first.
func (m *FileManager) Backups(path string) ([]string, error) {
	full, err := m.resolve(path)
	if err != nil {
		return nil, err
	}
	rel, err := filepath.Rel(m.dataDir, filepath.Dir(full))
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(m.backupDir, rel)

	base := filepath.Base(full)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext) + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if n := e.Name(); !e.IsDir() && strings.HasPrefix(n, prefix) && strings.HasSuffix(n, ext+".bak") {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return names, nil
}
