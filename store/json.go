// Package store provides session.Sink implementations that persist received
// sessions to JSON files and to a SQLite database.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/arloliu/go-astm/logger"
	"github.com/arloliu/go-astm/session"
)

// File name patterns of the JSON sink. The verb is the session ID.
const (
	SessionFilePattern = "astm_session_%d.json"
	SummaryFilePattern = "astm_summary_%d.json"
)

// JSONSink writes every session as two indented JSON documents: the full
// session with all records, and its summary.
type JSONSink struct {
	dir    string
	logger logger.Logger
}

// NewJSONSink creates a sink writing into dir, creating it if needed.
// Sessions of a named link are written to a subdirectory with the link name.
func NewJSONSink(dir string, l logger.Logger) (*JSONSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}

	if l == nil {
		l = logger.GetLogger()
	}

	return &JSONSink{dir: dir, logger: l}, nil
}

// Dir returns the output directory.
func (j *JSONSink) Dir() string { return j.dir }

// Paths returns the session and summary file paths of s.
func (j *JSONSink) Paths(s *session.Session) (string, string) {
	dir := j.dir
	if s.Link != "" {
		dir = filepath.Join(dir, filepath.Base(s.Link))
	}

	return filepath.Join(dir, fmt.Sprintf(SessionFilePattern, s.ID)),
		filepath.Join(dir, fmt.Sprintf(SummaryFilePattern, s.ID))
}

// Save writes both documents of s.
func (j *JSONSink) Save(ctx context.Context, s *session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sessPath, sumPath := j.Paths(s)
	if err := os.MkdirAll(filepath.Dir(sessPath), 0o755); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	if err := writeJSON(sessPath, s); err != nil {
		return err
	}

	if err := writeJSON(sumPath, session.Summarize(s)); err != nil {
		return err
	}

	j.logger.Info("store: session written", "session", s.ID, "path", sessPath)

	return nil
}

// writeJSON writes v to path through a temporary file, so that readers never
// see a partial document.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".astm-*.tmp")
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("store: write %s: %w", path, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: write %s: %w", path, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	return nil
}

// LoadSummary reads a summary document written by JSONSink.
func LoadSummary(path string) (*session.Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var sum session.Summary
	if err := json.Unmarshal(data, &sum); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", path, err)
	}

	return &sum, nil
}
