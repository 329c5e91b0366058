// Package jsonfile persists the question collection as an indented JSON array.
package jsonfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/stackexchange-qa-collector/internal/qa"
)

// Store reads and writes the questions file. It implements qa.QuestionStore.
type Store struct {
	path   string
	logger *zap.Logger
}

// New creates a Store for path. The file does not need to exist yet.
func New(path string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("questions path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger}, nil
}

// Path returns the file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the stored questions, or an empty collection when the file is absent.
func (s *Store) Load() ([]qa.Question, error) {
	// #nosec G304 -- path comes from operator configuration.
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("no questions file found", zap.String("path", s.path))
		return []qa.Question{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read questions file: %w", err)
	}
	questions := []qa.Question{}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &questions); err != nil {
			return nil, fmt.Errorf("decode questions file %s: %w", s.path, err)
		}
	}
	s.logger.Info("loaded questions", zap.Int("count", len(questions)), zap.String("path", s.path))
	return questions, nil
}

// Save overwrites the file with the full collection.
func (s *Store) Save(questions []qa.Question) error {
	if questions == nil {
		questions = []qa.Question{}
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create questions directory: %w", err)
		}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(questions); err != nil {
		return fmt.Errorf("encode questions: %w", err)
	}
	if err := os.WriteFile(s.path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write questions file: %w", err)
	}
	s.logger.Info("saved questions", zap.Int("count", len(questions)), zap.String("path", s.path))
	return nil
}
