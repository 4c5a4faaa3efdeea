// Package draft persists in-progress answer maps on the local disk so a
// crash or restart does not erase a student's work. Drafts are keyed per
// (exam, student) pair and live outside the main database: saving happens
// on every answer change and must stay synchronous and cheap.
package draft

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/model"
)

type Store struct {
	dir string
}

// NewStore creates a draft store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create draft dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(examID, studentID int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("draft_%d_%d.json", examID, studentID))
}

// Save overwrites the draft for the (exam, student) pair in place.
func (s *Store) Save(examID, studentID int64, answers model.AnswerMap) error {
	data, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	if err := os.WriteFile(s.path(examID, studentID), data, 0o644); err != nil {
		return fmt.Errorf("write draft: %w", err)
	}
	return nil
}

// Restore returns the saved draft, or an empty map when there is none.
// A damaged draft file is treated as absent: restoring must never fail a
// session over local state.
func (s *Store) Restore(examID, studentID int64) model.AnswerMap {
	data, err := os.ReadFile(s.path(examID, studentID))
	if err != nil {
		return model.AnswerMap{}
	}
	var answers model.AnswerMap
	if err := json.Unmarshal(data, &answers); err != nil {
		slog.Warn("discarding malformed draft", "exam_id", examID, "student_id", studentID, "error", err)
		return model.AnswerMap{}
	}
	if answers == nil {
		return model.AnswerMap{}
	}
	return answers
}

// Clear removes the draft. Removing an absent draft is not an error.
func (s *Store) Clear(examID, studentID int64) error {
	err := os.Remove(s.path(examID, studentID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear draft: %w", err)
	}
	return nil
}

// CleanupStale deletes drafts untouched for longer than maxAge and returns
// how many were removed.
func (s *Store) CleanupStale(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
