// Package session drives one student's timed exam attempt from start to
// submission. The engine owns the answer map, the countdown and the local
// draft while the attempt is open; the store owns the submission once the
// attempt ends.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/model"
	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/store"
)

// State is the lifecycle state of an attempt.
type State string

const (
	StateActive     State = "active"
	StateSubmitting State = "submitting"
	StateSubmitted  State = "submitted"
)

// ErrSessionClosed means the attempt has already been submitted.
var ErrSessionClosed = errors.New("session already submitted")

// ErrNoQuestions means the exam has no scorable content to run a session on.
var ErrNoQuestions = errors.New("exam has no questions")

// DraftStore mirrors the in-progress answer map on the local disk.
type DraftStore interface {
	Save(examID, studentID int64, answers model.AnswerMap) error
	Restore(examID, studentID int64) model.AnswerMap
	Clear(examID, studentID int64) error
}

// SubmissionStore persists the final attempt.
type SubmissionStore interface {
	CreateSubmission(sub model.Submission) (int64, error)
}

// Engine runs a single attempt. All methods are safe for concurrent use;
// the timer tick and a manual submit may race and are serialized here.
type Engine struct {
	exam      model.Exam
	questions []model.Question
	studentID int64

	drafts DraftStore
	subs   SubmissionStore

	mu        sync.Mutex
	state     State
	answers   model.AnswerMap
	current   int
	remaining int // seconds; meaningful only when timed
	timed     bool
	autoFired bool
	lastErr   error
}

// NewEngine starts an attempt, restoring any interrupted draft for the same
// (exam, student) pair.
func NewEngine(exam model.Exam, questions []model.Question, studentID int64, drafts DraftStore, subs SubmissionStore) (*Engine, error) {
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}
	// A draft written before the exam was edited can carry answers to
	// questions that no longer exist; those are dropped so the answer map
	// and the progress ratio only ever cover the current question set.
	restored := drafts.Restore(exam.ID, studentID)
	known := make(map[int64]struct{}, len(questions))
	for _, q := range questions {
		known[q.ID] = struct{}{}
	}
	for id := range restored {
		if _, ok := known[id]; !ok {
			delete(restored, id)
		}
	}
	e := &Engine{
		exam:      exam,
		questions: questions,
		studentID: studentID,
		drafts:    drafts,
		subs:      subs,
		state:     StateActive,
		answers:   restored,
		timed:     exam.Duration > 0,
		remaining: exam.Duration * 60,
	}
	return e, nil
}

// SelectAnswer records the student's current answer for a question and
// mirrors the whole map to the draft store. The value is not validated
// against the option set: essays and choices go through the same path.
func (e *Engine) SelectAnswer(questionID int64, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateActive {
		return ErrSessionClosed
	}
	e.answers[questionID] = value
	e.saveDraftLocked()
	return nil
}

// ClearAnswer removes the answer entirely, so the question counts as
// unanswered rather than answered with an empty string.
func (e *Engine) ClearAnswer(questionID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateActive {
		return ErrSessionClosed
	}
	delete(e.answers, questionID)
	e.saveDraftLocked()
	return nil
}

func (e *Engine) saveDraftLocked() {
	if err := e.drafts.Save(e.exam.ID, e.studentID, e.answers); err != nil {
		slog.Warn("draft save failed", "exam_id", e.exam.ID, "student_id", e.studentID, "error", err)
	}
}

// Goto moves to the given question index, clamped to the valid range.
func (e *Engine) Goto(index int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 {
		index = 0
	}
	if index > len(e.questions)-1 {
		index = len(e.questions) - 1
	}
	e.current = index
}

// Next advances to the following question, staying in range.
func (e *Engine) Next() { e.mu.Lock(); i := e.current + 1; e.mu.Unlock(); e.Goto(i) }

// Prev moves back one question, staying in range.
func (e *Engine) Prev() { e.mu.Lock(); i := e.current - 1; e.mu.Unlock(); e.Goto(i) }

// Tick advances the countdown by exactly one second. When it reaches zero
// the attempt is submitted automatically, without confirmation, at most
// once. Returns true when this call triggered the auto-submit.
func (e *Engine) Tick(ctx context.Context) bool {
	e.mu.Lock()
	if e.state != StateActive || !e.timed {
		e.mu.Unlock()
		return false
	}
	if e.remaining > 0 {
		e.remaining--
	}
	fire := e.remaining == 0 && !e.autoFired
	if fire {
		e.autoFired = true
	}
	e.mu.Unlock()

	if !fire {
		return false
	}
	if err := e.Submit(ctx, true); err != nil {
		slog.Error("auto-submit failed", "exam_id", e.exam.ID, "student_id", e.studentID, "error", err)
	}
	return true
}

// Submit scores the current answer map and persists the submission. Only
// one submit may be in flight: the timer firing while a manual submit is
// being written is ignored, and a second submit after success reports the
// session closed. On a store failure the attempt stays active with answers
// and remaining time intact so the student can retry.
func (e *Engine) Submit(ctx context.Context, auto bool) error {
	e.mu.Lock()
	switch e.state {
	case StateSubmitted:
		e.mu.Unlock()
		return ErrSessionClosed
	case StateSubmitting:
		// A submit is already in flight; drop the duplicate trigger.
		e.mu.Unlock()
		return nil
	}
	e.state = StateSubmitting
	answers := e.answers.Clone()
	e.mu.Unlock()

	sub := model.Submission{
		ExamID:      e.exam.ID,
		StudentID:   e.studentID,
		Answers:     answers,
		Score:       Score(e.questions, answers),
		IsSubmitted: true,
	}
	_, err := e.subs.CreateSubmission(sub)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil && !errors.Is(err, store.ErrAlreadySubmitted) {
		e.state = StateActive
		e.lastErr = err
		return fmt.Errorf("submit exam %d: %w", e.exam.ID, err)
	}
	// A concurrent attempt from another device already landed: the first
	// submission wins and this session is done either way.
	e.state = StateSubmitted
	e.lastErr = nil
	if cerr := e.drafts.Clear(e.exam.ID, e.studentID); cerr != nil {
		slog.Warn("draft clear failed", "exam_id", e.exam.ID, "error", cerr)
	}
	slog.Info("exam submitted",
		"exam_id", e.exam.ID, "student_id", e.studentID, "score", sub.Score, "auto", auto)
	return nil
}

// Snapshot is a read-only view of the attempt for the API layer. Correct
// answers are stripped from the question list.
type Snapshot struct {
	ExamID    int64            `json:"exam_id"`
	Title     string           `json:"title"`
	State     State            `json:"state"`
	Remaining int              `json:"remaining_seconds"`
	Timed     bool             `json:"timed"`
	Current   int              `json:"current"`
	Questions []model.Question `json:"questions"`
	Answers   model.AnswerMap  `json:"answers"`
	Progress  float64          `json:"progress"`
	LastError string           `json:"last_error,omitempty"`
}

// Snapshot returns the current view of the attempt.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	questions := make([]model.Question, len(e.questions))
	for i, q := range e.questions {
		q.CorrectAnswer = ""
		questions[i] = q
	}
	snap := Snapshot{
		ExamID:    e.exam.ID,
		Title:     e.exam.Title,
		State:     e.state,
		Remaining: e.remaining,
		Timed:     e.timed,
		Current:   e.current,
		Questions: questions,
		Answers:   e.answers.Clone(),
		Progress:  float64(len(e.answers)) / float64(len(e.questions)),
	}
	if e.lastErr != nil {
		snap.LastError = e.lastErr.Error()
	}
	return snap
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Remaining returns the seconds left on the countdown.
func (e *Engine) Remaining() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remaining
}

// Expired reports whether a timed attempt has run out of time.
func (e *Engine) Expired() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timed && e.remaining == 0
}
