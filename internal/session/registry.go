package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/model"
	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/store"
)

// ErrExamLocked means the exam does not accept new student sessions.
var ErrExamLocked = errors.New("exam is locked")

// ExamStore is the slice of persistence the registry needs to start and
// finish attempts.
type ExamStore interface {
	GetExam(id int64) (model.Exam, error)
	GetQuestions(examID int64) ([]model.Question, error)
	GetSubmission(examID, studentID int64) (*model.Submission, error)
	SubmissionStore
}

type attemptKey struct {
	examID    int64
	studentID int64
}

// Registry holds one engine per open (exam, student) attempt and owns the
// wall-clock ticker that drives the countdowns. Engines never share state;
// the lock here only guards the map.
type Registry struct {
	store  ExamStore
	drafts DraftStore

	mu      sync.Mutex
	engines map[attemptKey]*Engine
}

func NewRegistry(s ExamStore, drafts DraftStore) *Registry {
	return &Registry{
		store:   s,
		drafts:  drafts,
		engines: make(map[attemptKey]*Engine),
	}
}

// Start opens (or resumes) the student's attempt on an exam. A locked exam
// and an already-submitted exam are both refused up front.
func (r *Registry) Start(examID, studentID int64) (*Engine, error) {
	key := attemptKey{examID, studentID}

	r.mu.Lock()
	if e, ok := r.engines[key]; ok && e.State() != StateSubmitted {
		r.mu.Unlock()
		return e, nil
	}
	r.mu.Unlock()

	exam, err := r.store.GetExam(examID)
	if err != nil {
		return nil, fmt.Errorf("load exam %d: %w", examID, err)
	}
	if exam.IsLocked {
		return nil, ErrExamLocked
	}
	if sub, err := r.store.GetSubmission(examID, studentID); err != nil {
		return nil, fmt.Errorf("check submission: %w", err)
	} else if sub != nil {
		return nil, fmt.Errorf("exam %d: %w", examID, store.ErrAlreadySubmitted)
	}

	questions, err := r.store.GetQuestions(examID)
	if err != nil {
		// Includes malformed stored question data, which is terminal for
		// this session: scoring an exam of unknown structure is impossible.
		return nil, fmt.Errorf("load questions for exam %d: %w", examID, err)
	}

	engine, err := NewEngine(exam, questions, studentID, r.drafts, r.store)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another request may have raced us here; keep the first engine so the
	// student has a single attempt with a single timer.
	if e, ok := r.engines[key]; ok && e.State() != StateSubmitted {
		return e, nil
	}
	r.engines[key] = engine
	return engine, nil
}

// Get returns the open engine for the pair, or nil.
func (r *Registry) Get(examID, studentID int64) *Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engines[attemptKey{examID, studentID}]
}

// Remove drops the engine, abandoning any un-submitted state except the
// draft, which survives for the next Start.
func (r *Registry) Remove(examID, studentID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, attemptKey{examID, studentID})
}

// Run ticks every open engine once per second until ctx is done, evicting
// engines that reached a terminal state.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tickAll(ctx)
		}
	}
}

func (r *Registry) tickAll(ctx context.Context) {
	r.mu.Lock()
	engines := make(map[attemptKey]*Engine, len(r.engines))
	for k, e := range r.engines {
		engines[k] = e
	}
	r.mu.Unlock()

	for k, e := range engines {
		e.Tick(ctx)
		if e.State() == StateSubmitted {
			r.mu.Lock()
			delete(r.engines, k)
			r.mu.Unlock()
		}
	}
}
