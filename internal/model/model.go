package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a student user role.
	UserRoleStudent UserRole = "student"
	// UserRoleTeacher is a teacher user role.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// QuestionType discriminates how a question is answered and scored.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionEssay          QuestionType = "essay"
	QuestionTrueFalse      QuestionType = "true_false"
)

// Exam is an authored exam. Duration is in minutes; 0 means untimed.
type Exam struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	OwnerID   int64     `json:"owner_id"`
	Duration  int       `json:"duration"`
	IsLocked  bool      `json:"is_locked"`
	CreatedAt time.Time `json:"created_at"`
}

// Question is one question of an exam. Options holds multiple-choice option
// texts in label order (A, B, ...). CorrectAnswer is always a letter label,
// never an index; essay questions have no correct answer.
type Question struct {
	ID            int64        `json:"id"`
	ExamID        int64        `json:"exam_id"`
	Position      int          `json:"position"`
	Type          QuestionType `json:"type"`
	Content       string       `json:"content"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correct_answer,omitempty"`
	Points        int          `json:"points"`
}

// AutoScorable reports whether the question can be scored by exact match.
func (q Question) AutoScorable() bool {
	return q.Type == QuestionMultipleChoice || q.Type == QuestionTrueFalse
}

// AnswerMap maps question IDs to the student's current answer value: an
// option label for objective questions, free text for essays.
type AnswerMap map[int64]string

// Clone returns a copy so the caller can hold a snapshot safely.
func (a AnswerMap) Clone() AnswerMap {
	out := make(AnswerMap, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Submission is the final record of one student's attempt.
type Submission struct {
	ID          int64     `json:"id"`
	ExamID      int64     `json:"exam_id"`
	StudentID   int64     `json:"student_id"`
	Answers     AnswerMap `json:"answers"`
	Score       int       `json:"score"`
	IsSubmitted bool      `json:"is_submitted"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Upload records an original source document retained in object storage.
type Upload struct {
	ID        int64     `json:"id"`
	ExamID    int64     `json:"exam_id"`
	ObjectKey string    `json:"object_key"`
	URL       string    `json:"url"`
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// QuestionDraft is one reviewable question of an ingested batch. It is not
// durable until the author commits the batch.
type QuestionDraft struct {
	Type          QuestionType `json:"type"`
	Content       string       `json:"content"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correct_answer,omitempty"`
	Points        int          `json:"points"`
}
