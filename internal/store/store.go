package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/model"

	_ "modernc.org/sqlite"
)

// ErrAlreadySubmitted is returned when a student already has a submission
// for the exam. First submission wins.
var ErrAlreadySubmitted = errors.New("submission already exists for this exam and student")

// ErrMalformedQuestion is returned when stored question data cannot be
// decoded. A session loading such an exam must treat it as fatal.
var ErrMalformedQuestion = errors.New("malformed stored question data")

type Store struct {
	db      *sql.DB
	authTTL time.Duration
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'student',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS exams (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		owner_id INTEGER NOT NULL,
		duration INTEGER NOT NULL DEFAULT 0,
		is_locked BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (owner_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		type TEXT NOT NULL,
		content TEXT NOT NULL,
		options TEXT NOT NULL DEFAULT '[]',
		correct_answer TEXT NOT NULL DEFAULT '',
		points INTEGER NOT NULL DEFAULT 1,
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_id INTEGER NOT NULL,
		student_id INTEGER NOT NULL,
		answers TEXT NOT NULL DEFAULT '{}',
		score INTEGER NOT NULL DEFAULT 0,
		is_submitted BOOLEAN NOT NULL DEFAULT 0,
		submitted_at DATETIME NOT NULL,
		UNIQUE(exam_id, student_id),
		FOREIGN KEY (exam_id) REFERENCES exams(id),
		FOREIGN KEY (student_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS uploads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_id INTEGER NOT NULL,
		object_key TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		filename TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateExamWithQuestions inserts an exam and its questions as one unit of
// work. Either everything lands or nothing does; there is no way to leave
// an orphaned exam row behind a failed question insert.
func (s *Store) CreateExamWithQuestions(exam model.Exam, questions []model.Question) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO exams (title, owner_id, duration, is_locked, created_at) VALUES (?, ?, ?, ?, ?)`,
		exam.Title, exam.OwnerID, exam.Duration, exam.IsLocked, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	examID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for i, q := range questions {
		points := q.Points
		if points <= 0 {
			points = 1
		}
		opts, err := json.Marshal(q.Options)
		if err != nil {
			return 0, err
		}
		_, err = tx.Exec(
			`INSERT INTO questions (exam_id, position, type, content, options, correct_answer, points)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			examID, i, q.Type, q.Content, string(opts), q.CorrectAnswer, points,
		)
		if err != nil {
			return 0, err
		}
	}

	return examID, tx.Commit()
}

// GetExam returns an exam by ID.
func (s *Store) GetExam(id int64) (model.Exam, error) {
	var e model.Exam
	err := s.db.QueryRow(
		`SELECT id, title, owner_id, duration, is_locked, created_at FROM exams WHERE id = ?`, id,
	).Scan(&e.ID, &e.Title, &e.OwnerID, &e.Duration, &e.IsLocked, &e.CreatedAt)
	return e, err
}

// ListExamsByOwner returns the exams authored by a user, newest first.
func (s *Store) ListExamsByOwner(ownerID int64) ([]model.Exam, error) {
	return s.listExams(`SELECT id, title, owner_id, duration, is_locked, created_at
		FROM exams WHERE owner_id = ? ORDER BY created_at DESC, id DESC`, ownerID)
}

// ListOpenExams returns exams students may start, newest first.
func (s *Store) ListOpenExams() ([]model.Exam, error) {
	return s.listExams(`SELECT id, title, owner_id, duration, is_locked, created_at
		FROM exams WHERE is_locked = 0 ORDER BY created_at DESC, id DESC`)
}

func (s *Store) listExams(query string, args ...any) ([]model.Exam, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := rows.Scan(&e.ID, &e.Title, &e.OwnerID, &e.Duration, &e.IsLocked, &e.CreatedAt); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// SetExamLocked updates the lock flag on an exam.
func (s *Store) SetExamLocked(id int64, locked bool) error {
	_, err := s.db.Exec(`UPDATE exams SET is_locked = ? WHERE id = ?`, locked, id)
	return err
}

// DeleteExam removes an exam with its questions, submissions and upload rows.
func (s *Store) DeleteExam(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM questions WHERE exam_id = ?`,
		`DELETE FROM submissions WHERE exam_id = ?`,
		`DELETE FROM uploads WHERE exam_id = ?`,
		`DELETE FROM exams WHERE id = ?`,
	} {
		if _, err := tx.Exec(q, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetQuestions returns the questions of an exam in authored order.
// Undecodable option data surfaces as ErrMalformedQuestion.
func (s *Store) GetQuestions(examID int64) ([]model.Question, error) {
	rows, err := s.db.Query(
		`SELECT id, exam_id, position, type, content, options, correct_answer, points
		 FROM questions WHERE exam_id = ? ORDER BY position, id`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		var opts string
		if err := rows.Scan(&q.ID, &q.ExamID, &q.Position, &q.Type, &q.Content, &opts, &q.CorrectAnswer, &q.Points); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(opts), &q.Options); err != nil {
			return nil, fmt.Errorf("%w: question %d: %v", ErrMalformedQuestion, q.ID, err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// CreateSubmission records a final attempt. A second submission for the same
// (exam, student) pair returns ErrAlreadySubmitted and leaves the first one
// untouched.
func (s *Store) CreateSubmission(sub model.Submission) (int64, error) {
	answers, err := json.Marshal(sub.Answers)
	if err != nil {
		return 0, err
	}
	res, err := s.db.Exec(
		`INSERT INTO submissions (exam_id, student_id, answers, score, is_submitted, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(exam_id, student_id) DO NOTHING`,
		sub.ExamID, sub.StudentID, string(answers), sub.Score, true, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrAlreadySubmitted
	}
	return res.LastInsertId()
}

// GetSubmission returns the submission for an (exam, student) pair, or nil.
func (s *Store) GetSubmission(examID, studentID int64) (*model.Submission, error) {
	row := s.db.QueryRow(
		`SELECT id, exam_id, student_id, answers, score, is_submitted, submitted_at
		 FROM submissions WHERE exam_id = ? AND student_id = ?`, examID, studentID,
	)
	return scanSubmission(row)
}

// ListSubmissions returns all submissions for an exam, newest first.
func (s *Store) ListSubmissions(examID int64) ([]model.Submission, error) {
	rows, err := s.db.Query(
		`SELECT id, exam_id, student_id, answers, score, is_submitted, submitted_at
		 FROM submissions WHERE exam_id = ? ORDER BY submitted_at DESC, id DESC`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*model.Submission, error) {
	var sub model.Submission
	var answers string
	err := row.Scan(&sub.ID, &sub.ExamID, &sub.StudentID, &answers, &sub.Score, &sub.IsSubmitted, &sub.SubmittedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(answers), &sub.Answers); err != nil {
		return nil, fmt.Errorf("decode submission %d answers: %w", sub.ID, err)
	}
	return &sub, nil
}

// UpdateSubmissionScore overrides the stored score, used by teachers when
// grading essay questions manually.
func (s *Store) UpdateSubmissionScore(id int64, score int) error {
	_, err := s.db.Exec(`UPDATE submissions SET score = ? WHERE id = ?`, score, id)
	return err
}

// RecordUpload stores the object-storage record of an original document.
func (s *Store) RecordUpload(u model.Upload) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO uploads (exam_id, object_key, url, filename, size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ExamID, u.ObjectKey, u.URL, u.Filename, u.Size, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListUploads returns the retained source documents for an exam.
func (s *Store) ListUploads(examID int64) ([]model.Upload, error) {
	rows, err := s.db.Query(
		`SELECT id, exam_id, object_key, url, filename, size, created_at
		 FROM uploads WHERE exam_id = ? ORDER BY id`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var uploads []model.Upload
	for rows.Next() {
		var u model.Upload
		if err := rows.Scan(&u.ID, &u.ExamID, &u.ObjectKey, &u.URL, &u.Filename, &u.Size, &u.CreatedAt); err != nil {
			return nil, err
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

// ExamCount returns the number of exams in the database.
func (s *Store) ExamCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM exams`).Scan(&count)
	return count, err
}
