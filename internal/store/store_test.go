package store

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestExam(t *testing.T, s *Store, title string, ownerID int64, questions []model.Question) int64 {
	t.Helper()
	id, err := s.CreateExamWithQuestions(model.Exam{
		Title:    title,
		OwnerID:  ownerID,
		Duration: 45,
	}, questions)
	if err != nil {
		t.Fatalf("createTestExam: %v", err)
	}
	return id
}

func TestCreateExamWithQuestions(t *testing.T) {
	s := newTestStore(t)

	count, err := s.ExamCount()
	if err != nil {
		t.Fatalf("ExamCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 exams, got %d", count)
	}

	id := createTestExam(t, s, "Toán 10", 1, []model.Question{
		{Type: model.QuestionMultipleChoice, Content: "1+1=?", Options: []string{"1", "2", "3"}, CorrectAnswer: "B", Points: 2},
		{Type: model.QuestionTrueFalse, Content: "2 is even", CorrectAnswer: "true"},
		{Type: model.QuestionEssay, Content: "Explain."},
	})

	exam, err := s.GetExam(id)
	if err != nil {
		t.Fatalf("GetExam: %v", err)
	}
	if exam.Title != "Toán 10" {
		t.Errorf("expected title 'Toán 10', got %q", exam.Title)
	}
	if exam.Duration != 45 {
		t.Errorf("expected duration 45, got %d", exam.Duration)
	}

	questions, err := s.GetQuestions(id)
	if err != nil {
		t.Fatalf("GetQuestions: %v", err)
	}
	if len(questions) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(questions))
	}
	// Authored order is preserved by position.
	if questions[0].Content != "1+1=?" || questions[2].Type != model.QuestionEssay {
		t.Errorf("questions out of order: %+v", questions)
	}
	if questions[0].Points != 2 {
		t.Errorf("expected 2 points, got %d", questions[0].Points)
	}
	// Unset points default to 1.
	if questions[1].Points != 1 {
		t.Errorf("expected default 1 point, got %d", questions[1].Points)
	}
	if len(questions[0].Options) != 3 || questions[0].Options[1] != "2" {
		t.Errorf("unexpected options: %v", questions[0].Options)
	}

	// Not found.
	_, err = s.GetExam(9999)
	if err != sql.ErrNoRows {
		t.Errorf("expected ErrNoRows, got %v", err)
	}
}

func TestListExams(t *testing.T) {
	s := newTestStore(t)
	q := []model.Question{{Type: model.QuestionEssay, Content: "Q"}}

	createTestExam(t, s, "A", 1, q)
	e2 := createTestExam(t, s, "B", 2, q)
	createTestExam(t, s, "C", 1, q)

	mine, err := s.ListExamsByOwner(1)
	if err != nil {
		t.Fatalf("ListExamsByOwner: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected 2 exams for owner 1, got %d", len(mine))
	}
	// Newest first.
	if mine[0].Title != "C" {
		t.Errorf("expected newest exam first, got %q", mine[0].Title)
	}

	if err := s.SetExamLocked(e2, true); err != nil {
		t.Fatalf("SetExamLocked: %v", err)
	}
	open, err := s.ListOpenExams()
	if err != nil {
		t.Fatalf("ListOpenExams: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("expected 2 open exams, got %d", len(open))
	}
	for _, e := range open {
		if e.ID == e2 {
			t.Error("locked exam listed as open")
		}
	}

	locked, err := s.GetExam(e2)
	if err != nil {
		t.Fatalf("GetExam: %v", err)
	}
	if !locked.IsLocked {
		t.Error("expected exam to be locked")
	}
}

func TestDeleteExamCascades(t *testing.T) {
	s := newTestStore(t)

	id := createTestExam(t, s, "Doomed", 1, []model.Question{
		{Type: model.QuestionEssay, Content: "Q"},
	})
	if _, err := s.CreateSubmission(model.Submission{ExamID: id, StudentID: 5, Answers: model.AnswerMap{}}); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	if _, err := s.RecordUpload(model.Upload{ExamID: id, ObjectKey: "k", Filename: "f.pdf"}); err != nil {
		t.Fatalf("RecordUpload: %v", err)
	}

	if err := s.DeleteExam(id); err != nil {
		t.Fatalf("DeleteExam: %v", err)
	}

	if _, err := s.GetExam(id); err != sql.ErrNoRows {
		t.Errorf("expected exam gone, got %v", err)
	}
	qs, err := s.GetQuestions(id)
	if err != nil {
		t.Fatalf("GetQuestions: %v", err)
	}
	if len(qs) != 0 {
		t.Errorf("expected 0 questions after delete, got %d", len(qs))
	}
	sub, err := s.GetSubmission(id, 5)
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if sub != nil {
		t.Error("expected submission gone after delete")
	}
	uploads, err := s.ListUploads(id)
	if err != nil {
		t.Fatalf("ListUploads: %v", err)
	}
	if len(uploads) != 0 {
		t.Errorf("expected 0 uploads after delete, got %d", len(uploads))
	}
}

func TestFirstSubmissionWins(t *testing.T) {
	s := newTestStore(t)
	id := createTestExam(t, s, "Exam", 1, []model.Question{
		{Type: model.QuestionMultipleChoice, Content: "Q", Options: []string{"x", "y"}, CorrectAnswer: "A"},
	})

	first, err := s.CreateSubmission(model.Submission{
		ExamID: id, StudentID: 7,
		Answers: model.AnswerMap{1: "A"},
		Score:   1,
	})
	if err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}

	// Second write for the same pair loses and changes nothing.
	_, err = s.CreateSubmission(model.Submission{
		ExamID: id, StudentID: 7,
		Answers: model.AnswerMap{1: "B"},
		Score:   0,
	})
	if !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}

	sub, err := s.GetSubmission(id, 7)
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if sub == nil {
		t.Fatal("expected submission")
	}
	if sub.ID != first {
		t.Errorf("expected first submission %d to survive, got %d", first, sub.ID)
	}
	if sub.Score != 1 || sub.Answers[1] != "A" {
		t.Errorf("first submission was overwritten: %+v", sub)
	}
	if !sub.IsSubmitted {
		t.Error("expected is_submitted")
	}
	if sub.SubmittedAt.IsZero() {
		t.Error("expected submitted_at to be set")
	}

	// A different student is unaffected.
	if _, err := s.CreateSubmission(model.Submission{ExamID: id, StudentID: 8, Answers: model.AnswerMap{}}); err != nil {
		t.Fatalf("CreateSubmission other student: %v", err)
	}

	subs, err := s.ListSubmissions(id)
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(subs))
	}
}

func TestGetSubmissionMissing(t *testing.T) {
	s := newTestStore(t)
	sub, err := s.GetSubmission(1, 1)
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if sub != nil {
		t.Errorf("expected nil submission, got %+v", sub)
	}
}

func TestUpdateSubmissionScore(t *testing.T) {
	s := newTestStore(t)
	id := createTestExam(t, s, "Exam", 1, []model.Question{{Type: model.QuestionEssay, Content: "Q"}})

	subID, err := s.CreateSubmission(model.Submission{ExamID: id, StudentID: 3, Answers: model.AnswerMap{1: "essay text"}})
	if err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	if err := s.UpdateSubmissionScore(subID, 9); err != nil {
		t.Fatalf("UpdateSubmissionScore: %v", err)
	}
	sub, _ := s.GetSubmission(id, 3)
	if sub.Score != 9 {
		t.Errorf("expected score 9, got %d", sub.Score)
	}
}

func TestGetQuestionsMalformedOptions(t *testing.T) {
	s := newTestStore(t)
	id := createTestExam(t, s, "Exam", 1, []model.Question{
		{Type: model.QuestionMultipleChoice, Content: "Q", Options: []string{"a", "b"}, CorrectAnswer: "A"},
	})

	// Corrupt the stored options behind the store's back.
	if _, err := s.db.Exec(`UPDATE questions SET options = 'not json' WHERE exam_id = ?`, id); err != nil {
		t.Fatalf("corrupt options: %v", err)
	}

	_, err := s.GetQuestions(id)
	if !errors.Is(err, ErrMalformedQuestion) {
		t.Fatalf("expected ErrMalformedQuestion, got %v", err)
	}
}

func TestUploads(t *testing.T) {
	s := newTestStore(t)
	id := createTestExam(t, s, "Exam", 1, []model.Question{{Type: model.QuestionEssay, Content: "Q"}})

	if _, err := s.RecordUpload(model.Upload{
		ExamID:    id,
		ObjectKey: "uploads/1/abc_de1.pdf",
		URL:       "https://bucket.example.com/uploads/1/abc_de1.pdf",
		Filename:  "de1.pdf",
		Size:      1234,
	}); err != nil {
		t.Fatalf("RecordUpload: %v", err)
	}

	uploads, err := s.ListUploads(id)
	if err != nil {
		t.Fatalf("ListUploads: %v", err)
	}
	if len(uploads) != 1 {
		t.Fatalf("expected 1 upload, got %d", len(uploads))
	}
	if uploads[0].Filename != "de1.pdf" || uploads[0].Size != 1234 {
		t.Errorf("unexpected upload: %+v", uploads[0])
	}
}
