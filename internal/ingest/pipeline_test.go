package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/llm"
	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/model"
)

// countingExtractor returns canned text and counts calls so tests can
// assert the gate runs before any parsing work.
type countingExtractor struct {
	calls int
	text  string
	err   error
}

func (c *countingExtractor) Extract(filename string, data []byte) (string, error) {
	c.calls++
	return c.text, c.err
}

type fakeStructurer struct {
	result *llm.StructuredExam
	err    error
}

func (f *fakeStructurer) Structure(ctx context.Context, rawText string, maxChars int) (*llm.StructuredExam, error) {
	return f.result, f.err
}

type fakeExamStore struct {
	mu        sync.Mutex
	exams     []model.Exam
	questions [][]model.Question
	uploads   []model.Upload
	failNext  error
	panicNext bool
}

func (f *fakeExamStore) CreateExamWithQuestions(exam model.Exam, questions []model.Question) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicNext {
		f.panicNext = false
		panic("database handle poisoned")
	}
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return 0, err
	}
	f.exams = append(f.exams, exam)
	f.questions = append(f.questions, questions)
	return int64(len(f.exams)), nil
}

func (f *fakeExamStore) RecordUpload(u model.Upload) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, u)
	return int64(len(f.uploads)), nil
}

type fakeFiles struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (f *fakeFiles) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	return "file://" + key, nil
}

func (f *fakeFiles) Delete(ctx context.Context, key string) error { return nil }

func newTestPipeline(extractor *countingExtractor, structurer *fakeStructurer, store *fakeExamStore) *Pipeline {
	return NewPipeline(extractor, structurer, store, &fakeFiles{}, Config{
		MaxUploadBytes: 1024,
		MaxPromptChars: 10000,
	})
}

func TestUploadGateRunsBeforeExtraction(t *testing.T) {
	ex := &countingExtractor{text: "some text"}
	p := newTestPipeline(ex, &fakeStructurer{}, &fakeExamStore{})
	ctx := context.Background()

	// Oversized file: rejected with no extractor call.
	big := make([]byte, 2048)
	err := p.Upload(ctx, "de.pdf", big)
	if !errors.Is(err, ErrFileRejected) {
		t.Fatalf("expected ErrFileRejected, got %v", err)
	}
	if ex.calls != 0 {
		t.Fatalf("extractor called %d times for a rejected file", ex.calls)
	}

	// Unsupported extension: same.
	err = p.Upload(ctx, "de.txt", []byte("plain"))
	if !errors.Is(err, ErrFileRejected) {
		t.Fatalf("expected ErrFileRejected for .txt, got %v", err)
	}
	if ex.calls != 0 {
		t.Fatalf("extractor called %d times for an unsupported file", ex.calls)
	}
	if p.View().Stage != StageEmpty {
		t.Errorf("rejected upload changed the stage to %q", p.View().Stage)
	}

	// A valid file goes through.
	if err := p.Upload(ctx, "de.pdf", []byte("%PDF")); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if ex.calls != 1 {
		t.Fatalf("expected 1 extractor call, got %d", ex.calls)
	}
}

func TestUploadSegmentsIntoDrafts(t *testing.T) {
	ex := &countingExtractor{text: "Câu 1: Tính 2+2\n\nCâu 2: Tính 3+3"}
	p := newTestPipeline(ex, &fakeStructurer{}, &fakeExamStore{})

	if err := p.Upload(context.Background(), "de-giua-ky.pdf", []byte("%PDF")); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	v := p.View()
	if v.Stage != StageReview {
		t.Fatalf("expected review stage, got %q", v.Stage)
	}
	if len(v.Questions) != 2 {
		t.Fatalf("expected 2 drafts, got %d", len(v.Questions))
	}
	if v.Questions[0].Content != "Câu 1: Tính 2+2" {
		t.Errorf("unexpected first draft: %q", v.Questions[0].Content)
	}
	// Segmented drafts start as essays until the model types them.
	if v.Questions[0].Type != model.QuestionEssay {
		t.Errorf("expected essay draft, got %q", v.Questions[0].Type)
	}
	// Title defaults to the filename without extension.
	if v.Title != "de-giua-ky" {
		t.Errorf("expected title from filename, got %q", v.Title)
	}
}

func TestUploadExtractionFailure(t *testing.T) {
	ex := &countingExtractor{err: errors.New("corrupt xref table")}
	p := newTestPipeline(ex, &fakeStructurer{}, &fakeExamStore{})

	err := p.Upload(context.Background(), "de.pdf", []byte("junk"))
	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("expected ErrExtractionFailed, got %v", err)
	}
	if p.View().Stage != StageEmpty {
		t.Errorf("failed extraction left stage %q", p.View().Stage)
	}
}

// panickyExtractor stands in for a document parser that panics on
// malformed input instead of returning an error.
type panickyExtractor struct{}

func (panickyExtractor) Extract(filename string, data []byte) (string, error) {
	panic("malformed xref table")
}

type panickyStructurer struct{}

func (panickyStructurer) Structure(ctx context.Context, rawText string, maxChars int) (*llm.StructuredExam, error) {
	panic("client not initialized")
}

func TestUploadExtractorPanicKeepsPipelineUsable(t *testing.T) {
	p := NewPipeline(panickyExtractor{}, &fakeStructurer{}, &fakeExamStore{}, &fakeFiles{}, Config{MaxUploadBytes: 1024})
	ctx := context.Background()

	err := p.Upload(ctx, "de.pdf", []byte("%PDF"))
	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("expected ErrExtractionFailed, got %v", err)
	}
	if got := p.View().Stage; got != StageEmpty {
		t.Fatalf("panicking extractor left stage %q", got)
	}

	// The pipeline must not be stuck busy: both a retry and an abandon
	// still go through.
	if err := p.Upload(ctx, "de.pdf", []byte("%PDF")); errors.Is(err, ErrBusy) {
		t.Fatalf("pipeline wedged after extractor panic: %v", err)
	}
	if err := p.Abandon(); err != nil {
		t.Fatalf("Abandon after extractor panic: %v", err)
	}
}

func TestGeneratePanicRetainsBatch(t *testing.T) {
	ex := &countingExtractor{text: "Q1 text\n\nQ2 text"}
	p := NewPipeline(ex, panickyStructurer{}, &fakeExamStore{}, &fakeFiles{}, Config{MaxUploadBytes: 1024})
	if err := p.Upload(context.Background(), "de.pdf", []byte("%PDF")); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	before := len(p.View().Questions)

	err := p.Generate(context.Background())
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}

	v := p.View()
	if v.Stage != StageReview {
		t.Fatalf("expected review stage after panic, got %q", v.Stage)
	}
	if len(v.Questions) != before {
		t.Fatalf("panicking generation lost the batch: %d -> %d", before, len(v.Questions))
	}
}

func TestCommitPanicRetainsBatch(t *testing.T) {
	store := &fakeExamStore{panicNext: true}
	p := uploadedPipeline(t, &fakeStructurer{}, store)
	before := len(p.View().Questions)

	_, err := p.Commit(context.Background(), "T", 30, 7)
	if !errors.Is(err, ErrCommitFailed) {
		t.Fatalf("expected ErrCommitFailed, got %v", err)
	}
	v := p.View()
	if v.Stage != StageReview {
		t.Fatalf("expected review stage after panic, got %q", v.Stage)
	}
	if len(v.Questions) != before {
		t.Fatalf("panicking commit lost the batch: %d -> %d", before, len(v.Questions))
	}

	// Retry works once the store recovers.
	if _, err := p.Commit(context.Background(), "T", 30, 7); err != nil {
		t.Fatalf("retry Commit: %v", err)
	}
}

func uploadedPipeline(t *testing.T, structurer *fakeStructurer, store *fakeExamStore) *Pipeline {
	t.Helper()
	ex := &countingExtractor{text: "Q1 text\n\nQ2 text\n\nQ3 text\n\nQ4 text\n\nQ5 text"}
	p := newTestPipeline(ex, structurer, store)
	if err := p.Upload(context.Background(), "de.pdf", []byte("%PDF")); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return p
}

func TestGenerateReplacesBatch(t *testing.T) {
	st := &fakeStructurer{result: &llm.StructuredExam{
		Title: "Đề thi giữa kỳ",
		Questions: []llm.StructuredQuestion{
			{Text: "1+1=?", Type: "multiple_choice", Options: []string{"1", "2", "3"}, CorrectAnswer: "b", Points: 2},
			{Text: "2 chẵn?", Type: "true_false", CorrectAnswer: "Đúng"},
			{Text: "Giải thích.", Type: "essay"},
			{Text: "Untyped question"},
		},
	}}
	p := uploadedPipeline(t, st, &fakeExamStore{})

	if err := p.Generate(context.Background()); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	v := p.View()
	if v.Stage != StageReview {
		t.Fatalf("expected review stage, got %q", v.Stage)
	}
	if v.Title != "Đề thi giữa kỳ" {
		t.Errorf("expected model title, got %q", v.Title)
	}
	if len(v.Questions) != 4 {
		t.Fatalf("expected 4 drafts, got %d", len(v.Questions))
	}
	// Lowercase letter normalized to the canonical label.
	if v.Questions[0].CorrectAnswer != "B" {
		t.Errorf("expected correct answer B, got %q", v.Questions[0].CorrectAnswer)
	}
	if v.Questions[0].Points != 2 {
		t.Errorf("expected 2 points, got %d", v.Questions[0].Points)
	}
	// Vietnamese true/false normalized.
	if v.Questions[1].CorrectAnswer != "true" {
		t.Errorf("expected true, got %q", v.Questions[1].CorrectAnswer)
	}
	// Missing type defaults to essay with default points.
	if v.Questions[3].Type != model.QuestionEssay || v.Questions[3].Points != 1 {
		t.Errorf("unexpected untyped draft: %+v", v.Questions[3])
	}
}

func TestGenerateFailureRetainsBatch(t *testing.T) {
	st := &fakeStructurer{err: errors.New("model returned prose")}
	p := uploadedPipeline(t, st, &fakeExamStore{})
	before := p.View()

	err := p.Generate(context.Background())
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}

	after := p.View()
	if after.Stage != StageReview {
		t.Fatalf("expected review stage after failure, got %q", after.Stage)
	}
	if len(after.Questions) != len(before.Questions) {
		t.Fatalf("failed generation changed the batch: %d -> %d", len(before.Questions), len(after.Questions))
	}
	// Raw text survives for a retry.
	if after.RawChars == 0 {
		t.Error("extracted text lost after failed generation")
	}
}

func TestGenerateWithoutUpload(t *testing.T) {
	p := newTestPipeline(&countingExtractor{}, &fakeStructurer{}, &fakeExamStore{})
	if err := p.Generate(context.Background()); !errors.Is(err, ErrNoBatch) {
		t.Fatalf("expected ErrNoBatch, got %v", err)
	}
}

func TestEditAndDeleteQuestion(t *testing.T) {
	p := uploadedPipeline(t, &fakeStructurer{}, &fakeExamStore{})

	if err := p.EditQuestion(0, "Câu 1: Tính 2+2"); err != nil {
		t.Fatalf("EditQuestion: %v", err)
	}
	if got := p.View().Questions[0].Content; got != "Câu 1: Tính 2+2" {
		t.Errorf("edit did not stick: %q", got)
	}

	// Delete the middle draft of five; order closes the gap.
	if err := p.DeleteQuestion(2); err != nil {
		t.Fatalf("DeleteQuestion: %v", err)
	}
	v := p.View()
	if len(v.Questions) != 4 {
		t.Fatalf("expected 4 drafts after delete, got %d", len(v.Questions))
	}
	if v.Questions[2].Content != "Q4 text" {
		t.Errorf("expected Q4 at index 2, got %q", v.Questions[2].Content)
	}

	// Out-of-range indexes.
	if err := p.EditQuestion(4, "x"); !errors.Is(err, ErrBadIndex) {
		t.Errorf("expected ErrBadIndex, got %v", err)
	}
	if err := p.DeleteQuestion(-1); !errors.Is(err, ErrBadIndex) {
		t.Errorf("expected ErrBadIndex for -1, got %v", err)
	}
}

func TestPasteAsymmetry(t *testing.T) {
	p := uploadedPipeline(t, &fakeStructurer{}, &fakeExamStore{})

	// Question paste replaces.
	if err := p.PasteQuestion(0, "replacement one"); err != nil {
		t.Fatalf("PasteQuestion: %v", err)
	}
	if err := p.PasteQuestion(0, "replacement two"); err != nil {
		t.Fatalf("PasteQuestion again: %v", err)
	}
	if got := p.View().Questions[0].Content; got != "replacement two" {
		t.Errorf("expected full replacement, got %q", got)
	}

	// Topic paste appends.
	if err := p.PasteTopic("chương 1"); err != nil {
		t.Fatalf("PasteTopic: %v", err)
	}
	if err := p.PasteTopic("chương 2"); err != nil {
		t.Fatalf("PasteTopic again: %v", err)
	}
	if got := p.View().Topic; got != "chương 1\nchương 2" {
		t.Errorf("expected accumulated topic, got %q", got)
	}

	// Empty clipboard is rejected for both.
	if err := p.PasteQuestion(0, "   "); !errors.Is(err, ErrEmptyClipboard) {
		t.Errorf("expected ErrEmptyClipboard, got %v", err)
	}
	if err := p.PasteTopic(""); !errors.Is(err, ErrEmptyClipboard) {
		t.Errorf("expected ErrEmptyClipboard for topic, got %v", err)
	}
}

func TestCommitPersistsExam(t *testing.T) {
	store := &fakeExamStore{}
	st := &fakeStructurer{result: &llm.StructuredExam{
		Title: "Đề thi",
		Questions: []llm.StructuredQuestion{
			{Text: "1+1=?", Type: "multiple_choice", Options: []string{"1", "2"}, CorrectAnswer: "B", Points: 1},
			{Text: "Tính 2+2", Type: "essay"},
		},
	}}
	p := uploadedPipeline(t, st, store)
	if err := p.Generate(context.Background()); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := p.EditQuestion(1, "Tính 2+2 và giải thích"); err != nil {
		t.Fatalf("EditQuestion: %v", err)
	}

	examID, err := p.Commit(context.Background(), "Đề thi giữa kỳ", 45, 7)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if examID == 0 {
		t.Fatal("expected exam ID")
	}

	if len(store.exams) != 1 {
		t.Fatalf("expected 1 exam, got %d", len(store.exams))
	}
	exam := store.exams[0]
	if exam.Title != "Đề thi giữa kỳ" || exam.Duration != 45 || exam.OwnerID != 7 {
		t.Errorf("unexpected exam: %+v", exam)
	}
	questions := store.questions[0]
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(questions))
	}
	if questions[0].Position != 0 || questions[1].Position != 1 {
		t.Errorf("positions not assigned in order: %+v", questions)
	}
	if questions[1].Content != "Tính 2+2 và giải thích" {
		t.Errorf("edit lost on commit: %q", questions[1].Content)
	}
	// Source document retained.
	if len(store.uploads) != 1 {
		t.Fatalf("expected 1 upload record, got %d", len(store.uploads))
	}
	if store.uploads[0].Filename != "de.pdf" || store.uploads[0].ExamID != examID {
		t.Errorf("unexpected upload record: %+v", store.uploads[0])
	}

	// Pipeline is reset for the next document.
	v := p.View()
	if v.Stage != StageEmpty || len(v.Questions) != 0 || v.Topic != "" {
		t.Errorf("pipeline not reset after commit: %+v", v)
	}
}

func TestCommitFailureRetainsBatch(t *testing.T) {
	store := &fakeExamStore{failNext: errors.New("database locked")}
	p := uploadedPipeline(t, &fakeStructurer{}, store)
	before := len(p.View().Questions)

	_, err := p.Commit(context.Background(), "T", 30, 7)
	if !errors.Is(err, ErrCommitFailed) {
		t.Fatalf("expected ErrCommitFailed, got %v", err)
	}

	v := p.View()
	if v.Stage != StageReview {
		t.Fatalf("expected review stage after failed commit, got %q", v.Stage)
	}
	if len(v.Questions) != before {
		t.Fatalf("failed commit lost the batch: %d -> %d", before, len(v.Questions))
	}

	// Retry works.
	if _, err := p.Commit(context.Background(), "T", 30, 7); err != nil {
		t.Fatalf("retry Commit: %v", err)
	}
}

func TestCommitWithoutBatch(t *testing.T) {
	p := newTestPipeline(&countingExtractor{}, &fakeStructurer{}, &fakeExamStore{})
	if _, err := p.Commit(context.Background(), "T", 30, 7); !errors.Is(err, ErrNoBatch) {
		t.Fatalf("expected ErrNoBatch, got %v", err)
	}
}

func TestAbandonDiscardsEverything(t *testing.T) {
	store := &fakeExamStore{}
	p := uploadedPipeline(t, &fakeStructurer{}, store)
	if err := p.PasteTopic("notes"); err != nil {
		t.Fatalf("PasteTopic: %v", err)
	}

	if err := p.Abandon(); err != nil {
		t.Fatalf("Abandon: %v", err)
	}

	v := p.View()
	if v.Stage != StageEmpty || len(v.Questions) != 0 || v.Topic != "" || v.RawChars != 0 {
		t.Errorf("abandon left state behind: %+v", v)
	}
	if len(store.exams) != 0 {
		t.Error("abandon must write nothing")
	}
}

func TestManagerIsolatesAuthors(t *testing.T) {
	m := NewManager(&countingExtractor{text: "Q"}, &fakeStructurer{}, &fakeExamStore{}, &fakeFiles{}, Config{MaxUploadBytes: 1024})

	p1 := m.For(1)
	p2 := m.For(2)
	if p1 == p2 {
		t.Fatal("authors must not share a pipeline")
	}
	if m.For(1) != p1 {
		t.Fatal("expected the same pipeline on repeat lookup")
	}
}
