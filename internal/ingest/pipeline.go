// Package ingest turns an uploaded exam document into a reviewable batch
// of question drafts and commits them as a new exam. The pipeline is an
// explicit stage machine with at most one long-running operation pending,
// so cancellation and error scoping stay per stage: a failed generation
// never loses the extracted text, a failed commit never loses the batch.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/extract"
	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/llm"
	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/model"
	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/objstore"
)

// Stage identifies where the pipeline is in its lifecycle.
type Stage string

const (
	StageEmpty      Stage = "empty"
	StageExtracting Stage = "extracting"
	StageReview     Stage = "review"
	StageGenerating Stage = "generating"
	StageCommitting Stage = "committing"
)

// Pipeline error taxonomy. Every kind is independently recoverable: the
// author can re-upload, retry generation, or retry commit without redoing
// the stages that already succeeded.
var (
	ErrFileRejected     = errors.New("file rejected")
	ErrExtractionFailed = errors.New("text extraction failed")
	ErrGenerationFailed = errors.New("question generation failed")
	ErrCommitFailed     = errors.New("exam commit failed")
	ErrBusy             = errors.New("another operation is in progress")
	ErrNoBatch          = errors.New("no question batch to work on")
	ErrBadIndex         = errors.New("question index out of range")
	ErrEmptyClipboard   = errors.New("clipboard is empty")
)

// Structurer asks a language model to turn raw text into typed questions.
type Structurer interface {
	Structure(ctx context.Context, rawText string, maxChars int) (*llm.StructuredExam, error)
}

// ExamStore is the persistence slice the pipeline commits through.
type ExamStore interface {
	CreateExamWithQuestions(exam model.Exam, questions []model.Question) (int64, error)
	RecordUpload(u model.Upload) (int64, error)
}

// Config bounds the pipeline's resource use.
type Config struct {
	MaxUploadBytes int64
	MaxPromptChars int
}

// Pipeline owns one author's in-progress ingestion. Nothing is durable
// until Commit; abandoning the pipeline mid-flight writes nothing.
type Pipeline struct {
	extractor  extract.Extractor
	structurer Structurer
	store      ExamStore
	files      objstore.FileStore
	cfg        Config

	mu       sync.Mutex
	stage    Stage
	rawText  string
	title    string
	topic    string
	batch    []model.QuestionDraft
	filename string
	fileData []byte
}

func NewPipeline(ex extract.Extractor, st Structurer, store ExamStore, files objstore.FileStore, cfg Config) *Pipeline {
	return &Pipeline{
		extractor:  ex,
		structurer: st,
		store:      store,
		files:      files,
		cfg:        cfg,
		stage:      StageEmpty,
	}
}

func (p *Pipeline) busyLocked() bool {
	switch p.stage {
	case StageExtracting, StageGenerating, StageCommitting:
		return true
	}
	return false
}

// recoverToError converts a panic in an external collaborator into an
// ordinary error so the surrounding stage restore still runs. Document
// parsers in particular panic on malformed input; a panic escaping here
// would strand the pipeline in a busy stage with no way out.
func recoverToError(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("panic: %v", r)
	}
}

func (p *Pipeline) callExtract(filename string, data []byte) (text string, err error) {
	defer recoverToError(&err)
	return p.extractor.Extract(filename, data)
}

func (p *Pipeline) callStructure(ctx context.Context, prompt string) (structured *llm.StructuredExam, err error) {
	defer recoverToError(&err)
	return p.structurer.Structure(ctx, prompt, p.cfg.MaxPromptChars)
}

func (p *Pipeline) callCreateExam(exam model.Exam, questions []model.Question) (id int64, err error) {
	defer recoverToError(&err)
	return p.store.CreateExamWithQuestions(exam, questions)
}

// Upload gates and extracts a document, then segments its text into
// question drafts. The gate runs before any parsing work: an oversized or
// unsupported file is rejected with no extractor call and no state change.
func (p *Pipeline) Upload(ctx context.Context, filename string, data []byte) error {
	if p.cfg.MaxUploadBytes > 0 && int64(len(data)) > p.cfg.MaxUploadBytes {
		return fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrFileRejected, len(data), p.cfg.MaxUploadBytes)
	}
	if !extract.Supported(filename) {
		return fmt.Errorf("%w: unsupported extension %q", ErrFileRejected, filepath.Ext(filename))
	}

	p.mu.Lock()
	if p.busyLocked() {
		p.mu.Unlock()
		return ErrBusy
	}
	prev := p.stage
	p.stage = StageExtracting
	p.mu.Unlock()

	text, err := p.callExtract(filename, data)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.stage = prev
		return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	blocks := SplitBlocks(text)
	batch := make([]model.QuestionDraft, 0, len(blocks))
	for _, b := range blocks {
		batch = append(batch, model.QuestionDraft{
			Type:    model.QuestionEssay,
			Content: b,
			Points:  1,
		})
	}

	p.rawText = text
	p.batch = batch
	p.title = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	p.filename = filepath.Base(filename)
	p.fileData = data
	p.stage = StageReview
	slog.Info("document ingested", "filename", p.filename, "blocks", len(batch))
	return nil
}

// Generate asks the language model to structure the extracted text. The
// extracted text is retained across retries; a malformed response leaves
// the current batch untouched.
func (p *Pipeline) Generate(ctx context.Context) error {
	p.mu.Lock()
	if p.busyLocked() {
		p.mu.Unlock()
		return ErrBusy
	}
	if p.rawText == "" {
		p.mu.Unlock()
		return ErrNoBatch
	}
	prompt := p.rawText
	if p.topic != "" {
		prompt += "\n\n" + p.topic
	}
	p.stage = StageGenerating
	p.mu.Unlock()

	structured, err := p.callStructure(ctx, prompt)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage = StageReview
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	p.title = structured.Title
	p.batch = draftsFromStructured(structured.Questions)
	slog.Info("questions generated", "title", p.title, "count", len(p.batch))
	return nil
}

// draftsFromStructured normalizes untrusted model output into drafts with
// a single canonical correct-answer encoding.
func draftsFromStructured(questions []llm.StructuredQuestion) []model.QuestionDraft {
	drafts := make([]model.QuestionDraft, 0, len(questions))
	for _, q := range questions {
		d := model.QuestionDraft{
			Type:    model.QuestionType(q.Type),
			Content: q.Text,
			Options: q.Options,
			Points:  q.Points,
		}
		if d.Type == "" {
			d.Type = model.QuestionEssay
		}
		if d.Points <= 0 {
			d.Points = 1
		}
		switch d.Type {
		case model.QuestionMultipleChoice:
			if label, ok := model.NormalizeOptionLabel(q.CorrectAnswer, len(q.Options)); ok {
				d.CorrectAnswer = label
			}
		case model.QuestionTrueFalse:
			d.Options = nil
			if label, ok := model.TrueFalseLabel(q.CorrectAnswer); ok {
				d.CorrectAnswer = label
			}
		default:
			d.Options = nil
		}
		drafts = append(drafts, d)
	}
	return drafts
}

// EditQuestion replaces the draft's text at the given index.
func (p *Pipeline) EditQuestion(index int, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkIndexLocked(index); err != nil {
		return err
	}
	p.batch[index].Content = content
	return nil
}

// DeleteQuestion removes the draft at the given index. Remaining drafts
// keep their order and close the gap.
func (p *Pipeline) DeleteQuestion(index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkIndexLocked(index); err != nil {
		return err
	}
	p.batch = append(p.batch[:index], p.batch[index+1:]...)
	return nil
}

// PasteQuestion fully replaces the draft's text with clipboard content.
// Replacement, not append: pasting over a structured question means
// swapping it out.
func (p *Pipeline) PasteQuestion(index int, clip string) error {
	if strings.TrimSpace(clip) == "" {
		return ErrEmptyClipboard
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkIndexLocked(index); err != nil {
		return err
	}
	p.batch[index].Content = clip
	return nil
}

// PasteTopic appends clipboard content to the free-form topic text. Append,
// not replace: topic notes accumulate.
func (p *Pipeline) PasteTopic(clip string) error {
	if strings.TrimSpace(clip) == "" {
		return ErrEmptyClipboard
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.topic != "" {
		p.topic += "\n"
	}
	p.topic += clip
	return nil
}

func (p *Pipeline) checkIndexLocked(index int) error {
	if p.busyLocked() {
		return ErrBusy
	}
	if len(p.batch) == 0 {
		return ErrNoBatch
	}
	if index < 0 || index >= len(p.batch) {
		return fmt.Errorf("%w: %d of %d", ErrBadIndex, index, len(p.batch))
	}
	return nil
}

// View is the author-facing state of the pipeline.
type View struct {
	Stage     Stage                 `json:"stage"`
	Title     string                `json:"title"`
	Topic     string                `json:"topic,omitempty"`
	Questions []model.QuestionDraft `json:"questions"`
	Filename  string                `json:"filename,omitempty"`
	RawChars  int                   `json:"raw_chars"`
}

// View returns a snapshot of the batch under review.
func (p *Pipeline) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	questions := make([]model.QuestionDraft, len(p.batch))
	copy(questions, p.batch)
	return View{
		Stage:     p.stage,
		Title:     p.title,
		Topic:     p.topic,
		Questions: questions,
		Filename:  p.filename,
		RawChars:  len(p.rawText),
	}
}

// Abandon discards all volatile state. Safe at any stage outside a pending
// operation; nothing was written to the store.
func (p *Pipeline) Abandon() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busyLocked() {
		return ErrBusy
	}
	p.rawText, p.title, p.topic, p.filename = "", "", "", ""
	p.fileData = nil
	p.batch = nil
	p.stage = StageEmpty
	return nil
}

// Commit persists the batch: the original document goes to object storage
// for retention, then the exam row and its question rows land in a single
// transaction. On failure the batch is retained so the author can retry.
func (p *Pipeline) Commit(ctx context.Context, title string, duration int, ownerID int64) (int64, error) {
	p.mu.Lock()
	if p.busyLocked() {
		p.mu.Unlock()
		return 0, ErrBusy
	}
	if len(p.batch) == 0 {
		p.mu.Unlock()
		return 0, ErrNoBatch
	}
	if strings.TrimSpace(title) == "" {
		title = p.title
	}
	batch := make([]model.QuestionDraft, len(p.batch))
	copy(batch, p.batch)
	filename, fileData := p.filename, p.fileData
	p.stage = StageCommitting
	p.mu.Unlock()

	questions := make([]model.Question, 0, len(batch))
	for i, d := range batch {
		questions = append(questions, model.Question{
			Position:      i,
			Type:          d.Type,
			Content:       d.Content,
			Options:       d.Options,
			CorrectAnswer: d.CorrectAnswer,
			Points:        d.Points,
		})
	}

	examID, err := p.callCreateExam(model.Exam{
		Title:   title,
		OwnerID: ownerID,
		Duration: func() int {
			if duration < 0 {
				return 0
			}
			return duration
		}(),
	}, questions)

	if err != nil {
		p.mu.Lock()
		p.stage = StageReview
		p.mu.Unlock()
		return 0, fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}

	// Retention of the source document is best-effort: a storage hiccup
	// must not undo a committed exam.
	if filename != "" && len(fileData) > 0 && p.files != nil {
		if rerr := p.retainSource(ctx, examID, filename, fileData); rerr != nil {
			slog.Warn("source document retention failed", "exam_id", examID, "error", rerr)
		}
	}

	p.mu.Lock()
	p.rawText, p.title, p.topic, p.filename = "", "", "", ""
	p.fileData = nil
	p.batch = nil
	p.stage = StageEmpty
	p.mu.Unlock()

	slog.Info("exam committed", "exam_id", examID, "questions", len(questions), "owner_id", ownerID)
	return examID, nil
}

// retainSource uploads the original document and records it for the
// committed exam.
func (p *Pipeline) retainSource(ctx context.Context, examID int64, filename string, data []byte) (err error) {
	defer recoverToError(&err)
	key := fmt.Sprintf("uploads/%d/%s_%s", examID, uuid.NewString(), filename)
	url, err := p.files.Upload(ctx, key, data, contentTypeFor(filename))
	if err != nil {
		return err
	}
	_, err = p.store.RecordUpload(model.Upload{
		ExamID:    examID,
		ObjectKey: key,
		URL:       url,
		Filename:  filename,
		Size:      int64(len(data)),
	})
	return err
}

func contentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	}
	return "application/octet-stream"
}
