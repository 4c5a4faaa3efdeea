package handler

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/i18n"
	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/model"
	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/session"
)

type createQuestionRequest struct {
	Type          string   `json:"type" validate:"required,oneof=multiple_choice essay true_false"`
	Content       string   `json:"content" validate:"required"`
	Options       []string `json:"options" validate:"omitempty,max=26,dive,required"`
	CorrectAnswer string   `json:"correct_answer"`
	Points        int      `json:"points" validate:"omitempty,min=0"`
}

type createExamRequest struct {
	Title     string                  `json:"title" validate:"required"`
	Duration  int                     `json:"duration" validate:"omitempty,min=0"`
	Questions []createQuestionRequest `json:"questions" validate:"required,min=1,dive"`
}

// handleCreateExam authors an exam manually, without the ingestion
// pipeline. Correct answers are normalized to letter labels here, the same
// boundary rule the pipeline applies.
func (h *Handler) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())

	var req createExamRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	questions := make([]model.Question, 0, len(req.Questions))
	for i, q := range req.Questions {
		mq := model.Question{
			Position: i,
			Type:     model.QuestionType(q.Type),
			Content:  q.Content,
			Options:  q.Options,
			Points:   q.Points,
		}
		switch mq.Type {
		case model.QuestionMultipleChoice:
			label, ok := model.NormalizeOptionLabel(q.CorrectAnswer, len(q.Options))
			if !ok {
				respondError(w, http.StatusBadRequest,
					"question "+strconv.Itoa(i)+": correct_answer must name one of the options")
				return
			}
			mq.CorrectAnswer = label
		case model.QuestionTrueFalse:
			label, ok := model.TrueFalseLabel(q.CorrectAnswer)
			if !ok {
				respondError(w, http.StatusBadRequest,
					"question "+strconv.Itoa(i)+": correct_answer must be true or false")
				return
			}
			mq.Options = nil
			mq.CorrectAnswer = label
		default:
			mq.Options = nil
		}
		questions = append(questions, mq)
	}

	examID, err := h.store.CreateExamWithQuestions(model.Exam{
		Title:    req.Title,
		OwnerID:  user.ID,
		Duration: req.Duration,
	}, questions)
	if err != nil {
		slog.Error("create exam", "error", err)
		respondError(w, http.StatusInternalServerError, appI18n.T(r.Context(), "CommitFailed"))
		return
	}
	respondJSON(w, http.StatusCreated, map[string]int64{"exam_id": examID})
}

// handleListExams returns the caller's own exams for teachers, and the
// open (unlocked) exams for students.
func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())

	var (
		exams []model.Exam
		err   error
	)
	switch user.Role {
	case model.UserRoleTeacher, model.UserRoleAdmin:
		exams, err = h.store.ListExamsByOwner(user.ID)
	default:
		exams, err = h.store.ListOpenExams()
	}
	if err != nil {
		slog.Error("list exams", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if exams == nil {
		exams = []model.Exam{}
	}
	respondJSON(w, http.StatusOK, exams)
}

type examDetail struct {
	model.Exam
	Questions []model.Question `json:"questions"`
	Uploads   []model.Upload   `json:"uploads,omitempty"`
}

func (h *Handler) handleGetExam(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	examID, err := strconv.ParseInt(chi.URLParam(r, "examID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid exam ID")
		return
	}

	exam, err := h.store.GetExam(examID)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusNotFound, appI18n.T(r.Context(), "NotFound"))
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	questions, err := h.store.GetQuestions(examID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, appI18n.T(r.Context(), "DataIntegrity"))
		return
	}

	detail := examDetail{Exam: exam, Questions: questions}
	if exam.OwnerID == user.ID || user.Role == model.UserRoleAdmin {
		if uploads, err := h.store.ListUploads(examID); err == nil {
			detail.Uploads = uploads
		}
	} else {
		// Students never see the answer key.
		for i := range detail.Questions {
			detail.Questions[i].CorrectAnswer = ""
		}
	}
	respondJSON(w, http.StatusOK, detail)
}

type lockRequest struct {
	Locked bool `json:"locked"`
}

func (h *Handler) handleLockExam(w http.ResponseWriter, r *http.Request) {
	exam, ok := h.ownedExam(w, r)
	if !ok {
		return
	}
	var req lockRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.SetExamLocked(exam.ID, req.Locked); err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"is_locked": req.Locked})
}

// handleDeleteExam is destructive and therefore requires an explicit
// confirmation parameter; without it the request is rejected with an
// explanation instead of deleting anything.
func (h *Handler) handleDeleteExam(w http.ResponseWriter, r *http.Request) {
	exam, ok := h.ownedExam(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("confirm") != "true" {
		respondError(w, http.StatusConflict, appI18n.T(r.Context(), "ConfirmDeleteExam"))
		return
	}
	if err := h.store.DeleteExam(exam.ID); err != nil {
		slog.Error("delete exam", "exam_id", exam.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	slog.Info("exam deleted", "exam_id", exam.ID)
	respondJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	exam, ok := h.ownedExam(w, r)
	if !ok {
		return
	}
	subs, err := h.store.ListSubmissions(exam.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if subs == nil {
		subs = []model.Submission{}
	}
	questions, err := h.store.GetQuestions(exam.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, appI18n.T(r.Context(), "DataIntegrity"))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"submissions": subs,
		"max_score":   session.MaxScore(questions),
	})
}

type scoreRequest struct {
	Score int `json:"score" validate:"min=0"`
}

// handleScoreSubmission lets a teacher override the automatic score after
// reading essay answers.
func (h *Handler) handleScoreSubmission(w http.ResponseWriter, r *http.Request) {
	subID, err := strconv.ParseInt(chi.URLParam(r, "submissionID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid submission ID")
		return
	}
	var req scoreRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.UpdateSubmissionScore(subID, req.Score); err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"score": req.Score})
}

// ownedExam loads the exam from the URL and checks the caller authored it
// (admins pass). Writes the error response itself when it returns !ok.
func (h *Handler) ownedExam(w http.ResponseWriter, r *http.Request) (model.Exam, bool) {
	user := model.UserFromContext(r.Context())
	examID, err := strconv.ParseInt(chi.URLParam(r, "examID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid exam ID")
		return model.Exam{}, false
	}
	exam, err := h.store.GetExam(examID)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusNotFound, appI18n.T(r.Context(), "NotFound"))
		return model.Exam{}, false
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return model.Exam{}, false
	}
	if exam.OwnerID != user.ID && user.Role != model.UserRoleAdmin {
		respondError(w, http.StatusForbidden, appI18n.T(r.Context(), "Forbidden"))
		return model.Exam{}, false
	}
	return exam, true
}
