package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/i18n"
	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/model"
	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/session"
	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/store"
)

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	examID, err := strconv.ParseInt(chi.URLParam(r, "examID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid exam ID")
		return
	}

	engine, err := h.sessions.Start(examID, user.ID)
	if err != nil {
		h.sessionError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, engine.Snapshot())
}

// openEngine fetches the caller's engine for the exam in the URL, writing
// the error response itself when there is none.
func (h *Handler) openEngine(w http.ResponseWriter, r *http.Request) (*session.Engine, bool) {
	user := model.UserFromContext(r.Context())
	examID, err := strconv.ParseInt(chi.URLParam(r, "examID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid exam ID")
		return nil, false
	}
	engine := h.sessions.Get(examID, user.ID)
	if engine == nil {
		respondError(w, http.StatusNotFound, appI18n.T(r.Context(), "SessionNotFound"))
		return nil, false
	}
	return engine, true
}

func (h *Handler) handleSessionState(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.openEngine(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, engine.Snapshot())
}

type answerRequest struct {
	Value string `json:"value"`
}

func (h *Handler) handleSelectAnswer(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.openEngine(w, r)
	if !ok {
		return
	}
	questionID, err := strconv.ParseInt(chi.URLParam(r, "questionID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid question ID")
		return
	}
	var req answerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := engine.SelectAnswer(questionID, req.Value); err != nil {
		h.sessionError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, engine.Snapshot())
}

func (h *Handler) handleClearAnswer(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.openEngine(w, r)
	if !ok {
		return
	}
	questionID, err := strconv.ParseInt(chi.URLParam(r, "questionID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid question ID")
		return
	}
	if err := engine.ClearAnswer(questionID); err != nil {
		h.sessionError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, engine.Snapshot())
}

func (h *Handler) handleGotoQuestion(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.openEngine(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid question index")
		return
	}
	engine.Goto(index)
	respondJSON(w, http.StatusOK, engine.Snapshot())
}

// handleSubmitSession handles the student's explicit submit. The client is
// expected to have asked the student for confirmation; the timer path
// never does.
func (h *Handler) handleSubmitSession(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	engine, ok := h.openEngine(w, r)
	if !ok {
		return
	}
	if err := engine.Submit(r.Context(), false); err != nil {
		h.sessionError(w, r, err)
		return
	}
	snap := engine.Snapshot()
	h.sessions.Remove(snap.ExamID, user.ID)
	respondJSON(w, http.StatusOK, snap)
}

type tutorRequest struct {
	History  []string `json:"history"`
	Question string   `json:"question" validate:"required"`
}

// handleTutor relays a student's study question to the AI tutor.
func (h *Handler) handleTutor(w http.ResponseWriter, r *http.Request) {
	var req tutorRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	answer, err := h.llm.Tutor(r.Context(), req.History, req.Question)
	if err != nil {
		slog.Error("tutor chat failed", "error", err)
		respondError(w, http.StatusBadGateway, appI18n.T(r.Context(), "GenerationFailed"))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

func (h *Handler) sessionError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, session.ErrExamLocked):
		respondError(w, http.StatusForbidden, appI18n.T(ctx, "ExamLocked"))
	case errors.Is(err, store.ErrAlreadySubmitted):
		respondError(w, http.StatusConflict, appI18n.T(ctx, "AlreadySubmitted"))
	case errors.Is(err, session.ErrSessionClosed):
		respondError(w, http.StatusConflict, appI18n.T(ctx, "SessionClosed"))
	case errors.Is(err, store.ErrMalformedQuestion):
		respondError(w, http.StatusUnprocessableEntity, appI18n.T(ctx, "DataIntegrity"))
	case errors.Is(err, session.ErrNoQuestions):
		respondError(w, http.StatusUnprocessableEntity, appI18n.T(ctx, "DataIntegrity"))
	default:
		slog.Error("session operation failed", "error", err)
		respondError(w, http.StatusInternalServerError, appI18n.T(ctx, "SubmitFailed"))
	}
}
