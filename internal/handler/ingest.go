package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/i18n"
	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/ingest"
	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/model"
)

func (h *Handler) handleIngestView(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	respondJSON(w, http.StatusOK, h.ingests.For(user.ID).View())
}

func (h *Handler) handleIngestAbandon(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	if err := h.ingests.For(user.ID).Abandon(); err != nil {
		h.ingestError(w, r, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) handleIngestUpload(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())

	// The multipart reader is capped one megabyte above the document
	// ceiling so the pipeline's own gate produces the user-facing error.
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(h.config.MaxUploadBytes + 1<<20); err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, appI18n.T(r.Context(), "FileRejected"))
		return
	}
	file, header, err := r.FormFile("document")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing document file")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	pipeline := h.ingests.For(user.ID)
	if err := pipeline.Upload(r.Context(), header.Filename, data); err != nil {
		h.ingestError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, pipeline.View())
}

func (h *Handler) handleIngestGenerate(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	pipeline := h.ingests.For(user.ID)
	if err := pipeline.Generate(r.Context()); err != nil {
		h.ingestError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, pipeline.View())
}

type editQuestionRequest struct {
	Content string `json:"content" validate:"required"`
}

func (h *Handler) handleIngestEdit(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid question index")
		return
	}
	var req editQuestionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	pipeline := h.ingests.For(user.ID)
	if err := pipeline.EditQuestion(index, req.Content); err != nil {
		h.ingestError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, pipeline.View())
}

func (h *Handler) handleIngestDelete(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid question index")
		return
	}
	pipeline := h.ingests.For(user.ID)
	if err := pipeline.DeleteQuestion(index); err != nil {
		h.ingestError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, pipeline.View())
}

type pasteRequest struct {
	Text string `json:"text"`
}

func (h *Handler) handleIngestPasteQuestion(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid question index")
		return
	}
	var req pasteRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	pipeline := h.ingests.For(user.ID)
	if err := pipeline.PasteQuestion(index, req.Text); err != nil {
		h.ingestError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, pipeline.View())
}

func (h *Handler) handleIngestPasteTopic(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	var req pasteRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	pipeline := h.ingests.For(user.ID)
	if err := pipeline.PasteTopic(req.Text); err != nil {
		h.ingestError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, pipeline.View())
}

type commitRequest struct {
	Title    string `json:"title"`
	Duration int    `json:"duration" validate:"omitempty,min=0"`
}

func (h *Handler) handleIngestCommit(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	var req commitRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	pipeline := h.ingests.For(user.ID)
	examID, err := pipeline.Commit(r.Context(), req.Title, req.Duration, user.ID)
	if err != nil {
		h.ingestError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]int64{"exam_id": examID})
}

// ingestError maps pipeline error kinds to HTTP statuses and localized
// messages. Every kind is recoverable from the author's point of view.
func (h *Handler) ingestError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, ingest.ErrFileRejected):
		respondError(w, http.StatusUnprocessableEntity, appI18n.T(ctx, "FileRejected"))
	case errors.Is(err, ingest.ErrExtractionFailed):
		respondError(w, http.StatusUnprocessableEntity, appI18n.T(ctx, "ExtractionFailed"))
	case errors.Is(err, ingest.ErrGenerationFailed):
		respondError(w, http.StatusBadGateway, appI18n.T(ctx, "GenerationFailed"))
	case errors.Is(err, ingest.ErrCommitFailed):
		respondError(w, http.StatusInternalServerError, appI18n.T(ctx, "CommitFailed"))
	case errors.Is(err, ingest.ErrBusy):
		respondError(w, http.StatusConflict, appI18n.T(ctx, "PipelineBusy"))
	case errors.Is(err, ingest.ErrNoBatch):
		respondError(w, http.StatusConflict, appI18n.T(ctx, "NoBatch"))
	case errors.Is(err, ingest.ErrBadIndex):
		respondError(w, http.StatusNotFound, appI18n.T(ctx, "BadQuestionIndex"))
	case errors.Is(err, ingest.ErrEmptyClipboard):
		respondError(w, http.StatusBadRequest, appI18n.T(ctx, "ClipboardEmpty"))
	default:
		slog.Error("ingest operation failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
