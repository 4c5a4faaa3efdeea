package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/ingest"
	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/llm"
	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/model"
	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/session"
	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/store"
)

// Config holds runtime handler parameters.
type Config struct {
	SecureCookies  bool
	MaxUploadBytes int64
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	sessions *session.Registry
	ingests  *ingest.Manager
	llm      *llm.Client
	validate *validator.Validate
	config   Config
}

// New creates a new Handler.
func New(s *store.Store, sessions *session.Registry, ingests *ingest.Manager, l *llm.Client, cfg Config) *Handler {
	return &Handler{
		store:    s,
		sessions: sessions,
		ingests:  ingests,
		llm:      l,
		validate: validator.New(),
		config:   cfg,
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)

		r.Get("/exams", h.handleListExams)
		r.Get("/exams/{examID}", h.handleGetExam)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleAdmin))

			r.Get("/users", h.handleListUsers)
			r.Post("/users", h.handleCreateUser)
			r.Put("/users/{userID}/active", h.handleSetUserActive)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleTeacher, model.UserRoleAdmin))

			r.Post("/exams", h.handleCreateExam)
			r.Post("/exams/{examID}/lock", h.handleLockExam)
			r.Delete("/exams/{examID}", h.handleDeleteExam)
			r.Get("/exams/{examID}/submissions", h.handleListSubmissions)
			r.Put("/submissions/{submissionID}/score", h.handleScoreSubmission)

			r.Get("/ingest", h.handleIngestView)
			r.Delete("/ingest", h.handleIngestAbandon)
			r.Post("/ingest/upload", h.handleIngestUpload)
			r.Post("/ingest/generate", h.handleIngestGenerate)
			r.Put("/ingest/questions/{index}", h.handleIngestEdit)
			r.Delete("/ingest/questions/{index}", h.handleIngestDelete)
			r.Post("/ingest/questions/{index}/paste", h.handleIngestPasteQuestion)
			r.Post("/ingest/topic/paste", h.handleIngestPasteTopic)
			r.Post("/ingest/commit", h.handleIngestCommit)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleStudent, model.UserRoleAdmin))

			r.Post("/exams/{examID}/session", h.handleStartSession)
			r.Get("/session/{examID}", h.handleSessionState)
			r.Put("/session/{examID}/answers/{questionID}", h.handleSelectAnswer)
			r.Delete("/session/{examID}/answers/{questionID}", h.handleClearAnswer)
			r.Post("/session/{examID}/goto/{index}", h.handleGotoQuestion)
			r.Post("/session/{examID}/submit", h.handleSubmitSession)

			r.Post("/tutor", h.handleTutor)
		})
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode response", "error", err)
	}
}

type errResponse struct {
	Error string `json:"error"`
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errResponse{Error: message})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
