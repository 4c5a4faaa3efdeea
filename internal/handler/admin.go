package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/i18n"
	"github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/model"
)

// userView is the API shape of a user; the password hash never leaves the
// server.
type userView struct {
	ID          int64          `json:"id"`
	Username    string         `json:"username"`
	DisplayName string         `json:"display_name"`
	Role        model.UserRole `json:"role"`
	Active      bool           `json:"active"`
}

func viewUser(u model.User) userView {
	return userView{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		Active:      u.Active,
	}
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers()
	if err != nil {
		slog.Error("list users", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, viewUser(u))
	}
	respondJSON(w, http.StatusOK, views)
}

type createUserRequest struct {
	Username    string `json:"username" validate:"required"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password" validate:"required"`
	Role        string `json:"role" validate:"required,oneof=student teacher admin"`
}

// handleCreateUser provisions a student, teacher or admin account. New
// accounts start active.
func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	existing, err := h.store.GetUserByUsername(req.Username)
	if err != nil {
		slog.Error("check username", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if existing != nil {
		respondError(w, http.StatusConflict, "username already taken")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("hash password", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}
	id, err := h.store.CreateUser(model.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
		Role:         model.UserRole(req.Role),
		Active:       true,
	})
	if err != nil {
		slog.Error("create user", "username", req.Username, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	user, err := h.store.GetUserByID(id)
	if err != nil || user == nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusCreated, viewUser(*user))
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

// handleSetUserActive activates or deactivates an account. Deactivation
// takes effect on the next request: requireAuth rejects inactive users.
func (h *Handler) handleSetUserActive(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user ID")
		return
	}
	var req setActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.store.GetUserByID(userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		respondError(w, http.StatusNotFound, appI18n.T(r.Context(), "NotFound"))
		return
	}

	if err := h.store.SetUserActive(userID, req.Active); err != nil {
		slog.Error("set user active", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	slog.Info("user active flag updated", "user_id", userID, "active", req.Active)
	respondJSON(w, http.StatusOK, map[string]bool{"active": req.Active})
}
