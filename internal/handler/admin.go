package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/pavelanni/recitation/internal/i18n"
	"github.com/pavelanni/recitation/internal/model"
	"github.com/pavelanni/recitation/internal/store"
)

type createUserRequest struct {
	Username    string         `json:"username"`
	DisplayName string         `json:"display_name"`
	Password    string         `json:"password"`
	Role        model.UserRole `json:"role"`
}

type userResponse struct {
	ID          int64          `json:"id"`
	Username    string         `json:"username"`
	DisplayName string         `json:"display_name"`
	Role        model.UserRole `json:"role"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		h.invalid(w, r, http.StatusBadRequest, err.Error())
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		h.invalid(w, r, http.StatusUnprocessableEntity, "username and password required")
		return
	}
	if req.Role == "" {
		req.Role = model.UserRoleTeacher
	}
	if !req.Role.Valid() {
		h.invalid(w, r, http.StatusUnprocessableEntity, "role must be teacher or admin")
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.internalError(w, r, "failed to hash password", err)
		return
	}

	u, err := h.store.CreateUser(model.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
		Role:         req.Role,
		Active:       true,
	})
	if errors.Is(err, store.ErrUserExists) {
		writeError(w, http.StatusConflict, appI18n.T(r.Context(), "UserExists"))
		return
	}
	if err != nil {
		h.internalError(w, r, "failed to create user", err)
		return
	}

	slog.Info("created user via admin API", "username", req.Username, "role", req.Role,
		"by", model.UserFromContext(r.Context()).Username)
	writeJSON(w, http.StatusCreated, userResponse{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Role:        u.Role,
	})
}
