package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/echotalk/backend/internal/store"
	"github.com/echotalk/backend/pkg/utils"
)

// Handler 会话管理的HTTP处理器
type Handler struct {
	store store.Store
}

// New 创建会话处理器
func New(st store.Store) *Handler {
	return &Handler{store: st}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session/create", h.handleCreate)
	r.Get("/session/list/{openID}", h.handleList)
	r.Get("/session/{sessionID}", h.handleGet)
}

// handleCreate 为用户开启一次新的回忆会话
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		OpenID string `json:"open_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.OpenID == "" {
		utils.RespondError(w, http.StatusBadRequest, "open_id is required")
		return
	}

	user, err := h.store.UserByOpenID(r.Context(), payload.OpenID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "用户不存在")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to resolve user")
		return
	}

	session, err := h.store.CreateSession(r.Context(), user.ID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, session)
}

// handleGet 查询会话
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "sessionID"), 10, 64)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "无效的会话ID")
		return
	}

	session, err := h.store.SessionByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	utils.RespondJSON(w, http.StatusOK, session)
}

// handleList 列出用户的全部会话
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.UserByOpenID(r.Context(), chi.URLParam(r, "openID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "用户不存在")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to resolve user")
		return
	}

	sessions, err := h.store.SessionsByUser(r.Context(), user.ID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}
