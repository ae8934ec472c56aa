package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/echotalk/backend/internal/model/chat"
	"github.com/echotalk/backend/internal/service/ai"
	"github.com/echotalk/backend/internal/store"
	"github.com/echotalk/backend/pkg/utils"
)

// FollowupGenerator 是聊天处理器需要的生成能力。
type FollowupGenerator interface {
	GenerateFollowup(ctx context.Context, turns []chat.Turn) (string, error)
}

// Handler 文字聊天的HTTP处理器
type Handler struct {
	store        store.Store
	generator    FollowupGenerator
	historyLimit int
}

// New 创建聊天处理器。generator 为 nil 时只回兜底回复。
func New(st store.Store, generator FollowupGenerator, historyLimit int) *Handler {
	if historyLimit <= 0 {
		historyLimit = 10
	}
	return &Handler{store: st, generator: generator, historyLimit: historyLimit}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/message", h.handleMessage)
	r.Get("/chat/history/{sessionID}", h.handleHistory)
}

// handleMessage 处理一条文字消息：落库、生成追问、落库、返回。
func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID int64  `json:"session_id"`
		OpenID    string `json:"open_id"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.SessionID <= 0 || payload.OpenID == "" || strings.TrimSpace(payload.Message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "session_id, open_id and message are required")
		return
	}

	ctx := r.Context()

	user, err := h.store.UserByOpenID(ctx, payload.OpenID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "用户不存在")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to resolve user")
		return
	}

	userTurn := chat.Turn{
		UserID:    user.ID,
		SessionID: payload.SessionID,
		Role:      chat.RoleUser,
		Content:   strings.TrimSpace(payload.Message),
	}
	if err := h.store.AppendTurn(ctx, userTurn); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to save message")
		return
	}

	history, err := h.store.RecentTurns(ctx, payload.SessionID, h.historyLimit)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	reply := ai.FallbackReply
	if h.generator != nil {
		generated, err := h.generator.GenerateFollowup(ctx, history)
		if err != nil {
			log.Printf("[chat] followup generation failed for session %d: %v", payload.SessionID, err)
		} else if strings.TrimSpace(generated) != "" {
			reply = generated
		}
	}

	assistantTurn := chat.Turn{
		UserID:    user.ID,
		SessionID: payload.SessionID,
		Role:      chat.RoleAssistant,
		Content:   reply,
	}
	if err := h.store.AppendTurn(ctx, assistantTurn); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to save reply")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"ai_response": reply})
}

// handleHistory 返回会话的完整对话记录
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "sessionID"), 10, 64)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "无效的会话ID")
		return
	}

	turns, err := h.store.Transcript(r.Context(), id)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": turns})
}
