package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	"github.com/echotalk/backend/internal/model/chat"
	"github.com/echotalk/backend/internal/store"
	"github.com/echotalk/backend/pkg/utils"
)

// Responder 是流式端点需要的生成能力。
type Responder interface {
	StreamingEnabled() bool
	GenerateFollowup(ctx context.Context, turns []chat.Turn) (string, error)
	StreamFollowup(ctx context.Context, turns []chat.Turn) (*schema.StreamReader[*schema.Message], error)
}

// Handler 通过 Server-Sent Events 流式返回追问回复
type Handler struct {
	responder    Responder
	store        store.Store
	historyLimit int
}

// New 创建流式处理器
func New(responder Responder, st store.Store, historyLimit int) *Handler {
	if historyLimit <= 0 {
		historyLimit = 10
	}
	return &Handler{responder: responder, store: st, historyLimit: historyLimit}
}

// RegisterRoutes 注册流式聊天路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/stream", h.handleStream)
}

// handleStream 解析请求并交给 HandleStreamRequest。
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
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

	if err := h.HandleStreamRequest(r.Context(), w, payload.SessionID, payload.OpenID, strings.TrimSpace(payload.Message)); err != nil {
		log.Printf("[stream] request failed for session %d: %v", payload.SessionID, err)
	}
}

// StreamResponse 一个SSE数据块
type StreamResponse struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HandleStreamRequest 处理一次流式对话：落库用户消息、流式生成、落库回复。
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, sessionID int64, openID, userMessage string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported")
	}

	utils.SetupSSEHeaders(w)

	user, err := h.store.UserByOpenID(ctx, openID)
	if err != nil {
		h.sendSSEError(w, flusher, "用户不存在")
		return err
	}

	userTurn := chat.Turn{
		UserID:    user.ID,
		SessionID: sessionID,
		Role:      chat.RoleUser,
		Content:   userMessage,
	}
	if err := h.store.AppendTurn(ctx, userTurn); err != nil {
		h.sendSSEError(w, flusher, "failed to save message")
		return err
	}

	history, err := h.store.RecentTurns(ctx, sessionID, h.historyLimit)
	if err != nil {
		h.sendSSEError(w, flusher, "failed to load history")
		return err
	}

	h.sendSSE(w, flusher, StreamResponse{
		Event:     "start",
		SessionID: fmt.Sprintf("%d", sessionID),
	})

	reply, err := h.dispatchResponse(ctx, w, flusher, sessionID, history)
	if err != nil {
		h.sendSSEError(w, flusher, fmt.Sprintf("AI generation failed: %v", err))
		return err
	}

	assistantTurn := chat.Turn{
		UserID:    user.ID,
		SessionID: sessionID,
		Role:      chat.RoleAssistant,
		Content:   reply,
	}
	if err := h.store.AppendTurn(ctx, assistantTurn); err != nil {
		log.Printf("[stream] failed to save assistant turn: %v", err)
	}

	h.sendSSE(w, flusher, StreamResponse{
		Event:     "end",
		SessionID: fmt.Sprintf("%d", sessionID),
		Finished:  true,
	})

	log.Printf("[stream] completed response for session=%d", sessionID)
	return nil
}

// dispatchResponse 按配置选择流式或一次性生成。
func (h *Handler) dispatchResponse(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, sessionID int64, history []chat.Turn) (string, error) {
	if h.responder.StreamingEnabled() {
		return h.streamResponse(ctx, w, flusher, sessionID, history)
	}

	reply, err := h.responder.GenerateFollowup(ctx, history)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		return "", fmt.Errorf("empty reply")
	}

	h.sendSSE(w, flusher, StreamResponse{
		Event:     "message",
		SessionID: fmt.Sprintf("%d", sessionID),
		Content:   reply,
	})
	return reply, nil
}

func (h *Handler) streamResponse(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, sessionID int64, history []chat.Turn) (string, error) {
	stream, err := h.responder.StreamFollowup(ctx, history)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)

	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return "", recvErr
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			h.sendSSE(w, flusher, StreamResponse{
				Event:     "delta",
				SessionID: fmt.Sprintf("%d", sessionID),
				Content:   chunk.Content,
			})
		}
	}

	response, err := schema.ConcatMessages(chunks)
	if err != nil {
		return "", err
	}

	h.sendSSE(w, flusher, StreamResponse{
		Event:     "message",
		SessionID: fmt.Sprintf("%d", sessionID),
		Content:   response.Content,
	})
	return response.Content, nil
}

// sendSSE 发送一个SSE数据块
func (h *Handler) sendSSE(w http.ResponseWriter, flusher http.Flusher, response StreamResponse) {
	utils.SendSSEChunk(w, flusher, response)
}

// sendSSEError 发送SSE错误事件
func (h *Handler) sendSSEError(w http.ResponseWriter, flusher http.Flusher, errorMsg string) {
	h.sendSSE(w, flusher, StreamResponse{
		Event: "error",
		Error: errorMsg,
	})
}
