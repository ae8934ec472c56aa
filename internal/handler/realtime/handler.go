package realtime

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	rt "github.com/echotalk/backend/internal/realtime"
	"github.com/echotalk/backend/pkg/utils"
)

// Handler 把WebSocket升级后的连接交给实时会话编排器
type Handler struct {
	orch     *rt.Orchestrator
	upgrader websocket.Upgrader
}

// New 创建实时对话处理器
func New(orch *rt.Orchestrator) *Handler {
	return &Handler{
		orch: orch,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // 小程序与网页端都可接入
			},
		},
	}
}

// RegisterRoutes 注册实时对话路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/realtime/{sessionID}/{openID}", h.handleConnect)
}

// handleConnect 校验路径参数后升级为WebSocket连接
func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	openID := chi.URLParam(r, "openID")
	if sessionID == "" || openID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionID and openID are required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写了HTTP错误响应，这里只记日志。
		log.Printf("[realtime] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	h.orch.Run(r.Context(), conn, sessionID, openID)
}
