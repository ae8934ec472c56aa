package article

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/echotalk/backend/internal/model/chat"
	"github.com/echotalk/backend/internal/model/memoir"
	"github.com/echotalk/backend/internal/store"
	"github.com/echotalk/backend/pkg/utils"
)

// MemoirGenerator 是文章处理器需要的生成能力。
type MemoirGenerator interface {
	GenerateMemoir(ctx context.Context, turns []chat.Turn) (string, error)
}

// 生成文章要求的最少对话条数。
const minTranscriptTurns = 2

// Handler 回忆录文章的HTTP处理器
type Handler struct {
	store     store.Store
	generator MemoirGenerator
}

// New 创建文章处理器
func New(st store.Store, generator MemoirGenerator) *Handler {
	return &Handler{store: st, generator: generator}
}

// RegisterRoutes 注册文章相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/article/generate", h.handleGenerate)
	r.Get("/article/list/{openID}", h.handleList)
	r.Get("/article/{articleID}", h.handleGet)
	r.Put("/article/{articleID}", h.handleUpdate)
}

// handleGenerate 基于会话记录生成一篇回忆录文章并关闭会话
func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID int64 `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.SessionID <= 0 {
		utils.RespondError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if h.generator == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "文章生成服务未配置")
		return
	}

	ctx := r.Context()

	session, err := h.store.SessionByID(ctx, payload.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "会话不存在")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	transcript, err := h.store.Transcript(ctx, payload.SessionID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}
	if len(transcript) < minTranscriptTurns {
		utils.RespondError(w, http.StatusBadRequest, "聊天记录太少，无法生成文章")
		return
	}

	content, err := h.generator.GenerateMemoir(ctx, transcript)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "文章生成失败")
		return
	}

	article, err := h.store.CreateArticle(ctx, memoir.Article{
		UserID:       session.UserID,
		SessionID:    session.ID,
		Title:        defaultArticleTitle(time.Now()),
		DraftContent: content,
		FinalContent: content,
		Status:       memoir.ArticleDraft,
	})
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to save article")
		return
	}

	if err := h.store.CompleteSession(ctx, session.ID, article.ID); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to close session")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, article)
}

// handleGet 查询文章
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "articleID"), 10, 64)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "无效的文章ID")
		return
	}

	article, err := h.store.ArticleByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "article not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to load article")
		return
	}

	utils.RespondJSON(w, http.StatusOK, article)
}

// handleUpdate 更新文章内容（用户编辑后的最终版本）
func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "articleID"), 10, 64)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "无效的文章ID")
		return
	}

	var payload struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Content) == "" {
		utils.RespondError(w, http.StatusBadRequest, "content is required")
		return
	}

	if err := h.store.UpdateArticleContent(r.Context(), id, payload.Content); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "article not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to update article")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// handleList 列出用户的全部文章
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

	articles, err := h.store.ArticlesByUser(r.Context(), user.ID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to list articles")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"articles": articles})
}

// defaultArticleTitle 以日期生成默认标题，如 2026年08月28日 的回忆。
func defaultArticleTitle(t time.Time) string {
	return fmt.Sprintf("%s 的回忆", t.Format("2006年01月02日"))
}
