package speech

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/echotalk/backend/internal/model/chat"
	"github.com/echotalk/backend/internal/model/speech"
	"github.com/echotalk/backend/internal/store"
)

// SpeechService 抽象语音业务，便于测试与替换实现
type SpeechService interface {
	TranscribeAudio(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error)
	SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error)
}

// Handler 一次性语音识别/合成的HTTP处理器
type Handler struct {
	speechSvc SpeechService
	store     store.Store
}

// New 创建语音处理器。store 用于把上传识别结果落为对话记录，可为 nil。
func New(speechSvc SpeechService, st store.Store) *Handler {
	return &Handler{speechSvc: speechSvc, store: st}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/speech", func(speechRouter chi.Router) {
		speechRouter.Post("/transcribe", h.handleTranscribe)
		speechRouter.Post("/transcribe/{sessionID}", h.handleTranscribeWithSession)

		speechRouter.Post("/synthesize", h.handleSynthesize)
		speechRouter.Post("/synthesize/{sessionID}", h.handleSynthesizeWithSession)

		speechRouter.Get("/health", h.handleHealth)
	})
}

// handleTranscribe 处理语音转文本请求
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	h.processTranscribe(w, r, "")
}

// handleTranscribeWithSession 处理带会话ID的语音转文本请求
func (h *Handler) handleTranscribeWithSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.respondError(w, http.StatusBadRequest, "sessionID is required")
		return
	}
	h.processTranscribe(w, r, sessionID)
}

// handleSynthesize 处理文本转语音请求
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	h.processSynthesize(w, r, "")
}

// handleSynthesizeWithSession 处理带会话ID的文本转语音请求
func (h *Handler) handleSynthesizeWithSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.respondError(w, http.StatusBadRequest, "sessionID is required")
		return
	}
	h.processSynthesize(w, r, sessionID)
}

func (h *Handler) processTranscribe(w http.ResponseWriter, r *http.Request, overrideSessionID string) {
	err := r.ParseMultipartForm(32 << 20) // 32MB max
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}

	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	sessionID := overrideSessionID
	if sessionID == "" {
		sessionID = r.FormValue("sessionId")
	}
	if sessionID == "" {
		sessionID = "default"
	}

	language := r.FormValue("language")
	if language == "" {
		language = "zh-CN"
	}

	asrReq := &speech.ASRRequest{
		SessionID: sessionID,
		AudioData: file,
		Format:    inferAudioFormat(header.Filename),
		Language:  language,
	}

	resp, err := h.speechSvc.TranscribeAudio(r.Context(), asrReq)
	if err != nil {
		log.Printf("[speech] ASR error: %v", err)
		h.respondError(w, http.StatusInternalServerError, "speech recognition failed")
		return
	}

	// 带 open_id 的上传识别结果落为该会话的一条用户发言。
	if openID := r.FormValue("open_id"); openID != "" && resp.Text != "" {
		h.persistTranscript(r.Context(), sessionID, openID, resp.Text)
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// persistTranscript 把识别文本写入对话记录，失败只记日志。
func (h *Handler) persistTranscript(ctx context.Context, sessionID, openID, text string) {
	if h.store == nil {
		return
	}
	id, err := strconv.ParseInt(sessionID, 10, 64)
	if err != nil {
		return
	}
	user, err := h.store.UserByOpenID(ctx, openID)
	if err != nil {
		log.Printf("[speech] transcript user lookup failed: %v", err)
		return
	}
	if err := h.store.AppendTurn(ctx, chat.Turn{
		UserID:    user.ID,
		SessionID: id,
		Role:      chat.RoleUser,
		Content:   text,
	}); err != nil {
		log.Printf("[speech] transcript persist failed: %v", err)
	}
}

func (h *Handler) processSynthesize(w http.ResponseWriter, r *http.Request, overrideSessionID string) {
	var req speech.TTSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if overrideSessionID != "" {
		req.SessionID = overrideSessionID
	}

	if strings.TrimSpace(req.Text) == "" {
		h.respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	if req.SessionID == "" {
		req.SessionID = "default"
	}

	resp, err := h.speechSvc.SynthesizeSpeech(r.Context(), &req)
	if err != nil {
		log.Printf("[speech] TTS error: %v", err)
		h.respondError(w, http.StatusInternalServerError, "speech synthesis failed")
		return
	}

	if len(resp.AudioData) > 0 {
		format := resp.Format
		if format == "" {
			format = "octet-stream"
		}
		w.Header().Set("Content-Type", "audio/"+format)
		w.Header().Set("Content-Length", strconv.Itoa(len(resp.AudioData)))
		w.Header().Set("Content-Disposition", "attachment; filename=speech."+format)
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(resp.AudioData); err != nil {
			log.Printf("failed to write audio response: %v", err)
		}
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// handleHealth 健康检查端点
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "speech",
	})
}

// inferAudioFormat 从文件名推断音频格式
func inferAudioFormat(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp3":
		return "mp3"
	case ".wav":
		return "wav"
	case ".webm":
		return "webm"
	case ".m4a":
		return "m4a"
	case ".aac":
		return "aac"
	case ".pcm":
		return "pcm"
	default:
		return "wav"
	}
}

// respondJSON 发送JSON响应
func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// respondError 发送错误响应
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
