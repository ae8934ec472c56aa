package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	articleHandler "github.com/echotalk/backend/internal/handler/article"
	chatHandler "github.com/echotalk/backend/internal/handler/chat"
	realtimeHandler "github.com/echotalk/backend/internal/handler/realtime"
	sessionHandler "github.com/echotalk/backend/internal/handler/session"
	speechHandler "github.com/echotalk/backend/internal/handler/speech"
	streamHandler "github.com/echotalk/backend/internal/handler/stream"
	"github.com/echotalk/backend/internal/middleware"
	"github.com/echotalk/backend/internal/realtime"
	"github.com/echotalk/backend/internal/service/ai"
	speechsvc "github.com/echotalk/backend/internal/service/speech"
	"github.com/echotalk/backend/internal/store"
)

// Deps 路由需要的全部依赖。aiSvc / speechSvc / orch 为 nil 时跳过对应端点。
type Deps struct {
	Store          store.Store
	AI             *ai.Service
	Speech         *speechsvc.Service
	Orchestrator   *realtime.Orchestrator
	MetricsHandler http.Handler
	HistoryLimit   int
}

// NewRouter 组装全部HTTP路由
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/api", func(api chi.Router) {
		sessionHandler.New(deps.Store).RegisterRoutes(api)

		var followup chatHandler.FollowupGenerator
		var memoir articleHandler.MemoirGenerator
		if deps.AI != nil {
			followup = deps.AI
			memoir = deps.AI
		}
		chatHandler.New(deps.Store, followup, deps.HistoryLimit).RegisterRoutes(api)
		articleHandler.New(deps.Store, memoir).RegisterRoutes(api)

		if deps.AI != nil {
			streamHandler.New(deps.AI, deps.Store, deps.HistoryLimit).RegisterRoutes(api)
		}

		if deps.Speech != nil {
			speechHandler.New(deps.Speech, deps.Store).RegisterRoutes(api)
		}

		if deps.Orchestrator != nil {
			realtimeHandler.New(deps.Orchestrator).RegisterRoutes(api)
		}
	})

	return r
}
