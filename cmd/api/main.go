package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/echotalk/backend/internal/config"
	"github.com/echotalk/backend/internal/handler"
	speechmodel "github.com/echotalk/backend/internal/model/speech"
	"github.com/echotalk/backend/internal/observe"
	"github.com/echotalk/backend/internal/realtime"
	"github.com/echotalk/backend/internal/service/ai"
	speechsvc "github.com/echotalk/backend/internal/service/speech"
	"github.com/echotalk/backend/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, cleanup, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize store: %v", err)
	}
	defer cleanup()

	meterProvider, promRegistry, err := observe.InitProvider()
	if err != nil {
		log.Fatalf("failed to initialize metrics provider: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			log.Printf("metrics provider shutdown failed: %v", err)
		}
	}()

	metrics, err := observe.NewMetrics(meterProvider)
	if err != nil {
		log.Fatalf("failed to create metrics: %v", err)
	}

	var aiSvc *ai.Service
	if cfg.AI.Enabled() {
		aiSvc, err = ai.NewService(ctx, cfg.AI)
		if err != nil {
			log.Fatalf("failed to initialize AI service: %v", err)
		}
		log.Printf("AI service enabled, model=%s", cfg.AI.Model)
	} else {
		log.Println("AI service disabled: Ark credentials not configured")
	}

	var speechSvc *speechsvc.Service
	if cfg.Speech.Enabled {
		speechSvc = speechsvc.NewService(speechModelConfig(cfg.Speech))
		log.Println("speech service enabled")
	} else {
		log.Println("speech service disabled: SPEECH_APP_ID / SPEECH_ACCESS_TOKEN not configured")
	}

	var orch *realtime.Orchestrator
	if aiSvc != nil && speechSvc != nil {
		orch = realtime.NewOrchestrator(
			st,
			st,
			recognizerAdapter{speechSvc},
			aiSvc,
			speechSvc,
			metrics,
			nil,
			realtime.Config{
				SilenceThreshold: cfg.Realtime.SilenceThreshold,
				PollInterval:     cfg.Realtime.PollInterval,
				CallTimeout:      cfg.Realtime.CallTimeout,
				HistoryLimit:     cfg.Realtime.HistoryLimit,
				FallbackReply:    ai.FallbackReply,
			},
		)
		log.Println("realtime voice sessions enabled")
	} else {
		log.Println("realtime voice sessions disabled: both AI and speech services are required")
	}

	router := handler.NewRouter(handler.Deps{
		Store:          st,
		AI:             aiSvc,
		Speech:         speechSvc,
		Orchestrator:   orch,
		MetricsHandler: observe.Handler(promRegistry),
		HistoryLimit:   cfg.Realtime.HistoryLimit,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.Server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Println("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if orch != nil {
		orch.Registry().CloseAll()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown failed: %v", err)
	}
	log.Println("server stopped")
}

// buildStore 按配置选择 Postgres 或进程内存储。
func buildStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.Database.Enabled() {
		pool, err := store.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, err
		}
		if err := store.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Println("using postgres store")
		return store.NewPostgresStore(pool), pool.Close, nil
	}

	// 未配置数据库时用进程内存储，并预置一个演示用户方便本地联调。
	mem := store.NewMemoryStore()
	if user, err := mem.CreateUser(ctx, "demo-user", "演示用户"); err == nil {
		log.Printf("using in-memory store, seeded demo user open_id=%s id=%d", user.OpenID, user.ID)
	}
	return mem, func() {}, nil
}

// speechModelConfig 把环境配置转换为语音客户端所需的配置。
func speechModelConfig(cfg config.SpeechConfig) *speechmodel.SpeechConfig {
	return &speechmodel.SpeechConfig{
		AppID:       cfg.AppID,
		AccessToken: cfg.AccessToken,
		Region:      cfg.Region,
		BaseURL:     cfg.BaseURL,
		ASRModel:    cfg.ASRModel,
		ASRLanguage: cfg.ASRLanguage,
		TTSVoice:    cfg.TTSVoice,
		TTSSpeed:    cfg.TTSSpeed,
		TTSVolume:   cfg.TTSVolume,
		TTSLanguage: cfg.TTSLanguage,
		Timeout:     cfg.Timeout,
	}
}

// recognizerAdapter 让语音服务满足编排器的 Recognizer 接口。
type recognizerAdapter struct {
	svc *speechsvc.Service
}

func (a recognizerAdapter) OpenStream(ctx context.Context, sessionID string, onSentence func(text string)) (realtime.RecognitionStream, error) {
	return a.svc.OpenStream(ctx, sessionID, onSentence)
}
