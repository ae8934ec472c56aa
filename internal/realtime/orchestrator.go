// Package realtime 实现实时语音会话的编排：客户端 WebSocket 音频帧
// 透传给流式识别，静默判停后经大模型生成追问并合成语音回传。
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/echotalk/backend/internal/model/chat"
	"github.com/echotalk/backend/internal/model/memoir"
	"github.com/echotalk/backend/internal/observe"
	"github.com/echotalk/backend/internal/store"
)

// ClientConn 是与客户端 WebSocket 的最小交互面。
// *websocket.Conn 直接满足该接口。
type ClientConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// RecognitionStream 是一条已建立的流式识别连接。
type RecognitionStream interface {
	SendAudio(chunk []byte) error
	Close() error
}

// Recognizer 负责建立流式识别连接。
type Recognizer interface {
	OpenStream(ctx context.Context, sessionID string, onSentence func(text string)) (RecognitionStream, error)
}

// Responder 基于对话历史生成追问问题。
type Responder interface {
	GenerateFollowup(ctx context.Context, turns []chat.Turn) (string, error)
}

// Synthesizer 把文本合成为音频字节。
type Synthesizer interface {
	Synthesize(ctx context.Context, sessionID, text string) ([]byte, error)
}

// UserResolver 解析外部用户标识。
type UserResolver interface {
	UserByOpenID(ctx context.Context, openID string) (memoir.User, error)
}

// TurnStore 持久化对话记录。
type TurnStore interface {
	AppendTurn(ctx context.Context, turn chat.Turn) error
	RecentTurns(ctx context.Context, sessionID int64, limit int) ([]chat.Turn, error)
}

// Config 实时会话的调优参数。
type Config struct {
	SilenceThreshold time.Duration // 判定一句话说完的静默时长
	PollInterval     time.Duration // 静默检测轮询间隔
	CallTimeout      time.Duration // 单次生成/合成/存储调用超时
	HistoryLimit     int           // 回传给模型的最近对话条数
	FallbackReply    string        // 生成失败时的兜底回复
}

func (c Config) withDefaults() Config {
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = 1500 * time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 300 * time.Millisecond
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 10
	}
	if c.FallbackReply == "" {
		c.FallbackReply = "嗯，我在听，您继续讲。"
	}
	return c
}

// Orchestrator 驱动所有实时语音会话。
type Orchestrator struct {
	users      UserResolver
	turns      TurnStore
	recognizer Recognizer
	responder  Responder
	synth      Synthesizer
	metrics    *observe.Metrics
	registry   *Registry
	cfg        Config
}

// NewOrchestrator 组装会话编排器。metrics 可为 nil。
func NewOrchestrator(
	users UserResolver,
	turns TurnStore,
	recognizer Recognizer,
	responder Responder,
	synth Synthesizer,
	metrics *observe.Metrics,
	registry *Registry,
	cfg Config,
) *Orchestrator {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Orchestrator{
		users:      users,
		turns:      turns,
		recognizer: recognizer,
		responder:  responder,
		synth:      synth,
		metrics:    metrics,
		registry:   registry,
		cfg:        cfg.withDefaults(),
	}
}

// Registry 返回活跃会话注册表（供优雅停机使用）。
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// session 单个实时会话的全部状态，不跨会话共享。
type session struct {
	o *Orchestrator

	id     int64
	idStr  string
	userID int64

	conn    ClientConn
	writeMu sync.Mutex

	acc    accumulator
	stream RecognitionStream

	running  atomic.Bool
	stopOnce sync.Once

	// 串行化响应流水线：同一会话同一时刻至多一次生成在跑。
	pipelineMu sync.Mutex
}

// send 序列化下发一帧，保证并发写不交织。
func (s *session) send(frame serverFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(frame); err != nil {
		log.Printf("[realtime] session %d write %s failed: %v", s.id, frame.Type, err)
		return err
	}
	return nil
}

// teardown 幂等终止：放倒运行标志并关闭识别连接。
// 不打断进行中的流水线，让它自然跑完。
func (s *session) teardown() {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		if s.stream != nil {
			if err := s.stream.Close(); err != nil {
				log.Printf("[realtime] session %d recognition close failed: %v", s.id, err)
			}
		}
		log.Printf("[realtime] session %d torn down", s.id)
	})
}

// Run 接管一条已升级的客户端连接，阻塞直到会话结束。
// 启动失败只下发一帧 error 后返回，连接由调用方关闭。
func (o *Orchestrator) Run(ctx context.Context, conn ClientConn, sessionParam, openID string) {
	sessionID, err := strconv.ParseInt(strings.TrimSpace(sessionParam), 10, 64)
	if err != nil {
		log.Printf("[realtime] invalid session id %q: %v", sessionParam, err)
		_ = conn.WriteJSON(errorFrame("无效的会话ID"))
		return
	}

	user, err := o.users.UserByOpenID(ctx, openID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("[realtime] unknown user %q for session %d", openID, sessionID)
			_ = conn.WriteJSON(errorFrame("用户不存在"))
		} else {
			log.Printf("[realtime] user lookup failed for session %d: %v", sessionID, err)
			_ = conn.WriteJSON(errorFrame("会话初始化失败"))
		}
		return
	}

	s := &session{
		o:      o,
		id:     sessionID,
		idStr:  strconv.FormatInt(sessionID, 10),
		userID: user.ID,
		conn:   conn,
	}
	s.running.Store(true)

	stream, err := o.recognizer.OpenStream(ctx, s.idStr, s.acc.setText)
	if err != nil {
		log.Printf("[realtime] session %d recognition dial failed: %v", sessionID, err)
		_ = conn.WriteJSON(errorFrame("创建语音识别连接失败"))
		return
	}
	s.stream = stream

	o.registry.add(s)
	o.metrics.SessionStarted(ctx)
	defer func() {
		s.teardown()
		o.registry.remove(s)
		o.metrics.SessionEnded(context.Background())
	}()

	log.Printf("[realtime] session %d started for user %d", sessionID, user.ID)
	if err := s.send(infoFrame(frameSessionStarted, "实时对话已开始")); err != nil {
		return
	}

	go s.watchSilence()

	s.readLoop()
}

// readLoop 消费客户端帧直到连接关闭或收到 stop_session。
func (s *session) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[realtime] session %d read ended: %v", s.id, err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("[realtime] session %d unparseable frame ignored: %v", s.id, err)
			continue
		}

		switch frame.Type {
		case frameAudio:
			s.handleAudioFrame(frame.Audio)

		case frameStop:
			// 主动结束：同步冲掉未处理的文本再收尾，保证不丢最后一句。
			if text, ok := s.acc.drain(); ok {
				s.respond(text)
			}
			log.Printf("[realtime] session %d stopped by client", s.id)
			return

		case frameInterrupt:
			s.acknowledgeInterrupt()

		default:
			log.Printf("[realtime] session %d unknown frame type %q ignored", s.id, frame.Type)
		}
	}
}

// handleAudioFrame 解码音频并透传给识别连接。
func (s *session) handleAudioFrame(encoded string) {
	if encoded == "" {
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		log.Printf("[realtime] session %d bad audio frame ignored: %v", s.id, err)
		return
	}

	s.acc.touch()

	if err := s.stream.SendAudio(pcm); err != nil {
		// 识别通道静默降级，会话其余部分继续工作。
		log.Printf("[realtime] session %d audio forward failed: %v", s.id, err)
	}
}
