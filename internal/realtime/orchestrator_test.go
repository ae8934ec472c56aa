package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/echotalk/backend/internal/model/chat"
	"github.com/echotalk/backend/internal/store"
)

// fakeConn 模拟客户端WebSocket连接：入站帧走channel，出站帧留存供断言。
type fakeConn struct {
	in chan []byte

	mu       sync.Mutex
	frames   []serverFrame
	writeErr error
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.in
	if !ok {
		return 0, nil, errors.New("use of closed connection")
	}
	return websocket.TextMessage, data, nil
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	frame, ok := v.(serverFrame)
	if !ok {
		return errors.New("unexpected payload type")
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.in)
	}
	return nil
}

func (c *fakeConn) push(t *testing.T, frame clientFrame) {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	c.in <- data
}

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *fakeConn) sent() []serverFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]serverFrame, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *fakeConn) frameTypes() []string {
	frames := c.sent()
	types := make([]string, 0, len(frames))
	for _, f := range frames {
		types = append(types, f.Type)
	}
	return types
}

func (c *fakeConn) lastOfType(frameType string) (serverFrame, bool) {
	frames := c.sent()
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Type == frameType {
			return frames[i], true
		}
	}
	return serverFrame{}, false
}

func (c *fakeConn) countOfType(frameType string) int {
	count := 0
	for _, f := range c.sent() {
		if f.Type == frameType {
			count++
		}
	}
	return count
}

// fakeStream 记录透传的音频块。
type fakeStream struct {
	mu      sync.Mutex
	chunks  [][]byte
	closed  bool
	sendErr error
}

func (s *fakeStream) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.chunks = append(s.chunks, chunk)
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) chunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// fakeRecognizer 捕获 onSentence 回调，测试里直接驱动它模拟识别结果。
type fakeRecognizer struct {
	mu         sync.Mutex
	dialErr    error
	dials      int
	stream     *fakeStream
	onSentence func(string)
}

func (r *fakeRecognizer) OpenStream(_ context.Context, _ string, onSentence func(string)) (RecognitionStream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dialErr != nil {
		return nil, r.dialErr
	}
	r.dials++
	r.stream = &fakeStream{}
	r.onSentence = onSentence
	return r.stream, nil
}

func (r *fakeRecognizer) emit(text string) {
	r.mu.Lock()
	cb := r.onSentence
	r.mu.Unlock()
	if cb != nil {
		cb(text)
	}
}

func (r *fakeRecognizer) dialCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dials
}

type fakeResponder struct {
	mu      sync.Mutex
	reply   string
	err     error
	history [][]chat.Turn
}

func (f *fakeResponder) GenerateFollowup(_ context.Context, turns []chat.Turn) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, turns)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeSynth struct {
	audio []byte
	err   error
}

func (f *fakeSynth) Synthesize(_ context.Context, _, _ string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.audio, nil
}

// testHarness 一套可直接驱动的会话编排环境。
type testHarness struct {
	orch       *Orchestrator
	store      *store.MemoryStore
	conn       *fakeConn
	recognizer *fakeRecognizer
	responder  *fakeResponder
	synth      *fakeSynth
	openID     string
	done       chan struct{}
}

func newHarness(t *testing.T, cfg Config) *testHarness {
	t.Helper()

	mem := store.NewMemoryStore()
	if _, err := mem.CreateUser(context.Background(), "demo-open-id", "测试用户"); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	recognizer := &fakeRecognizer{}
	responder := &fakeResponder{reply: "那天的天气给您留下了什么印象？"}
	synth := &fakeSynth{audio: []byte("mp3-bytes")}

	orch := NewOrchestrator(mem, mem, recognizer, responder, synth, nil, nil, cfg)

	return &testHarness{
		orch:       orch,
		store:      mem,
		conn:       newFakeConn(),
		recognizer: recognizer,
		responder:  responder,
		synth:      synth,
		openID:     "demo-open-id",
		done:       make(chan struct{}),
	}
}

func fastConfig() Config {
	return Config{
		SilenceThreshold: 25 * time.Millisecond,
		PollInterval:     5 * time.Millisecond,
		CallTimeout:      time.Second,
		HistoryLimit:     10,
		FallbackReply:    "嗯，我在听，您继续讲。",
	}
}

// manualConfig 禁用静默轮询，只能通过 stop_session 触发响应。
func manualConfig() Config {
	cfg := fastConfig()
	cfg.SilenceThreshold = time.Hour
	cfg.PollInterval = time.Hour
	return cfg
}

func (h *testHarness) run(sessionParam string) {
	go func() {
		h.orch.Run(context.Background(), h.conn, sessionParam, h.openID)
		close(h.done)
	}()
}

func (h *testHarness) finish(t *testing.T) {
	t.Helper()
	h.conn.Close()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func audioFrame(pcm []byte) clientFrame {
	return clientFrame{Type: frameAudio, Audio: base64.StdEncoding.EncodeToString(pcm)}
}

func TestRunRejectsInvalidSessionID(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.run("not-a-number")

	<-h.done

	frames := h.conn.sent()
	if len(frames) != 1 || frames[0].Type != frameError {
		t.Fatalf("expected single error frame, got %+v", frames)
	}
	if frames[0].Message != "无效的会话ID" {
		t.Fatalf("unexpected error message %q", frames[0].Message)
	}
	if h.recognizer.dialCount() != 0 {
		t.Fatal("recognizer should not be dialed for invalid session id")
	}
}

func TestRunRejectsUnknownUser(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.openID = "no-such-user"
	h.run("42")

	<-h.done

	frame, ok := h.conn.lastOfType(frameError)
	if !ok || frame.Message != "用户不存在" {
		t.Fatalf("expected user-not-found error frame, got %+v", h.conn.sent())
	}
	if h.recognizer.dialCount() != 0 {
		t.Fatal("recognizer should not be dialed for unknown user")
	}
}

func TestRunReportsRecognitionDialFailure(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.recognizer.dialErr = errors.New("dial timeout")
	h.run("42")

	<-h.done

	frame, ok := h.conn.lastOfType(frameError)
	if !ok || frame.Message != "创建语音识别连接失败" {
		t.Fatalf("expected dial failure frame, got %+v", h.conn.sent())
	}
}

func TestFullPipelineAfterSilence(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.run("42")

	waitFor(t, "session_started", func() bool {
		_, ok := h.conn.lastOfType(frameSessionStarted)
		return ok
	})
	if h.orch.Registry().Len() != 1 {
		t.Fatalf("expected one registered session, got %d", h.orch.Registry().Len())
	}

	h.conn.push(t, audioFrame([]byte{1, 2, 3, 4}))
	waitFor(t, "audio forwarded", func() bool { return h.recognizer.stream != nil && h.recognizer.stream.chunkCount() == 1 })

	h.recognizer.emit("今天天气很好")

	waitFor(t, "ai_audio_complete", func() bool {
		_, ok := h.conn.lastOfType(frameAIAudioComplete)
		return ok
	})

	// 帧序固定：回显 → 文字回复 → 音频 → 完成。
	want := []string{frameSessionStarted, frameUserSpeech, frameAIResponse, frameAIAudio, frameAIAudioComplete}
	got := h.conn.frameTypes()
	if len(got) != len(want) {
		t.Fatalf("expected frames %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d: expected %s, got %s (all: %v)", i, want[i], got[i], got)
		}
	}

	if frame, _ := h.conn.lastOfType(frameUserSpeech); frame.Text != "今天天气很好" {
		t.Fatalf("unexpected user speech %q", frame.Text)
	}
	if frame, _ := h.conn.lastOfType(frameAIResponse); frame.Text != "那天的天气给您留下了什么印象？" {
		t.Fatalf("unexpected reply %q", frame.Text)
	}
	if frame, _ := h.conn.lastOfType(frameAIAudio); frame.Audio != base64.StdEncoding.EncodeToString([]byte("mp3-bytes")) {
		t.Fatalf("unexpected audio payload %q", frame.Audio)
	}

	turns, err := h.store.RecentTurns(context.Background(), 42, 10)
	if err != nil {
		t.Fatalf("load turns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 persisted turns, got %d", len(turns))
	}
	if turns[0].Role != chat.RoleUser || turns[0].Content != "今天天气很好" {
		t.Fatalf("unexpected user turn %+v", turns[0])
	}
	if turns[1].Role != chat.RoleAssistant {
		t.Fatalf("unexpected assistant turn %+v", turns[1])
	}

	h.finish(t)

	if h.orch.Registry().Len() != 0 {
		t.Fatal("session should be deregistered after Run returns")
	}
	if !h.recognizer.stream.closed {
		t.Fatal("recognition stream should be closed on teardown")
	}
}

func TestRecognitionOverwriteKeepsLatestText(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.run("42")

	waitFor(t, "session_started", func() bool {
		_, ok := h.conn.lastOfType(frameSessionStarted)
		return ok
	})

	// 识别服务回传累计文本，后到的覆盖先到的。
	h.recognizer.emit("今天")
	h.recognizer.emit("今天天气")
	h.recognizer.emit("今天天气很好")

	waitFor(t, "user_speech", func() bool {
		_, ok := h.conn.lastOfType(frameUserSpeech)
		return ok
	})
	waitFor(t, "ai_response", func() bool {
		_, ok := h.conn.lastOfType(frameAIResponse)
		return ok
	})

	if h.conn.countOfType(frameUserSpeech) != 1 {
		t.Fatalf("expected single user_speech, got %d", h.conn.countOfType(frameUserSpeech))
	}
	if frame, _ := h.conn.lastOfType(frameUserSpeech); frame.Text != "今天天气很好" {
		t.Fatalf("expected latest accumulated text, got %q", frame.Text)
	}

	h.finish(t)
}

func TestGenerationFailureFallsBack(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.responder.err = errors.New("model unavailable")
	h.run("42")

	waitFor(t, "session_started", func() bool {
		_, ok := h.conn.lastOfType(frameSessionStarted)
		return ok
	})

	h.recognizer.emit("我小时候住在乡下")

	waitFor(t, "ai_response", func() bool {
		_, ok := h.conn.lastOfType(frameAIResponse)
		return ok
	})

	if frame, _ := h.conn.lastOfType(frameAIResponse); frame.Text != "嗯，我在听，您继续讲。" {
		t.Fatalf("expected fallback reply, got %q", frame.Text)
	}

	turns, err := h.store.RecentTurns(context.Background(), 42, 10)
	if err != nil {
		t.Fatalf("load turns: %v", err)
	}
	if len(turns) != 2 || turns[1].Content != "嗯，我在听，您继续讲。" {
		t.Fatalf("fallback reply should still be persisted, got %+v", turns)
	}

	h.finish(t)
}

func TestSynthesisFailureKeepsTextReply(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.synth.err = errors.New("tts unavailable")
	h.run("42")

	waitFor(t, "session_started", func() bool {
		_, ok := h.conn.lastOfType(frameSessionStarted)
		return ok
	})

	h.recognizer.emit("今天天气很好")

	waitFor(t, "ai_response", func() bool {
		_, ok := h.conn.lastOfType(frameAIResponse)
		return ok
	})

	// 合成失败不补发音频帧，也不影响已落库的轮次。
	time.Sleep(30 * time.Millisecond)
	if h.conn.countOfType(frameAIAudio) != 0 {
		t.Fatal("no ai_audio frame expected when synthesis fails")
	}
	if h.conn.countOfType(frameAIAudioComplete) != 0 {
		t.Fatal("no ai_audio_complete frame expected when synthesis fails")
	}

	turns, err := h.store.RecentTurns(context.Background(), 42, 10)
	if err != nil {
		t.Fatalf("load turns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 persisted turns, got %d", len(turns))
	}

	h.finish(t)
}

func TestStopSessionFlushesPendingText(t *testing.T) {
	h := newHarness(t, manualConfig())
	h.run("42")

	waitFor(t, "session_started", func() bool {
		_, ok := h.conn.lastOfType(frameSessionStarted)
		return ok
	})

	h.recognizer.emit("这是最后一句话")
	h.conn.push(t, clientFrame{Type: frameStop})

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop_session should terminate the session")
	}

	if h.conn.countOfType(frameUserSpeech) != 1 {
		t.Fatalf("expected exactly one user_speech, got %d", h.conn.countOfType(frameUserSpeech))
	}
	if frame, _ := h.conn.lastOfType(frameUserSpeech); frame.Text != "这是最后一句话" {
		t.Fatalf("final utterance lost, got %q", frame.Text)
	}

	turns, err := h.store.RecentTurns(context.Background(), 42, 10)
	if err != nil {
		t.Fatalf("load turns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected final utterance and reply persisted, got %d turns", len(turns))
	}
}

func TestStopSessionWithoutPendingText(t *testing.T) {
	h := newHarness(t, manualConfig())
	h.run("42")

	waitFor(t, "session_started", func() bool {
		_, ok := h.conn.lastOfType(frameSessionStarted)
		return ok
	})

	h.conn.push(t, clientFrame{Type: frameStop})

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop_session should terminate the session")
	}

	if h.conn.countOfType(frameUserSpeech) != 0 {
		t.Fatal("no pipeline expected without pending text")
	}
	turns, _ := h.store.RecentTurns(context.Background(), 42, 10)
	if len(turns) != 0 {
		t.Fatalf("no turns expected, got %d", len(turns))
	}
}

func TestInterruptAcknowledged(t *testing.T) {
	h := newHarness(t, manualConfig())
	h.run("42")

	waitFor(t, "session_started", func() bool {
		_, ok := h.conn.lastOfType(frameSessionStarted)
		return ok
	})

	h.conn.push(t, clientFrame{Type: frameInterrupt})

	waitFor(t, "interrupt_ack", func() bool {
		_, ok := h.conn.lastOfType(frameInterruptAck)
		return ok
	})

	if frame, _ := h.conn.lastOfType(frameInterruptAck); frame.Message != "已停止AI播放" {
		t.Fatalf("unexpected ack message %q", frame.Message)
	}

	h.finish(t)
}

func TestUnknownFrameIgnored(t *testing.T) {
	h := newHarness(t, manualConfig())
	h.run("42")

	waitFor(t, "session_started", func() bool {
		_, ok := h.conn.lastOfType(frameSessionStarted)
		return ok
	})

	h.conn.push(t, clientFrame{Type: "made_up_type"})
	h.conn.push(t, clientFrame{Type: frameInterrupt})

	waitFor(t, "interrupt_ack", func() bool {
		_, ok := h.conn.lastOfType(frameInterruptAck)
		return ok
	})

	h.finish(t)
}

func TestWriteFailureAbortsPipeline(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.run("42")

	waitFor(t, "session_started", func() bool {
		_, ok := h.conn.lastOfType(frameSessionStarted)
		return ok
	})

	// 客户端掉线后流水线应安静中止，不落库也不panic。
	h.conn.failWrites(errors.New("broken pipe"))
	h.recognizer.emit("今天天气很好")

	time.Sleep(50 * time.Millisecond)

	turns, _ := h.store.RecentTurns(context.Background(), 42, 10)
	if len(turns) != 0 {
		t.Fatalf("no turns expected after write failure, got %d", len(turns))
	}

	h.finish(t)
}

func TestRegistryCloseAllTearsDownSessions(t *testing.T) {
	h := newHarness(t, manualConfig())
	h.run("42")

	waitFor(t, "registered", func() bool { return h.orch.Registry().Len() == 1 })

	h.orch.Registry().CloseAll()

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("CloseAll should terminate the session")
	}

	if !h.recognizer.stream.closed {
		t.Fatal("recognition stream should be closed")
	}
}

func TestBadAudioFrameIgnored(t *testing.T) {
	h := newHarness(t, manualConfig())
	h.run("42")

	waitFor(t, "session_started", func() bool {
		_, ok := h.conn.lastOfType(frameSessionStarted)
		return ok
	})

	h.conn.push(t, clientFrame{Type: frameAudio, Audio: "!!!not-base64!!!"})
	h.conn.push(t, audioFrame([]byte{9, 9}))

	waitFor(t, "valid chunk forwarded", func() bool {
		return h.recognizer.stream != nil && h.recognizer.stream.chunkCount() == 1
	})

	h.finish(t)
}
