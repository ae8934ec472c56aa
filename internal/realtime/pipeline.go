package realtime

import (
	"context"
	"encoding/base64"
	"log"
	"strings"
	"time"

	"github.com/echotalk/backend/internal/model/chat"
)

// respond 对一句完整的用户话语执行响应流水线：
// 回显 user_speech → 落库 → 取历史 → 生成追问 → 落库 → ai_response →
// 合成 → ai_audio → ai_audio_complete。
//
// 同一会话的流水线由互斥锁串行化。落库/生成/合成使用独立于连接
// 的 context，会话收尾不会打断进行中的流水线。
func (s *session) respond(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	s.pipelineMu.Lock()
	defer s.pipelineMu.Unlock()

	o := s.o
	log.Printf("[realtime] session %d user said: %s", s.id, text)

	if err := s.send(textFrame(frameUserSpeech, text)); err != nil {
		return
	}

	if err := s.persistTurn(chat.RoleUser, text); err != nil {
		log.Printf("[realtime] session %d persist user turn failed: %v", s.id, err)
		o.metrics.PipelineFailure(context.Background(), "persist_user")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.CallTimeout)
	history, err := o.turns.RecentTurns(ctx, s.id, o.cfg.HistoryLimit)
	cancel()
	if err != nil {
		log.Printf("[realtime] session %d load history failed: %v", s.id, err)
		o.metrics.PipelineFailure(context.Background(), "history")
		return
	}

	reply := s.generateReply(history)

	if err := s.persistTurn(chat.RoleAssistant, reply); err != nil {
		log.Printf("[realtime] session %d persist assistant turn failed: %v", s.id, err)
		o.metrics.PipelineFailure(context.Background(), "persist_assistant")
		return
	}

	if err := s.send(textFrame(frameAIResponse, reply)); err != nil {
		return
	}
	o.metrics.TurnCompleted(context.Background())

	// 合成失败只记日志：文字回复已经送达，轮次依然成立。
	s.synthesizeAndSend(reply)
}

// generateReply 调用大模型生成追问，失败或为空时退回兜底回复。
func (s *session) generateReply(history []chat.Turn) string {
	o := s.o

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	reply, err := o.responder.GenerateFollowup(ctx, history)
	o.metrics.ObserveGeneration(context.Background(), time.Since(start).Seconds())

	if err != nil {
		log.Printf("[realtime] session %d followup generation failed: %v", s.id, err)
		o.metrics.PipelineFailure(context.Background(), "generate")
		return o.cfg.FallbackReply
	}
	if strings.TrimSpace(reply) == "" {
		log.Printf("[realtime] session %d followup generation returned empty reply", s.id)
		return o.cfg.FallbackReply
	}
	return reply
}

// synthesizeAndSend 合成语音并以 base64 下发，最后发送完成帧。
func (s *session) synthesizeAndSend(reply string) {
	o := s.o

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	audio, err := o.synth.Synthesize(ctx, s.idStr, reply)
	o.metrics.ObserveSynthesis(context.Background(), time.Since(start).Seconds())

	if err != nil {
		log.Printf("[TTS] session %d synthesis failed: %v", s.id, err)
		o.metrics.PipelineFailure(context.Background(), "synthesize")
		return
	}

	if err := s.send(serverFrame{
		Type:  frameAIAudio,
		Audio: base64.StdEncoding.EncodeToString(audio),
	}); err != nil {
		return
	}
	_ = s.send(infoFrame(frameAIAudioComplete, "语音合成完成"))
}

func (s *session) persistTurn(role, content string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.o.cfg.CallTimeout)
	defer cancel()

	return s.o.turns.AppendTurn(ctx, chat.Turn{
		UserID:    s.userID,
		SessionID: s.id,
		Role:      role,
		Content:   content,
	})
}
