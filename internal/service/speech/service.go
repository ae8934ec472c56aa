// Package speech 封装火山引擎语音识别与合成客户端，对外提供
// 一次性识别/合成和覆盖整个实时会话的流式识别。
package speech

import (
	"bytes"
	"context"

	speechmodel "github.com/echotalk/backend/internal/model/speech"
)

// Service 语音服务核心业务逻辑
type Service struct {
	config    *speechmodel.SpeechConfig
	ttsClient *VolcengineTTSClient
	asrClient *VolcengineASRClient
}

// NewService 创建语音服务实例
func NewService(config *speechmodel.SpeechConfig) *Service {
	return &Service{
		config:    config,
		ttsClient: NewVolcengineTTSClient(config),
		asrClient: NewVolcengineASRClient(config),
	}
}

// TranscribeAudio 一次性语音转文字
func (s *Service) TranscribeAudio(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	return s.asrClient.TranscribeAudioWS(ctx, req)
}

// SynthesizeSpeech 文字转语音
func (s *Service) SynthesizeSpeech(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	return s.ttsClient.SynthesizeSpeechWS(ctx, req)
}

// TranscribeBuffer 语音转文字（字节数组入口）
func (s *Service) TranscribeBuffer(ctx context.Context, sessionID string, audioData []byte, format, language string) (*speechmodel.ASRResponse, error) {
	req := &speechmodel.ASRRequest{
		SessionID: sessionID,
		AudioData: bytes.NewReader(audioData),
		Format:    format,
		Language:  language,
	}
	return s.TranscribeAudio(ctx, req)
}

// OpenStream 为一次实时会话建立流式识别长连接。
// 识别出的累计文本通过 onSentence 回调上抛。
func (s *Service) OpenStream(ctx context.Context, sessionID string, onSentence func(text string)) (*ASRStream, error) {
	return s.asrClient.OpenStream(ctx, sessionID, onSentence)
}

// Synthesize 合成一段文本并返回音频字节（实时会话使用）。
func (s *Service) Synthesize(ctx context.Context, sessionID, text string) ([]byte, error) {
	resp, err := s.SynthesizeSpeech(ctx, &speechmodel.TTSRequest{
		SessionID: sessionID,
		Text:      text,
	})
	if err != nil {
		return nil, err
	}
	return resp.AudioData, nil
}
