package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	speechmodel "github.com/echotalk/backend/internal/model/speech"
)

// ASR WebSocket 端点。
const (
	asrStreamURL  = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel"
	asrBatchURL   = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"
	asrChunkSize  = 6400 // 16kHz 16bit 单声道 200ms
	asrChunkDelay = 200 * time.Millisecond
)

// VolcengineASRClient 火山引擎ASR WebSocket客户端（一次性识别）
type VolcengineASRClient struct {
	config *speechmodel.SpeechConfig
	dialer *websocket.Dialer
}

// NewVolcengineASRClient 创建火山引擎ASR客户端
func NewVolcengineASRClient(config *speechmodel.SpeechConfig) *VolcengineASRClient {
	return &VolcengineASRClient{
		config: config,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
		},
	}
}

// asrRequest 火山引擎ASR请求结构（按文档格式）
type asrRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user,omitempty"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

// asrServerMessage 服务端识别结果的JSON载荷
type asrServerMessage struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string `json:"text"`
		Utterances []struct {
			Text      string `json:"text"`
			StartTime int64  `json:"start_time"`
			EndTime   int64  `json:"end_time"`
			Definite  bool   `json:"definite"`
		} `json:"utterances,omitempty"`
	} `json:"result,omitempty"`
	AudioInfo struct {
		Duration int64 `json:"duration"`
	} `json:"audio_info,omitempty"`
}

// transcript 提取本包的累计识别文本，没有结果时返回空串。
func (m *asrServerMessage) transcript() string {
	if m.Result.Text != "" {
		return m.Result.Text
	}
	if len(m.Result.Utterances) == 0 {
		return ""
	}
	var builder strings.Builder
	for _, u := range m.Result.Utterances {
		if builder.Len() > 0 {
			builder.WriteString(" ")
		}
		builder.WriteString(u.Text)
	}
	return builder.String()
}

// dialASR 建立握手完成的ASR连接。
func (c *VolcengineASRClient) dialASR(ctx context.Context, wsURL, connectID string) (*websocket.Conn, error) {
	appID, token, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	header.Set("X-Api-Resource-Id", asrResourceID(c.config.ConcurrentMode))
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ASR WebSocket: %w", err)
	}

	if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
		log.Printf("[ASR] connected, logid=%s", logid)
	}
	return conn, nil
}

// buildASRRequest 构建符合火山引擎API格式的识别参数。
func (c *VolcengineASRClient) buildASRRequest(sessionID, format, language string) *asrRequest {
	req := &asrRequest{}
	req.User.UID = sessionID

	req.Audio.Format = format
	if req.Audio.Format == "" {
		req.Audio.Format = "wav"
	}
	req.Audio.Language = language
	if req.Audio.Language == "" {
		req.Audio.Language = c.config.ASRLanguage
	}
	req.Audio.Codec = "raw"
	req.Audio.Rate = 16000
	req.Audio.Bits = 16
	req.Audio.Channel = 1

	req.Request.ModelName = "bigmodel"
	req.Request.EnableITN = true
	req.Request.EnablePunc = true
	req.Request.ShowUtterances = true
	req.Request.ResultType = "full"
	req.Request.EndWindowSize = 800

	return req
}

// sendFullClientRequest 发送识别参数包（序号1）。
func sendFullClientRequest(conn *websocket.Conn, req *asrRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal ASR request: %w", err)
	}

	compressed, err := CompressPayload(payload, GzipCompression)
	if err != nil {
		return fmt.Errorf("failed to compress payload: %w", err)
	}

	raw, err := EncodeMessage(CreateFullClientRequest(compressed, GzipCompression))
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
		return fmt.Errorf("failed to send ASR request: %w", err)
	}
	return nil
}

// encodeAudioChunk 组装一个音频数据包。
func encodeAudioChunk(chunk []byte, sequence int32, isLast bool) ([]byte, error) {
	compressed, err := CompressPayload(chunk, GzipCompression)
	if err != nil {
		return nil, fmt.Errorf("failed to compress audio chunk: %w", err)
	}
	raw, err := EncodeMessage(CreateAudioOnlyRequest(compressed, sequence, isLast, GzipCompression))
	if err != nil {
		return nil, fmt.Errorf("failed to encode audio message: %w", err)
	}
	return raw, nil
}

// TranscribeAudioWS 一次性识别整段音频（HTTP上传场景）。
// 发送与接收并发进行，服务端提前报错时立即停止发送。
func (c *VolcengineASRClient) TranscribeAudioWS(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	audioData, err := io.ReadAll(req.AudioData)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}
	if len(audioData) == 0 {
		return nil, fmt.Errorf("no audio data to send")
	}

	conn, err := c.dialASR(ctx, asrBatchURL, req.SessionID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := sendFullClientRequest(conn, c.buildASRRequest(req.SessionID, req.Format, req.Language)); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var result *speechmodel.ASRResponse

	g, gctx := errgroup.WithContext(ctx)

	// 接收协程：拿到最终结果后取消发送协程。
	g.Go(func() error {
		resp, err := c.receiveASRResults(gctx, conn, req.SessionID)
		if err != nil {
			return err
		}
		result = resp
		cancel()
		return nil
	})

	// 发送协程：按 200ms 一包模拟实时音频流。
	g.Go(func() error {
		sequence := int32(2) // FullClientRequest 占用序号1，音频从2开始
		for i := 0; i < len(audioData); i += asrChunkSize {
			end := i + asrChunkSize
			if end > len(audioData) {
				end = len(audioData)
			}
			isLast := end >= len(audioData)

			raw, err := encodeAudioChunk(audioData[i:end], sequence, isLast)
			if err != nil {
				return err
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
				return fmt.Errorf("failed to send audio chunk: %w", err)
			}
			sequence++

			if isLast {
				return nil
			}

			select {
			case <-gctx.Done():
				// 接收端已经结束（成功或失败），停止发送即可。
				return nil
			case <-time.After(asrChunkDelay):
			}
		}
		return nil
	})

	err = g.Wait()
	if result != nil {
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("ASR stream closed without result")
}

// receiveASRResults 消费服务端响应直到最后一包。
func (c *VolcengineASRClient) receiveASRResults(ctx context.Context, conn *websocket.Conn, sessionID string) (*speechmodel.ASRResponse, error) {
	var (
		finalText string
		duration  int64
	)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read ASR response: %w", err)
		}

		msg, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode ASR message: %w", err)
		}

		switch msg.Header.MessageType {
		case ErrorMessage:
			payload, err := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if err != nil {
				return nil, fmt.Errorf("ASR error message decode failed: %w", err)
			}
			return nil, fmt.Errorf("ASR error: %s", string(payload))

		case FullServerResponse:
			payload, err := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if err != nil {
				return nil, fmt.Errorf("failed to decompress ASR payload: %w", err)
			}

			var serverResp asrServerMessage
			if err := json.Unmarshal(payload, &serverResp); err != nil {
				log.Printf("[ASR] failed to unmarshal response: %v", err)
				continue
			}

			if serverResp.Code != 0 && serverResp.Code != 20000000 {
				return nil, fmt.Errorf("ASR API error %d: %s", serverResp.Code, serverResp.Message)
			}

			if text := serverResp.transcript(); text != "" {
				finalText = text
			}
			if serverResp.AudioInfo.Duration > 0 {
				duration = serverResp.AudioInfo.Duration
			}

			if msg.IsLastPacket() || serverResp.Sequence < 0 {
				if finalText == "" {
					log.Printf("[ASR] empty transcript for session %s", sessionID)
				}
				return &speechmodel.ASRResponse{
					SessionID:  sessionID,
					Text:       finalText,
					Confidence: estimateASRConfidence(finalText),
					Duration:   duration,
					RequestID:  sessionID,
					CreatedAt:  time.Now(),
				}, nil
			}

		default:
			// 其他类型（如音频ACK）直接忽略
		}
	}
}

func estimateASRConfidence(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return 0.95
}
