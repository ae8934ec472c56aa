package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// ASRStream 是覆盖一次实时会话生命周期的识别长连接。
// 客户端音频帧通过 SendAudio 透传给识别服务，识别出的累计文本
// 通过 onSentence 回调上抛。回调在内部读协程里执行。
type ASRStream struct {
	conn      *websocket.Conn
	sessionID string

	writeMu sync.Mutex
	seq     int32

	closed    atomic.Bool
	closeOnce sync.Once
}

// OpenStream 建立流式识别连接并启动读协程。
// 音频参数固定为 raw PCM 16kHz 16bit 单声道（客户端按此采集）。
func (c *VolcengineASRClient) OpenStream(ctx context.Context, sessionID string, onSentence func(text string)) (*ASRStream, error) {
	conn, err := c.dialASR(ctx, asrStreamURL, sessionID)
	if err != nil {
		return nil, err
	}

	req := c.buildASRRequest(sessionID, "pcm", "")
	if err := sendFullClientRequest(conn, req); err != nil {
		conn.Close()
		return nil, err
	}

	stream := &ASRStream{
		conn:      conn,
		sessionID: sessionID,
		seq:       1, // FullClientRequest 占用序号1
	}

	go stream.readLoop(onSentence)
	return stream, nil
}

// SendAudio 发送一帧音频。连接关闭后返回错误。
func (s *ASRStream) SendAudio(chunk []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("ASR stream for session %s is closed", s.sessionID)
	}
	if len(chunk) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.seq++
	raw, err := encodeAudioChunk(chunk, s.seq, false)
	if err != nil {
		return err
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
		return fmt.Errorf("failed to send audio chunk: %w", err)
	}
	return nil
}

// Close 幂等关闭：尽力发送负序号结束包，然后断开连接。
func (s *ASRStream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		s.writeMu.Lock()
		s.seq++
		if raw, err := encodeAudioChunk(nil, s.seq, true); err == nil {
			if err := s.conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
				log.Printf("[ASR] session %s final packet write failed: %v", s.sessionID, err)
			}
		}
		s.writeMu.Unlock()

		if err := s.conn.Close(); err != nil {
			log.Printf("[ASR] session %s close failed: %v", s.sessionID, err)
		}
	})
	return nil
}

// readLoop 持续消费识别结果直到连接关闭。
// 读取失败只记日志并退出，识别通道静默，不影响会话其余部分。
func (s *ASRStream) readLoop(onSentence func(text string)) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() {
				log.Printf("[ASR] session %s read loop ended: %v", s.sessionID, err)
			}
			return
		}

		msg, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			log.Printf("[ASR] session %s decode failed: %v", s.sessionID, err)
			continue
		}

		switch msg.Header.MessageType {
		case ErrorMessage:
			payload, derr := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if derr != nil {
				log.Printf("[ASR] session %s error message decode failed: %v", s.sessionID, derr)
			} else {
				log.Printf("[ASR] session %s server error: %s", s.sessionID, string(payload))
			}
			return

		case FullServerResponse:
			payload, derr := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if derr != nil {
				log.Printf("[ASR] session %s decompress failed: %v", s.sessionID, derr)
				continue
			}

			var serverResp asrServerMessage
			if err := json.Unmarshal(payload, &serverResp); err != nil {
				log.Printf("[ASR] session %s unmarshal failed: %v", s.sessionID, err)
				continue
			}

			if serverResp.Code != 0 && serverResp.Code != 20000000 {
				log.Printf("[ASR] session %s API error %d: %s", s.sessionID, serverResp.Code, serverResp.Message)
				continue
			}

			if text := serverResp.transcript(); text != "" {
				onSentence(text)
			}

		default:
			// 音频ACK等消息忽略
		}
	}
}
