package realtime

// 客户端到服务端的帧类型。
const (
	frameAudio     = "audio_frame"
	frameStop      = "stop_session"
	frameInterrupt = "user_interrupt"
)

// 服务端到客户端的帧类型。
const (
	frameSessionStarted  = "session_started"
	frameUserSpeech      = "user_speech"
	frameAIResponse      = "ai_response"
	frameAIAudio         = "ai_audio"
	frameAIAudioComplete = "ai_audio_complete"
	frameInterruptAck    = "interrupt_ack"
	frameError           = "error"
)

// clientFrame 客户端发来的JSON帧。
type clientFrame struct {
	Type  string `json:"type"`
	Audio string `json:"audio,omitempty"` // base64 PCM，仅 audio_frame 使用
}

// serverFrame 服务端下发的JSON帧。
type serverFrame struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Text    string `json:"text,omitempty"`
	Audio   string `json:"audio,omitempty"` // base64 音频，仅 ai_audio 使用
}

func infoFrame(frameType, message string) serverFrame {
	return serverFrame{Type: frameType, Message: message}
}

func textFrame(frameType, text string) serverFrame {
	return serverFrame{Type: frameType, Text: text}
}

func errorFrame(message string) serverFrame {
	return serverFrame{Type: frameError, Message: message}
}
