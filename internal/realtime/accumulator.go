package realtime

import (
	"sync"
	"time"
)

// accumulator 汇聚一句话的识别文本。
// 识别服务回传的是累计文本，所以 setText 直接覆盖；
// 每个音频帧和每次识别更新都会刷新活动时间，静默判定以此为准。
type accumulator struct {
	mu           sync.Mutex
	pendingText  string
	lastActivity time.Time
}

// setText 覆盖当前待处理文本并刷新活动时间。
func (a *accumulator) setText(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pendingText = text
	a.lastActivity = time.Now()
}

// touch 仅刷新活动时间（收到音频帧时调用）。
func (a *accumulator) touch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastActivity = time.Now()
}

// drain 原子地取走并清空待处理文本。
// 同一段文本只会被一个调用者取到。
func (a *accumulator) drain() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pendingText == "" {
		return "", false
	}
	text := a.pendingText
	a.pendingText = ""
	return text, true
}

// drainIfSilent 在静默超过 threshold 时原子地取走待处理文本。
func (a *accumulator) drainIfSilent(threshold time.Duration) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pendingText == "" {
		return "", false
	}
	if time.Since(a.lastActivity) < threshold {
		return "", false
	}
	text := a.pendingText
	a.pendingText = ""
	return text, true
}
