package realtime

import "time"

// watchSilence 轮询检测说话结束：有待处理文本且静默超过阈值时，
// 原子取走文本并异步触发响应流水线。会话终止后退出。
func (s *session) watchSilence() {
	ticker := time.NewTicker(s.o.cfg.PollInterval)
	defer ticker.Stop()

	for range ticker.C {
		if !s.running.Load() {
			return
		}
		if text, ok := s.acc.drainIfSilent(s.o.cfg.SilenceThreshold); ok {
			go s.respond(text)
		}
	}
}
