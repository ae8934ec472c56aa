package realtime

import "log"

// acknowledgeInterrupt 处理客户端打断：停止播放由客户端侧完成，
// 服务端仅确认收到，不取消进行中的流水线。
func (s *session) acknowledgeInterrupt() {
	log.Printf("[realtime] session %d user interrupt", s.id)
	_ = s.send(infoFrame(frameInterruptAck, "已停止AI播放"))
}
