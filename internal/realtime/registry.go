package realtime

import "sync"

// Registry 跟踪进程内活跃的实时会话，仅服务于优雅停机与指标；
// 会话间不共享任何业务状态。
type Registry struct {
	mu       sync.Mutex
	sessions map[*session]struct{}
}

// NewRegistry 创建空的会话注册表。
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[*session]struct{})}
}

func (r *Registry) add(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s] = struct{}{}
}

func (r *Registry) remove(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, s)
}

// Len 返回当前活跃会话数。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll 停机时终止所有活跃会话并断开客户端连接。
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*session, 0, len(r.sessions))
	for s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.teardown()
		_ = s.conn.Close()
	}
}
