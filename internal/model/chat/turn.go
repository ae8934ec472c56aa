package chat

import "time"

// 对话角色。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn 是会话中的一条角色消息，追加后不再修改。
type Turn struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"userId"`
	SessionID int64     `json:"sessionId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
