package memoir

import "time"

// 会话状态。
const (
	SessionActive    = 0
	SessionCompleted = 1
)

// Session 是一次完整的回忆对话，结束后可以生成一篇文章。
type Session struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	StartTime time.Time `json:"startTime"`
	Status    int       `json:"status"`
	ArticleID *int64    `json:"articleId,omitempty"`
}
