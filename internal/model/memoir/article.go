package memoir

import "time"

// 文章状态。
const (
	ArticleDraft     = 0
	ArticlePublished = 1
)

// Article 是由一次会话的对话记录生成的回忆录文章。
// DraftContent 保留 AI 的原始产出，FinalContent 为用户编辑后的版本。
type Article struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"userId"`
	SessionID    int64     `json:"sessionId"`
	Title        string    `json:"title"`
	DraftContent string    `json:"draftContent"`
	FinalContent string    `json:"finalContent"`
	Status       int       `json:"status"`
	CreateTime   time.Time `json:"createTime"`
	UpdateTime   time.Time `json:"updateTime"`
}
