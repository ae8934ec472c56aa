package memoir

import "time"

// User 是通过外部 open_id 识别的讲述者。
type User struct {
	ID        int64     `json:"id"`
	OpenID    string    `json:"openId"`
	Nickname  string    `json:"nickname"`
	CreatedAt time.Time `json:"createdAt"`
}
