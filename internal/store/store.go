// Package store 提供用户、会话、对话记录与文章的持久化访问。
// 提供 Postgres 实现与用于本地开发/测试的进程内实现。
package store

import (
	"context"
	"errors"

	"github.com/echotalk/backend/internal/model/chat"
	"github.com/echotalk/backend/internal/model/memoir"
)

// ErrNotFound 表示请求的记录不存在。
var ErrNotFound = errors.New("store: record not found")

// Store 是存储层的统一入口。
type Store interface {
	// 用户
	UserByOpenID(ctx context.Context, openID string) (memoir.User, error)
	CreateUser(ctx context.Context, openID, nickname string) (memoir.User, error)

	// 会话
	CreateSession(ctx context.Context, userID int64) (memoir.Session, error)
	SessionByID(ctx context.Context, id int64) (memoir.Session, error)
	SessionsByUser(ctx context.Context, userID int64) ([]memoir.Session, error)
	CompleteSession(ctx context.Context, sessionID, articleID int64) error

	// 对话记录（只追加）
	AppendTurn(ctx context.Context, turn chat.Turn) error
	RecentTurns(ctx context.Context, sessionID int64, limit int) ([]chat.Turn, error)
	Transcript(ctx context.Context, sessionID int64) ([]chat.Turn, error)

	// 文章
	CreateArticle(ctx context.Context, article memoir.Article) (memoir.Article, error)
	ArticleByID(ctx context.Context, id int64) (memoir.Article, error)
	ArticlesByUser(ctx context.Context, userID int64) ([]memoir.Article, error)
	UpdateArticleContent(ctx context.Context, id int64, content string) error
}
