package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/echotalk/backend/internal/model/chat"
	"github.com/echotalk/backend/internal/model/memoir"
)

// MemoryStore 是进程内存储实现，服务重启即丢失。
// 用于未配置 DATABASE_URL 的本地开发以及单元测试。
type MemoryStore struct {
	mu sync.RWMutex

	users    map[int64]memoir.User
	byOpenID map[string]int64
	sessions map[int64]memoir.Session
	turns    map[int64][]chat.Turn // sessionID -> 追加顺序
	articles map[int64]memoir.Article

	nextUserID    int64
	nextSessionID int64
	nextArticleID int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建空的进程内存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[int64]memoir.User),
		byOpenID: make(map[string]int64),
		sessions: make(map[int64]memoir.Session),
		turns:    make(map[int64][]chat.Turn),
		articles: make(map[int64]memoir.Article),
	}
}

// UserByOpenID 根据外部标识查找用户。
func (s *MemoryStore) UserByOpenID(_ context.Context, openID string) (memoir.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byOpenID[openID]
	if !ok {
		return memoir.User{}, ErrNotFound
	}
	return s.users[id], nil
}

// CreateUser 注册一个新用户，open_id 必须唯一。
func (s *MemoryStore) CreateUser(_ context.Context, openID, nickname string) (memoir.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byOpenID[openID]; ok {
		return s.users[id], nil
	}

	s.nextUserID++
	user := memoir.User{
		ID:        s.nextUserID,
		OpenID:    openID,
		Nickname:  nickname,
		CreatedAt: time.Now(),
	}
	s.users[user.ID] = user
	s.byOpenID[openID] = user.ID
	return user, nil
}

// CreateSession 为用户开启一次新的回忆会话。
func (s *MemoryStore) CreateSession(_ context.Context, userID int64) (memoir.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return memoir.Session{}, ErrNotFound
	}

	s.nextSessionID++
	session := memoir.Session{
		ID:        s.nextSessionID,
		UserID:    userID,
		StartTime: time.Now(),
		Status:    memoir.SessionActive,
	}
	s.sessions[session.ID] = session
	return session, nil
}

// SessionByID 查找会话。
func (s *MemoryStore) SessionByID(_ context.Context, id int64) (memoir.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return memoir.Session{}, ErrNotFound
	}
	return session, nil
}

// SessionsByUser 返回用户的全部会话，按开始时间倒序。
func (s *MemoryStore) SessionsByUser(_ context.Context, userID int64) ([]memoir.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sessions []memoir.Session
	for _, session := range s.sessions {
		if session.UserID == userID {
			sessions = append(sessions, session)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].StartTime.Equal(sessions[j].StartTime) {
			return sessions[i].ID > sessions[j].ID
		}
		return sessions[i].StartTime.After(sessions[j].StartTime)
	})
	return sessions, nil
}

// CompleteSession 标记会话已生成文章。
func (s *MemoryStore) CompleteSession(_ context.Context, sessionID, articleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	session.Status = memoir.SessionCompleted
	session.ArticleID = &articleID
	s.sessions[sessionID] = session
	return nil
}

// AppendTurn 追加一条对话记录。ID 为空时自动分配。
func (s *MemoryStore) AppendTurn(_ context.Context, turn chat.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	s.turns[turn.SessionID] = append(s.turns[turn.SessionID], turn)
	return nil
}

// RecentTurns 返回会话最近 limit 条记录，按时间正序（最旧在前）。
func (s *MemoryStore) RecentTurns(_ context.Context, sessionID int64, limit int) ([]chat.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.turns[sessionID]
	start := 0
	if limit > 0 && len(all) > limit {
		start = len(all) - limit
	}

	result := make([]chat.Turn, len(all)-start)
	copy(result, all[start:])
	return result, nil
}

// Transcript 返回会话的完整记录，按时间正序。
func (s *MemoryStore) Transcript(_ context.Context, sessionID int64) ([]chat.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.turns[sessionID]
	result := make([]chat.Turn, len(all))
	copy(result, all)
	return result, nil
}

// CreateArticle 保存一篇生成的文章。
func (s *MemoryStore) CreateArticle(_ context.Context, article memoir.Article) (memoir.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextArticleID++
	article.ID = s.nextArticleID
	now := time.Now()
	article.CreateTime = now
	article.UpdateTime = now
	s.articles[article.ID] = article
	return article, nil
}

// ArticleByID 查找文章。
func (s *MemoryStore) ArticleByID(_ context.Context, id int64) (memoir.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	article, ok := s.articles[id]
	if !ok {
		return memoir.Article{}, ErrNotFound
	}
	return article, nil
}

// ArticlesByUser 返回用户的全部文章，按创建时间倒序。
func (s *MemoryStore) ArticlesByUser(_ context.Context, userID int64) ([]memoir.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var articles []memoir.Article
	for _, article := range s.articles {
		if article.UserID == userID {
			articles = append(articles, article)
		}
	}
	sort.Slice(articles, func(i, j int) bool {
		if articles[i].CreateTime.Equal(articles[j].CreateTime) {
			return articles[i].ID > articles[j].ID
		}
		return articles[i].CreateTime.After(articles[j].CreateTime)
	})
	return articles, nil
}

// UpdateArticleContent 更新文章的最终内容并置为已发布。
func (s *MemoryStore) UpdateArticleContent(_ context.Context, id int64, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	article, ok := s.articles[id]
	if !ok {
		return ErrNotFound
	}
	article.FinalContent = content
	article.Status = memoir.ArticlePublished
	article.UpdateTime = time.Now()
	s.articles[id] = article
	return nil
}
