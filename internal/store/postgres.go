package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/echotalk/backend/internal/model/chat"
	"github.com/echotalk/backend/internal/model/memoir"
)

// PostgresStore 基于 pgx 连接池的存储实现。
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore 包装一个已建立的连接池。
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Connect 建立连接池并验证连通性。
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}
	return pool, nil
}

func (s *PostgresStore) UserByOpenID(ctx context.Context, openID string) (memoir.User, error) {
	var u memoir.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, open_id, nickname, created_at FROM users WHERE open_id = $1`,
		openID,
	).Scan(&u.ID, &u.OpenID, &u.Nickname, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return memoir.User{}, ErrNotFound
	}
	if err != nil {
		return memoir.User{}, fmt.Errorf("store: query user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, openID, nickname string) (memoir.User, error) {
	var u memoir.User
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (open_id, nickname) VALUES ($1, $2)
		 ON CONFLICT (open_id) DO UPDATE SET nickname = users.nickname
		 RETURNING id, open_id, nickname, created_at`,
		openID, nickname,
	).Scan(&u.ID, &u.OpenID, &u.Nickname, &u.CreatedAt)
	if err != nil {
		return memoir.User{}, fmt.Errorf("store: create user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, userID int64) (memoir.Session, error) {
	var sess memoir.Session
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sessions (user_id) VALUES ($1)
		 RETURNING id, user_id, start_time, status, article_id`,
		userID,
	).Scan(&sess.ID, &sess.UserID, &sess.StartTime, &sess.Status, &sess.ArticleID)
	if err != nil {
		return memoir.Session{}, fmt.Errorf("store: create session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) SessionByID(ctx context.Context, id int64) (memoir.Session, error) {
	var sess memoir.Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, start_time, status, article_id FROM sessions WHERE id = $1`,
		id,
	).Scan(&sess.ID, &sess.UserID, &sess.StartTime, &sess.Status, &sess.ArticleID)
	if errors.Is(err, pgx.ErrNoRows) {
		return memoir.Session{}, ErrNotFound
	}
	if err != nil {
		return memoir.Session{}, fmt.Errorf("store: query session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) SessionsByUser(ctx context.Context, userID int64) ([]memoir.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, start_time, status, article_id FROM sessions
		 WHERE user_id = $1 ORDER BY start_time DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []memoir.Session
	for rows.Next() {
		var sess memoir.Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.StartTime, &sess.Status, &sess.ArticleID); err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *PostgresStore) CompleteSession(ctx context.Context, sessionID, articleID int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET status = $1, article_id = $2 WHERE id = $3`,
		memoir.SessionCompleted, articleID, sessionID,
	)
	if err != nil {
		return fmt.Errorf("store: complete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, turn chat.Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_turns (id, user_id, session_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		turn.ID, turn.UserID, turn.SessionID, turn.Role, turn.Content, turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: append turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentTurns(ctx context.Context, sessionID int64, limit int) ([]chat.Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, session_id, role, content, created_at FROM chat_turns
		 WHERE session_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query recent turns: %w", err)
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}
	// 倒序取最近 N 条，再翻转为时间正序。
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (s *PostgresStore) Transcript(ctx context.Context, sessionID int64) ([]chat.Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, session_id, role, content, created_at FROM chat_turns
		 WHERE session_id = $1 ORDER BY created_at ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query transcript: %w", err)
	}
	defer rows.Close()

	return scanTurns(rows)
}

func scanTurns(rows pgx.Rows) ([]chat.Turn, error) {
	var turns []chat.Turn
	for rows.Next() {
		var t chat.Turn
		if err := rows.Scan(&t.ID, &t.UserID, &t.SessionID, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (s *PostgresStore) CreateArticle(ctx context.Context, article memoir.Article) (memoir.Article, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO articles (user_id, session_id, title, draft_content, final_content, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, create_time, update_time`,
		article.UserID, article.SessionID, article.Title,
		article.DraftContent, article.FinalContent, article.Status,
	).Scan(&article.ID, &article.CreateTime, &article.UpdateTime)
	if err != nil {
		return memoir.Article{}, fmt.Errorf("store: create article: %w", err)
	}
	return article, nil
}

func (s *PostgresStore) ArticleByID(ctx context.Context, id int64) (memoir.Article, error) {
	var a memoir.Article
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, session_id, title, draft_content, final_content, status, create_time, update_time
		 FROM articles WHERE id = $1`,
		id,
	).Scan(&a.ID, &a.UserID, &a.SessionID, &a.Title, &a.DraftContent, &a.FinalContent, &a.Status, &a.CreateTime, &a.UpdateTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return memoir.Article{}, ErrNotFound
	}
	if err != nil {
		return memoir.Article{}, fmt.Errorf("store: query article: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ArticlesByUser(ctx context.Context, userID int64) ([]memoir.Article, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, session_id, title, draft_content, final_content, status, create_time, update_time
		 FROM articles WHERE user_id = $1 ORDER BY create_time DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list articles: %w", err)
	}
	defer rows.Close()

	var articles []memoir.Article
	for rows.Next() {
		var a memoir.Article
		if err := rows.Scan(&a.ID, &a.UserID, &a.SessionID, &a.Title, &a.DraftContent, &a.FinalContent, &a.Status, &a.CreateTime, &a.UpdateTime); err != nil {
			return nil, fmt.Errorf("store: scan article: %w", err)
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

func (s *PostgresStore) UpdateArticleContent(ctx context.Context, id int64, content string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE articles SET final_content = $1, status = $2, update_time = now() WHERE id = $3`,
		content, memoir.ArticlePublished, id,
	)
	if err != nil {
		return fmt.Errorf("store: update article: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
