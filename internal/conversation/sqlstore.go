package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/cjdem/grok2api/internal/migrations"
)

// SQLStore implements Store on top of database/sql. The same implementation
// serves SQLite and PostgreSQL; queries are written with ? placeholders and
// rebound for the postgres wire protocol.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLite opens (creating if needed) a SQLite-backed store at path and
// applies migrations. The parent directory is created on demand.
func NewSQLite(path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serialises writers; a single connection avoids busy errors.
	db.SetMaxOpenConns(1)

	if err := migrations.SQLiteUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{db: db, driver: "sqlite"}, nil
}

// NewPostgres opens a PostgreSQL-backed store and applies migrations.
func NewPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := migrations.PostgresUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{db: db, driver: "postgres"}, nil
}

// rebind rewrites ? placeholders into $1..$n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const recordColumns = `scope, openai_conversation_id, grok_conversation_id,
	last_response_id, share_link_id, token, history_hash,
	created_at, updated_at, expires_at`

func scanRecord(row *sql.Row) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.Scope, &rec.OpenAIConversationID, &rec.GrokConversationID,
		&rec.LastResponseID, &rec.ShareLinkID, &rec.Token, &rec.HistoryHash,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLStore) Upsert(ctx context.Context, rec *Record) error {
	query := s.rebind(`INSERT INTO conversations (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (scope, openai_conversation_id) DO UPDATE SET
			grok_conversation_id = excluded.grok_conversation_id,
			last_response_id = excluded.last_response_id,
			share_link_id = excluded.share_link_id,
			token = excluded.token,
			history_hash = excluded.history_hash,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`)
	_, err := s.db.ExecContext(ctx, query,
		rec.Scope, rec.OpenAIConversationID, rec.GrokConversationID,
		rec.LastResponseID, rec.ShareLinkID, rec.Token, rec.HistoryHash,
		rec.CreatedAt, rec.UpdatedAt, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

func (s *SQLStore) GetByID(ctx context.Context, scope, id string, now time.Time) (*Record, error) {
	query := s.rebind(`SELECT ` + recordColumns + ` FROM conversations
		WHERE scope = ? AND openai_conversation_id = ?`)
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, scope, id))
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if rec == nil {
		return nil, nil
	}
	if rec.Expired(now) {
		if err := s.DeleteByID(ctx, scope, id); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return rec, nil
}

func (s *SQLStore) FindByHistoryHash(ctx context.Context, scope, hash string, now time.Time) (*Record, error) {
	purge := s.rebind(`DELETE FROM conversations
		WHERE scope = ? AND expires_at > 0 AND expires_at <= ?`)
	if _, err := s.db.ExecContext(ctx, purge, scope, now.UnixMilli()); err != nil {
		return nil, fmt.Errorf("purge expired: %w", err)
	}

	query := s.rebind(`SELECT ` + recordColumns + ` FROM conversations
		WHERE scope = ? AND history_hash = ?
		ORDER BY updated_at DESC LIMIT 1`)
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, scope, hash))
	if err != nil {
		return nil, fmt.Errorf("find by history hash: %w", err)
	}
	return rec, nil
}

func (s *SQLStore) DeleteByID(ctx context.Context, scope, id string) error {
	query := s.rebind(`DELETE FROM conversations
		WHERE scope = ? AND openai_conversation_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, scope, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

func (s *SQLStore) CleanupExpired(ctx context.Context, limit int, now time.Time) (int, error) {
	limit = clampCleanupLimit(limit)
	query := s.rebind(`SELECT scope, openai_conversation_id FROM conversations
		WHERE expires_at > 0 AND expires_at <= ?
		ORDER BY expires_at ASC LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, now.UnixMilli(), limit)
	if err != nil {
		return 0, fmt.Errorf("select expired: %w", err)
	}
	type key struct{ scope, id string }
	var keys []key
	for rows.Next() {
		var k key
		if err := rows.Scan(&k.scope, &k.id); err != nil {
			rows.Close()
			return 0, err
		}
		keys = append(keys, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	removed := 0
	del := s.rebind(`DELETE FROM conversations
		WHERE scope = ? AND openai_conversation_id = ?`)
	for _, k := range keys {
		res, err := s.db.ExecContext(ctx, del, k.scope, k.id)
		if err != nil {
			return removed, fmt.Errorf("delete expired: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			removed++
		}
	}
	return removed, nil
}

func (s *SQLStore) TrimForToken(ctx context.Context, scope, token string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	query := s.rebind(`SELECT openai_conversation_id FROM conversations
		WHERE scope = ? AND token = ?
		ORDER BY updated_at DESC`)
	rows, err := s.db.QueryContext(ctx, query, scope, token)
	if err != nil {
		return 0, fmt.Errorf("select for trim: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if len(ids) <= keep {
		return 0, nil
	}
	removed := 0
	for _, id := range ids[keep:] {
		if err := s.DeleteByID(ctx, scope, id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *SQLStore) Stats(ctx context.Context, topN int, now time.Time) (Stats, error) {
	var st Stats
	nowMS := now.UnixMilli()

	active := s.rebind(`SELECT COUNT(*) FROM conversations
		WHERE expires_at = 0 OR expires_at > ?`)
	if err := s.db.QueryRowContext(ctx, active, nowMS).Scan(&st.ActiveTotal); err != nil {
		return st, fmt.Errorf("count active: %w", err)
	}
	expired := s.rebind(`SELECT COUNT(*) FROM conversations
		WHERE expires_at > 0 AND expires_at <= ?`)
	if err := s.db.QueryRowContext(ctx, expired, nowMS).Scan(&st.ExpiredTotal); err != nil {
		return st, fmt.Errorf("count expired: %w", err)
	}

	if topN <= 0 {
		return st, nil
	}
	top := s.rebind(`SELECT token, COUNT(*) AS cnt FROM conversations
		WHERE token != '' AND (expires_at = 0 OR expires_at > ?)
		GROUP BY token ORDER BY cnt DESC LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, top, nowMS, topN)
	if err != nil {
		return st, fmt.Errorf("top tokens: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var token string
		var count int
		if err := rows.Scan(&token, &count); err != nil {
			return st, err
		}
		st.TopTokens = append(st.TopTokens, TokenCount{TokenSuffix: tokenSuffix(token), Count: count})
	}
	return st, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
