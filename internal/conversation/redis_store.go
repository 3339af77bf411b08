package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis. Records are JSON values under
// <prefix>conv:<scope>:<id>; lookups that need more than the primary key
// scan the scope's key range, which stays small because of TTLs and
// per-token trimming.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(addr, password string, db int, prefix string) (*RedisStore, error) {
	if prefix == "" {
		prefix = "grok2api:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

// NewRedisWithClient wraps an existing client. Used by tests.
func NewRedisWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "grok2api:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(scope, id string) string {
	return r.prefix + "conv:" + scope + ":" + id
}

func (r *RedisStore) scopePattern(scope string) string {
	return r.prefix + "conv:" + scope + ":*"
}

func (r *RedisStore) Upsert(ctx context.Context, rec *Record) error {
	stored := *rec
	if existing, err := r.rawGet(ctx, rec.Scope, rec.OpenAIConversationID); err != nil {
		return err
	} else if existing != nil {
		stored.CreatedAt = existing.CreatedAt
	}

	payload, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	var ttl time.Duration
	if stored.ExpiresAt > 0 {
		ttl = time.Until(time.UnixMilli(stored.ExpiresAt))
		if ttl <= 0 {
			ttl = time.Millisecond
		}
	}
	if err := r.client.Set(ctx, r.key(stored.Scope, stored.OpenAIConversationID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("store conversation: %w", err)
	}
	return nil
}

func (r *RedisStore) rawGet(ctx context.Context, scope, id string) (*Record, error) {
	data, err := r.client.Get(ctx, r.key(scope, id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return &rec, nil
}

func (r *RedisStore) GetByID(ctx context.Context, scope, id string, now time.Time) (*Record, error) {
	rec, err := r.rawGet(ctx, scope, id)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.Expired(now) {
		if err := r.DeleteByID(ctx, scope, id); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return rec, nil
}

// scanScope loads every record in the scope, deleting expired ones on the
// way.
func (r *RedisStore) scanScope(ctx context.Context, scope string, now time.Time) ([]*Record, error) {
	var live []*Record
	iter := r.client.Scan(ctx, 0, r.scopePattern(scope), 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := r.client.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		if rec.Expired(now) {
			r.client.Del(ctx, key)
			continue
		}
		live = append(live, &rec)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan conversations: %w", err)
	}
	return live, nil
}

func (r *RedisStore) FindByHistoryHash(ctx context.Context, scope, hash string, now time.Time) (*Record, error) {
	live, err := r.scanScope(ctx, scope, now)
	if err != nil {
		return nil, err
	}
	var best *Record
	for _, rec := range live {
		if rec.HistoryHash != hash {
			continue
		}
		if best == nil || rec.UpdatedAt > best.UpdatedAt {
			best = rec
		}
	}
	return best, nil
}

func (r *RedisStore) DeleteByID(ctx context.Context, scope, id string) error {
	if err := r.client.Del(ctx, r.key(scope, id)).Err(); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

func (r *RedisStore) CleanupExpired(ctx context.Context, limit int, now time.Time) (int, error) {
	limit = clampCleanupLimit(limit)
	type expiredKey struct {
		key       string
		expiresAt int64
	}
	var expired []expiredKey

	iter := r.client.Scan(ctx, 0, r.prefix+"conv:*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := r.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		if rec.Expired(now) {
			expired = append(expired, expiredKey{key: key, expiresAt: rec.ExpiresAt})
		}
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scan conversations: %w", err)
	}

	sort.Slice(expired, func(i, j int) bool { return expired[i].expiresAt < expired[j].expiresAt })
	if len(expired) > limit {
		expired = expired[:limit]
	}
	removed := 0
	for _, e := range expired {
		if n, err := r.client.Del(ctx, e.key).Result(); err == nil && n > 0 {
			removed++
		}
	}
	return removed, nil
}

func (r *RedisStore) TrimForToken(ctx context.Context, scope, token string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	live, err := r.scanScope(ctx, scope, time.Now())
	if err != nil {
		return 0, err
	}
	var matched []*Record
	for _, rec := range live {
		if rec.Token == token {
			matched = append(matched, rec)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].UpdatedAt > matched[j].UpdatedAt })
	if len(matched) <= keep {
		return 0, nil
	}
	removed := 0
	for _, rec := range matched[keep:] {
		if err := r.DeleteByID(ctx, scope, rec.OpenAIConversationID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (r *RedisStore) Stats(ctx context.Context, topN int, now time.Time) (Stats, error) {
	var st Stats
	counts := map[string]int{}

	iter := r.client.Scan(ctx, 0, r.prefix+"conv:*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		if rec.Expired(now) {
			st.ExpiredTotal++
			continue
		}
		st.ActiveTotal++
		if rec.Token != "" {
			counts[rec.Token]++
		}
	}
	if err := iter.Err(); err != nil {
		return st, fmt.Errorf("scan conversations: %w", err)
	}

	if topN > 0 {
		type pair struct {
			token string
			count int
		}
		var pairs []pair
		for token, count := range counts {
			pairs = append(pairs, pair{token, count})
		}
		sort.Slice(pairs, func(i, j int) bool {
			if pairs[i].count != pairs[j].count {
				return pairs[i].count > pairs[j].count
			}
			return pairs[i].token < pairs[j].token
		})
		if len(pairs) > topN {
			pairs = pairs[:topN]
		}
		for _, p := range pairs {
			st.TopTokens = append(st.TopTokens, TokenCount{TokenSuffix: tokenSuffix(p.token), Count: p.count})
		}
	}
	return st, nil
}

func (r *RedisStore) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
