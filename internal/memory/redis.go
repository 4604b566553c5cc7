package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each session's turns in a sorted set scored by
// timestamp. Members carry a zero-padded sequence prefix so equal
// timestamps keep insertion order. Profiles are one hash per session.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, storageErr("redis", "ping", err)
	}
	prefix := strings.TrimSpace(opts.Prefix)
	if prefix == "" {
		prefix = "companion"
	}
	return &RedisStore{client: client, prefix: prefix, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *RedisStore) turnsKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s:turns", s.prefix, sessionID)
}

func (s *RedisStore) seqKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s:seq", s.prefix, sessionID)
}

func (s *RedisStore) profileKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s:profile", s.prefix, sessionID)
}

func (s *RedisStore) AppendTurn(ctx context.Context, turn Turn) error {
	t, err := normalizeTurn(turn, uuid.NewString, s.now())
	if err != nil {
		return storageErr("redis", "append turn", err)
	}
	seq, err := s.client.Incr(ctx, s.seqKey(t.SessionID)).Result()
	if err != nil {
		return storageErr("redis", "append turn", err)
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return storageErr("redis", "encode turn", err)
	}
	member := fmt.Sprintf("%020d|%s", seq, payload)
	err = s.client.ZAdd(ctx, s.turnsKey(t.SessionID), redis.Z{
		Score:  float64(t.CreatedAt.UnixMicro()),
		Member: member,
	}).Err()
	return storageErr("redis", "append turn", err)
}

func (s *RedisStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	limit = normalizeLimit(limit)
	members, err := s.client.ZRevRange(ctx, s.turnsKey(sessionID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, storageErr("redis", "recent turns", err)
	}
	items := make([]Turn, 0, len(members))
	for _, m := range members {
		_, raw, ok := strings.Cut(m, "|")
		if !ok {
			continue
		}
		var t Turn
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, storageErr("redis", "decode turn", err)
		}
		items = append(items, t)
	}
	reverseTurns(items)
	return items, nil
}

func (s *RedisStore) UpsertProfile(ctx context.Context, p Profile) error {
	if p.SessionID == "" {
		return storageErr("redis", "upsert profile", ErrInvalidTurn)
	}
	key := s.profileKey(p.SessionID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"name", p.Name,
			"preferences", p.Preferences,
			"context_data", p.ContextData,
			"last_interaction", strconv.FormatInt(s.now().UnixMicro(), 10),
		)
		return nil
	})
	return storageErr("redis", "upsert profile", err)
}

func (s *RedisStore) Profile(ctx context.Context, sessionID string) (Profile, error) {
	fields, err := s.client.HGetAll(ctx, s.profileKey(sessionID)).Result()
	if err != nil {
		return Profile{SessionID: sessionID}, storageErr("redis", "read profile", err)
	}
	p := Profile{SessionID: sessionID}
	if len(fields) == 0 {
		return p, nil
	}
	p.Name = fields["name"]
	p.Preferences = fields["preferences"]
	p.ContextData = fields["context_data"]
	if micros, err := strconv.ParseInt(fields["last_interaction"], 10, 64); err == nil {
		p.LastInteraction = time.UnixMicro(micros).UTC()
	}
	return p, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
