package room

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRetention = 24 * time.Hour
	maxTxRetries     = 5
)

// RedisStore shares rooms between instances. Each room lives under room:<code> with the
// retention as TTL; room:match:<id> maps a bound match back to its code.
type RedisStore struct {
	rdb       *redis.Client
	prefix    string
	retention time.Duration
}

func NewRedisStore(rdb *redis.Client, prefix string, retention time.Duration) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "matchd"
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	return &RedisStore{rdb: rdb, prefix: prefix, retention: retention}
}

func (s *RedisStore) keyRoom(code string) string     { return s.prefix + ":room:" + code }
func (s *RedisStore) keyMatch(matchID string) string { return s.prefix + ":room:match:" + matchID }

func (s *RedisStore) Insert(ctx context.Context, r *Room) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, s.keyRoom(r.Code), raw, s.retention).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrCodeTaken
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, code string) (*Room, error) {
	raw, err := s.rdb.Get(ctx, s.keyRoom(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	var r Room
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *RedisStore) Update(ctx context.Context, code string, fn func(*Room) error) (*Room, error) {
	key := s.keyRoom(code)
	var out *Room
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrRoomNotFound
		}
		if err != nil {
			return err
		}
		var r Room
		if err := json.Unmarshal(raw, &r); err != nil {
			return err
		}
		prevMatch := r.MatchID
		if err := fn(&r); err != nil {
			return err
		}
		next, err := json.Marshal(&r)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, redis.KeepTTL)
			if r.MatchID != prevMatch {
				if prevMatch != "" {
					pipe.Del(ctx, s.keyMatch(prevMatch))
				}
				if r.MatchID != "" {
					pipe.Set(ctx, s.keyMatch(r.MatchID), code, s.retention)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = &r
		return nil
	}

	// WATCH 충돌 시 재시도
	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, ErrContention
}

func (s *RedisStore) CodeByMatch(ctx context.Context, matchID string) (string, error) {
	code, err := s.rdb.Get(ctx, s.keyMatch(matchID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrRoomNotFound
	}
	return code, err
}
