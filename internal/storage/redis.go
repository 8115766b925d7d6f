package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "alertbot/pkg/logx"
)

const (
	redisUpdateRetries = 32
	redisAuditKeep     = 10000
)

// redisStore maps each collection to one hash: <prefix>:<collection>.
// Update uses WATCH/MULTI and retries when another writer touched the hash.
type redisStore struct {
	client redis.UniversalClient
	prefix string
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addrs := cfg.Redis.Addrs
	if len(addrs) == 0 {
		return nil, errors.New("storage.redis.addrs is required for redis driver")
	}
	prefix := strings.TrimSpace(cfg.Redis.Prefix)
	if prefix == "" {
		prefix = "alertbot"
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:           addrs,
		Password:        cfg.Redis.Password,
		DB:              cfg.Redis.DB,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, persistErr("redis ping", err)
	}
	log.Info("redis store connected", logx.String("addrs", strings.Join(addrs, ",")), logx.String("prefix", prefix))
	return NewRedis(client, prefix, log), nil
}

// NewRedis wraps an existing client. Useful when the caller already owns one.
func NewRedis(client redis.UniversalClient, prefix string, log logx.Logger) Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &redisStore{client: client, prefix: prefix, log: log}
}

func (s *redisStore) hashKey(c Collection) string {
	return fmt.Sprintf("%s:%s", s.prefix, c)
}

func (s *redisStore) Get(ctx context.Context, c Collection, key string) ([]byte, bool, error) {
	b, err := s.client.HGet(ctx, s.hashKey(c), key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, persistErr("get "+string(c), err)
	}
	return b, true, nil
}

func (s *redisStore) Put(ctx context.Context, c Collection, key string, value []byte) error {
	return persistErr("put "+string(c), s.client.HSet(ctx, s.hashKey(c), key, value).Err())
}

func (s *redisStore) Delete(ctx context.Context, c Collection, key string) (bool, error) {
	n, err := s.client.HDel(ctx, s.hashKey(c), key).Result()
	if err != nil {
		return false, persistErr("delete "+string(c), err)
	}
	return n > 0, nil
}

func (s *redisStore) List(ctx context.Context, c Collection) (map[string][]byte, error) {
	m, err := s.client.HGetAll(ctx, s.hashKey(c)).Result()
	if err != nil {
		return nil, persistErr("list "+string(c), err)
	}
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		out[k] = []byte(v)
	}
	return out, nil
}

func (s *redisStore) Update(ctx context.Context, c Collection, key string, fn UpdateFunc) error {
	hk := s.hashKey(c)
	var fnErr error
	txf := func(tx *redis.Tx) error {
		fnErr = nil
		cur, err := tx.HGet(ctx, hk, key).Bytes()
		exists := true
		if err == redis.Nil {
			exists = false
		} else if err != nil {
			return err
		}
		next, op, err := applyUpdate(fn, cur, exists)
		if err != nil {
			fnErr = err
			return nil
		}
		if op == OpKeep || (op == OpDelete && !exists) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			if op == OpPut {
				p.HSet(ctx, hk, key, next)
			} else {
				p.HDel(ctx, hk, key)
			}
			return nil
		})
		return err
	}

	for i := 0; i < redisUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, hk)
		if err == nil {
			return fnErr
		}
		if errors.Is(err, redis.TxFailedErr) {
			// Jittered pause so contending writers spread out.
			select {
			case <-ctx.Done():
				return persistErr("update "+string(c), ctx.Err())
			case <-time.After(time.Duration(rand.IntN(1<<min(i, 5))+1) * time.Millisecond):
			}
			continue
		}
		return persistErr("update "+string(c), err)
	}
	return persistErr("update "+string(c), errors.New("too much contention"))
}

func (s *redisStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	k := s.prefix + ":audit"
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, k, b)
		p.LTrim(ctx, k, -redisAuditKeep, -1)
		return nil
	})
	return persistErr("audit", err)
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
