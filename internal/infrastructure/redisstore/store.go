package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/snaphub-notify/internal/domain"
)

const (
	ackKeyPrefix  = "snaphub:read_notifications:"
	seenKeyPrefix = "snaphub:last_seen_status:"
)

// Options mirrors the connection settings in config.Config.
type Options struct {
	Addr     string
	Password string
	DB       int
}

func NewClient(opts Options) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
}

// ReadStateStore keeps each user's read state in two JSON string keys: a
// JSON array of acknowledged ids and a JSON object of id -> last-seen status.
// Values that fail to parse are treated as empty state.
type ReadStateStore struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewReadStateStore(rdb *redis.Client, logger *zap.Logger) *ReadStateStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReadStateStore{rdb: rdb, logger: logger}
}

func ackKey(userID string) string  { return ackKeyPrefix + userID }
func seenKey(userID string) string { return seenKeyPrefix + userID }

// maxWatchRetries bounds optimistic retries when another writer touches the
// user's keys between WATCH and EXEC.
const maxWatchRetries = 10

type mgetter interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

func (s *ReadStateStore) Load(ctx context.Context, userID string) (domain.ReadState, error) {
	return s.load(ctx, s.rdb, userID)
}

func (s *ReadStateStore) load(ctx context.Context, c mgetter, userID string) (domain.ReadState, error) {
	st := domain.NewReadState()
	vals, err := c.MGet(ctx, ackKey(userID), seenKey(userID)).Result()
	if err != nil {
		return st, fmt.Errorf("load read state: %w", err)
	}
	if raw, ok := vals[0].(string); ok {
		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			s.logger.Warn("discarding unparseable acknowledged set",
				zap.String("user_id", userID), zap.Error(err))
		} else {
			for _, id := range ids {
				st.Acknowledged[id] = struct{}{}
			}
		}
	}
	if raw, ok := vals[1].(string); ok {
		var seen map[string]string
		if err := json.Unmarshal([]byte(raw), &seen); err != nil {
			s.logger.Warn("discarding unparseable last-seen map",
				zap.String("user_id", userID), zap.Error(err))
		} else {
			for id, status := range seen {
				st.LastSeen[id] = status
			}
		}
	}
	return st, nil
}

func (s *ReadStateStore) ReplaceLastSeen(ctx context.Context, userID string, snapshot map[string]string) error {
	b, err := json.Marshal(nonNilMap(snapshot))
	if err != nil {
		return fmt.Errorf("marshal last-seen map: %w", err)
	}
	if err := s.rdb.Set(ctx, seenKey(userID), b, 0).Err(); err != nil {
		return fmt.Errorf("replace last-seen map: %w", err)
	}
	return nil
}

// Acknowledge merges statuses into both keys under WATCH and writes them in
// one MULTI/EXEC. A concurrent write to either key aborts the transaction
// and the merge is retried on fresh values.
func (s *ReadStateStore) Acknowledge(ctx context.Context, userID string, statuses map[string]string) error {
	if len(statuses) == 0 {
		return nil
	}
	keys := []string{ackKey(userID), seenKey(userID)}
	txf := func(tx *redis.Tx) error {
		st, err := s.load(ctx, tx, userID)
		if err != nil {
			return err
		}
		for id, status := range statuses {
			st.Acknowledged[id] = struct{}{}
			st.LastSeen[id] = status
		}
		ids := st.AcknowledgedIDs()
		sort.Strings(ids)
		ackJSON, err := json.Marshal(ids)
		if err != nil {
			return fmt.Errorf("marshal acknowledged set: %w", err)
		}
		seenJSON, err := json.Marshal(st.LastSeen)
		if err != nil {
			return fmt.Errorf("marshal last-seen map: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, keys[0], ackJSON, 0)
			pipe.Set(ctx, keys[1], seenJSON, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := s.rdb.Watch(ctx, txf, keys...)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("acknowledge: %w", err)
		}
		s.logger.Debug("acknowledge raced another writer, retrying",
			zap.String("user_id", userID), zap.Int("attempt", attempt+1))
	}
	return fmt.Errorf("acknowledge: %w", redis.TxFailedErr)
}

func (s *ReadStateStore) Clear(ctx context.Context, userID string) error {
	err := s.rdb.Del(ctx, ackKey(userID), seenKey(userID)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("clear read state: %w", err)
	}
	return nil
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
