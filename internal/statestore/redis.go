package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"go-agent-worker/internal/core"
)

const (
	defaultKeyPrefix = "agentstate:"
	updateChannel    = "agentstate:update:"
)

// RedisStore keeps each snapshot in a hash holding data, content type and
// a version counter used as the ETag.
type RedisStore struct {
	mu       sync.Mutex
	client   *redis.Client
	options  *redis.Options
	logger   zerolog.Logger
	prefix   string
	notifKey string
	ttl      time.Duration
}

// NewRedisStore returns a new RedisStore. A positive ttl expires snapshots
// that are not rewritten in time.
func NewRedisStore(opts *redis.Options, ttl time.Duration, logger zerolog.Logger) *RedisStore {
	return &RedisStore{
		client:   redis.NewClient(opts),
		options:  opts,
		logger:   logger.With().Str("component", "statestore.redis").Logger(),
		prefix:   defaultKeyPrefix,
		notifKey: updateChannel,
		ttl:      ttl,
	}
}

// conn pings Redis and reconnects if needed.
func (s *RedisStore) conn(ctx context.Context) (*redis.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.client.Ping(ctx).Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn().Err(err).Msg("reconnecting to redis")
		_ = s.client.Close()
		s.client = redis.NewClient(s.options)
	}
	return s.client, nil
}

func (s *RedisStore) key(id core.AgentID) string { return s.prefix + id.String() }

// Put stores a snapshot and returns it with its new version as ETag.
func (s *RedisStore) Put(ctx context.Context, state core.AgentState) (core.AgentState, error) {
	if err := ctx.Err(); err != nil {
		return core.AgentState{}, err
	}
	if err := state.AgentID.Validate(); err != nil {
		return core.AgentState{}, err
	}
	client, err := s.conn(ctx)
	if err != nil {
		return core.AgentState{}, err
	}

	// Version is bumped server-side in the same transaction as the write.
	hkey := s.key(state.AgentID)
	var incr *redis.IntCmd
	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if state.Data != nil {
			pipe.HSet(ctx, hkey, "data", state.Data, "content_type", state.ContentType)
		} else {
			pipe.HDel(ctx, hkey, "data")
			pipe.HSet(ctx, hkey, "content_type", state.ContentType)
		}
		incr = pipe.HIncrBy(ctx, hkey, "version", 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, hkey, s.ttl)
		}
		return nil
	})
	if err != nil {
		return core.AgentState{}, fmt.Errorf("put %s: %w", state.AgentID, err)
	}
	ver := incr.Val()
	state.ETag = strconv.FormatInt(ver, 10)
	s.notify(ctx, client, core.StateUpdate{AgentID: state.AgentID, ETag: state.ETag})
	return state, nil
}

func (s *RedisStore) notify(ctx context.Context, client *redis.Client, upd core.StateUpdate) {
	payload, _ := json.Marshal(upd)
	if err := client.Publish(ctx, s.notifKey+upd.AgentID.String(), payload).Err(); err != nil {
		s.logger.Warn().Err(err).Stringer("agent", upd.AgentID).Msg("state update not published")
	}
}

// Get retrieves a snapshot.
func (s *RedisStore) Get(ctx context.Context, id core.AgentID) (core.AgentState, error) {
	if err := ctx.Err(); err != nil {
		return core.AgentState{}, err
	}
	client, err := s.conn(ctx)
	if err != nil {
		return core.AgentState{}, err
	}
	res, err := client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return core.AgentState{}, fmt.Errorf("get %s: %w", id, err)
	}
	if len(res) == 0 {
		return core.AgentState{}, fmt.Errorf("%w: %s", core.ErrStateNotFound, id)
	}
	state := core.AgentState{
		AgentID:     id,
		ETag:        res["version"],
		ContentType: res["content_type"],
	}
	if d, ok := res["data"]; ok {
		state.Data = append([]byte{}, d...)
	}
	return state, nil
}

// Delete removes a snapshot.
func (s *RedisStore) Delete(ctx context.Context, id core.AgentID) error {
	client, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if err := client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	s.notify(ctx, client, core.StateUpdate{AgentID: id, Deleted: true})
	return nil
}

// Watch subscribes to updates matching a "type/key" glob.
func (s *RedisStore) Watch(ctx context.Context, pattern string) (<-chan core.StateUpdate, error) {
	client, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	pubsub := client.PSubscribe(ctx, s.notifKey+pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("watch %s: %w", pattern, err)
	}
	ch := make(chan core.StateUpdate)
	go func() {
		defer close(ch)
		defer pubsub.Close()
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
					return
				}
				s.logger.Error().Err(err).Msg("watch error")
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}
			var upd core.StateUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &upd); err != nil {
				continue
			}
			select {
			case ch <- upd:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
