package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/notepid/twilight_chat/internal/clock"
)

// RedisTransport shares presence between processes. Each scope keeps a hash
// of members and a sorted set of last-seen times; every change publishes a
// poke on the scope channel and subscribers re-read the full membership.
type RedisTransport struct {
	client *redis.Client
	ttl    time.Duration
	clock  clock.Clock
	log    zerolog.Logger
}

// NewRedisTransport connects to redisURL and verifies the connection.
func NewRedisTransport(ctx context.Context, redisURL string, ttl time.Duration, clk clock.Clock, log zerolog.Logger) (*RedisTransport, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("presence redis: parse url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("presence redis: ping: %w", err)
	}

	if clk == nil {
		clk = clock.Real()
	}
	return &RedisTransport{
		client: client,
		ttl:    ttl,
		clock:  clk,
		log:    log.With().Str("component", "presence-redis").Logger(),
	}, nil
}

// Close closes the Redis connection.
func (r *RedisTransport) Close() error {
	return r.client.Close()
}

func membersKey(scope string) string {
	return fmt.Sprintf("presence:%s:members", scope)
}

func seenKey(scope string) string {
	return fmt.Sprintf("presence:%s:seen", scope)
}

func channelKey(scope string) string {
	return fmt.Sprintf("presence:%s:changes", scope)
}

// Track adds or refreshes m.
func (r *RedisTransport) Track(ctx context.Context, scope string, m Member) error {
	now := r.clock.Now()

	id := m.key()
	prev, err := r.client.HGet(ctx, membersKey(scope), id).Result()
	switch {
	case err == nil:
		var old Member
		if json.Unmarshal([]byte(prev), &old) == nil && !old.JoinedAt.IsZero() {
			m.JoinedAt = old.JoinedAt
		}
	case errors.Is(err, redis.Nil):
		if m.JoinedAt.IsZero() {
			m.JoinedAt = now
		}
	default:
		return &TransportError{Scope: scope, Op: "track", Err: err}
	}
	m.LastSeen = now

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, membersKey(scope), id, data)
	pipe.ZAdd(ctx, seenKey(scope), redis.Z{Score: float64(now.Unix()), Member: id})
	pipe.Expire(ctx, membersKey(scope), 2*r.ttl)
	pipe.Expire(ctx, seenKey(scope), 2*r.ttl)
	pipe.Publish(ctx, channelKey(scope), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return &TransportError{Scope: scope, Op: "track", Err: err}
	}
	return nil
}

// Untrack removes one connection.
func (r *RedisTransport) Untrack(ctx context.Context, scope string, connID string) error {
	pipe := r.client.TxPipeline()
	pipe.HDel(ctx, membersKey(scope), connID)
	pipe.ZRem(ctx, seenKey(scope), connID)
	pipe.Publish(ctx, channelKey(scope), connID)
	if _, err := pipe.Exec(ctx); err != nil {
		return &TransportError{Scope: scope, Op: "untrack", Err: err}
	}
	return nil
}

// Subscribe streams snapshots for scope. A snapshot is re-read on every poke
// and every half TTL so expired members drop out even when nobody leaves.
func (r *RedisTransport) Subscribe(ctx context.Context, scope string) (<-chan Sync, error) {
	pubsub := r.client.Subscribe(ctx, channelKey(scope))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, &TransportError{Scope: scope, Op: "subscribe", Err: err}
	}

	first, err := r.snapshot(ctx, scope)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan Sync, 1)
	out <- first

	go func() {
		defer close(out)
		defer pubsub.Close()

		pokes := pubsub.Channel()
		ticker := r.clock.NewTicker(r.ttl / 2)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-pokes:
				if !ok {
					return
				}
			case <-ticker.C:
			}

			snap, err := r.snapshot(ctx, scope)
			if err != nil {
				if ctx.Err() == nil {
					r.log.Warn().Err(err).Str("scope", scope).Msg("presence snapshot failed")
				}
				return
			}
			select {
			case out <- snap:
			default:
				select {
				case <-out:
				default:
				}
				out <- snap
			}
		}
	}()

	return out, nil
}

// snapshot prunes expired members and reads the rest.
func (r *RedisTransport) snapshot(ctx context.Context, scope string) (Sync, error) {
	cutoff := strconv.FormatInt(r.clock.Now().Add(-r.ttl).Unix(), 10)

	stale, err := r.client.ZRangeByScore(ctx, seenKey(scope), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + cutoff,
	}).Result()
	if err != nil {
		return Sync{}, &TransportError{Scope: scope, Op: "snapshot", Err: err}
	}
	if len(stale) > 0 {
		members := make([]any, len(stale))
		for i, id := range stale {
			members[i] = id
		}
		pipe := r.client.TxPipeline()
		pipe.HDel(ctx, membersKey(scope), stale...)
		pipe.ZRem(ctx, seenKey(scope), members...)
		if _, err := pipe.Exec(ctx); err != nil {
			return Sync{}, &TransportError{Scope: scope, Op: "snapshot", Err: err}
		}
	}

	raw, err := r.client.HGetAll(ctx, membersKey(scope)).Result()
	if err != nil {
		return Sync{}, &TransportError{Scope: scope, Op: "snapshot", Err: err}
	}
	members, err := decodeMembers(raw)
	if err != nil {
		return Sync{}, &TransportError{Scope: scope, Op: "snapshot", Err: err}
	}
	return Sync{Scope: scope, Members: members}, nil
}

// decodeMembers parses a members hash keyed by connection, sorted by
// participant id. Fields written before connections were keyed separately
// are the participant id itself.
func decodeMembers(raw map[string]string) ([]Member, error) {
	members := make([]Member, 0, len(raw))
	for field, value := range raw {
		var m Member
		if err := json.Unmarshal([]byte(value), &m); err != nil {
			return nil, fmt.Errorf("decode member %s: %w", field, err)
		}
		if m.ParticipantID == 0 {
			id, err := strconv.Atoi(field)
			if err != nil {
				return nil, fmt.Errorf("decode member %s: %w", field, err)
			}
			m.ParticipantID = id
		}
		members = append(members, m)
	}
	slices.SortFunc(members, compareMembers)
	return members, nil
}
