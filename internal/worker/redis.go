package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"memochat/internal/models"
	"memochat/internal/redis"
)

const (
	redisInvalidateChannel = "worker:invalidate"
	redisStateTTL          = 30 * time.Minute
)

const (
	scopeUser    = "user"
	scopeSession = "session"
)

type invalidateMessage struct {
	Origin    string `json:"origin"`
	UserID    int64  `json:"user_id"`
	SessionID int64  `json:"session_id"`
	Scope     string `json:"scope"`
}

// stateRedis shares loaded sessions between instances. A nil client turns
// every method into a no-op.
type stateRedis struct {
	client *redis.Client
}

func newStateCache(client *redis.Client) *stateRedis {
	return &stateRedis{client: client}
}

func (r *stateRedis) enabled() bool {
	return r != nil && r.client != nil && r.client.Raw() != nil
}

// startListener redis listener using sub chan, stops with ctx
func (r *stateRedis) startListener(ctx context.Context, handler func(invalidateMessage)) {
	if !r.enabled() || handler == nil {
		return
	}
	pubsub, err := r.client.Subscribe(ctx, redisInvalidateChannel)
	if err != nil {
		slog.Warn("worker invalidation subscribe failed", "component", "worker", "err", err)
		return
	}
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var inv invalidateMessage
				if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
					slog.Warn("worker invalidation decode failed", "component", "worker", "err", err)
					continue
				}
				handler(inv)
			}
		}
	}()
}

// publishInvalidation broadcast invalidate msg
func (r *stateRedis) publishInvalidation(msg invalidateMessage) {
	if !r.enabled() {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("worker invalidation marshal failed", "component", "worker", "err", err)
		return
	}
	if err := r.client.Publish(context.Background(), redisInvalidateChannel, payload); err != nil {
		slog.Warn("worker publish invalidation failed", "component", "worker", "err", err)
	}
}

func sessionKey(sessionID int64) string { return fmt.Sprintf("worker:session:%d", sessionID) }
func historyKey(sessionID int64) string { return fmt.Sprintf("worker:history:%d", sessionID) }

func (r *stateRedis) cacheSession(session *models.Session, history []*models.Message) {
	if !r.enabled() || session == nil || session.ID <= 0 {
		return
	}
	ctx := context.Background()
	data, err := json.Marshal(session)
	if err == nil {
		if err := r.client.Set(ctx, sessionKey(session.ID), data, redisStateTTL); err != nil {
			slog.Warn("worker cache session failed", "component", "worker", "err", err)
		}
	}
	r.cacheHistory(session.ID, history)
}

func (r *stateRedis) cacheHistory(sessionID int64, history []*models.Message) {
	if !r.enabled() || sessionID <= 0 {
		return
	}
	data, err := json.Marshal(history)
	if err != nil {
		slog.Warn("worker history marshal failed", "component", "worker", "err", err)
		return
	}
	if err := r.client.Set(context.Background(), historyKey(sessionID), data, redisStateTTL); err != nil {
		slog.Warn("worker cache history failed", "component", "worker", "err", err)
	}
}

// loadSession returns the cached session when it belongs to userID.
func (r *stateRedis) loadSession(userID, sessionID int64) (*models.Session, []*models.Message, bool) {
	if !r.enabled() || sessionID <= 0 {
		return nil, nil, false
	}
	ctx := context.Background()
	rawSession, err := r.client.Get(ctx, sessionKey(sessionID))
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			slog.Warn("worker load session failed", "component", "worker", "err", err)
		}
		return nil, nil, false
	}
	var session models.Session
	if err := json.Unmarshal([]byte(rawSession), &session); err != nil {
		slog.Warn("worker decode session failed", "component", "worker", "err", err)
		return nil, nil, false
	}
	if session.UserID != userID {
		return nil, nil, false
	}

	rawHistory, err := r.client.Get(ctx, historyKey(sessionID))
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			slog.Warn("worker load history failed", "component", "worker", "err", err)
		}
		// both keys must hit
		return nil, nil, false
	}
	var history []*models.Message
	if err := json.Unmarshal([]byte(rawHistory), &history); err != nil {
		slog.Warn("worker decode history failed", "component", "worker", "err", err)
		return nil, nil, false
	}
	return &session, history, true
}

func (r *stateRedis) invalidateSession(sessionID int64) {
	if !r.enabled() || sessionID <= 0 {
		return
	}
	if err := r.client.Del(context.Background(), sessionKey(sessionID), historyKey(sessionID)); err != nil && !errors.Is(err, redis.ErrCacheMiss) {
		slog.Warn("worker invalidate session failed", "component", "worker", "err", err)
	}
}
