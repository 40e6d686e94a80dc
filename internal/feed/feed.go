// Package feed carries live game change events over Redis pub/sub, one channel per user.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/scorekeeper/internal/livegame"
	"github.com/park285/scorekeeper/internal/obslog"
)

type EventType string

const (
	Insert EventType = "insert"
	Update EventType = "update"
	Delete EventType = "delete"
)

// Event is a row-level change of one live game. Game is nil for deletes.
type Event struct {
	Type   EventType          `json:"type"`
	GameID string             `json:"game_id"`
	Game   *livegame.LiveGame `json:"game,omitempty"`
	// Invite marks the insert delivered to the invited opponent.
	Invite bool      `json:"invite,omitempty"`
	At     time.Time `json:"at"`
}

// Handler receives events. It runs on the subscription goroutine.
type Handler func(Event)

func Channel(userID string) string { return "live:feed:" + strings.TrimSpace(userID) }

type Bus struct {
	rdb *redis.Client
}

func NewBus(rdb *redis.Client) *Bus { return &Bus{rdb: rdb} }

// Publish sends ev to every listed user. Blank and duplicate ids are skipped.
func (b *Bus) Publish(ctx context.Context, userIDs []string, ev Event) error {
	if b == nil || b.rdb == nil {
		return nil
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode feed event: %w", err)
	}
	seen := make(map[string]struct{}, len(userIDs))
	pipe := b.rdb.Pipeline()
	for _, uid := range userIDs {
		uid = strings.TrimSpace(uid)
		if uid == "" {
			continue
		}
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		pipe.Publish(ctx, Channel(uid), raw)
	}
	if len(seen) == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish %s %s: %w", ev.Type, ev.GameID, err)
	}
	return nil
}

// Subscribe delivers the user's events to fn, in publish order, until the returned
// function is called or ctx ends. The returned function is idempotent and returns
// once the delivery goroutine has exited.
func (b *Bus) Subscribe(ctx context.Context, userID string, fn Handler) (func(), error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("subscribe: empty user id")
	}
	ps := b.rdb.Subscribe(ctx, Channel(userID))
	// 구독 확인 전에 publish 된 이벤트는 유실되므로 확인까지 대기
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", userID, err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	msgs := ps.Channel()
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					obslog.L().Warn("feed_decode_error", zap.String("user_id", userID), zap.Error(err))
					continue
				}
				fn(ev)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			_ = ps.Close()
			<-done
		})
	}, nil
}
