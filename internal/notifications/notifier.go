package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"dailypair/internal/models"
	"dailypair/internal/observability"

	"github.com/redis/go-redis/v9"
)

// NoticeChannel is the Redis channel notices are published on.
const NoticeChannel = "dailypair:notices"

// Notifier publishes notices. With Redis every replica's hub receives them;
// without it they go straight to the local hub.
type Notifier struct {
	hub *Hub
	rdb *redis.Client
}

// NewNotifier creates a Notifier for hub. rdb may be nil.
func NewNotifier(hub *Hub, rdb *redis.Client) *Notifier {
	return &Notifier{hub: hub, rdb: rdb}
}

// Notify publishes notice.
func (n *Notifier) Notify(ctx context.Context, notice models.Notice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}
	if n.rdb == nil {
		n.deliver(notice.Session, payload)
		return nil
	}
	return n.rdb.Publish(ctx, NoticeChannel, payload).Err()
}

func (n *Notifier) deliver(session string, payload []byte) {
	if delivered := n.hub.Deliver(session, payload); delivered == 0 {
		observability.NoticeDrops.WithLabelValues("no_subscriber").Inc()
	}
}

// StartSubscriber forwards published notices to the local hub until ctx is done.
// It is a no-op without Redis.
func (n *Notifier) StartSubscriber(ctx context.Context) error {
	if n.rdb == nil {
		return nil
	}
	sub := n.rdb.Subscribe(ctx, NoticeChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", NoticeChannel, err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							observability.GlobalLogger.Error("panic in notice subscriber",
								"panic", fmt.Sprint(r), "stack", string(debug.Stack()))
						}
					}()
					var notice models.Notice
					if err := json.Unmarshal([]byte(msg.Payload), &notice); err != nil {
						observability.LogAsyncOperationError(ctx, "notices.decode", err, map[string]interface{}{"channel": msg.Channel})
						return
					}
					n.deliver(notice.Session, []byte(msg.Payload))
				}()
			}
		}
	}()

	return nil
}
