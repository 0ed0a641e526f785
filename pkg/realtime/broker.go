// Package realtime delivers per-user events to live subscribers. Delivery is
// best effort: slow subscribers drop events and nothing is replayed.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const subscriberBuffer = 16

// Event is one message pushed to a subscriber.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// CancelFunc ends a subscription and closes its channel.
type CancelFunc func()

// Broker publishes events to named channels.
type Broker interface {
	Publish(ctx context.Context, channel string, evt Event) error
	Subscribe(ctx context.Context, channel string) (<-chan Event, CancelFunc, error)
}

// UserChannel returns the channel name for a user's notifications.
func UserChannel(userID string) string {
	return "notifications:" + userID
}

// NewEvent marshals payload into an Event.
func NewEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Payload: raw}, nil
}

// Memory is an in-process broker for single-replica deployments and tests.
type Memory struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan Event
}

// NewMemory constructs an empty in-process broker.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[int]chan Event)}
}

// Publish fans evt out to every current subscriber of channel.
func (m *Memory) Publish(_ context.Context, channel string, evt Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs[channel] {
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber. The subscription ends on cancel or when
// ctx is done.
func (m *Memory) Subscribe(ctx context.Context, channel string) (<-chan Event, CancelFunc, error) {
	ch := make(chan Event, subscriberBuffer)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[int]chan Event)
	}
	m.subs[channel][id] = ch
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs[channel], id)
			if len(m.subs[channel]) == 0 {
				delete(m.subs, channel)
			}
			m.mu.Unlock()
			close(ch)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel, nil
}

// Subscribers returns the number of live subscriptions on channel.
func (m *Memory) Subscribers(channel string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[channel])
}

// Redis relays events through Redis pub/sub so every API replica sees them.
type Redis struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedis constructs a Redis-backed broker.
func NewRedis(client *redis.Client, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, logger: logger}
}

// Publish serialises evt onto channel.
func (r *Redis) Publish(ctx context.Context, channel string, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, channel, body).Err()
}

// Subscribe opens a dedicated pub/sub connection for channel.
func (r *Redis) Subscribe(ctx context.Context, channel string) (<-chan Event, CancelFunc, error) {
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	subCtx, stop := context.WithCancel(ctx)
	out := make(chan Event, subscriberBuffer)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(out)
		messages := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var evt Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					r.logger.Warn("realtime: dropping malformed event", zap.String("channel", channel), zap.Error(err))
					continue
				}
				select {
				case out <- evt:
				default:
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			stop()
			_ = pubsub.Close()
			<-done
		})
	}
	return out, cancel, nil
}
