package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// Transport carries session events between server instances and clients.
// Subscribe returns a channel that is closed when cancel is called or when
// the subscriber fell too far behind on ordered events and must resync.
type Transport interface {
	Publish(ctx context.Context, mapID string, ev Event) error
	Subscribe(ctx context.Context, mapID string) (events <-chan Event, cancel func(), err error)
	Close() error
}

const subscriberBuffer = 64

// subscriber is one buffered receiver. Presence events are dropped when
// the buffer is full; an ordered event that does not fit closes it.
type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func newSubscriber() *subscriber {
	return &subscriber{ch: make(chan Event, subscriberBuffer)}
}

// send reports false once the subscriber is closed.
func (s *subscriber) send(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- ev:
	default:
		if ev.Type.ordered() {
			s.closed = true
			close(s.ch)
			return false
		}
	}
	return true
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// MemoryTransport is an in-process broker keyed by map id.
type MemoryTransport struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{subs: make(map[string]map[*subscriber]struct{})}
}

func (t *MemoryTransport) Subscribe(_ context.Context, mapID string) (<-chan Event, func(), error) {
	sub := newSubscriber()
	t.mu.Lock()
	if t.subs[mapID] == nil {
		t.subs[mapID] = make(map[*subscriber]struct{})
	}
	t.subs[mapID][sub] = struct{}{}
	t.mu.Unlock()
	return sub.ch, func() {
		t.remove(mapID, sub)
		sub.close()
	}, nil
}

func (t *MemoryTransport) remove(mapID string, sub *subscriber) {
	t.mu.Lock()
	delete(t.subs[mapID], sub)
	if len(t.subs[mapID]) == 0 {
		delete(t.subs, mapID)
	}
	t.mu.Unlock()
}

func (t *MemoryTransport) Publish(_ context.Context, mapID string, ev Event) error {
	t.mu.RLock()
	subs := make([]*subscriber, 0, len(t.subs[mapID]))
	for sub := range t.subs[mapID] {
		subs = append(subs, sub)
	}
	t.mu.RUnlock()
	for _, sub := range subs {
		if !sub.send(ev) {
			t.remove(mapID, sub)
		}
	}
	return nil
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for mapID, subs := range t.subs {
		for sub := range subs {
			sub.close()
		}
		delete(t.subs, mapID)
	}
	return nil
}

func subject(mapID string) string { return "sitemap." + mapID + ".events" }

// NATSTransport fans events out over a NATS subject per map so several
// server instances can share a session.
type NATSTransport struct {
	nc     *nats.Conn
	logger *slog.Logger
}

func NewNATSTransport(nc *nats.Conn, logger *slog.Logger) *NATSTransport {
	return &NATSTransport{nc: nc, logger: logger}
}

func (t *NATSTransport) Publish(_ context.Context, mapID string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := t.nc.Publish(subject(mapID), data); err != nil {
		return fmt.Errorf("publishing to nats: %w", err)
	}
	return nil
}

func (t *NATSTransport) Subscribe(_ context.Context, mapID string) (<-chan Event, func(), error) {
	sub := newSubscriber()
	ns, err := t.nc.Subscribe(subject(mapID), func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			t.logger.Warn("dropping malformed nats event", "map", mapID, "error", err)
			return
		}
		sub.send(ev)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("subscribing to nats: %w", err)
	}
	return sub.ch, func() {
		_ = ns.Unsubscribe()
		sub.close()
	}, nil
}

// Close drains the connection; pending publishes are flushed first.
func (t *NATSTransport) Close() error {
	return t.nc.Drain()
}

// RedisTransport uses Redis pub/sub channels, one per map.
type RedisTransport struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func NewRedisTransport(rdb *redis.Client, logger *slog.Logger) *RedisTransport {
	return &RedisTransport{rdb: rdb, logger: logger}
}

func (t *RedisTransport) Publish(ctx context.Context, mapID string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := t.rdb.Publish(ctx, subject(mapID), data).Err(); err != nil {
		return fmt.Errorf("publishing to redis: %w", err)
	}
	return nil
}

func (t *RedisTransport) Subscribe(ctx context.Context, mapID string) (<-chan Event, func(), error) {
	ps := t.rdb.Subscribe(ctx, subject(mapID))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, fmt.Errorf("subscribing to redis: %w", err)
	}
	sub := newSubscriber()
	go func() {
		defer sub.close()
		for msg := range ps.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				t.logger.Warn("dropping malformed redis event", "map", mapID, "error", err)
				continue
			}
			if !sub.send(ev) {
				ps.Close()
				return
			}
		}
	}()
	return sub.ch, func() { ps.Close() }, nil
}

// Close is a no-op; the client is owned by the caller.
func (t *RedisTransport) Close() error { return nil }
