package collab

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestMemoryTransportFanOut(t *testing.T) {
	tr := NewMemoryTransport()
	ctx := context.Background()

	a, cancelA, err := tr.Subscribe(ctx, "m1")
	require.NoError(t, err)
	b, cancelB, err := tr.Subscribe(ctx, "m1")
	require.NoError(t, err)
	other, cancelOther, err := tr.Subscribe(ctx, "m2")
	require.NoError(t, err)
	defer cancelA()
	defer cancelOther()

	require.NoError(t, tr.Publish(ctx, "m1", Event{Type: EventChange, Seq: 1}))
	assert.Equal(t, uint64(1), recv(t, a).Seq)
	assert.Equal(t, uint64(1), recv(t, b).Seq)
	assert.Empty(t, drain(other))

	cancelB()
	_, ok := <-b
	assert.False(t, ok)
	require.NoError(t, tr.Publish(ctx, "m1", Event{Type: EventChange, Seq: 2}))
	assert.Equal(t, uint64(2), recv(t, a).Seq)
}

func TestMemoryTransportSlowSubscriber(t *testing.T) {
	tr := NewMemoryTransport()
	ctx := context.Background()
	ch, cancel, err := tr.Subscribe(ctx, "m")
	require.NoError(t, err)
	defer cancel()

	for range subscriberBuffer {
		require.NoError(t, tr.Publish(ctx, "m", Event{Type: EventCursor}))
	}
	// Presence overflow is dropped silently.
	require.NoError(t, tr.Publish(ctx, "m", Event{Type: EventCursor}))
	assert.Len(t, ch, subscriberBuffer)

	// An ordered event that does not fit closes the subscriber.
	require.NoError(t, tr.Publish(ctx, "m", Event{Type: EventChange, Seq: 9}))
	got := 0
	for range ch {
		got++
	}
	assert.Equal(t, subscriberBuffer, got)
}

func TestMemoryTransportClose(t *testing.T) {
	tr := NewMemoryTransport()
	ch, _, err := tr.Subscribe(context.Background(), "m")
	require.NoError(t, err)
	require.NoError(t, tr.Close())
	_, ok := <-ch
	assert.False(t, ok)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runNATS(t *testing.T) *nats.Conn {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	return nc
}

func TestNATSTransportRoundTrip(t *testing.T) {
	tr := NewNATSTransport(runNATS(t), discardLogger())
	defer tr.Close()
	ctx := context.Background()

	ch, cancel, err := tr.Subscribe(ctx, "fest")
	require.NoError(t, err)
	defer cancel()

	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, tr.Publish(ctx, "fest", Event{Type: EventChange, SiteMapID: "fest", Seq: seq}))
	}
	for seq := uint64(1); seq <= 3; seq++ {
		ev := recv(t, ch)
		assert.Equal(t, seq, ev.Seq)
		assert.Equal(t, "fest", ev.SiteMapID)
	}
}

func TestNATSTransportSession(t *testing.T) {
	s, st, _, _ := newSession(t)
	s.transport = NewNATSTransport(runNATS(t), discardLogger())
	ctx := context.Background()

	ch, cancel, err := s.Subscribe(ctx)
	require.NoError(t, err)
	defer cancel()

	_, err = st.Update(ctx, "tent", map[string]any{"notes": "over nats"}, "owner")
	require.NoError(t, err)
	require.NoError(t, s.Flush(ctx))
	ev := recv(t, ch)
	assert.Equal(t, EventChange, ev.Type)
	assert.Equal(t, st.Seq(), ev.Seq)
}

func TestRedisTransportRoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	tr := NewRedisTransport(rdb, discardLogger())
	ctx := context.Background()
	ch, cancel, err := tr.Subscribe(ctx, "fest")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, tr.Publish(ctx, "fest", Event{Type: EventJoin, UserID: "u1"}))
	assert.Equal(t, "u1", recv(t, ch).UserID)
}
