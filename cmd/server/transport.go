package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/kyleqd/sitemap/internal/collab"
	"github.com/kyleqd/sitemap/internal/config"
	"github.com/kyleqd/sitemap/internal/handler/health"
)

// transport is the configured collab backend plus what it takes to probe
// and release it.
type transport struct {
	collab.Transport
	check   health.Checker
	closers []func()
}

func (t *transport) close() {
	if t.Transport != nil {
		t.Transport.Close()
	}
	for i := len(t.closers) - 1; i >= 0; i-- {
		t.closers[i]()
	}
}

func openTransport(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*transport, error) {
	switch cfg.CollabTransport {
	case config.TransportNATS:
		t := &transport{}
		url := cfg.NATSURL
		if cfg.NATSEmbedded {
			ns, err := startNATS(cfg.NATSPort)
			if err != nil {
				return nil, err
			}
			t.closers = append(t.closers, ns.Shutdown)
			url = ns.ClientURL()
			logger.Info("started embedded nats", "url", url)
		}
		nc, err := nats.Connect(url,
			nats.Name("sitemap-editor"),
			nats.ReconnectWait(2*time.Second),
			nats.MaxReconnects(-1),
			nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
				logger.Error("nats error", "error", err)
			}),
		)
		if err != nil {
			t.close()
			return nil, fmt.Errorf("connecting to nats: %w", err)
		}
		t.closers = append(t.closers, nc.Close)
		t.Transport = collab.NewNATSTransport(nc, logger)
		t.check = natsChecker{nc}
		logger.Info("connected to nats", "url", url)
		return t, nil

	case config.TransportRedis:
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to redis")
		return &transport{
			Transport: collab.NewRedisTransport(rdb, logger),
			check:     redisChecker{rdb},
			closers:   []func(){func() { rdb.Close() }},
		}, nil
	}
	return &transport{Transport: collab.NewMemoryTransport()}, nil
}

func startNATS(port int) (*natsserver.Server, error) {
	ns, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating nats server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready for connections")
	}
	return ns, nil
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// redisChecker adapts *redis.Client to health.Checker.
type redisChecker struct{ client *redis.Client }

func (r redisChecker) Check(ctx context.Context) error { return r.client.Ping(ctx).Err() }

// natsChecker adapts *nats.Conn to health.Checker.
type natsChecker struct{ nc *nats.Conn }

func (n natsChecker) Check(ctx context.Context) error {
	if !n.nc.IsConnected() {
		return fmt.Errorf("nats connection %s", n.nc.Status())
	}
	return n.nc.FlushWithContext(ctx)
}
