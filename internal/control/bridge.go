package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/bridge/internal/core/config"
	"github.com/vietddude/bridge/internal/core/domain"
	"github.com/vietddude/bridge/internal/health"
	redisclient "github.com/vietddude/bridge/internal/infra/redis"
	"github.com/vietddude/bridge/internal/infra/storage"
	"github.com/vietddude/bridge/internal/infra/storage/memory"
	"github.com/vietddude/bridge/internal/infra/storage/postgres"
	"github.com/vietddude/bridge/internal/realtime/dispatch"
	"github.com/vietddude/bridge/internal/realtime/fallback"
	"github.com/vietddude/bridge/internal/realtime/registry"
	realtimeserver "github.com/vietddude/bridge/internal/realtime/server"
	"github.com/vietddude/bridge/internal/realtime/slots"
	"github.com/vietddude/bridge/internal/realtime/subscriber"
	"github.com/vietddude/bridge/internal/relay/client"
	"github.com/vietddude/bridge/internal/relay/flush"
	"github.com/vietddude/bridge/internal/relay/queue"
	relayserver "github.com/vietddude/bridge/internal/relay/server"
)

// queueWarnDepth marks the relay degraded once this many operations are waiting.
const queueWarnDepth = 100

// Config holds the application configuration.
type Config struct {
	Relay          config.RelayConfig
	Realtime       config.RealtimeConfig
	GRPC           config.GRPCConfig
	Redis          redisclient.Config
	Database       postgres.Config
	EnableRelay    bool
	EnableRealtime bool
	Migrate        bool // apply the bundled event log schema on startup
}

// Bridge owns every long-running component of the process.
type Bridge struct {
	cfg Config
	log *slog.Logger

	// relay
	queue       *queue.Queue
	relayClient *client.Client
	flusher     *flush.Flusher
	relayServer *relayserver.Server

	// realtime
	events         storage.EventRepository
	registry       *registry.Registry
	fallback       *fallback.Fallback
	subscriber     *subscriber.Subscriber
	dispatcher     *dispatch.Dispatcher
	realtimeServer *realtimeserver.Server

	healthMon  *health.Monitor
	grpcHealth *health.GRPCServer

	db          *postgres.DB
	redisClient *redisclient.Client

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewBridge creates a Bridge with all dependencies initialized.
func NewBridge(cfg Config) (*Bridge, error) {
	if !cfg.EnableRelay && !cfg.EnableRealtime {
		return nil, errors.New("nothing to run: enable the relay or the realtime service")
	}

	b := &Bridge{
		cfg:       cfg,
		log:       slog.Default(),
		healthMon: health.NewMonitor(2*time.Second, nil),
	}

	if cfg.Database.URL != "" && cfg.EnableRealtime {
		db, err := postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		b.db = db
		if cfg.Migrate {
			if err := postgres.Migrate(db); err != nil {
				b.closeStores()
				return nil, err
			}
		}
		b.healthMon.Register("database", health.PingCheck(db.Health))
	}

	if cfg.Redis.URL != "" && cfg.EnableRealtime {
		rc, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Failed to connect to Redis, using process-local poll slots", "error", err)
		} else {
			b.redisClient = rc
		}
	}

	if cfg.EnableRelay {
		if err := b.initRelay(); err != nil {
			b.closeStores()
			return nil, err
		}
	}
	if cfg.EnableRealtime {
		b.initRealtime()
	}

	if cfg.GRPC.Port > 0 {
		addr := net.JoinHostPort(cfg.Relay.Host, strconv.Itoa(cfg.GRPC.Port))
		b.grpcHealth = health.NewGRPCServer(b.healthMon, addr, 5*time.Second, nil)
	}

	return b, nil
}

func (b *Bridge) initRelay() error {
	rc := b.cfg.Relay
	if rc.APIBaseURL == "" {
		return errors.New("relay requires api_base_url (BRIDGE_API_BASE_URL)")
	}

	q, err := queue.Open(rc.QueuePath)
	if err != nil {
		return fmt.Errorf("failed to open queue: %w", err)
	}
	if rc.Secret == "" {
		b.log.Warn("No signing secret configured, relay calls are unsigned")
	}

	b.queue = q
	b.relayClient = client.New(client.Config{
		BaseURL:  rc.APIBaseURL,
		Secret:   rc.Secret,
		StaffKey: rc.StaffKey,
		Timeout:  rc.Timeout,
	}, nil)
	b.flusher = flush.NewFlusher(rc.FlushInterval, q, b.relayClient, nil)
	b.relayServer = relayserver.NewServer(
		net.JoinHostPort(rc.Host, strconv.Itoa(rc.Port)),
		b.relayClient, q, b.flusher,
		relayserver.Defaults{MerchantID: rc.MerchantID, OutletID: rc.OutletID, DeviceID: rc.DeviceID},
	)

	b.healthMon.Register("upstream", health.UpstreamCheck(b.relayClient))
	b.healthMon.Register("queue", health.QueueCheck(q, queueWarnDepth))
	b.log.Info("Relay initialized", "queue", rc.QueuePath, "pending", q.Len(), "upstream", rc.APIBaseURL)
	return nil
}

// slotTTL outlives the longest wait a slot holder can run.
func slotTTL(defaultWait time.Duration) time.Duration {
	return max(defaultWait, realtimeserver.MaxTimeout) + 30*time.Second
}

func (b *Bridge) initRealtime() {
	rt := b.cfg.Realtime

	if b.db != nil {
		b.events = postgres.NewEventRepo(b.db.DB)
		b.log.Info("Using PostgreSQL event log")
	} else {
		b.events = memory.NewEventStore()
		b.log.Info("Using Memory event log")
	}

	b.registry = registry.New(nil)
	b.fallback = fallback.New(b.events, nil)

	var src subscriber.Source
	switch rt.Source {
	case config.SourcePostgres:
		if b.cfg.Database.URL != "" {
			src = subscriber.NewPostgresSource(b.cfg.Database.URL)
		}
	case config.SourceRedis:
		if b.redisClient != nil {
			src = subscriber.NewRedisSource(b.redisClient)
		}
	}
	b.subscriber = subscriber.New(src, subscriber.Config{
		Channel: rt.Channel,
		Backoff: rt.Reconnect,
	}, func(ev *domain.RealtimeEvent) {
		b.registry.Dispatch(ev)
	}, nil)

	var limiter slots.Limiter
	if b.redisClient != nil {
		limiter = slots.NewDistributed(b.redisClient, rt.PollSlots, slotTTL(rt.WaitTimeout))
	} else {
		limiter = slots.NewLocal(rt.PollSlots)
	}

	b.dispatcher = dispatch.New(b.fallback, b.registry, limiter, dispatch.Config{
		DefaultTimeout: rt.WaitTimeout,
		SubWindow:      rt.SubWindow,
	}, nil)
	b.realtimeServer = realtimeserver.NewServer(
		net.JoinHostPort(rt.Host, strconv.Itoa(rt.Port)),
		b.dispatcher,
		func() string { return b.subscriber.State().String() },
	)

	b.healthMon.Register("subscriber", health.SubscriberCheck(b.subscriber))
}

// Start starts every configured component. It does not block.
func (b *Bridge) Start(ctx context.Context) error {
	ctx, b.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	b.group = g

	if b.db != nil {
		b.db.StartMetricsCollector(gctx)
	}

	if b.relayServer != nil {
		g.Go(b.relayServer.Start)
		g.Go(func() error { return b.flusher.Run(gctx) })
	}

	if b.realtimeServer != nil {
		if err := b.subscriber.Start(gctx); err != nil {
			return err
		}
		g.Go(b.realtimeServer.Start)
	}

	if b.grpcHealth != nil {
		g.Go(func() error { return b.grpcHealth.Start(gctx) })
	}

	return nil
}

// Wait blocks until a component fails or the bridge is stopped.
func (b *Bridge) Wait() error {
	if b.group == nil {
		return nil
	}
	return b.group.Wait()
}

// Stop stops the bridge. The subscriber goes first so no event reaches a
// half-stopped dispatcher.
func (b *Bridge) Stop(ctx context.Context) error {
	b.log.Info("Stopping Bridge...")
	var errs []error

	if b.subscriber != nil {
		errs = append(errs, b.subscriber.Stop(ctx))
	}
	if b.realtimeServer != nil {
		errs = append(errs, b.realtimeServer.Stop(ctx))
	}
	if b.relayServer != nil {
		errs = append(errs, b.relayServer.Stop(ctx))
	}
	if b.grpcHealth != nil {
		errs = append(errs, b.grpcHealth.Stop(ctx))
	}
	if b.cancel != nil {
		b.cancel()
	}
	errs = append(errs, b.Wait())

	if b.fallback != nil {
		b.fallback.Wait()
	}
	if b.relayClient != nil {
		_ = b.relayClient.Close()
	}
	b.closeStores()

	return errors.Join(errs...)
}

func (b *Bridge) closeStores() {
	if b.redisClient != nil {
		if err := b.redisClient.Close(); err != nil {
			b.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			b.log.Warn("Failed to close database", "error", err)
		}
	}
}

// Queue exposes the relay queue to CLI commands.
func (b *Bridge) Queue() *queue.Queue { return b.queue }

// Flusher exposes the flusher to CLI commands.
func (b *Bridge) Flusher() *flush.Flusher { return b.flusher }
