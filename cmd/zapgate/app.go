package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/zapgate-labs/zapgate/pkg/audit"
	"github.com/zapgate-labs/zapgate/pkg/cache"
	"github.com/zapgate-labs/zapgate/pkg/config"
	"github.com/zapgate-labs/zapgate/pkg/crypto"
	"github.com/zapgate-labs/zapgate/pkg/fanout"
	"github.com/zapgate-labs/zapgate/pkg/gateway"
	"github.com/zapgate-labs/zapgate/pkg/nodedir"
	"github.com/zapgate-labs/zapgate/pkg/observability"
	"github.com/zapgate-labs/zapgate/pkg/relay"
)

// app wires the long-lived collaborators every command shares.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	pool     *relay.Pool
	pub      *fanout.Publisher
	gw       *gateway.Client
	signer   crypto.Signer
	unlocked cache.UnlockStore
	metrics  *observability.Metrics
	provider *observability.Provider
	redis    *redis.Client
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	a := &app{
		cfg:    cfg,
		logger: logger,
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.OTLPEndpoint != ""
	if obsCfg.Enabled {
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	provider, err := observability.New(ctx, obsCfg)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}
	a.provider = provider
	if obsCfg.Enabled {
		if a.metrics, err = observability.NewMetrics(provider.Meter()); err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
	}

	a.pool = relay.NewPool(relay.NewWebsocketDialer(a.metrics))
	a.pub = fanout.NewPublisher(a.pool, cfg.Relays)
	a.gw = gateway.NewClient(gateway.WithTimeout(cfg.GatewayTimeout))

	if cfg.SignerSeed != "" {
		signer, err := crypto.NewEd25519SignerFromSeedHex(cfg.SignerSeed)
		if err != nil {
			return nil, fmt.Errorf("load signer: %w", err)
		}
		a.signer = signer
	}

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.unlocked = cache.NewRedisStore(a.redis, cfg.RedisTTL)
	} else {
		a.unlocked = cache.NewMemoryStore()
	}
	return a, nil
}

func (a *app) directory() (*nodedir.Directory, error) {
	return nodedir.Load(a.cfg.NodesConfig)
}

func (a *app) trail() (*audit.Store, error) {
	return audit.Open(a.cfg.AuditDB)
}

func (a *app) close(ctx context.Context) {
	if err := a.pool.Close(); err != nil {
		a.logger.Debug("closing relay pool", "err", err)
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.provider != nil {
		if err := a.provider.Shutdown(ctx); err != nil {
			a.logger.Debug("shutting down observability", "err", err)
		}
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
