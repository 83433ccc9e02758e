// Package gate answers the access question: may this viewer see this gated
// item right now. The relay network is the source of truth; the local unlock
// cache is an availability fallback when reconciliation cannot complete.
package gate

import (
	"context"
	"log/slog"
	"time"

	"github.com/zapgate-labs/zapgate/pkg/cache"
	"github.com/zapgate-labs/zapgate/pkg/entitlement"
	"github.com/zapgate-labs/zapgate/pkg/fanout"
	"github.com/zapgate-labs/zapgate/pkg/observability"
	"github.com/zapgate-labs/zapgate/pkg/record"
	"github.com/zapgate-labs/zapgate/pkg/relay"
)

// ItemMeta identifies a gated item and its author.
type ItemMeta struct {
	ID     string
	Author string
}

// Reconciler derives a viewer's entitlement to an item from the event log.
type Reconciler interface {
	Entitled(ctx context.Context, item, payer string) (bool, error)
}

// RelayReconciler reconciles against the live relay set: one scoped fan-out
// subscription per question, reduced to the backlog-complete signal.
type RelayReconciler struct {
	pool      *relay.Pool
	endpoints []string
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewRelayReconciler creates a reconciler over the relay set. A zero timeout
// defaults to 10s.
func NewRelayReconciler(pool *relay.Pool, endpoints []string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *RelayReconciler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RelayReconciler{
		pool:      pool,
		endpoints: endpoints,
		timeout:   timeout,
		logger:    logger.With("component", "gate"),
		metrics:   metrics,
	}
}

// Entitled runs one reduction scoped to the (item, payer) pair. The filter
// pushes the scoping to the relays; the engine re-checks it anyway.
func (r *RelayReconciler) Entitled(ctx context.Context, item, payer string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	f := relay.Filter{
		Kinds:     []record.Kind{record.KindPurchaseReceipt, record.KindRevocation},
		ItemRefs:  []string{item},
		PayerRefs: []string{payer},
	}
	sub := fanout.Subscribe(ctx, r.pool, r.endpoints, f, fanout.Options{
		BacklogTimeout: r.timeout,
		Logger:         r.logger,
		Metrics:        r.metrics,
	})
	defer sub.Cancel()

	engine, err := entitlement.Reduce(ctx, item, sub)
	if err != nil {
		return false, err
	}
	return engine.Entitled(payer), nil
}

// Gate combines reconciled truth with the optimistic unlock cache.
type Gate struct {
	reconciler Reconciler
	unlocked   cache.UnlockStore
	logger     *slog.Logger
}

// New creates a gate. The cache is optional; without one a failed
// reconciliation denies access.
func New(reconciler Reconciler, unlocked cache.UnlockStore, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{reconciler: reconciler, unlocked: unlocked, logger: logger.With("component", "gate")}
}

// CanView decides whether viewer may see item. Authors always see their own
// items. For everyone else the reconciled answer wins and corrects the cache;
// only when reconciliation fails does the cached hint decide.
func (g *Gate) CanView(ctx context.Context, viewer string, item ItemMeta) (bool, error) {
	if viewer != "" && viewer == item.Author {
		return true, nil
	}

	entitled, err := g.reconciler.Entitled(ctx, item.ID, viewer)
	if err == nil {
		g.syncCache(ctx, viewer, item.ID, entitled)
		return entitled, nil
	}

	if g.unlocked == nil {
		return false, err
	}
	g.logger.Warn("reconciliation failed, falling back to unlock cache", "item", item.ID, "err", err)
	cached, cacheErr := g.unlocked.IsUnlocked(ctx, viewer, item.ID)
	if cacheErr != nil {
		return false, err
	}
	return cached, nil
}

// syncCache aligns the hint with the reconciled truth.
func (g *Gate) syncCache(ctx context.Context, viewer, item string, entitled bool) {
	if g.unlocked == nil {
		return
	}
	var err error
	if entitled {
		err = g.unlocked.MarkUnlocked(ctx, viewer, item)
	} else {
		err = g.unlocked.Evict(ctx, viewer, item)
	}
	if err != nil {
		g.logger.Warn("unlock cache sync failed", "item", item, "err", err)
	}
}
