// Package fanout opens one logical subscription against N relay endpoints
// and reduces their streams to a single sequence of distinct, verified
// records plus exactly one backlog-complete signal.
//
// Each endpoint is dialed and consumed in its own goroutine; records from all
// endpoints are serialized through a single consumer goroutine, which owns
// the deduplication set. An endpoint failure degrades the fan-out instead of
// failing it: the endpoint is excluded and treated as having completed with
// zero records. The backlog-timeout budget covers dialing too, so one
// black-hole endpoint can never stall the aggregate stream.
package fanout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/zapgate-labs/zapgate/pkg/observability"
	"github.com/zapgate-labs/zapgate/pkg/record"
	"github.com/zapgate-labs/zapgate/pkg/relay"
)

// ErrNoSources marks a reduction whose backlog completed without a single
// participating endpoint. Consumers must not treat such an empty result as
// authoritative; it means "the network was unreachable", not "no records".
var ErrNoSources = errors.New("fanout: no relay endpoint participated")

// Message is one item of the aggregate sequence: a record, or the single
// backlog-complete marker.
type Message struct {
	Record          *record.Record
	BacklogComplete bool

	// NoSources is set on the backlog-complete message when no endpoint ever
	// joined the fan-out. The backlog is then vacuous, not empty.
	NoSources bool
}

// Options tunes a subscription.
type Options struct {
	// BacklogTimeout bounds the wait for the aggregate backlog-complete
	// signal, including endpoint dial time. Endpoints that have not signaled
	// EOSE by then are treated as complete with zero records. Default 10s.
	BacklogTimeout time.Duration

	// Buffer is the aggregate channel capacity. The default of 0 means
	// emission is synchronous with consumption, so nothing is emitted after
	// cancellation.
	Buffer int

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

func (o Options) withDefaults() Options {
	if o.BacklogTimeout <= 0 {
		o.BacklogTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Subscription is a cancellable aggregate subscription.
type Subscription struct {
	msgs       chan Message
	cancel     context.CancelFunc
	cancelOnce sync.Once
}

// Messages returns the aggregate sequence. The channel closes when the
// subscription is cancelled or every endpoint stream has ended.
func (s *Subscription) Messages() <-chan Message { return s.msgs }

// Cancel stops the subscription. It is idempotent and safe to call
// concurrently with in-flight delivery; no further records are emitted once
// it takes effect.
func (s *Subscription) Cancel() {
	s.cancelOnce.Do(s.cancel)
}

// sourced tags an endpoint event for the consumer loop: the endpoint joined,
// failed to join, delivered something, or its stream ended.
type sourced struct {
	endpoint string
	delivery relay.Delivery
	joined   bool
	failed   bool
	closed   bool
}

// Subscribe opens the filter against every endpoint via the pool. Each
// endpoint is dialed concurrently; endpoints that fail to connect or
// subscribe are logged and excluded. Subscribe itself never blocks on the
// network.
func Subscribe(ctx context.Context, pool *relay.Pool, endpoints []string, f relay.Filter, opts Options) *Subscription {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		msgs:   make(chan Message, opts.Buffer),
		cancel: cancel,
	}

	merged := make(chan sourced)
	for _, ep := range endpoints {
		go feed(ctx, pool, ep, f, merged, opts)
	}

	go sub.run(ctx, merged, len(endpoints), opts)
	return sub
}

// feed dials one endpoint, announces the join (or failure) to the consumer,
// and forwards the endpoint's deliveries. The subscription is torn down when
// the stream or the context ends.
func feed(ctx context.Context, pool *relay.Pool, ep string, f relay.Filter, merged chan<- sourced, opts Options) {
	send := func(s sourced) bool {
		s.endpoint = ep
		select {
		case merged <- s:
			return true
		case <-ctx.Done():
			return false
		}
	}

	conn, err := pool.Get(ctx, ep)
	if err != nil {
		opts.Logger.Warn("relay unreachable, excluding from fan-out", "relay", ep, "err", err)
		opts.Metrics.RelayFailure(ctx, ep)
		send(sourced{failed: true})
		return
	}
	ch, stop, err := conn.Subscribe(ctx, f)
	if err != nil {
		opts.Logger.Warn("relay subscribe failed, excluding from fan-out", "relay", ep, "err", err)
		opts.Metrics.RelayFailure(ctx, ep)
		pool.Drop(ep)
		send(sourced{failed: true})
		return
	}
	defer stop()

	if !send(sourced{joined: true}) {
		return
	}
	for {
		select {
		case d, ok := <-ch:
			if !ok {
				send(sourced{closed: true})
				return
			}
			if !send(sourced{delivery: d}) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Subscription) run(ctx context.Context, merged <-chan sourced, total int, opts Options) {
	defer close(s.msgs)

	emit := func(m Message) bool {
		select {
		case s.msgs <- m:
			return true
		case <-ctx.Done():
			return false
		}
	}

	seen := make(map[string]struct{})
	eoseSeen := make(map[string]bool, total)
	pendingJoin := total
	joined := 0
	awaitingEOSE := 0
	live := 0
	backlogDone := false
	start := time.Now()

	finishBacklog := func() bool {
		if backlogDone {
			return true
		}
		backlogDone = true
		opts.Metrics.BacklogComplete(ctx, time.Since(start).Seconds())
		return emit(Message{BacklogComplete: true, NoSources: joined == 0})
	}

	// The timer starts now, before any endpoint has dialed, so dial time is
	// inside the budget.
	timer := time.NewTimer(opts.BacklogTimeout)
	defer timer.Stop()
	timerC := timer.C

	if total == 0 {
		finishBacklog()
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-timerC:
			timerC = nil
			if !finishBacklog() {
				return
			}

		case src := <-merged:
			switch {
			case src.joined:
				pendingJoin--
				joined++
				awaitingEOSE++
				live++

			case src.failed:
				pendingJoin--
				if pendingJoin == 0 && awaitingEOSE == 0 {
					if !finishBacklog() {
						return
					}
					if live == 0 {
						return
					}
				}

			case src.closed:
				live--
				if !eoseSeen[src.endpoint] {
					eoseSeen[src.endpoint] = true
					awaitingEOSE--
					opts.Metrics.RelayFailure(ctx, src.endpoint)
					opts.Logger.Warn("relay stream ended before EOSE, treating as complete", "relay", src.endpoint)
				}
				if pendingJoin == 0 && awaitingEOSE == 0 && !finishBacklog() {
					return
				}
				if live == 0 && pendingJoin == 0 {
					return
				}

			case src.delivery.EOSE:
				if !eoseSeen[src.endpoint] {
					eoseSeen[src.endpoint] = true
					awaitingEOSE--
				}
				if pendingJoin == 0 && awaitingEOSE == 0 && !finishBacklog() {
					return
				}

			default:
				rec := src.delivery.Record
				if rec == nil {
					continue
				}
				if _, dup := seen[rec.ID]; dup {
					opts.Metrics.RecordDiscarded(ctx, "duplicate")
					continue
				}
				if !record.Verify(rec) {
					// Malformed or unverifiable records are dropped silently;
					// a faulty relay must not disrupt reconciliation.
					opts.Metrics.RecordDiscarded(ctx, "verification")
					continue
				}
				seen[rec.ID] = struct{}{}
				opts.Metrics.RecordVerified(ctx)
				if !emit(Message{Record: rec}) {
					return
				}
			}
		}
	}
}
