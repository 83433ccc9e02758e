// Package entitlement reduces a record stream for one item into the set of
// payer identities currently holding valid access.
//
// The reduction is last-writer-wins per payer: each payer's history is
// independent, ordered by issuer-claimed timestamp with the record id as a
// deterministic tie-break. There is no global ordering and none is needed.
package entitlement

import (
	"context"
	"sort"
	"sync"

	"github.com/zapgate-labs/zapgate/pkg/fanout"
	"github.com/zapgate-labs/zapgate/pkg/record"
)

// Engine maintains the payer -> most-recent-relevant-record mapping for one
// item. Safe for concurrent readers; writes are expected to arrive from a
// single consumer of a fan-out subscription.
type Engine struct {
	mu   sync.RWMutex
	item string
	last map[string]*record.Record
}

// NewEngine creates an engine scoped to one item id.
func NewEngine(item string) *Engine {
	return &Engine{
		item: item,
		last: make(map[string]*record.Record),
	}
}

// Item returns the item this engine reconciles.
func (e *Engine) Item() string { return e.item }

// supersedes reports whether candidate replaces current under the ordering
// rule: created_at descending, then id lexicographic to break exact ties.
func supersedes(current, candidate *record.Record) bool {
	if candidate.CreatedAt != current.CreatedAt {
		return candidate.CreatedAt > current.CreatedAt
	}
	return candidate.ID > current.ID
}

// Apply folds one record into the mapping. Records of irrelevant kinds, for
// other items, or without a payer tag are ignored. Feeding the same record
// twice leaves the mapping unchanged. Returns true when the stored state for
// a payer changed.
func (e *Engine) Apply(rec *record.Record) bool {
	if rec == nil {
		return false
	}
	if rec.Kind != record.KindPurchaseReceipt && rec.Kind != record.KindRevocation {
		return false
	}
	if !rec.RefersTo(e.item) {
		return false
	}
	payer, ok := rec.PayerRef()
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	current, exists := e.last[payer]
	if exists {
		if current.ID == rec.ID || !supersedes(current, rec) {
			return false
		}
	}
	e.last[payer] = rec
	return true
}

// Entitled reports whether the payer's most recent relevant record is a
// purchase receipt. Absence means "not entitled, or not yet observed".
func (e *Engine) Entitled(payer string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.last[payer]
	return ok && rec.Kind == record.KindPurchaseReceipt
}

// Snapshot returns the current entitlement set, sorted for determinism.
func (e *Engine) Snapshot() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.last))
	for payer, rec := range e.last {
		if rec.Kind == record.KindPurchaseReceipt {
			out = append(out, payer)
		}
	}
	sort.Strings(out)
	return out
}

// Size returns the number of currently entitled payers.
func (e *Engine) Size() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, rec := range e.last {
		if rec.Kind == record.KindPurchaseReceipt {
			n++
		}
	}
	return n
}

// Reduce consumes a fan-out subscription until the backlog-complete signal
// and returns the engine holding the initial reduction. A backlog backed by
// zero participating endpoints yields fanout.ErrNoSources: the empty set is
// then vacuous and must not be treated as the authoritative answer. The
// caller keeps the subscription open to continue with Follow, or cancels it.
func Reduce(ctx context.Context, item string, sub *fanout.Subscription) (*Engine, error) {
	engine := NewEngine(item)
	for {
		select {
		case <-ctx.Done():
			return engine, ctx.Err()
		case m, ok := <-sub.Messages():
			if !ok {
				return engine, nil
			}
			if m.BacklogComplete {
				if m.NoSources {
					return engine, fanout.ErrNoSources
				}
				return engine, nil
			}
			engine.Apply(m.Record)
		}
	}
}

// Follow keeps applying live records to the engine until the subscription
// ends or ctx is cancelled. Run it in its own goroutine after Reduce.
func Follow(ctx context.Context, engine *Engine, sub *fanout.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-sub.Messages():
			if !ok {
				return
			}
			if m.Record != nil {
				engine.Apply(m.Record)
			}
		}
	}
}

// CountReceipts counts every purchase receipt referencing the item, without
// last-writer-wins folding. It consumes the subscription up to the
// backlog-complete signal.
func CountReceipts(ctx context.Context, item string, sub *fanout.Subscription) (int, error) {
	n := 0
	for {
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case m, ok := <-sub.Messages():
			if !ok {
				return n, nil
			}
			if m.BacklogComplete {
				if m.NoSources {
					return n, fanout.ErrNoSources
				}
				return n, nil
			}
			if m.Record != nil && m.Record.Kind == record.KindPurchaseReceipt && m.Record.RefersTo(item) {
				n++
			}
		}
	}
}
