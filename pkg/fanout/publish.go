package fanout

import (
	"context"
	"sync"

	"github.com/zapgate-labs/zapgate/pkg/record"
	"github.com/zapgate-labs/zapgate/pkg/relay"
)

// PublishResult is one relay's ack or rejection of a published record.
type PublishResult struct {
	Endpoint string
	Err      error
}

// PublishResults aggregates per-relay outcomes.
type PublishResults []PublishResult

// Succeeded returns the number of relays that acked the record.
func (rs PublishResults) Succeeded() int {
	n := 0
	for _, r := range rs {
		if r.Err == nil {
			n++
		}
	}
	return n
}

// PublishAll sends a record to every endpoint concurrently and collects the
// per-relay outcome. It never short-circuits: a record accepted by at least
// one relay is durable in the event log.
func PublishAll(ctx context.Context, pool *relay.Pool, endpoints []string, rec *record.Record) PublishResults {
	results := make(PublishResults, len(endpoints))
	var wg sync.WaitGroup
	for i, ep := range endpoints {
		wg.Add(1)
		go func(i int, ep string) {
			defer wg.Done()
			results[i] = PublishResult{Endpoint: ep}
			conn, err := pool.Get(ctx, ep)
			if err != nil {
				results[i].Err = err
				return
			}
			results[i].Err = conn.Publish(ctx, rec)
		}(i, ep)
	}
	wg.Wait()
	return results
}

// Publisher binds a pool and an endpoint set so callers can publish without
// carrying both around.
type Publisher struct {
	pool      *relay.Pool
	endpoints []string
}

// NewPublisher creates a Publisher over the given endpoints.
func NewPublisher(pool *relay.Pool, endpoints []string) *Publisher {
	return &Publisher{pool: pool, endpoints: endpoints}
}

// Publish sends the record to all endpoints.
func (p *Publisher) Publish(ctx context.Context, rec *record.Record) PublishResults {
	return PublishAll(ctx, p.pool, p.endpoints, rec)
}
