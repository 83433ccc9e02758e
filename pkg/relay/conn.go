package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/zapgate-labs/zapgate/pkg/observability"
	"github.com/zapgate-labs/zapgate/pkg/record"
)

// Delivery is one item yielded by a per-endpoint subscription: either a
// record or the endpoint's end-of-stored-events marker.
type Delivery struct {
	Record *record.Record
	EOSE   bool
}

// Conn is one endpoint connection. Implementations must support concurrent
// subscriptions and publishes.
type Conn interface {
	// Subscribe issues the filter and returns a channel of deliveries plus a
	// stop function. The channel closes when the subscription or connection
	// ends. Stop is idempotent.
	Subscribe(ctx context.Context, f Filter) (<-chan Delivery, func(), error)

	// Publish sends a record and waits for the relay's ack. A reject or a
	// context expiry is an error.
	Publish(ctx context.Context, r *record.Record) error

	// Close tears down the connection and all its subscriptions.
	Close() error
}

// Dialer opens a Conn for an endpoint URL.
type Dialer func(ctx context.Context, url string) (Conn, error)

// ErrConnClosed is returned for operations on a closed connection.
var ErrConnClosed = errors.New("relay: connection closed")

const deliveryBuffer = 64

// wsConn implements Conn over a websocket. A single read loop dispatches
// frames to per-subscription channels and pending publish acks.
type wsConn struct {
	url     string
	ws      *websocket.Conn
	logger  *slog.Logger
	limiter *rate.Limiter
	metrics *observability.Metrics

	droppedDeliveries atomic.Uint64

	writeMu sync.Mutex // serializes websocket writes

	mu      sync.Mutex
	subs    map[string]chan Delivery
	pending map[string]chan OKResult // keyed by record id
	closed  bool
	done    chan struct{}
}

// DialWebsocket opens a websocket connection to a relay endpoint. Outbound
// frames are rate-limited to stay within relay write budgets.
func DialWebsocket(ctx context.Context, url string) (Conn, error) {
	return dialWebsocket(ctx, url, nil)
}

// NewWebsocketDialer returns a Dialer whose connections report dropped
// deliveries and other ingestion events on m.
func NewWebsocketDialer(m *observability.Metrics) Dialer {
	return func(ctx context.Context, url string) (Conn, error) {
		return dialWebsocket(ctx, url, m)
	}
}

func dialWebsocket(ctx context.Context, url string, m *observability.Metrics) (Conn, error) {
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", url, err)
	}
	c := &wsConn{
		url:     url,
		ws:      ws,
		logger:  slog.Default().With("relay", url),
		limiter: rate.NewLimiter(rate.Limit(20), 40),
		metrics: m,
		subs:    make(map[string]chan Delivery),
		pending: make(map[string]chan OKResult),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *wsConn) readLoop() {
	for {
		_, data, err := c.ws.Read(context.Background())
		if err != nil {
			c.teardown()
			return
		}
		frame, err := DecodeFrame(data)
		if err != nil {
			// A malformed payload from this endpoint is logged and skipped;
			// it must not take down the connection's other traffic.
			c.logger.Warn("dropping malformed relay frame", "err", err)
			continue
		}
		c.dispatch(frame)
	}
}

func (c *wsConn) dispatch(f *Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch f.Type {
	case FrameEvent:
		if ch, ok := c.subs[f.SubID]; ok {
			select {
			case ch <- Delivery{Record: f.Record}:
			case <-c.done:
			default:
				// The read loop must never block on a slow consumer, so an
				// overflowing subscription loses the record. The drop is
				// counted; a non-zero count means the consumer needs a wider
				// buffer or a re-subscribe.
				c.droppedDeliveries.Add(1)
				c.metrics.RecordDiscarded(context.Background(), "subscription-overflow")
				c.logger.Warn("subscription buffer full, dropping record",
					"sub", f.SubID, "id", f.Record.ID, "dropped_total", c.droppedDeliveries.Load())
			}
		}
	case FrameEOSE:
		if ch, ok := c.subs[f.SubID]; ok {
			select {
			case ch <- Delivery{EOSE: true}:
			case <-c.done:
			default:
			}
		}
	case FrameOK:
		if ch, ok := c.pending[f.OK.RecordID]; ok {
			ch <- *f.OK
			delete(c.pending, f.OK.RecordID)
		}
	case FrameNotice:
		c.logger.Info("relay notice", "msg", f.Notice)
	}
}

func (c *wsConn) write(ctx context.Context, data []byte) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Subscribe(ctx context.Context, f Filter) (<-chan Delivery, func(), error) {
	subID := uuid.NewString()
	ch := make(chan Delivery, deliveryBuffer)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil, ErrConnClosed
	}
	c.subs[subID] = ch
	c.mu.Unlock()

	req, err := EncodeReq(subID, f)
	if err != nil {
		c.removeSub(subID)
		return nil, nil, err
	}
	if err := c.write(ctx, req); err != nil {
		c.removeSub(subID)
		return nil, nil, fmt.Errorf("relay: subscribe %s: %w", c.url, err)
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			if frame, err := EncodeClose(subID); err == nil {
				// Best effort; the relay drops the sub when the socket dies anyway.
				_ = c.write(context.Background(), frame)
			}
			c.removeSub(subID)
		})
	}
	return ch, stop, nil
}

func (c *wsConn) removeSub(subID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.subs[subID]; ok {
		delete(c.subs, subID)
		close(ch)
	}
}

func (c *wsConn) Publish(ctx context.Context, r *record.Record) error {
	ack := make(chan OKResult, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	c.pending[r.ID] = ack
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, r.ID)
		c.mu.Unlock()
	}()

	frame, err := EncodePublish(r)
	if err != nil {
		return err
	}
	if err := c.write(ctx, frame); err != nil {
		return fmt.Errorf("relay: publish to %s: %w", c.url, err)
	}

	select {
	case res := <-ack:
		if !res.Accepted {
			return fmt.Errorf("relay: %s rejected record %s: %s", c.url, r.ID, res.Message)
		}
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *wsConn) teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.mu.Unlock()
}

func (c *wsConn) Close() error {
	c.teardown()
	return c.ws.Close(websocket.StatusNormalClosure, "client shutdown")
}
