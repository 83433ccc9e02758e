// Package gateway drives the two Lightning node HTTPS endpoints: invoice
// creation at the payee's node and payment execution at the payer's node.
// Both are black boxes reached over TLS with a per-node certificate and a
// macaroon-style credential. Credentials never appear in errors or logs.
package gateway

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/zapgate-labs/zapgate/pkg/nodedir"
)

// ErrOutcomeUnknown marks a payment whose submission may have reached the
// gateway but whose result was never observed (caller-side timeout). It must
// never be treated as "failed": resubmitting could double-pay.
var ErrOutcomeUnknown = errors.New("gateway: payment outcome unknown")

// ErrPaymentRejected marks a 2xx response whose body carries a payment
// error (insufficient balance, no route).
var ErrPaymentRejected = errors.New("gateway: payment rejected")

const macaroonHeader = "Grpc-Metadata-macaroon"

// Error carries diagnosis context for a failed gateway call: target host,
// HTTP status, and the raw response body. Status 0 means the request never
// produced a response.
type Error struct {
	Op     string
	Host   string
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("gateway: %s at %s unreachable: %v", e.Op, e.Host, e.Err)
	}
	return fmt.Sprintf("gateway: %s at %s rejected: status %d: %s", e.Op, e.Host, e.Status, e.Body)
}

func (e *Error) Unwrap() error { return e.Err }

// Unreachable reports whether the gateway never answered (TLS, DNS, refused).
func (e *Error) Unreachable() bool { return e.Status == 0 }

// Invoice is the payee gateway's response to invoice creation.
type Invoice struct {
	PaymentRequest string `json:"payment_request"`
	RHash          string `json:"r_hash"`
	AddIndex       string `json:"add_index"`
}

// Payment is the payer gateway's response to payment execution. A populated
// PaymentError inside a 2xx response is still a logical failure.
type Payment struct {
	PaymentError    string `json:"payment_error"`
	PaymentPreimage string `json:"payment_preimage"`
	PaymentHash     string `json:"payment_hash"`
}

// Client calls Lightning gateways. Invoice creation retries transient
// failures with backoff and a per-host circuit breaker; payment execution is
// strictly single-shot because gateways are not guaranteed idempotent on
// resubmitted payment requests.
type Client struct {
	timeout    time.Duration
	maxRetries int
	logger     *slog.Logger

	mu       sync.Mutex
	breakers map[string]*circuitBreaker
	clients  map[string]*http.Client // keyed by host, TLS config per node cert
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithMaxRetries caps invoice-creation retries.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// NewClient creates a gateway client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		timeout:    30 * time.Second,
		maxRetries: 3,
		logger:     slog.Default().With("component", "gateway"),
		breakers:   make(map[string]*circuitBreaker),
		clients:    make(map[string]*http.Client),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) httpClientFor(node *nodedir.Node) *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hc, ok := c.clients[node.Host]; ok {
		return hc
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if node.TLSCert != "" {
		pool := x509.NewCertPool()
		if pool.AppendCertsFromPEM([]byte(node.TLSCert)) {
			tlsConfig.RootCAs = pool
		} else {
			c.logger.Warn("node tls_cert is not valid PEM, falling back to system roots", "host", node.Host)
		}
	}
	hc := &http.Client{
		Timeout: c.timeout,
		Transport: &http.Transport{
			TLSClientConfig: tlsConfig,
		},
	}
	c.clients[node.Host] = hc
	return hc
}

func (c *Client) breakerFor(host string) *circuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[host]
	if !ok {
		b = newCircuitBreaker(5, 10*time.Second)
		c.breakers[host] = b
	}
	return b
}

// CreateInvoice asks the payee's gateway for an invoice. Transient failures
// (transport errors, 5xx) retry with exponential backoff and jitter; 4xx
// responses fail immediately.
func (c *Client) CreateInvoice(ctx context.Context, node *nodedir.Node, amount int64, memo string) (*Invoice, error) {
	if memo == "" {
		memo = "zap payment"
	}
	payload, err := json.Marshal(map[string]interface{}{
		"value": amount,
		"memo":  memo,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: encode invoice request: %w", err)
	}
	url := strings.TrimRight(node.Host, "/") + "/v1/invoices"

	breaker := c.breakerFor(node.Host)
	if !breaker.Allow() {
		return nil, &Error{Op: "create-invoice", Host: node.Host, Err: errors.New("circuit breaker open")}
	}

	var lastErr *Error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoffDelay(attempt)):
			case <-ctx.Done():
				breaker.Failure()
				return nil, &Error{Op: "create-invoice", Host: node.Host, Err: ctx.Err()}
			}
		}

		status, body, err := c.post(ctx, node, url, payload)
		if err != nil {
			lastErr = &Error{Op: "create-invoice", Host: node.Host, Err: err}
			c.logger.Warn("invoice creation attempt failed", "host", node.Host, "attempt", attempt, "err", err)
			continue
		}
		if status >= 500 {
			lastErr = &Error{Op: "create-invoice", Host: node.Host, Status: status, Body: body}
			c.logger.Warn("invoice creation attempt rejected", "host", node.Host, "attempt", attempt, "status", status)
			continue
		}
		if status < 200 || status >= 300 {
			breaker.Failure()
			return nil, &Error{Op: "create-invoice", Host: node.Host, Status: status, Body: body}
		}

		var inv Invoice
		if err := json.Unmarshal([]byte(body), &inv); err != nil {
			breaker.Failure()
			return nil, &Error{Op: "create-invoice", Host: node.Host, Status: status, Body: body, Err: err}
		}
		if inv.PaymentRequest == "" {
			breaker.Failure()
			return nil, &Error{Op: "create-invoice", Host: node.Host, Status: status, Body: body,
				Err: errors.New("response missing payment_request")}
		}
		breaker.Success()
		return &inv, nil
	}

	breaker.Failure()
	return nil, lastErr
}

// PayInvoice submits the payment request to the payer's gateway. Exactly one
// attempt is made: a caller-side timeout after submission yields
// ErrOutcomeUnknown, never a retry.
func (c *Client) PayInvoice(ctx context.Context, node *nodedir.Node, paymentRequest string) (*Payment, error) {
	payload, err := json.Marshal(map[string]string{
		"payment_request": paymentRequest,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: encode payment request: %w", err)
	}
	url := strings.TrimRight(node.Host, "/") + "/v1/channels/transactions"

	status, body, err := c.post(ctx, node, url, payload)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, &Error{Op: "pay-invoice", Host: node.Host, Err: fmt.Errorf("%w: %v", ErrOutcomeUnknown, err)}
		}
		return nil, &Error{Op: "pay-invoice", Host: node.Host, Err: err}
	}
	if status < 200 || status >= 300 {
		return nil, &Error{Op: "pay-invoice", Host: node.Host, Status: status, Body: body}
	}

	var pay Payment
	if err := json.Unmarshal([]byte(body), &pay); err != nil {
		return nil, &Error{Op: "pay-invoice", Host: node.Host, Status: status, Body: body, Err: err}
	}
	if pay.PaymentError != "" {
		return &pay, fmt.Errorf("%w: %s", ErrPaymentRejected, pay.PaymentError)
	}
	return &pay, nil
}

// post issues one request and reads the full body. The macaroon rides in a
// header and is never copied into errors.
func (c *Client) post(ctx context.Context, node *nodedir.Node, url string, payload []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(macaroonHeader, node.Macaroon)

	resp, err := c.httpClientFor(node).Do(req)
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, "", err
	}
	return resp.StatusCode, string(body), nil
}

func backoffDelay(attempt int) time.Duration {
	base := time.Duration(math.Pow(2, float64(attempt-1))) * 100 * time.Millisecond
	jitter := time.Duration(0)
	if n, err := rand.Int(rand.Reader, big.NewInt(50)); err == nil {
		jitter = time.Duration(n.Int64()) * time.Millisecond
	}
	return base + jitter
}
