// Package orchestrator runs the unlock transaction: create an invoice at the
// payee's gateway, announce the purchase intent, execute the payment at the
// payer's gateway, then publish the signed receipt to the relay set. The
// receipt on the relays is the entitlement; everything local (audit trail,
// unlock cache) is bookkeeping around it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zapgate-labs/zapgate/pkg/audit"
	"github.com/zapgate-labs/zapgate/pkg/cache"
	"github.com/zapgate-labs/zapgate/pkg/crypto"
	"github.com/zapgate-labs/zapgate/pkg/fanout"
	"github.com/zapgate-labs/zapgate/pkg/gateway"
	"github.com/zapgate-labs/zapgate/pkg/nodedir"
	"github.com/zapgate-labs/zapgate/pkg/observability"
	"github.com/zapgate-labs/zapgate/pkg/record"
)

// Stage names the leg of the transaction where an unlock stopped.
type Stage string

const (
	StageInvoiceCreation    Stage = "invoice-creation"
	StagePayment            Stage = "payment"
	StageReceiptPublication Stage = "receipt-publication"
)

// UnlockError wraps a failure with the stage it happened in. Callers must
// distinguish StagePayment failures wrapping gateway.ErrOutcomeUnknown: money
// may have moved, and the transaction must not be resubmitted blindly.
type UnlockError struct {
	Stage Stage
	Err   error
}

func (e *UnlockError) Error() string {
	return fmt.Sprintf("unlock failed at %s: %v", e.Stage, e.Err)
}

func (e *UnlockError) Unwrap() error { return e.Err }

// InvoiceCreator asks a payee gateway for an invoice.
type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, node *nodedir.Node, amount int64, memo string) (*gateway.Invoice, error)
}

// InvoicePayer submits a payment request to a payer gateway.
type InvoicePayer interface {
	PayInvoice(ctx context.Context, node *nodedir.Node, paymentRequest string) (*gateway.Payment, error)
}

// Publisher fans a record out to the relay set.
type Publisher interface {
	Publish(ctx context.Context, rec *record.Record) fanout.PublishResults
}

// ErrPaymentOutcomeUnknown aliases the gateway sentinel so callers holding
// only an orchestrator dependency can classify the one error that forbids
// resubmission.
var ErrPaymentOutcomeUnknown = gateway.ErrOutcomeUnknown

// UnlockParams identifies one unlock transaction.
type UnlockParams struct {
	// Item is the id of the gated record being unlocked.
	Item string
	// Payee is the identity (id, name, or pubkey) of the item author's
	// gateway in the node directory.
	Payee string
	// Payer is the identity of the gateway that pays the invoice.
	Payer string
	// Amount in satoshis.
	Amount int64
	// Memo overrides the invoice memo. Defaults to "unlock <item>".
	Memo string
}

// Result carries the artifacts of a completed (or partially completed)
// unlock.
type Result struct {
	Intent    *record.Record
	Receipt   *record.Record
	Invoice   *gateway.Invoice
	Payment   *gateway.Payment
	RelayAcks int
}

// Orchestrator wires the gateways, the relay publisher, the signing identity,
// and local bookkeeping into the unlock flow.
type Orchestrator struct {
	invoices  InvoiceCreator
	payments  InvoicePayer
	publisher Publisher
	directory *nodedir.Directory
	signer    crypto.Signer
	trail     *audit.Store
	unlocked  cache.UnlockStore
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Config collects the orchestrator's collaborators. Trail, Unlocked, Metrics,
// and Logger are optional.
type Config struct {
	Invoices  InvoiceCreator
	Payments  InvoicePayer
	Publisher Publisher
	Directory *nodedir.Directory
	Signer    crypto.Signer
	Trail     *audit.Store
	Unlocked  cache.UnlockStore
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Invoices == nil || cfg.Payments == nil {
		return nil, errors.New("orchestrator: gateway client required")
	}
	if cfg.Publisher == nil {
		return nil, errors.New("orchestrator: relay publisher required")
	}
	if cfg.Directory == nil {
		return nil, errors.New("orchestrator: node directory required")
	}
	if cfg.Signer == nil {
		return nil, crypto.ErrSigningUnavailable
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		invoices:  cfg.Invoices,
		payments:  cfg.Payments,
		publisher: cfg.Publisher,
		directory: cfg.Directory,
		signer:    cfg.Signer,
		trail:     cfg.Trail,
		unlocked:  cfg.Unlocked,
		metrics:   cfg.Metrics,
		logger:    logger.With("component", "orchestrator"),
		now:       time.Now,
	}, nil
}

// Unlock runs one unlock transaction end to end. The returned Result is
// non-nil whenever any artifact was produced, even on failure, so callers can
// inspect how far the transaction got.
func (o *Orchestrator) Unlock(ctx context.Context, p UnlockParams) (*Result, error) {
	if p.Amount <= 0 {
		return nil, &UnlockError{Stage: StageInvoiceCreation, Err: fmt.Errorf("amount must be positive, got %d", p.Amount)}
	}

	payeeNode, err := o.directory.Resolve(p.Payee)
	if err != nil {
		return nil, &UnlockError{Stage: StageInvoiceCreation, Err: err}
	}
	payerNode, err := o.directory.Resolve(p.Payer)
	if err != nil {
		return nil, &UnlockError{Stage: StageInvoiceCreation, Err: err}
	}

	res := &Result{}

	memo := p.Memo
	if memo == "" {
		memo = "unlock " + p.Item
	}
	res.Invoice, err = o.invoices.CreateInvoice(ctx, payeeNode, p.Amount, memo)
	if err != nil {
		o.metrics.Unlock(ctx, "failed-invoice")
		return res, &UnlockError{Stage: StageInvoiceCreation, Err: err}
	}

	viewer := o.signer.PublicKey()
	payeeIdentity := payeeNode.NostrPubkey
	if payeeIdentity == "" {
		payeeIdentity = payeeNode.Pubkey
	}

	// The intent is best-effort: a relay set that drops it only loses
	// discoverability of the pending purchase, not the entitlement itself.
	intent, err := record.NewPurchaseIntent(viewer, payeeIdentity, p.Item, p.Amount).Sign(o.signer)
	if err != nil {
		return res, &UnlockError{Stage: StagePayment, Err: err}
	}
	res.Intent = intent
	if acks := o.publisher.Publish(ctx, intent).Succeeded(); acks == 0 {
		o.logger.Warn("purchase intent reached no relay", "item", p.Item, "intent", intent.ID)
	}

	res.Payment, err = o.payments.PayInvoice(ctx, payerNode, res.Invoice.PaymentRequest)
	if err != nil {
		if errors.Is(err, gateway.ErrOutcomeUnknown) {
			o.metrics.Unlock(ctx, "payment-outcome-unknown")
			o.logger.Error("payment outcome unknown, do not resubmit", "item", p.Item, "intent", intent.ID)
		} else {
			o.metrics.Unlock(ctx, "failed-payment")
		}
		return res, &UnlockError{Stage: StagePayment, Err: err}
	}

	receipt, err := record.NewPurchaseReceipt(viewer, payeeIdentity, viewer, p.Item, intent.ID, p.Amount).Sign(o.signer)
	if err != nil {
		return res, &UnlockError{Stage: StageReceiptPublication, Err: err}
	}
	res.Receipt = receipt

	results := o.publisher.Publish(ctx, receipt)
	res.RelayAcks = results.Succeeded()
	if res.RelayAcks == 0 {
		o.metrics.Unlock(ctx, "failed-receipt-publication")
		o.appendTrail(ctx, p, audit.OutcomeReceiptPublicationFailed, intent, receipt)
		return res, &UnlockError{
			Stage: StageReceiptPublication,
			Err:   fmt.Errorf("no relay accepted receipt %s", receipt.ID),
		}
	}

	o.metrics.Unlock(ctx, "unlocked")
	o.appendTrail(ctx, p, audit.OutcomeUnlocked, intent, receipt)
	if o.unlocked != nil {
		if err := o.unlocked.MarkUnlocked(ctx, viewer, p.Item); err != nil {
			o.logger.Warn("unlock cache update failed", "item", p.Item, "err", err)
		}
	}
	o.logger.Info("item unlocked", "item", p.Item, "receipt", receipt.ID, "relays", res.RelayAcks)
	return res, nil
}

func (o *Orchestrator) appendTrail(ctx context.Context, p UnlockParams, outcome audit.Outcome, intent, receipt *record.Record) {
	if o.trail == nil {
		return
	}
	err := o.trail.Append(ctx, &audit.Entry{
		Time:    o.now(),
		Item:    p.Item,
		Payer:   o.signer.PublicKey(),
		Amount:  p.Amount,
		Outcome: outcome,
		Intent:  intent,
		Receipt: receipt,
	})
	if err != nil {
		o.logger.Error("audit append failed", "item", p.Item, "outcome", string(outcome), "err", err)
	}
}

// PendingReceipts lists audit entries whose receipt never reached a relay.
func (o *Orchestrator) PendingReceipts(ctx context.Context) ([]*audit.Entry, error) {
	if o.trail == nil {
		return nil, errors.New("orchestrator: no audit trail configured")
	}
	return o.trail.PendingReceipts(ctx)
}

// ReplayReceipt republishes the receipt held in an audit entry. On success a
// new UNLOCKED row is appended; the failed row stays, the trail is
// append-only.
func (o *Orchestrator) ReplayReceipt(ctx context.Context, entryID string) (int, error) {
	if o.trail == nil {
		return 0, errors.New("orchestrator: no audit trail configured")
	}
	entry, err := o.trail.Get(ctx, entryID)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: load audit entry: %w", err)
	}
	if entry.Receipt == nil {
		return 0, fmt.Errorf("orchestrator: audit entry %s has no receipt", entryID)
	}

	acks := o.publisher.Publish(ctx, entry.Receipt).Succeeded()
	if acks == 0 {
		return 0, fmt.Errorf("orchestrator: no relay accepted receipt %s", entry.Receipt.ID)
	}

	o.appendTrail(ctx, UnlockParams{Item: entry.Item, Amount: entry.Amount}, audit.OutcomeUnlocked, entry.Intent, entry.Receipt)
	if o.unlocked != nil {
		if err := o.unlocked.MarkUnlocked(ctx, o.signer.PublicKey(), entry.Item); err != nil {
			o.logger.Warn("unlock cache update failed", "item", entry.Item, "err", err)
		}
	}
	o.logger.Info("receipt replayed", "receipt", entry.Receipt.ID, "relays", acks)
	return acks, nil
}
