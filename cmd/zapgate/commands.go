package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/zapgate-labs/zapgate/pkg/audit"
	"github.com/zapgate-labs/zapgate/pkg/entitlement"
	"github.com/zapgate-labs/zapgate/pkg/fanout"
	"github.com/zapgate-labs/zapgate/pkg/gate"
	"github.com/zapgate-labs/zapgate/pkg/gateway"
	"github.com/zapgate-labs/zapgate/pkg/orchestrator"
	"github.com/zapgate-labs/zapgate/pkg/record"
	"github.com/zapgate-labs/zapgate/pkg/relay"
)

func runUnlock(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("unlock", flag.ContinueOnError)
	fs.SetOutput(stderr)
	item := fs.String("item", "", "id of the gated item")
	payee := fs.String("payee", "", "payee node identity (id, name, or pubkey)")
	payer := fs.String("payer", "", "payer node identity")
	amount := fs.Int64("amount", 0, "amount in satoshis")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *item == "" || *payee == "" || *payer == "" || *amount <= 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: zapgate unlock --item <id> --payee <node> --payer <node> --amount <sats>")
		return 2
	}
	if a.signer == nil {
		_, _ = fmt.Fprintln(stderr, "Error: ZAPGATE_SIGNER_SEED is required to unlock")
		return 1
	}

	orch, trail, code := buildOrchestrator(a, stderr)
	if code != 0 {
		return code
	}
	defer func() { _ = trail.Close() }()

	res, err := orch.Unlock(ctx, orchestrator.UnlockParams{
		Item:   *item,
		Payee:  *payee,
		Payer:  *payer,
		Amount: *amount,
	})
	if err != nil {
		var uerr *orchestrator.UnlockError
		if errors.As(err, &uerr) {
			_, _ = fmt.Fprintf(stderr, "Unlock failed at %s: %v\n", uerr.Stage, uerr.Err)
			if errors.Is(err, gateway.ErrOutcomeUnknown) {
				_, _ = fmt.Fprintln(stderr, "Payment outcome unknown. Do NOT retry; check the payer node before acting.")
			}
			if uerr.Stage == orchestrator.StageReceiptPublication {
				_, _ = fmt.Fprintln(stderr, "Payment settled but no relay took the receipt. Run: zapgate replay-receipts")
			}
		} else {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "Unlocked %s: receipt %s accepted by %d relay(s)\n", *item, res.Receipt.ID, res.RelayAcks)
	return 0
}

func buildOrchestrator(a *app, stderr io.Writer) (*orchestrator.Orchestrator, *audit.Store, int) {
	dir, err := a.directory()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, nil, 1
	}
	trail, err := a.trail()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, nil, 1
	}
	orch, err := orchestrator.New(orchestrator.Config{
		Invoices:  a.gw,
		Payments:  a.gw,
		Publisher: a.pub,
		Directory: dir,
		Signer:    a.signer,
		Trail:     trail,
		Unlocked:  a.unlocked,
		Metrics:   a.metrics,
		Logger:    a.logger,
	})
	if err != nil {
		_ = trail.Close()
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, nil, 1
	}
	return orch, trail, 0
}

func runAccess(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("access", flag.ContinueOnError)
	fs.SetOutput(stderr)
	item := fs.String("item", "", "id of the gated item")
	author := fs.String("author", "", "item author's public identity")
	viewer := fs.String("viewer", "", "viewer's public identity (defaults to the local signer)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *viewer == "" && a.signer != nil {
		*viewer = a.signer.PublicKey()
	}
	if *item == "" || *viewer == "" {
		_, _ = fmt.Fprintln(stderr, "Usage: zapgate access --item <id> [--author <pub>] [--viewer <pub>]")
		return 2
	}

	reconciler := gate.NewRelayReconciler(a.pool, a.cfg.Relays, a.cfg.BacklogTimeout, a.logger, a.metrics)
	g := gate.New(reconciler, a.unlocked, a.logger)

	ok, err := g.CanView(ctx, *viewer, gate.ItemMeta{ID: *item, Author: *author})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if ok {
		_, _ = fmt.Fprintf(stdout, "granted: %s may view %s\n", *viewer, *item)
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "denied: %s may not view %s\n", *viewer, *item)
	return 3
}

func runCount(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("count", flag.ContinueOnError)
	fs.SetOutput(stderr)
	item := fs.String("item", "", "id of the item")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *item == "" {
		_, _ = fmt.Fprintln(stderr, "Usage: zapgate count --item <id>")
		return 2
	}

	f := relay.Filter{
		Kinds:    []record.Kind{record.KindPurchaseReceipt},
		ItemRefs: []string{*item},
	}
	sub := fanout.Subscribe(ctx, a.pool, a.cfg.Relays, f, fanout.Options{
		BacklogTimeout: a.cfg.BacklogTimeout,
		Logger:         a.logger,
		Metrics:        a.metrics,
	})
	defer sub.Cancel()

	n, err := entitlement.CountReceipts(ctx, *item, sub)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "%d\n", n)
	return 0
}

func runAudit(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	limit := fs.Int("limit", 20, "maximum entries to list")
	jsonl := fs.Bool("jsonl", false, "emit JSON lines instead of an indented array")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	trail, err := a.trail()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = trail.Close() }()

	entries, err := trail.List(ctx, *limit)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *jsonl {
		if err := audit.WriteJSONL(stdout, entries); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runReplayReceipts(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("replay-receipts", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if a.signer == nil {
		_, _ = fmt.Fprintln(stderr, "Error: ZAPGATE_SIGNER_SEED is required to replay receipts")
		return 1
	}

	orch, trail, code := buildOrchestrator(a, stderr)
	if code != 0 {
		return code
	}
	defer func() { _ = trail.Close() }()

	pending, err := orch.PendingReceipts(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(pending) == 0 {
		_, _ = fmt.Fprintln(stdout, "No pending receipts.")
		return 0
	}

	failed := 0
	for _, entry := range pending {
		acks, err := orch.ReplayReceipt(ctx, entry.ID)
		if err != nil {
			failed++
			_, _ = fmt.Fprintf(stderr, "receipt %s: %v\n", entry.Receipt.ID, err)
			continue
		}
		_, _ = fmt.Fprintf(stdout, "receipt %s: accepted by %d relay(s)\n", entry.Receipt.ID, acks)
	}
	if failed > 0 {
		return 1
	}
	return 0
}

func runNodes(a *app, stdout, stderr io.Writer) int {
	dir, err := a.directory()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(dir.Public()); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runHealth(ctx context.Context, a *app, stdout, stderr io.Writer) int {
	healthy := true

	if dir, err := a.directory(); err != nil {
		healthy = false
		_, _ = fmt.Fprintf(stdout, "node directory: FAIL (%v)\n", err)
	} else {
		_, _ = fmt.Fprintf(stdout, "node directory: ok (%d nodes)\n", dir.Len())
	}

	for _, ep := range a.cfg.Relays {
		if _, err := a.pool.Get(ctx, ep); err != nil {
			healthy = false
			_, _ = fmt.Fprintf(stdout, "relay %s: FAIL (%v)\n", ep, err)
			continue
		}
		_, _ = fmt.Fprintf(stdout, "relay %s: ok\n", ep)
	}

	if !healthy {
		_, _ = fmt.Fprintln(stderr, "health check failed")
		return 1
	}
	return 0
}
