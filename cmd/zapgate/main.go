package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/zapgate-labs/zapgate/pkg/config"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	switch args[1] {
	case "unlock":
		return withApp(ctx, cfg, stderr, func(a *app) int { return runUnlock(ctx, a, args[2:], stdout, stderr) })
	case "access":
		return withApp(ctx, cfg, stderr, func(a *app) int { return runAccess(ctx, a, args[2:], stdout, stderr) })
	case "count":
		return withApp(ctx, cfg, stderr, func(a *app) int { return runCount(ctx, a, args[2:], stdout, stderr) })
	case "audit":
		return withApp(ctx, cfg, stderr, func(a *app) int { return runAudit(ctx, a, args[2:], stdout, stderr) })
	case "replay-receipts":
		return withApp(ctx, cfg, stderr, func(a *app) int { return runReplayReceipts(ctx, a, args[2:], stdout, stderr) })
	case "nodes":
		return withApp(ctx, cfg, stderr, func(a *app) int { return runNodes(a, stdout, stderr) })
	case "health":
		return withApp(ctx, cfg, stderr, func(a *app) int { return runHealth(ctx, a, stdout, stderr) })
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func withApp(ctx context.Context, cfg *config.Config, stderr io.Writer, fn func(*app) int) int {
	a, err := newApp(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.close(context.Background())
	return fn(a)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "zapgate - Lightning-gated content over relays")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  zapgate <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  unlock            Pay for and unlock a gated item")
	fmt.Fprintln(w, "  access            Check whether a viewer may see an item")
	fmt.Fprintln(w, "  count             Count purchase receipts for an item")
	fmt.Fprintln(w, "  audit             List the local unlock audit trail")
	fmt.Fprintln(w, "  replay-receipts   Republish receipts that never reached a relay")
	fmt.Fprintln(w, "  nodes             List configured gateway nodes (credentials stripped)")
	fmt.Fprintln(w, "  health            Check relay and node directory health")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Configuration comes from ZAPGATE_* environment variables.")
}
