// Command notary runs the buyer reputation notary daemon: it ingests
// coordinator-signed receipts and reports, links ephemeral pubkeys to master
// identities, and republishes reputation badges.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robosats-notary/reputation-notary/internal/notaryd"
)

func main() {
	envFlag := flag.String("env", "", "path to a .env file (optional)")
	debugFlag := flag.Bool("debug", false, "enable debug logging and disable the gift-wrap p-tag filter")
	statsFlag := flag.Bool("stats", false, "print store row counts and exit, instead of starting the daemon")
	flag.Parse()

	cfg, err := notaryd.LoadConfig(*envFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if *debugFlag {
		cfg.Debug = true
	}

	if *statsFlag {
		runStats(cfg)
		return
	}

	log := notaryd.NewLogger(cfg.Debug)

	svc, err := notaryd.NewService(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := svc.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "notary stopped with error: %v\n", err)
		os.Exit(1)
	}
}

// runStats opens the store read-only-in-practice (no subscriptions, no
// relay pool) and prints row counts for operational visibility.
func runStats(cfg notaryd.Config) {
	store, err := notaryd.OpenStore(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stats: opening store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	stats, err := store.Stats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "stats: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("receipts:               %d\n", stats.Receipts)
	fmt.Printf("reports:                %d\n", stats.Reports)
	fmt.Printf("links:                  %d\n", stats.Links)
	fmt.Printf("pending_link_requests:  %d\n", stats.PendingLinkRequests)
	fmt.Printf("pending_link_confirms:  %d\n", stats.PendingLinkConfirms)
}
