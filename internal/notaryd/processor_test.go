package notaryd

import (
	"context"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/keyer"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// newTestKeyer generates a fresh keypair and wraps it in a real signer, the
// same way the teacher constructs keys for unit tests (no mocked Keyer).
func newTestKeyer(t *testing.T) (sk, pk string, kr nostr.Keyer) {
	t.Helper()
	sk = nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)
	kr, err = keyer.NewPlainKeySigner(sk)
	require.NoError(t, err)
	return sk, pk, kr
}

// newTestProcessor wires a Processor against a real Store and a real relay
// pool with zero configured relays, so BadgePublisher/StatsResponder publish
// calls range an already-empty fanout and return without any network I/O —
// a fake publisher was not needed, the real one is already relay-less.
func newTestProcessor(t *testing.T, trusted map[string]struct{}) (proc *Processor, store *Store, notaryPK string, notaryKr nostr.Keyer) {
	t.Helper()
	store = newTestStore(t)
	notarySK, pk, kr := newTestKeyer(t)
	notaryPK, notaryKr = pk, kr

	pool := nostr.NewSimplePool(context.Background())
	log := zerolog.Nop()
	ioTimeout := time.Second

	badges := NewBadgePublisher(pool, nil, notarySK, ioTimeout, log)
	stats := NewStatsResponder(pool, nil, notaryKr, store, ioTimeout, log)
	proc = NewProcessor(store, badges, stats, notaryKr, trusted, notaryPK, ioTimeout, log)
	return proc, store, notaryPK, notaryKr
}

func receiptEvent(coordinator, buyer, network, d string, createdAt int64) *nostr.Event {
	return &nostr.Event{
		Kind:      KindReceipt,
		PubKey:    coordinator,
		CreatedAt: nostr.Timestamp(createdAt),
		Tags: nostr.Tags{
			{"d", d},
			{"p", buyer},
			{"net", network},
		},
	}
}

func reportEvent(coordinator, buyer, network, reason string, createdAt int64) *nostr.Event {
	return &nostr.Event{
		Kind:      KindReport,
		PubKey:    coordinator,
		CreatedAt: nostr.Timestamp(createdAt),
		Tags: nostr.Tags{
			{"p", buyer},
			{"net", network},
			{"report", reason},
		},
	}
}

// TestHandleEventDropsUntrustedReceipt covers P7/scenario 7: an event from a
// coordinator outside the federation allowlist must never touch the Store.
func TestHandleEventDropsUntrustedReceipt(t *testing.T) {
	untrusted := "9999999999999999999999999999999999999999999999999999999999999999"
	proc, store, _, _ := newTestProcessor(t, map[string]struct{}{coordA: {}})

	require.NoError(t, store.UpsertPendingRequest(eph1, master, 1))
	require.NoError(t, store.UpsertPendingConfirm(eph1, master, 1))
	_, err := store.TryFinalizeLink(eph1, 1)
	require.NoError(t, err)

	proc.HandleEvent(context.Background(), receiptEvent(untrusted, eph1, NetworkMainnet, "d1", 100))

	count, err := store.SuccessCountForMaster(master, NetworkMainnet)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

// TestHandleEventAcceptsTrustedReceipt is the positive counterpart: a
// trusted coordinator's receipt is ingested and, once the buyer is linked,
// feeds a badge publish that must not error even with no relays configured.
func TestHandleEventAcceptsTrustedReceipt(t *testing.T) {
	proc, store, _, _ := newTestProcessor(t, map[string]struct{}{coordA: {}})
	ctx := context.Background()

	require.NoError(t, store.UpsertPendingRequest(eph1, master, 1))
	require.NoError(t, store.UpsertPendingConfirm(eph1, master, 1))
	_, err := store.TryFinalizeLink(eph1, 1)
	require.NoError(t, err)

	proc.HandleEvent(ctx, receiptEvent(coordA, eph1, NetworkMainnet, "d1", 100))

	count, err := store.SuccessCountForMaster(master, NetworkMainnet)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	// reprocessing the identical receipt (P1) must not double count, even
	// routed through the classifier rather than the Store directly.
	proc.HandleEvent(ctx, receiptEvent(coordA, eph1, NetworkMainnet, "d1", 100))
	count, err = store.SuccessCountForMaster(master, NetworkMainnet)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

// TestHandleEventDropsUntrustedReport mirrors the receipt case for reports.
func TestHandleEventDropsUntrustedReport(t *testing.T) {
	untrusted := "8888888888888888888888888888888888888888888888888888888888888888"
	proc, store, _, _ := newTestProcessor(t, map[string]struct{}{coordA: {}})

	require.NoError(t, store.UpsertPendingRequest(eph1, master, 1))
	require.NoError(t, store.UpsertPendingConfirm(eph1, master, 1))
	_, err := store.TryFinalizeLink(eph1, 1)
	require.NoError(t, err)

	proc.HandleEvent(context.Background(), reportEvent(untrusted, eph1, NetworkMainnet, "scammer", 5))

	reported, err := store.IsMasterReported(master)
	require.NoError(t, err)
	require.False(t, reported)
}

// TestProcessReportPropagatesAcrossLinkedEphemerals covers P5/scenario 4 at
// the Processor layer: a report against one ephemeral marks every ephemeral
// linked to the same master reported, and republishing every one of them on
// both networks must not error.
func TestProcessReportPropagatesAcrossLinkedEphemerals(t *testing.T) {
	proc, store, _, _ := newTestProcessor(t, map[string]struct{}{coordA: {}})
	ctx := context.Background()

	require.NoError(t, store.UpsertPendingRequest(eph1, master, 1))
	require.NoError(t, store.UpsertPendingConfirm(eph1, master, 1))
	_, err := store.TryFinalizeLink(eph1, 1)
	require.NoError(t, err)

	require.NoError(t, store.UpsertPendingRequest(eph2, master, 2))
	require.NoError(t, store.UpsertPendingConfirm(eph2, master, 2))
	_, err = store.TryFinalizeLink(eph2, 2)
	require.NoError(t, err)

	proc.HandleEvent(ctx, reportEvent(coordA, eph1, NetworkMainnet, "scammer", 5))

	reported, err := store.IsMasterReported(master)
	require.NoError(t, err)
	require.True(t, reported)

	ephemerals, err := store.ListEphemeralsForMaster(master)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{eph1, eph2}, ephemerals)

	// reprocessing the same report must stay idempotent.
	proc.HandleEvent(ctx, reportEvent(coordA, eph1, NetworkMainnet, "scammer", 5))
	reported, err = store.IsMasterReported(master)
	require.NoError(t, err)
	require.True(t, reported)
}
