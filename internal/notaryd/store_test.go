package notaryd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "notary.sqlite3")
	store, err := OpenStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

const (
	coordA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	eph1   = "1111111111111111111111111111111111111111111111111111111111111111"
	eph2   = "2222222222222222222222222222222222222222222222222222222222222222"
	master = "3333333333333333333333333333333333333333333333333333333333333333"
)

// TestUpsertReceiptIdempotent covers P1: processing the same receipt twice
// leaves Store state identical to processing it once.
func TestUpsertReceiptIdempotent(t *testing.T) {
	store := newTestStore(t)

	inserted, err := store.UpsertReceipt(coordA+":d1", coordA, eph1, NetworkMainnet, 100)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = store.UpsertReceipt(coordA+":d1", coordA, eph1, NetworkMainnet, 100)
	require.NoError(t, err)
	require.False(t, inserted)

	require.NoError(t, store.UpsertPendingRequest(eph1, master, 1))
	require.NoError(t, store.UpsertPendingConfirm(eph1, master, 2))
	_, err = store.TryFinalizeLink(eph1, 3)
	require.NoError(t, err)

	count, err := store.SuccessCountForMaster(master, NetworkMainnet)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

// TestTryFinalizeLinkOutOfOrder covers P2/P3 and scenario 5: either
// handshake half may arrive first.
func TestTryFinalizeLinkOutOfOrder(t *testing.T) {
	store := newTestStore(t)

	// confirm arrives first, no request yet
	require.NoError(t, store.UpsertPendingConfirm(eph1, master, 1))
	got, err := store.TryFinalizeLink(eph1, 1)
	require.NoError(t, err)
	require.Equal(t, "", got)

	// request arrives, now both halves exist and agree
	require.NoError(t, store.UpsertPendingRequest(eph1, master, 2))
	got, err = store.TryFinalizeLink(eph1, 2)
	require.NoError(t, err)
	require.Equal(t, master, got)

	gotMaster, err := store.GetMasterForEphemeral(eph1)
	require.NoError(t, err)
	require.Equal(t, master, gotMaster)
}

// TestTryFinalizeLinkConflictRetained covers scenario 6: mismatched halves
// are retained, not deleted, until a consistent retry arrives.
func TestTryFinalizeLinkConflictRetained(t *testing.T) {
	store := newTestStore(t)

	otherMaster := "4444444444444444444444444444444444444444444444444444444444444444"

	require.NoError(t, store.UpsertPendingRequest(eph1, master, 1))
	require.NoError(t, store.UpsertPendingConfirm(eph1, otherMaster, 2))

	got, err := store.TryFinalizeLink(eph1, 3)
	require.NoError(t, err)
	require.Equal(t, "", got)

	linked, err := store.GetMasterForEphemeral(eph1)
	require.NoError(t, err)
	require.Equal(t, "", linked)

	// corrected confirm arrives agreeing with the original request
	require.NoError(t, store.UpsertPendingConfirm(eph1, master, 4))
	got, err = store.TryFinalizeLink(eph1, 4)
	require.NoError(t, err)
	require.Equal(t, master, got)
}

// TestIsMasterReportedAcrossEphemerals covers P5: a report against one
// ephemeral of a master marks every ephemeral of that master reported.
func TestIsMasterReportedAcrossEphemerals(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.UpsertPendingRequest(eph1, master, 1))
	require.NoError(t, store.UpsertPendingConfirm(eph1, master, 1))
	_, err := store.TryFinalizeLink(eph1, 1)
	require.NoError(t, err)

	require.NoError(t, store.UpsertPendingRequest(eph2, master, 2))
	require.NoError(t, store.UpsertPendingConfirm(eph2, master, 2))
	_, err = store.TryFinalizeLink(eph2, 2)
	require.NoError(t, err)

	reported, err := store.IsMasterReported(master)
	require.NoError(t, err)
	require.False(t, reported)

	inserted, err := store.UpsertReport(coordA, eph1, NetworkMainnet, "scammer", 5)
	require.NoError(t, err)
	require.True(t, inserted)

	reported, err = store.IsMasterReported(master)
	require.NoError(t, err)
	require.True(t, reported)

	ephemerals, err := store.ListEphemeralsForMaster(master)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{eph1, eph2}, ephemerals)
}

func TestFirstSuccessAtForMasterNoReceipts(t *testing.T) {
	store := newTestStore(t)

	_, has, err := store.FirstSuccessAtForMaster(master, NetworkMainnet)
	require.NoError(t, err)
	require.False(t, has)
}
