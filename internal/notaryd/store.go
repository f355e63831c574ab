package notaryd

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store is the notary's durable, embedded table store: receipts, reports,
// links, and the two pending-handshake queues. Every write is idempotent by
// primary key (spec §3, invariants I1-I5). It is shared by the service's
// per-event goroutines; access is serialized through a single database
// connection, with no internal locking beyond that and sqlite's own.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if necessary) the embedded sqlite database at
// path and applies the notary's schema. WAL journal mode and NORMAL
// synchronous mode mirror original_source's NotaryStore, trading a small
// durability window on OS crash for low per-commit latency — acceptable
// here because every row is re-derivable from replayed relay history.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer; avoids sqlite's concurrent-writer lock errors

	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous=NORMAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set synchronous: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS links (
			ephemeral_pubkey TEXT PRIMARY KEY,
			master_pubkey TEXT NOT NULL,
			linked_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS pending_link_requests (
			ephemeral_pubkey TEXT PRIMARY KEY,
			master_pubkey TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS pending_link_confirms (
			ephemeral_pubkey TEXT PRIMARY KEY,
			master_pubkey TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS receipts (
			receipt_key TEXT PRIMARY KEY,
			coordinator_pubkey TEXT NOT NULL,
			buyer_pubkey TEXT NOT NULL,
			network TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS reports (
			report_key TEXT PRIMARY KEY,
			coordinator_pubkey TEXT NOT NULL,
			buyer_pubkey TEXT NOT NULL,
			network TEXT NOT NULL,
			report TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_buyer_net ON receipts(buyer_pubkey, network);`,
		`CREATE INDEX IF NOT EXISTS idx_links_master ON links(master_pubkey);`,
		`CREATE INDEX IF NOT EXISTS idx_reports_buyer_net ON reports(buyer_pubkey, network);`,
		`CREATE INDEX IF NOT EXISTS idx_reports_coord ON reports(coordinator_pubkey);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertReceipt inserts a receipt if receiptKey hasn't been seen before.
// Returns true iff a new row was inserted (spec I3: second observations are
// silently ignored).
func (s *Store) UpsertReceipt(receiptKey, coordinatorPubkey, buyerPubkey, network string, createdAt int64) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO receipts(receipt_key, coordinator_pubkey, buyer_pubkey, network, created_at)
		 VALUES(?, ?, ?, ?, ?);`,
		receiptKey, coordinatorPubkey, buyerPubkey, network, createdAt,
	)
	if err != nil {
		return false, fmt.Errorf("upsert receipt: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpsertReport inserts a report keyed by (coordinator, network, buyer,
// report-kind). Returns true iff a new row was inserted.
func (s *Store) UpsertReport(coordinatorPubkey, buyerPubkey, network, report string, createdAt int64) (bool, error) {
	reportKey := coordinatorPubkey + ":" + network + ":" + buyerPubkey + ":" + report
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO reports(report_key, coordinator_pubkey, buyer_pubkey, network, report, created_at)
		 VALUES(?, ?, ?, ?, ?, ?);`,
		reportKey, coordinatorPubkey, buyerPubkey, network, report, createdAt,
	)
	if err != nil {
		return false, fmt.Errorf("upsert report: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetMasterForEphemeral returns the linked master pubkey for ephemeral, or
// "" if it isn't linked.
func (s *Store) GetMasterForEphemeral(ephemeralPubkey string) (string, error) {
	var master string
	err := s.db.QueryRow(`SELECT master_pubkey FROM links WHERE ephemeral_pubkey = ?;`, ephemeralPubkey).Scan(&master)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get master for ephemeral: %w", err)
	}
	return master, nil
}

// IsEphemeralReported reports whether any report exists naming ephemeral as
// the buyer, regardless of network or coordinator.
func (s *Store) IsEphemeralReported(ephemeralPubkey string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM reports WHERE buyer_pubkey = ? LIMIT 1;`, ephemeralPubkey).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is ephemeral reported: %w", err)
	}
	return true, nil
}

// IsMasterReported reports whether any ephemeral linked to master has ever
// been reported, on any network or by any coordinator.
func (s *Store) IsMasterReported(masterPubkey string) (bool, error) {
	var one int
	err := s.db.QueryRow(
		`SELECT 1
		 FROM reports r
		 JOIN links l ON l.ephemeral_pubkey = r.buyer_pubkey
		 WHERE l.master_pubkey = ?
		 LIMIT 1;`,
		masterPubkey,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is master reported: %w", err)
	}
	return true, nil
}

// ListEphemeralsForMaster returns every ephemeral pubkey linked to master.
func (s *Store) ListEphemeralsForMaster(masterPubkey string) ([]string, error) {
	rows, err := s.db.Query(`SELECT ephemeral_pubkey FROM links WHERE master_pubkey = ?;`, masterPubkey)
	if err != nil {
		return nil, fmt.Errorf("list ephemerals for master: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var eph string
		if err := rows.Scan(&eph); err != nil {
			return nil, fmt.Errorf("list ephemerals for master: %w", err)
		}
		out = append(out, eph)
	}
	return out, rows.Err()
}

// UpsertPendingRequest records the ephemeral's half of a handshake,
// overwriting any prior attempt for the same ephemeral (spec §4.4: retries
// from either side must be idempotent).
func (s *Store) UpsertPendingRequest(ephemeralPubkey, masterPubkey string, createdAt int64) error {
	_, err := s.db.Exec(
		`INSERT INTO pending_link_requests(ephemeral_pubkey, master_pubkey, created_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(ephemeral_pubkey) DO UPDATE SET master_pubkey=excluded.master_pubkey, created_at=excluded.created_at;`,
		ephemeralPubkey, masterPubkey, createdAt,
	)
	if err != nil {
		return fmt.Errorf("upsert pending request: %w", err)
	}
	return nil
}

// UpsertPendingConfirm records the master's half of a handshake.
func (s *Store) UpsertPendingConfirm(ephemeralPubkey, masterPubkey string, createdAt int64) error {
	_, err := s.db.Exec(
		`INSERT INTO pending_link_confirms(ephemeral_pubkey, master_pubkey, created_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(ephemeral_pubkey) DO UPDATE SET master_pubkey=excluded.master_pubkey, created_at=excluded.created_at;`,
		ephemeralPubkey, masterPubkey, createdAt,
	)
	if err != nil {
		return fmt.Errorf("upsert pending confirm: %w", err)
	}
	return nil
}

// TryFinalizeLink joins the pending request/confirm halves for ephemeral.
// If both exist and agree on the master, it atomically upserts the Link,
// deletes both pending rows, and returns the master pubkey. Otherwise it
// returns "" without mutating anything — in particular, a mismatch is
// retained, not deleted, so a later corrected half can still finalize it
// (spec §4.4, invariant I2/I4).
func (s *Store) TryFinalizeLink(ephemeralPubkey string, now int64) (string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("try finalize link: begin: %w", err)
	}
	defer tx.Rollback()

	var fromRequest, fromConfirm string
	err = tx.QueryRow(
		`SELECT r.master_pubkey, c.master_pubkey
		 FROM pending_link_requests r
		 JOIN pending_link_confirms c ON c.ephemeral_pubkey = r.ephemeral_pubkey
		 WHERE r.ephemeral_pubkey = ?;`,
		ephemeralPubkey,
	).Scan(&fromRequest, &fromConfirm)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("try finalize link: %w", err)
	}
	if fromRequest != fromConfirm {
		return "", nil
	}

	if _, err := tx.Exec(
		`INSERT INTO links(ephemeral_pubkey, master_pubkey, linked_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(ephemeral_pubkey) DO UPDATE SET master_pubkey=excluded.master_pubkey, linked_at=excluded.linked_at;`,
		ephemeralPubkey, fromRequest, now,
	); err != nil {
		return "", fmt.Errorf("try finalize link: insert: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM pending_link_requests WHERE ephemeral_pubkey = ?;`, ephemeralPubkey); err != nil {
		return "", fmt.Errorf("try finalize link: clear request: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM pending_link_confirms WHERE ephemeral_pubkey = ?;`, ephemeralPubkey); err != nil {
		return "", fmt.Errorf("try finalize link: clear confirm: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("try finalize link: commit: %w", err)
	}
	return fromRequest, nil
}

// SuccessCountForMaster counts receipts on network across every ephemeral
// linked to master.
func (s *Store) SuccessCountForMaster(masterPubkey, network string) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*)
		 FROM receipts r
		 JOIN links l ON l.ephemeral_pubkey = r.buyer_pubkey
		 WHERE l.master_pubkey = ? AND r.network = ?;`,
		masterPubkey, network,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("success count for master: %w", err)
	}
	return count, nil
}

// FirstSuccessAtForMaster returns the earliest receipt created_at for
// master on network, or (0, false) if there are none.
func (s *Store) FirstSuccessAtForMaster(masterPubkey, network string) (int64, bool, error) {
	var first sql.NullInt64
	err := s.db.QueryRow(
		`SELECT MIN(r.created_at)
		 FROM receipts r
		 JOIN links l ON l.ephemeral_pubkey = r.buyer_pubkey
		 WHERE l.master_pubkey = ? AND r.network = ?;`,
		masterPubkey, network,
	).Scan(&first)
	if err != nil {
		return 0, false, fmt.Errorf("first success at for master: %w", err)
	}
	if !first.Valid {
		return 0, false, nil
	}
	return first.Int64, true, nil
}

// StoreStats is a read-only snapshot of table row counts, printed by the
// `notary -stats` subcommand for operational visibility.
type StoreStats struct {
	Receipts             int
	Reports              int
	Links                int
	PendingLinkRequests  int
	PendingLinkConfirms  int
}

// Stats returns row counts for every table. It exercises no invariant; it
// backs the `-stats` flag in cmd/notary, which opens the store directly
// without starting the relay pool or subscriptions.
func (s *Store) Stats() (StoreStats, error) {
	var st StoreStats
	for table, dst := range map[string]*int{
		"receipts":                &st.Receipts,
		"reports":                 &st.Reports,
		"links":                   &st.Links,
		"pending_link_requests":   &st.PendingLinkRequests,
		"pending_link_confirms":   &st.PendingLinkConfirms,
	} {
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table + `;`).Scan(dst); err != nil {
			return StoreStats{}, fmt.Errorf("stats: %s: %w", table, err)
		}
	}
	return st, nil
}
