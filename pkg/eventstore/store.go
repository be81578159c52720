// Package eventstore implements the durable append-only declaration log.
//
// Backed by SQLite in WAL mode with synchronous=FULL: an append is
// fsync-equivalent durable before it returns. Events are keyed by their
// gapless sequence number, unique on iscc_id and nonce, and indexed for
// datahash, iscc_code, pubkey and per-unit lookups. Readers never block
// the single writer.
package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iscc/iscc-hub-go/pkg/codec"
	"github.com/iscc/iscc-hub-go/pkg/contracts"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a lookup matches no event.
	ErrNotFound = errors.New("event not found")
	// ErrDuplicateNonce is returned when an insert violates nonce
	// uniqueness.
	ErrDuplicateNonce = errors.New("nonce already admitted")
)

// Store is the SQLite-backed event log.
type Store struct {
	db    *sql.DB
	realm codec.Realm
}

// Open opens (or creates) the event store at path and applies the schema.
// The special path ":memory:" opens an in-memory store for tests.
func Open(path string, realm codec.Realm) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	if path == ":memory:" {
		dsn = "file::memory:?mode=memory&cache=shared&_pragma=foreign_keys(ON)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	// WAL lets readers proceed while the single writer (the sequencer's
	// lane) commits. Writer exclusivity is enforced above this layer.
	if path == ":memory:" {
		// A shared in-memory database disappears when its last
		// connection closes.
		db.SetMaxOpenConns(1)
	}
	s := &Store{db: db, realm: realm}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing database handle, for tests.
func NewWithDB(db *sql.DB, realm codec.Realm) *Store {
	return &Store{db: db, realm: realm}
}

func (s *Store) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS events (
		seq         INTEGER PRIMARY KEY CHECK (seq > 0),
		iscc_id     BLOB NOT NULL UNIQUE,
		ts_us       INTEGER NOT NULL,
		server_id   INTEGER NOT NULL,
		pubkey      TEXT NOT NULL,
		nonce       TEXT NOT NULL UNIQUE,
		datahash    TEXT NOT NULL,
		iscc_code   TEXT NOT NULL,
		metahash    TEXT NOT NULL DEFAULT '',
		gateway     TEXT NOT NULL DEFAULT '',
		note_bytes  BLOB NOT NULL,
		received_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_datahash  ON events(datahash);
	CREATE INDEX IF NOT EXISTS idx_events_iscc_code ON events(iscc_code);
	CREATE INDEX IF NOT EXISTS idx_events_pubkey    ON events(pubkey);
	CREATE TABLE IF NOT EXISTS event_units (
		event_seq INTEGER NOT NULL REFERENCES events(seq),
		pos       INTEGER NOT NULL,
		unit      TEXT NOT NULL,
		PRIMARY KEY (event_seq, pos)
	);
	CREATE INDEX IF NOT EXISTS idx_event_units_unit ON event_units(unit);`
	_, err := s.db.ExecContext(context.Background(), schema)
	if err != nil {
		return fmt.Errorf("migrate event store: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Tail reports the last committed sequence number and timestamp, both
// zero on an empty log.
func (s *Store) Tail(ctx context.Context) (lastSeq, lastTsUS uint64, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT seq, ts_us FROM events ORDER BY seq DESC LIMIT 1`)
	var seq, ts int64
	if err := row.Scan(&seq, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	return uint64(seq), uint64(ts), nil
}

// WriteTx is an exclusive write transaction on the log.
type WriteTx struct {
	tx    *sql.Tx
	realm codec.Realm
}

// WithWriteTx runs fn inside an immediate (writer-exclusive) transaction
// and commits it if fn returns nil.
func (s *Store) WithWriteTx(ctx context.Context, fn func(*WriteTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	// Promote to a write transaction up front so the tail read and the
	// insert see one consistent head.
	if _, err := tx.ExecContext(ctx, "DELETE FROM events WHERE 0"); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := fn(&WriteTx{tx: tx, realm: s.realm}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Tail reads the log head inside the transaction.
func (w *WriteTx) Tail(ctx context.Context) (lastSeq, lastTsUS uint64, err error) {
	row := w.tx.QueryRowContext(ctx, `SELECT seq, ts_us FROM events ORDER BY seq DESC LIMIT 1`)
	var seq, ts int64
	if err := row.Scan(&seq, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	return uint64(seq), uint64(ts), nil
}

// NonceExists reports whether a nonce is already admitted.
func (w *WriteTx) NonceExists(ctx context.Context, nonce string) (bool, error) {
	row := w.tx.QueryRowContext(ctx, `SELECT 1 FROM events WHERE nonce = ?`, nonce)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Insert appends one event. Unique-constraint violations on the nonce
// surface as ErrDuplicateNonce.
func (w *WriteTx) Insert(ctx context.Context, ev *contracts.Event) error {
	body := ev.IDBody()
	_, err := w.tx.ExecContext(ctx, `
		INSERT INTO events (seq, iscc_id, ts_us, server_id, pubkey, nonce,
			datahash, iscc_code, metahash, gateway, note_bytes, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(ev.Seq), body[:], int64(ev.TsUS), int64(ev.ServerID), ev.Pubkey, ev.Nonce,
		ev.Datahash, ev.IsccCode, ev.Metahash, ev.Gateway, []byte(ev.Note),
		ev.ReceivedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isNonceConflict(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateNonce, ev.Nonce)
		}
		return fmt.Errorf("insert event: %w", err)
	}
	for i, unit := range ev.Units {
		if _, err := w.tx.ExecContext(ctx,
			`INSERT INTO event_units (event_seq, pos, unit) VALUES (?, ?, ?)`,
			int64(ev.Seq), i, unit); err != nil {
			return fmt.Errorf("insert unit projection: %w", err)
		}
	}
	return nil
}

func isNonceConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "events.nonce")
}

// IsBusy reports whether an error is a transient SQLite write-contention
// failure worth retrying.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}

const eventColumns = `seq, iscc_id, ts_us, server_id, pubkey, nonce,
	datahash, iscc_code, metahash, gateway, note_bytes, received_at`

// GetBySeq fetches one event by sequence number.
func (s *Store) GetBySeq(ctx context.Context, seq uint64) (*contracts.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE seq = ?`, int64(seq))
	return s.scanOne(ctx, row)
}

// GetByIsccID fetches one event by its 8-byte ISCC-ID body.
func (s *Store) GetByIsccID(ctx context.Context, body [8]byte) (*contracts.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE iscc_id = ?`, body[:])
	return s.scanOne(ctx, row)
}

// GetByNonce fetches one event by nonce.
func (s *Store) GetByNonce(ctx context.Context, nonce string) (*contracts.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE nonce = ?`, nonce)
	return s.scanOne(ctx, row)
}

// Scan returns up to limit events starting at seq from, in sequence
// order. The slice is contiguous by construction of the log.
func (s *Store) Scan(ctx context.Context, from uint64, limit int) ([]*contracts.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE seq >= ? ORDER BY seq LIMIT ?`,
		int64(from), limit)
	if err != nil {
		return nil, err
	}
	return s.scanAll(ctx, rows)
}

// LookupByDatahash returns all events declaring the given datahash.
func (s *Store) LookupByDatahash(ctx context.Context, datahash string) ([]*contracts.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE datahash = ? ORDER BY seq`, datahash)
	if err != nil {
		return nil, err
	}
	return s.scanAll(ctx, rows)
}

// LookupByIsccCode returns all events declaring the given ISCC-CODE.
func (s *Store) LookupByIsccCode(ctx context.Context, isccCode string) ([]*contracts.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE iscc_code = ? ORDER BY seq`, isccCode)
	if err != nil {
		return nil, err
	}
	return s.scanAll(ctx, rows)
}

// LookupByUnit returns all events that declared the given ISCC-UNIT.
func (s *Store) LookupByUnit(ctx context.Context, unit string) ([]*contracts.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE seq IN (SELECT event_seq FROM event_units WHERE unit = ?)
		ORDER BY seq`, unit)
	if err != nil {
		return nil, err
	}
	return s.scanAll(ctx, rows)
}

// LookupByPubkey returns all events declared under the given public key.
func (s *Store) LookupByPubkey(ctx context.Context, pubkey string) ([]*contracts.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE pubkey = ? ORDER BY seq`, pubkey)
	if err != nil {
		return nil, err
	}
	return s.scanAll(ctx, rows)
}

func (s *Store) scanOne(ctx context.Context, row *sql.Row) (*contracts.Event, error) {
	ev, err := scanEvent(row.Scan, s.realm)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := s.loadUnits(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *Store) scanAll(ctx context.Context, rows *sql.Rows) ([]*contracts.Event, error) {
	var events []*contracts.Event
	for rows.Next() {
		ev, err := scanEvent(rows.Scan, s.realm)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		events = append(events, ev)
	}
	// Release the cursor before issuing the unit lookups; the in-memory
	// store runs on a single connection.
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for _, ev := range events {
		if err := s.loadUnits(ctx, ev); err != nil {
			return nil, err
		}
	}
	return events, nil
}

func (s *Store) loadUnits(ctx context.Context, ev *contracts.Event) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT unit FROM event_units WHERE event_seq = ? ORDER BY pos`, int64(ev.Seq))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var unit string
		if err := rows.Scan(&unit); err != nil {
			return err
		}
		ev.Units = append(ev.Units, unit)
	}
	return rows.Err()
}

func scanEvent(scan func(...any) error, realm codec.Realm) (*contracts.Event, error) {
	var (
		seq, tsUS, serverID int64
		idBody, noteBytes   []byte
		pubkey, nonce       string
		datahash, isccCode  string
		metahash, gateway   string
		receivedAt          string
	)
	if err := scan(&seq, &idBody, &tsUS, &serverID, &pubkey, &nonce,
		&datahash, &isccCode, &metahash, &gateway, &noteBytes, &receivedAt); err != nil {
		return nil, err
	}
	var body [8]byte
	copy(body[:], idBody)
	received, _ := time.Parse(time.RFC3339Nano, receivedAt)
	return &contracts.Event{
		Seq:        uint64(seq),
		IsccID:     codec.IDFromBody(body, realm),
		TsUS:       uint64(tsUS),
		ServerID:   uint16(serverID),
		Note:       noteBytes,
		Pubkey:     pubkey,
		Nonce:      nonce,
		Datahash:   datahash,
		IsccCode:   isccCode,
		Metahash:   metahash,
		Gateway:    gateway,
		ReceivedAt: received,
	}, nil
}
