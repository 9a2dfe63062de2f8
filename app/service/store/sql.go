package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"meetwise/app/booking"

	_ "github.com/lib/pq"
	"github.com/samber/oops"
	_ "modernc.org/sqlite"
)

var _ Store = (*SQL)(nil)

// CurrentSchemaVersion is the latest schema version.
const CurrentSchemaVersion = 1

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQL stores conversations in SQLite or Postgres. Both share one schema;
// queries are written with ? placeholders and rebound for Postgres.
type SQL struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

// OpenSQLite opens (creating if needed) the database file at path in WAL mode.
func OpenSQLite(path string) (*SQL, error) {
	errBuilder := oops.In("store").With("driver", "sqlite", "path", path)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, errBuilder.Wrapf(err, "create database directory")
		}
	}

	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errBuilder.Wrapf(err, "open database")
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, errBuilder.Wrap(err)
	}

	return newSQL(db, dialectSQLite)
}

// OpenPostgres connects with a lib/pq connection string.
func OpenPostgres(dsn string) (*SQL, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, oops.In("store").With("driver", "postgres").Wrapf(err, "open database")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, oops.In("store").With("driver", "postgres").Wrapf(err, "ping database")
	}

	return newSQL(db, dialectPostgres)
}

func newSQL(db *sql.DB, d dialect) (*SQL, error) {
	s := &SQL{db: db, dialect: d, now: time.Now}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// migrate applies schema migrations recorded in schema_migrations.
func (s *SQL) migrate() error {
	errBuilder := oops.In("store")

	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)`); err != nil {
		return errBuilder.Wrapf(err, "create schema_migrations")
	}

	version, err := s.SchemaVersion()
	if err != nil {
		return err
	}

	// Migration 0 -> 1: initial schema
	if version < 1 {
		statements := []string{
			`CREATE TABLE IF NOT EXISTS conversations (
			  id          TEXT PRIMARY KEY,
			  state       TEXT,
			  version     BIGINT NOT NULL DEFAULT 0,
			  status      TEXT NOT NULL DEFAULT '',
			  turn_count  INTEGER NOT NULL DEFAULT 0,
			  updated_at  BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at)`,
			`CREATE TABLE IF NOT EXISTS messages (
			  id               TEXT PRIMARY KEY,
			  conversation_id  TEXT NOT NULL,
			  role             TEXT NOT NULL,
			  text             TEXT NOT NULL,
			  created_at       BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at, id)`,
		}

		for _, stmt := range statements {
			if _, err := s.db.Exec(stmt); err != nil {
				return errBuilder.Wrapf(err, "migration 1 failed")
			}
		}

		if _, err := s.db.Exec(s.rebind(`INSERT INTO schema_migrations (version) VALUES (?)`), 1); err != nil {
			return errBuilder.Wrapf(err, "record migration 1")
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

// SchemaVersion returns the highest applied migration.
func (s *SQL) SchemaVersion() (int, error) {
	var version sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, oops.In("store").Wrapf(err, "get schema version")
	}
	return int(version.Int64), nil
}

func (s *SQL) LoadState(ctx context.Context, conversationID string) (booking.State, error) {
	errBuilder := oops.In("store").With("conversation_id", conversationID)

	var data sql.NullString
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT state FROM conversations WHERE id = ?`), conversationID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !data.Valid) {
		return booking.State{}, errBuilder.Wrap(ErrNotFound)
	}
	if err != nil {
		return booking.State{}, errBuilder.Wrapf(err, "select state")
	}

	var st booking.State
	if err := json.Unmarshal([]byte(data.String), &st); err != nil {
		return booking.State{}, errBuilder.Wrapf(err, "decode state")
	}

	return st, nil
}

func (s *SQL) SaveState(ctx context.Context, st booking.State, expectedVersion int64) (int64, error) {
	errBuilder := oops.In("store").With("conversation_id", st.ConversationID, "expected_version", expectedVersion)

	saved := st.Clone()
	saved.Version = expectedVersion + 1

	data, err := json.Marshal(saved)
	if err != nil {
		return 0, errBuilder.Wrapf(err, "encode state")
	}

	now := s.now().UnixMilli()

	var res sql.Result
	if expectedVersion == 0 {
		// A row without state may already exist when messages came first.
		res, err = s.db.ExecContext(ctx, s.rebind(`
			INSERT INTO conversations (id, state, version, status, turn_count, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
			  state = excluded.state,
			  version = excluded.version,
			  status = excluded.status,
			  turn_count = excluded.turn_count,
			  updated_at = excluded.updated_at
			WHERE conversations.version = 0`),
			saved.ConversationID, string(data), saved.Version, string(saved.Draft.Status), saved.TurnCount, now)
	} else {
		res, err = s.db.ExecContext(ctx, s.rebind(`
			UPDATE conversations
			SET state = ?, version = ?, status = ?, turn_count = ?, updated_at = ?
			WHERE id = ? AND version = ?`),
			string(data), saved.Version, string(saved.Draft.Status), saved.TurnCount, now,
			saved.ConversationID, expectedVersion)
	}
	if err != nil {
		return 0, errBuilder.Wrapf(err, "save state")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errBuilder.Wrapf(err, "rows affected")
	}
	if affected == 0 {
		return 0, errBuilder.Wrap(booking.ErrVersionConflict)
	}

	return saved.Version, nil
}

func (s *SQL) AppendMessages(ctx context.Context, msgs ...booking.Message) error {
	errBuilder := oops.In("store")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errBuilder.Wrapf(err, "begin transaction")
	}
	defer tx.Rollback()

	now := s.now().UnixMilli()

	for _, msg := range prepareMessages(msgs) {
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO messages (id, conversation_id, role, text, created_at) VALUES (?, ?, ?, ?, ?)`),
			msg.ID, msg.ConversationID, string(msg.Role), msg.Text, msg.At.UnixMilli()); err != nil {
			return errBuilder.With("conversation_id", msg.ConversationID).Wrapf(err, "insert message")
		}

		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO conversations (id, updated_at) VALUES (?, ?)
			ON CONFLICT (id) DO UPDATE SET updated_at = excluded.updated_at`),
			msg.ConversationID, now); err != nil {
			return errBuilder.With("conversation_id", msg.ConversationID).Wrapf(err, "touch conversation")
		}
	}

	if err := tx.Commit(); err != nil {
		return errBuilder.Wrapf(err, "commit transaction")
	}

	return nil
}

func (s *SQL) History(ctx context.Context, conversationID string) ([]booking.Message, error) {
	errBuilder := oops.In("store").With("conversation_id", conversationID)

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, role, text, created_at FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at, id`), conversationID)
	if err != nil {
		return nil, errBuilder.Wrapf(err, "select messages")
	}
	defer rows.Close()

	result := []booking.Message{}
	for rows.Next() {
		var (
			msg  booking.Message
			role string
			at   int64
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Text, &at); err != nil {
			return nil, errBuilder.Wrapf(err, "scan message")
		}

		msg.ConversationID = conversationID
		msg.Role = booking.Role(role)
		msg.At = time.UnixMilli(at).UTC()
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errBuilder.Wrapf(err, "iterate messages")
	}

	return result, nil
}

func (s *SQL) Recent(ctx context.Context, limit int) ([]Summary, error) {
	errBuilder := oops.In("store").With("limit", limit)

	query := `SELECT id, status, turn_count, updated_at FROM conversations ORDER BY updated_at DESC, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, errBuilder.Wrapf(err, "select conversations")
	}
	defer rows.Close()

	result := []Summary{}
	for rows.Next() {
		var (
			summary Summary
			status  string
			updated int64
		)
		if err := rows.Scan(&summary.ConversationID, &status, &summary.TurnCount, &updated); err != nil {
			return nil, errBuilder.Wrapf(err, "scan conversation")
		}

		summary.Status = booking.Status(status)
		summary.UpdatedAt = time.UnixMilli(updated).UTC()
		result = append(result, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, errBuilder.Wrapf(err, "iterate conversations")
	}

	return result, nil
}

func (s *SQL) Delete(ctx context.Context, conversationID string) error {
	errBuilder := oops.In("store").With("conversation_id", conversationID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errBuilder.Wrapf(err, "begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM messages WHERE conversation_id = ?`), conversationID); err != nil {
		return errBuilder.Wrapf(err, "delete messages")
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM conversations WHERE id = ?`), conversationID); err != nil {
		return errBuilder.Wrapf(err, "delete conversation")
	}

	if err := tx.Commit(); err != nil {
		return errBuilder.Wrapf(err, "commit transaction")
	}

	return nil
}

func (s *SQL) Purge(ctx context.Context, before time.Time) (int, error) {
	errBuilder := oops.In("store").With("before", before)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errBuilder.Wrapf(err, "begin transaction")
	}
	defer tx.Rollback()

	cutoff := before.UnixMilli()

	if _, err := tx.ExecContext(ctx, s.rebind(`
		DELETE FROM messages WHERE conversation_id IN (
		  SELECT id FROM conversations WHERE updated_at < ?
		)`), cutoff); err != nil {
		return 0, errBuilder.Wrapf(err, "delete messages")
	}

	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM conversations WHERE updated_at < ?`), cutoff)
	if err != nil {
		return 0, errBuilder.Wrapf(err, "delete conversations")
	}

	purged, err := res.RowsAffected()
	if err != nil {
		return 0, errBuilder.Wrapf(err, "rows affected")
	}

	if err := tx.Commit(); err != nil {
		return 0, errBuilder.Wrapf(err, "commit transaction")
	}

	return int(purged), nil
}

func (s *SQL) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return oops.In("store").Wrapf(err, "ping database")
	}

	if _, err := s.db.ExecContext(ctx, `SELECT 1 FROM conversations LIMIT 1`); err != nil {
		return oops.In("store").Wrapf(err, "query conversations")
	}

	return nil
}

func (s *SQL) Shutdown() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQL) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}

	return b.String()
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}
