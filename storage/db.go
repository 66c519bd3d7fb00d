// Package storage persists assistant exchanges to SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"

	"github.com/m4xw311/conch/errors"
)

// Exchange is one generate round trip: what the user asked and what the
// assistant suggested.
type Exchange struct {
	ID         int64
	Timestamp  time.Time
	SessionID  string
	Query      string
	Suggestion string
	Commands   []string
	Executable bool
}

// DB wraps the SQLite connection and the exchange table operations.
type DB struct {
	conn *sql.DB
}

// NewDB opens/creates a SQLite database at the given path and initializes
// the schema. Pass ":memory:" for an in-memory database (useful for tests).
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database")
	}

	// Enable WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "failed to enable WAL mode")
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "failed to initialize schema")
	}
	return db, nil
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exchanges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		session_id TEXT NOT NULL,
		query TEXT NOT NULL,
		suggestion TEXT NOT NULL,
		commands TEXT NOT NULL,
		executable INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_exchanges_ts ON exchanges(ts DESC);
	CREATE INDEX IF NOT EXISTS idx_exchanges_session ON exchanges(session_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// InsertExchange stores one exchange and fills in its id.
func (db *DB) InsertExchange(ctx context.Context, ex *Exchange) error {
	commands, err := json.Marshal(ex.Commands)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal commands")
	}

	result, err := db.conn.ExecContext(ctx, `
		INSERT INTO exchanges (ts, session_id, query, suggestion, commands, executable, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		ex.Timestamp.Unix(),
		ex.SessionID,
		ex.Query,
		ex.Suggestion,
		string(commands),
		boolToInt(ex.Executable),
		time.Now().Unix(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to insert exchange")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrapf(err, "failed to get last insert id")
	}
	ex.ID = id
	return nil
}

// RecentExchanges retrieves the N most recent exchanges, newest first.
func (db *DB) RecentExchanges(ctx context.Context, limit int) ([]*Exchange, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, ts, session_id, query, suggestion, commands, executable
		FROM exchanges
		ORDER BY ts DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query recent exchanges")
	}
	defer rows.Close()
	return scanExchanges(rows)
}

// ExchangesBySession retrieves exchanges for one session, newest first.
func (db *DB) ExchangesBySession(ctx context.Context, sessionID string, limit int) ([]*Exchange, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, ts, session_id, query, suggestion, commands, executable
		FROM exchanges
		WHERE session_id = ?
		ORDER BY ts DESC, id DESC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query exchanges by session")
	}
	defer rows.Close()
	return scanExchanges(rows)
}

func scanExchanges(rows *sql.Rows) ([]*Exchange, error) {
	var out []*Exchange
	for rows.Next() {
		var ex Exchange
		var tsUnix int64
		var commands string
		var executable int
		if err := rows.Scan(&ex.ID, &tsUnix, &ex.SessionID, &ex.Query, &ex.Suggestion, &commands, &executable); err != nil {
			return nil, errors.Wrapf(err, "failed to scan exchange row")
		}
		ex.Timestamp = time.Unix(tsUnix, 0)
		ex.Executable = executable != 0
		if err := json.Unmarshal([]byte(commands), &ex.Commands); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal commands")
		}
		out = append(out, &ex)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating exchange rows")
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
