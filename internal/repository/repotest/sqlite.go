// Package repotest opens an in-memory SQLite database with the same tables
// as the MySQL migrations so repository SQL can be exercised in tests.
package repotest

import (
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

const schema = `
CREATE TABLE users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'CUSTOMER',
	is_active BOOLEAN NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE refresh_tokens (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	token_hash TEXT NOT NULL UNIQUE,
	expires_at DATETIME NOT NULL,
	revoked_at DATETIME NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE password_resets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	token_hash TEXT NOT NULL UNIQUE,
	expires_at DATETIME NOT NULL,
	used_at DATETIME NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	recital_type TEXT NOT NULL,
	starts_at DATETIME NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE seats (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id INTEGER NOT NULL,
	section TEXT NOT NULL,
	row_label TEXT NOT NULL,
	seat_number INTEGER NOT NULL,
	display_order INTEGER NOT NULL DEFAULT 0,
	is_available BOOLEAN NOT NULL DEFAULT 1,
	is_reserved BOOLEAN NOT NULL DEFAULT 0,
	reservation_timestamp DATETIME NULL,
	reserved_by INTEGER NULL,
	handicap_access BOOLEAN NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE orders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NULL,
	customer_email TEXT NOT NULL,
	customer_name TEXT NOT NULL,
	total_amount DECIMAL(10,2) NOT NULL,
	status TEXT NOT NULL,
	stripe_payment_id TEXT NULL UNIQUE,
	dvd_count INTEGER NOT NULL DEFAULT 0,
	digital_download_count INTEGER NOT NULL DEFAULT 0,
	media_type TEXT NOT NULL DEFAULT 'none',
	media_status TEXT NOT NULL DEFAULT 'pending',
	access_code TEXT NULL UNIQUE,
	access_code_emailed BOOLEAN NOT NULL DEFAULT 0,
	print_info TEXT NULL,
	failure_detail TEXT NULL,
	source TEXT NOT NULL DEFAULT 'checkout',
	notes TEXT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE tickets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id INTEGER NOT NULL,
	seat_id INTEGER NOT NULL UNIQUE,
	event_id INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE payment_links (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	token TEXT NOT NULL UNIQUE,
	customer_email TEXT NOT NULL,
	customer_name TEXT NOT NULL,
	amount DECIMAL(10,2) NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	expires_at DATETIME NOT NULL,
	stripe_payment_intent_id TEXT NULL,
	order_id INTEGER NULL,
	created_by INTEGER NULL,
	metadata TEXT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE access_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	payment_link_id INTEGER NULL,
	order_id INTEGER NULL,
	access_code TEXT NULL,
	action TEXT NOT NULL,
	ip_address TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	details TEXT NULL,
	accessed_at DATETIME NOT NULL
);
`

var dbSeq atomic.Int64

// Open returns a fresh in-memory database with the schema applied. The
// pool is capped at one connection so every statement sees the same
// database.
func Open(t *testing.T) *sql.DB {
	t.Helper()
	name := fmt.Sprintf("file:recital%d?mode=memory&cache=shared&_loc=UTC", dbSeq.Add(1))
	db, err := sql.Open("sqlite3", name)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(schema)
	require.NoError(t, err)
	return db
}

// InsertEvent adds a showtime and returns its id.
func InsertEvent(t *testing.T, db *sql.DB, title, recitalType string, startsAt time.Time) uint64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO events (title, recital_type, starts_at) VALUES (?, ?, ?)`,
		title, recitalType, startsAt.UTC())
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return uint64(id)
}

// InsertSeat adds an available, unreserved seat and returns its id.
func InsertSeat(t *testing.T, db *sql.DB, eventID uint64, row string, number int) uint64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO seats (event_id, section, row_label, seat_number, display_order) VALUES (?, 'ORCH', ?, ?, ?)`,
		eventID, row, number, number)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return uint64(id)
}
