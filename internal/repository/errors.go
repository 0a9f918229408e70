// Package repository holds the MySQL data access for seats, orders,
// tickets, payment links, access logs and accounts. State transitions that
// race (seat reservation, seat sale, payment-link completion) are written
// as conditional UPDATEs whose affected-row count decides the winner.
package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a lookup yields no rows.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional update matched no row because
// the record is not in the expected state.
var ErrConflict = errors.New("conflict")

// ErrDuplicate is returned when an insert or update violates a unique key
// (access code, stripe payment id, token, email).
var ErrDuplicate = errors.New("duplicate key")

// ErrEmailExists is returned when registering an email that is taken.
var ErrEmailExists = errors.New("email already exists")

// ErrLinkNotCompletable is returned when a payment link can no longer be
// completed: it was completed by another flow, expired, or cancelled.
var ErrLinkNotCompletable = errors.New("payment link not completable")

const mysqlDuplicateEntry = 1062

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlDuplicateEntry
	}
	// sqlite reports "UNIQUE constraint failed: <table>.<column>"
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
