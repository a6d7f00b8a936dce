// Package repository holds the MySQL access code. Repositories return the
// sentinel errors below so services can tell a missing row or a lost race
// apart from a storage failure.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrStateChanged is returned by guarded updates (WHERE status = ?) that
// matched no row because another writer moved the row on first.
var ErrStateChanged = errors.New("row state changed")

var (
	ErrEmailExists = errors.New("email already exists")
	ErrPhoneExists = errors.New("phone already exists")
)

// mysqlDuplicateKey is ER_DUP_ENTRY.
const mysqlDuplicateKey = 1062

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateKey
}
