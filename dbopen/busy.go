package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// busyBackoff is the wait before each retry of a statement that hit a lock.
var busyBackoff = []time.Duration{50 * time.Millisecond, 150 * time.Millisecond, 400 * time.Millisecond}

// IsBusy reports whether err is an SQLite BUSY or locked condition.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"SQLITE_BUSY", "database is locked", "database table is locked"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Exec runs query and retries it while the database is busy. The last BUSY
// error is returned once the backoff schedule is exhausted; a cancelled ctx
// stops the wait.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	res, err := db.ExecContext(ctx, query, args...)
	for _, wait := range busyBackoff {
		if !IsBusy(err) {
			return res, err
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Join(err, ctx.Err())
		case <-timer.C:
		}
		res, err = db.ExecContext(ctx, query, args...)
	}
	return res, err
}
