package reconcile

import (
	"context"

	"github.com/igabaycare/carebook/libs/db"
)

// AdvisoryLock holds a session-level Postgres advisory lock on one dedicated
// connection; a lock taken through the pool would be released with the connection.
type AdvisoryLock struct {
	pool *db.Pool
	key  int64
}

func NewAdvisoryLock(pool *db.Pool, key int64) *AdvisoryLock {
	if key == 0 {
		key = 4242001
	}
	return &AdvisoryLock{pool: pool, key: key}
}

func (l *AdvisoryLock) TryLock(ctx context.Context) (func(), bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&locked); err != nil {
		conn.Release()
		return nil, false, err
	}
	if !locked {
		conn.Release()
		return nil, false, nil
	}
	return func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, l.key)
		conn.Release()
	}, true, nil
}
