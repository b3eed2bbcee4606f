// Package distlock serializes work on one key across server instances. Commits
// of an import session take the lock so a double-submitted commit cannot write
// the same contacts twice, and session transitions queue on a per-session lock
// so instances sharing a session store never overwrite each other.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned by Do when another owner holds the lock.
var ErrHeld = errors.New("lock is held by another owner")

// Lock is one acquirable lock. A Lock value is owned by a single caller.
type Lock interface {
	// Acquire tries to take the lock without blocking.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock up if we still own it.
	Release(ctx context.Context) error
}

// Locker hands out locks on the best available backend: Redis when a client
// is configured, Postgres advisory locks when only a database is, and an
// in-process table otherwise.
type Locker struct {
	redis *redis.Client
	db    *sql.DB
	ttl   time.Duration
	local sync.Map
}

// NewLocker creates a Locker. ttl bounds how long a Redis lock survives a
// crashed owner.
func NewLocker(redisClient *redis.Client, db *sql.DB, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{redis: redisClient, db: db, ttl: ttl}
}

// Lock returns a new lock for key.
func (l *Locker) Lock(key string) Lock {
	switch {
	case l.redis != nil:
		return NewRedisLock(l.redis, key, l.ttl)
	case l.db != nil:
		return NewPGAdvisoryLock(l.db, key)
	default:
		return &localLock{held: &l.local, key: key}
	}
}

// Do runs fn while holding the lock on key. It returns ErrHeld without
// running fn when the lock is taken.
func (l *Locker) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	lock := l.Lock(key)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrHeld, key)
	}
	defer lock.Release(context.WithoutCancel(ctx))
	return fn(ctx)
}

// Wait is Do for callers that would rather queue than fail. It retries the
// lock every interval until it is free or ctx ends, in which case the error
// wraps both ErrHeld and the context error.
func (l *Locker) Wait(ctx context.Context, key string, interval time.Duration, fn func(context.Context) error) error {
	lock := l.Lock(key)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", ErrHeld, key, ctx.Err())
		case <-ticker.C:
		}
	}
	defer lock.Release(context.WithoutCancel(ctx))
	return fn(ctx)
}

// PGAdvisoryLock uses pg_try_advisory_lock. Advisory locks belong to a
// database session, so the lock pins one pooled connection until Release.
// A dropped connection frees the lock.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
	conn   *sql.Conn
}

// NewPGAdvisoryLock derives a stable lock id from key.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	if l.conn != nil {
		return false, errors.New("advisory lock already acquired")
	}
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get connection for advisory lock: %w", err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	conn := l.conn
	l.conn = nil
	defer conn.Close()
	_, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}

// localLock guards keys within this process only.
type localLock struct {
	held  *sync.Map
	key   string
	owned bool
}

func (l *localLock) Acquire(context.Context) (bool, error) {
	if _, taken := l.held.LoadOrStore(l.key, struct{}{}); taken {
		return false, nil
	}
	l.owned = true
	return true, nil
}

func (l *localLock) Release(context.Context) error {
	if l.owned {
		l.held.Delete(l.key)
		l.owned = false
	}
	return nil
}
