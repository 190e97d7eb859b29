package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LockStore is the cross-instance crank.Locker, backed by a shared Postgres
// table with server-side expiry. Acquisition is a single compare-and-set
// statement: insert wins, or the update steals an expired lock. The DB
// clock decides expiry, so instances need no clock agreement beyond it.
type LockStore struct {
	db     *sql.DB
	ttl    time.Duration
	holder uuid.UUID
	log    zerolog.Logger
}

func NewLockStore(db *sql.DB, ttl time.Duration, log zerolog.Logger) *LockStore {
	return &LockStore{
		db:     db,
		ttl:    ttl,
		holder: uuid.New(),
		log:    log,
	}
}

// Holder returns this instance's lock identity, for forensics.
func (s *LockStore) Holder() uuid.UUID {
	return s.holder
}

// Acquire takes the lock for key if no unexpired holder exists. One
// statement, so two instances racing for the same key cannot both win.
func (s *LockStore) Acquire(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO crank_locks (lock_key, holder, acquired_at, expires_at)
		 VALUES ($1, $2, now(), now() + make_interval(secs => $3))
		 ON CONFLICT (lock_key) DO UPDATE
		   SET holder = EXCLUDED.holder,
		       acquired_at = now(),
		       expires_at = now() + make_interval(secs => $3)
		   WHERE crank_locks.expires_at < now()`,
		key, s.holder.String(), s.ttl.Seconds(),
	)
	if err != nil {
		return false, fmt.Errorf("acquire lock %q: %w", key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lock %q: %w", key, err)
	}
	if n == 0 {
		return false, nil
	}

	s.log.Debug().Str("key", key).Str("holder", s.holder.String()).Msg("lock acquired")
	return true, nil
}

// Release drops the lock if this instance still holds it. Idempotent, and a
// no-op when the lock expired and was stolen by another instance.
func (s *LockStore) Release(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM crank_locks WHERE lock_key = $1 AND holder = $2`,
		key, s.holder.String(),
	)
	if err != nil {
		return fmt.Errorf("release lock %q: %w", key, err)
	}
	return nil
}
