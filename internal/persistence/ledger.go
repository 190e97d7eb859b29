package persistence

import (
	"container/list"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"PerpCrank/internal/chain"
)

// SettlementLedger is the durable idempotency ledger: a settlement key in
// this table corresponds to a transition that was verified complete on the
// external ledger, and is never reprocessed. A small in-memory LRU fronts
// the table so the hot path of a busy poll cycle avoids a DB round-trip.
type SettlementLedger struct {
	db  *sql.DB
	lru *keyLRU
	log zerolog.Logger
}

func NewSettlementLedger(db *sql.DB, lruCapacity int, log zerolog.Logger) *SettlementLedger {
	return &SettlementLedger{
		db:  db,
		lru: newKeyLRU(lruCapacity),
		log: log,
	}
}

// IsCompleted reports whether the settlement key has already been driven to
// completion. A DB error is surfaced, not swallowed: guessing "not
// completed" here could double-settle.
func (l *SettlementLedger) IsCompleted(ctx context.Context, key string) (bool, error) {
	if l.lru.contains(key) {
		return true, nil
	}

	var exists int
	err := l.db.QueryRowContext(ctx,
		`SELECT 1 FROM settlements WHERE settlement_key = $1 LIMIT 1`, key,
	).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("idempotency lookup: %w", err)
	}

	l.lru.add(key)
	return true, nil
}

// MarkCompleted records the settlement. Callers invoke this only after the
// finalize transaction confirmed AND the terminal record state was re-read
// from the ledger. A confirmed transaction alone is not proof.
func (l *SettlementLedger) MarkCompleted(ctx context.Context, key string, maker, taker chain.Address) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO settlements (settlement_key, maker, taker, completed_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (settlement_key) DO NOTHING`,
		key, maker.String(), taker.String(),
	)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}

	l.lru.add(key)
	return nil
}

// Cleanup deletes entries older than the cutoff and returns the count.
// Retention is independent of the work the entries record.
func (l *SettlementLedger) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM settlements WHERE completed_at < $1`, olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("idempotency cleanup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("idempotency cleanup: %w", err)
	}
	return n, nil
}

// WarmLRU loads the most recent settlement keys after a restart so the
// first poll cycles skip the cold-path DB lookups.
func (l *SettlementLedger) WarmLRU(ctx context.Context, limit int) error {
	rows, err := l.db.QueryContext(ctx,
		`SELECT settlement_key FROM settlements ORDER BY completed_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return fmt.Errorf("warm lru: %w", err)
	}
	defer rows.Close()

	var count int
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return fmt.Errorf("warm lru: %w", err)
		}
		l.lru.add(key)
		count++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("warm lru: %w", err)
	}

	l.log.Info().Int("keys", count).Msg("idempotency LRU warmed")
	return nil
}

// --- LRU tier ---

// keyLRU is not thread-safe. The ledger is only read and written from the
// owning crank's poll loop; the janitor touches the DB alone.
type keyLRU struct {
	capacity int
	cache    map[string]*list.Element
	order    *list.List
}

func newKeyLRU(capacity int) *keyLRU {
	return &keyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

func (l *keyLRU) contains(key string) bool {
	elem, ok := l.cache[key]
	if ok {
		l.order.MoveToFront(elem)
	}
	return ok
}

func (l *keyLRU) add(key string) {
	if elem, ok := l.cache[key]; ok {
		l.order.MoveToFront(elem)
		return
	}

	l.cache[key] = l.order.PushFront(key)
	if l.order.Len() > l.capacity {
		oldest := l.order.Back()
		if oldest != nil {
			l.order.Remove(oldest)
			delete(l.cache, oldest.Value.(string))
		}
	}
}
