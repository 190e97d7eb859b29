package crank

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLockerSecondAcquireFails(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker(time.Minute)

	ok, err := l.Acquire(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}

	ok, err = l.Acquire(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("second acquire succeeded while lock held")
	}

	// A different key is independent.
	ok, err = l.Acquire(ctx, "other")
	if err != nil || !ok {
		t.Errorf("unrelated key acquire: ok=%v err=%v", ok, err)
	}
}

func TestMemoryLockerReleaseAllowsReacquire(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker(time.Minute)

	if ok, _ := l.Acquire(ctx, "k"); !ok {
		t.Fatal("first acquire failed")
	}
	if err := l.Release(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := l.Acquire(ctx, "k"); !ok {
		t.Error("acquire after release failed")
	}
}

func TestMemoryLockerTTLExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	l := NewMemoryLocker(time.Minute)
	l.now = func() time.Time { return now }

	if ok, _ := l.Acquire(ctx, "k"); !ok {
		t.Fatal("first acquire failed")
	}

	now = now.Add(30 * time.Second)
	if ok, _ := l.Acquire(ctx, "k"); ok {
		t.Error("acquire succeeded before TTL expired")
	}

	// A crashed holder's lock expires and the key becomes stealable.
	now = now.Add(31 * time.Second)
	if ok, _ := l.Acquire(ctx, "k"); !ok {
		t.Error("acquire failed after TTL expired")
	}
}

func TestMemoryLockerReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker(time.Minute)

	if err := l.Release(ctx, "never-held"); err != nil {
		t.Errorf("release of unheld key: %v", err)
	}
}
