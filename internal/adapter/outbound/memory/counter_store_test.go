package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/counter"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/money"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/txn"
)

func testTxn(value float64, merchant string) txn.Transaction {
	return txn.Transaction{
		Amount:     money.New(value, "USD"),
		MerchantID: merchant,
		Timestamp:  time.Now().UTC(),
	}
}

func TestCounterStore_CommitOnAllow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCounterStore()
	windows := []time.Duration{24 * time.Hour}

	snap, err := store.Apply(ctx, "s1", testTxn(100, "acme"), windows, func(counter.Snapshot) bool { return true })
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	// The snapshot passed to decide predates the commit.
	if snap.SpendIn(24*time.Hour) != 0 {
		t.Errorf("pre-commit spend = %v, want 0", snap.SpendIn(24*time.Hour))
	}

	after, err := store.Peek(ctx, "s1", windows)
	if err != nil {
		t.Fatalf("Peek() error: %v", err)
	}
	if after.SpendIn(24*time.Hour) != 100 {
		t.Errorf("spend = %v, want 100", after.SpendIn(24*time.Hour))
	}
	if after.CountIn(24*time.Hour) != 1 {
		t.Errorf("count = %d, want 1", after.CountIn(24*time.Hour))
	}
	if after.MerchantCountIn("acme", 24*time.Hour) != 1 {
		t.Errorf("merchant count = %d, want 1", after.MerchantCountIn("acme", 24*time.Hour))
	}
}

func TestCounterStore_NoCommitOnBlock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCounterStore()
	windows := []time.Duration{time.Hour}

	if _, err := store.Apply(ctx, "s1", testTxn(100, "acme"), windows, func(counter.Snapshot) bool { return false }); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	after, _ := store.Peek(ctx, "s1", windows)
	if after.SpendIn(time.Hour) != 0 || after.CountIn(time.Hour) != 0 {
		t.Errorf("blocked transaction advanced counters: %+v", after)
	}
}

func TestCounterStore_RollingWindowExcludesOldEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCounterStore()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	windows := []time.Duration{time.Hour, 24 * time.Hour}
	allow := func(counter.Snapshot) bool { return true }

	if _, err := store.Apply(ctx, "s1", testTxn(10, "acme"), windows, allow); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	// Two hours later the event has left the 1h window but not the 24h one.
	now = now.Add(2 * time.Hour)
	snap, err := store.Peek(ctx, "s1", windows)
	if err != nil {
		t.Fatalf("Peek() error: %v", err)
	}
	if snap.SpendIn(time.Hour) != 0 {
		t.Errorf("1h spend = %v, want 0", snap.SpendIn(time.Hour))
	}
	if snap.SpendIn(24*time.Hour) != 10 {
		t.Errorf("24h spend = %v, want 10", snap.SpendIn(24*time.Hour))
	}
}

func TestCounterStore_SessionsAreIndependent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCounterStore()
	windows := []time.Duration{time.Hour}
	allow := func(counter.Snapshot) bool { return true }

	if _, err := store.Apply(ctx, "s1", testTxn(50, "acme"), windows, allow); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	other, _ := store.Peek(ctx, "s2", windows)
	if other.SpendIn(time.Hour) != 0 {
		t.Errorf("s2 spend = %v, want 0", other.SpendIn(time.Hour))
	}
}

func TestCounterStore_Drop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCounterStore()
	windows := []time.Duration{time.Hour}

	if _, err := store.Apply(ctx, "s1", testTxn(50, "acme"), windows, func(counter.Snapshot) bool { return true }); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	store.Drop("s1")

	snap, _ := store.Peek(ctx, "s1", windows)
	if snap.SpendIn(time.Hour) != 0 {
		t.Errorf("spend after Drop = %v, want 0", snap.SpendIn(time.Hour))
	}
}

// TestCounterStore_ConcurrentLimitCheck exercises the read-decide-commit
// atomicity: with a 10-transaction budget and 50 concurrent attempts,
// exactly 10 must commit.
func TestCounterStore_ConcurrentLimitCheck(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCounterStore()
	window := time.Hour
	windows := []time.Duration{window}
	const budget = 10

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.Apply(ctx, "s1", testTxn(1, "acme"), windows, func(snap counter.Snapshot) bool {
				return snap.CountIn(window) < budget
			})
		}()
	}
	wg.Wait()

	snap, _ := store.Peek(ctx, "s1", windows)
	if got := snap.CountIn(window); got != budget {
		t.Errorf("committed %d transactions, want exactly %d", got, budget)
	}
}
