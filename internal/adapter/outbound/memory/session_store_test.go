package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/money"
	"github.com/Fiduciary-Gate/Fiduciarygate/internal/domain/session"
)

func testSession(id string, createdAt time.Time) *session.Session {
	return &session.Session{
		ID:         id,
		AgentID:    "agent-1",
		UserWallet: "wallet-1",
		Intents: []session.Intent{{
			ID:        "i1",
			Action:    "purchase",
			MaxAmount: money.New(100, "USD"),
			Merchants: []string{"acme"},
		}},
		Status:    session.StatusActive,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(24 * time.Hour),
	}
}

func TestSessionStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()

	sess := testSession("sess-1", time.Now().UTC())
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.ID != "sess-1" || got.AgentID != "agent-1" {
		t.Errorf("got session %+v", got)
	}
	if len(got.Intents) != 1 || got.Intents[0].Merchants[0] != "acme" {
		t.Errorf("intents = %+v", got.Intents)
	}
}

func TestSessionStore_GetNonExistent(t *testing.T) {
	t.Parallel()

	store := NewSessionStore()
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestSessionStore_CopyOnBoundary(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()

	sess := testSession("sess-1", time.Now().UTC())
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	// Mutating the caller's copy must not leak into the store.
	sess.Status = session.StatusRevoked
	sess.Intents[0].Merchants[0] = "mutated"

	got, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != session.StatusActive {
		t.Errorf("status = %s, stored copy was mutated", got.Status)
	}
	if got.Intents[0].Merchants[0] != "acme" {
		t.Errorf("merchants = %v, stored copy was mutated", got.Intents[0].Merchants)
	}

	// Same on the read side.
	got.Nonce = 42
	again, _ := store.Get(ctx, "sess-1")
	if again.Nonce != 0 {
		t.Errorf("nonce = %d, returned copy aliased the stored one", again.Nonce)
	}
}

func TestSessionStore_UpdateNonExistent(t *testing.T) {
	t.Parallel()

	store := NewSessionStore()
	err := store.Update(context.Background(), testSession("ghost", time.Now().UTC()))
	if !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestSessionStore_ListMostRecentFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSessionStore()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		if err := store.Create(ctx, testSession(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("Create(%s) error: %v", id, err)
		}
	}

	got, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("List() returned %d sessions, want 3", len(got))
	}
	if got[0].ID != "new" || got[2].ID != "old" {
		t.Errorf("order = [%s %s %s], want [new mid old]", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestSessionStore_CleanupRespectsRetention(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewSessionStoreWithConfig(time.Hour, 10*time.Millisecond)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	// Expired beyond retention: gone. Expired within retention: kept.
	ancient := testSession("ancient", now.Add(-72*time.Hour))
	ancient.ExpiresAt = now.Add(-2 * time.Hour)
	recent := testSession("recent", now.Add(-30*time.Hour))
	recent.ExpiresAt = now.Add(-30 * time.Minute)
	live := testSession("live", now)

	for _, s := range []*session.Session{ancient, recent, live} {
		if err := store.Create(ctx, s); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}

	store.StartCleanup(ctx)
	deadline := time.After(2 * time.Second)
	for store.Size() > 2 {
		select {
		case <-deadline:
			t.Fatal("cleanup never removed the ancient session")
		case <-time.After(20 * time.Millisecond):
		}
	}
	store.Stop()

	if _, err := store.Get(ctx, "ancient"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("ancient session error = %v, want ErrNotFound", err)
	}
	if _, err := store.Get(ctx, "recent"); err != nil {
		t.Errorf("recent session should be retained: %v", err)
	}
	if _, err := store.Get(ctx, "live"); err != nil {
		t.Errorf("live session should be retained: %v", err)
	}
}

func TestSessionStore_StopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := NewSessionStore()
	store.StartCleanup(context.Background())
	store.Stop()
	store.Stop()
}
