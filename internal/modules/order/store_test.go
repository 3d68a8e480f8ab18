// README: Postgres store tests; skipped unless QC_TEST_DSN points at a scratch database.
package order

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

func TestStoreCreateAndGet(t *testing.T) {
	store := setupTestStore(t)
	svc := NewService(store, stubPricing{})
	ctx := context.Background()

	o := mustCreateOrder(t, svc, "u_db")
	if !strings.HasPrefix(o.OrderNumber, "QC") {
		t.Fatalf("expected QC order number, got %q", o.OrderNumber)
	}
	got, err := store.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusPendingAdminDecision || len(got.Items) != 2 {
		t.Fatalf("unexpected stored order %+v", got)
	}
	if !got.TotalAmount.Amount.Equal(decimal.RequireFromString("157.50")) {
		t.Fatalf("unexpected total %s", got.TotalAmount)
	}
	if got.DeliveryAddress.City != "Bengaluru" {
		t.Fatalf("delivery address not round-tripped: %+v", got.DeliveryAddress)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreCompareAndSetStatus(t *testing.T) {
	store := setupTestStore(t)
	svc := NewService(store, stubPricing{})
	ctx := context.Background()
	o := mustCreateOrder(t, svc, "u_db")

	reason := "Out of stock"
	now := time.Now().UTC()
	u := StatusUpdate{
		OrderID:         o.ID,
		ExpectedStatus:  StatusPendingAdminDecision,
		ExpectedVersion: 0,
		NewStatus:       StatusRejectedByAdmin,
		RejectionReason: &reason,
		UpdatedAt:       now,
		Event:           Event{OrderID: o.ID, FromStatus: StatusPendingAdminDecision, ToStatus: StatusRejectedByAdmin, Reason: &reason, ActorType: ActorAdmin, CreatedAt: now},
	}
	if err := store.CompareAndSetStatus(ctx, u); err != nil {
		t.Fatalf("cas: %v", err)
	}
	if err := store.CompareAndSetStatus(ctx, u); !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification on stale version, got %v", err)
	}
	u.OrderID = "missing"
	if err := store.CompareAndSetStatus(ctx, u); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	events, err := store.Events(ctx, o.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 || events[1].Reason == nil || *events[1].Reason != reason {
		t.Fatalf("unexpected audit trail %+v", events)
	}
}

func TestStoreRejectionReasonConstraint(t *testing.T) {
	store := setupTestStore(t)
	svc := NewService(store, stubPricing{})
	o := mustCreateOrder(t, svc, "u_db")

	now := time.Now().UTC()
	err := store.CompareAndSetStatus(context.Background(), StatusUpdate{
		OrderID:         o.ID,
		ExpectedStatus:  StatusPendingAdminDecision,
		ExpectedVersion: 0,
		NewStatus:       StatusRejectedByAdmin,
		UpdatedAt:       now,
		Event:           Event{OrderID: o.ID, FromStatus: StatusPendingAdminDecision, ToStatus: StatusRejectedByAdmin, ActorType: ActorAdmin, CreatedAt: now},
	})
	if err == nil {
		t.Fatalf("expected the check constraint to refuse a rejection without reason")
	}
	assertStatus(t, svc, o.ID, StatusPendingAdminDecision)
}

func TestStoreConcurrentAcceptVsCancel(t *testing.T) {
	store := setupTestStore(t)
	svc := NewService(store, stubPricing{})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		o := mustCreateOrder(t, svc, "u_race")
		errs := make(chan error, 2)
		start := make(chan struct{})
		var wg sync.WaitGroup
		for _, to := range []Status{StatusAdminAccepted, StatusCancelled} {
			wg.Add(1)
			go func(to Status) {
				defer wg.Done()
				<-start
				_, err := svc.ApplyTransition(ctx, TransitionCommand{OrderID: o.ID, Status: to})
				errs <- err
			}(to)
		}
		close(start)
		wg.Wait()
		close(errs)

		success := 0
		for err := range errs {
			if err == nil {
				success++
				continue
			}
			// The loser either lost the write or read after the winner committed.
			if !errors.Is(err, ErrConcurrentModification) && !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if success < 1 {
			t.Fatalf("expected at least one success")
		}
		got, _ := store.Get(ctx, o.ID)
		if got.Status == StatusAdminAccepted && got.StatusVersion != 1 {
			t.Fatalf("accepted order has version %d", got.StatusVersion)
		}
	}
}

func TestStoreListStale(t *testing.T) {
	store := setupTestStore(t)
	clock := newTestClock()
	svc := NewService(store, stubPricing{}, WithClock(clock.Now))
	ctx := context.Background()

	old := mustCreateOrder(t, svc, "u1")
	clock.Advance(time.Hour)
	mustCreateOrder(t, svc, "u2")

	stale, err := store.ListStale(ctx, StatusPendingAdminDecision, clock.Now().Add(-30*time.Minute), 10)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != old.ID {
		t.Fatalf("expected only the old order, got %d", len(stale))
	}
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("QC_TEST_DSN")
	if dsn == "" {
		t.Skip("QC_TEST_DSN not set; skipping DB-backed store tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := applyMigration(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}

	if _, err := db.Exec(ctx, "TRUNCATE TABLE order_state_events, order_items, orders"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}

	return NewStore(db)
}

func applyMigration(ctx context.Context, db *pgxpool.Pool) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	matches, err := filepath.Glob(filepath.Join(root, "migrations", "*.sql"))
	if err != nil {
		return err
	}
	for _, path := range matches {
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for _, stmt := range splitSQL(stripSQLComments(string(content))) {
			if _, err := db.Exec(ctx, stmt); err != nil {
				return err
			}
		}
	}
	return nil
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

func stripSQLComments(input string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return b.String()
}

func splitSQL(input string) []string {
	var out []string
	for _, p := range strings.Split(input, ";") {
		if stmt := strings.TrimSpace(p); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
