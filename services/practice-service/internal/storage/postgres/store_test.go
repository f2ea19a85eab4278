package postgres

import (
	"context"
	"errors"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/md-rashed-zaman/practicecore/libs/db"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage"
)

// testStore migrates a throwaway schema on the database named by
// PRACTICE_TEST_DATABASE_URL and drops it when the test ends.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("PRACTICE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PRACTICE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		t.Fatalf("PRACTICE_TEST_DATABASE_URL must be a postgres:// URL")
	}

	admin, err := db.Open(ctx, dsn, db.PoolConfig{MaxConns: 1})
	if err != nil {
		t.Fatalf("open admin pool: %v", err)
	}
	schema := "practice_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		admin.Close()
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	})

	q := u.Query()
	q.Set("search_path", schema+",public")
	u.RawQuery = q.Encode()
	pool, err := db.Open(ctx, u.String(), db.PoolConfig{MaxConns: 4})
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(pool, db.DefaultRetryPolicy())
}

func seedCatalog(t *testing.T, s *Store) {
	t.Helper()
	_, err := s.Pool().Exec(context.Background(), `
		INSERT INTO locations (id, organization_id, name, timezone) VALUES ('loc-1', 'org-1', 'Main', 'UTC');
		INSERT INTO staff (id, organization_id, name) VALUES ('staff-1', 'org-1', 'Dana');
		INSERT INTO clients (id, organization_id, name) VALUES ('c1', 'org-1', 'Client');
		INSERT INTO services (id, organization_id, name, duration_minutes, price) VALUES ('svc-1', 'org-1', 'Massage', 60, 80);
	`)
	if err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
}

func pgAppt(id string, start time.Time, status model.AppointmentStatus) model.Appointment {
	return model.Appointment{
		ID: id, OrganizationID: "org-1", LocationID: "loc-1", StaffID: "staff-1", ClientID: "c1", ServiceID: "svc-1",
		StartTime: start, EndTime: start.Add(time.Hour), Status: status, CreatedAt: time.Now().UTC(),
	}
}

func insert(s *Store, a model.Appointment) error {
	return s.InTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertAppointment(ctx, a)
	})
}

func TestExclusionConstraintRejectsOverlap(t *testing.T) {
	s := testStore(t)
	seedCatalog(t, s)
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	if err := insert(s, pgAppt("a1", start, model.StatusScheduled)); err != nil {
		t.Fatalf("insert a1: %v", err)
	}
	if err := insert(s, pgAppt("a2", start.Add(30*time.Minute), model.StatusPending)); !errors.Is(err, storage.ErrOverlap) {
		t.Fatalf("expected ErrOverlap from the exclusion constraint, got %v", err)
	}
	// Half-open intervals: back to back is fine.
	if err := insert(s, pgAppt("a3", start.Add(time.Hour), model.StatusScheduled)); err != nil {
		t.Fatalf("insert adjacent a3: %v", err)
	}

	err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		a3, err := tx.AppointmentForUpdate(ctx, "org-1", "a3")
		if err != nil {
			return err
		}
		a3.StartTime, a3.EndTime = start.Add(45*time.Minute), start.Add(105*time.Minute)
		return tx.UpdateAppointment(ctx, a3)
	})
	if !errors.Is(err, storage.ErrOverlap) {
		t.Fatalf("expected ErrOverlap moving a3 onto a1, got %v", err)
	}

	// A canceled booking stops blocking the slot.
	err = s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		a1, err := tx.AppointmentForUpdate(ctx, "org-1", "a1")
		if err != nil {
			return err
		}
		a1.Status = model.StatusCanceled
		a1.UpdatedAt = time.Now().UTC()
		return tx.UpdateAppointment(ctx, a1)
	})
	if err != nil {
		t.Fatalf("cancel a1: %v", err)
	}
	if err := insert(s, pgAppt("a2", start.Add(30*time.Minute), model.StatusPending)); !errors.Is(err, storage.ErrOverlap) {
		t.Fatalf("a2 still overlaps a3, got %v", err)
	}
	if err := insert(s, pgAppt("a4", start, model.StatusPending)); err != nil {
		t.Fatalf("insert into the freed slot: %v", err)
	}

	var blocking []model.Appointment
	err = s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		blocking, err = tx.BlockingAppointments(ctx, "org-1", "staff-1", start, start.Add(2*time.Hour), "")
		return err
	})
	if err != nil {
		t.Fatalf("blocking appointments: %v", err)
	}
	if len(blocking) != 2 || blocking[0].ID != "a4" || blocking[1].ID != "a3" {
		t.Fatalf("expected a4 and a3 blocking, got %+v", blocking)
	}
}

func providerEvent(id string, at time.Time) model.ProviderEvent {
	return model.ProviderEvent{
		Provider: "stripe", EventID: id, EventType: "invoice.paid", Kind: model.EventRenewalSucceeded,
		SubscriptionID: "sub_1", OccurredAt: at, Amount: decimal.RequireFromString("49.00"),
	}
}

func TestClaimProviderEventsSkipsLockedRows(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		for i, id := range []string{"evt_1", "evt_2"} {
			if err := tx.InsertProviderEvent(ctx, providerEvent(id, at.Add(time.Duration(i)*time.Minute))); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert events: %v", err)
	}
	err = s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertProviderEvent(ctx, providerEvent("evt_1", at))
	})
	if !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for a redelivered event, got %v", err)
	}

	now := time.Now().UTC()
	var first, second []model.ProviderEvent
	err = s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		if first, err = tx.ClaimProviderEvents(ctx, 1, 5, now); err != nil {
			return err
		}
		// A second worker, on its own connection, while evt_1 stays locked.
		return s.InTx(ctx, func(ctx context.Context, other storage.Tx) error {
			var err error
			second, err = other.ClaimProviderEvents(ctx, 2, 5, now)
			return err
		})
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(first) != 1 || first[0].EventID != "evt_1" || !first[0].Amount.Equal(decimal.NewFromInt(49)) {
		t.Fatalf("expected evt_1 claimed first, got %+v", first)
	}
	if len(second) != 1 || second[0].EventID != "evt_2" {
		t.Fatalf("expected the second claim to skip the locked row, got %+v", second)
	}

	retryAt := now.Add(time.Hour)
	err = s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.FailProviderEvent(ctx, "stripe", "evt_1", "boom", retryAt); err != nil {
			return err
		}
		return tx.MarkProviderEvent(ctx, "stripe", "evt_2", model.ProviderEventProcessed)
	})
	if err != nil {
		t.Fatalf("mark events: %v", err)
	}

	claim := func(at time.Time) []model.ProviderEvent {
		t.Helper()
		var out []model.ProviderEvent
		err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			var err error
			out, err = tx.ClaimProviderEvents(ctx, 10, 5, at)
			return err
		})
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		return out
	}
	if got := claim(now); len(got) != 0 {
		t.Fatalf("expected nothing due before the retry time, got %+v", got)
	}
	got := claim(retryAt.Add(time.Minute))
	if len(got) != 1 || got[0].EventID != "evt_1" || got[0].Attempts != 1 || got[0].LastError != "boom" {
		t.Fatalf("expected evt_1 due for retry, got %+v", got)
	}
	if !got[0].NextAttemptAt.Equal(retryAt.Truncate(time.Microsecond)) {
		t.Fatalf("unexpected next attempt %s", got[0].NextAttemptAt)
	}
	if got := claim(retryAt.Add(time.Minute)); len(got) != 1 {
		t.Fatalf("a claim that records no outcome must leave the event queued, got %+v", got)
	}
}
