package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/tenant"
)

func appt(id string, start time.Time, status model.AppointmentStatus) model.Appointment {
	return model.Appointment{
		ID: id, OrganizationID: "org-1", StaffID: "staff-1",
		StartTime: start, EndTime: start.Add(time.Hour), Status: status,
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := New()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	boom := errors.New("boom")

	err := s.InTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertAppointment(ctx, appt("a1", start, model.StatusScheduled)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, ok := s.AppointmentByID("a1"); ok {
		t.Fatalf("expected insert to be rolled back")
	}
}

func TestInsertAppointmentRejectsOverlap(t *testing.T) {
	s := New()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertAppointment(ctx, appt("a1", start, model.StatusScheduled)); err != nil {
			return err
		}
		if err := tx.InsertAppointment(ctx, appt("a2", start.Add(30*time.Minute), model.StatusPending)); !errors.Is(err, storage.ErrOverlap) {
			t.Fatalf("expected overlap, got %v", err)
		}
		// back-to-back is fine
		return tx.InsertAppointment(ctx, appt("a3", start.Add(time.Hour), model.StatusPending))
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func TestLookupsAreTenantScoped(t *testing.T) {
	s := New()
	s.AddClient(model.Client{ID: "c1", OrganizationID: "org-1"})

	err := s.InTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.Client(ctx, tenant.ID("org-2"), "c1")
		return err
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found across tenants, got %v", err)
	}
}

func TestProviderEventDuplicate(t *testing.T) {
	s := New()
	evt := model.ProviderEvent{Provider: "stripe", EventID: "evt_1", OccurredAt: time.Now()}
	insert := func() error {
		return s.InTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
			return tx.InsertProviderEvent(ctx, evt)
		})
	}
	if err := insert(); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := insert(); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
}
