package memory

import (
	"context"
	"sort"
	"time"

	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/tenant"
)

// overlapsBlocking mirrors the exclusion constraint on appointments.
func (t *Tx) overlapsBlocking(a model.Appointment) bool {
	if !a.Status.Blocking() {
		return false
	}
	for _, other := range t.st.appointments {
		if other.ID == a.ID || other.OrganizationID != a.OrganizationID || other.StaffID != a.StaffID {
			continue
		}
		if other.Status.Blocking() && other.Interval().Overlaps(a.Interval()) {
			return true
		}
	}
	return false
}

func (t *Tx) InsertAppointment(_ context.Context, a model.Appointment) error {
	if _, exists := t.st.appointments[a.ID]; exists {
		return storage.ErrDuplicate
	}
	if t.overlapsBlocking(a) {
		return storage.ErrOverlap
	}
	a.UpdatedAt = a.CreatedAt
	t.st.appointments[a.ID] = a
	return nil
}

func (t *Tx) Appointment(_ context.Context, org tenant.ID, id string) (model.Appointment, error) {
	a, ok := t.st.appointments[id]
	if !ok || !owned(org, a.OrganizationID) {
		return model.Appointment{}, storage.ErrNotFound
	}
	return a, nil
}

func (t *Tx) AppointmentForUpdate(ctx context.Context, org tenant.ID, id string) (model.Appointment, error) {
	return t.Appointment(ctx, org, id)
}

func (t *Tx) UpdateAppointment(_ context.Context, a model.Appointment) error {
	cur, ok := t.st.appointments[a.ID]
	if !ok || cur.OrganizationID != a.OrganizationID {
		return storage.ErrNotFound
	}
	if t.overlapsBlocking(a) {
		return storage.ErrOverlap
	}
	t.st.appointments[a.ID] = a
	return nil
}

func (t *Tx) BlockingAppointments(_ context.Context, org tenant.ID, staffID string, from, to time.Time, excludeID string) ([]model.Appointment, error) {
	window := model.Interval{Start: from, End: to}
	var out []model.Appointment
	for _, a := range t.st.appointments {
		if !owned(org, a.OrganizationID) || a.StaffID != staffID || a.ID == excludeID {
			continue
		}
		if a.Status.Blocking() && a.Interval().Overlaps(window) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (t *Tx) InsertStatusChange(_ context.Context, c model.StatusChange) error {
	t.st.history = append(t.st.history, c)
	return nil
}

func idemKey(org tenant.ID, key string) string { return string(org) + "/" + key }

func (t *Tx) LockIdempotencyKey(_ context.Context, org tenant.ID, key, requestHash string) (model.IdempotencyRecord, error) {
	k := idemKey(org, key)
	rec, ok := t.st.idempotency[k]
	if !ok {
		rec = model.IdempotencyRecord{Key: key, RequestHash: requestHash}
		t.st.idempotency[k] = rec
	}
	return rec, nil
}

func (t *Tx) FinalizeIdempotency(_ context.Context, org tenant.ID, key string, code int, body []byte) error {
	k := idemKey(org, key)
	rec := t.st.idempotency[k]
	rec.ResponseCode = code
	rec.ResponseBody = append([]byte(nil), body...)
	t.st.idempotency[k] = rec
	return nil
}
