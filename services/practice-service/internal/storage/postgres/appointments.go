package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/practicecore/libs/db"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/tenant"
)

const appointmentColumns = `
	id, organization_id, location_id, staff_id, client_id, service_id,
	start_time, end_time, status, notes, cancel_reason, created_at, updated_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var status string
	err := row.Scan(&a.ID, &a.OrganizationID, &a.LocationID, &a.StaffID, &a.ClientID, &a.ServiceID,
		&a.StartTime, &a.EndTime, &status, &a.Notes, &a.CancelReason, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return a, notFound(err)
	}
	a.StartTime, a.EndTime = a.StartTime.UTC(), a.EndTime.UTC()
	a.Status, err = model.ParseAppointmentStatus(status)
	return a, err
}

func (t *Tx) InsertAppointment(ctx context.Context, a model.Appointment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments
			(id, organization_id, location_id, staff_id, client_id, service_id,
			 start_time, end_time, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`, a.ID, a.OrganizationID, a.LocationID, a.StaffID, a.ClientID, a.ServiceID,
		a.StartTime.UTC(), a.EndTime.UTC(), string(a.Status), a.Notes, a.CreatedAt)
	if db.IsExclusionViolation(err) {
		return storage.ErrOverlap
	}
	return err
}

func (t *Tx) Appointment(ctx context.Context, org tenant.ID, id string) (model.Appointment, error) {
	return scanAppointment(t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND organization_id = $2
	`, id, org))
}

func (t *Tx) AppointmentForUpdate(ctx context.Context, org tenant.ID, id string) (model.Appointment, error) {
	return scanAppointment(t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND organization_id = $2
		FOR UPDATE
	`, id, org))
}

func (t *Tx) UpdateAppointment(ctx context.Context, a model.Appointment) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET start_time = $3,
			end_time = $4,
			status = $5,
			notes = $6,
			cancel_reason = $7,
			updated_at = $8
		WHERE id = $1 AND organization_id = $2
	`, a.ID, a.OrganizationID, a.StartTime.UTC(), a.EndTime.UTC(), string(a.Status), a.Notes, a.CancelReason, a.UpdatedAt)
	if db.IsExclusionViolation(err) {
		return storage.ErrOverlap
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *Tx) BlockingAppointments(ctx context.Context, org tenant.ID, staffID string, from, to time.Time, excludeID string) ([]model.Appointment, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE organization_id = $1
		  AND staff_id = $2
		  AND status IN ('pending','scheduled','confirmed','in_progress')
		  AND start_time < $4 AND end_time > $3
		  AND id <> $5
		ORDER BY start_time
	`, org, staffID, from, to, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *Tx) InsertStatusChange(ctx context.Context, c model.StatusChange) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointment_status_history
			(appointment_id, organization_id, from_status, to_status, reason, actor_id, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.AppointmentID, c.OrganizationID, string(c.From), string(c.To), c.Reason, c.ActorID, c.At)
	return err
}

func (t *Tx) LockIdempotencyKey(ctx context.Context, org tenant.ID, key, requestHash string) (model.IdempotencyRecord, error) {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO idempotency_keys (organization_id, key, request_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (organization_id, key) DO NOTHING
	`, org, key, requestHash); err != nil {
		return model.IdempotencyRecord{}, err
	}

	var rec model.IdempotencyRecord
	err := t.tx.QueryRow(ctx, `
		SELECT key, request_hash, response_code, coalesce(response_body, ''::bytea)
		FROM idempotency_keys
		WHERE organization_id = $1 AND key = $2
		FOR UPDATE
	`, org, key).Scan(&rec.Key, &rec.RequestHash, &rec.ResponseCode, &rec.ResponseBody)
	return rec, err
}

func (t *Tx) FinalizeIdempotency(ctx context.Context, org tenant.ID, key string, code int, body []byte) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE idempotency_keys
		SET response_code = $3, response_body = $4
		WHERE organization_id = $1 AND key = $2
	`, org, key, code, body)
	return err
}
