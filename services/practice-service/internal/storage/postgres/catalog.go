package postgres

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/tenant"
)

func (t *Tx) Location(ctx context.Context, org tenant.ID, id string) (model.Location, error) {
	var l model.Location
	err := t.tx.QueryRow(ctx, `
		SELECT id, organization_id, name, timezone
		FROM locations
		WHERE id = $1 AND organization_id = $2
	`, id, org).Scan(&l.ID, &l.OrganizationID, &l.Name, &l.Timezone)
	return l, notFound(err)
}

func (t *Tx) Staff(ctx context.Context, org tenant.ID, id string) (model.Staff, error) {
	var s model.Staff
	err := t.tx.QueryRow(ctx, `
		SELECT id, organization_id, name
		FROM staff
		WHERE id = $1 AND organization_id = $2
	`, id, org).Scan(&s.ID, &s.OrganizationID, &s.Name)
	return s, notFound(err)
}

func (t *Tx) LockStaff(ctx context.Context, org tenant.ID, id string) error {
	var locked string
	err := t.tx.QueryRow(ctx, `
		SELECT id FROM staff WHERE id = $1 AND organization_id = $2 FOR UPDATE
	`, id, org).Scan(&locked)
	return notFound(err)
}

func (t *Tx) StaffWorksAt(ctx context.Context, org tenant.ID, staffID, locationID string) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM staff_locations sl
			JOIN staff s ON s.id = sl.staff_id
			JOIN locations l ON l.id = sl.location_id
			WHERE sl.staff_id = $1 AND sl.location_id = $2
			  AND s.organization_id = $3 AND l.organization_id = $3
		)
	`, staffID, locationID, org).Scan(&ok)
	return ok, err
}

func (t *Tx) WorkingHours(ctx context.Context, org tenant.ID, staffID, locationID string) ([]model.Shift, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT wh.weekday, wh.start_minute, wh.end_minute
		FROM staff_working_hours wh
		JOIN staff s ON s.id = wh.staff_id
		WHERE wh.staff_id = $1 AND wh.location_id = $2 AND s.organization_id = $3
		ORDER BY wh.weekday, wh.start_minute
	`, staffID, locationID, org)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shifts []model.Shift
	for rows.Next() {
		var weekday, start, end int16
		if err := rows.Scan(&weekday, &start, &end); err != nil {
			return nil, err
		}
		shifts = append(shifts, model.Shift{Weekday: time.Weekday(weekday), StartMinute: int(start), EndMinute: int(end)})
	}
	return shifts, rows.Err()
}

func (t *Tx) TimeOff(ctx context.Context, org tenant.ID, staffID string, from, to time.Time) ([]model.Interval, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT o.start_time, o.end_time
		FROM staff_time_off o
		JOIN staff s ON s.id = o.staff_id
		WHERE o.staff_id = $1 AND s.organization_id = $2
		  AND o.start_time < $4 AND o.end_time > $3
		ORDER BY o.start_time
	`, staffID, org, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Interval
	for rows.Next() {
		var iv model.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		out = append(out, model.Interval{Start: iv.Start.UTC(), End: iv.End.UTC()})
	}
	return out, rows.Err()
}

func (t *Tx) Service(ctx context.Context, org tenant.ID, id string) (model.Service, error) {
	var s model.Service
	var price string
	err := t.tx.QueryRow(ctx, `
		SELECT id, organization_id, name, duration_minutes, price::text
		FROM services
		WHERE id = $1 AND organization_id = $2
	`, id, org).Scan(&s.ID, &s.OrganizationID, &s.Name, &s.DurationMinutes, &price)
	if err != nil {
		return s, notFound(err)
	}
	s.Price, err = parseDecimal(price)
	return s, err
}

func (t *Tx) Client(ctx context.Context, org tenant.ID, id string) (model.Client, error) {
	var c model.Client
	err := t.tx.QueryRow(ctx, `
		SELECT id, organization_id, name
		FROM clients
		WHERE id = $1 AND organization_id = $2
	`, id, org).Scan(&c.ID, &c.OrganizationID, &c.Name)
	return c, notFound(err)
}
