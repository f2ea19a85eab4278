// Package scheduler owns appointment writes: booking, rescheduling and the
// status machine. Completion is the only path from an appointment into the
// credit and rewards ledgers.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/apperr"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/availability"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/outbox"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/tenant"
)

// MaxOverrun is how far past the service duration a booking may extend.
const MaxOverrun = 60 * time.Minute

// CompletionHandler settles a completed visit inside the completing
// transaction. An error aborts the completion.
type CompletionHandler interface {
	HandleCompleted(ctx context.Context, tx storage.Tx, evt model.AppointmentCompleted) (model.Settlement, error)
}

type Service struct {
	store       storage.Store
	completions CompletionHandler
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(store storage.Store, completions CompletionHandler, logger *slog.Logger) *Service {
	return &Service{store: store, completions: completions, logger: logger, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type CreateRequest struct {
	LocationID string
	StaffID    string
	ClientID   string
	ServiceID  string
	Start      time.Time
	End        time.Time
	Notes      string
	// Status is pending or scheduled; empty means scheduled.
	Status model.AppointmentStatus
	// IdempotencyKey, when set, makes a retried request return the
	// appointment the first attempt created.
	IdempotencyKey string
	RequestHash    string
}

type CreateResult struct {
	Appointment model.Appointment
	Replayed    bool
}

func (s *Service) Create(ctx context.Context, org tenant.ID, req CreateRequest) (CreateResult, error) {
	req.LocationID = strings.TrimSpace(req.LocationID)
	req.StaffID = strings.TrimSpace(req.StaffID)
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	if req.LocationID == "" || req.StaffID == "" || req.ClientID == "" || req.ServiceID == "" {
		return CreateResult{}, apperr.Validation("location_id, staff_id, client_id and service_id are required")
	}
	if err := validRange(req.Start, req.End); err != nil {
		return CreateResult{}, err
	}
	switch req.Status {
	case "":
		req.Status = model.StatusScheduled
	case model.StatusPending, model.StatusScheduled:
	default:
		return CreateResult{}, apperr.Validation("appointments start as pending or scheduled, not %s", req.Status)
	}

	var out CreateResult
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		out = CreateResult{}
		if req.IdempotencyKey != "" {
			rec, err := tx.LockIdempotencyKey(ctx, org, req.IdempotencyKey, req.RequestHash)
			if err != nil {
				return fmt.Errorf("lock idempotency key: %w", err)
			}
			if rec.Completed() {
				if rec.RequestHash != req.RequestHash {
					return apperr.Conflict("idempotency key %q was used for a different request", req.IdempotencyKey)
				}
				if err := json.Unmarshal(rec.ResponseBody, &out.Appointment); err != nil {
					return fmt.Errorf("decode stored response: %w", err)
				}
				out.Replayed = true
				return nil
			}
		}

		if _, err := tx.Client(ctx, org, req.ClientID); err != nil {
			return refErr(err, "client", req.ClientID)
		}
		svc, err := tx.Service(ctx, org, req.ServiceID)
		if err != nil {
			return refErr(err, "service", req.ServiceID)
		}
		now := s.now().UTC()
		a := model.Appointment{
			ID:             uuid.NewString(),
			OrganizationID: string(org),
			LocationID:     req.LocationID,
			StaffID:        req.StaffID,
			ClientID:       req.ClientID,
			ServiceID:      req.ServiceID,
			StartTime:      req.Start.UTC(),
			EndTime:        req.End.UTC(),
			Status:         req.Status,
			Notes:          req.Notes,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.checkSlot(ctx, tx, org, svc, a, now); err != nil {
			return err
		}
		if err := tx.InsertAppointment(ctx, a); err != nil {
			return insertErr(err)
		}
		if err := s.recordStatus(ctx, tx, a, "", ""); err != nil {
			return err
		}
		if err := writeEvent(ctx, tx, a, outbox.AppointmentBooked, ""); err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			body, err := json.Marshal(a)
			if err != nil {
				return err
			}
			if err := tx.FinalizeIdempotency(ctx, org, req.IdempotencyKey, 201, body); err != nil {
				return fmt.Errorf("finalize idempotency key: %w", err)
			}
		}
		out.Appointment = a
		return nil
	})
	if err != nil {
		return CreateResult{}, err
	}
	if !out.Replayed {
		s.logger.Info("appointment booked", "org_id", org, "appointment_id", out.Appointment.ID, "staff_id", out.Appointment.StaffID)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, org tenant.ID, id string) (model.Appointment, error) {
	var a model.Appointment
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		a, err = tx.Appointment(ctx, org, id)
		return lookupErr(err)
	})
	return a, err
}

// UpdateRequest carries the fields of a partial update; nil means unchanged.
// Times move first, then status.
type UpdateRequest struct {
	Start  *time.Time
	End    *time.Time
	Status *model.AppointmentStatus
	Notes  *string
	Reason string
}

type UpdateResult struct {
	Appointment model.Appointment
	// Settlement is set when the update completed the appointment.
	Settlement *model.Settlement
}

func (s *Service) Update(ctx context.Context, org tenant.ID, id string, req UpdateRequest) (UpdateResult, error) {
	if (req.Start == nil) != (req.End == nil) {
		return UpdateResult{}, apperr.Validation("start_time and end_time must change together")
	}
	if req.Start != nil {
		if err := validRange(*req.Start, *req.End); err != nil {
			return UpdateResult{}, err
		}
	}

	var out UpdateResult
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		out = UpdateResult{}
		a, err := tx.AppointmentForUpdate(ctx, org, id)
		if err != nil {
			return lookupErr(err)
		}
		now := s.now().UTC()
		if req.Notes != nil && *req.Notes != a.Notes {
			a.Notes = *req.Notes
			a.UpdatedAt = now
			if err := tx.UpdateAppointment(ctx, a); err != nil {
				return insertErr(err)
			}
		}
		if req.Start != nil {
			if a, err = s.reschedule(ctx, tx, org, a, *req.Start, *req.End, now); err != nil {
				return err
			}
		}
		if req.Status != nil {
			if a, out.Settlement, err = s.transition(ctx, tx, org, a, *req.Status, req.Reason, now); err != nil {
				return err
			}
		}
		out.Appointment = a
		return nil
	})
	if err != nil {
		return UpdateResult{}, err
	}
	return out, nil
}

func (s *Service) Reschedule(ctx context.Context, org tenant.ID, id string, start, end time.Time) (model.Appointment, error) {
	res, err := s.Update(ctx, org, id, UpdateRequest{Start: &start, End: &end})
	return res.Appointment, err
}

// Transition moves an appointment one step. completed and canceled are
// routed through the same code as Complete and Cancel.
func (s *Service) Transition(ctx context.Context, org tenant.ID, id string, to model.AppointmentStatus) (UpdateResult, error) {
	return s.Update(ctx, org, id, UpdateRequest{Status: &to})
}

// Cancel is idempotent for appointments that are already canceled.
func (s *Service) Cancel(ctx context.Context, org tenant.ID, id, reason string) (model.Appointment, error) {
	to := model.StatusCanceled
	res, err := s.Update(ctx, org, id, UpdateRequest{Status: &to, Reason: reason})
	return res.Appointment, err
}

func (s *Service) Complete(ctx context.Context, org tenant.ID, id string) (model.Appointment, model.Settlement, error) {
	to := model.StatusCompleted
	res, err := s.Update(ctx, org, id, UpdateRequest{Status: &to})
	if err != nil {
		return model.Appointment{}, model.Settlement{}, err
	}
	var settled model.Settlement
	if res.Settlement != nil {
		settled = *res.Settlement
	}
	return res.Appointment, settled, nil
}

func (s *Service) reschedule(ctx context.Context, tx storage.Tx, org tenant.ID, a model.Appointment, start, end, now time.Time) (model.Appointment, error) {
	if a.Status.Terminal() {
		return a, apperr.Conflict("appointment %s is %s and cannot be rescheduled", a.ID, a.Status)
	}
	start, end = start.UTC(), end.UTC()
	if start.Equal(a.StartTime) && end.Equal(a.EndTime) {
		return a, nil
	}
	svc, err := tx.Service(ctx, org, a.ServiceID)
	if err != nil {
		return a, refErr(err, "service", a.ServiceID)
	}
	prev := a.Interval()
	a.StartTime, a.EndTime, a.UpdatedAt = start, end, now
	if err := s.checkSlot(ctx, tx, org, svc, a, now); err != nil {
		return a, err
	}
	if err := tx.UpdateAppointment(ctx, a); err != nil {
		return a, insertErr(err)
	}
	payload := map[string]any{
		"appointment_id":  a.ID,
		"organization_id": a.OrganizationID,
		"staff_id":        a.StaffID,
		"previous_start":  prev.Start.Format(time.RFC3339),
		"previous_end":    prev.End.Format(time.RFC3339),
		"start_time":      a.StartTime.Format(time.RFC3339),
		"end_time":        a.EndTime.Format(time.RFC3339),
	}
	evt, err := outbox.NewEvent(ctx, "appointment", a.ID, outbox.AppointmentRescheduled, payload)
	if err != nil {
		return a, err
	}
	return a, tx.InsertOutbox(ctx, evt)
}

func (s *Service) transition(ctx context.Context, tx storage.Tx, org tenant.ID, a model.Appointment, to model.AppointmentStatus, reason string, now time.Time) (model.Appointment, *model.Settlement, error) {
	if to == model.StatusCanceled && a.Status == model.StatusCanceled {
		return a, nil, nil
	}
	if !a.Status.CanTransition(to) {
		return a, nil, apperr.Conflict("appointment %s cannot move from %s to %s", a.ID, a.Status, to)
	}
	from := a.Status
	a.Status = to
	a.UpdatedAt = now
	if to == model.StatusCanceled {
		a.CancelReason = reason
	}
	if err := tx.UpdateAppointment(ctx, a); err != nil {
		return a, nil, insertErr(err)
	}
	if err := s.recordStatus(ctx, tx, a, from, reason); err != nil {
		return a, nil, err
	}

	switch to {
	case model.StatusCompleted:
		settled, err := s.settle(ctx, tx, org, a, now)
		if err != nil {
			return a, nil, err
		}
		return a, &settled, nil
	case model.StatusCanceled:
		return a, nil, writeEvent(ctx, tx, a, outbox.AppointmentCanceled, reason)
	}
	return a, nil, writeEvent(ctx, tx, a, outbox.AppointmentStatusChanged, reason)
}

func (s *Service) settle(ctx context.Context, tx storage.Tx, org tenant.ID, a model.Appointment, now time.Time) (model.Settlement, error) {
	svc, err := tx.Service(ctx, org, a.ServiceID)
	if err != nil {
		return model.Settlement{}, refErr(err, "service", a.ServiceID)
	}
	evt := model.AppointmentCompleted{
		OrganizationID: string(org),
		AppointmentID:  a.ID,
		ClientID:       a.ClientID,
		ServiceID:      a.ServiceID,
		ServicePrice:   svc.Price,
		CompletedAt:    now,
	}
	var settled model.Settlement
	if s.completions != nil {
		if settled, err = s.completions.HandleCompleted(ctx, tx, evt); err != nil {
			return model.Settlement{}, err
		}
	}
	payload := struct {
		model.AppointmentCompleted
		Settlement model.Settlement `json:"settlement"`
	}{evt, settled}
	out, err := outbox.NewEvent(ctx, "appointment", a.ID, outbox.AppointmentCompleted, payload)
	if err != nil {
		return model.Settlement{}, err
	}
	if err := tx.InsertOutbox(ctx, out); err != nil {
		return model.Settlement{}, err
	}
	s.logger.Info("appointment completed", "org_id", org, "appointment_id", a.ID,
		"credits_applied", settled.CreditsApplied.String(), "amount_due", settled.AmountDue.String(), "points", settled.PointsEarned)
	return settled, nil
}

// checkSlot validates a's interval against the service, working hours and
// the staff member's calendar. It locks the staff row, so the overlap read
// and the following write see a stable calendar.
func (s *Service) checkSlot(ctx context.Context, tx storage.Tx, org tenant.ID, svc model.Service, a model.Appointment, now time.Time) error {
	length := a.EndTime.Sub(a.StartTime)
	if length < svc.Duration() {
		return apperr.Validation("booking is shorter than the %d minute service", svc.DurationMinutes)
	}
	if length > svc.Duration()+MaxOverrun {
		return apperr.Validation("booking exceeds the service duration by more than %s", MaxOverrun)
	}
	if a.StartTime.Before(now) {
		return apperr.Validation("start_time is in the past")
	}
	shifts, loc, err := availability.LoadSchedule(ctx, tx, org, a.StaffID, a.LocationID)
	if err != nil {
		return err
	}
	if !availability.Covers(shifts, loc, a.Interval()) {
		return apperr.Validation("requested time is outside the staff member's working hours")
	}

	if err := tx.LockStaff(ctx, org, a.StaffID); err != nil {
		return lookupErr(err)
	}
	busy, err := tx.BlockingAppointments(ctx, org, a.StaffID, a.StartTime, a.EndTime, a.ID)
	if err != nil {
		return fmt.Errorf("read staff calendar: %w", err)
	}
	if len(busy) > 0 {
		return apperr.Conflict("staff %s is already booked from %s to %s", a.StaffID,
			busy[0].StartTime.Format(time.RFC3339), busy[0].EndTime.Format(time.RFC3339))
	}
	off, err := tx.TimeOff(ctx, org, a.StaffID, a.StartTime, a.EndTime)
	if err != nil {
		return fmt.Errorf("read staff time off: %w", err)
	}
	if len(off) > 0 {
		return apperr.Conflict("staff %s is off from %s to %s", a.StaffID,
			off[0].Start.Format(time.RFC3339), off[0].End.Format(time.RFC3339))
	}
	return nil
}

func (s *Service) recordStatus(ctx context.Context, tx storage.Tx, a model.Appointment, from model.AppointmentStatus, reason string) error {
	var actor string
	if p, ok := tenant.FromContext(ctx); ok {
		actor = p.Subject
	}
	err := tx.InsertStatusChange(ctx, model.StatusChange{
		AppointmentID:  a.ID,
		OrganizationID: a.OrganizationID,
		From:           from,
		To:             a.Status,
		Reason:         reason,
		ActorID:        actor,
		At:             a.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("record status change: %w", err)
	}
	return nil
}

func writeEvent(ctx context.Context, tx storage.Tx, a model.Appointment, eventType, reason string) error {
	payload := map[string]any{
		"appointment_id":  a.ID,
		"organization_id": a.OrganizationID,
		"location_id":     a.LocationID,
		"staff_id":        a.StaffID,
		"client_id":       a.ClientID,
		"service_id":      a.ServiceID,
		"start_time":      a.StartTime.Format(time.RFC3339),
		"end_time":        a.EndTime.Format(time.RFC3339),
		"status":          a.Status,
	}
	if reason != "" {
		payload["reason"] = reason
	}
	evt, err := outbox.NewEvent(ctx, "appointment", a.ID, eventType, payload)
	if err != nil {
		return err
	}
	if err := tx.InsertOutbox(ctx, evt); err != nil {
		return fmt.Errorf("write outbox event: %w", err)
	}
	return nil
}

func validRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return apperr.Validation("start_time and end_time are required")
	}
	if !end.After(start) {
		return apperr.Validation("end_time must be after start_time")
	}
	return nil
}

// refErr turns a missing reference into a validation error: the caller
// named something that is not in its organization.
func refErr(err error, what, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.Validation("unknown %s %q", what, id)
	}
	return err
}

func lookupErr(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("appointment")
	}
	return err
}

func insertErr(err error) error {
	if errors.Is(err, storage.ErrOverlap) {
		return apperr.Conflict("staff is already booked for that time")
	}
	return err
}
