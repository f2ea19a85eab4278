package availability

import (
	"context"
	"errors"
	"iter"
	"sort"
	"time"

	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/apperr"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/tenant"
)

// MaxRange bounds a single availability query.
const MaxRange = 90 * 24 * time.Hour

type Window = model.Interval

type Query struct {
	StaffID    string
	LocationID string
	// ServiceID supplies Duration when Duration is zero.
	ServiceID string
	Duration  time.Duration
	From      time.Time
	To        time.Time
}

type Resolver struct {
	store storage.Store
	now   func() time.Time
}

func NewResolver(store storage.Store) *Resolver {
	return &Resolver{store: store, now: time.Now}
}

// WithClock replaces the wall clock; windows never start before it.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// FreeSlots loads everything the query needs in one read and returns a
// sequence that derives windows lazily while it is ranged over.
func (r *Resolver) FreeSlots(ctx context.Context, org tenant.ID, q Query) (Sequence, error) {
	if q.To.Sub(q.From) > MaxRange {
		return Sequence{}, apperr.Validation("availability range exceeds %d days", int(MaxRange.Hours()/24))
	}
	if q.Duration < 0 {
		return Sequence{}, apperr.Validation("duration must be positive")
	}
	lower := q.From
	if now := r.now(); now.After(lower) {
		lower = now
	}

	var seq Sequence
	err := r.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if q.Duration == 0 && q.ServiceID != "" {
			svc, err := tx.Service(ctx, org, q.ServiceID)
			if errors.Is(err, storage.ErrNotFound) {
				return apperr.Validation("unknown service %q", q.ServiceID)
			}
			if err != nil {
				return err
			}
			q.Duration = svc.Duration()
		}
		if q.Duration <= 0 {
			return apperr.Validation("duration must be positive")
		}

		shifts, loc, err := LoadSchedule(ctx, tx, org, q.StaffID, q.LocationID)
		if err != nil {
			return err
		}
		seq = Sequence{from: lower, to: q.To, duration: q.Duration, loc: loc, shifts: shifts}
		if !lower.Before(q.To) {
			return nil
		}

		appts, err := tx.BlockingAppointments(ctx, org, q.StaffID, lower, q.To, "")
		if err != nil {
			return err
		}
		off, err := tx.TimeOff(ctx, org, q.StaffID, lower, q.To)
		if err != nil {
			return err
		}
		busy := make([]model.Interval, 0, len(appts)+len(off))
		for _, a := range appts {
			busy = append(busy, a.Interval())
		}
		busy = append(busy, off...)
		sort.Slice(busy, func(i, j int) bool { return busy[i].Start.Before(busy[j].Start) })
		seq.busy = busy
		return nil
	})
	if err != nil {
		return Sequence{}, err
	}
	return seq, nil
}

// LoadSchedule validates that staffID works at locationID in org and returns
// the staff member's shifts there with the location's zone.
func LoadSchedule(ctx context.Context, tx storage.Tx, org tenant.ID, staffID, locationID string) ([]model.Shift, *time.Location, error) {
	if _, err := tx.Staff(ctx, org, staffID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, apperr.Validation("unknown staff %q", staffID)
		}
		return nil, nil, err
	}
	location, err := tx.Location(ctx, org, locationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, apperr.Validation("unknown location %q", locationID)
		}
		return nil, nil, err
	}
	works, err := tx.StaffWorksAt(ctx, org, staffID, locationID)
	if err != nil {
		return nil, nil, err
	}
	if !works {
		return nil, nil, apperr.Validation("staff %q does not work at location %q", staffID, locationID)
	}
	loc, err := location.Zone()
	if err != nil {
		return nil, nil, apperr.Validation("location %q has invalid timezone %q", locationID, location.Timezone)
	}
	shifts, err := tx.WorkingHours(ctx, org, staffID, locationID)
	if err != nil {
		return nil, nil, err
	}
	return shifts, loc, nil
}

// Sequence is a finite, restartable series of free windows.
type Sequence struct {
	from, to time.Time
	duration time.Duration
	loc      *time.Location
	shifts   []model.Shift
	busy     []model.Interval
}

func (s Sequence) Duration() time.Duration { return s.duration }

// Windows yields maximal free intervals long enough for one booking.
func (s Sequence) Windows() iter.Seq[Window] {
	return func(yield func(Window) bool) {
		if s.loc == nil || !s.from.Before(s.to) {
			return
		}
		for w := range Working(s.shifts, s.loc, s.from, s.to) {
			ok := subtract(w, s.busy, func(free model.Interval) bool {
				if free.Duration() < s.duration {
					return true
				}
				return yield(free)
			})
			if !ok {
				return
			}
		}
	}
}

// Slots chops each window into bookable intervals starting every step.
func (s Sequence) Slots(step time.Duration) iter.Seq[Window] {
	if step <= 0 {
		step = s.duration
	}
	return func(yield func(Window) bool) {
		for w := range s.Windows() {
			for t := w.Start; !t.Add(s.duration).After(w.End); t = t.Add(step) {
				if !yield(Window{Start: t, End: t.Add(s.duration)}) {
					return
				}
			}
		}
	}
}

// Take collects at most n values; n <= 0 collects everything.
func Take[T any](seq iter.Seq[T], n int) []T {
	var out []T
	for v := range seq {
		out = append(out, v)
		if n > 0 && len(out) == n {
			break
		}
	}
	return out
}
