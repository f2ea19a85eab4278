// Package memory is an in-process storage.Store. Transactions are fully
// serialized and copy-on-write, so a failed unit of work leaves no trace.
// It backs the dev server mode and the service-level tests.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/outbox"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/tenant"
)

type staffLocation struct{ staffID, locationID string }

type state struct {
	locations      map[string]model.Location
	staff          map[string]model.Staff
	staffLocations map[staffLocation]bool
	shifts         map[staffLocation][]model.Shift
	timeOff        map[string][]model.Interval
	services       map[string]model.Service
	clients        map[string]model.Client
	appointments   map[string]model.Appointment
	history        []model.StatusChange
	idempotency    map[string]model.IdempotencyRecord
	tiers          map[string]model.MembershipTier
	memberships    map[string]model.Membership
	rewardEntries  []model.RewardEntry
	rewardOptions  map[string]model.RewardOption
	transactions   []model.Transaction
	providerEvents map[string]model.ProviderEvent
	outbox         []outbox.Record
	outboxSeq      int64
}

func newState() *state {
	return &state{
		locations:      map[string]model.Location{},
		staff:          map[string]model.Staff{},
		staffLocations: map[staffLocation]bool{},
		shifts:         map[staffLocation][]model.Shift{},
		timeOff:        map[string][]model.Interval{},
		services:       map[string]model.Service{},
		clients:        map[string]model.Client{},
		appointments:   map[string]model.Appointment{},
		idempotency:    map[string]model.IdempotencyRecord{},
		tiers:          map[string]model.MembershipTier{},
		memberships:    map[string]model.Membership{},
		rewardOptions:  map[string]model.RewardOption{},
		providerEvents: map[string]model.ProviderEvent{},
	}
}

func (s *state) clone() *state {
	return &state{
		locations:      maps.Clone(s.locations),
		staff:          maps.Clone(s.staff),
		staffLocations: maps.Clone(s.staffLocations),
		shifts:         maps.Clone(s.shifts),
		timeOff:        maps.Clone(s.timeOff),
		services:       maps.Clone(s.services),
		clients:        maps.Clone(s.clients),
		appointments:   maps.Clone(s.appointments),
		history:        slices.Clone(s.history),
		idempotency:    maps.Clone(s.idempotency),
		tiers:          maps.Clone(s.tiers),
		memberships:    maps.Clone(s.memberships),
		rewardEntries:  slices.Clone(s.rewardEntries),
		rewardOptions:  maps.Clone(s.rewardOptions),
		transactions:   slices.Clone(s.transactions),
		providerEvents: maps.Clone(s.providerEvents),
		outbox:         slices.Clone(s.outbox),
		outboxSeq:      s.outboxSeq,
	}
}

type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

func (s *Store) InTx(ctx context.Context, fn func(context.Context, storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, &Tx{st: work, now: s.now}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// Claim implements outbox.Source. Records leave the queue only when fn
// succeeds.
func (s *Store) Claim(ctx context.Context, limit int, fn func(context.Context, []outbox.Record) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := min(limit, len(s.st.outbox))
	if n == 0 {
		return 0, nil
	}
	batch := slices.Clone(s.st.outbox[:n])
	if err := fn(ctx, batch); err != nil {
		return n, err
	}
	s.st.outbox = slices.Clone(s.st.outbox[n:])
	return n, nil
}

type Tx struct {
	st  *state
	now func() time.Time
}

var _ storage.Tx = (*Tx)(nil)

func owned(org tenant.ID, rowOrg string) bool { return string(org) == rowOrg }

func (t *Tx) Location(_ context.Context, org tenant.ID, id string) (model.Location, error) {
	l, ok := t.st.locations[id]
	if !ok || !owned(org, l.OrganizationID) {
		return model.Location{}, storage.ErrNotFound
	}
	return l, nil
}

func (t *Tx) Staff(_ context.Context, org tenant.ID, id string) (model.Staff, error) {
	s, ok := t.st.staff[id]
	if !ok || !owned(org, s.OrganizationID) {
		return model.Staff{}, storage.ErrNotFound
	}
	return s, nil
}

func (t *Tx) LockStaff(ctx context.Context, org tenant.ID, id string) error {
	_, err := t.Staff(ctx, org, id)
	return err
}

func (t *Tx) StaffWorksAt(ctx context.Context, org tenant.ID, staffID, locationID string) (bool, error) {
	if _, err := t.Staff(ctx, org, staffID); err != nil {
		return false, nil
	}
	if _, err := t.Location(ctx, org, locationID); err != nil {
		return false, nil
	}
	return t.st.staffLocations[staffLocation{staffID, locationID}], nil
}

func (t *Tx) WorkingHours(ctx context.Context, org tenant.ID, staffID, locationID string) ([]model.Shift, error) {
	if _, err := t.Staff(ctx, org, staffID); err != nil {
		return nil, nil
	}
	return slices.Clone(t.st.shifts[staffLocation{staffID, locationID}]), nil
}

func (t *Tx) TimeOff(ctx context.Context, org tenant.ID, staffID string, from, to time.Time) ([]model.Interval, error) {
	if _, err := t.Staff(ctx, org, staffID); err != nil {
		return nil, nil
	}
	window := model.Interval{Start: from, End: to}
	var out []model.Interval
	for _, iv := range t.st.timeOff[staffID] {
		if iv.Overlaps(window) {
			out = append(out, iv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (t *Tx) Service(_ context.Context, org tenant.ID, id string) (model.Service, error) {
	s, ok := t.st.services[id]
	if !ok || !owned(org, s.OrganizationID) {
		return model.Service{}, storage.ErrNotFound
	}
	return s, nil
}

func (t *Tx) Client(_ context.Context, org tenant.ID, id string) (model.Client, error) {
	c, ok := t.st.clients[id]
	if !ok || !owned(org, c.OrganizationID) {
		return model.Client{}, storage.ErrNotFound
	}
	return c, nil
}
