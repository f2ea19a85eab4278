package memory

import (
	"errors"
	"slices"

	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/outbox"
)

var errCheckViolation = errors.New("memory: check constraint violated")

// Seed and inspection helpers. They bypass transactions and are meant for
// fixtures and assertions.

func (s *Store) AddLocation(l model.Location) { s.with(func(st *state) { st.locations[l.ID] = l }) }

func (s *Store) AddStaff(st model.Staff, locationIDs ...string) {
	s.with(func(state *state) {
		state.staff[st.ID] = st
		for _, loc := range locationIDs {
			state.staffLocations[staffLocation{st.ID, loc}] = true
		}
	})
}

func (s *Store) AddShifts(staffID, locationID string, shifts ...model.Shift) {
	s.with(func(st *state) {
		k := staffLocation{staffID, locationID}
		st.shifts[k] = append(slices.Clone(st.shifts[k]), shifts...)
	})
}

func (s *Store) AddTimeOff(staffID string, iv model.Interval) {
	s.with(func(st *state) { st.timeOff[staffID] = append(slices.Clone(st.timeOff[staffID]), iv) })
}

func (s *Store) AddService(svc model.Service) { s.with(func(st *state) { st.services[svc.ID] = svc }) }

func (s *Store) AddClient(c model.Client) { s.with(func(st *state) { st.clients[c.ID] = c }) }

func (s *Store) AddTier(t model.MembershipTier) { s.with(func(st *state) { st.tiers[t.ID] = t }) }

func (s *Store) AddMembership(m model.Membership) { s.with(func(st *state) { st.memberships[m.ID] = m }) }

func (s *Store) AddRewardOption(o model.RewardOption) {
	s.with(func(st *state) { st.rewardOptions[o.ID] = o })
}

func (s *Store) AddRewardEntry(e model.RewardEntry) {
	s.with(func(st *state) { st.rewardEntries = append(st.rewardEntries, e) })
}

func (s *Store) Membership(id string) (model.Membership, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.st.memberships[id]
	return m, ok
}

func (s *Store) AppointmentByID(id string) (model.Appointment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.appointments[id]
	return a, ok
}

func (s *Store) Transactions() []model.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.transactions)
}

func (s *Store) RewardEntries() []model.RewardEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.rewardEntries)
}

func (s *Store) StatusHistory() []model.StatusChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.history)
}

func (s *Store) ProviderEvent(provider, id string) (model.ProviderEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.st.providerEvents[eventKey(provider, id)]
	return e, ok
}

// OutboxTypes lists event types still waiting to be relayed, oldest first.
func (s *Store) OutboxTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.st.outbox))
	for _, r := range s.st.outbox {
		out = append(out, r.EventType)
	}
	return out
}

func (s *Store) with(fn func(*state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

var _ outbox.Source = (*Store)(nil)
