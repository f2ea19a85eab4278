// Package storage is the persistence boundary of the service. Core packages
// depend on Store and Tx; postgres and memory provide implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/outbox"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/tenant"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicate reports an insert that hit an existing idempotency key.
	ErrDuplicate = errors.New("duplicate")
	// ErrOverlap reports a booking rejected by the no-overlap constraint.
	ErrOverlap = errors.New("overlapping appointment")
)

// Store runs units of work. fn may be invoked more than once when the
// implementation retries transient faults, so it must not have side effects
// outside tx.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Tx interface {
	Catalog
	Appointments
	Idempotency
	Memberships
	Rewards
	Transactions
	ProviderEvents
	Outbox
}

type Catalog interface {
	Location(ctx context.Context, org tenant.ID, id string) (model.Location, error)
	Staff(ctx context.Context, org tenant.ID, id string) (model.Staff, error)
	// LockStaff serializes bookings for one staff member until commit.
	LockStaff(ctx context.Context, org tenant.ID, id string) error
	StaffWorksAt(ctx context.Context, org tenant.ID, staffID, locationID string) (bool, error)
	WorkingHours(ctx context.Context, org tenant.ID, staffID, locationID string) ([]model.Shift, error)
	TimeOff(ctx context.Context, org tenant.ID, staffID string, from, to time.Time) ([]model.Interval, error)
	Service(ctx context.Context, org tenant.ID, id string) (model.Service, error)
	Client(ctx context.Context, org tenant.ID, id string) (model.Client, error)
}

type Appointments interface {
	InsertAppointment(ctx context.Context, a model.Appointment) error
	Appointment(ctx context.Context, org tenant.ID, id string) (model.Appointment, error)
	AppointmentForUpdate(ctx context.Context, org tenant.ID, id string) (model.Appointment, error)
	UpdateAppointment(ctx context.Context, a model.Appointment) error
	// BlockingAppointments returns blocking appointments of staffID that
	// overlap [from, to), ordered by start, skipping excludeID.
	BlockingAppointments(ctx context.Context, org tenant.ID, staffID string, from, to time.Time, excludeID string) ([]model.Appointment, error)
	InsertStatusChange(ctx context.Context, c model.StatusChange) error
}

type Idempotency interface {
	// LockIdempotencyKey claims key for the rest of the transaction and
	// returns whatever was stored for it before.
	LockIdempotencyKey(ctx context.Context, org tenant.ID, key, requestHash string) (model.IdempotencyRecord, error)
	FinalizeIdempotency(ctx context.Context, org tenant.ID, key string, code int, body []byte) error
}

type Memberships interface {
	Tier(ctx context.Context, org tenant.ID, id string) (model.MembershipTier, error)
	MembershipForUpdate(ctx context.Context, org tenant.ID, id string) (model.Membership, error)
	// ClientMembershipForUpdate returns the client's most recent membership.
	ClientMembershipForUpdate(ctx context.Context, org tenant.ID, clientID string) (model.Membership, error)
	// MembershipBySubscriptionForUpdate is the one lookup not scoped by
	// tenant: processor events identify memberships by subscription id and
	// the tenant is read from the row.
	MembershipBySubscriptionForUpdate(ctx context.Context, subscriptionID string) (model.Membership, error)
	UpdateMembership(ctx context.Context, m model.Membership) error
	ProcessorMemberships(ctx context.Context, limit int) ([]model.Membership, error)
}

type Rewards interface {
	// LockRewardAccount serializes balance checks for one client.
	LockRewardAccount(ctx context.Context, org tenant.ID, clientID string) error
	InsertRewardEntry(ctx context.Context, e model.RewardEntry) error
	RewardBalance(ctx context.Context, org tenant.ID, clientID string) (int64, error)
	RewardEntries(ctx context.Context, org tenant.ID, clientID string) ([]model.RewardEntry, error)
	RewardOption(ctx context.Context, org tenant.ID, id string) (model.RewardOption, error)
}

type Transactions interface {
	InsertTransaction(ctx context.Context, t model.Transaction) error
}

type ProviderEvents interface {
	// InsertProviderEvent returns ErrDuplicate when (provider, event id) was
	// already recorded.
	InsertProviderEvent(ctx context.Context, e model.ProviderEvent) error
	// ClaimProviderEvents locks up to limit pending events due by now,
	// oldest first, skipping rows other workers hold.
	ClaimProviderEvents(ctx context.Context, limit, maxAttempts int, now time.Time) ([]model.ProviderEvent, error)
	// MarkProviderEvent records a final processed or skipped outcome.
	MarkProviderEvent(ctx context.Context, provider, eventID string, status model.ProviderEventStatus) error
	// FailProviderEvent counts a failed attempt and defers the next one
	// until retryAt.
	FailProviderEvent(ctx context.Context, provider, eventID, lastErr string, retryAt time.Time) error
}

type Outbox interface {
	InsertOutbox(ctx context.Context, evt outbox.Event) error
}
