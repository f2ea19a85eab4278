package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RewardEntry is immutable once written.
type RewardEntry struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	ClientID       string          `json:"client_id"`
	Points         int64           `json:"points"`
	Reason         string          `json:"reason"`
	SourceRef      string          `json:"source_ref,omitempty"`
	Multiplier     decimal.Decimal `json:"multiplier"`
	CreatedAt      time.Time       `json:"created_at"`
}

type RewardOption struct {
	ID             string
	OrganizationID string
	Name           string
	PointsCost     int64
	Active         bool
}

type TransactionKind string

const (
	TxAppointmentCharge TransactionKind = "appointment_charge"
	TxMembershipRenewal TransactionKind = "membership_renewal"
	TxRefund            TransactionKind = "refund"
)

type Transaction struct {
	ID             string
	OrganizationID string
	ClientID       string
	AppointmentID  string
	MembershipID   string
	Kind           TransactionKind
	Amount         decimal.Decimal
	CreditsApplied decimal.Decimal
	Reference      string
	CreatedAt      time.Time
}

// AppointmentCompleted is emitted exactly once per appointment, inside the
// transaction that moves it to completed.
type AppointmentCompleted struct {
	OrganizationID string          `json:"organization_id"`
	AppointmentID  string          `json:"appointment_id"`
	ClientID       string          `json:"client_id"`
	ServiceID      string          `json:"service_id"`
	ServicePrice   decimal.Decimal `json:"service_price"`
	CompletedAt    time.Time       `json:"completed_at"`
}

// Settlement is what completion did to the client's ledgers.
type Settlement struct {
	MembershipID     string          `json:"membership_id,omitempty"`
	CreditsApplied   decimal.Decimal `json:"credits_applied"`
	CreditsRemaining decimal.Decimal `json:"credits_remaining"`
	AmountDue        decimal.Decimal `json:"amount_due"`
	PointsEarned     int64           `json:"points_earned"`
}
