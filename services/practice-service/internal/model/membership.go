package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type MembershipStatus string

const (
	MembershipActive    MembershipStatus = "active"
	MembershipSuspended MembershipStatus = "suspended"
	MembershipCanceled  MembershipStatus = "canceled"
)

func ParseMembershipStatus(s string) (MembershipStatus, error) {
	st := MembershipStatus(strings.TrimSpace(s))
	switch st {
	case MembershipActive, MembershipSuspended, MembershipCanceled:
		return st, nil
	}
	return "", fmt.Errorf("unknown membership status %q", s)
}

func (s *MembershipStatus) UnmarshalText(b []byte) error {
	st, err := ParseMembershipStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

type MembershipTier struct {
	ID                 string          `json:"id"`
	OrganizationID     string          `json:"organization_id"`
	Name               string          `json:"name"`
	MonthlyPrice       decimal.Decimal `json:"monthly_price"`
	MonthlyCredits     decimal.Decimal `json:"monthly_credits"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	PointsMultiplier   decimal.Decimal `json:"points_multiplier"`
	ProcessorPriceID   string          `json:"-"`
}

type Membership struct {
	ID                      string           `json:"id"`
	OrganizationID          string           `json:"organization_id"`
	ClientID                string           `json:"client_id"`
	TierID                  string           `json:"tier_id"`
	PendingTierID           string           `json:"pending_tier_id,omitempty"`
	Status                  MembershipStatus `json:"status"`
	MonthlyCredits          decimal.Decimal  `json:"monthly_credits"`
	UsedCredits             decimal.Decimal  `json:"used_credits"`
	StartDate               time.Time        `json:"start_date"`
	EndDate                 time.Time        `json:"end_date"`
	AutoRenew               bool             `json:"auto_renew"`
	ProcessorSubscriptionID string           `json:"-"`
	CurrentPeriodEnd        time.Time        `json:"-"`
	LastEventAt             time.Time        `json:"-"`
	UpdatedAt               time.Time        `json:"updated_at"`
}

func (m Membership) RemainingCredits() decimal.Decimal {
	return m.MonthlyCredits.Sub(m.UsedCredits)
}

// Usable reports whether credits may be spent at instant t. Canceled
// memberships keep their remaining credits until EndDate.
func (m Membership) Usable(t time.Time) bool {
	switch m.Status {
	case MembershipActive:
		return true
	case MembershipCanceled:
		return !m.EndDate.IsZero() && t.Before(m.EndDate)
	}
	return false
}
