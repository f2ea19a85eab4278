package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Location struct {
	ID             string
	OrganizationID string
	Name           string
	Timezone       string
}

func (l Location) Zone() (*time.Location, error) {
	return time.LoadLocation(l.Timezone)
}

type Staff struct {
	ID             string
	OrganizationID string
	Name           string
}

// Shift is a weekly working-hours range in the location's local time.
// EndMinute <= StartMinute means the shift ends on the following day.
type Shift struct {
	Weekday     time.Weekday
	StartMinute int
	EndMinute   int
}

func (s Shift) SpansMidnight() bool { return s.EndMinute <= s.StartMinute }

type Service struct {
	ID              string
	OrganizationID  string
	Name            string
	DurationMinutes int
	Price           decimal.Decimal
}

func (s Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

type Client struct {
	ID             string
	OrganizationID string
	Name           string
}
