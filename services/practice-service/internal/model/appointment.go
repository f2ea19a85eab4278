package model

import (
	"fmt"
	"strings"
	"time"
)

type AppointmentStatus string

const (
	StatusPending    AppointmentStatus = "pending"
	StatusScheduled  AppointmentStatus = "scheduled"
	StatusConfirmed  AppointmentStatus = "confirmed"
	StatusInProgress AppointmentStatus = "in_progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCanceled   AppointmentStatus = "canceled"
	StatusNoShow     AppointmentStatus = "no_show"
)

// BlockingStatuses occupy a staff member's calendar.
var BlockingStatuses = []AppointmentStatus{StatusPending, StatusScheduled, StatusConfirmed, StatusInProgress}

var happyPath = map[AppointmentStatus]AppointmentStatus{
	StatusPending:    StatusScheduled,
	StatusScheduled:  StatusConfirmed,
	StatusConfirmed:  StatusInProgress,
	StatusInProgress: StatusCompleted,
}

func ParseAppointmentStatus(s string) (AppointmentStatus, error) {
	st := AppointmentStatus(strings.TrimSpace(s))
	switch st {
	case StatusPending, StatusScheduled, StatusConfirmed, StatusInProgress,
		StatusCompleted, StatusCanceled, StatusNoShow:
		return st, nil
	}
	return "", fmt.Errorf("unknown appointment status %q", s)
}

func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled || s == StatusNoShow
}

func (s AppointmentStatus) Blocking() bool {
	return !s.Terminal()
}

// CanTransition reports whether to is reachable from s in one step.
func (s AppointmentStatus) CanTransition(to AppointmentStatus) bool {
	if s.Terminal() {
		return false
	}
	if to == StatusCanceled || to == StatusNoShow {
		return true
	}
	return happyPath[s] == to
}

func (s *AppointmentStatus) UnmarshalText(b []byte) error {
	st, err := ParseAppointmentStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

type Appointment struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organization_id"`
	LocationID     string            `json:"location_id"`
	StaffID        string            `json:"staff_id"`
	ClientID       string            `json:"client_id"`
	ServiceID      string            `json:"service_id"`
	StartTime      time.Time         `json:"start_time"`
	EndTime        time.Time         `json:"end_time"`
	Status         AppointmentStatus `json:"status"`
	Notes          string            `json:"notes,omitempty"`
	CancelReason   string            `json:"cancel_reason,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func (a Appointment) Interval() Interval {
	return Interval{Start: a.StartTime, End: a.EndTime}
}

// StatusChange is one row of an appointment's audit history.
type StatusChange struct {
	AppointmentID  string
	OrganizationID string
	From           AppointmentStatus
	To             AppointmentStatus
	Reason         string
	ActorID        string
	At             time.Time
}
