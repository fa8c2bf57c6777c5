package appointment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Actor roles that participate in the appointment lifecycle.
const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
)

// Appointment represents a booking between a doctor and a patient.
// DoctorName, PatientName and Specialty are display fields joined from
// profiles on read; they are never written through this type.
type Appointment struct {
	ID              uuid.UUID `db:"id" json:"id"`
	DoctorID        uuid.UUID `db:"doctor_id" json:"doctor_id"`
	PatientID       uuid.UUID `db:"patient_id" json:"patient_id"`
	Date            time.Time `db:"date" json:"date"`
	Time            string    `db:"time" json:"time"`
	DurationMinutes int       `db:"duration_minutes" json:"duration_minutes"`
	Status          Status    `db:"status" json:"status"`
	Notes           *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`

	DoctorName  string  `db:"-" json:"doctor_name,omitempty"`
	PatientName string  `db:"-" json:"patient_name,omitempty"`
	Specialty   *string `db:"-" json:"specialty,omitempty"`
}

// StartsAt combines the date and HH:MM time into a single instant.
func (a *Appointment) StartsAt() (time.Time, error) {
	t, err := time.Parse("15:04", a.Time)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", a.Time, err)
	}
	return time.Date(a.Date.Year(), a.Date.Month(), a.Date.Day(),
		t.Hour(), t.Minute(), 0, 0, a.Date.Location()), nil
}

var (
	// ErrNotFound is returned when no appointment matches the given id.
	ErrNotFound = errors.New("appointment not found")
	// ErrConflict is returned when the store rejects a write.
	ErrConflict = errors.New("appointment write conflict")
	// ErrInvalidTransition is returned for a status edge that does not exist.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrForbidden is returned when the acting role may not perform an
	// otherwise valid transition.
	ErrForbidden = errors.New("role may not perform this transition")
)

// ValidationError reports malformed caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type edge struct {
	from Status
	to   Status
}

// transitions is the full status machine. Edges absent from this map do not
// exist; pending is initial, cancelled and completed are terminal.
var transitions = map[edge][]string{
	{StatusPending, StatusConfirmed}:   {RoleDoctor},
	{StatusPending, StatusCancelled}:   {RoleDoctor, RolePatient},
	{StatusConfirmed, StatusCompleted}: {RoleDoctor},
	{StatusConfirmed, StatusCancelled}: {RoleDoctor, RolePatient},
}

// CheckTransition validates a status edge for the acting role. It reports
// ErrInvalidTransition when the edge does not exist and ErrForbidden when
// the edge exists but the role may not take it.
func CheckTransition(from, to Status, role string) error {
	roles, ok := transitions[edge{from, to}]
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	for _, r := range roles {
		if r == role {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s as %s", ErrForbidden, from, to, role)
}
