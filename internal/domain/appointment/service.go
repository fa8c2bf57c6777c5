package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultDurationMinutes = 30

type Service struct {
	appointments Repository
	runTx        func(ctx context.Context, fn func(context.Context) error) error
	now          func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithTxRunner makes the service's read-check-write sequences run through
// the given transaction runner. Without it each repository call stands alone.
func WithTxRunner(run func(ctx context.Context, fn func(context.Context) error) error) ServiceOption {
	return func(s *Service) { s.runTx = run }
}

func NewService(appointments Repository, opts ...ServiceOption) *Service {
	s := &Service{
		appointments: appointments,
		runTx:        func(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) },
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates and stores a new appointment request. The record always
// enters the machine at pending regardless of the submitted status.
func (s *Service) Create(ctx context.Context, a *Appointment) (*Appointment, error) {
	if a.DoctorID == uuid.Nil {
		return nil, &ValidationError{Field: "doctor_id", Reason: "is required"}
	}
	if a.PatientID == uuid.Nil {
		return nil, &ValidationError{Field: "patient_id", Reason: "is required"}
	}
	if a.Date.IsZero() {
		return nil, &ValidationError{Field: "date", Reason: "is required"}
	}
	if a.Time == "" {
		return nil, &ValidationError{Field: "time", Reason: "is required"}
	}

	startsAt, err := a.StartsAt()
	if err != nil {
		return nil, &ValidationError{Field: "time", Reason: "must be HH:MM"}
	}
	if !startsAt.After(s.now()) {
		return nil, &ValidationError{Field: "date", Reason: "must be in the future"}
	}

	if a.DurationMinutes <= 0 {
		a.DurationMinutes = defaultDurationMinutes
	}
	a.Status = StatusPending

	var created *Appointment
	err = s.runTx(ctx, func(ctx context.Context) error {
		if err := s.appointments.Create(ctx, a); err != nil {
			return err
		}
		var err error
		created, err = s.appointments.GetByID(ctx, a.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Get returns one appointment by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

// ListFor returns the actor's appointments ordered by (date, time) ascending.
func (s *Service) ListFor(ctx context.Context, actorID uuid.UUID, role string, limit, offset int) ([]*Appointment, int, error) {
	switch role {
	case RoleDoctor:
		return s.appointments.ListByDoctor(ctx, actorID, limit, offset)
	case RolePatient:
		return s.appointments.ListByPatient(ctx, actorID, limit, offset)
	default:
		return nil, 0, fmt.Errorf("unknown role %q", role)
	}
}

// UpdateStatus moves an appointment along the status machine. The edge and
// the acting role are both validated before anything is persisted.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, newStatus Status, actingRole string) (*Appointment, error) {
	var updated *Appointment
	err := s.runTx(ctx, func(ctx context.Context) error {
		current, err := s.appointments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := CheckTransition(current.Status, newStatus, actingRole); err != nil {
			return err
		}
		updated, err = s.appointments.UpdateStatus(ctx, id, newStatus)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// CounterpartIDs returns the distinct conversation partners derived from the
// actor's appointment relationships.
func (s *Service) CounterpartIDs(ctx context.Context, actorID uuid.UUID, role string) ([]uuid.UUID, error) {
	return s.appointments.CounterpartIDs(ctx, actorID, role)
}
