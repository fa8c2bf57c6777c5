package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/portal/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const apptCols = `a.id, a.doctor_id, a.patient_id, a.date, a.time, a.duration_minutes,
	a.status, a.notes, a.created_at, d.full_name, p.full_name, d.specialty`

const apptJoin = ` FROM appointments a
	JOIN profiles d ON d.id = a.doctor_id
	JOIN profiles p ON p.id = a.patient_id`

func scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.DoctorID, &a.PatientID, &a.Date, &a.Time, &a.DurationMinutes,
		&a.Status, &a.Notes, &a.CreatedAt, &a.DoctorName, &a.PatientName, &a.Specialty)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, date, time, duration_minutes, status, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		a.ID, a.DoctorID, a.PatientID, a.Date, a.Time, a.DurationMinutes, a.Status, a.Notes)
	if err != nil {
		return insertError(err)
	}
	return nil
}

// insertError maps duplicate-key failures to ErrConflict; anything else,
// including foreign-key and check violations, surfaces unchanged.
func insertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppt(r.conn(ctx).QueryRow(ctx,
		`SELECT `+apptCols+apptJoin+` WHERE a.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (*Appointment, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE appointments SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *repoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return r.list(ctx, `a.doctor_id`, doctorID, limit, offset)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return r.list(ctx, `a.patient_id`, patientID, limit, offset)
}

func (r *repoPG) list(ctx context.Context, col string, actorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointments a WHERE `+col+` = $1`, actorID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+apptCols+apptJoin+` WHERE `+col+` = $1
		 ORDER BY a.date ASC, a.time ASC LIMIT $2 OFFSET $3`,
		actorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := scanAppt(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *repoPG) CounterpartIDs(ctx context.Context, actorID uuid.UUID, role string) ([]uuid.UUID, error) {
	own, other := `patient_id`, `doctor_id`
	if role == RoleDoctor {
		own, other = `doctor_id`, `patient_id`
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT DISTINCT `+other+` FROM appointments WHERE `+own+` = $1`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
