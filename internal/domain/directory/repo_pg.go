package directory

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

func NewRepoPG(pool *pgxpool.Pool) ProfileRepository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const profileCols = `id, role, full_name, specialty, avatar_url, created_at`

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.Role, &p.FullName, &p.Specialty, &p.AvatarURL, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Profile, error) {
	p, err := scanProfile(r.conn(ctx).QueryRow(ctx,
		`SELECT `+profileCols+` FROM profiles WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *repoPG) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.list(ctx, `SELECT `+profileCols+` FROM profiles WHERE id = ANY($1) ORDER BY full_name ASC`, ids)
}

func (r *repoPG) ListByRole(ctx context.Context, role string) ([]*Profile, error) {
	return r.list(ctx, `SELECT `+profileCols+` FROM profiles WHERE role = $1 ORDER BY full_name ASC`, role)
}

func (r *repoPG) list(ctx context.Context, sql string, arg interface{}) ([]*Profile, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}
