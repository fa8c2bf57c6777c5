package conversation

import (
	"context"
	"errors"
	"time"

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

const msgCols = `id, client_key, sender_id, receiver_id, body, created_at, read_at`

const pairClause = `((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))`

func scanMsg(row pgx.Row) (*Message, error) {
	var m Message
	var id uuid.UUID
	if err := row.Scan(&id, &m.ClientKey, &m.SenderID, &m.ReceiverID, &m.Body, &m.CreatedAt, &m.ReadAt); err != nil {
		return nil, err
	}
	m.ID = id.String()
	return &m, nil
}

func (r *repoPG) History(ctx context.Context, key Key) ([]*Message, error) {
	a, b := key.Actors()
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+msgCols+` FROM messages WHERE `+pairClause+` ORDER BY created_at ASC, id ASC`,
		a, b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m, err := scanMsg(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *repoPG) Insert(ctx context.Context, m *Message) (*Message, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO messages (id, client_key, sender_id, receiver_id, body)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+msgCols,
		uuid.New(), m.ClientKey, m.SenderID, m.ReceiverID, m.Body)

	stored, err := scanMsg(row)
	if err == nil {
		return stored, nil
	}

	// A duplicate client key means the write already happened; return the
	// existing row so retries stay idempotent.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return r.byClientKey(ctx, m.ClientKey)
	}
	return nil, err
}

func (r *repoPG) byClientKey(ctx context.Context, key uuid.UUID) (*Message, error) {
	m, err := scanMsg(r.conn(ctx).QueryRow(ctx,
		`SELECT `+msgCols+` FROM messages WHERE client_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func (r *repoPG) Latest(ctx context.Context, key Key) (*Message, error) {
	a, b := key.Actors()
	m, err := scanMsg(r.conn(ctx).QueryRow(ctx,
		`SELECT `+msgCols+` FROM messages WHERE `+pairClause+`
		 ORDER BY created_at DESC, id DESC LIMIT 1`, a, b))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func (r *repoPG) MarkRead(ctx context.Context, key Key, viewerID uuid.UUID, at time.Time) (int64, error) {
	counterpart := key.Other(viewerID)
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE messages SET read_at = $3
		WHERE sender_id = $1 AND receiver_id = $2 AND read_at IS NULL`,
		counterpart, viewerID, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
