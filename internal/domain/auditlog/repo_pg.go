package auditlog

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/recordchain/internal/platform/db"
)

type logRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &logRepoPG{pool: pool}
}

func (r *logRepoPG) Insert(ctx context.Context, e *Entry) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO admin_log (event, data, block_number, tx_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		e.Event, e.Data, e.BlockNumber, e.TxID,
	).Scan(&e.ID, &e.CreatedAt)
}

func (r *logRepoPG) List(ctx context.Context, event string, limit, offset int) ([]*Entry, int, error) {
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx,
		`SELECT count(*) FROM admin_log WHERE $1 = '' OR event = $1`, event).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := conn.Query(ctx, `
		SELECT id, event, data, block_number, tx_id, created_at
		FROM admin_log
		WHERE $1 = '' OR event = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3`, event, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Event, &e.Data, &e.BlockNumber, &e.TxID, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &e)
	}
	return out, total, rows.Err()
}
