package version

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/recordchain/internal/platform/db"
)

const constraintVersionKey = "medical_record_version_pkey"

type versionRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &versionRepoPG{pool: pool}
}

const versionCols = `medical_record_id, version, record_code, snapshot, record_hash,
	updated_by, rollback_from_version, created_at`

func scanVersion(row pgx.Row) (*Version, error) {
	var v Version
	err := row.Scan(&v.RecordID, &v.Version, &v.RecordCode, &v.Snapshot, &v.RecordHash,
		&v.UpdatedBy, &v.RollbackFromVersion, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *versionRepoPG) Create(ctx context.Context, v *Version) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO medical_record_version (medical_record_id, version, record_code, snapshot,
			record_hash, updated_by, rollback_from_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		v.RecordID, v.Version, v.RecordCode, v.Snapshot, v.RecordHash, v.UpdatedBy, v.RollbackFromVersion,
	).Scan(&v.CreatedAt)
	if db.IsUniqueViolation(err, constraintVersionKey) {
		return ErrVersionExists
	}
	return err
}

func (r *versionRepoPG) Get(ctx context.Context, recordID uuid.UUID, version int) (*Version, error) {
	v, err := scanVersion(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+versionCols+` FROM medical_record_version WHERE medical_record_id = $1 AND version = $2`,
		recordID, version))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVersionNotFound
	}
	return v, err
}

func (r *versionRepoPG) List(ctx context.Context, recordID uuid.UUID) ([]*Version, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+versionCols+` FROM medical_record_version WHERE medical_record_id = $1 ORDER BY version`,
		recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
