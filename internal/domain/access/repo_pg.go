package access

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/recordchain/internal/platform/db"
)

type grantRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &grantRepoPG{pool: pool}
}

func (r *grantRepoPG) Add(ctx context.Context, doctorID uuid.UUID, recordCode, patientCode string) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO doctor_accessible_record (doctor_id, record_code, patient_code)
		VALUES ($1, $2, $3)
		ON CONFLICT (doctor_id, record_code, patient_code) DO NOTHING`,
		doctorID, recordCode, patientCode)
	return err
}

func (r *grantRepoPG) Remove(ctx context.Context, doctorID uuid.UUID, recordCode, patientCode string) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM doctor_accessible_record
		WHERE doctor_id = $1 AND record_code = $2 AND patient_code = $3`,
		doctorID, recordCode, patientCode)
	return err
}

func (r *grantRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Grant, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT doctor_id, record_code, patient_code, position, granted_at
		FROM doctor_accessible_record
		WHERE doctor_id = $1
		ORDER BY position`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Grant
	for rows.Next() {
		var g Grant
		if err := rows.Scan(&g.DoctorID, &g.RecordCode, &g.PatientCode, &g.Position, &g.GrantedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *grantRepoPG) Holders(ctx context.Context, recordCode string) ([]Holder, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT d.doctor_code, u.fullname, d.specialization, g.granted_at
		FROM doctor_accessible_record g
		JOIN doctor d ON d.id = g.doctor_id
		JOIN app_user u ON u.id = d.user_id
		WHERE g.record_code = $1
		ORDER BY g.position`, recordCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Holder
	for rows.Next() {
		var h Holder
		if err := rows.Scan(&h.DoctorCode, &h.Fullname, &h.Specialization, &h.GrantedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
