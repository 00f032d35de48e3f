package record

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/recordchain/internal/platform/db"
)

const constraintRecordCode = "medical_record_record_code_key"

type recordRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &recordRepoPG{pool: pool}
}

const recordSelect = `SELECT m.id, m.record_code, m.patient_id, m.doctor_id, d.user_id,
	p.patient_code, d.doctor_code, m.visit_date,
	m.reason_for_visit, m.symptoms, m.diagnosis, m.notes, m.vital_signs,
	m.prescribed_medications, m.follow_up_date, m.follow_up_note,
	m.status, m.record_hash, m.last_verified_hash, m.current_version,
	m.created_at, m.updated_at, m.updated_by
	FROM medical_record m
	JOIN patient p ON p.id = m.patient_id
	JOIN doctor d ON d.id = m.doctor_id`

func scanRecord(row pgx.Row) (*MedicalRecord, error) {
	var r MedicalRecord
	err := row.Scan(&r.ID, &r.RecordCode, &r.PatientID, &r.DoctorID, &r.DoctorUserID,
		&r.PatientCode, &r.DoctorCode, &r.VisitDate,
		&r.ReasonForVisit, &r.Symptoms, &r.Diagnosis, &r.Notes, &r.VitalSigns,
		&r.PrescribedMedications, &r.FollowUpDate, &r.FollowUpNote,
		&r.Status, &r.RecordHash, &r.LastVerifiedHash, &r.CurrentVersion,
		&r.CreatedAt, &r.UpdatedAt, &r.UpdatedBy)
	if err != nil {
		return nil, err
	}
	r.normalizeTimes()
	return &r, nil
}

// normalizeTimes brings scanned timestamps back to the UTC millisecond
// form they were hashed with.
func (r *MedicalRecord) normalizeTimes() {
	r.VisitDate = Truncate(r.VisitDate)
	r.CreatedAt = Truncate(r.CreatedAt)
	r.UpdatedAt = Truncate(r.UpdatedAt)
	if r.FollowUpDate != nil {
		t := Truncate(*r.FollowUpDate)
		r.FollowUpDate = &t
	}
	if r.Symptoms == nil {
		r.Symptoms = []string{}
	}
	if r.PrescribedMedications == nil {
		r.PrescribedMedications = []Medication{}
	}
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *recordRepoPG) Create(ctx context.Context, rec *MedicalRecord) error {
	rec.ID = uuid.New()
	rec.normalizeTimes()
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO medical_record (id, record_code, patient_id, doctor_id, visit_date,
			reason_for_visit, symptoms, diagnosis, notes, vital_signs, prescribed_medications,
			follow_up_date, follow_up_note, status, record_hash, last_verified_hash,
			current_version, created_at, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		rec.ID, rec.RecordCode, rec.PatientID, rec.DoctorID, rec.VisitDate,
		rec.ReasonForVisit, rec.Symptoms, rec.Diagnosis, rec.Notes, rec.VitalSigns, rec.PrescribedMedications,
		rec.FollowUpDate, rec.FollowUpNote, rec.Status, rec.RecordHash, rec.LastVerifiedHash,
		rec.CurrentVersion, rec.CreatedAt, rec.UpdatedAt, rec.UpdatedBy,
	)
	return err
}

func (r *recordRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	rec, err := scanRecord(db.Conn(ctx, r.pool).QueryRow(ctx, recordSelect+` WHERE m.id = $1`, id))
	return rec, notFound(err)
}

func (r *recordRepoPG) GetByCode(ctx context.Context, code string) (*MedicalRecord, error) {
	rec, err := scanRecord(db.Conn(ctx, r.pool).QueryRow(ctx, recordSelect+` WHERE m.record_code = $1`, code))
	return rec, notFound(err)
}

func (r *recordRepoPG) LastCode(ctx context.Context, prefix string) (string, error) {
	var code string
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT record_code FROM medical_record
		WHERE record_code LIKE $1 || '-%'
		ORDER BY record_code DESC LIMIT 1`, prefix).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return code, err
}

func (r *recordRepoPG) UpdateContent(ctx context.Context, rec *MedicalRecord, expectedVersion int) error {
	rec.normalizeTimes()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE medical_record SET
			reason_for_visit = $3, symptoms = $4, diagnosis = $5, notes = $6,
			vital_signs = $7, prescribed_medications = $8, follow_up_date = $9,
			follow_up_note = $10, status = $11, record_hash = $12,
			last_verified_hash = $13, updated_at = $14, updated_by = $15,
			visit_date = $16, current_version = current_version + 1
		WHERE id = $1 AND current_version = $2
		RETURNING current_version`,
		rec.ID, expectedVersion,
		rec.ReasonForVisit, rec.Symptoms, rec.Diagnosis, rec.Notes,
		rec.VitalSigns, rec.PrescribedMedications, rec.FollowUpDate,
		rec.FollowUpNote, rec.Status, rec.RecordHash,
		rec.LastVerifiedHash, rec.UpdatedAt, rec.UpdatedBy,
		rec.VisitDate,
	).Scan(&rec.CurrentVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s at version %d: %w", rec.RecordCode, expectedVersion, ErrVersionConflict)
	}
	return err
}

func (r *recordRepoPG) MarkVerified(ctx context.Context, id uuid.UUID, hash string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE medical_record SET status = 'Verified'
		WHERE id = $1 AND record_hash = $2`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (r *recordRepoPG) list(ctx context.Context, where string, limit, offset int, args ...interface{}) ([]*MedicalRecord, int, error) {
	conn := db.Conn(ctx, r.pool)

	var total int
	countSQL := `SELECT count(*) FROM medical_record m JOIN patient p ON p.id = m.patient_id WHERE ` + where
	if err := conn.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := fmt.Sprintf(`%s WHERE %s ORDER BY m.created_at DESC, m.record_code DESC LIMIT $%d OFFSET $%d`,
		recordSelect, where, n+1, n+2)
	rows, err := conn.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*MedicalRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

func (r *recordRepoPG) ListByCodes(ctx context.Context, codes []string, patientCode string, limit, offset int) ([]*MedicalRecord, int, error) {
	if len(codes) == 0 {
		return nil, 0, nil
	}
	return r.list(ctx, `m.record_code = ANY($1) AND ($2 = '' OR p.patient_code = $2)`, limit, offset, codes, patientCode)
}

func (r *recordRepoPG) ListByPatientCodes(ctx context.Context, patientCodes []string, limit, offset int) ([]*MedicalRecord, int, error) {
	if len(patientCodes) == 0 {
		return nil, 0, nil
	}
	return r.list(ctx, `p.patient_code = ANY($1)`, limit, offset, patientCodes)
}
