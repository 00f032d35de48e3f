package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/recordchain/internal/platform/db"
)

const (
	constraintUserEmail       = "app_user_email_key"
	constraintUserIDNumber    = "app_user_identification_number_key"
	constraintUserWallet      = "app_user_wallet_address_key"
	constraintDoctorCode      = "doctor_doctor_code_key"
	constraintDoctorLicense   = "doctor_license_number_key"
	constraintPatientCode     = "patient_patient_code_key"
	constraintPatientIDNumber = "patient_identification_number_key"
)

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// -- User Repository --

type userRepoPG struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

const userCols = `id, fullname, email, role, phone, identification_number, wallet_address, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Fullname, &u.Email, &u.Role, &u.Phone, &u.IdentificationNumber,
		&u.WalletAddress, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO app_user (id, fullname, email, role, phone, identification_number)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		u.ID, u.Fullname, u.Email, u.Role, u.Phone, u.IdentificationNumber,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if db.IsUniqueViolation(err, constraintUserEmail) || db.IsUniqueViolation(err, constraintUserIDNumber) {
		return fmt.Errorf("user: %w", ErrDuplicate)
	}
	return err
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userCols+` FROM app_user WHERE id = $1`, id))
	return u, notFound(err, "user")
}

func (r *userRepoPG) GetByWallet(ctx context.Context, wallet string) (*User, error) {
	u, err := scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userCols+` FROM app_user WHERE wallet_address = $1`, wallet))
	return u, notFound(err, "user")
}

func (r *userRepoPG) SetWallet(ctx context.Context, id uuid.UUID, wallet string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE app_user SET wallet_address = $2, updated_at = now() WHERE id = $1`, id, wallet)
	if db.IsUniqueViolation(err, constraintUserWallet) {
		return ErrWalletInUse
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user: %w", ErrNotFound)
	}
	return nil
}

// -- Doctor Repository --

type doctorRepoPG struct {
	pool *pgxpool.Pool
}

func NewDoctorRepo(pool *pgxpool.Pool) DoctorRepository {
	return &doctorRepoPG{pool: pool}
}

const doctorSelect = `SELECT d.id, d.doctor_code, d.user_id, d.specialization, d.license_number,
	u.fullname, u.wallet_address, d.created_at, d.updated_at
	FROM doctor d JOIN app_user u ON u.id = d.user_id`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.DoctorCode, &d.UserID, &d.Specialization, &d.LicenseNumber,
		&d.Fullname, &d.WalletAddress, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	d.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO doctor (id, doctor_code, user_id, specialization, license_number)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		d.ID, d.DoctorCode, d.UserID, d.Specialization, d.LicenseNumber,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if db.IsUniqueViolation(err, constraintDoctorLicense) {
		return fmt.Errorf("license number: %w", ErrDuplicate)
	}
	return err
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := scanDoctor(db.Conn(ctx, r.pool).QueryRow(ctx, doctorSelect+` WHERE d.id = $1`, id))
	return d, notFound(err, "doctor")
}

func (r *doctorRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error) {
	d, err := scanDoctor(db.Conn(ctx, r.pool).QueryRow(ctx, doctorSelect+` WHERE d.user_id = $1`, userID))
	return d, notFound(err, "doctor")
}

func (r *doctorRepoPG) GetByCode(ctx context.Context, code string) (*Doctor, error) {
	d, err := scanDoctor(db.Conn(ctx, r.pool).QueryRow(ctx, doctorSelect+` WHERE d.doctor_code = $1`, code))
	return d, notFound(err, "doctor")
}

func (r *doctorRepoPG) GetByWallet(ctx context.Context, wallet string) (*Doctor, error) {
	d, err := scanDoctor(db.Conn(ctx, r.pool).QueryRow(ctx, doctorSelect+` WHERE u.wallet_address = $1`, wallet))
	return d, notFound(err, "doctor")
}

func (r *doctorRepoPG) LastCode(ctx context.Context) (string, error) {
	var code string
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT doctor_code FROM doctor ORDER BY doctor_code DESC LIMIT 1`).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return code, err
}

func (r *doctorRepoPG) List(ctx context.Context, limit, offset int) ([]*Doctor, int, error) {
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM doctor`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, doctorSelect+` ORDER BY d.doctor_code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

// -- Patient Repository --

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

const patientCols = `id, patient_code, fullname, email, birthday, gender, phone, address,
	identification_number, guardian_name, guardian_phone, guardian_identification_number,
	guardian_wallet_address, using_guardian_wallet, blood_type, allergies, chronic_diseases,
	linked_user_id, created_by, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.PatientCode, &p.Fullname, &p.Email, &p.Birthday, &p.Gender, &p.Phone, &p.Address,
		&p.IdentificationNumber, &p.GuardianName, &p.GuardianPhone, &p.GuardianIdentificationNumber,
		&p.GuardianWalletAddress, &p.UsingGuardianWallet, &p.BloodType, &p.Allergies, &p.ChronicDiseases,
		&p.LinkedUserID, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient (
			id, patient_code, fullname, email, birthday, gender, phone, address,
			identification_number, guardian_name, guardian_phone, guardian_identification_number,
			blood_type, allergies, chronic_diseases, linked_user_id, created_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING created_at, updated_at`,
		p.ID, p.PatientCode, p.Fullname, p.Email, p.Birthday, p.Gender, p.Phone, p.Address,
		p.IdentificationNumber, p.GuardianName, p.GuardianPhone, p.GuardianIdentificationNumber,
		p.BloodType, p.Allergies, p.ChronicDiseases, p.LinkedUserID, p.CreatedBy,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if db.IsUniqueViolation(err, constraintPatientIDNumber) {
		return fmt.Errorf("identification number: %w", ErrDuplicate)
	}
	return err
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
	return p, notFound(err, "patient")
}

func (r *patientRepoPG) GetByCode(ctx context.Context, code string) (*Patient, error) {
	p, err := scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE patient_code = $1`, code))
	return p, notFound(err, "patient")
}

func (r *patientRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Patient, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *patientRepoPG) ListByLinkedUser(ctx context.Context, userID uuid.UUID) ([]*Patient, error) {
	return r.query(ctx, `SELECT `+patientCols+` FROM patient WHERE linked_user_id = $1 ORDER BY patient_code`, userID)
}

func (r *patientRepoPG) ListUnlinkedMatching(ctx context.Context, identificationNumber, phone *string) ([]*Patient, error) {
	return r.query(ctx, `SELECT `+patientCols+` FROM patient
		WHERE linked_user_id IS NULL AND (
			($1::text IS NOT NULL AND (identification_number = $1 OR guardian_identification_number = $1))
			OR ($2::text IS NOT NULL AND (phone = $2 OR guardian_phone = $2))
		)
		ORDER BY patient_code`, identificationNumber, phone)
}

func (r *patientRepoPG) LinkUser(ctx context.Context, patientIDs []uuid.UUID, userID uuid.UUID) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE patient SET linked_user_id = $2, updated_at = now()
		WHERE id = ANY($1) AND linked_user_id IS NULL`, patientIDs, userID)
	return err
}

func (r *patientRepoPG) SetGuardianWallet(ctx context.Context, id uuid.UUID, wallet string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE patient SET guardian_wallet_address = $2, using_guardian_wallet = TRUE, updated_at = now()
		WHERE id = $1`, id, wallet)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("patient: %w", ErrNotFound)
	}
	return nil
}

func (r *patientRepoPG) LastCode(ctx context.Context) (string, error) {
	var code string
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT patient_code FROM patient ORDER BY patient_code DESC LIMIT 1`).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return code, err
}

func (r *patientRepoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.query(ctx, `SELECT `+patientCols+` FROM patient ORDER BY patient_code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
