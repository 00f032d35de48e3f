package record

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending  = "Pending"
	StatusVerified = "Verified"
)

// Pending ledger operations a client has to sign before a record can be
// confirmed.
const (
	OpAddRecord    = "addRecord"
	OpUpdateRecord = "updateRecord"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrInvalidInput        = errors.New("invalid record input")
	ErrCodeExhausted       = errors.New("could not allocate a unique record code")
	ErrVersionConflict     = errors.New("record was modified concurrently")
	ErrAccessDenied        = errors.New("no ledger access to this record")
	ErrNotAnchored         = errors.New("ledger does not hold the record hash")
	ErrNoWallet            = errors.New("doctor has no wallet")
	ErrPendingConfirmation = errors.New("record is waiting for ledger confirmation")
)

// PendingError carries the ledger operation a Pending record is waiting on.
type PendingError struct {
	RecordCode string
	Operation  string
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("record %s is pending %s", e.RecordCode, e.Operation)
}

func (e *PendingError) Unwrap() error { return ErrPendingConfirmation }

// VitalSigns are measured at the visit. Numeric readings are optional.
type VitalSigns struct {
	Height        *float64 `json:"height,omitempty"`
	Weight        *float64 `json:"weight,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	BloodPressure string   `json:"blood_pressure,omitempty"`
	Pulse         *float64 `json:"pulse,omitempty"`
}

type Medication struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
	Duration  string `json:"duration"`
}

// Content is the clinical subset of a record. It is what a version
// snapshot stores and what a rollback restores.
type Content struct {
	ReasonForVisit        string       `json:"reason_for_visit"`
	Symptoms              []string     `json:"symptoms"`
	Diagnosis             string       `json:"diagnosis"`
	Notes                 string       `json:"notes"`
	VitalSigns            VitalSigns   `json:"vital_signs"`
	PrescribedMedications []Medication `json:"prescribed_medications"`
	FollowUpDate          *time.Time   `json:"follow_up_date,omitempty"`
	FollowUpNote          string       `json:"follow_up_note"`
}

// MedicalRecord maps to the medical_record table. PatientCode and
// DoctorCode are joined from the owning profiles.
type MedicalRecord struct {
	ID         uuid.UUID `db:"id" json:"id"`
	RecordCode string    `db:"record_code" json:"record_code"`
	PatientID  uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID   uuid.UUID `db:"doctor_id" json:"doctor_id"`
	// DoctorUserID is the author's account id. It is the doctor identity
	// baked into the canonical hash.
	DoctorUserID uuid.UUID `db:"doctor_user_id" json:"doctor_user_id"`
	PatientCode  string    `db:"patient_code" json:"patient_code"`
	DoctorCode   string    `db:"doctor_code" json:"doctor_code"`
	VisitDate    time.Time `db:"visit_date" json:"visit_date"`

	Content

	Status           string     `db:"status" json:"status"`
	RecordHash       string     `db:"record_hash" json:"record_hash"`
	LastVerifiedHash *string    `db:"last_verified_hash" json:"last_verified_hash,omitempty"`
	CurrentVersion   int        `db:"current_version" json:"current_version"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
	UpdatedBy        *uuid.UUID `db:"updated_by" json:"updated_by,omitempty"`
}

// NeverVerified reports whether the record has not yet been through a
// confirmed edit cycle; its hash still uses created_at.
func (r *MedicalRecord) NeverVerified() bool {
	return r.LastVerifiedHash == nil
}

// PendingOperation names the ledger write that confirms the record's
// current hash, judged from local state alone. Service.PendingOperation
// also consults the ledger.
func (r *MedicalRecord) PendingOperation() string {
	if r.NeverVerified() {
		return OpAddRecord
	}
	return OpUpdateRecord
}

// Snapshot returns a copy of the clinical fields.
func (r *MedicalRecord) Snapshot() Content {
	c := r.Content
	c.Symptoms = append([]string{}, r.Symptoms...)
	c.PrescribedMedications = append([]Medication{}, r.PrescribedMedications...)
	return c
}

// Input is the create/edit payload for a record.
type Input struct {
	PatientCode           string       `json:"patient_code"`
	VisitDate             *time.Time   `json:"visit_date,omitempty"`
	ReasonForVisit        string       `json:"reason_for_visit"`
	Symptoms              []string     `json:"symptoms"`
	Diagnosis             string       `json:"diagnosis"`
	Notes                 string       `json:"notes"`
	VitalSigns            VitalSigns   `json:"vital_signs"`
	PrescribedMedications []Medication `json:"prescribed_medications"`
	FollowUpDate          *time.Time   `json:"follow_up_date,omitempty"`
	FollowUpNote          string       `json:"follow_up_note"`
}

func (in Input) content() Content {
	return Content{
		ReasonForVisit:        in.ReasonForVisit,
		Symptoms:              in.Symptoms,
		Diagnosis:             in.Diagnosis,
		Notes:                 in.Notes,
		VitalSigns:            in.VitalSigns,
		PrescribedMedications: in.PrescribedMedications,
		FollowUpDate:          in.FollowUpDate,
		FollowUpNote:          in.FollowUpNote,
	}
}

// IntegrityReport compares the persisted record against the ledger.
type IntegrityReport struct {
	RecordCode     string `json:"record_code"`
	Status         string `json:"status"`
	LocalHash      string `json:"local_hash"`
	PersistedHash  string `json:"persisted_hash"`
	StoredHash     string `json:"stored_hash,omitempty"`
	LedgerVerified bool   `json:"ledger_verified"`
	Matches        bool   `json:"matches"`
}

// Actor is the doctor acting on records.
type Actor struct {
	UserID     uuid.UUID
	DoctorID   uuid.UUID
	DoctorCode string
	Wallet     string
}

const (
	recordCodePrefix = "MR"
	codeAttempts     = 5
)

// codePrefix returns MR<YYYYMMDD> for the UTC day of t.
func codePrefix(t time.Time) string {
	return recordCodePrefix + t.UTC().Format("20060102")
}

// nextRecordCode formats the code following last within the day prefix,
// e.g. MR20250101-00041 -> MR20250101-00042.
func nextRecordCode(prefix, last string) string {
	var n int
	if len(last) > len(prefix)+1 {
		fmt.Sscanf(last[len(prefix)+1:], "%d", &n)
	}
	return fmt.Sprintf("%s-%05d", prefix, n+1)
}
