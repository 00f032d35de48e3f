package access

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput     = errors.New("invalid access request")
	ErrNotOwner         = errors.New("record does not belong to a linked patient")
	ErrUnknownDoctor    = errors.New("unknown doctor")
	ErrGrantNotOnLedger = errors.New("ledger does not confirm the grant")
)

// Grant is one cached (record, patient) pair a doctor may see. Position
// orders a doctor's grants by insertion.
type Grant struct {
	DoctorID    uuid.UUID `db:"doctor_id" json:"doctor_id"`
	RecordCode  string    `db:"record_code" json:"record_code"`
	PatientCode string    `db:"patient_code" json:"patient_code"`
	Position    int64     `db:"position" json:"-"`
	GrantedAt   time.Time `db:"granted_at" json:"granted_at"`
}

// Holder is a doctor currently cached as able to see a record.
type Holder struct {
	DoctorCode     string    `json:"doctor_code"`
	Fullname       string    `json:"fullname"`
	Specialization string    `json:"specialization"`
	GrantedAt      time.Time `json:"granted_at"`
}

// Request grants or revokes a doctor's access to one record. With Submit
// set the server signs the ledger write with the patient's key; otherwise
// the client has already committed it.
type Request struct {
	RecordCode string `json:"record_code"`
	DoctorCode string `json:"doctor_code"`
	Submit     bool   `json:"submit"`
}
