package auditlog

import (
	"encoding/json"
	"time"
)

// Entry is one admin_log row, written for every ledger event ingested.
type Entry struct {
	ID          int64           `db:"id" json:"id"`
	Event       string          `db:"event" json:"event"`
	Data        json.RawMessage `db:"data" json:"data"`
	BlockNumber *int64          `db:"block_number" json:"block_number,omitempty"`
	TxID        *string         `db:"tx_id" json:"tx_id,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// unknown stands in for a doctor the directory cannot resolve.
const unknown = "unknown"

// Data is the decoded, human-readable body of an entry.
type Data struct {
	RecordCode    string    `json:"record_code,omitempty"`
	PatientCode   string    `json:"patient_code,omitempty"`
	DoctorCode    string    `json:"doctor_code,omitempty"`
	DoctorName    string    `json:"doctor_name,omitempty"`
	Wallet        string    `json:"wallet,omitempty"`
	RecordHash    string    `json:"record_hash,omitempty"`
	AccessGranted *bool     `json:"access_granted,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
