package version

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/recordchain/internal/domain/record"
)

var (
	ErrVersionExists        = errors.New("record version already exists")
	ErrVersionNotFound      = errors.New("record version not found")
	ErrRollbackToCurrent    = errors.New("cannot roll back to the current version")
	ErrRollbackWhilePending = errors.New("record has an unconfirmed ledger write")
)

// Version is an immutable snapshot of a record's clinical fields, keyed by
// (RecordID, Version). Versions of a record run 1..current_version.
type Version struct {
	RecordID            uuid.UUID      `db:"medical_record_id" json:"medical_record_id"`
	Version             int            `db:"version" json:"version"`
	RecordCode          string         `db:"record_code" json:"record_code"`
	Snapshot            record.Content `db:"snapshot" json:"snapshot"`
	RecordHash          string         `db:"record_hash" json:"record_hash"`
	UpdatedBy           *uuid.UUID     `db:"updated_by" json:"updated_by,omitempty"`
	RollbackFromVersion *int           `db:"rollback_from_version" json:"rollback_from_version,omitempty"`
	CreatedAt           time.Time      `db:"created_at" json:"created_at"`
}

// fromRecord snapshots rec at its current version.
func fromRecord(rec *record.MedicalRecord, actor uuid.UUID, rollbackFrom *int) Version {
	v := Version{
		RecordID:            rec.ID,
		Version:             rec.CurrentVersion,
		RecordCode:          rec.RecordCode,
		Snapshot:            rec.Snapshot(),
		RecordHash:          rec.RecordHash,
		RollbackFromVersion: rollbackFrom,
	}
	if actor != uuid.Nil {
		v.UpdatedBy = &actor
	}
	return v
}
