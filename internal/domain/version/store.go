package version

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/recordchain/internal/domain/record"
	"github.com/ehr/recordchain/internal/platform/db"
	"github.com/ehr/recordchain/internal/platform/ledger"
)

// Records is the live record table a rollback writes back to.
type Records interface {
	GetByID(ctx context.Context, id uuid.UUID) (*record.MedicalRecord, error)
	UpdateContent(ctx context.Context, r *record.MedicalRecord, expectedVersion int) error
}

// HashWriter submits a corrected hash to the ledger.
type HashWriter interface {
	UpdateRecordHash(ctx context.Context, s ledger.Signer, recordCode, patientCode, hash string) error
}

// Store keeps the append-only history of record snapshots and performs
// rollbacks as new forward versions.
type Store struct {
	versions Repository
	records  Records
	ledger   HashWriter
	tx       db.TxRunner
	logger   zerolog.Logger
	now      func() time.Time
}

func NewStore(versions Repository, records Records, l HashWriter, tx db.TxRunner, logger zerolog.Logger) *Store {
	return &Store{
		versions: versions,
		records:  records,
		ledger:   l,
		tx:       tx,
		logger:   logger.With().Str("component", "version").Logger(),
		now:      time.Now,
	}
}

// CreateVersion appends v. A duplicate means a caller skipped the version
// increment and is logged as an error.
func (s *Store) CreateVersion(ctx context.Context, v Version) error {
	err := s.versions.Create(ctx, &v)
	if errors.Is(err, ErrVersionExists) {
		s.logger.Error().Str("record_code", v.RecordCode).Int("version", v.Version).Msg("version already exists")
	}
	return err
}

// Append snapshots rec at its current version.
func (s *Store) Append(ctx context.Context, rec *record.MedicalRecord, actor uuid.UUID, rollbackFrom *int) error {
	return s.CreateVersion(ctx, fromRecord(rec, actor, rollbackFrom))
}

func (s *Store) List(ctx context.Context, recordID uuid.UUID) ([]*Version, error) {
	return s.versions.List(ctx, recordID)
}

func (s *Store) Get(ctx context.Context, recordID uuid.UUID, version int) (*Version, error) {
	return s.versions.Get(ctx, recordID, version)
}

// Rollback restores the clinical fields of version target onto the live
// record as a new version. The restored hash is written to the ledger with
// the operator key before anything is persisted, so the record goes straight
// to Verified.
func (s *Store) Rollback(ctx context.Context, recordID uuid.UUID, target int, actor uuid.UUID) (*record.MedicalRecord, error) {
	rec, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status != record.StatusVerified {
		return nil, ErrRollbackWhilePending
	}
	if target == rec.CurrentVersion {
		return nil, ErrRollbackToCurrent
	}
	snap, err := s.versions.Get(ctx, recordID, target)
	if err != nil {
		return nil, err
	}

	restored := *rec
	expected := rec.CurrentVersion
	prev := rec.RecordHash
	restored.Content = snap.Snapshot
	restored.Symptoms = append([]string{}, snap.Snapshot.Symptoms...)
	restored.PrescribedMedications = append([]record.Medication{}, snap.Snapshot.PrescribedMedications...)
	restored.LastVerifiedHash = &prev
	restored.UpdatedAt = record.Truncate(s.now())
	if actor != uuid.Nil {
		restored.UpdatedBy = &actor
	}
	restored.RecordHash = record.Hash(&restored)

	if err := s.ledger.UpdateRecordHash(ctx, ledger.Operator(), restored.RecordCode, restored.PatientCode, restored.RecordHash); err != nil {
		s.logger.Warn().Err(err).Str("record_code", rec.RecordCode).Int("target", target).Msg("rollback not anchored")
		return nil, err
	}

	restored.Status = record.StatusVerified
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.records.UpdateContent(ctx, &restored, expected); err != nil {
			return err
		}
		return s.Append(ctx, &restored, actor, &target)
	})
	if err != nil {
		s.logger.Error().Err(err).Str("record_code", rec.RecordCode).Str("ledger_hash", restored.RecordHash).
			Msg("rollback anchored on the ledger but not persisted")
		return nil, err
	}
	s.logger.Info().Str("record_code", rec.RecordCode).Int("from", target).Int("version", restored.CurrentVersion).Msg("record rolled back")
	return &restored, nil
}
