package record

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/recordchain/internal/domain/identity"
	"github.com/ehr/recordchain/internal/platform/db"
	"github.com/ehr/recordchain/internal/platform/ledger"
)

// Directory resolves the patients and doctors records refer to.
type Directory interface {
	PatientByCode(ctx context.Context, code string) (*identity.Patient, error)
	PatientsByUser(ctx context.Context, userID uuid.UUID) ([]*identity.Patient, error)
	DoctorByUserID(ctx context.Context, userID uuid.UUID) (*identity.Doctor, error)
}

// VersionAppender records a snapshot of rec at its current version.
type VersionAppender interface {
	Append(ctx context.Context, rec *MedicalRecord, actor uuid.UUID, rollbackFrom *int) error
}

// AccessHints is the advisory per-doctor grant cache.
type AccessHints interface {
	SelfGrant(ctx context.Context, doctorID uuid.UUID, recordCode, patientCode string) error
	RecordCodes(ctx context.Context, doctorID uuid.UUID) ([]string, error)
}

// Authorizer answers access questions from the ledger.
type Authorizer interface {
	Authorize(ctx context.Context, patientCode, recordCode, doctorCode string) bool
}

// Ledger is the part of the ledger gateway the lifecycle needs.
type Ledger interface {
	StoreRecordHash(ctx context.Context, s ledger.Signer, recordCode, patientCode, hash string) error
	UpdateRecordHash(ctx context.Context, s ledger.Signer, recordCode, patientCode, hash string) error
	GetStoredHash(ctx context.Context, recordCode string) (string, bool)
	VerifyHash(ctx context.Context, recordCode, hash string) bool
	LogAccessAttempt(ctx context.Context, patientCode, recordCode, doctorCode string) error
}

var ErrNoDoctorProfile = errors.New("account has no doctor profile")

const accessLogTimeout = 30 * time.Second

type Service struct {
	records   Repository
	directory Directory
	versions  VersionAppender
	hints     AccessHints
	authz     Authorizer
	ledger    Ledger
	tx        db.TxRunner
	logger    zerolog.Logger
	now       func() time.Time

	background sync.WaitGroup
}

func NewService(records Repository, directory Directory, versions VersionAppender, hints AccessHints,
	authz Authorizer, l Ledger, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		records:   records,
		directory: directory,
		versions:  versions,
		hints:     hints,
		authz:     authz,
		ledger:    l,
		tx:        tx,
		logger:    logger.With().Str("component", "record").Logger(),
		now:       time.Now,
	}
}

// Wait blocks until background ledger submissions have finished.
func (s *Service) Wait() {
	s.background.Wait()
}

// ActorFor resolves the doctor profile behind an account.
func (s *Service) ActorFor(ctx context.Context, userID uuid.UUID) (Actor, error) {
	d, err := s.directory.DoctorByUserID(ctx, userID)
	if errors.Is(err, identity.ErrNotFound) {
		return Actor{}, ErrNoDoctorProfile
	}
	if err != nil {
		return Actor{}, err
	}
	return Actor{UserID: userID, DoctorID: d.ID, DoctorCode: d.DoctorCode, Wallet: d.Wallet()}, nil
}

func (s *Service) patient(ctx context.Context, code string) (*identity.Patient, error) {
	p, err := s.directory.PatientByCode(ctx, code)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown patient %s", ErrInvalidInput, code)
	}
	return p, err
}

func truncatePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := Truncate(*t)
	return &v
}

// Create stores a new Pending record at version 1, hashed with its
// creation time, and self-grants the author in the access cache.
func (s *Service) Create(ctx context.Context, actor Actor, in Input) (*MedicalRecord, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	p, err := s.patient(ctx, in.PatientCode)
	if err != nil {
		return nil, err
	}

	now := Truncate(s.now())
	rec := &MedicalRecord{
		PatientID:      p.ID,
		DoctorID:       actor.DoctorID,
		DoctorUserID:   actor.UserID,
		PatientCode:    p.PatientCode,
		DoctorCode:     actor.DoctorCode,
		VisitDate:      now,
		Content:        in.content(),
		Status:         StatusPending,
		CurrentVersion: 1,
		CreatedAt:      now,
		UpdatedAt:      now,
		UpdatedBy:      &actor.UserID,
	}
	if in.VisitDate != nil {
		rec.VisitDate = Truncate(*in.VisitDate)
	}
	rec.FollowUpDate = truncatePtr(rec.FollowUpDate)

	prefix := codePrefix(now)
	err = db.RetryOnConflict(ctx, codeAttempts, constraintRecordCode, func(ctx context.Context, _ int) error {
		return s.tx.InTx(ctx, func(ctx context.Context) error {
			last, err := s.records.LastCode(ctx, prefix)
			if err != nil {
				return err
			}
			rec.RecordCode = nextRecordCode(prefix, last)
			rec.RecordHash = Hash(rec)
			if err := s.records.Create(ctx, rec); err != nil {
				return err
			}
			return s.versions.Append(ctx, rec, actor.UserID, nil)
		})
	})
	if errors.Is(err, db.ErrRetriesExhausted) {
		return nil, ErrCodeExhausted
	}
	if err != nil {
		return nil, err
	}

	if err := s.hints.SelfGrant(ctx, actor.DoctorID, rec.RecordCode, rec.PatientCode); err != nil {
		s.logger.Warn().Err(err).Str("record_code", rec.RecordCode).Msg("author self-grant failed")
	}
	s.logger.Info().Str("record_code", rec.RecordCode).Str("doctor_code", actor.DoctorCode).Msg("record created")
	return rec, nil
}

// canEdit lets the author edit a record the ledger has not seen yet and
// defers to the ledger for everything else.
func (s *Service) canEdit(ctx context.Context, actor Actor, rec *MedicalRecord) bool {
	if rec.DoctorID == actor.DoctorID && rec.Status == StatusPending && rec.NeverVerified() {
		return true
	}
	return s.authz.Authorize(ctx, rec.PatientCode, rec.RecordCode, actor.DoctorCode)
}

// Edit replaces the clinical fields, moves the record to Pending and
// appends a version. Editing a Verified record keeps its hash as
// lastVerifiedHash and switches the canonical timestamp to updated_at.
func (s *Service) Edit(ctx context.Context, actor Actor, id uuid.UUID, in Input) (*MedicalRecord, error) {
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.PatientCode == "" {
		in.PatientCode = rec.PatientCode
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.PatientCode != rec.PatientCode {
		return nil, fmt.Errorf("%w: a record cannot move to another patient", ErrInvalidInput)
	}
	if !s.canEdit(ctx, actor, rec) {
		return nil, ErrAccessDenied
	}

	expected := rec.CurrentVersion
	if rec.Status == StatusVerified {
		prev := rec.RecordHash
		rec.LastVerifiedHash = &prev
	}
	rec.Content = in.content()
	rec.FollowUpDate = truncatePtr(rec.FollowUpDate)
	if in.VisitDate != nil {
		rec.VisitDate = Truncate(*in.VisitDate)
	}
	rec.UpdatedAt = Truncate(s.now())
	rec.UpdatedBy = &actor.UserID
	rec.Status = StatusPending
	rec.RecordHash = Hash(rec)

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.records.UpdateContent(ctx, rec, expected); err != nil {
			return err
		}
		return s.versions.Append(ctx, rec, actor.UserID, nil)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("record_code", rec.RecordCode).Int("version", rec.CurrentVersion).Msg("record edited")
	return rec, nil
}

// MarkVerified confirms a Pending record once the ledger holds its hash.
// Confirming a Verified record is a no-op.
func (s *Service) MarkVerified(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status == StatusVerified {
		return rec, nil
	}
	if !s.ledger.VerifyHash(ctx, rec.RecordCode, rec.RecordHash) {
		return nil, fmt.Errorf("%s awaiting %s: %w", rec.RecordCode, s.PendingOperation(ctx, rec), ErrNotAnchored)
	}
	if err := s.records.MarkVerified(ctx, rec.ID, rec.RecordHash); err != nil {
		return nil, err
	}
	rec.Status = StatusVerified
	s.logger.Info().Str("record_code", rec.RecordCode).Msg("record verified")
	return rec, nil
}

// Anchor submits the pending hash with the acting doctor's key and then
// confirms the record. A declined signer leaves the record Pending.
func (s *Service) Anchor(ctx context.Context, actor Actor, id uuid.UUID) (*MedicalRecord, error) {
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status == StatusVerified {
		return rec, nil
	}
	if actor.Wallet == "" {
		return nil, ErrNoWallet
	}

	signer := ledger.Doctor(actor.Wallet)
	op := s.PendingOperation(ctx, rec)
	if op == OpAddRecord {
		err = s.ledger.StoreRecordHash(ctx, signer, rec.RecordCode, rec.PatientCode, rec.RecordHash)
	} else {
		err = s.ledger.UpdateRecordHash(ctx, signer, rec.RecordCode, rec.PatientCode, rec.RecordHash)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("record_code", rec.RecordCode).Str("operation", op).Msg("anchor failed")
		return nil, err
	}
	return s.MarkVerified(ctx, id)
}

// PendingOperation names the ledger write that would confirm the record's
// current hash. A never-verified record whose code the ledger already holds
// (an addRecord committed but never confirmed, then edited) needs
// updateRecord; its hash keeps the created_at form.
func (s *Service) PendingOperation(ctx context.Context, rec *MedicalRecord) string {
	op := rec.PendingOperation()
	if op == OpAddRecord {
		if _, ok := s.ledger.GetStoredHash(ctx, rec.RecordCode); ok {
			return OpUpdateRecord
		}
	}
	return op
}

// VerifyIntegrity recomputes the record's hash and compares it with the
// persisted hash and the ledger's stored hash. It never changes state.
func (s *Service) VerifyIntegrity(ctx context.Context, id uuid.UUID) (*IntegrityReport, error) {
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	local := Hash(rec)
	stored, ok := s.ledger.GetStoredHash(ctx, rec.RecordCode)
	report := &IntegrityReport{
		RecordCode:     rec.RecordCode,
		Status:         rec.Status,
		LocalHash:      local,
		PersistedHash:  rec.RecordHash,
		StoredHash:     stored,
		LedgerVerified: s.ledger.VerifyHash(ctx, rec.RecordCode, local),
	}
	report.Matches = ok && stored == local && local == rec.RecordHash
	if !report.Matches {
		s.logger.Warn().Str("record_code", rec.RecordCode).Str("local_hash", local).
			Str("stored_hash", stored).Str("status", rec.Status).Msg("integrity mismatch")
	}
	return report, nil
}

// GetForDoctor returns a Verified record the ledger lets the doctor see.
// Every call is logged on the ledger as an access attempt.
func (s *Service) GetForDoctor(ctx context.Context, actor Actor, id uuid.UUID) (*MedicalRecord, error) {
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusVerified {
		return nil, &PendingError{RecordCode: rec.RecordCode, Operation: s.PendingOperation(ctx, rec)}
	}
	granted := s.authz.Authorize(ctx, rec.PatientCode, rec.RecordCode, actor.DoctorCode)
	s.logAttempt(ctx, rec, actor)
	if !granted {
		return nil, ErrAccessDenied
	}
	return rec, nil
}

func (s *Service) logAttempt(ctx context.Context, rec *MedicalRecord, actor Actor) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), accessLogTimeout)
		defer cancel()
		if err := s.ledger.LogAccessAttempt(ctx, rec.PatientCode, rec.RecordCode, actor.DoctorCode); err != nil {
			s.logger.Warn().Err(err).Str("record_code", rec.RecordCode).Str("doctor_code", actor.DoctorCode).Msg("access attempt not logged")
		}
	}()
}

// ListForDoctor lists the records the access cache says the doctor can
// see. The cache is a hint; detail views still go through the ledger.
func (s *Service) ListForDoctor(ctx context.Context, actor Actor, patientCode string, limit, offset int) ([]*MedicalRecord, int, error) {
	codes, err := s.hints.RecordCodes(ctx, actor.DoctorID)
	if err != nil {
		return nil, 0, err
	}
	return s.records.ListByCodes(ctx, codes, patientCode, limit, offset)
}

func (s *Service) ListForPatient(ctx context.Context, patientCode string, limit, offset int) ([]*MedicalRecord, int, error) {
	return s.records.ListByPatientCodes(ctx, []string{patientCode}, limit, offset)
}

// ListForAccount lists records of the patient profiles linked to the
// account, optionally narrowed to one of them.
func (s *Service) ListForAccount(ctx context.Context, userID uuid.UUID, patientCode string, limit, offset int) ([]*MedicalRecord, int, error) {
	patients, err := s.directory.PatientsByUser(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	codes := make([]string, 0, len(patients))
	for _, p := range patients {
		if patientCode == "" || p.PatientCode == patientCode {
			codes = append(codes, p.PatientCode)
		}
	}
	return s.records.ListByPatientCodes(ctx, codes, limit, offset)
}

// ViewableBy returns ErrAccessDenied unless the ledger grants the doctor
// behind userID access to the record.
func (s *Service) ViewableBy(ctx context.Context, userID, id uuid.UUID) error {
	actor, err := s.ActorFor(ctx, userID)
	if err != nil {
		return err
	}
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !s.authz.Authorize(ctx, rec.PatientCode, rec.RecordCode, actor.DoctorCode) {
		return ErrAccessDenied
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	return s.records.GetByID(ctx, id)
}

func (s *Service) GetByCode(ctx context.Context, code string) (*MedicalRecord, error) {
	return s.records.GetByCode(ctx, code)
}

// OwnedBy reports whether the record belongs to a patient profile linked
// to the account.
func (s *Service) OwnedBy(ctx context.Context, rec *MedicalRecord, userID uuid.UUID) (bool, error) {
	patients, err := s.directory.PatientsByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, p := range patients {
		if p.PatientCode == rec.PatientCode {
			return true, nil
		}
	}
	return false, nil
}
