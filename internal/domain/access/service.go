package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/recordchain/internal/domain/identity"
	"github.com/ehr/recordchain/internal/domain/record"
	"github.com/ehr/recordchain/internal/platform/ledger"
)

// Directory is the identity lookups a grant needs.
type Directory interface {
	DoctorLookup
	PatientsByUser(ctx context.Context, userID uuid.UUID) ([]*identity.Patient, error)
	SigningWallet(ctx context.Context, p *identity.Patient) (string, error)
}

// Records resolves the record a grant refers to.
type Records interface {
	Get(ctx context.Context, id uuid.UUID) (*record.MedicalRecord, error)
	GetByCode(ctx context.Context, code string) (*record.MedicalRecord, error)
}

// AccessWriter submits grant changes to the ledger.
type AccessWriter interface {
	GrantAccess(ctx context.Context, s ledger.Signer, patientCode, recordCode, doctorCode string) error
	RevokeAccess(ctx context.Context, s ledger.Signer, patientCode, recordCode, doctorCode string) error
}

type Service struct {
	cache     *Cache
	authz     *LedgerAuthorizer
	ledger    AccessWriter
	directory Directory
	records   Records
	logger    zerolog.Logger
}

func NewService(cache *Cache, authz *LedgerAuthorizer, l AccessWriter, directory Directory, records Records, logger zerolog.Logger) *Service {
	return &Service{
		cache:     cache,
		authz:     authz,
		ledger:    l,
		directory: directory,
		records:   records,
		logger:    logger.With().Str("component", "access").Logger(),
	}
}

type target struct {
	rec     *record.MedicalRecord
	patient *identity.Patient
	doctor  *identity.Doctor
}

// resolve checks that the record belongs to a patient linked to userID and
// that the doctor exists.
func (s *Service) resolve(ctx context.Context, userID uuid.UUID, req Request) (*target, error) {
	req.RecordCode = strings.TrimSpace(req.RecordCode)
	req.DoctorCode = strings.TrimSpace(req.DoctorCode)
	if req.RecordCode == "" || req.DoctorCode == "" {
		return nil, fmt.Errorf("%w: record_code and doctor_code are required", ErrInvalidInput)
	}
	rec, err := s.records.GetByCode(ctx, req.RecordCode)
	if err != nil {
		return nil, err
	}
	p, err := s.owner(ctx, userID, rec)
	if err != nil {
		return nil, err
	}
	d, err := s.directory.DoctorByCode(ctx, req.DoctorCode)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDoctor, req.DoctorCode)
	}
	if err != nil {
		return nil, err
	}
	return &target{rec: rec, patient: p, doctor: d}, nil
}

func (s *Service) owner(ctx context.Context, userID uuid.UUID, rec *record.MedicalRecord) (*identity.Patient, error) {
	patients, err := s.directory.PatientsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, p := range patients {
		if p.PatientCode == rec.PatientCode {
			return p, nil
		}
	}
	return nil, ErrNotOwner
}

func (s *Service) signer(ctx context.Context, p *identity.Patient) (ledger.Signer, error) {
	wallet, err := s.directory.SigningWallet(ctx, p)
	if err != nil {
		return ledger.Signer{}, err
	}
	return ledger.Patient(wallet), nil
}

// Grant caches a doctor's access to a record once the ledger confirms it.
// The cache never holds a grant the ledger does not.
func (s *Service) Grant(ctx context.Context, userID uuid.UUID, req Request) (*Grant, error) {
	t, err := s.resolve(ctx, userID, req)
	if err != nil {
		return nil, err
	}
	patientCode, recordCode, doctorCode := t.rec.PatientCode, t.rec.RecordCode, t.doctor.DoctorCode

	if req.Submit {
		sig, err := s.signer(ctx, t.patient)
		if err != nil {
			return nil, err
		}
		if err := s.ledger.GrantAccess(ctx, sig, patientCode, recordCode, doctorCode); err != nil {
			s.logger.Warn().Err(err).Str("record_code", recordCode).Str("doctor_code", doctorCode).Msg("grant not submitted")
			return nil, err
		}
	}
	if !s.authz.Authorize(ctx, patientCode, recordCode, doctorCode) {
		return nil, ErrGrantNotOnLedger
	}
	if err := s.cache.Grant(ctx, t.doctor.ID, recordCode, patientCode); err != nil {
		return nil, err
	}
	s.logger.Info().Str("record_code", recordCode).Str("doctor_code", doctorCode).Msg("access granted")
	return &Grant{DoctorID: t.doctor.ID, RecordCode: recordCode, PatientCode: patientCode}, nil
}

// Revoke removes the cached grant whatever the ledger says. With Submit the
// ledger revocation is signed first and a failure leaves the cache alone.
func (s *Service) Revoke(ctx context.Context, userID uuid.UUID, req Request) error {
	t, err := s.resolve(ctx, userID, req)
	if err != nil {
		return err
	}
	patientCode, recordCode, doctorCode := t.rec.PatientCode, t.rec.RecordCode, t.doctor.DoctorCode

	if req.Submit {
		sig, err := s.signer(ctx, t.patient)
		if err != nil {
			return err
		}
		if err := s.ledger.RevokeAccess(ctx, sig, patientCode, recordCode, doctorCode); err != nil {
			s.logger.Warn().Err(err).Str("record_code", recordCode).Str("doctor_code", doctorCode).Msg("revoke not submitted")
			return err
		}
	}
	if err := s.cache.Revoke(ctx, t.doctor.ID, recordCode, patientCode); err != nil {
		return err
	}
	s.logger.Info().Str("record_code", recordCode).Str("doctor_code", doctorCode).Msg("access revoked")
	return nil
}

// Holders lists the doctors cached for a record owned by the account.
func (s *Service) Holders(ctx context.Context, userID, recordID uuid.UUID) ([]Holder, error) {
	rec, err := s.records.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if _, err := s.owner(ctx, userID, rec); err != nil {
		return nil, err
	}
	return s.cache.Holders(ctx, rec.RecordCode)
}

// Hint returns a doctor's cached grants.
func (s *Service) Hint(ctx context.Context, doctorCode string) ([]Grant, error) {
	grants, err := s.cache.Hint(ctx, doctorCode)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDoctor, doctorCode)
	}
	return grants, err
}
