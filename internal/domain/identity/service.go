package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/recordchain/internal/platform/auth"
	"github.com/ehr/recordchain/internal/platform/db"
)

// WalletRegistry binds directory identities to wallets on the ledger. The
// ledger gateway satisfies it with operator-signed writes.
type WalletRegistry interface {
	AssignDoctor(ctx context.Context, doctorCode, wallet string) error
	AssignPatient(ctx context.Context, patientCode, wallet string) error
	LinkGuardian(ctx context.Context, patientCode, guardianWallet string) error
}

type Service struct {
	users          UserRepository
	doctors        DoctorRepository
	patients       PatientRepository
	tx             db.TxRunner
	ledger         WalletRegistry
	operatorWallet string
	logger         zerolog.Logger
}

func NewService(users UserRepository, doctors DoctorRepository, patients PatientRepository,
	tx db.TxRunner, ledger WalletRegistry, operatorWallet string, logger zerolog.Logger) *Service {
	return &Service{
		users:          users,
		doctors:        doctors,
		patients:       patients,
		tx:             tx,
		ledger:         ledger,
		operatorWallet: operatorWallet,
		logger:         logger.With().Str("component", "identity").Logger(),
	}
}

func validRole(role string) bool {
	switch role {
	case auth.RoleAdmin, auth.RoleDoctor, auth.RolePatient:
		return true
	}
	return false
}

func validateUser(u *User) error {
	u.Fullname = strings.TrimSpace(u.Fullname)
	u.Email = strings.TrimSpace(strings.ToLower(u.Email))
	if u.Fullname == "" {
		return fmt.Errorf("%w: fullname is required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return fmt.Errorf("%w: email is invalid", ErrInvalidInput)
	}
	if !validRole(u.Role) {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, u.Role)
	}
	return nil
}

// CreateUser registers an account. Patient accounts are linked to any
// existing patient profiles they match.
func (s *Service) CreateUser(ctx context.Context, u *User) error {
	if err := validateUser(u); err != nil {
		return err
	}
	if err := s.users.Create(ctx, u); err != nil {
		return err
	}
	if u.Role == auth.RolePatient {
		if _, err := s.LinkPatients(ctx, u.ID); err != nil {
			s.logger.Warn().Err(err).Str("user_id", u.ID.String()).Msg("auto-link patients failed")
		}
	}
	return nil
}

// RegisterDoctor creates the doctor's account and profile in one
// transaction, allocating the next DOC- code.
func (s *Service) RegisterDoctor(ctx context.Context, in RegisterDoctorInput) (*Doctor, error) {
	if strings.TrimSpace(in.Specialization) == "" || strings.TrimSpace(in.LicenseNumber) == "" {
		return nil, fmt.Errorf("%w: specialization and license_number are required", ErrInvalidInput)
	}
	u := &User{
		Fullname:             in.Fullname,
		Email:                in.Email,
		Role:                 auth.RoleDoctor,
		Phone:                in.Phone,
		IdentificationNumber: in.IdentificationNumber,
	}
	if err := validateUser(u); err != nil {
		return nil, err
	}

	var doc *Doctor
	err := db.RetryOnConflict(ctx, codeAttempts, constraintDoctorCode, func(ctx context.Context, _ int) error {
		return s.tx.InTx(ctx, func(ctx context.Context) error {
			last, err := s.doctors.LastCode(ctx)
			if err != nil {
				return err
			}
			if err := s.users.Create(ctx, u); err != nil {
				return err
			}
			doc = &Doctor{
				DoctorCode:     nextCode(doctorCodePrefix, last),
				UserID:         u.ID,
				Specialization: strings.TrimSpace(in.Specialization),
				LicenseNumber:  strings.TrimSpace(in.LicenseNumber),
				Fullname:       u.Fullname,
			}
			return s.doctors.Create(ctx, doc)
		})
	})
	if errors.Is(err, db.ErrRetriesExhausted) {
		return nil, fmt.Errorf("doctor code: %w", ErrCodeExhausted)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("doctor_code", doc.DoctorCode).Msg("doctor registered")
	return doc, nil
}

// RegisterPatient creates a patient profile with the next P- code. Either
// the patient's or the guardian's identification number is required.
func (s *Service) RegisterPatient(ctx context.Context, createdBy uuid.UUID, p *Patient) error {
	p.Fullname = strings.TrimSpace(p.Fullname)
	if p.Fullname == "" || p.Gender == "" || p.Birthday.IsZero() {
		return fmt.Errorf("%w: fullname, gender and birthday are required", ErrInvalidInput)
	}
	if blank(p.IdentificationNumber) && blank(p.GuardianIdentificationNumber) {
		return fmt.Errorf("%w: identification_number or guardian_identification_number is required", ErrInvalidInput)
	}
	if createdBy != uuid.Nil {
		p.CreatedBy = &createdBy
	}

	err := db.RetryOnConflict(ctx, codeAttempts, constraintPatientCode, func(ctx context.Context, _ int) error {
		return s.tx.InTx(ctx, func(ctx context.Context) error {
			last, err := s.patients.LastCode(ctx)
			if err != nil {
				return err
			}
			p.PatientCode = nextCode(patientCodePrefix, last)
			return s.patients.Create(ctx, p)
		})
	})
	if errors.Is(err, db.ErrRetriesExhausted) {
		return fmt.Errorf("patient code: %w", ErrCodeExhausted)
	}
	return err
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

// ConnectWallet binds a wallet to the account and registers it on the
// ledger for the doctor profile or every linked patient profile. Ledger
// failures are reported in the result and logged; the binding stands.
// Connecting the wallet already bound resubmits the ledger assignments.
func (s *Service) ConnectWallet(ctx context.Context, userID uuid.UUID, wallet string) (*WalletResult, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return nil, fmt.Errorf("%w: wallet_address is required", ErrInvalidInput)
	}
	if s.operatorWallet != "" && strings.EqualFold(wallet, s.operatorWallet) {
		return nil, ErrOperatorWallet
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	switch current := u.Wallet(); {
	case current == "":
		if err := s.users.SetWallet(ctx, userID, wallet); err != nil {
			return nil, err
		}
		u.WalletAddress = &wallet
	case strings.EqualFold(current, wallet):
		wallet = current
	default:
		return nil, ErrWalletAlreadySet
	}
	res := &WalletResult{User: u, Bound: []string{}}

	switch u.Role {
	case auth.RoleDoctor:
		doc, err := s.doctors.GetByUserID(ctx, userID)
		if err != nil {
			return nil, err
		}
		s.bind(res, doc.DoctorCode, func() error { return s.ledger.AssignDoctor(ctx, doc.DoctorCode, wallet) })
	case auth.RolePatient:
		linked, err := s.patients.ListByLinkedUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		for _, p := range linked {
			code := p.PatientCode
			s.bind(res, code, func() error { return s.ledger.AssignPatient(ctx, code, wallet) })
		}
	}
	return res, nil
}

func (s *Service) bind(res *WalletResult, code string, submit func() error) {
	if err := submit(); err != nil {
		s.logger.Error().Err(err).Str("code", code).Msg("ledger wallet assignment failed")
		res.Failed = append(res.Failed, code)
		return
	}
	res.Bound = append(res.Bound, code)
}

// LinkGuardianWallet binds the caller's wallet as guardian wallet of the
// patient, on the ledger first and then locally.
func (s *Service) LinkGuardianWallet(ctx context.Context, userID uuid.UUID, patientCode string) (*Patient, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	wallet := u.Wallet()
	if wallet == "" {
		return nil, ErrNoWallet
	}
	p, err := s.patients.GetByCode(ctx, patientCode)
	if err != nil {
		return nil, err
	}
	if !p.IsGuardian(u) {
		return nil, ErrNotGuardian
	}

	if err := s.ledger.LinkGuardian(ctx, p.PatientCode, wallet); err != nil {
		return nil, err
	}
	if err := s.patients.SetGuardianWallet(ctx, p.ID, wallet); err != nil {
		return nil, err
	}
	p.GuardianWalletAddress = &wallet
	p.UsingGuardianWallet = true
	return p, nil
}

// LinkPatients links unlinked patient profiles matching the account's
// identification number or phone, and returns the profiles it linked.
func (s *Service) LinkPatients(ctx context.Context, userID uuid.UUID) ([]*Patient, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if blank(u.IdentificationNumber) && blank(u.Phone) {
		return nil, nil
	}
	matches, err := s.patients.ListUnlinkedMatching(ctx, u.IdentificationNumber, u.Phone)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, len(matches))
	for i, p := range matches {
		ids[i] = p.ID
		p.LinkedUserID = &u.ID
	}
	if err := s.patients.LinkUser(ctx, ids, u.ID); err != nil {
		return nil, err
	}

	if wallet := u.Wallet(); wallet != "" {
		for _, p := range matches {
			if err := s.ledger.AssignPatient(ctx, p.PatientCode, wallet); err != nil {
				s.logger.Error().Err(err).Str("patient_code", p.PatientCode).Msg("ledger patient assignment failed")
			}
		}
	}
	return matches, nil
}

func (s *Service) UserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Service) DoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) DoctorByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByUserID(ctx, userID)
}

func (s *Service) DoctorByCode(ctx context.Context, code string) (*Doctor, error) {
	return s.doctors.GetByCode(ctx, code)
}

func (s *Service) DoctorByWallet(ctx context.Context, wallet string) (*Doctor, error) {
	return s.doctors.GetByWallet(ctx, wallet)
}

func (s *Service) ListDoctors(ctx context.Context, limit, offset int) ([]*Doctor, int, error) {
	return s.doctors.List(ctx, limit, offset)
}

func (s *Service) PatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) PatientByCode(ctx context.Context, code string) (*Patient, error) {
	return s.patients.GetByCode(ctx, code)
}

func (s *Service) PatientsByUser(ctx context.Context, userID uuid.UUID) ([]*Patient, error) {
	return s.patients.ListByLinkedUser(ctx, userID)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

// SigningWallet resolves the wallet that signs access changes for the
// patient, or ErrNoWallet.
func (s *Service) SigningWallet(ctx context.Context, p *Patient) (string, error) {
	var linked *User
	if p.LinkedUserID != nil {
		u, err := s.users.GetByID(ctx, *p.LinkedUserID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return "", err
		}
		linked = u
	}
	w := p.SigningWallet(linked)
	if w == "" {
		return "", ErrNoWallet
	}
	return w, nil
}
