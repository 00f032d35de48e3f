package identity

import (
	"context"

	"github.com/google/uuid"
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByWallet(ctx context.Context, wallet string) (*User, error)
	// SetWallet binds wallet to the user. Duplicate wallets surface as
	// ErrWalletInUse.
	SetWallet(ctx context.Context, id uuid.UUID, wallet string) error
}

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error)
	GetByCode(ctx context.Context, code string) (*Doctor, error)
	GetByWallet(ctx context.Context, wallet string) (*Doctor, error)
	LastCode(ctx context.Context) (string, error)
	List(ctx context.Context, limit, offset int) ([]*Doctor, int, error)
}

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByCode(ctx context.Context, code string) (*Patient, error)
	ListByLinkedUser(ctx context.Context, userID uuid.UUID) ([]*Patient, error)
	// ListUnlinkedMatching returns patients without a linked account whose
	// own or guardian identification number or phone equals the arguments.
	ListUnlinkedMatching(ctx context.Context, identificationNumber, phone *string) ([]*Patient, error)
	LinkUser(ctx context.Context, patientIDs []uuid.UUID, userID uuid.UUID) error
	SetGuardianWallet(ctx context.Context, id uuid.UUID, wallet string) error
	LastCode(ctx context.Context) (string, error)
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
}
