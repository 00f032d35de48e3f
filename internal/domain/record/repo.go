package record

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *MedicalRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error)
	GetByCode(ctx context.Context, code string) (*MedicalRecord, error)
	// LastCode returns the highest record code starting with prefix, or "".
	LastCode(ctx context.Context, prefix string) (string, error)
	// UpdateContent writes the clinical fields, hash state and status and
	// increments current_version, provided it still equals expectedVersion.
	// It returns ErrVersionConflict otherwise and sets r.CurrentVersion on
	// success.
	UpdateContent(ctx context.Context, r *MedicalRecord, expectedVersion int) error
	// MarkVerified sets status Verified if the stored hash is still hash.
	MarkVerified(ctx context.Context, id uuid.UUID, hash string) error
	// ListByCodes lists records among codes, optionally restricted to one
	// patient code, newest first.
	ListByCodes(ctx context.Context, codes []string, patientCode string, limit, offset int) ([]*MedicalRecord, int, error)
	ListByPatientCodes(ctx context.Context, patientCodes []string, limit, offset int) ([]*MedicalRecord, int, error)
}
