package access

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Add inserts the grant unless it is already present.
	Add(ctx context.Context, doctorID uuid.UUID, recordCode, patientCode string) error
	Remove(ctx context.Context, doctorID uuid.UUID, recordCode, patientCode string) error
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Grant, error)
	Holders(ctx context.Context, recordCode string) ([]Holder, error)
}
