package version

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create inserts v. An existing (record, version) pair is reported as
	// ErrVersionExists and never overwritten.
	Create(ctx context.Context, v *Version) error
	Get(ctx context.Context, recordID uuid.UUID, version int) (*Version, error)
	List(ctx context.Context, recordID uuid.UUID) ([]*Version, error)
}
