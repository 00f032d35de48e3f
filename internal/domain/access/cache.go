package access

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/recordchain/internal/domain/identity"
)

// DoctorLookup resolves doctor codes to profiles.
type DoctorLookup interface {
	DoctorByCode(ctx context.Context, code string) (*identity.Doctor, error)
}

// Cache is the off-chain list of grants per doctor. It only narrows what a
// doctor is shown; every detail read is authorized by the ledger.
type Cache struct {
	repo    Repository
	doctors DoctorLookup
}

func NewCache(repo Repository, doctors DoctorLookup) *Cache {
	return &Cache{repo: repo, doctors: doctors}
}

// Hint returns the cached grants of the doctor with doctorCode.
func (c *Cache) Hint(ctx context.Context, doctorCode string) ([]Grant, error) {
	d, err := c.doctors.DoctorByCode(ctx, doctorCode)
	if err != nil {
		return nil, err
	}
	return c.repo.ListByDoctor(ctx, d.ID)
}

// RecordCodes returns the cached record codes of a doctor in grant order.
func (c *Cache) RecordCodes(ctx context.Context, doctorID uuid.UUID) ([]string, error) {
	grants, err := c.repo.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(grants))
	for _, g := range grants {
		codes = append(codes, g.RecordCode)
	}
	return codes, nil
}

func (c *Cache) Grant(ctx context.Context, doctorID uuid.UUID, recordCode, patientCode string) error {
	return c.repo.Add(ctx, doctorID, recordCode, patientCode)
}

func (c *Cache) Revoke(ctx context.Context, doctorID uuid.UUID, recordCode, patientCode string) error {
	return c.repo.Remove(ctx, doctorID, recordCode, patientCode)
}

// SelfGrant caches the author's own access to a new record. The ledger
// grants the author when the record is anchored.
func (c *Cache) SelfGrant(ctx context.Context, doctorID uuid.UUID, recordCode, patientCode string) error {
	return c.Grant(ctx, doctorID, recordCode, patientCode)
}

func (c *Cache) Holders(ctx context.Context, recordCode string) ([]Holder, error) {
	return c.repo.Holders(ctx, recordCode)
}
