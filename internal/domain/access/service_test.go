package access

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/recordchain/internal/domain/identity"
	"github.com/ehr/recordchain/internal/domain/record"
	"github.com/ehr/recordchain/internal/platform/ledger"
)

// -- Mock Repository --

type mockGrantRepo struct {
	grants []Grant
	next   int64
	names  map[uuid.UUID]string
}

func newMockGrantRepo() *mockGrantRepo {
	return &mockGrantRepo{names: map[uuid.UUID]string{}}
}

func (m *mockGrantRepo) Add(_ context.Context, doctorID uuid.UUID, recordCode, patientCode string) error {
	for _, g := range m.grants {
		if g.DoctorID == doctorID && g.RecordCode == recordCode && g.PatientCode == patientCode {
			return nil
		}
	}
	m.next++
	m.grants = append(m.grants, Grant{DoctorID: doctorID, RecordCode: recordCode, PatientCode: patientCode, Position: m.next, GrantedAt: time.Now()})
	return nil
}

func (m *mockGrantRepo) Remove(_ context.Context, doctorID uuid.UUID, recordCode, patientCode string) error {
	kept := m.grants[:0]
	for _, g := range m.grants {
		if !(g.DoctorID == doctorID && g.RecordCode == recordCode && g.PatientCode == patientCode) {
			kept = append(kept, g)
		}
	}
	m.grants = kept
	return nil
}

func (m *mockGrantRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID) ([]Grant, error) {
	var out []Grant
	for _, g := range m.grants {
		if g.DoctorID == doctorID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *mockGrantRepo) Holders(_ context.Context, recordCode string) ([]Holder, error) {
	var out []Holder
	for _, g := range m.grants {
		if g.RecordCode == recordCode {
			out = append(out, Holder{DoctorCode: m.names[g.DoctorID], GrantedAt: g.GrantedAt})
		}
	}
	return out, nil
}

// -- Fakes --

type fakeDirectory struct {
	doctors map[string]*identity.Doctor
	linked  map[uuid.UUID][]*identity.Patient
	wallets map[string]string
}

func (f *fakeDirectory) DoctorByCode(_ context.Context, code string) (*identity.Doctor, error) {
	d, ok := f.doctors[code]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return d, nil
}

func (f *fakeDirectory) PatientsByUser(_ context.Context, userID uuid.UUID) ([]*identity.Patient, error) {
	return f.linked[userID], nil
}

func (f *fakeDirectory) SigningWallet(_ context.Context, p *identity.Patient) (string, error) {
	w, ok := f.wallets[p.PatientCode]
	if !ok {
		return "", identity.ErrNoWallet
	}
	return w, nil
}

type fakeRecords struct {
	records []*record.MedicalRecord
}

func (f *fakeRecords) Get(_ context.Context, id uuid.UUID) (*record.MedicalRecord, error) {
	for _, r := range f.records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, record.ErrNotFound
}

func (f *fakeRecords) GetByCode(_ context.Context, code string) (*record.MedicalRecord, error) {
	for _, r := range f.records {
		if r.RecordCode == code {
			return r, nil
		}
	}
	return nil, record.ErrNotFound
}

// fakeLedger keeps access flags; a grant signed by anyone but the patient's
// wallet is rejected the way the chaincode rejects it.
type fakeLedger struct {
	access  map[string]bool
	owners  map[string]string
	signers []ledger.Signer
	down    bool
}

func key(patientCode, recordCode, doctorCode string) string {
	return patientCode + "|" + recordCode + "|" + doctorCode
}

func (f *fakeLedger) GrantAccess(_ context.Context, s ledger.Signer, patientCode, recordCode, doctorCode string) error {
	f.signers = append(f.signers, s)
	if f.owners[patientCode] != s.Wallet {
		return &ledger.TxError{Op: "GrantAccess", Message: "caller is not the patient"}
	}
	f.access[key(patientCode, recordCode, doctorCode)] = true
	return nil
}

func (f *fakeLedger) RevokeAccess(_ context.Context, s ledger.Signer, patientCode, recordCode, doctorCode string) error {
	f.signers = append(f.signers, s)
	if f.owners[patientCode] != s.Wallet {
		return &ledger.TxError{Op: "RevokeAccess", Message: "caller is not the patient"}
	}
	delete(f.access, key(patientCode, recordCode, doctorCode))
	return nil
}

func (f *fakeLedger) HasAccess(_ context.Context, patientCode, recordCode, doctorCode string) bool {
	if f.down {
		return false
	}
	return f.access[key(patientCode, recordCode, doctorCode)]
}

// -- Harness --

type testEnv struct {
	svc     *Service
	cache   *Cache
	repo    *mockGrantRepo
	ledger  *fakeLedger
	dir     *fakeDirectory
	owner   uuid.UUID
	doctor  *identity.Doctor
	rec     *record.MedicalRecord
	patient *identity.Patient
}

func newTestEnv() *testEnv {
	env := &testEnv{
		repo:    newMockGrantRepo(),
		ledger:  &fakeLedger{access: map[string]bool{}, owners: map[string]string{"P-00000001": "w-patient"}},
		owner:   uuid.New(),
		doctor:  &identity.Doctor{ID: uuid.New(), DoctorCode: "DOC-00000002", Fullname: "Dr Minh"},
		patient: &identity.Patient{ID: uuid.New(), PatientCode: "P-00000001"},
	}
	env.rec = &record.MedicalRecord{ID: uuid.New(), RecordCode: "MR20250101-00001", PatientCode: "P-00000001", Status: record.StatusVerified}
	env.repo.names[env.doctor.ID] = env.doctor.DoctorCode
	env.dir = &fakeDirectory{
		doctors: map[string]*identity.Doctor{env.doctor.DoctorCode: env.doctor},
		linked:  map[uuid.UUID][]*identity.Patient{env.owner: {env.patient}},
		wallets: map[string]string{"P-00000001": "w-patient"},
	}
	env.cache = NewCache(env.repo, env.dir)
	env.svc = NewService(env.cache, NewLedgerAuthorizer(env.ledger), env.ledger, env.dir,
		&fakeRecords{records: []*record.MedicalRecord{env.rec}}, zerolog.Nop())
	return env
}

func (env *testEnv) request(submit bool) Request {
	return Request{RecordCode: env.rec.RecordCode, DoctorCode: env.doctor.DoctorCode, Submit: submit}
}

// -- Tests --

func TestCache_SetSemantics(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	d := env.doctor.ID

	env.cache.Grant(ctx, d, "MR20250101-00002", "P-00000001")
	env.cache.Grant(ctx, d, "MR20250101-00001", "P-00000001")
	env.cache.Grant(ctx, d, "MR20250101-00002", "P-00000001")

	codes, _ := env.cache.RecordCodes(ctx, d)
	if len(codes) != 2 || codes[0] != "MR20250101-00002" || codes[1] != "MR20250101-00001" {
		t.Errorf("expected two codes in grant order, got %v", codes)
	}

	if err := env.cache.Revoke(ctx, d, "MR20250101-00009", "P-00000001"); err != nil {
		t.Errorf("revoking an absent grant must be a no-op: %v", err)
	}
	env.cache.Revoke(ctx, d, "MR20250101-00002", "P-00000001")
	env.cache.Revoke(ctx, d, "MR20250101-00002", "P-00000001")
	grants, err := env.cache.Hint(ctx, env.doctor.DoctorCode)
	if err != nil || len(grants) != 1 || grants[0].RecordCode != "MR20250101-00001" {
		t.Errorf("expected one grant left, got %v %v", grants, err)
	}
}

func TestAuthorizer_FailsClosed(t *testing.T) {
	env := newTestEnv()
	authz := NewLedgerAuthorizer(env.ledger)
	env.ledger.access[key("P-00000001", "MR20250101-00001", "DOC-00000002")] = true

	if !authz.Authorize(context.Background(), "P-00000001", "MR20250101-00001", "DOC-00000002") {
		t.Error("expected access")
	}
	if authz.Authorize(context.Background(), "P-00000001", "", "DOC-00000002") {
		t.Error("blank identifiers must deny")
	}
	env.ledger.down = true
	if authz.Authorize(context.Background(), "P-00000001", "MR20250101-00001", "DOC-00000002") {
		t.Error("ledger failure must deny")
	}
}

func TestGrant_ServerSigned(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	g, err := env.svc.Grant(ctx, env.owner, env.request(true))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.RecordCode != env.rec.RecordCode || g.DoctorID != env.doctor.ID {
		t.Errorf("unexpected grant %+v", g)
	}
	if len(env.ledger.signers) != 1 || env.ledger.signers[0] != ledger.Patient("w-patient") {
		t.Errorf("expected the patient's wallet to sign, got %v", env.ledger.signers)
	}
	codes, _ := env.cache.RecordCodes(ctx, env.doctor.ID)
	if len(codes) != 1 {
		t.Errorf("expected cached grant, got %v", codes)
	}

	if _, err := env.svc.Grant(ctx, env.owner, env.request(true)); err != nil {
		t.Errorf("granting twice must be harmless: %v", err)
	}
	codes, _ = env.cache.RecordCodes(ctx, env.doctor.ID)
	if len(codes) != 1 {
		t.Errorf("expected no duplicate, got %v", codes)
	}
}

func TestGrant_ClientSignedNeedsLedgerConfirmation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if _, err := env.svc.Grant(ctx, env.owner, env.request(false)); !errors.Is(err, ErrGrantNotOnLedger) {
		t.Fatalf("expected ErrGrantNotOnLedger, got %v", err)
	}
	if codes, _ := env.cache.RecordCodes(ctx, env.doctor.ID); len(codes) != 0 {
		t.Fatal("cache must not get ahead of the ledger")
	}

	env.ledger.access[key("P-00000001", env.rec.RecordCode, env.doctor.DoctorCode)] = true
	if _, err := env.svc.Grant(ctx, env.owner, env.request(false)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(env.ledger.signers) != 0 {
		t.Error("client-signed grants must not be submitted by the server")
	}
}

func TestGrant_Rejections(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if _, err := env.svc.Grant(ctx, uuid.New(), env.request(true)); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
	req := env.request(true)
	req.DoctorCode = "DOC-99999999"
	if _, err := env.svc.Grant(ctx, env.owner, req); !errors.Is(err, ErrUnknownDoctor) {
		t.Errorf("expected ErrUnknownDoctor, got %v", err)
	}
	if _, err := env.svc.Grant(ctx, env.owner, Request{DoctorCode: "DOC-00000002"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}

	delete(env.dir.wallets, "P-00000001")
	if _, err := env.svc.Grant(ctx, env.owner, env.request(true)); !errors.Is(err, identity.ErrNoWallet) {
		t.Errorf("expected identity.ErrNoWallet, got %v", err)
	}

	env.dir.wallets["P-00000001"] = "w-someone-else"
	_, err := env.svc.Grant(ctx, env.owner, env.request(true))
	var txErr *ledger.TxError
	if !errors.As(err, &txErr) {
		t.Errorf("expected a ledger TxError, got %v", err)
	}
	if codes, _ := env.cache.RecordCodes(ctx, env.doctor.ID); len(codes) != 0 {
		t.Error("failed grants must not be cached")
	}
}

func TestRevoke(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	if _, err := env.svc.Grant(ctx, env.owner, env.request(true)); err != nil {
		t.Fatalf("grant: %v", err)
	}

	if err := env.svc.Revoke(ctx, env.owner, env.request(true)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.ledger.HasAccess(ctx, "P-00000001", env.rec.RecordCode, env.doctor.DoctorCode) {
		t.Error("ledger grant must be revoked")
	}
	if codes, _ := env.cache.RecordCodes(ctx, env.doctor.ID); len(codes) != 0 {
		t.Errorf("cache entry must be removed, got %v", codes)
	}
	if err := env.svc.Revoke(ctx, env.owner, env.request(false)); err != nil {
		t.Errorf("revoking twice must be harmless: %v", err)
	}
}

func TestRevoke_CacheRemovalIsUnconditional(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.cache.Grant(ctx, env.doctor.ID, env.rec.RecordCode, "P-00000001")
	env.ledger.access[key("P-00000001", env.rec.RecordCode, env.doctor.DoctorCode)] = true

	// Client-signed revoke: the cache goes even while the ledger still
	// shows access.
	if err := env.svc.Revoke(ctx, env.owner, env.request(false)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if codes, _ := env.cache.RecordCodes(ctx, env.doctor.ID); len(codes) != 0 {
		t.Errorf("expected cache entry removed, got %v", codes)
	}
}

func TestHolders(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.svc.Grant(ctx, env.owner, env.request(true))

	holders, err := env.svc.Holders(ctx, env.owner, env.rec.ID)
	if err != nil || len(holders) != 1 || holders[0].DoctorCode != env.doctor.DoctorCode {
		t.Errorf("expected the granted doctor, got %v %v", holders, err)
	}
	if _, err := env.svc.Holders(ctx, uuid.New(), env.rec.ID); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
}
