package registry

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperledger/fabric-chaincode-go/pkg/cid"
	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/timestamppb"
)

type fakeStub struct {
	shim.ChaincodeStubInterface
	state     map[string][]byte
	eventName string
	eventData []byte
	now       time.Time
}

func newFakeStub() *fakeStub {
	return &fakeStub{state: map[string][]byte{}, now: time.Unix(1735689600, 0)}
}

func (s *fakeStub) GetState(key string) ([]byte, error) { return s.state[key], nil }

func (s *fakeStub) PutState(key string, value []byte) error {
	s.state[key] = value
	return nil
}

func (s *fakeStub) DelState(key string) error {
	delete(s.state, key)
	return nil
}

func (s *fakeStub) CreateCompositeKey(objectType string, attributes []string) (string, error) {
	return "\x00" + objectType + "\x00" + strings.Join(attributes, "\x00") + "\x00", nil
}

func (s *fakeStub) GetTxTimestamp() (*timestamppb.Timestamp, error) {
	return timestamppb.New(s.now), nil
}

func (s *fakeStub) SetEvent(name string, payload []byte) error {
	s.eventName = name
	s.eventData = payload
	return nil
}

type fakeIdentity struct {
	cid.ClientIdentity
	id string
}

func (f fakeIdentity) GetID() (string, error) { return f.id, nil }

type harness struct {
	t    *testing.T
	stub *fakeStub
	cc   *RegistryContract
}

func newHarness(t *testing.T) *harness {
	h := &harness{t: t, stub: newFakeStub(), cc: &RegistryContract{}}
	require.NoError(t, h.cc.InitLedger(h.as("operator")))
	return h
}

func (h *harness) as(wallet string) contractapi.TransactionContextInterface {
	ctx := new(contractapi.TransactionContext)
	ctx.SetStub(h.stub)
	ctx.SetClientIdentity(fakeIdentity{id: wallet})
	h.stub.eventName, h.stub.eventData = "", nil
	return ctx
}

func (h *harness) event() (string, eventPayload) {
	h.t.Helper()
	var p eventPayload
	require.NoError(h.t, json.Unmarshal(h.stub.eventData, &p))
	return h.stub.eventName, p
}

const (
	patient = "0xp1"
	record  = "0xmr1"
	doc1    = "0xdoc1"
	doc2    = "0xdoc2"
	hashV1  = "0xhash1"
	hashV2  = "0xhash2"
)

// setup registers two doctors, a patient with a guardian, and one record
// authored by doc1.
func setup(t *testing.T) *harness {
	h := newHarness(t)
	op := h.as("operator")
	require.NoError(t, h.cc.AssignDoctor(op, doc1, "wallet-doc1"))
	require.NoError(t, h.cc.AssignDoctor(op, doc2, "wallet-doc2"))
	require.NoError(t, h.cc.AssignPatient(op, patient, "wallet-patient"))
	require.NoError(t, h.cc.LinkGuardianToPatient(op, patient, "wallet-guardian"))
	require.NoError(t, h.cc.AddRecord(h.as("wallet-doc1"), record, patient, hashV1))
	return h
}

func TestInitLedger_BindsOperatorOnce(t *testing.T) {
	h := newHarness(t)
	assert.NoError(t, h.cc.InitLedger(h.as("operator")))
	assert.Error(t, h.cc.InitLedger(h.as("intruder")))

	assert.ErrorIs(t, h.cc.AssignDoctor(h.as("intruder"), doc1, "w"), ErrNotOperator)
}

func TestAddRecord(t *testing.T) {
	h := setup(t)

	require.NoError(t, h.cc.AddRecord(h.as("wallet-doc2"), "0xmr2", patient, hashV1))
	name, p := h.event()
	assert.Equal(t, "RecordAdded", name)
	assert.Equal(t, "0xmr2", p.RecordCode)
	assert.Equal(t, "wallet-doc2", p.Doctor)
	assert.Equal(t, int64(1735689600), p.Timestamp)

	ok, err := h.cc.HasAccess(h.as("anyone"), patient, "0xmr2", doc2)
	require.NoError(t, err)
	assert.True(t, ok, "author is granted access")

	assert.ErrorIs(t, h.cc.AddRecord(h.as("wallet-doc1"), record, patient, hashV2), ErrRecordExists)
	assert.ErrorIs(t, h.cc.AddRecord(h.as("wallet-patient"), "0xmr3", patient, hashV1), ErrNotDoctor)
}

func TestUpdateRecord(t *testing.T) {
	h := setup(t)

	assert.ErrorIs(t, h.cc.UpdateRecord(h.as("wallet-doc2"), record, patient, hashV2), ErrNoAccess)

	require.NoError(t, h.cc.UpdateRecord(h.as("wallet-doc1"), record, patient, hashV2))
	name, p := h.event()
	assert.Equal(t, "RecordUpdated", name)
	assert.Equal(t, doc1, p.DoctorCode)

	got, err := h.cc.GetRecordHash(h.as("anyone"), record)
	require.NoError(t, err)
	assert.Equal(t, hashV2, got)

	require.NoError(t, h.cc.UpdateRecord(h.as("operator"), record, patient, hashV1))
	name, p = h.event()
	assert.Equal(t, "RecordHashUpdatedByAdmin", name)
	assert.Equal(t, "operator", p.Wallet)

	assert.ErrorIs(t, h.cc.UpdateRecord(h.as("wallet-doc1"), record, "0xother", hashV2), ErrPatientMismatch)
	assert.ErrorIs(t, h.cc.UpdateRecord(h.as("wallet-doc1"), "0xmissing", patient, hashV2), ErrRecordNotFound)
}

func TestGrantRevoke_Idempotent(t *testing.T) {
	h := setup(t)

	for i := 0; i < 2; i++ {
		require.NoError(t, h.cc.GrantAccess(h.as("wallet-patient"), patient, record, doc2))
		ok, err := h.cc.HasAccess(h.as("x"), patient, record, doc2)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	name, _ := h.event()
	assert.Equal(t, "AccessGranted", name)

	for i := 0; i < 2; i++ {
		require.NoError(t, h.cc.RevokeAccess(h.as("wallet-guardian"), patient, record, doc2))
		ok, err := h.cc.HasAccess(h.as("x"), patient, record, doc2)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	assert.ErrorIs(t, h.cc.GrantAccess(h.as("wallet-doc1"), patient, record, doc2), ErrNotPatient)
	assert.ErrorIs(t, h.cc.GrantAccess(h.as("wallet-patient"), patient, "0xmissing", doc2), ErrRecordNotFound)
}

func TestLogAccessAttempt(t *testing.T) {
	h := setup(t)

	require.NoError(t, h.cc.LogAccessAttempt(h.as("operator"), patient, record, doc2))
	name, p := h.event()
	assert.Equal(t, "AccessAttempt", name)
	require.NotNil(t, p.AccessGranted)
	assert.False(t, *p.AccessGranted)

	require.NoError(t, h.cc.LogAccessAttempt(h.as("operator"), patient, record, doc1))
	_, p = h.event()
	assert.True(t, *p.AccessGranted)

	assert.ErrorIs(t, h.cc.LogAccessAttempt(h.as("wallet-doc1"), patient, record, doc1), ErrNotOperator)
}

func TestVerifyRecord(t *testing.T) {
	h := setup(t)

	ok, err := h.cc.VerifyRecord(h.as("x"), record, hashV1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.cc.VerifyRecord(h.as("x"), record, hashV2)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = h.cc.VerifyRecord(h.as("x"), "0xmissing", hashV1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.cc.GetRecordHash(h.as("x"), "0xmissing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestAssignDoctor_RebindReleasesOldWallet(t *testing.T) {
	h := setup(t)
	require.NoError(t, h.cc.AssignDoctor(h.as("operator"), doc1, "wallet-doc1-new"))

	assert.ErrorIs(t, h.cc.AddRecord(h.as("wallet-doc1"), "0xmr9", patient, hashV1), ErrNotDoctor)
	assert.NoError(t, h.cc.AddRecord(h.as("wallet-doc1-new"), "0xmr9", patient, hashV1))
}
