package ledger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type call struct {
	signer Signer
	fn     string
	args   []string
}

type fakeConnector struct {
	mu       sync.Mutex
	calls    []call
	declined map[Role]bool
	submit   func(fn string, args []string) error
	evaluate func(fn string, args []string) ([]byte, error)
}

func (f *fakeConnector) Invoker(s Signer) (Invoker, error) {
	if f.declined[s.Role] {
		return nil, ErrSignerDeclined
	}
	return &fakeInvoker{parent: f, signer: s}, nil
}

type fakeInvoker struct {
	parent *fakeConnector
	signer Signer
}

func (i *fakeInvoker) record(fn string, args []string) {
	i.parent.mu.Lock()
	i.parent.calls = append(i.parent.calls, call{signer: i.signer, fn: fn, args: args})
	i.parent.mu.Unlock()
}

func (i *fakeInvoker) Submit(_ context.Context, fn string, args ...string) ([]byte, error) {
	i.record(fn, args)
	if i.parent.submit != nil {
		return nil, i.parent.submit(fn, args)
	}
	return nil, nil
}

func (i *fakeInvoker) Evaluate(_ context.Context, fn string, args ...string) ([]byte, error) {
	i.record(fn, args)
	if i.parent.evaluate != nil {
		return i.parent.evaluate(fn, args)
	}
	return nil, nil
}

func mustWord(t *testing.T, s string) string {
	t.Helper()
	w, err := EncodeBytes32(s)
	require.NoError(t, err)
	return w
}

func TestGateway_WritesEncodeIdentifiers(t *testing.T) {
	conn := &fakeConnector{}
	g := NewGateway(conn, zerolog.Nop())
	ctx := context.Background()
	hash := "0x" + strings.Repeat("ab", 32)

	require.NoError(t, g.AssignDoctor(ctx, "DOC-00000001", "wallet-d"))
	require.NoError(t, g.StoreRecordHash(ctx, Doctor("wallet-d"), "MR20250101-00001", "P-00000001", hash))
	require.NoError(t, g.GrantAccess(ctx, Patient("wallet-p"), "P-00000001", "MR20250101-00001", "DOC-00000002"))

	require.Len(t, conn.calls, 3)

	assert.Equal(t, Operator(), conn.calls[0].signer)
	assert.Equal(t, "AssignDoctor", conn.calls[0].fn)
	assert.Equal(t, []string{mustWord(t, "DOC-00000001"), "wallet-d"}, conn.calls[0].args)

	assert.Equal(t, "AddRecord", conn.calls[1].fn)
	assert.Equal(t, Doctor("wallet-d"), conn.calls[1].signer)
	assert.Equal(t, []string{mustWord(t, "MR20250101-00001"), mustWord(t, "P-00000001"), hash}, conn.calls[1].args)

	assert.Equal(t, "GrantAccess", conn.calls[2].fn)
	assert.Equal(t, Patient("wallet-p"), conn.calls[2].signer)
}

func TestGateway_SignerDeclined(t *testing.T) {
	conn := &fakeConnector{declined: map[Role]bool{RolePatient: true}}
	g := NewGateway(conn, zerolog.Nop())

	err := g.RevokeAccess(context.Background(), Patient("w"), "P-1", "MR-1", "DOC-1")
	assert.ErrorIs(t, err, ErrSignerDeclined)

	var txErr *TxError
	assert.False(t, errors.As(err, &txErr), "declined signer is not an on-chain failure")
	assert.Empty(t, conn.calls)
}

func TestGateway_OnChainFailureCarriesShortMessage(t *testing.T) {
	conn := &fakeConnector{submit: func(string, []string) error {
		return status.Error(codes.Aborted, "caller is not the patient")
	}}
	g := NewGateway(conn, zerolog.Nop())

	err := g.GrantAccess(context.Background(), Patient("w"), "P-1", "MR-1", "DOC-1")
	var txErr *TxError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, "GrantAccess", txErr.Op)
	assert.Equal(t, "caller is not the patient", txErr.Message)
	assert.NotErrorIs(t, err, ErrSignerDeclined)
}

func TestGateway_IdentifierTooLong(t *testing.T) {
	conn := &fakeConnector{}
	g := NewGateway(conn, zerolog.Nop())

	err := g.AssignPatient(context.Background(), strings.Repeat("P", 40), "w")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
	assert.Empty(t, conn.calls)
}

func TestGateway_ReadsFailClosed(t *testing.T) {
	ctx := context.Background()
	failing := &fakeConnector{evaluate: func(string, []string) ([]byte, error) {
		return nil, errors.New("peer unavailable")
	}}
	g := NewGateway(failing, zerolog.Nop())

	assert.False(t, g.HasAccess(ctx, "P-1", "MR-1", "DOC-1"))
	assert.False(t, g.VerifyHash(ctx, "MR-1", "0x00"))
	h, ok := g.GetStoredHash(ctx, "MR-1")
	assert.False(t, ok)
	assert.Empty(t, h)

	garbage := &fakeConnector{evaluate: func(string, []string) ([]byte, error) {
		return []byte("maybe"), nil
	}}
	g = NewGateway(garbage, zerolog.Nop())
	assert.False(t, g.HasAccess(ctx, "P-1", "MR-1", "DOC-1"))
	_, ok = g.GetStoredHash(ctx, "MR-1")
	assert.False(t, ok)

	declined := &fakeConnector{declined: map[Role]bool{RoleOperator: true}}
	g = NewGateway(declined, zerolog.Nop())
	assert.False(t, g.HasAccess(ctx, "P-1", "MR-1", "DOC-1"))
}

func TestGateway_Reads(t *testing.T) {
	hash := "0x" + strings.Repeat("cd", 32)
	conn := &fakeConnector{evaluate: func(fn string, _ []string) ([]byte, error) {
		switch fn {
		case "HasAccess", "VerifyRecord":
			return []byte("true"), nil
		case "GetRecordHash":
			return []byte(hash), nil
		}
		return nil, errors.New("unknown function")
	}}
	g := NewGateway(conn, zerolog.Nop())
	ctx := context.Background()

	assert.True(t, g.HasAccess(ctx, "P-1", "MR-1", "DOC-1"))
	assert.True(t, g.VerifyHash(ctx, "MR-1", hash))
	got, ok := g.GetStoredHash(ctx, "MR-1")
	assert.True(t, ok)
	assert.Equal(t, hash, got)

	for _, c := range conn.calls {
		assert.Equal(t, RoleOperator, c.signer.Role, "reads are evaluated as the operator")
	}
}

func TestEvent_DecodeAndText(t *testing.T) {
	ev := Event{
		Name:    EventAccessAttempt,
		Payload: []byte(`{"recordCode":"` + mustWord(t, "MR20250101-00001") + `","doctorCode":"` + mustWord(t, "DOC-00000001") + `","accessGranted":true,"timestamp":1735689600}`),
	}
	assert.True(t, ev.Known())

	p, err := ev.Decode()
	require.NoError(t, err)
	assert.Equal(t, "MR20250101-00001", Text(p.RecordCode))
	assert.Equal(t, "DOC-00000001", Text(p.DoctorCode))
	require.NotNil(t, p.AccessGranted)
	assert.True(t, *p.AccessGranted)
	assert.Equal(t, 2025, p.Time().Year())

	assert.Equal(t, "not-a-word", Text("not-a-word"))
	assert.False(t, Event{Name: "DoctorAssigned"}.Known())

	_, err = Event{Name: EventRecordAdded, Payload: []byte("{")}.Decode()
	assert.Error(t, err)
}

func TestCheckpointStore(t *testing.T) {
	s, err := OpenCheckpointStore(filepath.Join(t.TempDir(), "cp"))
	require.NoError(t, err)
	defer s.Close()

	cp, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, cp)

	require.NoError(t, s.Save(Checkpoint{Block: 42, TxID: "tx-1"}))
	cp, err = s.Load()
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, uint64(42), cp.BlockNumber())
	assert.Equal(t, "tx-1", cp.TransactionID())
}

func TestHTTPStatus(t *testing.T) {
	status, _, ok := HTTPStatus(fmt.Errorf("grant: %w", ErrSignerDeclined))
	assert.True(t, ok)
	assert.Equal(t, 409, status)

	status, msg, ok := HTTPStatus(&TxError{Op: "AddRecord", Message: "endorsement failed"})
	assert.True(t, ok)
	assert.Equal(t, 502, status)
	assert.NotContains(t, msg, "endorsement", "peer detail stays in the logs")

	_, _, ok = HTTPStatus(errors.New("db down"))
	assert.False(t, ok)
}
