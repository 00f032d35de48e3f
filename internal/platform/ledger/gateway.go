package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/status"
)

// Invoker calls registry chaincode functions as one identity.
type Invoker interface {
	Submit(ctx context.Context, fn string, args ...string) ([]byte, error)
	Evaluate(ctx context.Context, fn string, args ...string) ([]byte, error)
}

// Connector hands out invokers per signer. *Network is the production
// implementation.
type Connector interface {
	Invoker(s Signer) (Invoker, error)
}

// Gateway exposes the registry's operations with plain string identifiers.
// Writes return once the transaction is committed. Reads fail closed: any
// error is logged and reported as "no access" or "not found".
type Gateway struct {
	conn   Connector
	logger zerolog.Logger
}

func NewGateway(conn Connector, logger zerolog.Logger) *Gateway {
	return &Gateway{conn: conn, logger: logger.With().Str("component", "ledger").Logger()}
}

// Init binds the operator identity in the registry. Safe to repeat.
func (g *Gateway) Init(ctx context.Context) error {
	return g.submit(ctx, Operator(), "InitLedger")
}

func (g *Gateway) AssignDoctor(ctx context.Context, doctorCode, wallet string) error {
	code, err := EncodeBytes32(doctorCode)
	if err != nil {
		return err
	}
	return g.submit(ctx, Operator(), "AssignDoctor", code, wallet)
}

func (g *Gateway) AssignPatient(ctx context.Context, patientCode, wallet string) error {
	code, err := EncodeBytes32(patientCode)
	if err != nil {
		return err
	}
	return g.submit(ctx, Operator(), "AssignPatient", code, wallet)
}

func (g *Gateway) LinkGuardian(ctx context.Context, patientCode, guardianWallet string) error {
	code, err := EncodeBytes32(patientCode)
	if err != nil {
		return err
	}
	return g.submit(ctx, Operator(), "LinkGuardianToPatient", code, guardianWallet)
}

func (g *Gateway) GrantAccess(ctx context.Context, s Signer, patientCode, recordCode, doctorCode string) error {
	args, err := encodeAll(patientCode, recordCode, doctorCode)
	if err != nil {
		return err
	}
	return g.submit(ctx, s, "GrantAccess", args...)
}

func (g *Gateway) RevokeAccess(ctx context.Context, s Signer, patientCode, recordCode, doctorCode string) error {
	args, err := encodeAll(patientCode, recordCode, doctorCode)
	if err != nil {
		return err
	}
	return g.submit(ctx, s, "RevokeAccess", args...)
}

// StoreRecordHash anchors the first hash of a record.
func (g *Gateway) StoreRecordHash(ctx context.Context, s Signer, recordCode, patientCode, hash string) error {
	args, err := encodeAll(recordCode, patientCode)
	if err != nil {
		return err
	}
	return g.submit(ctx, s, "AddRecord", append(args, hash)...)
}

// UpdateRecordHash replaces the anchored hash of an existing record. Signed
// by the operator it is an administrative correction.
func (g *Gateway) UpdateRecordHash(ctx context.Context, s Signer, recordCode, patientCode, hash string) error {
	args, err := encodeAll(recordCode, patientCode)
	if err != nil {
		return err
	}
	return g.submit(ctx, s, "UpdateRecord", append(args, hash)...)
}

// LogAccessAttempt records a doctor's read attempt on the ledger.
func (g *Gateway) LogAccessAttempt(ctx context.Context, patientCode, recordCode, doctorCode string) error {
	args, err := encodeAll(patientCode, recordCode, doctorCode)
	if err != nil {
		return err
	}
	return g.submit(ctx, Operator(), "LogAccessAttempt", args...)
}

func (g *Gateway) HasAccess(ctx context.Context, patientCode, recordCode, doctorCode string) bool {
	args, err := encodeAll(patientCode, recordCode, doctorCode)
	if err != nil {
		g.logger.Warn().Err(err).Msg("has access: bad identifier")
		return false
	}
	out, err := g.evaluate(ctx, "HasAccess", args...)
	if err != nil {
		g.logger.Warn().Err(err).Str("record_code", recordCode).Str("doctor_code", doctorCode).Msg("has access check failed")
		return false
	}
	ok, err := strconv.ParseBool(strings.TrimSpace(string(out)))
	return err == nil && ok
}

// GetStoredHash returns the anchored hash for recordCode, or false when the
// record is not anchored or the ledger cannot be read.
func (g *Gateway) GetStoredHash(ctx context.Context, recordCode string) (string, bool) {
	code, err := EncodeBytes32(recordCode)
	if err != nil {
		return "", false
	}
	out, err := g.evaluate(ctx, "GetRecordHash", code)
	if err != nil {
		g.logger.Debug().Err(err).Str("record_code", recordCode).Msg("stored hash unavailable")
		return "", false
	}
	hash := strings.TrimSpace(string(out))
	if !IsWord(hash) {
		return "", false
	}
	return hash, true
}

func (g *Gateway) VerifyHash(ctx context.Context, recordCode, hash string) bool {
	code, err := EncodeBytes32(recordCode)
	if err != nil {
		return false
	}
	out, err := g.evaluate(ctx, "VerifyRecord", code, hash)
	if err != nil {
		g.logger.Warn().Err(err).Str("record_code", recordCode).Msg("verify hash failed")
		return false
	}
	ok, err := strconv.ParseBool(strings.TrimSpace(string(out)))
	return err == nil && ok
}

func (g *Gateway) submit(ctx context.Context, s Signer, fn string, args ...string) error {
	inv, err := g.conn.Invoker(s)
	if err != nil {
		if errors.Is(err, ErrSignerDeclined) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrSignerDeclined, err)
	}
	if _, err := inv.Submit(ctx, fn, args...); err != nil {
		txErr := &TxError{Op: fn, Message: shortMessage(err), Err: err}
		g.logger.Error().Str("signer", s.String()).Str("op", fn).Msg(txErr.Message)
		return txErr
	}
	g.logger.Debug().Str("signer", s.String()).Str("op", fn).Msg("transaction committed")
	return nil
}

func (g *Gateway) evaluate(ctx context.Context, fn string, args ...string) ([]byte, error) {
	inv, err := g.conn.Invoker(Operator())
	if err != nil {
		return nil, err
	}
	return inv.Evaluate(ctx, fn, args...)
}

func encodeAll(ids ...string) ([]string, error) {
	out := make([]string, len(ids))
	for i, id := range ids {
		w, err := EncodeBytes32(id)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

// shortMessage extracts the peer's reason from a gateway error.
func shortMessage(err error) string {
	if st, ok := status.FromError(err); ok && st.Message() != "" {
		return st.Message()
	}
	return err.Error()
}
