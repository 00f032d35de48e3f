// Package registry is the ledger-side record registry: anchored record
// hashes, per-record doctor access flags, and the wallet bindings of doctors,
// patients and guardians. All identifiers arrive as bytes32 hex words.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

const (
	operatorKey = "operator"

	objDoctor       = "doctor"
	objDoctorWallet = "doctorwallet"
	objPatient      = "patient"
	objGuardian     = "guardian"
	objRecord       = "record"
	objAccess       = "access"
)

var (
	ErrNotInitialized  = errors.New("registry not initialized")
	ErrNotOperator     = errors.New("caller is not the operator")
	ErrNotDoctor       = errors.New("caller is not a registered doctor")
	ErrNotPatient      = errors.New("caller is not the patient or guardian")
	ErrNoAccess        = errors.New("doctor has no access to record")
	ErrRecordExists    = errors.New("record already exists")
	ErrRecordNotFound  = errors.New("record not found")
	ErrPatientMismatch = errors.New("record belongs to another patient")
)

// RecordState is the world-state value of an anchored record.
type RecordState struct {
	Hash        string `json:"hash"`
	PatientCode string `json:"patientCode"`
	Author      string `json:"author"`
}

// RegistryContract implements the registry chaincode.
type RegistryContract struct {
	contractapi.Contract
}

// InitLedger binds the calling identity as the operator. Repeating it from
// the same identity is a no-op.
func (c *RegistryContract) InitLedger(ctx contractapi.TransactionContextInterface) error {
	caller, err := callerID(ctx)
	if err != nil {
		return err
	}
	current, err := ctx.GetStub().GetState(operatorKey)
	if err != nil {
		return fmt.Errorf("read operator: %w", err)
	}
	if current != nil {
		if string(current) == caller {
			return nil
		}
		return errors.New("registry already initialized by another identity")
	}
	return ctx.GetStub().PutState(operatorKey, []byte(caller))
}

func (c *RegistryContract) AssignDoctor(ctx contractapi.TransactionContextInterface, doctorCode, wallet string) error {
	if err := requireOperator(ctx); err != nil {
		return err
	}
	previous, err := getString(ctx, objDoctor, doctorCode)
	if err != nil {
		return err
	}
	if previous != "" && previous != wallet {
		key, err := ctx.GetStub().CreateCompositeKey(objDoctorWallet, []string{previous})
		if err != nil {
			return err
		}
		if err := ctx.GetStub().DelState(key); err != nil {
			return fmt.Errorf("unbind previous wallet: %w", err)
		}
	}
	if err := putString(ctx, objDoctor, wallet, doctorCode); err != nil {
		return err
	}
	return putString(ctx, objDoctorWallet, doctorCode, wallet)
}

func (c *RegistryContract) AssignPatient(ctx contractapi.TransactionContextInterface, patientCode, wallet string) error {
	if err := requireOperator(ctx); err != nil {
		return err
	}
	return putString(ctx, objPatient, wallet, patientCode)
}

func (c *RegistryContract) LinkGuardianToPatient(ctx contractapi.TransactionContextInterface, patientCode, guardianWallet string) error {
	if err := requireOperator(ctx); err != nil {
		return err
	}
	return putString(ctx, objGuardian, guardianWallet, patientCode)
}

// AddRecord anchors a new record. The authoring doctor is granted access.
func (c *RegistryContract) AddRecord(ctx contractapi.TransactionContextInterface, recordCode, patientCode, recordHash string) error {
	caller, err := callerID(ctx)
	if err != nil {
		return err
	}
	doctorCode, err := getString(ctx, objDoctorWallet, caller)
	if err != nil {
		return err
	}
	if doctorCode == "" {
		return ErrNotDoctor
	}
	existing, err := getRecord(ctx, recordCode)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrRecordExists
	}

	if err := putRecord(ctx, recordCode, RecordState{Hash: recordHash, PatientCode: patientCode, Author: caller}); err != nil {
		return err
	}
	if err := putString(ctx, objAccess, "1", patientCode, recordCode, doctorCode); err != nil {
		return err
	}
	return emit(ctx, "RecordAdded", eventPayload{
		RecordCode: recordCode, RecordHash: recordHash, PatientCode: patientCode,
		DoctorCode: doctorCode, Doctor: caller,
	})
}

// UpdateRecord replaces the anchored hash. Doctors need access to the
// record; the operator may always correct it.
func (c *RegistryContract) UpdateRecord(ctx contractapi.TransactionContextInterface, recordCode, patientCode, recordHash string) error {
	caller, err := callerID(ctx)
	if err != nil {
		return err
	}
	rec, err := getRecord(ctx, recordCode)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrRecordNotFound
	}
	if rec.PatientCode != patientCode {
		return ErrPatientMismatch
	}

	operator, err := isOperator(ctx, caller)
	if err != nil {
		return err
	}
	if operator {
		rec.Hash = recordHash
		if err := putRecord(ctx, recordCode, *rec); err != nil {
			return err
		}
		return emit(ctx, "RecordHashUpdatedByAdmin", eventPayload{
			RecordCode: recordCode, RecordHash: recordHash, PatientCode: patientCode, Wallet: caller,
		})
	}

	doctorCode, err := getString(ctx, objDoctorWallet, caller)
	if err != nil {
		return err
	}
	if doctorCode == "" {
		return ErrNotDoctor
	}
	granted, err := hasAccess(ctx, patientCode, recordCode, doctorCode)
	if err != nil {
		return err
	}
	if !granted {
		return ErrNoAccess
	}
	rec.Hash = recordHash
	if err := putRecord(ctx, recordCode, *rec); err != nil {
		return err
	}
	return emit(ctx, "RecordUpdated", eventPayload{
		RecordCode: recordCode, RecordHash: recordHash, PatientCode: patientCode,
		DoctorCode: doctorCode, Doctor: caller,
	})
}

func (c *RegistryContract) GrantAccess(ctx contractapi.TransactionContextInterface, patientCode, recordCode, doctorCode string) error {
	if err := requirePatientOrGuardian(ctx, patientCode, recordCode); err != nil {
		return err
	}
	if err := putString(ctx, objAccess, "1", patientCode, recordCode, doctorCode); err != nil {
		return err
	}
	return emit(ctx, "AccessGranted", eventPayload{PatientCode: patientCode, RecordCode: recordCode, DoctorCode: doctorCode})
}

// RevokeAccess clears the flag. Revoking an absent grant succeeds.
func (c *RegistryContract) RevokeAccess(ctx contractapi.TransactionContextInterface, patientCode, recordCode, doctorCode string) error {
	if err := requirePatientOrGuardian(ctx, patientCode, recordCode); err != nil {
		return err
	}
	key, err := ctx.GetStub().CreateCompositeKey(objAccess, []string{patientCode, recordCode, doctorCode})
	if err != nil {
		return err
	}
	if err := ctx.GetStub().DelState(key); err != nil {
		return fmt.Errorf("delete access: %w", err)
	}
	return emit(ctx, "AccessRevoked", eventPayload{PatientCode: patientCode, RecordCode: recordCode, DoctorCode: doctorCode})
}

// LogAccessAttempt commits an AccessAttempt event with the access outcome.
func (c *RegistryContract) LogAccessAttempt(ctx contractapi.TransactionContextInterface, patientCode, recordCode, doctorCode string) error {
	if err := requireOperator(ctx); err != nil {
		return err
	}
	granted, err := hasAccess(ctx, patientCode, recordCode, doctorCode)
	if err != nil {
		return err
	}
	return emit(ctx, "AccessAttempt", eventPayload{
		PatientCode: patientCode, RecordCode: recordCode, DoctorCode: doctorCode, AccessGranted: &granted,
	})
}

func (c *RegistryContract) HasAccess(ctx contractapi.TransactionContextInterface, patientCode, recordCode, doctorCode string) (bool, error) {
	return hasAccess(ctx, patientCode, recordCode, doctorCode)
}

func (c *RegistryContract) GetRecordHash(ctx contractapi.TransactionContextInterface, recordCode string) (string, error) {
	rec, err := getRecord(ctx, recordCode)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", ErrRecordNotFound
	}
	return rec.Hash, nil
}

func (c *RegistryContract) VerifyRecord(ctx contractapi.TransactionContextInterface, recordCode, recordHash string) (bool, error) {
	rec, err := getRecord(ctx, recordCode)
	if err != nil {
		return false, err
	}
	return rec != nil && rec.Hash == recordHash, nil
}

type eventPayload struct {
	RecordCode    string `json:"recordCode,omitempty"`
	RecordHash    string `json:"recordHash,omitempty"`
	PatientCode   string `json:"patientCode,omitempty"`
	DoctorCode    string `json:"doctorCode,omitempty"`
	Doctor        string `json:"doctor,omitempty"`
	Wallet        string `json:"wallet,omitempty"`
	AccessGranted *bool  `json:"accessGranted,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

func emit(ctx contractapi.TransactionContextInterface, name string, p eventPayload) error {
	ts, err := ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return fmt.Errorf("read tx timestamp: %w", err)
	}
	p.Timestamp = ts.GetSeconds()
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return ctx.GetStub().SetEvent(name, data)
}

func callerID(ctx contractapi.TransactionContextInterface) (string, error) {
	id, err := ctx.GetClientIdentity().GetID()
	if err != nil {
		return "", fmt.Errorf("read client identity: %w", err)
	}
	return id, nil
}

func isOperator(ctx contractapi.TransactionContextInterface, caller string) (bool, error) {
	op, err := ctx.GetStub().GetState(operatorKey)
	if err != nil {
		return false, fmt.Errorf("read operator: %w", err)
	}
	if op == nil {
		return false, ErrNotInitialized
	}
	return string(op) == caller, nil
}

func requireOperator(ctx contractapi.TransactionContextInterface) error {
	caller, err := callerID(ctx)
	if err != nil {
		return err
	}
	ok, err := isOperator(ctx, caller)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotOperator
	}
	return nil
}

func requirePatientOrGuardian(ctx contractapi.TransactionContextInterface, patientCode, recordCode string) error {
	caller, err := callerID(ctx)
	if err != nil {
		return err
	}
	rec, err := getRecord(ctx, recordCode)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrRecordNotFound
	}
	if rec.PatientCode != patientCode {
		return ErrPatientMismatch
	}

	for _, obj := range []string{objPatient, objGuardian} {
		wallet, err := getString(ctx, obj, patientCode)
		if err != nil {
			return err
		}
		if wallet != "" && wallet == caller {
			return nil
		}
	}
	return ErrNotPatient
}

func hasAccess(ctx contractapi.TransactionContextInterface, patientCode, recordCode, doctorCode string) (bool, error) {
	v, err := getString(ctx, objAccess, patientCode, recordCode, doctorCode)
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

func getRecord(ctx contractapi.TransactionContextInterface, recordCode string) (*RecordState, error) {
	key, err := ctx.GetStub().CreateCompositeKey(objRecord, []string{recordCode})
	if err != nil {
		return nil, err
	}
	data, err := ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	var rec RecordState
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

func putRecord(ctx contractapi.TransactionContextInterface, recordCode string, rec RecordState) error {
	key, err := ctx.GetStub().CreateCompositeKey(objRecord, []string{recordCode})
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return ctx.GetStub().PutState(key, data)
}

func getString(ctx contractapi.TransactionContextInterface, objectType string, attrs ...string) (string, error) {
	key, err := ctx.GetStub().CreateCompositeKey(objectType, attrs)
	if err != nil {
		return "", err
	}
	data, err := ctx.GetStub().GetState(key)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", objectType, err)
	}
	return string(data), nil
}

func putString(ctx contractapi.TransactionContextInterface, objectType, value string, attrs ...string) error {
	key, err := ctx.GetStub().CreateCompositeKey(objectType, attrs)
	if err != nil {
		return err
	}
	if err := ctx.GetStub().PutState(key, []byte(value)); err != nil {
		return fmt.Errorf("write %s: %w", objectType, err)
	}
	return nil
}
