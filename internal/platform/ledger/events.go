package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// Registry event names.
const (
	EventRecordAdded              = "RecordAdded"
	EventRecordUpdated            = "RecordUpdated"
	EventAccessGranted            = "AccessGranted"
	EventAccessRevoked            = "AccessRevoked"
	EventAccessAttempt            = "AccessAttempt"
	EventRecordHashUpdatedByAdmin = "RecordHashUpdatedByAdmin"
)

// Event is one chaincode event as delivered by the peer.
type Event struct {
	Name        string
	BlockNumber uint64
	TxID        string
	Payload     []byte
}

// EventPayload is the JSON body the registry attaches to every event.
// Identifiers are bytes32 words; Doctor and Wallet are wallet addresses.
type EventPayload struct {
	RecordCode    string `json:"recordCode,omitempty"`
	RecordHash    string `json:"recordHash,omitempty"`
	PatientCode   string `json:"patientCode,omitempty"`
	DoctorCode    string `json:"doctorCode,omitempty"`
	Doctor        string `json:"doctor,omitempty"`
	Wallet        string `json:"wallet,omitempty"`
	AccessGranted *bool  `json:"accessGranted,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

func (e Event) Decode() (EventPayload, error) {
	var p EventPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", e.Name, err)
	}
	return p, nil
}

// Known reports whether the event is one the registry documents.
func (e Event) Known() bool {
	switch e.Name {
	case EventRecordAdded, EventRecordUpdated, EventAccessGranted,
		EventAccessRevoked, EventAccessAttempt, EventRecordHashUpdatedByAdmin:
		return true
	}
	return false
}

// Time is the transaction timestamp carried in the payload.
func (p EventPayload) Time() time.Time {
	return time.Unix(p.Timestamp, 0).UTC()
}

// Text decodes a bytes32 identifier, falling back to the raw value when it
// is not a valid word.
func Text(word string) string {
	if word == "" {
		return ""
	}
	s, err := DecodeBytes32(word)
	if err != nil {
		return word
	}
	return s
}
