package record

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"golang.org/x/crypto/sha3"
)

// TimeLayout is the timestamp rendering used inside the canonical form.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Field order below is the canonical key order. Do not reorder.

type canonicalVitals struct {
	Height        string `json:"height"`
	Weight        string `json:"weight"`
	Temperature   string `json:"temperature"`
	BloodPressure string `json:"bloodPressure"`
	Pulse         string `json:"pulse"`
}

type canonicalMedication struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
	Duration  string `json:"duration"`
}

type canonicalRecord struct {
	RecordCode            string                `json:"recordCode"`
	PatientID             string                `json:"patientID"`
	DoctorID              string                `json:"doctorID"`
	ReasonForVisit        string                `json:"reasonForVisit"`
	Symptoms              []string              `json:"symptoms"`
	Diagnosis             string                `json:"diagnosis"`
	Notes                 string                `json:"notes"`
	VitalSigns            canonicalVitals       `json:"vitalSigns"`
	PrescribedMedications []canonicalMedication `json:"prescribedMedications"`
	FollowUpDate          string                `json:"followUpDate"`
	FollowUpNote          string                `json:"followUpNote"`
	CreatedAt             *string               `json:"created_at,omitempty"`
	UpdatedAt             *string               `json:"updated_at,omitempty"`
}

// Truncate normalizes t to UTC millisecond precision so that a value read
// back from the store renders exactly as it did when hashed.
func Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func formatTime(t time.Time) string {
	return Truncate(t).Format(TimeLayout)
}

func formatNumber(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// Canonicalize renders the record's hashed fields as compact JSON in fixed
// key order. A record that was never verified carries created_at; once a
// verified hash exists it carries updated_at instead.
func Canonicalize(r *MedicalRecord) []byte {
	c := canonicalRecord{
		RecordCode:     r.RecordCode,
		PatientID:      r.PatientID.String(),
		DoctorID:       r.DoctorUserID.String(),
		ReasonForVisit: r.ReasonForVisit,
		Symptoms:       append([]string{}, r.Symptoms...),
		Diagnosis:      r.Diagnosis,
		Notes:          r.Notes,
		VitalSigns: canonicalVitals{
			Height:        formatNumber(r.VitalSigns.Height),
			Weight:        formatNumber(r.VitalSigns.Weight),
			Temperature:   formatNumber(r.VitalSigns.Temperature),
			BloodPressure: r.VitalSigns.BloodPressure,
			Pulse:         formatNumber(r.VitalSigns.Pulse),
		},
		PrescribedMedications: make([]canonicalMedication, 0, len(r.PrescribedMedications)),
		FollowUpNote:          r.FollowUpNote,
	}
	for _, m := range r.PrescribedMedications {
		c.PrescribedMedications = append(c.PrescribedMedications, canonicalMedication(m))
	}
	if r.FollowUpDate != nil {
		c.FollowUpDate = formatTime(*r.FollowUpDate)
	}
	if r.NeverVerified() {
		ts := formatTime(r.CreatedAt)
		c.CreatedAt = &ts
	} else {
		ts := formatTime(r.UpdatedAt)
		c.UpdatedAt = &ts
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Strings, slices and structs only; Encode cannot fail.
	_ = enc.Encode(c)
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

// Hash returns the Keccak-256 digest of the canonical form as 0x-prefixed
// lowercase hex.
func Hash(r *MedicalRecord) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(Canonicalize(r))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
