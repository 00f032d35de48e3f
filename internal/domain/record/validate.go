package record

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema/record_input.json
var schemaFS embed.FS

var inputSchema = mustLoadSchema("schema/record_input.json")

func mustLoadSchema(name string) *gojsonschema.Schema {
	raw, err := schemaFS.ReadFile(name)
	if err != nil {
		panic(err)
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		panic(fmt.Sprintf("record: invalid schema %s: %v", name, err))
	}
	return s
}

// normalize trims text fields and drops blank symptoms and unnamed
// medications.
func (in *Input) normalize() {
	in.PatientCode = strings.TrimSpace(in.PatientCode)
	in.ReasonForVisit = strings.TrimSpace(in.ReasonForVisit)
	in.Diagnosis = strings.TrimSpace(in.Diagnosis)
	in.Notes = strings.TrimSpace(in.Notes)
	in.FollowUpNote = strings.TrimSpace(in.FollowUpNote)
	in.VitalSigns.BloodPressure = strings.TrimSpace(in.VitalSigns.BloodPressure)

	symptoms := make([]string, 0, len(in.Symptoms))
	for _, s := range in.Symptoms {
		if s = strings.TrimSpace(s); s != "" {
			symptoms = append(symptoms, s)
		}
	}
	in.Symptoms = symptoms

	meds := make([]Medication, 0, len(in.PrescribedMedications))
	for _, m := range in.PrescribedMedications {
		m.Name = strings.TrimSpace(m.Name)
		if m.Name == "" {
			continue
		}
		m.Dosage = strings.TrimSpace(m.Dosage)
		m.Frequency = strings.TrimSpace(m.Frequency)
		m.Duration = strings.TrimSpace(m.Duration)
		meds = append(meds, m)
	}
	in.PrescribedMedications = meds
}

// Validate normalizes in and checks it against the record input schema.
func (in *Input) Validate() error {
	in.normalize()
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	result, err := inputSchema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(msgs, "; "))
	}
	return nil
}
