// Package prescription turns raw request fields into a validated Record.
package prescription

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxMedicines = 20

	// MaxSignatureEncoded caps the base64 text, not the decoded image.
	MaxSignatureEncoded = 300_000

	// MaxSignaturePixels caps width*height of the decoded image.
	MaxSignaturePixels = 2000 * 1000
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

var datePattern = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)

// Form is the request payload as sent by the front-end.
type Form struct {
	DoctorName      string         `json:"doctorName" yaml:"doctorName"`
	DoctorSpecialty string         `json:"doctorSpecialty" yaml:"doctorSpecialty"`
	DoctorLicense   string         `json:"doctorLicense" yaml:"doctorLicense"`
	ClinicName      string         `json:"clinicName" yaml:"clinicName"`
	ClinicAddress   string         `json:"clinicAddress" yaml:"clinicAddress"`
	ClinicPhone     string         `json:"clinicPhone" yaml:"clinicPhone"`
	PatientName     string         `json:"patientName" yaml:"patientName"`
	PatientAge      string         `json:"patientAge" yaml:"patientAge"`
	Date            string         `json:"date" yaml:"date"`
	Diagnosis       string         `json:"diagnosis" yaml:"diagnosis"`
	Notes           string         `json:"notes" yaml:"notes"`
	Medicines       []MedicineForm `json:"medicines" yaml:"medicines"`
	Signature       string         `json:"signature" yaml:"signature"`
}

type MedicineForm struct {
	Name      string `json:"name" yaml:"name"`
	Dosage    string `json:"dosage" yaml:"dosage"`
	Frequency string `json:"frequency" yaml:"frequency"`
	Duration  string `json:"duration" yaml:"duration"`
	Quantity  string `json:"quantity" yaml:"quantity"`
}

// Record is a Form that passed validation. All strings are trimmed and
// length-bounded; Signature holds decoded PNG bytes or nil.
type Record struct {
	DoctorName      string
	DoctorSpecialty string
	DoctorLicense   string
	ClinicName      string
	ClinicAddress   string
	ClinicPhone     string
	PatientName     string
	PatientAge      string
	Date            string
	Diagnosis       string
	Notes           string
	Medicines       []Medicine
	Signature       []byte
}

type Medicine struct {
	Name      string
	Dosage    string
	Frequency string
	Duration  string
	Quantity  string
}

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

type rule struct {
	field     string
	value     string
	max       int
	required  bool
	multiline bool
	dst       *string
}

// Parse validates f and returns the cleaned record.
func Parse(f Form) (Record, error) {
	var rec Record

	rules := []rule{
		{field: "doctorName", value: f.DoctorName, max: 100, required: true, dst: &rec.DoctorName},
		{field: "doctorSpecialty", value: f.DoctorSpecialty, max: 100, dst: &rec.DoctorSpecialty},
		{field: "doctorLicense", value: f.DoctorLicense, max: 50, dst: &rec.DoctorLicense},
		{field: "clinicName", value: f.ClinicName, max: 120, dst: &rec.ClinicName},
		{field: "clinicAddress", value: f.ClinicAddress, max: 200, dst: &rec.ClinicAddress},
		{field: "clinicPhone", value: f.ClinicPhone, max: 40, dst: &rec.ClinicPhone},
		{field: "patientName", value: f.PatientName, max: 100, required: true, dst: &rec.PatientName},
		{field: "patientAge", value: f.PatientAge, max: 10, dst: &rec.PatientAge},
		{field: "diagnosis", value: f.Diagnosis, max: 500, multiline: true, dst: &rec.Diagnosis},
		{field: "notes", value: f.Notes, max: 1000, multiline: true, dst: &rec.Notes},
	}
	for _, r := range rules {
		v, err := cleanString(r.field, r.value, r.max, r.required, r.multiline)
		if err != nil {
			return Record{}, err
		}
		*r.dst = v
	}

	date, err := ValidateDate(f.Date)
	if err != nil {
		return Record{}, err
	}
	rec.Date = date

	meds, err := parseMedicines(f.Medicines)
	if err != nil {
		return Record{}, err
	}
	rec.Medicines = meds

	sig, err := DecodeSignature(f.Signature)
	if err != nil {
		return Record{}, err
	}
	rec.Signature = sig

	return rec, nil
}

// ValidateDate accepts YYYY-MM-DD with month 1-12 and day 1-31. It does not
// check that the day exists in the given month.
func ValidateDate(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", &ValidationError{Field: "date", Reason: "is required"}
	}
	m := datePattern.FindStringSubmatch(value)
	if m == nil {
		return "", &ValidationError{Field: "date", Reason: "must be formatted as YYYY-MM-DD"}
	}
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	if month < 1 || month > 12 {
		return "", &ValidationError{Field: "date", Reason: "month must be between 1 and 12"}
	}
	if day < 1 || day > 31 {
		return "", &ValidationError{Field: "date", Reason: "day must be between 1 and 31"}
	}
	return value, nil
}

func parseMedicines(items []MedicineForm) ([]Medicine, error) {
	if len(items) == 0 {
		return nil, &ValidationError{Field: "medicines", Reason: "at least one medicine is required"}
	}
	if len(items) > MaxMedicines {
		return nil, &ValidationError{Field: "medicines", Reason: fmt.Sprintf("at most %d medicines are allowed", MaxMedicines)}
	}

	out := make([]Medicine, 0, len(items))
	for i, item := range items {
		prefix := fmt.Sprintf("medicines[%d].", i)
		var med Medicine
		rules := []rule{
			{field: prefix + "name", value: item.Name, max: 120, required: true, dst: &med.Name},
			{field: prefix + "dosage", value: item.Dosage, max: 80, dst: &med.Dosage},
			{field: prefix + "frequency", value: item.Frequency, max: 80, dst: &med.Frequency},
			{field: prefix + "duration", value: item.Duration, max: 80, dst: &med.Duration},
			{field: prefix + "quantity", value: item.Quantity, max: 40, dst: &med.Quantity},
		}
		for _, r := range rules {
			v, err := cleanString(r.field, r.value, r.max, r.required, false)
			if err != nil {
				return nil, err
			}
			*r.dst = v
		}
		out = append(out, med)
	}
	return out, nil
}

// DecodeSignature accepts an optional base64 PNG, with or without a data URL
// prefix. An empty input yields nil.
func DecodeSignature(raw string) ([]byte, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}
	if len(value) > MaxSignatureEncoded {
		return nil, &ValidationError{Field: "signature", Reason: fmt.Sprintf("exceeds %d encoded bytes", MaxSignatureEncoded)}
	}
	if strings.HasPrefix(value, "data:") {
		comma := strings.IndexByte(value, ',')
		if comma < 0 || !strings.EqualFold(value[:comma], "data:image/png;base64") {
			return nil, &ValidationError{Field: "signature", Reason: "must be a base64 encoded PNG"}
		}
		value = value[comma+1:]
	}

	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, &ValidationError{Field: "signature", Reason: "is not valid base64"}
	}
	if !bytes.HasPrefix(data, pngMagic) {
		return nil, &ValidationError{Field: "signature", Reason: "is not a PNG image"}
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &ValidationError{Field: "signature", Reason: "is not a readable PNG image"}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxSignaturePixels {
		return nil, &ValidationError{Field: "signature", Reason: fmt.Sprintf("exceeds %d pixels", MaxSignaturePixels)}
	}
	return data, nil
}

func cleanString(field, raw string, max int, required, multiline bool) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		if required {
			return "", &ValidationError{Field: field, Reason: "is required"}
		}
		return "", nil
	}
	if !utf8.ValidString(value) {
		return "", &ValidationError{Field: field, Reason: "must be valid UTF-8"}
	}
	if n := utf8.RuneCountInString(value); n > max {
		return "", &ValidationError{Field: field, Reason: fmt.Sprintf("must be at most %d characters", max)}
	}
	for _, r := range value {
		if r == '\n' && multiline {
			continue
		}
		if r == '\r' && multiline {
			continue
		}
		if unicode.IsControl(r) && r != '\t' {
			return "", &ValidationError{Field: field, Reason: "contains control characters"}
		}
	}
	if multiline {
		value = strings.ReplaceAll(value, "\r\n", "\n")
		value = strings.ReplaceAll(value, "\r", "\n")
	}
	return value, nil
}
