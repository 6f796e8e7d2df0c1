package prescription

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBase64(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	img.Set(1, 1, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func blankPNGBase64(t *testing.T, width, height int) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, width, height))))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func validForm() Form {
	return Form{
		DoctorName:  "  Dr. Ana Ruiz ",
		ClinicName:  "Clínica Norte",
		PatientName: "Juan Pérez",
		PatientAge:  "42",
		Date:        "2024-03-15",
		Diagnosis:   "Acute sinusitis\r\nno fever",
		Medicines: []MedicineForm{
			{Name: "Amoxicillin 500mg", Dosage: "1 capsule", Frequency: "every 8h", Duration: "7 days"},
		},
	}
}

func fieldOf(t *testing.T, err error) string {
	t.Helper()
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr), "expected ValidationError, got %v", err)
	return vErr.Field
}

func TestParseValidForm(t *testing.T) {
	form := validForm()
	form.Signature = "data:image/png;base64," + pngBase64(t)

	rec, err := Parse(form)
	require.NoError(t, err)

	assert.Equal(t, "Dr. Ana Ruiz", rec.DoctorName)
	assert.Equal(t, "Acute sinusitis\nno fever", rec.Diagnosis)
	assert.Equal(t, "2024-03-15", rec.Date)
	require.Len(t, rec.Medicines, 1)
	assert.Equal(t, "Amoxicillin 500mg", rec.Medicines[0].Name)
	assert.True(t, bytes.HasPrefix(rec.Signature, pngMagic))
}

func TestParseRejects(t *testing.T) {
	oversized := blankPNGBase64(t, 8000, 8000)
	require.Less(t, len(oversized), MaxSignatureEncoded)

	cases := []struct {
		name   string
		mutate func(*Form)
		field  string
	}{
		{name: "missing doctor", mutate: func(f *Form) { f.DoctorName = "   " }, field: "doctorName"},
		{name: "missing patient", mutate: func(f *Form) { f.PatientName = "" }, field: "patientName"},
		{name: "long clinic", mutate: func(f *Form) { f.ClinicName = strings.Repeat("x", 121) }, field: "clinicName"},
		{name: "control char", mutate: func(f *Form) { f.PatientName = "Juan\x00" }, field: "patientName"},
		{name: "newline in single line field", mutate: func(f *Form) { f.DoctorName = "Dr.\nWho" }, field: "doctorName"},
		{name: "month out of range", mutate: func(f *Form) { f.Date = "2024-13-40" }, field: "date"},
		{name: "day out of range", mutate: func(f *Form) { f.Date = "2024-02-32" }, field: "date"},
		{name: "bad date format", mutate: func(f *Form) { f.Date = "15/03/2024" }, field: "date"},
		{name: "no medicines", mutate: func(f *Form) { f.Medicines = nil }, field: "medicines"},
		{name: "too many medicines", mutate: func(f *Form) {
			f.Medicines = make([]MedicineForm, MaxMedicines+1)
			for i := range f.Medicines {
				f.Medicines[i].Name = "x"
			}
		}, field: "medicines"},
		{name: "medicine without name", mutate: func(f *Form) { f.Medicines[0].Name = "" }, field: "medicines[0].name"},
		{name: "long dosage", mutate: func(f *Form) { f.Medicines[0].Dosage = strings.Repeat("d", 81) }, field: "medicines[0].dosage"},
		{name: "signature not base64", mutate: func(f *Form) { f.Signature = "%%%" }, field: "signature"},
		{name: "signature not png", mutate: func(f *Form) {
			f.Signature = base64.StdEncoding.EncodeToString([]byte("GIF89a not a png"))
		}, field: "signature"},
		{name: "signature wrong data url", mutate: func(f *Form) { f.Signature = "data:image/jpeg;base64,AAAA" }, field: "signature"},
		{name: "signature too large", mutate: func(f *Form) { f.Signature = strings.Repeat("A", MaxSignatureEncoded+4) }, field: "signature"},
		{name: "signature too many pixels", mutate: func(f *Form) { f.Signature = oversized }, field: "signature"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			form := validForm()
			form.Medicines = append([]MedicineForm(nil), form.Medicines...)
			tc.mutate(&form)

			_, err := Parse(form)
			require.Error(t, err)
			assert.Equal(t, tc.field, fieldOf(t, err))
		})
	}
}

func TestValidateDateBounds(t *testing.T) {
	for _, ok := range []string{"2024-01-01", "2024-12-31", "2023-02-31"} {
		_, err := ValidateDate(ok)
		assert.NoError(t, err, ok)
	}
	for _, bad := range []string{"", "2024-00-10", "2024-13-40", "2024-05-00", "24-05-01", "2024-5-1"} {
		_, err := ValidateDate(bad)
		assert.Error(t, err, bad)
	}
}

func TestDecodeSignaturePixelBudget(t *testing.T) {
	sig, err := DecodeSignature(blankPNGBase64(t, 2000, 1000))
	require.NoError(t, err)
	assert.NotEmpty(t, sig)

	_, err = DecodeSignature(blankPNGBase64(t, 2001, 1000))
	require.Error(t, err)
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "signature", vErr.Field)
}

func TestDecodeSignatureEmpty(t *testing.T) {
	sig, err := DecodeSignature("  ")
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestLengthCountsRunes(t *testing.T) {
	form := validForm()
	form.PatientName = strings.Repeat("é", 100)
	_, err := Parse(form)
	assert.NoError(t, err)
}
