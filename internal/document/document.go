// Package document writes the per-job inputs the typesetting compiler reads:
// the fixed template files, a parameter fragment, the itemized medicines
// fragment and the rasterized signature.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/alexdev-tb/prescription-pdf/internal/prescription"
)

const (
	ParamsFile    = "params.typ"
	MedicinesFile = "medicines.typ"
	SignatureFile = "signature.png"
)

// paramsTemplate is filled by placeholder substitution. Values are escaped
// as Typst string literal contents before they are substituted.
const paramsTemplate = `// Generated for a single job.
#let rx = (
  doctor: (
    name: "{{DOCTOR_NAME}}",
    specialty: "{{DOCTOR_SPECIALTY}}",
    license: "{{DOCTOR_LICENSE}}",
  ),
  clinic: (
    name: "{{CLINIC_NAME}}",
    address: "{{CLINIC_ADDRESS}}",
    phone: "{{CLINIC_PHONE}}",
  ),
  patient: (
    name: "{{PATIENT_NAME}}",
    age: "{{PATIENT_AGE}}",
  ),
  date: "{{DATE}}",
  diagnosis: "{{DIAGNOSIS}}",
  notes: "{{NOTES}}",
  signature: "` + SignatureFile + `",
  has-signature: {{HAS_SIGNATURE}},
)
`

var (
	ErrTemplateMissing   = errors.New("document template missing")
	ErrSignatureTooLarge = errors.New("signature image too large")
)

type Renderer struct {
	templateDir string
	mainFile    string
}

func NewRenderer(templateDir, mainFile string) *Renderer {
	if strings.TrimSpace(mainFile) == "" {
		mainFile = "main.typ"
	}
	return &Renderer{templateDir: templateDir, mainFile: mainFile}
}

// Check verifies the template directory holds the main file.
func (r *Renderer) Check() error {
	info, err := os.Stat(filepath.Join(r.templateDir, r.mainFile))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTemplateMissing, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrTemplateMissing, r.mainFile)
	}
	return nil
}

// Prepare populates dir, which must already exist and be owned by the caller.
func (r *Renderer) Prepare(dir string, rec prescription.Record) error {
	if err := r.Check(); err != nil {
		return err
	}
	if err := copyTree(r.templateDir, dir); err != nil {
		return fmt.Errorf("copy template: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ParamsFile), []byte(Params(rec)), 0o644); err != nil {
		return fmt.Errorf("write params: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MedicinesFile), []byte(Medicines(rec.Medicines)), 0o644); err != nil {
		return fmt.Errorf("write medicines: %w", err)
	}
	sig, err := RasterizeSignature(rec.Signature)
	if err != nil {
		return fmt.Errorf("rasterize signature: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, SignatureFile), sig, 0o644); err != nil {
		return fmt.Errorf("write signature: %w", err)
	}
	return nil
}

// Params renders the parameter fragment for rec.
func Params(rec prescription.Record) string {
	replacer := strings.NewReplacer(
		"{{DOCTOR_NAME}}", Escape(rec.DoctorName),
		"{{DOCTOR_SPECIALTY}}", Escape(rec.DoctorSpecialty),
		"{{DOCTOR_LICENSE}}", Escape(rec.DoctorLicense),
		"{{CLINIC_NAME}}", Escape(rec.ClinicName),
		"{{CLINIC_ADDRESS}}", Escape(rec.ClinicAddress),
		"{{CLINIC_PHONE}}", Escape(rec.ClinicPhone),
		"{{PATIENT_NAME}}", Escape(rec.PatientName),
		"{{PATIENT_AGE}}", Escape(rec.PatientAge),
		"{{DATE}}", Escape(rec.Date),
		"{{DIAGNOSIS}}", Escape(rec.Diagnosis),
		"{{NOTES}}", Escape(rec.Notes),
		"{{HAS_SIGNATURE}}", strconv.FormatBool(len(rec.Signature) > 0),
	)
	return replacer.Replace(paramsTemplate)
}

// Medicines renders the itemized list as a Typst array of dictionaries.
func Medicines(items []prescription.Medicine) string {
	var b strings.Builder
	b.WriteString("// Generated for a single job.\n#let medicines = (\n")
	for _, m := range items {
		fmt.Fprintf(&b, "  (name: \"%s\", dosage: \"%s\", frequency: \"%s\", duration: \"%s\", quantity: \"%s\"),\n",
			Escape(m.Name), Escape(m.Dosage), Escape(m.Frequency), Escape(m.Duration), Escape(m.Quantity))
	}
	b.WriteString(")\n")
	return b.String()
}

// Escape makes s safe to place between double quotes in a Typst string
// literal.
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// RasterizeSignature re-encodes src as a plain RGBA PNG, dropping ancillary
// chunks. Images over prescription.MaxSignaturePixels are refused before
// decoding. A nil src yields a 1x1 transparent image so templates can always
// reference the file.
func RasterizeSignature(src []byte) ([]byte, error) {
	var rgba *image.RGBA
	if len(src) == 0 {
		rgba = image.NewRGBA(image.Rect(0, 0, 1, 1))
	} else {
		cfg, err := png.DecodeConfig(bytes.NewReader(src))
		if err != nil {
			return nil, err
		}
		if int64(cfg.Width)*int64(cfg.Height) > prescription.MaxSignaturePixels {
			return nil, fmt.Errorf("%w: %dx%d", ErrSignatureTooLarge, cfg.Width, cfg.Height)
		}
		img, err := png.Decode(bytes.NewReader(src))
		if err != nil {
			return nil, err
		}
		bounds := img.Bounds()
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, rgba); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			if rel == "." {
				return nil
			}
			return os.MkdirAll(target, 0o755)
		case d.Type().IsRegular():
			return copyFile(path, target)
		default:
			// symlinks and devices are not part of a template
			return nil
		}
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
