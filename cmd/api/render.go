package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/alexdev-tb/prescription-pdf/internal/executor"
	"github.com/alexdev-tb/prescription-pdf/internal/prescription"
)

func newRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a single prescription to PDF",
		Long:  "Validate a prescription form (JSON or YAML) and compile it with the configured compiler, without starting the server.",
		Args:  cobra.NoArgs,
		RunE:  runRender,
	}

	cmd.Flags().StringP("input", "i", "", "Form file (.json, .yaml or .yml)")
	cmd.Flags().StringP("output", "o", "prescription.pdf", "Output PDF path")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runRender(cmd *cobra.Command, _ []string) error {
	input, _ := cmd.Flags().GetString("input")
	output, _ := cmd.Flags().GetString("output")

	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	form, err := readForm(input)
	if err != nil {
		return err
	}
	rec, err := prescription.Parse(form)
	if err != nil {
		return fmt.Errorf("invalid form: %w", err)
	}

	ctx := background(cmd)
	a, err := newApp(ctx, cfg, log, executor.NewMemoryOutcomeStore(1))
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.service.Run(ctx, executor.NewJob(rec))
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, res.PDF, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d bytes (job %s, %s)\n", output, res.Size, res.JobID, res.Duration.Round(time.Millisecond))
	return nil
}

func readForm(path string) (prescription.Form, error) {
	var form prescription.Form
	raw, err := os.ReadFile(path)
	if err != nil {
		return form, fmt.Errorf("read form: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &form)
	default:
		err = json.Unmarshal(raw, &form)
	}
	if err != nil {
		return form, fmt.Errorf("decode form %s: %w", path, err)
	}
	return form, nil
}
