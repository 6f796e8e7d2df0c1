package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexdev-tb/prescription-pdf/internal/auth"
)

func newAccessCodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "access-code",
		Short: "Print the access code the server expects in " + auth.HeaderName,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), auth.EffectiveCode(cfg.Auth.Code, auth.CurrentIdentity()))
			return nil
		},
	}
}
