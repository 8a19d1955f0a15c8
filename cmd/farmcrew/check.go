package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"farmcrew/internal/app"
	"farmcrew/internal/config"
)

func checkConfigCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate a config file without starting anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(cfgPath)
			if err != nil {
				return err
			}
			cfg, err := config.ParseBytes(cfgPath, b)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := app.ValidateConfig(ctx, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.GreenString("ok"), cfgPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config (yaml or json)")
	return cmd
}
