// SPDX-License-Identifier: EPL-2.0

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := json.MarshalIndent(a.v.AllSettings(), "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	})

	// loading and validation already happened in the root pre-run
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file and environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src := "defaults and environment"
			if f := a.v.ConfigFileUsed(); f != "" {
				src = f
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "configuration OK (%s)\n", src)
			return err
		},
	})
	return cmd
}
