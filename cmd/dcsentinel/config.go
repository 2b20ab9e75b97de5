// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate the supervisor configuration",
	}
	root.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load the config file and report any validation errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			// cfg is already populated by the root command's
			// PersistentPreRunE, which calls config.Load and fails the
			// same way validate would.
			fmt.Printf("config at %s is valid: %d datacenters, %d instances\n", configPath, len(cfg.Datacenters), len(cfg.Instances))
			return nil
		},
	})
	return root
}
