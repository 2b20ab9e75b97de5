// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command dcsentinel runs the multi-datacenter health supervisor, or
// drives a one-off operation (manual failover, status, config
// validation) against a running instance's configuration.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	cfgpkg "github.com/dcsentinel/agent/internal/config"
)

var (
	configPath string
	cfg        *cfgpkg.Config
)

func main() {
	root := &cobra.Command{
		Use:   "dcsentinel",
		Short: "Multi-datacenter health supervisor for replicated key-value stores",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := cfgpkg.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = loaded
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "/etc/dcsentinel/config.json", "path to the supervisor config file")

	root.AddCommand(runCmd(), failoverCmd(), statusCmd(), configCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
