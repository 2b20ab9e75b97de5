// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	var apiAddr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show instance health as reported by a running supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(apiAddr + "/api/v1/instances")
			if err != nil {
				return fmt.Errorf("call supervisor api: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("supervisor api returned status %d", resp.StatusCode)
			}
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read supervisor api response: %w", err)
			}

			var instances []map[string]any
			if err := json.Unmarshal(body, &instances); err != nil {
				fmt.Println(string(body))
				return nil
			}
			out, err := json.MarshalIndent(instances, "", "  ")
			if err != nil {
				return fmt.Errorf("format status output: %w", err)
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&apiAddr, "api", "http://localhost:8080", "base URL of a running supervisor's HTTP API")
	return cmd
}
