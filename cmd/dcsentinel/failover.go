// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func failoverCmd() *cobra.Command {
	var apiAddr string
	cmd := &cobra.Command{
		Use:   "failover <instance-uid> <target-dc>",
		Short: "Manually trigger a failover for an instance via the running supervisor's HTTP API",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			instanceUID, targetDC := args[0], args[1]
			body, err := json.Marshal(map[string]string{"target_dc": targetDC})
			if err != nil {
				return fmt.Errorf("marshal failover request: %w", err)
			}

			url := fmt.Sprintf("%s/api/v1/instances/%s/failover", apiAddr, instanceUID)
			resp, err := http.Post(url, "application/json", bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("call supervisor api: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("supervisor api returned status %d", resp.StatusCode)
			}
			fmt.Printf("failover requested: %s -> %s\n", instanceUID, targetDC)
			return nil
		},
	}
	cmd.Flags().StringVar(&apiAddr, "api", "http://localhost:8080", "base URL of a running supervisor's HTTP API")
	return cmd
}
