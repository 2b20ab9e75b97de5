// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "github.com/dcsentinel/agent/internal/config"
)

func TestConfigValidateCmd_PrintsDatacenterAndInstanceCounts(t *testing.T) {
	origCfg, origPath := cfg, configPath
	defer func() { cfg, configPath = origCfg, origPath }()

	configPath = "/etc/dcsentinel/config.json"
	cfg = &cfgpkg.Config{
		Datacenters: []cfgpkg.Datacenter{{Name: "us-east", Suffix: "use1"}},
		Instances:   []cfgpkg.Instance{{UID: "inst-1", Name: "cache-primary", ActiveDC: "us-east"}},
	}

	root := configCmd()
	validate, _, err := root.Find([]string{"validate"})
	require.NoError(t, err)

	out := captureStdout(t, func() {
		require.NoError(t, validate.RunE(validate, nil))
	})
	assert.Contains(t, out, "1 datacenters")
	assert.Contains(t, out, "1 instances")
}
