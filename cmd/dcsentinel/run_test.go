// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "github.com/dcsentinel/agent/internal/config"
)

func TestBuildDNSExecutor_UnsupportedProviderErrors(t *testing.T) {
	cfg := &cfgpkg.Config{DNSProvider: "bogus"}
	_, err := buildDNSExecutor(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported dns_provider")
}

func TestDatacentersFromConfig_MapsByName(t *testing.T) {
	cfg := &cfgpkg.Config{
		Datacenters: []cfgpkg.Datacenter{
			{Name: "us-east", Suffix: "use1", Region: "virginia"},
			{Name: "us-west", Suffix: "usw1", Region: "oregon"},
		},
	}
	dcs := datacentersFromConfig(cfg)
	require.Len(t, dcs, 2)
	assert.Equal(t, "virginia", dcs["us-east"].Region)
	assert.Equal(t, "usw1", dcs["us-west"].Suffix)
}
