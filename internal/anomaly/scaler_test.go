// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package anomaly

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStandardScaler_FitTransformNormalizesToZeroMean(t *testing.T) {
	samples := [][FeatureCount]float64{
		{10, 50, 0.9, 0.1, 0.1, 0, 0, 5},
		{20, 60, 0.8, 0.2, 0.2, 0, 0, 10},
		{30, 70, 0.7, 0.3, 0.3, 0, 0, 15},
	}
	var scaler StandardScaler
	scaler.Fit(samples)

	assert.InDelta(t, 20, scaler.Mean[0], 1e-9)

	transformed := scaler.Transform(samples[1])
	// The middle sample sits exactly on the mean for a uniformly spaced series.
	assert.InDelta(t, 0, transformed[0], 1e-9)
}

func TestStandardScaler_ConstantFeatureAvoidsDivideByZero(t *testing.T) {
	samples := [][FeatureCount]float64{
		{5, 0, 0, 0, 0, 0, 0, 0},
		{5, 0, 0, 0, 0, 0, 0, 0},
		{5, 0, 0, 0, 0, 0, 0, 0},
	}
	var scaler StandardScaler
	scaler.Fit(samples)
	assert.Equal(t, 1.0, scaler.StdDev[0])

	transformed := scaler.Transform([FeatureCount]float64{5, 0, 0, 0, 0, 0, 0, 0})
	assert.Equal(t, 0.0, transformed[0])
}

func TestStandardScaler_EmptyFitLeavesZeroValue(t *testing.T) {
	var scaler StandardScaler
	scaler.Fit(nil)
	assert.Equal(t, StandardScaler{}, scaler)
}
