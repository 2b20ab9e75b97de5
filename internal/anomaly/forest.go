// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package anomaly implements a from-scratch isolation-forest-style
// unsupervised outlier detector over per-instance metric feature vectors.
// No third-party machine learning library exists anywhere in the
// reference ecosystem for this, so the ensemble and scoring math below
// are hand-implemented Go rather than a wired dependency (see DESIGN.md).
package anomaly

import (
	"math"
	"math/rand"
)

// NumTrees is the ensemble size, matching n_estimators=100 from the
// reference implementation.
const NumTrees = 100

// maxSubsampleSize mirrors max_samples="auto" (min(256, n_samples)).
const maxSubsampleSize = 256

// eulerMascheroni is used in the average-path-length normalization constant.
const eulerMascheroni = 0.5772156649

type node struct {
	// leaf nodes have no children and record the subsample size that
	// reached them, used for the path-length adjustment term.
	leafSize int
	isLeaf   bool

	splitFeature int
	splitValue   float64
	left, right  *node
}

// Forest is a fitted isolation-forest-style ensemble.
type Forest struct {
	trees         []*node
	subsampleSize int
}

// Fit builds NumTrees isolation trees, each over an independently sampled
// subset of size min(maxSubsampleSize, len(samples)).
func Fit(samples [][FeatureCount]float64, rng *rand.Rand) *Forest {
	n := len(samples)
	subsampleSize := n
	if subsampleSize > maxSubsampleSize {
		subsampleSize = maxSubsampleSize
	}
	heightLimit := ceilLog2(subsampleSize)

	f := &Forest{subsampleSize: subsampleSize}
	for i := 0; i < NumTrees; i++ {
		subsample := sampleWithoutReplacement(samples, subsampleSize, rng)
		f.trees = append(f.trees, buildTree(subsample, 0, heightLimit, rng))
	}
	return f
}

func sampleWithoutReplacement(samples [][FeatureCount]float64, k int, rng *rand.Rand) [][FeatureCount]float64 {
	idx := rng.Perm(len(samples))[:k]
	out := make([][FeatureCount]float64, k)
	for i, j := range idx {
		out[i] = samples[j]
	}
	return out
}

func buildTree(samples [][FeatureCount]float64, depth, heightLimit int, rng *rand.Rand) *node {
	if depth >= heightLimit || len(samples) <= 1 {
		return &node{isLeaf: true, leafSize: len(samples)}
	}

	feature, ok := randomSplittableFeature(samples, rng)
	if !ok {
		return &node{isLeaf: true, leafSize: len(samples)}
	}

	lo, hi := featureRange(samples, feature)
	splitValue := lo + rng.Float64()*(hi-lo)

	var left, right [][FeatureCount]float64
	for _, s := range samples {
		if s[feature] < splitValue {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &node{isLeaf: true, leafSize: len(samples)}
	}

	return &node{
		splitFeature: feature,
		splitValue:   splitValue,
		left:         buildTree(left, depth+1, heightLimit, rng),
		right:        buildTree(right, depth+1, heightLimit, rng),
	}
}

// randomSplittableFeature picks a uniformly random feature whose values
// are not all identical across samples; returns ok=false if every feature
// is constant (samples are indistinguishable).
func randomSplittableFeature(samples [][FeatureCount]float64, rng *rand.Rand) (int, bool) {
	order := rng.Perm(FeatureCount)
	for _, f := range order {
		lo, hi := featureRange(samples, f)
		if hi > lo {
			return f, true
		}
	}
	return 0, false
}

func featureRange(samples [][FeatureCount]float64, feature int) (lo, hi float64) {
	lo, hi = samples[0][feature], samples[0][feature]
	for _, s := range samples[1:] {
		if s[feature] < lo {
			lo = s[feature]
		}
		if s[feature] > hi {
			hi = s[feature]
		}
	}
	return lo, hi
}

// pathLength returns the number of edges traversed to reach a leaf, plus
// the expected-path-length adjustment for the samples that stopped short
// of being fully isolated.
func pathLength(n *node, x [FeatureCount]float64, depth int) float64 {
	if n.isLeaf {
		return float64(depth) + averagePathLengthC(n.leafSize)
	}
	if x[n.splitFeature] < n.splitValue {
		return pathLength(n.left, x, depth+1)
	}
	return pathLength(n.right, x, depth+1)
}

// averagePathLengthC is c(n): the expected path length of an unsuccessful
// BST search with n nodes, used to normalize tree depth into a score.
func averagePathLengthC(n int) float64 {
	if n <= 1 {
		return 0
	}
	return 2*(harmonicApprox(float64(n-1))+eulerMascheroni) - 2*float64(n-1)/float64(n)
}

func harmonicApprox(x float64) float64 {
	return math.Log(x) // H(n-1) ~= ln(n-1) for the purposes of this normalization
}

// Score returns the raw anomaly score in (0,1]: values near 1 indicate a
// short average path length (few splits needed to isolate the point,
// i.e. an outlier); values near 0.5 indicate an average, unremarkable
// point nestled among many others.
func (f *Forest) Score(x [FeatureCount]float64) float64 {
	var total float64
	for _, tree := range f.trees {
		total += pathLength(tree, x, 0)
	}
	avgPathLength := total / float64(len(f.trees))
	c := averagePathLengthC(f.subsampleSize)
	if c == 0 {
		return 0.5
	}
	return math.Pow(2, -avgPathLength/c)
}

func ceilLog2(n int) int {
	if n <= 1 {
		return 0
	}
	h := 0
	v := 1
	for v < n {
		v *= 2
		h++
	}
	return h
}
