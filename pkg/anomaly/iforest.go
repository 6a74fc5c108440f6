// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package anomaly

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// eulerMascheroni is used by the isolation-forest path-length normalizer.
const eulerMascheroni = 0.5772156649015329

// ForestConfig tunes the isolation-forest detector.
type ForestConfig struct {
	// Contamination is the expected anomaly fraction. It is carried for
	// configuration compatibility; scoring uses the fixed 0.5 split.
	Contamination float64
	// NEstimators is the number of trees grown at fit time.
	NEstimators int
	// MaxSamples caps the subsample each tree is grown from.
	MaxSamples int
	// Seed fixes the tree randomness. Zero seeds from the wall clock.
	Seed int64
}

// DefaultForestConfig returns the stock isolation-forest tuning.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{Contamination: 0.1, NEstimators: 100, MaxSamples: 256}
}

// IsolationForestDetector scores feature vectors by how few random splits it
// takes to isolate them from the training sample. Scores live in [0,1] and
// values above 0.5 denote an anomaly. The detector is inert until Fit runs.
type IsolationForestDetector struct {
	cfg ForestConfig
	rng *rand.Rand

	names  []string
	trees  []*isoTree
	offset float64
	fitted bool
}

// NewIsolationForestDetector returns an unfitted detector. Zero or negative
// config values fall back to the defaults.
func NewIsolationForestDetector(cfg ForestConfig) *IsolationForestDetector {
	def := DefaultForestConfig()
	if cfg.Contamination <= 0 {
		cfg.Contamination = def.Contamination
	}
	if cfg.NEstimators <= 0 {
		cfg.NEstimators = def.NEstimators
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = def.MaxSamples
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &IsolationForestDetector{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// IsFitted reports whether Fit has run.
func (d *IsolationForestDetector) IsFitted() bool {
	return d.fitted
}

// FeatureNames returns the vector layout fixed at fit time.
func (d *IsolationForestDetector) FeatureNames() []string {
	return append([]string(nil), d.names...)
}

// Fit grows the ensemble from feature samples. names fixes the vector layout
// used for scoring; a nil names slice takes the sorted keys of the first
// sample. Features missing from a sample contribute zero.
func (d *IsolationForestDetector) Fit(samples []map[string]float64, names []string) error {
	if len(samples) == 0 {
		return errors.New("no training samples")
	}
	if len(names) == 0 {
		names = make([]string, 0, len(samples[0]))
		for name := range samples[0] {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	if len(names) == 0 {
		return errors.New("no features to train on")
	}

	rows := make([][]float64, len(samples))
	for i, sample := range samples {
		row := make([]float64, len(names))
		for j, name := range names {
			row[j] = sample[name]
		}
		rows[i] = row
	}

	sampleSize := d.cfg.MaxSamples
	if sampleSize > len(rows) {
		sampleSize = len(rows)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sampleSize))))
	if maxDepth < 1 {
		maxDepth = 1
	}

	trees := make([]*isoTree, d.cfg.NEstimators)
	sub := make([][]float64, sampleSize)
	for i := range trees {
		for j, idx := range d.rng.Perm(len(rows))[:sampleSize] {
			sub[j] = rows[idx]
		}
		trees[i] = growTree(sub, 0, maxDepth, d.rng)
	}

	d.names = append([]string(nil), names...)
	d.trees = trees
	d.offset = averagePathLength(float64(sampleSize))
	d.fitted = true
	return nil
}

// Score returns the isolation score of a vector laid out per FeatureNames.
func (d *IsolationForestDetector) Score(vector []float64) float64 {
	if !d.fitted || len(d.trees) == 0 || d.offset == 0 {
		return 0
	}
	var total float64
	for _, tree := range d.trees {
		total += tree.pathLength(vector, 0)
	}
	mean := total / float64(len(d.trees))
	return math.Pow(2, -mean/d.offset)
}

// ForestResult is the isolation-forest verdict for one feature vector.
type ForestResult struct {
	IsAnomaly bool    `json:"is_anomaly"`
	Score     float64 `json:"anomaly_score"`
	Unfitted  bool    `json:"unfitted,omitempty"`
}

// Detect assembles the fit-time feature vector from the map and scores it.
// Before Fit it returns a neutral result with Unfitted set.
func (d *IsolationForestDetector) Detect(features map[string]float64) *ForestResult {
	if !d.fitted {
		return &ForestResult{Unfitted: true}
	}
	vector := make([]float64, len(d.names))
	for i, name := range d.names {
		vector[i] = features[name]
	}
	score := d.Score(vector)
	return &ForestResult{IsAnomaly: score > 0.5, Score: score}
}

// Reset discards the ensemble, returning the detector to its unfitted state.
func (d *IsolationForestDetector) Reset() {
	d.names = nil
	d.trees = nil
	d.offset = 0
	d.fitted = false
}

// isoTree is one random isolation tree. Leaves have a nil left child and
// carry the size of the population they hold.
type isoTree struct {
	feature int
	split   float64
	size    int
	left    *isoTree
	right   *isoTree
}

func growTree(rows [][]float64, depth, maxDepth int, rng *rand.Rand) *isoTree {
	if depth >= maxDepth || len(rows) <= 1 {
		return &isoTree{size: len(rows)}
	}

	// Collect features that still vary within this partition.
	dims := len(rows[0])
	candidates := make([]int, 0, dims)
	for j := 0; j < dims; j++ {
		lo, hi := rows[0][j], rows[0][j]
		for _, row := range rows[1:] {
			if row[j] < lo {
				lo = row[j]
			}
			if row[j] > hi {
				hi = row[j]
			}
		}
		if hi > lo {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return &isoTree{size: len(rows)}
	}

	feature := candidates[rng.Intn(len(candidates))]
	lo, hi := rows[0][feature], rows[0][feature]
	for _, row := range rows[1:] {
		if row[feature] < lo {
			lo = row[feature]
		}
		if row[feature] > hi {
			hi = row[feature]
		}
	}
	split := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, row := range rows {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isoTree{size: len(rows)}
	}

	return &isoTree{
		feature: feature,
		split:   split,
		left:    growTree(left, depth+1, maxDepth, rng),
		right:   growTree(right, depth+1, maxDepth, rng),
	}
}

func (t *isoTree) pathLength(vector []float64, depth int) float64 {
	if t.left == nil {
		return float64(depth) + averagePathLength(float64(t.size))
	}
	if vector[t.feature] < t.split {
		return t.left.pathLength(vector, depth+1)
	}
	return t.right.pathLength(vector, depth+1)
}

// averagePathLength is c(n), the expected path length of an unsuccessful
// search in a binary search tree over n points.
func averagePathLength(n float64) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		return 2*(math.Log(n-1)+eulerMascheroni) - 2*(n-1)/n
	}
}
