// Package meta closes the loop between observed outcomes and the
// scheduler's tuning. The evaluator scores recent efficacy, the
// adapter picks a strategy mode, and the tuner publishes the
// runtime parameters the mode maps to.
package meta

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"ain/internal/types"
)

// EfficacyStatus bands the efficacy score.
type EfficacyStatus string

const (
	StatusHighEfficacy EfficacyStatus = "high_efficacy"
	StatusUncertain    EfficacyStatus = "uncertain"
	StatusLowEfficacy  EfficacyStatus = "low_efficacy"
)

// Complexity tags the evaluation context, usually derived from the
// last evolution target.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Observation is the raw material one meta cycle scores: the recent
// outcome window, supporting memories, and the shape of the last
// evolution target.
type Observation struct {
	RecentOutcomes  []bool // newest last, true = success
	SimilarMemories int
	TargetProtected bool
	TargetLines     int
	TargetIsNew     bool
	ErrorCount      int
	Complexity      Complexity
}

// Evaluation is the evaluator's verdict.
type Evaluation struct {
	ConfidenceScore float64        `json:"confidence_score"`
	EfficacyScore   float64        `json:"efficacy_score"`
	Status          EfficacyStatus `json:"status"`
	Factors         []string       `json:"factors"`
}

// largeFileLines is the size above which a target drags the score.
const largeFileLines = 200

// Evaluator scores an observation into an efficacy verdict. Stateless;
// the zero value is ready to use.
type Evaluator struct{}

// Evaluate starts from a neutral 0.5 and applies the weighted factors:
// recent success rate scaled into [-0.2, +0.2], +0.2 for supporting
// memories, -0.3 for a protected target, -0.15 above 200 lines, +0.1
// for a new file. The result is clamped to [0,1] and banded.
func (e *Evaluator) Evaluate(obs Observation) Evaluation {
	score := 0.5
	var factors []string

	if n := len(obs.RecentOutcomes); n > 0 {
		rate := stat.Mean(outcomeSeries(obs.RecentOutcomes), nil)
		adj := 0.4 * (rate - 0.5)
		score += adj
		factors = append(factors, fmt.Sprintf("success_rate=%.2f (%+.2f)", rate, adj))
	}
	if obs.SimilarMemories > 0 {
		score += 0.2
		factors = append(factors, fmt.Sprintf("similar_memories=%d (+0.20)", obs.SimilarMemories))
	}
	if obs.TargetProtected {
		score -= 0.3
		factors = append(factors, "target_protected (-0.30)")
	}
	if obs.TargetLines > largeFileLines {
		score -= 0.15
		factors = append(factors, fmt.Sprintf("target_lines=%d (-0.15)", obs.TargetLines))
	}
	if obs.TargetIsNew {
		score += 0.1
		factors = append(factors, "new_file (+0.10)")
	}

	score = types.Clamp01(score)
	return Evaluation{
		ConfidenceScore: e.confidence(obs),
		EfficacyScore:   score,
		Status:          statusFor(score),
		Factors:         factors,
	}
}

// confidence reflects how much evidence backs the score: it grows with
// the outcome window and supporting memories, and shrinks when the
// window is noisy.
func (e *Evaluator) confidence(obs Observation) float64 {
	c := 0.5

	series := outcomeSeries(obs.RecentOutcomes)
	if bonus := 0.05 * float64(len(series)); bonus > 0.3 {
		c += 0.3
	} else {
		c += bonus
	}
	if bonus := 0.05 * float64(obs.SimilarMemories); bonus > 0.2 {
		c += 0.2
	} else {
		c += bonus
	}
	if len(series) >= 2 {
		c -= 0.4 * stat.StdDev(series, nil)
	}

	return types.Clamp01(c)
}

func statusFor(score float64) EfficacyStatus {
	switch {
	case score >= 0.7:
		return StatusHighEfficacy
	case score >= 0.4:
		return StatusUncertain
	default:
		return StatusLowEfficacy
	}
}

func outcomeSeries(outcomes []bool) []float64 {
	series := make([]float64, len(outcomes))
	for i, ok := range outcomes {
		if ok {
			series[i] = 1
		}
	}
	return series
}
