package service

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/noah-isme/sma-adp-registrar/internal/models"
)

const weightTolerance = 1e-6

// LetterBand maps every score at or above Min to Letter.
type LetterBand struct {
	Min    float64 `json:"min"`
	Letter string  `json:"letter"`
}

// GradePolicy holds the component weights and the letter scale.
type GradePolicy struct {
	Weights map[models.GradeComponent]float64
	// Bands are ordered from the highest Min down.
	Bands []LetterBand
	// Floor is the letter for scores below every band.
	Floor string
}

// DefaultGradePolicy returns the standard weights and A..F scale.
func DefaultGradePolicy() GradePolicy {
	return GradePolicy{
		Weights: map[models.GradeComponent]float64{
			models.GradeComponentQuiz:       0.15,
			models.GradeComponentAssignment: 0.20,
			models.GradeComponentMidterm:    0.30,
			models.GradeComponentEndterm:    0.35,
		},
		Bands: []LetterBand{
			{Min: 90, Letter: "A"},
			{Min: 80, Letter: "A-"},
			{Min: 70, Letter: "B"},
			{Min: 60, Letter: "B-"},
			{Min: 50, Letter: "C"},
			{Min: 40, Letter: "C-"},
			{Min: 30, Letter: "D"},
		},
		Floor: "F",
	}
}

// PolicyWithWeights returns the default scale with weights parsed from
// configuration. Nil or empty weights keep the defaults.
func PolicyWithWeights(raw map[string]float64) (GradePolicy, error) {
	policy := DefaultGradePolicy()
	if len(raw) == 0 {
		return policy, nil
	}
	weights := make(map[models.GradeComponent]float64, len(raw))
	for key, w := range raw {
		component := models.GradeComponent(strings.ToUpper(key))
		if !component.Valid() {
			return GradePolicy{}, fmt.Errorf("unknown grade component %q", key)
		}
		weights[component] = w
	}
	policy.Weights = weights
	if err := policy.Validate(); err != nil {
		return GradePolicy{}, err
	}
	return policy, nil
}

// Validate checks that weights are non-negative and sum to 1 and that bands descend.
func (p GradePolicy) Validate() error {
	var sum float64
	for component, w := range p.Weights {
		if w < 0 || math.IsNaN(w) {
			return fmt.Errorf("weight for %s must be non-negative", component)
		}
		sum += w
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("grade weights must sum to 1, got %.4f", sum)
	}
	if p.Floor == "" {
		return fmt.Errorf("grade policy needs a floor letter")
	}
	if !sort.SliceIsSorted(p.Bands, func(i, j int) bool { return p.Bands[i].Min > p.Bands[j].Min }) {
		return fmt.Errorf("letter bands must be ordered from highest to lowest")
	}
	return nil
}

// GradeCalculator is a pure function of a GradePolicy.
type GradeCalculator struct {
	policy GradePolicy
}

// NewGradeCalculator constructs a calculator for policy.
func NewGradeCalculator(policy GradePolicy) *GradeCalculator {
	return &GradeCalculator{policy: policy}
}

// WeightedScore sums weight*score over the policy components; a missing
// component counts as 0. The result is rounded to 6 decimals to absorb
// float noise at band edges.
func (c *GradeCalculator) WeightedScore(scores map[models.GradeComponent]float64) float64 {
	var total float64
	for _, component := range models.GradeComponents {
		total += c.policy.Weights[component] * scores[component]
	}
	return math.Round(total*1e6) / 1e6
}

// LetterGrade maps a weighted score to its letter; band minimums are inclusive.
func (c *GradeCalculator) LetterGrade(score float64) string {
	for _, band := range c.policy.Bands {
		if score >= band.Min {
			return band.Letter
		}
	}
	return c.policy.Floor
}

// Compute returns the weighted score and letter for an entry's scores.
func (c *GradeCalculator) Compute(scores map[models.GradeComponent]float64) (float64, string) {
	weighted := c.WeightedScore(scores)
	return weighted, c.LetterGrade(weighted)
}

// FailingLetter is the letter that allows a completed course to be retaken.
func (c *GradeCalculator) FailingLetter() string {
	return c.policy.Floor
}
