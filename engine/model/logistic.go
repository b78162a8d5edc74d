// Package model loads the trained tabular classifier and scores patient rows.
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/WessleyAI/wessley-health/engine/domain"
)

// TargetColumn is the label column dropped from incoming rows.
const TargetColumn = "target"

// Logistic is a (multinomial) logistic regression exported as plain
// coefficients. A single coefficient row means a binary model whose row
// scores the second class.
type Logistic struct {
	FeatureNames []string    `json:"feature_names"`
	ClassNames   []string    `json:"class_names"`
	Coef         [][]float64 `json:"coef"`
	Intercept    []float64   `json:"intercept"`
}

// Load reads a Logistic model from a JSON file.
func Load(path string) (*Logistic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("model: read %s: %w", path, err)
	}
	var m Logistic
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("model: decode %s: %w", path, err)
	}
	if err := m.check(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Logistic) check() error {
	if len(m.Coef) == 0 || len(m.Coef) != len(m.Intercept) {
		return fmt.Errorf("model: %d coefficient rows, %d intercepts: %w", len(m.Coef), len(m.Intercept), domain.ErrInvalidShape)
	}
	for i, row := range m.Coef {
		if len(row) != len(m.FeatureNames) {
			return fmt.Errorf("model: coef row %d has %d weights for %d features: %w", i, len(row), len(m.FeatureNames), domain.ErrInvalidShape)
		}
	}
	if want := m.numClasses(); len(m.ClassNames) != 0 && len(m.ClassNames) != want {
		return fmt.Errorf("model: %d class names for %d classes: %w", len(m.ClassNames), want, domain.ErrInvalidShape)
	}
	return nil
}

func (m *Logistic) numClasses() int {
	if len(m.Coef) == 1 {
		return 2
	}
	return len(m.Coef)
}

// NumFeatures is the expected row width.
func (m *Logistic) NumFeatures() int { return len(m.FeatureNames) }

// PredictProba returns class probabilities for every row.
func (m *Logistic) PredictProba(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, x := range rows {
		if len(x) != len(m.FeatureNames) {
			return nil, domain.NewValidationError("instance", fmt.Sprintf("row %d has %d values, want %d", i, len(x), len(m.FeatureNames)), domain.ErrInvalidShape)
		}
		out[i] = m.proba(x)
	}
	return out, nil
}

func (m *Logistic) proba(x []float64) []float64 {
	if len(m.Coef) == 1 {
		p := sigmoid(dot(m.Coef[0], x) + m.Intercept[0])
		return []float64{1 - p, p}
	}
	scores := make([]float64, len(m.Coef))
	maxScore := math.Inf(-1)
	for k, w := range m.Coef {
		scores[k] = dot(w, x) + m.Intercept[k]
		maxScore = math.Max(maxScore, scores[k])
	}
	var sum float64
	for k := range scores {
		scores[k] = math.Exp(scores[k] - maxScore)
		sum += scores[k]
	}
	for k := range scores {
		scores[k] /= sum
	}
	return scores
}

// Predict returns the most probable class index and its probability.
func (m *Logistic) Predict(x []float64) (int, float64, error) {
	probs, err := m.PredictProba([][]float64{x})
	if err != nil {
		return 0, 0, err
	}
	best := 0
	for k, p := range probs[0] {
		if p > probs[0][best] {
			best = k
		}
	}
	return best, probs[0][best], nil
}

// ClassName returns the label for a class index.
func (m *Logistic) ClassName(k int) string {
	if k >= 0 && k < len(m.ClassNames) {
		return m.ClassNames[k]
	}
	return fmt.Sprintf("class_%d", k)
}

// Row orders a named single-row table by the model's feature names. The
// target column is ignored; any other missing feature is a validation error.
func (m *Logistic) Row(table map[string]float64) ([]float64, error) {
	x := make([]float64, len(m.FeatureNames))
	for i, name := range m.FeatureNames {
		if name == TargetColumn {
			continue
		}
		v, ok := table[name]
		if !ok {
			return nil, domain.NewValidationError(name, "", domain.ErrRequired)
		}
		x[i] = v
	}
	return x, nil
}

func dot(w, x []float64) float64 {
	var s float64
	for i := range w {
		s += w[i] * x[i]
	}
	return s
}

func sigmoid(z float64) float64 { return 1 / (1 + math.Exp(-z)) }
