package model

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WessleyAI/wessley-health/engine/domain"
)

func binary() *Logistic {
	return &Logistic{
		FeatureNames: []string{"age", "chol"},
		ClassNames:   []string{"no disease", "disease"},
		Coef:         [][]float64{{0.1, 0}},
		Intercept:    []float64{-5},
	}
}

func TestPredictProba_Binary(t *testing.T) {
	m := binary()
	probs, err := m.PredictProba([][]float64{{50, 200}, {70, 200}})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, probs[0][1], 1e-9)
	assert.InDelta(t, 1.0, probs[0][0]+probs[0][1], 1e-12)
	assert.Greater(t, probs[1][1], 0.8)
}

func TestPredict_Multinomial(t *testing.T) {
	m := &Logistic{
		FeatureNames: []string{"x"},
		Coef:         [][]float64{{-1}, {0}, {1}},
		Intercept:    []float64{0, 0, 0},
	}
	k, p, err := m.Predict([]float64{3})
	require.NoError(t, err)
	assert.Equal(t, 2, k)
	assert.Greater(t, p, 0.9)
	assert.Equal(t, "class_2", m.ClassName(k))
}

func TestPredictProba_WrongWidth(t *testing.T) {
	_, err := binary().PredictProba([][]float64{{1}})
	var ve *domain.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.ErrorIs(t, err, domain.ErrInvalidShape)
}

func TestRow_DropsTarget(t *testing.T) {
	m := binary()
	m.FeatureNames = append(m.FeatureNames, TargetColumn)
	x, err := m.Row(map[string]float64{"age": 63, "chol": 233})
	require.NoError(t, err)
	assert.Equal(t, []float64{63, 233, 0}, x)

	_, err = m.Row(map[string]float64{"age": 63})
	assert.ErrorIs(t, err, domain.ErrRequired)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "model.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"feature_names":["a"],"class_names":["n","y"],"coef":[[2]],"intercept":[0]}`), 0o644))
	m, err := Load(good)
	require.NoError(t, err)
	_, p, err := m.Predict([]float64{0})
	require.NoError(t, err)
	assert.False(t, math.IsNaN(p))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"feature_names":["a","b"],"coef":[[2]],"intercept":[0]}`), 0o644))
	_, err = Load(bad)
	assert.ErrorIs(t, err, domain.ErrInvalidShape)
}
