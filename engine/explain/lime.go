package explain

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/WessleyAI/wessley-health/engine/domain"
)

// PredictFunc scores rows and returns per-class probabilities.
type PredictFunc func(rows [][]float64) ([][]float64, error)

// Contribution is one explained feature as the explainer reports it.
type Contribution struct {
	Description string
	Weight      float64
}

// Explainer produces contributions for one instance, sorted by descending
// absolute weight.
type Explainer interface {
	Explain(ctx context.Context, instance []float64, predict PredictFunc) ([]Contribution, error)
}

// Options tunes the local explanation.
type Options struct {
	NumSamples  int
	NumFeatures int
	Label       int
	KernelWidth float64 // 0 means 0.75 * sqrt(#features)
	Seed        uint64
}

// DefaultOptions returns the stock tabular settings.
func DefaultOptions() Options {
	return Options{
		NumSamples:  5000,
		NumFeatures: 10,
		Label:       1,
		Seed:        1,
	}
}

const (
	selectionAlpha = 0.01
	fitAlpha       = 1.0
)

// featureSpace describes how one feature is bucketed and resampled.
type featureSpace struct {
	values []float64 // bucket index (continuous) or category value
	freqs  []float64
	q      *quartiles // nil for categorical features
}

// LimeExplainer fits a weighted linear surrogate around an instance using
// neighbours drawn from the training distribution.
type LimeExplainer struct {
	params Params
	opts   Options
	space  []featureSpace
}

var _ Explainer = (*LimeExplainer)(nil)

// NewLime prepares the explainer from the training distribution.
func NewLime(train *mat.Dense, params Params, opts Options) (*LimeExplainer, error) {
	if params.Mode != "" && params.Mode != "classification" {
		return nil, fmt.Errorf("explain: mode %q not supported", params.Mode)
	}
	rows, cols := train.Dims()
	if rows == 0 {
		return nil, fmt.Errorf("explain: empty training data: %w", domain.ErrInvalidShape)
	}
	if len(params.FeatureNames) != cols {
		return nil, fmt.Errorf("explain: %d feature names for %d columns: %w", len(params.FeatureNames), cols, domain.ErrInvalidShape)
	}
	def := DefaultOptions()
	if opts.NumSamples <= 1 {
		opts.NumSamples = def.NumSamples
	}
	if opts.NumFeatures <= 0 {
		opts.NumFeatures = def.NumFeatures
	}
	if opts.KernelWidth <= 0 {
		opts.KernelWidth = 0.75 * math.Sqrt(float64(cols))
	}

	e := &LimeExplainer{params: params, opts: opts, space: make([]featureSpace, cols)}
	for f := range cols {
		col := mat.Col(nil, f, train)
		var fs featureSpace
		if !params.IsCategorical(f) {
			fs.q = newQuartiles(params.FeatureNames[f], col)
			for i, v := range col {
				col[i] = float64(fs.q.bin(v))
			}
		}
		fs.values, fs.freqs = frequencies(col)
		e.space[f] = fs
	}
	return e, nil
}

// Explain samples neighbours of instance, scores them with predict, and fits
// the surrogate for the configured label.
func (e *LimeExplainer) Explain(ctx context.Context, instance []float64, predict PredictFunc) ([]Contribution, error) {
	nf := len(e.space)
	if len(instance) != nf {
		return nil, domain.NewValidationError("instance", fmt.Sprintf("len=%d want=%d", len(instance), nf), domain.ErrInvalidShape)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := rand.New(rand.NewPCG(e.opts.Seed, e.opts.Seed^0x9e3779b97f4a7c15))
	n := e.opts.NumSamples

	first := make([]float64, nf)
	for f, fs := range e.space {
		first[f] = instance[f]
		if fs.q != nil {
			first[f] = float64(fs.q.bin(instance[f]))
		}
	}

	binary := mat.NewDense(n, nf, nil)
	inverse := make([][]float64, n)
	inverse[0] = append([]float64(nil), instance...)
	for f := range nf {
		binary.Set(0, f, 1)
	}
	for i := 1; i < n; i++ {
		row := make([]float64, nf)
		for f, fs := range e.space {
			v := fs.values[pick(r, fs.freqs)]
			if v == first[f] {
				binary.Set(i, f, 1)
			}
			if fs.q != nil {
				v = fs.q.sample(r, int(v))
			}
			row[f] = v
		}
		inverse[i] = row
	}

	weights := make([]float64, n)
	for i := range n {
		var d2 float64
		for f := range nf {
			diff := binary.At(i, f) - 1
			d2 += diff * diff
		}
		weights[i] = math.Sqrt(math.Exp(-d2 / (e.opts.KernelWidth * e.opts.KernelWidth)))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	probs, err := predict(inverse)
	if err != nil {
		return nil, fmt.Errorf("explain: predict: %w", err)
	}
	if len(probs) != n {
		return nil, fmt.Errorf("explain: predict returned %d rows for %d samples: %w", len(probs), n, domain.ErrInvalidShape)
	}
	target := make([]float64, n)
	for i, p := range probs {
		if e.opts.Label >= len(p) {
			return nil, fmt.Errorf("explain: label %d out of range for %d classes: %w", e.opts.Label, len(p), domain.ErrInvalidShape)
		}
		target[i] = p[e.opts.Label]
	}

	used, err := e.highestWeights(binary, target, weights)
	if err != nil {
		return nil, err
	}
	sub := columns(binary, used)
	coef, _, err := ridge(sub, target, weights, fitAlpha)
	if err != nil {
		return nil, fmt.Errorf("explain: fit surrogate: %w", err)
	}

	out := make([]Contribution, len(used))
	for i, f := range used {
		out[i] = Contribution{Description: e.describe(f, instance[f], first[f]), Weight: coef[i]}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return math.Abs(out[a].Weight) > math.Abs(out[b].Weight)
	})
	return out, nil
}

// highestWeights keeps the NumFeatures features with the largest absolute
// coefficient in a lightly regularized fit on all features.
func (e *LimeExplainer) highestWeights(binary *mat.Dense, target, weights []float64) ([]int, error) {
	_, nf := binary.Dims()
	if e.opts.NumFeatures >= nf {
		all := make([]int, nf)
		for f := range all {
			all[f] = f
		}
		return all, nil
	}
	coef, _, err := ridge(binary, target, weights, selectionAlpha)
	if err != nil {
		return nil, fmt.Errorf("explain: select features: %w", err)
	}
	idx := make([]int, nf)
	for f := range idx {
		idx[f] = f
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return math.Abs(coef[idx[a]]) > math.Abs(coef[idx[b]])
	})
	return idx[:e.opts.NumFeatures], nil
}

func (e *LimeExplainer) describe(f int, raw, bucket float64) string {
	if q := e.space[f].q; q != nil {
		return q.names[int(bucket)]
	}
	return e.params.FeatureNames[f] + "=" + e.params.CategoryName(f, raw)
}

func columns(m *mat.Dense, cols []int) *mat.Dense {
	rows, _ := m.Dims()
	out := mat.NewDense(rows, len(cols), nil)
	for j, c := range cols {
		out.SetCol(j, mat.Col(nil, c, m))
	}
	return out
}

// frequencies returns the sorted distinct values of col and their relative
// frequencies.
func frequencies(col []float64) ([]float64, []float64) {
	counts := make(map[float64]int)
	for _, v := range col {
		counts[v]++
	}
	values := make([]float64, 0, len(counts))
	for v := range counts {
		values = append(values, v)
	}
	sort.Float64s(values)
	freqs := make([]float64, len(values))
	for i, v := range values {
		freqs[i] = float64(counts[v]) / float64(len(col))
	}
	return values, freqs
}

func pick(r *rand.Rand, freqs []float64) int {
	u := r.Float64()
	var acc float64
	for i, p := range freqs {
		acc += p
		if u < acc {
			return i
		}
	}
	return len(freqs) - 1
}
