package explain

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// quartiles buckets one continuous feature at its 25th, 50th and 75th
// percentiles and remembers per-bucket statistics for resampling.
type quartiles struct {
	edges []float64
	means []float64
	stds  []float64
	mins  []float64
	maxs  []float64
	names []string
}

func newQuartiles(name string, col []float64) *quartiles {
	sorted := append([]float64(nil), col...)
	sort.Float64s(sorted)

	q := &quartiles{edges: []float64{
		percentile(sorted, 25),
		percentile(sorted, 50),
		percentile(sorted, 75),
	}}

	n := len(q.edges)
	q.names = make([]string, 0, n+1)
	q.names = append(q.names, fmt.Sprintf("%s <= %.2f", name, q.edges[0]))
	for i := 0; i < n-1; i++ {
		q.names = append(q.names, fmt.Sprintf("%.2f < %s <= %.2f", q.edges[i], name, q.edges[i+1]))
	}
	q.names = append(q.names, fmt.Sprintf("%s > %.2f", name, q.edges[n-1]))

	bounds := make([]float64, 0, n+2)
	bounds = append(bounds, floats.Min(col))
	bounds = append(bounds, q.edges...)
	bounds = append(bounds, floats.Max(col))
	q.mins = bounds[:n+1]
	q.maxs = bounds[1:]

	buckets := make([][]float64, n+1)
	for _, v := range col {
		b := q.bin(v)
		buckets[b] = append(buckets[b], v)
	}
	q.means = make([]float64, n+1)
	q.stds = make([]float64, n+1)
	for b, vals := range buckets {
		if len(vals) == 0 {
			q.means[b] = (q.mins[b] + q.maxs[b]) / 2
			continue
		}
		q.means[b], q.stds[b] = stat.PopMeanStdDev(vals, nil)
	}
	return q
}

// bin returns the bucket index: x <= q1 is 0, q1 < x <= q2 is 1, and so on.
func (q *quartiles) bin(x float64) int {
	return sort.SearchFloat64s(q.edges, x)
}

// sample draws a concrete value inside bucket b from a normal around the
// bucket mean, truncated to the bucket bounds.
func (q *quartiles) sample(r *rand.Rand, b int) float64 {
	mean, std := q.means[b], q.stds[b]
	if std == 0 {
		return mean
	}
	lo, hi := q.mins[b], q.maxs[b]
	for range 16 {
		v := mean + std*r.NormFloat64()
		if v >= lo && v <= hi {
			return v
		}
	}
	return math.Min(math.Max(mean, lo), hi)
}

// percentile uses linear interpolation between closest ranks on sorted data.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	h := float64(len(sorted)-1) * p / 100
	lo := int(math.Floor(h))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}
