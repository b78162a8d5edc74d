package explain

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ridge fits a sample-weighted ridge regression with an unpenalized
// intercept and returns the coefficients and intercept.
func ridge(x *mat.Dense, y, w []float64, alpha float64) ([]float64, float64, error) {
	n, p := x.Dims()
	if len(y) != n || len(w) != n {
		return nil, 0, fmt.Errorf("ridge: %d rows, %d targets, %d weights", n, len(y), len(w))
	}

	xMean := make([]float64, p)
	for j := range p {
		xMean[j] = stat.Mean(mat.Col(nil, j, x), w)
	}
	yMean := stat.Mean(y, w)

	// Center, then scale rows by sqrt(w) so ordinary normal equations apply.
	xc := mat.NewDense(n, p, nil)
	xc.Apply(func(i, j int, v float64) float64 {
		return (v - xMean[j]) * math.Sqrt(w[i])
	}, x)
	yc := mat.NewVecDense(n, nil)
	for i := range n {
		yc.SetVec(i, (y[i]-yMean)*math.Sqrt(w[i]))
	}

	var gram mat.SymDense
	gram.SymOuterK(1, xc.T())
	for j := range p {
		gram.SetSym(j, j, gram.At(j, j)+alpha)
	}

	var rhs mat.VecDense
	rhs.MulVec(xc.T(), yc)

	var chol mat.Cholesky
	if ok := chol.Factorize(&gram); !ok {
		return nil, 0, fmt.Errorf("ridge: system is not positive definite")
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &rhs); err != nil {
		return nil, 0, fmt.Errorf("ridge: solve: %w", err)
	}

	coef := make([]float64, p)
	intercept := yMean
	for j := range p {
		coef[j] = beta.AtVec(j)
		intercept -= coef[j] * xMean[j]
	}
	return coef, intercept, nil
}
