package spice

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// maxCondition bounds the condition number accepted for the endmember system.
const maxCondition = 1e14

// estimateEndmembers solves the closed-form endmember update
//
//	E = ((PᵀP + λ(I − J/K))⁻¹ PᵀXᵀ)ᵀ
//
// where J is the K×K all-ones matrix.
func estimateEndmembers(x, p *mat.Dense, lam float64) (*mat.Dense, error) {
	n, _ := x.Dims()
	_, k := p.Dims()

	sys := mat.NewSymDense(k, nil)
	sys.SymOuterK(1, p.T())
	off := lam / float64(k)
	for i := range k {
		for j := i; j < k; j++ {
			v := sys.At(i, j) - off
			if i == j {
				v += lam
			}
			sys.SetSym(i, j, v)
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(sys); !ok {
		return nil, fmt.Errorf("%w: system is not positive definite", ErrSingularSystem)
	}
	if c := chol.Cond(); c > maxCondition {
		return nil, fmt.Errorf("%w: condition number %.3g", ErrSingularSystem, c)
	}

	var rhs, sol mat.Dense
	rhs.Mul(p.T(), x.T()) // K×N
	if err := chol.SolveTo(&sol, &rhs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingularSystem, err)
	}
	e := mat.NewDense(n, k, nil)
	e.Copy(sol.T())
	return e, nil
}
