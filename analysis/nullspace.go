package analysis

import (
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/mosmo/core"
	"gonum.org/v1/gonum/mat"
)

var ErrFactorization = errors.New("singular value decomposition failed")

// Basis is a set of basis vectors over an ordered list of IDs.
type Basis struct {
	IDs     []string
	Vectors [][]float64
}

// Len returns the number of basis vectors.
func (b Basis) Len() int { return len(b.Vectors) }

// Vector returns basis vector k keyed by ID, omitting zero entries.
func (b Basis) Vector(k int) map[string]float64 {
	out := make(map[string]float64)
	for i, v := range b.Vectors[k] {
		if v != 0 {
			out[b.IDs[i]] = v
		}
	}
	return out
}

// Rank returns the numerical rank of the stoichiometric matrix.
func Rank(net *core.Network) (int, error) {
	var svd mat.SVD
	if !svd.Factorize(net.Matrix(), mat.SVDNone) {
		return 0, ErrFactorization
	}
	return rank(svd.Values(nil), net), nil
}

// NullSpace returns a basis of the right null space of S: the flux
// directions that leave every species concentration unchanged.
func NullSpace(net *core.Network) (Basis, error) {
	var svd mat.SVD
	if !svd.Factorize(net.Matrix(), mat.SVDFull) {
		return Basis{}, ErrFactorization
	}
	r := rank(svd.Values(nil), net)
	var v mat.Dense
	svd.VTo(&v)
	_, n := net.Shape()
	return basisFromColumns(&v, r, n, net.ReactionIDs()), nil
}

// ConservationLaws returns a basis of the left null space of S. Each vector
// weights species so that their weighted total is invariant under every
// reaction, e.g. a conserved moiety.
func ConservationLaws(net *core.Network) (Basis, error) {
	var svd mat.SVD
	if !svd.Factorize(net.Matrix(), mat.SVDFull) {
		return Basis{}, ErrFactorization
	}
	r := rank(svd.Values(nil), net)
	var u mat.Dense
	svd.UTo(&u)
	m, _ := net.Shape()
	return basisFromColumns(&u, r, m, net.SpeciesIDs()), nil
}

func rank(values []float64, net *core.Network) int {
	if len(values) == 0 {
		return 0
	}
	m, n := net.Shape()
	tol := float64(max(m, n)) * values[0] * 1e-12
	r := 0
	for _, s := range values {
		if s > tol {
			r++
		}
	}
	return r
}

// basisFromColumns takes columns from..dim-1 of q, normalised so the largest
// entry is positive with magnitude one.
func basisFromColumns(q *mat.Dense, from, dim int, ids []string) Basis {
	b := Basis{IDs: append([]string(nil), ids...)}
	for k := from; k < dim; k++ {
		vec := mat.Col(nil, k, q)
		peak := 0.0
		for _, x := range vec {
			if math.Abs(x) > math.Abs(peak) {
				peak = x
			}
		}
		for i := range vec {
			vec[i] /= peak
			if math.Abs(vec[i]) < 1e-10 {
				vec[i] = 0
			}
		}
		b.Vectors = append(b.Vectors, vec)
	}
	return b
}

// ConsistencyReport is the outcome of CheckConsistency.
type ConsistencyReport struct {
	Consistent bool
	// Masses is a strictly positive species weighting conserved by every
	// reaction; nil when inconsistent.
	Masses map[string]float64
}

// CheckConsistency searches for strictly positive species masses m >= 1 with
// Sᵀm = 0. Networks with source or sink reactions are inconsistent unless
// those reactions are ignored.
func CheckConsistency(net *core.Network, ignoreReactions ...string) (ConsistencyReport, error) {
	m, n := net.Shape()
	skip := make(map[int]bool, len(ignoreReactions))
	for _, id := range ignoreReactions {
		j, ok := net.ReactionIndex(id)
		if !ok {
			return ConsistencyReport{}, fmt.Errorf("%w: %q", ErrUnknownReaction, id)
		}
		skip[j] = true
	}
	eq := make([][]float64, 0, n)
	for j := 0; j < n; j++ {
		if skip[j] {
			continue
		}
		eq = append(eq, net.Column(j))
	}
	cost := make([]float64, m)
	lo := make([]float64, m)
	hi := make([]float64, m)
	for i := range cost {
		cost[i], lo[i], hi[i] = 1, 1, math.Inf(1)
	}
	out, err := solveBounded(cost, eq, make([]float64, len(eq)), lo, hi, 1e-9)
	if err != nil {
		return ConsistencyReport{}, err
	}
	if out.status != lpOptimal {
		return ConsistencyReport{Consistent: false}, nil
	}
	return ConsistencyReport{Consistent: true, Masses: net.UnpackSpecies(out.x)}, nil
}
