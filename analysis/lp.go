package analysis

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

type lpStatus int

const (
	lpOptimal lpStatus = iota
	lpInfeasible
	lpUnbounded
)

type lpOutcome struct {
	status lpStatus
	x      []float64
	value  float64
}

// column mapping of one bounded variable onto non-negative standard-form
// variables: v = offset + sign*x[col] - x[neg].
type varMap struct {
	offset float64
	col    int
	sign   float64
	neg    int // -1 unless the variable is free
	slack  int // -1 unless the variable is bounded on both sides
}

// solveBounded minimises cost·v subject to eq·v = rhs and lo <= v <= hi.
// Infinite bounds are allowed. Infeasible and unbounded programs are reported
// through the outcome status; errors are reserved for solver failures.
func solveBounded(cost []float64, eq [][]float64, rhs, lo, hi []float64, tol float64) (lpOutcome, error) {
	n := len(cost)
	for j := 0; j < n; j++ {
		if lo[j] > hi[j]+tol {
			return lpOutcome{status: lpInfeasible}, nil
		}
	}

	maps := make([]varMap, n)
	cols := 0
	for j := 0; j < n; j++ {
		m := varMap{neg: -1, slack: -1, sign: 1}
		switch {
		case !math.IsInf(lo[j], -1):
			m.offset = lo[j]
			m.col = cols
			cols++
		case !math.IsInf(hi[j], 1):
			m.offset = hi[j]
			m.sign = -1
			m.col = cols
			cols++
		default:
			m.col = cols
			m.neg = cols + 1
			cols += 2
		}
		maps[j] = m
	}
	for j := 0; j < n; j++ {
		if !math.IsInf(lo[j], -1) && !math.IsInf(hi[j], 1) {
			maps[j].slack = cols
			cols++
		}
	}

	// Equalities in standard-form variables.
	rows := make([][]float64, 0, len(eq))
	b := make([]float64, 0, len(eq))
	for i, row := range eq {
		r := make([]float64, cols)
		bi := rhs[i]
		for j, a := range row {
			if a == 0 {
				continue
			}
			m := maps[j]
			r[m.col] += a * m.sign
			if m.neg >= 0 {
				r[m.neg] -= a
			}
			bi -= a * m.offset
		}
		rows = append(rows, r)
		b = append(b, bi)
	}
	rows, b, ok := independentRows(rows, b, tol)
	if !ok {
		return lpOutcome{status: lpInfeasible}, nil
	}
	for j := 0; j < n; j++ {
		m := maps[j]
		if m.slack < 0 {
			continue
		}
		r := make([]float64, cols)
		r[m.col] = 1
		r[m.slack] = 1
		rows = append(rows, r)
		b = append(b, hi[j]-lo[j])
	}

	c := make([]float64, cols)
	for j := 0; j < n; j++ {
		m := maps[j]
		c[m.col] += cost[j] * m.sign
		if m.neg >= 0 {
			c[m.neg] -= cost[j]
		}
	}

	// Columns untouched by every row are free to grow: a negative cost makes
	// the program unbounded, otherwise they sit at zero.
	keep := make([]int, 0, cols)
	for k := 0; k < cols; k++ {
		zero := true
		for _, r := range rows {
			if r[k] != 0 {
				zero = false
				break
			}
		}
		if !zero {
			keep = append(keep, k)
			continue
		}
		if c[k] < -tol {
			return lpOutcome{status: lpUnbounded}, nil
		}
	}

	x := make([]float64, cols)
	if len(rows) > 0 {
		for i := range rows {
			if b[i] < 0 {
				b[i] = -b[i]
				for k := range rows[i] {
					rows[i][k] = -rows[i][k]
				}
			}
		}
		A := mat.NewDense(len(rows), len(keep), nil)
		ck := make([]float64, len(keep))
		for kk, k := range keep {
			ck[kk] = c[k]
			for i, r := range rows {
				A.Set(i, kk, r[k])
			}
		}
		_, opt, err := lp.Simplex(ck, A, b, tol, nil)
		switch {
		case errors.Is(err, lp.ErrInfeasible):
			return lpOutcome{status: lpInfeasible}, nil
		case errors.Is(err, lp.ErrUnbounded):
			return lpOutcome{status: lpUnbounded}, nil
		case err != nil:
			return lpOutcome{}, fmt.Errorf("simplex: %w", err)
		}
		for kk, k := range keep {
			x[k] = opt[kk]
		}
	}

	v := make([]float64, n)
	value := 0.0
	for j := 0; j < n; j++ {
		m := maps[j]
		v[j] = m.offset + m.sign*x[m.col]
		if m.neg >= 0 {
			v[j] -= x[m.neg]
		}
		value += cost[j] * v[j]
	}
	return lpOutcome{status: lpOptimal, x: v, value: value}, nil
}

// independentRows reduces A·x = b to an equivalent system of linearly
// independent rows by forward elimination. It reports false when the system
// is inconsistent.
func independentRows(rows [][]float64, b []float64, tol float64) ([][]float64, []float64, bool) {
	var basis [][]float64
	var bb []float64
	var pivots []int
	for i, orig := range rows {
		r := append([]float64(nil), orig...)
		ri := b[i]
		scale := 1.0
		for _, v := range orig {
			scale = math.Max(scale, math.Abs(v))
		}
		for k, p := range pivots {
			f := r[p]
			if f == 0 {
				continue
			}
			for c := range r {
				r[c] -= f * basis[k][c]
			}
			ri -= f * bb[k]
		}
		p, best := -1, 0.0
		for c, v := range r {
			if math.Abs(v) <= tol*scale {
				r[c] = 0
				continue
			}
			if math.Abs(v) > best {
				p, best = c, math.Abs(v)
			}
		}
		if best <= tol*scale {
			if math.Abs(ri) > tol*math.Max(1, math.Abs(b[i])) {
				return nil, nil, false
			}
			continue
		}
		piv := r[p]
		for c := range r {
			r[c] /= piv
		}
		r[p] = 1
		basis = append(basis, r)
		bb = append(bb, ri/piv)
		pivots = append(pivots, p)
	}
	return basis, bb, true
}
