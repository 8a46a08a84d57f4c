package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/mosmo/core"
)

var (
	ErrNonIntegerStoichiometry = errors.New("stoichiometry is not integral")
	ErrModeOverflow            = errors.New("elementary mode coefficients overflow")
)

// FluxMode is one elementary flux mode: a minimal set of reactions that can
// operate at steady state over the internal species.
type FluxMode struct {
	// Coefficients maps reaction IDs to their integer multiplicity; only
	// participating reactions appear.
	Coefficients map[string]int64
	// Reversible modes consist only of reversible reactions and may run in
	// either direction.
	Reversible bool
}

// Reactions returns the participating reaction IDs in network order.
func (m FluxMode) Reactions(net *core.Network) []string {
	var ids []string
	for _, id := range net.ReactionIDs() {
		if m.Coefficients[id] != 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

type modeRow struct {
	vals       []int64 // internal species balances, then reaction coefficients
	reversible bool
	used       []bool
	nUsed      int
}

// ElementaryModes enumerates the elementary flux modes of the network with
// the given species held at steady state. A nil internal list holds every
// species. Irreversible reactions are only used forward. Coefficients must be
// integers.
func ElementaryModes(ctx context.Context, net *core.Network, internal []string) ([]FluxMode, error) {
	m, n := net.Shape()
	rows := make([]int, 0, m)
	if internal == nil {
		for i := 0; i < m; i++ {
			rows = append(rows, i)
		}
	} else {
		hold := make(map[int]bool, len(internal))
		for _, id := range internal {
			i, ok := net.SpeciesIndex(id)
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrUnknownSpecies, id)
			}
			hold[i] = true
		}
		for i := 0; i < m; i++ {
			if hold[i] {
				rows = append(rows, i)
			}
		}
	}
	k := len(rows)

	rev := net.Reversible()
	tableau := make([]modeRow, n)
	for j := 0; j < n; j++ {
		r := modeRow{vals: make([]int64, k+n), reversible: rev[j], used: make([]bool, n), nUsed: 1}
		for c, i := range rows {
			v := net.At(i, j)
			if v != math.Trunc(v) || math.Abs(v) > 1<<31 {
				return nil, fmt.Errorf("%w: %q has coefficient %g for %q",
					ErrNonIntegerStoichiometry, net.ReactionAt(j).ID(), v, net.SpeciesAt(i).ID())
			}
			r.vals[c] = int64(v)
		}
		r.vals[k+j] = 1
		r.used[j] = true
		tableau[j] = r
	}

	for c := 0; c < k; c++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var next, pending []modeRow
		for _, r := range tableau {
			if r.vals[c] == 0 {
				next = append(next, r)
			} else {
				pending = append(pending, r)
			}
		}
		for a := 0; a < len(pending); a++ {
			for b := a + 1; b < len(pending); b++ {
				first, second, reversible, ok := pairModes(pending[a], pending[b], c)
				if !ok {
					continue
				}
				used, nUsed := unionUsed(first.used, second.used)
				if !elementaryAgainst(used, nUsed, next) {
					continue
				}
				merged, err := mergeModes(first, second, reversible, c, k)
				if err != nil {
					return nil, err
				}
				next = append(next, merged)
			}
		}
		tableau = next
	}

	ids := net.ReactionIDs()
	modes := make([]FluxMode, 0, len(tableau))
	for _, r := range tableau {
		fm := FluxMode{Coefficients: make(map[string]int64, r.nUsed), Reversible: r.reversible}
		for j := 0; j < n; j++ {
			if v := r.vals[k+j]; v != 0 {
				fm.Coefficients[ids[j]] = v
			}
		}
		modes = append(modes, fm)
	}
	return modes, nil
}

// pairModes orders two rows so the first may be scaled by a positive factor.
// Two irreversible rows only combine when they have opposite balance in c.
func pairModes(a, b modeRow, c int) (modeRow, modeRow, bool, bool) {
	switch {
	case b.reversible:
		return a, b, a.reversible, true
	case a.reversible:
		return b, a, false, true
	case (a.vals[c] > 0) != (b.vals[c] > 0):
		return a, b, false, true
	default:
		return modeRow{}, modeRow{}, false, false
	}
}

func unionUsed(a, b []bool) ([]bool, int) {
	out := make([]bool, len(a))
	count := 0
	for i := range a {
		out[i] = a[i] || b[i]
		if out[i] {
			count++
		}
	}
	return out, count
}

// elementaryAgainst reports whether no existing mode uses a subset of used.
func elementaryAgainst(used []bool, nUsed int, modes []modeRow) bool {
	for _, o := range modes {
		if o.nUsed > nUsed {
			continue
		}
		subset := true
		for i, u := range o.used {
			if u && !used[i] {
				subset = false
				break
			}
		}
		if subset {
			return false
		}
	}
	return true
}

func mergeModes(first, second modeRow, reversible bool, c, k int) (modeRow, error) {
	fi, si := first.vals[c], second.vals[c]
	l := lcm(abs64(fi), abs64(si))
	scaleF := l / abs64(fi)
	scaleS := -(scaleF * fi) / si

	n := len(first.used)
	out := modeRow{vals: make([]int64, len(first.vals)), reversible: reversible, used: make([]bool, n)}
	var g int64
	for i := range out.vals {
		a, ok1 := mulChecked(scaleF, first.vals[i])
		b, ok2 := mulChecked(scaleS, second.vals[i])
		if !ok1 || !ok2 || (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
			return modeRow{}, ErrModeOverflow
		}
		out.vals[i] = a + b
		g = gcd(g, abs64(out.vals[i]))
	}
	if g > 1 {
		for i := range out.vals {
			out.vals[i] /= g
		}
	}
	forward := 0
	for j := 0; j < n; j++ {
		v := out.vals[k+j]
		if v != 0 {
			out.used[j] = true
			out.nUsed++
		}
		if v > 0 {
			forward++
		}
	}
	// Reversible modes prefer the written direction of most reactions.
	if reversible && forward*2 < out.nUsed {
		for i := range out.vals {
			out.vals[i] = -out.vals[i]
		}
	}
	return out, nil
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int64) int64 { return a / gcd(a, b) * b }

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func mulChecked(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	p := a * b
	if p/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	return p, true
}
