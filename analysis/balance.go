// Package analysis holds the static analyses of a reaction network:
// element/charge balance, stoichiometric consistency, steady-state flux,
// pathway tracing and elementary flux modes.
package analysis

import (
	"math"
	"slices"
	"sort"

	"github.com/signalsfoundry/mosmo/core"
)

// BalanceStatus is the outcome of a balance check.
type BalanceStatus string

const (
	Balanced   BalanceStatus = "balanced"
	Imbalanced BalanceStatus = "imbalanced"
	Unknown    BalanceStatus = "unknown"
)

// BalanceOptions tunes CheckBalance.
type BalanceOptions struct {
	// Ignore lists species excluded from the check, e.g. protons in models
	// that do not track them.
	Ignore    []string
	Tolerance float64
}

// ReactionBalance is the balance of one reaction. ElementDelta holds the net
// atoms produced per element; only non-zero entries are kept.
type ReactionBalance struct {
	ReactionID   string
	Mass         BalanceStatus
	Charge       BalanceStatus
	ElementDelta map[string]float64
	ChargeDelta  float64
	// MissingFormula and MissingCharge list participants without the
	// attribute; a non-empty list makes the matching status Unknown.
	MissingFormula []string
	MissingCharge  []string
}

// BalanceReport covers every reaction of a network in network order.
type BalanceReport struct {
	Reactions      []ReactionBalance
	UnknownFormula []string // species without a formula, in network order
	UnknownCharge  []string
}

// Imbalanced returns the IDs of reactions whose mass or charge is
// definitely not conserved.
func (r BalanceReport) Imbalanced() []string {
	var ids []string
	for _, rb := range r.Reactions {
		if rb.Mass == Imbalanced || rb.Charge == Imbalanced {
			ids = append(ids, rb.ReactionID)
		}
	}
	return ids
}

// Reaction returns the balance of one reaction.
func (r BalanceReport) Reaction(id string) (ReactionBalance, bool) {
	for _, rb := range r.Reactions {
		if rb.ReactionID == id {
			return rb, true
		}
	}
	return ReactionBalance{}, false
}

// CheckBalance checks element and charge conservation of every reaction.
// Species with unknown formula or charge are flagged, never failed.
func CheckBalance(net *core.Network, opts BalanceOptions) BalanceReport {
	tol := opts.Tolerance
	if tol <= 0 {
		tol = 1e-9
	}
	species := net.Species()
	report := BalanceReport{}
	for _, s := range species {
		if slices.Contains(opts.Ignore, s.ID()) {
			continue
		}
		if _, ok := s.Formula(); !ok {
			report.UnknownFormula = append(report.UnknownFormula, s.ID())
		}
		if _, ok := s.Charge(); !ok {
			report.UnknownCharge = append(report.UnknownCharge, s.ID())
		}
	}

	for j, r := range net.Reactions() {
		rb := ReactionBalance{ReactionID: r.ID(), ElementDelta: map[string]float64{}}
		for i := range species {
			coeff := net.At(i, j)
			if coeff == 0 {
				continue
			}
			s := species[i]
			if slices.Contains(opts.Ignore, s.ID()) {
				continue
			}
			if f, ok := s.Formula(); ok {
				for _, el := range f.Elements() {
					rb.ElementDelta[el] += coeff * float64(f.Count(el))
				}
			} else {
				rb.MissingFormula = append(rb.MissingFormula, s.ID())
			}
			if c, ok := s.Charge(); ok {
				rb.ChargeDelta += coeff * float64(c)
			} else {
				rb.MissingCharge = append(rb.MissingCharge, s.ID())
			}
		}
		for el, d := range rb.ElementDelta {
			if math.Abs(d) <= tol {
				delete(rb.ElementDelta, el)
			}
		}
		rb.Mass = status(len(rb.MissingFormula) > 0, len(rb.ElementDelta) > 0)
		rb.Charge = status(len(rb.MissingCharge) > 0, math.Abs(rb.ChargeDelta) > tol)
		report.Reactions = append(report.Reactions, rb)
	}
	return report
}

func status(unknown, off bool) BalanceStatus {
	switch {
	case unknown:
		return Unknown
	case off:
		return Imbalanced
	default:
		return Balanced
	}
}

// CombinationBalance is the net element and charge production of a weighted
// combination of reactions, such as a flux distribution.
type CombinationBalance struct {
	ElementDelta map[string]float64
	ChargeDelta  float64
	Balanced     bool
	// Excluded lists weighted reactions left out because some participant
	// has an unknown formula or charge.
	Excluded []string
}

// Elements returns the imbalanced elements in sorted order.
func (c CombinationBalance) Elements() []string {
	els := make([]string, 0, len(c.ElementDelta))
	for el := range c.ElementDelta {
		els = append(els, el)
	}
	sort.Strings(els)
	return els
}

// CheckCombination verifies conservation across a hypothesized combination
// of reactions: weights maps reaction IDs to their multiplicity or flux.
func CheckCombination(report BalanceReport, weights map[string]float64, tol float64) CombinationBalance {
	if tol <= 0 {
		tol = 1e-9
	}
	out := CombinationBalance{ElementDelta: map[string]float64{}}
	for _, rb := range report.Reactions {
		w := weights[rb.ReactionID]
		if w == 0 {
			continue
		}
		if rb.Mass == Unknown || rb.Charge == Unknown {
			out.Excluded = append(out.Excluded, rb.ReactionID)
			continue
		}
		for el, d := range rb.ElementDelta {
			out.ElementDelta[el] += w * d
		}
		out.ChargeDelta += w * rb.ChargeDelta
	}
	for el, d := range out.ElementDelta {
		if math.Abs(d) <= tol {
			delete(out.ElementDelta, el)
		}
	}
	if math.Abs(out.ChargeDelta) <= tol {
		out.ChargeDelta = 0
	}
	out.Balanced = len(out.ElementDelta) == 0 && out.ChargeDelta == 0
	return out
}
