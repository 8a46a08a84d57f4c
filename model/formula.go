package model

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Formula is a parsed chemical formula: element symbol to atom count.
// The zero value is the empty formula.
type Formula struct {
	atoms map[string]int
}

// ParseFormula parses formulas such as "C6H12O6", "Ca(OH)2" or
// "CuSO4.5H2O". An empty string is rejected.
func ParseFormula(s string) (Formula, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Formula{}, fmt.Errorf("empty formula")
	}
	atoms := make(map[string]int)
	for _, part := range strings.Split(s, ".") {
		mult, rest, err := leadingInt(part)
		if err != nil {
			return Formula{}, fmt.Errorf("formula %q: %w", s, err)
		}
		if rest == "" {
			return Formula{}, fmt.Errorf("formula %q: empty component", s)
		}
		p := formulaParser{src: rest}
		group, err := p.parseGroup(0)
		if err != nil {
			return Formula{}, fmt.Errorf("formula %q: %w", s, err)
		}
		if p.pos != len(p.src) {
			return Formula{}, fmt.Errorf("formula %q: unexpected %q at %d", s, p.src[p.pos], p.pos)
		}
		for el, n := range group {
			if err := addAtoms(atoms, el, n, mult); err != nil {
				return Formula{}, fmt.Errorf("formula %q: %w", s, err)
			}
		}
	}
	return Formula{atoms: atoms}, nil
}

// leadingInt strips a leading multiplier such as the 5 in "5H2O".
func leadingInt(s string) (int, string, error) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 1, s, nil
	}
	n, err := atomCount(s[:i])
	if err != nil {
		return 0, "", err
	}
	return n, s[i:], nil
}

// maxAtoms bounds every count and per-element total so products of two
// counts cannot overflow int.
const maxAtoms = math.MaxInt32

// atomCount parses a run of digits, rejecting counts above maxAtoms.
func atomCount(digits string) (int, error) {
	n, err := strconv.Atoi(digits)
	if err != nil || n > maxAtoms {
		return 0, fmt.Errorf("count %s out of range", digits)
	}
	return n, nil
}

func addAtoms(atoms map[string]int, el string, n, mult int) error {
	total := atoms[el] + n*mult
	if total > maxAtoms {
		return fmt.Errorf("%s count out of range", el)
	}
	atoms[el] = total
	return nil
}

type formulaParser struct {
	src string
	pos int
}

func (p *formulaParser) parseGroup(depth int) (map[string]int, error) {
	atoms := make(map[string]int)
	for p.pos < len(p.src) {
		c := rune(p.src[p.pos])
		switch {
		case c == '(' || c == '[':
			p.pos++
			inner, err := p.parseGroup(depth + 1)
			if err != nil {
				return nil, err
			}
			if p.pos >= len(p.src) || (p.src[p.pos] != ')' && p.src[p.pos] != ']') {
				return nil, fmt.Errorf("unbalanced parenthesis")
			}
			p.pos++
			n, err := p.parseCount()
			if err != nil {
				return nil, err
			}
			for el, k := range inner {
				if err := addAtoms(atoms, el, k, n); err != nil {
					return nil, err
				}
			}
		case c == ')' || c == ']':
			if depth == 0 {
				return nil, fmt.Errorf("unbalanced parenthesis")
			}
			return atoms, nil
		case unicode.IsUpper(c):
			start := p.pos
			p.pos++
			for p.pos < len(p.src) && unicode.IsLower(rune(p.src[p.pos])) {
				p.pos++
			}
			el := p.src[start:p.pos]
			n, err := p.parseCount()
			if err != nil {
				return nil, err
			}
			if err := addAtoms(atoms, el, n, 1); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unexpected %q at %d", c, p.pos)
		}
	}
	if depth > 0 {
		return nil, fmt.Errorf("unbalanced parenthesis")
	}
	return atoms, nil
}

func (p *formulaParser) parseCount() (int, error) {
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		p.pos++
	}
	if start == p.pos {
		return 1, nil
	}
	return atomCount(p.src[start:p.pos])
}

// IsZero reports whether the formula has no atoms.
func (f Formula) IsZero() bool { return len(f.atoms) == 0 }

// Count returns the number of atoms of element el.
func (f Formula) Count(el string) int { return f.atoms[el] }

// Elements returns the element symbols in Hill order.
func (f Formula) Elements() []string {
	els := make([]string, 0, len(f.atoms))
	for el := range f.atoms {
		els = append(els, el)
	}
	_, hasC := f.atoms["C"]
	sort.Slice(els, func(i, j int) bool {
		return hillRank(els[i], hasC) < hillRank(els[j], hasC) ||
			(hillRank(els[i], hasC) == hillRank(els[j], hasC) && els[i] < els[j])
	})
	return els
}

func hillRank(el string, hasCarbon bool) int {
	if !hasCarbon {
		return 2
	}
	switch el {
	case "C":
		return 0
	case "H":
		return 1
	default:
		return 2
	}
}

// Equal reports whether two formulas have identical composition.
func (f Formula) Equal(o Formula) bool {
	if len(f.atoms) != len(o.atoms) {
		return false
	}
	for el, n := range f.atoms {
		if o.atoms[el] != n {
			return false
		}
	}
	return true
}

func (f Formula) String() string {
	var b strings.Builder
	for _, el := range f.Elements() {
		b.WriteString(el)
		if n := f.atoms[el]; n != 1 {
			b.WriteString(strconv.Itoa(n))
		}
	}
	return b.String()
}
