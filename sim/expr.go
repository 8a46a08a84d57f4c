package sim

import (
	"maps"
	"math"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/signalsfoundry/mosmo/core"
)

// Expression is a rate law written as a CEL expression evaluating to a
// double. It sees species concentrations as c["id"], parameters as p["name"]
// or p.name, and time as t. The functions exp, ln and pow are available:
//
//	p.vmax * c["A"] / (p.km + c["A"])
type Expression struct {
	Expr   string
	Params map[string]float64
}

var rateEnv = sync.OnceValues(func() (*cel.Env, error) {
	unary := func(name string, fn func(float64) float64) cel.EnvOption {
		return cel.Function(name, cel.Overload(name+"_double", []*cel.Type{cel.DoubleType}, cel.DoubleType,
			cel.UnaryBinding(func(v ref.Val) ref.Val {
				return types.Double(fn(float64(v.(types.Double))))
			})))
	}
	return cel.NewEnv(
		cel.Variable("c", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("p", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("t", cel.DoubleType),
		unary("exp", math.Exp),
		unary("ln", math.Log),
		cel.Function("pow", cel.Overload("pow_double_double", []*cel.Type{cel.DoubleType, cel.DoubleType}, cel.DoubleType,
			cel.BinaryBinding(func(a, b ref.Val) ref.Val {
				return types.Double(math.Pow(float64(a.(types.Double)), float64(b.(types.Double))))
			}))),
	)
})

func (e Expression) bind(net *core.Network, j int) (boundLaw, error) {
	id := net.ReactionAt(j).ID()
	env, err := rateEnv()
	if err != nil {
		return boundLaw{}, err
	}
	ast, iss := env.Compile(e.Expr)
	if iss != nil && iss.Err() != nil {
		return boundLaw{}, invalidKinetics("%q: %v", id, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.DoubleType) {
		return boundLaw{}, invalidKinetics("%q: expression yields %s, want double", id, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return boundLaw{}, invalidKinetics("%q: %v", id, err)
	}

	ids := net.SpeciesIDs()
	params := maps.Clone(e.Params)
	if params == nil {
		params = map[string]float64{}
	}
	eval := func(c []float64, t float64) (float64, error) {
		conc := make(map[string]float64, len(ids))
		for i, sid := range ids {
			conc[sid] = c[i]
		}
		out, _, err := prg.Eval(map[string]any{"c": conc, "p": params, "t": t})
		if err != nil {
			return 0, err
		}
		v, ok := out.Value().(float64)
		if !ok {
			return 0, invalidKinetics("%q: expression yielded %T", id, out.Value())
		}
		return v, nil
	}
	// A trial evaluation catches references to unknown species or parameters.
	if _, err := eval(make([]float64, len(ids)), 0); err != nil {
		return boundLaw{}, invalidKinetics("%q: %v", id, err)
	}
	return boundLaw{rate: eval}, nil
}
