package rpc

import (
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/mosmo/internal/scenario"
	"github.com/signalsfoundry/mosmo/sim"
)

// EncodeReport converts a scenario report into a protobuf Struct. Sections
// the scenario did not request are omitted.
func EncodeReport(rep *scenario.Report) (*structpb.Struct, error) {
	out := map[string]any{
		"name":              rep.Name,
		"species":           rep.Species,
		"reactions":         rep.Reactions,
		"imbalanced":        anySlice(rep.Balance.Imbalanced()),
		"consistent":        rep.Consistency.Consistent,
		"conservation_laws": rep.Conservation.Len(),
	}
	if f := rep.Flux; f != nil {
		flux := map[string]any{"status": string(f.Status())}
		if f.Feasible() {
			flux["objective"] = f.Objective()
			fluxes := map[string]any{}
			for id, v := range f.Fluxes() {
				fluxes[id] = v
			}
			flux["fluxes"] = fluxes
		}
		out["flux"] = flux
	}
	if tr := rep.Trace; tr != nil {
		trace := map[string]any{
			"source": tr.Source,
			"target": tr.Target,
			"found":  tr.Found(),
		}
		if tr.Found() {
			trace["reactions"] = anySlice(tr.ReactionIDs())
			trace["cost"] = tr.Cost
		}
		out["trace"] = trace
	}
	if rep.Modes != nil {
		modes := make([]any, 0, len(rep.Modes))
		for _, m := range rep.Modes {
			coefs := map[string]any{}
			for id, c := range m.Coefficients {
				coefs[id] = c
			}
			modes = append(modes, map[string]any{"coefficients": coefs, "reversible": m.Reversible})
		}
		out["modes"] = modes
	}
	if rep.Trajectory != nil {
		out["trajectory"] = trajectory(rep.Trajectory)
	}
	if len(rep.Ensemble) > 0 {
		ens := make([]any, 0, len(rep.Ensemble))
		for _, tr := range rep.Ensemble {
			ens = append(ens, trajectory(tr))
		}
		out["ensemble"] = ens
	}
	return structpb.NewStruct(out)
}

func trajectory(tr *sim.Trajectory) map[string]any {
	times := make([]any, 0, tr.Len())
	for _, t := range tr.Times() {
		times = append(times, t)
	}
	out := map[string]any{
		"mode":  string(tr.Mode()),
		"seed":  tr.Seed(),
		"times": times,
	}
	if tr.Len() > 0 {
		final := tr.Final()
		conc := map[string]any{}
		for id, v := range final.Concentrations {
			conc[id] = v
		}
		out["final"] = conc
	}
	return out
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
