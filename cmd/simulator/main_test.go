package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const toyScenario = `
name: toy
catalog:
  species:
    - {id: A}
    - {id: B}
    - {id: C}
  reactions:
    - {id: r0, stoichiometry: [{species: A, coefficient: 1}]}
    - {id: r1, reversible: true, stoichiometry: [{species: A, coefficient: -1}, {species: B, coefficient: 1}]}
    - {id: r2, stoichiometry: [{species: B, coefficient: -1}, {species: C, coefficient: 1}]}
network: {reactions: [r0, r1, r2]}
kinetics:
  r0: {type: expression, expr: "p.k", params: {k: 0.5}}
  r1: {type: mass_action, forward: 1.0, reverse: 0.5}
  r2: {type: convenience, kcat_forward: 10, km: {B: 0.2}}
initial: {A: 1.0}
flux:
  objective: {r2: 1}
  boundary: [C]
  bounds: {r0: {upper: 10}}
trace: {source: A, target: C}
simulation:
  end: 2
  step: {type: fixed, size: 0.01}
  sample_interval: 0.5
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// quietConfig keeps log output out of the way of report assertions.
func quietConfig(t *testing.T, dir string) string {
	return writeFile(t, dir, "mosmo.yaml", "logging: {level: error}\n")
}

func TestRunPrintsReport(t *testing.T) {
	dir := t.TempDir()
	cfg := quietConfig(t, dir)
	sc := writeFile(t, dir, "toy.yaml", toyScenario)

	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"-config", cfg, "-scenario", sc}, &stdout, &stderr); err != nil {
		t.Fatalf("run error: %v\nstderr: %s", err, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{
		"scenario toy: 3 species, 3 reactions",
		"stoichiometrically consistent: false",
		"flux: optimal objective=10",
		"trace A -> C: r1, r2",
		"final t=2 (5 samples):",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "elementary modes") {
		t.Fatalf("modes printed without -modes:\n%s", out)
	}
}

func TestRunPlaysBackTrajectory(t *testing.T) {
	dir := t.TempDir()
	cfg := quietConfig(t, dir)
	sc := writeFile(t, dir, "toy.yaml", toyScenario)

	var stdout, stderr bytes.Buffer
	args := []string{"-config", cfg, "-scenario", sc, "-play", "-modes"}
	if err := run(context.Background(), args, &stdout, &stderr); err != nil {
		t.Fatalf("run error: %v\nstderr: %s", err, stderr.String())
	}
	out := stdout.String()
	if got := strings.Count(out, "[t="); got != 5 {
		t.Fatalf("played %d samples, want 5:\n%s", got, out)
	}
	if !strings.Contains(out, "[t=0] A=1 B=0 C=0") {
		t.Fatalf("first played sample missing:\n%s", out)
	}
	if !strings.Contains(out, "elementary modes:") {
		t.Fatalf("modes not printed with -modes:\n%s", out)
	}
}

func TestRunResolvesPathwayFromCatalogFlag(t *testing.T) {
	dir := t.TempDir()
	cfg := quietConfig(t, dir)
	cat := writeFile(t, dir, "catalog.yaml", `
species: [{id: X}, {id: Y}]
reactions:
  - {id: rx, stoichiometry: [{species: X, coefficient: -1}, {species: Y, coefficient: 1}]}
pathways:
  - {id: px, reactions: [rx]}
`)
	sc := writeFile(t, dir, "layered.yaml", "name: layered\nnetwork: {pathway: px}\ntrace: {source: X, target: Y}\n")

	var stdout, stderr bytes.Buffer
	args := []string{"-config", cfg, "-catalog", cat, "-scenario", sc}
	if err := run(context.Background(), args, &stdout, &stderr); err != nil {
		t.Fatalf("run error: %v\nstderr: %s", err, stderr.String())
	}
	out := stdout.String()
	if !strings.Contains(out, "stoichiometrically consistent: true") {
		t.Fatalf("X -> Y should be consistent:\n%s", out)
	}
	if !strings.Contains(out, "trace X -> Y: rx") {
		t.Fatalf("trace missing:\n%s", out)
	}
	if strings.Contains(out, "final t=") {
		t.Fatalf("no simulation was requested:\n%s", out)
	}
}

func TestRunRequiresScenario(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), nil, &stdout, &stderr); err == nil {
		t.Fatalf("expected error without -scenario")
	}
}

func TestRunReportsMissingReaction(t *testing.T) {
	dir := t.TempDir()
	cfg := quietConfig(t, dir)
	sc := writeFile(t, dir, "gap.yaml", "name: gap\nnetwork: {reactions: [nope]}\n")
	cat := writeFile(t, dir, "empty.yaml", "species: [{id: A}]\n")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-config", cfg, "-catalog", cat, "-scenario", sc}, &stdout, &stderr)
	if err == nil || !strings.Contains(err.Error(), "nope") {
		t.Fatalf("err = %v, want mention of the missing reaction", err)
	}
}
