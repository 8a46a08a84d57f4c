package timectrl

import (
	"context"
	"testing"
	"time"

	"github.com/signalsfoundry/mosmo/core"
	"github.com/signalsfoundry/mosmo/model"
	"github.com/signalsfoundry/mosmo/sim"
)

func decay(t *testing.T, interval float64) *sim.Trajectory {
	t.Helper()
	a := model.MustSpecies(model.SpeciesAttrs{ID: "A"})
	net, err := core.Build(model.MustReaction(model.ReactionAttrs{
		ID:            "r1",
		Stoichiometry: []model.Participant{{Species: a, Coefficient: -1}},
	}))
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	tr, err := sim.Run(context.Background(), net, sim.Kinetics{
		Laws:    map[string]sim.Law{"r1": sim.MassAction{Forward: 1}},
		Initial: map[string]float64{"A": 1},
	}, sim.Options{End: 1, Stepper: sim.FixedStep{Step: 0.05}, SampleInterval: interval})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	return tr
}

var _ Clock = (*Player)(nil)

func TestPlayerAcceleratedDeliversAllSamples(t *testing.T) {
	tr := decay(t, 0.25)
	p := NewPlayer(tr, Accelerated, 0)
	if got := p.Now(); got != 0 {
		t.Fatalf("Now() before start = %v, want 0", got)
	}

	var times []float64
	p.AddListener(func(s sim.Sample) { times = append(times, s.Time) })
	<-p.Start(context.Background())

	want := []float64{0, 0.25, 0.5, 0.75, 1}
	if len(times) != len(want) {
		t.Fatalf("delivered %v, want %v", times, want)
	}
	for i := range want {
		if times[i] != want[i] {
			t.Fatalf("sample %d at %v, want %v", i, times[i], want[i])
		}
	}
	if got := p.Now(); got != 1 {
		t.Fatalf("Now() = %v, want 1", got)
	}
	if got := p.Played(); got != len(want) {
		t.Fatalf("Played() = %d, want %d", got, len(want))
	}
}

func TestPlayerRealTimeScalesBySpeed(t *testing.T) {
	tr := decay(t, 0.5)
	// One simulated second at 50x takes 20ms of wall time.
	p := NewPlayer(tr, RealTime, 50)

	began := time.Now()
	<-p.Start(context.Background())
	elapsed := time.Since(began)

	if elapsed < 15*time.Millisecond {
		t.Fatalf("real-time playback took %v, want at least ~20ms", elapsed)
	}
	if got := p.Now(); got != 1 {
		t.Fatalf("Now() = %v, want 1", got)
	}
}

func TestPlayerStopsOnCancel(t *testing.T) {
	tr := decay(t, 0.25)
	// Slow enough that the second sample never arrives.
	p := NewPlayer(tr, RealTime, 1e-3)

	first := make(chan struct{}, 1)
	p.AddListener(func(sim.Sample) {
		select {
		case first <- struct{}{}:
		default:
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := p.Start(ctx)
	<-first
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("player did not stop after cancel")
	}
	if got := p.Played(); got != 1 {
		t.Fatalf("Played() = %d, want 1", got)
	}
}
