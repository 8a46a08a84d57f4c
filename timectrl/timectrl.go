package timectrl

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/signalsfoundry/mosmo/sim"
)

// Clock is an interface for reading playback time. Consumers that render a
// trajectory depend on it rather than on a concrete Player.
type Clock interface {
	// Now returns the simulated time of the last delivered sample.
	Now() float64
}

// Mode describes how the Player advances through samples.
type Mode int

const (
	// RealTime waits between samples according to wall-clock time, scaled
	// by Speed.
	RealTime Mode = iota
	// Accelerated delivers samples as quickly as listeners accept them.
	Accelerated
)

// Player replays a trajectory's samples to registered listeners.
// It implements Clock.
type Player struct {
	mu   sync.RWMutex
	traj *sim.Trajectory
	Mode Mode
	// Speed is simulated time per wall-clock second in RealTime mode.
	// Zero or negative means 1.
	Speed float64

	current float64
	played  int

	listeners []func(sim.Sample)
}

// NewPlayer constructs a player positioned at the trajectory start.
func NewPlayer(tr *sim.Trajectory, mode Mode, speed float64) *Player {
	p := &Player{traj: tr, Mode: mode, Speed: speed}
	if tr.Len() > 0 {
		p.current = tr.Start()
	}
	return p
}

// Now returns the time of the last delivered sample. Implements Clock.
func (p *Player) Now() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Played reports how many samples have been delivered.
func (p *Player) Played() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.played
}

// AddListener registers a callback invoked for every sample.
func (p *Player) AddListener(fn func(sim.Sample)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// wait converts a simulated interval into wall-clock time.
func (p *Player) wait(dt float64) time.Duration {
	speed := p.Speed
	if speed <= 0 {
		speed = 1
	}
	d := dt / speed * float64(time.Second)
	if d <= 0 || math.IsNaN(d) {
		return 0
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Start replays the trajectory in a separate goroutine. It returns a
// channel that is closed when every sample was delivered or ctx is done.
func (p *Player) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		p.mu.RLock()
		listeners := append(([]func(sim.Sample))(nil), p.listeners...)
		p.mu.RUnlock()

		timer := time.NewTimer(0)
		defer timer.Stop()
		<-timer.C

		prev := 0.0
		for i := 0; i < p.traj.Len(); i++ {
			s := p.traj.Sample(i)
			if p.Mode == RealTime && i > 0 {
				timer.Reset(p.wait(s.Time - prev))
				select {
				case <-ctx.Done():
					return
				case <-timer.C:
				}
			} else if ctx.Err() != nil {
				return
			}
			prev = s.Time

			p.mu.Lock()
			p.current = s.Time
			p.played = i + 1
			p.mu.Unlock()

			for _, fn := range listeners {
				fn(s)
			}
		}
	}()
	return done
}
