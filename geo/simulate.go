package geo

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/waello/ozeshare/model"
)

const (
	defaultSimInterval = 2 * time.Second
	defaultSimJitter   = 0.0005
)

var ErrAlreadyWatching = errors.New("simulator is already watching")

// Simulator walks a fixed route, emitting one sample per interval with a
// small random jitter. It stands in for a real geolocation provider in the
// CLI and in tests.
type Simulator struct {
	route    []model.Position
	interval time.Duration
	jitter   float64
	rnd      *rand.Rand

	mx      sync.Mutex
	started bool
}

type SimulatorConfig struct {
	Route    []model.Position
	Interval time.Duration
	Jitter   float64
	Seed     int64
}

func NewSimulator(cfg SimulatorConfig) *Simulator {
	sim := &Simulator{
		route:    cfg.Route,
		interval: cfg.Interval,
		jitter:   cfg.Jitter,
		rnd:      rand.New(rand.NewSource(cfg.Seed)),
	}
	if sim.interval <= 0 {
		sim.interval = defaultSimInterval
	}
	if sim.jitter == 0 {
		sim.jitter = defaultSimJitter
	}
	if len(sim.route) == 0 {
		sim.route = []model.Position{{Lat: 0, Lng: 0}}
	}
	return sim
}

// Watch starts the walk. The sequence is non-restartable: a second call
// fails.
func (sim *Simulator) Watch(ctx context.Context) (<-chan Update, error) {
	sim.mx.Lock()
	defer sim.mx.Unlock()
	if sim.started {
		return nil, ErrAlreadyWatching
	}
	sim.started = true

	out := make(chan Update)
	go sim.walk(ctx, out)
	return out, nil
}

func (sim *Simulator) walk(ctx context.Context, out chan<- Update) {
	defer close(out)

	ticker := time.NewTicker(sim.interval)
	defer ticker.Stop()

	var idx int
	for {
		pos := sim.route[idx%len(sim.route)]
		pos.Lat += (sim.rnd.Float64() - 0.5) * sim.jitter
		pos.Lng += (sim.rnd.Float64() - 0.5) * sim.jitter

		select {
		case <-ctx.Done():
			return
		case out <- Update{Position: pos}:
			idx++
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// StaticSource emits a single classified error and nothing else. Useful
// for exercising denied/unavailable paths.
type StaticSource struct {
	Err ErrorKind
}

func (s StaticSource) Watch(ctx context.Context) (<-chan Update, error) {
	out := make(chan Update, 1)
	out <- Update{Err: &WatchError{Kind: s.Err}}
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}
