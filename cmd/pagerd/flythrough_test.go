package main

import (
	"context"
	"io"
	"log"
	"math"
	"sync"
	"testing"
	"time"

	"zonepager.ai/internal/config"
)

func TestFlythroughStraightLine(t *testing.T) {
	f := newFlythrough(config.FlythroughSpec{Start: []float64{10, -5}, Speed: 4})
	var x, z float64
	for i := 0; i < 10; i++ {
		x, z = f.step(0.5)
	}
	if math.Abs(x-30) > 1e-9 || math.Abs(z+5) > 1e-9 {
		t.Fatalf("pos=(%v,%v) want (30,-5)", x, z)
	}
}

func TestFlythroughTurnsInCircle(t *testing.T) {
	// A full turn at constant speed comes back near the start.
	f := newFlythrough(config.FlythroughSpec{Speed: 10, TurnDegPerSec: 36})
	var x, z float64
	for i := 0; i < 1000; i++ {
		x, z = f.step(0.01)
	}
	if math.Hypot(x, z) > 1 {
		t.Fatalf("pos=(%v,%v) want near origin after full turn", x, z)
	}
}

type focusRecorder struct {
	mu  sync.Mutex
	pts [][2]float64
}

func (r *focusRecorder) SetFocus(ctx context.Context, x, z float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pts = append(r.pts, [2]float64{x, z})
	return nil
}

func (r *focusRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pts)
}

func TestFlythroughDriveStopsWithContext(t *testing.T) {
	f := newFlythrough(config.FlythroughSpec{Start: []float64{1, 2}, Speed: 24})
	rec := &focusRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.drive(ctx, rec, 200, log.New(io.Discard, "", 0))
	}()

	deadline := time.Now().Add(5 * time.Second)
	for rec.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("drive produced %d foci", rec.count())
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.pts[0] != [2]float64{1, 2} {
		t.Fatalf("first focus=%v want start", rec.pts[0])
	}
	if rec.pts[1][0] <= 1 {
		t.Fatalf("second focus did not advance: %v", rec.pts[1])
	}
}
