package main

import (
	"context"
	"log"
	"math"
	"time"

	"zonepager.ai/internal/config"
)

// flythrough moves the focus along a slowly turning path.
type flythrough struct {
	x, z    float64
	heading float64 // radians
	speed   float64
	turn    float64 // radians per second
}

func newFlythrough(spec config.FlythroughSpec) *flythrough {
	f := &flythrough{speed: spec.Speed, turn: spec.TurnDegPerSec * math.Pi / 180}
	if len(spec.Start) == 2 {
		f.x, f.z = spec.Start[0], spec.Start[1]
	}
	return f
}

func (f *flythrough) step(dt float64) (x, z float64) {
	f.heading += f.turn * dt
	f.x += math.Cos(f.heading) * f.speed * dt
	f.z += math.Sin(f.heading) * f.speed * dt
	return f.x, f.z
}

type focusSetter interface {
	SetFocus(ctx context.Context, x, z float64) error
}

// drive pushes a new focus rateHz times per second until ctx is done.
func (f *flythrough) drive(ctx context.Context, rt focusSetter, rateHz int, logger *log.Logger) {
	if rateHz <= 0 {
		rateHz = 30
	}
	interval := time.Second / time.Duration(rateHz)
	dt := interval.Seconds()

	if err := rt.SetFocus(ctx, f.x, f.z); err != nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			x, z := f.step(dt)
			if err := rt.SetFocus(ctx, x, z); err != nil {
				if ctx.Err() == nil {
					logger.Printf("flythrough: %v", err)
				}
				return
			}
		}
	}
}
