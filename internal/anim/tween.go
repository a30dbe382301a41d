// Package anim drives the show/hide transition of the keyboard overlay.
package anim

import (
	"math"
	"time"
)

// Easing maps linear progress in [0,1] to eased progress in [0,1].
type Easing func(t float64) float64

// Linear is the identity easing.
func Linear(t float64) float64 { return t }

// EaseInOut accelerates from rest and decelerates to rest (cubic).
func EaseInOut(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	f := -2*t + 2
	return 1 - f*f*f/2
}

// Tween animates a scalar toward a target over a fixed duration.
// The zero value rests at 0. Tween is not safe for concurrent use; the
// keyboard controller guards it with its state lock.
type Tween struct {
	from     float64
	to       float64
	start    time.Time
	duration time.Duration
	easing   Easing
}

// NewTween returns a tween resting at value.
func NewTween(value float64) *Tween {
	return &Tween{from: value, to: value}
}

// Start re-targets the tween. The new transition begins at the value the
// tween has at now, so starting while another transition is running
// continues smoothly from where it was.
func (t *Tween) Start(target float64, d time.Duration, now time.Time) {
	t.from = t.Value(now)
	t.to = target
	t.start = now
	t.duration = d
	if t.easing == nil {
		t.easing = EaseInOut
	}
}

// SetEasing replaces the easing for subsequent frames.
func (t *Tween) SetEasing(e Easing) {
	t.easing = e
}

// Value returns the animated value at now.
func (t *Tween) Value(now time.Time) float64 {
	p := t.progress(now)
	if p >= 1 {
		return t.to
	}
	ease := t.easing
	if ease == nil {
		ease = EaseInOut
	}
	return t.from + (t.to-t.from)*ease(p)
}

// Target returns the value the tween is heading to.
func (t *Tween) Target() float64 {
	return t.to
}

// Done reports whether the transition has finished at now.
func (t *Tween) Done(now time.Time) bool {
	return t.progress(now) >= 1
}

func (t *Tween) progress(now time.Time) float64 {
	if t.duration <= 0 {
		return 1
	}
	elapsed := now.Sub(t.start)
	if elapsed <= 0 {
		return 0
	}
	return math.Min(1, float64(elapsed)/float64(t.duration))
}

// Interpolate maps v from the in range onto the out range, clamping to
// the out range. It mirrors the opacity-to-offset mapping of the overlay:
// Interpolate(v, 0, 1, -150, 0).
func Interpolate(v, inMin, inMax, outMin, outMax float64) float64 {
	if inMax == inMin {
		return outMin
	}
	p := (v - inMin) / (inMax - inMin)
	p = math.Max(0, math.Min(1, p))
	return outMin + (outMax-outMin)*p
}
