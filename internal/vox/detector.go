// Package vox implements voice-operated switching: per-frame level
// measurement, the asymmetric trigger/release state machine, and the
// accumulation of triggered audio into recording sessions.
package vox

import (
	"math"

	"github.com/MrWong99/rdiovox/pkg/audio"
)

const (
	// triggerFactor raises the effective threshold for starting a recording,
	// filtering one-frame noise spikes.
	triggerFactor = 1.2

	// releaseFactor lowers the effective threshold for ending a recording so
	// natural pauses inside a transmission do not chop it up.
	releaseFactor = 0.4

	// dbFloor is the lowest decibel level ever reported.
	dbFloor = -100.0
)

// DefaultThreshold is the base RMS threshold used when the configuration does
// not set one.
const DefaultThreshold = 0.1

// Level carries the measurements taken from one frame.
type Level struct {
	// RMS is the root mean square of the frame samples, in [0, 1].
	RMS float64

	// DB is RMS expressed in decibels, floored at -100.
	DB float64
}

// DB converts an RMS value to decibels. Values at or below zero, and any
// result below the floor, report -100.
func DB(rms float64) float64 {
	if rms <= 0 {
		return dbFloor
	}
	db := 20 * math.Log10(rms)
	if db < dbFloor {
		return dbFloor
	}
	return db
}

// Detector is the VOX hysteresis state machine. It is idle or triggered;
// transitions use asymmetric thresholds derived from the base threshold.
// Not safe for concurrent use; the capture loop owns it.
type Detector struct {
	threshold float64
	triggered bool
}

// NewDetector returns a Detector with the given base RMS threshold.
// A non-positive threshold falls back to [DefaultThreshold].
func NewDetector(threshold float64) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{threshold: threshold}
}

// Update measures frame and advances the state machine. It returns the frame
// level and whether the detector is triggered after this frame.
//
// Idle becomes triggered when RMS exceeds threshold*1.2; triggered becomes
// idle when RMS drops below threshold*0.4. Levels between the two bounds
// leave the state unchanged.
func (d *Detector) Update(frame audio.Frame) (Level, bool) {
	rms := audio.RMS(frame.Samples)
	level := Level{RMS: rms, DB: DB(rms)}

	if d.triggered {
		if rms < d.threshold*releaseFactor {
			d.triggered = false
		}
	} else {
		if rms > d.threshold*triggerFactor {
			d.triggered = true
		}
	}
	return level, d.triggered
}

// Triggered reports whether the detector is currently triggered.
func (d *Detector) Triggered() bool { return d.triggered }

// Threshold returns the current base threshold.
func (d *Detector) Threshold() float64 { return d.threshold }

// SetThreshold replaces the base threshold. It takes effect on the next
// Update; the current triggered state is kept.
func (d *Detector) SetThreshold(threshold float64) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	d.threshold = threshold
}

// Reset returns the detector to idle.
func (d *Detector) Reset() { d.triggered = false }
