package audio

import (
	"fmt"
	"time"
)

// Frame represents a single chunk of captured audio flowing through the
// pipeline. A frame is handed out as a value with freshly allocated Samples;
// receivers may keep or mutate it without synchronization.
type Frame struct {
	// Samples holds interleaved float32 PCM in the range [-1, 1].
	Samples []float32

	// SampleRate in Hz (e.g., 44100 for a typical capture device).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo interleaved.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame, derived from its sample
// count and format. Returns 0 for frames with an unset format.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	perChannel := len(f.Samples) / f.Channels
	return time.Duration(perChannel) * time.Second / time.Duration(f.SampleRate)
}

// DeviceInfo describes one input device as reported by the audio host.
type DeviceInfo struct {
	// Index identifies the device for [StreamConfig.DeviceIndex].
	Index int `json:"index"`

	// Name is the host-reported device name.
	Name string `json:"name"`

	// Channels is the maximum number of input channels the device supports.
	Channels int `json:"channels"`

	// SampleRate is the device's default sample rate in Hz.
	SampleRate float64 `json:"sample_rate"`
}

// DeviceError wraps a fatal failure of the capture device or its host stream.
// A DeviceError terminates the monitoring run; callers detect it with
// [errors.As] and must not continue reading from the source that produced it.
type DeviceError struct {
	// Op names the failed operation, e.g. "open" or "read".
	Op string

	// Err is the underlying host error.
	Err error
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio: device %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying host error.
func (e *DeviceError) Unwrap() error { return e.Err }
