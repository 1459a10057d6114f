// Package audio defines the interfaces and types for audio capture within
// rdiovox.
//
// The two primary abstractions are:
//
//   - [Host]: enumerates input devices and opens a [Source] on one of them.
//   - [Source]: an open capture stream delivering [Frame] values until closed.
//
// Implementations of these interfaces are provided by host-specific adapter
// packages (e.g., audio/portaudio). The interfaces are intentionally narrow to
// keep the monitor decoupled from capture-backend details.
//
// This package lives under pkg/ because external code (alternative capture
// backends) is expected to implement [Host] and [Source].
package audio

import (
	"context"
)

// StreamConfig describes the capture stream a [Host] should open.
type StreamConfig struct {
	// DeviceIndex selects the input device. A negative index selects the
	// host's default input device.
	DeviceIndex int

	// SampleRate in Hz.
	SampleRate int

	// Channels is the number of input channels to capture.
	Channels int

	// FramesPerBuffer is the number of sample frames delivered per ReadFrame.
	FramesPerBuffer int

	// Gain is a linear multiplier applied to every sample at capture time.
	// Zero means no scaling (treated as 1.0).
	Gain float64
}

// Source represents an open capture stream on one input device.
//
// A Source is obtained from [Host.Open] and remains valid until
// [Source.Close] is called. ReadFrame and Close may be called from different
// goroutines; concurrent ReadFrame calls are not supported.
type Source interface {
	// ReadFrame blocks until the next buffer of samples is available and
	// returns it as a freshly allocated [Frame]. The returned frame does not
	// alias internal buffers and may be retained by the caller.
	//
	// A fatal stream failure is returned as a [DeviceError]; the source is
	// unusable afterwards and must be closed. Context cancellation returns
	// ctx.Err().
	ReadFrame(ctx context.Context) (Frame, error)

	// Close stops the stream and releases the device. It is safe to call
	// Close more than once; subsequent calls are no-ops and return nil.
	Close() error
}

// Host is the entry point for a capture backend.
// Implementations wrap backend-specific libraries and expose uniform device
// enumeration and stream opening.
//
// Implementations must be safe for concurrent use.
type Host interface {
	// Devices lists the currently available input devices. Devices with no
	// input channels are excluded.
	Devices() ([]DeviceInfo, error)

	// Open starts a capture stream per cfg and returns the live [Source].
	// The supplied ctx governs the open attempt only; the stream stays alive
	// until [Source.Close].
	//
	// Failures to locate or start the device are returned as a [DeviceError].
	Open(ctx context.Context, cfg StreamConfig) (Source, error)

	// Close releases the backend itself. No Source may be used afterwards.
	Close() error
}
