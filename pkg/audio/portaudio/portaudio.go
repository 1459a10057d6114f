// Package portaudio implements [audio.Host] and [audio.Source] on top of the
// PortAudio capture library.
package portaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/rdiovox/pkg/audio"
)

// Host opens capture streams through PortAudio. Create one with [New]; Close
// releases the PortAudio runtime and must not be called while a stream from
// this host is still open.
type Host struct {
	closeOnce sync.Once
	closeErr  error
}

// New initializes the PortAudio runtime and returns a ready Host.
func New() (*Host, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, &audio.DeviceError{Op: "initialize", Err: err}
	}
	return &Host{}, nil
}

// Devices implements [audio.Host]. Output-only devices are skipped.
func (h *Host) Devices() ([]audio.DeviceInfo, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, &audio.DeviceError{Op: "enumerate", Err: err}
	}
	infos := make([]audio.DeviceInfo, 0, len(devs))
	for i, d := range devs {
		if d.MaxInputChannels <= 0 {
			continue
		}
		infos = append(infos, audio.DeviceInfo{
			Index:      i,
			Name:       d.Name,
			Channels:   d.MaxInputChannels,
			SampleRate: d.DefaultSampleRate,
		})
	}
	return infos, nil
}

// Open implements [audio.Host].
func (h *Host) Open(ctx context.Context, cfg audio.StreamConfig) (audio.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dev, err := h.lookupDevice(cfg.DeviceIndex)
	if err != nil {
		return nil, err
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = cfg.Channels
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.FramesPerBuffer

	buf := make([]float32, cfg.FramesPerBuffer*cfg.Channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, &audio.DeviceError{Op: "open", Err: err}
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, &audio.DeviceError{Op: "start", Err: err}
	}

	slog.Debug("capture stream started",
		"device", dev.Name,
		"sampleRate", cfg.SampleRate,
		"channels", cfg.Channels,
		"framesPerBuffer", cfg.FramesPerBuffer,
	)

	gain := cfg.Gain
	if gain == 0 {
		gain = 1
	}
	return &source{
		stream: stream,
		buf:    buf,
		cfg:    cfg,
		gain:   float32(gain),
	}, nil
}

// lookupDevice resolves cfg.DeviceIndex to a PortAudio device. A negative
// index falls back to the host default input.
func (h *Host) lookupDevice(index int) (*portaudio.DeviceInfo, error) {
	if index < 0 {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, &audio.DeviceError{Op: "open", Err: fmt.Errorf("no default input device: %w", err)}
		}
		return dev, nil
	}
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, &audio.DeviceError{Op: "enumerate", Err: err}
	}
	if index >= len(devs) {
		return nil, &audio.DeviceError{Op: "open", Err: fmt.Errorf("device index %d out of range (%d devices)", index, len(devs))}
	}
	dev := devs[index]
	if dev.MaxInputChannels <= 0 {
		return nil, &audio.DeviceError{Op: "open", Err: fmt.Errorf("device %q has no input channels", dev.Name)}
	}
	return dev, nil
}

// Close implements [audio.Host].
func (h *Host) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = portaudio.Terminate()
	})
	return h.closeErr
}

// source is the live capture stream. ReadFrame owns buf between calls; the
// frame handed out is always a copy.
type source struct {
	stream *portaudio.Stream
	buf    []float32
	cfg    audio.StreamConfig
	gain   float32

	mu      sync.Mutex
	closed  bool
	elapsed time.Duration
}

// ReadFrame implements [audio.Source].
func (s *source) ReadFrame(ctx context.Context) (audio.Frame, error) {
	if err := ctx.Err(); err != nil {
		return audio.Frame{}, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return audio.Frame{}, &audio.DeviceError{Op: "read", Err: fmt.Errorf("stream closed")}
	}
	s.mu.Unlock()

	if err := s.stream.Read(); err != nil {
		return audio.Frame{}, &audio.DeviceError{Op: "read", Err: err}
	}

	samples := make([]float32, len(s.buf))
	copy(samples, s.buf)
	if s.gain != 1 {
		for i := range samples {
			samples[i] *= s.gain
		}
	}

	frame := audio.Frame{
		Samples:    samples,
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
	}
	s.mu.Lock()
	frame.Timestamp = s.elapsed
	s.elapsed += frame.Duration()
	s.mu.Unlock()
	return frame, nil
}

// Close implements [audio.Source].
func (s *source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.stream.Stop(); err != nil {
		_ = s.stream.Close()
		return &audio.DeviceError{Op: "stop", Err: err}
	}
	if err := s.stream.Close(); err != nil {
		return &audio.DeviceError{Op: "close", Err: err}
	}
	return nil
}

// Compile-time interface checks.
var (
	_ audio.Host   = (*Host)(nil)
	_ audio.Source = (*source)(nil)
)
