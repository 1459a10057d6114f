// Package mock provides in-memory mock implementations of the [audio.Host]
// and [audio.Source] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{Frames: []audio.Frame{frame1, frame2}}
//	host := &mock.Host{OpenResult: src}
//	got, err := host.Open(ctx, audio.StreamConfig{SampleRate: 44100, Channels: 1})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/rdiovox/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source].
// Set the exported fields before use; inspect the Call* fields after.
type Source struct {
	mu sync.Mutex

	// Frames are returned by successive [Source.ReadFrame] calls, in order.
	Frames []audio.Frame

	// ReadErr is returned by ReadFrame once Frames is exhausted. If nil,
	// ReadFrame blocks until the context is cancelled and returns ctx.Err().
	ReadErr error

	// CloseError is returned by [Source.Close].
	CloseError error

	// CallCountReadFrame records how many times ReadFrame was called.
	CallCountReadFrame int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	next   int
	closed chan struct{}
	once   sync.Once
}

// ReadFrame implements [audio.Source]. It pops the next queued frame. When the
// queue is exhausted it returns ReadErr, or blocks until ctx is cancelled or
// Close is called.
func (s *Source) ReadFrame(ctx context.Context) (audio.Frame, error) {
	s.mu.Lock()
	s.CallCountReadFrame++
	s.initLocked()
	if s.next < len(s.Frames) {
		f := s.Frames[s.next]
		s.next++
		s.mu.Unlock()
		return f, nil
	}
	err := s.ReadErr
	closed := s.closed
	s.mu.Unlock()

	if err != nil {
		return audio.Frame{}, err
	}
	select {
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	case <-closed:
		return audio.Frame{}, &audio.DeviceError{Op: "read", Err: context.Canceled}
	}
}

// Close implements [audio.Source]. Returns CloseError and unblocks any
// ReadFrame waiting on an exhausted queue.
func (s *Source) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	s.initLocked()
	s.mu.Unlock()
	s.once.Do(func() { close(s.closed) })
	return s.CloseError
}

func (s *Source) initLocked() {
	if s.closed == nil {
		s.closed = make(chan struct{})
	}
}

// ─── Host ─────────────────────────────────────────────────────────────────────

// Host is a mock implementation of [audio.Host].
// Set the exported Result fields before use; inspect the Call* and Recorded*
// fields after.
type Host struct {
	mu sync.Mutex

	// DevicesResult is returned by [Host.Devices].
	DevicesResult []audio.DeviceInfo

	// DevicesError is returned by [Host.Devices].
	DevicesError error

	// OpenResult is returned by [Host.Open] when OpenError is nil.
	OpenResult audio.Source

	// OpenError is returned by [Host.Open].
	OpenError error

	// CloseError is returned by [Host.Close].
	CloseError error

	// CallCountDevices records how many times Devices was called.
	CallCountDevices int

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// RecordedConfigs holds the configs passed to Open, in order.
	RecordedConfigs []audio.StreamConfig
}

// Devices implements [audio.Host]. Returns DevicesResult and DevicesError.
func (h *Host) Devices() ([]audio.DeviceInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountDevices++
	return h.DevicesResult, h.DevicesError
}

// Open implements [audio.Host]. Records cfg and returns OpenResult, OpenError.
func (h *Host) Open(_ context.Context, cfg audio.StreamConfig) (audio.Source, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountOpen++
	h.RecordedConfigs = append(h.RecordedConfigs, cfg)
	if h.OpenError != nil {
		return nil, h.OpenError
	}
	return h.OpenResult, nil
}

// Close implements [audio.Host]. Returns CloseError.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountClose++
	return h.CloseError
}

// Compile-time interface checks.
var (
	_ audio.Source = (*Source)(nil)
	_ audio.Host   = (*Host)(nil)
)
