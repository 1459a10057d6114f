package vox

import (
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/rdiovox/pkg/audio"
)

// observeEvery is the frame interval for peak/RMS observability snapshots
// while a session is accumulating.
const observeEvery = 10

// DefaultMinDuration is the shortest recording worth keeping.
const DefaultMinDuration = time.Second

// Session is one VOX-triggered recording, accumulated frame by frame between
// the trigger and release transitions.
type Session struct {
	// ID uniquely identifies the session across logs, metrics and uploads.
	ID string

	// StartedAt is the wall-clock time the trigger transition happened.
	StartedAt time.Time

	// SampleRate and Channels describe the accumulated samples.
	SampleRate int
	Channels   int

	samples []float32
}

// Samples returns the accumulated interleaved samples in capture order.
func (s *Session) Samples() []float32 { return s.samples }

// Duration returns the audio length of the accumulated samples.
func (s *Session) Duration() time.Duration {
	if s.SampleRate <= 0 || s.Channels <= 0 {
		return 0
	}
	perChannel := len(s.samples) / s.Channels
	return time.Duration(perChannel) * time.Second / time.Duration(s.SampleRate)
}

// Snapshot is a periodic observability measurement of the frame most recently
// appended to a session. It never influences control flow.
type Snapshot struct {
	SessionID string
	Frames    int
	Peak      float64
	RMS       float64
}

// Buffer owns the active recording session, if any. The capture loop drives
// it; it is not safe for concurrent use.
type Buffer struct {
	minDuration time.Duration

	session *Session
	frames  int
}

// NewBuffer returns a Buffer that discards sessions shorter than minDuration.
// A non-positive minDuration falls back to [DefaultMinDuration].
func NewBuffer(minDuration time.Duration) *Buffer {
	if minDuration <= 0 {
		minDuration = DefaultMinDuration
	}
	return &Buffer{minDuration: minDuration}
}

// Active reports whether a session is currently accumulating.
func (b *Buffer) Active() bool { return b.session != nil }

// Begin starts a new session. Calling Begin while a session is active is a
// no-op; the existing session keeps accumulating.
func (b *Buffer) Begin(sampleRate, channels int, now time.Time) *Session {
	if b.session != nil {
		return b.session
	}
	b.session = &Session{
		ID:         uuid.NewString(),
		StartedAt:  now,
		SampleRate: sampleRate,
		Channels:   channels,
	}
	b.frames = 0
	return b.session
}

// Append adds the frame's samples to the active session. Every tenth frame it
// returns an observability snapshot of that frame and ok=true. Appending with
// no active session is a no-op.
func (b *Buffer) Append(frame audio.Frame) (snap Snapshot, ok bool) {
	if b.session == nil {
		return Snapshot{}, false
	}
	b.session.samples = append(b.session.samples, frame.Samples...)
	b.frames++
	if b.frames%observeEvery != 0 {
		return Snapshot{}, false
	}
	return Snapshot{
		SessionID: b.session.ID,
		Frames:    b.frames,
		Peak:      audio.Peak(frame.Samples),
		RMS:       audio.RMS(frame.Samples),
	}, true
}

// Flush ends the active session and returns it, or nil when the accumulated
// audio is shorter than the minimum duration or no session was active. The
// buffer is idle afterwards either way.
func (b *Buffer) Flush() *Session {
	s := b.session
	b.session = nil
	b.frames = 0
	if s == nil {
		return nil
	}
	if s.Duration() < b.minDuration {
		return nil
	}
	return s
}

// Discard drops the active session without the minimum-duration check and
// returns its ID, or "" when no session was active. Used when monitoring
// stops mid-recording.
func (b *Buffer) Discard() string {
	s := b.session
	b.session = nil
	b.frames = 0
	if s == nil {
		return ""
	}
	return s.ID
}
