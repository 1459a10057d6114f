// Package monitor drives the capture → detect → buffer → encode → upload
// pipeline and owns its lifecycle.
//
// A Monitor runs two goroutines while active: the capture loop, which reads
// frames from the input device and feeds the VOX detector and recording
// buffer, and the dispatch worker, which drains finished recordings from a
// bounded queue through the encoder and uploader. Status is published
// through atomics so the HTTP surface never contends with the audio path.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/rdiovox/internal/config"
	"github.com/MrWong99/rdiovox/internal/encode"
	"github.com/MrWong99/rdiovox/internal/observe"
	"github.com/MrWong99/rdiovox/internal/vox"
	"github.com/MrWong99/rdiovox/pkg/audio"
)

// State is the controller lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Status is a point-in-time snapshot of the monitor.
type Status struct {
	// Monitoring reports whether the capture loop is running.
	Monitoring bool `json:"monitoring"`

	// Recording reports whether a VOX session is currently accumulating.
	Recording bool `json:"recording"`

	// Level is the most recent RMS level in [0, 1].
	Level float64 `json:"level"`

	// DBLevel is Level expressed in dBFS, floored at -100.
	DBLevel float64 `json:"db_level"`
}

// Encoder turns a finished recording session into an upload artifact.
type Encoder interface {
	Encode(ctx context.Context, s *vox.Session) (*encode.Artifact, error)
}

// Uploader delivers artifacts to the archival server.
type Uploader interface {
	Upload(ctx context.Context, art *encode.Artifact) error
	Probe(ctx context.Context) error
}

// Monitor is the pipeline controller. Create one with [New]; all exported
// methods are safe for concurrent use.
type Monitor struct {
	host     audio.Host
	encoder  Encoder
	uploader Uploader
	cfg      *config.Config
	metrics  *observe.Metrics

	state     atomic.Int32
	recording atomic.Bool
	level     atomic.Uint64 // math.Float64bits of the last RMS
	dbLevel   atomic.Uint64 // math.Float64bits of the last dBFS value
	threshold atomic.Uint64 // math.Float64bits of the VOX base threshold

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	queue  chan *vox.Session
}

// Option adjusts a [Monitor].
type Option func(*Monitor)

// WithMetrics substitutes the metrics instance, primarily for tests.
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Monitor) { m.metrics = met }
}

// New returns a stopped Monitor wired to the given dependencies. The config
// is treated as a snapshot: apart from the VOX threshold (see
// [Monitor.SetThreshold]) and the log level, changes apply on the next Start.
func New(host audio.Host, enc Encoder, up Uploader, cfg *config.Config, opts ...Option) *Monitor {
	m := &Monitor{
		host:     host,
		encoder:  enc,
		uploader: up,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	m.threshold.Store(math.Float64bits(cfg.Vox.Threshold))
	m.storeLevel(vox.Level{RMS: 0, DB: vox.DB(0)})
	return m
}

// Start opens the input device and launches the capture and dispatch
// goroutines. Starting an already-running monitor is a no-op. A failed
// server probe is logged as a warning and does not prevent the start; a
// device that cannot be opened does.
//
// ctx bounds only the startup work. The running pipeline is detached from it
// and stops via [Monitor.Stop] or on a device error.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		slog.Debug("monitor start ignored", "state", m.State().String())
		return nil
	}

	if err := m.uploader.Probe(ctx); err != nil {
		slog.Warn("server probe failed; uploads may not succeed", "err", err)
	}

	streamCfg := m.streamConfig()
	src, err := m.host.Open(ctx, streamCfg)
	if err != nil {
		m.state.Store(int32(StateStopped))
		return fmt.Errorf("monitor: open input: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	m.mu.Lock()
	m.cancel = cancel
	m.done = make(chan struct{})
	m.queue = make(chan *vox.Session, m.cfg.Pipeline.QueueSize)
	done := m.done
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return m.capture(gctx, src) })
	g.Go(func() error { return m.dispatch(gctx) })

	go func() {
		err := g.Wait()
		if cerr := src.Close(); cerr != nil {
			slog.Warn("closing audio input", "err", cerr)
		}
		m.drainAbandoned()
		m.recording.Store(false)
		m.storeLevel(vox.Level{RMS: 0, DB: vox.DB(0)})
		m.state.Store(int32(StateStopped))
		close(done)
		if err != nil {
			slog.Error("monitor stopped", "err", err)
		} else {
			slog.Info("monitor stopped")
		}
	}()

	m.state.Store(int32(StateRunning))
	slog.Info("monitor running",
		"device_index", streamCfg.DeviceIndex,
		"sample_rate", streamCfg.SampleRate,
		"channels", streamCfg.Channels,
		"vox_threshold", math.Float64frombits(m.threshold.Load()),
	)
	return nil
}

// Stop cancels the pipeline and waits for both goroutines to exit and the
// device to be released. An in-progress recording is abandoned, never
// uploaded. Stopping a monitor that is not running is a no-op.
func (m *Monitor) Stop() error {
	if !m.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return nil
	}
	slog.Info("stopping monitor")

	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
	return nil
}

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// Status returns a point-in-time snapshot for the control surface.
func (m *Monitor) Status() Status {
	return Status{
		Monitoring: m.State() == StateRunning,
		Recording:  m.recording.Load(),
		Level:      math.Float64frombits(m.level.Load()),
		DBLevel:    math.Float64frombits(m.dbLevel.Load()),
	}
}

// ListDevices enumerates the host's input devices.
func (m *Monitor) ListDevices() ([]audio.DeviceInfo, error) {
	return m.host.Devices()
}

// SetThreshold swaps the VOX base threshold. The capture loop applies it
// between frames, so an active trigger state is never disturbed mid-frame.
func (m *Monitor) SetThreshold(threshold float64) {
	m.threshold.Store(math.Float64bits(threshold))
}

// capture is the device-facing loop: read a frame, append it to an active
// recording, update the detector, and open or flush sessions on trigger
// edges. The frame that flips the detector on is not part of the recording;
// the frame that flips it off is.
func (m *Monitor) capture(ctx context.Context, src audio.Source) error {
	det := vox.NewDetector(math.Float64frombits(m.threshold.Load()))
	buf := vox.NewBuffer(m.cfg.Vox.MinRecordingDuration.Std())
	var cur *vox.Session

	defer func() {
		if id := buf.Discard(); id != "" {
			slog.Info("recording abandoned by shutdown", "session", id)
			m.metrics.RecordSession(context.WithoutCancel(ctx), "abandoned")
		}
		m.recording.Store(false)
	}()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		frame, err := src.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("monitor: read frame: %w", err)
		}
		m.metrics.FramesRead.Add(ctx, 1)

		if t := math.Float64frombits(m.threshold.Load()); t != det.Threshold() {
			det.SetThreshold(t)
			slog.Info("vox threshold updated", "threshold", t)
		}

		if buf.Active() {
			if snap, ok := buf.Append(frame); ok {
				m.metrics.AudioLevel.Record(ctx, snap.RMS)
				slog.Debug("recording level",
					"session", snap.SessionID,
					"frames", snap.Frames,
					"peak", snap.Peak,
					"rms", snap.RMS,
				)
			}
		}

		level, triggered := det.Update(frame)
		m.storeLevel(level)

		switch {
		case triggered && !buf.Active():
			cur = buf.Begin(frame.SampleRate, frame.Channels, time.Now())
			m.recording.Store(true)
			slog.Info("voice detected, recording started",
				"session", cur.ID,
				"rms", level.RMS,
				"db", level.DB,
			)

		case !triggered && buf.Active():
			finished := buf.Flush()
			m.recording.Store(false)
			if finished == nil {
				slog.Info("recording too short, discarding",
					"session", cur.ID,
					"duration", cur.Duration(),
				)
				m.metrics.RecordSession(ctx, "too_short")
			} else {
				slog.Info("voice ended, recording finished",
					"session", finished.ID,
					"duration", finished.Duration(),
				)
				m.enqueue(ctx, finished)
			}
			cur = nil
		}
	}
}

// enqueue hands a finished recording to the dispatch worker. When the queue
// is full the configured overflow policy decides: drop discards the newest
// recording, block pauses capture until a slot frees up.
func (m *Monitor) enqueue(ctx context.Context, sess *vox.Session) {
	select {
	case m.queue <- sess:
		m.metrics.QueueDepth.Add(ctx, 1)
		return
	default:
	}

	if m.cfg.Pipeline.Overflow == config.OverflowBlock {
		slog.Warn("upload queue full, blocking capture", "session", sess.ID)
		select {
		case m.queue <- sess:
			m.metrics.QueueDepth.Add(ctx, 1)
		case <-ctx.Done():
			m.metrics.RecordSession(context.WithoutCancel(ctx), "abandoned")
		}
		return
	}

	slog.Warn("upload queue full, dropping recording",
		"session", sess.ID,
		"duration", sess.Duration(),
	)
	m.metrics.RecordSession(ctx, "queue_dropped")
}

// streamConfig derives the device parameters from the config snapshot.
func (m *Monitor) streamConfig() audio.StreamConfig {
	idx := -1
	if m.cfg.Audio.DeviceIndex != nil {
		idx = *m.cfg.Audio.DeviceIndex
	}
	return audio.StreamConfig{
		DeviceIndex:     idx,
		SampleRate:      m.cfg.Audio.SampleRate,
		Channels:        m.cfg.Audio.Channels,
		FramesPerBuffer: m.cfg.Audio.FramesPerBuffer,
		Gain:            m.cfg.Audio.InputGain,
	}
}

func (m *Monitor) storeLevel(l vox.Level) {
	m.level.Store(math.Float64bits(l.RMS))
	m.dbLevel.Store(math.Float64bits(l.DB))
}
