package monitor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/rdiovox/internal/encode"
	"github.com/MrWong99/rdiovox/internal/observe"
	"github.com/MrWong99/rdiovox/internal/upload"
	"github.com/MrWong99/rdiovox/internal/vox"
)

// dispatch is the worker side of the pipeline: it pulls finished recordings
// off the queue and runs each through encode and upload, one at a time. On
// shutdown any recordings still queued are dropped, not uploaded.
func (m *Monitor) dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sess := <-m.queue:
			m.metrics.QueueDepth.Add(ctx, -1)
			m.process(ctx, sess)
		}
	}
}

// drainAbandoned empties the queue once both pipeline goroutines have exited.
// Anything still queued was finished but never processed. Must not run
// concurrently with capture or dispatch.
func (m *Monitor) drainAbandoned() {
	ctx := context.Background()
	for {
		select {
		case sess := <-m.queue:
			m.metrics.QueueDepth.Add(ctx, -1)
			slog.Warn("dropping queued recording on shutdown",
				"session", sess.ID,
				"duration", sess.Duration(),
			)
			m.metrics.RecordSession(ctx, "abandoned")
		default:
			return
		}
	}
}

// process runs a single recording through the encoder and uploader. Silent
// and too-short results are expected filter outcomes and log at info; real
// failures log at error. Either way the worker moves on to the next
// recording.
func (m *Monitor) process(ctx context.Context, sess *vox.Session) {
	ctx, span := observe.StartSpan(ctx, "pipeline.process")
	defer span.End()
	log := observe.Logger(ctx).With("session", sess.ID)

	start := time.Now()
	art, err := m.encoder.Encode(ctx, sess)
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.metrics.RecordEncode(ctx, time.Since(start), status)

	if err != nil {
		if ctx.Err() != nil {
			log.Info("encode interrupted by shutdown")
			m.metrics.RecordSession(context.WithoutCancel(ctx), "abandoned")
			return
		}
		var silent *encode.SilentAudioError
		var short *encode.TooShortError
		switch {
		case errors.As(err, &silent):
			log.Info("recording silent after trim, discarding", "err", err)
			m.metrics.RecordSession(ctx, "silent")
		case errors.As(err, &short):
			log.Info("recording too short after trim, discarding", "err", err)
			m.metrics.RecordSession(ctx, "too_short")
		default:
			log.Error("encode failed", "err", err)
			m.metrics.RecordSession(ctx, "encode_failed")
		}
		return
	}
	m.metrics.RecordingDuration.Record(ctx, art.Duration.Seconds())

	start = time.Now()
	err = m.uploader.Upload(ctx, art)
	status = "ok"
	if err != nil {
		status = "error"
	}
	m.metrics.RecordUpload(ctx, time.Since(start), status)

	if err != nil {
		if ctx.Err() != nil {
			log.Info("upload interrupted by shutdown", "name", art.Name)
			m.metrics.RecordSession(context.WithoutCancel(ctx), "abandoned")
			return
		}
		if errors.Is(err, upload.ErrAuthRejected) {
			log.Error("upload rejected, check server URL and API key", "err", err)
		} else {
			log.Error("upload failed", "err", err, "name", art.Name)
		}
		m.metrics.RecordSession(ctx, "upload_failed")
		return
	}

	log.Info("recording uploaded",
		"name", art.Name,
		"duration", art.Duration,
		"bytes", len(art.Data),
	)
	m.metrics.RecordSession(ctx, "uploaded")
}
