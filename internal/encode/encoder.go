// Package encode turns finished recording sessions into upload-ready
// artifacts: validation, gain correction, quantization into an intermediate
// WAV, and transcoding through a chain of interchangeable implementations.
package encode

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/MrWong99/rdiovox/internal/vox"
	"github.com/MrWong99/rdiovox/pkg/audio"
)

const (
	// minPCMBytes is the smallest session worth encoding, measured in bytes
	// of captured float32 PCM.
	minPCMBytes = 4096

	// silencePeak marks a session as dead air; anything below it is assumed
	// to be a stuck squelch or a wiring fault, not a transmission.
	silencePeak = 0.001

	// quietPeak is the level under which automatic gain kicks in.
	quietPeak = 0.01

	// maxAutoGain caps the automatic gain correction.
	maxAutoGain = 100.0
)

// TooShortError reports a session with too little captured audio to encode.
// It signals a discard, not a pipeline fault.
type TooShortError struct {
	// Bytes is the captured PCM size that failed the minimum.
	Bytes int
}

func (e *TooShortError) Error() string {
	return fmt.Sprintf("encode: audio data too short: %d bytes", e.Bytes)
}

// SilentAudioError reports a session whose peak level never rose above the
// silence threshold. It signals a discard, not a pipeline fault.
type SilentAudioError struct {
	// Peak is the largest absolute sample value observed.
	Peak float64
}

func (e *SilentAudioError) Error() string {
	return fmt.Sprintf("encode: audio appears silent: peak=%.6f", e.Peak)
}

// Artifact is an encoded recording plus the metadata the uploader needs.
// Each artifact is consumed exactly once; its Data is released after upload.
type Artifact struct {
	// SessionID ties the artifact back to the recording session.
	SessionID string

	// Name is the upload file name, e.g. "audio_20250116_142512_041.mp3".
	Name string

	// MIME is the media type of Data.
	MIME string

	// Data is the complete encoded payload.
	Data []byte

	// Duration is the audio length of the recording.
	Duration time.Duration

	// RecordedAt is when the recording started.
	RecordedAt time.Time
}

// Encoder validates, conditions, and transcodes sessions. Safe for
// concurrent use, though the dispatch worker is its only caller in practice.
type Encoder struct {
	chain   *Chain
	tempDir string
}

// New returns an Encoder that transcodes through chain. Working files are
// created under tempDir; an empty tempDir means the system default.
func New(chain *Chain, tempDir string) *Encoder {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Encoder{chain: chain, tempDir: tempDir}
}

// Encode conditions the session audio and produces the final artifact.
//
// Sessions failing validation return [TooShortError] or [SilentAudioError].
// Quiet audio is boosted by up to 100x, then all audio is normalized to full
// scale before quantization. Every working file is removed before Encode
// returns, on success and failure alike.
func (e *Encoder) Encode(ctx context.Context, s *vox.Session) (*Artifact, error) {
	samples := s.Samples()
	if len(samples)*4 < minPCMBytes {
		return nil, &TooShortError{Bytes: len(samples) * 4}
	}
	peak := audio.Peak(samples)
	if peak < silencePeak {
		return nil, &SilentAudioError{Peak: peak}
	}

	conditioned := make([]float32, len(samples))
	copy(conditioned, samples)
	if peak < quietPeak {
		gain := min(1/peak, maxAutoGain)
		slog.Warn("audio levels very low, applying gain",
			"session", s.ID, "peak", peak, "gain", gain)
		for i := range conditioned {
			conditioned[i] *= float32(gain)
		}
		peak = audio.Peak(conditioned)
	}
	if peak > 0 {
		scale := float32(1 / peak)
		for i := range conditioned {
			conditioned[i] *= scale
		}
	}

	workDir, err := os.MkdirTemp(e.tempDir, "rdiovox-")
	if err != nil {
		return nil, fmt.Errorf("encode: create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	wavPath := filepath.Join(workDir, "session.wav")
	if err := audio.WriteWAVFile(wavPath, conditioned, s.SampleRate, s.Channels); err != nil {
		return nil, fmt.Errorf("encode: write intermediate wav: %w", err)
	}

	res, err := e.chain.Run(ctx, wavPath)
	if err != nil {
		return nil, err
	}

	return &Artifact{
		SessionID:  s.ID,
		Name:       artifactName(s.StartedAt, res.Ext),
		MIME:       res.MIME,
		Data:       res.Data,
		Duration:   s.Duration(),
		RecordedAt: s.StartedAt,
	}, nil
}

// artifactName builds the timestamped upload name, millisecond precision.
func artifactName(ts time.Time, ext string) string {
	return fmt.Sprintf("audio_%s_%03d%s",
		ts.Format("20060102_150405"), ts.Nanosecond()/1e6, ext)
}
