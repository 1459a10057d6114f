// Package config provides the configuration schema, loader, and component
// registry for the rdiovox monitor.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the monitor process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog returns the [slog.Level] equivalent. Unknown values map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// OverflowPolicy decides what happens to a finished recording when the
// upload queue is already full.
type OverflowPolicy string

const (
	// OverflowDrop discards the newest recording and keeps capturing.
	OverflowDrop OverflowPolicy = "drop"

	// OverflowBlock pauses the capture loop until the worker frees a slot.
	OverflowBlock OverflowPolicy = "block"
)

// IsValid reports whether p is a recognised overflow policy.
func (p OverflowPolicy) IsValid() bool {
	return p == OverflowDrop || p == OverflowBlock
}

// TranscoderKind selects a transcoder implementation registered in the [Registry].
type TranscoderKind string

const (
	// TranscoderFFmpeg shells out to an ffmpeg binary for loudness
	// normalization and MP3 encoding.
	TranscoderFFmpeg TranscoderKind = "ffmpeg"

	// TranscoderNative runs the in-process compand and Opus pipeline.
	TranscoderNative TranscoderKind = "native"
)

// IsValid reports whether k is a recognised transcoder kind.
func (k TranscoderKind) IsValid() bool {
	return k == TranscoderFFmpeg || k == TranscoderNative
}

// Duration is a time.Duration that unmarshals from YAML strings such as
// "1s" or "750ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string such as \"1s\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for rdiovox.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Audio    AudioConfig    `yaml:"audio"`
	Vox      VoxConfig      `yaml:"vox"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Call     CallConfig     `yaml:"call"`
	API      APIConfig      `yaml:"api"`

	// AutoStart begins monitoring as soon as the process is up, without
	// waiting for a control request.
	AutoStart bool `yaml:"auto_start"`
}

// ServerConfig identifies the archival server that receives uploads.
type ServerConfig struct {
	// URL is the base address of the Rdio Scanner server, without the
	// /api/call-upload path (e.g., "https://scanner.example.com").
	URL string `yaml:"url"`

	// APIKey authenticates uploads. When empty, recordings are captured
	// and encoded but every upload is rejected before any network use.
	APIKey string `yaml:"api_key"`
}

// AudioConfig selects and shapes the capture device.
type AudioConfig struct {
	// Host names the audio host backend (e.g., "portaudio").
	Host string `yaml:"host"`

	// DeviceIndex picks the input device. When nil, the host's default
	// input device is used.
	DeviceIndex *int `yaml:"device_index"`

	// SampleRate is the capture rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the number of capture channels (1 = mono, 2 = stereo).
	Channels int `yaml:"channels"`

	// FramesPerBuffer is the number of sample frames delivered per read.
	FramesPerBuffer int `yaml:"frames_per_buffer"`

	// InputGain scales every captured sample before detection. 1.0 is
	// unity; the default 0.5 leaves headroom on hot inputs.
	InputGain float64 `yaml:"input_gain"`
}

// VoxConfig tunes voice-activated recording.
type VoxConfig struct {
	// Threshold is the base RMS level for voice detection. Recording
	// starts above 1.2x this value and stops below 0.4x.
	Threshold float64 `yaml:"threshold"`

	// MinRecordingDuration discards recordings shorter than this.
	MinRecordingDuration Duration `yaml:"min_recording_duration"`
}

// PipelineConfig shapes the encode and upload stages.
type PipelineConfig struct {
	// QueueSize bounds how many finished recordings may wait for the
	// upload worker.
	QueueSize int `yaml:"queue_size"`

	// Overflow decides what happens to a finished recording when the
	// queue is full.
	Overflow OverflowPolicy `yaml:"overflow"`

	// Transcoders lists the implementations to try in order. The first
	// healthy one wins; later entries are fallbacks.
	Transcoders []TranscoderKind `yaml:"transcoders"`

	// TempDir hosts per-recording scratch directories. Empty means the
	// system temp directory.
	TempDir string `yaml:"temp_dir"`
}

// CallConfig is the static call metadata attached verbatim to every upload.
type CallConfig struct {
	// Frequency is the monitored frequency in Hz (e.g., "155250000").
	Frequency string `yaml:"frequency"`

	// Source is the source (unit) identifier.
	Source string `yaml:"source"`

	// System is the numeric system identifier on the server.
	System string `yaml:"system"`

	// SystemLabel is the human-readable system name.
	SystemLabel string `yaml:"system_label"`

	// Talkgroup is the numeric talkgroup identifier on the server.
	Talkgroup string `yaml:"talkgroup"`

	// TalkgroupGroup is the group the talkgroup belongs to (e.g., "Fire").
	TalkgroupGroup string `yaml:"talkgroup_group"`

	// TalkgroupLabel is the human-readable talkgroup name.
	TalkgroupLabel string `yaml:"talkgroup_label"`

	// TalkgroupTag is the service tag shown next to calls.
	TalkgroupTag string `yaml:"talkgroup_tag"`
}

// APIConfig holds the local control surface settings.
type APIConfig struct {
	// ListenAddr is the TCP address of the local HTTP API (e.g., ":8090").
	// Empty disables the API server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}
