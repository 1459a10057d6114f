package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// KnownAudioHosts lists audio host names this build ships a backend for.
// Used by [Validate] to warn about unrecognised host names.
var KnownAudioHosts = []string{"portaudio"}

// Default returns a Config populated with the built-in defaults: default
// input device at 44.1 kHz mono, 0.5 input gain, VOX threshold 0.1, one
// second minimum recording, a four-slot drop-on-overflow queue, and the
// ffmpeg transcoder with the native one as fallback.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies the RDIO_SERVER_URL
// and RDIO_API_KEY environment overrides and the defaults, and validates the
// result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets the server credentials come from the environment
// (typically a .env file loaded by main) so they can be kept out of the
// config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RDIO_SERVER_URL"); v != "" {
		cfg.Server.URL = v
	}
	if v := os.Getenv("RDIO_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
}

// applyDefaults fills in zero-valued fields. Explicit zero and absent are
// indistinguishable in YAML, so zero always means "use the default".
func applyDefaults(cfg *Config) {
	if cfg.Audio.Host == "" {
		cfg.Audio.Host = "portaudio"
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = 44100
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.FramesPerBuffer == 0 {
		cfg.Audio.FramesPerBuffer = 1024
	}
	if cfg.Audio.InputGain == 0 {
		cfg.Audio.InputGain = 0.5
	}
	if cfg.Vox.Threshold == 0 {
		cfg.Vox.Threshold = 0.1
	}
	if cfg.Vox.MinRecordingDuration == 0 {
		cfg.Vox.MinRecordingDuration = Duration(time.Second)
	}
	if cfg.Pipeline.QueueSize == 0 {
		cfg.Pipeline.QueueSize = 4
	}
	if cfg.Pipeline.Overflow == "" {
		cfg.Pipeline.Overflow = OverflowDrop
	}
	if len(cfg.Pipeline.Transcoders) == 0 {
		cfg.Pipeline.Transcoders = []TranscoderKind{TranscoderFFmpeg, TranscoderNative}
	}
	if cfg.API.LogLevel == "" {
		cfg.API.LogLevel = LogInfo
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Audio
	if !slices.Contains(KnownAudioHosts, cfg.Audio.Host) {
		slog.Warn("unknown audio host, may be a typo or a test backend",
			"host", cfg.Audio.Host,
			"known", KnownAudioHosts,
		)
	}
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels != 1 && cfg.Audio.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is invalid; valid values: 1 (mono), 2 (stereo)", cfg.Audio.Channels))
	}
	if cfg.Audio.FramesPerBuffer <= 0 {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer %d must be positive", cfg.Audio.FramesPerBuffer))
	}
	if cfg.Audio.InputGain < 0 {
		errs = append(errs, fmt.Errorf("audio.input_gain %.2f must not be negative", cfg.Audio.InputGain))
	} else if cfg.Audio.InputGain > 4 {
		slog.Warn("audio.input_gain is very hot; captured audio will likely clip", "input_gain", cfg.Audio.InputGain)
	}

	// Vox
	if cfg.Vox.Threshold < 0 {
		errs = append(errs, fmt.Errorf("vox.threshold %.3f must not be negative", cfg.Vox.Threshold))
	} else if cfg.Vox.Threshold >= 1 {
		slog.Warn("vox.threshold is at or above full scale; recording will likely never trigger", "threshold", cfg.Vox.Threshold)
	}
	if cfg.Vox.MinRecordingDuration < 0 {
		errs = append(errs, fmt.Errorf("vox.min_recording_duration %s must not be negative", cfg.Vox.MinRecordingDuration.Std()))
	}

	// Pipeline
	if cfg.Pipeline.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("pipeline.queue_size %d must not be negative", cfg.Pipeline.QueueSize))
	}
	if !cfg.Pipeline.Overflow.IsValid() {
		errs = append(errs, fmt.Errorf("pipeline.overflow %q is invalid; valid values: drop, block", cfg.Pipeline.Overflow))
	}
	seen := make(map[TranscoderKind]int, len(cfg.Pipeline.Transcoders))
	for i, kind := range cfg.Pipeline.Transcoders {
		prefix := fmt.Sprintf("pipeline.transcoders[%d]", i)
		if !kind.IsValid() {
			errs = append(errs, fmt.Errorf("%s %q is invalid; valid values: ffmpeg, native", prefix, kind))
			continue
		}
		if prev, ok := seen[kind]; ok {
			errs = append(errs, fmt.Errorf("%s %q is a duplicate of pipeline.transcoders[%d]", prefix, kind, prev))
		}
		seen[kind] = i
	}

	// API
	if !cfg.API.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("api.log_level %q is invalid; valid values: debug, info, warn, error", cfg.API.LogLevel))
	}

	// A partial upload config is legal, but every artifact will be rejected
	// before the network.
	switch {
	case cfg.Server.URL == "" && cfg.Server.APIKey == "":
		slog.Warn("server.url and server.api_key are empty; recordings will be captured and encoded but never uploaded")
	case cfg.Server.URL == "":
		slog.Warn("server.api_key is set but server.url is empty; uploads will fail")
	case cfg.Server.APIKey == "":
		slog.Warn("server.url is set but server.api_key is empty; uploads will fail")
	}

	if cfg.API.ListenAddr == "" && !cfg.AutoStart {
		slog.Warn("api.listen_addr is empty and auto_start is off; the monitor will start with nothing to do")
	}

	return errors.Join(errs...)
}
