package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/rdiovox/internal/config"
	"github.com/MrWong99/rdiovox/pkg/audio"
	audiomock "github.com/MrWong99/rdiovox/pkg/audio/mock"
	"github.com/MrWong99/rdiovox/pkg/transcode"
	transcodemock "github.com/MrWong99/rdiovox/pkg/transcode/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  url: https://scanner.example.com
  api_key: d2079382-07df-4aa9-8d59-5d21d58272b4

audio:
  host: portaudio
  device_index: 2
  sample_rate: 48000
  channels: 2
  frames_per_buffer: 2048
  input_gain: 0.8

vox:
  threshold: 0.05
  min_recording_duration: 1500ms

pipeline:
  queue_size: 8
  overflow: block
  transcoders: [native]
  temp_dir: /var/tmp/rdiovox

call:
  frequency: "155250000"
  source: "4001"
  system: "11"
  system_label: County
  talkgroup: "54321"
  talkgroup_group: Fire
  talkgroup_label: Dispatch
  talkgroup_tag: Fire Dispatch

api:
  listen_addr: ":8090"
  log_level: debug

auto_start: true
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.URL != "https://scanner.example.com" {
		t.Errorf("server.url: got %q", cfg.Server.URL)
	}
	if cfg.Audio.DeviceIndex == nil || *cfg.Audio.DeviceIndex != 2 {
		t.Errorf("audio.device_index: got %v, want 2", cfg.Audio.DeviceIndex)
	}
	if cfg.Audio.SampleRate != 48000 {
		t.Errorf("audio.sample_rate: got %d, want 48000", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels != 2 {
		t.Errorf("audio.channels: got %d, want 2", cfg.Audio.Channels)
	}
	if cfg.Audio.InputGain != 0.8 {
		t.Errorf("audio.input_gain: got %.2f, want 0.8", cfg.Audio.InputGain)
	}
	if cfg.Vox.Threshold != 0.05 {
		t.Errorf("vox.threshold: got %.3f, want 0.05", cfg.Vox.Threshold)
	}
	if cfg.Vox.MinRecordingDuration.Std() != 1500*time.Millisecond {
		t.Errorf("vox.min_recording_duration: got %s, want 1.5s", cfg.Vox.MinRecordingDuration.Std())
	}
	if cfg.Pipeline.QueueSize != 8 {
		t.Errorf("pipeline.queue_size: got %d, want 8", cfg.Pipeline.QueueSize)
	}
	if cfg.Pipeline.Overflow != config.OverflowBlock {
		t.Errorf("pipeline.overflow: got %q, want block", cfg.Pipeline.Overflow)
	}
	if len(cfg.Pipeline.Transcoders) != 1 || cfg.Pipeline.Transcoders[0] != config.TranscoderNative {
		t.Errorf("pipeline.transcoders: got %v, want [native]", cfg.Pipeline.Transcoders)
	}
	if cfg.Call.TalkgroupLabel != "Dispatch" {
		t.Errorf("call.talkgroup_label: got %q", cfg.Call.TalkgroupLabel)
	}
	if cfg.API.ListenAddr != ":8090" {
		t.Errorf("api.listen_addr: got %q, want :8090", cfg.API.ListenAddr)
	}
	if cfg.API.LogLevel != config.LogDebug {
		t.Errorf("api.log_level: got %q, want debug", cfg.API.LogLevel)
	}
	if !cfg.AutoStart {
		t.Error("auto_start: got false, want true")
	}
}

func TestLoadFromReader_EmptyGetsDefaults(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("unexpected error for empty config: %v", err)
	}

	if cfg.Audio.Host != "portaudio" {
		t.Errorf("audio.host default: got %q, want portaudio", cfg.Audio.Host)
	}
	if cfg.Audio.DeviceIndex != nil {
		t.Errorf("audio.device_index default: got %v, want nil (system default)", cfg.Audio.DeviceIndex)
	}
	if cfg.Audio.SampleRate != 44100 {
		t.Errorf("audio.sample_rate default: got %d, want 44100", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels != 1 {
		t.Errorf("audio.channels default: got %d, want 1", cfg.Audio.Channels)
	}
	if cfg.Audio.FramesPerBuffer != 1024 {
		t.Errorf("audio.frames_per_buffer default: got %d, want 1024", cfg.Audio.FramesPerBuffer)
	}
	if cfg.Audio.InputGain != 0.5 {
		t.Errorf("audio.input_gain default: got %.2f, want 0.5", cfg.Audio.InputGain)
	}
	if cfg.Vox.Threshold != 0.1 {
		t.Errorf("vox.threshold default: got %.3f, want 0.1", cfg.Vox.Threshold)
	}
	if cfg.Vox.MinRecordingDuration.Std() != time.Second {
		t.Errorf("vox.min_recording_duration default: got %s, want 1s", cfg.Vox.MinRecordingDuration.Std())
	}
	if cfg.Pipeline.QueueSize != 4 {
		t.Errorf("pipeline.queue_size default: got %d, want 4", cfg.Pipeline.QueueSize)
	}
	if cfg.Pipeline.Overflow != config.OverflowDrop {
		t.Errorf("pipeline.overflow default: got %q, want drop", cfg.Pipeline.Overflow)
	}
	wantTranscoders := []config.TranscoderKind{config.TranscoderFFmpeg, config.TranscoderNative}
	if len(cfg.Pipeline.Transcoders) != 2 ||
		cfg.Pipeline.Transcoders[0] != wantTranscoders[0] ||
		cfg.Pipeline.Transcoders[1] != wantTranscoders[1] {
		t.Errorf("pipeline.transcoders default: got %v, want %v", cfg.Pipeline.Transcoders, wantTranscoders)
	}
	if cfg.API.LogLevel != config.LogInfo {
		t.Errorf("api.log_level default: got %q, want info", cfg.API.LogLevel)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	yaml := `
vox:
  treshold: 0.2
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_InvalidDuration(t *testing.T) {
	yaml := `
vox:
  min_recording_duration: soon
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "duration") {
		t.Errorf("error should mention duration, got: %v", err)
	}
}

// ── Enums ────────────────────────────────────────────────────────────────────

func TestLogLevel_IsValid(t *testing.T) {
	valid := []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError}
	for _, l := range valid {
		if !l.IsValid() {
			t.Errorf("LogLevel(%q).IsValid() = false, want true", l)
		}
	}
	if config.LogLevel("verbose").IsValid() {
		t.Error("LogLevel(\"verbose\").IsValid() = true, want false")
	}
}

func TestOverflowPolicy_IsValid(t *testing.T) {
	if !config.OverflowDrop.IsValid() || !config.OverflowBlock.IsValid() {
		t.Error("drop and block should be valid overflow policies")
	}
	if config.OverflowPolicy("spill").IsValid() {
		t.Error("OverflowPolicy(\"spill\").IsValid() = true, want false")
	}
}

func TestTranscoderKind_IsValid(t *testing.T) {
	if !config.TranscoderFFmpeg.IsValid() || !config.TranscoderNative.IsValid() {
		t.Error("ffmpeg and native should be valid transcoder kinds")
	}
	if config.TranscoderKind("lame").IsValid() {
		t.Error("TranscoderKind(\"lame\").IsValid() = true, want false")
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_UnknownHost(t *testing.T) {
	reg := config.NewRegistry()
	cfg := config.Default()
	_, err := reg.CreateHost(cfg)
	if err == nil {
		t.Fatal("expected error for unknown host")
	}
	if !errors.Is(err, config.ErrNotRegistered) {
		t.Errorf("expected ErrNotRegistered, got: %v", err)
	}
}

func TestRegistry_UnknownTranscoder(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateTranscoder(config.TranscoderNative, config.Default())
	if !errors.Is(err, config.ErrNotRegistered) {
		t.Errorf("expected ErrNotRegistered, got: %v", err)
	}
}

func TestRegistry_RegisteredHost(t *testing.T) {
	reg := config.NewRegistry()
	want := &audiomock.Host{}
	reg.RegisterHost("portaudio", func(*config.Config) (audio.Host, error) {
		return want, nil
	})

	got, err := reg.CreateHost(config.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("CreateHost returned a different instance than the factory produced")
	}
}

func TestRegistry_CreateTranscodersInOrder(t *testing.T) {
	reg := config.NewRegistry()
	reg.RegisterTranscoder(config.TranscoderFFmpeg, func(*config.Config) (transcode.Transcoder, error) {
		return &transcodemock.Transcoder{NameResult: "ffmpeg"}, nil
	})
	reg.RegisterTranscoder(config.TranscoderNative, func(*config.Config) (transcode.Transcoder, error) {
		return &transcodemock.Transcoder{NameResult: "native"}, nil
	})

	trs, err := reg.CreateTranscoders(config.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trs) != 2 {
		t.Fatalf("got %d transcoders, want 2", len(trs))
	}
	if trs[0].Name() != "ffmpeg" || trs[1].Name() != "native" {
		t.Errorf("transcoder order: got [%s %s], want [ffmpeg native]", trs[0].Name(), trs[1].Name())
	}
}

func TestRegistry_CreateTranscodersSkipsUnavailable(t *testing.T) {
	reg := config.NewRegistry()
	reg.RegisterTranscoder(config.TranscoderFFmpeg, func(*config.Config) (transcode.Transcoder, error) {
		return nil, transcode.ErrUnavailable
	})
	reg.RegisterTranscoder(config.TranscoderNative, func(*config.Config) (transcode.Transcoder, error) {
		return &transcodemock.Transcoder{NameResult: "native"}, nil
	})

	trs, err := reg.CreateTranscoders(config.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trs) != 1 || trs[0].Name() != "native" {
		t.Errorf("got %d transcoders, want just the native fallback", len(trs))
	}
}

func TestRegistry_CreateTranscodersNoneAvailable(t *testing.T) {
	reg := config.NewRegistry()
	reg.RegisterTranscoder(config.TranscoderFFmpeg, func(*config.Config) (transcode.Transcoder, error) {
		return nil, transcode.ErrUnavailable
	})
	reg.RegisterTranscoder(config.TranscoderNative, func(*config.Config) (transcode.Transcoder, error) {
		return nil, transcode.ErrUnavailable
	})

	_, err := reg.CreateTranscoders(config.Default())
	if err == nil {
		t.Fatal("expected error when no transcoder is available")
	}
}

func TestRegistry_CreateTranscodersFactoryErrorAborts(t *testing.T) {
	errBoom := errors.New("boom")
	reg := config.NewRegistry()
	reg.RegisterTranscoder(config.TranscoderFFmpeg, func(*config.Config) (transcode.Transcoder, error) {
		return nil, errBoom
	})
	reg.RegisterTranscoder(config.TranscoderNative, func(*config.Config) (transcode.Transcoder, error) {
		return &transcodemock.Transcoder{}, nil
	})

	_, err := reg.CreateTranscoders(config.Default())
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected factory error to abort, got: %v", err)
	}
}
