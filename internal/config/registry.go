package config

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/rdiovox/pkg/audio"
	"github.com/MrWong99/rdiovox/pkg/transcode"
)

// ErrNotRegistered is returned by Create* methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: factory not registered")

// Registry maps configuration names to constructor functions for the
// pluggable pieces of the pipeline: audio hosts and transcoders.
// It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	hosts       map[string]func(*Config) (audio.Host, error)
	transcoders map[TranscoderKind]func(*Config) (transcode.Transcoder, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		hosts:       make(map[string]func(*Config) (audio.Host, error)),
		transcoders: make(map[TranscoderKind]func(*Config) (transcode.Transcoder, error)),
	}
}

// RegisterHost registers an audio host factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterHost(name string, factory func(*Config) (audio.Host, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts[name] = factory
}

// RegisterTranscoder registers a transcoder factory under kind.
func (r *Registry) RegisterTranscoder(kind TranscoderKind, factory func(*Config) (transcode.Transcoder, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcoders[kind] = factory
}

// CreateHost instantiates the audio host named by cfg.Audio.Host.
// Returns [ErrNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateHost(cfg *Config) (audio.Host, error) {
	r.mu.RLock()
	factory, ok := r.hosts[cfg.Audio.Host]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: host/%q", ErrNotRegistered, cfg.Audio.Host)
	}
	return factory(cfg)
}

// CreateTranscoder instantiates the transcoder registered under kind.
func (r *Registry) CreateTranscoder(kind TranscoderKind, cfg *Config) (transcode.Transcoder, error) {
	r.mu.RLock()
	factory, ok := r.transcoders[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcoder/%q", ErrNotRegistered, kind)
	}
	return factory(cfg)
}

// CreateTranscoders instantiates cfg.Pipeline.Transcoders in configured
// order. A factory returning [transcode.ErrUnavailable] is skipped with a
// warning so a missing ffmpeg binary does not prevent startup; any other
// factory error aborts. At least one transcoder must come up.
func (r *Registry) CreateTranscoders(cfg *Config) ([]transcode.Transcoder, error) {
	out := make([]transcode.Transcoder, 0, len(cfg.Pipeline.Transcoders))
	for _, kind := range cfg.Pipeline.Transcoders {
		tr, err := r.CreateTranscoder(kind, cfg)
		if err != nil {
			if errors.Is(err, transcode.ErrUnavailable) {
				slog.Warn("transcoder unavailable, skipping", "kind", kind, "err", err)
				continue
			}
			return nil, err
		}
		out = append(out, tr)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("config: no transcoder available from %v", cfg.Pipeline.Transcoders)
	}
	return out, nil
}
