// Package app wires all rdiovox subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the control surface until the context is cancelled,
// and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithEncoder, WithUploader). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/rdiovox/internal/config"
	"github.com/MrWong99/rdiovox/internal/encode"
	"github.com/MrWong99/rdiovox/internal/monitor"
	"github.com/MrWong99/rdiovox/internal/resilience"
	"github.com/MrWong99/rdiovox/internal/upload"
	"github.com/MrWong99/rdiovox/pkg/audio"
	"github.com/MrWong99/rdiovox/pkg/transcode"
)

// Version is reported by /api/version and in telemetry.
const Version = "1.0.0"

// Providers holds the platform pieces main.go builds from the config
// registry, plus the process-wide log level control. The App takes ownership
// of Host and closes it during Shutdown.
type Providers struct {
	// Host captures audio from the local machine.
	Host audio.Host

	// Transcoders feed the encode chain, in preference order.
	Transcoders []transcode.Transcoder

	// LogLevel, when set, is adjusted on config hot reload.
	LogLevel *slog.LevelVar

	// ConfigPath enables the config file watcher when non-empty.
	ConfigPath string
}

// App owns all subsystem lifetimes and orchestrates the rdiovox pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	encoder  monitor.Encoder
	uploader monitor.Uploader
	monitor  *monitor.Monitor
	watcher  *config.Watcher
	server   *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithEncoder injects an encoder instead of building the transcode chain.
func WithEncoder(e monitor.Encoder) Option {
	return func(a *App) { a.encoder = e }
}

// WithUploader injects an uploader instead of creating one from config.
func WithUploader(u monitor.Uploader) Option {
	return func(a *App) { a.uploader = u }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for the encoder or uploader.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Encode chain ──────────────────────────────────────────────────
	if a.encoder == nil {
		if len(providers.Transcoders) == 0 {
			return nil, fmt.Errorf("app: no transcoder available")
		}
		chain := encode.NewChain(resilience.BreakerConfig{}, providers.Transcoders...)
		a.encoder = encode.New(chain, cfg.Pipeline.TempDir)
	}

	// ── 2. Uploader ──────────────────────────────────────────────────────
	if a.uploader == nil {
		a.uploader = upload.New(upload.Config{
			ServerURL: cfg.Server.URL,
			APIKey:    cfg.Server.APIKey,
			Meta:      callMeta(cfg),
		})
	}

	// ── 3. Monitor ───────────────────────────────────────────────────────
	a.monitor = monitor.New(providers.Host, a.encoder, a.uploader, cfg)
	a.closers = append(a.closers, a.monitor.Stop, providers.Host.Close)

	// ── 4. Config hot reload ─────────────────────────────────────────────
	if providers.ConfigPath != "" {
		w, err := config.NewWatcher(providers.ConfigPath, a.applyConfigChange)
		if err != nil {
			return nil, fmt.Errorf("app: watch config: %w", err)
		}
		a.watcher = w
		a.closers = append(a.closers, func() error {
			w.Stop()
			return nil
		})
	}

	// ── 5. HTTP control surface ──────────────────────────────────────────
	if cfg.API.ListenAddr != "" {
		a.server = &http.Server{
			Addr:              cfg.API.ListenAddr,
			Handler:           a.routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return a, nil
}

// Monitor exposes the pipeline controller, primarily for tests.
func (a *App) Monitor() *monitor.Monitor { return a.monitor }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts monitoring when auto_start is set, serves the control surface,
// and blocks until ctx is cancelled. A failed automatic start is logged, not
// fatal: the monitor stays controllable over HTTP.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.AutoStart {
		if err := a.monitor.Start(ctx); err != nil {
			slog.Error("automatic monitor start failed", "err", err)
		}
	}

	if a.server == nil {
		slog.Info("app running without control surface")
		<-ctx.Done()
		return ctx.Err()
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("control surface listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-serveErr:
		return fmt.Errorf("app: http server: %w", err)
	}
}

// applyConfigChange is the watcher callback: it hot-applies the VOX threshold
// and log level and leaves everything else for the next restart.
func (a *App) applyConfigChange(old, next *config.Config) {
	diff := config.Diff(old, next)
	if diff.Empty() {
		slog.Debug("config file changed, no hot-applicable fields differ")
		return
	}
	if diff.VoxThresholdChanged {
		a.monitor.SetThreshold(diff.NewVoxThreshold)
		slog.Info("applied new vox threshold", "threshold", diff.NewVoxThreshold)
	}
	if diff.LogLevelChanged && a.providers.LogLevel != nil {
		a.providers.LogLevel.Set(diff.NewLogLevel.Slog())
		slog.Info("applied new log level", "level", diff.NewLogLevel)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				slog.Warn("http server shutdown", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// callMeta converts the call block of the config to upload metadata.
func callMeta(cfg *config.Config) upload.CallMeta {
	return upload.CallMeta{
		Frequency:      cfg.Call.Frequency,
		Source:         cfg.Call.Source,
		System:         cfg.Call.System,
		SystemLabel:    cfg.Call.SystemLabel,
		Talkgroup:      cfg.Call.Talkgroup,
		TalkgroupGroup: cfg.Call.TalkgroupGroup,
		TalkgroupLabel: cfg.Call.TalkgroupLabel,
		TalkgroupTag:   cfg.Call.TalkgroupTag,
	}
}
