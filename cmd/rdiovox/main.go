// Command rdiovox captures audio from an input device, detects voice
// activity, and uploads finished recordings to an Rdio Scanner server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/rdiovox/internal/app"
	"github.com/MrWong99/rdiovox/internal/config"
	"github.com/MrWong99/rdiovox/internal/observe"
	"github.com/MrWong99/rdiovox/pkg/audio"
	"github.com/MrWong99/rdiovox/pkg/audio/portaudio"
	"github.com/MrWong99/rdiovox/pkg/transcode"
	"github.com/MrWong99/rdiovox/pkg/transcode/ffmpeg"
	"github.com/MrWong99/rdiovox/pkg/transcode/native"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Optional .env overlay so RDIO_SERVER_URL and RDIO_API_KEY can be kept
	// out of the config file. A missing .env is fine.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "rdiovox: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "rdiovox: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so config reloads can adjust it at runtime.
	level := new(slog.LevelVar)
	level.Set(cfg.API.LogLevel.Slog())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("rdiovox starting",
		"config", *configPath,
		"listen_addr", cfg.API.ListenAddr,
		"log_level", cfg.API.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "rdiovox",
		ServiceVersion: app.Version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Audio host and transcoders ────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltins(reg)

	host, err := reg.CreateHost(cfg)
	if err != nil {
		slog.Error("failed to initialise audio host", "host", cfg.Audio.Host, "err", err)
		return 1
	}

	transcoders, err := reg.CreateTranscoders(cfg)
	if err != nil {
		slog.Error("failed to initialise transcoders", "err", err)
		_ = host.Close()
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, transcoders)

	application, err := app.New(cfg, &app.Providers{
		Host:        host,
		Transcoders: transcoders,
		LogLevel:    level,
		ConfigPath:  *configPath,
	})
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = host.Close()
		return 1
	}

	slog.Info("rdiovox ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Builtin factories ─────────────────────────────────────────────────────────

// registerBuiltins wires the audio host and transcoder factories that ship
// with rdiovox into reg.
func registerBuiltins(reg *config.Registry) {
	reg.RegisterHost("portaudio", func(*config.Config) (audio.Host, error) {
		return portaudio.New()
	})

	reg.RegisterTranscoder(config.TranscoderFFmpeg, func(cfg *config.Config) (transcode.Transcoder, error) {
		return ffmpeg.New(cfg.Audio.SampleRate)
	})
	reg.RegisterTranscoder(config.TranscoderNative, func(*config.Config) (transcode.Transcoder, error) {
		return native.New(), nil
	})
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, transcoders []transcode.Transcoder) {
	device := "system default"
	if cfg.Audio.DeviceIndex != nil {
		device = fmt.Sprintf("index %d", *cfg.Audio.DeviceIndex)
	}
	server := "(not configured)"
	if cfg.Server.URL != "" {
		server = cfg.Server.URL
	}
	names := make([]string, len(transcoders))
	for i, tr := range transcoders {
		names[i] = tr.Name()
	}
	api := "(disabled)"
	if cfg.API.ListenAddr != "" {
		api = cfg.API.ListenAddr
	}
	autoStart := "no"
	if cfg.AutoStart {
		autoStart = "yes"
	}

	fmt.Println("╔════════════════════════════════════════╗")
	fmt.Println("║        rdiovox startup summary         ║")
	fmt.Println("╠════════════════════════════════════════╣")
	printRow("Input device", device)
	printRow("Capture", fmt.Sprintf("%d Hz / %d ch", cfg.Audio.SampleRate, cfg.Audio.Channels))
	printRow("VOX threshold", fmt.Sprintf("%.2f / min %s", cfg.Vox.Threshold, cfg.Vox.MinRecordingDuration.Std()))
	printRow("Upload server", server)
	printRow("Transcoders", strings.Join(names, ", "))
	printRow("Control API", api)
	printRow("Auto start", autoStart)
	fmt.Println("╚════════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}
