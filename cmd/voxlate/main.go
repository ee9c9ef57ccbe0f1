// Command voxlate captures microphone or system audio, streams it to a
// realtime interpretation backend, and plays the interpreted speech back
// gaplessly with an ambient pad underneath.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"

	"github.com/voxlate/voxlate/internal/capture"
	"github.com/voxlate/voxlate/internal/config"
	"github.com/voxlate/voxlate/internal/health"
	"github.com/voxlate/voxlate/internal/observe"
	"github.com/voxlate/voxlate/internal/playback"
	"github.com/voxlate/voxlate/internal/session"
	"github.com/voxlate/voxlate/pkg/interp"
	geminilive "github.com/voxlate/voxlate/pkg/interp/gemini"
)

// version is stamped by the release build.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	mode := flag.String("mode", "microphone", "capture mode: microphone or display")
	listDevices := flag.Bool("list-devices", false, "list audio input devices and exit")
	flag.Parse()

	// Secrets come from the environment; a local .env is a convenience, not
	// a requirement.
	_ = godotenv.Load()

	if *listDevices {
		names, err := capture.ListInputDevices()
		if err != nil {
			fmt.Fprintf(os.Stderr, "voxlate: %v\n", err)
			return 1
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxlate: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxlate: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxlate starting",
		"version", version,
		"config", *configPath,
		"mode", *mode,
		"provider", cfg.Interp.Provider.Name,
		"target_language", cfg.Interp.Provider.TargetLanguage,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxlate",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Interpretation provider ───────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	entry := cfg.Interp.Provider
	if entry.APIKey == "" {
		entry.APIKey = firstEnv("VOXLATE_API_KEY", "GEMINI_API_KEY")
	}
	provider, err := reg.Create(entry)
	if err != nil {
		slog.Error("failed to build interpretation provider", "err", err)
		return 1
	}

	// ── Playback ──────────────────────────────────────────────────────────────
	var padLoop []int16
	if cfg.Audio.PadFile != "" {
		padLoop, err = playback.LoadPadFile(cfg.Audio.PadFile)
		if err != nil {
			slog.Error("failed to load pad file", "err", err, "path", cfg.Audio.PadFile)
			return 1
		}
	}

	padVolume := *cfg.Audio.PadVolume
	play := playback.New(playback.Config{
		PadLoop:   padLoop,
		PadVolume: padVolume,
		Metrics:   metrics,
		Logger:    logger,
	})
	defer func() {
		if err := play.Close(); err != nil {
			slog.Warn("playback close error", "err", err)
		}
	}()

	// ── Session ───────────────────────────────────────────────────────────────
	coord, err := session.New(session.Config{
		Session: interp.SessionConfig{
			TargetLanguage: entry.TargetLanguage,
			Voice:          entry.Voice,
		},
		FrameDuration:  cfg.Audio.FrameDuration,
		InputDevice:    cfg.Audio.InputDevice,
		LoopbackDevice: cfg.Audio.LoopbackDevice,
	}, session.Deps{
		Provider: provider,
		Playback: play,
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		slog.Error("failed to create session coordinator", "err", err)
		return 1
	}

	if err := coord.Connect(ctx); err != nil {
		slog.Error("failed to connect interpretation session", "err", err)
		return 1
	}

	// ── Metrics and health endpoints ──────────────────────────────────────────
	var metricsSrv *http.Server
	if cfg.Server.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observe.Handler())
		health.New(
			health.Checker{Name: "session", Check: func(context.Context) error {
				if !coord.Connected() {
					return errors.New("interpretation session down")
				}
				return nil
			}},
			health.Checker{Name: "playback", Check: func(context.Context) error {
				if !play.Running() {
					return errors.New("output device not rendering")
				}
				return nil
			}},
		).Register(mux)

		metricsSrv = &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}
		go func() {
			slog.Info("metrics endpoint listening", "addr", cfg.Server.ListenAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "err", err)
			}
		}()
	}

	coord.SetPadEnabled(padVolume > 0)

	switch *mode {
	case "microphone":
		err = coord.StartMicrophone(ctx)
	case "display":
		err = coord.StartScreenShare(ctx)
	default:
		slog.Error("unknown capture mode", "mode", *mode)
		return 1
	}
	if err != nil {
		slog.Error("failed to start capture", "err", err, "mode", *mode)
		return 1
	}

	slog.Info("session running — press Ctrl+C to stop")
	<-ctx.Done()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := coord.Close(); err != nil {
		slog.Warn("session close error", "err", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown error", "err", err)
		}
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinProviders wires the interpretation backends that ship with
// voxlate into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.Register("gemini-live", func(entry config.ProviderEntry) (interp.Provider, error) {
		if entry.APIKey == "" {
			return nil, fmt.Errorf("gemini-live: api key is required (set VOXLATE_API_KEY or GEMINI_API_KEY)")
		}
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// firstEnv returns the first non-empty value among the named environment
// variables.
func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}
