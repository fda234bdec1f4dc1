// Command hearsay records a meeting from the local audio hardware and
// reconstructs a speaker-attributed transcript when the session ends.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/soundline/hearsay/internal/assembler"
	"github.com/soundline/hearsay/internal/config"
	"github.com/soundline/hearsay/internal/health"
	"github.com/soundline/hearsay/internal/observe"
	"github.com/soundline/hearsay/internal/recorder"
	"github.com/soundline/hearsay/internal/resilience"
	"github.com/soundline/hearsay/internal/vocab"
	"github.com/soundline/hearsay/pkg/audio/capture"
	"github.com/soundline/hearsay/pkg/audio/capture/pulse"
	"github.com/soundline/hearsay/pkg/provider/asr"
	asrmock "github.com/soundline/hearsay/pkg/provider/asr/mock"
	"github.com/soundline/hearsay/pkg/provider/asr/whisper"
	"github.com/soundline/hearsay/pkg/provider/diarize"
	"github.com/soundline/hearsay/pkg/provider/diarize/pyannote"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	duration := flag.Duration("duration", 0, "stop the session automatically after this duration (0 = run until signalled)")
	output := flag.String("output", "-", "file to write the transcript JSON to (\"-\" = stdout)")
	sessionID := flag.String("session", "", "session id (generated when empty)")
	audioDir := flag.String("audio-dir", "", "directory to write raw session audio WAV files to (empty = discard)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "hearsay: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "hearsay: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(cfg.Server.LogLevel.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("hearsay starting",
		"config", *configPath,
		"mode", cfg.Capture.Mode,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "hearsay"})
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
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	recognizer, rawDiarizer, opener, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	var corrector *vocab.Corrector
	if len(cfg.Vocabulary) > 0 {
		corrector = vocab.New(cfg.Vocabulary)
	}

	var diarizer diarize.Engine
	if rawDiarizer != nil {
		diarizer = resilience.NewDiarizeBreaker(rawDiarizer, resilience.CircuitBreakerConfig{
			Name: "diarization",
		})
	}

	asm, err := assembler.New(assembler.Config{
		Recognizer:   recognizer,
		Diarizer:     diarizer,
		Corrector:    corrector,
		GapThreshold: cfg.Segmenter.GapThreshold(),
		MinSegment:   cfg.Segmenter.MinSegment(),
		Metrics:      metrics,
	})
	if err != nil {
		slog.Error("failed to initialise assembler", "err", err)
		return 1
	}

	engine := capture.New(opener, captureOptions(cfg)...)
	if cfg.Capture.Mode != "" {
		engine.Configure(cfg.Capture.Mode)
	}

	rec, err := recorder.New(recorder.Config{
		Engine:    engine,
		Assembler: asm,
		Sink:      &transcriptSink{path: *output},
		AudioDir:  *audioDir,
		Metrics:   metrics,
	})
	if err != nil {
		slog.Error("failed to initialise recorder", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(d.NewLogLevel.Level())
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if d.CaptureModeChanged {
			engine.Configure(d.NewCaptureMode)
			slog.Info("capture mode updated for next session", "mode", d.NewCaptureMode)
		}
		if d.SegmenterChanged {
			asm.SetSegmenter(d.NewSegmenter.GapThreshold(), d.NewSegmenter.MinSegment())
			slog.Info("segmenter tunables updated",
				"gap_threshold", d.NewSegmenter.GapThreshold(),
				"min_segment", d.NewSegmenter.MinSegment(),
			)
		}
		if d.VocabularyChanged && corrector != nil {
			corrector.SetTerms(d.NewVocabulary)
			slog.Info("vocabulary updated", "terms", len(d.NewVocabulary))
		}
		for _, path := range d.RestartRequired {
			slog.Warn("config change requires restart to take effect", "path", path)
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── HTTP endpoints (optional) ─────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Server.ListenAddr != "" {
		srv := newServer(cfg.Server.ListenAddr, metrics, rec, recognizer, rawDiarizer)
		g.Go(func() error {
			slog.Info("http server listening", "addr", cfg.Server.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// ── Record ────────────────────────────────────────────────────────────────
	id, err := rec.Start(ctx, *sessionID)
	if err != nil {
		slog.Error("failed to start recording", "err", err)
		return 1
	}
	slog.Info("recording — SIGUSR1 toggles pause, Ctrl+C stops", "session_id", id)

	// SIGUSR1 toggles pause without ending the session.
	pauseCh := make(chan os.Signal, 1)
	signal.Notify(pauseCh, syscall.SIGUSR1)
	defer signal.Stop(pauseCh)

	var timeout <-chan time.Time
	if *duration > 0 {
		timer := time.NewTimer(*duration)
		defer timer.Stop()
		timeout = timer.C
	}

wait:
	for {
		select {
		case <-pauseCh:
			if rec.Pause() {
				slog.Info("recording paused")
			} else {
				slog.Info("recording resumed")
			}
		case <-timeout:
			slog.Info("configured duration elapsed, stopping")
			break wait
		case <-ctx.Done():
			break wait
		}
	}

	// ── Reconcile and save ────────────────────────────────────────────────────
	stop() // a second Ctrl+C now kills the process instead of being swallowed

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	transcript, err := rec.Stop(stopCtx)
	if err != nil {
		slog.Error("session failed", "err", err)
		if transcript == nil {
			return 1
		}
	}
	slog.Info("session complete",
		"session_id", transcript.SessionID,
		"segments", len(transcript.Segments),
		"warning", transcript.Warning,
	)

	cancel()
	if err := g.Wait(); err != nil {
		slog.Error("http server error", "err", err)
		return 1
	}
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the provider factories that ship with
// Hearsay into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterRecognizer("whisper", func(entry config.ProviderEntry) (asr.Engine, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterRecognizer("whisper-native", func(entry config.ProviderEntry) (asr.Engine, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if threads := optInt(entry.Options, "threads"); threads > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(threads)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// mock produces empty transcripts; useful for exercising the capture
	// path without a speech model.
	reg.RegisterRecognizer("mock", func(entry config.ProviderEntry) (asr.Engine, error) {
		return &asrmock.Engine{}, nil
	})

	reg.RegisterDiarizer("pyannote", func(entry config.ProviderEntry) (diarize.Engine, error) {
		var opts []pyannote.Option
		if n := optInt(entry.Options, "min_speakers"); n > 0 {
			opts = append(opts, pyannote.WithMinSpeakers(n))
		}
		if n := optInt(entry.Options, "max_speakers"); n > 0 {
			opts = append(opts, pyannote.WithMaxSpeakers(n))
		}
		return pyannote.New(entry.BaseURL, opts...)
	})

	reg.RegisterCapture("pulse", func(entry config.ProviderEntry) (capture.Opener, error) {
		var opts []pulse.Option
		if server := optString(entry.Options, "server"); server != "" {
			opts = append(opts, pulse.WithServer(server))
		}
		if id := optString(entry.Options, "source_id"); id != "" {
			opts = append(opts, pulse.WithSourceID(id))
		}
		if id := optString(entry.Options, "sink_id"); id != "" {
			opts = append(opts, pulse.WithSinkID(id))
		}
		return pulse.NewOpener(opts...), nil
	})
}

// buildProviders instantiates everything named in cfg. The recognizer is
// wrapped in a fallback group when a secondary engine is configured. The
// returned diarizer is the raw engine; the caller adds the circuit breaker.
func buildProviders(cfg *config.Config, reg *config.Registry) (asr.Engine, diarize.Engine, capture.Opener, error) {
	if cfg.Providers.Recognition.Name == "" {
		return nil, nil, nil, errors.New("providers.recognition is required")
	}
	recognizer, err := reg.CreateRecognizer(cfg.Providers.Recognition)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create recognition provider %q: %w", cfg.Providers.Recognition.Name, err)
	}
	slog.Info("provider created", "kind", "recognition", "name", cfg.Providers.Recognition.Name)

	if name := cfg.Providers.RecognitionFallback.Name; name != "" {
		secondary, err := reg.CreateRecognizer(cfg.Providers.RecognitionFallback)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create recognition fallback %q: %w", name, err)
		}
		group := resilience.NewASRFallback(recognizer, resilience.FallbackConfig{})
		group.AddFallback(secondary)
		recognizer = group
		slog.Info("provider created", "kind", "recognition_fallback", "name", name)
	}

	var diarizer diarize.Engine
	if name := cfg.Providers.Diarization.Name; name != "" {
		diarizer, err = reg.CreateDiarizer(cfg.Providers.Diarization)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create diarization provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "diarization", "name", name)
	}

	captureEntry := cfg.Providers.Capture
	if captureEntry.Name == "" {
		captureEntry.Name = "pulse"
	}
	opener, err := reg.CreateCapture(captureEntry)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create capture backend %q: %w", captureEntry.Name, err)
	}
	slog.Info("capture backend created", "name", captureEntry.Name)

	return recognizer, diarizer, opener, nil
}

// ── HTTP server ───────────────────────────────────────────────────────────────

// pinger is implemented by the HTTP provider engines. Engines without a
// reachable server (native whisper, pulse) simply don't get a readiness check.
type pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

func newServer(addr string, metrics *observe.Metrics, rec *recorder.Recorder, engines ...any) *http.Server {
	var checkers []health.Checker
	for _, eng := range engines {
		if p, ok := eng.(pinger); ok {
			checkers = append(checkers, health.Checker{
				Name:  p.Name(),
				Check: p.Ping,
			})
		}
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/statusz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rec.Status())
	})

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Transcript output ─────────────────────────────────────────────────────────

// transcriptSink writes the finished transcript as indented JSON to a file,
// or to stdout when path is "-".
type transcriptSink struct {
	path string
}

func (s *transcriptSink) Save(_ context.Context, t *assembler.Transcript) error {
	out := os.Stdout
	if s.path != "-" && s.path != "" {
		f, err := os.Create(s.path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(t); err != nil {
		return err
	}
	if out != os.Stdout {
		slog.Info("transcript written", "path", s.path, "segments", len(t.Segments))
	}
	return nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an int value from a provider Options map[string]any.
// YAML decodes integers as int, so no float handling is needed.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	n, _ := opts[key].(int)
	return n
}

func captureOptions(cfg *config.Config) []capture.Option {
	var opts []capture.Option
	if d := cfg.Capture.ChunkDuration(); d > 0 {
		opts = append(opts, capture.WithChunkDuration(d))
	}
	return opts
}
