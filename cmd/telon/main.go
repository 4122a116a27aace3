// Command telon runs the Telón live session server: a terminal control
// surface for performing an improvised scene script against a realtime
// conversational agent.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/telonlabs/telon/internal/archive"
	"github.com/telonlabs/telon/internal/config"
	"github.com/telonlabs/telon/internal/health"
	"github.com/telonlabs/telon/internal/observe"
	"github.com/telonlabs/telon/internal/script"
	"github.com/telonlabs/telon/internal/stage"
	"github.com/telonlabs/telon/pkg/audio"
	"github.com/telonlabs/telon/pkg/audio/capture"
	"github.com/telonlabs/telon/pkg/audio/playback"
	"github.com/telonlabs/telon/pkg/live/gemini"
	"github.com/telonlabs/telon/pkg/provider/llm"
	"github.com/telonlabs/telon/pkg/provider/llm/anyllm"
)

// version is stamped at build time via -ldflags.
var version = "dev"

const defaultSidecallModel = "gemini-2.5-pro"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "telon: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "telon: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("telon starting",
		"version", version,
		"config", *configPath,
		"script", cfg.ScriptPath,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "telon",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Script ────────────────────────────────────────────────────────────────
	scr, err := script.Load(cfg.ScriptPath)
	if err != nil {
		slog.Error("failed to load script", "err", err)
		return 1
	}
	slog.Info("script loaded", "scenes", len(scr.Scenes))

	// ── Live dialer ───────────────────────────────────────────────────────────
	apiKey := cfg.Live.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	var dialOpts []gemini.Option
	if cfg.Live.Model != "" {
		dialOpts = append(dialOpts, gemini.WithModel(cfg.Live.Model))
	}
	if cfg.Live.BaseURL != "" {
		dialOpts = append(dialOpts, gemini.WithBaseURL(cfg.Live.BaseURL))
	}
	dialer := gemini.NewDialer(apiKey, dialOpts...)

	// ── Side-call provider ────────────────────────────────────────────────────
	sidecall := newSidecall(cfg.Sidecall)

	// ── Audio devices ─────────────────────────────────────────────────────────
	// Missing hardware only disables the voice path it serves; scenes that
	// need the missing device fail at start with a clear message.
	opener, err := capture.NewMalgoOpener()
	if err != nil {
		slog.Warn("no microphone backend; voiced performer scenes will not start", "err", err)
		opener = nil
	} else {
		defer func() {
			if err := opener.Uninit(); err != nil {
				slog.Debug("capture backend uninit", "err", err)
			}
		}()
	}

	sink, err := playback.NewOtoSink(audio.OutputFormat)
	if err != nil {
		slog.Warn("no playback backend; voiced agent scenes will not start", "err", err)
		sink = nil
	} else {
		defer func() {
			if err := sink.Close(); err != nil {
				slog.Debug("playback sink close", "err", err)
			}
		}()
	}

	// ── Session archive ───────────────────────────────────────────────────────
	var store archive.Store = archive.Nop{}
	var pg *archive.Postgres
	if cfg.Archive.PostgresDSN != "" {
		pg, err = archive.NewPostgres(ctx, cfg.Archive.PostgresDSN)
		if err != nil {
			slog.Warn("archive unavailable; sessions will not be persisted", "err", err)
		} else {
			store = pg
			defer pg.Close()
		}
	}

	// ── Engine ────────────────────────────────────────────────────────────────
	eng := stage.New(dialer, sidecallOrNil(sidecall), openerOrNil(opener), sinkOrNil(sink),
		stage.WithArchive(store),
		stage.WithLogger(logger),
	)

	printStartupSummary(cfg, scr, opener != nil, sink != nil, pg != nil)

	// ── Serve ─────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())

		var probes []health.Probe
		if pg != nil {
			probes = append(probes, health.PingProbe("archive", pg))
		}
		health.New(probes...).Register(mux)

		srv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}
		g.Go(func() error {
			slog.Info("metrics endpoint listening", "addr", cfg.Server.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error { return printUpdates(gctx, eng) })
	g.Go(func() error {
		defer stop()
		return commandLoop(gctx, eng, cfg, scr)
	})

	slog.Info("stage ready — type 'help' for commands, Ctrl+C to shut down")

	err = g.Wait()
	eng.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// The *OrNil helpers keep a nil concrete pointer from turning into a non-nil
// interface value inside the engine.

func sidecallOrNil(p *anyllm.Provider) llm.Provider {
	if p == nil {
		return nil
	}
	return p
}

func openerOrNil(o *capture.MalgoOpener) capture.Opener {
	if o == nil {
		return nil
	}
	return o
}

func sinkOrNil(s *playback.OtoSink) playback.Sink {
	if s == nil {
		return nil
	}
	return s
}

// newSidecall builds the request/response provider for identity extraction
// and continuity summarization. Failures are soft: the engine degrades to
// default character names and refuses only scene advancement.
func newSidecall(cfg config.SidecallConfig) *anyllm.Provider {
	providerName := cfg.Provider
	if providerName == "" {
		providerName = "gemini"
	}
	model := cfg.Model
	if model == "" {
		model = defaultSidecallModel
	}

	var opts []anyllmlib.Option
	if cfg.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
	}

	p, err := anyllm.New(providerName, model, opts...)
	if err != nil {
		slog.Warn("sidecall provider unavailable; using default names and no scene summaries",
			"provider", providerName, "err", err)
		return nil
	}
	slog.Info("sidecall provider ready", "provider", providerName, "model", model)
	return p
}

// ── Command loop ──────────────────────────────────────────────────────────────

const helpText = `commands:
  start        open a live session for the current scene
  stop         close the session (state is kept)
  next         summarize the scene and advance the cursor
  say <text>   send a typed performer line
  mute         toggle the microphone
  status       print the session snapshot
  reset        wipe all session state back to scene one
  quit         shut down`

// commandLoop reads stage directions from stdin until EOF, quit or shutdown.
func commandLoop(ctx context.Context, eng *stage.Engine, cfg *config.Config, scr *script.Script) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	startCfg := stage.StartConfig{
		Scenes:       scr.Scenes,
		PrePrompt:    scr.PrePrompt,
		MicDevice:    cfg.Audio.MicDevice,
		Voice:        cfg.Live.Voice,
		FrameSamples: cfg.Audio.FrameSamples,
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
			switch cmd {
			case "":
			case "help":
				fmt.Println(helpText)
			case "start":
				if err := eng.Start(ctx, startCfg); err != nil {
					fmt.Printf("start: %v\n", err)
				}
			case "stop":
				eng.Stop()
			case "next":
				if err := eng.AdvanceScene(ctx, scr.Scenes); err != nil {
					fmt.Printf("next: %v\n", err)
				}
			case "say":
				if strings.TrimSpace(arg) == "" {
					fmt.Println("say: empty line")
					continue
				}
				if err := eng.SendText(arg); err != nil {
					fmt.Printf("say: %v\n", err)
				}
			case "mute":
				eng.ToggleMute()
			case "status":
				printSnapshot(eng.Snapshot(), len(scr.Scenes))
			case "reset":
				eng.Reset()
				fmt.Println("session state wiped")
			case "quit", "exit":
				return nil
			default:
				fmt.Printf("unknown command %q — type 'help'\n", cmd)
			}
		}
	}
}

// printUpdates follows the engine's update channel and narrates state
// transitions and newly committed turns to the terminal.
func printUpdates(ctx context.Context, eng *stage.Engine) error {
	var lastStatus stage.Status
	lastTurns := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-eng.Updates():
		}

		snap := eng.Snapshot()
		if snap.Status != lastStatus {
			lastStatus = snap.Status
			switch snap.Status {
			case stage.StatusError:
				fmt.Printf("⚠ %s\n", snap.Err)
			default:
				fmt.Printf("[%s]\n", snap.Status)
			}
		}
		for ; lastTurns < len(snap.Turns); lastTurns++ {
			t := snap.Turns[lastTurns]
			fmt.Printf("%s: %s\n", t.Author, t.Text)
		}
		if lastTurns > len(snap.Turns) {
			// Scene advance or reset cleared the transcript.
			lastTurns = len(snap.Turns)
		}
	}
}

func printSnapshot(snap stage.Snapshot, sceneCount int) {
	fmt.Printf("status : %s\n", snap.Status)
	if snap.Err != "" {
		fmt.Printf("error  : %s\n", snap.Err)
	}
	fmt.Printf("scene  : %d/%d\n", snap.SceneCursor+1, sceneCount)
	fmt.Printf("cast   : %s (agent), %s (performer)\n", snap.AIName, snap.ActorName)
	fmt.Printf("turns  : %d committed\n", len(snap.Turns))
	if snap.ActorPreview != "" {
		fmt.Printf("%s… : %s\n", snap.ActorName, snap.ActorPreview)
	}
	if snap.AIPreview != "" {
		fmt.Printf("%s… : %s\n", snap.AIName, snap.AIPreview)
	}
	if snap.Muted {
		fmt.Println("mic    : muted")
	}
	if snap.Memory != "" {
		fmt.Printf("memory :\n%s\n", snap.Memory)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, scr *script.Script, mic, speaker, archived bool) {
	onOff := func(b bool) string {
		if b {
			return "ready"
		}
		return "(unavailable)"
	}
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Telón — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Scenes          : %-19d║\n", len(scr.Scenes))
	fmt.Printf("║  Microphone      : %-19s║\n", onOff(mic))
	fmt.Printf("║  Speaker         : %-19s║\n", onOff(speaker))
	fmt.Printf("║  Archive         : %-19s║\n", onOff(archived))
	if cfg.Server.MetricsAddr != "" {
		fmt.Printf("║  Metrics addr    : %-19s║\n", cfg.Server.MetricsAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

// ── Logger ─────────────────────────────────────────────────────────────────────

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
