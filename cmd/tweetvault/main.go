// Command tweetvault turns X bookmarks into a categorized, searchable
// knowledge base.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/browser"

	"github.com/ejwhitmore/tweetvault/internal/config"
	"github.com/ejwhitmore/tweetvault/internal/kb"
	"github.com/ejwhitmore/tweetvault/internal/logger"
	"github.com/ejwhitmore/tweetvault/internal/media"
	"github.com/ejwhitmore/tweetvault/internal/models"
	"github.com/ejwhitmore/tweetvault/internal/models/backends"
	"github.com/ejwhitmore/tweetvault/internal/notifier"
	"github.com/ejwhitmore/tweetvault/internal/pipeline"
	"github.com/ejwhitmore/tweetvault/internal/scheduler"
	"github.com/ejwhitmore/tweetvault/internal/source"
	"github.com/ejwhitmore/tweetvault/internal/store"
	"github.com/ejwhitmore/tweetvault/internal/thread"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runCommand(os.Args[2:])
	case "daemon":
		daemonCommand()
	case "status":
		statusCommand()
	case "open":
		if len(os.Args) < 3 {
			fmt.Println("Usage: tweetvault open <config|cache|kb>")
			os.Exit(1)
		}
		openCommand(os.Args[2])
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: tweetvault <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run [phase] [--force]  Run the full pipeline, or one phase (e.g. content, 3.2)")
	fmt.Println("  daemon                 Run periodic pipeline passes on the configured schedule")
	fmt.Println("  status                 Show per-phase progress and last runs")
	fmt.Println("  open config            Open the config file in the default editor")
	fmt.Println("  open cache             Open the cache directory in the file explorer")
	fmt.Println("  open kb                Open the published knowledge base")
}

// app bundles everything a command needs, torn down via close.
type app struct {
	cfg    *config.Config
	log    *logger.Logger
	store  *store.Store
	engine *pipeline.Engine
}

func (a *app) close() {
	a.store.Close()
	a.log.Sync()
}

func setup() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load config: %w", err)
		}
		// First run: write the default config and keep going with it.
		cfg = config.Default()
		if saveErr := cfg.Save(); saveErr != nil {
			fmt.Fprintf(os.Stderr, "warning: could not save default config: %v\n", saveErr)
		} else {
			path, _ := config.ConfigPath()
			fmt.Printf("Created default config at: %s\n", path)
		}
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	dataDir, err := config.DataDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, err
	}
	st, err := store.New(filepath.Join(dataDir, "tweetvault.db"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	cacheDir, err := config.CacheDir()
	if err != nil {
		return nil, err
	}
	mediaCache, err := media.New(filepath.Join(cacheDir, "media"), log)
	if err != nil {
		return nil, fmt.Errorf("init media cache: %w", err)
	}

	outputDir := cfg.Publish.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(dataDir, "kb")
	}
	builder, err := kb.New(outputDir)
	if err != nil {
		return nil, fmt.Errorf("init kb builder: %w", err)
	}

	router := models.NewRouter(buildBackends(cfg), selections(cfg))

	notify, err := notifier.NewFromConfig(cfg.Notify, log)
	if err != nil {
		return nil, fmt.Errorf("init notifier: %w", err)
	}

	src := source.NewXAPIClient(
		cfg.Source.BearerToken, cfg.Source.UserID,
		cfg.Source.PageSize, cfg.Source.MaxPages,
	)

	engine := pipeline.New(pipeline.Deps{
		Store:    st,
		Router:   router,
		Source:   src,
		Media:    mediaCache,
		Threads:  thread.NewDetector(st),
		KB:       builder,
		Notifier: notify,
		Log:      log,
		Config:   cfg.Pipeline,
	})

	return &app{cfg: cfg, log: log, store: st, engine: engine}, nil
}

func buildBackends(cfg *config.Config) []models.Backend {
	var out []models.Backend
	if len(cfg.Backends.Anthropic.Models) > 0 {
		out = append(out, backends.NewAnthropicBackend(
			cfg.Backends.Anthropic.APIKey,
			manifest(cfg.Backends.Anthropic.Models),
		))
	}
	if len(cfg.Backends.OpenAI.Models) > 0 {
		out = append(out, backends.NewOpenAIBackend(
			cfg.Backends.OpenAI.APIKey,
			cfg.Backends.OpenAI.BaseURL,
			manifest(cfg.Backends.OpenAI.Models),
		))
	}
	return out
}

func manifest(entries []config.ModelEntry) []models.ModelInfo {
	out := make([]models.ModelInfo, len(entries))
	for i, e := range entries {
		info := models.ModelInfo{ID: e.ID}
		for _, c := range e.Capabilities {
			info.Capabilities = append(info.Capabilities, models.Capability(c))
		}
		out[i] = info
	}
	return out
}

func selections(cfg *config.Config) map[models.ModelPhase]models.SelectionConfig {
	out := make(map[models.ModelPhase]models.SelectionConfig)
	add := func(phase models.ModelPhase, sel config.ModelSelection) {
		if sel.Backend == "" && sel.Model == "" {
			return
		}
		out[phase] = models.SelectionConfig{
			Backend: sel.Backend,
			Model:   sel.Model,
			Params:  sel.Params,
		}
	}
	add(models.PhaseVision, cfg.Models.Vision)
	add(models.PhaseKBGeneration, cfg.Models.KBGeneration)
	add(models.PhaseSynthesis, cfg.Models.Synthesis)
	add(models.PhaseChat, cfg.Models.Chat)
	add(models.PhaseEmbeddings, cfg.Models.Embeddings)
	return out
}

// signalContext returns a context cancelled on SIGINT/SIGTERM. In-flight
// model calls finish; the engine stops dispatching new items.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runCommand(args []string) {
	var target string
	force := false
	for _, arg := range args {
		switch arg {
		case "--force", "-f":
			force = true
		default:
			if target != "" {
				fmt.Printf("Unexpected argument: %s\n", arg)
				os.Exit(1)
			}
			target = arg
		}
	}

	a, err := setup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	if target == "" {
		if err := a.engine.RunAll(ctx, force); err != nil {
			a.log.Error("pipeline failed", "error", err)
			os.Exit(1)
		}
		return
	}

	phase, sub, err := pipeline.ParseTarget(target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	run, err := a.engine.ExecutePhase(ctx, phase, sub, force)
	if err != nil {
		var unmet *pipeline.DependencyUnmetError
		if errors.As(err, &unmet) {
			fmt.Printf("Phase %s cannot run: %s\n", unmet.Phase, unmet.Reason)
			os.Exit(1)
		}
		a.log.Error("phase failed", "phase", target, "error", err)
		os.Exit(1)
	}
	fmt.Printf("Phase %s %s: %d processed, %d skipped, %d failed\n",
		run.Phase, run.Status, run.Processed, run.Skipped, run.Failed)
}

func daemonCommand() {
	a, err := setup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	sched, err := scheduler.New(a.cfg.Schedule.Timezone, a.log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	err = sched.AddJob("pipeline", a.cfg.Schedule.Cron, func(ctx context.Context) error {
		return a.engine.RunAll(ctx, false)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	sched.Start()
	a.log.Info("daemon running", "schedule", a.cfg.Schedule.Cron)

	ctx, cancel := signalContext()
	defer cancel()
	<-ctx.Done()

	// Wait for a running pass to finish before exiting.
	<-sched.Stop().Done()
	a.log.Info("daemon stopped")
}

func statusCommand() {
	a, err := setup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	st, err := a.engine.Status()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Items: %d · Categories: %d · Syntheses: %d · Item vectors: %d\n\n",
		st.TotalItems, st.Categories, st.Syntheses, st.ItemVecs)

	for _, ps := range st.Phases {
		id := pipeline.ID(ps.Phase, nil)
		fmt.Printf("%s %s", id, ps.Phase)
		if ps.LastRun != nil {
			fmt.Printf(" — last run %s (%s): %d processed, %d skipped, %d failed",
				ps.LastRun.StartedAt.Format("2006-01-02 15:04"), ps.LastRun.Status,
				ps.LastRun.Processed, ps.LastRun.Skipped, ps.LastRun.Failed)
		}
		fmt.Println()

		for i, sp := range ps.SubPhases {
			fmt.Printf("  %s.%d %s — %d%% (%d pending)", id, i+1, sp.Sub, sp.Percent(), sp.Pending)
			if sp.LastRun != nil {
				fmt.Printf(", last run %s (%s)",
					sp.LastRun.StartedAt.Format("2006-01-02 15:04"), sp.LastRun.Status)
			}
			fmt.Println()
		}
	}
}

func openCommand(target string) {
	var path string
	var err error

	switch target {
	case "config":
		path, err = config.ConfigPath()
	case "cache":
		path, err = config.CacheDir()
	case "kb":
		var cfg *config.Config
		cfg, err = config.Load()
		if err == nil && cfg.Publish.OutputDir != "" {
			path = cfg.Publish.OutputDir
			break
		}
		var dataDir string
		dataDir, err = config.DataDir()
		if err == nil {
			path = filepath.Join(dataDir, "kb")
		}
	default:
		fmt.Printf("Unknown target: %s\n", target)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := browser.OpenFile(path); err != nil {
		fmt.Fprintf(os.Stderr, "failed to open %s: %v\n", path, err)
		os.Exit(1)
	}
}
