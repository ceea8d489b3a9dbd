package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mattn/go-isatty"

	"github.com/basket/atohub/internal/ato"
	"github.com/basket/atohub/internal/audit"
	"github.com/basket/atohub/internal/channels"
	"github.com/basket/atohub/internal/classify"
	"github.com/basket/atohub/internal/config"
	"github.com/basket/atohub/internal/conversation"
	"github.com/basket/atohub/internal/cron"
	"github.com/basket/atohub/internal/engine"
	"github.com/basket/atohub/internal/gateway"
	"github.com/basket/atohub/internal/grounding"
	"github.com/basket/atohub/internal/guardrails"
	otelPkg "github.com/basket/atohub/internal/otel"
	"github.com/basket/atohub/internal/persistence"
	"github.com/basket/atohub/internal/policy"
	"github.com/basket/atohub/internal/telemetry"
	"github.com/basket/atohub/internal/tools"
	"github.com/basket/atohub/internal/tui"
	"github.com/basket/atohub/internal/workflow"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

INTERACTIVE MODE (default):
  %s                          Start the interactive chat TUI
  %s -workflow roadtrip       Chat against a specific workflow

ONE-SHOT MODE:
  %s -prompt "..."            Run a single turn and print the reply

DAEMON MODE:
  %s -daemon                  Run headless (gateway + channels, logs to stdout)

SUBCOMMANDS:
  %s doctor [-json]           Run diagnostic checks

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  ATOHUB_HOME             Data directory (default: ~/.atohub)
  ATOHUB_NO_TUI           Set to 1 to disable the TUI
  ATOHUB_GATEWAY_TOKEN    Gateway bearer token
  GEMINI_API_KEY          Required for the google provider
  ANTHROPIC_API_KEY       Required for the anthropic provider
  OPENAI_API_KEY          Required for the openai provider
`)
}

func main() {
	loadDotEnv(".env")

	daemon := flag.Bool("daemon", false, "run headless (no chat TUI, logs to stdout)")
	workflowID := flag.String("workflow", "hub", "workflow for interactive and one-shot turns")
	ownerID := flag.String("owner", "local", "owner id for interactive and one-shot turns")
	prompt := flag.String("prompt", "", "run one turn with this message and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Println(Version)
		return
	}

	ctxEarly, stopEarly := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			stopEarly()
			os.Exit(0)
		case "doctor":
			code := runDoctorCommand(ctxEarly, args[1:])
			stopEarly()
			os.Exit(code)
		}
	}
	stopEarly()

	interactive := isatty.IsTerminal(os.Stdout.Fd()) && os.Getenv("ATOHUB_NO_TUI") == ""
	if *daemon || *prompt != "" {
		interactive = false
	}
	// Quiet logs (file-only) in interactive mode so the TUI stays clean.
	quietLogs := interactive || *prompt != ""

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	if err := audit.Init(cfg.HomeDir); err != nil {
		fatalStartup(nil, "E_AUDIT_INIT", err)
	}
	defer func() { _ = audit.Close() }()

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quietLogs)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "version", Version)

	otelProvider, err := otelPkg.Init(ctx, cfg.OTel)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer func() { _ = otelProvider.Shutdown(context.Background()) }()
	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_OTEL_METRICS", err)
	}

	store, err := persistence.Open(filepath.Join(cfg.HomeDir, "atohub.db"))
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	audit.SetDB(store.DB())
	logger.Info("startup phase", "phase", "schema_migrated")

	policyPath := config.PolicyPath(cfg.HomeDir)
	polData, err := policy.Load(policyPath)
	if err != nil {
		fatalStartup(logger, "E_POLICY_LOAD", err)
	}
	pol := policy.NewLivePolicy(polData)
	logger.Info("startup phase", "phase", "policy_loaded", "version", pol.PolicyVersion())

	client := engine.NewClient(ctx, engine.Config{
		Provider:                 cfg.LLM.Provider,
		Model:                    cfg.LLM.Model,
		APIKey:                   cfg.LLMProviderAPIKey(cfg.LLM.Provider),
		OpenAICompatibleProvider: cfg.LLM.OpenAICompatibleProvider,
		OpenAICompatibleBaseURL:  cfg.LLM.OpenAICompatibleBaseURL,
	})

	var searchClient grounding.SearchClient
	if cfg.Search.Endpoint != "" {
		searchClient = tools.NewHTTPSearchClient(cfg.Search.Endpoint)
	}

	toolReg := tools.NewRegistry(pol, cfg.APIKey("brave_search"), searchClient, cfg.Search.Stores, "")
	toolReg.RegisterAll(client.Genkit())

	// Classification runs at temperature zero on a cheaper model when one
	// is configured.
	classifierModel := cfg.LLM.ClassifierModel
	if classifierModel == "" {
		classifierModel = cfg.LLM.Model
	}
	classifier, err := classify.New(client.PlainGenerateFunc(classifierModel, 0))
	if err != nil {
		fatalStartup(logger, "E_CLASSIFIER_INIT", err)
	}

	llmScorer, err := guardrails.NewLLMScorer(client.PlainGenerateFunc(cfg.LLM.Model, 0))
	if err != nil {
		fatalStartup(logger, "E_GUARDRAIL_INIT", err)
	}
	scorer := guardrails.NewDispatchScorer(guardrails.NewLocalScorer(pol), llmScorer)

	atoRegistry := ato.NewRegistry(store)

	orchestrator := workflow.New(workflow.Deps{
		Config:     &cfg,
		Engine:     client,
		Classifier: classifier,
		Scorer:     scorer,
		Catalog:    grounding.NewCatalog(cfg.Datasets, logger),
		Search:     searchClient,
		Registry:   atoRegistry,
		Tools:      toolReg,
		Tracer:     otelProvider.Tracer,
		Metrics:    metrics,
		Logger:     logger,
	})

	// Hot-reload policy and personas on file changes.
	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher failed to start, live reload disabled", "error", err)
	} else {
		go watchReloads(ctx, watcher, &cfg, pol, policyPath, logger)
	}

	cronSched, err := cron.NewScheduler(cron.Config{
		Store:         store,
		Spec:          cfg.Retention.CronSpec,
		RetentionDays: cfg.Retention.GuardrailEventDays,
		Logger:        logger,
	})
	if err != nil {
		fatalStartup(logger, "E_CRON_INIT", err)
	}
	cronSched.Start(ctx)
	defer cronSched.Stop()

	if *prompt != "" {
		os.Exit(runOneShot(ctx, orchestrator, *workflowID, *ownerID, *prompt))
	}

	gatewayErr := make(chan error, 1)
	if cfg.Gateway.Enabled {
		gw := gateway.New(gateway.Config{
			Runner:    orchestrator,
			Registry:  atoRegistry,
			Cfg:       &cfg,
			BindAddr:  cfg.Gateway.BindAddr,
			AuthToken: cfg.Gateway.AuthToken,
		})
		go func() {
			if err := gw.Start(ctx); err != nil {
				gatewayErr <- err
			}
		}()
		logger.Info("startup phase", "phase", "gateway_started", "addr", cfg.Gateway.BindAddr)
	}

	if cfg.Channels.Telegram.Enabled {
		if cfg.Channels.Telegram.Token == "" {
			logger.Warn("telegram channel enabled but token is missing")
		} else {
			tg := channels.NewTelegramChannel(
				cfg.Channels.Telegram.Token,
				cfg.Channels.Telegram.AllowedIDs,
				orchestrator,
				logger,
			)
			go func() {
				if err := tg.Start(ctx); err != nil {
					logger.Error("telegram channel failed", "error", err)
				}
			}()
		}
	}

	if interactive {
		go func() {
			if err := tui.Run(ctx, orchestrator, *workflowID, *ownerID, logger); err != nil && ctx.Err() == nil {
				logger.Error("chat exited with error", "error", err)
			}
			stop()
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-gatewayErr:
		logger.Error("gateway server error", "error", err)
	}
	logger.Info("shutdown complete")
}

// runOneShot executes a single turn and prints the reply to stdout.
func runOneShot(ctx context.Context, runner *workflow.Orchestrator, workflowID, ownerID, text string) int {
	resp, err := runner.Run(ctx, workflow.Request{
		Workflow: workflowID,
		OwnerID:  ownerID,
		Turns:    []conversation.Turn{{Role: conversation.RoleUser, Text: text}},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	if resp.Fail != nil {
		fmt.Fprintln(os.Stderr, "blocked by a safety check")
		return 2
	}
	fmt.Println(resp.Text)
	return 0
}

// watchReloads applies policy and persona changes without a restart.
func watchReloads(ctx context.Context, watcher *config.Watcher, cfg *config.Config, pol *policy.LivePolicy, policyPath string, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events():
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			switch {
			case filepath.Base(ev.Path) == "policy.yaml":
				if err := policy.ReloadFromFile(pol, policyPath); err != nil {
					logger.Error("policy reload failed, keeping previous policy", "error", err)
					continue
				}
				logger.Info("policy reloaded", "version", pol.PolicyVersion())
			case strings.HasSuffix(ev.Path, ".md"):
				fresh, err := config.LoadFrom(cfg.HomeDir)
				if err != nil {
					logger.Error("persona reload failed", "error", err)
					continue
				}
				cfg.Personas = fresh.Personas
				logger.Info("personas reloaded", "count", len(fresh.Personas))
			}
		}
	}
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	audit.Record("fatal", "runtime.startup", reasonCode, "", message)

	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"runtime","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

// loadDotEnv sets variables from a .env file without overriding the
// existing environment.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}
