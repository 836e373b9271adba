// Stanbot is the Stan conversational assistant backend.
//
// It exposes a small JSON API for chat turns, health checks, and usage
// statistics. Responses come from an ordered rule cascade, optionally
// fronted by an Ollama model that falls back to the rules whenever the
// model is unreachable. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	stanbot serve              Start the API server
//	stanbot init [dir]         Write an example config.yaml
//	stanbot version            Print version and build information
//	stanbot -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/stanbot/stanbot/internal/api"
	"github.com/stanbot/stanbot/internal/buildinfo"
	"github.com/stanbot/stanbot/internal/config"
	"github.com/stanbot/stanbot/internal/empathy"
	"github.com/stanbot/stanbot/internal/llm"
	"github.com/stanbot/stanbot/internal/modelwatch"
	"github.com/stanbot/stanbot/internal/responder"
	"github.com/stanbot/stanbot/internal/session"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run] so the full
// startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the stanbot command. All OS-level
// dependencies are injected as parameters: ctx controls the process
// lifetime, stdout and stderr receive all output, and args is
// os.Args[1:]. Arguments are parsed by hand; the flag package relies on
// package-level globals that interfere with calling run() from parallel
// tests, and the argument surface here is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Stan - Conversational Assistant Backend")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: stanbot [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  init [dir]   Write an example config.yaml (default: .)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/stanbot/config.yaml, /etc/stanbot/config.yaml")
	return nil
}

// runServe handles the "stanbot serve" subcommand. It loads config, opens
// the session store, wires the response chain, starts the HTTP server, and
// blocks until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Stan", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level and format are
	// known. The initial text logger covers only the startup banner.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			// Already validated by config.Validate().
			level, _ = config.ParseLogLevel(cfg.LogLevel)
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"db_path", cfg.Database.Path,
		"model", cfg.Model.Name,
	)

	// --- Session store ---
	// SQLite-backed session documents, degrading to in-memory storage when
	// the database cannot be opened.
	backend := session.OpenBackend(cfg.Database.Path, logger)
	store := session.NewStore(backend, session.Options{
		MaxSessions: cfg.Sessions.Max,
		Timeout:     cfg.Sessions.Timeout(),
		Retention:   cfg.Sessions.Retention,
		OpTimeout:   cfg.Sessions.OpTimeout(),
	}, logger)
	defer store.Close()
	logger.Info("session store opened", "storage", store.StorageType())

	// --- Response chain ---
	// The rule cascade always works and needs no external services. When a
	// model is configured it takes the first attempt at each turn, with the
	// rules as its fallback.
	rules := responder.NewRules(nil, nil)
	var rsp responder.Responder = rules
	var client *llm.OllamaClient
	if cfg.Model.Enabled() {
		client = llm.NewOllamaClient(cfg.Model.URL, cfg.Model.Name, llm.Options{
			Temperature: cfg.Model.Temperature,
			NumPredict:  cfg.Model.MaxTokens,
		}, logger)
		rsp = responder.NewGenerative(client, rules, logger)
	}

	// --- API server ---
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, store, rsp, empathy.NewPrefixer(nil), logger)
	server.SetAllowedOrigins(cfg.AllowedOrigins)
	server.SetDebugEndpoints(cfg.DebugEndpoints)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Model backend monitoring ---
	// Keeps the health endpoint's model_loaded flag accurate as Ollama
	// comes and goes. Turns already fall back to rules on their own.
	if client != nil {
		watcher := modelwatch.Start(ctx, modelwatch.Config{
			Probe:    client.Ping,
			OnChange: server.SetModelLoaded,
			Logger:   logger.With("service", "ollama"),
		})
		defer watcher.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used and must exist. With no file found
// the service runs on defaults plus environment overrides.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if cfgPath == "" {
		cfgPath = "(defaults)"
	}
	return cfg, cfgPath, nil
}
