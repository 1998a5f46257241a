// Package main is the hubagent CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/hubagent/internal/cli"
	"github.com/hyperjump/hubagent/internal/config"
	"github.com/hyperjump/hubagent/internal/datastore"
	"github.com/hyperjump/hubagent/internal/embedding"
	"github.com/hyperjump/hubagent/internal/guard"
	"github.com/hyperjump/hubagent/internal/llm"
	"github.com/hyperjump/hubagent/internal/models"
	"github.com/hyperjump/hubagent/internal/orchestrator"
	"github.com/hyperjump/hubagent/internal/retrieval"
	"github.com/hyperjump/hubagent/internal/router"
	"github.com/hyperjump/hubagent/internal/server"
	"github.com/hyperjump/hubagent/internal/watcher"
	"github.com/hyperjump/hubagent/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/hubagent/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory wins if it exists, so running from a project checkout uses its config.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				path = fallback
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "serve", "server":
		runServe()
	case "ask":
		runAsk()
	case "rebuild":
		runRebuild()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("hubagent version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	watch := fs.Bool("watch", false, "rebuild the document index when the source directory changes")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	// Load or build the index before the first question arrives.
	go components.Documents.EnsureIndex(ctx)

	if cfg.Retrieval.Watch || *watch {
		watchOpts := []watcher.WatcherOption{
			watcher.WithExtensions(cfg.Retrieval.Extensions),
			watcher.WithRecursive(cfg.Retrieval.RecursiveOrDefault()),
			watcher.WithDebounce(cfg.Retrieval.WatchDebounce),
		}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		watchSvc := watcher.NewWatcher(cfg.Retrieval.SourceDir, components.Documents.Rebuild, watchOpts...)
		if err := watchSvc.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
		logger.Info("watching policy documents", zap.String("source_dir", watchSvc.Root()))
	}

	srv := server.NewServer(components.Orchestrator, components.Documents, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = srv.Stop(stopCtx)
}

// buildQuestion joins all positional args with spaces so questions work with or without quotes.
func buildQuestion(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// reorderArgs moves flags that appear after the question to the front so flag.Parse sees them.
func reorderArgs(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = answer in-process)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: hubagent ask [flags] <question>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(reorderArgs(os.Args[2:]))

	question := buildQuestion(fs.Args())
	if question == "" {
		fs.Usage()
		os.Exit(1)
	}
	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var ans models.AgentAnswer
	if *serverURL != "" {
		ans, err = askViaHTTP(*serverURL, question)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		components, logger := mustInitialize(*configPath)
		defer logger.Sync()
		defer components.Close()
		ans = components.Orchestrator.Handle(context.Background(), question)
	}
	if err := cli.WriteAnswer(os.Stdout, ans, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
	if !ans.Success {
		os.Exit(2)
	}
}

func runRebuild() {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = rebuild in-process)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var st retrieval.Status
	if *serverURL != "" {
		st, err = rebuildViaHTTP(*serverURL)
	} else {
		components, logger := mustInitialize(*configPath)
		defer logger.Sync()
		defer components.Close()
		err = components.Documents.Rebuild(context.Background())
		st = components.Documents.Status()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Rebuild failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteStatus(os.Stdout, st, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = load the index in-process)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var st retrieval.Status
	if *serverURL != "" {
		st, err = statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		components, logger := mustInitialize(*configPath)
		defer logger.Sync()
		defer components.Close()
		components.Documents.EnsureIndex(context.Background())
		st = components.Documents.Status()
	}
	if err := cli.WriteStatus(os.Stdout, st, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// mustInitialize loads config and components for direct (in-process) mode or exits.
func mustInitialize(configPath string) (*Components, *zap.Logger) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	components, err := initializeComponents(context.Background(), cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	return components, logger
}

// Components holds initialized services.
type Components struct {
	Embedder     embedding.Embedder
	LLM          llm.Client
	DataStore    *datastore.DB
	Structured   *guard.Agent
	Documents    *retrieval.Responder
	Router       *router.Router
	Orchestrator *orchestrator.Orchestrator
}

// Close releases the index, the data store and the embedder.
func (c *Components) Close() {
	if c.Documents != nil {
		_ = c.Documents.Close()
	}
	if c.DataStore != nil {
		_ = c.DataStore.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

// unavailableQuerier stands in for a data store that could not be opened at startup,
// so structured questions fail with the cause instead of taking the process down.
type unavailableQuerier struct{ err error }

func (u unavailableQuerier) Query(ctx context.Context, sql string, maxRows int) (*datastore.ResultSet, error) {
	return nil, u.err
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}

	embedder, err := embedding.New(&cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Embedder = embedder

	client, err := llm.New(ctx, &cfg.LLM, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize llm client: %w", err)
	}
	c.LLM = client

	var querier guard.Querier
	db, err := datastore.Open(ctx, &cfg.DataStore)
	if err != nil {
		logger.Warn("data store unavailable, structured questions will fail",
			zap.String("driver", cfg.DataStore.Driver), zap.Error(err))
		querier = unavailableQuerier{err: fmt.Errorf("data store unavailable: %w", err)}
	} else {
		c.DataStore = db
		querier = db
	}

	c.Structured, err = guard.NewAgentFromConfig(&cfg.Guard, client, querier, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize structured-data responder: %w", err)
	}

	c.Documents, err = retrieval.NewFromConfig(&cfg.Retrieval, embedder, client, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize document responder: %w", err)
	}

	c.Router, err = router.NewFromConfig(&cfg.Router, client, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize router: %w", err)
	}

	c.Orchestrator = orchestrator.New(c.Router, c.Structured, c.Documents,
		orchestrator.WithLogger(logger),
		orchestrator.WithTimeout(cfg.Orchestrator.RequestTimeout),
	)
	return c, nil
}

func printUsage() {
	fmt.Println(`hubagent - Question answering over sales data and policy documents

Usage:
  hubagent serve [flags]           Start the HTTP server
  hubagent ask [flags] <question>  Ask a question
  hubagent rebuild [flags]         Rebuild the policy document index
  hubagent status [flags]          Show document index status
  hubagent version                 Show version
  hubagent help                    Show this help

Serve Flags:
  --config string    Config file path (default: /usr/local/etc/hubagent/config.yaml)
  --debug            Enable debug logging
  --watch            Rebuild the index when the policy source directory changes

Ask / Rebuild / Status Flags:
  --config string    Config file path (used when --server is empty)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to run in-process.
  --output string    Output format: text or json (default: text)

Examples:
  hubagent serve --watch
  hubagent ask "How many dealers do we have?"
  hubagent ask --output json What is the return policy?
  hubagent ask --server "" --config ./config.yaml "Top 5 cars by price"
  hubagent rebuild
  hubagent status --output json`)
}
