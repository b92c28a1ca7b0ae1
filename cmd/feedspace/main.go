// Package main is the FeedSpace CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/onetwothreethreetwoone/FeedSpace/internal/cli"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/config"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/graph"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/ingest"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/keyword"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/metrics"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/models"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/server"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/storage"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/watcher"
	"github.com/onetwothreethreetwoone/FeedSpace/internal/worker"
	"github.com/onetwothreethreetwoone/FeedSpace/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/feedspace/config.yaml"

// loadConfig loads config from path. When path is the default and ./config.yaml exists,
// that file is used instead so "feedspace server" from a project dir picks up its config.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
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
	case "server":
		runServer()
	case "score":
		runScore()
	case "ingest":
		runIngest()
	case "remove":
		runRemove()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("feedspace version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads the config and builds the logger shared by every local command.
func setup(configPath string, debugFlag bool) (*config.Config, string, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug || debugFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return cfg, resolved, logger
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (per-event watcher and scoring traces)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, logger := setup(*configPath, *debug)
	defer logger.Sync()
	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", cfg.Debug || *debug),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := components.Service.Restore(ctx); err != nil {
		logger.Fatal("Failed to restore graph", zap.Error(err))
	}

	srvOpts := []server.Option{server.WithStorage(components.Storage), server.WithLogger(logger)}
	if components.Prometheus != nil {
		srvOpts = append(srvOpts, server.WithMetrics(components.Prometheus.Handler()))
	}

	if len(cfg.Watch.Directories) > 0 {
		svc := components.Service
		watchSvc := watcher.New(
			cfg.Watch.Directories,
			cfg.Watch.Extensions,
			cfg.Watch.RecursiveOrDefault(),
			watcher.Funcs{
				Changed: func(ctx context.Context, path string) error {
					_, err := svc.IngestFile(ctx, path)
					return err
				},
				Removed: svc.RemoveFile,
			},
			watcher.WithLogger(logger),
		)
		if err := watchSvc.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
		watchSvc.SyncExistingFiles()
		srvOpts = append(srvOpts, server.WithWatch(watchSvc))
	}

	srv := server.NewServer(cfg, components.Store, components.Service, components.Pool, srvOpts...)
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
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

// readTask decodes a worker task message. "-" reads standard input.
func readTask(path string, stdin io.Reader) (models.Task, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return models.Task{}, err
		}
		defer f.Close()
		r = f
	}
	var task models.Task
	if err := json.NewDecoder(r).Decode(&task); err != nil {
		return models.Task{}, fmt.Errorf("decode task: %w", err)
	}
	return task, nil
}

func runScore() {
	fs := flag.NewFlagSet("score", flag.ExitOnError)
	workers := fs.Int("workers", 1, "number of scoring workers")
	newPairs := fs.Bool("new-pairs", false, "also score new embeddings against each other")
	outputFormat := fs.String("output", "json", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: feedspace score [flags] <task.json|->")
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	task, err := readTask(fs.Arg(0), os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read task: %v\n", err)
		os.Exit(1)
	}
	pool := worker.NewPool(*workers, worker.WithNewPairs(*newPairs))
	defer pool.Close()
	pairs, err := pool.Score(context.Background(), task)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Scoring failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WritePairs(os.Stdout, pairs, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// collectFiles returns path itself when it is a file, or every file under it whose
// extension is in exts, in lexical order.
func collectFiles(path string, exts []string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if hasExtension(p, exts) {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

func hasExtension(path string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if "."+strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: feedspace ingest [flags] <file-or-directory>")
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, _, logger := setup(*configPath, false)
	defer logger.Sync()

	files, err := collectFiles(fs.Arg(0), cfg.Watch.Extensions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read path: %v\n", err)
		os.Exit(1)
	}
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	if err := components.Service.Restore(ctx); err != nil {
		logger.Fatal("Failed to restore graph", zap.Error(err))
	}
	failed := 0
	for _, f := range files {
		summary, err := components.Service.IngestFile(ctx, f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", f, err)
			failed++
			continue
		}
		_ = cli.WriteSummary(os.Stdout, f, summary, format)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func runRemove() {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	byFile := fs.Bool("file", false, "arguments are drop files; remove every node they contributed")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: feedspace remove [flags] <node-id|file>...")
		os.Exit(1)
	}
	cfg, _, logger := setup(*configPath, false)
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	if err := components.Service.Restore(ctx); err != nil {
		logger.Fatal("Failed to restore graph", zap.Error(err))
	}
	if *byFile {
		for _, f := range fs.Args() {
			if err := components.Service.RemoveFile(ctx, f); err != nil {
				fmt.Printf("Removal failed for %s: %v\n", f, err)
				os.Exit(1)
			}
			fmt.Printf("Removed nodes from: %s\n", f)
		}
		return
	}
	if err := components.Service.Remove(ctx, fs.Args()); err != nil {
		fmt.Printf("Removal failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Removed %d node(s)\n", fs.NArg())
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var status *server.Status
	if *serverURL != "" {
		status, err = statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg, _, logger := setup(*configPath, false)
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		ctx := context.Background()
		if err := components.Service.Restore(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to restore graph: %v\n", err)
			os.Exit(1)
		}
		status, err = server.CollectStatus(ctx, components.Service, components.Storage, cfg, cfg.Watch.Directories)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (*server.Status, error) {
	resp, err := http.Get(strings.TrimRight(serverURL, "/") + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s server.Status
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

// Components holds initialized services.
type Components struct {
	Storage      storage.Storage
	KeywordIndex *keyword.NodeIndex
	Prometheus   *metrics.PrometheusRecorder
	Pool         *worker.Pool
	Store        *graph.Store
	Service      *ingest.Service
}

func (c *Components) Close() {
	if c.Pool != nil {
		_ = c.Pool.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	recorder := metrics.NewNoopRecorder()
	if cfg.Metrics.Enabled {
		c.Prometheus = metrics.NewPrometheusRecorder()
		recorder = c.Prometheus
	}

	st, err := storage.New(cfg.Storage.Backend, cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = st

	if cfg.Storage.KeywordIndexPath != "" {
		idx, err := keyword.NewNodeIndex(cfg.Storage.KeywordIndexPath)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
		}
		c.KeywordIndex = idx
	}

	c.Pool = worker.NewPool(cfg.Similarity.Workers,
		worker.WithNewPairs(cfg.Similarity.IncludeNewPairs),
		worker.WithLogger(logger),
		worker.WithRecorder(recorder),
	)
	c.Store = graph.NewStore(
		graph.WithLogger(logger),
		graph.WithRecorder(recorder),
		graph.WithUniqueIDs(cfg.Graph.UniqueIDs),
		graph.WithStrictLinks(cfg.Graph.StrictLinks),
	)

	opts := []ingest.Option{
		ingest.WithStorage(st),
		ingest.WithThreshold(cfg.Similarity.ThresholdOrDefault()),
		ingest.WithRetries(cfg.Similarity.RetriesOrDefault()),
		ingest.WithLinkColors(cfg.Graph.LinkColorLow, cfg.Graph.LinkColorHigh),
		ingest.WithNodeColor(cfg.Graph.NodeColor),
		ingest.WithLogger(logger),
		ingest.WithRecorder(recorder),
	}
	if c.KeywordIndex != nil {
		opts = append(opts, ingest.WithKeywordIndex(c.KeywordIndex))
	}
	svc, err := ingest.NewService(c.Store, c.Pool, opts...)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Service = svc
	logger.Info("components initialized",
		zap.String("backend", cfg.Storage.Backend),
		zap.Int("workers", c.Pool.Size()),
		zap.Bool("keyword_index", c.KeywordIndex != nil),
		zap.Bool("metrics", cfg.Metrics.Enabled))
	return c, nil
}

func printUsage() {
	fmt.Println(`feedspace - Similarity graph builder for streamed embeddings

Usage:
  feedspace server [flags]                Start the HTTP server and drop-directory watcher
  feedspace score [flags] <task.json|->   Score a task message and print the result message
  feedspace ingest [flags] <file-or-dir>  Ingest embedded nodes from JSON files
  feedspace remove [flags] <id>...        Remove nodes (or, with --file, a drop file's nodes)
  feedspace status [flags]                Show graph/storage status
  feedspace version                       Show version
  feedspace help                          Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/feedspace/config.yaml)
  --debug            Enable debug logging

Score Flags:
  --workers int      Number of scoring workers (default: 1)
  --new-pairs        Also score new embeddings against each other
  --output string    Output format: text or json (default: json)

Ingest Flags:
  --config string    Config file path
  --output string    Output format: text or json (default: text)

Remove Flags:
  --config string    Config file path
  --file             Treat arguments as drop files

Status Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") for direct storage.
  --output string    Output format: text or json (default: text)

Examples:
  feedspace server
  feedspace score task.json
  cat task.json | feedspace score --output text -
  feedspace ingest ./drop
  feedspace remove node-123 node-456
  feedspace remove --file ./drop/batch.json
  feedspace status --output json`)
}
