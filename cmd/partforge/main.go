package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattjoyce/partforge/internal/api"
	"github.com/mattjoyce/partforge/internal/config"
	"github.com/mattjoyce/partforge/internal/dispatch"
	"github.com/mattjoyce/partforge/internal/engine"
	"github.com/mattjoyce/partforge/internal/history"
	"github.com/mattjoyce/partforge/internal/library"
	"github.com/mattjoyce/partforge/internal/lock"
	"github.com/mattjoyce/partforge/internal/log"
	"github.com/mattjoyce/partforge/internal/registry"
	"github.com/mattjoyce/partforge/internal/stdio"
	"github.com/mattjoyce/partforge/internal/storage"
	"github.com/mattjoyce/partforge/internal/tui/watch"
	"github.com/mattjoyce/partforge/internal/workspace"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		os.Exit(runSystemNoun(args))
	case "library":
		os.Exit(runLibraryNoun(args))

	case "version":
		fmt.Printf("partforge version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`partforge - CAD script execution server

Usage:
  partforge <noun> <action> [flags]

Core Resources (Nouns):
  system    Server lifecycle and transports
  library   Part library indexing and search

System Commands:
  system serve      Start the HTTP server in foreground
  system stdio      Serve tool calls over stdin/stdout
  system watch      Live TUI over the server's event stream

Library Commands:
  library scan <workspace>          Index the workspace part library
  library search <workspace> <q>    Search the workspace part library

General:
  version           Show version information
  help              Show this help message

Use 'partforge <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "serve":
		if hasHelpFlag(actionArgs) {
			printSystemServeHelp()
			return 0
		}
		return runServe(actionArgs)
	case "stdio":
		if hasHelpFlag(actionArgs) {
			printSystemStdioHelp()
			return 0
		}
		return runStdio(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	case "help":
		printSystemNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runLibraryNoun(args []string) int {
	if len(args) < 1 {
		printLibraryNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printLibraryNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "scan":
		if hasHelpFlag(actionArgs) {
			printLibraryScanHelp()
			return 0
		}
		return runLibraryScan(actionArgs)
	case "search":
		if hasHelpFlag(actionArgs) {
			printLibrarySearchHelp()
			return 0
		}
		return runLibrarySearch(actionArgs)
	case "help":
		printLibraryNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown library action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: partforge system <action>")
	fmt.Fprintln(w, "Actions: serve, stdio, watch")
}

func printLibraryNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: partforge library <action> [flags]")
	fmt.Fprintln(w, "Actions: scan, search")
}

func printSystemServeHelp() {
	fmt.Println("Usage: partforge system serve [--config PATH]")
	fmt.Println("Start the HTTP server in the foreground.")
}

func printSystemStdioHelp() {
	fmt.Println("Usage: partforge system stdio [--config PATH]")
	fmt.Println("Serve tool calls over stdin/stdout, one JSON envelope per line.")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: partforge system watch [--url URL]")
	fmt.Println("Attach a live TUI to a running server's event stream.")
}

func printLibraryScanHelp() {
	fmt.Println("Usage: partforge library scan <workspace> [--config PATH]")
	fmt.Println("Index the part library of a workspace and render previews.")
}

func printLibrarySearchHelp() {
	fmt.Println("Usage: partforge library search <workspace> <query> [--config PATH]")
	fmt.Println("Scan the part library, then search it by name, tags, and description.")
}

// --- ACTION IMPLEMENTATIONS ---

func loadCLIConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		return config.Defaults(), nil
	}
	return config.Load(configPath)
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadCLIConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("partforge starting", "version", version, "listen", cfg.API.Listen)

	pidLockPath := getPIDLockPath(cfg)
	pidLock, err := lock.Acquire(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.History.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.History.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.History.Path)

	mgr := workspace.NewManager(workspace.NewExecSyncer(cfg))
	eng := engine.New(mgr, cfg)
	reg := registry.New()
	hist := history.NewStore(db)
	hub := api.NewEventHub(256)
	disp := dispatch.New(eng, mgr, reg, hist, hub, cfg)

	apiServer := api.New(api.Config{Listen: cfg.API.Listen}, disp, reg, hub, log.WithComponent("api"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("api: %w", err)
		}
	}()

	logger.Info("partforge running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("partforge stopped")
	return 0
}

func runStdio(args []string) int {
	fs := flag.NewFlagSet("stdio", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadCLIConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	// stdout carries the protocol; all logging goes to stderr.
	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.History.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.History.Path, "error", err)
		return 1
	}
	defer db.Close()

	mgr := workspace.NewManager(workspace.NewExecSyncer(cfg))
	eng := engine.New(mgr, cfg)
	reg := registry.New()
	hist := history.NewStore(db)
	disp := dispatch.New(eng, mgr, reg, hist, nil, cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := stdio.New(disp).Run(ctx, os.Stdin, os.Stdout); err != nil && err != context.Canceled {
		logger.Error("stdio transport failed", "error", err)
		return 1
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("url", "http://127.0.0.1:8080", "Base URL of a running server")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	p := tea.NewProgram(watch.New(strings.TrimRight(*apiURL, "/")))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Watch TUI failed: %v\n", err)
		return 1
	}
	return 0
}

func runLibraryScan(args []string) int {
	root, cfg, code := libraryArgs("scan", args, 1)
	if code != 0 {
		return code
	}

	log.Setup(cfg.Service.LogLevel)

	mgr := workspace.NewManager(workspace.NewExecSyncer(cfg))
	eng := engine.New(mgr, cfg)
	idx := library.NewIndex(root, cfg, eng)

	report, err := idx.Scan(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Scan failed: %v\n", err)
		return 1
	}

	fmt.Printf("Scanned %d scripts: %d indexed, %d cached, %d pruned, %d errors\n",
		report.Scanned, report.Indexed, report.Cached, report.Pruned, report.Errors)
	return 0
}

func runLibrarySearch(args []string) int {
	root, cfg, code := libraryArgs("search", args, 2)
	if code != 0 {
		return code
	}

	log.Setup(cfg.Service.LogLevel)

	mgr := workspace.NewManager(workspace.NewExecSyncer(cfg))
	eng := engine.New(mgr, cfg)
	idx := library.NewIndex(root, cfg, eng)

	if _, err := idx.Scan(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Scan failed: %v\n", err)
		return 1
	}

	query := leadingPositionals(args)[1]
	for _, entry := range idx.Search(query) {
		desc := entry.Metadata.Description
		if entry.Error != "" {
			desc = "ERROR: " + entry.Error
		}
		fmt.Printf("%-24s %s\n", entry.PartName, desc)
	}
	return 0
}

// libraryArgs parses the library action arguments: positionals first, then
// flags, like 'partforge library scan /path/to/ws --config cfg.yaml'.
func libraryArgs(action string, args []string, wantPositionals int) (string, *config.Config, int) {
	var configPath string

	fs := flag.NewFlagSet(action, flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")

	positionals := leadingPositionals(args)
	if err := fs.Parse(args[len(positionals):]); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return "", nil, 1
	}

	if len(positionals) < wantPositionals {
		fmt.Fprintf(os.Stderr, "Usage: partforge library %s <workspace>", action)
		if wantPositionals > 1 {
			fmt.Fprint(os.Stderr, " <query>")
		}
		fmt.Fprintln(os.Stderr, " [--config PATH]")
		return "", nil, 1
	}

	cfg, err := loadCLIConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return "", nil, 1
	}

	return positionals[0], cfg, 0
}

func leadingPositionals(args []string) []string {
	var out []string
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") {
			break
		}
		out = append(out, arg)
	}
	return out
}

func getPIDLockPath(cfg *config.Config) string {
	dbPath := cfg.History.Path
	dbDir := filepath.Dir(dbPath)
	dbBase := filepath.Base(dbPath)
	ext := filepath.Ext(dbBase)
	nameWithoutExt := dbBase[:len(dbBase)-len(ext)]
	return filepath.Join(dbDir, nameWithoutExt+".pid")
}
