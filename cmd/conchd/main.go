package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/m4xw311/conch/config"
	"github.com/m4xw311/conch/daemon"
	"github.com/m4xw311/conch/llm"
	"github.com/m4xw311/conch/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Define flags
	configFlag := flag.String("config", "", "Path to a config file (defaults to ~/.conch/config.yaml)")
	socketFlag := flag.String("socket", "", "Unix socket path to listen on")
	flag.Parse()

	// Load configuration
	var cfg *config.Config
	var err error
	if *configFlag != "" {
		cfg, err = config.LoadFile(*configFlag)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		return 1
	}
	if *socketFlag != "" {
		cfg.Socket = *socketFlag
	}

	logger := log.New(os.Stderr, "conchd ", log.LstdFlags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize LLM Client
	client, err := llm.New(ctx, cfg.Daemon.LLMClient, cfg.Daemon.Model)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing %s client: %+v\n", cfg.Daemon.LLMClient, err)
		return 1
	}

	// Exchange history is optional; no database path means no persistence.
	var history *storage.History
	if cfg.Daemon.HistoryDB != "" {
		db, err := storage.NewDB(cfg.Daemon.HistoryDB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening history database: %+v\n", err)
			return 1
		}
		defer db.Close()
		history = storage.NewHistory(db, logger)
		defer history.Stop()
	}

	srv := daemon.NewServer(client, daemon.NewAllowlist(cfg.Daemon.AllowedCommands), daemon.Options{
		Socket:        cfg.Socket,
		MaxSessions:   cfg.Daemon.MaxSessions,
		ContextWindow: cfg.Daemon.ContextWindow,
		History:       history,
		Logger:        logger,
	})
	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting server: %+v\n", err)
		return 1
	}
	logger.Printf("listening on %s (provider %s)", cfg.Socket, cfg.Daemon.LLMClient)

	// Pick up allowlist edits without a restart.
	if path := watchPath(*configFlag); path != "" {
		stopWatch, err := config.Watch(path, func(next *config.Config) {
			srv.Allowlist().Replace(next.Daemon.AllowedCommands)
			logger.Printf("reloaded allowed_commands from %s (%d patterns)", path, len(next.Daemon.AllowedCommands))
		})
		if err != nil {
			logger.Printf("config watch disabled: %v", err)
		} else {
			defer stopWatch()
		}
	}

	<-ctx.Done()
	logger.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown: %v", err)
		return 1
	}
	return 0
}

// watchPath picks the config file to watch for live reloads: the -config
// flag when given, otherwise the per-user file if it exists.
func watchPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(home, ".conch", "config.yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}
