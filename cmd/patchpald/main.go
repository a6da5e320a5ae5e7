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

	"github.com/mattn/go-isatty"

	"github.com/connor15mcc/patchpal/internal/config"
	"github.com/connor15mcc/patchpal/internal/daemon"
	"github.com/connor15mcc/patchpal/internal/registry"
	"github.com/connor15mcc/patchpal/internal/storage"
	"github.com/connor15mcc/patchpal/internal/tui"
	"github.com/connor15mcc/patchpal/internal/version"
)

func main() {
	// Handle version command before anything else (for CI testing)
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("patchpald %s\n", version.Version)
		return
	}

	var (
		dbPath     = flag.String("db", "", "path to sqlite decision log (overrides config)")
		configPath = flag.String("config", config.GlobalConfigPath(), "path to config file")
		addr       = flag.String("listen", "", "listen address (overrides config)")
		headless   = flag.Bool("headless", false, "run without the interactive review console")
	)
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Starting patchpald...")

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		log.Printf("Warning: failed to load config from %s: %v", *configPath, err)
		cfg = config.DefaultConfig()
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	log.Printf("Decision log: %s", cfg.DBPath)

	reg := registry.NewRegistry()
	// Continue the id sequences where the previous run left off
	maxPatch, maxHunk, err := db.MaxIDs()
	if err != nil {
		log.Fatalf("Failed to read id high-water marks: %v", err)
	}
	reg.SeedIDs(maxPatch+1, maxHunk+1)
	reg.SetSink(db)

	server := daemon.NewServer(reg, cfg)
	server.SetArchive(db)
	if err := server.Listen(); err != nil {
		log.Fatalf("Failed to bind %s: %v", cfg.ListenAddr, err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve() }()

	interactive := !*headless && isatty.IsTerminal(os.Stdout.Fd())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Printf("Received signal %v, shutting down...", sig)
		case err := <-serveErr:
			if err != nil {
				log.Printf("Server error: %v", err)
			}
		}
		cancel()
	}()

	if interactive {
		// The console owns the terminal; keep logs out of its way
		logPath := filepath.Join(config.DataDir(), "patchpald.log")
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err == nil {
			log.SetOutput(f)
			defer f.Close()
		}

		if err := tui.Run(ctx, daemon.NewConsole(reg)); err != nil {
			log.Printf("Console error: %v", err)
		}
	} else {
		log.Println("Running headless; decisions require an attached console")
		<-ctx.Done()
	}

	if err := server.Stop(); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
