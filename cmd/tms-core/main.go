// ABOUTME: Entry point for tms-core, the enhanced connectivity service of the TMS dashboard
// ABOUTME: Dispatches the serve, status, heartbeat, schedule, tokens, health and init subcommands

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/tms-core/internal/config"
	"github.com/2389/tms-core/internal/server"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _
| |_ _ __ ___  ___        ___ ___  _ __ ___
| __| '_ ' _ \/ __|_____ / __/ _ \| '__/ _ \
| |_| | | | | \__ \_____| (_| (_) | | |  __/
 \__|_| |_| |_|___/      \___\___/|_|  \___|
`

func usage() {
	fmt.Println("Usage: tms-core <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                  Start the HTTP server")
	fmt.Println("  init                   Create a new config file interactively")
	fmt.Println("  status                 Show enhanced service and license status")
	fmt.Println("  heartbeat              Call the heartbeat trigger once")
	fmt.Println("  schedule               Call the heartbeat trigger on cron.schedule")
	fmt.Println("  tokens clear-previous  Forget the previous session token")
	fmt.Println("  health                 Check server health")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "status":
		err = runStatus(ctx)
	case "heartbeat":
		err = runHeartbeat(ctx)
	case "schedule":
		err = runSchedule(ctx)
	case "tokens":
		err = runTokens(ctx, os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadEnvFile loads TMS_ENV_FILE, or ./.env when present. Variables already
// set in the environment are not overwritten.
func loadEnvFile() error {
	path := os.Getenv("TMS_ENV_FILE")
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// loadConfig loads the env file and then the config file.
func loadConfig() (*config.Config, string, error) {
	if err := loadEnvFile(); err != nil {
		return nil, "", err
	}

	configPath := config.DefaultPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

// loadConfigAndLogger is the common prelude of the non-serve commands.
func loadConfigAndLogger() (*config.Config, *slog.Logger, io.Closer, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	logger, closer, err := setupLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return nil, nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, closer, nil
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger, closer, err := setupLogger(cfg.Logging, os.Stdout)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.HTTPS {
			yellow.Print(" [https]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Enhanced:  ")
	if cfg.Enhanced.URL != "" {
		cyan.Println(cfg.Enhanced.URL)
	} else {
		yellow.Println("not configured")
	}
	fmt.Println()

	logger.Info("starting tms-core",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"enhanced_configured", cfg.Enhanced.URL != "",
	)

	srv, err := server.New(cfg, logger, server.WithRequestLogLevel(parseLevel(cfg.Logging.Level)))
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}
