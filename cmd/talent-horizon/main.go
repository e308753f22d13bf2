// ABOUTME: Entry point for the talent-horizon messaging server
// ABOUTME: Dispatches serve, init, health, identity and token subcommands

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/Godpassdev247/talent-horizon/internal/config"
	"github.com/Godpassdev247/talent-horizon/internal/gateway"
)

// Version is set at build time.
var version = "dev"

const banner = `
 _        _            _          _                _
| |_ __ _| | ___ _ __ | |_       | |__   ___  _ __(_)_______  _ __
| __/ _' | |/ _ \ '_ \| __|_____ | '_ \ / _ \| '__| |_  / _ \| '_ \
| || (_| | |  __/ | | | ||_____|| | | | (_) | |  | |/ / (_) | | | |
 \__\__,_|_|\___|_| |_|\__|     |_| |_|\___/|_|  |_/___\___/|_| |_|
`

// getConfigPath returns the path to the config file.
// Priority: TALENT_CONFIG env var > XDG_CONFIG_HOME/talent-horizon/config.yaml > ~/.config/talent-horizon/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("TALENT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "talent-horizon", "config.yaml")
}

// getDataPath returns the directory holding the SQLite database.
// Priority: XDG_DATA_HOME/talent-horizon > ~/.local/share/talent-horizon
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "talent-horizon")
}

func usage() {
	fmt.Println("Usage: talent-horizon <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                         Start the messaging server")
	fmt.Println("  init                          Create a new config file interactively")
	fmt.Println("  health                        Check server readiness")
	fmt.Println("  identity add --id N --name NAME --email EMAIL --role ROLE")
	fmt.Println("                                Sync an identity into the reference table")
	fmt.Println("  token --id N [--ttl 24h]      Issue a bearer token for an identity")
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
	case "health":
		err = runHealth(ctx)
	case "identity":
		err = runIdentity(ctx, os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s", cfg.Database.Driver)
	if cfg.Database.Driver == config.DriverSQLite {
		gray.Printf(" (%s)", cfg.Database.Path)
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Auth:      ")
	if cfg.Auth.JWTSecret != "" {
		cyan.Println("jwt")
	} else {
		yellow.Println("trusted header")
	}
	fmt.Println()

	logger.Info("starting talent-horizon",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"driver", cfg.Database.Driver,
	)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
