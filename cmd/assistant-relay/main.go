// ABOUTME: Entry point for assistant-relay
// ABOUTME: Relays WhatsApp and Matrix messages to an OpenAI assistant

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/assistant-relay/internal/config"
	"github.com/2389/assistant-relay/internal/gateway"
	"github.com/2389/assistant-relay/internal/telemetry"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                _     _              _                  _
  __ _ ___ ___(_)___| |_ __ _ _ __ | |_      _ __ ___| | __ _ _   _
 / _' / __/ __| / __| __/ _' | '_ \| __|____| '__/ _ \ |/ _' | | | |
| (_| \__ \__ \ \__ \ || (_| | | | | ||_____| | |  __/ | (_| | |_| |
 \__,_|___/___/_|___/\__\__,_|_| |_|\__|    |_|  \___|_|\__,_|\__, |
                                                              |___/
`

// getConfigPath returns the path to the relay config file.
// Priority: ASSISTANT_RELAY_CONFIG env var > XDG_CONFIG_HOME/assistant-relay/relay.yaml > ~/.config/assistant-relay/relay.yaml
func getConfigPath() string {
	if envPath := os.Getenv("ASSISTANT_RELAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "relay.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "assistant-relay", "relay.yaml")
}

func usage() {
	fmt.Println("Usage: assistant-relay <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                              Start the relay server")
	fmt.Println("  init                               Create a new config file interactively")
	fmt.Println("  health                             Check relay liveness")
	fmt.Println("  ready                              Show relay readiness details")
	fmt.Println("  token --subject NAME [--ttl 720h]  Mint an admin API token")
	fmt.Println("  version                            Print the version")
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
		err = runInit(os.Stdin, os.Stdout)
	case "health":
		err = runHealth(ctx)
	case "ready":
		err = runReady(ctx)
	case "token":
		err = runToken(os.Args[2:], os.Stdout)
	case "version":
		fmt.Println(version)
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

	logger := setupLogger(cfg.Logging)
	printStartup(cfg, configPath)

	providers, err := telemetry.NewProviders(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	logger.Info("starting assistant-relay",
		"version", version,
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"session_backend", cfg.Session.Backend,
		"otlp", providers.Exporting,
	)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func printStartup(cfg *config.Config, configPath string) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	line := func(label, value string) {
		green.Print("    ▶ ")
		fmt.Printf("%-10s %s\n", label+":", value)
	}

	line("Config", configPath)
	line("HTTP", cfg.Server.HTTPAddr)
	line("Sessions", fmt.Sprintf("%s (ttl %s)", cfg.Session.Backend, cfg.Session.TTL))
	if cfg.WhatsApp.Enabled {
		line("WhatsApp", "phone id "+cfg.WhatsApp.PhoneNumberID)
	}
	if cfg.Matrix.Enabled {
		line("Matrix", cfg.Matrix.UserID)
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("%-10s ", "Tailscale:")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	if cfg.Assistant.APIKey == "" || cfg.Assistant.AssistantID == "" {
		yellow.Println("    ! assistant.api_key or assistant.assistant_id is empty; messages will be refused")
	}
	fmt.Println()
}

// getStatus GETs path on the local relay and returns status and body.
func getStatus(ctx context.Context, path string) (int, []byte, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return 0, nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.Server.HTTPAddr == "" {
		return 0, nil, errors.New("server.http_addr is not set")
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func runHealth(ctx context.Context) error {
	status, _, err := getStatus(ctx, "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", status)
	}
	fmt.Println("healthy")
	return nil
}

func runReady(ctx context.Context) error {
	status, body, err := getStatus(ctx, "/health/ready")
	if err != nil {
		return fmt.Errorf("readiness check failed: %w", err)
	}
	fmt.Print(string(body))
	if status != http.StatusOK {
		return fmt.Errorf("not ready: status %d", status)
	}
	return nil
}
