// ABOUTME: Interactive init command that writes a starter relay config
// ABOUTME: Secrets are referenced as ${ENV} placeholders, never written inline

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// initAnswers holds everything runInit asks for.
type initAnswers struct {
	HTTPAddr string

	SessionBackend string
	SessionTarget  string // sqlite path, postgres DSN or redis URL
	SessionTTL     string

	WhatsApp bool
	Matrix   bool

	MatrixHomeserver string
	MatrixUserID     string

	Tailscale         bool
	TailscaleHostname string
	TailscaleFunnel   bool

	JWTSecret string

	LogLevel  string
	LogFormat string
}

func runInit(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	ask := func(question, def string) string { return prompt(reader, out, question, def) }
	yes := func(question, def string) bool { return isYes(ask(question, def)) }

	fmt.Fprintln(out, "assistant-relay configuration setup")
	fmt.Fprintln(out, "===================================")
	fmt.Fprintln(out)

	outputFile := ask("Config file path", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !yes("File exists. Overwrite?", "no") {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Fprintln(out, "\n--- Server ---")
	a.HTTPAddr = ask("HTTP address", "0.0.0.0:8080")

	fmt.Fprintln(out, "\n--- Sessions ---")
	a.SessionBackend = strings.ToLower(ask("Session backend (memory/sqlite/postgres/redis)", "memory"))
	switch a.SessionBackend {
	case "sqlite":
		a.SessionTarget = ask("SQLite path", filepath.Join(filepath.Dir(outputFile), "sessions.db"))
	case "postgres":
		a.SessionTarget = ask("Postgres DSN", "${DATABASE_URL}")
	case "redis":
		a.SessionTarget = ask("Redis URL", "${REDIS_URL}")
	}
	a.SessionTTL = ask("Session lifetime", "12h")

	fmt.Fprintln(out, "\n--- Frontends ---")
	a.WhatsApp = yes("Enable WhatsApp?", "yes")
	a.Matrix = yes("Enable Matrix?", "no")
	if a.Matrix {
		a.MatrixHomeserver = ask("Matrix homeserver", "https://matrix.org")
		a.MatrixUserID = ask("Matrix bot user id", "@relay:matrix.org")
	}

	fmt.Fprintln(out, "\n--- Tailscale ---")
	a.Tailscale = yes("Enable Tailscale?", "no")
	if a.Tailscale {
		a.TailscaleHostname = ask("Tailscale hostname", "assistant-relay")
		a.TailscaleFunnel = yes("Enable Funnel (public HTTPS, needed for WhatsApp)?", "yes")
	}

	fmt.Fprintln(out, "\n--- Admin API ---")
	if yes("Enable the session API with a generated JWT secret?", "no") {
		secret, err := generateSecret()
		if err != nil {
			return err
		}
		a.JWTSecret = secret
	}

	fmt.Fprintln(out, "\n--- Logging ---")
	a.LogLevel = ask("Log level (debug/info/warn/error)", "info")
	a.LogFormat = ask("Log format (text/json)", "text")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// 0600 since the file may hold the JWT secret
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nSet these environment variables before starting:")
	fmt.Fprintln(out, "  OPENAI_API_KEY, ASSISTANT_ID")
	if a.WhatsApp {
		fmt.Fprintln(out, "  VERIFY_TOKEN, WHATSAPP_TOKEN, WHATSAPP_PHONE_ID")
	}
	if a.Matrix {
		fmt.Fprintln(out, "  MATRIX_TOKEN")
	}
	fmt.Fprintln(out, "\nTo start the relay:")
	fmt.Fprintln(out, "  assistant-relay serve")
	return nil
}

func renderConfig(a initAnswers) string {
	var b strings.Builder
	line := func(format string, args ...any) { fmt.Fprintf(&b, format+"\n", args...) }

	line("# assistant-relay configuration")
	line("# Generated by assistant-relay init")
	line("")

	line("server:")
	line("  http_addr: %q", a.HTTPAddr)
	line("  drain_timeout: \"60s\"")
	line("")

	line("session:")
	line("  backend: %q", a.SessionBackend)
	line("  ttl: %q", a.SessionTTL)
	switch a.SessionBackend {
	case "sqlite":
		line("  sqlite_path: %q", a.SessionTarget)
	case "postgres":
		line("  postgres_dsn: %q", a.SessionTarget)
	case "redis":
		line("  redis_url: %q", a.SessionTarget)
	}
	line("")

	line("assistant:")
	line("  api_key: \"${OPENAI_API_KEY}\"")
	line("  assistant_id: \"${ASSISTANT_ID}\"")
	line("")

	line("relay:")
	line("  welcome_enabled: true")
	line("  polling:")
	line("    initial_delay: \"2s\"")
	line("    interval: \"3s\"")
	line("    max_attempts: 15")
	line("")

	line("whatsapp:")
	line("  enabled: %t", a.WhatsApp)
	if a.WhatsApp {
		line("  verify_token: \"${VERIFY_TOKEN}\"")
		line("  access_token: \"${WHATSAPP_TOKEN}\"")
		line("  phone_number_id: \"${WHATSAPP_PHONE_ID}\"")
	}
	line("")

	line("matrix:")
	line("  enabled: %t", a.Matrix)
	if a.Matrix {
		line("  homeserver: %q", a.MatrixHomeserver)
		line("  user_id: %q", a.MatrixUserID)
		line("  access_token: \"${MATRIX_TOKEN}\"")
		line("  render_markdown: true")
	}
	line("")

	line("tailscale:")
	line("  enabled: %t", a.Tailscale)
	if a.Tailscale {
		line("  hostname: %q", a.TailscaleHostname)
		line("  funnel: %t", a.TailscaleFunnel)
	}
	line("")

	if a.JWTSecret != "" {
		line("auth:")
		line("  jwt_secret: %q", a.JWTSecret)
		line("")
	}

	line("logging:")
	line("  level: %q", a.LogLevel)
	line("  format: %q", a.LogFormat)

	return b.String()
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if err != nil && input == "" {
		// EOF takes the default
		fmt.Fprintln(out)
		return defaultVal
	}
	if input == "" {
		return defaultVal
	}
	return input
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "y" || s == "yes"
}
