// ABOUTME: token command that mints admin API tokens
// ABOUTME: Signs with auth.jwt_secret from the relay config

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/2389/assistant-relay/internal/auth"
	"github.com/2389/assistant-relay/internal/config"
	"github.com/2389/assistant-relay/internal/gateway"
)

type tokenOptions struct {
	subject string
	ttl     time.Duration
}

func parseTokenArgs(args []string) (tokenOptions, error) {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var opts tokenOptions
	fs.StringVar(&opts.subject, "subject", "", "token subject (who the token is for)")
	fs.DurationVar(&opts.ttl, "ttl", 30*24*time.Hour, "token lifetime")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.subject == "" {
		return opts, errors.New("--subject is required")
	}
	if opts.ttl <= 0 {
		return opts, errors.New("--ttl must be positive")
	}
	return opts, nil
}

func runToken(args []string, out io.Writer) error {
	opts, err := parseTokenArgs(args)
	if err != nil {
		return fmt.Errorf("usage: assistant-relay token --subject NAME [--ttl 720h]: %w", err)
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	return mintToken(cfg, opts, out)
}

func mintToken(cfg *config.Config, opts tokenOptions, out io.Writer) error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not set; the session API is disabled")
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), gateway.TokenIssuer)
	token, err := verifier.Generate(opts.subject, opts.ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Fprintln(out, token)
	return nil
}
