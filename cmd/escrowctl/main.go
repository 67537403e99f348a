package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"itemescrow/config"
	"itemescrow/gateway/middleware"
	"itemescrow/integrations/eventlog"
	"itemescrow/integrations/exports"
)

const (
	tokenCommand  = "token"
	exportCommand = "export"
	defaultConfig = "./config.toml"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}

	switch os.Args[1] {
	case tokenCommand:
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case exportCommand:
		if err := runExport(os.Args[2:], os.Stdout, os.Stderr); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		usage(os.Stderr)
		os.Exit(1)
	}
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the escrow config file")
	subject := fs.String("sub", "", "Hex address the token authenticates as")
	ttl := fs.Duration("ttl", 0, "Token lifetime (defaults to Auth.TokenTTL)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	raw := strings.TrimSpace(*subject)
	if !common.IsHexAddress(raw) {
		return fmt.Errorf("--sub must be a hex address, got %q", raw)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if len(cfg.Auth.HMACSecret) < config.MinSecretLength {
		return fmt.Errorf("Auth.HMACSecret must be at least %d bytes (set %s)", config.MinSecretLength, config.EnvAuthSecret)
	}
	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = cfg.Auth.TokenTTL
	}

	token, err := middleware.IssueToken(middleware.AuthConfig{
		HMACSecret: cfg.Auth.HMACSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
	}, common.HexToAddress(raw), lifetime, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func runExport(args []string, out, status io.Writer) error {
	fs := flag.NewFlagSet(exportCommand, flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the escrow config file")
	formatFlag := fs.String("format", "jsonl", "Output format (csv|jsonl|parquet)")
	outPath := fs.String("out", "", "Output file (required for parquet, stdout otherwise)")
	limit := fs.Int("limit", eventlog.MaxRecent, "Number of most recent events to export")
	if err := fs.Parse(args); err != nil {
		return err
	}

	format, err := exports.ParseFormat(*formatFlag)
	if err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	store, err := eventlog.Open(cfg.EventLogPath, nil)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer store.Close()

	entries, err := store.Recent(context.Background(), *limit)
	if err != nil {
		return err
	}
	if format == exports.FormatParquet {
		if strings.TrimSpace(*outPath) == "" {
			return fmt.Errorf("--out is required for parquet exports")
		}
		checksum, err := exports.EventsParquet(*outPath, entries)
		if err != nil {
			return err
		}
		fmt.Fprintf(status, "exported %d events to %s (sha256 %s)\n", len(entries), *outPath, checksum)
		return nil
	}

	data, checksum, err := exports.Events(format, entries)
	if err != nil {
		return err
	}
	if strings.TrimSpace(*outPath) != "" {
		if err := os.WriteFile(*outPath, data, 0o644); err != nil {
			return err
		}
	} else if _, err := out.Write(data); err != nil {
		return err
	}
	fmt.Fprintf(status, "exported %d events (sha256 %s)\n", len(entries), checksum)
	return nil
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "escrowctl <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintf(w, "  %s     Mint a bearer token for the configured HMAC secret\n", tokenCommand)
	fmt.Fprintf(w, "  %s    Dump the audit event log as CSV, JSONL or Parquet\n", exportCommand)
}
