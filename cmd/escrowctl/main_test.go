package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"itemescrow/config"
	"itemescrow/core/types"
	"itemescrow/gateway/middleware"
	"itemescrow/integrations/eventlog"
)

func TestRunTokenMintsVerifiableToken(t *testing.T) {
	t.Setenv(config.EnvAuthSecret, "escrowctl-secret-value")
	path := filepath.Join(t.TempDir(), "config.toml")
	sub := common.HexToAddress("0x00000000000000000000000000000000000000b1")

	var out bytes.Buffer
	require.NoError(t, runToken([]string{"--config", path, "--sub", sub.Hex(), "--ttl", "5m"}, &out))

	auth := middleware.NewAuthenticator(middleware.AuthConfig{HMACSecret: "escrowctl-secret-value", ClockSkew: time.Second}, nil)
	caller, err := auth.Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	require.Equal(t, sub, caller)
}

func TestRunTokenRejectsBadInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	t.Setenv(config.EnvAuthSecret, "escrowctl-secret-value")
	require.Error(t, runToken([]string{"--config", path, "--sub", "not-an-address"}, &bytes.Buffer{}))

	t.Setenv(config.EnvAuthSecret, "short")
	require.Error(t, runToken([]string{"--config", path, "--sub", "0x00000000000000000000000000000000000000b1"}, &bytes.Buffer{}))
}

func TestRunExportWritesCSV(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "events.db")
	cfgPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("EventLogPath = \""+filepath.ToSlash(logPath)+"\"\n"), 0o644))

	store, err := eventlog.Open(logPath, nil)
	require.NoError(t, err)
	_, err = store.Append(context.Background(), &types.Event{Type: "market.item.listed", Attributes: map[string]string{"itemId": "1"}})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	var out, status bytes.Buffer
	require.NoError(t, runExport([]string{"--config", cfgPath, "--format", "csv"}, &out, &status))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[1], "market.item.listed")
	require.Contains(t, status.String(), "exported 1 events")

	require.Error(t, runExport([]string{"--config", cfgPath, "--format", "xml"}, &out, &status))
	require.Error(t, runExport([]string{"--config", cfgPath, "--format", "parquet"}, &out, &status))

	parquetPath := filepath.Join(dir, "events.parquet")
	require.NoError(t, runExport([]string{"--config", cfgPath, "--format", "parquet", "--out", parquetPath}, &out, &status))
	info, err := os.Stat(parquetPath)
	require.NoError(t, err)
	require.Positive(t, info.Size())
}
