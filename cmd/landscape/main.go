// Command landscape is the thin CLI surface named in spec §6:
// validate/run/resume/replay/verify/migrate. It wires cli.NewRootCommand
// to a store-backed demoRunner and nothing else — no settings/YAML
// loader and no concrete plugins, both out of scope (see DESIGN.md). A
// real deployment embeds landscape/cli directly with its own Runner
// instead of running this binary unmodified.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/landscaperun/landscape/landscape/cli"
	"github.com/landscaperun/landscape/landscape/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	dbPath := os.Getenv("LANDSCAPE_DB_PATH")
	if dbPath == "" {
		dbPath = "landscape.db"
	}
	audit, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		logger.Error("open audit store", "error", err)
		return cli.ExitConfigurationError
	}
	defer audit.Close()

	payloadDir := os.Getenv("LANDSCAPE_PAYLOAD_DIR")
	if payloadDir == "" {
		payloadDir = filepath.Join(filepath.Dir(dbPath), "payloads")
	}
	payload, err := store.NewFilesystemPayloadStore(payloadDir)
	if err != nil {
		logger.Error("open payload store", "error", err)
		return cli.ExitConfigurationError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(newDemoRunner(audit, payload), logger)
	err = root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return cli.ExitCode(err)
}
