// Supernova core node daemon.
//
// Usage:
//
//	supernovad [--datadir=PATH] [--log-level=info] [--log-json]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Carbon-Twelve-C12/supernova-sub005/config"
	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/log"
	"github.com/Carbon-Twelve-C12/supernova-sub005/internal/node"
)

func main() {
	var (
		dataDir  = flag.String("datadir", defaultDataDir(), "data directory")
		logLevel = flag.String("log-level", "info", "log level (debug|info|warn|error)")
		logJSON  = flag.Bool("log-json", false, "emit JSON logs")
		logFile  = flag.String("log-file", "", "also write JSON logs to this file")
	)
	flag.Parse()

	if err := log.Init(*logLevel, *logJSON, *logFile); err != nil {
		fmt.Fprintf(os.Stderr, "init logging: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Default(*dataDir)
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("datadir", cfg.DataDir).Msg("create data directory")
	}

	n, err := node.Open(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open node")
	}
	log.Node.Info().
		Uint64("height", n.Chain().Height()).
		Str("tip", n.Chain().TipHash().String()).
		Str("datadir", cfg.DataDir).
		Msg("node started")

	// Run until interrupted, then drive the clean shutdown protocol.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Node.Info().Str("signal", sig.String()).Msg("shutting down")

	if err := n.Close(context.Background()); err != nil {
		log.Error().Err(err).Msg("shutdown")
		os.Exit(1)
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".supernova"
	}
	return filepath.Join(home, ".supernova")
}
