// Mailcopd is the email extraction daemon. It parses archived email,
// sends deduplicated batches to a local or remote language-model
// backend, validates and scores the output, and persists the extracted
// work items.
//
// Usage:
//
//	# Start with defaults (local backend on Ollama's default port)
//	mailcopd
//
//	# Start with a config file
//	mailcopd --config ~/.config/mailcop/config.yaml
//
//	# Configure via environment
//	MAILCOP_BACKENDS_MODE=remote MAILCOP_BACKENDS_REMOTE_API_KEY=sk-... mailcopd
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Cris-z123/mailCopilot-sub001/internal/config"
	"github.com/Cris-z123/mailCopilot-sub001/internal/extraction"
	"github.com/Cris-z123/mailCopilot-sub001/internal/logging"
	"github.com/Cris-z123/mailCopilot-sub001/internal/modes"
	"github.com/Cris-z123/mailCopilot-sub001/internal/orchestrator"
	"github.com/Cris-z123/mailCopilot-sub001/internal/parser"
	"github.com/Cris-z123/mailCopilot-sub001/internal/secrets"
	"github.com/Cris-z123/mailCopilot-sub001/internal/server"
	"github.com/Cris-z123/mailCopilot-sub001/internal/store"
	"github.com/Cris-z123/mailCopilot-sub001/internal/validator"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "mailcopd",
	Short:   "Email extraction daemon",
	Version: fmt.Sprintf("%s (%s)", version, gitCommit),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return run(ctx)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run wires the full pipeline and blocks until the context is
// cancelled: config, logger, store, both backends, coordinator,
// orchestrator, HTTP server.
func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = log.Sync() }()
	log.Info("starting mailcopd", zap.String("version", version), zap.String("mode", cfg.Backends.Mode))

	if !cfg.Store.Passphrase.IsSet() {
		log.Warn("store.passphrase is unset; item encryption uses a key derived from an empty passphrase")
	}
	codec, err := secrets.NewAESCodecFromPassphrase(cfg.Store.Passphrase.Value())
	if err != nil {
		return fmt.Errorf("init codec: %w", err)
	}

	st, err := store.Open(ctx, cfg.Store.Path, codec)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	generators := map[extraction.Mode]extraction.Generator{}
	local, err := extraction.NewGenerator(extraction.ModeLocal, cfg.Backends.Local.Extraction())
	if err != nil {
		return fmt.Errorf("init local backend: %w", err)
	}
	generators[extraction.ModeLocal] = local

	// The remote backend needs a key; without one the daemon still runs
	// and switch requests to remote are rejected at the boundary.
	if cfg.Backends.Remote.APIKey.IsSet() {
		remote, err := extraction.NewGenerator(extraction.ModeRemote, cfg.Backends.Remote.Extraction())
		if err != nil {
			return fmt.Errorf("init remote backend: %w", err)
		}
		generators[extraction.ModeRemote] = remote
	} else {
		log.Info("remote backend not configured, running local-only")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	coord := modes.New(cfg.Mode(), log.Named("modes"))
	orch := orchestrator.New(
		parser.NewFactory(),
		generators,
		validator.New(log.Named("validator")),
		orchestrator.FixedScorer{Value: 80},
		st,
		coord,
		orchestrator.NewMetrics(reg),
		log.Named("orchestrator"),
	)

	srv, err := server.New(orch, st, coord, generators, reg, log.Named("http"), cfg.Server)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
