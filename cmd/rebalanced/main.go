package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/rorp/rebalance-eclair/internal/config"
	"github.com/rorp/rebalance-eclair/internal/eclair"
	"github.com/rorp/rebalance-eclair/internal/rebalance"
	"github.com/rorp/rebalance-eclair/internal/server"
)

func main() {
	fs := flag.NewFlagSet("rebalanced", flag.ExitOnError)
	listenAddr := fs.String("listen", "", "Observability API address (overrides LISTEN_ADDR)")
	debug := fs.Bool("debug", false, "Enable debug logging")
	_ = fs.Parse(os.Args[1:])

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	node := eclair.New(cfg.NodeAddress, cfg.NodePassword, cfg.CallTimeout, logger)

	bootCtx, cancel := context.WithTimeout(context.Background(), cfg.CallTimeout)
	info, err := node.GetInfo(bootCtx)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Str("address", cfg.NodeAddress).Msg("node unreachable at boot")
	}
	logger.Info().Str("node_id", info.NodeID).Str("alias", info.Alias).Msg("connected to node")

	store := openStore(cfg, logger)

	worker := rebalance.NewWorker(cfg, node, store, logger)
	restoreCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	worker.RestoreState(restoreCtx)
	cancel()
	worker.Start()

	srv := server.New(cfg.ListenAddr, worker, logger)
	go func() {
		if err := srv.Run(); err != nil {
			logger.Error().Err(err).Msg("observability API exited")
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	// Stop blocks until any in-flight attempt has been drained.
	worker.Stop()
	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	worker.PersistState(persistCtx)
	cancel()
	srv.Shutdown(5 * time.Second)
}

// openStore connects the optional persistence backend. A missing or broken
// DSN degrades to in-memory operation; only the node being unreachable is
// fatal at boot.
func openStore(cfg config.Config, logger zerolog.Logger) *rebalance.Store {
	if cfg.PostgresDSN == "" {
		logger.Info().Msg("no POSTGRES_DSN configured, running without persistence")
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Warn().Err(err).Msg("persistence unavailable, running in memory")
		return nil
	}
	store := rebalance.NewStore(pool, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to init schema, running in memory")
		pool.Close()
		return nil
	}
	return store
}
