package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/ipfscached/pkg/clientdb"
	"github.com/cuemby/ipfscached/pkg/log"
	"github.com/cuemby/ipfscached/pkg/metrics"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var serveClientCmd = &cobra.Command{
	Use:   "serve-client",
	Short: "Run a Client process: resolves the Injector's published root and serves reads",
	Long: `serve-client starts a ClientDb, which periodically resolves the
configured IPNS name and reloads the B-tree whenever the root
changes, logging each newly loaded root.`,
	RunE: runServeClient,
}

func init() {
	serveClientCmd.Flags().String("ipns", "", "IPNS name to resolve (must match the injector's)")
	serveClientCmd.Flags().String("repo", "", "Repo directory for persisted state")
}

func runServeClient(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := log.WithComponent("serve-client")
	metrics.SetVersion(Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter, err := buildAdapter(cfg, "client-"+uuid.NewString())
	if err != nil {
		return fmt.Errorf("build object store adapter: %w", err)
	}
	defer func() {
		if closer, ok := adapter.(interface{ Close() error }); ok {
			closer.Close()
		}
	}()

	db, err := clientdb.New(ctx, clientdb.Config{
		Adapter:     adapter,
		RepoDir:     cfg.RepoDir,
		IPNSName:    cfg.IPNSName,
		MaxNodeSize: cfg.MaxNodeSize,
	})
	if err != nil {
		return fmt.Errorf("start client: %w", err)
	}
	defer db.Close()

	collector := metrics.NewCollector(db)
	collector.Start()
	defer collector.Stop()

	metrics.SetCriticalComponents([]string{"objectstore"})
	startObjectStoreMonitor(ctx, cfg)
	startMetricsServer(cmd)

	logger.Info().Str("ipns", cfg.IPNSName).Str("repo", cfg.RepoDir).Msg("client running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	return nil
}
