package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/ipfscached/pkg/injectordb"
	"github.com/cuemby/ipfscached/pkg/log"
	"github.com/cuemby/ipfscached/pkg/metrics"
	"github.com/cuemby/ipfscached/pkg/republisher"
	"github.com/spf13/cobra"
)

var injectCmd = &cobra.Command{
	Use:   "inject",
	Short: "Run an Injector process: owns the B-tree and publishes updates",
	Long: `inject starts an InjectorDb and keeps it running until interrupted.
It does not expose update/query over the network; wiring a front end
for that is left to callers that embed pkg/injectordb directly.`,
	RunE: runInject,
}

func init() {
	injectCmd.Flags().String("ipns", "", "IPNS name this injector publishes under")
	injectCmd.Flags().String("repo", "", "Repo directory for persisted state")
}

func runInject(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := log.WithComponent("inject")
	metrics.SetVersion(Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter, err := buildAdapter(cfg, cfg.IPNSName)
	if err != nil {
		return fmt.Errorf("build object store adapter: %w", err)
	}
	defer func() {
		if closer, ok := adapter.(interface{ Close() error }); ok {
			closer.Close()
		}
	}()

	repub := republisher.New(adapter, cfg.IPNSName, time.Duration(cfg.RepublishLifetime))
	defer repub.Shutdown()

	db, err := injectordb.New(ctx, injectordb.Config{
		Adapter:     adapter,
		Republisher: repub,
		RepoDir:     cfg.RepoDir,
		IPNSName:    cfg.IPNSName,
		MaxNodeSize: cfg.MaxNodeSize,
	})
	if err != nil {
		return fmt.Errorf("start injector: %w", err)
	}
	defer db.Close()

	collector := metrics.NewCollector(db)
	collector.Start()
	defer collector.Stop()

	metrics.SetCriticalComponents([]string{"objectstore"})
	startObjectStoreMonitor(ctx, cfg)
	startMetricsServer(cmd)

	logger.Info().Str("ipns", cfg.IPNSName).Str("repo", cfg.RepoDir).Msg("injector running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	return nil
}
