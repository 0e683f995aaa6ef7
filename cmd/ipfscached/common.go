package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/ipfscached/pkg/config"
	"github.com/cuemby/ipfscached/pkg/health"
	"github.com/cuemby/ipfscached/pkg/metrics"
	"github.com/cuemby/ipfscached/pkg/objectstore"
	"github.com/spf13/cobra"
)

// loadConfig reads the --config file, if given, and overlays --ipns/--repo
// flag values on top.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var cfg config.Config
	if path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
	} else {
		cfg = config.Default()
	}

	if ipns, _ := cmd.Flags().GetString("ipns"); ipns != "" {
		cfg.IPNSName = ipns
	}
	if repo, _ := cmd.Flags().GetString("repo"); repo != "" {
		cfg.RepoDir = repo
	}

	if cfg.IPNSName == "" {
		return config.Config{}, fmt.Errorf("--ipns or config.ipnsName is required")
	}
	if cfg.RepoDir == "" {
		return config.Config{}, fmt.Errorf("--repo or config.repoDir is required")
	}
	return cfg, nil
}

// buildAdapter constructs the objectstore.Adapter selected by cfg, bound
// to its own mutable name (selfName/keyName — see objectstore.Adapter's
// Publish doc).
func buildAdapter(cfg config.Config, selfName string) (objectstore.Adapter, error) {
	switch cfg.ObjectStore {
	case "", "local":
		return objectstore.NewLocalAdapter(cfg.RepoDir, selfName)
	case "ipfs":
		if cfg.IPFSAPIAddr == "" {
			return nil, fmt.Errorf("objectStore \"ipfs\" requires ipfsApiAddr")
		}
		return objectstore.NewShellAdapter(cfg.IPFSAPIAddr, selfName), nil
	default:
		return nil, fmt.Errorf("unknown objectStore %q (want \"local\" or \"ipfs\")", cfg.ObjectStore)
	}
}

// startMetricsServer starts the background metrics+health HTTP listener.
func startMetricsServer(cmd *cobra.Command) {
	addr, _ := cmd.Flags().GetString("metrics-addr")

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()
	fmt.Printf("metrics endpoint: http://%s/metrics\n", addr)
	fmt.Printf("health endpoints: http://%s/health http://%s/ready http://%s/live\n", addr, addr, addr)
}

// startObjectStoreMonitor probes the IPFS daemon's reachability and feeds
// the result into the metrics health registry under the "objectstore"
// component. Skipped for the "local" backend, which has no daemon.
func startObjectStoreMonitor(ctx context.Context, cfg config.Config) {
	if cfg.ObjectStore != "ipfs" {
		metrics.RegisterComponent("objectstore", true, "local backend, no daemon to probe")
		return
	}

	checker := health.NewTCPChecker(cfg.IPFSAPIAddr)
	hcfg := health.DefaultConfig()
	hcfg.Interval = 15 * time.Second
	hcfg.Timeout = 5 * time.Second
	hcfg.Retries = 2

	mon := health.NewMonitor(checker, hcfg, metrics.RegisterComponent)
	go mon.Run(ctx, "objectstore")
}
