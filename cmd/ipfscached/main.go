package main

import (
	"fmt"
	"os"

	"github.com/cuemby/ipfscached/pkg/log"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ipfscached",
	Short: "ipfscached - content-addressed Merkle B-tree cache directory over IPFS",
	Long: `ipfscached maintains a shared key/value directory of cached content
hashes as a Merkle B-tree published over IPNS: one Injector process
publishes updates, any number of Client processes resolve and serve
reads from the latest published root.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"ipfscached version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("metrics-addr", "127.0.0.1:9090", "Address for the metrics/health HTTP listener")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(injectCmd)
	rootCmd.AddCommand(serveClientCmd)
	rootCmd.AddCommand(inspectCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
