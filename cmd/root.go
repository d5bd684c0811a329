// Package cmd implements the CLI commands using cobra.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/harpoon/internal/config"
	"firestige.xyz/harpoon/internal/log"

	_ "firestige.xyz/harpoon/pkg/capture/rawsock"
	_ "firestige.xyz/harpoon/pkg/capture/vdev"
	_ "firestige.xyz/harpoon/pkg/capture/xdp"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "harpoon",
	Short: "Harpoon - high-throughput packet capture SDK and toolbox",
	Long: `Harpoon captures network traffic through interchangeable backends
(raw socket, kernel-bypass mmap ring, poll-mode framework, virtual
devices), decodes L2-L4 metadata on the RX path, and serves packets to
filters, parsers and processors.

The CLI is a thin consumer of the SDK: live capture, pcap replay,
throughput benchmarks, protocol parsing and filter dry-runs.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree. main prints the returned error.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (optional)")
}

// loadConfig reads the --config file when given, otherwise returns
// defaults, and installs the logger either way.
func loadConfig() (*config.GlobalConfig, error) {
	var cfg *config.GlobalConfig
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}
	if err := log.Init(&cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openOutput returns stdout for an empty path.
func openOutput(path string) (*os.File, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
