package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/harpoon/internal/daemon"
)

var daemonFlags struct {
	pidFile     string
	metricsAddr string
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run capture as a long-lived service",
	Long: `Runs a capture context until SIGINT or SIGTERM, reloading the
config file on SIGHUP. Enabled plugins are started before capture and
stopped after it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if configFile == "" {
			return fmt.Errorf("daemon requires --config")
		}
		d, err := daemon.New(configFile, daemon.Options{
			PIDFile:     daemonFlags.pidFile,
			MetricsAddr: daemonFlags.metricsAddr,
		})
		if err != nil {
			return err
		}
		if err := d.Start(); err != nil {
			return err
		}
		return d.Run()
	},
}

func init() {
	f := daemonCmd.Flags()
	f.StringVar(&daemonFlags.pidFile, "pid-file", "", "exclusive pid file path")
	f.StringVar(&daemonFlags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.AddCommand(daemonCmd)
}
