package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/harpoon/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the static configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load the config file and report problems",
	RunE: func(cmd *cobra.Command, args []string) error {
		if configFile == "" {
			return fmt.Errorf("config validate requires --config")
		}
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		fmt.Printf("%s: ok\n", configFile)
		fmt.Printf("backend:  %s\n", cfg.Network.Backend)
		fmt.Printf("workers:  %d\n", cfg.Performance.WorkerThreads)
		fmt.Printf("log:      level=%s console=%t\n", cfg.Log.Level, cfg.Log.Console)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
