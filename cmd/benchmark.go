package cmd

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/spf13/cobra"

	"firestige.xyz/harpoon/pkg/packet"
)

var benchFlags struct {
	iface    string
	backend  string
	duration time.Duration
}

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Drive a backend for a duration and report throughput",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if benchFlags.iface != "" {
			cfg.Network.Interface = benchFlags.iface
		}
		if benchFlags.backend != "" {
			cfg.Network.Backend = benchFlags.backend
		}

		var packets, bytes atomic.Uint64
		start := time.Now()
		err = runEngine(cfg, func(p *packet.Packet) {
			packets.Add(1)
			bytes.Add(uint64(p.Length()))
		}, 0, benchFlags.duration, nil)
		if err != nil {
			return err
		}
		elapsed := time.Since(start).Seconds()
		if elapsed <= 0 {
			elapsed = 1
		}

		fmt.Printf("backend:   %s\n", cfg.Network.Backend)
		fmt.Printf("interface: %s\n", cfg.Network.Interface)
		fmt.Printf("elapsed:   %.2fs\n", elapsed)
		fmt.Printf("packets:   %d (%.0f pps)\n", packets.Load(), float64(packets.Load())/elapsed)
		fmt.Printf("bytes:     %d (%.0f B/s)\n", bytes.Load(), float64(bytes.Load())/elapsed)

		if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
			fmt.Printf("cpu:       %s x%d\n", infos[0].ModelName, len(infos))
		}
		return nil
	},
}

func init() {
	f := benchmarkCmd.Flags()
	f.StringVarP(&benchFlags.iface, "interface", "i", "", "interface to capture from")
	f.StringVarP(&benchFlags.backend, "backend", "b", "", "backend kind")
	f.DurationVarP(&benchFlags.duration, "duration", "d", 10*time.Second, "benchmark duration")
	rootCmd.AddCommand(benchmarkCmd)
}
