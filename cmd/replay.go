package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/harpoon/pkg/capture"
)

var replayFlags struct {
	file     string
	loop     bool
	count    uint64
	duration time.Duration
	output   string
	format   string
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Feed a pcap file through the virtual-device backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayFlags.file == "" {
			return fmt.Errorf("replay requires --file")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Network.Backend = string(capture.KindVirtualDevice)
		cfg.Network.Interface = "net_pcap0"
		expr := "net_pcap0,file=" + replayFlags.file
		if replayFlags.loop {
			expr += ",loop=true"
		}
		cfg.Network.EALArgs = append(cfg.Network.EALArgs, "--no-huge", "--vdev", expr)

		out, done, err := openOutput(replayFlags.output)
		if err != nil {
			return err
		}
		defer done()

		proc, err := summaryProcessor(out, replayFlags.format)
		if err != nil {
			return err
		}
		duration := replayFlags.duration
		if duration == 0 && !replayFlags.loop && replayFlags.count == 0 {
			// A finite trace drains; don't wait for a signal forever.
			duration = 5 * time.Second
		}
		return runEngine(cfg, proc, replayFlags.count, duration, nil)
	},
}

func init() {
	f := replayCmd.Flags()
	f.StringVarP(&replayFlags.file, "file", "F", "", "pcap file to replay")
	f.BoolVar(&replayFlags.loop, "loop", false, "rewind the file when drained")
	f.Uint64VarP(&replayFlags.count, "count", "n", 0, "stop after this many packets")
	f.DurationVarP(&replayFlags.duration, "duration", "d", 0, "stop after this duration")
	f.StringVarP(&replayFlags.output, "output", "o", "", "write to file instead of stdout")
	f.StringVarP(&replayFlags.format, "format", "f", "text", "output format (text, json)")
	rootCmd.AddCommand(replayCmd)
}
