package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/harpoon/internal/config"
	"firestige.xyz/harpoon/internal/metrics"
	"firestige.xyz/harpoon/pkg/engine"
	"firestige.xyz/harpoon/pkg/packet"
)

var captureFlags struct {
	iface       string
	backend     string
	count       uint64
	duration    time.Duration
	zeroCopy    bool
	dma         string
	output      string
	format      string
	metricsAddr string
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture live traffic and print packet summaries",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyCaptureFlags(cfg)

		out, done, err := openOutput(captureFlags.output)
		if err != nil {
			return err
		}
		defer done()

		proc, err := summaryProcessor(out, captureFlags.format)
		if err != nil {
			return err
		}

		var prepare func(*engine.Context) error
		if captureFlags.metricsAddr != "" {
			srv := metrics.NewServer(captureFlags.metricsAddr, "")
			if err := srv.Start(); err != nil {
				return err
			}
			defer srv.Stop()

			var unregister func()
			defer func() {
				if unregister != nil {
					unregister()
				}
			}()
			prepare = func(ctx *engine.Context) error {
				unregister = metrics.RegisterBackend(
					cfg.Network.Backend, cfg.Network.Interface, ctx.Statistics)
				return nil
			}
		}
		return runEngine(cfg, proc, captureFlags.count, captureFlags.duration, prepare)
	},
}

func init() {
	f := captureCmd.Flags()
	f.StringVarP(&captureFlags.iface, "interface", "i", "", "interface to capture from")
	f.StringVarP(&captureFlags.backend, "backend", "b", "", "backend kind (raw-socket, mmap-ring, poll-mode, virtual-device)")
	f.Uint64VarP(&captureFlags.count, "count", "n", 0, "stop after this many packets (0 = unlimited)")
	f.DurationVarP(&captureFlags.duration, "duration", "d", 0, "stop after this duration (0 = until signal)")
	f.BoolVar(&captureFlags.zeroCopy, "zero-copy", false, "request zero-copy delivery")
	f.StringVar(&captureFlags.dma, "dma", "", "enable DMA staging against this device path")
	f.StringVarP(&captureFlags.output, "output", "o", "", "write to file instead of stdout")
	f.StringVarP(&captureFlags.format, "format", "f", "text", "output format (text, json)")
	f.StringVar(&captureFlags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.AddCommand(captureCmd)
}

func applyCaptureFlags(cfg *config.GlobalConfig) {
	if captureFlags.iface != "" {
		cfg.Network.Interface = captureFlags.iface
	}
	if captureFlags.backend != "" {
		cfg.Network.Backend = captureFlags.backend
	}
	if captureFlags.zeroCopy {
		cfg.Network.ZeroCopy = true
	}
}

// runEngine drives a capture context until the packet count, the
// duration or a termination signal ends it. prepare runs between
// Initialize and Start, with the backend up but not yet capturing.
func runEngine(cfg *config.GlobalConfig, proc engine.Processor, count uint64, duration time.Duration, prepare func(*engine.Context) error) error {
	ctx, err := engine.New(cfg.Network.Kind(), engine.Options{
		Workers:        cfg.Performance.WorkerThreads,
		PinThreads:     cfg.Performance.PinThreads,
		WorkerAffinity: cfg.Performance.WorkerAffinity,
		BatchSize:      cfg.Performance.BatchSize,
		Metrics:        cfg.Performance.Metrics,
	})
	if err != nil {
		return err
	}

	var seen atomic.Uint64
	doneCh := make(chan struct{})
	ctx.AddProcessor(func(p *packet.Packet) {
		if proc != nil {
			proc(p)
		}
		if count > 0 && seen.Add(1) == count {
			close(doneCh)
		}
	})

	if err := ctx.Initialize(cfg.Network.CaptureConfig()); err != nil {
		return err
	}
	defer ctx.Release()

	if captureFlags.dma != "" {
		if err := ctx.Backend().EnableDMAAccess(true, captureFlags.dma); err != nil {
			return err
		}
	}
	if prepare != nil {
		if err := prepare(ctx); err != nil {
			return err
		}
	}

	if err := ctx.Start(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	var timer <-chan time.Time
	if duration > 0 {
		t := time.NewTimer(duration)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-sig:
	case <-timer:
	case <-doneCh:
	}
	return ctx.Stop()
}

// summaryProcessor renders one line per packet.
func summaryProcessor(w io.Writer, format string) (engine.Processor, error) {
	switch format {
	case "text":
		return func(p *packet.Packet) {
			fmt.Fprintln(w, summarize(p))
		}, nil
	case "json":
		enc := json.NewEncoder(w)
		return func(p *packet.Packet) {
			m := p.Meta()
			enc.Encode(map[string]interface{}{
				"timestamp": p.Timestamp().Format(time.RFC3339Nano),
				"length":    p.Length(),
				"src_ip":    m.SrcIP.String(),
				"dst_ip":    m.DstIP.String(),
				"src_port":  m.SrcPort,
				"dst_port":  m.DstPort,
				"protocol":  m.Protocol,
				"vlan":      m.VLANID,
			})
		}, nil
	default:
		return nil, fmt.Errorf("unknown format %q (text, json)", format)
	}
}

func summarize(p *packet.Packet) string {
	m := p.Meta()
	proto := protocolName(p)
	if m.SrcIP.IsValid() {
		return fmt.Sprintf("%s %s %s:%d > %s:%d len=%d",
			p.Timestamp().Format("15:04:05.000000"), proto,
			m.SrcIP, m.SrcPort, m.DstIP, m.DstPort, p.Length())
	}
	return fmt.Sprintf("%s ethertype=0x%04x len=%d",
		p.Timestamp().Format("15:04:05.000000"), m.EtherType, p.Length())
}

func protocolName(p *packet.Packet) string {
	switch {
	case p.IsTCP():
		return "TCP"
	case p.IsUDP():
		return "UDP"
	case p.IsICMP():
		return "ICMP"
	case p.IsIPv4():
		return "IPv4"
	case p.IsIPv6():
		return "IPv6"
	default:
		return "L2"
	}
}
