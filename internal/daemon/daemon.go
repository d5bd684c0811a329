// Package daemon runs a capture context as a long-lived service with a
// pid file, plugin lifecycle and SIGHUP config reload.
package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"firestige.xyz/harpoon/internal/config"
	"firestige.xyz/harpoon/internal/log"
	"firestige.xyz/harpoon/internal/metrics"
	"firestige.xyz/harpoon/pkg/core"
	"firestige.xyz/harpoon/pkg/engine"
	"firestige.xyz/harpoon/pkg/packet"
	"firestige.xyz/harpoon/pkg/plugin"
)

// Options tune daemon behavior beyond the config file.
type Options struct {
	// PIDFile guards against double starts when non-empty.
	PIDFile string
	// MetricsAddr serves the Prometheus endpoint when non-empty.
	MetricsAddr string
}

// Daemon owns one capture context, the enabled plugins and the metrics
// endpoint.
type Daemon struct {
	configPath string
	opts       Options
	logger     log.Logger

	cfg     *config.GlobalConfig
	ctx     *engine.Context
	plugins *plugin.Manager
	server  *metrics.Server

	unregister func()
	pidfile    *pidFile
}

// New loads the config at path and prepares a daemon. Nothing is
// started yet.
func New(path string, opts Options) (*Daemon, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := log.Init(&cfg.Log); err != nil {
		return nil, err
	}
	return &Daemon{
		configPath: path,
		opts:       opts,
		cfg:        cfg,
		logger:     log.GetLogger().WithField("component", "daemon"),
	}, nil
}

// Start claims the pid file, starts plugins and brings the capture
// context up.
func (d *Daemon) Start() error {
	if d.opts.PIDFile != "" {
		pf, err := acquirePIDFile(d.opts.PIDFile)
		if err != nil {
			return err
		}
		d.pidfile = pf
	}

	ctx, err := engine.New(d.cfg.Network.Kind(), engine.Options{
		Workers:        d.cfg.Performance.WorkerThreads,
		PinThreads:     d.cfg.Performance.PinThreads,
		WorkerAffinity: d.cfg.Performance.WorkerAffinity,
		BatchSize:      d.cfg.Performance.BatchSize,
		Metrics:        d.cfg.Performance.Metrics,
	})
	if err != nil {
		d.releasePID()
		return err
	}
	d.ctx = ctx

	d.plugins = plugin.NewManager(nil, nil)
	if err := d.plugins.InitAll(d.cfg.Plugins.Enabled, nil); err != nil {
		d.releasePID()
		return err
	}
	if err := d.plugins.StartAll(context.Background(), d.cfg.Plugins.Enabled); err != nil {
		d.releasePID()
		return err
	}
	if procs := d.plugins.Processors(); len(procs) > 0 {
		ctx.AddProcessor(func(pkt *packet.Packet) {
			for _, p := range procs {
				if !p.Process(pkt) {
					return
				}
			}
		})
	}

	if err := ctx.Initialize(d.cfg.Network.CaptureConfig()); err != nil {
		d.shutdownPlugins()
		d.releasePID()
		return err
	}

	if d.opts.MetricsAddr != "" {
		d.server = metrics.NewServer(d.opts.MetricsAddr, "")
		if err := d.server.Start(); err != nil {
			d.teardown()
			return err
		}
		d.unregister = metrics.RegisterBackend(
			d.cfg.Network.Backend, d.cfg.Network.Interface, ctx.Statistics)
	}

	if err := ctx.Start(); err != nil {
		d.teardown()
		return err
	}
	d.logger.WithField("backend", d.cfg.Network.Backend).
		WithField("interface", d.cfg.Network.Interface).
		Info("daemon running")
	return nil
}

// Run blocks on signals: SIGHUP reloads the config, SIGINT and SIGTERM
// stop the daemon.
func (d *Daemon) Run() error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	for s := range sig {
		switch s {
		case syscall.SIGHUP:
			if err := d.Reload(); err != nil {
				d.logger.WithError(err).Error("config reload failed, keeping old config")
			}
		default:
			d.logger.WithField("signal", s.String()).Info("shutting down")
			return d.Stop()
		}
	}
	return nil
}

// Reload re-reads the config file and applies the log level live.
// Backend and interface changes need a restart and are only reported;
// the running capture context keeps its original settings.
func (d *Daemon) Reload() error {
	fresh, err := config.Load(d.configPath)
	if err != nil {
		return err
	}

	if fresh.Log.Level != d.cfg.Log.Level {
		if err := log.Init(&fresh.Log); err != nil {
			return err
		}
		d.logger = log.GetLogger().WithField("component", "daemon")
		d.logger.WithField("level", fresh.Log.Level).Info("log level changed")
	}
	if fresh.Network.Backend != d.cfg.Network.Backend ||
		fresh.Network.Interface != d.cfg.Network.Interface {
		d.logger.Warn("backend and interface changes need a restart")
	}

	d.cfg = fresh
	d.logger.Info("config reloaded")
	return nil
}

// Stop tears everything down in reverse start order.
func (d *Daemon) Stop() error {
	var firstErr error
	if d.ctx != nil {
		if err := d.ctx.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.teardown()
	if firstErr != nil {
		return core.Wrap(core.CodeCleanupFailed, firstErr, "daemon stop")
	}
	return nil
}

func (d *Daemon) teardown() {
	if d.unregister != nil {
		d.unregister()
		d.unregister = nil
	}
	if d.server != nil {
		d.server.Stop()
		d.server = nil
	}
	if d.ctx != nil {
		d.ctx.Release()
	}
	d.shutdownPlugins()
	d.releasePID()
}

func (d *Daemon) shutdownPlugins() {
	if d.plugins != nil {
		d.plugins.StopAll(context.Background())
	}
}

func (d *Daemon) releasePID() {
	if d.pidfile != nil {
		d.pidfile.release()
		d.pidfile = nil
	}
}
