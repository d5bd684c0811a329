// Package config loads the global configuration using viper.
package config

import (
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/harpoon/internal/log"
	"firestige.xyz/harpoon/pkg/capture"
	"firestige.xyz/harpoon/pkg/core"
)

// GlobalConfig is the top-level static configuration. Maps to the
// `harpoon:` root key in YAML; env vars use the HARPOON_ prefix
// (e.g. HARPOON_NETWORK_INTERFACE).
type GlobalConfig struct {
	Log         log.LoggerConfig  `mapstructure:"log"`
	Network     NetworkConfig     `mapstructure:"network"`
	Performance PerformanceConfig `mapstructure:"performance"`
	Plugins     PluginsConfig     `mapstructure:"plugins"`
}

// NetworkConfig selects the backend and its capture parameters.
type NetworkConfig struct {
	Interface     string `mapstructure:"interface"`
	Backend       string `mapstructure:"backend"`
	BufferSize    int    `mapstructure:"buffer_size"`
	NumBuffers    int    `mapstructure:"num_buffers"`
	Promiscuous   bool   `mapstructure:"promiscuous"`
	TimeoutMs     int    `mapstructure:"timeout_ms"`
	BatchSize     int    `mapstructure:"batch_size"`
	Timestamping  bool   `mapstructure:"timestamping"`
	CPUAffinity   []int  `mapstructure:"cpu_affinity"`
	ZeroCopy      bool   `mapstructure:"zero_copy"`
	MaxPacketSize int    `mapstructure:"max_packet_size"`

	QueueID     int      `mapstructure:"queue_id"`
	ProgramPath string   `mapstructure:"program_path"`
	ProgramName string   `mapstructure:"program_name"`
	AttachMode  string   `mapstructure:"attach_mode"`
	EALArgs     []string `mapstructure:"eal_args"`
}

// PerformanceConfig tunes the capture context's worker pool.
type PerformanceConfig struct {
	WorkerThreads  int   `mapstructure:"worker_threads"`
	PinThreads     bool  `mapstructure:"pin_threads"`
	WorkerAffinity []int `mapstructure:"worker_affinity"`
	BatchSize      int   `mapstructure:"batch_size"`
	Metrics        bool  `mapstructure:"metrics"`
}

// PluginsConfig is consumed by embedders that load external plugins;
// the core only validates it.
type PluginsConfig struct {
	Directory string   `mapstructure:"directory"`
	Enabled   []string `mapstructure:"enabled"`
	Autoload  bool     `mapstructure:"autoload"`
	MaxCount  int      `mapstructure:"max_count"`
}

// configRoot matches the YAML wrapper `harpoon: ...`.
type configRoot struct {
	Harpoon GlobalConfig `mapstructure:"harpoon"`
}

// Load reads the file at path, merges HARPOON_ environment overrides
// and defaults, validates and returns the config.
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, core.Wrap(core.CodeInvalidArgument, err, "read config file")
	}

	// The `harpoon.` key prefix maps onto HARPOON_ env vars through the
	// key replacer: "harpoon.network.interface" -> HARPOON_NETWORK_INTERFACE.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, core.Wrap(core.CodeInvalidArgument, err, "unmarshal config")
	}
	cfg := root.Harpoon

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a validated config without reading any file.
func Default() *GlobalConfig {
	cfg := &GlobalConfig{}
	cfg.ValidateAndApplyDefaults()
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("harpoon.log.level", "info")
	v.SetDefault("harpoon.log.console", true)
	v.SetDefault("harpoon.log.pattern", "%time [%level] %msg %field\n")
	v.SetDefault("harpoon.log.time", "2006-01-02 15:04:05.000")

	v.SetDefault("harpoon.network.backend", string(capture.KindRawSocket))
	v.SetDefault("harpoon.network.buffer_size", 2048)
	v.SetDefault("harpoon.network.num_buffers", 4096)
	v.SetDefault("harpoon.network.promiscuous", true)
	v.SetDefault("harpoon.network.timeout_ms", 1000)
	v.SetDefault("harpoon.network.batch_size", 32)
	v.SetDefault("harpoon.network.max_packet_size", 65535)
	v.SetDefault("harpoon.network.attach_mode", "generic")

	v.SetDefault("harpoon.performance.worker_threads", 1)
	v.SetDefault("harpoon.performance.batch_size", 32)
	v.SetDefault("harpoon.performance.metrics", true)

	v.SetDefault("harpoon.plugins.max_count", 32)
}

// ValidateAndApplyDefaults checks the closed option set and fills the
// zero values a flag-built config leaves behind.
func (c *GlobalConfig) ValidateAndApplyDefaults() error {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error", "critical":
	default:
		return core.Errorf(core.CodeInvalidArgument, "unknown log level %q", c.Log.Level)
	}
	if c.Log.Pattern == "" {
		c.Log.Pattern = "%time [%level] %msg %field\n"
	}
	if c.Log.Time == "" {
		c.Log.Time = "2006-01-02 15:04:05.000"
	}

	if c.Network.Backend == "" {
		c.Network.Backend = string(capture.KindRawSocket)
	}
	switch capture.Kind(c.Network.Backend) {
	case capture.KindRawSocket, capture.KindMmapRing, capture.KindPollMode, capture.KindVirtualDevice:
	default:
		return core.Errorf(core.CodeInvalidArgument, "unknown backend %q", c.Network.Backend)
	}
	if c.Network.TimeoutMs < 0 || c.Network.BatchSize < 0 {
		return core.Errorf(core.CodeInvalidArgument, "network timeout and batch size must be non-negative")
	}

	if c.Performance.WorkerThreads <= 0 {
		c.Performance.WorkerThreads = 1
	}
	if c.Performance.WorkerThreads > runtime.NumCPU()*4 {
		return core.Errorf(core.CodeInvalidArgument, "worker_threads %d exceeds sane bound for %d cpus",
			c.Performance.WorkerThreads, runtime.NumCPU())
	}
	if c.Performance.BatchSize <= 0 {
		c.Performance.BatchSize = 32
	}

	if c.Plugins.MaxCount < 0 {
		return core.Errorf(core.CodeInvalidArgument, "plugins.max_count must be non-negative")
	}
	if c.Plugins.MaxCount == 0 {
		c.Plugins.MaxCount = 32
	}
	return nil
}

// CaptureConfig derives the backend config from the network section.
func (n *NetworkConfig) CaptureConfig() capture.Config {
	cfg := capture.DefaultConfig(n.Interface)
	if n.BufferSize > 0 {
		cfg.BufferSize = n.BufferSize
	}
	if n.NumBuffers > 0 {
		cfg.NumBuffers = n.NumBuffers
	}
	cfg.Promiscuous = n.Promiscuous
	if n.TimeoutMs > 0 {
		cfg.Timeout = time.Duration(n.TimeoutMs) * time.Millisecond
	}
	if n.BatchSize > 0 {
		cfg.BatchSize = n.BatchSize
	}
	cfg.Timestamping = n.Timestamping
	cfg.CPUAffinity = n.CPUAffinity
	cfg.ZeroCopy = n.ZeroCopy
	if n.MaxPacketSize > 0 {
		cfg.MaxPacketSize = n.MaxPacketSize
	}
	cfg.QueueID = n.QueueID
	cfg.ProgramPath = n.ProgramPath
	cfg.ProgramName = n.ProgramName
	if n.AttachMode != "" {
		cfg.AttachMode = n.AttachMode
	}
	cfg.EALArgs = n.EALArgs
	return cfg
}

// Kind returns the configured backend kind.
func (n *NetworkConfig) Kind() capture.Kind { return capture.Kind(n.Backend) }
