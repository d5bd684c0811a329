package capture

import (
	"time"

	"firestige.xyz/harpoon/pkg/core"
)

// Config is captured at Initialize and immutable while Running.
type Config struct {
	Interface     string        `mapstructure:"interface"`
	BufferSize    int           `mapstructure:"buffer_size"`
	NumBuffers    int           `mapstructure:"num_buffers"`
	Promiscuous   bool          `mapstructure:"promiscuous"`
	Timeout       time.Duration `mapstructure:"timeout"`
	BatchSize     int           `mapstructure:"batch_size"`
	Timestamping  bool          `mapstructure:"timestamping"`
	CPUAffinity   []int         `mapstructure:"cpu_affinity"`
	ZeroCopy      bool          `mapstructure:"zero_copy"`
	MaxPacketSize int           `mapstructure:"max_packet_size"`

	// QueueID selects the RX queue for ring-based backends.
	QueueID int `mapstructure:"queue_id"`
	// ProgramPath and ProgramName locate the in-kernel filter object for
	// the mmap-ring backend. An empty path selects the built-in
	// redirect program.
	ProgramPath string `mapstructure:"program_path"`
	ProgramName string `mapstructure:"program_name"`
	// AttachMode is driver, generic or offload.
	AttachMode string `mapstructure:"attach_mode"`

	// EALArgs configures the poll-mode framework.
	EALArgs []string `mapstructure:"eal_args"`
}

// DefaultConfig returns a config with working defaults for a 1500-MTU
// interface.
func DefaultConfig(iface string) Config {
	return Config{
		Interface:     iface,
		BufferSize:    2048,
		NumBuffers:    4096,
		Promiscuous:   true,
		Timeout:       time.Second,
		BatchSize:     32,
		MaxPacketSize: 65535,
		AttachMode:    "generic",
	}
}

// Validate checks the closed option set and fills zero values with
// defaults.
func (c *Config) Validate() error {
	if c.Interface == "" {
		return core.Errorf(core.CodeInvalidArgument, "config requires an interface name")
	}
	if c.BufferSize < 0 || c.NumBuffers < 0 || c.BatchSize < 0 || c.MaxPacketSize < 0 {
		return core.Errorf(core.CodeInvalidArgument, "config sizes must be non-negative")
	}
	if c.BufferSize == 0 {
		c.BufferSize = 2048
	}
	if c.NumBuffers == 0 {
		c.NumBuffers = 4096
	}
	if c.BatchSize == 0 {
		c.BatchSize = 32
	}
	if c.Timeout == 0 {
		c.Timeout = time.Second
	}
	if c.MaxPacketSize == 0 {
		c.MaxPacketSize = 65535
	}
	if c.AttachMode == "" {
		c.AttachMode = "generic"
	}
	switch c.AttachMode {
	case "driver", "generic", "offload":
	default:
		return core.Errorf(core.CodeInvalidArgument, "unknown attach mode %q", c.AttachMode)
	}
	if c.QueueID < 0 {
		return core.Errorf(core.CodeInvalidArgument, "queue id must be non-negative")
	}
	return nil
}
