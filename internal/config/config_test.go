package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/harpoon/pkg/capture"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "harpoon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
harpoon:
  log:
    level: debug
    console: true
  network:
    interface: eth0
    backend: mmap-ring
    buffer_size: 4096
    promiscuous: false
  performance:
    worker_threads: 2
    batch_size: 64
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "eth0", cfg.Network.Interface)
	assert.Equal(t, capture.KindMmapRing, cfg.Network.Kind())
	assert.Equal(t, 4096, cfg.Network.BufferSize)
	assert.False(t, cfg.Network.Promiscuous)
	assert.Equal(t, 2, cfg.Performance.WorkerThreads)
	assert.Equal(t, 64, cfg.Performance.BatchSize)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "harpoon:\n  network:\n    interface: lo\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, string(capture.KindRawSocket), cfg.Network.Backend)
	assert.Equal(t, 2048, cfg.Network.BufferSize)
	assert.Equal(t, 4096, cfg.Network.NumBuffers)
	assert.Equal(t, 1000, cfg.Network.TimeoutMs)
	assert.Equal(t, 1, cfg.Performance.WorkerThreads)
	assert.Equal(t, 32, cfg.Plugins.MaxCount)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "harpoon:\n  network:\n    interface: eth0\n")
	t.Setenv("HARPOON_NETWORK_INTERFACE", "eth7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "eth7", cfg.Network.Interface)
}

func TestRejectsUnknownBackend(t *testing.T) {
	path := writeConfig(t, "harpoon:\n  network:\n    backend: warp-drive\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warp-drive")
}

func TestRejectsUnknownLogLevel(t *testing.T) {
	path := writeConfig(t, "harpoon:\n  log:\n    level: shout\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shout")
}

func TestRejectsExcessiveWorkers(t *testing.T) {
	cfg := Default()
	cfg.Performance.WorkerThreads = runtime.NumCPU()*4 + 1
	assert.Error(t, cfg.ValidateAndApplyDefaults())
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.ValidateAndApplyDefaults())
	assert.Equal(t, string(capture.KindRawSocket), cfg.Network.Backend)
}

func TestCaptureConfigDerivation(t *testing.T) {
	n := NetworkConfig{
		Interface:     "eth1",
		Backend:       "poll-mode",
		BufferSize:    9000,
		NumBuffers:    128,
		Promiscuous:   true,
		TimeoutMs:     250,
		BatchSize:     16,
		ZeroCopy:      true,
		MaxPacketSize: 9216,
		QueueID:       3,
		AttachMode:    "native",
		EALArgs:       []string{"--no-huge", "--vdev", "net_null0"},
	}

	cc := n.CaptureConfig()
	assert.Equal(t, "eth1", cc.Interface)
	assert.Equal(t, 9000, cc.BufferSize)
	assert.Equal(t, 128, cc.NumBuffers)
	assert.True(t, cc.Promiscuous)
	assert.Equal(t, 250*time.Millisecond, cc.Timeout)
	assert.Equal(t, 16, cc.BatchSize)
	assert.True(t, cc.ZeroCopy)
	assert.Equal(t, 9216, cc.MaxPacketSize)
	assert.Equal(t, 3, cc.QueueID)
	assert.Equal(t, "native", cc.AttachMode)
	assert.Equal(t, []string{"--no-huge", "--vdev", "net_null0"}, cc.EALArgs)
}

func TestCaptureConfigZeroValuesFallBack(t *testing.T) {
	n := NetworkConfig{Interface: "lo"}
	cc := n.CaptureConfig()
	def := capture.DefaultConfig("lo")
	assert.Equal(t, def.BufferSize, cc.BufferSize)
	assert.Equal(t, def.NumBuffers, cc.NumBuffers)
	assert.Equal(t, def.MaxPacketSize, cc.MaxPacketSize)
}
