//go:build linux

package vdev

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/harpoon/pkg/capture"
	"firestige.xyz/harpoon/pkg/capture/pmd"
)

func testPool(t *testing.T, count, size int) *pmd.MbufPool {
	t.Helper()
	pool, err := pmd.NewMbufPool(count, size, true, nil)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func allocBurst(t *testing.T, pool *pmd.MbufPool, n int) []*pmd.Mbuf {
	t.Helper()
	bufs := make([]*pmd.Mbuf, n)
	for i := range bufs {
		bufs[i] = pool.Alloc()
		if bufs[i] == nil {
			t.Fatalf("pool exhausted at %d", i)
		}
	}
	return bufs
}

// ---------------------------------------------------------------------------
// Parameter decoding
// ---------------------------------------------------------------------------

func TestDecodeParamsCoercesTypes(t *testing.T) {
	var out struct {
		Size int    `mapstructure:"size"`
		Loop bool   `mapstructure:"loop"`
		File string `mapstructure:"file"`
	}
	err := decodeParams(map[string]string{
		"size": "64",
		"loop": "true",
		"file": "trace.pcap",
	}, &out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Size != 64 || !out.Loop || out.File != "trace.pcap" {
		t.Fatalf("decoded = %+v", out)
	}
}

func TestDecodeParamsRejectsGarbage(t *testing.T) {
	var out struct {
		Size int `mapstructure:"size"`
	}
	if err := decodeParams(map[string]string{"size": "lots"}, &out); err == nil {
		t.Fatal("garbage int accepted")
	}
}

// ---------------------------------------------------------------------------
// Null port
// ---------------------------------------------------------------------------

func TestNullPortReceivesNothingAcceptsEverything(t *testing.T) {
	port, err := nullDriver{}.Probe("net_null0", nil)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	pool := testPool(t, 4, 256)

	bufs := allocBurst(t, pool, 4)
	got, err := port.RxBurst(bufs)
	if err != nil || got != 0 {
		t.Fatalf("rx = %d, %v", got, err)
	}

	sent, err := port.TxBurst(bufs)
	if err != nil || sent != 4 {
		t.Fatalf("tx = %d, %v", sent, err)
	}
	if pool.Available() != 4 {
		t.Fatalf("tx leaked mbufs, available = %d", pool.Available())
	}
}

// ---------------------------------------------------------------------------
// Ring port
// ---------------------------------------------------------------------------

func TestRingPortLoopsFramesBack(t *testing.T) {
	port, err := ringDriver{}.Probe("net_ring0", map[string]string{"size": "8"})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	ring := port.(*RingPort)
	pool := testPool(t, 8, 256)

	frame := bytes.Repeat([]byte{0xab}, 64)
	bufs := allocBurst(t, pool, 1)
	copy(bufs[0].Capacity(), frame)
	bufs[0].SetLength(len(frame))

	if sent, err := ring.TxBurst(bufs); err != nil || sent != 1 {
		t.Fatalf("tx = %d, %v", sent, err)
	}

	rx := allocBurst(t, pool, 2)
	got, err := ring.RxBurst(rx)
	if err != nil {
		t.Fatalf("rx: %v", err)
	}
	if got != 1 {
		t.Fatalf("rx = %d", got)
	}
	if !bytes.Equal(rx[0].Bytes(), frame) {
		t.Fatal("frame mutated through loopback")
	}
	for _, m := range rx {
		m.Free()
	}
}

func TestRingPortDropsWhenFull(t *testing.T) {
	port, err := ringDriver{}.Probe("net_ring0", map[string]string{"size": "2"})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	ring := port.(*RingPort)

	for i := 0; i < 3; i++ {
		ring.Inject([]byte{byte(i)})
	}
	if ring.Dropped() != 1 {
		t.Fatalf("dropped = %d", ring.Dropped())
	}
}

func TestRingPortRejectsBadSize(t *testing.T) {
	if _, err := (ringDriver{}).Probe("net_ring0", map[string]string{"size": "-4"}); err == nil {
		t.Fatal("negative size accepted")
	}
}

// ---------------------------------------------------------------------------
// Pcap port
// ---------------------------------------------------------------------------

func writeTrace(t *testing.T, frames [][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.pcap")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("header: %v", err)
	}
	for _, frame := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     time.Now(),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		if err := w.WritePacket(ci, frame); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return path
}

func TestPcapPortRequiresFile(t *testing.T) {
	if _, err := (pcapDriver{}).Probe("net_pcap0", nil); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestPcapPortReplaysThenDrains(t *testing.T) {
	frames := [][]byte{
		bytes.Repeat([]byte{0x01}, 60),
		bytes.Repeat([]byte{0x02}, 60),
		bytes.Repeat([]byte{0x03}, 60),
	}
	path := writeTrace(t, frames)

	port, err := pcapDriver{}.Probe("net_pcap0", map[string]string{"file": path})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if err := port.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer port.Close()

	pool := testPool(t, 8, 256)
	bufs := allocBurst(t, pool, 8)
	got, err := port.RxBurst(bufs)
	if err != nil {
		t.Fatalf("rx: %v", err)
	}
	if got != len(frames) {
		t.Fatalf("rx = %d", got)
	}
	for i, frame := range frames {
		if !bytes.Equal(bufs[i].Bytes(), frame) {
			t.Fatalf("frame %d mismatch", i)
		}
	}
	for _, m := range bufs {
		m.Free()
	}

	// A drained trace keeps returning empty bursts.
	for i := 0; i < 2; i++ {
		bufs = allocBurst(t, pool, 8)
		got, err = port.RxBurst(bufs)
		if err != nil || got != 0 {
			t.Fatalf("post-drain rx = %d, %v", got, err)
		}
		for _, m := range bufs {
			m.Free()
		}
	}
}

func TestPcapPortLoops(t *testing.T) {
	frames := [][]byte{bytes.Repeat([]byte{0x07}, 60)}
	path := writeTrace(t, frames)

	port, err := pcapDriver{}.Probe("net_pcap0", map[string]string{"file": path, "loop": "true"})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if err := port.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer port.Close()

	pool := testPool(t, 4, 256)
	bufs := allocBurst(t, pool, 4)
	got, err := port.RxBurst(bufs)
	if err != nil {
		t.Fatalf("rx: %v", err)
	}
	if got != 4 {
		t.Fatalf("looped rx = %d", got)
	}
	for _, m := range bufs {
		m.Free()
	}
}

func TestPcapPortRejectsBogusFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.pcap")
	if err := os.WriteFile(path, []byte("not a capture"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	port, err := pcapDriver{}.Probe("net_pcap0", map[string]string{"file": path})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if err := port.Start(); err == nil {
		t.Fatal("bogus file opened")
	}
}

// ---------------------------------------------------------------------------
// Backend
// ---------------------------------------------------------------------------

// The framework probes once per process, so backend coverage lives in a
// single test.
func TestBackendCapturesFromRingDevice(t *testing.T) {
	b := New()
	if err := b.AddDevice("net_ring0,size=16"); err != nil {
		t.Fatalf("add device: %v", err)
	}

	cfg := capture.DefaultConfig("net_ring0")
	cfg.NumBuffers = 64
	cfg.MaxPacketSize = 2048
	cfg.EALArgs = []string{"--no-huge"}

	if err := b.Initialize(cfg); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer b.Release()

	if b.AddDevice("net_null1") == nil {
		t.Fatal("device added after initialization")
	}

	ring, ok := b.Port().(*RingPort)
	if !ok {
		t.Fatalf("port type %T", b.Port())
	}

	if err := b.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	frame := bytes.Repeat([]byte{0x5a}, 80)
	ring.Inject(frame)

	p, ok := b.NextPacket(time.Second)
	if !ok {
		t.Fatal("packet never arrived")
	}
	if !bytes.Equal(p.Data(), frame) {
		t.Fatalf("packet = %d bytes, want %d", p.Length(), len(frame))
	}
	p.Release()

	if err := b.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
