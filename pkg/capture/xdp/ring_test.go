//go:build linux

package xdp

import (
	"testing"
)

// ---------------------------------------------------------------------------
// Ring index arithmetic
// ---------------------------------------------------------------------------

func TestRingSizeMustBePowerOfTwo(t *testing.T) {
	for _, bad := range []uint32{0, 3, 6, 100} {
		if _, err := newDescRing(bad); err == nil {
			t.Errorf("desc ring of size %d accepted", bad)
		}
		if _, err := newAddrRing(bad); err == nil {
			t.Errorf("addr ring of size %d accepted", bad)
		}
	}
	if _, err := newDescRing(8); err != nil {
		t.Fatal(err)
	}
}

func TestDescRingWrapAround(t *testing.T) {
	r, err := newDescRing(8)
	if err != nil {
		t.Fatal(err)
	}

	// Push 20 descriptors through an 8-slot ring one at a time; the
	// indices must wrap cleanly past the mask.
	for i := uint64(0); i < 20; i++ {
		if !r.write(desc{Addr: i * 2048, Len: 64}) {
			t.Fatalf("write %d refused on non-full ring", i)
		}
		r.commitProduced()

		if got := r.available(); got != 1 {
			t.Fatalf("available after write %d = %d; want 1", i, got)
		}
		d := r.read()
		r.commitConsumed()
		if d.Addr != i*2048 {
			t.Fatalf("descriptor %d has addr %d; want %d", i, d.Addr, i*2048)
		}
	}
}

func TestDescRingFullRefusesWrite(t *testing.T) {
	r, _ := newDescRing(4)
	for i := 0; i < 4; i++ {
		if !r.write(desc{Addr: uint64(i)}) {
			t.Fatalf("write %d refused before full", i)
		}
	}
	r.commitProduced()
	if r.write(desc{Addr: 99}) {
		t.Error("write on full ring succeeded")
	}

	// Consuming one slot frees exactly one write.
	if r.available() != 4 {
		t.Fatalf("available = %d; want 4", r.available())
	}
	r.read()
	r.commitConsumed()
	if !r.write(desc{Addr: 99}) {
		t.Error("write refused after one consume")
	}
}

func TestAddrRingProduceConsume(t *testing.T) {
	r, _ := newAddrRing(8)
	for i := uint64(0); i < 8; i++ {
		if !r.produce(i * 4096) {
			t.Fatalf("produce %d refused", i)
		}
	}
	if r.produce(9999) {
		t.Error("produce on full ring succeeded")
	}
	r.commitProduced()

	dst := make([]uint64, 8)
	n := r.consume(dst)
	if n != 8 {
		t.Fatalf("consume = %d; want 8", n)
	}
	for i := uint64(0); i < 8; i++ {
		if dst[i] != i*4096 {
			t.Errorf("slot %d = %d; want %d", i, dst[i], i*4096)
		}
	}
	if n := r.consume(dst); n != 0 {
		t.Errorf("consume on drained ring = %d; want 0", n)
	}
}

func TestAddrRingPartialConsume(t *testing.T) {
	r, _ := newAddrRing(8)
	for i := uint64(0); i < 5; i++ {
		r.produce(i)
	}
	r.commitProduced()

	dst := make([]uint64, 2)
	if n := r.consume(dst); n != 2 {
		t.Fatalf("first consume = %d; want 2", n)
	}
	if n := r.consume(dst); n != 2 {
		t.Fatalf("second consume = %d; want 2", n)
	}
	if n := r.consume(dst); n != 1 {
		t.Fatalf("third consume = %d; want 1", n)
	}
}

// ---------------------------------------------------------------------------
// Fill/RX cycling harness
// ---------------------------------------------------------------------------

// TestFrameCycle walks frames through the full descriptor circuit the
// way the kernel and the drain loop do: fill hands free chunks to the
// producer, rx returns them filled, recycling feeds them back to fill.
func TestFrameCycle(t *testing.T) {
	const frames = 8
	rx, _ := newDescRing(frames)
	fill, _ := newAddrRing(frames)

	for i := uint32(0); i < frames; i++ {
		fill.produce(uint64(i) * 2048)
	}
	fill.commitProduced()

	seen := map[uint64]int{}
	free := make([]uint64, frames)

	// Three full revolutions of the frame pool.
	for round := 0; round < 3; round++ {
		n := fill.consume(free)
		if n != frames {
			t.Fatalf("round %d: kernel got %d free chunks; want %d", round, n, frames)
		}
		for i := uint32(0); i < n; i++ {
			if !rx.write(desc{Addr: free[i], Len: 128}) {
				t.Fatalf("round %d: rx ring full at %d", round, i)
			}
		}
		rx.commitProduced()

		got := rx.available()
		if got != frames {
			t.Fatalf("round %d: rx available = %d; want %d", round, got, frames)
		}
		for i := uint32(0); i < got; i++ {
			d := rx.read()
			seen[d.Addr]++
			if !fill.produce(d.Addr) {
				t.Fatalf("round %d: fill ring full on recycle", round)
			}
		}
		rx.commitConsumed()
		fill.commitProduced()
	}

	if len(seen) != frames {
		t.Fatalf("cycle touched %d distinct chunks; want %d", len(seen), frames)
	}
	for addr, count := range seen {
		if count != 3 {
			t.Errorf("chunk %d cycled %d times; want 3", addr, count)
		}
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func TestNextPow2(t *testing.T) {
	cases := map[uint32]uint32{
		0:    1,
		1:    1,
		2:    2,
		3:    4,
		4:    4,
		5:    8,
		1000: 1024,
		4096: 4096,
	}
	for in, want := range cases {
		if got := nextPow2(in); got != want {
			t.Errorf("nextPow2(%d) = %d; want %d", in, got, want)
		}
	}
}
