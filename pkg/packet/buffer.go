package packet

import "sync/atomic"

// Buffer is a shared-ownership handle over a contiguous byte region.
// The region may be heap memory owned by the buffer (kernel-copy capture)
// or a borrowed slot in a backend ring (zero-copy capture). The release
// hook runs exactly once, when the last owner drops its reference; for
// ring-backed buffers it returns the slot to the backend's fill queue.
type Buffer struct {
	data    []byte
	refs    atomic.Int64
	release func()
}

// NewBuffer wraps data with an optional release hook. The initial
// reference count is one.
func NewBuffer(data []byte, release func()) *Buffer {
	b := &Buffer{data: data, release: release}
	b.refs.Store(1)
	return b
}

// Bytes exposes the underlying region. Callers must treat it as read-only.
func (b *Buffer) Bytes() []byte { return b.data }

func (b *Buffer) retain() {
	b.refs.Add(1)
}

func (b *Buffer) drop() {
	if b.refs.Add(-1) == 0 {
		if b.release != nil {
			b.release()
		}
		b.data = nil
	}
}
