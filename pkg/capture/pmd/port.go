package pmd

// PortConfig fixes a port's queue layout before Start.
type PortConfig struct {
	RxQueues int
	TxQueues int
	MTU      int
	Pool     *MbufPool
}

// Port is one packet device managed by the framework. Drivers return
// implementations from Probe; the backend drives them through the
// configure/start/burst/stop/close sequence.
type Port interface {
	Name() string
	Driver() string

	Configure(cfg PortConfig) error
	Start() error
	Stop() error
	Close() error
	SetPromiscuous(on bool) error

	// RxBurst fills the supplied mbufs with received frames and
	// returns how many were filled. A zero count with a nil error
	// means no traffic; drivers reading finite sources return zero
	// forever once drained.
	RxBurst(bufs []*Mbuf) (int, error)

	// TxBurst transmits the supplied mbufs and returns how many were
	// accepted. The port takes ownership of accepted mbufs.
	TxBurst(bufs []*Mbuf) (int, error)
}
