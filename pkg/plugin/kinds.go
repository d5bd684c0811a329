package plugin

import (
	"context"

	"firestige.xyz/harpoon/pkg/capture"
	"firestige.xyz/harpoon/pkg/packet"
	"firestige.xyz/harpoon/pkg/parser"
)

// Capturer feeds packets from a source the built-in backends do not
// cover. Neither the engine nor the daemon calls Capture or reads its
// channel.
type Capturer interface {
	Plugin
	Capture(ctx context.Context, out chan<- *packet.Packet) error
	Stats() capture.Statistics
}

// ProtocolProvider contributes protocol definitions to the parser
// registry when the plugin starts.
type ProtocolProvider interface {
	Plugin
	Definitions() []*parser.ProtocolDef
}

// Processor inspects or mutates packets on the processing path. A false
// return drops the packet from the rest of the chain.
type Processor interface {
	Plugin
	Process(p *packet.Packet) (keep bool)
}

// Reporter ships parse results to an external system.
type Reporter interface {
	Plugin
	Report(ctx context.Context, r *parser.ParseResult) error
	Flush(ctx context.Context) error
}
