//go:build linux

// Package vdev provides synthetic poll-mode devices for capture
// without a physical NIC: tap, pcap replay, null and an in-memory
// loopback ring.
package vdev

import (
	"github.com/mitchellh/mapstructure"

	"firestige.xyz/harpoon/pkg/core"
)

// decodeParams maps the comma-separated device parameters onto a typed
// struct; string values coerce onto ints and bools.
func decodeParams(params map[string]string, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return core.Wrap(core.CodeInternalError, err, "build parameter decoder")
	}
	if err := dec.Decode(params); err != nil {
		return core.Wrap(core.CodeInvalidArgument, err, "decode device parameters")
	}
	return nil
}
