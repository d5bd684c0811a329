// Package plugin defines the extension points embedders use to add
// capture sources, protocol handlers, processors and reporters without
// touching the SDK core.
package plugin

import "context"

// Metadata describes a plugin to the registry and to operators.
type Metadata struct {
	Name         string   `mapstructure:"name"`
	Kind         Kind     `mapstructure:"kind"`
	Version      string   `mapstructure:"version"`
	Description  string   `mapstructure:"description"`
	Dependencies []string `mapstructure:"dependencies"`
}

// Kind partitions the registry by extension point.
type Kind string

const (
	KindCapturer  Kind = "capturer"
	KindParser    Kind = "parser"
	KindProcessor Kind = "processor"
	KindReporter  Kind = "reporter"
)

// Plugin is the base lifecycle every extension implements. Init receives
// the plugin's config subtree; Start and Stop bracket the capture run.
type Plugin interface {
	Metadata() Metadata
	Init(cfg map[string]any) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
