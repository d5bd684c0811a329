package parser

import (
	"time"

	"firestige.xyz/harpoon/internal/metrics"
	"firestige.xyz/harpoon/pkg/core"
)

// Status classifies the outcome of a parse.
type Status int

const (
	StatusSuccess Status = iota
	StatusPacketTooShort
	StatusChecksumError
	StatusMissingField
	StatusConstraintViolation
)

var statusNames = map[Status]string{
	StatusSuccess:             "success",
	StatusPacketTooShort:      "packet_too_short",
	StatusChecksumError:       "checksum_error",
	StatusMissingField:        "missing_field",
	StatusConstraintViolation: "constraint_violation",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

// FieldError records one field that failed validation.
type FieldError struct {
	Field  string
	Reason string
}

// ParseResult holds the outcome of parsing one buffer against one
// protocol definition.
type ParseResult struct {
	Protocol string
	Version  string
	Status   Status
	Fields   map[string]FieldValue
	Errors   []FieldError

	// ParseMicros is the wall time of the whole parse.
	ParseMicros int64
	// FromCache marks results served from the fingerprint cache.
	FromCache bool
}

// Field returns the named field value, zero if absent.
func (r *ParseResult) Field(name string) FieldValue {
	return r.Fields[name]
}

// OK reports whether the parse fully succeeded.
func (r *ParseResult) OK() bool { return r.Status == StatusSuccess }

// Summary renders the protocol formatter's one-liner, falling back to
// protocol name and status.
func (r *ParseResult) Summary(def *ProtocolDef) string {
	if def != nil && def.Formatter != nil && r.Status == StatusSuccess {
		return def.Formatter(r)
	}
	return r.Protocol + ": " + r.Status.String()
}

// Options tune a Parser. The zero value parses with validation and
// caching off; DefaultOptions turns validation on.
type Options struct {
	// ValidateChecksum runs the definition's checksum hook.
	ValidateChecksum bool
	// EnforceConstraints evaluates field constraints.
	EnforceConstraints bool
	// CollectMetrics records per-field extraction timings.
	CollectMetrics bool
	// CacheSize enables the fingerprint cache when positive.
	CacheSize int
}

// DefaultOptions enables validation and constraints without caching.
func DefaultOptions() Options {
	return Options{ValidateChecksum: true, EnforceConstraints: true}
}

// Parser parses buffers against registered protocol definitions. Safe for
// concurrent use.
type Parser struct {
	registry *Registry
	opts     Options
	cache    *resultCache
	stats    *Stats
}

// New builds a parser over the given registry. A nil registry uses the
// process default.
func New(registry *Registry, opts Options) *Parser {
	if registry == nil {
		registry = DefaultRegistry()
	}
	p := &Parser{registry: registry, opts: opts, stats: newStats()}
	if opts.CacheSize > 0 {
		p.cache = newResultCache(opts.CacheSize)
	}
	return p
}

// Registry exposes the parser's protocol registry.
func (p *Parser) Registry() *Registry { return p.registry }

// Stats exposes accumulated counters.
func (p *Parser) Stats() *Stats { return p.stats }

// Parse resolves the named protocol and parses buf against it.
func (p *Parser) Parse(protocol string, buf []byte) (*ParseResult, error) {
	def, err := p.registry.Get(protocol)
	if err != nil {
		return nil, err
	}
	return p.ParseWith(def, buf), nil
}

// ParseWith parses buf against an explicit definition, bypassing the
// registry.
func (p *Parser) ParseWith(def *ProtocolDef, buf []byte) *ParseResult {
	start := time.Now()

	if p.cache != nil {
		if r, ok := p.cache.get(def.Name, buf); ok {
			p.stats.recordHit()
			return r
		}
	}

	r := p.parseOnce(def, buf)
	r.ParseMicros = time.Since(start).Microseconds()
	p.stats.record(def.Name, r)
	if p.opts.CollectMetrics {
		metrics.ParseResultsTotal.WithLabelValues(def.Name, r.Status.String()).Inc()
	}

	if p.cache != nil && r.Status == StatusSuccess {
		p.cache.put(def.Name, buf, r)
	}
	return r
}

// ParseAll parses buf against the named protocols, or against every
// registered protocol when the list is empty, and returns the results
// keyed by protocol name.
func (p *Parser) ParseAll(buf []byte, protocols []string) (map[string]*ParseResult, error) {
	if len(protocols) == 0 {
		protocols = p.registry.List()
	}
	out := make(map[string]*ParseResult, len(protocols))
	for _, name := range protocols {
		r, err := p.Parse(name, buf)
		if err != nil {
			return out, core.Wrap(core.CodeInvalidArgument, err, "parse "+name)
		}
		out[name] = r
	}
	return out, nil
}

func (p *Parser) parseOnce(def *ProtocolDef, buf []byte) *ParseResult {
	r := &ParseResult{
		Protocol: def.Name,
		Version:  def.Version,
		Status:   StatusSuccess,
		Fields:   make(map[string]FieldValue, len(def.Fields)),
	}

	if len(buf) < def.TotalLength() {
		// Short buffers still yield the fields that fit.
		r.Status = StatusPacketTooShort
	}

	if p.opts.ValidateChecksum && def.Checksum != nil && r.Status == StatusSuccess {
		if !def.Checksum(buf) {
			r.Status = StatusChecksumError
			r.Errors = append(r.Errors, FieldError{Field: "checksum", Reason: "checksum mismatch"})
		}
	}

	for i := range def.Fields {
		fd := &def.Fields[i]

		var fieldStart time.Time
		if p.opts.CollectMetrics {
			fieldStart = time.Now()
		}
		v := Extract(buf, fd.Offset, fd.Length, fd.Kind, fd.Endian)
		if p.opts.CollectMetrics {
			v.ExtractMicros = time.Since(fieldStart).Microseconds()
		}

		if !v.Valid {
			if fd.Required && r.Status == StatusSuccess {
				r.Status = StatusMissingField
			}
			if fd.Required {
				r.Errors = append(r.Errors, FieldError{Field: fd.Name, Reason: "field out of range"})
			}
			continue
		}

		if fd.Format != nil {
			v.Display = fd.Format(v)
		}

		if p.opts.EnforceConstraints && fd.Constraint != nil {
			if ok, reason := fd.Constraint.Check(v); !ok {
				r.Errors = append(r.Errors, FieldError{Field: fd.Name, Reason: reason})
				if r.Status == StatusSuccess {
					r.Status = StatusConstraintViolation
				}
			}
		}

		r.Fields[fd.Name] = v
	}

	return r
}
