package parser

import (
	"fmt"
	"regexp"
)

// Constraint restricts the values a field may take. All set members must
// hold for the field to validate.
type Constraint struct {
	// Range over the unsigned interpretation, inclusive. Active when
	// HasRange is set.
	HasRange bool
	Min, Max uint64

	// Enum of allowed unsigned values.
	Enum []uint64

	// Regex over the string form.
	Regex *regexp.Regexp

	// Predicate is an arbitrary check; it sees the extracted value.
	Predicate func(FieldValue) bool
}

// Check evaluates the constraint. The reason is empty on success.
func (c *Constraint) Check(v FieldValue) (bool, string) {
	if c.HasRange && (v.Uint < c.Min || v.Uint > c.Max) {
		return false, fmt.Sprintf("value %d outside [%d,%d]", v.Uint, c.Min, c.Max)
	}
	if len(c.Enum) > 0 {
		found := false
		for _, e := range c.Enum {
			if v.Uint == e {
				found = true
				break
			}
		}
		if !found {
			return false, fmt.Sprintf("value %d not in enum", v.Uint)
		}
	}
	if c.Regex != nil && !c.Regex.MatchString(v.String()) {
		return false, fmt.Sprintf("value %q does not match %s", v.String(), c.Regex)
	}
	if c.Predicate != nil && !c.Predicate(v) {
		return false, "predicate rejected value"
	}
	return true, ""
}

// FieldDef describes one field of a protocol.
type FieldDef struct {
	Name        string
	Offset      int
	Length      int
	Kind        Kind
	Endian      Endian
	Required    bool
	Description string
	Constraint  *Constraint

	// Format overrides the display string.
	Format func(FieldValue) string
	// Parse is the optional inverse parser from display form.
	Parse func(s string) (FieldValue, error)
}

// ProtocolDef is a named, versioned, ordered list of field definitions.
type ProtocolDef struct {
	Name    string
	Version string
	Fields  []FieldDef

	// Checksum validates the buffer's checksum when set; evaluated only
	// when the parser's checksum validation is enabled.
	Checksum func(buf []byte) bool

	// Formatter renders a one-line summary for human output.
	Formatter func(r *ParseResult) string

	index map[string]int
}

// NewProtocol builds a definition and its name index.
func NewProtocol(name, version string, fields []FieldDef) *ProtocolDef {
	p := &ProtocolDef{Name: name, Version: version, Fields: fields}
	p.buildIndex()
	return p
}

func (p *ProtocolDef) buildIndex() {
	p.index = make(map[string]int, len(p.Fields))
	for i := range p.Fields {
		p.index[p.Fields[i].Name] = i
	}
}

// Field looks up a definition by name.
func (p *ProtocolDef) Field(name string) (*FieldDef, bool) {
	if p.index == nil {
		p.buildIndex()
	}
	i, ok := p.index[name]
	if !ok {
		return nil, false
	}
	return &p.Fields[i], true
}

// TotalLength is max(offset+length) across fields: the minimum buffer
// size for a complete parse.
func (p *ProtocolDef) TotalLength() int {
	total := 0
	for i := range p.Fields {
		if end := p.Fields[i].Offset + p.Fields[i].Length; end > total {
			total = end
		}
	}
	return total
}
