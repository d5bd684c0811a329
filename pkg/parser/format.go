package parser

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
)

// OutputFormat selects a ParseResult rendering.
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatXML   OutputFormat = "xml"
	FormatCSV   OutputFormat = "csv"
	FormatHuman OutputFormat = "human"
)

// FieldRecord is the serializable view of one parsed field.
type FieldRecord struct {
	Name    string `json:"name" xml:"name,attr"`
	Kind    string `json:"kind" xml:"kind,attr"`
	Value   string `json:"value" xml:"value"`
	RawHex  string `json:"raw_hex,omitempty" xml:"raw_hex,omitempty"`
	Display string `json:"display,omitempty" xml:"display,omitempty"`
}

// ResultRecord is the serializable view of a ParseResult. JSON encoding
// of this form decodes back to an equal record.
type ResultRecord struct {
	XMLName  xml.Name      `json:"-" xml:"result"`
	Protocol string        `json:"protocol" xml:"protocol,attr"`
	Version  string        `json:"version" xml:"version,attr"`
	Status   string        `json:"status" xml:"status,attr"`
	Fields   []FieldRecord `json:"fields" xml:"field"`
	Errors   []string      `json:"errors,omitempty" xml:"error,omitempty"`
}

// Record converts a ParseResult to its serializable form. Fields are
// sorted by name for stable output.
func Record(r *ParseResult) ResultRecord {
	rec := ResultRecord{
		Protocol: r.Protocol,
		Version:  r.Version,
		Status:   r.Status.String(),
	}
	names := make([]string, 0, len(r.Fields))
	for name := range r.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := r.Fields[name]
		rec.Fields = append(rec.Fields, FieldRecord{
			Name:    name,
			Kind:    v.Kind.String(),
			Value:   v.String(),
			RawHex:  v.RawHex,
			Display: v.Display,
		})
	}
	for _, fe := range r.Errors {
		rec.Errors = append(rec.Errors, fe.Field+": "+fe.Reason)
	}
	return rec
}

// Format renders a ParseResult in the requested output format.
func Format(r *ParseResult, f OutputFormat) (string, error) {
	rec := Record(r)
	switch f {
	case FormatJSON:
		b, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return "", err
		}
		return string(b), nil
	case FormatXML:
		b, err := xml.MarshalIndent(rec, "", "  ")
		if err != nil {
			return "", err
		}
		return string(b), nil
	case FormatCSV:
		return formatCSV(rec)
	case FormatHuman:
		return formatHuman(rec), nil
	default:
		return "", fmt.Errorf("unknown output format %q", f)
	}
}

// DecodeJSON is the inverse of Format with FormatJSON.
func DecodeJSON(data []byte) (ResultRecord, error) {
	var rec ResultRecord
	err := json.Unmarshal(data, &rec)
	return rec, err
}

func formatCSV(rec ResultRecord) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"protocol", "version", "status", "field", "kind", "value", "raw_hex"}); err != nil {
		return "", err
	}
	for _, f := range rec.Fields {
		if err := w.Write([]string{rec.Protocol, rec.Version, rec.Status, f.Name, f.Kind, f.Value, f.RawHex}); err != nil {
			return "", err
		}
	}
	w.Flush()
	return buf.String(), w.Error()
}

func formatHuman(rec ResultRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (v%s) %s\n", rec.Protocol, rec.Version, rec.Status)
	width := 0
	for _, f := range rec.Fields {
		if len(f.Name) > width {
			width = len(f.Name)
		}
	}
	for _, f := range rec.Fields {
		fmt.Fprintf(&b, "  %-*s  %-9s %s\n", width, f.Name, f.Kind, f.Value)
	}
	for _, e := range rec.Errors {
		fmt.Fprintf(&b, "  ! %s\n", e)
	}
	return b.String()
}
