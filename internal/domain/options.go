package domain

import (
	"fmt"
	"slices"
)

// OutputFormat names one of the report formats the analysis can produce.
type OutputFormat string

// Supported output formats
const (
	OutputFormatXML   OutputFormat = "xml"
	OutputFormatTXT   OutputFormat = "txt"
	OutputFormatPyMOL OutputFormat = "pymol"
)

// DefaultModel is the structure model analyzed when none is requested.
const DefaultModel = 1

// IsValid reports whether f belongs to the supported vocabulary.
func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatXML, OutputFormatTXT, OutputFormatPyMOL:
		return true
	}
	return false
}

// DefaultOutputFormats returns the formats produced when none are requested,
// in the same sorted order WithDefaults gives explicit requests.
func DefaultOutputFormats() []OutputFormat {
	return []OutputFormat{OutputFormatTXT, OutputFormatXML}
}

// Options holds the tuning parameters forwarded to the analysis engine.
type Options struct {
	OutputFormats []OutputFormat `json:"output_format"`
	Model         int            `json:"model"`
	NoHydro       bool           `json:"nohydro"`
	Peptides      []string       `json:"peptides"`
	Verbose       bool           `json:"verbose"`
}

// WithDefaults returns a copy of o with unset fields filled in and
// duplicate output formats removed.
func (o Options) WithDefaults() Options {
	out := o.clone()
	if len(out.OutputFormats) == 0 {
		out.OutputFormats = DefaultOutputFormats()
	} else {
		out.OutputFormats = slices.Compact(slices.Sorted(slices.Values(out.OutputFormats)))
	}
	if out.Model == 0 {
		out.Model = DefaultModel
	}
	if out.Peptides == nil {
		out.Peptides = []string{}
	}
	return out
}

// Validate checks the options against the supported vocabulary.
func (o Options) Validate() error {
	for _, f := range o.OutputFormats {
		if !f.IsValid() {
			return NewValidationError(
				"output_format",
				fmt.Sprintf("contains unsupported format %q", f),
				ErrInvalidOutputFormat,
			)
		}
	}
	if o.Model < 1 {
		return NewValidationError("model", "must be at least 1", ErrInvalidModel)
	}
	return nil
}

// Wants reports whether format f was requested.
func (o Options) Wants(f OutputFormat) bool {
	return slices.Contains(o.OutputFormats, f)
}

func (o Options) clone() Options {
	out := o
	out.OutputFormats = slices.Clone(o.OutputFormats)
	out.Peptides = slices.Clone(o.Peptides)
	return out
}
