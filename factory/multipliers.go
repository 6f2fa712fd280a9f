/*
Package factory converts multiplier-table documents into rates.MultiplierTable.

PURPOSE:
  Effort multipliers are configuration, not code. Estimators send a table
  with an estimate, and operators set the house table in the server config
  file. This package parses either form, fills unnamed tiers from the house
  defaults and validates the result.

DOCUMENT SCHEMA (JSON):
  {
    "size":       {"small": 1.00, "medium": 1.05, "large": 1.10},
    "complexity": {"small": 1.00, "medium": 1.05, "large": 1.10},
    "confidence": {"high": 1.00, "medium": 1.10, "low": "1.20"}
  }

DOCUMENT SCHEMA (YAML):
  size:
    large: 1.15
  confidence:
    low: 1.25

  Values may be numbers or quoted decimal strings. Missing sections and
  missing tiers keep the house default.

KEY FEATURES:
  - JSON or YAML, detected from the first non-space byte or file extension
  - Unknown tier names are rejected, not ignored
  - Negative multipliers are rejected (rates.ErrInvalidAdjustmentInput)

USAGE:
  f := factory.NewMultiplierFactory()
  table, err := f.Parse(body)
  adj, err := rates.Adjust(rates.AdjustmentInput{..., Table: table})

SEE ALSO:
  - rates/adjustment.go: MultiplierTable and the formula
  - config/config.go: house table in the server config
*/
package factory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/rate-engine/rates"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// DOCUMENT TYPES
// =============================================================================

// TableDoc is the wire representation of a multiplier table.
type TableDoc struct {
	Size       map[string]decimal.Decimal `json:"size,omitempty" yaml:"size,omitempty"`
	Complexity map[string]decimal.Decimal `json:"complexity,omitempty" yaml:"complexity,omitempty"`
	Confidence map[string]decimal.Decimal `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

// IsZero reports whether the document names no multipliers.
func (d TableDoc) IsZero() bool {
	return len(d.Size) == 0 && len(d.Complexity) == 0 && len(d.Confidence) == 0
}

// Format selects the document syntax.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// =============================================================================
// MULTIPLIER FACTORY
// =============================================================================

// MultiplierFactory converts table documents to rates.MultiplierTable.
type MultiplierFactory struct {
	// Base fills tiers the document does not name. Zero means the house
	// defaults (rates.DefaultMultiplierTable).
	Base rates.MultiplierTable
}

// NewMultiplierFactory creates a factory over the house defaults.
func NewMultiplierFactory() *MultiplierFactory {
	return &MultiplierFactory{}
}

// Parse detects the format and converts the document.
func (f *MultiplierFactory) Parse(data []byte) (rates.MultiplierTable, error) {
	return f.ParseAs(data, DetectFormat(data))
}

// ParseAs converts a document in the given format.
func (f *MultiplierFactory) ParseAs(data []byte, format Format) (rates.MultiplierTable, error) {
	var doc TableDoc
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return rates.MultiplierTable{}, fmt.Errorf("invalid multiplier JSON: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return rates.MultiplierTable{}, fmt.Errorf("invalid multiplier YAML: %w", err)
		}
	default:
		return rates.MultiplierTable{}, fmt.Errorf("unknown multiplier format %q", format)
	}
	return f.FromDoc(doc)
}

// LoadFile reads a table from disk. The extension picks the format.
func (f *MultiplierFactory) LoadFile(path string) (rates.MultiplierTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return rates.MultiplierTable{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return f.ParseAs(data, FormatJSON)
	case ".yaml", ".yml":
		return f.ParseAs(data, FormatYAML)
	}
	return f.Parse(data)
}

// FromDoc converts an already-decoded document, e.g. one embedded in an
// API request or config file.
func (f *MultiplierFactory) FromDoc(doc TableDoc) (rates.MultiplierTable, error) {
	var t rates.MultiplierTable
	if len(doc.Size) > 0 {
		t.Size = make(map[rates.SizeTier]decimal.Decimal, len(doc.Size))
		for k, v := range doc.Size {
			t.Size[rates.SizeTier(k)] = v
		}
	}
	if len(doc.Complexity) > 0 {
		t.Complexity = make(map[rates.ComplexityTier]decimal.Decimal, len(doc.Complexity))
		for k, v := range doc.Complexity {
			t.Complexity[rates.ComplexityTier(k)] = v
		}
	}
	if len(doc.Confidence) > 0 {
		t.Confidence = make(map[rates.ConfidenceTier]decimal.Decimal, len(doc.Confidence))
		for k, v := range doc.Confidence {
			t.Confidence[rates.ConfidenceTier(k)] = v
		}
	}

	// Unknown tiers must fail before defaults hide them.
	if err := t.Validate(); err != nil {
		return rates.MultiplierTable{}, err
	}

	full := f.base()
	overlay(&full, t)
	return full, full.Validate()
}

// ToDoc is the inverse of FromDoc.
func (f *MultiplierFactory) ToDoc(t rates.MultiplierTable) TableDoc {
	doc := TableDoc{
		Size:       make(map[string]decimal.Decimal, len(t.Size)),
		Complexity: make(map[string]decimal.Decimal, len(t.Complexity)),
		Confidence: make(map[string]decimal.Decimal, len(t.Confidence)),
	}
	for k, v := range t.Size {
		doc.Size[string(k)] = v
	}
	for k, v := range t.Complexity {
		doc.Complexity[string(k)] = v
	}
	for k, v := range t.Confidence {
		doc.Confidence[string(k)] = v
	}
	return doc
}

// DetectFormat treats a document starting with '{' as JSON, anything else
// as YAML.
func DetectFormat(data []byte) Format {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatYAML
}

// =============================================================================
// HELPERS
// =============================================================================

func (f *MultiplierFactory) base() rates.MultiplierTable {
	if f.Base.IsZero() {
		return rates.DefaultMultiplierTable()
	}
	return f.Base.WithDefaults()
}

// overlay copies every tier named in t onto dst. dst's maps are owned.
func overlay(dst *rates.MultiplierTable, t rates.MultiplierTable) {
	for k, v := range t.Size {
		dst.Size[k] = v
	}
	for k, v := range t.Complexity {
		dst.Complexity[k] = v
	}
	for k, v := range t.Confidence {
		dst.Confidence[k] = v
	}
}
