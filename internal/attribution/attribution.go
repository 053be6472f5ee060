// Package attribution classifies deep-link start parameters into marketing
// source/variant pairs.
package attribution

import (
	"regexp"
	"strings"
)

// Kind tags the result of parsing a start parameter.
type Kind int

const (
	// Empty means no parameter was supplied at all.
	Empty Kind = iota
	// Parsed means the parameter matched the source[variant] shape.
	Parsed
	// Unrecognized means the parameter could not be classified; the raw
	// value is still retained so the touch is never lost.
	Unrecognized
)

// paramPattern splits a parameter into an alphabetic source prefix and an
// optional trailing campaign variant, e.g. "youtube2" -> ("youtube", "2").
var paramPattern = regexp.MustCompile(`^([a-z_]+)([0-9]*)$`)

// Outcome is the result of parsing one start parameter.
type Outcome struct {
	Kind    Kind
	Raw     string
	Source  string
	Variant string
}

// Parse normalizes and classifies a raw deep-link parameter. It is a pure
// function: re-parsing an Outcome's Raw yields the same Outcome.
func Parse(raw string) Outcome {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return Outcome{Kind: Empty}
	}

	match := paramPattern.FindStringSubmatch(trimmed)
	if match == nil {
		return Outcome{Kind: Unrecognized, Raw: trimmed}
	}

	// The variant stays a string: "02" and "2" are distinct campaigns.
	return Outcome{
		Kind:    Parsed,
		Raw:     trimmed,
		Source:  match[1],
		Variant: match[2],
	}
}

// RawValue returns the retained raw parameter, or nil when none was supplied.
func (o Outcome) RawValue() *string {
	if o.Kind == Empty {
		return nil
	}
	return ptr(o.Raw)
}

// SourceValue returns the classified source, or nil for empty or
// unrecognized parameters.
func (o Outcome) SourceValue() *string {
	if o.Kind != Parsed {
		return nil
	}
	return ptr(o.Source)
}

// VariantValue returns the campaign variant, or nil when the parameter
// carried no digit suffix.
func (o Outcome) VariantValue() *string {
	if o.Kind != Parsed || o.Variant == "" {
		return nil
	}
	return ptr(o.Variant)
}

func ptr(s string) *string {
	return &s
}
