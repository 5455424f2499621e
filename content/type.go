// Package content turns document payloads and metadata into the typed values
// a transform request binds: the content value itself and the per-document
// insert options in either of the two wire shapes the store understands.
package content

import (
	"fmt"
	"strings"
)

// Type is the declared content category of the documents being loaded
type Type int

const (
	Unknown Type = iota
	Binary
	Text
	XML
	JSON
	Mixed
)

var typeNames = map[Type]string{
	Unknown: "UNKNOWN",
	Binary:  "BINARY",
	Text:    "TEXT",
	XML:     "XML",
	JSON:    "JSON",
	Mixed:   "MIXED",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType parses a content category name, case-insensitively
func ParseType(s string) (Type, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	return Unknown, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// Shape selects the wire representation of the insert options
type Shape int

const (
	// ShapeElement is the legacy single markup element
	ShapeElement Shape = iota
	// ShapeMap is the structured map, one per document
	ShapeMap
)

func (s Shape) String() string {
	if s == ShapeMap {
		return "map"
	}
	return "element"
}
