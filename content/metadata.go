package content

import (
	"fmt"
	"strings"
)

// Capability is what a role is permitted to do with a document
type Capability int

const (
	Read Capability = iota
	Execute
	Insert
	Update
	NodeUpdate
)

var capabilityNames = []string{"read", "execute", "insert", "update", "node-update"}

func (c Capability) String() string {
	if int(c) < len(capabilityNames) {
		return capabilityNames[c]
	}
	return fmt.Sprintf("Capability(%d)", int(c))
}

// ParseCapability parses a capability name such as "read" or "node-update"
func ParseCapability(s string) (Capability, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range capabilityNames {
		if n == name {
			return Capability(i), nil
		}
	}
	return 0, fmt.Errorf("unknown capability %q", s)
}

// Permission grants a capability to a role
type Permission struct {
	Role       string
	Capability Capability
}

// ParsePermissions parses a "role,capability,role,capability" list
func ParsePermissions(s string) ([]Permission, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts)%2 != 0 {
		return nil, fmt.Errorf("permissions %q: expected role,capability pairs", s)
	}
	perms := make([]Permission, 0, len(parts)/2)
	for i := 0; i < len(parts); i += 2 {
		c, err := ParseCapability(parts[i+1])
		if err != nil {
			return nil, err
		}
		perms = append(perms, Permission{Role: strings.TrimSpace(parts[i]), Capability: c})
	}
	return perms, nil
}

// RepairLevel controls how the store repairs malformed markup
type RepairLevel int

const (
	RepairDefault RepairLevel = iota
	RepairFull
	RepairNone
)

func (r RepairLevel) String() string {
	switch r {
	case RepairFull:
		return "full"
	case RepairNone:
		return "none"
	default:
		return "default"
	}
}

// ParseRepairLevel parses "default", "full" or "none"
func ParseRepairLevel(s string) (RepairLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return RepairDefault, nil
	case "full":
		return RepairFull, nil
	case "none":
		return RepairNone, nil
	}
	return RepairDefault, fmt.Errorf("unknown repair level %q", s)
}

// Metadata is the insert metadata configured for the documents of a job
type Metadata struct {
	Collections        []string
	Permissions        []Permission
	Namespace          string
	Language           string
	Quality            int
	RepairLevel        RepairLevel
	TemporalCollection string
}
