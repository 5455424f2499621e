package content

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mevdschee/tqpump/session"
)

// Option keys understood by the transform-and-insert entry points
const (
	KeyValueType          = "value-type"
	KeyRolesRead          = "roles-read"
	KeyRolesExecute       = "roles-execute"
	KeyRolesUpdate        = "roles-update"
	KeyRolesInsert        = "roles-insert"
	KeyRolesNodeUpdate    = "roles-node-update"
	KeyNamespace          = "namespace"
	KeyLanguage           = "language"
	KeyCollections        = "collections"
	KeyQuality            = "quality"
	KeyRepairLevel        = "xml-repair-level"
	KeyTemporalCollection = "temporal-collection"
)

const (
	languagePrefix = "default-language="
	repairPrefix   = "repair-"
)

var roleKeys = map[Capability]string{
	Read:       KeyRolesRead,
	Execute:    KeyRolesExecute,
	Insert:     KeyRolesInsert,
	Update:     KeyRolesUpdate,
	NodeUpdate: KeyRolesNodeUpdate,
}

// Options is the flat insert option map of one document
type Options map[string]string

// BuildOptions assembles the option map for one document. A new map is
// returned on every call. Permissions with an empty role name are logged and
// skipped.
func BuildOptions(meta Metadata, valueType session.ValueType, p Payload, log *zap.SugaredLogger) Options {
	opts := Options{KeyValueType: string(valueType)}

	if meta.Namespace != "" {
		opts[KeyNamespace] = meta.Namespace
	}
	if meta.Language != "" {
		opts[KeyLanguage] = languagePrefix + meta.Language
	}

	roles := make(map[Capability][]string, len(roleKeys))
	for _, perm := range meta.Permissions {
		if perm.Role == "" {
			if log != nil {
				log.Errorw("Illegal role name", "capability", perm.Capability.String())
			}
			continue
		}
		roles[perm.Capability] = append(roles[perm.Capability], perm.Role)
	}
	for c, key := range roleKeys {
		opts[key] = strings.Join(roles[c], ",")
	}

	if len(meta.Collections) > 0 || p.Kind == KindNamedMarkup {
		colls := make([]string, 0, len(meta.Collections)+1)
		for _, c := range meta.Collections {
			colls = append(colls, strings.TrimSpace(c))
		}
		if p.Kind == KindNamedMarkup {
			colls = append(colls, p.SourceName)
		}
		opts[KeyCollections] = strings.Join(colls, ",")
	}

	opts[KeyQuality] = strconv.Itoa(meta.Quality)
	if meta.RepairLevel != RepairDefault {
		opts[KeyRepairLevel] = repairPrefix + meta.RepairLevel.String()
	}
	if meta.TemporalCollection != "" {
		opts[KeyTemporalCollection] = meta.TemporalCollection
	}
	return opts
}

// ParseOptions reads an option map back into metadata and the value type it
// was built for.
func ParseOptions(opts Options) (Metadata, session.ValueType, error) {
	var meta Metadata

	if v := opts[KeyCollections]; v != "" {
		meta.Collections = strings.Split(v, ",")
	}
	for c := Read; c <= NodeUpdate; c++ {
		v := opts[roleKeys[c]]
		if v == "" {
			continue
		}
		for _, role := range strings.Split(v, ",") {
			meta.Permissions = append(meta.Permissions, Permission{Role: role, Capability: c})
		}
	}
	meta.Namespace = opts[KeyNamespace]
	meta.Language = strings.TrimPrefix(opts[KeyLanguage], languagePrefix)
	meta.TemporalCollection = opts[KeyTemporalCollection]

	if v, ok := opts[KeyQuality]; ok {
		q, err := strconv.Atoi(v)
		if err != nil {
			return meta, "", fmt.Errorf("%w: quality %q", ErrMalformedOptions, v)
		}
		meta.Quality = q
	}
	if v, ok := opts[KeyRepairLevel]; ok {
		level, err := ParseRepairLevel(strings.TrimPrefix(v, repairPrefix))
		if err != nil {
			return meta, "", fmt.Errorf("%w: %v", ErrMalformedOptions, err)
		}
		meta.RepairLevel = level
	}
	return meta, session.ValueType(opts[KeyValueType]), nil
}
