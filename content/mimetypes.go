package content

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mimetypes maps a file name suffix (without the dot) to the content category
// used for documents of mixed jobs. It is read-only once handed to a writer.
type Mimetypes map[string]Type

// DefaultMimetypes returns the table used when none is configured
func DefaultMimetypes() Mimetypes {
	return Mimetypes{
		"xml":   XML,
		"xsd":   XML,
		"xsl":   XML,
		"xslt":  XML,
		"xhtml": XML,
		"svg":   XML,
		"rdf":   XML,
		"json":  JSON,
		"txt":   Text,
		"text":  Text,
		"csv":   Text,
		"html":  Text,
		"htm":   Text,
		"css":   Text,
		"js":    Text,
		"md":    Text,
		"xqy":   Text,
		"sjs":   Text,
	}
}

// Resolve returns the content category for uri. A literal xml suffix is
// always markup; unknown or missing suffixes are binary.
func (m Mimetypes) Resolve(uri string) Type {
	idx := strings.LastIndex(uri, ".")
	if idx == -1 {
		return Binary
	}
	suffix := uri[idx+1:]
	if strings.EqualFold(suffix, "xml") {
		return XML
	}
	if t, ok := m[suffix]; ok {
		return t
	}
	if t, ok := m[strings.ToLower(suffix)]; ok {
		return t
	}
	return Binary
}

// LoadMimetypes reads a YAML document mapping suffixes to category names:
//
//	json: json
//	txt: text
//	docx: binary
func LoadMimetypes(path string) (Mimetypes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse mimetypes %s: %w", path, err)
	}
	return ParseMimetypes(raw)
}

// ParseMimetypes builds a table from suffix to category name pairs
func ParseMimetypes(raw map[string]string) (Mimetypes, error) {
	m := make(Mimetypes, len(raw))
	for suffix, name := range raw {
		t, err := ParseType(name)
		if err != nil {
			return nil, fmt.Errorf("mimetype %s: %w", suffix, err)
		}
		if t == Mixed || t == Unknown {
			return nil, fmt.Errorf("mimetype %s: %s is not a document type", suffix, t)
		}
		m[strings.TrimPrefix(suffix, ".")] = t
	}
	return m, nil
}
