package content

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/mevdschee/tqpump/session"
)

const (
	mapNamespace = "http://marklogic.com/xdmp/map"
	xsiNamespace = "http://www.w3.org/2001/XMLSchema-instance"
	xsNamespace  = "http://www.w3.org/2001/XMLSchema"
)

// EncodeOptions converts an option map into the wire value for shape
func EncodeOptions(opts Options, shape Shape) (session.Value, error) {
	if shape == ShapeElement {
		return session.NewValue(session.Element, encodeElement(opts)), nil
	}
	data, err := json.Marshal(map[string]string(opts))
	if err != nil {
		return session.Value{}, fmt.Errorf("encode options: %w", err)
	}
	return session.NewValue(session.JSObject, string(data)), nil
}

// DecodeOptions converts a wire value produced by EncodeOptions back into an
// option map.
func DecodeOptions(v session.Value) (Options, error) {
	switch v.Type {
	case session.Element:
		return decodeElement(v.Data)
	case session.JSObject:
		var m map[string]string
		if err := json.Unmarshal([]byte(v.Data), &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedOptions, err)
		}
		return Options(m), nil
	}
	return nil, fmt.Errorf("%w: value type %s", ErrMalformedOptions, v.Type)
}

// encodeElement serializes the map as a map:map element with one entry per
// key, keys sorted.
func encodeElement(opts Options) string {
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(`<map:map xmlns:map="` + mapNamespace + `" xmlns:xsi="` + xsiNamespace + `" xmlns:xs="` + xsNamespace + `">`)
	for _, k := range keys {
		b.WriteString(`<map:entry key="`)
		escape(&b, k)
		b.WriteString(`"><map:value xsi:type="xs:string">`)
		escape(&b, opts[k])
		b.WriteString(`</map:value></map:entry>`)
	}
	b.WriteString(`</map:map>`)
	return b.String()
}

func escape(w io.Writer, s string) {
	// strings.Builder never fails a write
	_ = xml.EscapeText(w, []byte(s))
}

func decodeElement(data string) (Options, error) {
	dec := xml.NewDecoder(strings.NewReader(data))
	opts := Options{}
	var (
		root    bool
		key     string
		inValue bool
		text    strings.Builder
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedOptions, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != mapNamespace {
				return nil, fmt.Errorf("%w: unexpected element %s", ErrMalformedOptions, t.Name.Local)
			}
			switch t.Name.Local {
			case "map":
				root = true
			case "entry":
				key = ""
				for _, a := range t.Attr {
					if a.Name.Local == "key" {
						key = a.Value
					}
				}
			case "value":
				inValue = true
				text.Reset()
			}
		case xml.CharData:
			if inValue {
				text.Write(t)
			}
		case xml.EndElement:
			if t.Name.Local == "value" {
				opts[key] = text.String()
				inValue = false
			}
		}
	}
	if !root {
		return nil, fmt.Errorf("%w: missing map element", ErrMalformedOptions)
	}
	return opts, nil
}
