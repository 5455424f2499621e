package content

import (
	"encoding/base64"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/mevdschee/tqpump/session"
)

// Decoder turns raw payload bytes into text using the configured charset
type Decoder struct {
	name string
	enc  encoding.Encoding
}

// NewDecoder returns a decoder for charset. An empty name means UTF-8.
func NewDecoder(charset string) (*Decoder, error) {
	name := strings.ToLower(strings.TrimSpace(charset))
	if name == "" || name == "utf-8" || name == "utf8" {
		return &Decoder{name: "utf-8"}, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("charset %q: %w", charset, err)
	}
	return &Decoder{name: name, enc: enc}, nil
}

// Decode converts b to a string
func (d *Decoder) Decode(b []byte) (string, error) {
	if d == nil || d.enc == nil {
		return string(b), nil
	}
	out, err := d.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", d.name, err)
	}
	return string(out), nil
}

// Encoder produces the CONTENT and INSERT-OPTIONS values of one document. It
// holds no per-document state.
type Encoder struct {
	Type      Type
	Mimetypes Mimetypes
	Decoder   *Decoder
	Metadata  Metadata
	Shape     Shape
	Log       *zap.SugaredLogger
}

// Encode returns the content value and the encoded options for the document
func (e *Encoder) Encode(uri string, p Payload) (session.Value, session.Value, error) {
	docType := e.Type
	if docType == Mixed {
		docType = e.Mimetypes.Resolve(uri)
	}

	var (
		value     session.Value
		valueType session.ValueType
	)
	switch docType {
	case Binary:
		if !p.Raw() {
			return session.Value{}, session.Value{}, &EncodingError{URI: uri, Type: docType, Err: ErrPayloadMismatch}
		}
		value = session.NewValue(session.XSBase64Binary, base64.StdEncoding.EncodeToString(p.Bytes))
		valueType = session.XSBase64Binary
	case Text, XML, JSON:
		s, err := e.text(p)
		if err != nil {
			return session.Value{}, session.Value{}, &EncodingError{URI: uri, Type: docType, Err: err}
		}
		value = session.NewValue(session.XSString, s)
		valueType = session.XSString
		if docType == Text {
			valueType = session.Text
		}
	default:
		return session.Value{}, session.Value{}, &EncodingError{URI: uri, Type: docType}
	}

	opts, err := EncodeOptions(BuildOptions(e.Metadata, valueType, p, e.Log), e.Shape)
	if err != nil {
		return session.Value{}, session.Value{}, &EncodingError{URI: uri, Type: docType, Err: err}
	}
	return value, opts, nil
}

func (e *Encoder) text(p Payload) (string, error) {
	if p.Raw() {
		return e.Decoder.Decode(p.Bytes)
	}
	return p.Text, nil
}
