package content

// PayloadKind tells how a payload was produced by the reader
type PayloadKind int

const (
	// KindBinary is raw, undecoded bytes
	KindBinary PayloadKind = iota
	// KindText is already decoded text
	KindText
	// KindMarkup is already decoded markup text
	KindMarkup
	// KindNamedMarkup is markup read from a named source file
	KindNamedMarkup
	// KindTriple is a serialized RDF triple
	KindTriple
)

// Payload is the content of one document
type Payload struct {
	Kind       PayloadKind
	Bytes      []byte
	Text       string
	SourceName string
}

// BinaryPayload wraps raw bytes
func BinaryPayload(b []byte) Payload {
	return Payload{Kind: KindBinary, Bytes: b}
}

// TextPayload wraps decoded text
func TextPayload(s string) Payload {
	return Payload{Kind: KindText, Text: s}
}

// MarkupPayload wraps decoded markup
func MarkupPayload(s string) Payload {
	return Payload{Kind: KindMarkup, Text: s}
}

// NamedMarkupPayload wraps markup read from the file called name. The file
// name is added to the document's collections.
func NamedMarkupPayload(s, name string) Payload {
	return Payload{Kind: KindNamedMarkup, Text: s, SourceName: name}
}

// TriplePayload wraps a serialized RDF triple
func TriplePayload(s string) Payload {
	return Payload{Kind: KindTriple, Text: s}
}

// Raw reports whether the payload still needs character decoding
func (p Payload) Raw() bool {
	return p.Kind == KindBinary
}
