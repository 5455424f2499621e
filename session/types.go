// Package session defines the contract between the loader and a document
// store: content sources that open sessions against a host, sessions that
// evaluate requests and commit transactions, and the typed values bound to a
// request's external variables.
package session

import "context"

// ValueType is the server-side type of a bound value
type ValueType string

const (
	XSString       ValueType = "xs:string"
	XSBase64Binary ValueType = "xs:base64Binary"
	Text           ValueType = "text()"
	Element        ValueType = "element()"
	JSObject       ValueType = "js-object"
)

// Value is a typed value bound to an external variable
type Value struct {
	Type ValueType
	Data string
}

// NewValue creates a typed value
func NewValue(t ValueType, data string) Value {
	return Value{Type: t, Data: data}
}

// Names of the external variables bound by the transform request
const (
	VarURI     = "URI"
	VarContent = "CONTENT"
	VarOptions = "INSERT-OPTIONS"
)

// TransactionMode selects how a session groups requests into transactions
type TransactionMode int

const (
	// Auto commits every request on its own
	Auto TransactionMode = iota
	// Update keeps a transaction open across requests until Commit
	Update
)

func (m TransactionMode) String() string {
	if m == Update {
		return "update"
	}
	return "auto"
}

// Target identifies where a session is opened. Partition is empty when the
// session is not bound to a specific partition.
type Target struct {
	Host      string
	Partition string
}

// Source opens sessions against a store
type Source interface {
	NewSession(ctx context.Context, target Target, mode TransactionMode) (Session, error)
}

// Session evaluates requests against one host. Submit and Commit return a
// *RequestError when the store rejected the operation and a *TransportError
// when the session itself failed.
type Session interface {
	Submit(ctx context.Context, req *Request) error
	Commit(ctx context.Context) error
	Close() error
}

// RequestOptions are sent along with every evaluation of a request
type RequestOptions struct {
	DefaultQueryVersion string
}

// Request is a query template evaluated repeatedly with new variable bindings
type Request struct {
	Template string
	Options  RequestOptions
	vars     map[string][]Value
}

// NewRequest creates a request for the given template
func NewRequest(template string, opts RequestOptions) *Request {
	return &Request{
		Template: template,
		Options:  opts,
		vars:     make(map[string][]Value, 3),
	}
}

// SetVariables replaces the values bound to name
func (r *Request) SetVariables(name string, values []Value) {
	r.vars[name] = values
}

// Variables returns the values bound to name
func (r *Request) Variables(name string) []Value {
	return r.vars[name]
}
