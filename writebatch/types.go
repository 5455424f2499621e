package writebatch

import (
	"github.com/mevdschee/tqpump/content"
	"github.com/mevdschee/tqpump/query"
	"github.com/mevdschee/tqpump/session"
)

// Config holds configuration for a batched writer
type Config struct {
	Module    string // Transform module location
	Namespace string // Transform function namespace
	Function  string // Transform function name ("transform" default)
	Param     string // Parameter string passed to the transform function

	ContentType content.Type
	BatchSize   int    // Documents per request (100 default, forced to 1 without batching support)
	TxnSize     int    // Requests per transaction (1 default, no commit windows)
	Encoding    string // Charset of raw text payloads ("UTF-8" default)
	Capability  query.Capability

	// DirectPlacement routes every document to its partition. When false all
	// documents go through slot 0, rotating across the host pool.
	DirectPlacement bool
	Partitions      []session.Target // Slot i writes to Partitions[i]

	Metadata        content.Metadata
	Mimetypes       content.Mimetypes
	OutputURIPrefix string // Prepended to every document URI
	TaskID          string // Identifies the writer in logs (random default)
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Function:    "transform",
		ContentType: content.XML,
		BatchSize:   100,
		TxnSize:     1,
		Encoding:    "UTF-8",
		Capability:  query.NewCapability(query.BatchMinVersion),
		Mimetypes:   content.DefaultMimetypes(),
	}
}

// Counters receives the final document counts of a writer. Implementations
// must be safe for concurrent use by writers of sibling tasks.
type Counters interface {
	AddCommitted(n int64)
	AddFailed(n int64)
}

// slot is the per-partition state of a writer. The three value arrays are
// parallel and preallocated to the batch size; the first count entries form
// the current batch.
type slot struct {
	session session.Session
	request *session.Request
	host    string

	uris     []session.Value
	contents []session.Value
	options  []session.Value

	count     int // documents in the current batch
	stmtCount int // requests in the open transaction

	pending       []string // URIs of the current batch
	commitPending []string // URIs submitted but not yet committed
}

func newSlot(batchSize int) *slot {
	return &slot{
		uris:     make([]session.Value, batchSize),
		contents: make([]session.Value, batchSize),
		options:  make([]session.Value, batchSize),
		pending:  make([]string, 0, batchSize),
	}
}
