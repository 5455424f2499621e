package writebatch

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mevdschee/tqpump/content"
	"github.com/mevdschee/tqpump/placement"
	"github.com/mevdschee/tqpump/query"
	"github.com/mevdschee/tqpump/replica"
	"github.com/mevdschee/tqpump/session"
)

// Writer groups documents into fixed-size batches per partition slot and
// submits each batch as one transform-and-insert request. A Writer is used
// by a single goroutine: Write calls are sequential and Close is called once
// after the last Write.
type Writer struct {
	config     Config
	source     session.Source
	router     placement.Router
	hosts      *replica.Pool
	counters   Counters
	log        *zap.SugaredLogger
	encoder    *content.Encoder
	query      string
	batchSize  int
	txnSize    int
	needCommit bool

	slots      []*slot
	cachedSlot int // placement reused by count based routers, -1 when unset

	succeeded int64
	failed    int64

	input  io.Closer
	fatal  error
	closed bool
}

// New creates a batched writer. With DirectPlacement the router picks one of
// config.Partitions per document; otherwise hosts supplies the rotation of
// hosts slot 0 connects to. counters may be nil.
func New(src session.Source, config Config, router placement.Router, hosts *replica.Pool, counters Counters, log *zap.SugaredLogger) (*Writer, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if config.TaskID == "" {
		config.TaskID = uuid.NewString()
	}
	log = log.With("task", config.TaskID)

	slots := 1
	if config.DirectPlacement {
		if router == nil || len(config.Partitions) == 0 {
			return nil, ErrNoTargets
		}
		slots = len(config.Partitions)
	} else if hosts == nil || hosts.Len() == 0 {
		return nil, ErrNoTargets
	}

	dec, err := content.NewDecoder(config.Encoding)
	if err != nil {
		return nil, err
	}
	if config.Mimetypes == nil {
		config.Mimetypes = content.DefaultMimetypes()
	}

	w := &Writer{
		config:     config,
		source:     src,
		router:     router,
		hosts:      hosts,
		counters:   counters,
		log:        log,
		query:      query.Build(config.Module, config.Namespace, config.Function, config.Param, config.Capability),
		batchSize:  config.Capability.EffectiveBatchSize(config.BatchSize),
		txnSize:    max(config.TxnSize, 1),
		cachedSlot: -1,
	}
	w.needCommit = w.txnSize > 1
	w.encoder = &content.Encoder{
		Type:      config.ContentType,
		Mimetypes: config.Mimetypes,
		Decoder:   dec,
		Metadata:  config.Metadata,
		Shape:     config.Capability.Shape(),
		Log:       log,
	}

	w.slots = make([]*slot, slots)
	for i := range w.slots {
		w.slots[i] = newSlot(w.batchSize)
	}

	log.Debugw("Created batched writer", "slots", slots, "batch_size", w.batchSize,
		"txn_size", w.txnSize, "query", w.query)
	return w, nil
}

// SetInput hands the job's input stream to the writer, which closes it in
// Close.
func (w *Writer) SetInput(c io.Closer) {
	w.input = c
}

// BatchSize returns the effective number of documents per request
func (w *Writer) BatchSize() int {
	return w.batchSize
}

// Query returns the request template the writer submits
func (w *Writer) Query() string {
	return w.query
}

// Stats returns the documents counted as succeeded and failed so far
func (w *Writer) Stats() (succeeded, failed int64) {
	return w.succeeded, w.failed
}

// Write adds one document to its slot's batch and submits the batch when it
// is full. Rejected batches are counted as failed and do not return an
// error; an error is returned for unencodable content and for transport
// failures, after which the writer accepts no more documents.
func (w *Writer) Write(ctx context.Context, uri string, p content.Payload) error {
	if w.closed {
		return ErrWriterClosed
	}
	if w.fatal != nil {
		return w.fatal
	}

	uri = w.documentURI(uri)
	value, opts, err := w.encoder.Encode(uri, p)
	if err != nil {
		return err
	}

	id, err := w.resolveSlot(uri)
	if err != nil {
		return err
	}

	s := w.slots[id]
	s.uris[s.count] = session.NewValue(session.XSString, uri)
	s.contents[s.count] = value
	s.options[s.count] = opts
	s.pending = append(s.pending, uri)
	s.count++

	if s.count < w.batchSize {
		return nil
	}
	return w.flush(ctx, id, uri)
}

// resolveSlot picks the slot for uri. Count based routers place a run of
// documents once and the placement is reset after every submission.
func (w *Writer) resolveSlot(uri string) (int, error) {
	if !w.config.DirectPlacement {
		return 0, nil
	}
	id := w.cachedSlot
	if !w.router.CountBased() {
		id = w.router.Place(uri)
	} else if id == -1 {
		id = w.router.Place(uri)
		w.cachedSlot = id
	}
	if id < 0 || id >= len(w.slots) {
		if w.router.CountBased() {
			w.cachedSlot = -1
			if rb, ok := w.router.(placement.Rollbacker); ok {
				rb.Rollback(id)
			}
		}
		return 0, fmt.Errorf("%w: %s placed on %d of %d", ErrPlacement, uri, id, len(w.slots))
	}
	return id, nil
}

func (w *Writer) documentURI(uri string) string {
	if w.config.OutputURIPrefix == "" {
		return uri
	}
	return strings.TrimSuffix(w.config.OutputURIPrefix, "/") + "/" + strings.TrimPrefix(uri, "/")
}

func (w *Writer) target(id int) session.Target {
	if w.config.DirectPlacement {
		return w.config.Partitions[id]
	}
	return session.Target{Host: w.hosts.Current()}
}

func (w *Writer) mode() session.TransactionMode {
	if w.needCommit {
		return session.Update
	}
	return session.Auto
}
