package writebatch

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/mevdschee/tqpump/metrics"
	"github.com/mevdschee/tqpump/placement"
	"github.com/mevdschee/tqpump/query"
	"github.com/mevdschee/tqpump/session"
)

// flush submits the full batch of slot id. trigger is the URI whose write
// filled the batch.
func (w *Writer) flush(ctx context.Context, id int, trigger string) error {
	s := w.slots[id]

	err := w.submit(ctx, id, s.count)
	switch {
	case err == nil:
		s.stmtCount++
		if w.needCommit {
			s.commitPending = append(s.commitPending, s.pending...)
		} else {
			w.succeeded += int64(s.count)
		}
	case session.IsRequestError(err):
		w.logRequestError(id, err)
		w.log.Warnw("Failed document", "uri", trigger)
		w.failed += int64(len(s.pending))
	default:
		w.failDocuments(s.commitPending, s.pending)
		s.commitPending = s.commitPending[:0]
		w.abandon(id)
		w.resetBatch(s)
		w.fatal = &FatalError{Slot: id, URI: trigger, Err: err}
		return w.fatal
	}
	w.resetBatch(s)

	committed := false
	if err == nil && w.needCommit && s.stmtCount == w.txnSize {
		if err := w.commit(ctx, id); err != nil {
			return err
		}
		committed = true
	}

	if !w.config.DirectPlacement && (!w.needCommit || committed) {
		w.rotate()
	}
	return nil
}

func (w *Writer) resetBatch(s *slot) {
	s.pending = s.pending[:0]
	s.count = 0
	if w.config.DirectPlacement && w.router.CountBased() {
		w.cachedSlot = -1
	}
}

// submit binds the first n entries of the slot arrays and evaluates the
// request, opening the session first if needed.
func (w *Writer) submit(ctx context.Context, id, n int) error {
	s := w.slots[id]
	if s.session == nil {
		if err := w.open(ctx, id); err != nil {
			return err
		}
	}

	s.request.SetVariables(session.VarURI, s.uris[:n:n])
	s.request.SetVariables(session.VarContent, s.contents[:n:n])
	s.request.SetVariables(session.VarOptions, s.options[:n:n])

	partition := strconv.Itoa(id)
	start := time.Now()
	err := s.session.Submit(ctx, s.request)
	metrics.BatchLatency.WithLabelValues(partition).Observe(time.Since(start).Seconds())
	metrics.BatchSize.WithLabelValues(partition).Observe(float64(n))
	metrics.Requests.WithLabelValues(partition, outcome(err)).Inc()
	return err
}

func (w *Writer) open(ctx context.Context, id int) error {
	s := w.slots[id]
	target := w.target(id)
	sess, err := w.source.NewSession(ctx, target, w.mode())
	if err != nil {
		if !session.IsTransportError(err) {
			err = &session.TransportError{Host: target.Host, Err: err}
		}
		return err
	}
	s.session = sess
	s.host = target.Host
	s.request = session.NewRequest(w.query, session.RequestOptions{DefaultQueryVersion: query.DefaultQueryVersion})
	metrics.SessionsOpened.WithLabelValues(target.Host).Inc()
	w.log.Debugw("Opened session", "slot", id, "host", target.Host, "partition", target.Partition)
	return nil
}

// commit commits the open transaction of slot id and settles its
// commit-pending documents.
func (w *Writer) commit(ctx context.Context, id int) error {
	s := w.slots[id]
	s.stmtCount = 0
	if s.session == nil {
		return nil
	}

	err := s.session.Commit(ctx)
	metrics.Commits.WithLabelValues(strconv.Itoa(id), outcome(err)).Inc()
	switch {
	case err == nil:
		w.succeeded += int64(len(s.commitPending))
	case session.IsRequestError(err):
		w.log.Errorw("Error committing transaction", "slot", id, "error", err)
		w.failDocuments(s.commitPending)
	default:
		w.failDocuments(s.commitPending)
		w.abandon(id)
		s.commitPending = s.commitPending[:0]
		w.fatal = &FatalError{Slot: id, URI: "commit", Err: err}
		return w.fatal
	}
	s.commitPending = s.commitPending[:0]
	return nil
}

// abandon closes the session of a slot after a transport failure and undoes
// the speculative placement of its batch.
func (w *Writer) abandon(id int) {
	s := w.slots[id]
	if s.session != nil {
		if err := s.session.Close(); err != nil {
			w.log.Warnw("Error closing session", "slot", id, "error", err)
		}
		s.session = nil
		s.request = nil
	}
	if w.hosts != nil && s.host != "" {
		w.hosts.MarkUnhealthy(s.host)
	}
	if rb, ok := w.router.(placement.Rollbacker); ok && w.config.DirectPlacement {
		rb.Rollback(id)
	}
	s.stmtCount = 0
	w.log.Errorw("Transport failure, session closed", "slot", id, "host", s.host)
}

// discard rolls back the open transaction of slot id by closing its session.
// The host and the placement are left alone.
func (w *Writer) discard(id int) {
	s := w.slots[id]
	s.stmtCount = 0
	if s.session == nil {
		return
	}
	if err := s.session.Close(); err != nil {
		w.log.Warnw("Error closing session", "slot", id, "error", err)
	}
	s.session = nil
	s.request = nil
	w.log.Debugw("Discarded transaction", "slot", id)
}

// rotate moves slot 0 to the next host; its session is reopened on next use.
func (w *Writer) rotate() {
	host := w.hosts.Next()
	s := w.slots[0]
	if s.session != nil {
		if err := s.session.Close(); err != nil {
			w.log.Warnw("Error closing session", "slot", 0, "error", err)
		}
		s.session = nil
		s.request = nil
	}
	w.log.Debugw("Rotated host", "host", host)
}

// failDocuments counts the given URIs as failed and logs each of them
func (w *Writer) failDocuments(lists ...[]string) {
	for _, uris := range lists {
		for _, uri := range uris {
			w.log.Warnw("Failed document", "uri", uri)
		}
		w.failed += int64(len(uris))
	}
}

func (w *Writer) logRequestError(id int, err error) {
	var qe *session.QueryError
	if errors.As(err, &qe) {
		w.log.Errorw(qe.FormatString(), "slot", id)
		return
	}
	w.log.Errorw(err.Error(), "slot", id)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case session.IsRequestError(err):
		return "rejected"
	default:
		return "transport"
	}
}

// Close flushes every slot in index order, commits open transactions, closes
// all sessions and the owned input, then publishes the counts. It returns the
// transport failure that stopped the flush, if any; a failure already
// returned by Write is not returned again. A slot abandoned by Write holds no
// documents, so the other slots are still flushed after it.
func (w *Writer) Close(ctx context.Context) error {
	if w.closed {
		return nil
	}
	w.closed = true

	var err error
	for i := range w.slots {
		if err = w.closeSlot(ctx, i); err != nil {
			break
		}
	}

	// Documents of slots that were never flushed cannot be committed anymore
	for _, s := range w.slots {
		w.failDocuments(s.commitPending, s.pending)
		s.commitPending = s.commitPending[:0]
		s.pending = s.pending[:0]
		s.count = 0
	}

	for i, s := range w.slots {
		if s.session == nil {
			continue
		}
		if cerr := s.session.Close(); cerr != nil {
			w.log.Warnw("Error closing session", "slot", i, "error", cerr)
		}
		s.session = nil
		s.request = nil
	}

	w.closeInput()

	if w.counters != nil {
		w.counters.AddCommitted(w.succeeded)
		w.counters.AddFailed(w.failed)
	}
	w.log.Infow("Batched writer closed", "succeeded", w.succeeded, "failed", w.failed)
	return err
}

func (w *Writer) closeSlot(ctx context.Context, id int) error {
	s := w.slots[id]
	if s.count > 0 {
		last := s.pending[len(s.pending)-1]
		err := w.submit(ctx, id, s.count)
		switch {
		case err == nil:
			if w.needCommit {
				s.stmtCount++
				s.commitPending = append(s.commitPending, s.pending...)
			} else {
				w.succeeded += int64(s.count)
			}
		case session.IsRequestError(err):
			w.logRequestError(id, err)
			w.failDocuments(s.commitPending, s.pending)
			s.commitPending = s.commitPending[:0]
			w.resetBatch(s)
			if w.needCommit {
				// every document of the open transaction is counted failed
				w.discard(id)
			}
			return nil
		default:
			w.failDocuments(s.commitPending, s.pending)
			s.commitPending = s.commitPending[:0]
			w.abandon(id)
			w.resetBatch(s)
			return &FatalError{Slot: id, URI: last, Err: err}
		}
		w.resetBatch(s)
	}

	if s.stmtCount > 0 && w.needCommit {
		return w.commit(ctx, id)
	}
	return nil
}

// archiveCloser is implemented by input streams that read an entry of an
// archive they also own.
type archiveCloser interface {
	CloseArchive() error
}

func (w *Writer) closeInput() {
	if w.input == nil {
		return
	}
	if err := w.input.Close(); err != nil {
		w.log.Warnw("Error closing input", "error", err)
	}
	if ac, ok := w.input.(archiveCloser); ok {
		if err := ac.CloseArchive(); err != nil {
			w.log.Warnw("Error closing input archive", "error", err)
		}
	}
	w.input = nil
}
