package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mevdschee/tqpump/session"
)

// Session is a reserved connection to one host
type Session struct {
	store     *Store
	conn      *sql.Conn
	host      string
	partition string
	mode      session.TransactionMode
	tx        *sql.Tx
	requests  int
	closed    bool
}

// Submit upserts every document bound to req. In Auto mode the batch is
// committed on its own; in Update mode it joins the open transaction and a
// rejected batch is rolled back to the state before it.
func (s *Session) Submit(ctx context.Context, req *session.Request) error {
	if s.closed {
		return &session.TransportError{Host: s.host, Err: session.ErrSessionClosed}
	}
	uris := req.Variables(session.VarURI)
	contents := req.Variables(session.VarContent)
	options := req.Variables(session.VarOptions)
	if len(contents) != len(uris) || len(options) != len(uris) {
		return &session.RequestError{Err: fmt.Errorf("%w: %d uris, %d contents, %d options",
			ErrVariableMismatch, len(uris), len(contents), len(options))}
	}

	if s.mode == session.Auto {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return classify(s.host, err)
		}
		if err := s.insert(ctx, tx, req, uris, contents, options); err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				return classify(s.host, rerr)
			}
			return classify(s.host, err)
		}
		return classify(s.host, tx.Commit())
	}

	if s.tx == nil {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return classify(s.host, err)
		}
		s.tx = tx
	}
	s.requests++
	savepoint := fmt.Sprintf("batch_%d", s.requests)
	if _, err := s.tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
		return classify(s.host, err)
	}
	if err := s.insert(ctx, s.tx, req, uris, contents, options); err != nil {
		if _, rerr := s.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rerr != nil {
			return &session.TransportError{Host: s.host, Err: rerr}
		}
		return classify(s.host, err)
	}
	if _, err := s.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
		return classify(s.host, err)
	}
	return nil
}

func (s *Session) insert(ctx context.Context, tx *sql.Tx, req *session.Request, uris, contents, options []session.Value) error {
	query := s.store.dialect.statement(s.store.table)
	if v := req.Options.DefaultQueryVersion; v != "" {
		query = fmt.Sprintf("/* query-version:%s */ %s", v, query)
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range uris {
		_, err := stmt.ExecContext(ctx,
			uris[i].Data,
			s.partition,
			contents[i].Data,
			string(contents[i].Type),
			options[i].Data,
			string(options[i].Type),
		)
		if err != nil {
			return fmt.Errorf("insert %s: %w", uris[i].Data, err)
		}
	}
	return nil
}

// Commit commits the open transaction. It is a no-op in Auto mode.
func (s *Session) Commit(ctx context.Context) error {
	if s.closed {
		return &session.TransportError{Host: s.host, Err: session.ErrSessionClosed}
	}
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	s.requests = 0
	return classify(s.host, tx.Commit())
}

// Close rolls back an uncommitted transaction and returns the connection to
// the pool.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.tx != nil {
		if err := s.tx.Rollback(); err != nil {
			s.store.log.Warnw("Error rolling back transaction", "host", s.host, "error", err)
		}
		s.tx = nil
	}
	return s.conn.Close()
}
