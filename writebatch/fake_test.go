package writebatch

import (
	"context"
	"errors"
	"sync"

	"github.com/mevdschee/tqpump/session"
)

// submission is one request evaluated by a fakeSession
type submission struct {
	target  session.Target
	uris    []string
	content []session.Value
	options []session.Value
}

// fakeSource records every session and request. Failures are injected by
// 1-based submission or commit number across all sessions.
type fakeSource struct {
	mu          sync.Mutex
	sessions    []*fakeSession
	submissions []submission
	commits     []session.Target
	submitFail  map[int]error
	commitFail  map[int]error
	openErr     error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		submitFail: make(map[int]error),
		commitFail: make(map[int]error),
	}
}

func (f *fakeSource) NewSession(_ context.Context, target session.Target, mode session.TransactionMode) (session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	s := &fakeSession{src: f, target: target, mode: mode}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeSource) submitted() []submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submission(nil), f.submissions...)
}

func (f *fakeSource) batchSizes() []int {
	var sizes []int
	for _, s := range f.submitted() {
		sizes = append(sizes, len(s.uris))
	}
	return sizes
}

type fakeSession struct {
	src     *fakeSource
	target  session.Target
	mode    session.TransactionMode
	closed  bool
	submits int
}

func (s *fakeSession) Submit(_ context.Context, req *session.Request) error {
	s.src.mu.Lock()
	defer s.src.mu.Unlock()
	if s.closed {
		return &session.TransportError{Host: s.target.Host, Err: session.ErrSessionClosed}
	}
	s.submits++

	sub := submission{target: s.target}
	for _, v := range req.Variables(session.VarURI) {
		sub.uris = append(sub.uris, v.Data)
	}
	sub.content = append(sub.content, req.Variables(session.VarContent)...)
	sub.options = append(sub.options, req.Variables(session.VarOptions)...)
	s.src.submissions = append(s.src.submissions, sub)

	return s.src.submitFail[len(s.src.submissions)]
}

func (s *fakeSession) Commit(context.Context) error {
	s.src.mu.Lock()
	defer s.src.mu.Unlock()
	if s.closed {
		return &session.TransportError{Host: s.target.Host, Err: session.ErrSessionClosed}
	}
	s.src.commits = append(s.src.commits, s.target)
	return s.src.commitFail[len(s.src.commits)]
}

func (s *fakeSession) Close() error {
	s.src.mu.Lock()
	defer s.src.mu.Unlock()
	s.closed = true
	return nil
}

// fixedRouter places every document on one partition
type fixedRouter struct {
	partition int
	calls     int
}

func (r *fixedRouter) Place(string) int {
	r.calls++
	return r.partition
}

func (r *fixedRouter) CountBased() bool { return false }

// fakeInput is an input stream reading an archive entry
type fakeInput struct {
	closed        bool
	archiveClosed bool
}

func (i *fakeInput) Close() error {
	i.closed = true
	return nil
}

func (i *fakeInput) CloseArchive() error {
	i.archiveClosed = true
	return nil
}

func rejected(msg string) error {
	return &session.RequestError{Err: &session.QueryError{Code: "XDMP-EVAL", Message: msg}}
}

func broken(host string) error {
	return &session.TransportError{Host: host, Err: errors.New("connection reset by peer")}
}

// roundRobinRouter spreads consecutive documents over n partitions
type roundRobinRouter struct {
	n    int
	next int
}

func (r *roundRobinRouter) Place(string) int {
	p := r.next % r.n
	r.next++
	return p
}

func (r *roundRobinRouter) CountBased() bool { return false }
