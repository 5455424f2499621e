package writebatch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mevdschee/tqpump/content"
	"github.com/mevdschee/tqpump/metrics"
	"github.com/mevdschee/tqpump/placement"
	"github.com/mevdschee/tqpump/query"
	"github.com/mevdschee/tqpump/replica"
	"github.com/mevdschee/tqpump/session"
)

func partitions(n int) []session.Target {
	targets := make([]session.Target, n)
	for i := range targets {
		targets[i] = session.Target{Host: fmt.Sprintf("h%d", i%2), Partition: fmt.Sprintf("p%d", i)}
	}
	return targets
}

func directConfig(batchSize, txnSize, parts int) Config {
	cfg := DefaultConfig()
	cfg.Module = "/transform.sjs"
	cfg.BatchSize = batchSize
	cfg.TxnSize = txnSize
	cfg.DirectPlacement = true
	cfg.Partitions = partitions(parts)
	cfg.TaskID = "test"
	return cfg
}

func rotatingConfig(batchSize, txnSize int) Config {
	cfg := DefaultConfig()
	cfg.Module = "/transform.sjs"
	cfg.BatchSize = batchSize
	cfg.TxnSize = txnSize
	cfg.TaskID = "test"
	return cfg
}

func newDirectWriter(t *testing.T, src *fakeSource, cfg Config, router placement.Router) (*Writer, *metrics.JobCounters) {
	t.Helper()
	counters := &metrics.JobCounters{}
	w, err := New(src, cfg, router, nil, counters, zap.NewNop().Sugar())
	require.NoError(t, err)
	return w, counters
}

func newRotatingWriter(t *testing.T, src *fakeSource, cfg Config, hosts ...string) (*Writer, *replica.Pool, *metrics.JobCounters) {
	t.Helper()
	pool := replica.NewPool(hosts, nil, nil)
	counters := &metrics.JobCounters{}
	w, err := New(src, cfg, nil, pool, counters, zap.NewNop().Sugar())
	require.NoError(t, err)
	return w, pool, counters
}

func writeN(t *testing.T, w *Writer, from, n int) {
	t.Helper()
	for i := from; i < from+n; i++ {
		require.NoError(t, w.Write(context.Background(), fmt.Sprintf("/doc/%d.xml", i), content.MarkupPayload("<a/>")))
	}
}

func TestNew_Validation(t *testing.T) {
	src := newFakeSource()

	_, err := New(src, directConfig(5, 1, 0), &fixedRouter{}, nil, nil, nil)
	assert.ErrorIs(t, err, ErrNoTargets)

	_, err = New(src, directConfig(5, 1, 2), nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrNoTargets)

	_, err = New(src, rotatingConfig(5, 1), nil, replica.NewPool(nil, nil, nil), nil, nil)
	assert.ErrorIs(t, err, ErrNoTargets)

	cfg := rotatingConfig(5, 1)
	cfg.Encoding = "no-such-charset"
	_, err = New(src, cfg, nil, replica.NewPool([]string{"h"}, nil, nil), nil, nil)
	assert.Error(t, err)
}

func TestWriter_FlushesExactlyAtBatchSize(t *testing.T) {
	src := newFakeSource()
	w, _, _ := newRotatingWriter(t, src, rotatingConfig(5, 1), "h1")

	for i := 0; i < 4; i++ {
		writeN(t, w, i, 1)
		assert.Empty(t, src.submitted(), "no submission before the batch is full")
		assert.Equal(t, i+1, w.slots[0].count)
	}

	writeN(t, w, 4, 1)
	assert.Equal(t, []int{5}, src.batchSizes())
	assert.Equal(t, 0, w.slots[0].count)

	for i := 5; i < 17; i++ {
		writeN(t, w, i, 1)
		assert.LessOrEqual(t, w.slots[0].count, w.BatchSize())
	}
	assert.Equal(t, []int{5, 5, 5}, src.batchSizes())
}

func TestWriter_SevenWritesBatchFive(t *testing.T) {
	src := newFakeSource()
	router := &fixedRouter{partition: 1}
	w, counters := newDirectWriter(t, src, directConfig(5, 1, 3), router)

	writeN(t, w, 0, 7)
	assert.Equal(t, []int{5}, src.batchSizes())
	assert.Equal(t, 7, router.calls, "identifier routing resolves every document")

	require.NoError(t, w.Close(context.Background()))

	assert.Equal(t, []int{5, 2}, src.batchSizes())
	subs := src.submitted()
	assert.Equal(t, "p1", subs[0].target.Partition)
	assert.Equal(t, []string{"/doc/5.xml", "/doc/6.xml"}, subs[1].uris)
	assert.Len(t, subs[1].content, 2, "close binds only the filled prefix")
	assert.Len(t, subs[1].options, 2)

	succeeded, failed := w.Stats()
	assert.Equal(t, int64(7), succeeded)
	assert.Equal(t, int64(0), failed)
	assert.Equal(t, int64(7), counters.Committed())
	assert.Equal(t, int64(0), counters.Failed())
}

func TestWriter_AllDocumentsAccountedFor(t *testing.T) {
	for _, tc := range []struct{ n, batch int }{{0, 3}, {1, 3}, {3, 3}, {23, 4}, {100, 10}} {
		t.Run(fmt.Sprintf("n=%d,b=%d", tc.n, tc.batch), func(t *testing.T) {
			src := newFakeSource()
			w, counters := newDirectWriter(t, src, directConfig(tc.batch, 1, 4), placement.NewLegacy(4))

			writeN(t, w, 0, tc.n)
			require.NoError(t, w.Close(context.Background()))

			assert.Equal(t, int64(tc.n), counters.Committed()+counters.Failed())
			assert.Equal(t, int64(0), counters.Failed())

			total := 0
			for _, size := range src.batchSizes() {
				assert.LessOrEqual(t, size, tc.batch)
				total += size
			}
			assert.Equal(t, tc.n, total)
		})
	}
}

func TestWriter_RequestFailureCountsBatch(t *testing.T) {
	src := newFakeSource()
	src.submitFail[2] = rejected("Invalid document")
	core, logs := observer.New(zapcore.WarnLevel)
	cfg := directConfig(4, 1, 1)
	counters := &metrics.JobCounters{}
	w, err := New(src, cfg, &fixedRouter{}, nil, counters, zap.New(core).Sugar())
	require.NoError(t, err)

	writeN(t, w, 0, 8)
	succeeded, failed := w.Stats()
	assert.Equal(t, int64(4), succeeded)
	assert.Equal(t, int64(4), failed)
	assert.Equal(t, 0, w.slots[0].count)
	assert.Empty(t, w.slots[0].pending)

	// the slot keeps working
	writeN(t, w, 8, 4)
	require.NoError(t, w.Close(context.Background()))

	assert.Equal(t, []int{4, 4, 4}, src.batchSizes())
	assert.Equal(t, int64(8), counters.Committed())
	assert.Equal(t, int64(4), counters.Failed())
	assert.Len(t, src.sessions, 1, "a rejected request does not close the session")

	assert.Equal(t, 1, logs.FilterMessage("XDMP-EVAL: Invalid document").Len())
	failedDocs := logs.FilterMessage("Failed document").All()
	require.Len(t, failedDocs, 1)
	assert.Equal(t, "/doc/7.xml", failedDocs[0].ContextMap()["uri"])
}

func TestWriter_TransportFailureIsFatal(t *testing.T) {
	src := newFakeSource()
	src.submitFail[2] = broken("h1")
	w, counters := newDirectWriter(t, src, directConfig(3, 1, 2), &fixedRouter{partition: 1})

	writeN(t, w, 0, 5)
	err := w.Write(context.Background(), "/doc/5.xml", content.MarkupPayload("<a/>"))
	require.Error(t, err)

	var fatal *FatalError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, 1, fatal.Slot)
	assert.Equal(t, "/doc/5.xml", fatal.URI)
	assert.True(t, session.IsTransportError(err))

	assert.Nil(t, w.slots[1].session, "session must be released")
	require.Len(t, src.sessions, 1)
	assert.True(t, src.sessions[0].closed)

	// no further writes reach the store
	err = w.Write(context.Background(), "/doc/6.xml", content.MarkupPayload("<a/>"))
	assert.ErrorIs(t, err, fatal)
	require.NoError(t, w.Close(context.Background()))
	assert.Equal(t, []int{3, 3}, src.batchSizes())
	assert.Len(t, src.sessions, 1)

	assert.Equal(t, int64(3), counters.Committed())
	assert.Equal(t, int64(3), counters.Failed())
}

func TestWriter_CommitWindow(t *testing.T) {
	src := newFakeSource()
	w, counters := newDirectWriter(t, src, directConfig(2, 3, 1), &fixedRouter{})

	writeN(t, w, 0, 2)
	succeeded, _ := w.Stats()
	assert.Equal(t, int64(0), succeeded, "no success before commit")

	writeN(t, w, 2, 2)
	succeeded, _ = w.Stats()
	assert.Equal(t, int64(0), succeeded)
	assert.Empty(t, src.commits)
	assert.Equal(t, 2, w.slots[0].stmtCount)

	writeN(t, w, 4, 2)
	succeeded, _ = w.Stats()
	assert.Equal(t, int64(6), succeeded, "third submission commits all six")
	assert.Len(t, src.commits, 1)
	assert.Equal(t, 0, w.slots[0].stmtCount)
	assert.Equal(t, session.Update, src.sessions[0].mode)

	writeN(t, w, 6, 3)
	require.NoError(t, w.Close(context.Background()))

	assert.Equal(t, []int{2, 2, 2, 2, 1}, src.batchSizes())
	assert.Len(t, src.commits, 2)
	assert.Equal(t, int64(9), counters.Committed())
	assert.Equal(t, int64(0), counters.Failed())
}

func TestWriter_CommitFailure(t *testing.T) {
	src := newFakeSource()
	src.commitFail[1] = rejected("commit rejected")
	w, counters := newDirectWriter(t, src, directConfig(2, 2, 1), &fixedRouter{})

	writeN(t, w, 0, 6)
	require.NoError(t, w.Close(context.Background()))

	// first window of four fails at commit, the last batch commits at close
	assert.Equal(t, int64(2), counters.Committed())
	assert.Equal(t, int64(4), counters.Failed())
}

func TestWriter_NonTransactionalUsesAutoMode(t *testing.T) {
	src := newFakeSource()
	w, _ := newDirectWriter(t, src, directConfig(2, 1, 1), &fixedRouter{})

	writeN(t, w, 0, 2)
	require.NoError(t, w.Close(context.Background()))
	assert.Equal(t, session.Auto, src.sessions[0].mode)
	assert.Empty(t, src.commits)
}

func TestWriter_HostRotation(t *testing.T) {
	src := newFakeSource()
	w, pool, _ := newRotatingWriter(t, src, rotatingConfig(2, 1), "h1", "h2", "h3")

	writeN(t, w, 0, 6)
	require.NoError(t, w.Close(context.Background()))

	var hosts []string
	for _, s := range src.submitted() {
		hosts = append(hosts, s.target.Host)
	}
	assert.Equal(t, []string{"h1", "h2", "h3"}, hosts)
	assert.Len(t, src.sessions, 3)
	for _, s := range src.sessions {
		assert.True(t, s.closed)
	}
	assert.Equal(t, "h1", pool.Current())
}

func TestWriter_HostRotationWaitsForCommit(t *testing.T) {
	src := newFakeSource()
	w, _, counters := newRotatingWriter(t, src, rotatingConfig(1, 2), "h1", "h2")

	writeN(t, w, 0, 5)
	require.NoError(t, w.Close(context.Background()))

	var hosts []string
	for _, s := range src.submitted() {
		hosts = append(hosts, s.target.Host)
	}
	assert.Equal(t, []string{"h1", "h1", "h2", "h2", "h1"}, hosts)
	assert.Equal(t, []session.Target{{Host: "h1"}, {Host: "h2"}, {Host: "h1"}}, src.commits)
	assert.Equal(t, int64(5), counters.Committed())
}

func TestWriter_CountBasedRouting(t *testing.T) {
	src := newFakeSource()
	router := placement.NewStatistical([]int64{0, 0}, 2)
	w, counters := newDirectWriter(t, src, directConfig(2, 1, 2), router)

	writeN(t, w, 0, 2)
	writeN(t, w, 2, 2)
	writeN(t, w, 4, 1)
	require.NoError(t, w.Close(context.Background()))

	subs := src.submitted()
	require.Len(t, subs, 3)
	assert.Equal(t, "p0", subs[0].target.Partition)
	assert.Equal(t, "p1", subs[1].target.Partition)
	assert.Equal(t, "p0", subs[2].target.Partition)
	assert.Equal(t, []string{"/doc/0.xml", "/doc/1.xml"}, subs[0].uris)
	assert.Equal(t, int64(5), counters.Committed())
}

func TestWriter_CountBasedRoutingAfterRejectedBatch(t *testing.T) {
	src := newFakeSource()
	src.submitFail[1] = rejected("bad batch")
	router := placement.NewStatistical([]int64{0, 0}, 2)
	w, counters := newDirectWriter(t, src, directConfig(2, 1, 2), router)

	writeN(t, w, 0, 2)
	assert.Equal(t, -1, w.cachedSlot, "a rejected batch resets the placement")

	writeN(t, w, 2, 2)
	require.NoError(t, w.Close(context.Background()))

	subs := src.submitted()
	require.Len(t, subs, 2)
	assert.Equal(t, "p0", subs[0].target.Partition)
	assert.Equal(t, "p1", subs[1].target.Partition)
	assert.Equal(t, []int64{2, 2}, router.Counts(), "request failures are not rolled back")
	assert.Equal(t, int64(2), counters.Committed())
	assert.Equal(t, int64(2), counters.Failed())
}

func TestWriter_TransportFailureRollsBackPlacement(t *testing.T) {
	src := newFakeSource()
	src.submitFail[1] = broken("h0")
	router := placement.NewStatistical([]int64{0, 0}, 2)
	w, _ := newDirectWriter(t, src, directConfig(2, 1, 2), router)

	writeN(t, w, 0, 1)
	err := w.Write(context.Background(), "/doc/1.xml", content.MarkupPayload("<a/>"))
	require.Error(t, err)
	assert.Equal(t, []int64{0, 0}, router.Counts())
}

func TestWriter_CloseTransportFailure(t *testing.T) {
	src := newFakeSource()
	src.submitFail[5] = broken("h1")
	w, counters := newDirectWriter(t, src, directConfig(3, 2, 3), &roundRobinRouter{n: 3})

	// each slot flushes one batch and keeps one pending document
	writeN(t, w, 0, 12)
	assert.Len(t, src.submitted(), 3)

	err := w.Close(context.Background())
	require.Error(t, err)
	var fatal *FatalError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, 1, fatal.Slot)
	assert.Equal(t, "/doc/10.xml", fatal.URI)

	for _, s := range src.sessions {
		assert.True(t, s.closed, "every session is closed regardless of outcome")
	}
	assert.Len(t, src.submitted(), 5, "slots after the failure are not flushed")
	assert.Equal(t, []session.Target{{Host: "h0", Partition: "p0"}}, src.commits)
	assert.Equal(t, int64(4), counters.Committed())
	assert.Equal(t, int64(8), counters.Failed())
}

func TestWriter_CloseTransportFailureRollsBackPlacement(t *testing.T) {
	src := newFakeSource()
	src.submitFail[1] = broken("h0")
	router := placement.NewStatistical([]int64{0, 0}, 2)
	w, counters := newDirectWriter(t, src, directConfig(2, 1, 2), router)

	writeN(t, w, 0, 1)
	assert.Equal(t, []int64{2, 0}, router.Counts())

	err := w.Close(context.Background())
	var fatal *FatalError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, 0, fatal.Slot)
	assert.Equal(t, "/doc/0.xml", fatal.URI)

	assert.Equal(t, []int64{0, 0}, router.Counts())
	assert.Equal(t, int64(0), counters.Committed())
	assert.Equal(t, int64(1), counters.Failed())
}

func TestWriter_CloseFlushesHealthySlotsAfterFailure(t *testing.T) {
	src := newFakeSource()
	src.submitFail[1] = broken("h0")
	w, counters := newDirectWriter(t, src, directConfig(2, 1, 2), &roundRobinRouter{n: 2})

	ctx := context.Background()
	writeN(t, w, 0, 2)
	err := w.Write(ctx, "/doc/2.xml", content.MarkupPayload("<a/>"))
	var fatal *FatalError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, 0, fatal.Slot)

	require.NoError(t, w.Close(ctx), "the failure was already returned")

	subs := src.submitted()
	require.Len(t, subs, 2)
	assert.Equal(t, "p1", subs[1].target.Partition)
	assert.Equal(t, []string{"/doc/1.xml"}, subs[1].uris)
	assert.Equal(t, int64(1), counters.Committed())
	assert.Equal(t, int64(2), counters.Failed())
}

func TestWriter_CloseRequestFailureCountsBatch(t *testing.T) {
	src := newFakeSource()
	src.submitFail[1] = rejected("bad")
	w, counters := newDirectWriter(t, src, directConfig(5, 1, 1), &fixedRouter{})

	writeN(t, w, 0, 3)
	require.NoError(t, w.Close(context.Background()))

	assert.Equal(t, int64(0), counters.Committed())
	assert.Equal(t, int64(3), counters.Failed())
}

func TestWriter_CloseRequestFailureDiscardsTransaction(t *testing.T) {
	src := newFakeSource()
	src.submitFail[2] = rejected("bad")
	w, counters := newDirectWriter(t, src, directConfig(2, 3, 1), &fixedRouter{})

	writeN(t, w, 0, 3)
	assert.Equal(t, 1, w.slots[0].stmtCount)
	require.NoError(t, w.Close(context.Background()))

	assert.Empty(t, src.commits, "the open transaction is rolled back, not committed")
	require.Len(t, src.sessions, 1)
	assert.True(t, src.sessions[0].closed)
	assert.Equal(t, int64(0), counters.Committed())
	assert.Equal(t, int64(3), counters.Failed())
}

func TestWriter_LegacyCapability(t *testing.T) {
	src := newFakeSource()
	cfg := directConfig(50, 1, 1)
	cfg.Capability = query.NewCapability(8000000)
	w, counters := newDirectWriter(t, src, cfg, &fixedRouter{})

	assert.Equal(t, 1, w.BatchSize())
	assert.Contains(t, w.Query(), "hadoop:transform-and-insert(")

	writeN(t, w, 0, 3)
	assert.Equal(t, []int{1, 1, 1}, src.batchSizes())
	assert.Equal(t, session.Element, src.submitted()[0].options[0].Type)

	require.NoError(t, w.Close(context.Background()))
	assert.Equal(t, int64(3), counters.Committed())
}

func TestWriter_BindsTypedValues(t *testing.T) {
	src := newFakeSource()
	cfg := directConfig(2, 1, 1)
	cfg.ContentType = content.Mixed
	cfg.Metadata = content.Metadata{Collections: []string{"c1"}, Quality: 2}
	cfg.OutputURIPrefix = "/out/"
	w, _ := newDirectWriter(t, src, cfg, &fixedRouter{})

	ctx := context.Background()
	require.NoError(t, w.Write(ctx, "a.xml", content.BinaryPayload([]byte("<a/>"))))
	require.NoError(t, w.Write(ctx, "/b.png", content.BinaryPayload([]byte{1, 2})))

	subs := src.submitted()
	require.Len(t, subs, 1)
	assert.Equal(t, []string{"/out/a.xml", "/out/b.png"}, subs[0].uris)
	assert.Equal(t, session.NewValue(session.XSString, "<a/>"), subs[0].content[0])
	assert.Equal(t, session.NewValue(session.XSBase64Binary, "AQI="), subs[0].content[1])

	opts, err := content.DecodeOptions(subs[0].options[0])
	require.NoError(t, err)
	assert.Equal(t, "xs:string", opts[content.KeyValueType])
	assert.Equal(t, "c1", opts[content.KeyCollections])
	assert.Equal(t, "2", opts[content.KeyQuality])
}

func TestWriter_EncodingErrorIsReturned(t *testing.T) {
	src := newFakeSource()
	cfg := directConfig(2, 1, 1)
	cfg.ContentType = content.Unknown
	w, _ := newDirectWriter(t, src, cfg, &fixedRouter{})

	err := w.Write(context.Background(), "/a", content.TextPayload("x"))
	var encErr *content.EncodingError
	assert.True(t, errors.As(err, &encErr))
	assert.Equal(t, 0, w.slots[0].count)
}

func TestWriter_PlacementOutOfRange(t *testing.T) {
	src := newFakeSource()
	w, _ := newDirectWriter(t, src, directConfig(2, 1, 2), &fixedRouter{partition: 5})

	err := w.Write(context.Background(), "/a.xml", content.MarkupPayload("<a/>"))
	assert.ErrorIs(t, err, ErrPlacement)
}

func TestWriter_FailedDocumentKeepsPlacement(t *testing.T) {
	src := newFakeSource()
	cfg := directConfig(2, 1, 2)
	cfg.ContentType = content.Binary
	router := placement.NewStatistical([]int64{0, 0}, 2)
	w, _ := newDirectWriter(t, src, cfg, router)

	err := w.Write(context.Background(), "/a.bin", content.MarkupPayload("<a/>"))
	var encErr *content.EncodingError
	require.True(t, errors.As(err, &encErr))
	assert.Equal(t, []int64{0, 0}, router.Counts(), "unencodable documents are never placed")
	assert.Equal(t, -1, w.cachedSlot)

	// a router with more partitions than slots places out of range
	router = placement.NewStatistical([]int64{5, 5, 0}, 2)
	w, _ = newDirectWriter(t, src, directConfig(2, 1, 2), router)
	err = w.Write(context.Background(), "/a.xml", content.MarkupPayload("<a/>"))
	assert.ErrorIs(t, err, ErrPlacement)
	assert.Equal(t, []int64{5, 5, 0}, router.Counts())
	assert.Equal(t, -1, w.cachedSlot)
}

func TestWriter_OpenFailureIsTransport(t *testing.T) {
	src := newFakeSource()
	src.openErr = errors.New("dial tcp: connection refused")
	w, _, counters := newRotatingWriter(t, src, rotatingConfig(1, 1), "h1")

	err := w.Write(context.Background(), "/a.xml", content.MarkupPayload("<a/>"))
	require.Error(t, err)
	assert.True(t, session.IsTransportError(err))

	require.NoError(t, w.Close(context.Background()))
	assert.Equal(t, int64(1), counters.Failed())
}

func TestWriter_CloseReleasesInput(t *testing.T) {
	src := newFakeSource()
	w, _, _ := newRotatingWriter(t, src, rotatingConfig(2, 1), "h1")
	in := &fakeInput{}
	w.SetInput(in)

	require.NoError(t, w.Close(context.Background()))
	assert.True(t, in.closed)
	assert.True(t, in.archiveClosed)

	// second close is a no-op
	require.NoError(t, w.Close(context.Background()))
	assert.ErrorIs(t, w.Write(context.Background(), "/a.xml", content.MarkupPayload("<a/>")), ErrWriterClosed)
}

func TestWriter_SiblingWritersShareCounters(t *testing.T) {
	counters := &metrics.JobCounters{}
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			src := newFakeSource()
			w, err := New(src, directConfig(3, 1, 1), &fixedRouter{}, nil, counters, nil)
			if err != nil {
				t.Error(err)
				return
			}
			for j := 0; j < 10; j++ {
				if err := w.Write(context.Background(), fmt.Sprintf("/t%d/%d.xml", n, j), content.MarkupPayload("<a/>")); err != nil {
					t.Error(err)
				}
			}
			if err := w.Close(context.Background()); err != nil {
				t.Error(err)
			}
		}(i)
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	assert.Equal(t, int64(40), counters.Committed())
}
