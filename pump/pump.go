// Package pump wires a load job together: it builds a batched writer from
// the job configuration and drives the documents of an input into it.
package pump

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/mevdschee/tqpump/config"
	"github.com/mevdschee/tqpump/placement"
	"github.com/mevdschee/tqpump/query"
	"github.com/mevdschee/tqpump/replica"
	"github.com/mevdschee/tqpump/session"
	"github.com/mevdschee/tqpump/source"
	"github.com/mevdschee/tqpump/writebatch"
)

// Result summarizes a finished load
type Result struct {
	Read      int64
	Succeeded int64
	Failed    int64
}

// WriterConfig maps the job configuration onto a writer configuration
func WriterConfig(cfg *config.Config) writebatch.Config {
	wc := writebatch.DefaultConfig()
	wc.Module = cfg.Transform.Module
	wc.Namespace = cfg.Transform.Namespace
	wc.Function = cfg.Transform.Function
	wc.Param = cfg.Transform.Param
	wc.ContentType = cfg.Output.ContentType
	wc.BatchSize = cfg.Output.BatchSize
	wc.TxnSize = cfg.Output.TxnSize
	wc.Encoding = cfg.Output.Encoding
	wc.Capability = query.NewCapability(cfg.Job.ServerVersion)
	wc.DirectPlacement = cfg.Output.DirectPlacement
	wc.Partitions = cfg.Partitions
	wc.Metadata = cfg.Output.Metadata
	wc.Mimetypes = cfg.Mimetypes
	wc.OutputURIPrefix = cfg.Output.URIPrefix
	wc.TaskID = cfg.Job.TaskID
	return wc
}

// NewWriter builds the writer of a job. With direct placement a router for
// the configured policy spreads documents over the partitions; otherwise
// hosts supplies the rotation.
func NewWriter(cfg *config.Config, src session.Source, hosts *replica.Pool, counters writebatch.Counters, log *zap.SugaredLogger) (*writebatch.Writer, error) {
	wc := WriterConfig(cfg)

	var router placement.Router
	if wc.DirectPlacement {
		var err error
		batchSize := wc.Capability.EffectiveBatchSize(wc.BatchSize)
		router, err = placement.New(cfg.Output.Policy, len(wc.Partitions), batchSize)
		if err != nil {
			return nil, err
		}
	}
	return writebatch.New(src, wc, router, hosts, counters, log)
}

// Run writes every record of r through w and closes both. Rejected batches
// only show up in the result; a read error or a transport failure stops the
// load and is returned after the writer is closed.
func Run(ctx context.Context, w *writebatch.Writer, r source.Reader, log *zap.SugaredLogger) (Result, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	w.SetInput(r)

	var res Result
	var runErr error
	for runErr == nil {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			runErr = fmt.Errorf("read input: %w", err)
			break
		}
		res.Read++
		runErr = w.Write(ctx, rec.URI, rec.Payload)
	}

	// flush what was accepted even when the job was cancelled
	closeErr := w.Close(context.WithoutCancel(ctx))
	res.Succeeded, res.Failed = w.Stats()

	if runErr == nil {
		runErr = closeErr
	}
	if runErr != nil {
		log.Errorw("Load aborted", "read", res.Read, "succeeded", res.Succeeded, "failed", res.Failed, "error", runErr)
		return res, runErr
	}
	log.Infow("Load finished", "read", res.Read, "succeeded", res.Succeeded, "failed", res.Failed)
	return res, nil
}
