// Package orchestrator downloads the certificate bodies of a domain's new
// issuances in parallel, parses them and stores them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/andres10976/certharvest/internal/jobs"
	"github.com/andres10976/certharvest/internal/metrics"
	"github.com/andres10976/certharvest/internal/model"
	"github.com/andres10976/certharvest/internal/progress"
	"github.com/andres10976/certharvest/internal/repository"
	"github.com/andres10976/certharvest/internal/service/ctlog"
)

type bodyFetcher interface {
	FetchBody(ctx context.Context, iss model.Issuance) ([]byte, error)
}

type executor interface {
	Submit(ctx context.Context, tasks []jobs.Task) jobs.Handle
}

type certStore interface {
	Insert(ctx context.Context, p model.Partition, cert *model.Certificate) error
}

// Result counts what happened to one domain's issuances.
type Result struct {
	Imported      int
	Duplicates    int
	ParseFailures int
	FetchFailures int
}

// Total is the number of records processed: imported plus duplicates.
func (r Result) Total() int { return r.Imported + r.Duplicates }

func (r *Result) Add(o Result) {
	r.Imported += o.Imported
	r.Duplicates += o.Duplicates
	r.ParseFailures += o.ParseFailures
	r.FetchFailures += o.FetchFailures
}

type Orchestrator struct {
	bodies       bodyFetcher
	exec         executor
	store        certStore
	pollInterval time.Duration
	progress     progress.Reporter
	metrics      *metrics.Metrics
	log          *zap.Logger
}

func New(bodies bodyFetcher, exec executor, store certStore, pollInterval time.Duration, rep progress.Reporter, m *metrics.Metrics, log *zap.Logger) *Orchestrator {
	if rep == nil {
		rep = progress.Nop{}
	}
	if m == nil {
		m = metrics.Discard()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Orchestrator{
		bodies:       bodies,
		exec:         exec,
		store:        store,
		pollInterval: pollInterval,
		progress:     rep,
		metrics:      m,
		log:          log,
	}
}

// FetchDomain drains seq, fetches every body as one job group and stores the
// parsed certificates. In dry-run mode nothing is written and parsed
// certificates are counted as imported. Only an error from seq or an
// unreachable store aborts the domain.
func (o *Orchestrator) FetchDomain(ctx context.Context, domain string, seq iter.Seq2[model.Issuance, error], dryRun bool) (Result, error) {
	start := time.Now()
	defer func() { o.metrics.DomainDuration.Observe(time.Since(start).Seconds()) }()

	log := o.log.With(zap.String("domain", domain))

	var tasks []jobs.Task
	for iss, err := range seq {
		if err != nil {
			return Result{}, fmt.Errorf("list new issuances for %s: %w", domain, err)
		}
		tasks = append(tasks, jobs.Task{
			ID: iss.LogID,
			Run: func(ctx context.Context) ([]byte, error) {
				return o.bodies.FetchBody(ctx, iss)
			},
		})
	}
	if len(tasks) == 0 {
		return Result{}, nil
	}

	h := o.exec.Submit(ctx, tasks)
	o.wait(domain, h)

	var res Result
	for _, r := range h.Results() {
		rlog := log.With(zap.Int64("log_id", r.ID))

		if r.Err != nil {
			res.FetchFailures++
			o.metrics.FetchFailures.Inc()
			rlog.Warn("failed to fetch certificate", zap.Error(r.Err))
			continue
		}

		cert, precert, err := ctlog.ParseCertificate(r.Body)
		if err != nil {
			res.ParseFailures++
			o.metrics.ParseFailures.Inc()
			rlog.Warn("failed to parse certificate", zap.Error(err))
			continue
		}
		cert.LogID = r.ID

		partition := model.PartitionCerts
		if precert {
			partition = model.PartitionPrecerts
		}

		if dryRun {
			rlog.Debug("dry run, not stored", zap.String("partition", string(partition)))
			res.Imported++
			continue
		}

		err = o.store.Insert(ctx, partition, cert)
		switch {
		case err == nil:
			res.Imported++
			o.metrics.CertsImported.WithLabelValues(string(partition)).Inc()
		case errors.Is(err, repository.ErrDuplicate), errors.Is(err, repository.ErrAlreadyExists):
			res.Duplicates++
			o.metrics.Duplicates.Inc()
			rlog.Info("certificate already stored",
				zap.String("serial", cert.Serial),
				zap.String("partition", string(partition)),
				zap.Error(err),
			)
		default:
			return res, fmt.Errorf("store certificate %d: %w", r.ID, err)
		}
	}
	return res, nil
}

// wait blocks until the group is done, reporting progress on every tick.
func (o *Orchestrator) wait(domain string, h jobs.Handle) {
	tracker := o.progress.Begin(domain, h.Total())
	defer tracker.Finish()

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.Done():
			tracker.Set(h.Completed())
			return
		case <-ticker.C:
			tracker.Set(h.Completed())
		}
	}
}
