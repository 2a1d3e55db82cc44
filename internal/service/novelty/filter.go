package novelty

import (
	"context"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/andres10976/certharvest/internal/model"
	"github.com/andres10976/certharvest/internal/service/ctlog"
)

type summarySource interface {
	FetchSummary(ctx context.Context, domain string, opts ctlog.SummaryOptions) ([]model.Issuance, error)
}

// knownChecker reports whether a log ID is stored in either partition.
type knownChecker interface {
	ExistsLogID(ctx context.Context, logID int64) (bool, error)
}

// Policy decides which issuances of a domain are considered.
type Policy struct {
	// Issuances whose NotAfter is before Cutoff are dropped. An issuance
	// expiring exactly at Cutoff is kept.
	Cutoff            time.Time
	IncludeSubdomains bool
	IncludeExpired    bool
}

type Filter struct {
	source summarySource
	known  knownChecker
	log    *zap.Logger
}

func New(source summarySource, known knownChecker, log *zap.Logger) *Filter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Filter{source: source, known: known, log: log}
}

// NewIssuances fetches the summary for domain and returns a lazy sequence of
// issuances that are neither expired nor already stored. Each log ID is
// yielded at most once per call. A storage error is yielded as the final
// element. The sequence can be ranged over once.
func (f *Filter) NewIssuances(ctx context.Context, domain string, p Policy) (iter.Seq2[model.Issuance, error], error) {
	summary, err := f.source.FetchSummary(ctx, domain, ctlog.SummaryOptions{
		IncludeSubdomains: p.IncludeSubdomains,
		IncludeExpired:    p.IncludeExpired,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch summary for %s: %w", domain, err)
	}
	f.log.Debug("summary fetched", zap.String("domain", domain), zap.Int("entries", len(summary)))

	consumed := false
	return func(yield func(model.Issuance, error) bool) {
		if consumed {
			return
		}
		consumed = true

		seen := make(map[int64]struct{}, len(summary))
		for _, iss := range summary {
			log := f.log.With(zap.Int64("log_id", iss.LogID), zap.Time("not_after", iss.NotAfter))

			if iss.NotAfter.Before(p.Cutoff) {
				log.Debug("too old")
				continue
			}
			if _, dup := seen[iss.LogID]; dup {
				log.Debug("duplicate")
				continue
			}
			seen[iss.LogID] = struct{}{}

			exists, err := f.known.ExistsLogID(ctx, iss.LogID)
			if err != nil {
				yield(model.Issuance{}, fmt.Errorf("check log id %d: %w", iss.LogID, err))
				return
			}
			if exists {
				log.Debug("duplicate")
				continue
			}

			log.Debug("will import")
			if !yield(iss, nil) {
				return
			}
		}
	}, nil
}
