package edgar

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// BatchResult contains the results of a batch refresh
type BatchResult struct {
	Results []*RefreshResult
	Errors  []error // one per failed ticker, each naming the ticker
}

// Err joins the per-ticker errors, or returns nil when every ticker succeeded.
func (b *BatchResult) Err() error {
	return errors.Join(b.Errors...)
}

// Inserted totals the transactions persisted across the batch.
func (b *BatchResult) Inserted() int {
	n := 0
	for _, r := range b.Results {
		n += r.Inserted
	}
	return n
}

// RefreshAll refreshes each ticker in turn. A failing ticker is recorded and
// the batch moves on; only context cancellation stops it early. Tickers are
// canonicalized and duplicates dropped.
func (r *Refresher) RefreshAll(ctx context.Context, tickers []string) *BatchResult {
	result := &BatchResult{
		Results: make([]*RefreshResult, 0, len(tickers)),
	}

	seen := make(map[string]bool, len(tickers))
	unique := make([]string, 0, len(tickers))
	for _, t := range tickers {
		t = NormalizeTicker(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		unique = append(unique, t)
	}

	for i, t := range unique {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("batch stopped before %s: %w", t, err))
			break
		}

		res, err := r.Refresh(ctx, t)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("%s: %w", t, err))
		} else {
			result.Results = append(result.Results, res)
		}

		if done := i + 1; done%10 == 0 {
			r.logger.Info("batch progress", zap.Int("done", done), zap.Int("total", len(unique)))
		}
	}

	r.logger.Info("batch complete",
		zap.Int("succeeded", len(result.Results)),
		zap.Int("failed", len(result.Errors)),
		zap.Int("inserted", result.Inserted()),
	)
	return result
}

// RebuildSummaries recomputes and stores the summary of every ticker the
// store knows about. Tickers whose transactions have all left the window get
// a neutral summary. Failures are collected; the rest are still rebuilt.
func (r *Refresher) RebuildSummaries(ctx context.Context) (int, error) {
	tickers, err := r.store.ListTickers(ctx)
	if err != nil {
		return 0, newError(KindAggregationFailed, "list tickers", err)
	}

	var errs []error
	rebuilt := 0
	for _, t := range tickers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := r.aggregate(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t, err))
			continue
		}
		rebuilt++
	}

	r.logger.Info("rebuilt summaries", zap.Int("tickers", rebuilt), zap.Int("failed", len(errs)))
	return rebuilt, errors.Join(errs...)
}
