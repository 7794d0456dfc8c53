package edgar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CIKLookup resolves a canonical ticker to the CIK stored for it. It returns
// an error wrapping ErrNotFound when no mapping exists.
type CIKLookup interface {
	LookupCIK(ctx context.Context, ticker string) (string, error)
}

// Store is the persistence the refresh pipeline writes to.
type Store interface {
	CIKLookup
	UpsertTransaction(ctx context.Context, tx InsiderTransaction) error
	TransactionsSince(ctx context.Context, ticker string, from time.Time) ([]InsiderTransaction, error)
	UpsertSummary(ctx context.Context, s Summary) error
	// ListTickers returns every ticker with stored transactions or a summary.
	ListTickers(ctx context.Context) ([]string, error)
}

// RefreshResult is what one refresh run reports to its caller.
type RefreshResult struct {
	Ticker         string  `json:"ticker"`
	Inserted       int     `json:"inserted"`
	Filings        int     `json:"filings"`
	SkippedFilings int     `json:"skipped_filings"`
	Buys           int     `json:"buys_90d"`
	Sells          int     `json:"sells_90d"`
	TotalBought    float64 `json:"total_bought_value_90d"`
	TotalSold      float64 `json:"total_sold_value_90d"`
	NetActivity    float64 `json:"net_activity_90d"`
	Verdict        Verdict `json:"verdict"`
	SummaryUpdated bool    `json:"summary_updated"`
}

func (r *RefreshResult) setSummary(s Summary) {
	r.Buys = s.Buys
	r.Sells = s.Sells
	r.TotalBought = s.TotalBought
	r.TotalSold = s.TotalSold
	r.NetActivity = s.NetActivity
	r.Verdict = s.Verdict
}

// Refresher runs the Form 4 ingestion pipeline for one ticker at a time.
// It holds no per-run state; all state lives in the Store.
type Refresher struct {
	client     *Client
	store      Store
	logger     *zap.Logger
	metrics    *Metrics
	tracer     trace.Tracer
	now        func() time.Time
	maxFilings int
	windowDays int
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

func WithLogger(l *zap.Logger) RefresherOption {
	return func(r *Refresher) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithMetrics(m *Metrics) RefresherOption {
	return func(r *Refresher) { r.metrics = m }
}

func WithTracerProvider(tp trace.TracerProvider) RefresherOption {
	return func(r *Refresher) {
		if tp != nil {
			r.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithClock replaces time.Now as the reference for the summary window.
func WithClock(now func() time.Time) RefresherOption {
	return func(r *Refresher) {
		if now != nil {
			r.now = now
		}
	}
}

// WithMaxFilings caps the Form 4 filings processed per run. Zero or less keeps the default.
func WithMaxFilings(n int) RefresherOption {
	return func(r *Refresher) {
		if n > 0 {
			r.maxFilings = n
		}
	}
}

// WithWindowDays sets the trailing summary window. Zero or less keeps the default.
func WithWindowDays(days int) RefresherOption {
	return func(r *Refresher) {
		if days > 0 {
			r.windowDays = days
		}
	}
}

func NewRefresher(client *Client, store Store, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		client:     client,
		store:      store,
		logger:     zap.NewNop(),
		tracer:     otel.Tracer(instrumentationName),
		now:        time.Now,
		maxFilings: DefaultMaxFilings,
		windowDays: DefaultWindowDays,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WindowDays returns the trailing window used for summaries.
func (r *Refresher) WindowDays() int { return r.windowDays }

// Refresh resolves ticker, ingests its most recent Form 4 filings and
// recomputes its summary. Failures scoped to one filing or one transaction
// are logged and skipped; resolver, index and aggregation failures abort the
// run with an *Error.
func (r *Refresher) Refresh(ctx context.Context, ticker string) (res *RefreshResult, err error) {
	start := time.Now()
	ticker = NormalizeTicker(ticker)
	ctx, span := r.tracer.Start(ctx, "refresh", trace.WithAttributes(attribute.String("ticker", ticker)))
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(KindOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		r.metrics.observeRefresh(outcome, time.Since(start))
	}()

	if ticker == "" {
		return nil, newError(KindInvalidInput, "resolve", errors.New("ticker is required"))
	}

	cik, err := r.resolve(ctx, ticker)
	if err != nil {
		return nil, err
	}
	log := r.logger.With(zap.String("ticker", ticker), zap.String("cik", cik.Padded()))

	subs, err := r.fetchSubmissions(ctx, cik)
	if err != nil {
		return nil, err
	}
	recent := subs.RecentArrays()
	if !recent.Aligned() {
		log.Warn("filing index arrays differ in length, ignoring the tail",
			zap.Int("form", len(recent.Form)),
			zap.Int("filing_date", len(recent.FilingDate)),
			zap.Int("accession_number", len(recent.AccessionNumber)),
			zap.Int("primary_document", len(recent.PrimaryDocument)),
		)
	}
	filings := SelectFilings(recent.GetFilings(cik), FormType4, r.maxFilings)
	span.SetAttributes(attribute.Int("filings", len(filings)))

	res = &RefreshResult{Ticker: ticker, Filings: len(filings)}
	for _, f := range filings {
		n, err := r.processFiling(ctx, log, ticker, f)
		res.Inserted += n
		if err != nil {
			res.SkippedFilings++
			r.metrics.filing("skipped")
			log.Warn("skipping filing",
				zap.String("accession", f.AccessionNumber),
				zap.String("kind", string(KindOf(err))),
				zap.Error(err),
			)
			continue
		}
		r.metrics.filing("processed")
	}

	var summary Summary
	if len(filings) == 0 {
		// nothing new: report the existing window without touching the summary row
		summary, err = r.computeSummary(ctx, ticker)
	} else {
		summary, err = r.aggregate(ctx, ticker)
		res.SummaryUpdated = err == nil
	}
	if err != nil {
		return nil, err
	}
	res.setSummary(summary)

	log.Info("refresh complete",
		zap.Int("filings", res.Filings),
		zap.Int("skipped_filings", res.SkippedFilings),
		zap.Int("inserted", res.Inserted),
		zap.String("verdict", string(res.Verdict)),
	)
	return res, nil
}

func (r *Refresher) resolve(ctx context.Context, ticker string) (CIK, error) {
	raw, err := r.store.LookupCIK(ctx, ticker)
	if errors.Is(err, ErrNotFound) {
		return "", newError(KindNotFound, "resolve", fmt.Errorf("no CIK mapping for ticker %s", ticker))
	}
	if err != nil {
		return "", newError(KindUpstreamUnavailable, "resolve", err)
	}
	cik, err := ParseCIK(raw)
	if err != nil {
		return "", newError(KindUpstreamUnavailable, "resolve", fmt.Errorf("stored CIK for %s: %w", ticker, err))
	}
	return cik, nil
}

func (r *Refresher) fetchSubmissions(ctx context.Context, cik CIK) (*Submissions, error) {
	ctx, span := r.tracer.Start(ctx, "fetch_submissions", trace.WithAttributes(attribute.String("cik", cik.Padded())))
	defer span.End()

	subs, err := r.client.FetchSubmissions(ctx, cik)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, newError(KindUpstreamFetchFailed, "fetch submissions", err)
	}
	return subs, nil
}

// processFiling fetches, parses and persists one filing. It returns the number
// of transactions persisted and a non-nil error when the filing was skipped.
func (r *Refresher) processFiling(ctx context.Context, log *zap.Logger, ticker string, f Filing) (int, error) {
	url := r.client.DocumentURL(f)
	ctx, span := r.tracer.Start(ctx, "fetch_document", trace.WithAttributes(
		attribute.String("accession", f.AccessionNumber),
		attribute.String("http.url", url),
	))
	defer span.End()

	filingDate, err := ParseDate(f.FilingDate)
	if err != nil {
		return 0, spanError(span, newError(KindParseFailed, "filing date", err))
	}

	body, err := r.client.FetchDocument(ctx, url)
	if err != nil {
		return 0, spanError(span, newError(KindUpstreamFetchFailed, "fetch document", err))
	}

	doc, err := Parse(body)
	if err != nil {
		return 0, spanError(span, newError(KindParseFailed, "parse document", fmt.Errorf("%s: %w", url, err)))
	}

	txs, skips := NormalizeTransactions(ticker, doc, filingDate)
	for _, s := range skips {
		log.Debug("transaction skipped",
			zap.String("accession", f.AccessionNumber),
			zap.Int("index", s.Index),
			zap.String("code", s.Code),
			zap.String("code_description", TransactionCodeDescription(s.Code)),
			zap.String("reason", string(s.Reason)),
			zap.Error(s.Err),
		)
	}
	r.metrics.transactionsAdd("skipped", len(skips))

	inserted := 0
	for _, tx := range txs {
		if err := r.store.UpsertTransaction(ctx, tx); err != nil {
			perr := newError(KindPersistenceFailed, "upsert transaction", err)
			log.Warn("failed to persist transaction",
				zap.String("accession", f.AccessionNumber),
				zap.String("kind", string(perr.Kind)),
				zap.Error(perr),
			)
			r.metrics.transactionsAdd("failed", 1)
			continue
		}
		inserted++
	}
	r.metrics.transactionsAdd("persisted", inserted)
	span.SetAttributes(attribute.Int("inserted", inserted), attribute.Int("skipped", len(skips)))
	return inserted, nil
}

// spanError marks span as failed with err and returns err.
func spanError(span trace.Span, err *Error) *Error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (r *Refresher) computeSummary(ctx context.Context, ticker string) (Summary, error) {
	now := r.now()
	rows, err := r.store.TransactionsSince(ctx, ticker, WindowStart(now, r.windowDays))
	if err != nil {
		return Summary{}, newError(KindAggregationFailed, "aggregate", err)
	}
	return Summarize(ticker, rows, now, r.windowDays), nil
}

// aggregate recomputes the ticker's summary from stored rows and replaces
// the stored summary with it.
func (r *Refresher) aggregate(ctx context.Context, ticker string) (s Summary, err error) {
	ctx, span := r.tracer.Start(ctx, "aggregate", trace.WithAttributes(attribute.String("ticker", ticker)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	s, err = r.computeSummary(ctx, ticker)
	if err != nil {
		return Summary{}, err
	}
	if err := r.store.UpsertSummary(ctx, s); err != nil {
		return Summary{}, newError(KindAggregationFailed, "save summary", err)
	}
	return s, nil
}
