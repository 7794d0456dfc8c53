package edgar_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	edgar "github.com/RxDataLab/edgar-insider"
	"github.com/RxDataLab/edgar-insider/internal/store"
)

var testNow = time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC)

type indexEntry struct {
	accession, date, form, doc string
}

// fakeSEC serves a submissions index for one CIK and the archive documents it
// points to, counting document fetches.
type fakeSEC struct {
	*httptest.Server

	mu        sync.Mutex
	cik       string
	index     []indexEntry
	docs      map[string][]byte // archive path -> body
	fetches   map[string]int
	indexCode int
}

func newFakeSEC(t *testing.T, cik string) *fakeSEC {
	f := &fakeSEC{cik: cik, docs: map[string][]byte{}, fetches: map[string]int{}}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeSEC) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("User-Agent") != testUserAgent {
		http.Error(w, "missing user agent", http.StatusForbidden)
		return
	}
	if strings.HasPrefix(r.URL.Path, "/submissions/") {
		if f.indexCode != 0 {
			w.WriteHeader(f.indexCode)
			return
		}
		if r.URL.Path != fmt.Sprintf("/submissions/CIK%s.json", f.cik) {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(f.submissions())
		return
	}
	f.fetches[r.URL.Path]++
	body, ok := f.docs[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Write(body)
}

func (f *fakeSEC) submissions() map[string]any {
	recent := map[string][]string{}
	for _, e := range f.index {
		recent["accessionNumber"] = append(recent["accessionNumber"], e.accession)
		recent["filingDate"] = append(recent["filingDate"], e.date)
		recent["form"] = append(recent["form"], e.form)
		recent["primaryDocument"] = append(recent["primaryDocument"], "xslF345X05/"+e.doc)
	}
	return map[string]any{
		"cik":     strings.TrimLeft(f.cik, "0"),
		"name":    "ACME ROBOTICS INC",
		"filings": map[string]any{"recent": recent},
	}
}

// add lists a filing in the index and serves body (when non-nil) at its archive path.
func (f *fakeSEC) add(e indexEntry, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.index = append(f.index, e)
	if body != nil {
		f.docs[f.archivePath(e)] = body
	}
}

func (f *fakeSEC) archivePath(e indexEntry) string {
	return fmt.Sprintf("/Archives/edgar/data/%s/%s/%s",
		strings.TrimLeft(f.cik, "0"), strings.ReplaceAll(e.accession, "-", ""), e.doc)
}

func (f *fakeSEC) documentFetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.fetches {
		n += c
	}
	return n
}

func golden(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/form4/" + name + "/input.xml")
	require.NoError(t, err)
	return data
}

type pipelineEnv struct {
	sec       *fakeSEC
	client    *edgar.Client
	metrics   *edgar.Metrics
	store     *store.SQLite
	refresher *edgar.Refresher
	registry  *prometheus.Registry
}

func newPipelineEnv(t *testing.T, opts ...edgar.RefresherOption) *pipelineEnv {
	t.Helper()
	ctx := context.Background()

	sec := newFakeSEC(t, "0000320193")
	client, err := edgar.NewClient(testUserAgent, edgar.WithRateLimit(0), edgar.WithBaseURLs(sec.URL, sec.URL))
	require.NoError(t, err)

	db, err := store.Open(ctx, store.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.UpsertCIKMappings(ctx, []edgar.CompanyTicker{{CIK: "320193", Ticker: "ACME", Title: "Acme Robotics, Inc."}})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics, err := edgar.NewMetrics(reg)
	require.NoError(t, err)

	opts = append([]edgar.RefresherOption{
		edgar.WithLogger(zaptest.NewLogger(t)),
		edgar.WithMetrics(metrics),
		edgar.WithClock(func() time.Time { return testNow }),
	}, opts...)

	return &pipelineEnv{
		sec:       sec,
		client:    client,
		metrics:   metrics,
		store:     db,
		refresher: edgar.NewRefresher(client, db, opts...),
		registry:  reg,
	}
}

// over builds a refresher that writes through s instead of the plain store.
func (env *pipelineEnv) over(t *testing.T, s edgar.Store) *edgar.Refresher {
	return edgar.NewRefresher(env.client, s,
		edgar.WithLogger(zaptest.NewLogger(t)),
		edgar.WithMetrics(env.metrics),
		edgar.WithClock(func() time.Time { return testNow }),
	)
}

// faultyStore fails selected writes and reads of the SQLite store it wraps.
type faultyStore struct {
	*store.SQLite
	failUpserts int // number of transaction upserts to fail, from the first
	sinceErr    error
	summaryErr  error
}

func (s *faultyStore) UpsertTransaction(ctx context.Context, tx edgar.InsiderTransaction) error {
	if s.failUpserts > 0 {
		s.failUpserts--
		return errors.New("disk I/O error")
	}
	return s.SQLite.UpsertTransaction(ctx, tx)
}

func (s *faultyStore) TransactionsSince(ctx context.Context, ticker string, from time.Time) ([]edgar.InsiderTransaction, error) {
	if s.sinceErr != nil {
		return nil, s.sinceErr
	}
	return s.SQLite.TransactionsSince(ctx, ticker, from)
}

func (s *faultyStore) UpsertSummary(ctx context.Context, sum edgar.Summary) error {
	if s.summaryErr != nil {
		return s.summaryErr
	}
	return s.SQLite.UpsertSummary(ctx, sum)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestRefreshIngestsFilingsAndSummarizes(t *testing.T) {
	ctx := context.Background()
	env := newPipelineEnv(t)

	env.sec.add(indexEntry{"0000320193-25-000040", "2025-03-14", "4", "trades.xml"}, golden(t, "plural_market_trades"))
	env.sec.add(indexEntry{"0000320193-25-000039", "2025-03-13", "10-Q", "acme-10q.htm"}, nil)
	env.sec.add(indexEntry{"0000320193-25-000038", "2025-03-13", "4", "broken.xml"}, []byte("<ownershipDocument><documentType>4"))
	env.sec.add(indexEntry{"0000320193-25-000037", "2025-03-12", "4", "sale.xml"}, golden(t, "single_sale_no_price"))
	env.sec.add(indexEntry{"0000320193-25-000036", "2025-01-21", "4", "latin1.xml"}, golden(t, "latin1_encoding"))
	env.sec.add(indexEntry{"0000320193-25-000035", "2025-01-20", "4", "missing.xml"}, nil)

	res, err := env.refresher.Refresh(ctx, " acme ")
	require.NoError(t, err)

	assert.Equal(t, &edgar.RefreshResult{
		Ticker:         "ACME",
		Inserted:       4,
		Filings:        5,
		SkippedFilings: 2,
		Buys:           2,
		Sells:          2,
		TotalBought:    12790,
		TotalSold:      25312.5,
		NetActivity:    -12522.5,
		Verdict:        edgar.Distributing,
		SummaryUpdated: true,
	}, res)
	assert.Equal(t, 5, env.sec.documentFetches(), "the 10-Q is never fetched")

	rows, err := env.store.TransactionsSince(ctx, "ACME", time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 4)
	for _, r := range rows {
		assert.Contains(t, []edgar.TransactionType{edgar.Buy, edgar.Sell}, r.Type)
		assert.Equal(t, "ACME", r.Ticker)
	}

	sale := rows[0]
	assert.Equal(t, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC), sale.TransactionDate, "undated row takes the filing date")
	assert.Nil(t, sale.PricePerShare)
	assert.Nil(t, sale.TotalValue)

	stored, err := env.store.GetSummary(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, edgar.Distributing, stored.Verdict)
	assert.Equal(t, -12522.5, stored.NetActivity)
	assert.True(t, stored.UpdatedAt.Equal(testNow))

	assert.Equal(t, 1.0, counterValue(t, env.registry, "insider_refreshes_total", "outcome", "ok"))
	assert.Equal(t, 3.0, counterValue(t, env.registry, "insider_filings_total", "result", "processed"))
	assert.Equal(t, 2.0, counterValue(t, env.registry, "insider_filings_total", "result", "skipped"))
	assert.Equal(t, 4.0, counterValue(t, env.registry, "insider_transactions_total", "result", "persisted"))
}

func TestRefreshIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newPipelineEnv(t)
	env.sec.add(indexEntry{"0000320193-25-000040", "2025-03-14", "4", "trades.xml"}, golden(t, "plural_market_trades"))

	first, err := env.refresher.Refresh(ctx, "ACME")
	require.NoError(t, err)
	second, err := env.refresher.Refresh(ctx, "ACME")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	n, err := env.store.CountTransactions(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRefreshWithoutForm4Filings(t *testing.T) {
	ctx := context.Background()
	env := newPipelineEnv(t)
	env.sec.add(indexEntry{"0000320193-25-000039", "2025-03-13", "10-Q", "acme-10q.htm"}, nil)
	env.sec.add(indexEntry{"0000320193-25-000030", "2025-03-01", "4/A", "amend.xml"}, golden(t, "plural_market_trades"))

	res, err := env.refresher.Refresh(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 0, res.Filings)
	assert.Equal(t, edgar.Neutral, res.Verdict)
	assert.False(t, res.SummaryUpdated)
	assert.Zero(t, env.sec.documentFetches())

	_, err = env.store.GetSummary(ctx, "ACME")
	assert.ErrorIs(t, err, edgar.ErrNotFound, "an empty run leaves the summary table alone")
}

func TestRefreshCapsFilings(t *testing.T) {
	ctx := context.Background()
	env := newPipelineEnv(t)
	doc := golden(t, "plural_market_trades")
	for i := 0; i < 14; i++ {
		env.sec.add(indexEntry{fmt.Sprintf("0000320193-25-%06d", 100-i), "2025-03-14", "4", "doc4.xml"}, doc)
	}

	res, err := env.refresher.Refresh(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, edgar.DefaultMaxFilings, res.Filings)
	assert.Equal(t, edgar.DefaultMaxFilings, env.sec.documentFetches())

	// every filing carries the same trades, so the natural key collapses them
	n, err := env.store.CountTransactions(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2*edgar.DefaultMaxFilings, res.Inserted)
}

func TestRefreshMaxFilingsOption(t *testing.T) {
	env := newPipelineEnv(t, edgar.WithMaxFilings(2))
	doc := golden(t, "plural_market_trades")
	for i := 0; i < 5; i++ {
		env.sec.add(indexEntry{fmt.Sprintf("0000320193-25-%06d", 100-i), "2025-03-14", "4", "doc4.xml"}, doc)
	}

	res, err := env.refresher.Refresh(context.Background(), "ACME")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Filings)
	assert.Equal(t, 2, env.sec.documentFetches())
}

func TestRefreshWindowExcludesOldTrades(t *testing.T) {
	env := newPipelineEnv(t, edgar.WithWindowDays(30))
	env.sec.add(indexEntry{"0000320193-25-000036", "2025-01-21", "4", "latin1.xml"}, golden(t, "latin1_encoding"))

	res, err := env.refresher.Refresh(context.Background(), "ACME")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted, "stored even though it is outside the window")
	assert.Equal(t, 0, res.Buys)
	assert.Equal(t, edgar.Neutral, res.Verdict)
	assert.Equal(t, 30, env.refresher.WindowDays())
}

func TestRefreshIndexFailure(t *testing.T) {
	env := newPipelineEnv(t)
	env.sec.indexCode = http.StatusInternalServerError

	res, err := env.refresher.Refresh(context.Background(), "ACME")
	assert.Nil(t, res)
	assert.Equal(t, edgar.KindUpstreamFetchFailed, edgar.KindOf(err))

	var statusErr *edgar.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.Equal(t, 1.0, counterValue(t, env.registry, "insider_refreshes_total", "outcome", "UpstreamFetchFailed"))
}

func TestRefreshInvalidTicker(t *testing.T) {
	env := newPipelineEnv(t)

	_, err := env.refresher.Refresh(context.Background(), "   ")
	assert.Equal(t, edgar.KindInvalidInput, edgar.KindOf(err))
	assert.ErrorIs(t, err, &edgar.Error{Kind: edgar.KindInvalidInput})
}

// recordingStore fails every lookup the way it is told to and records every
// other call, which should never happen.
type recordingStore struct {
	lookupErr error
	cik       string
	calls     []string
}

func (s *recordingStore) LookupCIK(ctx context.Context, ticker string) (string, error) {
	return s.cik, s.lookupErr
}

func (s *recordingStore) UpsertTransaction(ctx context.Context, tx edgar.InsiderTransaction) error {
	s.calls = append(s.calls, "UpsertTransaction")
	return nil
}

func (s *recordingStore) TransactionsSince(ctx context.Context, ticker string, from time.Time) ([]edgar.InsiderTransaction, error) {
	s.calls = append(s.calls, "TransactionsSince")
	return nil, nil
}

func (s *recordingStore) UpsertSummary(ctx context.Context, sum edgar.Summary) error {
	s.calls = append(s.calls, "UpsertSummary")
	return nil
}

func (s *recordingStore) ListTickers(ctx context.Context) ([]string, error) {
	s.calls = append(s.calls, "ListTickers")
	return nil, nil
}

func TestRefreshResolutionFailures(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.NotFound(w, r)
	}))
	defer srv.Close()
	client, err := edgar.NewClient(testUserAgent, edgar.WithBaseURLs(srv.URL, srv.URL))
	require.NoError(t, err)

	tests := []struct {
		name  string
		store *recordingStore
		want  edgar.Kind
	}{
		{"unknown ticker", &recordingStore{lookupErr: fmt.Errorf("ticker ZZZZ: %w", edgar.ErrNotFound)}, edgar.KindNotFound},
		{"store unavailable", &recordingStore{lookupErr: errors.New("database is locked")}, edgar.KindUpstreamUnavailable},
		{"corrupt mapping", &recordingStore{cik: "not-a-cik"}, edgar.KindUpstreamUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := edgar.NewRefresher(client, tt.store)
			_, err := r.Refresh(context.Background(), "ZZZZ")
			assert.Equal(t, tt.want, edgar.KindOf(err))
			assert.Empty(t, tt.store.calls)
		})
	}
	assert.Zero(t, hits, "no upstream calls before the ticker resolves")
}

func TestRefreshAllAndRebuild(t *testing.T) {
	ctx := context.Background()
	env := newPipelineEnv(t)
	env.sec.add(indexEntry{"0000320193-25-000040", "2025-03-14", "4", "trades.xml"}, golden(t, "plural_market_trades"))

	batch := env.refresher.RefreshAll(ctx, []string{"acme", "ACME", "", "NOPE"})
	require.Len(t, batch.Results, 1)
	assert.Equal(t, 2, batch.Inserted())
	require.Len(t, batch.Errors, 1)
	assert.ErrorIs(t, batch.Err(), &edgar.Error{Kind: edgar.KindNotFound})
	assert.Contains(t, batch.Err().Error(), "NOPE")

	// a stale ticker with only an old summary is rebuilt to neutral
	require.NoError(t, env.store.UpsertSummary(ctx, edgar.Summary{
		Ticker: "OLD", Buys: 3, TotalBought: 900, NetActivity: 900,
		Verdict: edgar.Accumulating, UpdatedAt: testNow.AddDate(0, -6, 0),
	}))

	n, err := env.refresher.RebuildSummaries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	old, err := env.store.GetSummary(ctx, "OLD")
	require.NoError(t, err)
	assert.Equal(t, edgar.Neutral, old.Verdict)
	assert.Zero(t, old.Buys)

	acme, err := env.store.GetSummary(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, edgar.Distributing, acme.Verdict)
}

func TestRefreshAllStopsOnCancel(t *testing.T) {
	env := newPipelineEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch := env.refresher.RefreshAll(ctx, []string{"ACME", "OTHER"})
	assert.Empty(t, batch.Results)
	require.Len(t, batch.Errors, 1)
	assert.ErrorIs(t, batch.Err(), context.Canceled)
}

func TestRefreshContinuesPastFailedUpsert(t *testing.T) {
	ctx := context.Background()
	env := newPipelineEnv(t)
	env.sec.add(indexEntry{"0000320193-25-000040", "2025-03-14", "4", "trades.xml"}, golden(t, "plural_market_trades"))

	res, err := env.over(t, &faultyStore{SQLite: env.store, failUpserts: 1}).Refresh(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted, "the failed row is not counted")
	assert.Equal(t, 1, res.Filings)
	assert.Zero(t, res.SkippedFilings)
	assert.True(t, res.SummaryUpdated)

	n, err := env.store.CountTransactions(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1.0, counterValue(t, env.registry, "insider_transactions_total", "result", "failed"))
	assert.Equal(t, 1.0, counterValue(t, env.registry, "insider_transactions_total", "result", "persisted"))
}

func TestRefreshAggregationFailures(t *testing.T) {
	tests := []struct {
		name     string
		store    func(*store.SQLite) *faultyStore
		noFiling bool
	}{
		{
			name:  "window query fails",
			store: func(db *store.SQLite) *faultyStore { return &faultyStore{SQLite: db, sinceErr: errors.New("database is locked")} },
		},
		{
			name:  "summary write fails",
			store: func(db *store.SQLite) *faultyStore { return &faultyStore{SQLite: db, summaryErr: errors.New("database is locked")} },
		},
		{
			name:     "window query fails without filings",
			store:    func(db *store.SQLite) *faultyStore { return &faultyStore{SQLite: db, sinceErr: errors.New("database is locked")} },
			noFiling: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			env := newPipelineEnv(t)
			if !tt.noFiling {
				env.sec.add(indexEntry{"0000320193-25-000040", "2025-03-14", "4", "trades.xml"}, golden(t, "plural_market_trades"))
			}

			res, err := env.over(t, tt.store(env.store)).Refresh(ctx, "ACME")
			assert.Nil(t, res)
			assert.Equal(t, edgar.KindAggregationFailed, edgar.KindOf(err))
			assert.Contains(t, err.Error(), "database is locked")

			_, err = env.store.GetSummary(ctx, "ACME")
			assert.ErrorIs(t, err, edgar.ErrNotFound)
		})
	}
}

func TestSkippedFilingSpanIsErrored(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	env := newPipelineEnv(t, edgar.WithTracerProvider(tp))
	env.sec.add(indexEntry{"0000320193-25-000040", "2025-03-14", "4", "trades.xml"}, golden(t, "plural_market_trades"))
	env.sec.add(indexEntry{"0000320193-25-000038", "2025-03-13", "4", "broken.xml"}, []byte("<ownershipDocument><documentType>4"))
	env.sec.add(indexEntry{"0000320193-25-000037", "2025-03-13", "4", "missing.xml"}, nil)

	_, err := env.refresher.Refresh(context.Background(), "ACME")
	require.NoError(t, err)

	statuses := map[string]codes.Code{}
	for _, s := range recorder.Ended() {
		if s.Name() != "fetch_document" {
			continue
		}
		for _, a := range s.Attributes() {
			if a.Key == "accession" {
				statuses[a.Value.AsString()] = s.Status().Code
			}
		}
	}
	assert.Equal(t, map[string]codes.Code{
		"0000320193-25-000040": codes.Unset,
		"0000320193-25-000038": codes.Error,
		"0000320193-25-000037": codes.Error,
	}, statuses)
}

func TestRefreshAllProgressCountsUniqueTickers(t *testing.T) {
	env := newPipelineEnv(t)
	core, logs := observer.New(zapcore.InfoLevel)
	r := edgar.NewRefresher(env.client, env.store, edgar.WithLogger(zap.New(core)))

	tickers := []string{"", "t0", "T0", " "}
	for i := 0; i < 10; i++ {
		tickers = append(tickers, fmt.Sprintf("T%d", i))
	}

	batch := r.RefreshAll(context.Background(), tickers)
	assert.Len(t, batch.Errors, 10, "every unknown ticker fails on its own")

	progress := logs.FilterMessage("batch progress").All()
	require.Len(t, progress, 1)
	assert.Equal(t, int64(10), progress[0].ContextMap()["done"])
	assert.Equal(t, int64(10), progress[0].ContextMap()["total"])
}
