package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/subcommands"

	edgar "github.com/RxDataLab/edgar-insider"
	"github.com/RxDataLab/edgar-insider/internal/config"
)

type parseCmd struct {
	ticker       string
	filingDate   string
	saveOriginal bool
	outputDir    string
}

func (*parseCmd) Name() string     { return "parse" }
func (*parseCmd) Synopsis() string { return "normalize one Form 4 document without storing it" }
func (*parseCmd) Usage() string {
	return `insider parse [-t <ticker>] [-d <filing date>] [-s] <url or file>

  Parses a Form 4 XML document from an EDGAR archive URL or a local file and
  prints the open-market transactions it contains, plus the skipped ones.

Examples:
  insider parse https://www.sec.gov/Archives/edgar/data/.../ownership.xml
  insider parse -t AAPL -d 2025-03-12 ./ownership.xml
`
}

func (c *parseCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.ticker, "t", "", "Ticker to attribute transactions to (default: the issuer trading symbol)")
	f.StringVar(&c.filingDate, "d", "", "Filing date used when a transaction has no date (default: today)")
	f.BoolVar(&c.saveOriginal, "s", false, "Save the fetched XML")
	f.StringVar(&c.outputDir, "o", "./output", "Directory for -s")
}

type parseOutput struct {
	Source       string                     `json:"source"`
	CIK          string                     `json:"cik,omitempty"`
	Accession    string                     `json:"accession,omitempty"`
	Issuer       string                     `json:"issuer"`
	Transactions []edgar.InsiderTransaction `json:"transactions"`
	Skipped      []skippedOutput            `json:"skipped"`
}

type skippedOutput struct {
	Index       int    `json:"index"`
	Code        string `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
	Reason      string `json:"reason"`
}

func (c *parseCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fail("source URL or file path required")
		return subcommands.ExitUsageError
	}
	source := f.Arg(0)

	filingDate := time.Now().UTC().Truncate(24 * time.Hour)
	if c.filingDate != "" {
		d, err := edgar.ParseDate(c.filingDate)
		if err != nil {
			fail("%v", err)
			return subcommands.ExitUsageError
		}
		filingDate = d
	}

	out := parseOutput{Source: source}
	var (
		data []byte
		meta *edgar.FilingMetadata
		err  error
	)
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		if meta, err = edgar.ExtractMetadataFromURL(source); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		data, err = fetchDocument(ctx, source)
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		fail("%v", err)
		return subcommands.ExitFailure
	}

	doc, err := edgar.Parse(data)
	if err != nil {
		fail("failed to parse form: %v", err)
		return subcommands.ExitFailure
	}

	if c.saveOriginal {
		path, err := edgar.SaveOriginal(c.outputDir, meta, data)
		if err != nil {
			fail("%v", err)
			return subcommands.ExitFailure
		}
		fmt.Fprintf(os.Stderr, "Saved original XML: %s\n", path)
	}

	ticker := edgar.NormalizeTicker(c.ticker)
	if ticker == "" {
		ticker = edgar.NormalizeTicker(doc.Issuer.TradingSymbol)
	}
	if meta != nil {
		out.CIK = meta.CIK.Padded()
		out.Accession = meta.Accession
	}
	out.Issuer = edgar.NormalizeName(doc.Issuer.Name)

	txs, skips := edgar.NormalizeTransactions(ticker, doc, filingDate)
	out.Transactions = append([]edgar.InsiderTransaction{}, txs...)
	out.Skipped = make([]skippedOutput, 0, len(skips))
	for _, s := range skips {
		out.Skipped = append(out.Skipped, skippedOutput{
			Index:       s.Index,
			Code:        s.Code,
			Description: edgar.TransactionCodeDescription(s.Code),
			Reason:      string(s.Reason),
		})
	}

	if err := printJSON(out); err != nil {
		fail("%v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// fetchDocument builds a client from configuration alone; parse needs no database.
func fetchDocument(ctx context.Context, url string) ([]byte, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w (set %s or pass -email)", err, config.EnvUserAgent)
	}
	client, err := edgar.NewClient(cfg.UserAgent, edgar.WithRateLimit(cfg.RateLimit))
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(os.Stderr, "Fetching from SEC as %q: %s\n", client.UserAgent(), url)
	return client.FetchDocument(ctx, url)
}
