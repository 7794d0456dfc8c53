package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	edgar "github.com/RxDataLab/edgar-insider"
)

type seedCmd struct {
	file string
}

func (*seedCmd) Name() string     { return "seed-cik" }
func (*seedCmd) Synopsis() string { return "load the SEC ticker to CIK mapping" }
func (*seedCmd) Usage() string {
	return `insider seed-cik [-f <file>] [<ticker>...]

  Downloads company_tickers.json from the SEC and stores the ticker to CIK
  mapping. With tickers (arguments or -f) only those are stored.
`
}

func (c *seedCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.file, "f", "", "File with one ticker per line to restrict the mapping to")
}

func (c *seedCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	only := f.Args()
	if c.file != "" {
		fromFile, err := readTickerFile(c.file)
		if err != nil {
			fail("%v", err)
			return subcommands.ExitFailure
		}
		only = append(only, fromFile...)
	}

	a, err := openApp(ctx, needs{client: true})
	if err != nil {
		fail("%v", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	all, err := a.client.FetchCompanyTickers(ctx)
	if err != nil {
		fail("%v", err)
		return subcommands.ExitFailure
	}
	rows, missing := restrictTickers(all, only)
	for _, t := range missing {
		a.logger.Sugar().Warnf("ticker %s is not in the SEC mapping", t)
	}

	n, err := a.store.UpsertCIKMappings(ctx, rows)
	if err != nil {
		fail("%v", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("Stored %d ticker mappings in %s\n", n, a.cfg.DBPath)
	return subcommands.ExitSuccess
}

// restrictTickers keeps the rows whose ticker is in only, reporting the
// requested tickers that had no row. An empty only keeps everything.
func restrictTickers(all []edgar.CompanyTicker, only []string) (rows []edgar.CompanyTicker, missing []string) {
	if len(only) == 0 {
		return all, nil
	}
	want := make(map[string]bool, len(only))
	for _, t := range only {
		want[edgar.NormalizeTicker(t)] = true
	}
	for _, r := range all {
		if want[r.Ticker] {
			rows = append(rows, r)
			delete(want, r.Ticker)
		}
	}
	for _, t := range only {
		if t = edgar.NormalizeTicker(t); want[t] {
			missing = append(missing, t)
			delete(want, t)
		}
	}
	return rows, missing
}
