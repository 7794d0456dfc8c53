package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"

	edgar "github.com/RxDataLab/edgar-insider"
)

type refreshCmd struct{}

func (*refreshCmd) Name() string     { return "refresh" }
func (*refreshCmd) Synopsis() string { return "ingest recent Form 4 filings for one ticker" }
func (*refreshCmd) Usage() string {
	return `insider refresh <ticker>

  Fetches the ticker's most recent Form 4 filings from EDGAR, stores the
  open-market purchases and sales, and prints the refreshed 90-day summary.
`
}

func (*refreshCmd) SetFlags(*flag.FlagSet) {}

func (c *refreshCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fail("exactly one ticker is required")
		return subcommands.ExitUsageError
	}

	a, err := openApp(ctx, needs{client: true})
	if err != nil {
		fail("%v", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	res, err := a.refresher().Refresh(ctx, f.Arg(0))
	if err != nil {
		fail("%v (%s)", err, edgar.KindOf(err))
		if edgar.KindOf(err) == edgar.KindInvalidInput {
			return subcommands.ExitUsageError
		}
		return subcommands.ExitFailure
	}
	if err := printJSON(res); err != nil {
		fail("%v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type refreshAllCmd struct {
	file string
}

func (*refreshAllCmd) Name() string     { return "refresh-all" }
func (*refreshAllCmd) Synopsis() string { return "refresh several tickers in one run" }
func (*refreshAllCmd) Usage() string {
	return `insider refresh-all [-f <file>] [<ticker>...]

  Refreshes each ticker in turn. Tickers come from the arguments, from a file
  with one ticker per line, or, when neither is given, from every ticker
  already in the database. A failing ticker does not stop the batch.
`
}

func (c *refreshAllCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.file, "f", "", "File with one ticker per line ('#' starts a comment)")
}

func (c *refreshAllCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	tickers := f.Args()
	if c.file != "" {
		fromFile, err := readTickerFile(c.file)
		if err != nil {
			fail("%v", err)
			return subcommands.ExitFailure
		}
		tickers = append(tickers, fromFile...)
	}

	a, err := openApp(ctx, needs{client: true})
	if err != nil {
		fail("%v", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	if len(tickers) == 0 {
		if tickers, err = a.store.ListTickers(ctx); err != nil {
			fail("%v", err)
			return subcommands.ExitFailure
		}
	}
	if len(tickers) == 0 {
		fail("no tickers given and none stored")
		return subcommands.ExitUsageError
	}

	batch := a.refresher().RefreshAll(ctx, tickers)
	if err := printJSON(batch.Results); err != nil {
		fail("%v", err)
		return subcommands.ExitFailure
	}
	for _, err := range batch.Errors {
		fmt.Fprintf(os.Stderr, "  %v\n", err)
	}
	if len(batch.Errors) > 0 {
		fail("%d of %d tickers failed", len(batch.Errors), len(batch.Errors)+len(batch.Results))
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func readTickerFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tickers []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line, _, _ := strings.Cut(sc.Text(), "#")
		if t := strings.TrimSpace(line); t != "" {
			tickers = append(tickers, t)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return tickers, nil
}
