package main

import (
	"context"
	"errors"
	"flag"

	"github.com/google/subcommands"

	edgar "github.com/RxDataLab/edgar-insider"
)

type summaryCmd struct{}

func (*summaryCmd) Name() string     { return "summary" }
func (*summaryCmd) Synopsis() string { return "print the stored insider summary of a ticker" }
func (*summaryCmd) Usage() string {
	return `insider summary <ticker>

  Prints the last computed summary without contacting EDGAR.
`
}

func (*summaryCmd) SetFlags(*flag.FlagSet) {}

func (c *summaryCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fail("exactly one ticker is required")
		return subcommands.ExitUsageError
	}

	a, err := openApp(ctx, needs{})
	if err != nil {
		fail("%v", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	sum, err := a.store.GetSummary(ctx, edgar.NormalizeTicker(f.Arg(0)))
	if errors.Is(err, edgar.ErrNotFound) {
		fail("no summary for %s; run 'insider refresh %s' first", f.Arg(0), f.Arg(0))
		return subcommands.ExitFailure
	}
	if err != nil {
		fail("%v", err)
		return subcommands.ExitFailure
	}
	if err := printJSON(sum); err != nil {
		fail("%v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type rebuildCmd struct{}

func (*rebuildCmd) Name() string     { return "rebuild" }
func (*rebuildCmd) Synopsis() string { return "recompute every stored summary" }
func (*rebuildCmd) Usage() string {
	return `insider rebuild

  Recomputes the summary of every ticker in the database from the stored
  transactions, so summaries reflect the current window without refetching.
`
}

func (*rebuildCmd) SetFlags(*flag.FlagSet) {}

func (c *rebuildCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := openApp(ctx, needs{})
	if err != nil {
		fail("%v", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	n, err := a.refresher().RebuildSummaries(ctx)
	if err != nil {
		fail("%v", err)
		return subcommands.ExitFailure
	}
	a.logger.Sugar().Infof("rebuilt %d summaries", n)
	return subcommands.ExitSuccess
}
