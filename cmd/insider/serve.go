package main

import (
	"context"
	"flag"

	"github.com/google/subcommands"

	"github.com/RxDataLab/edgar-insider/internal/server"
)

type serveCmd struct {
	addr string
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "serve the refresh and summary endpoints over HTTP" }
func (*serveCmd) Usage() string {
	return `insider serve [-addr <host:port>]

  Endpoints:
    GET|POST /api/insider/{ticker}/refresh
    GET      /api/insider/refresh?ticker=<ticker>
    GET      /api/insider/{ticker}/summary
    GET      /api/health
    GET      /metrics
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.addr, "addr", "", "Listen address (overrides INSIDER_ADDR and PORT)")
}

func (c *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := openApp(ctx, needs{client: true, metrics: true})
	if err != nil {
		fail("%v", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	addr := a.cfg.Addr
	if c.addr != "" {
		addr = c.addr
	}

	srv := server.New(a.refresher(), a.store,
		server.WithLogger(a.logger),
		server.WithGatherer(a.registry),
		server.WithPinger(a.store),
		server.WithTracerProvider(a.tracing),
	)
	if err := srv.ListenAndServe(ctx, addr); err != nil {
		fail("%v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
