// Command insider ingests SEC Form 4 filings and reports insider buying and selling.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	commander.Register(&refreshCmd{}, "insider")
	commander.Register(&refreshAllCmd{}, "insider")
	commander.Register(&rebuildCmd{}, "insider")
	commander.Register(&summaryCmd{}, "insider")
	commander.Register(&seedCmd{}, "setup")
	commander.Register(&serveCmd{}, "server")
	commander.Register(&parseCmd{}, "documents")

	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	status := commander.Execute(ctx)
	stop()
	os.Exit(int(status))
}
