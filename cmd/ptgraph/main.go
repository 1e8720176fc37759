// Command ptgraph builds and queries the Melbourne public transport graph.
//
// Usage:
//
//	ptgraph [-config file] [-verbose] <command> [flags]
//
// Commands:
//
//	build     load the GTFS feeds, write the snapshot database and the graph
//	graph     rebuild the graph from the snapshot database only
//	validate  check the graph and cross-check it with the snapshot
//	path      shortest path between two stations, by name
//	inspect   dump matching nodes with their outgoing and incoming arcs
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"ptgraph.dev/internal/appconf"
	"ptgraph.dev/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command and returns the process exit code: 0 on success,
// 1 on failure, 2 on a usage error.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("ptgraph", flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", os.Getenv("PTGRAPH_CONFIG"), "path to a YAML configuration file")
	verbose := global.Bool("verbose", false, "enable debug logging")
	global.Usage = func() {
		_, _ = fmt.Fprintln(stderr, "usage: ptgraph [-config file] [-verbose] <command> [flags]")
		_, _ = fmt.Fprintln(stderr, "\ncommands:")
		for _, c := range commands {
			_, _ = fmt.Fprintf(stderr, "  %-9s %s\n", c.name, c.summary)
		}
		_, _ = fmt.Fprintln(stderr, "\nflags:")
		global.PrintDefaults()
	}

	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		global.Usage()
		return 2
	}

	cmd, ok := lookupCommand(global.Arg(0))
	if !ok {
		_, _ = fmt.Fprintf(stderr, "ptgraph: unknown command %q\n", global.Arg(0))
		global.Usage()
		return 2
	}

	cfg, err := appconf.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "ptgraph: %v\n", err)
		return 1
	}
	if *verbose {
		cfg.Verbose = true
	}

	application, err := BuildApplication(cfg, stderr, cmd.snapshots)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "ptgraph: %v\n", err)
		return 1
	}

	err = cmd.run(ctx, application, global.Args()[1:], streams{out: stdout, err: stderr})
	if closeErr := application.Close(); closeErr != nil {
		logging.LogError(application.Logger, "shutdown failed", closeErr)
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp), errors.Is(err, errUsage):
		return 2
	default:
		logging.LogError(application.Logger, cmd.name+" failed", err)
		_, _ = fmt.Fprintf(stderr, "ptgraph %s: %v\n", cmd.name, err)
		return 1
	}
}
