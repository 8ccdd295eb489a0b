// Command gcbench drives a collection plan with synthetic mutator
// workloads and reports collection statistics.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/orizon-lang/gckit/internal/cli"
	"github.com/orizon-lang/gckit/internal/gclog"
	"github.com/orizon-lang/gckit/internal/options"
	"github.com/orizon-lang/gckit/internal/simvm"
	"github.com/orizon-lang/gckit/internal/stats"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		showHelp    = flag.Bool("help", false, "show help information")
		jsonOutput  = flag.Bool("json", false, "output version in JSON format")
		optString   = flag.String("options", "", "collector options, e.g. \"plan=gencopy heapSize=32MB\"")
		configFile  = flag.String("config", "", "YAML options file")
		watch       = flag.Bool("watch", false, "reload the verbosity from -config while running")
		workload    = flag.String("workload", "alloc", "workload: alloc, cycle, largealloc")
		mutators    = flag.Int("mutators", 1, "number of mutator threads")
		iterations  = flag.Int("iterations", 100000, "allocations per mutator")
		live        = flag.Int("live", 256, "objects each mutator keeps reachable")
		metricsAddr = flag.String("metrics", "", "serve /metrics on this address while running")
		results     = flag.String("results", "", "append a JSON result line to this file")
		census      = flag.Bool("census", false, "print a heap census after the run")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Run a synthetic workload against a garbage collection plan.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nWORKLOADS:\n")
		fmt.Fprintf(os.Stderr, "  alloc       Short-lived objects with a window of survivors (default)\n")
		fmt.Fprintf(os.Stderr, "  cycle       Garbage cycles, for trial deletion\n")
		fmt.Fprintf(os.Stderr, "  largealloc  Large objects; checks that space accounting does not leak\n")
		fmt.Fprintf(os.Stderr, "\nEXAMPLES:\n")
		fmt.Fprintf(os.Stderr, "  %s -options \"plan=genms nurserySize=1MB verbose=1\"\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -options plan=rc -workload cycle -mutators 4\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config gc.yaml -watch -metrics :9090\n", os.Args[0])
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if *showVersion {
		cli.PrintVersion("gcbench", *jsonOutput)
		os.Exit(0)
	}

	opts, err := cli.LoadOptions(*configFile, *optString)
	if err != nil {
		cli.ExitWithError("%v", err)
	}
	w, ok := workloads[*workload]
	if !ok {
		cli.ExitWithError("unknown workload %q", *workload)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	b := &bench{
		opts:       opts,
		log:        gclog.NewStderr(opts.Verbose),
		workload:   w,
		name:       *workload,
		mutators:   *mutators,
		iterations: *iterations,
		live:       *live,
	}
	if *watch && *configFile != "" {
		ow, err := options.Watch(*configFile, opts)
		if err != nil {
			cli.ExitWithError("watch %s: %v", *configFile, err)
		}
		defer ow.Close()
		go b.follow(ctx, ow)
	}

	res, err := b.run(ctx, func(v *simvm.VM) (func(), error) {
		if *metricsAddr == "" {
			return func() {}, nil
		}
		addr, shutdown, err := stats.StartMetricsServer(*metricsAddr, map[string]stats.MetricFunc{
			"gc": v.Plan().Base().Stats().Snapshot,
		})
		if err != nil {
			return nil, err
		}
		b.log.Logf(gclog.PerGC, "serving metrics on http://%s/metrics", addr)
		return func() {
			sctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}, nil
	}, *census)
	if err != nil {
		cli.ExitWithError("%s: %v", *workload, err)
	}

	res.print(os.Stdout)
	if *results != "" {
		if err := appendResult(*results, res); err != nil {
			cli.ExitWithError("results: %v", err)
		}
	}
}

// follow applies verbosity changes from the options file.
func (b *bench) follow(ctx context.Context, ow *options.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-ow.Updates():
			b.log.SetVerbosity(o.Verbose)
			b.log.Logf(gclog.PerGC, "verbosity set to %d", o.Verbose)
		case err := <-ow.Errors():
			b.log.Warnf("options reload: %v", err)
		}
	}
}
