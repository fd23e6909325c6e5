// Command gcstress runs an allocation workload against the object memory
// and prints the collector statistics.
//
//	gcstress -mutators 8 -iterations 200000 -gc "young_bytes=4MB concurrent=false"
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/tinygo-org/objectmemory/config"
	"github.com/tinygo-org/objectmemory/memory"
	"github.com/tinygo-org/objectmemory/metrics"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: gcstress [flags]")
	fmt.Fprintln(os.Stderr)
	flag.PrintDefaults()
}

// handleError prints the error and exits with a non-zero status.
func handleError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "gcstress:", err)
	os.Exit(1)
}

// output returns stdout, with ANSI escapes translated where the terminal
// needs it, and whether it is a terminal.
func output() (io.Writer, bool) {
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return colorable.NewColorableStdout(), true
	}
	return os.Stdout, false
}

func heading(w io.Writer, color bool, text string) {
	if color {
		fmt.Fprintf(w, "\x1b[1;36m%s\x1b[0m\n", text)
		return
	}
	fmt.Fprintln(w, text)
}

func main() {
	flag.Usage = usage
	configPath := flag.String("config", "", "load the collector configuration from a YAML file")
	options := flag.String("gc", "", "collector settings as key=value pairs, applied after -config")
	verbose := flag.Bool("v", false, "log every collection")
	stress := flag.Bool("stress", false, "collect at every opportunity")
	interactive := flag.Bool("interactive", false, "read collection commands from the terminal")
	dumpPath := flag.String("dump", "", "write a heap dump to this file when done")
	var w workload
	flag.IntVar(&w.mutators, "mutators", 4, "number of mutator threads")
	flag.IntVar(&w.iterations, "iterations", 100000, "allocations per mutator")
	flag.IntVar(&w.live, "live", 1000, "objects each mutator keeps alive")
	flag.IntVar(&w.largeEvery, "large-every", 500, "allocate a large object every N iterations, 0 to disable")
	flag.IntVar(&w.lockEvery, "lock-every", 50, "lock the shared object every N iterations, 0 to disable")
	flag.IntVar(&w.finalizeEvery, "finalize-every", 1000, "register a finalizer every N iterations, 0 to disable")
	flag.IntVar(&w.codeEvery, "code-every", 0, "attach machine code to an object every N iterations, 0 to disable")
	flag.Parse()
	if flag.NArg() != 0 {
		usage()
		os.Exit(2)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		handleError(err)
	}
	handleError(config.ParseOptions(&cfg, *options))
	if *stress {
		cfg.Stress = true
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	om, err := memory.New(cfg, memory.WithLogger(logger))
	handleError(err)
	m := om.NewMutator()

	var stop chan struct{}
	var commands sync.WaitGroup
	if *interactive {
		stop = make(chan struct{})
		commands.Add(1)
		go func() {
			defer commands.Done()
			handleError(runCommands(om, logger, stop))
		}()
	}

	start := time.Now()
	var result workloadResult
	m.Blocking(func() {
		result = w.run(om, logger)
	})
	elapsed := time.Since(start)
	if stop != nil {
		close(stop)
		m.Blocking(commands.Wait)
	}
	handleError(result.err)

	if *dumpPath != "" {
		handleError(om.WriteHeapDumpFile(m, *dumpPath))
		logger.Info("heap dump written", slog.String("path", *dumpPath))
	}
	m.Close()

	out, color := output()
	heading(out, color, "workload")
	fmt.Fprintf(out, "%d mutators, %d allocations, %d finalized, %d lock timeouts in %v\n",
		w.mutators, result.allocations, result.finalized, result.lockTimeouts, elapsed.Round(time.Millisecond))
	heading(out, color, "object memory")
	d := om.Diagnostics()
	d.WriteTo(out)
	heading(out, color, "metrics")
	writeMetrics(out, om)
}

func writeMetrics(w io.Writer, src metrics.Source) {
	all := metrics.All()
	samples := make([]metrics.Sample, len(all))
	for i := range all {
		samples[i].Name = all[i].Name
	}
	metrics.Read(src, samples)
	for _, s := range samples {
		switch s.Value.Kind() {
		case metrics.KindUint64:
			fmt.Fprintf(w, "%-32s %d\n", s.Name, s.Value.Uint64())
		case metrics.KindFloat64:
			fmt.Fprintf(w, "%-32s %g\n", s.Name, s.Value.Float64())
		case metrics.KindFloat64Histogram:
			h := s.Value.Float64Histogram()
			fmt.Fprintf(w, "%-32s %v\n", s.Name, h.Counts)
		}
	}
}
