// Package main provides the entry point for cachesim.
// Cachesim replays memory access traces through a blocking write-back
// cache controller and reports step-accurate statistics.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sarchlab/akita/v4/mem/mem"

	"github.com/sarchlab/cachesim/cache"
	"github.com/sarchlab/cachesim/record"
	"github.com/sarchlab/cachesim/trace"
)

var (
	configPath = flag.String("config", "", "Path to cache configuration JSON file")
	latency    = flag.Int("latency", 10, "Backing store wait states per block operation")
	recordPath = flag.String("record", "", "Record per-access results into this SQLite database")
	maxSteps   = flag.Int("max-steps", 1000000, "Step limit per access (0 = unbounded)")
	verbose    = flag.Bool("v", false, "Verbose output")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: cachesim [options] <trace file>\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	tracePath := flag.Arg(0)

	accesses, err := trace.ParseFile(tracePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading trace: %v\n", err)
		os.Exit(1)
	}

	config := cache.DefaultConfig()
	if *configPath != "" {
		config, err = cache.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading cache config: %v\n", err)
			os.Exit(1)
		}
	}

	if *verbose {
		fmt.Printf("Trace: %s (%d accesses)\n", tracePath, len(accesses))
		fmt.Printf("Geometry: %dB capacity, %dB blocks, %d-way, %d sets\n",
			config.Capacity, config.BlockSize, config.Associativity,
			config.NumSets())
	}

	report, err := run(config, accesses)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error replaying trace: %v\n", err)
		os.Exit(1)
	}

	printReport(tracePath, report)
}

// accessEntry is the recorded row for one completed access.
type accessEntry struct {
	Seq     int
	Address uint64
	Write   bool
	Hit     bool
	Steps   int
}

func run(config cache.Config, accesses []trace.Access) (trace.Report, error) {
	storage := mem.NewStorage(cache.StorageCapacity(config.AddressWidth))
	backing := cache.NewMemoryBacking(storage, config.BlockSize, *latency)

	ctrl, err := cache.NewController(config, backing)
	if err != nil {
		return trace.Report{}, err
	}

	opts := []trace.RunnerOption{trace.WithMaxSteps(*maxSteps)}

	if *recordPath != "" {
		recorder := record.New(*recordPath)
		recorder.CreateTable("accesses", accessEntry{})
		defer recorder.Flush()

		opts = append(opts, trace.WithObserver(func(r trace.AccessResult) {
			recorder.InsertData("accesses", accessEntry{
				Seq:     r.Seq,
				Address: r.Address,
				Write:   r.Write,
				Hit:     r.Hit,
				Steps:   r.Steps,
			})
		}))
	}

	return trace.NewRunner(ctrl, opts...).Play(accesses)
}

func printReport(tracePath string, report trace.Report) {
	stats := report.Stats

	totalSteps := report.Steps
	if totalSteps == 0 {
		totalSteps = 1 // Avoid division by zero
	}

	completionSteps := report.Steps - stats.StallSteps

	fmt.Printf("\n")
	fmt.Printf("Trace: %s\n", tracePath)
	fmt.Printf("Total Accesses: %d (%d reads, %d writes)\n",
		stats.Reads+stats.Writes, stats.Reads, stats.Writes)
	fmt.Printf("Total Steps: %d\n", report.Steps)
	fmt.Printf("Hit Rate: %.2f%%\n", 100*stats.HitRate())
	fmt.Printf("\n")
	fmt.Printf("Breakdown:\n")
	fmt.Printf("  Completions:  %6d steps (%5.1f%%)\n",
		completionSteps, 100.0*float64(completionSteps)/float64(totalSteps))
	fmt.Printf("  Miss stalls:  %6d steps (%5.1f%%)\n",
		stats.StallSteps, 100.0*float64(stats.StallSteps)/float64(totalSteps))
	fmt.Printf("\n")
	fmt.Printf("Cache Events:\n")
	fmt.Printf("  Hits:        %d\n", stats.Hits)
	fmt.Printf("  Misses:      %d\n", stats.Misses)
	fmt.Printf("  Evictions:   %d\n", stats.Evictions)
	fmt.Printf("  Write-backs: %d\n", stats.Writebacks)
}
