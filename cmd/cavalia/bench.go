package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
	"github.com/vishalag001/Cavalia/config"
)

// runBench runs the bank workload on the protocol named by cfg.
func runBench(ctx context.Context, cfg *config.Config, opts benchOptions) (*benchResult, error) {
	a, err := newApp(cfg)
	if err != nil {
		return nil, err
	}
	return a.bench(ctx, opts)
}

func newBenchCommand(ctx context.Context) *cobra.Command {
	var (
		opts benchOptions
		all  bool
	)
	m := &cobra.Command{
		Use:   "bench",
		Short: "Run the bank transfer workload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			protocols := []string{cfg.Protocol}
			if all {
				protocols = config.Protocols
			}
			for _, p := range protocols {
				c := *cfg
				c.Protocol = p
				res, err := runBench(ctx, &c, opts)
				if err != nil {
					return errors.Annotatef(err, "protocol %s", p)
				}
				if err := printResult(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			}
			return nil
		},
	}
	fs := m.Flags()
	fs.IntVar(&opts.Accounts, "accounts", 1024, "Number of accounts")
	fs.IntVar(&opts.Branches, "branches", 64, "Number of branches accounts are spread over")
	fs.Uint64Var(&opts.Initial, "initial", 1000, "Initial balance of every account")
	fs.DurationVar(&opts.Duration, "duration", 10*time.Second, "How long to run, 0 to run a fixed number of transactions")
	fs.IntVar(&opts.TxnsPerThread, "txns", 0, "Transactions per thread, 0 to run for the whole duration")
	fs.IntVar(&opts.AuditPercent, "audit", 10, "Percent of transactions that audit a branch")
	fs.Int64Var(&opts.Seed, "seed", 1, "Random seed")
	fs.Float64Var(&opts.Rate, "rate", 0, "Target transactions per second over all threads, 0 for unlimited")
	fs.BoolVar(&all, "all", false, "Run every protocol in turn")
	return m
}

type latencySummary struct {
	Mean, P50, P99, P999, Max float64
}

func summarize(latencies []float64) (latencySummary, error) {
	var s latencySummary
	if len(latencies) == 0 {
		return s, nil
	}
	var err error
	if s.Mean, err = stats.Mean(latencies); err != nil {
		return s, errors.Trace(err)
	}
	if s.P50, err = stats.Percentile(latencies, 50); err != nil {
		return s, errors.Trace(err)
	}
	if s.P99, err = stats.Percentile(latencies, 99); err != nil {
		return s, errors.Trace(err)
	}
	if s.P999, err = stats.Percentile(latencies, 99.9); err != nil {
		return s, errors.Trace(err)
	}
	if s.Max, err = stats.Max(latencies); err != nil {
		return s, errors.Trace(err)
	}
	return s, nil
}

func printResult(w io.Writer, res *benchResult) error {
	lat, err := summarize(res.Latencies)
	if err != nil {
		return err
	}
	tps := float64(res.Commits) / res.Elapsed.Seconds()
	_, err = fmt.Fprintf(w, "%s\n  tps %.1f, abort rate %.3f\n  latency(us) avg %.1f, p50 %.1f, p99 %.1f, p99.9 %.1f, max %.1f\n",
		res, tps, abortRate(res), lat.Mean, lat.P50, lat.P99, lat.P999, lat.Max)
	return errors.Trace(err)
}

func abortRate(res *benchResult) float64 {
	if res.Commits+res.Aborts == 0 {
		return 0
	}
	return float64(res.Aborts) / float64(res.Commits+res.Aborts)
}
