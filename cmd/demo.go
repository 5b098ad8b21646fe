// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/LeeDigitalWorks/hllstore/pkg/hll"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DemoOptions configures a demo run.
type DemoOptions struct {
	Key         string
	Batches     int
	BatchSize   int
	ReportEvery int
	Workers     int
	Seed        uint64
	// RateLimit caps batches per second across all workers. 0 is unlimited.
	RateLimit int
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Feed a counter random members and report estimate error as it grows",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := DemoOptions{}
		opts.Key, _ = cmd.Flags().GetString("key")
		opts.Batches, _ = cmd.Flags().GetInt("batches")
		opts.BatchSize, _ = cmd.Flags().GetInt("batch_size")
		opts.ReportEvery, _ = cmd.Flags().GetInt("report_every")
		opts.Workers, _ = cmd.Flags().GetInt("workers")
		opts.Seed, _ = cmd.Flags().GetUint64("seed")
		opts.RateLimit, _ = cmd.Flags().GetInt("rate")
		if opts.Seed == 0 {
			opts.Seed = uint64(time.Now().UnixNano())
		}

		return withEstimator(func(est *hll.HyperLogLog) error {
			return RunDemo(cmd.Context(), est, opts, cmd.OutOrStdout())
		})
	},
}

func init() {
	demoCmd.Flags().String("key", "demo", "Counter key")
	demoCmd.Flags().Int("batches", 2000, "Number of member batches to add")
	demoCmd.Flags().Int("batch_size", 5, "Random members per batch")
	demoCmd.Flags().Int("report_every", 100, "Batches between progress reports")
	demoCmd.Flags().Int("workers", 4, "Concurrent writers")
	demoCmd.Flags().Uint64("seed", 0, "Random seed, 0 picks one from the clock")
	demoCmd.Flags().Int("rate", 0, "Max batches per second, 0 is unlimited")
	rootCmd.AddCommand(demoCmd)
}

// RunDemo sets opts.Key to a single member, then merges batches of random
// 64-bit members from concurrent writers, reporting the estimate and its
// error against the exact count after every opts.ReportEvery batches.
func RunDemo(ctx context.Context, est *hll.HyperLogLog, opts DemoOptions, out io.Writer) error {
	if opts.Batches <= 0 || opts.BatchSize <= 0 {
		return errors.New("batches and batch_size must be positive")
	}
	if opts.ReportEvery <= 0 {
		opts.ReportEvery = opts.Batches
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateLimit)
	}

	start := time.Now()

	maxLog2m, err := hll.FindMaxAllowedLog2m(ctx, est.Backend(), hll.DefaultProbeKey)
	if err != nil {
		return err
	}
	limit := fmt.Sprintf("max log2m %d", maxLog2m)
	if maxLog2m == hll.NoLimit {
		limit = "no size limit"
	}
	fmt.Fprintf(out, "backend: %s, running with log2m %d (%s per counter, ~%.2f%% error)\n",
		limit, est.Log2m(), humanize.IBytes(uint64(hll.RegisterBytesNeededForLog2m(est.Log2m()))), est.StandardError()*100)

	if err := est.SetMembers(ctx, opts.Key, []byte("seed-member")); err != nil {
		return err
	}
	n, err := est.EstimatedCardinality(ctx, opts.Key)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "initial estimate = %d\n", n)

	for done := 0; done < opts.Batches; {
		round := min(opts.ReportEvery, opts.Batches-done)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Workers)
		for i := 0; i < round; i++ {
			batch := uint64(done + i)
			g.Go(func() error {
				if limiter != nil {
					if err := limiter.Wait(gctx); err != nil {
						return err
					}
				}
				return est.AddMembers(gctx, opts.Key, randomMembers(opts.Seed, batch, opts.BatchSize)...)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		done += round

		actual := uint64(1 + done*opts.BatchSize)
		estimate, err := est.EstimatedCardinality(ctx, opts.Key)
		if err != nil {
			return err
		}
		errPct := (float64(estimate) - float64(actual)) * 100 / float64(actual)
		fmt.Fprintf(out, "added %s members, estimate %s, error %+.2f%%\n",
			humanize.Comma(int64(actual)), humanize.Comma(int64(estimate)), errPct)
	}

	fmt.Fprintf(out, "finished in %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

// randomMembers returns n random 8-byte members, reproducible from seed and batch.
func randomMembers(seed, batch uint64, n int) [][]byte {
	rng := rand.New(rand.NewPCG(seed, batch))
	members := make([][]byte, n)
	for i := range members {
		members[i] = binary.BigEndian.AppendUint64(nil, rng.Uint64())
	}
	return members
}
