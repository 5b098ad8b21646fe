// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bufio"
	"fmt"

	"github.com/LeeDigitalWorks/hllstore/pkg/hll"

	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:   "add KEY [MEMBER...]",
	Short: "Add members to a counter",
	Long: `Add members to a counter. With --stdin, members are also read one per line
from standard input and merged in batches.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeMembers(cmd, args, false)
	},
}

var setCmd = &cobra.Command{
	Use:   "set KEY [MEMBER...]",
	Short: "Replace a counter with the given members",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeMembers(cmd, args, true)
	},
}

var countCmd = &cobra.Command{
	Use:   "count KEY...",
	Short: "Print the estimated number of distinct members of counters",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCount,
}

var deleteCmd = &cobra.Command{
	Use:   "delete KEY...",
	Short: "Delete counters",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEstimator(func(est *hll.HyperLogLog) error {
			for _, key := range args {
				if err := est.Delete(cmd.Context(), key); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

func init() {
	addCmd.Flags().Bool("stdin", false, "Read additional members from stdin, one per line")
	addCmd.Flags().Int("batch", 10000, "Members per merge when reading stdin")
	countCmd.Flags().Bool("compare", false, "Also print the estimate read through the secondary path")

	rootCmd.AddCommand(addCmd, setCmd, countCmd, deleteCmd)
}

func toMembers(values []string) [][]byte {
	members := make([][]byte, len(values))
	for i, v := range values {
		members[i] = []byte(v)
	}
	return members
}

func writeMembers(cmd *cobra.Command, args []string, replace bool) error {
	key, members := args[0], toMembers(args[1:])
	ctx := cmd.Context()

	return withEstimator(func(est *hll.HyperLogLog) error {
		if replace {
			return est.SetMembers(ctx, key, members...)
		}
		if len(members) > 0 {
			if err := est.AddMembers(ctx, key, members...); err != nil {
				return err
			}
		}

		if useStdin, _ := cmd.Flags().GetBool("stdin"); !useStdin {
			return nil
		}
		batchSize, _ := cmd.Flags().GetInt("batch")
		if batchSize <= 0 {
			batchSize = 10000
		}

		scanner := bufio.NewScanner(cmd.InOrStdin())
		batch := make([][]byte, 0, batchSize)
		total := len(members)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			if err := est.AddMembers(ctx, key, batch...); err != nil {
				return err
			}
			total += len(batch)
			batch = batch[:0]
			return nil
		}
		for scanner.Scan() {
			batch = append(batch, append([]byte(nil), scanner.Bytes()...))
			if len(batch) == batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		if err := flush(); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "added %d members to %s\n", total, key)
		return nil
	})
}

func runCount(cmd *cobra.Command, args []string) error {
	compare, _ := cmd.Flags().GetBool("compare")
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	return withEstimator(func(est *hll.HyperLogLog) error {
		for _, key := range args {
			if !compare {
				n, err := est.EstimatedCardinality(ctx, key)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\t%d\n", key, n)
				continue
			}

			primary, secondary, err := est.Compare(ctx, key)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\tprimary=%d\tsecondary=%d\n", key, primary, secondary)
		}
		return nil
	})
}
