// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"
	"fmt"

	"github.com/LeeDigitalWorks/hllstore/pkg/backend"
	"github.com/LeeDigitalWorks/hllstore/pkg/hll"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "List every stored counter with its size and estimate",
	Long: `List every stored counter as: key hash, blob size, estimate. Counters
stored with a different log2m than configured print "-" as estimate.`,
	Args: cobra.NoArgs,
	RunE: runDump,
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every stored counter",
	Args:  cobra.NoArgs,
	RunE:  runPurge,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Merge every counter of the primary backend into the secondary backend",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	purgeCmd.Flags().Bool("yes", false, "Confirm deleting all counters")
	rootCmd.AddCommand(dumpCmd, purgeCmd, migrateCmd)
}

func scanner(b hll.Backend) (hll.Scanner, error) {
	s, ok := b.(hll.Scanner)
	if !ok {
		return nil, backend.ErrScanUnsupported
	}
	return s, nil
}

func runDump(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	return withEstimator(func(est *hll.HyperLogLog) error {
		s, err := scanner(est.Backend())
		if err != nil {
			return err
		}

		count := 0
		err = s.Range(cmd.Context(), func(keyHash uint64, registers []byte) error {
			count++
			estimate := "-"
			if rs, err := hll.DecodeRegisterSet(registers); err == nil {
				if n, err := est.Cardinality(rs); err == nil {
					estimate = humanize.Comma(int64(n))
				}
			}
			_, err := fmt.Fprintf(out, "%016x\t%s\t%s\n", keyHash, humanize.IBytes(uint64(len(registers))), estimate)
			return err
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d counters\n", count)
		return nil
	})
}

func runPurge(cmd *cobra.Command, args []string) error {
	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		return errors.New("refusing to purge without --yes")
	}

	return withEstimator(func(est *hll.HyperLogLog) error {
		s, err := scanner(est.Backend())
		if err != nil {
			return err
		}
		return s.Purge(cmd.Context())
	})
}

func runMigrate(cmd *cobra.Command, args []string) error {
	return withEstimator(func(est *hll.HyperLogLog) error {
		m, ok := est.Backend().(*backend.Migratable)
		if !ok {
			return errors.New("migrate requires a secondary backend")
		}
		n, err := m.Copy(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "copied %d counters\n", n)
		return nil
	})
}
