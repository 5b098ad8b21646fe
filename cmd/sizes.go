// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"
	"fmt"

	"github.com/LeeDigitalWorks/hllstore/pkg/hll"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var sizesCmd = &cobra.Command{
	Use:         "sizes",
	Short:       "Print storage size and accuracy for each log2m",
	Annotations: map[string]string{skipConfig: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		for _, row := range hll.SizeTable() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", row, humanize.IBytes(uint64(row.Bytes)))
		}
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Find the largest log2m the configured backend can store",
	Long: `Find the largest log2m the configured backend can store. If the probe key
already holds registers their size decides; otherwise register blobs of
increasing size are written to the probe key until the backend rejects one.
The probe key is deleted afterwards.`,
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().Uint64("probe_key", hll.DefaultProbeKey, "Key hash used for probe writes")
	rootCmd.AddCommand(sizesCmd, probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	probeKey, _ := cmd.Flags().GetUint64("probe_key")

	return withEstimator(func(est *hll.HyperLogLog) error {
		log2m, err := hll.FindMaxAllowedLog2m(cmd.Context(), est.Backend(), probeKey)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if log2m == hll.NoLimit {
			fmt.Fprintf(out, "no limit found up to log2m %d (%s)\n",
				hll.MaxLog2m, humanize.IBytes(uint64(hll.RegisterBytesNeededForLog2m(hll.MaxLog2m))))
			return nil
		}
		fmt.Fprintf(out, "max log2m: %d (%s per counter)\n",
			log2m, humanize.IBytes(uint64(hll.RegisterBytesNeededForLog2m(log2m))))
		if log2m < est.Log2m() {
			return errors.New("configured log2m does not fit the backend")
		}
		return nil
	})
}
