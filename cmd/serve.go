// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/LeeDigitalWorks/hllstore/pkg/api"
	"github.com/LeeDigitalWorks/hllstore/pkg/debug"
	"github.com/LeeDigitalWorks/hllstore/pkg/hll"
	"github.com/LeeDigitalWorks/hllstore/pkg/logger"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve counters, metrics and health checks over HTTP",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("debug_addr", "", "Listen address, overrides debug_addr")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	fl := NewFlagLoader(cmd)
	addr := fl.String("debug_addr")
	if addr == "" {
		addr = cfg.DebugAddr
	}

	for _, w := range cfg.Validate().Warnings {
		logger.Warn().Msg(w)
	}

	return withEstimator(func(est *hll.HyperLogLog) error {
		api.NewCounterHandler(est).Register()

		// Ready once the backend answers a read.
		debug.SetReadyCheck(func(ctx context.Context) error {
			_, err := est.Backend().Get(ctx, hll.DefaultProbeKey)
			if errors.Is(err, hll.ErrNotFound) {
				return nil
			}
			return err
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Info().
			Str("addr", addr).
			Str("backend", string(cfg.Backend.Type)).
			Int("log2m", est.Log2m()).
			Msg("serving counters")

		debug.SetReady()
		defer debug.SetNotReady()
		return debug.Serve(ctx, addr)
	})
}
