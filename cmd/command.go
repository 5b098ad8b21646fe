// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/LeeDigitalWorks/hllstore/pkg/backend"
	"github.com/LeeDigitalWorks/hllstore/pkg/config"
	"github.com/LeeDigitalWorks/hllstore/pkg/env"
	"github.com/LeeDigitalWorks/hllstore/pkg/hll"
	"github.com/LeeDigitalWorks/hllstore/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// skipConfig marks commands that run without loading configuration.
const skipConfig = "skip_config"

var (
	configName string

	// cfg is loaded by the root command before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "hllstore",
	Short: "hllstore - distinct counters on pluggable storage",
	Long: `hllstore keeps HyperLogLog distinct-count estimates in a storage backend
(memory, LevelDB, Redis, PostgreSQL/MySQL or a Raft cluster). Members are
folded into per-counter registers with an atomic merge, so any number of
writers can share a counter.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&config.ConfigurationFileDirectory, "config_dir", ".", "Directory for configuration files")
	rootCmd.PersistentFlags().StringVar(&configName, "config", "hllstore", "Configuration file name without extension")
	rootCmd.PersistentFlags().String("log_level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Int("log2m", 10, "log2 of the number of registers per counter")
	rootCmd.PersistentFlags().String("hash", "", "Hash function (murmur3, xxhash)")
	rootCmd.PersistentFlags().String("backend", "", "Backend type, overrides backend.type")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if cmd.Annotations[skipConfig] != "" {
		return nil
	}

	c, err := config.Load(viper.GetViper(), configName)
	if err != nil {
		return err
	}

	fl := NewFlagLoader(cmd)
	c.Log2m = fl.Int("log2m")
	c.Hash = fl.String("hash")
	c.LogLevel = fl.String("log_level")
	if cmd.Flags().Changed("backend") {
		c.Backend.Type = backend.Type(fl.String("backend"))
	}

	logger.Configure(os.Stderr, c.LogLevel, env.IsLocal())
	cfg = c
	return nil
}

// openEstimator validates the configuration and opens the backend chain.
// The caller closes the returned backend.
func openEstimator() (*hll.HyperLogLog, hll.Backend, error) {
	result := cfg.Validate()
	for _, w := range result.Warnings {
		logger.Debug().Msg(w)
	}
	if err := result.Err(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	b, err := cfg.OpenBackend()
	if err != nil {
		return nil, nil, err
	}
	est, err := cfg.NewEstimator(b)
	if err != nil {
		b.Close()
		return nil, nil, err
	}
	return est, b, nil
}

// withEstimator runs fn with an open estimator and closes the backend after.
func withEstimator(fn func(est *hll.HyperLogLog) error) error {
	est, b, err := openEstimator()
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warn().Err(err).Msg("close backend")
		}
	}()
	return fn(est)
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
