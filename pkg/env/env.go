// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package env resolves the deployment environment from HLLSTORE_ENV (or ENV).
package env

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Environment selects environment-dependent defaults such as console logging.
type Environment string

const (
	Local      Environment = "local"
	Production Environment = "production"
	Testing    Environment = "testing"
)

var aliases = map[string]Environment{
	"":            Local,
	"local":       Local,
	"dev":         Local,
	"development": Local,
	"production":  Production,
	"prod":        Production,
	"testing":     Testing,
	"test":        Testing,
}

var (
	mu      sync.RWMutex
	current = Local
)

// Parse maps a case-insensitive name or common alias to an Environment.
// An empty name is Local.
func Parse(s string) (Environment, error) {
	e, ok := aliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown environment %q", s)
	}
	return e, nil
}

func (e Environment) String() string {
	return string(e)
}

// Current returns the active environment.
func Current() Environment {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Set overrides the active environment and returns a func restoring the
// previous one.
func Set(e Environment) (restore func()) {
	mu.Lock()
	prev := current
	current = e
	mu.Unlock()
	return func() { Set(prev) }
}

func IsLocal() bool {
	return Current() == Local
}

func IsProduction() bool {
	return Current() == Production
}

func IsTesting() bool {
	return Current() == Testing
}

// fromViper reads the env key; unknown values fall back to Local.
func fromViper(v *viper.Viper) Environment {
	e, err := Parse(v.GetString("env"))
	if err != nil {
		return Local
	}
	return e
}

func init() {
	v := viper.New()
	_ = v.BindEnv("env", "HLLSTORE_ENV", "ENV")
	Set(fromViper(v))
}
