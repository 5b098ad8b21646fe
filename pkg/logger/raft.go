// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"fmt"
	"io"
	"log"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/rs/zerolog"
)

// RaftAdapter exposes a zerolog logger as an hclog.Logger for hashicorp/raft.
// Key/value args are attached as fields.
type RaftAdapter struct {
	name string
	zl   zerolog.Logger
	args []interface{}
}

// NewRaftAdapter returns an adapter writing through the global logger.
func NewRaftAdapter(name string) *RaftAdapter {
	return &RaftAdapter{name: name, zl: With(name)}
}

func (r *RaftAdapter) event(level hclog.Level) *zerolog.Event {
	var e *zerolog.Event
	switch level {
	case hclog.Trace:
		e = r.zl.Trace()
	case hclog.Debug:
		e = r.zl.Debug()
	case hclog.Warn:
		e = r.zl.Warn()
	case hclog.Error:
		e = r.zl.Error()
	default:
		e = r.zl.Info()
	}
	return e
}

func (r *RaftAdapter) Log(level hclog.Level, msg string, args ...interface{}) {
	e := r.event(level)
	if e == nil {
		return
	}
	all := append(append([]interface{}{}, r.args...), args...)
	for i := 0; i+1 < len(all); i += 2 {
		e = e.Interface(fmt.Sprint(all[i]), all[i+1])
	}
	e.Msg(msg)
}

func (r *RaftAdapter) Trace(msg string, args ...interface{}) { r.Log(hclog.Trace, msg, args...) }
func (r *RaftAdapter) Debug(msg string, args ...interface{}) { r.Log(hclog.Debug, msg, args...) }
func (r *RaftAdapter) Info(msg string, args ...interface{})  { r.Log(hclog.Info, msg, args...) }
func (r *RaftAdapter) Warn(msg string, args ...interface{})  { r.Log(hclog.Warn, msg, args...) }
func (r *RaftAdapter) Error(msg string, args ...interface{}) { r.Log(hclog.Error, msg, args...) }

func (r *RaftAdapter) IsTrace() bool { return r.zl.GetLevel() <= zerolog.TraceLevel }
func (r *RaftAdapter) IsDebug() bool { return r.zl.GetLevel() <= zerolog.DebugLevel }
func (r *RaftAdapter) IsInfo() bool  { return r.zl.GetLevel() <= zerolog.InfoLevel }
func (r *RaftAdapter) IsWarn() bool  { return r.zl.GetLevel() <= zerolog.WarnLevel }
func (r *RaftAdapter) IsError() bool { return r.zl.GetLevel() <= zerolog.ErrorLevel }

func (r *RaftAdapter) GetLevel() hclog.Level {
	switch r.zl.GetLevel() {
	case zerolog.TraceLevel:
		return hclog.Trace
	case zerolog.DebugLevel:
		return hclog.Debug
	case zerolog.WarnLevel:
		return hclog.Warn
	case zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel:
		return hclog.Error
	case zerolog.Disabled:
		return hclog.Off
	default:
		return hclog.Info
	}
}

func (r *RaftAdapter) SetLevel(level hclog.Level) {}

func (r *RaftAdapter) Name() string { return r.name }

func (r *RaftAdapter) Named(name string) hclog.Logger {
	if r.name != "" {
		name = r.name + "." + name
	}
	return r.ResetNamed(name)
}

func (r *RaftAdapter) ResetNamed(name string) hclog.Logger {
	return &RaftAdapter{name: name, zl: r.zl.With().Str("component", name).Logger(), args: r.args}
}

func (r *RaftAdapter) With(args ...interface{}) hclog.Logger {
	return &RaftAdapter{name: r.name, zl: r.zl, args: append(append([]interface{}{}, r.args...), args...)}
}

func (r *RaftAdapter) ImpliedArgs() []interface{} { return r.args }

func (r *RaftAdapter) StandardLogger(opts *hclog.StandardLoggerOptions) *log.Logger {
	return log.New(r.StandardWriter(opts), "", 0)
}

func (r *RaftAdapter) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer {
	return r.zl
}

var _ hclog.Logger = (*RaftAdapter)(nil)
