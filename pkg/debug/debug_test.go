// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package debug

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadiness(t *testing.T) {
	t.Cleanup(func() {
		SetNotReady()
		SetReadyCheck(nil)
	})
	mux := GetMux()

	get := func(path string) int {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, get("/health"))
	assert.Equal(t, http.StatusServiceUnavailable, get("/ready"))

	SetReady()
	assert.Equal(t, http.StatusOK, get("/ready"))

	SetReadyCheck(func(context.Context) error { return errors.New("backend down") })
	assert.Equal(t, http.StatusServiceUnavailable, get("/ready"))

	SetReadyCheck(func(context.Context) error { return nil })
	assert.Equal(t, http.StatusOK, get("/ready"))
}

func TestMetricsEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	GetMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRegisterHandlerFunc(t *testing.T) {
	RegisterHandlerFunc("/test/echo", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	GetMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test/echo", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
