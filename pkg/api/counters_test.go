// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/LeeDigitalWorks/hllstore/pkg/backend"
	"github.com/LeeDigitalWorks/hllstore/pkg/debug"
	"github.com/LeeDigitalWorks/hllstore/pkg/hll"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, b hll.Backend) *CounterHandler {
	t.Helper()
	est, err := hll.New(10, hll.Murmur3{}, b)
	require.NoError(t, err)
	return NewCounterHandler(est)
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func decodeCount(t *testing.T, rec *httptest.ResponseRecorder) CountResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp CountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCounterHandler(t *testing.T) {
	h := newTestHandler(t, backend.NewMemory(0))

	resp := decodeCount(t, do(h, http.MethodGet, "/counters/visitors", ""))
	assert.Equal(t, "visitors", resp.Key)
	assert.Zero(t, resp.Estimate)
	assert.Nil(t, resp.Secondary)

	rec := do(h, http.MethodPost, "/counters/visitors", `{"members":["a","b","a"]}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(h, http.MethodPost, "/counters/visitors", `{"members":["c"]}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	resp = decodeCount(t, do(h, http.MethodGet, "/counters/visitors", ""))
	assert.InDelta(t, 3, resp.Estimate, 1)

	rec = do(h, http.MethodPut, "/counters/visitors", `{"members":["z"]}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	resp = decodeCount(t, do(h, http.MethodGet, "/counters/visitors?secondary=true", ""))
	assert.EqualValues(t, 1, resp.Estimate)
	require.NotNil(t, resp.Secondary)
	assert.EqualValues(t, 1, *resp.Secondary)

	rec = do(h, http.MethodDelete, "/counters/visitors", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	resp = decodeCount(t, do(h, http.MethodGet, "/counters/visitors", ""))
	assert.Zero(t, resp.Estimate)
}

func TestCounterHandler_BadRequests(t *testing.T) {
	h := newTestHandler(t, backend.NewMemory(0))

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/counters/", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/counters/k", "{not json").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(h, http.MethodPatch, "/counters/k", "").Code)
}

func TestCounterHandler_ErrorStatus(t *testing.T) {
	ctx := context.Background()
	b := backend.NewMemory(hll.RegisterBytesNeededForLog2m(8))
	h := newTestHandler(t, b)

	rec := do(h, http.MethodPost, "/counters/k", `{"members":["a"]}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	// A counter stored with another log2m cannot be read at log2m=10.
	require.NoError(t, b.Set(ctx, h.est.KeyHash("old"), hll.NewRegisterSet(16).Bytes()))
	rec = do(h, http.MethodGet, "/counters/old", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCounterHandler_Register(t *testing.T) {
	h := newTestHandler(t, backend.NewMemory(0))
	h.Register()

	rec := do(debug.GetMux(), http.MethodGet, "/counters/anything", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCounterHandler_RequestID(t *testing.T) {
	h := newTestHandler(t, backend.NewMemory(0))

	first := do(h, http.MethodGet, "/counters/k", "").Header().Get(RequestIDHeader)
	second := do(h, http.MethodGet, "/counters/k", "").Header().Get(RequestIDHeader)
	require.Len(t, first, 9)
	assert.Equal(t, first[:8], second[:8])
	assert.NotEqual(t, first, second)

	req := httptest.NewRequest(http.MethodGet, "/counters/k", nil)
	req.Header.Set(RequestIDHeader, "caller-id")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "caller-id", rec.Header().Get(RequestIDHeader))
}
