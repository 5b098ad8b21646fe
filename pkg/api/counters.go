// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package api exposes counters over HTTP on the debug mux.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/LeeDigitalWorks/hllstore/pkg/debug"
	"github.com/LeeDigitalWorks/hllstore/pkg/hll"
	"github.com/LeeDigitalWorks/hllstore/pkg/logger"

	"github.com/google/uuid"
)

const countersPrefix = "/counters/"

// RequestIDHeader carries the request id on every response. A caller-supplied
// value is kept.
const RequestIDHeader = "X-Request-Id"

// maxRequestBytes bounds a member upload.
const maxRequestBytes = 8 << 20

// MembersRequest is the body of POST and PUT requests.
type MembersRequest struct {
	Members []string `json:"members"`
}

// CountResponse is returned by GET.
type CountResponse struct {
	Key       string  `json:"key"`
	Estimate  uint64  `json:"estimate"`
	Secondary *uint64 `json:"secondary,omitempty"`
}

// CounterHandler serves one estimator:
//   - GET    /counters/{key}[?secondary=true] - estimate (and secondary estimate)
//   - POST   /counters/{key}                  - add members
//   - PUT    /counters/{key}                  - replace with members
//   - DELETE /counters/{key}                  - delete counter
type CounterHandler struct {
	est *hll.HyperLogLog

	idPrefix  string
	idCounter atomic.Uint64
}

func NewCounterHandler(est *hll.HyperLogLog) *CounterHandler {
	return &CounterHandler{
		est:      est,
		idPrefix: uuid.New().String()[0:8],
	}
}

func (h *CounterHandler) requestID(r *http.Request) string {
	if id := r.Header.Get(RequestIDHeader); id != "" {
		return id
	}
	return h.idPrefix + strconv.FormatUint(h.idCounter.Add(1), 10)
}

// Register adds the handler to the debug mux. Must be called before debug.GetMux().
func (h *CounterHandler) Register() {
	debug.RegisterHandlerFunc(countersPrefix, h.ServeHTTP)
}

func (h *CounterHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := h.requestID(r)
	w.Header().Set(RequestIDHeader, id)
	l := logger.With("api").With().Str("request_id", id).Logger()
	r = r.WithContext(logger.WithLogger(r.Context(), &l))

	key := strings.TrimPrefix(r.URL.Path, countersPrefix)
	if key == "" || key == r.URL.Path {
		http.Error(w, "counter key required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.handleGet(w, r, key)
	case http.MethodPost, http.MethodPut:
		h.handleWrite(w, r, key)
	case http.MethodDelete:
		if err := h.est.Delete(r.Context(), key); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *CounterHandler) handleGet(w http.ResponseWriter, r *http.Request, key string) {
	resp := CountResponse{Key: key}

	if r.URL.Query().Get("secondary") == "true" {
		primary, secondary, err := h.est.Compare(r.Context(), key)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp.Estimate = primary
		resp.Secondary = &secondary
	} else {
		n, err := h.est.EstimatedCardinality(r.Context(), key)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp.Estimate = n
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *CounterHandler) handleWrite(w http.ResponseWriter, r *http.Request, key string) {
	var req MembersRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	members := make([][]byte, len(req.Members))
	for i, m := range req.Members {
		members[i] = []byte(m)
	}

	var err error
	if r.Method == http.MethodPut {
		err = h.est.SetMembers(r.Context(), key, members...)
	} else {
		err = h.est.AddMembers(r.Context(), key, members...)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, hll.ErrValueTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, hll.ErrSizeMismatch), errors.Is(err, hll.ErrMalformedRegisters):
		status = http.StatusConflict
	}

	logger.Ctx(r.Context()).Warn().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("counter request failed")
	http.Error(w, err.Error(), status)
}
