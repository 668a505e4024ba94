// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package statussrv mounts the device's operational HTTP surface: a
// liveness probe and a Prometheus scrape endpoint, on a small chi mux
// meant to be bound to a loopback address alongside the BACnet ports.
package statussrv

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports whether the device considers itself healthy, and
// a short reason when it does not.
type HealthFunc func() (healthy bool, detail string)

// Server is the /healthz + /metrics HTTP surface.
type Server struct {
	srv *http.Server

	mu     sync.RWMutex
	health HealthFunc
}

// New builds a Server listening on addr (host:port, normally a
// loopback address). health is consulted on every /healthz request;
// pass nil to always report healthy.
func New(addr string, health HealthFunc) *Server {
	s := &Server{health: health}

	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Get("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// SetHealthFunc replaces the health check consulted by /healthz.
func (s *Server) SetHealthFunc(fn HealthFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health = fn
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	fn := s.health
	s.mu.RUnlock()

	healthy, detail := true, ""
	if fn != nil {
		healthy, detail = fn()
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"healthy": healthy,
		"detail":  detail,
	})
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
