// This file is part of go-rpma, a Go port of librpma's connection-oriented
// RDMA API.
// Copyright (C) 2024 The go-rpma Authors
//
// go-rpma is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// go-rpma is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later

// Package diag is a tiny HTTP introspection server for an rpma-based
// application: it exposes whatever counters the application registers
// (live peers, connections, shared receive queues) as JSON, for an
// operator to poll. It never imports package rpma and nothing in rpma
// imports it back — an application wires its own counters in.
package diag

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

// Counter is a single named gauge an application registers, read on every
// request to /stats. Counters are expected to be cheap: a mutex-guarded
// field read, an atomic load, or similar.
type Counter func() int64

// Server is the introspection HTTP server. The zero value is not usable;
// construct one with New.
type Server struct {
	mu       sync.Mutex
	counters map[string]Counter
	router   *mux.Router
}

// New builds a Server with no counters registered yet.
func New() *Server {
	s := &Server{counters: make(map[string]Counter)}
	router := mux.NewRouter()
	router.HandleFunc("/stats", s.stats).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	s.router = router
	return s
}

// Register adds or replaces a named counter. Calling Register with a name
// already in use overwrites the previous counter, so that an application
// can re-point a counter at a new SharedRQ or Peer without restarting the
// server.
func (s *Server) Register(name string, c Counter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name] = c
}

// Unregister removes a named counter, e.g. once the object it reports on
// has been deleted.
func (s *Server) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, name)
}

func (s *Server) snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.counters))
	for name, c := range s.counters {
		out[name] = c()
	}
	return out
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.snapshot())
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ListenAndServe starts the HTTP server on addr and blocks until ctx is
// canceled, then shuts the server down. It mirrors the teacher's GUI
// server's use of BaseContext to thread a cancellation context through
// net/http rather than a bespoke shutdown channel.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
