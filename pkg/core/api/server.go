/*
 * Copyright 2025 AudioRack Live.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package api provides the HTTP API server for the equipment tracker.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/audiorack/gearsync/pkg/broadcast"
	"github.com/audiorack/gearsync/pkg/core/auth"
	"github.com/audiorack/gearsync/pkg/db"
	gsHttp "github.com/audiorack/gearsync/pkg/http"
	"github.com/audiorack/gearsync/pkg/logger"
	"github.com/audiorack/gearsync/pkg/models"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// NewAPIServer creates a new API server instance with the given configuration.
func NewAPIServer(config models.CORSConfig, options ...func(server *APIServer)) *APIServer {
	s := &APIServer{
		router:     mux.NewRouter(),
		corsConfig: config,
	}

	for _, o := range options {
		o(s)
	}

	s.setupRoutes()

	return s
}

// WithStore wires the record store into the server.
func WithStore(store db.Service) func(*APIServer) {
	return func(server *APIServer) {
		server.store = store
	}
}

// WithAuthService adds an authentication service to the API server.
func WithAuthService(a AuthService) func(server *APIServer) {
	return func(server *APIServer) {
		server.authService = a
	}
}

// WithBroadcaster wires the scope fan-out used after every commit.
func WithBroadcaster(b *broadcast.Broadcaster) func(server *APIServer) {
	return func(server *APIServer) {
		server.broadcaster = b
	}
}

// WithLogger sets the server logger.
func WithLogger(log logger.Logger) func(server *APIServer) {
	return func(server *APIServer) {
		server.logger = log.WithComponent("api")
	}
}

func (s *APIServer) setupRoutes() {
	if s.logger == nil {
		s.logger = logger.NewTestLogger()
	}

	s.router.Use(func(next http.Handler) http.Handler {
		return gsHttp.CommonMiddleware(next, s.corsConfig, s.logger)
	})

	s.router.HandleFunc("/api/auth/login", s.handleLogin).Methods(http.MethodPost, http.MethodOptions)

	protected := s.router.PathPrefix("/api").Subrouter()

	if a, ok := s.authService.(*auth.Auth); ok {
		protected.Use(auth.Middleware(a, s.logger))
	} else {
		protected.Use(s.verifyTokenMiddleware)
	}

	protected.HandleFunc("/equipment", s.handleListEquipment).Methods(http.MethodGet, http.MethodOptions)
	protected.HandleFunc("/equipment", s.handleCreateEquipment).Methods(http.MethodPost)
	protected.HandleFunc("/equipment/stats", s.handleStats).Methods(http.MethodGet, http.MethodOptions)
	protected.HandleFunc("/equipment/activity", s.handleActivity).Methods(http.MethodGet, http.MethodOptions)
	protected.HandleFunc("/equipment/history/{id}", s.handleEquipmentHistory).Methods(http.MethodGet, http.MethodOptions)
	protected.HandleFunc("/equipment/deleted", s.handleListArchived).Methods(http.MethodGet, http.MethodOptions)
	protected.HandleFunc("/equipment/deleted/{id}/restore", s.handleRestoreEquipment).Methods(http.MethodPost, http.MethodOptions)
	protected.HandleFunc("/equipment/deleted/{id}/permanent", s.handlePurgeEquipment).Methods(http.MethodDelete, http.MethodOptions)
	protected.HandleFunc("/equipment/{id}", s.handleGetEquipment).Methods(http.MethodGet, http.MethodOptions)
	protected.HandleFunc("/equipment/{id}", s.handleUpdateEquipment).Methods(http.MethodPut)
	protected.HandleFunc("/equipment/{id}", s.handleDeleteEquipment).Methods(http.MethodDelete)
	protected.HandleFunc("/sync", s.handleSync).Methods(http.MethodGet)
}

// verifyTokenMiddleware is the fallback when the auth service is a test
// double rather than the concrete auth package implementation.
func (s *APIServer) verifyTokenMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		if after, found := cutBearer(token); found {
			token = after
		} else {
			token = r.URL.Query().Get("token")
		}

		user, err := s.authService.VerifyToken(r.Context(), token)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithUser(r.Context(), user)))
	})
}

func cutBearer(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):], true
	}

	return "", false
}

// Router exposes the handler tree, mainly for tests.
func (s *APIServer) Router() *mux.Router { return s.router }

func (s *APIServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start runs the HTTP server until the context is canceled, then drains it.
func (s *APIServer) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info().Str("addr", addr).Msg("API server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	}
}

func (s *APIServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.authService.Login(r.Context(), req.Phone, req.Name)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.logger.Info().Str("phone", resp.User.Phone).Str("name", resp.User.Name).Msg("User logged in")

	s.writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Data: resp})
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, body models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *APIServer) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, models.APIResponse{Success: false, Message: msg})
}

// writeDomainError maps the domain error taxonomy onto HTTP statuses.
func (s *APIServer) writeDomainError(w http.ResponseWriter, err error) {
	var vErr *models.ValidationError
	if errors.As(err, &vErr) {
		s.writeJSON(w, http.StatusBadRequest, models.APIResponse{
			Success: false,
			Message: "validation failed",
			Errors:  vErr.Errors,
		})

		return
	}

	switch {
	case errors.Is(err, models.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, models.ErrDuplicateSerial):
		s.writeError(w, http.StatusConflict, models.ErrDuplicateSerial.Error())
	case errors.Is(err, models.ErrDuplicateBarcode):
		s.writeError(w, http.StatusConflict, models.ErrDuplicateBarcode.Error())
	case errors.Is(err, models.ErrUnauthorized):
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
	default:
		s.logger.Error().Err(err).Msg("Request failed")
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
