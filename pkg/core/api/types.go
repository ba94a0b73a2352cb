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

package api

import (
	"context"

	"github.com/gorilla/mux"

	"github.com/audiorack/gearsync/pkg/broadcast"
	"github.com/audiorack/gearsync/pkg/db"
	"github.com/audiorack/gearsync/pkg/logger"
	"github.com/audiorack/gearsync/pkg/models"
)

// AuthService is the slice of the auth package the server depends on.
type AuthService interface {
	Login(ctx context.Context, phone, name string) (*models.LoginResponse, error)
	VerifyToken(ctx context.Context, token string) (*models.User, error)
}

// APIServer is the mutation gateway: the single write path into the record
// store and the origin of every broadcast event.
type APIServer struct {
	router      *mux.Router
	corsConfig  models.CORSConfig
	store       db.Service
	authService AuthService
	broadcaster *broadcast.Broadcaster
	logger      logger.Logger
}
