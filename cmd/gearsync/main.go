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

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiorack/gearsync/pkg/broadcast"
	"github.com/audiorack/gearsync/pkg/config"
	"github.com/audiorack/gearsync/pkg/core/api"
	"github.com/audiorack/gearsync/pkg/core/auth"
	"github.com/audiorack/gearsync/pkg/db"
	"github.com/audiorack/gearsync/pkg/logger"
	"github.com/audiorack/gearsync/pkg/models"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to config file (or set CONFIG_PATH)")
	flag.Parse()

	if *configPath != "" {
		_ = os.Setenv("CONFIG_PATH", *configPath)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logg, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database, logg)
	if err != nil {
		return err
	}

	store, err := db.New(ctx, pool, logg)
	if err != nil {
		return err
	}
	defer store.Close()

	var broadcastOpts []broadcast.Option

	if cfg.NATS.URL != "" {
		backplane, bpErr := broadcast.NewBackplane(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logg)
		if bpErr != nil {
			return bpErr
		}

		broadcastOpts = append(broadcastOpts, broadcast.WithBackplane(backplane))
	}

	broadcaster, err := broadcast.New(logg, broadcastOpts...)
	if err != nil {
		return err
	}
	defer broadcaster.Close()

	authService := auth.NewAuth(cfg.Auth, store)

	server := api.NewAPIServer(models.CORSConfig{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowCredentials: cfg.CORS.AllowCredentials,
	},
		api.WithStore(store),
		api.WithAuthService(authService),
		api.WithBroadcaster(broadcaster),
		api.WithLogger(logg),
	)

	return server.Start(ctx, cfg.ListenAddr)
}
