// Copyright 2025 Lawliet Project
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

package hub

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql" // MySQL driver for the gateway store
	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver for the application store
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// Run starts the Lawliet hub: the broker between the dashboard, the
// remote-desktop gateway's control database, and the container backend.
func Run() {
	log.Println("Starting Lawliet Hub...")

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("[Hub] Configuration error: %v", err)
	}

	appDB, err := openDatabase("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[Hub] Application store: %v", err)
	}
	defer appDB.Close()

	gatewayDB, err := openDatabase("mysql", cfg.GuacamoleDatabaseURL)
	if err != nil {
		log.Fatalf("[Hub] Gateway store: %v", err)
	}
	defer gatewayDB.Close()

	var cache *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("[Hub] Invalid REDIS_URL: %v", err)
		}
		cache = redis.NewClient(opts)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := cache.Ping(ctx).Err(); err != nil {
			// Cache is an optimization; run without it rather than refusing
			// to start.
			log.Printf("[Hub] Redis unavailable, running without catalog cache: %v", err)
			cache = nil
		}
		cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	registry := NewConnectionRegistry(gatewayDB)
	if err := registry.InitSchema(ctx); err != nil {
		log.Fatalf("[Hub] Gateway schema: %v", err)
	}

	users := NewUserStore(appDB, cfg.DefaultMaxLabs)
	if err := users.InitSchema(ctx); err != nil {
		log.Fatalf("[Hub] Users schema: %v", err)
	}

	catalog := NewLabCatalog(appDB, cache)
	if err := catalog.InitSchema(ctx); err != nil {
		log.Fatalf("[Hub] Catalog schema: %v", err)
	}

	identity := NewIdentityBridge(gatewayDB)
	backend := NewBackendClient(cfg.APIServerHost, cfg.BackendTimeout)
	provisioner := NewProvisioner(users, catalog, identity, registry, backend, cfg.GuacHostname)
	teardown := NewTeardownOrchestrator(users, identity, registry, backend)
	labAPI := NewLabAPIHandler(provisioner, teardown, registry, catalog, backend)
	auth := NewAuthMiddleware(cfg.JWTSecret)

	r := mux.NewRouter()

	// CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	// Health check and metrics are unauthenticated
	r.HandleFunc("/health", makeHealthHandler(appDB, gatewayDB)).Methods("GET")
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	// Lab API requires a session token
	api := r.PathPrefix("/").Subrouter()
	api.Use(auth.Middleware)
	labAPI.RegisterRoutes(api)

	handler := c.Handler(r)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Printf("[Hub] Listening on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[Hub] Server error: %v", err)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("[Hub] Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Hub] Shutdown error: %v", err)
	}
}

// openDatabase opens and verifies one of the two relational stores.
func openDatabase(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}
	return db, nil
}

// makeHealthHandler reports liveness of both stores.
func makeHealthHandler(appDB, gatewayDB *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		payload := map[string]string{"status": "healthy"}
		if err := appDB.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			payload = map[string]string{"status": "unhealthy", "component": "app-store"}
		} else if err := gatewayDB.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			payload = map[string]string{"status": "unhealthy", "component": "gateway-store"}
		}
		writeJSON(w, status, payload)
	}
}
