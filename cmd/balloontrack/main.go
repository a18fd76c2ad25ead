// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// Package main provides the entry point for the balloon tracker service.
//
// It wires a Snapshot Store, a Wind Cache, a Source Client, a Wind Client,
// an Ingest Controller, a Predictor, and a Query Service behind a single
// HTTP read API, starts the background ingest scheduler, and performs a
// graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"balloontrack/internal/balloon/api"
	"balloontrack/internal/balloon/ingest"
	"balloontrack/internal/balloon/predictor"
	"balloontrack/internal/balloon/query"
	"balloontrack/internal/balloon/sourceclient"
	"balloontrack/internal/balloon/store"
	"balloontrack/internal/balloon/windcache"
	"balloontrack/internal/balloon/windclient"
)

func main() {
	// --- What this is ---
	// A background ingest loop pulls one hour of raw balloon positions per
	// tick from an upstream feed, assigns each a persistent identity against
	// the previous hour's tracked positions, and persists the result. A
	// read-only HTTP API answers queries against whatever the ingest loop
	// has most recently written — it never blocks on a fetch.
	//
	// Try it:
	//   curl "http://localhost:8080/balloons?hour_offset=0"
	//   curl -X POST "http://localhost:8080/refresh"

	sourceURL := flag.String("source_url", "https://a.windbornesystems.com/treasure", "base URL of the upstream balloon feed")
	windURL := flag.String("wind_url", "https://api.open-meteo.com/v1/forecast", "base URL of the atmospheric wind provider")
	httpAddr := flag.String("http_addr", ":8080", "HTTP listen address (e.g., :8080)")
	sqlDSN := flag.String("sql_dsn", "", "if non-empty, use a database/sql-backed Store with this DSN instead of the in-memory Store")
	sqlDriver := flag.String("sql_driver", "", "database/sql driver name to use with sql_dsn (e.g. postgres); required if sql_dsn is set")
	redisAddr := flag.String("redis_addr", "", "if non-empty, use a Redis-backed Wind Cache at this address instead of the in-memory cache")
	redisTTL := flag.Duration("redis_wind_ttl", windcache.CurrentTTL, "TTL applied to entries in the Redis-backed Wind Cache")
	autoStart := flag.Bool("auto_ingest", true, "start the background ingest scheduler on launch")
	flag.Parse()

	var st store.Store
	if *sqlDSN != "" {
		if *sqlDriver == "" {
			log.Fatalf("sql_driver is required when sql_dsn is set")
		}
		db, err := sql.Open(*sqlDriver, *sqlDSN)
		if err != nil {
			log.Fatalf("opening sql store: %v", err)
		}
		st = store.NewSQLStore(db)
		fmt.Printf("using sql-backed store (driver=%s)\n", *sqlDriver)
	} else {
		st = store.NewMemoryStore()
		fmt.Println("using in-memory store")
	}

	var cache windcache.Cache
	var memCache *windcache.MemoryCache
	if *redisAddr != "" {
		cache = windcache.NewRedisCache(*redisAddr, *redisTTL)
		fmt.Printf("using redis-backed wind cache at %s\n", *redisAddr)
	} else {
		memCache = windcache.NewMemoryCache()
		cache = memCache
		fmt.Println("using in-memory wind cache")
	}

	source := sourceclient.New(*sourceURL)
	wind := windclient.New(*windURL, cache)

	ic := ingest.New(st, source, nil)
	pred := predictor.New(st, wind)
	qs := query.New(st, nil)

	apiServer := api.New(qs, pred, ic, wind)

	mux := http.NewServeMux()
	apiServer.RegisterRoutes(mux)
	httpServer := &http.Server{
		Addr:         *httpAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if *autoStart {
		ic.Start(context.Background())
	}

	go func() {
		fmt.Printf("balloon tracker API listening on %s\n", *httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("could not listen on %s: %v", *httpAddr, err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	fmt.Println("\nshutting down...")

	if *autoStart {
		ic.Stop()
	}
	if memCache != nil {
		memCache.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("server shutdown failed: %v", err)
	}

	fmt.Println("shut down cleanly")
}
