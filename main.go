// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"crypto/tls"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/c2FmZQ/storage"
	"github.com/c2FmZQ/storage/crypto"
	"github.com/ttbt-io/wicketkeeper/backend"
)

var (
	addr           = flag.String("addr", ":8080", "The TCP address to listen to")
	useMockAuth    = flag.Bool("use-mock-auth", false, "Use Mock Authentication. For testing purposes only.")
	debugMode      = flag.Bool("debug", false, "Enable debug mode")
	dataDir        = flag.String("data-dir", "data", "Directory for match and team data")
	tlsCert        = flag.String("tls-cert", "", "Path to HTTP TLS certificate")
	tlsKey         = flag.String("tls-key", "", "Path to HTTP TLS key")
	authCookieName = flag.String("auth-cookie-name", "wicketkeeper_auth", "Name of the cookie containing the JWT")
	authJWKSURL    = flag.String("auth-jwks-url", "", "URL of the JWKS used to verify JWTs")
	bootstrapAdmin = flag.String("admin", "", "Email of temporary admin user for bootstrapping access policy")
	corsOrigins    = flag.String("cors-origins", "", "Comma-separated list of allowed CORS origins")

	limiterEnabled = flag.Bool("limiter-enabled", true, "Enable per-client rate limiting")
	limiterRPS     = flag.Float64("limiter-rps", 20, "Sustained requests per second per client")
	limiterBurst   = flag.Int("limiter-burst", 40, "Request burst size per client")

	redisURL   = flag.String("redis-url", "", "Redis URL to publish live scoreboards to, e.g. redis://localhost:6379/0")
	resultsDSN = flag.String("results-dsn", "", "PostgreSQL DSN to export completed match results to")

	raftEnabled   = flag.Bool("raft", false, "Enable Raft consensus")
	raftBind      = flag.String("raft-bind", ":8081", "Address for Raft TCP transport")
	raftAdvertise = flag.String("raft-advertise", "", "Public address for Raft traffic (REQUIRED with --raft)")
	httpAdvertise = flag.String("http-advertise", "", "Address other nodes forward writes to (REQUIRED with --raft)")
	raftSecret    = flag.String("raft-secret", "", "Shared secret for cluster authentication")
	raftBootstrap = flag.Bool("raft-bootstrap", false, "Bootstrap the Raft cluster (only for first node)")
	raftJoin      = flag.String("raft-join", "", "HTTP address of a cluster node to join")
)

func loadMasterKey(dir string) crypto.MasterKey {
	keyFile := filepath.Join(dir, "master.key")
	passphrase := os.Getenv("WK_MASTER_KEY")
	if passphrase == "" {
		if _, err := os.Stat(keyFile); err == nil {
			log.Fatalf("Critical Security Error: %s exists but WK_MASTER_KEY is not set. Refusing to start in unencrypted mode.", keyFile)
		}
		log.Println("Warning: No WK_MASTER_KEY provided. Data will be stored UNENCRYPTED.")
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	masterKey, err := crypto.ReadMasterKey([]byte(passphrase), keyFile)
	if err == nil {
		log.Println("Loaded master encryption key.")
		return masterKey
	}
	if !os.IsNotExist(err) {
		log.Fatalf("Failed to read master key: %v", err)
	}
	log.Println("Initializing new master encryption key...")
	if masterKey, err = crypto.CreateMasterKey(); err != nil {
		log.Fatalf("Failed to create master key: %v", err)
	}
	if err := masterKey.Save([]byte(passphrase), keyFile); err != nil {
		log.Fatalf("Failed to save master key: %v", err)
	}
	return masterKey
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func main() {
	flag.Parse()

	if *raftEnabled {
		if *raftAdvertise == "" {
			log.Fatal("--raft-advertise is required when Raft is enabled")
		}
		if *httpAdvertise == "" {
			log.Fatal("--http-advertise is required when Raft is enabled")
		}
		if *raftSecret == "" {
			log.Fatal("--raft-secret is required when Raft is enabled")
		}
		if *raftBootstrap && *raftJoin != "" {
			log.Fatal("--raft-bootstrap and --raft-join are mutually exclusive")
		}
	}

	var cert *tls.Certificate
	if *tlsCert != "" && *tlsKey != "" {
		c, err := tls.LoadX509KeyPair(*tlsCert, *tlsKey)
		if err != nil {
			log.Fatalf("Failed to load TLS cert/key: %v", err)
		}
		cert = &c
	}

	masterKey := loadMasterKey(*dataDir)
	store := storage.New(*dataDir, masterKey)
	store.EnableCompression(true)

	server, err := backend.StartServer(backend.Options{
		Addr:           *addr,
		Cert:           cert,
		DataDir:        *dataDir,
		Debug:          *debugMode,
		Storage:        store,
		MasterKey:      masterKey,
		UseMockAuth:    *useMockAuth,
		AuthCookieName: *authCookieName,
		AuthJWKSURL:    *authJWKSURL,
		BootstrapAdmin: *bootstrapAdmin,
		CORSOrigins:    splitList(*corsOrigins),
		RateLimit: backend.RateLimitOptions{
			Enabled: *limiterEnabled,
			RPS:     *limiterRPS,
			Burst:   *limiterBurst,
		},
		RedisURL:              *redisURL,
		ResultsDSN:            *resultsDSN,
		RaftEnabled:           *raftEnabled,
		RaftBind:              *raftBind,
		RaftAdvertise:         *raftAdvertise,
		RaftSecret:            *raftSecret,
		RaftJoin:              *raftJoin,
		RaftBootstrap:         *raftBootstrap,
		HttpAdvertise:         *httpAdvertise,
		UseProductionTimeouts: true,
	})
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	} else {
		log.Println("Gracefully stopped.")
	}
}
