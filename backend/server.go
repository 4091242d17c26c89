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

package backend

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/c2FmZQ/storage"
	"github.com/c2FmZQ/storage/crypto"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
)

func hubBusyResponse(w http.ResponseWriter, retryAfter string) {
	w.Header().Set("Retry-After", retryAfter)
	writeJSON(w, http.StatusTooManyRequests, map[string]apiError{"error": {Kind: "Busy", Message: "server is busy"}})
}

func parsePagination(r *http.Request) (int, int, string, string, string) {
	limit := 50
	offset := 0
	sortBy := r.URL.Query().Get("sortBy")
	order := r.URL.Query().Get("order")
	query := r.URL.Query().Get("q")

	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if val, err := strconv.Atoi(o); err == nil {
			offset = val
		}
	}

	if limit < 1 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	return limit, offset, sortBy, order, query
}

func paginate(ids []string, limit, offset int) []string {
	if offset >= len(ids) {
		return nil
	}
	return ids[offset:min(offset+limit, len(ids))]
}

// Options represent server options.
type Options struct {
	Addr      string
	Cert      *tls.Certificate
	DataDir   string
	Debug     bool
	Storage   *storage.Storage
	MasterKey crypto.MasterKey
	Listener  net.Listener

	UseMockAuth    bool
	AuthCookieName string
	AuthJWKSURL    string
	BootstrapAdmin string

	CORSOrigins []string
	RateLimit   RateLimitOptions

	// Exporters. RedisURL and ResultsDSN are ignored when Notifier or
	// Results is set.
	RedisURL   string
	ResultsDSN string
	Notifier   Notifier
	Results    ResultSink

	// Raft Options
	RaftEnabled           bool
	RaftBind              string
	RaftAdvertise         string
	RaftSecret            string
	RaftJoin              string // HTTP address of a node to join
	RaftBootstrap         bool
	HttpAdvertise         string // HTTP address other nodes forward writes to
	UseProductionTimeouts bool
}

// Server represents the running server instance.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	svc        *Service
	raftMgr    *RaftManager
	limiter    *rateLimiter
}

// Service returns the server's service.
func (s *Server) Service() *Service { return s.svc }

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Shutdown gracefully shuts down the server and Raft node.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []string
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("http: %v", err))
		}
	}
	if s.raftMgr != nil {
		if err := s.raftMgr.Shutdown(); err != nil {
			errs = append(errs, fmt.Sprintf("raft: %v", err))
		}
	}
	if err := s.svc.Flush(); err != nil {
		errs = append(errs, fmt.Sprintf("flush: %v", err))
	}
	if err := s.svc.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	s.limiter.Stop()
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %s", strings.Join(errs, ", "))
	}
	return nil
}

// StartServer builds the server and starts serving in the background.
func StartServer(opts Options) (*Server, error) {
	s, err := NewServer(opts)
	if err != nil {
		return nil, err
	}
	if s.raftMgr != nil {
		// Replay the log before serving so reads are not stale.
		if err := s.raftMgr.WaitForSync(30 * time.Second); err != nil {
			log.Printf("Warning: Raft sync timed out: %v", err)
		}
	}

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if opts.Cert != nil {
		s.httpServer.TLSConfig = &tls.Config{Certificates: []tls.Certificate{*opts.Cert}}
	}

	go func() {
		var err error
		switch {
		case opts.Listener != nil && opts.Cert != nil:
			log.Printf("Starting HTTPS server on provided listener %s...", opts.Listener.Addr())
			err = s.httpServer.ServeTLS(opts.Listener, "", "")
		case opts.Listener != nil:
			log.Printf("Starting HTTP server on provided listener %s...", opts.Listener.Addr())
			err = s.httpServer.Serve(opts.Listener)
		case opts.Cert != nil:
			log.Printf("Starting HTTPS server on %s...", opts.Addr)
			err = s.httpServer.ListenAndServeTLS("", "")
		default:
			log.Printf("Starting HTTP server on %s...", opts.Addr)
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, net.ErrClosed) && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()
	return s, nil
}

// NewServer wires storage, the service, the optional raft node and the
// HTTP router.
func NewServer(opts Options) (*Server, error) {
	if opts.DataDir == "" {
		opts.DataDir = "data"
	}
	if opts.Storage == nil {
		opts.Storage = storage.New(opts.DataDir, opts.MasterKey)
	}

	notifier := opts.Notifier
	if notifier == nil && opts.RedisURL != "" {
		ropts, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		notifier = NewRedisNotifier(redis.NewClient(ropts))
		log.Printf("[REDIS] publishing scoreboards to %s", ropts.Addr)
	}
	results := opts.Results
	if results == nil && opts.ResultsDSN != "" {
		sink, err := OpenPostgresResultSink(opts.ResultsDSN)
		if err != nil {
			return nil, err
		}
		results = sink
	}

	svc := NewService(ServiceOptions{
		Storage:        opts.Storage,
		Matches:        NewMatchStore(opts.DataDir, opts.Storage),
		Teams:          NewTeamStore(opts.DataDir, opts.Storage),
		BootstrapAdmin: opts.BootstrapAdmin,
		Notifier:       notifier,
		Results:        results,
		Debug:          opts.Debug,
	})
	svc.Registry.StartGC()

	s := &Server{
		svc:     svc,
		limiter: newRateLimiter(opts.RateLimit, svc.Metrics),
	}

	if opts.RaftEnabled {
		raftDataDir := filepath.Join(opts.DataDir, "raft")
		if err := os.MkdirAll(raftDataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create Raft data directory: %w", err)
		}
		fsm := NewFSM(svc, storage.New(raftDataDir, opts.MasterKey))
		rm := NewRaftManager(raftDataDir, opts.RaftBind, opts.RaftAdvertise, opts.HttpAdvertise, opts.RaftSecret, fsm)
		rm.UseProductionTimeouts = opts.UseProductionTimeouts
		svc.SetRaftManager(rm)
		if err := rm.Start(opts.RaftBootstrap); err != nil {
			return nil, fmt.Errorf("failed to start Raft: %w", err)
		}
		if opts.RaftJoin != "" && !fsm.IsInitialized() {
			go joinCluster(rm, opts.RaftJoin)
		}
		s.raftMgr = rm
	}

	s.handler = newRouter(opts, svc, s.raftMgr, s.limiter)
	return s, nil
}

// joinCluster asks target to add this node, retrying until it succeeds or
// the node shuts down.
func joinCluster(rm *RaftManager, target string) {
	for attempt := 1; ; attempt++ {
		err := rm.RequestJoin(target)
		if err == nil {
			log.Printf("[RAFT] Joined cluster via %s", target)
			return
		}
		log.Printf("[RAFT] Join attempt %d via %s failed: %v", attempt, target, err)
		select {
		case <-rm.shutdownCh:
			return
		case <-time.After(min(time.Duration(attempt)*time.Second, 30*time.Second)):
		}
	}
}

func newRouter(opts Options, svc *Service, rm *RaftManager, limiter *rateLimiter) http.Handler {
	a := &api{svc: svc, raft: rm}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware(opts.Debug))
	r.Use(middleware.Recoverer)
	r.Use(securityMiddleware)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(svc.Metrics.middleware)
	r.Use(limiter.middleware)
	if opts.UseMockAuth {
		r.Use(func(next http.Handler) http.Handler { return mockAuthMiddleware(opts, next) })
	} else {
		r.Use(func(next http.Handler) http.Handler { return jwtAuthMiddleware(opts, next) })
	}

	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", svc.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/ws", a.handleWS)
		if rm != nil {
			r.Get("/cluster/status", rm.handleStatus)
			r.Post("/cluster/join", rm.handleJoin)
			r.Post("/cluster/remove", rm.handleRemove)
		}

		// Writes go to the raft leader.
		w := r.With(a.leaderWrites)

		r.Get("/admin/policy", a.handleGetPolicy)
		w.Post("/admin/policy", a.handleUpdatePolicy)

		r.Get("/teams", a.handleListTeams)
		w.Post("/teams", a.handleSaveTeam)
		r.Get("/teams/{teamId}", a.handleGetTeam)
		w.Delete("/teams/{teamId}", a.handleDeleteTeam)

		r.Get("/matches", a.handleListMatches)
		w.Post("/matches", a.handleCreateMatch)
		r.Route("/matches/{matchId}", func(r chi.Router) {
			w := r.With(a.leaderWrites)

			r.Get("/scoreboard", a.handleScoreboard)
			r.Get("/scorecard", a.handleScorecard)
			r.Get("/bowlers", a.handleAvailableBowlers)
			r.Get("/batsmen", a.handleAvailableBatsmen)
			r.Get("/winner", a.handleWinner)
			r.Post("/bowler/validate", a.handleValidateBowler)

			w.Delete("/", a.handleDeleteMatch)
			w.Post("/toss", a.handleToss)
			w.Post("/start", a.handleStart)
			w.Post("/batsmen", a.handleSetBatsmen)
			w.Post("/bowler", a.handleSetBowler)
			w.Post("/balls", a.handleRecordBall)
			w.Post("/end-innings", a.handleEndInnings)
			w.Post("/complete", a.handleComplete)
		})
	})
	return r
}

// statusRecorder captures the response status. It passes through the
// optional interfaces websocket upgrades and streaming need.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// securityMiddleware adds HTTP security headers to responses.
func securityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Cache-Control", "private, no-cache, no-transform")
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs every request with its status and latency.
func loggingMiddleware(debug bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if !debug && r.URL.Path == "/healthz" {
				return
			}
			log.Printf("%s %s %d %v [%s]", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Microsecond), middleware.GetReqID(r.Context()))
		})
	}
}
