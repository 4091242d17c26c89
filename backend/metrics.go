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
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ttbt-io/wicketkeeper/backend/scoring"
)

// Metrics holds the service's Prometheus collectors. Each instance has its
// own registry so that several servers can run in one process.
type Metrics struct {
	registry *prometheus.Registry

	commands     *prometheus.CounterVec
	balls        *prometheus.CounterVec
	wickets      prometheus.Counter
	httpDuration *prometheus.HistogramVec
	rateLimited  prometheus.Counter
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wicketkeeper_commands_total",
			Help: "Match commands applied, by type and outcome kind.",
		}, []string{"type", "outcome"}),
		balls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wicketkeeper_balls_total",
			Help: "Deliveries recorded, by kind.",
		}, []string{"kind"}),
		wickets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wicketkeeper_wickets_total",
			Help: "Wickets recorded.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wicketkeeper_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wicketkeeper_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
	}
	m.registry.MustRegister(
		m.commands, m.balls, m.wickets, m.httpDuration, m.rateLimited,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// trackService adds gauges read from the service on each scrape.
func (m *Metrics) trackService(s *Service) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "wicketkeeper_matches",
			Help: "Matches indexed (not deleted).",
		}, func() float64 { return float64(s.Registry.CountTotalMatches()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "wicketkeeper_loaded_matches",
			Help: "Matches held in the engine.",
		}, func() float64 { return float64(len(s.Engine.IDs())) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "wicketkeeper_dirty_matches",
			Help: "Match records waiting to be flushed.",
		}, func() float64 { return float64(s.Matches.DirtyCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "wicketkeeper_websocket_clients",
			Help: "Connected websocket clients.",
		}, func() float64 { return float64(s.Hubs.ClientCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "wicketkeeper_websocket_hubs",
			Help: "Matches with at least one websocket hub running.",
		}, func() float64 { return float64(s.Hubs.HubCount()) }),
	)
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) observeCommand(cmdType string, err error) {
	outcome := "ok"
	if err != nil {
		if outcome = scoring.KindName(err); outcome == "" {
			outcome = "error"
		}
	}
	m.commands.WithLabelValues(cmdType, outcome).Inc()
}

func (m *Metrics) observeBall(d *scoring.Delivery) {
	if d == nil {
		return
	}
	kind := "legal"
	if d.Extra != scoring.ExtraNone {
		kind = string(d.Extra)
	}
	m.balls.WithLabelValues(kind).Inc()
	if d.IsWicket {
		m.wickets.Inc()
	}
}

// middleware records request latency under the matched chi route pattern.
func (m *Metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.httpDuration.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Observe(time.Since(start).Seconds())
	})
}
