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
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/ttbt-io/wicketkeeper/backend/scoring"
)

// ResultSink receives the final scoreboard of every completed match.
type ResultSink interface {
	Record(sb *scoring.Scoreboard)
	Close() error
}

type nopResultSink struct{}

func (nopResultSink) Record(*scoring.Scoreboard) {}
func (nopResultSink) Close() error               { return nil }

const resultsSchema = `
CREATE TABLE IF NOT EXISTS match_results (
	match_id     TEXT PRIMARY KEY,
	team_a       TEXT NOT NULL,
	team_b       TEXT NOT NULL,
	venue        TEXT NOT NULL DEFAULT '',
	overs_limit  INTEGER NOT NULL,
	winner_id    TEXT NOT NULL DEFAULT '',
	winner_name  TEXT NOT NULL DEFAULT '',
	margin       INTEGER NOT NULL DEFAULT 0,
	margin_type  TEXT NOT NULL DEFAULT '',
	tied         BOOLEAN NOT NULL DEFAULT FALSE,
	description  TEXT NOT NULL,
	innings      JSONB NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL
)`

const upsertResult = `
INSERT INTO match_results
	(match_id, team_a, team_b, venue, overs_limit, winner_id, winner_name, margin, margin_type, tied, description, innings, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (match_id) DO UPDATE SET
	winner_id = EXCLUDED.winner_id,
	winner_name = EXCLUDED.winner_name,
	margin = EXCLUDED.margin,
	margin_type = EXCLUDED.margin_type,
	tied = EXCLUDED.tied,
	description = EXCLUDED.description,
	innings = EXCLUDED.innings,
	completed_at = EXCLUDED.completed_at`

// PostgresResultSink exports completed matches to a match_results table.
// Writes happen on a background worker.
type PostgresResultSink struct {
	db    *sql.DB
	queue chan *scoring.Scoreboard
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// OpenPostgresResultSink connects to dsn and creates the table if needed.
func OpenPostgresResultSink(dsn string) (*PostgresResultSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(15 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping results database: %w", err)
	}
	if _, err := db.ExecContext(ctx, resultsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create match_results: %w", err)
	}
	return newPostgresResultSink(db), nil
}

func newPostgresResultSink(db *sql.DB) *PostgresResultSink {
	s := &PostgresResultSink{
		db:    db,
		queue: make(chan *scoring.Scoreboard, 64),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Record queues sb for export.
func (s *PostgresResultSink) Record(sb *scoring.Scoreboard) {
	if sb == nil || sb.Result == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- sb:
	default:
		log.Printf("[RESULTS] queue full, result of match %s not exported", sb.MatchID)
	}
}

func (s *PostgresResultSink) run() {
	defer s.wg.Done()
	for sb := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.insert(ctx, sb); err != nil {
			log.Printf("[RESULTS] export match %s: %v", sb.MatchID, err)
		}
		cancel()
	}
}

func (s *PostgresResultSink) insert(ctx context.Context, sb *scoring.Scoreboard) error {
	innings, err := json.Marshal(sb.Innings)
	if err != nil {
		return err
	}
	r := sb.Result
	_, err = s.db.ExecContext(ctx, upsertResult,
		sb.MatchID, sb.TeamA.Name, sb.TeamB.Name, sb.Venue, sb.OversLimit,
		r.WinnerID, r.WinnerName, r.Margin, r.MarginType, r.Tied, r.Description,
		string(innings), time.Now().UTC(),
	)
	return err
}

// Close drains the queue and closes the database.
func (s *PostgresResultSink) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	s.wg.Wait()
	return s.db.Close()
}
