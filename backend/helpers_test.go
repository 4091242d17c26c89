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
	"fmt"
	"sync"
	"testing"

	"github.com/c2FmZQ/storage"
	"github.com/google/uuid"
	"github.com/ttbt-io/wicketkeeper/backend/scoring"
)

const (
	testOwner  = "owner@example.com"
	testScorer = "scorer@example.com"
	testViewer = "viewer@example.com"
)

// newTestService returns a standalone service over a fresh data directory.
func newTestService(t *testing.T, opts ...func(*ServiceOptions)) *Service {
	t.Helper()
	return newTestServiceAt(t, t.TempDir(), opts...)
}

// newTestServiceAt returns a standalone service over dir, as after a restart.
func newTestServiceAt(t *testing.T, dir string, opts ...func(*ServiceOptions)) *Service {
	t.Helper()
	s := storage.New(dir, nil)
	so := ServiceOptions{
		Storage: s,
		Matches: NewMatchStore(dir, s),
		Teams:   NewTeamStore(dir, s),
	}
	for _, o := range opts {
		o(&so)
	}
	svc := NewService(so)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func testRoster(prefix string, n int) []scoring.Player {
	players := make([]scoring.Player, n)
	for i := range players {
		players[i] = scoring.Player{
			ID:   fmt.Sprintf("%s%d", prefix, i+1),
			Name: fmt.Sprintf("Player %s%d", prefix, i+1),
		}
	}
	return players
}

// createTestTeams saves two eleven-player teams owned by testOwner, with
// testScorer as a scorer of both.
func createTestTeams(t *testing.T, svc *Service) (a, b *Team) {
	t.Helper()
	mk := func(name, prefix string) *Team {
		team := &Team{
			ID:     uuid.NewString(),
			Name:   name,
			Roster: testRoster(prefix, 11),
			Roles:  TeamRoles{Scorers: []string{testScorer}},
		}
		saved, err := svc.SaveTeam(context.Background(), testOwner, team)
		if err != nil {
			t.Fatalf("SaveTeam(%s): %v", name, err)
		}
		return saved
	}
	return mk("Alpha", "a"), mk("Bravo", "b")
}

// createTestMatch creates an overs-limited match between two new teams. Alpha
// wins the toss and bats.
func createTestMatch(t *testing.T, svc *Service, overs int) (matchID string, a, b *Team) {
	t.Helper()
	a, b = createTestTeams(t, svc)
	out, err := svc.CreateMatch(context.Background(), testOwner, CreateMatchRequest{
		TeamAID:    a.ID,
		TeamBID:    b.ID,
		OversLimit: overs,
		Venue:      "Lord's",
		Toss:       &scoring.Toss{WinnerID: a.ID, Decision: scoring.ElectBat},
	})
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	return out.Scoreboard.MatchID, a, b
}

// startTestMatch creates a match and takes it to the first ball: a1 and a2
// at the crease, b1 bowling.
func startTestMatch(t *testing.T, svc *Service, overs int) string {
	t.Helper()
	id, _, _ := createTestMatch(t, svc, overs)
	for _, cmd := range []scoring.Command{
		{Type: scoring.CmdStart},
		{Type: scoring.CmdSetBatsmen, StrikerID: "a1", NonStrikerID: "a2"},
		{Type: scoring.CmdSetBowler, BowlerID: "b1"},
	} {
		if _, err := svc.Apply(context.Background(), testScorer, id, cmd); err != nil {
			t.Fatalf("%s: %v", cmd.Type, err)
		}
	}
	return id
}

func ball(runs int) scoring.Command {
	return scoring.Command{Type: scoring.CmdRecordBall, Ball: &scoring.BallInput{Runs: runs}}
}

type recordingNotifier struct {
	mu      sync.Mutex
	updates []*scoring.Scoreboard
	closed  bool
}

func (n *recordingNotifier) Publish(sb *scoring.Scoreboard) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, sb)
}

func (n *recordingNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.updates)
}

type recordingSink struct {
	mu      sync.Mutex
	results []*scoring.Scoreboard
}

func (s *recordingSink) Record(sb *scoring.Scoreboard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, sb)
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}
