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
	"errors"
	"strings"
	"testing"

	"github.com/ttbt-io/wicketkeeper/backend/scoring"
)

const (
	validTeamA = "aaaaaaaa-aaaa-4aaa-aaaa-aaaaaaaaaaaa"
	validTeamB = "bbbbbbbb-bbbb-4bbb-bbbb-bbbbbbbbbbbb"
	validMatch = "cccccccc-cccc-4ccc-cccc-cccccccccccc"
)

func TestValidateTeam(t *testing.T) {
	good := func() *Team {
		return &Team{
			ID:   validTeamA,
			Name: "Riverside CC",
			Roster: []scoring.Player{
				{ID: "p1", Name: "One"},
				{ID: "p2", Name: "Two"},
			},
			Roles: TeamRoles{Scorers: []string{"scorer@example.com"}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Team)
		wantErr bool
	}{
		{name: "Valid", mutate: func(*Team) {}},
		{name: "Bad id", mutate: func(t *Team) { t.ID = "team-1" }, wantErr: true},
		{name: "Blank name", mutate: func(t *Team) { t.Name = "   " }, wantErr: true},
		{name: "Long name", mutate: func(t *Team) { t.Name = strings.Repeat("x", maxNameLen+1) }, wantErr: true},
		{name: "Long short name", mutate: func(t *Team) { t.ShortName = "ABCDEFGHIJK" }, wantErr: true},
		{name: "Duplicate player", mutate: func(t *Team) { t.Roster[1].ID = "p1" }, wantErr: true},
		{name: "Nameless player", mutate: func(t *Team) { t.Roster[0].Name = "" }, wantErr: true},
		{name: "Bad member email", mutate: func(t *Team) { t.Roles.Viewers = []string{"not-an-email"} }, wantErr: true},
		{
			name: "Roster too large",
			mutate: func(t *Team) {
				t.Roster = nil
				for i := range maxRosterSize + 1 {
					t.Roster = append(t.Roster, scoring.Player{ID: string(rune('A' + i)), Name: "P"})
				}
			},
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			team := good()
			tc.mutate(team)
			err := validateTeam(team)
			if (err != nil) != tc.wantErr {
				t.Fatalf("validateTeam() error = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, ErrBadRequest) {
				t.Errorf("error %v does not wrap ErrBadRequest", err)
			}
		})
	}
}

func TestCreateMatchRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateMatchRequest
		wantErr bool
	}{
		{name: "Valid", req: CreateMatchRequest{TeamAID: validTeamA, TeamBID: validTeamB, OversLimit: 20}},
		{name: "Explicit id", req: CreateMatchRequest{ID: validMatch, TeamAID: validTeamA, TeamBID: validTeamB, OversLimit: 5}},
		{name: "Bad id", req: CreateMatchRequest{ID: "match-1", TeamAID: validTeamA, TeamBID: validTeamB, OversLimit: 5}, wantErr: true},
		{name: "Same team", req: CreateMatchRequest{TeamAID: validTeamA, TeamBID: validTeamA, OversLimit: 5}, wantErr: true},
		{name: "Missing team", req: CreateMatchRequest{TeamAID: validTeamA, OversLimit: 5}, wantErr: true},
		{name: "Zero overs", req: CreateMatchRequest{TeamAID: validTeamA, TeamBID: validTeamB}, wantErr: true},
		{name: "Too many overs", req: CreateMatchRequest{TeamAID: validTeamA, TeamBID: validTeamB, OversLimit: maxOversLimit + 1}, wantErr: true},
		{name: "Bowler cap above limit", req: CreateMatchRequest{TeamAID: validTeamA, TeamBID: validTeamB, OversLimit: 4, MaxOversPerBowler: 5}, wantErr: true},
		{name: "Private", req: CreateMatchRequest{TeamAID: validTeamA, TeamBID: validTeamB, OversLimit: 4, Public: PublicNone}},
		{name: "Bad visibility", req: CreateMatchRequest{TeamAID: validTeamA, TeamBID: validTeamB, OversLimit: 4, Public: "write"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.req
			err := req.validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("validate() error = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil {
				return
			}
			if !isValidUUID(req.ID) {
				t.Errorf("expected a generated id, got %q", req.ID)
			}
			if req.Public == "" {
				t.Error("expected visibility to default")
			}
		})
	}
}

func TestCreateMatchRequest_Setup(t *testing.T) {
	req := CreateMatchRequest{ID: validMatch, TeamAID: validTeamA, TeamBID: validTeamB, OversLimit: 3, Venue: "The Oval"}
	a := &Team{ID: validTeamA, Name: "A", Roster: []scoring.Player{{ID: "a1", Name: "A1"}}}
	b := &Team{ID: validTeamB, Name: "B", Roster: []scoring.Player{{ID: "b1", Name: "B1"}}}
	s := req.setup(a, b)
	if s.ID != validMatch || s.TeamA.ID != validTeamA || s.TeamB.Players[0].ID != "b1" || s.Venue != "The Oval" {
		t.Errorf("setup() = %+v", s)
	}
	// The match keeps its own copy of the roster.
	a.Roster[0].Name = "Changed"
	if s.TeamA.Players[0].Name != "A1" {
		t.Error("setup() shares the roster slice with the team")
	}
}

func TestSpecificValidators(t *testing.T) {
	t.Run("validateStringLen", func(t *testing.T) {
		if err := validateStringLen("short", 10, "test"); err != nil {
			t.Errorf("Unexpected error for short string: %v", err)
		}
		if err := validateStringLen("way too long", 5, "test"); err == nil {
			t.Error("Expected error for long string, got nil")
		}
	})

	t.Run("validateBall", func(t *testing.T) {
		if err := validateBall(&scoring.BallInput{Runs: 4}); err != nil {
			t.Errorf("Unexpected error for valid ball: %v", err)
		}
		if err := validateBall(&scoring.BallInput{Seq: -1}); err == nil {
			t.Error("Expected error for negative seq")
		}
		if err := validateBall(&scoring.BallInput{BowlerID: strings.Repeat("b", 65)}); err == nil {
			t.Error("Expected error for long bowler id")
		}
	})

	t.Run("isValidEmail", func(t *testing.T) {
		if !isValidEmail("scorer@example.com") || isValidEmail("scorer") {
			t.Error("isValidEmail mismatch")
		}
	})
}
