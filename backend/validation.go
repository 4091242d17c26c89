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
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/ttbt-io/wicketkeeper/backend/scoring"
)

const (
	SchemaVersionV1        = 1
	CurrentSchemaVersion   = SchemaVersionV1
	CurrentProtocolVersion = 1
	CurrentAppVersion      = "0.1.0"
)

const (
	maxNameLen    = 50
	maxVenueLen   = 100
	maxRosterSize = 30
	maxOversLimit = 50
)

// ErrBadRequest marks request payloads rejected before they reach the engine.
var ErrBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

// isValidUUID checks if the string is a valid UUID.
func isValidUUID(id string) bool {
	return uuid.Validate(id) == nil
}

// isValidEmail checks if the string is a valid email address.
func isValidEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

func validateStringLen(s string, max int, name string) error {
	if len(s) > max {
		return badRequest("%s too long (max %d chars)", name, max)
	}
	return nil
}

// validateTeam checks a roster submitted by a client.
func validateTeam(t *Team) error {
	if !isValidUUID(t.ID) {
		return badRequest("invalid team id %q", t.ID)
	}
	if strings.TrimSpace(t.Name) == "" {
		return badRequest("team name is required")
	}
	if err := validateStringLen(t.Name, maxNameLen, "team name"); err != nil {
		return err
	}
	if err := validateStringLen(t.ShortName, 10, "short name"); err != nil {
		return err
	}
	if len(t.Roster) > maxRosterSize {
		return badRequest("roster too large (max %d players)", maxRosterSize)
	}
	seen := make(map[string]bool, len(t.Roster))
	for _, p := range t.Roster {
		if p.ID == "" || strings.TrimSpace(p.Name) == "" {
			return badRequest("every player needs an id and a name")
		}
		if seen[p.ID] {
			return badRequest("duplicate player id %s", p.ID)
		}
		seen[p.ID] = true
		if err := validateStringLen(p.Name, maxNameLen, "player name"); err != nil {
			return err
		}
	}
	for _, list := range [][]string{t.Roles.Admins, t.Roles.Scorers, t.Roles.Viewers} {
		for _, u := range list {
			if !isValidEmail(u) {
				return badRequest("invalid member email %q", u)
			}
		}
	}
	return nil
}

// CreateMatchRequest is the body of POST /api/matches.
type CreateMatchRequest struct {
	ID                string        `json:"id,omitempty"`
	TeamAID           string        `json:"team_a_id"`
	TeamBID           string        `json:"team_b_id"`
	OversLimit        int           `json:"overs_limit"`
	MaxOversPerBowler int           `json:"max_overs_per_bowler,omitempty"`
	Venue             string        `json:"venue,omitempty"`
	Toss              *scoring.Toss `json:"toss,omitempty"`
	Public            string        `json:"public,omitempty"`
}

func (req *CreateMatchRequest) validate() error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	} else if !isValidUUID(req.ID) {
		return badRequest("invalid match id %q", req.ID)
	}
	if !isValidUUID(req.TeamAID) || !isValidUUID(req.TeamBID) {
		return badRequest("team_a_id and team_b_id must be team ids")
	}
	if req.TeamAID == req.TeamBID {
		return badRequest("a team cannot play itself")
	}
	if req.OversLimit < 1 || req.OversLimit > maxOversLimit {
		return badRequest("overs_limit must be between 1 and %d", maxOversLimit)
	}
	if req.MaxOversPerBowler < 0 || req.MaxOversPerBowler > req.OversLimit {
		return badRequest("max_overs_per_bowler must be between 0 and overs_limit")
	}
	if err := validateStringLen(req.Venue, maxVenueLen, "venue"); err != nil {
		return err
	}
	switch req.Public {
	case "":
		req.Public = PublicRead
	case PublicRead, PublicNone:
	default:
		return badRequest("public must be %q or %q", PublicRead, PublicNone)
	}
	return nil
}

// setup builds the engine setup from the stored rosters.
func (req *CreateMatchRequest) setup(a, b *Team) scoring.Setup {
	return scoring.Setup{
		ID:                req.ID,
		TeamA:             a.Lineup(),
		TeamB:             b.Lineup(),
		OversLimit:        req.OversLimit,
		MaxOversPerBowler: req.MaxOversPerBowler,
		Venue:             req.Venue,
		Toss:              req.Toss,
	}
}

// validateBall checks the free-form parts of a ball before it is proposed.
func validateBall(in *scoring.BallInput) error {
	if in.Seq < 0 {
		return badRequest("seq must not be negative")
	}
	for _, id := range []string{in.BatsmanID, in.BowlerID, in.DismissedID} {
		if err := validateStringLen(id, 64, "player id"); err != nil {
			return err
		}
	}
	return nil
}
