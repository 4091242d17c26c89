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

package scoring

import "strings"

// Player is a roster entry.
type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Team is the fixed roster a match is played with.
type Team struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Players []Player `json:"players"`
}

// Has reports whether playerID is on the roster.
func (t Team) Has(playerID string) bool {
	for _, p := range t.Players {
		if p.ID == playerID {
			return true
		}
	}
	return false
}

// PlayerName returns the roster name for playerID, or the id itself.
func (t Team) PlayerName(playerID string) string {
	for _, p := range t.Players {
		if p.ID == playerID {
			return p.Name
		}
	}
	return playerID
}

// AllOutAt is the number of wickets that ends an innings for this roster.
func (t Team) AllOutAt() int {
	n := len(t.Players) - 1
	if n > MaxWickets {
		n = MaxWickets
	}
	return n
}

func (t Team) clone() Team {
	c := t
	c.Players = append([]Player(nil), t.Players...)
	return c
}

func (t Team) validate(op string) error {
	if strings.TrimSpace(t.ID) == "" {
		return validationError(op, "team id is required")
	}
	if strings.TrimSpace(t.Name) == "" {
		return validationError(op, "team %s has no name", t.ID)
	}
	if len(t.Players) < 2 {
		return validationError(op, "team %s needs at least 2 players, has %d", t.Name, len(t.Players))
	}
	seen := make(map[string]bool, len(t.Players))
	for _, p := range t.Players {
		if p.ID == "" {
			return validationError(op, "team %s has a player without id", t.Name)
		}
		if seen[p.ID] {
			return validationError(op, "team %s lists player %s twice", t.Name, p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}
