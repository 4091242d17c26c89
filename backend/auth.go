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
	"strings"
)

type contextKey struct{}

// userIDKey is the context key for the authenticated user's ID (email).
// The associated value is always a string.
var userIDKey contextKey

// getUserID returns the UserID from the request context, if present.
func getUserID(r *http.Request) string {
	if val := r.Context().Value(userIDKey); val != nil {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}

// normalizeEmail ensures consistent casing and whitespace for User IDs.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// maskEmail obscures an email address for safe logging.
// e.g. "user@example.com" -> "u***@example.com"
func maskEmail(email string) string {
	if email == "" {
		return "<empty>"
	}
	parts := strings.Split(email, "@")
	if len(parts) != 2 || len(parts[0]) < 1 {
		return "****"
	}
	return string(parts[0][0]) + "***@" + parts[1]
}

// AccessLevel orders what a user may do with a match or team. Viewers read
// the scoreboard, scorers record balls and selections, organizers also
// manage the match itself.
type AccessLevel int

const (
	AccessNone AccessLevel = iota
	AccessRead
	AccessWrite
	AccessAdmin
)

func (l AccessLevel) String() string {
	switch l {
	case AccessRead:
		return "viewer"
	case AccessWrite:
		return "scorer"
	case AccessAdmin:
		return "organizer"
	}
	return "none"
}

// roleLevel returns the level a team's roles grant userId.
func roleLevel(userId, ownerId string, roles TeamRoles) AccessLevel {
	if userId == "" {
		return AccessNone
	}
	if normalizeEmail(ownerId) == userId {
		return AccessAdmin
	}
	for _, u := range roles.Admins {
		if normalizeEmail(u) == userId {
			return AccessAdmin
		}
	}
	for _, u := range roles.Scorers {
		if normalizeEmail(u) == userId {
			return AccessWrite
		}
	}
	for _, u := range roles.Viewers {
		if normalizeEmail(u) == userId {
			return AccessRead
		}
	}
	return AccessNone
}

// GetMatchAccess calculates the effective access level for a user on a
// match. Members of either team inherit their team role.
func GetMatchAccess(userId string, m MatchMetadata, team func(teamId string) (TeamMetadata, bool)) AccessLevel {
	userId = normalizeEmail(userId)
	if m.Status == StatusDeleted {
		return AccessNone
	}
	if userId != "" && normalizeEmail(m.OwnerID) == userId {
		return AccessAdmin
	}

	level := AccessNone
	if userId != "" {
		for u, perm := range m.Permissions.Users {
			if normalizeEmail(u) != userId {
				continue
			}
			switch perm {
			case PermWrite:
				level = AccessWrite
			case PermRead:
				level = AccessRead
			}
		}
		for _, id := range []string{m.TeamAID, m.TeamBID} {
			if id == "" || level == AccessAdmin {
				continue
			}
			if t, ok := team(id); ok && t.Status != StatusDeleted {
				level = max(level, roleLevel(userId, t.OwnerID, t.Roles))
			}
		}
	}
	if level == AccessNone && m.Permissions.Public == PublicRead {
		return AccessRead
	}
	return level
}

// GetTeamAccess calculates the effective access level for a user on a team.
func GetTeamAccess(userId string, team TeamMetadata) AccessLevel {
	if team.Status == StatusDeleted {
		return AccessNone
	}
	return roleLevel(normalizeEmail(userId), team.OwnerID, team.Roles)
}
