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
	"slices"
	"strings"
)

// ErrQuotaExceeded is returned when a user owns as many matches or teams as
// the access policy allows.
var ErrQuotaExceeded = errors.New("quota exceeded")

const authRequiredMessage = "Authentication required"

// AccessControl decides who may score or follow matches on this cluster and
// how many matches and teams each user may own. Per-match roles (owner,
// scorer, viewer) live in the registry; this only applies the cluster-wide
// UserAccessPolicy on top of them.
type AccessControl struct {
	r *Registry
	// rootAdmin comes from the command line and cannot be locked out by a
	// replicated policy.
	rootAdmin string
}

// NewAccessControl returns an AccessControl over the policy held in r.
func NewAccessControl(r *Registry, bootstrapAdmin string) *AccessControl {
	return &AccessControl{r: r, rootAdmin: normalizeEmail(bootstrapAdmin)}
}

// standing is one user's position under the current policy.
type standing struct {
	policy   *UserAccessPolicy
	admin    bool
	override UserOverride
	found    bool
}

func (ac *AccessControl) lookup(email string) standing {
	email = normalizeEmail(email)
	s := standing{policy: ac.r.GetAccessPolicy()}
	if email == "" {
		return s
	}
	if ac.rootAdmin != "" && email == ac.rootAdmin {
		s.admin = true
	}
	if s.policy == nil {
		return s
	}
	if !s.admin {
		s.admin = slices.ContainsFunc(s.policy.Admins, func(a string) bool { return strings.EqualFold(a, email) })
	}
	s.override, s.found = s.policy.Users[email]
	return s
}

// IsAllowed reports whether email may create matches and teams or open a
// live scoreboard. Admins always may. Without a policy the cluster is open.
// Otherwise a per-user override wins over the default. The returned message
// explains a denial.
func (ac *AccessControl) IsAllowed(email string) (bool, string) {
	if email == "" {
		return false, authRequiredMessage
	}
	s := ac.lookup(email)
	switch {
	case s.admin, s.policy == nil:
		return true, ""
	case s.found:
		if s.override.Access == "deny" {
			return false, s.policy.DefaultDenyMessage
		}
		return true, ""
	case s.policy.DefaultPolicy == "deny":
		return false, s.policy.DefaultDenyMessage
	}
	return true, ""
}

// IsAdmin reports whether email may read and replace the access policy.
func (ac *AccessControl) IsAdmin(email string) bool {
	if email == "" {
		return false
	}
	return ac.lookup(email).admin
}

// CheckMatchQuota returns ErrQuotaExceeded when email already owns the
// maximum number of matches.
func (ac *AccessControl) CheckMatchQuota(email string) error {
	maxMatches, _ := ac.GetUserQuotas(email)
	return checkQuota("match", maxMatches, ac.r.CountOwnedMatches(email))
}

// CheckTeamQuota returns ErrQuotaExceeded when email already owns the
// maximum number of teams.
func (ac *AccessControl) CheckTeamQuota(email string) error {
	_, maxTeams := ac.GetUserQuotas(email)
	return checkQuota("team", maxTeams, ac.r.CountOwnedTeams(email))
}

// A limit of 0 means unlimited. A negative limit means none.
func checkQuota(what string, limit, current int) error {
	if limit != 0 && current >= limit {
		return fmt.Errorf("%w: %s limit reached (%d)", ErrQuotaExceeded, what, max(limit, 0))
	}
	return nil
}

// GetUserQuotas returns how many matches and teams email may own. A non-zero
// per-user value replaces the policy default; 0 means unlimited.
func (ac *AccessControl) GetUserQuotas(email string) (maxMatches, maxTeams int) {
	s := ac.lookup(email)
	if s.policy == nil {
		return 0, 0
	}
	maxMatches, maxTeams = s.policy.DefaultMaxMatches, s.policy.DefaultMaxTeams
	if s.override.MaxMatches != 0 {
		maxMatches = s.override.MaxMatches
	}
	if s.override.MaxTeams != 0 {
		maxTeams = s.override.MaxTeams
	}
	return maxMatches, maxTeams
}
