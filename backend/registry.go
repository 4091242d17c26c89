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
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ttbt-io/wicketkeeper/backend/search"
)

// Registry is the in-memory index of matches and teams. It answers listing,
// search and access questions without scanning the stores.
type Registry struct {
	matchStore *MatchStore
	teamStore  *TeamStore

	mu sync.RWMutex

	// Metadata caches (LRU). Tombstones are cached too.
	matchMetadata *lru.Cache[string, MatchMetadata]
	teamMetadata  *lru.Cache[string, TeamMetadata]

	matchIDs    map[string]bool
	teamIDs     map[string]bool
	teamMatches map[string]map[string]bool // teamId -> matchIds

	accessPolicy *UserAccessPolicy

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates a Registry and indexes both stores.
func NewRegistry(ms *MatchStore, ts *TeamStore) *Registry {
	mCache, _ := lru.New[string, MatchMetadata](5000)
	tCache, _ := lru.New[string, TeamMetadata](2000)
	r := &Registry{
		matchStore:    ms,
		teamStore:     ts,
		matchMetadata: mCache,
		teamMetadata:  tCache,
		matchIDs:      make(map[string]bool),
		teamIDs:       make(map[string]bool),
		teamMatches:   make(map[string]map[string]bool),
		stopChan:      make(chan struct{}),
	}
	r.Rebuild()
	return r
}

// StartGC starts the background tombstone garbage collector.
func (r *Registry) StartGC() {
	go func() {
		ticker := time.NewTicker(gcInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.PurgeOldTombstones()
			case <-r.stopChan:
				return
			}
		}
	}()
}

// StopGC stops the background tombstone garbage collector.
func (r *Registry) StopGC() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
}

// PurgeOldTombstones permanently deletes expired tombstones from disk.
func (r *Registry) PurgeOldTombstones() {
	cutoff := time.Now().Add(-tombstoneTTL).UnixNano()
	var purgedTeams, purgedMatches int

	for t, err := range r.teamStore.ListAllTeamMetadata() {
		if err == nil && t.Status == StatusDeleted && t.DeletedAt > 0 && t.DeletedAt < cutoff {
			if err := r.teamStore.PurgeTeam(t.ID); err == nil {
				r.teamMetadata.Remove(t.ID)
				purgedTeams++
			}
		}
	}
	for m, err := range r.matchStore.ListAllMatchMetadata() {
		if err == nil && m.Status == StatusDeleted && m.DeletedAt > 0 && m.DeletedAt < cutoff {
			if err := r.matchStore.PurgeMatch(m.ID); err == nil {
				r.matchMetadata.Remove(m.ID)
				purgedMatches++
			}
		}
	}
	if purgedTeams > 0 || purgedMatches > 0 {
		log.Printf("Registry: GC complete. Purged %d matches, %d teams.", purgedMatches, purgedTeams)
	}
}

// Rebuild reconstructs the index by scanning the stores.
func (r *Registry) Rebuild() {
	r.mu.Lock()
	r.matchIDs = make(map[string]bool)
	r.teamIDs = make(map[string]bool)
	r.teamMatches = make(map[string]map[string]bool)
	r.mu.Unlock()
	r.matchMetadata.Purge()
	r.teamMetadata.Purge()

	for t, err := range r.teamStore.ListAllTeamMetadata() {
		if err != nil {
			log.Printf("Registry: Error listing teams: %v", err)
			break
		}
		r.UpdateTeam(t)
	}
	for m, err := range r.matchStore.ListAllMatchMetadata() {
		if err != nil {
			log.Printf("Registry: Error listing matches: %v", err)
			break
		}
		r.UpdateMatch(m)
	}
	log.Printf("Registry: Rebuild complete. Indexed %d matches, %d teams.", r.CountTotalMatches(), r.CountTotalTeams())
}

// UpdateAccessPolicy updates the cached access policy.
func (r *Registry) UpdateAccessPolicy(policy *UserAccessPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accessPolicy = policy
}

// GetAccessPolicy returns the current access policy.
func (r *Registry) GetAccessPolicy() *UserAccessPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.accessPolicy
}

// UpdateMatch indexes a match. Tombstones remove it from listings.
func (r *Registry) UpdateMatch(m MatchMetadata) {
	r.matchMetadata.Add(m.ID, m)
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.Status == StatusDeleted {
		delete(r.matchIDs, m.ID)
		for _, ids := range r.teamMatches {
			delete(ids, m.ID)
		}
		return
	}
	r.matchIDs[m.ID] = true
	for _, teamId := range []string{m.TeamAID, m.TeamBID} {
		if teamId == "" {
			continue
		}
		if r.teamMatches[teamId] == nil {
			r.teamMatches[teamId] = make(map[string]bool)
		}
		r.teamMatches[teamId][m.ID] = true
	}
}

// UpdateTeam indexes a team.
func (r *Registry) UpdateTeam(t TeamMetadata) {
	r.teamMetadata.Add(t.ID, t)
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.Status == StatusDeleted {
		delete(r.teamIDs, t.ID)
		return
	}
	r.teamIDs[t.ID] = true
}

// MatchMeta returns a match's metadata, from cache or disk.
func (r *Registry) MatchMeta(id string) (MatchMetadata, bool) {
	if m, ok := r.matchMetadata.Get(id); ok {
		return m, true
	}
	rec, err := r.matchStore.LoadMatch(id)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Registry: failed to load match %s: %v", id, err)
		}
		return MatchMetadata{}, false
	}
	m := rec.Metadata()
	r.matchMetadata.Add(id, m)
	return m, true
}

// TeamMeta returns a team's metadata, from cache or disk.
func (r *Registry) TeamMeta(id string) (TeamMetadata, bool) {
	if t, ok := r.teamMetadata.Get(id); ok {
		return t, true
	}
	t, err := r.teamStore.LoadTeam(id)
	if err != nil {
		return TeamMetadata{}, false
	}
	m := t.Metadata()
	r.teamMetadata.Add(id, m)
	return m, true
}

// MatchExists reports whether a live (not deleted) match is indexed.
func (r *Registry) MatchExists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.matchIDs[id]
}

// IsMatchDeleted reports whether id is a tombstone.
func (r *Registry) IsMatchDeleted(id string) bool {
	m, ok := r.MatchMeta(id)
	return ok && m.Status == StatusDeleted
}

// TeamExists reports whether a live team is indexed.
func (r *Registry) TeamExists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.teamIDs[id]
}

// GetAccessLevel returns what userId may do with the match.
func (r *Registry) GetAccessLevel(userId, matchId string) AccessLevel {
	m, ok := r.MatchMeta(matchId)
	if !ok {
		return AccessNone
	}
	return GetMatchAccess(userId, m, r.TeamMeta)
}

// GetTeamAccessLevel returns what userId may do with the team.
func (r *Registry) GetTeamAccessLevel(userId, teamId string) AccessLevel {
	t, ok := r.TeamMeta(teamId)
	if !ok {
		return AccessNone
	}
	return GetTeamAccess(userId, t)
}

// CountOwnedMatches counts live matches owned by userId.
func (r *Registry) CountOwnedMatches(userId string) int {
	userId = normalizeEmail(userId)
	count := 0
	for _, id := range r.snapshotIDs(r.matchIDs) {
		if m, ok := r.MatchMeta(id); ok && normalizeEmail(m.OwnerID) == userId {
			count++
		}
	}
	return count
}

// CountOwnedTeams counts live teams owned by userId.
func (r *Registry) CountOwnedTeams(userId string) int {
	userId = normalizeEmail(userId)
	count := 0
	for _, id := range r.snapshotIDs(r.teamIDs) {
		if t, ok := r.TeamMeta(id); ok && normalizeEmail(t.OwnerID) == userId {
			count++
		}
	}
	return count
}

func (r *Registry) CountTotalMatches() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.matchIDs)
}

func (r *Registry) CountTotalTeams() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.teamIDs)
}

// TeamMatches returns the ids of live matches played by teamId.
func (r *Registry) TeamMatches(teamId string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.teamMatches[teamId]))
	for id := range r.teamMatches[teamId] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) snapshotIDs(set map[string]bool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// ListMatches returns the ids of the matches userId can see that satisfy
// query, sorted by sortBy ("date", "updated" or "venue").
func (r *Registry) ListMatches(userId, sortBy, order, query string) []string {
	if sortBy == "" {
		sortBy = "date"
	}
	if order == "" {
		if sortBy == "venue" {
			order = "asc"
		} else {
			order = "desc"
		}
	}
	q := lowerQuery(search.Parse(query), "date")

	type row struct {
		id   string
		meta MatchMetadata
	}
	var rows []row
	for _, id := range r.snapshotIDs(r.matchIDs) {
		meta, ok := r.MatchMeta(id)
		if !ok || meta.Status == StatusDeleted || !matchesMatch(meta, q) {
			continue
		}
		if GetMatchAccess(userId, meta, r.TeamMeta) < AccessRead {
			continue
		}
		rows = append(rows, row{id, meta})
	}

	key := func(m MatchMetadata) string {
		switch sortBy {
		case "updated":
			return time.UnixMilli(m.UpdatedAt).UTC().Format(time.RFC3339Nano)
		case "venue":
			return strings.ToLower(m.Summary.Venue)
		}
		return m.Date
	}
	sort.Slice(rows, func(i, j int) bool {
		ki, kj := key(rows[i].meta), key(rows[j].meta)
		if ki == kj {
			ki, kj = rows[i].id, rows[j].id
		}
		if order == "desc" {
			return ki > kj
		}
		return ki < kj
	})
	ids := make([]string, len(rows))
	for i, rw := range rows {
		ids[i] = rw.id
	}
	return ids
}

// ListTeams returns the ids of the teams userId belongs to that satisfy
// query, sorted by name or update time.
func (r *Registry) ListTeams(userId, sortBy, order, query string) []string {
	if sortBy == "" {
		sortBy = "name"
	}
	if order == "" {
		order = "asc"
	}
	q := lowerQuery(search.Parse(query))

	var metas []TeamMetadata
	for _, id := range r.snapshotIDs(r.teamIDs) {
		t, ok := r.TeamMeta(id)
		if !ok || GetTeamAccess(userId, t) < AccessRead || !matchesTeam(t, q) {
			continue
		}
		metas = append(metas, t)
	}
	sort.Slice(metas, func(i, j int) bool {
		a, b := metas[i], metas[j]
		var less bool
		switch {
		case sortBy == "updated" && a.UpdatedAt != b.UpdatedAt:
			less = a.UpdatedAt < b.UpdatedAt
		case sortBy == "name" && a.Name != b.Name:
			less = strings.ToLower(a.Name) < strings.ToLower(b.Name)
		default:
			less = a.ID < b.ID
		}
		if order == "desc" {
			return !less
		}
		return less
	})
	ids := make([]string, len(metas))
	for i, t := range metas {
		ids[i] = t.ID
	}
	return ids
}

// --- Search Helpers ---

func lowerQuery(q search.Query, keep ...string) search.Query {
	for i, t := range q.FreeText {
		q.FreeText[i] = strings.ToLower(t)
	}
outer:
	for i, f := range q.Filters {
		for _, k := range keep {
			if f.Key == k {
				continue outer
			}
		}
		q.Filters[i].Value = strings.ToLower(f.Value)
	}
	return q
}

func containsLower(s, substrLower string) bool {
	return strings.Contains(strings.ToLower(s), substrLower)
}

func matchesMatch(m MatchMetadata, q search.Query) bool {
	s := m.Summary
	for _, token := range q.FreeText {
		match := containsLower(s.TeamA, token) ||
			containsLower(s.TeamB, token) ||
			containsLower(s.Venue, token) ||
			containsLower(s.Result, token)
		if !match {
			return false
		}
	}
	for _, f := range q.Filters {
		var ok bool
		switch f.Key {
		case "team":
			ok = containsLower(s.TeamA, f.Value) || containsLower(s.TeamB, f.Value)
		case "venue":
			ok = containsLower(s.Venue, f.Value)
		case "status", "is":
			ok = s.Phase == f.Value
		case "result":
			ok = containsLower(s.Result, f.Value)
		case "overs":
			ok = f.MatchInt(s.OversLimit)
		case "date":
			ok = f.MatchString(m.Date)
		default:
			continue
		}
		if !f.Holds(ok) {
			return false
		}
	}
	return true
}

func matchesTeam(m TeamMetadata, q search.Query) bool {
	for _, token := range q.FreeText {
		if !containsLower(m.Name, token) {
			return false
		}
	}
	for _, f := range q.Filters {
		if f.Key == "name" && !f.Holds(containsLower(m.Name, f.Value)) {
			return false
		}
	}
	return true
}
