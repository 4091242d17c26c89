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
	"fmt"
	"iter"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/c2FmZQ/storage"
	"github.com/ttbt-io/wicketkeeper/backend/scoring"
)

// TeamRoles defines the members of a team by their role.
type TeamRoles struct {
	Admins  []string `json:"admins"`
	Scorers []string `json:"scorers"`
	Viewers []string `json:"viewers"`
}

func (r *TeamRoles) normalize() {
	if r.Admins == nil {
		r.Admins = make([]string, 0)
	}
	if r.Scorers == nil {
		r.Scorers = make([]string, 0)
	}
	if r.Viewers == nil {
		r.Viewers = make([]string, 0)
	}
}

// Team is a stored roster and the people allowed to work with it.
type Team struct {
	ID            string           `json:"id"`
	SchemaVersion int              `json:"schemaVersion"`
	Name          string           `json:"name,omitempty"`
	ShortName     string           `json:"shortName,omitempty"`
	Roster        []scoring.Player `json:"roster,omitempty"`
	OwnerID       string           `json:"ownerId"`
	Roles         TeamRoles        `json:"roles,omitempty"`
	UpdatedAt     int64            `json:"updatedAt,omitempty"`

	// Status is empty for live teams and "deleted" for tombstones.
	Status    string `json:"status,omitempty"`
	DeletedAt int64  `json:"deletedAt,omitempty"`

	// LastRaftIndex is the index of the last replicated entry applied to this team.
	LastRaftIndex uint64 `json:"lastRaftIndex,omitempty"`
}

func (t *Team) normalize() {
	if t.SchemaVersion == 0 {
		t.SchemaVersion = CurrentSchemaVersion
	}
	if t.Roster == nil {
		t.Roster = make([]scoring.Player, 0)
	}
	t.Roles.normalize()
}

// Lineup returns the roster in the form a match is played with.
func (t *Team) Lineup() scoring.Team {
	return scoring.Team{ID: t.ID, Name: t.Name, Players: slices.Clone(t.Roster)}
}

// Metadata returns the fields needed for indexing.
func (t *Team) Metadata() TeamMetadata {
	return TeamMetadata{
		ID:        t.ID,
		Name:      t.Name,
		OwnerID:   t.OwnerID,
		Roles:     t.Roles,
		UpdatedAt: t.UpdatedAt,
		Status:    t.Status,
		DeletedAt: t.DeletedAt,
	}
}

// TeamStore manages team persistence to disk.
type TeamStore struct {
	DataDir string
	storage *storage.Storage
	mu      sync.Map // teamId -> *sync.Mutex
}

// NewTeamStore creates a new TeamStore.
func NewTeamStore(dataDir string, s *storage.Storage) *TeamStore {
	return &TeamStore{
		DataDir: dataDir,
		storage: s,
	}
}

func (ts *TeamStore) lock(teamId string) func() {
	m, _ := ts.mu.LoadOrStore(teamId, &sync.Mutex{})
	mutex := m.(*sync.Mutex)
	mutex.Lock()
	return mutex.Unlock
}

func teamFile(teamId string) string {
	return filepath.Join("teams", fmt.Sprintf("%s.json", url.PathEscape(teamId)))
}

// SaveTeam saves the team data atomically.
func (ts *TeamStore) SaveTeam(team *Team) error {
	defer ts.lock(team.ID)()
	team.normalize()
	if err := ts.storage.SaveDataFile(teamFile(team.ID), team); err != nil {
		return fmt.Errorf("storage.SaveDataFile: %w", err)
	}
	return nil
}

// LoadTeam loads the team data by ID. Tombstones are returned as-is.
func (ts *TeamStore) LoadTeam(teamId string) (*Team, error) {
	var t Team
	if err := ts.storage.ReadDataFile(teamFile(teamId), &t); err != nil {
		if os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("ReadDataFile: %w", err)
	}
	if t.SchemaVersion > CurrentSchemaVersion {
		return nil, fmt.Errorf("team %s has unknown schema version %d", teamId, t.SchemaVersion)
	}
	t.normalize()
	return &t, nil
}

// LoadActiveTeam is LoadTeam that reports tombstones as missing.
func (ts *TeamStore) LoadActiveTeam(teamId string) (*Team, error) {
	t, err := ts.LoadTeam(teamId)
	if err != nil {
		return nil, err
	}
	if t.Status == StatusDeleted {
		return nil, os.ErrNotExist
	}
	return t, nil
}

// TeamMetadata contains only the fields needed for indexing.
type TeamMetadata struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	Roles     TeamRoles `json:"roles"`
	UpdatedAt int64     `json:"updatedAt"`
	Status    string    `json:"status"`
	DeletedAt int64     `json:"deletedAt"`
}

// ListAllTeamIDs returns the ids of every team file, tombstones included.
func (ts *TeamStore) ListAllTeamIDs() ([]string, error) {
	files, err := os.ReadDir(filepath.Join(ts.DataDir, "teams"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("could not read teams directory: %w", err)
	}
	var ids []string
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		id, err := url.PathUnescape(strings.TrimSuffix(file.Name(), ".json"))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ListAllTeams returns an iterator over all teams found in the teams directory.
func (ts *TeamStore) ListAllTeams() iter.Seq2[*Team, error] {
	return func(yield func(*Team, error) bool) {
		ids, err := ts.ListAllTeamIDs()
		if err != nil {
			yield(nil, err)
			return
		}
		for _, id := range ids {
			t, err := ts.LoadTeam(id)
			if err != nil {
				log.Printf("[STORE] Warning: could not load team '%s': %v", id, err)
				continue
			}
			if !yield(t, nil) {
				return
			}
		}
	}
}

// ListAllTeamMetadata returns an iterator over metadata for all teams.
func (ts *TeamStore) ListAllTeamMetadata() iter.Seq2[TeamMetadata, error] {
	return func(yield func(TeamMetadata, error) bool) {
		for t, err := range ts.ListAllTeams() {
			if err != nil {
				yield(TeamMetadata{}, err)
				return
			}
			if !yield(t.Metadata(), nil) {
				return
			}
		}
	}
}

// DeleteTeam replaces a team with a tombstone. Matches already created from
// the roster keep their copy of it.
func (ts *TeamStore) DeleteTeam(teamId string) error {
	t, err := ts.LoadTeam(teamId)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	tombstone := &Team{
		ID:            teamId,
		SchemaVersion: CurrentSchemaVersion,
		OwnerID:       t.OwnerID,
		Status:        StatusDeleted,
		DeletedAt:     time.Now().UnixNano(),
		LastRaftIndex: t.LastRaftIndex,
	}
	return ts.SaveTeam(tombstone)
}

// RestoreTeam overwrites the team with data from a snapshot.
func (ts *TeamStore) RestoreTeam(t *Team) error {
	return ts.SaveTeam(t)
}

// PurgeTeam permanently deletes the team file.
func (ts *TeamStore) PurgeTeam(teamId string) error {
	defer ts.lock(teamId)()
	if err := os.Remove(filepath.Join(ts.DataDir, teamFile(teamId))); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("could not purge team file: %w", err)
	}
	return nil
}
