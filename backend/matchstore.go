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
	"encoding/json"
	"fmt"
	"iter"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/c2FmZQ/storage"
	"github.com/ttbt-io/wicketkeeper/backend/scoring"
)

// Permissions defines access control for a match.
type Permissions struct {
	Public string            `json:"public"` // "none", "read"
	Users  map[string]string `json:"users"`  // "email": "read"|"write"
}

// MatchSummary is the part of the latest scoreboard kept for listings.
type MatchSummary struct {
	TeamA      string `json:"teamA"`
	TeamB      string `json:"teamB"`
	Venue      string `json:"venue,omitempty"`
	OversLimit int    `json:"oversLimit"`
	Phase      string `json:"phase"`
	Score      string `json:"score,omitempty"`
	Result     string `json:"result,omitempty"`
	WinnerID   string `json:"winnerId,omitempty"`
	Version    uint64 `json:"version"`
}

func summarize(sb *scoring.Scoreboard) MatchSummary {
	s := MatchSummary{
		TeamA:      sb.TeamA.Name,
		TeamB:      sb.TeamB.Name,
		Venue:      sb.Venue,
		OversLimit: sb.OversLimit,
		Phase:      string(sb.Phase),
		Version:    sb.Version,
	}
	var parts []string
	for _, inn := range sb.Innings {
		parts = append(parts, fmt.Sprintf("%s %d/%d (%s)", inn.BattingTeamName, inn.Runs, inn.Wickets, inn.Overs))
	}
	s.Score = strings.Join(parts, ", ")
	if sb.Result != nil {
		s.Result = sb.Result.Description
		s.WinnerID = sb.Result.WinnerID
	}
	return s
}

// MatchRecord is a match as stored on disk: who owns it and the command log
// that rebuilds it.
type MatchRecord struct {
	ID            string            `json:"id"`
	SchemaVersion int               `json:"schemaVersion"`
	OwnerID       string            `json:"ownerId"`
	Permissions   Permissions       `json:"permissions"`
	TeamAID       string            `json:"teamAId,omitempty"`
	TeamBID       string            `json:"teamBId,omitempty"`
	CreatedAt     int64             `json:"createdAt,omitempty"` // Unix millis
	UpdatedAt     int64             `json:"updatedAt,omitempty"`
	Status        string            `json:"status"`
	Summary       MatchSummary      `json:"summary"`
	Commands      []scoring.Command `json:"commands,omitempty"`

	// DeletedAt is the timestamp (Unix Nano) when the match was deleted.
	DeletedAt int64 `json:"deletedAt,omitempty"`

	// LastRaftIndex tracks the index of the last replicated entry applied to
	// this match. Entries at or below it are skipped on replay.
	LastRaftIndex uint64 `json:"lastRaftIndex,omitempty"`
}

func (m *MatchRecord) normalize() {
	if m.SchemaVersion == 0 {
		m.SchemaVersion = CurrentSchemaVersion
	}
	if m.Permissions.Users == nil {
		m.Permissions.Users = make(map[string]string)
	}
	if m.Permissions.Public == "" {
		m.Permissions.Public = PublicRead
	}
	if m.Commands == nil {
		m.Commands = make([]scoring.Command, 0)
	}
}

// Date is the creation day, used by date: searches.
func (m *MatchRecord) Date() string {
	if m.CreatedAt == 0 {
		return ""
	}
	return time.UnixMilli(m.CreatedAt).UTC().Format("2006-01-02")
}

// Metadata returns the fields needed for indexing.
func (m *MatchRecord) Metadata() MatchMetadata {
	return MatchMetadata{
		ID:          m.ID,
		OwnerID:     m.OwnerID,
		Permissions: m.Permissions,
		TeamAID:     m.TeamAID,
		TeamBID:     m.TeamBID,
		Date:        m.Date(),
		UpdatedAt:   m.UpdatedAt,
		Status:      m.Status,
		Summary:     m.Summary,
		DeletedAt:   m.DeletedAt,
	}
}

// MatchMetadata contains only the fields needed for indexing and listing.
type MatchMetadata struct {
	ID          string       `json:"id"`
	OwnerID     string       `json:"ownerId"`
	Permissions Permissions  `json:"permissions"`
	TeamAID     string       `json:"teamAId"`
	TeamBID     string       `json:"teamBId"`
	Date        string       `json:"date"`
	UpdatedAt   int64        `json:"updatedAt"`
	Status      string       `json:"status"`
	Summary     MatchSummary `json:"summary"`
	DeletedAt   int64        `json:"deletedAt"`
}

// MatchStore persists match command logs. It implements scoring.Journal.
//
// With WriteBack set, appends only update the in-memory copy and mark the
// match dirty; Flush and FlushAll write it out. Replicated nodes use this
// because the raft log is the durable copy until the next snapshot.
type MatchStore struct {
	DataDir   string
	WriteBack bool
	Debug     bool
	storage   *storage.Storage
	mu        sync.Map // matchId -> *sync.RWMutex
	cache     sync.Map // matchId -> []byte (JSON of *MatchRecord)

	dirtyMu sync.Mutex
	dirty   map[string]bool
}

// NewMatchStore creates a new MatchStore.
func NewMatchStore(dataDir string, s *storage.Storage) *MatchStore {
	return &MatchStore{
		DataDir: dataDir,
		storage: s,
		dirty:   make(map[string]bool),
	}
}

func (ms *MatchStore) mutex(matchId string) *sync.RWMutex {
	m, _ := ms.mu.LoadOrStore(matchId, &sync.RWMutex{})
	return m.(*sync.RWMutex)
}

func matchFiles(matchId string) (data, meta string) {
	enc := url.PathEscape(matchId)
	return filepath.Join("matches", enc+".json"), filepath.Join("matches", enc+".meta.json")
}

// SaveMatch writes the record and its metadata sidecar.
func (ms *MatchStore) SaveMatch(rec *MatchRecord) error {
	mutex := ms.mutex(rec.ID)
	mutex.Lock()
	defer mutex.Unlock()
	return ms.saveLocked(rec)
}

func (ms *MatchStore) saveLocked(rec *MatchRecord) error {
	filename, metaFilename := matchFiles(rec.ID)
	if err := ms.storage.SaveDataFile(filename, rec); err != nil {
		return fmt.Errorf("storage.SaveDataFile: %w", err)
	}
	meta := rec.Metadata()
	if err := ms.storage.SaveDataFile(metaFilename, &meta); err != nil {
		log.Printf("[STORE] Warning: failed to save metadata sidecar for match %s: %v", rec.ID, err)
	}
	if b, err := json.Marshal(rec); err == nil {
		ms.cache.Store(rec.ID, b)
	}
	ms.dirtyMu.Lock()
	delete(ms.dirty, rec.ID)
	ms.dirtyMu.Unlock()
	return nil
}

// put stores rec in the cache and writes it unless the store is in
// write-back mode. Called with the match's mutex held.
func (ms *MatchStore) put(rec *MatchRecord) error {
	if !ms.WriteBack {
		return ms.saveLocked(rec)
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ms.cache.Store(rec.ID, b)
	ms.dirtyMu.Lock()
	ms.dirty[rec.ID] = true
	ms.dirtyMu.Unlock()
	return nil
}

// Append journals one accepted command. A create command starts a new record
// owned by the command's user.
func (ms *MatchStore) Append(matchID string, cmd scoring.Command, sb *scoring.Scoreboard) error {
	mutex := ms.mutex(matchID)
	mutex.Lock()
	defer mutex.Unlock()

	var rec *MatchRecord
	if cmd.Type == scoring.CmdCreate {
		rec = &MatchRecord{
			ID:        matchID,
			OwnerID:   normalizeEmail(cmd.UserID),
			CreatedAt: cmd.Timestamp,
		}
		if cmd.Setup != nil {
			rec.TeamAID = cmd.Setup.TeamA.ID
			rec.TeamBID = cmd.Setup.TeamB.ID
		}
		if old, err := ms.loadLocked(matchID); err == nil {
			if old.Status != StatusDeleted {
				return fmt.Errorf("match %s already stored", matchID)
			}
			rec.LastRaftIndex = old.LastRaftIndex
		}
		rec.normalize()
	} else {
		var err error
		if rec, err = ms.loadLocked(matchID); err != nil {
			return err
		}
		if rec.Status == StatusDeleted {
			return os.ErrNotExist
		}
	}
	rec.Commands = append(rec.Commands, cmd)
	if cmd.Index > rec.LastRaftIndex {
		rec.LastRaftIndex = cmd.Index
	}
	rec.UpdatedAt = cmd.Timestamp
	rec.Summary = summarize(sb)
	rec.Status = rec.Summary.Phase
	if ms.Debug {
		log.Printf("[STORE] match %s: %s -> %d commands", matchID, cmd.Type, len(rec.Commands))
	}
	return ms.put(rec)
}

// SetPermissions replaces the match's permissions.
func (ms *MatchStore) SetPermissions(matchID string, p Permissions, index uint64) error {
	mutex := ms.mutex(matchID)
	mutex.Lock()
	defer mutex.Unlock()
	rec, err := ms.loadLocked(matchID)
	if err != nil {
		return err
	}
	rec.Permissions = p
	rec.normalize()
	if index > rec.LastRaftIndex {
		rec.LastRaftIndex = index
	}
	return ms.put(rec)
}

// Flush persists a specific match to disk if it is dirty.
func (ms *MatchStore) Flush(matchId string) error {
	ms.dirtyMu.Lock()
	isDirty := ms.dirty[matchId]
	ms.dirtyMu.Unlock()
	if !isDirty {
		return nil
	}
	mutex := ms.mutex(matchId)
	mutex.Lock()
	defer mutex.Unlock()

	val, ok := ms.cache.Load(matchId)
	if !ok {
		ms.dirtyMu.Lock()
		delete(ms.dirty, matchId)
		ms.dirtyMu.Unlock()
		return fmt.Errorf("match %s marked dirty but not found in cache", matchId)
	}
	var rec MatchRecord
	if err := json.Unmarshal(val.([]byte), &rec); err != nil {
		return fmt.Errorf("failed to unmarshal match from cache for flush: %w", err)
	}
	return ms.saveLocked(&rec)
}

// FlushAll persists all dirty matches to disk.
func (ms *MatchStore) FlushAll() error {
	ms.dirtyMu.Lock()
	ids := make([]string, 0, len(ms.dirty))
	for id := range ms.dirty {
		ids = append(ids, id)
	}
	ms.dirtyMu.Unlock()

	for _, id := range ids {
		if err := ms.Flush(id); err != nil {
			return fmt.Errorf("failed to flush match %s: %w", id, err)
		}
	}
	return nil
}

// DirtyCount reports how many matches await a flush.
func (ms *MatchStore) DirtyCount() int {
	ms.dirtyMu.Lock()
	defer ms.dirtyMu.Unlock()
	return len(ms.dirty)
}

// LoadMatch loads the record by match ID. Tombstones are returned as-is.
func (ms *MatchStore) LoadMatch(matchId string) (*MatchRecord, error) {
	mutex := ms.mutex(matchId)
	mutex.RLock()
	defer mutex.RUnlock()
	return ms.loadLocked(matchId)
}

func (ms *MatchStore) loadLocked(matchId string) (*MatchRecord, error) {
	if val, ok := ms.cache.Load(matchId); ok {
		var rec MatchRecord
		if err := json.Unmarshal(val.([]byte), &rec); err == nil {
			rec.normalize()
			return &rec, nil
		}
		ms.cache.Delete(matchId)
	}
	filename, _ := matchFiles(matchId)
	var rec MatchRecord
	if err := ms.storage.ReadDataFile(filename, &rec); err != nil {
		if os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("ReadDataFile: %w", err)
	}
	if rec.SchemaVersion > CurrentSchemaVersion {
		return nil, fmt.Errorf("match %s has unknown schema version %d", matchId, rec.SchemaVersion)
	}
	rec.normalize()
	if b, err := json.Marshal(&rec); err == nil {
		ms.cache.Store(matchId, b)
	}
	return &rec, nil
}

// DeleteMatch replaces a match with a tombstone.
func (ms *MatchStore) DeleteMatch(matchId string, index uint64) error {
	mutex := ms.mutex(matchId)
	mutex.Lock()
	defer mutex.Unlock()

	rec, err := ms.loadLocked(matchId)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	tombstone := &MatchRecord{
		ID:            matchId,
		SchemaVersion: CurrentSchemaVersion,
		OwnerID:       rec.OwnerID,
		TeamAID:       rec.TeamAID,
		TeamBID:       rec.TeamBID,
		CreatedAt:     rec.CreatedAt,
		Status:        StatusDeleted,
		DeletedAt:     time.Now().UnixNano(),
		LastRaftIndex: max(rec.LastRaftIndex, index),
	}
	tombstone.normalize()
	return ms.saveLocked(tombstone)
}

// RestoreMatch overwrites the match with data from a snapshot.
func (ms *MatchStore) RestoreMatch(rec *MatchRecord) error {
	rec.normalize()
	return ms.SaveMatch(rec)
}

// PurgeMatch permanently deletes the match files.
func (ms *MatchStore) PurgeMatch(matchId string) error {
	mutex := ms.mutex(matchId)
	mutex.Lock()
	defer mutex.Unlock()

	ms.cache.Delete(matchId)
	ms.dirtyMu.Lock()
	delete(ms.dirty, matchId)
	ms.dirtyMu.Unlock()

	filename, metaFilename := matchFiles(matchId)
	if err := os.Remove(filepath.Join(ms.DataDir, filename)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not purge match file: %w", err)
	}
	if err := os.Remove(filepath.Join(ms.DataDir, metaFilename)); err != nil && !os.IsNotExist(err) {
		log.Printf("[STORE] Warning: could not purge meta file for match %s: %v", matchId, err)
	}
	return nil
}

// ListAllMatchIDs returns the ids of all matches on disk and in the dirty cache.
func (ms *MatchStore) ListAllMatchIDs() ([]string, error) {
	files, err := os.ReadDir(filepath.Join(ms.DataDir, "matches"))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("could not read matches directory: %w", err)
	}
	seen := make(map[string]bool)
	var ids []string
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".meta.json") {
			continue
		}
		id, err := url.PathUnescape(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	ms.dirtyMu.Lock()
	for id := range ms.dirty {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	ms.dirtyMu.Unlock()
	return ids, nil
}

// ListAllMatchMetadata returns metadata for all matches without loading
// command logs. The sidecar is used when present and not stale.
func (ms *MatchStore) ListAllMatchMetadata() iter.Seq2[MatchMetadata, error] {
	return func(yield func(MatchMetadata, error) bool) {
		ids, err := ms.ListAllMatchIDs()
		if err != nil {
			yield(MatchMetadata{}, err)
			return
		}
		for _, id := range ids {
			ms.dirtyMu.Lock()
			isDirty := ms.dirty[id]
			ms.dirtyMu.Unlock()
			if !isDirty {
				_, metaFilename := matchFiles(id)
				var meta MatchMetadata
				if err := ms.storage.ReadDataFile(metaFilename, &meta); err == nil {
					if !yield(meta, nil) {
						return
					}
					continue
				} else if !os.IsNotExist(err) {
					log.Printf("[STORE] Warning: failed to load metadata for %s: %v. Falling back to main file.", id, err)
				}
			}
			rec, err := ms.LoadMatch(id)
			if err != nil {
				log.Printf("[STORE] Warning: failed to load match %s: %v", id, err)
				continue
			}
			if !yield(rec.Metadata(), nil) {
				return
			}
		}
	}
}

// ListAllMatches returns an iterator over all match records.
func (ms *MatchStore) ListAllMatches() iter.Seq2[*MatchRecord, error] {
	return func(yield func(*MatchRecord, error) bool) {
		ids, err := ms.ListAllMatchIDs()
		if err != nil {
			yield(nil, err)
			return
		}
		for _, id := range ids {
			rec, err := ms.LoadMatch(id)
			if err != nil {
				log.Printf("[STORE] Warning: could not load match '%s': %v", id, err)
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}
