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
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"runtime"
	"strings"
	"sync"
)

// Entries larger than this are rejected on restore.
const maxSnapshotEntrySize = 10 * 1024 * 1024

type snapshotManifest struct {
	NodeMap     map[string]*NodeMeta `json:"nodeMap"`
	Initialized bool                 `json:"initialized"`
	RaftIndex   uint64               `json:"raftIndex"`
	Policy      *UserAccessPolicy    `json:"policy,omitempty"`
}

// persist writes the whole state as a gzipped tar: manifest.json, then one
// entry per match record and per team.
func (f *FSM) persist(w io.Writer) error {
	if err := f.svc.Flush(); err != nil {
		return fmt.Errorf("failed to flush matches: %w", err)
	}
	gw := gzip.NewWriter(w)
	tw := tar.NewWriter(gw)

	manifest := snapshotManifest{
		NodeMap:     f.nodes(),
		Initialized: f.initialized.Load(),
		RaftIndex:   f.LastAppliedIndex(),
		Policy:      f.svc.Registry.GetAccessPolicy(),
	}
	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		return err
	}
	if err := writeFileToTar(tw, "manifest.json", manifestBytes); err != nil {
		return err
	}

	for rec, err := range f.svc.Matches.ListAllMatches() {
		if err != nil {
			return fmt.Errorf("list matches: %w", err)
		}
		data, err := json.Marshal(rec)
		if err != nil {
			log.Printf("[RAFT] Snapshot Warning: failed to marshal match %s: %v", rec.ID, err)
			continue
		}
		if err := writeFileToTar(tw, "matches/"+rec.ID+".json", data); err != nil {
			return err
		}
	}
	for t, err := range f.svc.Teams.ListAllTeams() {
		if err != nil {
			return fmt.Errorf("list teams: %w", err)
		}
		data, err := json.Marshal(t)
		if err != nil {
			log.Printf("[RAFT] Snapshot Warning: failed to marshal team %s: %v", t.ID, err)
			continue
		}
		if err := writeFileToTar(tw, "teams/"+t.ID+".json", data); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gw.Close()
}

func (f *FSM) restore(rc io.Reader) error {
	gz, err := gzip.NewReader(rc)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)

	processedMatches := make(map[string]bool)
	processedTeams := make(map[string]bool)
	var manifest snapshotManifest
	shouldSkipRestore := false

	numWorkers := runtime.NumCPU()
	jobs := make(chan any, numWorkers)
	errCh := make(chan error, 1)
	var wg sync.WaitGroup

	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				var err error
				switch v := job.(type) {
				case *MatchRecord:
					err = f.svc.Matches.RestoreMatch(v)
				case *Team:
					err = f.svc.Teams.RestoreTeam(v)
				}
				if err != nil {
					select {
					case errCh <- err:
					default:
					}
				}
			}
		}()
	}
	teardown := func() { close(jobs); wg.Wait() }
	dispatch := func(job any) error {
		select {
		case jobs <- job:
			return nil
		case err := <-errCh:
			return err
		}
	}

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			teardown()
			return err
		}
		if header.Size > maxSnapshotEntrySize {
			teardown()
			return fmt.Errorf("snapshot entry %s too large: %d bytes", header.Name, header.Size)
		}

		switch {
		case header.Name == "manifest.json":
			if err := json.NewDecoder(tr).Decode(&manifest); err != nil {
				teardown()
				return err
			}
			for k, v := range manifest.NodeMap {
				f.nodeMap.Store(k, v)
			}
			if manifest.Initialized {
				f.setInitialized()
			}
			if local := f.localIndex(); f.IsInitialized() && manifest.RaftIndex > 0 && local >= manifest.RaftIndex {
				log.Printf("[RAFT] Smart Restore: local state (index %d) is fresh enough, skipping.", local)
				shouldSkipRestore = true
			}
		case shouldSkipRestore:
		case strings.HasPrefix(header.Name, "matches/"):
			var rec MatchRecord
			if err := json.NewDecoder(tr).Decode(&rec); err != nil || rec.ID == "" {
				log.Printf("[RAFT] Restore Warning: bad entry %s: %v", header.Name, err)
				continue
			}
			processedMatches[rec.ID] = true
			if err := dispatch(&rec); err != nil {
				teardown()
				return err
			}
		case strings.HasPrefix(header.Name, "teams/"):
			var t Team
			if err := json.NewDecoder(tr).Decode(&t); err != nil || t.ID == "" {
				log.Printf("[RAFT] Restore Warning: bad entry %s: %v", header.Name, err)
				continue
			}
			processedTeams[t.ID] = true
			if err := dispatch(&t); err != nil {
				teardown()
				return err
			}
		}
	}

	teardown()
	select {
	case err := <-errCh:
		return err
	default:
	}

	f.saveNodes()
	if shouldSkipRestore {
		return nil
	}

	// Anything on disk that the snapshot does not know about is gone.
	if ids, err := f.svc.Matches.ListAllMatchIDs(); err == nil {
		for _, id := range ids {
			if !processedMatches[id] {
				if err := f.svc.Matches.PurgeMatch(id); err != nil {
					log.Printf("[RAFT] Restore Cleanup Warning: %v", err)
				}
			}
		}
	} else {
		log.Printf("[RAFT] Restore Cleanup Warning: failed to list matches: %v", err)
	}
	if ids, err := f.svc.Teams.ListAllTeamIDs(); err == nil {
		for _, id := range ids {
			if !processedTeams[id] {
				if err := f.svc.Teams.PurgeTeam(id); err != nil {
					log.Printf("[RAFT] Restore Cleanup Warning: %v", err)
				}
			}
		}
	} else {
		log.Printf("[RAFT] Restore Cleanup Warning: failed to list teams: %v", err)
	}

	if manifest.Policy != nil {
		if err := f.svc.applyUpdateAccessPolicy(manifest.Policy); err != nil {
			log.Printf("[RAFT] Restore Warning: access policy: %v", err)
		}
	}
	f.lastAppliedIndex.Store(manifest.RaftIndex)
	f.svc.reset()
	return nil
}

// localIndex is the applied index recorded by the last local snapshot.
func (f *FSM) localIndex() uint64 {
	if f.storage == nil {
		return 0
	}
	var state struct {
		LastAppliedIndex uint64 `json:"lastAppliedIndex"`
	}
	if err := f.storage.ReadDataFile(fsmStateFile, &state); err != nil {
		return 0
	}
	return state.LastAppliedIndex
}

func writeFileToTar(tw *tar.Writer, name string, data []byte) error {
	header := &tar.Header{
		Name: name,
		Size: int64(len(data)),
		Mode: 0644,
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}
