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
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c2FmZQ/storage"
	"github.com/hashicorp/raft"
)

const (
	nodesFile    = "nodes.json"
	fsmStateFile = "fsm_state.json"
)

// fsmResponse is what FSM.Apply hands back to the proposer.
type fsmResponse struct {
	Value any
	Err   error
}

// FSM implements the raft.FSM interface on top of the Service.
type FSM struct {
	svc         *Service
	storage     *storage.Storage
	initialized atomic.Bool
	rm          *RaftManager

	nodeMap          sync.Map // map[string]*NodeMeta
	lastAppliedIndex atomic.Uint64
}

// NewFSM creates a new FSM.
func NewFSM(svc *Service, s *storage.Storage) *FSM {
	f := &FSM{
		svc:     svc,
		storage: s,
	}
	if s != nil {
		if _, err := os.Stat(filepath.Join(s.Dir(), "initialized")); err == nil {
			f.initialized.Store(true)
		}
		f.loadNodes()
	}
	return f
}

// LastAppliedIndex returns the index of the last applied log entry.
func (f *FSM) LastAppliedIndex() uint64 {
	return f.lastAppliedIndex.Load()
}

func (f *FSM) loadNodes() {
	var nodes map[string]*NodeMeta
	if err := f.storage.ReadDataFile(nodesFile, &nodes); err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[RAFT] failed to read %s: %v", nodesFile, err)
		}
		return
	}
	for k, v := range nodes {
		f.nodeMap.Store(k, v)
	}
}

func (f *FSM) nodes() map[string]*NodeMeta {
	nodes := make(map[string]*NodeMeta)
	f.nodeMap.Range(func(k, v any) bool {
		nodes[k.(string)] = v.(*NodeMeta)
		return true
	})
	return nodes
}

func (f *FSM) saveNodes() {
	if f.storage == nil {
		return
	}
	if err := f.storage.SaveDataFile(nodesFile, f.nodes()); err != nil {
		log.Printf("[RAFT] failed to save %s: %v", nodesFile, err)
	}
}

// IsInitialized reports whether this node has been part of a cluster.
func (f *FSM) IsInitialized() bool {
	return f.initialized.Load()
}

func (f *FSM) setInitialized() {
	if f.initialized.Swap(true) {
		return
	}
	if f.storage != nil {
		if err := f.storage.SaveDataFile("initialized", "true"); err != nil {
			log.Printf("[RAFT] failed to save initialized state: %v", err)
		}
	}
}

// GetNodeAddr returns the HTTP address a node advertised.
func (f *FSM) GetNodeAddr(nodeID string) string {
	if meta := f.GetNodeMeta(nodeID); meta != nil {
		return meta.HttpAddr
	}
	return ""
}

func (f *FSM) GetNodeMeta(nodeID string) *NodeMeta {
	if val, ok := f.nodeMap.Load(nodeID); ok {
		return val.(*NodeMeta)
	}
	return nil
}

// Apply applies a Raft log entry.
func (f *FSM) Apply(l *raft.Log) any {
	defer f.lastAppliedIndex.Store(l.Index)
	if len(l.Data) == 0 {
		return nil
	}
	var cmd RaftCommand
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		log.Printf("[RAFT] Apply: failed to decode entry %d: %v", l.Index, err)
		return fsmResponse{Err: err}
	}
	if cmd.Type == CmdNodeMeta {
		return fsmResponse{Err: f.applyNodeMeta(cmd.NodeMeta)}
	}
	v, err := f.svc.applyCommand(cmd, l.Index)
	return fsmResponse{Value: v, Err: err}
}

func (f *FSM) applyNodeMeta(meta *NodeMeta) error {
	if meta == nil || meta.NodeID == "" {
		return fmt.Errorf("missing node meta")
	}
	f.nodeMap.Store(meta.NodeID, meta)
	f.saveNodes()
	if f.rm != nil && (meta.NodeID != f.rm.NodeID || f.rm.Bootstrap) {
		f.setInitialized()
	}
	return nil
}

// FSMSnapshot represents a snapshot of the FSM state.
type FSMSnapshot struct {
	fsm *FSM
}

// Persist saves the snapshot to the given sink.
func (s *FSMSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := s.fsm.persist(sink); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

// Release releases the snapshot.
func (s *FSMSnapshot) Release() {}

func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	if err := f.svc.Flush(); err != nil {
		log.Printf("[RAFT] Snapshot: flushing matches failed: %v", err)
		return nil, err
	}
	if f.storage != nil {
		state := map[string]any{
			"lastAppliedIndex": f.LastAppliedIndex(),
			"timestamp":        time.Now().UnixNano(),
		}
		if err := f.storage.SaveDataFile(fsmStateFile, state); err != nil {
			log.Printf("[RAFT] Warning: failed to save %s: %v", fsmStateFile, err)
		}
	}
	return &FSMSnapshot{fsm: f}, nil
}

func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	return f.restore(rc)
}
