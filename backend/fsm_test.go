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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/c2FmZQ/storage"
	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	"github.com/ttbt-io/wicketkeeper/backend/scoring"
)

type bufferSink struct {
	bytes.Buffer
	cancelled bool
	closed    bool
}

func (s *bufferSink) ID() string    { return "test" }
func (s *bufferSink) Cancel() error { s.cancelled = true; return nil }
func (s *bufferSink) Close() error  { s.closed = true; return nil }

func newTestFSM(t *testing.T, svc *Service) *FSM {
	t.Helper()
	return NewFSM(svc, storage.New(t.TempDir(), nil))
}

func raftLog(t *testing.T, index uint64, rc RaftCommand) *raft.Log {
	t.Helper()
	data, err := json.Marshal(rc)
	if err != nil {
		t.Fatal(err)
	}
	return &raft.Log{Index: index, Data: data}
}

func TestFSM_Apply(t *testing.T) {
	svc := newTestService(t)
	f := newTestFSM(t, svc)
	id := startTestMatch(t, svc, 5)

	rc := RaftCommand{
		Type:    CmdMatch,
		MatchID: id,
		Command: &scoring.Command{ID: uuid.NewString(), Type: scoring.CmdRecordBall, Timestamp: 1, Ball: &scoring.BallInput{Runs: 6}},
	}
	resp, ok := f.Apply(raftLog(t, 20, rc)).(fsmResponse)
	if !ok || resp.Err != nil {
		t.Fatalf("Apply = %#v", resp)
	}
	if out, ok := resp.Value.(scoring.Outcome); !ok || out.Scoreboard.Innings[0].Runs != 6 {
		t.Errorf("Apply value = %#v", resp.Value)
	}
	if f.LastAppliedIndex() != 20 {
		t.Errorf("LastAppliedIndex = %d", f.LastAppliedIndex())
	}

	// Replayed after a restart: acknowledged, not applied twice.
	resp = f.Apply(raftLog(t, 20, rc)).(fsmResponse)
	if resp.Err != nil || resp.Value != nil {
		t.Errorf("replayed Apply = %#v", resp)
	}
	if sb, _ := svc.Scoreboard(id); sb.Innings[0].Runs != 6 {
		t.Errorf("runs = %d, want 6", sb.Innings[0].Runs)
	}

	// Engine errors travel back in the response.
	bad := RaftCommand{Type: CmdMatch, MatchID: id, Command: &scoring.Command{Type: scoring.CmdSetBowler, BowlerID: "a1"}}
	resp = f.Apply(raftLog(t, 21, bad)).(fsmResponse)
	if resp.Err == nil {
		t.Error("ineligible bowler accepted")
	}

	if resp := f.Apply(&raft.Log{Index: 22, Data: []byte("{not json")}).(fsmResponse); resp.Err == nil {
		t.Error("garbage entry accepted")
	}
	if f.Apply(&raft.Log{Index: 23}) != nil {
		t.Error("empty entry returned a response")
	}
	if f.LastAppliedIndex() != 23 {
		t.Errorf("LastAppliedIndex = %d, want 23", f.LastAppliedIndex())
	}
}

func TestFSM_NodeMeta(t *testing.T) {
	svc := newTestService(t)
	dir := t.TempDir()
	f := NewFSM(svc, storage.New(dir, nil))

	meta := &NodeMeta{NodeID: "node-2", HttpAddr: "10.0.0.2:8080", ProtocolVersion: CurrentProtocolVersion}
	resp := f.Apply(raftLog(t, 1, RaftCommand{Type: CmdNodeMeta, NodeMeta: meta})).(fsmResponse)
	if resp.Err != nil {
		t.Fatalf("Apply(node meta): %v", resp.Err)
	}
	if got := f.GetNodeAddr("node-2"); got != "10.0.0.2:8080" {
		t.Errorf("GetNodeAddr = %q", got)
	}
	if f.GetNodeMeta("node-9") != nil {
		t.Error("unknown node has metadata")
	}
	if resp := f.Apply(raftLog(t, 2, RaftCommand{Type: CmdNodeMeta})).(fsmResponse); resp.Err == nil {
		t.Error("empty node meta accepted")
	}

	// Node addresses survive a restart.
	reopened := NewFSM(svc, storage.New(dir, nil))
	if got := reopened.GetNodeAddr("node-2"); got != "10.0.0.2:8080" {
		t.Errorf("GetNodeAddr after reopen = %q", got)
	}
}

func TestFSM_SnapshotRestore(t *testing.T) {
	src := newTestService(t)
	srcFSM := newTestFSM(t, src)
	id := startTestMatch(t, src, 5)
	for _, r := range []int{1, 4} {
		if _, err := src.Apply(context.Background(), testScorer, id, ball(r)); err != nil {
			t.Fatal(err)
		}
	}
	policy := &UserAccessPolicy{DefaultPolicy: "allow", Admins: []string{"root@example.com"}}
	if err := src.UpdateAccessPolicy(context.Background(), policy); err != nil {
		t.Fatal(err)
	}
	srcFSM.nodeMap.Store("node-1", &NodeMeta{NodeID: "node-1", HttpAddr: "10.0.0.1:8080"})
	srcFSM.lastAppliedIndex.Store(50)

	snap, err := srcFSM.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	sink := &bufferSink{}
	if err := snap.Persist(sink); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if !sink.closed || sink.cancelled {
		t.Errorf("sink closed=%v cancelled=%v", sink.closed, sink.cancelled)
	}
	snap.Release()

	dst := newTestService(t)
	dstFSM := newTestFSM(t, dst)
	// State the snapshot does not know about is dropped.
	stale := startTestMatch(t, dst, 3)

	if err := dstFSM.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	sb, err := dst.Scoreboard(id)
	if err != nil {
		t.Fatalf("Scoreboard after restore: %v", err)
	}
	if sb.Innings[0].Runs != 5 || sb.Innings[0].LegalBalls != 2 {
		t.Errorf("restored innings = %+v", sb.Innings[0])
	}
	if _, err := dst.Scoreboard(stale); err == nil {
		t.Error("stale match survived restore")
	}
	if dst.Registry.CountTotalTeams() != 2 || dst.Registry.CountTotalMatches() != 1 {
		t.Errorf("restored registry: %d teams, %d matches", dst.Registry.CountTotalTeams(), dst.Registry.CountTotalMatches())
	}
	if !dst.Access.IsAdmin("root@example.com") {
		t.Error("access policy not restored")
	}
	if dstFSM.GetNodeAddr("node-1") != "10.0.0.1:8080" {
		t.Error("node map not restored")
	}
	if dstFSM.LastAppliedIndex() != 50 {
		t.Errorf("LastAppliedIndex = %d, want 50", dstFSM.LastAppliedIndex())
	}
	// Scoring continues on the restored copy.
	if _, err := dst.Apply(context.Background(), testScorer, id, ball(2)); err != nil {
		t.Errorf("Apply after restore: %v", err)
	}
}

func TestFSM_RestoreSkipsWhenLocalStateIsNewer(t *testing.T) {
	src := newTestService(t)
	srcFSM := newTestFSM(t, src)
	startTestMatch(t, src, 5)
	srcFSM.lastAppliedIndex.Store(10)
	var buf bytes.Buffer
	if err := srcFSM.persist(&buf); err != nil {
		t.Fatalf("persist: %v", err)
	}

	dst := newTestService(t)
	dstFSM := newTestFSM(t, dst)
	local := startTestMatch(t, dst, 3)
	dstFSM.setInitialized()
	dstFSM.lastAppliedIndex.Store(30)
	if _, err := dstFSM.Snapshot(); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if err := dstFSM.restore(&buf); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if _, err := dst.Scoreboard(local); err != nil {
		t.Errorf("local match lost by a stale snapshot: %v", err)
	}
	if dst.Registry.CountTotalMatches() != 1 {
		t.Errorf("matches = %d, want only the local one", dst.Registry.CountTotalMatches())
	}
}

func TestFSM_RestoreRejectsGarbage(t *testing.T) {
	f := newTestFSM(t, newTestService(t))
	if err := f.Restore(io.NopCloser(bytes.NewReader([]byte("not a snapshot")))); err == nil {
		t.Error("Restore accepted garbage")
	}
}
