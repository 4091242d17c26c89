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

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newEngineMatch(t *testing.T, e *Engine, id string, overs int) {
	t.Helper()
	s := testSetup(overs)
	s.ID = id
	if _, err := e.CreateMatch(s); err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	if _, err := e.StartMatch(id); err != nil {
		t.Fatalf("StartMatch: %v", err)
	}
	if _, err := e.SetBatsmen(id, "a1", "a2"); err != nil {
		t.Fatalf("SetBatsmen: %v", err)
	}
	if _, err := e.SetBowler(id, "b1"); err != nil {
		t.Fatalf("SetBowler: %v", err)
	}
}

func TestEngine_CreateAndLookup(t *testing.T) {
	e := NewEngine()
	s := testSetup(20)
	s.ID = ""
	out, err := e.CreateMatch(s)
	if err != nil {
		t.Fatal(err)
	}
	id := out.Scoreboard.MatchID
	if id == "" || !e.Has(id) {
		t.Fatalf("generated match id %q not registered", id)
	}
	if out.Scoreboard.Version != 1 || out.Scoreboard.Phase != MatchTossDone {
		t.Errorf("version %d phase %s", out.Scoreboard.Version, out.Scoreboard.Phase)
	}
	s.ID = id
	_, err = e.CreateMatch(s)
	wantKind(t, err, ErrConflict, "")

	_, err = e.Scoreboard("nope")
	wantKind(t, err, ErrNotFound, "")
	_, err = e.RecordBall("nope", dot())
	wantKind(t, err, ErrNotFound, "")
	if ids := e.IDs(); len(ids) != 1 || ids[0] != id {
		t.Errorf("IDs = %v", ids)
	}
	e.Remove(id)
	if e.Has(id) {
		t.Error("match still present after Remove")
	}
}

func TestEngine_RejectedCommandDoesNotBumpVersion(t *testing.T) {
	e := NewEngine()
	newEngineMatch(t, e, "m1", 20)
	before, _ := e.Scoreboard("m1")
	if _, err := e.SetBowler("m1", "a3"); err == nil {
		t.Fatal("SetBowler with a batting player succeeded")
	}
	after, _ := e.Scoreboard("m1")
	if after != before {
		t.Error("snapshot replaced after a rejected command")
	}
	log, _ := e.Log("m1")
	if len(log) != 4 {
		t.Errorf("log has %d commands, want 4", len(log))
	}
}

func TestEngine_ReplayRebuildsMatch(t *testing.T) {
	e := NewEngine()
	newEngineMatch(t, e, "m1", 2)
	balls := []BallInput{runs(1), wide(1), bowledOut(), noBall(4), bye(1), dot(), runs(6)}
	for _, in := range balls {
		sb, _ := e.Scoreboard("m1")
		c := sb.Current()
		if sb.NeedsBatsmanSelection {
			next, _ := e.AvailableBatsmen("m1", "")
			striker, nonStriker := next[0].ID, ""
			if sb.VacantEnd == EndNonStriker {
				striker, nonStriker = "", next[0].ID
			}
			if _, err := e.SetBatsmen("m1", striker, nonStriker); err != nil {
				t.Fatal(err)
			}
		}
		if sb.NeedsBowlerSelection {
			next, _ := e.AvailableBowlers("m1", "", "")
			if _, err := e.SetBowler("m1", next[0].ID); err != nil {
				t.Fatal(err)
			}
		}
		if in.IsWicket {
			in.DismissedID = c.StrikerID
		}
		if _, err := e.RecordBall("m1", in); err != nil {
			t.Fatalf("RecordBall(%+v): %v", in, err)
		}
	}

	log, err := e.Log("m1")
	if err != nil {
		t.Fatal(err)
	}
	e2 := NewEngine()
	replayed, err := e2.Load(log)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	orig, _ := e.Scoreboard("m1")
	a, b := *orig, *replayed
	a.Version, b.Version = 0, 0
	if !reflect.DeepEqual(a, b) {
		t.Errorf("replayed scoreboard differs\norig %+v\nnew  %+v", a.Innings, b.Innings)
	}
	if _, err := e2.RecordBall("m1", dot()); err != nil {
		t.Errorf("replayed match does not accept the next ball: %v", err)
	}
}

func TestReplay_RejectsBadLog(t *testing.T) {
	if _, err := Replay(nil); err == nil {
		t.Error("Replay(nil) succeeded")
	}
	s := testSetup(20)
	log := []Command{
		{Type: CmdCreate, Setup: &s},
		{Type: CmdRecordBall, Ball: &BallInput{Seq: 1}},
	}
	if _, err := Replay(log); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Replay of a ball before the start: %v", err)
	}
}

func TestEngine_ConcurrentRetriesCountOnce(t *testing.T) {
	e := NewEngine()
	newEngineMatch(t, e, "m1", 20)
	start, _ := e.Scoreboard("m1")

	var wg sync.WaitGroup
	var applied, duplicates atomic.Int32
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.RecordBall("m1", BallInput{Seq: 1, Runs: 4})
			if err != nil {
				t.Errorf("RecordBall: %v", err)
				return
			}
			if out.Duplicate {
				duplicates.Add(1)
			} else {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	if applied.Load() != 1 || duplicates.Load() != 19 {
		t.Errorf("applied %d duplicates %d", applied.Load(), duplicates.Load())
	}
	sb, _ := e.Scoreboard("m1")
	if sb.Current().Runs != 4 || sb.Current().DeliveryCount != 1 || len(sb.Current().Deliveries) != 1 {
		t.Errorf("runs %d deliveries %d", sb.Current().Runs, sb.Current().DeliveryCount)
	}
	if sb.Version != start.Version+1 {
		t.Errorf("version %d, want %d", sb.Version, start.Version+1)
	}
}

func TestEngine_ConcurrentReadsSeeConsistentSnapshots(t *testing.T) {
	e := NewEngine()
	newEngineMatch(t, e, "m1", 20)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for ctx.Err() == nil {
				sb, err := e.Scoreboard("m1")
				if err != nil {
					t.Error(err)
					return
				}
				if sb.Version < last {
					t.Errorf("version went back from %d to %d", last, sb.Version)
					return
				}
				last = sb.Version
				c := sb.Current()
				total := c.ExtrasTotal
				for _, b := range c.Batting {
					total += b.Runs
				}
				if total != c.Runs {
					t.Errorf("inconsistent snapshot v%d: batting+extras %d, runs %d", sb.Version, total, c.Runs)
					return
				}
			}
		}()
	}

	for i := range 30 {
		sb, _ := e.Scoreboard("m1")
		if sb.NeedsBowlerSelection {
			next, _ := e.AvailableBowlers("m1", "", "")
			if _, err := e.SetBowler("m1", next[0].ID); err != nil {
				t.Fatal(err)
			}
		}
		in := runs(i % 5)
		if i%7 == 3 {
			in = noBall(1)
		}
		if _, err := e.RecordBall("m1", in); err != nil {
			t.Fatal(err)
		}
	}
	cancel()
	wg.Wait()
}

func TestEngine_MatchesAreIndependent(t *testing.T) {
	e := NewEngine()
	const n = 8
	for i := range n {
		newEngineMatch(t, e, fmt.Sprintf("m%d", i), 20)
	}
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for range 6 {
				if _, err := e.RecordBall(id, runs(1)); err != nil {
					t.Errorf("%s: %v", id, err)
					return
				}
			}
		}(fmt.Sprintf("m%d", i))
	}
	wg.Wait()
	for i := range n {
		sb, _ := e.Scoreboard(fmt.Sprintf("m%d", i))
		if c := sb.Current(); c.Runs != 6 || c.LegalBalls != 6 || !sb.NeedsBowlerSelection {
			t.Errorf("m%d: runs %d balls %d needs bowler %v", i, c.Runs, c.LegalBalls, sb.NeedsBowlerSelection)
		}
	}
}

func TestEngine_Wait(t *testing.T) {
	e := NewEngine()
	newEngineMatch(t, e, "m1", 20)
	cur, _ := e.Scoreboard("m1")

	ch := make(chan *Scoreboard, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sb, err := e.Wait(ctx, "m1", cur.Version)
		if err != nil {
			t.Errorf("Wait: %v", err)
		}
		ch <- sb
	}()
	if _, err := e.RecordBall("m1", runs(4)); err != nil {
		t.Fatal(err)
	}
	select {
	case sb := <-ch:
		if sb == nil || sb.Version != cur.Version+1 {
			t.Errorf("Wait returned %+v", sb)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	sb, err := e.Wait(ctx, "m1", cur.Version+1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait on an idle match returned %v", err)
	}
	if sb == nil || sb.Version != cur.Version+1 {
		t.Errorf("Wait timeout snapshot = %+v", sb)
	}
}

type flakyJournal struct {
	mu   sync.Mutex
	fail bool
	cmds []Command
}

var errDiskFull = errors.New("disk full")

func (j *flakyJournal) Append(matchID string, cmd Command, sb *Scoreboard) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail {
		return errDiskFull
	}
	j.cmds = append(j.cmds, cmd)
	return nil
}

func TestEngine_JournalFailureRollsBack(t *testing.T) {
	j := &flakyJournal{}
	e := NewEngine(WithJournal(j))
	newEngineMatch(t, e, "m1", 20)
	if _, err := e.RecordBall("m1", runs(1)); err != nil {
		t.Fatal(err)
	}
	before, _ := e.Scoreboard("m1")

	j.fail = true
	_, err := e.RecordBall("m1", runs(4))
	if !errors.Is(err, errDiskFull) {
		t.Fatalf("RecordBall error = %v, want disk full", err)
	}
	if after, _ := e.Scoreboard("m1"); after != before {
		t.Error("snapshot published for a command that was not journaled")
	}
	var seq int64
	var runsNow int
	e.View("m1", func(m *Match) error {
		seq = m.NextSeq()
		runsNow = m.Current().Runs
		return nil
	})
	if seq != 2 || runsNow != 1 {
		t.Errorf("after rollback next seq %d runs %d", seq, runsNow)
	}

	j.fail = false
	out, err := e.RecordBall("m1", runs(4))
	if err != nil {
		t.Fatal(err)
	}
	if out.Delivery.Seq != 2 || out.Scoreboard.Current().Runs != 5 {
		t.Errorf("delivery seq %d runs %d", out.Delivery.Seq, out.Scoreboard.Current().Runs)
	}
	log, _ := e.Log("m1")
	if len(j.cmds) != len(log) {
		t.Errorf("journal has %d commands, log has %d", len(j.cmds), len(log))
	}
}

func TestEngine_OnUpdate(t *testing.T) {
	e := NewEngine()
	var mu sync.Mutex
	var versions []uint64
	e.OnUpdate(func(sb *Scoreboard) {
		mu.Lock()
		defer mu.Unlock()
		versions = append(versions, sb.Version)
	})
	newEngineMatch(t, e, "m1", 20)
	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(versions, []uint64{1, 2, 3, 4}) {
		t.Errorf("versions = %v", versions)
	}
}

func TestEngine_CompleteMatchIdempotent(t *testing.T) {
	e := NewEngine()
	newEngineMatch(t, e, "m1", 1)
	for range 6 {
		if _, err := e.RecordBall("m1", runs(2)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.EndInnings("m1", false); err != nil {
		t.Fatal(err)
	}
	if _, err := e.SetBatsmen("m1", "b1", "b2"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.SetBowler("m1", "a1"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.RecordBall("m1", runs(6)); err != nil {
		t.Fatal(err)
	}
	_, err := e.CompleteMatch("m1")
	wantKind(t, err, ErrInvalidState, RequireFinishInnings)
	out, err := e.EndInnings("m1", true)
	if err != nil {
		t.Fatal(err)
	}
	if out.Result == nil || out.Result.Description != "Team A won by 6 runs" {
		t.Fatalf("result = %+v", out.Result)
	}

	first, err := e.CompleteMatch("m1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.CompleteMatch("m1")
	if err != nil {
		t.Fatal(err)
	}
	if !first.Duplicate || !second.Duplicate {
		t.Error("completing a completed match was not acknowledged as a no-op")
	}
	if *first.Result != *second.Result || first.Scoreboard.Version != out.Scoreboard.Version {
		t.Errorf("results %+v / %+v, versions %d / %d", first.Result, second.Result, first.Scoreboard.Version, out.Scoreboard.Version)
	}
	r, err := e.Winner("m1")
	if err != nil || r.WinnerID != "ta" {
		t.Errorf("Winner = %+v, %v", r, err)
	}
}

func TestEngine_CreateJournalFailureLeavesNoMatch(t *testing.T) {
	e := NewEngine(WithJournal(&flakyJournal{fail: true}))
	s := testSetup(20)
	s.ID = "m1"
	if _, err := e.CreateMatch(s); !errors.Is(err, errDiskFull) {
		t.Fatalf("CreateMatch error = %v, want disk full", err)
	}
	if e.Has("m1") {
		t.Error("match left loaded after a failed create")
	}
	sb, err := e.Scoreboard("m1")
	wantKind(t, err, ErrNotFound, "")
	if sb != nil {
		t.Errorf("scoreboard = %+v", sb)
	}
}

func TestEngine_ScoreboardWithoutSnapshot(t *testing.T) {
	e := NewEngine()
	e.matches.Store("m1", &entry{changed: make(chan struct{})})
	sb, err := e.Scoreboard("m1")
	wantKind(t, err, ErrNotFound, "")
	if sb != nil {
		t.Errorf("scoreboard = %+v", sb)
	}
}

func TestEngine_RemoveWakesWaiters(t *testing.T) {
	e := NewEngine()
	newEngineMatch(t, e, "m1", 20)
	cur, _ := e.Scoreboard("m1")

	errc := make(chan error, 1)
	go func() {
		_, err := e.Wait(context.Background(), "m1", cur.Version)
		errc <- err
	}()
	// Let the waiter block before the match goes away.
	time.Sleep(20 * time.Millisecond)
	e.Remove("m1")
	select {
	case err := <-errc:
		wantKind(t, err, ErrNotFound, "")
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after Remove")
	}
	_, err := e.RecordBall("m1", runs(1))
	wantKind(t, err, ErrNotFound, "")
	e.Remove("m1")
}
