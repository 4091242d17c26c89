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
	"errors"
	"fmt"
	"testing"
)

// makeTeam returns a roster of n players with ids prefix1..prefixN.
func makeTeam(id, name, prefix string, n int) Team {
	t := Team{ID: id, Name: name}
	for i := 1; i <= n; i++ {
		t.Players = append(t.Players, Player{ID: fmt.Sprintf("%s%d", prefix, i), Name: fmt.Sprintf("%s %d", name, i)})
	}
	return t
}

func testSetup(overs int) Setup {
	return Setup{
		ID:         "m1",
		TeamA:      makeTeam("ta", "Team A", "a", 11),
		TeamB:      makeTeam("tb", "Team B", "b", 11),
		OversLimit: overs,
		Toss:       &Toss{WinnerID: "ta", Decision: ElectBat},
	}
}

// liveMatch returns a started match with a1/a2 at the crease and b1 bowling.
func liveMatch(t *testing.T, overs int) *Match {
	t.Helper()
	m, err := NewMatch(testSetup(overs))
	if err != nil {
		t.Fatalf("NewMatch: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.SetBatsmen("a1", "a2"); err != nil {
		t.Fatalf("SetBatsmen: %v", err)
	}
	if err := m.SetBowler("b1"); err != nil {
		t.Fatalf("SetBowler: %v", err)
	}
	return m
}

func mustBall(t *testing.T, m *Match, in BallInput) Delivery {
	t.Helper()
	d, _, err := m.RecordBall(in, "", 0)
	if err != nil {
		t.Fatalf("RecordBall(%+v): %v", in, err)
	}
	return d
}

func dot() BallInput { return BallInput{} }
func runs(n int) BallInput { return BallInput{Runs: n} }
func wide(n int) BallInput { return BallInput{Runs: n, IsWide: true} }
func noBall(n int) BallInput { return BallInput{Runs: n, IsNoBall: true} }
func bye(n int) BallInput { return BallInput{Runs: n, IsBye: true} }
func legBye(n int) BallInput { return BallInput{Runs: n, IsLegBye: true} }
func bowledOut() BallInput { return BallInput{IsWicket: true, WicketType: WicketBowled} }
func runOut(id string, n int) BallInput {
	return BallInput{Runs: n, IsWicket: true, WicketType: WicketRunOut, DismissedID: id}
}

// play records balls, choosing the first eligible bowler at the start of
// each over and the first available batsman after each wicket. A wicket
// without a dismissed id dismisses the striker.
func play(t *testing.T, m *Match, balls ...BallInput) {
	t.Helper()
	for i, in := range balls {
		inn := m.Current()
		if inn.VacantEnd() != "" {
			next, err := m.AvailableBatsmen("")
			if err != nil || len(next) == 0 {
				t.Fatalf("ball %d: no batsman available: %v", i, err)
			}
			if inn.VacantEnd() == EndStriker {
				err = m.SetBatsmen(next[0].ID, "")
			} else {
				err = m.SetBatsmen("", next[0].ID)
			}
			if err != nil {
				t.Fatalf("ball %d: SetBatsmen: %v", i, err)
			}
		}
		if inn.NeedsBowler() {
			bowlers, err := m.AvailableBowlers("", "")
			if err != nil || len(bowlers) == 0 {
				t.Fatalf("ball %d: no bowler available: %v", i, err)
			}
			if err := m.SetBowler(bowlers[0].ID); err != nil {
				t.Fatalf("ball %d: SetBowler: %v", i, err)
			}
		}
		if in.IsWicket && in.DismissedID == "" {
			in.DismissedID = inn.StrikerID
		}
		if _, _, err := m.RecordBall(in, "", 0); err != nil {
			t.Fatalf("ball %d (%+v): %v", i, in, err)
		}
	}
}

func repeat(n int, in BallInput) []BallInput {
	out := make([]BallInput, n)
	for i := range out {
		out[i] = in
	}
	return out
}

func concat(parts ...[]BallInput) []BallInput {
	var out []BallInput
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func wantKind(t *testing.T, err error, kind error, required string) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("got error %v, want %v", err, kind)
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("error %v is not *Error", err)
	}
	if e.Required != required {
		t.Errorf("required = %q, want %q", e.Required, required)
	}
}
