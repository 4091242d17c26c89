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
	"fmt"
	"math"
	"sort"
)

// PlayerStat is one player's batting and bowling line for an innings.
// StrikeRate, Overs and Economy are filled in on read.
type PlayerStat struct {
	PlayerID        string `json:"player_id"`
	TeamID          string `json:"team_id"`
	Name            string `json:"name"`
	BattingPosition int    `json:"batting_position,omitempty"`
	IsBatting       bool   `json:"is_batting"`
	IsBowling       bool   `json:"is_bowling"`
	IsOut           bool   `json:"is_out"`
	HowOut          string `json:"how_out,omitempty"`
	DismissedBy     string `json:"dismissed_by,omitempty"`

	Runs       int     `json:"runs"`
	BallsFaced int     `json:"balls_faced"`
	Fours      int     `json:"fours"`
	Sixes      int     `json:"sixes"`
	Dots       int     `json:"dots"`
	StrikeRate float64 `json:"strike_rate"`

	LegalBallsBowled int     `json:"legal_balls_bowled"`
	Overs            string  `json:"overs"`
	RunsConceded     int     `json:"runs_conceded"`
	Wickets          int     `json:"wickets"`
	Maidens          int     `json:"maidens"`
	Wides            int     `json:"wides"`
	NoBalls          int     `json:"no_balls"`
	DotsBowled       int     `json:"dots_bowled"`
	Economy          float64 `json:"economy"`
}

// ComputeStrikeRate returns runs per 100 balls, or 0 when no ball was faced.
func ComputeStrikeRate(runs, balls int) float64 {
	if balls == 0 {
		return 0
	}
	return round2(float64(runs) * 100 / float64(balls))
}

// ComputeEconomy returns runs conceded per six legal balls, or 0 when none were bowled.
func ComputeEconomy(runs, legalBalls int) float64 {
	if legalBalls == 0 {
		return 0
	}
	return round2(float64(runs) * BallsPerOver / float64(legalBalls))
}

// FormatOvers renders a legal ball count as overs, e.g. 22 -> "3.4".
func FormatOvers(legalBalls int) string {
	return fmt.Sprintf("%d.%d", legalBalls/BallsPerOver, legalBalls%BallsPerOver)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (s PlayerStat) derived() PlayerStat {
	s.StrikeRate = ComputeStrikeRate(s.Runs, s.BallsFaced)
	s.Economy = ComputeEconomy(s.RunsConceded, s.LegalBallsBowled)
	s.Overs = FormatOvers(s.LegalBallsBowled)
	if s.BattingPosition > 0 && !s.IsOut && s.HowOut == "" {
		s.HowOut = "not out"
	}
	return s
}

// Aggregator keeps the per-player figures of one innings, updated as each
// delivery is appended.
type Aggregator struct {
	batting Team
	bowling Team

	lines     map[string]*PlayerStat
	order     []string
	positions int

	overConceded int
	frozen       bool
}

// NewAggregator returns an aggregator for an innings between the two rosters.
func NewAggregator(batting, bowling Team) *Aggregator {
	return &Aggregator{
		batting: batting,
		bowling: bowling,
		lines:   make(map[string]*PlayerStat),
	}
}

func (a *Aggregator) line(id string) *PlayerStat {
	if l, ok := a.lines[id]; ok {
		return l
	}
	l := &PlayerStat{PlayerID: id}
	switch {
	case a.batting.Has(id):
		l.TeamID = a.batting.ID
		l.Name = a.batting.PlayerName(id)
	case a.bowling.Has(id):
		l.TeamID = a.bowling.ID
		l.Name = a.bowling.PlayerName(id)
	default:
		l.Name = id
	}
	a.lines[id] = l
	a.order = append(a.order, id)
	return l
}

// SetCrease marks the given batsmen as at the crease, assigning batting
// positions in order of first appearance.
func (a *Aggregator) SetCrease(ids ...string) {
	if a.frozen {
		return
	}
	for _, id := range ids {
		if id == "" {
			continue
		}
		l := a.line(id)
		if l.BattingPosition == 0 {
			a.positions++
			l.BattingPosition = a.positions
		}
		l.IsBatting = true
	}
}

// LeaveCrease clears the at-crease flag without a dismissal.
func (a *Aggregator) LeaveCrease(id string) {
	if a.frozen {
		return
	}
	if l, ok := a.lines[id]; ok {
		l.IsBatting = false
	}
}

// SetBowler marks id as the current bowler. An empty id clears the flag.
func (a *Aggregator) SetBowler(id string) {
	if a.frozen {
		return
	}
	for _, l := range a.lines {
		l.IsBowling = false
	}
	if id != "" {
		a.line(id).IsBowling = true
	}
}

// Apply updates the striker, non-striker, bowler and dismissed batsman for d.
func (a *Aggregator) Apply(d Delivery) {
	if a.frozen {
		return
	}
	striker := a.line(d.StrikerID)
	a.line(d.NonStrikerID)
	bowler := a.line(d.BowlerID)

	if d.FacedByStriker() {
		striker.BallsFaced++
		if d.Runs == 0 {
			striker.Dots++
		}
	}
	striker.Runs += d.Runs
	switch d.Runs {
	case 4:
		striker.Fours++
	case 6:
		striker.Sixes++
	}

	charged := d.BowlerRuns()
	bowler.RunsConceded += charged
	a.overConceded += charged
	switch d.Extra {
	case ExtraWide:
		bowler.Wides++
	case ExtraNoBall:
		bowler.NoBalls++
	}
	if d.Legal {
		bowler.LegalBallsBowled++
		if charged == 0 {
			bowler.DotsBowled++
		}
	}

	if d.IsWicket {
		out := a.line(d.DismissedID)
		out.IsOut = true
		out.IsBatting = false
		out.HowOut = howOut(d.WicketKind, bowler.Name)
		if d.WicketKind.BowlerCredited() {
			bowler.Wickets++
			out.DismissedBy = d.BowlerID
		}
	}

	if d.EndsOver() {
		if a.overConceded == 0 {
			bowler.Maidens++
		}
		a.overConceded = 0
	}
}

// Freeze stops all further updates.
func (a *Aggregator) Freeze() {
	a.frozen = true
	for _, l := range a.lines {
		l.IsBowling = false
	}
}

// Frozen reports whether the innings figures are final.
func (a *Aggregator) Frozen() bool {
	return a.frozen
}

// Get returns the line for id with derived fields computed.
func (a *Aggregator) Get(id string) (PlayerStat, bool) {
	l, ok := a.lines[id]
	if !ok {
		return PlayerStat{}, false
	}
	return l.derived(), true
}

// IsOut reports whether id has been dismissed in this innings.
func (a *Aggregator) IsOut(id string) bool {
	l, ok := a.lines[id]
	return ok && l.IsOut
}

// LegalBallsBowled returns how many legal balls id has bowled.
func (a *Aggregator) LegalBallsBowled(id string) int {
	if l, ok := a.lines[id]; ok {
		return l.LegalBallsBowled
	}
	return 0
}

// Rows returns every line in order of first appearance.
func (a *Aggregator) Rows() []PlayerStat {
	rows := make([]PlayerStat, 0, len(a.order))
	for _, id := range a.order {
		rows = append(rows, a.lines[id].derived())
	}
	return rows
}

// Batting returns the batting side's lines in batting order.
func (a *Aggregator) Batting() []PlayerStat {
	var rows []PlayerStat
	for _, id := range a.order {
		l := a.lines[id]
		if l.TeamID == a.batting.ID && l.BattingPosition > 0 {
			rows = append(rows, l.derived())
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].BattingPosition < rows[j].BattingPosition })
	return rows
}

// Bowling returns the lines of everyone who has bowled, in order of first appearance.
func (a *Aggregator) Bowling() []PlayerStat {
	var rows []PlayerStat
	for _, id := range a.order {
		l := a.lines[id]
		if l.TeamID == a.bowling.ID && (l.LegalBallsBowled > 0 || l.Wides > 0 || l.NoBalls > 0 || l.IsBowling) {
			rows = append(rows, l.derived())
		}
	}
	return rows
}

func howOut(k WicketKind, bowler string) string {
	switch k {
	case WicketBowled:
		return "b " + bowler
	case WicketCaught:
		return "c b " + bowler
	case WicketLBW:
		return "lbw b " + bowler
	case WicketStumped:
		return "st b " + bowler
	case WicketHitWicket:
		return "hit wicket b " + bowler
	case WicketRunOut:
		return "run out"
	}
	return string(k)
}
