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
	"strings"
)

// Toss is the outcome of the coin toss.
type Toss struct {
	WinnerID string       `json:"winner_id"`
	Decision TossDecision `json:"decision"`
}

// Setup describes a match to be created.
type Setup struct {
	ID                string `json:"id,omitempty"`
	TeamA             Team   `json:"team_a"`
	TeamB             Team   `json:"team_b"`
	OversLimit        int    `json:"overs_limit"`
	MaxOversPerBowler int    `json:"max_overs_per_bowler,omitempty"`
	Venue             string `json:"venue,omitempty"`
	Toss              *Toss  `json:"toss,omitempty"`
}

// Validate checks the setup without creating anything.
func (s Setup) Validate() error {
	const op = "createMatch"
	if err := s.TeamA.validate(op); err != nil {
		return err
	}
	if err := s.TeamB.validate(op); err != nil {
		return err
	}
	if s.TeamA.ID == s.TeamB.ID {
		return validationError(op, "teams must differ, both are %s", s.TeamA.ID)
	}
	for _, p := range s.TeamA.Players {
		if s.TeamB.Has(p.ID) {
			return validationError(op, "player %s is on both teams", p.ID)
		}
	}
	if s.OversLimit <= 0 {
		return validationError(op, "overs limit must be positive, got %d", s.OversLimit)
	}
	if s.MaxOversPerBowler < 0 {
		return validationError(op, "max overs per bowler must not be negative")
	}
	if s.Toss != nil {
		return s.validToss(op, *s.Toss)
	}
	return nil
}

func (s Setup) validToss(op string, t Toss) error {
	if t.WinnerID != s.TeamA.ID && t.WinnerID != s.TeamB.ID {
		return validationError(op, "toss winner %q is not playing", t.WinnerID)
	}
	if t.Decision != ElectBat && t.Decision != ElectBowl {
		return validationError(op, "toss decision must be %q or %q, got %q", ElectBat, ElectBowl, t.Decision)
	}
	return nil
}

// Result is the outcome of a completed match.
type Result struct {
	WinnerID    string `json:"winner_id,omitempty"`
	WinnerName  string `json:"winner_name,omitempty"`
	Margin      int    `json:"margin,omitempty"`
	MarginType  string `json:"margin_type,omitempty"`
	Tied        bool   `json:"tied,omitempty"`
	Description string `json:"description"`
}

// Match is a two-innings limited-overs match. It is not safe for concurrent
// use; the Engine serializes access.
type Match struct {
	setup   Setup
	Phase   MatchPhase
	innings []*Innings
	result  *Result
	nextSeq int64
}

// NewMatch validates s and returns a scheduled match, or toss_done when s
// carries a toss.
func NewMatch(s Setup) (*Match, error) {
	if strings.TrimSpace(s.ID) == "" {
		return nil, validationError("createMatch", "match id is required")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	s.TeamA = s.TeamA.clone()
	s.TeamB = s.TeamB.clone()
	m := &Match{setup: s, Phase: MatchScheduled, nextSeq: 1}
	if s.Toss != nil {
		t := *s.Toss
		m.setup.Toss = &t
		m.Phase = MatchTossDone
	}
	return m, nil
}

// ID returns the match id.
func (m *Match) ID() string { return m.setup.ID }

// Setup returns a copy of the match configuration.
func (m *Match) Setup() Setup {
	s := m.setup
	s.TeamA = s.TeamA.clone()
	s.TeamB = s.TeamB.clone()
	if s.Toss != nil {
		t := *s.Toss
		s.Toss = &t
	}
	return s
}

// NextSeq is the sequence number the next delivery will get.
func (m *Match) NextSeq() int64 { return m.nextSeq }

// Innings returns innings n (1 or 2), or nil.
func (m *Match) Innings(n int) *Innings {
	if n < 1 || n > len(m.innings) {
		return nil
	}
	return m.innings[n-1]
}

// Current returns the innings in play, or nil before the start.
func (m *Match) Current() *Innings {
	if len(m.innings) == 0 {
		return nil
	}
	return m.innings[len(m.innings)-1]
}

func (m *Match) team(id string) Team {
	if m.setup.TeamA.ID == id {
		return m.setup.TeamA
	}
	return m.setup.TeamB
}

func (m *Match) opponent(id string) Team {
	if m.setup.TeamA.ID == id {
		return m.setup.TeamB
	}
	return m.setup.TeamA
}

// SetToss records the toss. It may be corrected until the match starts.
func (m *Match) SetToss(t Toss) error {
	const op = "setToss"
	switch m.Phase {
	case MatchCompleted:
		return newError(ErrMatchCompleted, op, "", "match %s is completed", m.ID())
	case MatchLive:
		return invalidState(op, "", "match %s has already started", m.ID())
	}
	if err := m.setup.validToss(op, t); err != nil {
		return err
	}
	m.setup.Toss = &t
	m.Phase = MatchTossDone
	return nil
}

// Start opens the first innings. The toss winner bats if they elected to.
func (m *Match) Start() error {
	const op = "startMatch"
	switch m.Phase {
	case MatchCompleted:
		return newError(ErrMatchCompleted, op, "", "match %s is completed", m.ID())
	case MatchLive:
		return invalidState(op, "", "match %s has already started", m.ID())
	case MatchScheduled:
		return invalidState(op, RequireSetToss, "toss has not been recorded")
	}
	t := m.setup.Toss
	batting := m.team(t.WinnerID)
	if t.Decision == ElectBowl {
		batting = m.opponent(t.WinnerID)
	}
	m.innings = append(m.innings, newInnings(1, batting, m.opponent(batting.ID), m.setup.OversLimit, m.setup.MaxOversPerBowler, 0))
	m.Phase = MatchLive
	return nil
}

func (m *Match) live(op string) (*Innings, error) {
	switch m.Phase {
	case MatchCompleted:
		return nil, newError(ErrMatchCompleted, op, "", "match %s is completed", m.ID())
	case MatchScheduled:
		return nil, invalidState(op, RequireSetToss, "match %s has not started", m.ID())
	case MatchTossDone:
		return nil, invalidState(op, RequireStartMatch, "match %s has not started", m.ID())
	}
	return m.Current(), nil
}

// SetBatsmen sets the openers or the incoming batsman in the current innings.
func (m *Match) SetBatsmen(striker, nonStriker string) error {
	inn, err := m.live("setBatsmen")
	if err != nil {
		return err
	}
	return inn.SetBatsmen(striker, nonStriker)
}

// SetBowler chooses the bowler for the next over of the current innings.
func (m *Match) SetBowler(id string) error {
	inn, err := m.live("setBowler")
	if err != nil {
		return err
	}
	return inn.SetBowler(id)
}

// RecordBall appends a delivery to the current innings. When in.Seq names a
// delivery already recorded with the same contents, that delivery is
// returned with duplicate set and nothing changes.
func (m *Match) RecordBall(in BallInput, id string, ts int64) (d Delivery, duplicate bool, err error) {
	const op = "recordBall"
	if in.Seq > 0 && in.Seq < m.nextSeq {
		prev, ok := m.findSeq(in.Seq)
		if ok && prev.matches(in) {
			return prev, true, nil
		}
		return Delivery{}, false, newError(ErrConflict, op, RequireResync, "seq %d was already recorded with different contents", in.Seq)
	}
	if in.Seq > m.nextSeq {
		return Delivery{}, false, invalidState(op, RequireResync, "expected seq %d, got %d", m.nextSeq, in.Seq)
	}
	inn, err := m.live(op)
	if err != nil {
		return Delivery{}, false, err
	}
	d, err = inn.RecordBall(in, m.nextSeq, id, ts)
	if err != nil {
		return Delivery{}, false, err
	}
	m.nextSeq++
	if inn.Number == 2 && inn.Completed() {
		m.finish()
	}
	return d, false, nil
}

func (m *Match) findSeq(seq int64) (Delivery, bool) {
	for i := len(m.innings) - 1; i >= 0; i-- {
		if d, ok := m.innings[i].ledger.FindSeq(seq); ok {
			return d, true
		}
	}
	return Delivery{}, false
}

// EndInnings closes the current innings. An innings still in play is only
// closed when force is set. Closing the first innings opens the second with
// a target of one more than the first innings total; closing the second
// completes the match.
func (m *Match) EndInnings(force bool) error {
	const op = "endInnings"
	inn, err := m.live(op)
	if err != nil {
		return err
	}
	if !inn.Completed() {
		if !force {
			return invalidState(op, RequireFinishInnings, "innings %d is %s", inn.Number, inn.Phase)
		}
		inn.complete(EndDeclared)
	}
	if inn.Number == 1 {
		m.innings = append(m.innings, newInnings(2, inn.BowlingTeam, inn.BattingTeam, m.setup.OversLimit, m.setup.MaxOversPerBowler, inn.Runs+1))
		return nil
	}
	m.finish()
	return nil
}

// Complete computes the result. Calling it again returns the same result.
func (m *Match) Complete() (Result, error) {
	const op = "completeMatch"
	if m.Phase == MatchCompleted {
		return *m.result, nil
	}
	if _, err := m.live(op); err != nil {
		return Result{}, err
	}
	if len(m.innings) < 2 {
		return Result{}, invalidState(op, RequireEndInnings, "second innings has not started")
	}
	if second := m.innings[1]; !second.Completed() {
		return Result{}, invalidState(op, RequireFinishInnings, "innings 2 is %s", second.Phase)
	}
	m.finish()
	return *m.result, nil
}

// Winner returns the result of a completed match.
func (m *Match) Winner() (Result, error) {
	if m.result == nil {
		return Result{}, invalidState("matchWinner", RequireCompleteMatch, "match %s has no result yet", m.ID())
	}
	return *m.result, nil
}

func (m *Match) finish() {
	if m.Phase == MatchCompleted {
		return
	}
	first, second := m.innings[0], m.innings[1]
	r := decide(first, second)
	m.result = &r
	m.Phase = MatchCompleted
}

func decide(first, second *Innings) Result {
	switch {
	case second.Runs >= second.Target:
		n := second.AllOutAt() - second.Wickets
		return Result{
			WinnerID:    second.BattingTeam.ID,
			WinnerName:  second.BattingTeam.Name,
			Margin:      n,
			MarginType:  "wickets",
			Description: fmt.Sprintf("%s won by %d %s", second.BattingTeam.Name, n, plural(n, "wicket")),
		}
	case first.Runs > second.Runs:
		n := first.Runs - second.Runs
		return Result{
			WinnerID:    first.BattingTeam.ID,
			WinnerName:  first.BattingTeam.Name,
			Margin:      n,
			MarginType:  "runs",
			Description: fmt.Sprintf("%s won by %d %s", first.BattingTeam.Name, n, plural(n, "run")),
		}
	}
	return Result{Tied: true, Description: "Match tied"}
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// AvailableBowlers lists who may bowl the next over for teamID, which must be
// the side in the field. An empty teamID means the fielding side.
func (m *Match) AvailableBowlers(teamID, exclude string) ([]Player, error) {
	const op = "availableBowlers"
	inn, err := m.current(op)
	if err != nil {
		return nil, err
	}
	if teamID != "" && teamID != inn.BowlingTeam.ID {
		return nil, validationError(op, "team %s is not in the field", teamID)
	}
	return inn.EligibleBowlers(exclude), nil
}

// AvailableBatsmen lists who may come in to bat for teamID, which must be the
// side batting. An empty teamID means the batting side.
func (m *Match) AvailableBatsmen(teamID string) ([]Player, error) {
	const op = "availableBatsmen"
	inn, err := m.current(op)
	if err != nil {
		return nil, err
	}
	if teamID != "" && teamID != inn.BattingTeam.ID {
		return nil, validationError(op, "team %s is not batting", teamID)
	}
	return inn.EligibleBatsmen(), nil
}

func (m *Match) current(op string) (*Innings, error) {
	inn := m.Current()
	if inn == nil {
		return nil, invalidState(op, RequireStartMatch, "match %s has not started", m.ID())
	}
	return inn, nil
}

// ValidateBowler checks whether id may bowl the next over of the current innings.
func (m *Match) ValidateBowler(id string) error {
	inn, err := m.current("validateBowler")
	if err != nil {
		return err
	}
	if inn.Completed() {
		return newError(ErrInningsCompleted, "validateBowler", RequireEndInnings, "innings %d is completed", inn.Number)
	}
	return inn.ValidateBowler(id)
}
