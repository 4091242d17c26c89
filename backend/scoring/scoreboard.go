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

// RecentBallCount is how many deliveries a scoreboard shows as recent.
const RecentBallCount = 12

// InningsCard is the read model of one innings.
type InningsCard struct {
	Number          int          `json:"number"`
	BattingTeamID   string       `json:"batting_team_id"`
	BattingTeamName string       `json:"batting_team_name"`
	BowlingTeamID   string       `json:"bowling_team_id"`
	BowlingTeamName string       `json:"bowling_team_name"`
	Phase           InningsPhase `json:"phase"`
	EndReason       EndReason    `json:"end_reason,omitempty"`

	Runs            int     `json:"runs"`
	Wickets         int     `json:"wickets"`
	AllOutAt        int     `json:"all_out_at"`
	LegalBalls      int     `json:"legal_balls"`
	Overs           string  `json:"overs"`
	OversLimit      int     `json:"overs_limit"`
	BallsRemaining  int     `json:"balls_remaining"`
	Target          int     `json:"target,omitempty"`
	RunsNeeded      int     `json:"runs_needed,omitempty"`
	RunRate         float64 `json:"run_rate"`
	RequiredRunRate float64 `json:"required_run_rate,omitempty"`

	Extras      Extras `json:"extras"`
	ExtrasTotal int    `json:"extras_total"`

	StrikerID            string `json:"striker_id,omitempty"`
	NonStrikerID         string `json:"non_striker_id,omitempty"`
	BowlerID             string `json:"bowler_id,omitempty"`
	PreviousOverBowlerID string `json:"previous_over_bowler_id,omitempty"`

	Partnership   Partnership    `json:"partnership"`
	FallOfWickets []FallOfWicket `json:"fall_of_wickets"`
	RecentBalls   []string       `json:"recent_balls"`
	LastDelivery  *Delivery      `json:"last_delivery,omitempty"`
	DeliveryCount int            `json:"delivery_count"`
	Deliveries    []Delivery     `json:"deliveries"`

	Batting []PlayerStat `json:"batting"`
	Bowling []PlayerStat `json:"bowling"`
}

// Scoreboard is an immutable snapshot of a match. Every slice and pointer is
// a copy, so a published snapshot never changes.
type Scoreboard struct {
	MatchID           string     `json:"match_id"`
	Version           uint64     `json:"version"`
	Phase             MatchPhase `json:"phase"`
	TeamA             Team       `json:"team_a"`
	TeamB             Team       `json:"team_b"`
	OversLimit        int        `json:"overs_limit"`
	MaxOversPerBowler int        `json:"max_overs_per_bowler,omitempty"`
	Venue             string     `json:"venue,omitempty"`
	Toss              *Toss      `json:"toss,omitempty"`
	NextSeq           int64      `json:"next_seq"`

	CurrentInnings int           `json:"current_innings"`
	Innings        []InningsCard `json:"innings"`

	NeedsBowlerSelection  bool   `json:"needs_bowler_selection"`
	NeedsBatsmanSelection bool   `json:"needs_batsman_selection"`
	VacantEnd             End    `json:"vacant_end,omitempty"`
	Required              string `json:"required,omitempty"`

	Striker    *PlayerStat `json:"striker,omitempty"`
	NonStriker *PlayerStat `json:"non_striker,omitempty"`
	Bowler     *PlayerStat `json:"bowler,omitempty"`

	Result *Result `json:"result,omitempty"`
}

// Current returns the card of the innings in play, or nil.
func (s *Scoreboard) Current() *InningsCard {
	if s == nil || s.CurrentInnings == 0 {
		return nil
	}
	return &s.Innings[s.CurrentInnings-1]
}

func (inn *Innings) card() InningsCard {
	c := InningsCard{
		Number:               inn.Number,
		BattingTeamID:        inn.BattingTeam.ID,
		BattingTeamName:      inn.BattingTeam.Name,
		BowlingTeamID:        inn.BowlingTeam.ID,
		BowlingTeamName:      inn.BowlingTeam.Name,
		Phase:                inn.Phase,
		EndReason:            inn.EndReason,
		Runs:                 inn.Runs,
		Wickets:              inn.Wickets,
		AllOutAt:             inn.AllOutAt(),
		LegalBalls:           inn.LegalBalls,
		Overs:                inn.Overs(),
		OversLimit:           inn.OversLimit,
		BallsRemaining:       inn.BallsRemaining(),
		Target:               inn.Target,
		RunsNeeded:           inn.RunsNeeded(),
		RunRate:              inn.RunRate(),
		RequiredRunRate:      inn.RequiredRunRate(),
		Extras:               inn.Extras,
		ExtrasTotal:          inn.Extras.Total(),
		StrikerID:            inn.StrikerID,
		NonStrikerID:         inn.NonStrikerID,
		BowlerID:             inn.BowlerID,
		PreviousOverBowlerID: inn.PreviousOverBowlerID,
		Partnership:          inn.Partnership(),
		FallOfWickets:        append([]FallOfWicket{}, inn.FallOfWickets...),
		DeliveryCount:        inn.ledger.Len(),
		Deliveries:           append([]Delivery{}, inn.ledger.All()...),
		Batting:              inn.stats.Batting(),
		Bowling:              inn.stats.Bowling(),
	}
	recent := inn.ledger.LastN(RecentBallCount)
	c.RecentBalls = make([]string, 0, len(recent))
	for _, d := range recent {
		c.RecentBalls = append(c.RecentBalls, d.Short())
	}
	if last, ok := inn.ledger.Last(); ok {
		c.LastDelivery = &last
	}
	return c
}

// Scoreboard builds a snapshot of the match. The caller sets Version.
func (m *Match) Scoreboard() *Scoreboard {
	setup := m.Setup()
	sb := &Scoreboard{
		MatchID:           setup.ID,
		Phase:             m.Phase,
		TeamA:             setup.TeamA,
		TeamB:             setup.TeamB,
		OversLimit:        setup.OversLimit,
		MaxOversPerBowler: setup.MaxOversPerBowler,
		Venue:             setup.Venue,
		Toss:              setup.Toss,
		NextSeq:           m.nextSeq,
		CurrentInnings:    len(m.innings),
		Innings:           make([]InningsCard, 0, len(m.innings)),
	}
	for _, inn := range m.innings {
		sb.Innings = append(sb.Innings, inn.card())
	}
	if m.result != nil {
		r := *m.result
		sb.Result = &r
	}
	sb.Required = m.required()

	inn := m.Current()
	if inn == nil || m.Phase != MatchLive {
		return sb
	}
	sb.NeedsBowlerSelection = inn.NeedsBowler()
	sb.VacantEnd = inn.VacantEnd()
	sb.NeedsBatsmanSelection = sb.VacantEnd != "" || inn.Phase == PhaseAwaitingOpeners
	sb.Striker = statPtr(inn.stats, inn.StrikerID)
	sb.NonStriker = statPtr(inn.stats, inn.NonStrikerID)
	sb.Bowler = statPtr(inn.stats, inn.BowlerID)
	return sb
}

func statPtr(a *Aggregator, id string) *PlayerStat {
	if id == "" {
		return nil
	}
	s, ok := a.Get(id)
	if !ok {
		return nil
	}
	return &s
}

// required names the next action the scorer must take, or "" while balls
// can be recorded.
func (m *Match) required() string {
	switch m.Phase {
	case MatchScheduled:
		return RequireSetToss
	case MatchTossDone:
		return RequireStartMatch
	case MatchCompleted:
		return ""
	}
	inn := m.Current()
	switch inn.Phase {
	case PhaseAwaitingOpeners:
		return RequireSetOpeners
	case PhaseInningsCompleted:
		return RequireEndInnings
	}
	if inn.VacantEnd() != "" {
		return RequireSelectBatsman
	}
	if inn.NeedsBowler() {
		return RequireSelectBowler
	}
	return ""
}
