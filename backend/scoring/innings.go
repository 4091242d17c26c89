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

// Extras is the innings breakdown of runs not scored off the bat.
type Extras struct {
	Wides   int `json:"wides"`
	NoBalls int `json:"no_balls"`
	Byes    int `json:"byes"`
	LegByes int `json:"leg_byes"`
}

// Total returns the sum of all extras.
func (e Extras) Total() int {
	return e.Wides + e.NoBalls + e.Byes + e.LegByes
}

func (e *Extras) add(d Delivery) {
	switch d.Extra {
	case ExtraWide:
		e.Wides += d.ExtraRuns
	case ExtraNoBall:
		e.NoBalls += d.ExtraRuns
	case ExtraBye:
		e.Byes += d.ExtraRuns
	case ExtraLegBye:
		e.LegByes += d.ExtraRuns
	}
}

// FallOfWicket records the score when a batsman was dismissed.
type FallOfWicket struct {
	Wicket   int    `json:"wicket"`
	Runs     int    `json:"runs"`
	Overs    string `json:"overs"`
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
}

// Partnership is the current stand since the last wicket.
type Partnership struct {
	Runs  int `json:"runs"`
	Balls int `json:"balls"`
}

// Innings is one side's turn to bat. All mutation goes through SetBatsmen,
// SetBowler and RecordBall.
type Innings struct {
	Number            int
	BattingTeam       Team
	BowlingTeam       Team
	OversLimit        int
	MaxOversPerBowler int
	// Target is the score needed to win, 0 for the first innings.
	Target int

	Phase     InningsPhase
	EndReason EndReason

	StrikerID            string
	NonStrikerID         string
	BowlerID             string
	PreviousOverBowlerID string

	Runs          int
	Wickets       int
	LegalBalls    int
	Extras        Extras
	FallOfWickets []FallOfWicket

	ledger *Ledger
	stats  *Aggregator
}

func newInnings(number int, batting, bowling Team, oversLimit, maxOversPerBowler, target int) *Innings {
	return &Innings{
		Number:            number,
		BattingTeam:       batting,
		BowlingTeam:       bowling,
		OversLimit:        oversLimit,
		MaxOversPerBowler: maxOversPerBowler,
		Target:            target,
		Phase:             PhaseAwaitingOpeners,
		ledger:            NewLedger(),
		stats:             NewAggregator(batting, bowling),
	}
}

// Ledger returns the innings' delivery ledger.
func (inn *Innings) Ledger() *Ledger {
	return inn.ledger
}

// Stats returns the innings' player figures.
func (inn *Innings) Stats() *Aggregator {
	return inn.stats
}

// AllOutAt is the wicket count that ends the innings.
func (inn *Innings) AllOutAt() int {
	return inn.BattingTeam.AllOutAt()
}

// Completed reports whether the innings has finished.
func (inn *Innings) Completed() bool {
	return inn.Phase == PhaseInningsCompleted
}

// NeedsBowler reports whether a bowler must be chosen before the next ball.
func (inn *Innings) NeedsBowler() bool {
	return inn.Phase == PhaseAwaitingBowler || inn.Phase == PhaseOverComplete
}

// VacantEnd returns the batting slot left empty by a dismissal, or "".
func (inn *Innings) VacantEnd() End {
	if inn.Completed() || inn.Phase == PhaseNotStarted || inn.Phase == PhaseAwaitingOpeners {
		return ""
	}
	switch {
	case inn.StrikerID == "":
		return EndStriker
	case inn.NonStrikerID == "":
		return EndNonStriker
	}
	return ""
}

// Overs returns the overs bowled in over.ball notation.
func (inn *Innings) Overs() string {
	return FormatOvers(inn.LegalBalls)
}

// BallsRemaining returns the legal balls left in the innings.
func (inn *Innings) BallsRemaining() int {
	n := inn.OversLimit*BallsPerOver - inn.LegalBalls
	if n < 0 {
		return 0
	}
	return n
}

// RunsNeeded returns the runs still required to reach the target, or 0 in
// the first innings.
func (inn *Innings) RunsNeeded() int {
	if inn.Target == 0 || inn.Runs >= inn.Target {
		return 0
	}
	return inn.Target - inn.Runs
}

// RunRate is runs per over so far.
func (inn *Innings) RunRate() float64 {
	return ComputeEconomy(inn.Runs, inn.LegalBalls)
}

// RequiredRunRate is runs per over needed from the remaining balls.
func (inn *Innings) RequiredRunRate() float64 {
	need := inn.RunsNeeded()
	if need == 0 {
		return 0
	}
	return ComputeEconomy(need, inn.BallsRemaining())
}

// Partnership returns the stand for the current wicket.
func (inn *Innings) Partnership() Partnership {
	var p Partnership
	for _, d := range inn.ledger.DeliveriesSince(inn.ledger.LastWicketIndex()) {
		p.Runs += d.TotalRuns
		if d.Legal {
			p.Balls++
		}
	}
	return p
}

// overStarted reports whether a ball of the current over has been bowled.
func (inn *Innings) overStarted() bool {
	last, ok := inn.ledger.Last()
	if !ok || last.EndsOver() {
		return false
	}
	return last.Over == inn.LegalBalls/BallsPerOver
}

func (inn *Innings) complete(reason EndReason) {
	inn.Phase = PhaseInningsCompleted
	inn.EndReason = reason
	inn.stats.Freeze()
}

// SetBatsmen puts the openers in, or fills the end left vacant by a
// dismissal. Openers may be changed until the first ball is bowled. When
// filling a vacancy the surviving batsman keeps their end; pass "" for it.
func (inn *Innings) SetBatsmen(striker, nonStriker string) error {
	const op = "setBatsmen"
	switch inn.Phase {
	case PhaseInningsCompleted:
		return newError(ErrInningsCompleted, op, RequireEndInnings, "innings %d is completed", inn.Number)
	case PhaseNotStarted:
		return invalidState(op, RequireStartMatch, "innings %d has not started", inn.Number)
	}

	if inn.ledger.Len() == 0 {
		return inn.setOpeners(op, striker, nonStriker)
	}

	vacant := inn.VacantEnd()
	if vacant == "" {
		return invalidState(op, "", "both batsmen are already at the crease")
	}
	incoming, survivor, survivorArg := striker, inn.NonStrikerID, nonStriker
	if vacant == EndNonStriker {
		incoming, survivor, survivorArg = nonStriker, inn.StrikerID, striker
	}
	if incoming == "" {
		return validationError(op, "a batsman is required at the %s end", vacant)
	}
	if survivorArg != "" && survivorArg != survivor {
		return invalidState(op, RequireSelectBatsman, "%s must stay at the other end", inn.BattingTeam.PlayerName(survivor))
	}
	if incoming == survivor {
		return invalidState(op, RequireSelectBatsman, "striker and non-striker must differ")
	}
	if err := inn.validateIncoming(op, incoming); err != nil {
		return err
	}
	if vacant == EndStriker {
		inn.StrikerID = incoming
	} else {
		inn.NonStrikerID = incoming
	}
	inn.stats.SetCrease(incoming)
	return nil
}

func (inn *Innings) setOpeners(op, striker, nonStriker string) error {
	if striker == "" || nonStriker == "" {
		return validationError(op, "both striker and non-striker are required")
	}
	if striker == nonStriker {
		return invalidState(op, RequireSetOpeners, "striker and non-striker must differ")
	}
	for _, id := range []string{striker, nonStriker} {
		if err := inn.validateIncoming(op, id); err != nil {
			return err
		}
	}
	// Nothing has been bowled, so the figures can start over.
	inn.stats = NewAggregator(inn.BattingTeam, inn.BowlingTeam)
	inn.stats.SetCrease(striker, nonStriker)
	inn.stats.SetBowler(inn.BowlerID)
	inn.StrikerID = striker
	inn.NonStrikerID = nonStriker
	if inn.BowlerID == "" {
		inn.Phase = PhaseAwaitingBowler
	} else {
		inn.Phase = PhaseInProgress
	}
	return nil
}

// SetBowler chooses the bowler for the next over. The choice may be changed
// until the first ball of the over.
func (inn *Innings) SetBowler(id string) error {
	const op = "setBowler"
	switch inn.Phase {
	case PhaseInningsCompleted:
		return newError(ErrInningsCompleted, op, RequireEndInnings, "innings %d is completed", inn.Number)
	case PhaseNotStarted:
		return invalidState(op, RequireStartMatch, "innings %d has not started", inn.Number)
	case PhaseAwaitingOpeners:
		return invalidState(op, RequireSetOpeners, "openers must be set before a bowler")
	case PhaseInProgress:
		if inn.overStarted() {
			return invalidState(op, "", "over %d is in progress with %s bowling",
				inn.LegalBalls/BallsPerOver+1, inn.BowlingTeam.PlayerName(inn.BowlerID))
		}
	}
	if err := inn.ValidateBowler(id); err != nil {
		return err
	}
	inn.BowlerID = id
	inn.stats.SetBowler(id)
	inn.Phase = PhaseInProgress
	return nil
}

func (inn *Innings) readyToBowl(op string) error {
	switch inn.Phase {
	case PhaseInningsCompleted:
		return newError(ErrInningsCompleted, op, RequireEndInnings, "innings %d is completed", inn.Number)
	case PhaseNotStarted:
		return invalidState(op, RequireStartMatch, "innings %d has not started", inn.Number)
	case PhaseAwaitingOpeners:
		return invalidState(op, RequireSetOpeners, "openers have not been set")
	case PhaseAwaitingBowler, PhaseOverComplete:
		return invalidState(op, RequireSelectBowler, "no bowler selected for over %d", inn.LegalBalls/BallsPerOver+1)
	}
	if end := inn.VacantEnd(); end != "" {
		return invalidState(op, RequireSelectBatsman, "the %s end is vacant", end)
	}
	return nil
}

// RecordBall validates in against the current state and, if it is
// acceptable, appends the delivery and updates the innings. Nothing changes
// when an error is returned.
func (inn *Innings) RecordBall(in BallInput, seq int64, id string, ts int64) (Delivery, error) {
	const op = "recordBall"
	if err := inn.readyToBowl(op); err != nil {
		return Delivery{}, err
	}
	if err := in.Validate(); err != nil {
		return Delivery{}, err
	}
	if in.BatsmanID != "" && in.BatsmanID != inn.StrikerID {
		return Delivery{}, invalidState(op, RequireResync, "%s is not on strike", inn.BattingTeam.PlayerName(in.BatsmanID))
	}
	if in.BowlerID != "" && in.BowlerID != inn.BowlerID {
		return Delivery{}, invalidState(op, RequireResync, "%s is not the current bowler", inn.BowlingTeam.PlayerName(in.BowlerID))
	}
	if in.IsWicket {
		if in.DismissedID != inn.StrikerID && in.DismissedID != inn.NonStrikerID {
			return Delivery{}, validationError(op, "%s is not at the crease", in.DismissedID)
		}
		if in.WicketType.BowlerCredited() && in.DismissedID != inn.StrikerID {
			return Delivery{}, validationError(op, "%s can only dismiss the striker", in.WicketType)
		}
	}

	d := newDelivery(in)
	d.ID = id
	d.Seq = seq
	d.Innings = inn.Number
	d.Over = inn.LegalBalls / BallsPerOver
	d.Ball = inn.LegalBalls % BallsPerOver
	if d.Legal {
		d.Ball++
	}
	d.StrikerID = inn.StrikerID
	d.NonStrikerID = inn.NonStrikerID
	d.BowlerID = inn.BowlerID
	d.Timestamp = ts
	d.ID = inn.ledger.Append(d)
	inn.stats.Apply(d)

	inn.Runs += d.TotalRuns
	inn.Extras.add(d)
	if d.Legal {
		inn.LegalBalls++
	}
	endOfOver := d.EndsOver()

	striker, nonStriker := rotateStrike(inn.StrikerID, inn.NonStrikerID, d.RunsRun(), endOfOver)
	if d.IsWicket {
		inn.Wickets++
		inn.FallOfWickets = append(inn.FallOfWickets, FallOfWicket{
			Wicket:   inn.Wickets,
			Runs:     inn.Runs,
			Overs:    inn.Overs(),
			PlayerID: d.DismissedID,
			Name:     inn.BattingTeam.PlayerName(d.DismissedID),
		})
		if striker == d.DismissedID {
			striker = ""
		} else {
			nonStriker = ""
		}
	}
	inn.StrikerID, inn.NonStrikerID = striker, nonStriker

	switch {
	case inn.Target > 0 && inn.Runs >= inn.Target:
		inn.complete(EndTarget)
	case inn.Wickets >= inn.AllOutAt():
		inn.complete(EndAllOut)
	case inn.LegalBalls >= inn.OversLimit*BallsPerOver:
		inn.complete(EndOvers)
	case endOfOver:
		inn.PreviousOverBowlerID = inn.BowlerID
		inn.BowlerID = ""
		inn.stats.SetBowler("")
		inn.Phase = PhaseOverComplete
	}
	return d, nil
}
