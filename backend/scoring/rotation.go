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

// rotateStrike returns the new striker and non-striker after a ball on which
// the batsmen ran runsRun. Strike changes on odd runs, and again at the end
// of the over.
func rotateStrike(striker, nonStriker string, runsRun int, endOfOver bool) (string, string) {
	if runsRun%2 == 1 {
		striker, nonStriker = nonStriker, striker
	}
	if endOfOver {
		striker, nonStriker = nonStriker, striker
	}
	return striker, nonStriker
}

// exclusion returns the bowler who may not bowl the next over. No one is
// excluded before the first ball of an innings, whatever the caller passes.
func (inn *Innings) exclusion(requested string) string {
	if inn.ledger.Len() == 0 {
		return ""
	}
	if inn.PreviousOverBowlerID != "" {
		return inn.PreviousOverBowlerID
	}
	return requested
}

func (inn *Innings) bowlerCapped(id string) bool {
	if inn.MaxOversPerBowler <= 0 {
		return false
	}
	return inn.stats.LegalBallsBowled(id) >= inn.MaxOversPerBowler*BallsPerOver
}

// EligibleBowlers returns the bowling side's players who may bowl the next
// over, in roster order.
func (inn *Innings) EligibleBowlers(exclude string) []Player {
	ex := inn.exclusion(exclude)
	out := make([]Player, 0, len(inn.BowlingTeam.Players))
	for _, p := range inn.BowlingTeam.Players {
		if p.ID == ex || inn.bowlerCapped(p.ID) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// EligibleBatsmen returns the batting side's players who are neither out nor
// at the crease, in roster order.
func (inn *Innings) EligibleBatsmen() []Player {
	out := make([]Player, 0, len(inn.BattingTeam.Players))
	for _, p := range inn.BattingTeam.Players {
		if p.ID == inn.StrikerID || p.ID == inn.NonStrikerID || inn.stats.IsOut(p.ID) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ValidateBowler checks that id may bowl the next over.
func (inn *Innings) ValidateBowler(id string) error {
	const op = "validateBowler"
	if id == "" {
		return validationError(op, "bowler id is required")
	}
	if !inn.BowlingTeam.Has(id) {
		return ineligible(op, "%s is not in the bowling side %s", id, inn.BowlingTeam.Name)
	}
	if ex := inn.exclusion(""); ex == id {
		return ineligible(op, "%s bowled the previous over", inn.BowlingTeam.PlayerName(id))
	}
	if inn.bowlerCapped(id) {
		return ineligible(op, "%s has bowled the maximum of %d overs", inn.BowlingTeam.PlayerName(id), inn.MaxOversPerBowler)
	}
	return nil
}

// validateIncoming checks a batsman coming to the crease.
func (inn *Innings) validateIncoming(op, id string) error {
	if !inn.BattingTeam.Has(id) {
		return ineligible(op, "%s is not in the batting side %s", id, inn.BattingTeam.Name)
	}
	if inn.stats.IsOut(id) {
		return invalidState(op, RequireSelectBatsman, "%s is already out", inn.BattingTeam.PlayerName(id))
	}
	return nil
}
