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

// Game constants
const (
	BallsPerOver   = 6
	MaxWickets     = 10
	MaxRunsPerBall = 6
)

// ExtraKind classifies a delivery's extras.
type ExtraKind string

const (
	ExtraNone   ExtraKind = ""
	ExtraWide   ExtraKind = "wide"
	ExtraNoBall ExtraKind = "no_ball"
	ExtraBye    ExtraKind = "bye"
	ExtraLegBye ExtraKind = "leg_bye"
)

// Legal reports whether a delivery of this kind counts towards the over.
func (k ExtraKind) Legal() bool {
	return k != ExtraWide && k != ExtraNoBall
}

// WicketKind is the mode of dismissal.
type WicketKind string

const (
	WicketBowled    WicketKind = "bowled"
	WicketCaught    WicketKind = "caught"
	WicketLBW       WicketKind = "lbw"
	WicketStumped   WicketKind = "stumped"
	WicketHitWicket WicketKind = "hit_wicket"
	WicketRunOut    WicketKind = "run_out"
)

// Valid reports whether k is a known dismissal.
func (k WicketKind) Valid() bool {
	switch k {
	case WicketBowled, WicketCaught, WicketLBW, WicketStumped, WicketHitWicket, WicketRunOut:
		return true
	}
	return false
}

// BowlerCredited reports whether the bowler is credited with the wicket.
func (k WicketKind) BowlerCredited() bool {
	return k.Valid() && k != WicketRunOut
}

// allowedOn reports whether this dismissal can happen on a delivery with the given extras.
func (k WicketKind) allowedOn(extra ExtraKind) bool {
	switch extra {
	case ExtraWide:
		return k == WicketStumped || k == WicketRunOut || k == WicketHitWicket
	case ExtraNoBall, ExtraBye, ExtraLegBye:
		return k == WicketRunOut
	}
	return true
}

// InningsPhase is the state of an innings.
type InningsPhase string

const (
	PhaseNotStarted       InningsPhase = "not_started"
	PhaseAwaitingOpeners  InningsPhase = "awaiting_openers"
	PhaseAwaitingBowler   InningsPhase = "awaiting_bowler"
	PhaseInProgress       InningsPhase = "in_progress"
	PhaseOverComplete     InningsPhase = "over_complete_awaiting_bowler"
	PhaseInningsCompleted InningsPhase = "completed"
)

// EndReason records why an innings finished.
type EndReason string

const (
	EndOvers    EndReason = "overs"
	EndAllOut   EndReason = "all_out"
	EndTarget   EndReason = "target"
	EndDeclared EndReason = "declared"
)

// MatchPhase is the state of a match.
type MatchPhase string

const (
	MatchScheduled MatchPhase = "scheduled"
	MatchTossDone  MatchPhase = "toss_done"
	MatchLive      MatchPhase = "live"
	MatchCompleted MatchPhase = "completed"
)

// TossDecision is what the toss winner elected to do.
type TossDecision string

const (
	ElectBat  TossDecision = "bat"
	ElectBowl TossDecision = "bowl"
)

// End identifies one of the two batting slots.
type End string

const (
	EndStriker    End = "striker"
	EndNonStriker End = "non_striker"
)

// Corrective actions reported with errors.
const (
	RequireSetToss       = "set_toss"
	RequireStartMatch    = "start_match"
	RequireSetOpeners    = "set_openers"
	RequireSelectBowler  = "select_bowler"
	RequireSelectBatsman = "select_batsman"
	RequireFinishInnings = "finish_innings"
	RequireEndInnings    = "end_innings"
	RequireCompleteMatch = "complete_match"
	RequireResync        = "resync"
)
