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

import "fmt"

// BallInput is a scorer's description of one delivery.
//
// Runs is the number of runs declared for the ball: runs off the bat on a
// legal delivery or a no-ball, runs taken beyond the penalty on a wide, and
// the bye or leg-bye count otherwise. Seq, when non-zero, is the 1-based
// position of this delivery in the match and makes the request safe to retry.
type BallInput struct {
	Seq         int64      `json:"seq,omitempty"`
	Runs        int        `json:"runs"`
	IsWicket    bool       `json:"is_wicket,omitempty"`
	WicketType  WicketKind `json:"wicket_type,omitempty"`
	DismissedID string     `json:"dismissed_batsman_id,omitempty"`
	IsWide      bool       `json:"is_wide,omitempty"`
	IsNoBall    bool       `json:"is_no_ball,omitempty"`
	IsBye       bool       `json:"is_bye,omitempty"`
	IsLegBye    bool       `json:"is_leg_bye,omitempty"`
	BatsmanID   string     `json:"batsman_id,omitempty"`
	BowlerID    string     `json:"bowler_id,omitempty"`
}

// Extra returns the extras classification implied by the flags.
func (b BallInput) Extra() ExtraKind {
	switch {
	case b.IsWide:
		return ExtraWide
	case b.IsNoBall:
		return ExtraNoBall
	case b.IsBye:
		return ExtraBye
	case b.IsLegBye:
		return ExtraLegBye
	}
	return ExtraNone
}

// Validate checks the payload on its own, without match state.
func (b BallInput) Validate() error {
	const op = "recordBall"
	if b.Seq < 0 {
		return validationError(op, "seq must not be negative")
	}
	if b.Runs < 0 || b.Runs > MaxRunsPerBall {
		return validationError(op, "runs must be between 0 and %d, got %d", MaxRunsPerBall, b.Runs)
	}
	flags := 0
	for _, f := range []bool{b.IsWide, b.IsNoBall, b.IsBye, b.IsLegBye} {
		if f {
			flags++
		}
	}
	if flags > 1 {
		return validationError(op, "at most one of is_wide, is_no_ball, is_bye, is_leg_bye may be set")
	}
	if !b.IsWicket {
		if b.WicketType != "" || b.DismissedID != "" {
			return validationError(op, "wicket_type and dismissed_batsman_id require is_wicket")
		}
		return nil
	}
	if b.WicketType == "" {
		return validationError(op, "wicket requires wicket_type")
	}
	if !b.WicketType.Valid() {
		return validationError(op, "unknown wicket_type %q", b.WicketType)
	}
	if b.DismissedID == "" {
		return validationError(op, "wicket requires dismissed_batsman_id")
	}
	if extra := b.Extra(); !b.WicketType.allowedOn(extra) {
		return validationError(op, "%s is not possible on a %s", b.WicketType, extra)
	}
	return nil
}

// Delivery is one ball as recorded in the ledger. It is never modified after
// it is appended.
type Delivery struct {
	ID           string     `json:"id"`
	Seq          int64      `json:"seq"`
	Innings      int        `json:"innings"`
	Over         int        `json:"over"`
	Ball         int        `json:"ball"`
	StrikerID    string     `json:"striker_id"`
	NonStrikerID string     `json:"non_striker_id"`
	BowlerID     string     `json:"bowler_id"`
	Runs         int        `json:"runs"`
	Extra        ExtraKind  `json:"extra,omitempty"`
	ExtraRuns    int        `json:"extra_runs"`
	TotalRuns    int        `json:"total_runs"`
	Legal        bool       `json:"legal"`
	IsWicket     bool       `json:"is_wicket,omitempty"`
	WicketKind   WicketKind `json:"wicket_kind,omitempty"`
	DismissedID  string     `json:"dismissed_id,omitempty"`
	Timestamp    int64      `json:"timestamp"`
}

// newDelivery computes run accounting for in. Over and Ball describe the
// position before this ball.
func newDelivery(in BallInput) Delivery {
	d := Delivery{
		Extra:       in.Extra(),
		IsWicket:    in.IsWicket,
		WicketKind:  in.WicketType,
		DismissedID: in.DismissedID,
	}
	d.Legal = d.Extra.Legal()
	switch d.Extra {
	case ExtraWide:
		d.ExtraRuns = 1 + in.Runs
	case ExtraNoBall:
		d.Runs = in.Runs
		d.ExtraRuns = 1
	case ExtraBye, ExtraLegBye:
		d.ExtraRuns = in.Runs
	default:
		d.Runs = in.Runs
	}
	d.TotalRuns = d.Runs + d.ExtraRuns
	return d
}

// RunsRun is the number of runs the batsmen declared for this ball. It drives
// strike rotation.
func (d Delivery) RunsRun() int {
	switch d.Extra {
	case ExtraWide:
		return d.ExtraRuns - 1
	case ExtraBye, ExtraLegBye:
		return d.ExtraRuns
	}
	return d.Runs
}

// BowlerRuns is the number of runs charged to the bowler.
func (d Delivery) BowlerRuns() int {
	switch d.Extra {
	case ExtraWide, ExtraNoBall:
		return d.Runs + d.ExtraRuns
	}
	return d.Runs
}

// FacedByStriker reports whether the ball counts as faced by the striker.
func (d Delivery) FacedByStriker() bool {
	return d.Extra != ExtraWide
}

// EndsOver reports whether this ball completed its over.
func (d Delivery) EndsOver() bool {
	return d.Legal && d.Ball == BallsPerOver
}

// OverNotation returns the over.ball position after this delivery, e.g. "18.4".
func (d Delivery) OverNotation() string {
	return fmt.Sprintf("%d.%d", d.Over, d.Ball)
}

// Short returns the compact notation used for recent balls, e.g. "4", "W", "1wd".
func (d Delivery) Short() string {
	if d.IsWicket {
		if d.TotalRuns > 0 {
			return fmt.Sprintf("%dW", d.TotalRuns)
		}
		return "W"
	}
	switch d.Extra {
	case ExtraWide:
		return fmt.Sprintf("%dwd", d.ExtraRuns)
	case ExtraNoBall:
		return fmt.Sprintf("%dnb", d.TotalRuns)
	case ExtraBye:
		return fmt.Sprintf("%db", d.ExtraRuns)
	case ExtraLegBye:
		return fmt.Sprintf("%dlb", d.ExtraRuns)
	}
	if d.Runs == 0 {
		return "."
	}
	return fmt.Sprintf("%d", d.Runs)
}

// matches reports whether in describes the same ball as d. Used to tell a
// retried request from a diverging one.
func (d Delivery) matches(in BallInput) bool {
	return d.Extra == in.Extra() &&
		d.RunsRun() == in.Runs &&
		d.IsWicket == in.IsWicket &&
		d.WicketKind == in.WicketType &&
		d.DismissedID == in.DismissedID &&
		(in.BatsmanID == "" || in.BatsmanID == d.StrikerID) &&
		(in.BowlerID == "" || in.BowlerID == d.BowlerID)
}
