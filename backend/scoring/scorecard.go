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
	"io"
	"strings"
	"text/tabwriter"
)

// WriteScorecard renders sb as a plain-text scorecard.
func WriteScorecard(w io.Writer, sb *Scoreboard) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "%s v %s, %d %s\n", sb.TeamA.Name, sb.TeamB.Name, sb.OversLimit, plural(sb.OversLimit, "over"))
	if sb.Toss != nil {
		winner := sb.TeamA.Name
		if sb.Toss.WinnerID == sb.TeamB.ID {
			winner = sb.TeamB.Name
		}
		fmt.Fprintf(tw, "Toss: %s, elected to %s\n", winner, sb.Toss.Decision)
	}
	if sb.Result != nil {
		fmt.Fprintf(tw, "Result: %s\n", sb.Result.Description)
	} else {
		fmt.Fprintf(tw, "Status: %s\n", sb.Phase)
	}

	for _, c := range sb.Innings {
		fmt.Fprintln(tw)
		fmt.Fprintf(tw, "Innings %d: %s %d/%d (%s ov)", c.Number, c.BattingTeamName, c.Runs, c.Wickets, c.Overs)
		if c.Target > 0 {
			fmt.Fprintf(tw, ", target %d", c.Target)
		}
		fmt.Fprintln(tw)

		fmt.Fprintln(tw, "Batter\tDismissal\tR\tB\t4s\t6s\tSR")
		for _, b := range c.Batting {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%.2f\n", b.Name, b.HowOut, b.Runs, b.BallsFaced, b.Fours, b.Sixes, b.StrikeRate)
		}
		fmt.Fprintf(tw, "Extras: %d (wd %d, nb %d, b %d, lb %d)\n",
			c.ExtrasTotal, c.Extras.Wides, c.Extras.NoBalls, c.Extras.Byes, c.Extras.LegByes)
		if len(c.FallOfWickets) > 0 {
			fow := make([]string, 0, len(c.FallOfWickets))
			for _, f := range c.FallOfWickets {
				fow = append(fow, fmt.Sprintf("%d-%d (%s, %s)", f.Wicket, f.Runs, f.Name, f.Overs))
			}
			fmt.Fprintf(tw, "Fall of wickets: %s\n", strings.Join(fow, ", "))
		}

		fmt.Fprintln(tw, "Bowler\tO\tM\tR\tW\tEcon")
		for _, b := range c.Bowling {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%.2f\n", b.Name, b.Overs, b.Maidens, b.RunsConceded, b.Wickets, b.Economy)
		}
	}
	return tw.Flush()
}

// Scorecard returns the plain-text scorecard.
func (s *Scoreboard) Scorecard() string {
	var sb strings.Builder
	WriteScorecard(&sb, s)
	return sb.String()
}
