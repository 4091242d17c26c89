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

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ttbt-io/wicketkeeper/backend/scoring"
)

// api holds the HTTP handlers.
type api struct {
	svc  *Service
	raft *RaftManager
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return badRequest("malformed JSON: %v", err)
	}
	return nil
}

// leaderWrites forwards writes received by a follower to the raft leader.
func (a *api) leaderWrites(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.raft == nil || a.raft.IsLeader() {
			next.ServeHTTP(w, r)
			return
		}
		if a.raft.forwardedBy(r) {
			writeError(w, ErrNotLeader)
			return
		}
		a.raft.forwardRequestToLeader(w, r)
	})
}

// writer returns the authenticated user allowed to make changes.
func (a *api) writer(w http.ResponseWriter, r *http.Request) (string, bool) {
	userId := getUserID(r)
	if userId == "" {
		writeError(w, ErrUnauthorized)
		return "", false
	}
	if allowed, msg := a.svc.Access.IsAllowed(userId); !allowed {
		writeError(w, fmt.Errorf("%w: %s", ErrForbidden, msg))
		return "", false
	}
	return userId, true
}

// match resolves the matchId URL parameter and checks that the caller has
// at least the need access level.
func (a *api) match(w http.ResponseWriter, r *http.Request, need AccessLevel) (string, bool) {
	matchId := chi.URLParam(r, "matchId")
	if !isValidUUID(matchId) {
		writeError(w, badRequest("invalid match id %q", matchId))
		return "", false
	}
	userId := getUserID(r)
	if need > AccessRead {
		if _, ok := a.writer(w, r); !ok {
			return "", false
		}
	}
	if a.svc.Registry.GetAccessLevel(userId, matchId) >= need {
		return matchId, true
	}
	switch {
	case !a.svc.Registry.MatchExists(matchId):
		writeError(w, notFoundError("access", matchId))
	case userId == "":
		writeError(w, ErrUnauthorized)
	default:
		writeError(w, fmt.Errorf("%w: %s access to match %s required", ErrForbidden, need, matchId))
	}
	return "", false
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":  "ok",
		"version": CurrentAppVersion,
		"leader":  a.svc.IsLeader(),
		"matches": a.svc.Registry.CountTotalMatches(),
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *api) handleWS(w http.ResponseWriter, r *http.Request) {
	if userId := getUserID(r); userId != "" {
		if allowed, msg := a.svc.Access.IsAllowed(userId); !allowed {
			writeError(w, fmt.Errorf("%w: %s", ErrForbidden, msg))
			return
		}
	}
	ServeWS(a.svc, w, r)
}

// --- Teams ---

func (a *api) handleSaveTeam(w http.ResponseWriter, r *http.Request) {
	userId, ok := a.writer(w, r)
	if !ok {
		return
	}
	var t Team
	if err := decodeJSON(w, r, &t); err != nil {
		writeError(w, err)
		return
	}
	isNew := t.ID == "" || !a.svc.Registry.TeamExists(t.ID)
	saved, err := a.svc.SaveTeam(r.Context(), userId, &t)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if isNew {
		status = http.StatusCreated
	}
	writeJSON(w, status, saved)
}

func (a *api) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	teamId := chi.URLParam(r, "teamId")
	if !isValidUUID(teamId) {
		writeError(w, badRequest("invalid team id %q", teamId))
		return
	}
	if a.svc.Registry.GetTeamAccessLevel(getUserID(r), teamId) < AccessRead {
		if !a.svc.Registry.TeamExists(teamId) {
			writeError(w, &scoring.Error{Kind: scoring.ErrNotFound, Op: "getTeam", Message: fmt.Sprintf("team %s not found", teamId)})
		} else {
			writeError(w, ErrForbidden)
		}
		return
	}
	t, err := a.svc.Teams.LoadActiveTeam(teamId)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *api) handleListTeams(w http.ResponseWriter, r *http.Request) {
	userId := getUserID(r)
	if userId == "" {
		writeError(w, ErrUnauthorized)
		return
	}
	limit, offset, sortBy, order, query := parsePagination(r)
	ids := a.svc.Registry.ListTeams(userId, sortBy, order, query)
	teams := make([]TeamMetadata, 0, limit)
	for _, id := range paginate(ids, limit, offset) {
		if m, ok := a.svc.Registry.TeamMeta(id); ok {
			teams = append(teams, m)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"teams": teams, "total": len(ids)})
}

func (a *api) handleDeleteTeam(w http.ResponseWriter, r *http.Request) {
	userId, ok := a.writer(w, r)
	if !ok {
		return
	}
	teamId := chi.URLParam(r, "teamId")
	if !isValidUUID(teamId) {
		writeError(w, badRequest("invalid team id %q", teamId))
		return
	}
	if !a.svc.Registry.TeamExists(teamId) {
		writeError(w, &scoring.Error{Kind: scoring.ErrNotFound, Op: "deleteTeam", Message: fmt.Sprintf("team %s not found", teamId)})
		return
	}
	if a.svc.Registry.GetTeamAccessLevel(userId, teamId) < AccessAdmin {
		writeError(w, ErrForbidden)
		return
	}
	if err := a.svc.DeleteTeam(r.Context(), teamId); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Matches ---

func (a *api) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	userId, ok := a.writer(w, r)
	if !ok {
		return
	}
	var req CreateMatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	out, err := a.svc.CreateMatch(r.Context(), userId, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

type matchListItem struct {
	MatchMetadata
	Access string `json:"access"`
}

func (a *api) handleListMatches(w http.ResponseWriter, r *http.Request) {
	userId := getUserID(r)
	limit, offset, sortBy, order, query := parsePagination(r)
	ids := a.svc.Registry.ListMatches(userId, sortBy, order, query)
	matches := make([]matchListItem, 0, limit)
	for _, id := range paginate(ids, limit, offset) {
		m, ok := a.svc.Registry.MatchMeta(id)
		if !ok {
			continue
		}
		matches = append(matches, matchListItem{
			MatchMetadata: m,
			Access:        a.svc.Registry.GetAccessLevel(userId, id).String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches, "total": len(ids)})
}

func (a *api) handleDeleteMatch(w http.ResponseWriter, r *http.Request) {
	matchId, ok := a.match(w, r, AccessAdmin)
	if !ok {
		return
	}
	if err := a.svc.DeleteMatch(r.Context(), matchId); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleScoreboard returns the scoreboard. With ?since=V it waits until the
// match moves past version V, answering 304 if nothing happened in time.
func (a *api) handleScoreboard(w http.ResponseWriter, r *http.Request) {
	matchId, ok := a.match(w, r, AccessRead)
	if !ok {
		return
	}
	since := r.URL.Query().Get("since")
	if since == "" {
		sb, err := a.svc.Scoreboard(matchId)
		if err != nil {
			writeError(w, err)
			return
		}
		writeScoreboard(w, sb)
		return
	}
	v, err := strconv.ParseUint(since, 10, 64)
	if err != nil {
		writeError(w, badRequest("invalid since %q", since))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), longPollTimeout)
	defer cancel()
	sb, err := a.svc.WaitScoreboard(ctx, matchId, v)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			w.Header().Set("ETag", strconv.Quote(strconv.FormatUint(v, 10)))
			w.WriteHeader(http.StatusNotModified)
			return
		}
		writeError(w, err)
		return
	}
	writeScoreboard(w, sb)
}

func writeScoreboard(w http.ResponseWriter, sb *scoring.Scoreboard) {
	w.Header().Set("ETag", strconv.Quote(strconv.FormatUint(sb.Version, 10)))
	writeJSON(w, http.StatusOK, sb)
}

func (a *api) handleScorecard(w http.ResponseWriter, r *http.Request) {
	matchId, ok := a.match(w, r, AccessRead)
	if !ok {
		return
	}
	sb, err := a.svc.Scoreboard(matchId)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := scoring.WriteScorecard(w, sb); err != nil {
		writeError(w, err)
	}
}

// command runs cmd against the match named in the URL and writes the outcome.
func (a *api) command(w http.ResponseWriter, r *http.Request, matchId string, cmd scoring.Command) {
	out, err := a.svc.Apply(r.Context(), getUserID(r), matchId, cmd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) handleToss(w http.ResponseWriter, r *http.Request) {
	matchId, ok := a.match(w, r, AccessWrite)
	if !ok {
		return
	}
	var toss scoring.Toss
	if err := decodeJSON(w, r, &toss); err != nil {
		writeError(w, err)
		return
	}
	a.command(w, r, matchId, scoring.Command{Type: scoring.CmdToss, Toss: &toss})
}

func (a *api) handleStart(w http.ResponseWriter, r *http.Request) {
	matchId, ok := a.match(w, r, AccessWrite)
	if !ok {
		return
	}
	a.command(w, r, matchId, scoring.Command{Type: scoring.CmdStart})
}

func (a *api) handleSetBatsmen(w http.ResponseWriter, r *http.Request) {
	matchId, ok := a.match(w, r, AccessWrite)
	if !ok {
		return
	}
	var body struct {
		StrikerID    string `json:"striker_id"`
		NonStrikerID string `json:"non_striker_id"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	a.command(w, r, matchId, scoring.Command{Type: scoring.CmdSetBatsmen, StrikerID: body.StrikerID, NonStrikerID: body.NonStrikerID})
}

type bowlerRequest struct {
	BowlerID string `json:"bowler_id"`
}

func (a *api) handleSetBowler(w http.ResponseWriter, r *http.Request) {
	matchId, ok := a.match(w, r, AccessWrite)
	if !ok {
		return
	}
	var body bowlerRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	a.command(w, r, matchId, scoring.Command{Type: scoring.CmdSetBowler, BowlerID: body.BowlerID})
}

func (a *api) handleValidateBowler(w http.ResponseWriter, r *http.Request) {
	matchId, ok := a.match(w, r, AccessRead)
	if !ok {
		return
	}
	var body bowlerRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := a.svc.ValidateBowler(matchId, body.BowlerID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func (a *api) handleRecordBall(w http.ResponseWriter, r *http.Request) {
	matchId, ok := a.match(w, r, AccessWrite)
	if !ok {
		return
	}
	var ball scoring.BallInput
	if err := decodeJSON(w, r, &ball); err != nil {
		writeError(w, err)
		return
	}
	if err := validateBall(&ball); err != nil {
		writeError(w, err)
		return
	}
	a.command(w, r, matchId, scoring.Command{Type: scoring.CmdRecordBall, Ball: &ball})
}

func (a *api) handleEndInnings(w http.ResponseWriter, r *http.Request) {
	matchId, ok := a.match(w, r, AccessWrite)
	if !ok {
		return
	}
	var body struct {
		Force bool `json:"force"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	a.command(w, r, matchId, scoring.Command{Type: scoring.CmdEndInnings, Force: body.Force})
}

func (a *api) handleComplete(w http.ResponseWriter, r *http.Request) {
	matchId, ok := a.match(w, r, AccessWrite)
	if !ok {
		return
	}
	a.command(w, r, matchId, scoring.Command{Type: scoring.CmdComplete})
}

func (a *api) handleAvailableBowlers(w http.ResponseWriter, r *http.Request) {
	matchId, ok := a.match(w, r, AccessRead)
	if !ok {
		return
	}
	q := r.URL.Query()
	players, err := a.svc.AvailableBowlers(matchId, q.Get("team_id"), q.Get("exclude"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"players": nonNil(players)})
}

func (a *api) handleAvailableBatsmen(w http.ResponseWriter, r *http.Request) {
	matchId, ok := a.match(w, r, AccessRead)
	if !ok {
		return
	}
	players, err := a.svc.AvailableBatsmen(matchId, r.URL.Query().Get("team_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"players": nonNil(players)})
}

func nonNil(p []scoring.Player) []scoring.Player {
	if p == nil {
		return []scoring.Player{}
	}
	return p
}

// winnerResponse is the body of GET /winner. The winner fields are null on
// a tie.
type winnerResponse struct {
	WinnerID    *string `json:"winner_id"`
	WinnerName  *string `json:"winner_name"`
	MatchResult string  `json:"match_result"`
	Margin      int     `json:"margin,omitempty"`
	MarginType  string  `json:"margin_type,omitempty"`
	Tied        bool    `json:"tied"`
}

func newWinnerResponse(res scoring.Result) winnerResponse {
	out := winnerResponse{
		MatchResult: res.Description,
		Margin:      res.Margin,
		MarginType:  res.MarginType,
		Tied:        res.Tied,
	}
	if !res.Tied {
		out.WinnerID = &res.WinnerID
		out.WinnerName = &res.WinnerName
	}
	return out
}

func (a *api) handleWinner(w http.ResponseWriter, r *http.Request) {
	matchId, ok := a.match(w, r, AccessRead)
	if !ok {
		return
	}
	res, err := a.svc.Winner(matchId)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newWinnerResponse(res))
}

// --- Admin ---

func (a *api) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	if !a.svc.Access.IsAdmin(getUserID(r)) {
		writeError(w, ErrForbidden)
		return
	}
	policy := a.svc.Registry.GetAccessPolicy()
	if policy == nil {
		policy = &UserAccessPolicy{
			DefaultPolicy: "allow",
			Admins:        []string{},
			Users:         make(map[string]UserOverride),
		}
	}
	writeJSON(w, http.StatusOK, policy)
}

func (a *api) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	if !a.svc.Access.IsAdmin(getUserID(r)) {
		writeError(w, ErrForbidden)
		return
	}
	var policy UserAccessPolicy
	if err := decodeJSON(w, r, &policy); err != nil {
		writeError(w, err)
		return
	}
	if policy.DefaultPolicy != "allow" && policy.DefaultPolicy != "deny" {
		writeError(w, badRequest("invalid default policy %q", policy.DefaultPolicy))
		return
	}
	users := make(map[string]UserOverride, len(policy.Users))
	for email, override := range policy.Users {
		users[normalizeEmail(email)] = override
	}
	policy.Users = users
	for i, admin := range policy.Admins {
		policy.Admins[i] = strings.TrimSpace(normalizeEmail(admin))
	}
	if err := a.svc.UpdateAccessPolicy(r.Context(), &policy); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}
