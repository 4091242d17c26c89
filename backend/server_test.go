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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ttbt-io/wicketkeeper/backend/scoring"
)

type testClient struct {
	t    *testing.T
	base string
}

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	if opts.DataDir == "" {
		opts.DataDir = t.TempDir()
	}
	opts.UseMockAuth = true
	s, err := NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Shutdown(context.Background())
	})
	return s, ts
}

// do sends body as JSON on behalf of user ("" is anonymous) and decodes a
// JSON response into out when given.
func (c testClient) do(user, method, path string, body, out any) *http.Response {
	c.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			c.t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, r)
	if err != nil {
		c.t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.AddCookie(&http.Cookie{Name: mockAuthCookieName, Value: user})
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	resp.Body = io.NopCloser(bytes.NewReader(data))
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			c.t.Fatalf("%s %s: decoding %q: %v", method, path, data, err)
		}
	}
	return resp
}

func (c testClient) expect(status int, user, method, path string, body, out any) *http.Response {
	c.t.Helper()
	resp := c.do(user, method, path, body, out)
	if resp.StatusCode != status {
		data, _ := io.ReadAll(resp.Body)
		c.t.Fatalf("%s %s as %q = %d, want %d: %s", method, path, user, resp.StatusCode, status, data)
	}
	return resp
}

func errorBody(t *testing.T, resp *http.Response) apiError {
	t.Helper()
	var body map[string]apiError
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body["error"]
}

func setupHTTPMatch(t *testing.T, c testClient, overs int) string {
	t.Helper()
	var a, b Team
	for _, tm := range []struct {
		name, prefix string
		out          *Team
	}{{"Alpha", "a", &a}, {"Bravo", "b", &b}} {
		c.expect(http.StatusCreated, testOwner, "POST", "/api/teams", Team{
			Name:   tm.name,
			Roster: testRoster(tm.prefix, 11),
			Roles:  TeamRoles{Scorers: []string{testScorer}},
		}, tm.out)
	}
	var out scoring.Outcome
	c.expect(http.StatusCreated, testOwner, "POST", "/api/matches", CreateMatchRequest{
		TeamAID:    a.ID,
		TeamBID:    b.ID,
		OversLimit: overs,
		Venue:      "Eden Gardens",
		Toss:       &scoring.Toss{WinnerID: a.ID, Decision: scoring.ElectBat},
	}, &out)
	if out.Scoreboard == nil || out.Scoreboard.Phase != scoring.MatchTossDone {
		t.Fatalf("created scoreboard = %+v", out.Scoreboard)
	}
	return out.Scoreboard.MatchID
}

func TestServer_Health(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	c := testClient{t, ts.URL}
	var body map[string]any
	resp := c.expect(http.StatusOK, "", "GET", "/healthz", nil, &body)
	if body["status"] != "ok" {
		t.Errorf("health = %v", body)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("missing security headers: %v", resp.Header)
	}
}

func TestServer_MatchLifecycle(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	c := testClient{t, ts.URL}
	id := setupHTTPMatch(t, c, 1)
	base := "/api/matches/" + id

	c.expect(http.StatusUnauthorized, "", "POST", base+"/start", nil, nil)
	c.expect(http.StatusForbidden, testViewer, "POST", base+"/start", nil, nil)
	c.expect(http.StatusOK, testScorer, "POST", base+"/start", nil, nil)

	// Balls need openers first.
	resp := c.expect(http.StatusConflict, testScorer, "POST", base+"/balls", scoring.BallInput{Runs: 1}, nil)
	if e := errorBody(t, resp); e.Kind != "InvalidState" || e.Required != scoring.RequireSetOpeners {
		t.Errorf("error = %+v", e)
	}

	var live scoring.Scoreboard
	c.expect(http.StatusOK, testScorer, "POST", base+"/batsmen", map[string]string{"striker_id": "a1", "non_striker_id": "a2"}, &struct {
		Scoreboard *scoring.Scoreboard `json:"scoreboard"`
	}{&live})
	var players struct {
		Players []scoring.Player `json:"players"`
	}
	c.expect(http.StatusOK, "", "GET", base+"/batsmen?team_id="+live.TeamA.ID, nil, &players)
	if len(players.Players) != 9 {
		t.Errorf("available batsmen = %d, want 9", len(players.Players))
	}
	resp = c.expect(http.StatusUnprocessableEntity, testScorer, "POST", base+"/bowler", map[string]string{"bowler_id": "a3"}, nil)
	if e := errorBody(t, resp); e.Kind != "IneligibleSelection" {
		t.Errorf("error kind = %q", e.Kind)
	}
	var valid map[string]bool
	c.expect(http.StatusOK, "", "POST", base+"/bowler/validate", map[string]string{"bowler_id": "b1"}, &valid)
	if !valid["valid"] {
		t.Errorf("validate = %v", valid)
	}
	c.expect(http.StatusOK, testScorer, "POST", base+"/bowler", map[string]string{"bowler_id": "b1"}, nil)

	c.expect(http.StatusBadRequest, testScorer, "POST", base+"/balls", map[string]any{"runs": 42}, nil)

	var out scoring.Outcome
	for range 6 {
		c.expect(http.StatusOK, testScorer, "POST", base+"/balls", scoring.BallInput{Runs: 1}, &out)
	}
	if out.Delivery == nil || out.Scoreboard.Innings[0].Runs != 6 {
		t.Fatalf("after first innings: %+v", out.Scoreboard.Innings[0])
	}

	c.expect(http.StatusOK, testScorer, "POST", base+"/end-innings", nil, nil)
	c.expect(http.StatusOK, testScorer, "POST", base+"/batsmen", map[string]string{"striker_id": "b1", "non_striker_id": "b2"}, nil)
	c.do("", "GET", base+"/bowlers", nil, &players)
	if len(players.Players) != 11 {
		t.Errorf("available bowlers = %d, want 11", len(players.Players))
	}
	c.expect(http.StatusOK, testScorer, "POST", base+"/bowler", map[string]string{"bowler_id": "a1"}, nil)
	c.expect(http.StatusOK, testScorer, "POST", base+"/balls", scoring.BallInput{Runs: 6}, nil)
	c.expect(http.StatusOK, testScorer, "POST", base+"/balls", scoring.BallInput{Runs: 1}, &out)
	if out.Scoreboard.Phase != scoring.MatchCompleted || out.Result == nil {
		t.Fatalf("match not completed: phase %s", out.Scoreboard.Phase)
	}

	var res map[string]any
	c.expect(http.StatusOK, "", "GET", base+"/winner", nil, &res)
	if res["winner_id"] != live.TeamB.ID || res["winner_name"] != "Bravo" || res["match_result"] != "Bravo won by 10 wickets" {
		t.Errorf("winner = %v", res)
	}
	resp = c.expect(http.StatusConflict, testScorer, "POST", base+"/balls", scoring.BallInput{Runs: 1}, nil)
	if e := errorBody(t, resp); e.Kind != "MatchCompleted" {
		t.Errorf("error kind = %q", e.Kind)
	}

	resp = c.expect(http.StatusOK, "", "GET", base+"/scorecard", nil, nil)
	card, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") || !strings.Contains(string(card), "Bravo won by 10 wickets") {
		t.Errorf("scorecard (%s):\n%s", resp.Header.Get("Content-Type"), card)
	}

	var list struct {
		Matches []matchListItem `json:"matches"`
		Total   int             `json:"total"`
	}
	c.expect(http.StatusOK, testScorer, "GET", "/api/matches?q=eden", nil, &list)
	if list.Total != 1 || list.Matches[0].Access != "scorer" {
		t.Errorf("list = %+v", list)
	}

	c.expect(http.StatusForbidden, testScorer, "DELETE", base+"/", nil, nil)
	c.expect(http.StatusNoContent, testOwner, "DELETE", base+"/", nil, nil)
	c.expect(http.StatusNotFound, "", "GET", base+"/scoreboard", nil, nil)
}

func TestServer_Scoreboard(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	c := testClient{t, ts.URL}
	id := setupHTTPMatch(t, c, 5)
	base := "/api/matches/" + id

	c.expect(http.StatusBadRequest, "", "GET", "/api/matches/not-a-uuid/scoreboard", nil, nil)
	c.expect(http.StatusNotFound, "", "GET", "/api/matches/"+uuid.NewString()+"/scoreboard", nil, nil)
	c.expect(http.StatusBadRequest, "", "GET", base+"/scoreboard?since=x", nil, nil)

	var sb scoring.Scoreboard
	resp := c.expect(http.StatusOK, "", "GET", base+"/scoreboard", nil, &sb)
	if resp.Header.Get("ETag") == "" || sb.Venue != "Eden Gardens" {
		t.Errorf("scoreboard etag %q venue %q", resp.Header.Get("ETag"), sb.Venue)
	}

	// An older version is answered at once.
	c.expect(http.StatusOK, "", "GET", base+"/scoreboard?since=0", nil, nil)

	// Nothing new before the client gives up.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest("GET", base+"/scoreboard?since="+jsonUint(sb.Version), nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotModified {
		t.Errorf("idle long poll = %d, want 304", rec.Code)
	}

	// A change wakes the waiting reader.
	done := make(chan *scoring.Scoreboard, 1)
	go func() {
		var next scoring.Scoreboard
		r := c.do("", "GET", base+"/scoreboard?since="+jsonUint(sb.Version), nil, &next)
		if r.StatusCode != http.StatusOK {
			done <- nil
			return
		}
		done <- &next
	}()
	time.Sleep(50 * time.Millisecond)
	c.expect(http.StatusOK, testScorer, "POST", base+"/start", nil, nil)
	select {
	case next := <-done:
		if next == nil || next.Version <= sb.Version || next.Phase != scoring.MatchLive {
			t.Errorf("long poll = %+v", next)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("long poll did not return")
	}
}

func jsonUint(v uint64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestServer_Teams(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	c := testClient{t, ts.URL}

	c.expect(http.StatusUnauthorized, "", "POST", "/api/teams", Team{Name: "X"}, nil)
	c.expect(http.StatusBadRequest, testOwner, "POST", "/api/teams", Team{Name: ""}, nil)

	var team Team
	c.expect(http.StatusCreated, testOwner, "POST", "/api/teams", Team{Name: "Alpha", Roster: testRoster("a", 11)}, &team)
	if team.OwnerID != testOwner || team.ID == "" {
		t.Fatalf("team = %+v", team)
	}
	team.Name = "Alpha XI"
	c.expect(http.StatusOK, testOwner, "POST", "/api/teams", team, nil)
	c.expect(http.StatusForbidden, testViewer, "POST", "/api/teams", team, nil)

	var got Team
	c.expect(http.StatusOK, testOwner, "GET", "/api/teams/"+team.ID, nil, &got)
	if got.Name != "Alpha XI" {
		t.Errorf("name = %q", got.Name)
	}
	c.expect(http.StatusForbidden, testViewer, "GET", "/api/teams/"+team.ID, nil, nil)

	var list struct {
		Teams []TeamMetadata `json:"teams"`
		Total int            `json:"total"`
	}
	c.expect(http.StatusUnauthorized, "", "GET", "/api/teams", nil, nil)
	c.expect(http.StatusOK, testOwner, "GET", "/api/teams", nil, &list)
	if list.Total != 1 || list.Teams[0].Name != "Alpha XI" {
		t.Errorf("list = %+v", list)
	}

	c.expect(http.StatusForbidden, testViewer, "DELETE", "/api/teams/"+team.ID, nil, nil)
	c.expect(http.StatusNoContent, testOwner, "DELETE", "/api/teams/"+team.ID, nil, nil)
	c.expect(http.StatusNotFound, testOwner, "GET", "/api/teams/"+team.ID, nil, nil)
	c.expect(http.StatusNotFound, testOwner, "DELETE", "/api/teams/"+uuid.NewString(), nil, nil)
}

func TestServer_AdminPolicy(t *testing.T) {
	_, ts := newTestServer(t, Options{BootstrapAdmin: "root@example.com"})
	c := testClient{t, ts.URL}

	c.expect(http.StatusForbidden, testOwner, "GET", "/api/admin/policy", nil, nil)
	c.expect(http.StatusBadRequest, "root@example.com", "POST", "/api/admin/policy", UserAccessPolicy{DefaultPolicy: "maybe"}, nil)

	policy := UserAccessPolicy{
		DefaultPolicy:      "deny",
		DefaultDenyMessage: "invite only",
		Admins:             []string{"Root@Example.com"},
		Users:              map[string]UserOverride{"Owner@Example.com": {Access: "allow"}},
	}
	c.expect(http.StatusOK, "root@example.com", "POST", "/api/admin/policy", policy, nil)

	var got UserAccessPolicy
	c.expect(http.StatusOK, "root@example.com", "GET", "/api/admin/policy", nil, &got)
	if got.DefaultPolicy != "deny" || got.Admins[0] != "root@example.com" {
		t.Errorf("policy = %+v", got)
	}
	if _, ok := got.Users[testOwner]; !ok {
		t.Errorf("user overrides not normalized: %v", got.Users)
	}

	resp := c.expect(http.StatusForbidden, testViewer, "POST", "/api/teams", Team{Name: "Nope", Roster: testRoster("n", 11)}, nil)
	if e := errorBody(t, resp); !strings.Contains(e.Message, "invite only") {
		t.Errorf("deny message = %q", e.Message)
	}
	c.expect(http.StatusCreated, testOwner, "POST", "/api/teams", Team{Name: "Yes", Roster: testRoster("y", 11)}, nil)
}

func TestServer_Metrics(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	c := testClient{t, ts.URL}
	setupHTTPMatch(t, c, 2)

	resp := c.expect(http.StatusOK, "", "GET", "/metrics", nil, nil)
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		"wicketkeeper_commands_total",
		"wicketkeeper_matches 1",
		"wicketkeeper_http_request_duration_seconds",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestServer_RateLimit(t *testing.T) {
	_, ts := newTestServer(t, Options{RateLimit: RateLimitOptions{Enabled: true, RPS: 0.001, Burst: 2}})
	c := testClient{t, ts.URL}
	c.expect(http.StatusOK, "", "GET", "/healthz", nil, nil)
	c.expect(http.StatusOK, "", "GET", "/healthz", nil, nil)
	resp := c.expect(http.StatusTooManyRequests, "", "GET", "/healthz", nil, nil)
	if got := resp.Header.Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q", got)
	}
	if e := errorBody(t, resp); e.Kind != "RateLimited" {
		t.Errorf("error kind = %q", e.Kind)
	}
}

func TestServer_WinnerTied(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	c := testClient{t, ts.URL}
	id := setupHTTPMatch(t, c, 1)
	base := "/api/matches/" + id

	c.expect(http.StatusOK, testScorer, "POST", base+"/start", nil, nil)
	resp := c.expect(http.StatusConflict, "", "GET", base+"/winner", nil, nil)
	if e := errorBody(t, resp); e.Required != scoring.RequireCompleteMatch {
		t.Errorf("winner before completion = %+v", e)
	}

	innings := []struct{ striker, nonStriker, bowler string }{
		{"a1", "a2", "b1"},
		{"b1", "b2", "a1"},
	}
	var out scoring.Outcome
	for i, inn := range innings {
		if i == 1 {
			c.expect(http.StatusOK, testScorer, "POST", base+"/end-innings", nil, nil)
		}
		c.expect(http.StatusOK, testScorer, "POST", base+"/batsmen", map[string]string{"striker_id": inn.striker, "non_striker_id": inn.nonStriker}, nil)
		c.expect(http.StatusOK, testScorer, "POST", base+"/bowler", map[string]string{"bowler_id": inn.bowler}, nil)
		for range 6 {
			c.expect(http.StatusOK, testScorer, "POST", base+"/balls", scoring.BallInput{Runs: 1}, &out)
		}
	}
	if out.Scoreboard.Phase != scoring.MatchCompleted {
		t.Fatalf("phase = %s", out.Scoreboard.Phase)
	}

	var res map[string]any
	c.expect(http.StatusOK, "", "GET", base+"/winner", nil, &res)
	for _, k := range []string{"winner_id", "winner_name"} {
		if v, ok := res[k]; !ok || v != nil {
			t.Errorf("%s = %v (present %v), want null", k, v, ok)
		}
	}
	if res["match_result"] != "Match tied" || res["tied"] != true {
		t.Errorf("winner = %v", res)
	}
}
