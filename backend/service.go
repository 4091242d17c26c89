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
	"log"
	"os"
	"sync"
	"time"

	"github.com/c2FmZQ/storage"
	"github.com/google/uuid"
	"github.com/ttbt-io/wicketkeeper/backend/scoring"
)

const accessPolicyFile = "sys_access_policy"

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// Service owns the scoring engine and the stores. Every mutation goes
// through Execute: directly on a standalone node, through the raft log on a
// replicated one. Both paths end in applyCommand.
type Service struct {
	Engine   *scoring.Engine
	Matches  *MatchStore
	Teams    *TeamStore
	Registry *Registry
	Access   *AccessControl
	Hubs     *HubManager
	Metrics  *Metrics

	storage  *storage.Storage
	raft     *RaftManager
	notifier Notifier
	results  ResultSink
	debugf   func(string, ...any)

	loadMu sync.Mutex
}

// ServiceOptions configures NewService. Only the stores and storage are
// required.
type ServiceOptions struct {
	Storage        *storage.Storage
	Matches        *MatchStore
	Teams          *TeamStore
	Registry       *Registry
	BootstrapAdmin string
	Notifier       Notifier
	Results        ResultSink
	Metrics        *Metrics
	Debug          bool
}

// NewService wires the engine to the stores and restores the persisted
// access policy.
func NewService(opts ServiceOptions) *Service {
	s := &Service{
		Matches:  opts.Matches,
		Teams:    opts.Teams,
		Registry: opts.Registry,
		Metrics:  opts.Metrics,
		storage:  opts.Storage,
		notifier: opts.Notifier,
		results:  opts.Results,
		debugf:   func(string, ...any) {},
	}
	if opts.Debug {
		s.debugf = func(f string, a ...any) {
			log.Printf("[DEBUG SERVICE] "+f, a...)
		}
	}
	if s.Registry == nil {
		s.Registry = NewRegistry(s.Matches, s.Teams)
	}
	if s.Metrics == nil {
		s.Metrics = NewMetrics()
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.results == nil {
		s.results = nopResultSink{}
	}
	s.Access = NewAccessControl(s.Registry, opts.BootstrapAdmin)
	s.Hubs = NewHubManager(s)
	s.Engine = scoring.NewEngine(scoring.WithJournal(s.Matches))
	s.Engine.OnUpdate(func(sb *scoring.Scoreboard) {
		s.Hubs.Broadcast(sb)
		s.notifier.Publish(sb)
	})
	s.Metrics.trackService(s)
	s.loadAccessPolicy()
	return s
}

// SetRaftManager switches the service to replicated mode.
func (s *Service) SetRaftManager(rm *RaftManager) {
	s.raft = rm
	s.Matches.WriteBack = true
}

// IsLeader reports whether this node accepts writes.
func (s *Service) IsLeader() bool {
	return s.raft == nil || s.raft.IsLeader()
}

func (s *Service) loadAccessPolicy() {
	if s.storage == nil {
		return
	}
	var policy UserAccessPolicy
	if err := s.storage.ReadDataFile(accessPolicyFile, &policy); err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[STORE] failed to read access policy: %v", err)
		}
		return
	}
	s.Registry.UpdateAccessPolicy(&policy)
}

// Execute applies rc, through raft when replicated. It returns what
// applyCommand returned.
func (s *Service) Execute(ctx context.Context, rc RaftCommand) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.raft != nil {
		return s.raft.Propose(rc)
	}
	return s.applyCommand(rc, 0)
}

// applyCommand is the single state transition of the service. index is the
// raft log index, or 0 on a standalone node.
func (s *Service) applyCommand(rc RaftCommand, index uint64) (any, error) {
	switch rc.Type {
	case CmdMatch:
		return s.applyMatchCommand(rc, index)
	case CmdDeleteMatch:
		return nil, s.applyDeleteMatch(rc.MatchID, index)
	case CmdSaveTeam:
		return s.applySaveTeam(rc.TeamData, index)
	case CmdDeleteTeam:
		return nil, s.applyDeleteTeam(rc.ID, index)
	case CmdUpdateAccessPolicy:
		return nil, s.applyUpdateAccessPolicy(rc.PolicyData)
	}
	return nil, fmt.Errorf("unknown command type: %s", rc.Type)
}

func notFoundError(op, matchID string) error {
	return &scoring.Error{Kind: scoring.ErrNotFound, Op: op, Message: fmt.Sprintf("match %s not found", matchID)}
}

// ensureLoaded rebuilds a stored match into the engine the first time it
// is needed.
func (s *Service) ensureLoaded(matchID string) error {
	if s.Engine.Has(matchID) {
		return nil
	}
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if s.Engine.Has(matchID) {
		return nil
	}
	rec, err := s.Matches.LoadMatch(matchID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return notFoundError("load", matchID)
		}
		return fmt.Errorf("load match %s: %w", matchID, err)
	}
	if rec.Status == StatusDeleted {
		return notFoundError("load", matchID)
	}
	if _, err := s.Engine.Load(rec.Commands); err != nil {
		return fmt.Errorf("replay match %s: %w", matchID, err)
	}
	s.debugf("loaded match %s from %d commands", matchID, len(rec.Commands))
	return nil
}

func (s *Service) applyMatchCommand(rc RaftCommand, index uint64) (any, error) {
	if rc.Command == nil || rc.MatchID == "" {
		return nil, &scoring.Error{Kind: scoring.ErrValidation, Op: "apply", Message: "match command without a match id"}
	}
	cmd := *rc.Command
	cmd.Index = index
	if index > 0 {
		if rec, err := s.Matches.LoadMatch(rc.MatchID); err == nil && index <= rec.LastRaftIndex {
			s.debugf("skipping entry %d for match %s (at %d)", index, rc.MatchID, rec.LastRaftIndex)
			return nil, nil
		}
	}
	if cmd.Type != scoring.CmdCreate {
		if err := s.ensureLoaded(rc.MatchID); err != nil {
			s.Metrics.observeCommand(string(cmd.Type), err)
			return nil, err
		}
	} else if s.Registry.MatchExists(rc.MatchID) {
		err := &scoring.Error{Kind: scoring.ErrConflict, Op: "createMatch", Message: fmt.Sprintf("match %s already exists", rc.MatchID)}
		s.Metrics.observeCommand(string(cmd.Type), err)
		return nil, err
	}

	out, err := s.Engine.Apply(rc.MatchID, cmd)
	s.Metrics.observeCommand(string(cmd.Type), err)
	if err != nil {
		return nil, err
	}
	if cmd.Type == scoring.CmdCreate && rc.Permissions != nil {
		if err := s.Matches.SetPermissions(rc.MatchID, *rc.Permissions, index); err != nil {
			log.Printf("[STORE] failed to set permissions on match %s: %v", rc.MatchID, err)
		}
	}
	if rec, err := s.Matches.LoadMatch(rc.MatchID); err == nil {
		s.Registry.UpdateMatch(rec.Metadata())
	}
	if cmd.Type == scoring.CmdRecordBall && !out.Duplicate {
		s.Metrics.observeBall(out.Delivery)
	}
	if out.Result != nil && !out.Duplicate && s.IsLeader() {
		s.results.Record(out.Scoreboard)
	}
	return out, nil
}

func (s *Service) applyDeleteMatch(matchID string, index uint64) error {
	if err := s.Matches.DeleteMatch(matchID, index); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return notFoundError("delete", matchID)
		}
		return err
	}
	s.Engine.Remove(matchID)
	s.Hubs.Close(matchID)
	if rec, err := s.Matches.LoadMatch(matchID); err == nil {
		s.Registry.UpdateMatch(rec.Metadata())
	}
	log.Printf("[STORE] match %s deleted", matchID)
	return nil
}

func (s *Service) applySaveTeam(data *json.RawMessage, index uint64) (*Team, error) {
	if data == nil {
		return nil, badRequest("missing team data")
	}
	var t Team
	if err := json.Unmarshal(*data, &t); err != nil {
		return nil, badRequest("malformed team: %v", err)
	}
	if old, err := s.Teams.LoadTeam(t.ID); err == nil {
		if index > 0 && index <= old.LastRaftIndex {
			return old, nil
		}
		if old.Status != StatusDeleted {
			t.OwnerID = old.OwnerID
		}
	}
	if index > 0 {
		t.LastRaftIndex = index
	}
	if err := s.Teams.SaveTeam(&t); err != nil {
		return nil, err
	}
	s.Registry.UpdateTeam(t.Metadata())
	return &t, nil
}

func (s *Service) applyDeleteTeam(teamID string, index uint64) error {
	if old, err := s.Teams.LoadTeam(teamID); err == nil && index > 0 && index <= old.LastRaftIndex {
		return nil
	}
	if err := s.Teams.DeleteTeam(teamID); err != nil {
		return err
	}
	if t, err := s.Teams.LoadTeam(teamID); err == nil {
		s.Registry.UpdateTeam(t.Metadata())
	}
	return nil
}

func (s *Service) applyUpdateAccessPolicy(policy *UserAccessPolicy) error {
	if policy == nil {
		return badRequest("missing policy")
	}
	if s.storage != nil {
		if err := s.storage.SaveDataFile(accessPolicyFile, policy); err != nil {
			return fmt.Errorf("save access policy: %w", err)
		}
	}
	s.Registry.UpdateAccessPolicy(policy)
	return nil
}

// reset drops every loaded match and re-indexes the stores, after the
// on-disk state was replaced wholesale.
func (s *Service) reset() {
	for _, id := range s.Engine.IDs() {
		s.Engine.Remove(id)
	}
	s.Registry.Rebuild()
	s.loadAccessPolicy()
}

// Flush writes dirty match records to disk.
func (s *Service) Flush() error {
	return s.Matches.FlushAll()
}

// --- Operations used by the HTTP and websocket layers ---

// Scoreboard returns the latest scoreboard of a match.
func (s *Service) Scoreboard(matchID string) (*scoring.Scoreboard, error) {
	if err := s.ensureLoaded(matchID); err != nil {
		return nil, err
	}
	return s.Engine.Scoreboard(matchID)
}

// WaitScoreboard blocks until the match moves past version since.
func (s *Service) WaitScoreboard(ctx context.Context, matchID string, since uint64) (*scoring.Scoreboard, error) {
	if err := s.ensureLoaded(matchID); err != nil {
		return nil, err
	}
	return s.Engine.Wait(ctx, matchID, since)
}

// CreateMatch builds a match from two stored rosters.
func (s *Service) CreateMatch(ctx context.Context, userID string, req CreateMatchRequest) (scoring.Outcome, error) {
	if err := req.validate(); err != nil {
		return scoring.Outcome{}, err
	}
	if err := s.Access.CheckMatchQuota(userID); err != nil {
		return scoring.Outcome{}, err
	}
	teams := make([]*Team, 2)
	for i, id := range []string{req.TeamAID, req.TeamBID} {
		t, err := s.Teams.LoadActiveTeam(id)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return scoring.Outcome{}, &scoring.Error{Kind: scoring.ErrNotFound, Op: "createMatch", Message: fmt.Sprintf("team %s not found", id)}
			}
			return scoring.Outcome{}, err
		}
		if GetTeamAccess(userID, t.Metadata()) < AccessWrite {
			return scoring.Outcome{}, fmt.Errorf("%w: no scorer access to team %s", ErrForbidden, t.Name)
		}
		teams[i] = t
	}
	setup := req.setup(teams[0], teams[1])
	return s.execMatch(ctx, RaftCommand{
		Type:        CmdMatch,
		MatchID:     req.ID,
		Permissions: &Permissions{Public: req.Public},
		Command:     &scoring.Command{Type: scoring.CmdCreate, UserID: userID, Setup: &setup},
	})
}

// Apply runs one match command on behalf of userID.
func (s *Service) Apply(ctx context.Context, userID, matchID string, cmd scoring.Command) (scoring.Outcome, error) {
	if err := s.ensureLoaded(matchID); err != nil {
		return scoring.Outcome{}, err
	}
	cmd.UserID = userID
	return s.execMatch(ctx, RaftCommand{Type: CmdMatch, MatchID: matchID, Command: &cmd})
}

func (s *Service) execMatch(ctx context.Context, rc RaftCommand) (scoring.Outcome, error) {
	if rc.Command.ID == "" {
		rc.Command.ID = uuid.NewString()
	}
	if rc.Command.Timestamp == 0 {
		rc.Command.Timestamp = nowMillis()
	}
	res, err := s.Execute(ctx, rc)
	if err != nil {
		return scoring.Outcome{}, err
	}
	out, ok := res.(scoring.Outcome)
	if !ok {
		// An entry already applied before a restart.
		sb, err := s.Scoreboard(rc.MatchID)
		if err != nil {
			return scoring.Outcome{}, err
		}
		return scoring.Outcome{Scoreboard: sb, Duplicate: true}, nil
	}
	return out, nil
}

// DeleteMatch tombstones a match.
func (s *Service) DeleteMatch(ctx context.Context, matchID string) error {
	_, err := s.Execute(ctx, RaftCommand{Type: CmdDeleteMatch, MatchID: matchID})
	return err
}

// SaveTeam creates or replaces a team owned by userID.
func (s *Service) SaveTeam(ctx context.Context, userID string, t *Team) (*Team, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if err := validateTeam(t); err != nil {
		return nil, err
	}
	existing, err := s.Teams.LoadActiveTeam(t.ID)
	switch {
	case err == nil:
		if GetTeamAccess(userID, existing.Metadata()) < AccessAdmin {
			return nil, fmt.Errorf("%w: not an organizer of team %s", ErrForbidden, existing.Name)
		}
		t.OwnerID = existing.OwnerID
	case errors.Is(err, os.ErrNotExist):
		if err := s.Access.CheckTeamQuota(userID); err != nil {
			return nil, err
		}
		t.OwnerID = normalizeEmail(userID)
	default:
		return nil, err
	}
	t.UpdatedAt = nowMillis()
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	raw := json.RawMessage(data)
	res, err := s.Execute(ctx, RaftCommand{Type: CmdSaveTeam, ID: t.ID, TeamData: &raw})
	if err != nil {
		return nil, err
	}
	if saved, ok := res.(*Team); ok {
		return saved, nil
	}
	return t, nil
}

// DeleteTeam tombstones a team.
func (s *Service) DeleteTeam(ctx context.Context, teamID string) error {
	_, err := s.Execute(ctx, RaftCommand{Type: CmdDeleteTeam, ID: teamID})
	return err
}

// UpdateAccessPolicy replaces the cluster-wide access policy.
func (s *Service) UpdateAccessPolicy(ctx context.Context, policy *UserAccessPolicy) error {
	_, err := s.Execute(ctx, RaftCommand{Type: CmdUpdateAccessPolicy, PolicyData: policy})
	return err
}

// AvailableBowlers lists who may bowl the next over of a match.
func (s *Service) AvailableBowlers(matchID, teamID, exclude string) ([]scoring.Player, error) {
	if err := s.ensureLoaded(matchID); err != nil {
		return nil, err
	}
	return s.Engine.AvailableBowlers(matchID, teamID, exclude)
}

// AvailableBatsmen lists who may come in to bat.
func (s *Service) AvailableBatsmen(matchID, teamID string) ([]scoring.Player, error) {
	if err := s.ensureLoaded(matchID); err != nil {
		return nil, err
	}
	return s.Engine.AvailableBatsmen(matchID, teamID)
}

// ValidateBowler checks a bowler selection without applying it.
func (s *Service) ValidateBowler(matchID, bowlerID string) error {
	if err := s.ensureLoaded(matchID); err != nil {
		return err
	}
	return s.Engine.ValidateBowler(matchID, bowlerID)
}

// Winner returns the result of a completed match.
func (s *Service) Winner(matchID string) (scoring.Result, error) {
	if err := s.ensureLoaded(matchID); err != nil {
		return scoring.Result{}, err
	}
	return s.Engine.Winner(matchID)
}

// Close stops the background exporters.
func (s *Service) Close() error {
	var errs []error
	if err := s.notifier.Close(); err != nil {
		errs = append(errs, fmt.Errorf("notifier: %w", err))
	}
	if err := s.results.Close(); err != nil {
		errs = append(errs, fmt.Errorf("results: %w", err))
	}
	s.Registry.StopGC()
	return errors.Join(errs...)
}
