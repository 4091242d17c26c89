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
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// CommandType names a match mutation.
type CommandType string

const (
	CmdCreate     CommandType = "create"
	CmdToss       CommandType = "toss"
	CmdStart      CommandType = "start"
	CmdSetBatsmen CommandType = "set_batsmen"
	CmdSetBowler  CommandType = "set_bowler"
	CmdRecordBall CommandType = "record_ball"
	CmdEndInnings CommandType = "end_innings"
	CmdComplete   CommandType = "complete"
)

// Command is one entry of a match's command log. Replaying the log of a
// match in order rebuilds it exactly.
type Command struct {
	ID        string      `json:"id"`
	Type      CommandType `json:"type"`
	Timestamp int64       `json:"timestamp"`
	// Index is the replicated log index that carried the command, if any.
	Index  uint64 `json:"index,omitempty"`
	UserID string `json:"user_id,omitempty"`

	Setup        *Setup     `json:"setup,omitempty"`
	Toss         *Toss      `json:"toss,omitempty"`
	StrikerID    string     `json:"striker_id,omitempty"`
	NonStrikerID string     `json:"non_striker_id,omitempty"`
	BowlerID     string     `json:"bowler_id,omitempty"`
	Ball         *BallInput `json:"ball,omitempty"`
	Force        bool       `json:"force,omitempty"`
}

// Outcome is what a successful Apply returns.
type Outcome struct {
	Scoreboard *Scoreboard `json:"scoreboard"`
	Delivery   *Delivery   `json:"delivery,omitempty"`
	Result     *Result     `json:"result,omitempty"`
	// Duplicate is set when the command was acknowledged without change: a
	// retried ball, or completing a completed match.
	Duplicate bool `json:"duplicate,omitempty"`
}

// Journal persists accepted commands. Append is called with the match's
// writer lock held; when it fails the command is rolled back.
type Journal interface {
	Append(matchID string, cmd Command, sb *Scoreboard) error
}

type entry struct {
	mu      sync.RWMutex
	match   *Match
	log     []Command
	version uint64
	changed chan struct{}
	snap    atomic.Pointer[Scoreboard]
	gone    bool // removed from the engine; guarded by mu
}

// Engine holds live matches and serializes mutations per match. Reads of the
// latest scoreboard never take a lock.
type Engine struct {
	matches sync.Map // string -> *entry
	journal Journal
	now     func() time.Time

	lmu       sync.RWMutex
	listeners []func(*Scoreboard)
}

// Option configures an Engine.
type Option func(*Engine)

// WithJournal sets the journal that receives every accepted command.
func WithJournal(j Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine returns an empty engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// OnUpdate registers fn to receive every new scoreboard. fn is called with
// the match's writer lock held and must not block.
func (e *Engine) OnUpdate(fn func(*Scoreboard)) {
	e.lmu.Lock()
	defer e.lmu.Unlock()
	e.listeners = append(e.listeners, fn)
}

func (e *Engine) notify(sb *Scoreboard) {
	e.lmu.RLock()
	defer e.lmu.RUnlock()
	for _, fn := range e.listeners {
		fn(sb)
	}
}

func (e *Engine) entry(op, matchID string) (*entry, error) {
	v, ok := e.matches.Load(matchID)
	if !ok {
		return nil, notFound(op, "match %s not found", matchID)
	}
	return v.(*entry), nil
}

// Has reports whether the match is loaded.
func (e *Engine) Has(matchID string) bool {
	_, ok := e.matches.Load(matchID)
	return ok
}

// IDs returns the ids of all loaded matches.
func (e *Engine) IDs() []string {
	var ids []string
	e.matches.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return true
	})
	return ids
}

// Remove drops a match from memory. Pending Waits return ErrNotFound.
func (e *Engine) Remove(matchID string) {
	v, ok := e.matches.LoadAndDelete(matchID)
	if !ok {
		return
	}
	ent := v.(*entry)
	ent.mu.Lock()
	ent.drop()
	ent.mu.Unlock()
}

// drop marks ent removed and wakes its waiters. Called with ent.mu held.
func (ent *entry) drop() {
	if ent.gone {
		return
	}
	ent.gone = true
	close(ent.changed)
}

// Apply validates cmd against the match and, if accepted, applies it,
// journals it and publishes a new scoreboard. Commands are stamped with an
// id, a timestamp and, for balls, a seq, so that the journaled log replays
// to the same state.
func (e *Engine) Apply(matchID string, cmd Command) (Outcome, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.Timestamp == 0 {
		cmd.Timestamp = e.now().UnixMilli()
	}
	if cmd.Type == CmdCreate {
		return e.create(matchID, cmd)
	}

	ent, err := e.entry(string(cmd.Type), matchID)
	if err != nil {
		return Outcome{}, err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.gone {
		return Outcome{}, notFound(string(cmd.Type), "match %s not found", matchID)
	}

	if cmd.Type == CmdRecordBall && cmd.Ball != nil && cmd.Ball.Seq == 0 {
		b := *cmd.Ball
		b.Seq = ent.match.NextSeq()
		cmd.Ball = &b
	}
	out, err := applyTo(ent.match, cmd)
	if err != nil {
		return Outcome{}, err
	}
	if out.Duplicate {
		out.Scoreboard = ent.snap.Load()
		return out, nil
	}

	ent.log = append(ent.log, cmd)
	sb := ent.next()
	if err := e.journalAppend(matchID, cmd, sb); err != nil {
		ent.log = ent.log[:len(ent.log)-1]
		m, rerr := Replay(ent.log)
		if rerr != nil {
			return Outcome{}, fmt.Errorf("journal: %w (rebuild: %v)", err, rerr)
		}
		ent.match = m
		return Outcome{}, fmt.Errorf("journal: %w", err)
	}
	out.Scoreboard = sb
	ent.publish(e, sb)
	return out, nil
}

func (e *Engine) journalAppend(matchID string, cmd Command, sb *Scoreboard) error {
	if e.journal == nil {
		return nil
	}
	return e.journal.Append(matchID, cmd, sb)
}

func (e *Engine) create(matchID string, cmd Command) (Outcome, error) {
	const op = "createMatch"
	if cmd.Setup == nil {
		return Outcome{}, validationError(op, "setup is required")
	}
	s := *cmd.Setup
	if s.ID == "" {
		s.ID = matchID
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if matchID != "" && matchID != s.ID {
		return Outcome{}, validationError(op, "match id %s does not match setup id %s", matchID, s.ID)
	}
	cmd.Setup = &s
	m, err := NewMatch(s)
	if err != nil {
		return Outcome{}, err
	}
	ent := &entry{match: m, log: []Command{cmd}, changed: make(chan struct{})}
	// A reader that finds the entry before publish sees version 0.
	ent.snap.Store(m.Scoreboard())
	ent.mu.Lock()
	defer ent.mu.Unlock()
	if _, loaded := e.matches.LoadOrStore(s.ID, ent); loaded {
		return Outcome{}, newError(ErrConflict, op, "", "match %s already exists", s.ID)
	}
	sb := ent.next()
	if err := e.journalAppend(s.ID, cmd, sb); err != nil {
		e.matches.CompareAndDelete(s.ID, ent)
		ent.drop()
		return Outcome{}, fmt.Errorf("journal: %w", err)
	}
	ent.publish(e, sb)
	return Outcome{Scoreboard: sb}, nil
}

// next builds the snapshot for the next version. Called with ent.mu held.
func (ent *entry) next() *Scoreboard {
	sb := ent.match.Scoreboard()
	sb.Version = ent.version + 1
	return sb
}

// publish stores sb and wakes waiters. Called with ent.mu held.
func (ent *entry) publish(e *Engine, sb *Scoreboard) {
	ent.version = sb.Version
	ent.snap.Store(sb)
	close(ent.changed)
	ent.changed = make(chan struct{})
	if e != nil {
		e.notify(sb)
	}
}

// applyTo runs cmd against m.
func applyTo(m *Match, cmd Command) (Outcome, error) {
	var out Outcome
	var err error
	switch cmd.Type {
	case CmdToss:
		if cmd.Toss == nil {
			return out, validationError("setToss", "toss is required")
		}
		err = m.SetToss(*cmd.Toss)
	case CmdStart:
		err = m.Start()
	case CmdSetBatsmen:
		err = m.SetBatsmen(cmd.StrikerID, cmd.NonStrikerID)
	case CmdSetBowler:
		err = m.SetBowler(cmd.BowlerID)
	case CmdRecordBall:
		if cmd.Ball == nil {
			return out, validationError("recordBall", "ball is required")
		}
		var d Delivery
		d, out.Duplicate, err = m.RecordBall(*cmd.Ball, cmd.ID, cmd.Timestamp)
		if err == nil {
			out.Delivery = &d
		}
	case CmdEndInnings:
		err = m.EndInnings(cmd.Force)
	case CmdComplete:
		out.Duplicate = m.Phase == MatchCompleted
		var r Result
		if r, err = m.Complete(); err == nil {
			out.Result = &r
		}
	default:
		return out, validationError("apply", "unknown command type %q", cmd.Type)
	}
	if err == nil && out.Result == nil && m.result != nil {
		r := *m.result
		out.Result = &r
	}
	return out, err
}

// Replay rebuilds a match from its command log. The first command must
// create it.
func Replay(log []Command) (*Match, error) {
	if len(log) == 0 || log[0].Type != CmdCreate || log[0].Setup == nil {
		return nil, validationError("replay", "log must start with a create command")
	}
	m, err := NewMatch(*log[0].Setup)
	if err != nil {
		return nil, err
	}
	for i, cmd := range log[1:] {
		if _, err := applyTo(m, cmd); err != nil {
			return nil, fmt.Errorf("replay command %d (%s): %w", i+1, cmd.Type, err)
		}
	}
	return m, nil
}

// Load installs a match rebuilt from its command log, replacing any loaded
// copy. The journal is not called.
func (e *Engine) Load(log []Command) (*Scoreboard, error) {
	m, err := Replay(log)
	if err != nil {
		return nil, err
	}
	ent := &entry{match: m, log: append([]Command(nil), log...), changed: make(chan struct{})}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	if v, ok := e.matches.Load(m.ID()); ok {
		old := v.(*entry)
		old.mu.RLock()
		ent.version = old.version
		old.mu.RUnlock()
	}
	sb := ent.next()
	ent.snap.Store(sb)
	e.matches.Store(m.ID(), ent)
	ent.publish(nil, sb)
	return sb, nil
}

// Scoreboard returns the latest snapshot without locking.
func (e *Engine) Scoreboard(matchID string) (*Scoreboard, error) {
	ent, err := e.entry("getScoreboard", matchID)
	if err != nil {
		return nil, err
	}
	sb := ent.snap.Load()
	if sb == nil {
		return nil, notFound("getScoreboard", "match %s not found", matchID)
	}
	return sb, nil
}

// Wait blocks until the match's version exceeds since, or ctx is done. It
// returns the latest snapshot either way, along with ctx's error in the
// latter case.
func (e *Engine) Wait(ctx context.Context, matchID string, since uint64) (*Scoreboard, error) {
	ent, err := e.entry("getScoreboard", matchID)
	if err != nil {
		return nil, err
	}
	for {
		ent.mu.RLock()
		sb := ent.snap.Load()
		ch := ent.changed
		gone := ent.gone
		ent.mu.RUnlock()
		if gone {
			return nil, notFound("getScoreboard", "match %s not found", matchID)
		}
		if sb.Version > since {
			return sb, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return sb, ctx.Err()
		}
	}
}

// Log returns a copy of the match's command log.
func (e *Engine) Log(matchID string) ([]Command, error) {
	ent, err := e.entry("log", matchID)
	if err != nil {
		return nil, err
	}
	ent.mu.RLock()
	defer ent.mu.RUnlock()
	return append([]Command(nil), ent.log...), nil
}

// View runs fn with read access to the match.
func (e *Engine) View(matchID string, fn func(*Match) error) error {
	ent, err := e.entry("view", matchID)
	if err != nil {
		return err
	}
	ent.mu.RLock()
	defer ent.mu.RUnlock()
	return fn(ent.match)
}

// CreateMatch creates a match from s. An empty s.ID gets a generated id.
func (e *Engine) CreateMatch(s Setup) (Outcome, error) {
	return e.Apply(s.ID, Command{Type: CmdCreate, Setup: &s})
}

// SetToss records the toss.
func (e *Engine) SetToss(matchID string, t Toss) (Outcome, error) {
	return e.Apply(matchID, Command{Type: CmdToss, Toss: &t})
}

// StartMatch opens the first innings.
func (e *Engine) StartMatch(matchID string) (Outcome, error) {
	return e.Apply(matchID, Command{Type: CmdStart})
}

// SetBatsmen sets the openers or fills a vacant end.
func (e *Engine) SetBatsmen(matchID, striker, nonStriker string) (Outcome, error) {
	return e.Apply(matchID, Command{Type: CmdSetBatsmen, StrikerID: striker, NonStrikerID: nonStriker})
}

// SetBowler chooses the bowler for the next over.
func (e *Engine) SetBowler(matchID, bowlerID string) (Outcome, error) {
	return e.Apply(matchID, Command{Type: CmdSetBowler, BowlerID: bowlerID})
}

// RecordBall records one delivery.
func (e *Engine) RecordBall(matchID string, in BallInput) (Outcome, error) {
	return e.Apply(matchID, Command{Type: CmdRecordBall, Ball: &in})
}

// EndInnings closes the current innings, forcibly if force is set.
func (e *Engine) EndInnings(matchID string, force bool) (Outcome, error) {
	return e.Apply(matchID, Command{Type: CmdEndInnings, Force: force})
}

// CompleteMatch computes the result. Once the match is completed it returns
// the stored result and changes nothing.
func (e *Engine) CompleteMatch(matchID string) (Outcome, error) {
	return e.Apply(matchID, Command{Type: CmdComplete})
}

// AvailableBowlers lists who may bowl the next over.
func (e *Engine) AvailableBowlers(matchID, teamID, exclude string) ([]Player, error) {
	var out []Player
	err := e.View(matchID, func(m *Match) error {
		var err error
		out, err = m.AvailableBowlers(teamID, exclude)
		return err
	})
	return out, err
}

// AvailableBatsmen lists who may come in to bat.
func (e *Engine) AvailableBatsmen(matchID, teamID string) ([]Player, error) {
	var out []Player
	err := e.View(matchID, func(m *Match) error {
		var err error
		out, err = m.AvailableBatsmen(teamID)
		return err
	})
	return out, err
}

// ValidateBowler checks a bowler choice without applying it.
func (e *Engine) ValidateBowler(matchID, bowlerID string) error {
	return e.View(matchID, func(m *Match) error {
		return m.ValidateBowler(bowlerID)
	})
}

// Winner returns the result of a completed match.
func (e *Engine) Winner(matchID string) (Result, error) {
	var r Result
	err := e.View(matchID, func(m *Match) error {
		var err error
		r, err = m.Winner()
		return err
	})
	return r, err
}
