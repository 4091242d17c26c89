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
	"encoding/json"

	"github.com/ttbt-io/wicketkeeper/backend/scoring"
)

// CommandType represents the type of operation to perform on the FSM.
type CommandType string

const (
	CmdMatch              CommandType = "MATCH_COMMAND"
	CmdDeleteMatch        CommandType = "DELETE_MATCH"
	CmdSaveTeam           CommandType = "SAVE_TEAM"
	CmdDeleteTeam         CommandType = "DELETE_TEAM"
	CmdNodeMeta           CommandType = "NODE_META"
	CmdUpdateAccessPolicy CommandType = "UPDATE_ACCESS_POLICY"
)

// RaftCommand is a unified structure for all Raft log entries. Standalone
// nodes apply the same structure directly.
type RaftCommand struct {
	Type        CommandType       `json:"type"`
	MatchID     string            `json:"matchId,omitempty"`
	Command     *scoring.Command  `json:"command,omitempty"`
	Permissions *Permissions      `json:"permissions,omitempty"`
	TeamData    *json.RawMessage  `json:"teamData,omitempty"`
	PolicyData  *UserAccessPolicy `json:"policyData,omitempty"`
	NodeMeta    *NodeMeta         `json:"nodeMeta,omitempty"`
	UserID      string            `json:"userId,omitempty"`
	ID          string            `json:"id,omitempty"`
}

// UserAccessPolicy defines global access rules and quotas.
type UserAccessPolicy struct {
	DefaultPolicy      string                  `json:"defaultPolicy"` // "allow" or "deny"
	DefaultMaxTeams    int                     `json:"defaultMaxTeams"`
	DefaultMaxMatches  int                     `json:"defaultMaxMatches"`
	DefaultDenyMessage string                  `json:"defaultDenyMessage"`
	Admins             []string                `json:"admins"`
	Users              map[string]UserOverride `json:"users"`
}

// UserOverride defines specific access rules for a single user.
type UserOverride struct {
	Access     string `json:"access"` // "allow" or "deny"
	MaxTeams   int    `json:"maxTeams"`
	MaxMatches int    `json:"maxMatches"`
}

// NodeMeta contains metadata about a cluster node.
type NodeMeta struct {
	NodeID          string `json:"nodeId"`
	HttpAddr        string `json:"httpAddr"`
	AppVersion      string `json:"appVersion,omitempty"`
	ProtocolVersion int    `json:"protocolVersion,omitempty"`
	SchemaVersion   int    `json:"schemaVersion,omitempty"`
}
