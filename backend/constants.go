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

import "time"

// StatusDeleted marks tombstoned matches and teams.
const StatusDeleted = "deleted"

// Public access settings of a match.
const (
	PublicNone = "none"
	PublicRead = "read"
)

// Per-user match permissions.
const (
	PermRead  = "read"
	PermWrite = "write"
)

const (
	tombstoneTTL = 30 * 24 * time.Hour
	gcInterval   = 12 * time.Hour
)

const (
	// longPollTimeout bounds GET .../scoreboard?since=V.
	longPollTimeout = 25 * time.Second
	maxBodyBytes    = 1 << 20
)

const (
	retryAfterBusy    = "2"
	retryAfterLimited = "1"
)
