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
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ttbt-io/wicketkeeper/backend/scoring"
)

func TestRedisNotifier_NeverBlocks(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	n := NewRedisNotifier(client)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 2 * notifyQueueSize {
			n.Publish(&scoring.Scoreboard{MatchID: "m1", Version: uint64(i + 1)})
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on an unreachable server")
	}
	if err := n.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestScoreboardKey(t *testing.T) {
	if got := scoreboardKey("abc"); got != "match:abc:scoreboard" {
		t.Errorf("scoreboardKey = %q", got)
	}
}
