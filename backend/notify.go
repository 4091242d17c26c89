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
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ttbt-io/wicketkeeper/backend/scoring"
)

// Notifier fans scoreboards out to consumers outside this process.
// Publish is called with the match's writer lock held and must not block.
type Notifier interface {
	Publish(sb *scoring.Scoreboard)
	Close() error
}

type nopNotifier struct{}

func (nopNotifier) Publish(*scoring.Scoreboard) {}
func (nopNotifier) Close() error                { return nil }

const (
	updatesStream    = "matches.updates"
	updatesStreamLen = 10000
	liveScoreTTL     = 6 * time.Hour
	finalScoreTTL    = 24 * time.Hour
	notifyQueueSize  = 256
)

// RedisNotifier appends every scoreboard to the matches.updates stream and
// caches the latest one under match:<id>:scoreboard.
type RedisNotifier struct {
	client *redis.Client
	queue  chan *scoring.Scoreboard
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewRedisNotifier starts the publishing worker.
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	n := &RedisNotifier{
		client: client,
		queue:  make(chan *scoring.Scoreboard, notifyQueueSize),
		done:   make(chan struct{}),
	}
	n.wg.Add(1)
	go n.run()
	return n
}

// Publish queues sb. When the queue is full the update is dropped; the next
// one carries the complete state anyway.
func (n *RedisNotifier) Publish(sb *scoring.Scoreboard) {
	select {
	case n.queue <- sb:
	default:
		log.Printf("[REDIS] queue full, dropping update %d for match %s", sb.Version, sb.MatchID)
	}
}

func (n *RedisNotifier) run() {
	defer n.wg.Done()
	for {
		select {
		case <-n.done:
			return
		case sb := <-n.queue:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := n.write(ctx, sb); err != nil {
				log.Printf("[REDIS] publish match %s: %v", sb.MatchID, err)
			}
			cancel()
		}
	}
}

func (n *RedisNotifier) write(ctx context.Context, sb *scoring.Scoreboard) error {
	data, err := json.Marshal(sb)
	if err != nil {
		return fmt.Errorf("marshaling scoreboard: %w", err)
	}
	ttl := liveScoreTTL
	if sb.Phase == scoring.MatchCompleted {
		ttl = finalScoreTTL
	}
	pipe := n.client.Pipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: updatesStream,
		MaxLen: updatesStreamLen,
		Approx: true,
		Values: map[string]interface{}{
			"data":     string(data),
			"match_id": sb.MatchID,
			"version":  sb.Version,
			"phase":    string(sb.Phase),
		},
	})
	pipe.Set(ctx, scoreboardKey(sb.MatchID), data, ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func scoreboardKey(matchID string) string {
	return fmt.Sprintf("match:%s:scoreboard", matchID)
}

// Close stops the worker and closes the client. Queued updates are dropped.
func (n *RedisNotifier) Close() error {
	n.once.Do(func() { close(n.done) })
	n.wg.Wait()
	return n.client.Close()
}
