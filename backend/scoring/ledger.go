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

import "github.com/google/uuid"

// Ledger is the append-only record of deliveries in one innings.
type Ledger struct {
	deliveries []Delivery
	lastWicket int
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{lastWicket: -1}
}

// Append adds d to the end of the ledger and returns its id. An id is
// generated when d has none.
func (l *Ledger) Append(d Delivery) string {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	l.deliveries = append(l.deliveries, d)
	if d.IsWicket {
		l.lastWicket = len(l.deliveries) - 1
	}
	return d.ID
}

// Len returns the number of deliveries.
func (l *Ledger) Len() int {
	return len(l.deliveries)
}

// LastWicketIndex returns the index of the most recent wicket, or -1.
func (l *Ledger) LastWicketIndex() int {
	return l.lastWicket
}

// DeliveriesSince returns a copy of the deliveries after index i. Pass
// LastWicketIndex to get the current partnership.
func (l *Ledger) DeliveriesSince(i int) []Delivery {
	if i < -1 {
		i = -1
	}
	if i+1 >= len(l.deliveries) {
		return []Delivery{}
	}
	return append([]Delivery(nil), l.deliveries[i+1:]...)
}

// LastN returns a copy of the last n deliveries, oldest first.
func (l *Ledger) LastN(n int) []Delivery {
	if n <= 0 {
		return []Delivery{}
	}
	start := len(l.deliveries) - n
	if start < 0 {
		start = 0
	}
	return append([]Delivery(nil), l.deliveries[start:]...)
}

// All returns a copy of every delivery.
func (l *Ledger) All() []Delivery {
	return append([]Delivery(nil), l.deliveries...)
}

// Last returns the most recent delivery.
func (l *Ledger) Last() (Delivery, bool) {
	if len(l.deliveries) == 0 {
		return Delivery{}, false
	}
	return l.deliveries[len(l.deliveries)-1], true
}

// FindSeq returns the delivery with the given match sequence number.
func (l *Ledger) FindSeq(seq int64) (Delivery, bool) {
	for i := len(l.deliveries) - 1; i >= 0; i-- {
		if l.deliveries[i].Seq == seq {
			return l.deliveries[i], true
		}
	}
	return Delivery{}, false
}
