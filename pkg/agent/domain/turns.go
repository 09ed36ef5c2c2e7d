// Copyright 2025 The Polis Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package domain

import (
	"sync"
	"time"

	"github.com/polisware/polis/pkg/agent/intent"
)

// Turn is one finished Chat exchange. Turns live only in the in-memory
// ring below; nothing persists them.
type Turn struct {
	TurnID     string
	SessionID  string
	CustomerID string
	UserText   string
	Intents    []intent.Kind
	TaskID     string
	Reply      string
	StartedAt  time.Time
	FinishedAt time.Time
	Err        string
}

// turnLog is a fixed-capacity ring of recent turns shared by every
// session in the process. When full, the oldest turn is overwritten.
type turnLog struct {
	mu   sync.Mutex
	buf  []Turn
	next int
	full bool
}

func newTurnLog(capacity int) *turnLog {
	if capacity < 1 {
		capacity = 1
	}
	return &turnLog{buf: make([]Turn, capacity)}
}

func (l *turnLog) add(t Turn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf[l.next] = t
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}
}

// recent returns the retained turns, oldest first.
func (l *turnLog) recent() []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		out := make([]Turn, l.next)
		copy(out, l.buf[:l.next])
		return out
	}
	out := make([]Turn, 0, len(l.buf))
	out = append(out, l.buf[l.next:]...)
	out = append(out, l.buf[:l.next]...)
	return out
}

func (l *turnLog) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.full {
		return len(l.buf)
	}
	return l.next
}
