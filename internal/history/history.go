// Package history implements the per-room HistoryLog: a vector-clock
// tagged, deduplicated, timestamp-ordered message log shared by every
// room member.
package history

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sjs9880/lan-chat-engine/internal/protocol"
)

// VectorClock tracks one node's view of logical time across the room.
// increment and merge never nest their locks — increment returns the
// post-increment snapshot inline under its own critical section, so there
// is no reentrant call back into the clock while holding its lock.
type VectorClock struct {
	mu     sync.Mutex
	nodeID string
	clock  map[string]int
}

// NewVectorClock starts a clock at zero for nodeID.
func NewVectorClock(nodeID string) *VectorClock {
	return &VectorClock{nodeID: nodeID, clock: map[string]int{nodeID: 0}}
}

// Increment bumps the local entry and returns a snapshot of the whole
// clock as it stood immediately after the bump.
func (vc *VectorClock) Increment() map[string]int {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.clock[vc.nodeID]++
	return copyClock(vc.clock)
}

// Merge folds another node's clock in, taking the pointwise maximum.
// Calling Merge twice with the same input is idempotent.
func (vc *VectorClock) Merge(other map[string]int) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	for node, count := range other {
		if count > vc.clock[node] {
			vc.clock[node] = count
		}
	}
}

// Snapshot returns a copy of the current clock.
func (vc *VectorClock) Snapshot() map[string]int {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return copyClock(vc.clock)
}

func copyClock(c map[string]int) map[string]int {
	out := make(map[string]int, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Log is the append-only per-room message log: one mutex covers both the
// ordered slice and the seen-id set so dedup and insertion are atomic
// with respect to each other.
type Log struct {
	sessionID string
	clock     *VectorClock

	mu       sync.Mutex
	messages []protocol.Message
	seenIDs  map[string]struct{}

	now func() time.Time
}

// New creates an empty log for the local session.
func New(sessionID string) *Log {
	return &Log{
		sessionID: sessionID,
		clock:     NewVectorClock(sessionID),
		seenIDs:   make(map[string]struct{}),
		now:       time.Now,
	}
}

// Local is the caller-filled fields for a locally-originated message;
// msg_id, sender_session, timestamp, and vclock are computed by AddLocal.
type Local struct {
	Type             string
	SenderNickname   string
	SenderShortID    string
	Content          string
	ReqID            string
	FileName         string
	FileSize         int64
	IsZip            bool
	FileSHA256       string
	DownloaderNick   string
	DownloaderShort  string
}

// AddLocal increments the vector clock exactly once, builds the packet,
// and appends it to the log under the log lock.
func (l *Log) AddLocal(m Local) protocol.Message {
	vclock := l.clock.Increment()
	msg := protocol.Message{
		Type:            m.Type,
		MsgID:           fmt.Sprintf("%s_%d", l.sessionID, vclock[l.sessionID]),
		SenderSession:   l.sessionID,
		SenderNickname:  m.SenderNickname,
		SenderShortID:   m.SenderShortID,
		Content:         m.Content,
		Timestamp:       float64(l.now().UnixNano()) / 1e9,
		VClock:          vclock,
		ReqID:           m.ReqID,
		FileName:        m.FileName,
		FileSize:        m.FileSize,
		IsZip:           m.IsZip,
		FileSHA256:      m.FileSHA256,
		DownloaderNick:  m.DownloaderNick,
		DownloaderShort: m.DownloaderShort,
	}

	l.mu.Lock()
	l.messages = append(l.messages, msg)
	l.seenIDs[msg.MsgID] = struct{}{}
	l.mu.Unlock()

	return msg
}

// ReceiveRemote dedups by msg_id, appends and re-sorts by timestamp if
// new, and merges the remote vector clock. It returns false for a
// duplicate, guaranteeing no user-visible side effect for a replay.
func (l *Log) ReceiveRemote(msg protocol.Message) bool {
	l.mu.Lock()
	if _, seen := l.seenIDs[msg.MsgID]; seen {
		l.mu.Unlock()
		return false
	}
	l.messages = append(l.messages, msg)
	l.seenIDs[msg.MsgID] = struct{}{}
	sort.SliceStable(l.messages, func(i, j int) bool {
		return l.messages[i].Timestamp < l.messages[j].Timestamp
	})
	l.mu.Unlock()

	if len(msg.VClock) > 0 {
		l.clock.Merge(msg.VClock)
	}
	return true
}

// Snapshot returns a copy of the log in its current order.
func (l *Log) Snapshot() []protocol.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]protocol.Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len reports the current message count.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}
