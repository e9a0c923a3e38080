package engine

import "github.com/sjs9880/lan-chat-engine/internal/protocol"

// Callbacks is the engine's outbound event surface (spec §6, design note
// on callback dispatch). Every method is invoked from a worker goroutine
// and must not block the engine; implementations that need to marshal to
// a UI thread should enqueue and return immediately.
type Callbacks interface {
	// OnPeerUpdated fires whenever the active peer set changes.
	OnPeerUpdated(peers map[string]PeerView)
	// OnMessageReceived fires for every newly-accepted gossip packet
	// (chat or file-control).
	OnMessageReceived(msg protocol.Message)
	// OnFileRequested fires specifically for a newly-accepted FILE_REQ,
	// in addition to OnMessageReceived, so collaborators don't have to
	// filter by Type to prompt the user about an incoming file offer.
	OnFileRequested(msg protocol.Message)
	// OnChatHistoryReceived fires once per CHAT_HISTORY frame with the
	// batch of messages that were newly accepted from it.
	OnChatHistoryReceived(batch []protocol.Message)
	// OnFileTransferCompleted fires once a receiver successfully
	// validates and (if zipped) extracts an inbound file stream.
	OnFileTransferCompleted(reqID, finalPath string)
}

// PeerView is the callback-facing projection of a discovered peer.
type PeerView struct {
	SessionID string
	Nickname  string
	IP        string
	TCPPort   int
	RoomName  string
	IsPrivate bool
}

// NoopCallbacks discards every event; used when the caller passes a nil
// Callbacks to New.
type NoopCallbacks struct{}

func (NoopCallbacks) OnPeerUpdated(map[string]PeerView)          {}
func (NoopCallbacks) OnMessageReceived(protocol.Message)         {}
func (NoopCallbacks) OnFileRequested(protocol.Message)           {}
func (NoopCallbacks) OnChatHistoryReceived([]protocol.Message)   {}
func (NoopCallbacks) OnFileTransferCompleted(reqID, path string) {}

// dispatch invokes fn on its own goroutine so a slow or blocking
// collaborator can never stall the accept loop or peer monitor.
func dispatch(fn func()) {
	go fn()
}
