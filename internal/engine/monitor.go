package engine

import (
	"log"
	"time"

	"github.com/sjs9880/lan-chat-engine/internal/discovery"
	"github.com/sjs9880/lan-chat-engine/internal/protocol"
)

// peerMonitorLoop polls the discovery peer table on a fixed cadence, fires
// OnPeerUpdated on any membership change, and sends a one-shot CHAT_HISTORY
// to every peer newly seen in our own (non-lobby) room so it catches up on
// messages it missed.
func (e *Engine) peerMonitorLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(peerMonitorPeriod)
	defer ticker.Stop()

	known := make(map[string]discovery.Peer)

	for {
		select {
		case <-ticker.C:
			current := e.discovery.ActivePeers()
			if peersChanged(known, current) {
				dispatch(func() { e.callbacks.OnPeerUpdated(toPeerViews(current)) })
			}

			if e.cfg.RoomName != LobbyRoomName {
				for sid, peer := range current {
					if _, wasKnown := known[sid]; !wasKnown && peer.RoomName == e.cfg.RoomName {
						e.sendHistoryTo(peer)
					}
				}
			}

			known = current

		case <-e.stopCh:
			return
		}
	}
}

// sendHistoryTo gossips the full local history log to a single peer as one
// CHAT_HISTORY frame, used exactly once per peer right after it is first
// observed in our room.
func (e *Engine) sendHistoryTo(peer discovery.Peer) {
	batch := protocol.ChatHistory{
		Type:     protocol.TypeChatHistory,
		Messages: e.history.Snapshot(),
	}
	if len(batch.Messages) == 0 {
		return
	}
	if !e.sendEnvelope(peer.IP, peer.TCPPort, batch) {
		log.Printf("[engine] history send failed for %s", peer.SessionID)
	}
}

func peersChanged(old, current map[string]discovery.Peer) bool {
	if len(old) != len(current) {
		return true
	}
	for sid, p := range current {
		prev, ok := old[sid]
		if !ok || prev.Nickname != p.Nickname || prev.RoomName != p.RoomName {
			return true
		}
	}
	return false
}
