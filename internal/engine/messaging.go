package engine

import (
	"encoding/json"
	"log"

	"github.com/sjs9880/lan-chat-engine/internal/discovery"
	"github.com/sjs9880/lan-chat-engine/internal/history"
	"github.com/sjs9880/lan-chat-engine/internal/protocol"
	"github.com/sjs9880/lan-chat-engine/internal/transport"
)

// sendEnvelope serializes v, encrypts it, and sends it as one framed
// connection to ip:port. Failures are logged only — the caller decides
// whether a false/zero return is worth surfacing further.
func (e *Engine) sendEnvelope(ip string, port int, v any) bool {
	raw, err := json.Marshal(v)
	if err != nil {
		log.Printf("[engine] marshal error: %v", err)
		return false
	}
	enc, err := e.security.Encrypt(raw)
	if err != nil {
		log.Printf("[engine] encrypt error: %v", err)
		return false
	}
	if err := transport.SendFrame(ip, port, enc); err != nil {
		log.Printf("[engine] send failed (%s:%d): %v", ip, port, err)
		return false
	}
	return true
}

// broadcastToRoom sends packet to every active peer whose room matches
// ours and returns the count of successful sends. There is no retry;
// failures are logged only.
func (e *Engine) broadcastToRoom(packet protocol.Message) int {
	success := 0
	for _, peer := range e.discovery.ActivePeers() {
		if peer.RoomName != e.cfg.RoomName {
			continue
		}
		if e.sendEnvelope(peer.IP, peer.TCPPort, packet) {
			success++
		}
	}
	return success
}

// BroadcastChatMessage logs a local chat message (incrementing the vector
// clock exactly once) and sends it to every active peer in the room.
func (e *Engine) BroadcastChatMessage(content string) bool {
	packet := e.history.AddLocal(history.Local{
		Type:           protocol.TypeMessage,
		SenderNickname: e.cfg.Nickname,
		SenderShortID:  e.SelfShortID(),
		Content:        content,
	})
	return e.broadcastToRoom(packet) > 0
}

// SendDirect sends a chat message to exactly one known peer instead of the
// whole room. It still goes through the history log, so the message is
// recorded and vector-clocked exactly once even though it is not
// broadcast.
func (e *Engine) SendDirect(targetSessionID, content string) bool {
	peers := e.discovery.ActivePeers()
	target, ok := peers[targetSessionID]
	if !ok {
		log.Printf("[engine] peer not found: %s", targetSessionID)
		return false
	}

	packet := e.history.AddLocal(history.Local{
		Type:           protocol.TypeMessage,
		SenderNickname: e.cfg.Nickname,
		SenderShortID:  e.SelfShortID(),
		Content:        content,
	})
	return e.sendEnvelope(target.IP, target.TCPPort, packet)
}

func toPeerView(p discovery.Peer) PeerView {
	return PeerView{
		SessionID: p.SessionID,
		Nickname:  p.Nickname,
		IP:        p.IP,
		TCPPort:   p.TCPPort,
		RoomName:  p.RoomName,
		IsPrivate: p.IsPrivate,
	}
}

func toPeerViews(peers map[string]discovery.Peer) map[string]PeerView {
	out := make(map[string]PeerView, len(peers))
	for sid, p := range peers {
		out[sid] = toPeerView(p)
	}
	return out
}
