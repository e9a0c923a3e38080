// Package engine wires SessionCrypto, FramedTransport, PeerDiscovery,
// HistoryLog, and the TransferCoordinator into the top-level orchestrator:
// the TCP accept loop, packet demultiplexer, room broadcast, and
// peer-monitor loop described in the engine design.
package engine

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sjs9880/lan-chat-engine/internal/discovery"
	"github.com/sjs9880/lan-chat-engine/internal/history"
	"github.com/sjs9880/lan-chat-engine/internal/protocol"
	"github.com/sjs9880/lan-chat-engine/internal/security"
	"github.com/sjs9880/lan-chat-engine/internal/transfer"
)

// LobbyRoomName is the sentinel room that suppresses history sync — the
// lobby has no chat, so peers joining it never trigger a CHAT_HISTORY
// send.
const LobbyRoomName = "__LOBBY__"

const (
	tcpPortStart = 50001
	tcpPortEnd   = 50100

	controlReadTimeout = 10 * time.Second
	peerMonitorPeriod  = 2 * time.Second
)

// Config is the engine's full configuration, supplied by value at
// construction. There is no global/singleton config; the UI collaborator
// owns persistence (see cmd/lanchat).
type Config struct {
	Nickname          string
	Password          string
	RoomName          string
	DiscoveryPort     int
	BroadcastInterval time.Duration
	PeerTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.DiscoveryPort == 0 {
		c.DiscoveryPort = discovery.DefaultPort
	}
	if c.BroadcastInterval == 0 {
		c.BroadcastInterval = discovery.DefaultBroadcastInterval
	}
	if c.PeerTimeout == 0 {
		c.PeerTimeout = discovery.DefaultPeerTimeout
	}
	if c.RoomName == "" {
		c.RoomName = LobbyRoomName
	}
	return c
}

// Engine is the top-level P2P orchestrator. One Engine instance is one
// process's presence on the network; changing rooms recreates it (see
// spec design note on "room change").
type Engine struct {
	cfg       Config
	sessionID string

	security  *security.SessionCrypto
	discovery *discovery.Discovery
	identity  *discovery.Identity
	history   *history.Log
	transfer  *transfer.Coordinator
	callbacks Callbacks

	listener net.Listener
	tcpPort  int

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New binds the TCP listener on the first free port in [50001, 50100] and
// the UDP discovery socket, and prepares (but does not start) the engine.
func New(cfg Config, callbacks Callbacks) (*Engine, error) {
	cfg = cfg.withDefaults()
	if callbacks == nil {
		callbacks = NoopCallbacks{}
	}

	sessionID, err := newSessionID()
	if err != nil {
		return nil, fmt.Errorf("engine: generate session id: %w", err)
	}

	sc := security.New(cfg.Password, cfg.RoomName)

	listener, tcpPort, err := bindFirstFreePort(tcpPortStart, tcpPortEnd)
	if err != nil {
		return nil, err
	}

	identity := discovery.NewIdentity(cfg.Nickname, tcpPort, cfg.RoomName, sc.IsEncrypted)
	disc, err := discovery.New(sessionID, identity,
		discovery.WithPort(cfg.DiscoveryPort),
		discovery.WithBroadcastInterval(cfg.BroadcastInterval),
		discovery.WithPeerTimeout(cfg.PeerTimeout),
	)
	if err != nil {
		listener.Close()
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		sessionID: sessionID,
		security:  sc,
		discovery: disc,
		identity:  identity,
		history:   history.New(sessionID),
		transfer:  transfer.NewCoordinator(),
		callbacks: callbacks,
		listener:  listener,
		tcpPort:   tcpPort,
		stopCh:    make(chan struct{}),
	}
	return e, nil
}

func newSessionID() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func bindFirstFreePort(start, end int) (net.Listener, int, error) {
	for port := start; port <= end; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
		if err == nil {
			return ln, port, nil
		}
	}
	return nil, 0, fmt.Errorf("engine: no free tcp port in [%d, %d]", start, end)
}

// SessionID returns this process's fixed-for-lifetime session identifier.
func (e *Engine) SessionID() string { return e.sessionID }

// TCPPort returns the bound TCP port.
func (e *Engine) TCPPort() int { return e.tcpPort }

// LocalIP returns the detected outbound LAN IP.
func (e *Engine) LocalIP() string { return e.discovery.LocalIP }

// RoomName returns the configured room.
func (e *Engine) RoomName() string { return e.cfg.RoomName }

// SelfShortID returns the display-only short id derived from the local IP.
func (e *Engine) SelfShortID() string { return discovery.ShortID(e.discovery.LocalIP) }

// ActivePeers proxies PeerDiscovery.ActivePeers.
func (e *Engine) ActivePeers() map[string]discovery.Peer { return e.discovery.ActivePeers() }

// HistorySnapshot proxies HistoryLog.Snapshot.
func (e *Engine) HistorySnapshot() []protocol.Message { return e.history.Snapshot() }

// HistoryLen proxies HistoryLog.Len.
func (e *Engine) HistoryLen() int { return e.history.Len() }

// SetNickname updates the advertised nickname; it takes effect on the
// next discovery broadcast.
func (e *Engine) SetNickname(nickname string) {
	e.cfg.Nickname = nickname
	e.identity.SetNickname(nickname)
}

// Start launches the TCP accept loop, discovery, and the peer-monitor loop.
func (e *Engine) Start() {
	e.running.Store(true)
	e.wg.Add(2)
	go e.acceptLoop()
	go e.peerMonitorLoop()
	e.discovery.Start()
	log.Printf("[engine] started (nick=%s, tcp=%d, encrypted=%v, room=%s)",
		e.cfg.Nickname, e.tcpPort, e.security.IsEncrypted, e.cfg.RoomName)
}

// Stop cancels every outgoing transfer (broadcasting FILE_CANCEL to the
// room), stops discovery and the TCP listener, and removes any staged zip
// files and in-flight .part files.
func (e *Engine) Stop() {
	for _, reqID := range e.transfer.OutgoingReqIDs() {
		e.CancelFileSharing(reqID)
	}

	e.running.Store(false)
	close(e.stopCh)
	e.discovery.Stop()
	e.listener.Close()
	e.wg.Wait()

	e.cleanupPartFiles()
	log.Println("[engine] stopped")
}

// cleanupPartFiles removes any .part file left behind by a transfer that
// was still RECEIVING at shutdown, then attempts to remove the now-empty
// temp directories it lived in. Removal failures are logged, never
// propagated.
func (e *Engine) cleanupPartFiles() {
	tempDirs := make(map[string]struct{})
	for reqID, path := range e.transfer.DownloadPaths() {
		if path == "" || filepath.Ext(path) != ".part" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			log.Printf("[engine] .part cleanup failed (%s): %v", reqID, err)
			continue
		}
		log.Printf("[engine] cleaned up .part file (%s): %s", reqID, path)
		dir, err := filepath.Abs(filepath.Dir(path))
		if err == nil {
			tempDirs[dir] = struct{}{}
		}
	}
	for dir := range tempDirs {
		_ = os.Remove(dir) // best-effort; non-empty dirs are left alone
	}
}

func humanBytes(n int64) string {
	return humanize.Bytes(uint64(n))
}

func removeFileLogged(component, path string) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := os.Remove(path); err != nil {
		log.Printf("[%s] cleanup failed for %s: %v", component, path, err)
		return
	}
	dir := filepath.Dir(path)
	if err := os.Remove(dir); err != nil {
		// Non-empty or already gone; the directory is left as it is,
		// without logging.
		return
	}
}
