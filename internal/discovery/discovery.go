// Package discovery implements UDP presence broadcast and the peer table:
// every engine announces itself periodically and listens for announcements
// from others on the same broadcast domain.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sjs9880/lan-chat-engine/internal/protocol"
)

// DefaultPort is the UDP port the discovery beacon listens on and
// broadcasts to, unless overridden.
const DefaultPort = 50000

// DefaultBroadcastInterval is how often the self-announce packet is sent.
const DefaultBroadcastInterval = 3 * time.Second

// DefaultPeerTimeout is the liveness window used by ActivePeers.
const DefaultPeerTimeout = 10 * time.Second

const maxDatagramSize = 1024

// Peer is one entry of the peer table, keyed by session ID in Discovery.
type Peer struct {
	SessionID string
	Nickname  string
	IP        string
	TCPPort   int
	RoomName  string
	IsPrivate bool
	LastSeen  time.Time
}

// Identity is the caller-supplied, mutable-in-place self description. The
// broadcaster reads it fresh on every tick so a nickname or room change
// takes effect within one broadcast interval without restarting
// discovery.
type Identity struct {
	mu        sync.RWMutex
	nickname  string
	tcpPort   int
	roomName  string
	isPrivate bool
}

// NewIdentity builds an Identity snapshot.
func NewIdentity(nickname string, tcpPort int, roomName string, isPrivate bool) *Identity {
	return &Identity{nickname: nickname, tcpPort: tcpPort, roomName: roomName, isPrivate: isPrivate}
}

// SetNickname updates the nickname advertised on the next beacon.
func (id *Identity) SetNickname(nickname string) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.nickname = nickname
}

// SetRoomName updates the room advertised on the next beacon.
func (id *Identity) SetRoomName(roomName string) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.roomName = roomName
}

func (id *Identity) snapshot() (nickname string, tcpPort int, roomName string, isPrivate bool) {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.nickname, id.tcpPort, id.roomName, id.isPrivate
}

// Discovery owns the UDP socket, the self-identity, and the peer table.
type Discovery struct {
	SessionID string
	LocalIP   string

	port              int
	broadcastInterval time.Duration
	peerTimeout       time.Duration
	identity          *Identity

	conn    *net.UDPConn
	running atomic.Bool
	stopCh  chan struct{}

	mu    sync.Mutex
	peers map[string]Peer

	wg sync.WaitGroup
}

// Option configures non-default Discovery parameters.
type Option func(*Discovery)

// WithPort overrides DefaultPort.
func WithPort(port int) Option { return func(d *Discovery) { d.port = port } }

// WithBroadcastInterval overrides DefaultBroadcastInterval.
func WithBroadcastInterval(interval time.Duration) Option {
	return func(d *Discovery) { d.broadcastInterval = interval }
}

// WithPeerTimeout overrides DefaultPeerTimeout.
func WithPeerTimeout(timeout time.Duration) Option {
	return func(d *Discovery) { d.peerTimeout = timeout }
}

// New binds the UDP socket and prepares (but does not start) discovery.
func New(sessionID string, identity *Identity, opts ...Option) (*Discovery, error) {
	d := &Discovery{
		SessionID:         sessionID,
		port:              DefaultPort,
		broadcastInterval: DefaultBroadcastInterval,
		peerTimeout:       DefaultPeerTimeout,
		identity:          identity,
		peers:             make(map[string]Peer),
		stopCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.LocalIP = detectLocalIP()

	lc := net.ListenConfig{Control: setBroadcastAndReuseAddr}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf("0.0.0.0:%d", d.port))
	if err != nil {
		return nil, fmt.Errorf("discovery: bind udp %d: %w", d.port, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("discovery: bind udp %d: unexpected connection type %T", d.port, pc)
	}
	d.conn = conn
	return d, nil
}

// setBroadcastAndReuseAddr is the net.ListenConfig.Control hook that sets
// SO_BROADCAST (required to WriteToUDP the limited broadcast address
// 255.255.255.255 without EACCES) and SO_REUSEADDR (lets multiple engine
// instances on the same host co-bind the discovery port, used by the
// loopback multi-instance tests) before the socket is bound.
func setBroadcastAndReuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if sockErr != nil {
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	}); err != nil {
		return err
	}
	return sockErr
}

// detectLocalIP finds the outbound LAN interface IP by "connecting" a UDP
// socket (no packet is actually sent) and reading back the chosen local
// address. Falls back to loopback if the lookup fails.
func detectLocalIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}

// ShortID renders the last two octets of an IPv4 address as "%03d.%03d",
// used for user-visible peer disambiguation.
func ShortID(ip string) string {
	addr := net.ParseIP(ip)
	if addr == nil {
		return "???.???"
	}
	v4 := addr.To4()
	if v4 == nil {
		return "???.???"
	}
	return fmt.Sprintf("%03d.%03d", v4[2], v4[3])
}

// Start launches the broadcaster and listener goroutines.
func (d *Discovery) Start() {
	d.running.Store(true)
	d.wg.Add(2)
	go d.broadcastLoop()
	go d.listenLoop()
}

// Stop halts both goroutines and closes the UDP socket to unblock the
// blocking read in listenLoop.
func (d *Discovery) Stop() {
	d.running.Store(false)
	close(d.stopCh)
	d.conn.Close()
	d.wg.Wait()
}

func (d *Discovery) broadcastLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.broadcastInterval)
	defer ticker.Stop()

	broadcastAddr := &net.UDPAddr{IP: net.IPv4bcast, Port: d.port}

	for {
		nickname, tcpPort, roomName, isPrivate := d.identity.snapshot()
		msg := protocol.Discovery{
			Type:      protocol.TypeDiscovery,
			Nickname:  nickname,
			SessionID: d.SessionID,
			TCPPort:   tcpPort,
			RoomName:  roomName,
			IsPrivate: isPrivate,
		}
		data, err := json.Marshal(msg)
		if err == nil {
			if _, err := d.conn.WriteToUDP(data, broadcastAddr); err != nil && d.running.Load() {
				log.Printf("[discovery] broadcast failed: %v", err)
			}
		}

		select {
		case <-ticker.C:
		case <-d.stopCh:
			return
		}
	}
}

func (d *Discovery) listenLoop() {
	defer d.wg.Done()
	buf := make([]byte, maxDatagramSize)

	for d.running.Load() {
		n, addr, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			if d.running.Load() {
				log.Printf("[discovery] recv error: %v", err)
			}
			return
		}

		var msg protocol.Discovery
		if err := json.Unmarshal(buf[:n], &msg); err != nil {
			continue // malformed JSON is silently dropped
		}
		if msg.Type != protocol.TypeDiscovery || msg.SessionID == d.SessionID {
			continue
		}

		d.mu.Lock()
		d.peers[msg.SessionID] = Peer{
			SessionID: msg.SessionID,
			Nickname:  msg.Nickname,
			IP:        addr.IP.String(),
			TCPPort:   msg.TCPPort,
			RoomName:  msg.RoomName,
			IsPrivate: msg.IsPrivate,
			LastSeen:  time.Now(),
		}
		d.mu.Unlock()
	}
}

// ActivePeers returns peers seen within peerTimeout of now, evicting all
// others as a side effect.
func (d *Discovery) ActivePeers() map[string]Peer {
	now := time.Now()
	active := make(map[string]Peer)

	d.mu.Lock()
	defer d.mu.Unlock()
	for sid, p := range d.peers {
		if now.Sub(p.LastSeen) <= d.peerTimeout {
			active[sid] = p
		} else {
			delete(d.peers, sid)
		}
	}
	return active
}
