package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// fakeEngine is a minimal stand-in for *engine.Engine used to drive the
// status endpoints without a live P2P stack.
type fakeEngine struct {
	sessionID  string
	tcpPort    int
	localIP    string
	roomName   string
	selfShort  string
	peers      map[string]PeerInfo
	historyLen int
}

func (f *fakeEngine) SessionID() string                { return f.sessionID }
func (f *fakeEngine) TCPPort() int                     { return f.tcpPort }
func (f *fakeEngine) LocalIP() string                  { return f.localIP }
func (f *fakeEngine) RoomName() string                 { return f.roomName }
func (f *fakeEngine) SelfShortID() string               { return f.selfShort }
func (f *fakeEngine) ActivePeers() map[string]PeerInfo  { return f.peers }
func (f *fakeEngine) HistoryLen() int                   { return f.historyLen }

func newTestServer(eng Engine) *Server {
	return New(eng)
}

func TestHandleHealth(t *testing.T) {
	eng := &fakeEngine{
		sessionID:  "aaaa1111",
		peers:      map[string]PeerInfo{"bbbb2222": {}},
		historyLen: 3,
	}
	srv := newTestServer(eng)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := srv.echo.NewContext(req, rec)

	if err := srv.handleHealth(c); err != nil {
		t.Fatalf("handleHealth: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusOK)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "ok" || resp.SessionID != "aaaa1111" || resp.PeerCount != 1 || resp.HistoryLen != 3 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandleSelf(t *testing.T) {
	eng := &fakeEngine{
		sessionID: "aaaa1111",
		tcpPort:   50010,
		localIP:   "192.168.1.5",
		roomName:  "den",
		selfShort: "001.005",
	}
	srv := newTestServer(eng)

	req := httptest.NewRequest(http.MethodGet, "/self", nil)
	rec := httptest.NewRecorder()
	c := srv.echo.NewContext(req, rec)

	if err := srv.handleSelf(c); err != nil {
		t.Fatalf("handleSelf: %v", err)
	}

	var resp SelfResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.TCPPort != 50010 || resp.RoomName != "den" || resp.ShortID != "001.005" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandlePeersEmpty(t *testing.T) {
	eng := &fakeEngine{peers: map[string]PeerInfo{}}
	srv := newTestServer(eng)

	req := httptest.NewRequest(http.MethodGet, "/peers", nil)
	rec := httptest.NewRecorder()
	c := srv.echo.NewContext(req, rec)

	if err := srv.handlePeers(c); err != nil {
		t.Fatalf("handlePeers: %v", err)
	}

	var resp PeersResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Peers) != 0 {
		t.Fatalf("expected no peers, got %d", len(resp.Peers))
	}
}

func TestHandlePeersNonEmpty(t *testing.T) {
	eng := &fakeEngine{peers: map[string]PeerInfo{
		"bbbb2222": {SessionID: "bbbb2222", Nickname: "bob", IP: "10.0.0.2", TCPPort: 50002, RoomName: "den", ShortID: "000.002"},
	}}
	srv := newTestServer(eng)

	req := httptest.NewRequest(http.MethodGet, "/peers", nil)
	rec := httptest.NewRecorder()
	c := srv.echo.NewContext(req, rec)

	if err := srv.handlePeers(c); err != nil {
		t.Fatalf("handlePeers: %v", err)
	}

	var resp PeersResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Peers) != 1 || resp.Peers[0].Nickname != "bob" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
