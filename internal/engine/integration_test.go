package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sjs9880/lan-chat-engine/internal/protocol"
	"github.com/sjs9880/lan-chat-engine/internal/security"
)

// waitForPeer polls until sessionID shows up in eng's active peer table or
// the deadline passes, returning false on timeout.
func waitForPeer(eng *Engine, sessionID string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, ok := eng.ActivePeers()[sessionID]; ok {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

// engineBinder lets a test Callbacks implementation learn the *Engine it is
// attached to before that engine's goroutines start, so no additional
// synchronization is needed to use it from a callback later.
type engineBinder interface {
	bindEngine(*Engine)
}

// newConvergingPair starts two engines sharing a discovery port and room,
// skipping the test if UDP broadcast doesn't converge in this sandbox —
// the same tolerance applied to the discovery package's own loopback test.
func newConvergingPair(t *testing.T, room, password string, bCallbacks Callbacks) (a, b *Engine) {
	t.Helper()
	const sharedPort = 57456

	a, err := New(Config{
		Nickname:          "alice",
		RoomName:          room,
		Password:          password,
		DiscoveryPort:     sharedPort,
		BroadcastInterval: 20 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Skipf("skipping engine integration test (bind failed): %v", err)
	}

	b, err = New(Config{
		Nickname:          "bob",
		RoomName:          room,
		Password:          password,
		DiscoveryPort:     sharedPort,
		BroadcastInterval: 20 * time.Millisecond,
	}, bCallbacks)
	if err != nil {
		a.Stop()
		t.Skipf("skipping engine integration test (bind failed): %v", err)
	}

	if binder, ok := bCallbacks.(engineBinder); ok {
		binder.bindEngine(b)
	}

	a.Start()
	b.Start()
	t.Cleanup(func() {
		a.Stop()
		b.Stop()
	})

	if !waitForPeer(a, b.SessionID(), 3*time.Second) || !waitForPeer(b, a.SessionID(), 3*time.Second) {
		t.Skip("peer discovery did not converge in this sandbox network namespace")
	}
	return a, b
}

func TestChatMessageDeliveredAcrossEngines(t *testing.T) {
	a, b := newConvergingPair(t, "integ-room", "", nil)

	if !a.BroadcastChatMessage("hello bob") {
		t.Fatal("broadcast reported no successful sends")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(b.HistorySnapshot()) == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	snap := b.HistorySnapshot()
	if len(snap) != 1 {
		t.Fatalf("expected bob to receive 1 message, got %d", len(snap))
	}
	if snap[0].Content != "hello bob" {
		t.Fatalf("unexpected content: %q", snap[0].Content)
	}
}

func TestEncryptedRoomRejectsMismatchedPassword(t *testing.T) {
	a, err := New(Config{
		Nickname:      "alice",
		RoomName:      "secret-room",
		Password:      "correct horse",
		DiscoveryPort: 57457,
	}, nil)
	if err != nil {
		t.Skipf("skipping (bind failed): %v", err)
	}
	defer a.Stop()

	if !a.security.IsEncrypted {
		t.Fatal("expected encryption to be enabled when a password is set")
	}

	other := security.New("wrong password", "secret-room")
	token, err := other.Encrypt([]byte(`{"type":"MESSAGE"}`))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := a.security.Decrypt(token); err == nil {
		t.Fatal("expected a frame encrypted under a different password to be rejected")
	}
}

func TestFileTransferEndToEnd(t *testing.T) {
	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "note.txt")
	if err := os.WriteFile(srcPath, []byte("important contents"), 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	completed := make(chan string, 1)
	saveDir := t.TempDir()
	cbs := &fileTransferTestCallbacks{
		savePath:   filepath.Join(saveDir, "note.txt"),
		onComplete: completed,
	}

	a, _ := newConvergingPair(t, "file-room", "", cbs)

	ok, _, offerReqID, err := a.BroadcastFileRequest([]string{srcPath}, 0)
	if err != nil {
		t.Fatalf("BroadcastFileRequest: %v", err)
	}
	if !ok {
		t.Fatal("expected the offer broadcast to reach bob")
	}
	reqID := offerReqID

	select {
	case finalPath := <-completed:
		data, err := os.ReadFile(finalPath)
		if err != nil {
			t.Fatalf("read received file: %v", err)
		}
		if string(data) != "important contents" {
			t.Fatalf("unexpected received content: %q", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("file transfer %s did not complete in time", reqID)
	}
}

// fileTransferTestCallbacks accepts any offered file immediately, saving it
// to savePath, and reports completion over a channel. It is used only to
// drive the end-to-end transfer test without a real UI loop. engine is set
// once via bindEngine before the owning Engine's goroutines start.
type fileTransferTestCallbacks struct {
	NoopCallbacks
	savePath   string
	onComplete chan string
	engine     *Engine
}

func (c *fileTransferTestCallbacks) bindEngine(e *Engine) { c.engine = e }

func (c *fileTransferTestCallbacks) OnFileRequested(msg protocol.Message) {
	c.engine.AcceptFileTransfer(msg.ReqID, c.savePath)
}

func (c *fileTransferTestCallbacks) OnFileTransferCompleted(reqID, finalPath string) {
	c.onComplete <- finalPath
}
