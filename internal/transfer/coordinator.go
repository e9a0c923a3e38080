package transfer

import (
	"sync"

	"github.com/sjs9880/lan-chat-engine/internal/protocol"
)

// OutgoingTransfer is the sender-side record for one req_id: the staged
// file path, whether it is a temporary zip that must be cleaned up, the
// declared size/digest, and the speed cap for any stream spawned from it.
type OutgoingTransfer struct {
	FilePath   string
	IsZip      bool
	SpeedLimit int
	FileSize   int64
	FileSHA256 string
}

// Coordinator tracks outgoing and incoming file-transfer state per the
// sender/receiver state machines in the file-transfer protocol. All three
// tables (outgoing offers, incoming offers, accepted download paths) are
// guarded by one mutex; none of them is exposed to callers by reference.
type Coordinator struct {
	mu            sync.Mutex
	outgoing      map[string]OutgoingTransfer
	incoming      map[string]protocol.Message // active_file_requests
	downloadPaths map[string]string
}

// NewCoordinator builds an empty Coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		outgoing:      make(map[string]OutgoingTransfer),
		incoming:      make(map[string]protocol.Message),
		downloadPaths: make(map[string]string),
	}
}

// AddOutgoing records a freshly broadcast offer (IDLE -> OFFERED).
func (c *Coordinator) AddOutgoing(reqID string, t OutgoingTransfer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outgoing[reqID] = t
}

// Outgoing looks up an outgoing transfer without removing it.
func (c *Coordinator) Outgoing(reqID string) (OutgoingTransfer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.outgoing[reqID]
	return t, ok
}

// RemoveOutgoing removes and returns an outgoing transfer record, used on
// cancel or engine stop (OFFERED -> CANCELED).
func (c *Coordinator) RemoveOutgoing(reqID string) (OutgoingTransfer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.outgoing[reqID]
	if ok {
		delete(c.outgoing, reqID)
	}
	return t, ok
}

// OutgoingReqIDs snapshots the currently outstanding outgoing req_ids.
func (c *Coordinator) OutgoingReqIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.outgoing))
	for id := range c.outgoing {
		ids = append(ids, id)
	}
	return ids
}

// AddIncomingOffer records a freshly received FILE_REQ (UNKNOWN -> OFFERED).
func (c *Coordinator) AddIncomingOffer(reqID string, msg protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.incoming[reqID] = msg
}

// IncomingOffer looks up a received offer.
func (c *Coordinator) IncomingOffer(reqID string) (protocol.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, ok := c.incoming[reqID]
	return msg, ok
}

// Reject drops an offer without accepting it (OFFERED -> DROPPED).
func (c *Coordinator) Reject(reqID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.incoming, reqID)
}

// Cancel drops an offer in response to a FILE_CANCEL from the offerer
// (OFFERED -> DROPPED). Unlike Reject it also drops any accepted download
// path, since the offerer may cancel after the local user accepted.
func (c *Coordinator) Cancel(reqID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.incoming, reqID)
	delete(c.downloadPaths, reqID)
}

// Accept records the local save path for an offer (OFFERED -> ACCEPTED).
// It fails if the offer is unknown.
func (c *Coordinator) Accept(reqID, savePath string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.incoming[reqID]; !ok {
		return false
	}
	c.downloadPaths[reqID] = savePath
	return true
}

// DownloadPath returns the accepted save path for reqID, if any.
func (c *Coordinator) DownloadPath(reqID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.downloadPaths[reqID]
	return p, ok
}

// ReadyToStream reports whether reqID has both a stored offer and an
// accepted download path — the precondition for admitting a
// FILE_STREAM_START (ACCEPTED -> RECEIVING), and returns both so the
// caller can perform the sender-IP check itself.
func (c *Coordinator) ReadyToStream(reqID string) (offer protocol.Message, savePath string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	offer, hasOffer := c.incoming[reqID]
	savePath, hasPath := c.downloadPaths[reqID]
	if !hasOffer || !hasPath {
		return protocol.Message{}, "", false
	}
	return offer, savePath, true
}

// MarkReceiving updates the tracked download path to the ".part" file
// actually being written to disk (RECEIVING), so that a shutdown mid-stream
// finds and removes the right file via DownloadPaths. It is a no-op if
// reqID is no longer accepted.
func (c *Coordinator) MarkReceiving(reqID, partPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.downloadPaths[reqID]; !ok {
		return
	}
	c.downloadPaths[reqID] = partPath
}

// FinishIncoming removes bookkeeping for reqID once the stream has ended,
// successfully or not (RECEIVING -> COMPLETED|FAILED).
func (c *Coordinator) FinishIncoming(reqID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.downloadPaths, reqID)
	delete(c.incoming, reqID)
}

// DownloadPaths snapshots the still-pending req_id -> save path table, for
// engine-shutdown cleanup of orphaned .part files only. Callers must not
// use this for anything but best-effort cleanup bookkeeping.
func (c *Coordinator) DownloadPaths() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.downloadPaths))
	for k, v := range c.downloadPaths {
		out[k] = v
	}
	return out
}
