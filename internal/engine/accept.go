package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sjs9880/lan-chat-engine/internal/protocol"
	"github.com/sjs9880/lan-chat-engine/internal/transfer"
	"github.com/sjs9880/lan-chat-engine/internal/transport"
)

// typePeek is unmarshaled first to route a decrypted control frame to its
// full type without guessing from field shape.
type typePeek struct {
	Type string `json:"type"`
}

// acceptLoop accepts one TCP connection per control message or file stream
// and dispatches each on its own goroutine so a slow peer cannot stall
// others.
func (e *Engine) acceptLoop() {
	defer e.wg.Done()
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			if e.running.Load() {
				log.Printf("[engine] accept error: %v", err)
			}
			return
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.handleConn(conn)
		}()
	}
}

// handleConn reads exactly one control frame, decrypts it, and either
// dispatches it as a one-shot packet or, for FILE_STREAM_START, hands the
// still-open connection to receiveFileStream.
func (e *Engine) handleConn(conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(controlReadTimeout))

	raw, err := transport.ReadFrame(conn)
	if err != nil {
		conn.Close()
		if err != io.EOF {
			log.Printf("[engine] read control frame failed: %v", err)
		}
		return
	}

	plain, err := e.security.Decrypt(raw)
	if err != nil {
		conn.Close()
		log.Printf("[engine] decrypt failed: %v", err)
		return
	}

	var peek typePeek
	if err := json.Unmarshal(plain, &peek); err != nil {
		conn.Close()
		log.Printf("[engine] malformed control frame: %v", err)
		return
	}

	if peek.Type == protocol.TypeFileStreamStart {
		var header protocol.FileStreamStart
		if err := json.Unmarshal(plain, &header); err != nil {
			conn.Close()
			log.Printf("[engine] malformed stream header: %v", err)
			return
		}
		e.receiveFileStream(conn, header)
		return
	}

	defer conn.Close()
	e.dispatchControlFrame(peek.Type, plain)
}

// dispatchControlFrame routes one decrypted, non-stream packet by type.
func (e *Engine) dispatchControlFrame(msgType string, plain []byte) {
	switch msgType {
	case protocol.TypeMessage, protocol.TypeFileDownloaded:
		var msg protocol.Message
		if err := json.Unmarshal(plain, &msg); err != nil {
			log.Printf("[engine] malformed message: %v", err)
			return
		}
		if e.history.ReceiveRemote(msg) {
			dispatch(func() { e.callbacks.OnMessageReceived(msg) })
		}

	case protocol.TypeFileRequest:
		var msg protocol.Message
		if err := json.Unmarshal(plain, &msg); err != nil {
			log.Printf("[engine] malformed file request: %v", err)
			return
		}
		if e.history.ReceiveRemote(msg) {
			e.transfer.AddIncomingOffer(msg.ReqID, msg)
			dispatch(func() { e.callbacks.OnMessageReceived(msg) })
			dispatch(func() { e.callbacks.OnFileRequested(msg) })
		}

	case protocol.TypeFileCancel:
		var msg protocol.Message
		if err := json.Unmarshal(plain, &msg); err != nil {
			log.Printf("[engine] malformed file cancel: %v", err)
			return
		}
		if e.history.ReceiveRemote(msg) {
			e.transfer.Cancel(msg.ReqID)
			dispatch(func() { e.callbacks.OnMessageReceived(msg) })
		}

	case protocol.TypeChatHistory:
		var batch protocol.ChatHistory
		if err := json.Unmarshal(plain, &batch); err != nil {
			log.Printf("[engine] malformed chat history: %v", err)
			return
		}
		accepted := make([]protocol.Message, 0, len(batch.Messages))
		for _, msg := range batch.Messages {
			if e.history.ReceiveRemote(msg) {
				accepted = append(accepted, msg)
			}
		}
		if len(accepted) > 0 {
			dispatch(func() { e.callbacks.OnChatHistoryReceived(accepted) })
		}

	case protocol.TypeFileAccept:
		var packet protocol.FileAccept
		if err := json.Unmarshal(plain, &packet); err != nil {
			log.Printf("[engine] malformed file accept: %v", err)
			return
		}
		e.handleFileAccept(packet)

	default:
		log.Printf("[engine] unknown control frame type: %q", msgType)
	}
}

// receiveFileStream reads the raw (encrypted, chunked) file body that
// follows a FILE_STREAM_START header on the same connection, writing it to
// a ".part" sibling of the accepted save path. The stream ends when the
// sender closes the connection; a short read at that point is treated as a
// validation failure, not a protocol error.
func (e *Engine) receiveFileStream(conn net.Conn, header protocol.FileStreamStart) {
	defer conn.Close()

	offer, savePath, ok := e.transfer.ReadyToStream(header.ReqID)
	if !ok {
		log.Printf("[transfer] stream start for unknown/unaccepted req_id: %s", header.ReqID)
		return
	}

	senderPeer, known := e.discovery.ActivePeers()[offer.SenderSession]
	remoteIP, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil || !known || senderPeer.IP != remoteIP {
		log.Printf("[transfer] stream sender IP mismatch (%s): conn=%s sender=%s", header.ReqID, remoteIP, senderPeer.IP)
		e.transfer.FinishIncoming(header.ReqID)
		return
	}

	partPath := savePath + ".part"
	if err := os.MkdirAll(filepath.Dir(savePath), 0o755); err != nil {
		log.Printf("[transfer] create download dir failed (%s): %v", header.ReqID, err)
		e.transfer.FinishIncoming(header.ReqID)
		return
	}
	out, err := os.Create(partPath)
	if err != nil {
		log.Printf("[transfer] create .part file failed (%s): %v", header.ReqID, err)
		e.transfer.FinishIncoming(header.ReqID)
		return
	}
	e.transfer.MarkReceiving(header.ReqID, partPath)

	hasher := sha256.New()
	var received int64
	fail := func(reason string) {
		out.Close()
		os.Remove(partPath)
		e.transfer.FinishIncoming(header.ReqID)
		log.Printf("[transfer] stream failed (%s): %s", header.ReqID, reason)
	}

	for {
		conn.SetReadDeadline(time.Now().Add(fileStreamTimeout))
		encChunk, err := transport.ReadFrame(conn)
		if err == io.EOF {
			break
		}
		if err != nil {
			fail(fmt.Sprintf("read error: %v", err))
			return
		}
		chunk, err := e.security.Decrypt(encChunk)
		if err != nil {
			fail(fmt.Sprintf("decrypt error: %v", err))
			return
		}
		if _, err := out.Write(chunk); err != nil {
			fail(fmt.Sprintf("write error: %v", err))
			return
		}
		hasher.Write(chunk)
		received += int64(len(chunk))
	}

	if err := out.Close(); err != nil {
		fail(fmt.Sprintf("close error: %v", err))
		return
	}

	if received != header.ExpectedSize {
		fail(fmt.Sprintf("size mismatch: got %d want %d", received, header.ExpectedSize))
		return
	}
	digest := hex.EncodeToString(hasher.Sum(nil))
	if !strings.EqualFold(digest, header.ExpectedSHA256) {
		fail(fmt.Sprintf("digest mismatch: got %s want %s", digest, header.ExpectedSHA256))
		return
	}

	if err := os.Rename(partPath, savePath); err != nil {
		fail(fmt.Sprintf("rename failed: %v", err))
		return
	}

	finalPath := savePath
	if offer.IsZip {
		extractDir := savePath + "_extracted"
		if err := transfer.ExtractZip(savePath, extractDir); err != nil {
			log.Printf("[transfer] extract failed (%s), leaving archive in place: %v", header.ReqID, err)
			e.transfer.FinishIncoming(header.ReqID)
			return
		}
		finalPath = extractDir
	}

	e.transfer.FinishIncoming(header.ReqID)
	log.Printf("[transfer] received %s (%s) -> %s", header.ReqID, humanBytes(received), finalPath)
	dispatch(func() { e.callbacks.OnFileTransferCompleted(header.ReqID, finalPath) })
}
