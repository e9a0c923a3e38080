package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/sjs9880/lan-chat-engine/internal/discovery"
	"github.com/sjs9880/lan-chat-engine/internal/history"
	"github.com/sjs9880/lan-chat-engine/internal/protocol"
	"github.com/sjs9880/lan-chat-engine/internal/transfer"
	"github.com/sjs9880/lan-chat-engine/internal/transport"
)

const sendChunkSize = 64 * 1024
const fileStreamTimeout = 30 * time.Second

// BroadcastFileRequest stages paths (zipping if needed), registers an
// outgoing transfer, and broadcasts a FILE_REQ to the room (IDLE ->
// OFFERED). req_id is a random UUID per spec.
func (e *Engine) BroadcastFileRequest(paths []string, speedLimitBytesPerSec int) (bool, transfer.StagedTransfer, string, error) {
	reqID := uuid.NewString()

	staged, err := transfer.PrepareTransfer(paths, fmt.Sprintf("temp_%s.zip", reqID))
	if err != nil {
		return false, transfer.StagedTransfer{}, "", err
	}

	digest, err := transfer.SHA256File(staged.TargetPath)
	if err != nil {
		return false, transfer.StagedTransfer{}, "", err
	}

	e.transfer.AddOutgoing(reqID, transfer.OutgoingTransfer{
		FilePath:   staged.TargetPath,
		IsZip:      staged.IsZip,
		SpeedLimit: speedLimitBytesPerSec,
		FileSize:   staged.Size,
		FileSHA256: digest,
	})

	packet := e.history.AddLocal(history.Local{
		Type:           protocol.TypeFileRequest,
		SenderNickname: e.cfg.Nickname,
		SenderShortID:  e.SelfShortID(),
		Content:        fmt.Sprintf("File share: %s", staged.Name),
		ReqID:          reqID,
		FileName:       staged.Name,
		FileSize:       staged.Size,
		IsZip:          staged.IsZip,
		FileSHA256:     digest,
	})

	ok := e.broadcastToRoom(packet) > 0
	log.Printf("[transfer] offered %s (%s) as %s", staged.Name, humanBytes(staged.Size), reqID)
	return ok, staged, reqID, nil
}

// CancelFileSharing withdraws an outgoing offer (OFFERED -> CANCELED),
// deleting the staged zip (if any) and broadcasting FILE_CANCEL.
func (e *Engine) CancelFileSharing(reqID string) {
	if info, ok := e.transfer.RemoveOutgoing(reqID); ok && info.IsZip {
		removeFileLogged("transfer", info.FilePath)
	}

	packet := e.history.AddLocal(history.Local{
		Type:           protocol.TypeFileCancel,
		SenderNickname: e.cfg.Nickname,
		SenderShortID:  e.SelfShortID(),
		Content:        "File sharing canceled.",
		ReqID:          reqID,
	})
	e.broadcastToRoom(packet)
}

// AcceptFileTransfer records savePath for an offer and notifies the
// offerer with a FILE_ACCEPT (receiver: OFFERED -> ACCEPTED).
func (e *Engine) AcceptFileTransfer(reqID, savePath string) bool {
	offer, ok := e.transfer.IncomingOffer(reqID)
	if !ok {
		return false
	}

	peers := e.discovery.ActivePeers()
	target, ok := peers[offer.SenderSession]
	if !ok {
		return false
	}

	if !e.transfer.Accept(reqID, savePath) {
		return false
	}

	packet := protocol.FileAccept{
		Type:          protocol.TypeFileAccept,
		ReqID:         reqID,
		SenderSession: e.sessionID,
	}
	return e.sendEnvelope(target.IP, target.TCPPort, packet)
}

// RejectFileTransfer drops an offer without accepting it (OFFERED -> DROPPED).
func (e *Engine) RejectFileTransfer(reqID string) {
	e.transfer.Reject(reqID)
}

// handleFileAccept is invoked by the accept loop on a FILE_ACCEPT packet:
// it spawns a send task that streams the outgoing file to the accepting
// peer and, on success, gossips a FILE_DOWNLOADED notice.
func (e *Engine) handleFileAccept(packet protocol.FileAccept) {
	out, ok := e.transfer.Outgoing(packet.ReqID)
	if !ok {
		return
	}

	peers := e.discovery.ActivePeers()
	target, ok := peers[packet.SenderSession]
	if !ok {
		log.Printf("[transfer] file accept peer not found: %s", packet.SenderSession)
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.sendFileStream(target.IP, target.TCPPort, packet.ReqID, packet.SenderSession, out)
	}()
}

// sendFileStream opens a fresh TCP connection, sends a FILE_STREAM_START
// header, then streams the file in throttled, individually-encrypted
// 64 KiB chunks. A clean connection close signals end-of-stream to the
// receiver. downloaderSession identifies the accepting peer, used only to
// look up its nickname for the FILE_DOWNLOADED notice.
func (e *Engine) sendFileStream(ip string, port int, reqID, downloaderSession string, out transfer.OutgoingTransfer) {
	conn, err := transport.Dial(ip, port)
	if err != nil {
		log.Printf("[transfer] stream dial failed (%s): %v", reqID, err)
		return
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(fileStreamTimeout))

	header := protocol.FileStreamStart{
		Type:           protocol.TypeFileStreamStart,
		ReqID:          reqID,
		ExpectedSize:   out.FileSize,
		ExpectedSHA256: out.FileSHA256,
	}
	raw, err := json.Marshal(header)
	if err != nil {
		log.Printf("[transfer] marshal stream header failed (%s): %v", reqID, err)
		return
	}
	enc, err := e.security.Encrypt(raw)
	if err != nil {
		log.Printf("[transfer] encrypt stream header failed (%s): %v", reqID, err)
		return
	}
	if err := transport.WriteFrame(conn, enc); err != nil {
		log.Printf("[transfer] write stream header failed (%s): %v", reqID, err)
		return
	}

	f, err := os.Open(out.FilePath)
	if err != nil {
		log.Printf("[transfer] open source file failed (%s): %v", reqID, err)
		return
	}
	defer f.Close()

	throttler := transfer.NewThrottler(out.SpeedLimit)
	buf := make([]byte, sendChunkSize)
	ctx := context.Background()

	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			conn.SetDeadline(time.Now().Add(fileStreamTimeout))
			encChunk, err := e.security.Encrypt(buf[:n])
			if err != nil {
				log.Printf("[transfer] encrypt chunk failed (%s): %v", reqID, err)
				return
			}
			if err := throttler.WaitForTokens(ctx, len(encChunk)); err != nil {
				log.Printf("[transfer] throttle wait failed (%s): %v", reqID, err)
				return
			}
			if err := transport.WriteFrame(conn, encChunk); err != nil {
				log.Printf("[transfer] stream send error (%s): %v", reqID, err)
				return
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			log.Printf("[transfer] read source file failed (%s): %v", reqID, readErr)
			return
		}
	}

	log.Printf("[transfer] sent %s (%s) to %s:%d", reqID, humanBytes(out.FileSize), ip, port)

	dlNickname := "Unknown"
	if peer, ok := e.discovery.ActivePeers()[downloaderSession]; ok {
		dlNickname = peer.Nickname
	}

	packet := e.history.AddLocal(history.Local{
		Type:            protocol.TypeFileDownloaded,
		SenderNickname:  e.cfg.Nickname,
		SenderShortID:   e.SelfShortID(),
		Content:         fmt.Sprintf("Downloaded: %s", reqID),
		ReqID:           reqID,
		DownloaderNick:  dlNickname,
		DownloaderShort: discovery.ShortID(ip),
	})
	e.broadcastToRoom(packet)
	dispatch(func() { e.callbacks.OnMessageReceived(packet) })
}
