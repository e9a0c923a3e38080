// Package protocol defines the JSON control packets exchanged between
// engine instances, both over the UDP discovery channel and inside
// encrypted TCP frames.
package protocol

// Packet type tags. All control packets carry a Type field; the engine's
// demultiplexer switches on it.
const (
	TypeDiscovery       = "DISCOVERY"
	TypeMessage         = "MESSAGE"
	TypeFileRequest     = "FILE_REQ"
	TypeFileCancel      = "FILE_CANCEL"
	TypeFileDownloaded  = "FILE_DOWNLOADED"
	TypeChatHistory     = "CHAT_HISTORY"
	TypeFileAccept      = "FILE_ACCEPT"
	TypeFileStreamStart = "FILE_STREAM_START"
)

// Discovery is the UDP presence-beacon payload. It is always sent and
// parsed as plaintext JSON — discovery is a presence signal, not a trust
// boundary; room privacy is enforced by SessionCrypto, not by hiding the
// announcement.
type Discovery struct {
	Type      string `json:"type"`
	Nickname  string `json:"nickname"`
	SessionID string `json:"session_id"`
	TCPPort   int    `json:"tcp_port"`
	RoomName  string `json:"room_name"`
	IsPrivate bool   `json:"is_private"`
}

// Message is the gossip unit: chat text and the file-control events ride
// the same envelope so they share dedup, vector-clock, and history-log
// handling. Fields not relevant to a given Type are omitted on the wire.
type Message struct {
	Type            string         `json:"type"`
	MsgID           string         `json:"msg_id,omitempty"`
	SenderSession   string         `json:"sender_session,omitempty"`
	SenderNickname  string         `json:"sender_nickname,omitempty"`
	SenderShortID   string         `json:"sender_short_id,omitempty"`
	Content         string         `json:"content,omitempty"`
	Timestamp       float64        `json:"timestamp,omitempty"`
	VClock          map[string]int `json:"vclock,omitempty"`
	ReqID           string         `json:"req_id,omitempty"`
	FileName        string         `json:"file_name,omitempty"`
	FileSize        int64          `json:"file_size,omitempty"`
	IsZip           bool           `json:"is_zip,omitempty"`
	FileSHA256      string         `json:"file_sha256,omitempty"`
	DownloaderNick  string         `json:"downloader_nickname,omitempty"`
	DownloaderShort string         `json:"downloader_short_id,omitempty"`
}

// ChatHistory wraps a history snapshot sent to a peer that just joined the
// sender's room.
type ChatHistory struct {
	Type     string    `json:"type"`
	Messages []Message `json:"messages"`
}

// FileAccept is sent by a receiver back to the offerer once the local user
// has chosen a save path for req_id.
type FileAccept struct {
	Type          string `json:"type"`
	ReqID         string `json:"req_id"`
	SenderSession string `json:"sender_session"`
}

// FileStreamStart is the prelude frame sent on a fresh TCP connection right
// before the raw (encrypted, chunked) file bytes.
type FileStreamStart struct {
	Type           string `json:"type"`
	ReqID          string `json:"req_id"`
	ExpectedSize   int64  `json:"expected_size"`
	ExpectedSHA256 string `json:"expected_sha256"`
}
