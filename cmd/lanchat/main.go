// Command lanchat is the process entry point for the LAN chat engine: it
// owns flag parsing, JSON config persistence, a line-oriented chat loop on
// stdin/stdout, and the optional read-only status HTTP server.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sjs9880/lan-chat-engine/internal/discovery"
	"github.com/sjs9880/lan-chat-engine/internal/engine"
	"github.com/sjs9880/lan-chat-engine/internal/protocol"
	"github.com/sjs9880/lan-chat-engine/internal/statusapi"
)

const configFile = "lanchat_config.json"

// fileConfig is the on-disk shape persisted between runs: just the two
// fields a returning user doesn't want to retype.
type fileConfig struct {
	Nickname string `json:"nickname"`
	Port     int    `json:"port"`
}

func loadFileConfig() fileConfig {
	cfg := fileConfig{Port: discovery.DefaultPort}
	data, err := os.ReadFile(configFile)
	if err != nil {
		return cfg
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Printf("[config] malformed %s, using defaults: %v", configFile, err)
	}
	return cfg
}

func saveFileConfig(cfg fileConfig) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		log.Printf("[config] marshal failed: %v", err)
		return
	}
	if err := os.WriteFile(configFile, data, 0o644); err != nil {
		log.Printf("[config] write failed: %v", err)
	}
}

func main() {
	if len(os.Args) > 1 && RunCLI(os.Args[1:]) {
		return
	}

	saved := loadFileConfig()

	nickname := flag.String("nickname", saved.Nickname, "display name advertised to other peers")
	room := flag.String("room", "", "room name (empty joins the lobby, no chat history sync)")
	password := flag.String("password", "", "room password; empty disables encryption")
	discoveryPort := flag.Int("discovery-port", saved.Port, "UDP discovery port")
	statusAddr := flag.String("status-addr", "", "read-only status HTTP listen address (empty disables)")
	flag.Parse()

	if *nickname == "" {
		log.Fatal("[lanchat] -nickname is required")
	}

	saveFileConfig(fileConfig{Nickname: *nickname, Port: *discoveryPort})

	cbs := &consoleCallbacks{}
	eng, err := engine.New(engine.Config{
		Nickname:      *nickname,
		Password:      *password,
		RoomName:      *room,
		DiscoveryPort: *discoveryPort,
	}, cbs)
	if err != nil {
		log.Fatalf("[lanchat] %v", err)
	}
	cbs.engine = eng

	eng.Start()
	log.Printf("[lanchat] session %s listening on %s:%d (room=%s)",
		eng.SessionID(), eng.LocalIP(), eng.TCPPort(), eng.RoomName())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *statusAddr != "" {
		srv := statusapi.New(engineAdapter{eng})
		go srv.Run(ctx, *statusAddr)
		log.Printf("[lanchat] status api listening on %s", *statusAddr)
	}

	go readStdinChat(ctx, eng)

	<-ctx.Done()
	fmt.Println()
	log.Println("[lanchat] shutting down")
	eng.Stop()
}

// readStdinChat broadcasts each non-empty line typed on stdin as a chat
// message until ctx is canceled or stdin closes.
func readStdinChat(ctx context.Context, eng *engine.Engine) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		eng.BroadcastChatMessage(line)
	}
}

// consoleCallbacks prints engine events to stdout. engine is set right
// after construction since Callbacks must be supplied before the Engine
// it refers to exists.
type consoleCallbacks struct {
	engine *engine.Engine
}

func (c *consoleCallbacks) OnPeerUpdated(peers map[string]engine.PeerView) {
	fmt.Printf("\n[peers] %d active\n", len(peers))
}

func (c *consoleCallbacks) OnMessageReceived(msg protocol.Message) {
	if msg.Type != protocol.TypeMessage {
		return
	}
	fmt.Printf("\n<%s> %s\n", msg.SenderNickname, msg.Content)
}

func (c *consoleCallbacks) OnFileRequested(msg protocol.Message) {
	fmt.Printf("\n[file] %s offers %s (%d bytes, req_id=%s)\n",
		msg.SenderNickname, msg.FileName, msg.FileSize, msg.ReqID)
}

func (c *consoleCallbacks) OnChatHistoryReceived(batch []protocol.Message) {
	fmt.Printf("\n[history] synced %d messages\n", len(batch))
}

func (c *consoleCallbacks) OnFileTransferCompleted(reqID, finalPath string) {
	fmt.Printf("\n[file] %s complete -> %s\n", reqID, finalPath)
}

// engineAdapter narrows *engine.Engine to statusapi.Engine, translating
// the discovery-package peer table into the status API's own projection
// so statusapi never has to import internal/discovery.
type engineAdapter struct {
	*engine.Engine
}

func (a engineAdapter) ActivePeers() map[string]statusapi.PeerInfo {
	peers := a.Engine.ActivePeers()
	out := make(map[string]statusapi.PeerInfo, len(peers))
	for sid, p := range peers {
		out[sid] = statusapi.PeerInfo{
			SessionID: p.SessionID,
			Nickname:  p.Nickname,
			IP:        p.IP,
			TCPPort:   p.TCPPort,
			RoomName:  p.RoomName,
			ShortID:   discovery.ShortID(p.IP),
		}
	}
	return out
}
