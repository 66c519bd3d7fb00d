package daemon

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/m4xw311/conch/errors"
	"github.com/m4xw311/conch/ipc"
	"github.com/m4xw311/conch/llm"
	"github.com/m4xw311/conch/storage"
)

const (
	pingInterval  = 30 * time.Second
	pongWait      = 90 * time.Second
	writeDeadline = 10 * time.Second
)

const motd = "conchd is listening. Type your question after the trigger."

var upgrader = websocket.Upgrader{
	// The socket is a local unix domain socket; there is no origin to check.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Options configure the daemon server.
type Options struct {
	Socket        string
	MaxSessions   int
	ContextWindow int
	History       *storage.History // optional
	Logger        *log.Logger
}

// Server accepts wrapper connections on a unix socket and answers their
// setup/generate exchanges.
type Server struct {
	socket    string
	sessions  *Sessions
	client    llm.Client
	allowlist *Allowlist
	history   *storage.History
	window    int
	logger    *log.Logger

	httpServer *http.Server
	listener   net.Listener
}

// NewServer wires a server around the given provider and allowlist.
func NewServer(client llm.Client, allowlist *Allowlist, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	s := &Server{
		socket:    opts.Socket,
		sessions:  NewSessions(opts.MaxSessions),
		client:    client,
		allowlist: allowlist,
		history:   opts.History,
		window:    opts.ContextWindow,
		logger:    opts.Logger,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/session", s.handleSession)
	s.httpServer = &http.Server{Handler: mux}
	return s
}

// Allowlist exposes the live allowlist so config reloads can swap patterns.
func (s *Server) Allowlist() *Allowlist {
	return s.allowlist
}

// Start listens on the unix socket and serves until Shutdown. A stale
// socket file from a previous run is removed first.
func (s *Server) Start() error {
	if err := os.Remove(s.socket); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing stale socket %s", s.socket)
	}
	ln, err := net.Listen("unix", s.socket)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", s.socket)
	}
	s.listener = ln
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("server stopped: %v", err)
		}
	}()
	s.logger.Printf("listening on %s", s.socket)
	return nil
}

// Shutdown stops accepting connections and closes the socket.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	os.Remove(s.socket)
	return err
}

// wsConn serializes writes; replies and pings come from different
// goroutines.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// handleSession owns one wrapper connection: validate → dispatch → reply
// with the request's correlation id. Sessions created on this connection
// are dropped when it goes away.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("websocket upgrade error: %v", err)
		return
	}
	conn := &wsConn{conn: raw}
	defer raw.Close()

	raw.SetReadDeadline(time.Now().Add(pongWait))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.ping(); err != nil {
					return
				}
			case <-stopPing:
				return
			}
		}
	}()

	var owned []string
	defer func() {
		for _, id := range owned {
			s.sessions.Remove(id)
		}
	}()

	for {
		_, payload, err := raw.ReadMessage()
		if err != nil {
			return
		}
		raw.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := ipc.ValidateClientMessage(payload)
		if err != nil {
			s.sendError(conn, correlationID(payload), ipc.ErrInvalidMessage, err.Error())
			continue
		}

		switch msg.Type {
		case ipc.TypeSetup:
			var p ipc.SetupPayload
			json.Unmarshal(msg.Payload, &p)
			id, err := s.sessions.Create(func(sessionID string) *Bot {
				return NewBot(p.User, sessionID, s.client, s.window, s.allowlist)
			})
			if err != nil {
				s.sendError(conn, msg.ID, ipc.ErrMaxSessions, err.Error())
				continue
			}
			owned = append(owned, id)
			s.logger.Printf("session %s opened for %s", id, p.User)
			s.reply(conn, ipc.TypeSetupOK, msg.ID, ipc.SetupOKPayload{SessionID: id, MOTD: motd})

		case ipc.TypeGenerate:
			var p ipc.GeneratePayload
			json.Unmarshal(msg.Payload, &p)
			bot, ok := s.sessions.Get(p.SessionID)
			if !ok {
				s.sendError(conn, msg.ID, ipc.ErrSessionNotFound, "unknown session "+p.SessionID)
				continue
			}
			genCtx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
			sug, err := bot.Generate(genCtx, p.Query, p.Records)
			cancel()
			if err != nil {
				s.logger.Printf("session %s: provider error: %v", p.SessionID, err)
				s.sendError(conn, msg.ID, ipc.ErrProviderFailed, err.Error())
				continue
			}
			if s.history != nil {
				s.history.Record(p.SessionID, p.Query, sug.Text, sug.Commands, sug.Executable)
			}
			s.reply(conn, ipc.TypeGenerateOK, msg.ID, ipc.GenerateOKPayload{Suggestion: *sug})

		case ipc.TypeExit:
			var p ipc.ExitPayload
			json.Unmarshal(msg.Payload, &p)
			s.sessions.Remove(p.SessionID)
			s.logger.Printf("session %s closed", p.SessionID)
		}
	}
}

func (s *Server) reply(conn *wsConn, msgType, id string, payload interface{}) {
	msg, err := ipc.NewReply(msgType, id, payload)
	if err != nil {
		s.logger.Printf("building %s reply: %v", msgType, err)
		return
	}
	if err := conn.writeJSON(msg); err != nil {
		s.logger.Printf("sending %s reply: %v", msgType, err)
	}
}

func (s *Server) sendError(conn *wsConn, id, code, message string) {
	msg, err := ipc.NewErrorReply(id, code, message)
	if err != nil {
		return
	}
	if err := conn.writeJSON(msg); err != nil {
		s.logger.Printf("sending error reply: %v", err)
	}
}

// correlationID digs the id out of a message that failed validation so the
// error reply can still be correlated.
func correlationID(raw []byte) string {
	var probe struct {
		ID string `json:"id"`
	}
	json.Unmarshal(raw, &probe)
	return probe.ID
}
