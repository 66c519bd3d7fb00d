package ipc

import (
	"context"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/m4xw311/conch/errors"
	"github.com/m4xw311/conch/shell"
)

// testDaemon is a minimal in-process stand-in for conchd.
type testDaemon struct {
	socket    string
	server    *http.Server
	generates atomic.Int64
	// hang makes generate requests never answer, to exercise timeouts.
	hang atomic.Bool
}

func startTestDaemon(t *testing.T) *testDaemon {
	t.Helper()
	dir, err := os.MkdirTemp("", "conch-ipc")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	d := &testDaemon{socket: filepath.Join(dir, "conchd.sock")}
	ln, err := net.Listen("unix", d.socket)
	if err != nil {
		t.Fatal(err)
	}
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := ValidateClientMessage(raw)
			if err != nil {
				reply, _ := NewErrorReply("", ErrInvalidMessage, err.Error())
				conn.WriteJSON(reply)
				continue
			}
			switch msg.Type {
			case TypeSetup:
				reply, _ := NewReply(TypeSetupOK, msg.ID, SetupOKPayload{
					SessionID: "sess-1",
					MOTD:      "hello from the deep",
				})
				conn.WriteJSON(reply)
			case TypeGenerate:
				d.generates.Add(1)
				if d.hang.Load() {
					continue
				}
				reply, _ := NewReply(TypeGenerateOK, msg.ID, GenerateOKPayload{
					Suggestion: Suggestion{
						Text:       "use ls",
						Commands:   []string{"ls -la"},
						Executable: true,
					},
				})
				conn.WriteJSON(reply)
			case TypeExit:
				return
			}
		}
	})
	d.server = &http.Server{Handler: mux}
	go d.server.Serve(ln)
	t.Cleanup(func() { d.server.Close() })
	return d
}

func testClient(d *testDaemon, timeout time.Duration) *Client {
	return NewClient(d.socket, timeout, log.New(io.Discard, "", 0))
}

func TestClientSetupAndGenerate(t *testing.T) {
	d := startTestDaemon(t)
	c := testClient(d, 5*time.Second)
	defer c.Close()

	motd, err := c.Setup(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if motd != "hello from the deep" {
		t.Errorf("motd = %q", motd)
	}
	if c.SessionID() != "sess-1" {
		t.Errorf("session id = %q", c.SessionID())
	}

	sug, err := c.Generate(context.Background(), "list files", []shell.Record{
		{Kind: shell.KindCommand, Text: "pwd", Ordinal: 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	if sug.Text != "use ls" || !sug.Executable || len(sug.Commands) != 1 {
		t.Errorf("suggestion = %+v", sug)
	}
}

func TestClientGenerateDialsLazily(t *testing.T) {
	d := startTestDaemon(t)
	c := testClient(d, 5*time.Second)
	defer c.Close()

	// No explicit Setup: the first Generate performs the handshake.
	if _, err := c.Generate(context.Background(), "q", nil); err != nil {
		t.Fatal(err)
	}
	if c.SessionID() == "" {
		t.Error("handshake did not run")
	}
}

func TestClientDialFailureIsChannelError(t *testing.T) {
	c := NewClient("/nonexistent/conchd.sock", time.Second, log.New(io.Discard, "", 0))
	_, err := c.Setup(context.Background())
	if err == nil {
		t.Fatal("expected dial error")
	}
	if !errors.Is(err, errors.KindChannel) {
		t.Errorf("error kind is not channel: %v", err)
	}
}

func TestClientTimeoutTearsDownAndRecovers(t *testing.T) {
	d := startTestDaemon(t)
	c := testClient(d, 300*time.Millisecond)
	defer c.Close()

	if _, err := c.Setup(context.Background()); err != nil {
		t.Fatal(err)
	}

	d.hang.Store(true)
	_, err := c.Generate(context.Background(), "slow", nil)
	if err == nil {
		t.Fatal("expected timeout")
	}
	if !errors.Is(err, errors.KindTimeout) {
		t.Errorf("error kind is not timeout: %v", err)
	}

	// The next request redials on a fresh connection, so a late reply to the
	// abandoned exchange can never be misdelivered.
	d.hang.Store(false)
	sug, err := c.Generate(context.Background(), "again", nil)
	if err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	if sug.Text != "use ls" {
		t.Errorf("suggestion = %+v", sug)
	}
	if got := d.generates.Load(); got != 2 {
		t.Errorf("daemon saw %d generates, want 2", got)
	}
}
