package httpserver

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"posecall/internal/catalog"
	"posecall/internal/domain"
	"posecall/internal/presenter"
	"posecall/internal/providers/webspeech"
)

type fakeHost struct {
	mu        sync.Mutex
	attached  []webspeech.Peer
	detached  []webspeech.Peer
	delivered []webspeech.Message
}

func (f *fakeHost) Attach(p webspeech.Peer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached = append(f.attached, p)
}

func (f *fakeHost) Detach(p webspeech.Peer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached = append(f.detached, p)
}

func (f *fakeHost) Deliver(p webspeech.Peer, msg webspeech.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, msg)
}

func (f *fakeHost) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attached), len(f.detached), len(f.delivered)
}

func (f *fakeHost) peer() webspeech.Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.attached) == 0 {
		return nil
	}
	return f.attached[len(f.attached)-1]
}

type hubFixture struct {
	hub    *Hub
	host   *fakeHost
	server *httptest.Server
	url    string
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()

	host := &fakeHost{}
	poses := catalog.Default()
	renderer := presenter.New(poses, fixedImages{})
	hub := NewHub(renderer, host, nil)
	s := New(&fakeController{}, poses, renderer, hub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return &hubFixture{
		hub:    hub,
		host:   host,
		server: server,
		url:    "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
	}
}

func (f *hubFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	waitUntil(t, func() bool { return f.hub.ClientCount() > 0 })
	return conn
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var frame map[string]json.RawMessage
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return frame
}

func TestHubBroadcastsViews(t *testing.T) {
	t.Parallel()

	f := newHubFixture(t)
	conn := f.dial(t)

	f.hub.SnapshotChanged(domain.Snapshot{
		State:            domain.SessionStateIdle,
		ServiceAvailable: true,
		LastResult:       domain.LastResult{Transcript: "tree pose"},
		DisplayedPose:    &domain.PoseEntry{ID: "tree", DisplayLabel: "Tree Pose", ImageKey: "tree"},
	})

	frame := readFrame(t, conn)
	if string(frame["type"]) != `"view"` {
		t.Fatalf("unexpected frame type: %s", frame["type"])
	}
	var view presenter.View
	if err := json.Unmarshal(frame["view"], &view); err != nil {
		t.Fatalf("decode view failed: %v", err)
	}
	if view.Pose == nil || view.Pose.Label != "Tree Pose" || view.Pose.ImageURL != "https://img.test/tree" {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestHubSendsLatestViewOnConnect(t *testing.T) {
	t.Parallel()

	f := newHubFixture(t)
	f.hub.SnapshotChanged(domain.Snapshot{State: domain.SessionStateListening, ServiceAvailable: true})

	conn := f.dial(t)
	frame := readFrame(t, conn)
	if !strings.Contains(string(frame["view"]), `"listening":true`) {
		t.Fatalf("expected latest view, got %s", frame["view"])
	}
}

func TestHubRelaysSpeechEvents(t *testing.T) {
	t.Parallel()

	f := newHubFixture(t)
	conn := f.dial(t)

	if err := conn.WriteJSON(webspeech.Message{Type: webspeech.MessageHello, Speech: false}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := conn.WriteJSON(webspeech.Message{Type: webspeech.MessageHello, Speech: true}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := conn.WriteJSON(webspeech.Message{Type: webspeech.MessageResult, Transcript: "cobra"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	waitUntil(t, func() bool {
		attached, _, delivered := f.host.counts()
		return attached == 1 && delivered == 1
	})

	if err := f.host.peer().Send(webspeech.Command{Type: "command", Command: webspeech.CommandStart}); err != nil {
		t.Fatalf("send command failed: %v", err)
	}
	frame := readFrame(t, conn)
	if string(frame["command"]) != `"start"` {
		t.Fatalf("expected start command, got %v", frame)
	}

	_ = conn.Close()
	waitUntil(t, func() bool {
		_, detached, _ := f.host.counts()
		return detached == 1 && f.hub.ClientCount() == 0
	})
	if err := f.host.peer().Send(webspeech.Command{Type: "command", Command: webspeech.CommandStop}); err == nil {
		t.Fatalf("expected send to a closed page to fail")
	}
}

func TestHubDropsFramesForSlowClients(t *testing.T) {
	t.Parallel()

	client := &Client{send: make(chan []byte, 1)}
	if err := client.enqueue([]byte("a")); err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	if err := client.enqueue([]byte("b")); err != errClientSlow {
		t.Fatalf("expected slow client error, got %v", err)
	}
	client.close()
	client.close()
	if err := client.enqueue([]byte("c")); err != errClientClosed {
		t.Fatalf("expected closed error, got %v", err)
	}
}
