package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"posecall/internal/bootstrap"
	"posecall/internal/catalog"
	"posecall/internal/domain"
	"posecall/internal/matcher"
	"posecall/internal/ports"
	"posecall/internal/presenter"
	"posecall/internal/providers/webspeech"
	"posecall/internal/usecase"
)

type emitted struct {
	name string
	data interface{}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recordingEmitter) emit(_ context.Context, name string, data ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var payload interface{}
	if len(data) > 0 {
		payload = data[0]
	}
	r.events = append(r.events, emitted{name: name, data: payload})
}

func (r *recordingEmitter) named(name string) []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []emitted
	for _, e := range r.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

type immediateScheduler struct{}

func (immediateScheduler) AfterFunc(_ time.Duration, _ func()) func() bool {
	return func() bool { return true }
}

func newTestApp(t *testing.T) (*App, *recordingEmitter, *webspeech.Bridge) {
	t.Helper()

	poses := catalog.Default()
	bridge := webspeech.NewBridge(ports.DefaultRecognitionConfig(), nil)
	recorder := &recordingEmitter{}
	app := &App{ctx: context.Background(), emit: recorder.emit}
	app.peer = &webviewPeer{app: app}
	app.services = &bootstrap.Services{
		Catalog:   poses,
		Presenter: presenter.New(poses, nil),
		Bridge:    bridge,
	}
	app.controller = usecase.NewListeningController(
		bridge, matcher.New(poses.All()), nil, immediateScheduler{}, app, nil, usecase.Config{},
	)
	t.Cleanup(func() { _ = bridge.Close() })
	return app, recorder, bridge
}

func TestRequireReady(t *testing.T) {
	t.Parallel()

	app := &App{}
	if err := app.requireReady(); err == nil {
		t.Fatalf("expected uninitialized error")
	}

	bootErr := errors.New("boot")
	app.bootErr = bootErr
	if err := app.requireReady(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error, got %v", err)
	}
	if _, err := app.StartListening(); !errors.Is(err, bootErr) {
		t.Fatalf("expected start to report boot error, got %v", err)
	}
}

func TestGetViewWhenNotInitialized(t *testing.T) {
	t.Parallel()

	app := &App{}
	view := app.GetView()
	if view.State != domain.SessionStateError || !view.MicDisabled || view.Status != "Starting..." {
		t.Fatalf("unexpected view: %+v", view)
	}

	app.bootErr = errors.New("bad rules")
	view = app.GetView()
	if view.Status != "Startup failed: bad rules" {
		t.Fatalf("unexpected boot view: %+v", view)
	}
	if info := app.GetRuntimeInfo(); info["error"] != "bad rules" {
		t.Fatalf("unexpected runtime info: %v", info)
	}
	if app.GetPoses() != nil {
		t.Fatalf("expected no poses before startup")
	}
}

func TestStartWithoutWebviewHostIsRejected(t *testing.T) {
	t.Parallel()

	app, recorder, _ := newTestApp(t)
	view, err := app.StartListening()
	if !errors.Is(err, usecase.ErrStartRejected) {
		t.Fatalf("expected start rejection without a speech host, got %v", err)
	}
	if view.Listening || view.ErrorKind != domain.ErrorKindStartRejected {
		t.Fatalf("unexpected view: %+v", view)
	}
	if len(recorder.named(eventView)) == 0 {
		t.Fatalf("expected a view to be emitted")
	}
}

func TestRecognitionRoundTripThroughWebview(t *testing.T) {
	t.Parallel()

	app, recorder, bridge := newTestApp(t)

	app.RecognitionEvent(webspeech.Message{Type: webspeech.MessageHello, Speech: true})
	if !bridge.Attached() {
		t.Fatalf("expected webview to host recognition")
	}

	if _, err := app.StartListening(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	commands := recorder.named(eventCommand)
	if len(commands) != 1 {
		t.Fatalf("expected start command, got %d", len(commands))
	}
	if cmd, ok := commands[0].data.(webspeech.Command); !ok || cmd.Command != webspeech.CommandStart {
		t.Fatalf("unexpected command payload: %#v", commands[0].data)
	}

	app.RecognitionEvent(webspeech.Message{Type: webspeech.MessageStart})
	app.RecognitionEvent(webspeech.Message{Type: webspeech.MessageResult, Transcript: "Tree pose please"})
	app.controller.Handle(<-bridge.Notifications())
	app.controller.Handle(<-bridge.Notifications())

	view := app.GetView()
	if !view.Listening || view.Pose == nil || view.Pose.ID != "tree" {
		t.Fatalf("unexpected view after result: %+v", view)
	}

	views := recorder.named(eventView)
	last, ok := views[len(views)-1].data.(presenter.View)
	if !ok || last.Pose == nil || last.Pose.Label != view.Pose.Label {
		t.Fatalf("expected emitted view to show the pose, got %#v", views[len(views)-1].data)
	}
}

func TestRecognitionEventWithoutBridgeIsIgnored(t *testing.T) {
	t.Parallel()

	app := &App{}
	app.RecognitionEvent(webspeech.Message{Type: webspeech.MessageResult, Transcript: "tree"})
}

func TestGetPosesAndRuntimeInfo(t *testing.T) {
	t.Parallel()

	app, _, _ := newTestApp(t)
	cards := app.GetPoses()
	if len(cards) != 8 || cards[0].Label != "Downward-Facing Dog" {
		t.Fatalf("unexpected cards: %+v", cards)
	}
	if info := app.GetRuntimeInfo(); info["poses"] != "8" {
		t.Fatalf("unexpected runtime info: %v", info)
	}
}

func TestWebviewPeerRequiresContext(t *testing.T) {
	t.Parallel()

	peer := &webviewPeer{app: &App{}}
	if err := peer.Send(webspeech.Command{Command: webspeech.CommandStart}); err == nil {
		t.Fatalf("expected error before startup")
	}
}
