package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"posecall/internal/bootstrap"
	"posecall/internal/config"
	"posecall/internal/domain"
	"posecall/internal/presenter"
	"posecall/internal/providers/webspeech"
	"posecall/internal/usecase"
)

const (
	eventView    = "posecall:view"
	eventCommand = "posecall:command"
)

// App is the Wails application root.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc

	services   *bootstrap.Services
	controller *usecase.ListeningController
	peer       *webviewPeer
	bootErr    error

	emit func(ctx context.Context, name string, data ...interface{})
}

func NewApp() *App {
	return &App{emit: runtime.EventsEmit}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	a.peer = &webviewPeer{app: a}

	services, err := bootstrap.Build()
	if err != nil {
		a.bootErr = err
		a.emitView(a.GetView())
		return
	}
	a.services = services

	controller, err := services.NewController(a)
	if err != nil {
		a.bootErr = err
		a.emitView(a.GetView())
		return
	}
	a.controller = controller

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	go controller.Run(runCtx)

	a.SnapshotChanged(controller.Snapshot())
}

func (a *App) shutdown(_ context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	if a.services != nil {
		_ = a.services.Close()
	}
}

// StartListening begins continuous recognition.
func (a *App) StartListening() (presenter.View, error) {
	if err := a.requireReady(); err != nil {
		return a.GetView(), err
	}
	err := a.controller.Start()
	return a.GetView(), err
}

// StopListening ends recognition and cancels any pending restart.
func (a *App) StopListening() (presenter.View, error) {
	if err := a.requireReady(); err != nil {
		return a.GetView(), err
	}
	err := a.controller.Stop()
	return a.GetView(), err
}

// Reenable clears a permission error after the user fixed it.
func (a *App) Reenable() (presenter.View, error) {
	if err := a.requireReady(); err != nil {
		return a.GetView(), err
	}
	err := a.controller.Reenable()
	return a.GetView(), err
}

// GetView returns the current view.
func (a *App) GetView() presenter.View {
	if a.controller == nil || a.services == nil {
		message := "Starting..."
		if a.bootErr != nil {
			message = "Startup failed: " + a.bootErr.Error()
		}
		return presenter.View{
			State:       domain.SessionStateError,
			MicDisabled: true,
			Status:      message,
			Error:       message,
		}
	}
	return a.services.Presenter.Render(a.controller.Snapshot())
}

// GetPoses lists the pose catalog.
func (a *App) GetPoses() []presenter.PoseCard {
	if a.services == nil {
		return nil
	}
	entries := a.services.Catalog.All()
	cards := make([]presenter.PoseCard, 0, len(entries))
	for _, entry := range entries {
		cards = append(cards, a.services.Presenter.Card(entry))
	}
	return cards
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if a.services == nil {
		return map[string]string{}
	}

	cfg := a.services.Config
	info := map[string]string{
		"engine":       string(cfg.Recognition.Engine),
		"language":     cfg.Recognition.Language,
		"restartDelay": cfg.Recognition.RestartDelay.String(),
		"rulesFile":    cfg.Rules.Path,
		"catalogFile":  cfg.Catalog.Path,
		"poses":        fmt.Sprintf("%d", a.services.Catalog.Len()),
	}
	if cfg.Recognition.Engine == config.EngineDeepgram {
		info["model"] = cfg.Deepgram.Model
		info["audioInput"] = cfg.Audio.InputDevice
		info["audioInputFormat"] = cfg.Audio.InputFormat
	}
	return info
}

// RecognitionEvent receives SpeechRecognition events from the webview.
func (a *App) RecognitionEvent(msg webspeech.Message) {
	if a.services == nil || a.services.Bridge == nil {
		return
	}
	if msg.Type == webspeech.MessageHello {
		if msg.Speech {
			a.services.Bridge.Attach(a.peer)
		}
		return
	}
	a.services.Bridge.Deliver(a.peer, msg)
}

// SnapshotChanged implements ports.EventSink.
func (a *App) SnapshotChanged(snapshot domain.Snapshot) {
	if a.services == nil {
		return
	}
	a.emitView(a.services.Presenter.Render(snapshot))
}

func (a *App) emitView(view presenter.View) {
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, eventView, view)
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return errors.New("application is not initialized")
	}
	return nil
}

// webviewPeer hosts the browser speech engine inside the Wails webview.
type webviewPeer struct {
	app *App
}

func (p *webviewPeer) Send(cmd webspeech.Command) error {
	if p.app.ctx == nil || p.app.emit == nil {
		return errors.New("webview is not ready")
	}
	p.app.emit(p.app.ctx, eventCommand, cmd)
	return nil
}
