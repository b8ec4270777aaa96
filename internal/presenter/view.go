package presenter

import (
	"fmt"

	"posecall/internal/domain"
)

const suggestionCount = 4

// PoseCard is the pose shown to the user.
type PoseCard struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	ImageURL string `json:"imageUrl"`
	ImageAlt string `json:"imageAlt"`
}

// View is everything a surface needs to render one frame.
type View struct {
	SessionID        string              `json:"sessionId,omitempty"`
	State            domain.SessionState `json:"state"`
	Listening        bool                `json:"listening"`
	ServiceAvailable bool                `json:"serviceAvailable"`
	MicDisabled      bool                `json:"micDisabled"`
	Status           string              `json:"status"`
	Transcript       string              `json:"transcript,omitempty"`
	Error            string              `json:"error,omitempty"`
	ErrorKind        domain.ErrorKind    `json:"errorKind,omitempty"`
	Pose             *PoseCard           `json:"pose,omitempty"`
	Suggestions      []string            `json:"suggestions,omitempty"`
	RestartPending   bool                `json:"restartPending"`
}

// ExampleSource supplies pose labels to suggest.
type ExampleSource interface {
	Examples(n int) []string
}

// ImageResolver maps an image key to a URL.
type ImageResolver interface {
	URL(key string) string
}

// Presenter renders controller snapshots into views.
type Presenter struct {
	examples ExampleSource
	images   ImageResolver
}

func New(examples ExampleSource, images ImageResolver) *Presenter {
	return &Presenter{examples: examples, images: images}
}

// Render builds the view for snapshot.
func (p *Presenter) Render(snapshot domain.Snapshot) View {
	view := View{
		SessionID:        snapshot.SessionID,
		State:            snapshot.State,
		Listening:        snapshot.Listening(),
		ServiceAvailable: snapshot.ServiceAvailable,
		MicDisabled:      !snapshot.ServiceAvailable,
		Transcript:       snapshot.LastResult.Transcript,
		RestartPending:   snapshot.RestartPending,
	}
	if errInfo := snapshot.LastResult.Error; errInfo != nil {
		view.Error = errInfo.Message
		view.ErrorKind = errInfo.Kind
	}
	if pose := snapshot.DisplayedPose; pose != nil {
		card := p.Card(*pose)
		view.Pose = &card
	}
	view.Status = statusText(view)

	if !view.Listening && view.Error == "" && view.ServiceAvailable && view.Transcript == "" && view.Pose == nil && p.examples != nil {
		view.Suggestions = p.examples.Examples(suggestionCount)
	}
	return view
}

// Card renders a single catalog entry.
func (p *Presenter) Card(pose domain.PoseEntry) PoseCard {
	return PoseCard{
		ID:       pose.ID,
		Label:    pose.DisplayLabel,
		ImageURL: p.imageURL(pose.ImageKey),
		ImageAlt: "Image of " + pose.DisplayLabel,
	}
}

func (p *Presenter) imageURL(key string) string {
	if p.images == nil {
		return ""
	}
	return p.images.URL(key)
}

func statusText(v View) string {
	switch {
	case !v.ServiceAvailable:
		if v.Error != "" {
			return v.Error
		}
		return "Speech recognition not supported or permission denied."
	case v.Listening:
		if v.Error != "" {
			return fmt.Sprintf("Listening... (Note: %s)", v.Error)
		}
		return "Listening for a pose name..."
	case v.Error != "":
		return v.Error + " Click mic to try again."
	case v.Transcript != "" && v.Pose != nil:
		return fmt.Sprintf("Last recognized: %q. Click mic to listen again.", v.Transcript)
	case v.Transcript != "":
		return fmt.Sprintf("Heard: %q. Pose not found. Click mic to listen again.", v.Transcript)
	default:
		return "Click the mic icon to start listening for yoga poses."
	}
}
