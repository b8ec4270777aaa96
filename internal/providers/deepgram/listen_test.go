package deepgram

import (
	"net/url"
	"testing"
	"time"

	"posecall/internal/ports"
)

func parseListenURL(t *testing.T, cfg Config, stream ports.StreamingConfig) *url.URL {
	t.Helper()
	raw, err := buildListenURL(cfg, stream)
	if err != nil {
		t.Fatalf("build listen url failed: %v", err)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid url %q: %v", raw, err)
	}
	return parsed
}

func TestBuildListenURLDefaults(t *testing.T) {
	t.Parallel()

	u := parseListenURL(t, Config{}, ports.StreamingConfig{})
	if u.Scheme != "wss" || u.Host != "api.deepgram.com" || u.Path != "/v1/listen" {
		t.Fatalf("unexpected endpoint: %s", u)
	}

	query := u.Query()
	want := map[string]string{
		"model":           "nova-2",
		"encoding":        "linear16",
		"sample_rate":     "16000",
		"channels":        "1",
		"interim_results": "false",
		"smart_format":    "false",
	}
	for key, value := range want {
		if got := query.Get(key); got != value {
			t.Fatalf("expected %s=%s, got %q", key, value, got)
		}
	}
	for _, key := range []string{"language", "endpointing", "keywords", "keyterm"} {
		if query.Has(key) {
			t.Fatalf("expected no %s by default: %s", key, u)
		}
	}
}

func TestBuildListenURLStreamLanguageWins(t *testing.T) {
	t.Parallel()

	u := parseListenURL(t,
		Config{APIBaseURL: "http://localhost:8080/v1/", Model: "m", Language: "en-US", SmartFormat: true, Endpointing: 300 * time.Millisecond},
		ports.StreamingConfig{SampleRate: 8000, Channels: 2, Language: "en-GB"},
	)
	if u.Scheme != "ws" || u.Host != "localhost:8080" || u.Path != "/v1/listen" {
		t.Fatalf("unexpected endpoint: %s", u)
	}

	query := u.Query()
	if query.Get("language") != "en-GB" {
		t.Fatalf("expected stream language, got %q", query.Get("language"))
	}
	if query.Get("smart_format") != "true" || query.Get("sample_rate") != "8000" || query.Get("channels") != "2" {
		t.Fatalf("unexpected format options: %v", query)
	}
	if query.Get("endpointing") != "300" {
		t.Fatalf("expected endpointing in ms, got %q", query.Get("endpointing"))
	}
}

func TestBuildListenURLKeywords(t *testing.T) {
	t.Parallel()

	keywords := []string{"Tree Pose", "warrior one", "tree pose", " "}

	u := parseListenURL(t, Config{Model: "nova-2", Keywords: keywords}, ports.StreamingConfig{})
	got := u.Query()["keywords"]
	if len(got) != 2 || got[0] != "tree pose:2" || got[1] != "warrior one:2" {
		t.Fatalf("unexpected keywords: %v", got)
	}

	u = parseListenURL(t, Config{Model: "nova-3", Keywords: keywords}, ports.StreamingConfig{})
	if terms := u.Query()["keyterm"]; len(terms) != 2 || terms[0] != "tree pose" {
		t.Fatalf("unexpected key terms: %v", terms)
	}
	if u.Query().Has("keywords") {
		t.Fatalf("expected nova-3 to use key terms only: %s", u)
	}
}

func TestBuildListenURLInvalidBase(t *testing.T) {
	t.Parallel()

	if _, err := buildListenURL(Config{APIBaseURL: ":// bad"}, ports.StreamingConfig{}); err == nil {
		t.Fatalf("expected invalid base url error")
	}
}

func TestWebsocketBase(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://api.deepgram.com/v1/": "wss://api.deepgram.com/v1",
		"http://127.0.0.1:9000":        "ws://127.0.0.1:9000",
		" wss://proxy.local/v1 ":       "wss://proxy.local/v1",
	}
	for in, want := range cases {
		if got := websocketBase(in); got != want {
			t.Fatalf("websocketBase(%q) = %q, want %q", in, got, want)
		}
	}
}
