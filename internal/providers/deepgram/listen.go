package deepgram

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"posecall/internal/ports"
)

const (
	defaultAPIBaseURL = "https://api.deepgram.com/v1"
	defaultModel      = "nova-2"
	keywordBoost      = 2
)

// Config controls the Deepgram live transcription request. Language is used
// when the streaming request does not name one. Keywords are catalog phrases
// the model should favour.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
	Keywords    []string
	// Endpointing is the silence that finalizes an utterance. Zero keeps the
	// provider default.
	Endpointing time.Duration
	// KeepAlive is how often a silent stream is kept open. Zero disables it.
	KeepAlive time.Duration
}

func buildListenURL(cfg Config, stream ports.StreamingConfig) (string, error) {
	listenURL, err := url.Parse(websocketBase(firstNonEmpty(cfg.APIBaseURL, defaultAPIBaseURL)) + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	encoding := firstNonEmpty(stream.Encoding, "linear16")
	sampleRate := stream.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	channels := stream.Channels
	if channels <= 0 {
		channels = 1
	}
	model := firstNonEmpty(cfg.Model, defaultModel)

	query := listenURL.Query()
	query.Set("model", model)
	query.Set("encoding", encoding)
	query.Set("sample_rate", strconv.Itoa(sampleRate))
	query.Set("channels", strconv.Itoa(channels))
	query.Set("interim_results", strconv.FormatBool(stream.InterimResults))
	query.Set("smart_format", strconv.FormatBool(cfg.SmartFormat))
	if language := firstNonEmpty(stream.Language, cfg.Language); language != "" {
		query.Set("language", language)
	}
	if cfg.Endpointing > 0 {
		query.Set("endpointing", strconv.FormatInt(cfg.Endpointing.Milliseconds(), 10))
	}
	addKeywords(query, model, cfg.Keywords)

	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}

// addKeywords boosts phrases. nova-3 models take plain key terms, older
// models take keyword:intensifier pairs.
func addKeywords(query url.Values, model string, keywords []string) {
	seen := make(map[string]struct{}, len(keywords))
	for _, keyword := range keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}
		if _, ok := seen[keyword]; ok {
			continue
		}
		seen[keyword] = struct{}{}

		if strings.HasPrefix(model, "nova-3") {
			query.Add("keyterm", keyword)
			continue
		}
		query.Add("keywords", fmt.Sprintf("%s:%d", keyword, keywordBoost))
	}
}

func websocketBase(base string) string {
	base = strings.TrimSpace(base)
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return strings.TrimRight(base, "/")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
