package usecase

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"posecall/internal/domain"
)

func (c *ListeningController) onResult(transcript string) {
	text := strings.TrimSpace(transcript)
	c.last.Transcript = text
	if text == "" {
		c.logger.Debug("empty transcript received", zap.String("sessionID", c.sessionID))
		return
	}

	query := text
	if c.normalizer != nil {
		normalized, err := c.normalizer.Apply(text)
		if err != nil {
			c.logger.Warn("utterance normalization failed", zap.String("text", text), zap.Error(err))
		} else {
			query = normalized
		}
	}

	pose, ok := c.matcher.Match(query)
	if ok {
		c.last.MatchedPose = &pose
		c.displayed = &pose
		c.last.Error = nil
		c.logger.Info("pose recognized",
			zap.String("sessionID", c.sessionID),
			zap.String("text", text),
			zap.String("pose", pose.ID))
		return
	}

	c.last.MatchedPose = nil
	c.logger.Info("pose not recognized", zap.String("sessionID", c.sessionID), zap.String("text", text))
	if c.displayed == nil {
		c.setError(domain.ErrorKindNoMatch, "", fmt.Sprintf(
			"Pose not recognized: %q. Try saying a pose like %q.", text, c.cfg.ExampleLabel))
	}
}

func (c *ListeningController) onError(code string, message string) {
	c.logger.Warn("recognition error",
		zap.String("sessionID", c.sessionID),
		zap.String("code", code),
		zap.String("message", message))

	switch code {
	case domain.EngineErrorNotAllowed, domain.EngineErrorServiceNotAllowed:
		c.available = false
		c.manuallyStopped = true
		c.cancelPending()
		if c.state != domain.SessionStateListening {
			c.state = domain.SessionStateError
		}
		c.setError(domain.ErrorKindServiceUnavailable, code,
			"Microphone access denied. Please allow microphone access in browser settings.")
	case domain.EngineErrorNoSpeech:
		c.setError(domain.ErrorKindTransient, code,
			"No speech detected. Listening might restart if active, or click mic.")
	case domain.EngineErrorAudioCapture:
		c.setError(domain.ErrorKindTransient, code,
			"Microphone error. Ensure it's connected and working.")
	case domain.EngineErrorAborted:
		if c.manuallyStopped {
			return
		}
		c.setError(domain.ErrorKindTransient, code, fmt.Sprintf("Speech recognition error: %s.", code))
	default:
		c.setError(domain.ErrorKindTransient, code, fmt.Sprintf("Speech recognition error: %s.", code))
	}
}
