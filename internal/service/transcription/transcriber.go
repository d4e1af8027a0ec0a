package transcription

import (
	"context"
	"net/http"

	"github.com/Taichi-iskw/transcript-index/internal/config"
	"github.com/Taichi-iskw/transcript-index/internal/errors"
	"github.com/Taichi-iskw/transcript-index/internal/logger"
	"github.com/Taichi-iskw/transcript-index/internal/service/common"
)

// Transcriber turns a recording URL or a local audio file into text
type Transcriber interface {
	// Name identifies the backend in logs and capability reports
	Name() string

	// RequiresLocalAudio reports whether Transcribe needs an audio path rather than a URL
	RequiresLocalAudio() bool

	// Transcribe returns the transcript text. The audio path wins when both are given.
	Transcribe(ctx context.Context, recordingURL, audioPath string) (string, error)
}

// New selects the backend once: Deepgram when an API key is configured, local Whisper otherwise
func New(cfg *config.Config, log *logger.Logger) Transcriber {
	if cfg.Deepgram.APIKey != "" {
		return NewDeepgram(cfg.Deepgram.APIKey, cfg.Deepgram.APIURL, cfg.Deepgram.Model, http.DefaultClient, log)
	}
	return NewWhisperWithCmdRunner(common.NewCmdRunner(), cfg.Whisper.Model, "")
}

// validateInput enforces that at least one input is present
func validateInput(recordingURL, audioPath string) error {
	if recordingURL == "" && audioPath == "" {
		return errors.New(errors.CodeInvalidArg, "either recording URL or local audio path must be specified")
	}
	return nil
}
