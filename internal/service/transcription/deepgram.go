package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/Taichi-iskw/transcript-index/internal/errors"
	"github.com/Taichi-iskw/transcript-index/internal/logger"
)

// deepgramResponse is the subset of the prerecorded transcription response we read
type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// deepgramTranscriber transcribes with the Deepgram prerecorded API.
// It accepts either a recording URL or a local audio file.
type deepgramTranscriber struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	log        *logger.Logger
}

// NewDeepgram creates a Deepgram transcriber. The client carries no timeout: long media is expected.
func NewDeepgram(apiKey, baseURL, model string, httpClient *http.Client, log *logger.Logger) Transcriber {
	if model == "" {
		model = "nova"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = logger.Discard()
	}
	return &deepgramTranscriber{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: httpClient,
		log:        log.With("transcriber", "deepgram"),
	}
}

func (s *deepgramTranscriber) Name() string { return "deepgram" }

func (s *deepgramTranscriber) RequiresLocalAudio() bool { return false }

// Transcribe sends the local file when present, otherwise lets Deepgram fetch the URL
func (s *deepgramTranscriber) Transcribe(ctx context.Context, recordingURL, audioPath string) (string, error) {
	if s.apiKey == "" {
		return "", errors.New(errors.CodeConfiguration, "Deepgram API key is missing")
	}
	if err := validateInput(recordingURL, audioPath); err != nil {
		return "", err
	}
	if recordingURL != "" && audioPath != "" {
		s.log.Debug("both recording URL and audio path specified; favoring local audio path")
	}

	if audioPath != "" {
		return s.transcribeFile(ctx, audioPath)
	}
	return s.transcribeURL(ctx, recordingURL)
}

func (s *deepgramTranscriber) transcribeURL(ctx context.Context, recordingURL string) (string, error) {
	body, err := json.Marshal(map[string]string{"url": recordingURL})
	if err != nil {
		return "", errors.Wrap(err, errors.CodeInternal, "failed to encode request")
	}
	return s.send(ctx, bytes.NewReader(body), "application/json")
}

func (s *deepgramTranscriber) transcribeFile(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeNotFound, "audio file could not be found")
	}
	defer f.Close()
	return s.send(ctx, f, "audio/wav")
}

func (s *deepgramTranscriber) send(ctx context.Context, body io.Reader, contentType string) (string, error) {
	q := url.Values{}
	q.Set("model", s.model)
	q.Set("filler_words", "true")
	q.Set("language", "en")
	endpoint := s.baseURL + "/v1/listen?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeInternal, "failed to build request")
	}
	req.Header.Set("Authorization", "Token "+s.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeExternal, "deepgram request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusRequestEntityTooLarge {
		return "", errors.New(errors.CodePayloadTooLarge,
			"deepgram rejected the media as too large; split or compress it and re-upload")
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeExternal,
			fmt.Sprintf("failed to read deepgram response (status %d)", resp.StatusCode))
	}
	if resp.StatusCode >= 300 {
		return "", errors.New(errors.CodeExternal,
			fmt.Sprintf("deepgram returned status %d: %s", resp.StatusCode, truncate(string(data), 200)))
	}

	var parsed deepgramResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", errors.Wrap(err, errors.CodeExternal, "failed to decode deepgram response")
	}
	if len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
		return "", errors.New(errors.CodeExternal, "deepgram response contained no transcript")
	}
	return parsed.Results.Channels[0].Alternatives[0].Transcript, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
