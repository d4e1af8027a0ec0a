package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/Taichi-iskw/transcript-index/internal/errors"
	"github.com/Taichi-iskw/transcript-index/internal/service/common"
)

// Extractor downloads recordings and strips their audio track
type Extractor interface {
	// Download streams url into destPath and returns destPath
	Download(ctx context.Context, url, destPath string) (string, error)

	// ExtractAudio writes a mono 16kHz WAV next to the video and returns its path
	ExtractAudio(ctx context.Context, videoPath string) (string, error)
}

// extractor implements Extractor with net/http and ffmpeg
type extractor struct {
	cmdRunner  common.CmdRunner
	httpClient *http.Client
	ffmpegPath string
}

// NewExtractor creates a new Extractor with the default CmdRunner
func NewExtractor(ffmpegPath string) Extractor {
	return NewExtractorWithCmdRunner(common.NewCmdRunner(), http.DefaultClient, ffmpegPath)
}

// NewExtractorWithCmdRunner creates a new Extractor with custom CmdRunner (for testing)
func NewExtractorWithCmdRunner(cmdRunner common.CmdRunner, httpClient *http.Client, ffmpegPath string) Extractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &extractor{
		cmdRunner:  cmdRunner,
		httpClient: httpClient,
		ffmpegPath: ffmpegPath,
	}
}

// AudioPath returns the audio path ExtractAudio produces for videoPath
func AudioPath(videoPath string) string {
	ext := filepath.Ext(videoPath)
	return strings.TrimSuffix(videoPath, ext) + ".wav"
}

// Download streams the recording to disk. Only ctx bounds its duration.
func (e *extractor) Download(ctx context.Context, url, destPath string) (string, error) {
	if url == "" {
		return "", errors.New(errors.CodeInvalidArg, "download URL is required")
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return "", errors.Wrap(err, errors.CodeInternal, "failed to create output directory")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeInvalidArg, "invalid download URL")
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeExternal, "failed to download recording")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.New(errors.CodeExternal, fmt.Sprintf("failed to download recording: status %d", resp.StatusCode))
	}

	f, err := os.Create(destPath)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeInternal, "failed to create video file")
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(destPath)
		return "", errors.Wrap(err, errors.CodeExternal, "download interrupted")
	}
	if err := f.Close(); err != nil {
		os.Remove(destPath)
		return "", errors.Wrap(err, errors.CodeInternal, "failed to write video file")
	}
	return destPath, nil
}

// ExtractAudio runs ffmpeg to produce <stem>.wav beside the video
func (e *extractor) ExtractAudio(ctx context.Context, videoPath string) (string, error) {
	if videoPath == "" {
		return "", errors.New(errors.CodeInvalidArg, "video path is required")
	}
	if _, err := os.Stat(videoPath); err != nil {
		return "", errors.Wrap(err, errors.CodeNotFound, fmt.Sprintf("video file not found: %s", filepath.Base(videoPath)))
	}

	audioPath := AudioPath(videoPath)
	args := []string{
		"-y",
		"-i", videoPath,
		"-vn",      // drop video
		"-ac", "1", // mono
		"-ar", "16000",
		audioPath,
	}

	if _, err := e.cmdRunner.Run(ctx, e.ffmpegPath, args...); err != nil {
		os.Remove(audioPath)
		return "", errors.Wrap(err, errors.CodeExternal, e.formatFFmpegError(err, videoPath))
	}
	return audioPath, nil
}

// formatFFmpegError provides user-friendly error messages for ffmpeg failures
func (e *extractor) formatFFmpegError(err error, videoPath string) string {
	errMsg := err.Error()

	switch {
	case strings.Contains(errMsg, "executable file not found"):
		return "ffmpeg is not installed. Please install ffmpeg and make sure it is on PATH"
	case strings.Contains(errMsg, "Invalid data found"), strings.Contains(errMsg, "moov atom not found"):
		return fmt.Sprintf("video file is corrupt or incomplete: %s", filepath.Base(videoPath))
	case strings.Contains(errMsg, "does not contain any stream"), strings.Contains(errMsg, "Output file #0 does not contain"):
		return fmt.Sprintf("video has no audio track: %s", filepath.Base(videoPath))
	case strings.Contains(errMsg, "No space left"):
		return "not enough disk space to extract audio"
	default:
		return fmt.Sprintf("failed to extract audio from %s", filepath.Base(videoPath))
	}
}
