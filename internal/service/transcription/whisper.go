package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Taichi-iskw/transcript-index/internal/errors"
	"github.com/Taichi-iskw/transcript-index/internal/service/common"
)

// whisperOutput is the subset of Whisper's JSON output we read
type whisperOutput struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// whisperTranscriber transcribes local audio with the Whisper CLI
type whisperTranscriber struct {
	cmdRunner common.CmdRunner
	model     string
	outputDir string // fixed output dir (tests); a temp dir is used when empty
}

// NewWhisper creates a Whisper transcriber with the default CmdRunner
func NewWhisper(model string) Transcriber {
	return NewWhisperWithCmdRunner(common.NewCmdRunner(), model, "")
}

// NewWhisperWithCmdRunner creates a Whisper transcriber with custom CmdRunner (for testing)
func NewWhisperWithCmdRunner(cmdRunner common.CmdRunner, model, outputDir string) Transcriber {
	if model == "" {
		model = "base"
	}
	return &whisperTranscriber{
		cmdRunner: cmdRunner,
		model:     model,
		outputDir: outputDir,
	}
}

func (s *whisperTranscriber) Name() string { return "whisper" }

func (s *whisperTranscriber) RequiresLocalAudio() bool { return true }

// Transcribe transcribes the audio file using Whisper CLI; the recording URL is ignored
func (s *whisperTranscriber) Transcribe(ctx context.Context, recordingURL, audioPath string) (string, error) {
	if err := validateInput(recordingURL, audioPath); err != nil {
		return "", err
	}
	if audioPath == "" {
		return "", errors.New(errors.CodeInvalidArg, "whisper requires a local audio file")
	}

	outputDir := s.outputDir
	if outputDir == "" {
		tempDir, err := os.MkdirTemp("", "transcript-index-whisper-*")
		if err != nil {
			return "", errors.Wrap(err, errors.CodeInternal, "failed to create temp directory")
		}
		defer os.RemoveAll(tempDir)
		outputDir = tempDir
	}

	args := []string{
		audioPath,
		"--model", s.model,
		"--output_format", "json",
		"--output_dir", outputDir,
		"--temperature", "0",
		"--fp16", "False",
	}

	if _, err := s.cmdRunner.Run(ctx, "whisper", args...); err != nil {
		return "", errors.Wrap(err, errors.CodeExternal, s.formatWhisperError(err, audioPath))
	}

	baseName := filepath.Base(audioPath)
	baseName = strings.TrimSuffix(baseName, filepath.Ext(baseName))
	jsonPath := filepath.Join(outputDir, baseName+".json")

	jsonData, err := os.ReadFile(jsonPath)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeInternal, "failed to read whisper output")
	}

	var result whisperOutput
	if err := json.Unmarshal(jsonData, &result); err != nil {
		return "", errors.Wrap(err, errors.CodeInternal, "failed to parse whisper output")
	}

	return strings.TrimSpace(result.Text), nil
}

// formatWhisperError provides user-friendly error messages for Whisper failures
func (s *whisperTranscriber) formatWhisperError(err error, audioPath string) string {
	errMsg := err.Error()

	switch {
	case strings.Contains(errMsg, "executable file not found"):
		return "Whisper is not installed. Please install OpenAI Whisper: pip install openai-whisper"
	case strings.Contains(errMsg, "No module named"):
		return "Whisper dependencies missing. Please reinstall: pip install --upgrade openai-whisper"
	case strings.Contains(errMsg, "not enough memory") || strings.Contains(errMsg, "OutOfMemoryError"):
		return fmt.Sprintf("insufficient memory for model '%s'. Try using a smaller model (tiny, base, small)", s.model)
	case strings.Contains(errMsg, "Could not load model"):
		return fmt.Sprintf("failed to load Whisper model '%s'. The model may need to be downloaded on first use", s.model)
	case strings.Contains(errMsg, "No such file"):
		return fmt.Sprintf("audio file not found: %s", filepath.Base(audioPath))
	default:
		return fmt.Sprintf("transcription failed with model '%s'", s.model)
	}
}
