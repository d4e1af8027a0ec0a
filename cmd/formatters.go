package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Taichi-iskw/transcript-index/internal/model"
)

// Formatter defines interface for output formatting
type Formatter interface {
	FormatStatus(status model.Status) (string, error)
	FormatAnswer(answer model.Answer) (string, error)
	FormatRuns(runs []*model.Run) (string, error)
}

// NewFormatter returns the formatter for the --format flag value
func NewFormatter(format string) (Formatter, error) {
	switch format {
	case "", "text":
		return &TextFormatter{}, nil
	case "json":
		return &JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (expected text or json)", format)
	}
}

// TextFormatter formats output as plain text
type TextFormatter struct{}

// FormatStatus formats an index status as plain text
func (f *TextFormatter) FormatStatus(status model.Status) (string, error) {
	return fmt.Sprintf("State:   %s\nMessage: %s", status.State, status.Message), nil
}

// FormatAnswer formats an answer and its sources as plain text
func (f *TextFormatter) FormatAnswer(answer model.Answer) (string, error) {
	var output strings.Builder

	output.WriteString(answer.Text)
	output.WriteString("\n")

	if len(answer.Sources) > 0 {
		output.WriteString("\nSources:\n")
		output.WriteString("========\n")
		for i, src := range answer.Sources {
			output.WriteString(fmt.Sprintf("[%d] %s (score %.2f)\n", i+1, src.DocumentID, src.Score))
		}
	}

	return strings.TrimRight(output.String(), "\n"), nil
}

// FormatRuns formats ingestion runs as a table
func (f *TextFormatter) FormatRuns(runs []*model.Run) (string, error) {
	if len(runs) == 0 {
		return "No runs recorded.", nil
	}

	var output strings.Builder
	output.WriteString(fmt.Sprintf("%-36s  %-8s  %-10s  %9s  %7s  %6s  %s\n",
		"ID", "SOURCE", "STATE", "PROCESSED", "SKIPPED", "FAILED", "STARTED"))
	for _, r := range runs {
		output.WriteString(fmt.Sprintf("%-36s  %-8s  %-10s  %9d  %7d  %6d  %s\n",
			r.ID, r.Source, r.State, r.Processed, r.Skipped, r.Failed, r.StartedAt.Format(time.RFC3339)))
	}
	return strings.TrimRight(output.String(), "\n"), nil
}

// JSONFormatter formats output as JSON
type JSONFormatter struct{}

// FormatStatus formats an index status as JSON
func (f *JSONFormatter) FormatStatus(status model.Status) (string, error) {
	return marshalIndent(status)
}

// FormatAnswer formats an answer as JSON
func (f *JSONFormatter) FormatAnswer(answer model.Answer) (string, error) {
	return marshalIndent(answer)
}

// FormatRuns formats ingestion runs as JSON
func (f *JSONFormatter) FormatRuns(runs []*model.Run) (string, error) {
	if runs == nil {
		runs = []*model.Run{}
	}
	return marshalIndent(runs)
}

func marshalIndent(v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format result: %w", err)
	}
	return string(data), nil
}
