package cmd

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Taichi-iskw/transcript-index/internal/model"
)

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format  string
		want    Formatter
		wantErr bool
	}{
		{format: "", want: &TextFormatter{}},
		{format: "text", want: &TextFormatter{}},
		{format: "json", want: &JSONFormatter{}},
		{format: "yaml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			got, err := NewFormatter(tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, got)
		})
	}
}

func TestTextFormatter_FormatAnswer(t *testing.T) {
	answer := model.Answer{
		Text: "The launch moved to Friday.",
		Sources: []model.AnswerSource{
			{DocumentID: "20231114T222320Z_all-hands_rec-1.txt", Score: 1},
			{DocumentID: "standup.mp4.txt", Score: 0.5},
		},
	}

	out, err := (&TextFormatter{}).FormatAnswer(answer)
	require.NoError(t, err)

	assert.Contains(t, out, "The launch moved to Friday.")
	assert.Contains(t, out, "[1] 20231114T222320Z_all-hands_rec-1.txt (score 1.00)")
	assert.Contains(t, out, "[2] standup.mp4.txt (score 0.50)")
}

func TestTextFormatter_FormatAnswerWithoutSources(t *testing.T) {
	out, err := (&TextFormatter{}).FormatAnswer(model.Answer{Text: "No relevant transcripts found."})
	require.NoError(t, err)
	assert.Equal(t, "No relevant transcripts found.", out)
}

func TestTextFormatter_FormatRuns(t *testing.T) {
	f := &TextFormatter{}

	out, err := f.FormatRuns(nil)
	require.NoError(t, err)
	assert.Equal(t, "No runs recorded.", out)

	started := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	out, err = f.FormatRuns([]*model.Run{{
		ID: "run-1", Source: model.SourceDaily, State: model.StateReady,
		Processed: 3, Skipped: 10, Failed: 1, StartedAt: started,
	}})
	require.NoError(t, err)
	assert.Contains(t, out, "PROCESSED")
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "2024-03-01T09:00:00Z")
}

func TestJSONFormatter(t *testing.T) {
	f := &JSONFormatter{}

	out, err := f.FormatStatus(model.Status{State: model.StateError, Message: "Failed to create/update index: boom"})
	require.NoError(t, err)
	var status map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, "failed", status["state"])

	out, err = f.FormatRuns(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}
