package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecording_Key(t *testing.T) {
	rec := Recording{
		ID:          "rec-1",
		RoomName:    "all-hands",
		CompletedAt: time.Date(2024, 3, 5, 14, 30, 0, 0, time.FixedZone("CET", 3600)),
	}
	assert.Equal(t, "20240305T133000Z_all-hands_rec-1", rec.Key())
}

func TestUpload_Key(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{path: "/data/uploads/standup.mp4", want: "standup"},
		{path: "demo.day.mov", want: "demo.day"},
		{path: "noext", want: "noext"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Upload{Path: tt.path}.Key())
		})
	}
}

func TestParseSource(t *testing.T) {
	s, err := ParseSource("daily")
	require.NoError(t, err)
	assert.Equal(t, SourceDaily, s)

	s, err = ParseSource("uploads")
	require.NoError(t, err)
	assert.Equal(t, SourceUploads, s)

	_, err = ParseSource("dropbox")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unrecognized source")
}

func TestState_Busy(t *testing.T) {
	assert.True(t, StateLoading.Busy())
	assert.True(t, StateCreating.Busy())
	assert.True(t, StateUpdating.Busy())
	assert.False(t, StateReady.Busy())
	assert.False(t, StateError.Busy())
	assert.False(t, StateUninitialized.Busy())
}

func TestBatchReport_Add(t *testing.T) {
	var r BatchReport
	r.Add(ItemOutcome{Kind: OutcomeProcessed, Indexed: true})
	r.Add(ItemOutcome{Kind: OutcomeProcessed})
	r.Add(ItemOutcome{Kind: OutcomeSkipped})
	r.Add(ItemOutcome{Kind: OutcomeTooLarge})
	r.Add(ItemOutcome{Kind: OutcomeFailed})

	assert.Equal(t, 2, r.Processed)
	assert.Equal(t, 1, r.Skipped)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 1, r.TooLarge)
	assert.Equal(t, 1, r.Indexed)
	assert.Equal(t, 5, r.Total())
	assert.Equal(t, "2 processed, 1 skipped, 1 failed, 1 too large", r.String())
}
