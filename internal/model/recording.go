package model

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Source is the origin of content to ingest
type Source string

const (
	SourceDaily   Source = "daily"
	SourceUploads Source = "uploads"
)

// ParseSource validates a wire value into a Source
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceDaily, SourceUploads:
		return Source(s), nil
	default:
		return "", fmt.Errorf("unrecognized source: %s. Source must be 'daily' or 'uploads'", s)
	}
}

// recordingKeyLayout is the timestamp format used in recording transcript keys
const recordingKeyLayout = "20060102T150405Z"

// Recording represents one finished cloud recording
type Recording struct {
	ID          string    `json:"id"`
	RoomName    string    `json:"room_name"`
	CompletedAt time.Time `json:"completed_at"`
}

// Key returns the deterministic transcript key: timestamp_roomname_id
func (r Recording) Key() string {
	return fmt.Sprintf("%s_%s_%s", r.CompletedAt.UTC().Format(recordingKeyLayout), r.RoomName, r.ID)
}

// Upload represents a locally uploaded video whose write has completed
type Upload struct {
	Path string `json:"path"`
}

// Key returns the file stem of the upload
func (u Upload) Key() string {
	base := filepath.Base(u.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
