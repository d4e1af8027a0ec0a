package media

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Taichi-iskw/transcript-index/internal/errors"
	"github.com/Taichi-iskw/transcript-index/internal/logger"
	"github.com/Taichi-iskw/transcript-index/internal/model"
)

// videoExtensions are the upload formats the pipeline accepts
var videoExtensions = map[string]bool{
	".mp4": true,
	".mov": true,
}

// IsVideo reports whether name has an accepted video extension
func IsVideo(name string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(name))]
}

// Scanner finds uploads whose write has completed
type Scanner struct {
	dir  string
	wait time.Duration
	log  *logger.Logger
}

// NewScanner creates a scanner over dir; wait separates the two size samples
func NewScanner(dir string, wait time.Duration, log *logger.Logger) *Scanner {
	if log == nil {
		log = logger.Discard()
	}
	return &Scanner{dir: dir, wait: wait, log: log.With("component", "uploads")}
}

// Dir returns the uploads directory
func (s *Scanner) Dir() string { return s.dir }

// Scan returns videos whose size did not change across the stability wait.
// Files that grew or vanished in between are left for the next run.
func (s *Scanner) Scan(ctx context.Context) ([]model.Upload, error) {
	first, err := s.sample()
	if err != nil {
		return nil, err
	}
	if len(first) == 0 {
		return nil, nil
	}

	timer := time.NewTimer(s.wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), errors.CodeCancelled, "upload scan cancelled")
	case <-timer.C:
	}

	second, err := s.sample()
	if err != nil {
		return nil, err
	}

	var uploads []model.Upload
	for path, size := range first {
		after, ok := second[path]
		if !ok || after != size {
			s.log.WithField("path", path).Debug("upload still being written; deferring")
			continue
		}
		uploads = append(uploads, model.Upload{Path: path})
	}
	sort.Slice(uploads, func(i, j int) bool { return uploads[i].Path < uploads[j].Path })
	return uploads, nil
}

// List returns the base names of all video files in the uploads directory
func (s *Scanner) List() ([]string, error) {
	entries, err := s.entries()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

func (s *Scanner) sample() (map[string]int64, error) {
	entries, err := s.entries()
	if err != nil {
		return nil, err
	}
	sizes := make(map[string]int64, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		sizes[filepath.Join(s.dir, entry.Name())] = info.Size()
	}
	return sizes, nil
}

func (s *Scanner) entries() ([]os.DirEntry, error) {
	all, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to read uploads directory")
	}
	var videos []os.DirEntry
	for _, entry := range all {
		if entry.Type().IsRegular() && IsVideo(entry.Name()) {
			videos = append(videos, entry)
		}
	}
	return videos, nil
}

// SaveUpload writes r to dir/<base(name)> through a temp file and rename.
// The temp name has no video extension, so a concurrent scan never picks it up.
func SaveUpload(dir, name string, r io.Reader) (string, error) {
	fileName := filepath.Base(filepath.Clean("/" + name))
	if fileName == "/" || fileName == "." || !IsVideo(fileName) {
		return "", errors.New(errors.CodeInvalidArg, "uploaded file must be an .mp4 or .mov video")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, errors.CodeInternal, "failed to create uploads directory")
	}

	tmp, err := os.CreateTemp(dir, ".upload-*.part")
	if err != nil {
		return "", errors.Wrap(err, errors.CodeInternal, "failed to save uploaded file")
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", errors.Wrap(err, errors.CodeInternal, "failed to save uploaded file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", errors.Wrap(err, errors.CodeInternal, "failed to save uploaded file")
	}

	dest := filepath.Join(dir, fileName)
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return "", errors.Wrap(err, errors.CodeInternal, "failed to save uploaded file")
	}
	return dest, nil
}
