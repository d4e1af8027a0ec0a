package transcript

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/Taichi-iskw/transcript-index/internal/errors"
	"github.com/Taichi-iskw/transcript-index/internal/model"
)

const ext = ".txt"

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Store persists one transcript file per item key.
// A transcript's existence is what marks an item as processed; it is never rewritten.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the transcripts directory
func (s *Store) Dir() string { return s.dir }

// SanitizeKey maps a key onto a safe file stem
func SanitizeKey(key string) string {
	safe := unsafeChars.ReplaceAllString(key, "-")
	safe = strings.TrimLeft(safe, ".")
	if safe == "" {
		return "-"
	}
	return safe
}

// Path returns the transcript path for key
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, SanitizeKey(key)+ext)
}

// Exists reports whether a transcript for key has been saved
func (s *Store) Exists(key string) (bool, error) {
	_, err := os.Stat(s.Path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrap(err, errors.CodeInternal, "failed to check transcript")
}

// Save writes the transcript atomically. An existing transcript is a CONFLICT.
func (s *Store) Save(key, text string) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to create transcripts directory")
	}
	dest := s.Path(key)

	tmp, err := os.CreateTemp(s.dir, ".transcript-*.tmp")
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to save transcript")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return errors.Wrap(err, errors.CodeInternal, "failed to save transcript")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to save transcript")
	}

	// Link fails if dest exists, so a concurrent writer cannot be overwritten
	if err := os.Link(tmpPath, dest); err != nil {
		if os.IsExist(err) {
			return errors.New(errors.CodeConflict, "transcript already exists: "+filepath.Base(dest))
		}
		return errors.Wrap(err, errors.CodeInternal, "failed to save transcript")
	}
	return nil
}

// Load reads the transcript for key
func (s *Store) Load(key string) (string, error) {
	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.New(errors.CodeNotFound, "transcript not found: "+key)
		}
		return "", errors.Wrap(err, errors.CodeInternal, "failed to read transcript")
	}
	return string(data), nil
}

// List returns the stored keys in lexical order
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to read transcripts directory")
	}
	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || filepath.Ext(name) != ext || strings.HasPrefix(name, ".") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ext))
	}
	sort.Strings(keys)
	return keys, nil
}

// Documents loads every transcript as an index document
func (s *Store) Documents() ([]model.Document, error) {
	keys, err := s.List()
	if err != nil {
		return nil, err
	}
	docs := make([]model.Document, 0, len(keys))
	for _, key := range keys {
		text, err := s.Load(key)
		if err != nil {
			return nil, err
		}
		docs = append(docs, model.Document{
			ID:       key,
			Text:     text,
			Metadata: map[string]string{"file_name": key + ext},
		})
	}
	return docs, nil
}
