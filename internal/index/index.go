// Package index defines the vector index contract the orchestrator drives
// and a local engine backed by an embedded sqlite document store.
package index

import (
	"context"

	"github.com/Taichi-iskw/transcript-index/internal/errors"
	"github.com/Taichi-iskw/transcript-index/internal/model"
)

// ErrNotFound is returned by Engine.Load when no persisted index exists
var ErrNotFound = errors.New(errors.CodeNotFound, "no persisted index found")

// IsNotFound reports whether err means there is no persisted index
func IsNotFound(err error) bool {
	return errors.Is(err, errors.CodeNotFound)
}

// Engine opens or builds indexes
type Engine interface {
	// Load opens the index persisted under dir, or returns ErrNotFound
	Load(ctx context.Context, dir string) (Index, error)

	// BuildFromDocuments creates a fresh index under dir containing docs
	BuildFromDocuments(ctx context.Context, docs []model.Document, dir string) (Index, error)
}

// Index is a loaded, queryable index
type Index interface {
	Insert(ctx context.Context, doc model.Document) error
	Persist(ctx context.Context, dir string) error
	Query(ctx context.Context, text string) (model.Answer, error)
	Close() error
}
