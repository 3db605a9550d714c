// Package store provides the SQLite-backed local document store and the
// persistence behind the recent-entities cache.
package store

import (
	"context"

	"github.com/ashureev/chatdesk/internal/docstore"
	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/recent"
)

// Repository is everything the local backend offers: the document-store
// contract, recent-entities persistence and seeding for tools and tests.
type Repository interface {
	docstore.Client
	recent.Persister

	// SeedEntity creates an entity with optional aliases.
	SeedEntity(ctx context.Context, title string, aliases ...string) (domain.Entity, error)
}

var _ Repository = (*SQLiteStore)(nil)
