// Package cache is a read-through projection of cart and wishlist
// documents. Entries carry the document version and an older version
// never replaces a newer one, so the store always wins.
package cache

import (
	"context"
	"errors"
)

var ErrCacheMiss = errors.New("cache miss")

// Versioned is implemented by documents that bump a version on every write.
type Versioned interface {
	GetVersion() int64
}

type Cache[T Versioned] interface {
	Get(ctx context.Context, id string) (T, error)
	// Put stores value unless the cached entry is already at the same or a
	// newer version. It reports whether the entry was written.
	Put(ctx context.Context, id string, value T) (bool, error)
	Delete(ctx context.Context, id string) error
}

// Nop never hits. It is used when no redis address is configured.
type Nop[T Versioned] struct{}

func (Nop[T]) Get(context.Context, string) (T, error) {
	var zero T
	return zero, ErrCacheMiss
}

func (Nop[T]) Put(context.Context, string, T) (bool, error) { return false, nil }

func (Nop[T]) Delete(context.Context, string) error { return nil }
