package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/c1767673917/products-b-test-sub004/internal/images"
)

// ImageCache is the Postgres-backed token cache. Entries survive restarts
// so re-syncs skip downloads for every previously resolved token.
type ImageCache struct {
	pool *pgxpool.Pool
}

// NewImageCache creates the persistent image cache.
func NewImageCache(pool *pgxpool.Pool) *ImageCache {
	return &ImageCache{pool: pool}
}

func (c *ImageCache) Get(ctx context.Context, token string) (images.CachedImage, bool, error) {
	var entry images.CachedImage
	err := c.pool.QueryRow(ctx,
		`SELECT token, public_url, content_hash FROM image_cache WHERE token = $1`,
		token,
	).Scan(&entry.Token, &entry.PublicURL, &entry.ContentHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return images.CachedImage{}, false, nil
	}
	if err != nil {
		return images.CachedImage{}, false, fmt.Errorf("reading image cache: %w", err)
	}
	return entry, true, nil
}

func (c *ImageCache) Put(ctx context.Context, entry images.CachedImage) error {
	_, err := c.pool.Exec(ctx,
		`INSERT INTO image_cache (token, public_url, content_hash)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (token) DO UPDATE SET
		 	public_url = EXCLUDED.public_url,
		 	content_hash = EXCLUDED.content_hash`,
		entry.Token, entry.PublicURL, entry.ContentHash,
	)
	if err != nil {
		return fmt.Errorf("writing image cache: %w", err)
	}
	return nil
}
