package images

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/c1767673917/products-b-test-sub004/internal/product"
)

// MediaSource issues short-lived download URLs for attachment tokens and
// fetches their bytes. Implemented by the bitable client.
type MediaSource interface {
	TemporaryDownloadURL(ctx context.Context, token string) (string, error)
	FetchBytes(ctx context.Context, url string) (data []byte, contentType string, err error)
}

// ObjectStore is the durable storage resolved images are uploaded to.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (publicURL string, err error)
	Exists(ctx context.Context, key string) (bool, error)
	URL(key string) string
}

// Resolution is the outcome for one (product, slot) image reference.
// Either URL is set, or FailReason explains why the slot keeps its raw
// token for a later repair pass.
type Resolution struct {
	URL        string
	CacheHit   bool
	FailReason string
}

// Failed reports whether the token could not be resolved.
func (r Resolution) Failed() bool { return r.FailReason != "" }

// DefaultCallTimeout bounds each individual external call (download URL
// issue, byte fetch, upload). A timeout fails the item, not the run.
const DefaultCallTimeout = 30 * time.Second

// Resolver converts tokens to durable URLs: cache first, then download and
// upload. Concurrent resolutions of the same token collapse into a single
// download+upload via singleflight, so the deterministic storage key is
// never written by two goroutines at once.
type Resolver struct {
	cache       Cache
	source      MediaSource
	store       ObjectStore
	callTimeout time.Duration
	group       singleflight.Group
}

// NewResolver wires a resolver. callTimeout <= 0 uses DefaultCallTimeout.
func NewResolver(cache Cache, source MediaSource, store ObjectStore, callTimeout time.Duration) *Resolver {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Resolver{
		cache:       cache,
		source:      source,
		store:       store,
		callTimeout: callTimeout,
	}
}

// Resolve turns one image reference into a durable URL.
//
// Order, first success wins:
//  1. cache lookup by token — the dominant path on re-sync
//  2. download via a temporary URL, hash, upload under a deterministic
//     key, insert a cache entry
//
// Failures (stale token, denied download, upload error, timeout) produce a
// failed Resolution; the caller keeps the raw token on the slot.
func (r *Resolver) Resolve(ctx context.Context, productID string, slot product.ImageSlot, ref product.ImageRef) Resolution {
	if ref.Token == "" {
		return Resolution{FailReason: "empty token"}
	}

	if entry, ok, err := r.cache.Get(ctx, ref.Token); err != nil {
		slog.Warn("image cache lookup failed, treating as miss",
			"token", ref.Token, "error", err)
	} else if ok {
		return Resolution{URL: entry.PublicURL, CacheHit: true}
	}

	// The singleflight shared flag is true for every caller of a collapsed
	// flight, including the one whose closure actually ran, so it cannot
	// distinguish the downloader from the joiners. The closure only executes
	// in the first caller's goroutine; a local flag set inside it marks that
	// caller, and only that caller, as having done the network work.
	downloaded := false
	v, err, _ := r.group.Do(ref.Token, func() (any, error) {
		// Re-check under the flight: another goroutine may have resolved
		// this token between our miss and acquiring the flight.
		if entry, ok, err := r.cache.Get(ctx, ref.Token); err == nil && ok {
			return entry, nil
		}
		downloaded = true
		return r.fetchAndStore(ctx, productID, slot, ref)
	})
	if err != nil {
		return Resolution{FailReason: err.Error()}
	}

	entry := v.(CachedImage)
	return Resolution{URL: entry.PublicURL, CacheHit: !downloaded}
}

// fetchAndStore performs the network path: temporary URL, bytes, upload,
// cache insert. Each external call gets its own timeout.
func (r *Resolver) fetchAndStore(ctx context.Context, productID string, slot product.ImageSlot, ref product.ImageRef) (CachedImage, error) {
	urlCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	downloadURL, err := r.source.TemporaryDownloadURL(urlCtx, ref.Token)
	cancel()
	if err != nil {
		return CachedImage{}, fmt.Errorf("issue download url: %w", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	data, contentType, err := r.source.FetchBytes(fetchCtx, downloadURL)
	cancel()
	if err != nil {
		return CachedImage{}, fmt.Errorf("fetch bytes: %w", err)
	}

	sum := sha256.Sum256(data)
	contentHash := hex.EncodeToString(sum[:])

	key := ObjectKey(productID, slot, ref)

	// A prior run may have uploaded this key and then lost the cache insert;
	// the object is already durable, so only the cache entry needs repair.
	headCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	exists, err := r.store.Exists(headCtx, key)
	cancel()
	if err != nil {
		slog.Warn("object existence check failed, uploading anyway",
			"key", key, "error", err)
		exists = false
	}

	var publicURL string
	if exists {
		publicURL = r.store.URL(key)
	} else {
		putCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		publicURL, err = r.store.Put(putCtx, key, data, contentType)
		cancel()
		if err != nil {
			return CachedImage{}, fmt.Errorf("upload %s: %w", key, err)
		}
	}

	entry := CachedImage{Token: ref.Token, PublicURL: publicURL, ContentHash: contentHash}
	if err := r.cache.Put(ctx, entry); err != nil {
		// The object is durable; a cache write failure only costs a
		// re-download on the next run.
		slog.Warn("image cache insert failed", "token", ref.Token, "error", err)
	}

	slog.Debug("image resolved",
		"product_id", productID,
		"slot", string(slot),
		"key", key,
		"bytes", len(data),
	)

	return entry, nil
}

// ObjectKey derives the deterministic storage key for a (product, slot,
// token) triple. The token is folded to a short hash so keys stay valid
// regardless of token alphabet; the original file extension is preserved.
func ObjectKey(productID string, slot product.ImageSlot, ref product.ImageRef) string {
	sum := sha256.Sum256([]byte(ref.Token))
	short := hex.EncodeToString(sum[:])[:12]

	ext := strings.ToLower(path.Ext(ref.Name))
	if ext == "" {
		ext = ".jpg"
	}

	safeID := strings.ReplaceAll(productID, "/", "_")
	return fmt.Sprintf("products/%s/%s-%s%s", safeID, slot, short, ext)
}
