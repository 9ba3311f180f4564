package images

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/c1767673917/products-b-test-sub004/internal/product"
)

// fakeSource counts downloads and can be told to fail specific tokens.
// A non-nil gate holds every download-URL call until the gate is closed.
type fakeSource struct {
	downloads  atomic.Int64
	failTokens map[string]error
	gate       chan struct{}
}

func (f *fakeSource) TemporaryDownloadURL(_ context.Context, token string) (string, error) {
	if f.gate != nil {
		<-f.gate
	}
	if err, ok := f.failTokens[token]; ok {
		return "", err
	}
	return "https://tmp.example.com/" + token, nil
}

func (f *fakeSource) FetchBytes(_ context.Context, url string) ([]byte, string, error) {
	f.downloads.Add(1)
	return []byte("bytes-of-" + url), "image/jpeg", nil
}

// fakeStore records uploads keyed by object key. Keys in preexisting
// report as stored without ever having been uploaded through Put.
type fakeStore struct {
	mu          sync.Mutex
	puts        map[string]int
	preexisting map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		puts:        make(map[string]int),
		preexisting: make(map[string]bool),
	}
}

func (f *fakeStore) Put(_ context.Context, key string, _ []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts[key]++
	return "https://cdn.example.com/" + key, nil
}

func (f *fakeStore) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts[key] > 0 || f.preexisting[key], nil
}

func (f *fakeStore) URL(key string) string {
	return "https://cdn.example.com/" + key
}

func ref(token string) product.ImageRef {
	return product.ImageRef{Token: token, Name: token + ".jpg"}
}

func TestResolve_SecondCallIsCacheHit(t *testing.T) {
	src := &fakeSource{}
	store := newFakeStore()
	r := NewResolver(NewMemoryCache(), src, store, 0)

	first := r.Resolve(context.Background(), "P001", product.SlotFront, ref("tok1"))
	if first.Failed() {
		t.Fatalf("first resolve failed: %s", first.FailReason)
	}
	if first.CacheHit {
		t.Error("first resolve must not be a cache hit")
	}
	if first.URL == "" {
		t.Fatal("first resolve returned no URL")
	}

	second := r.Resolve(context.Background(), "P001", product.SlotFront, ref("tok1"))
	if second.Failed() {
		t.Fatalf("second resolve failed: %s", second.FailReason)
	}
	if !second.CacheHit {
		t.Error("second resolve must be a cache hit")
	}
	if second.URL != first.URL {
		t.Errorf("URLs differ: %q vs %q", first.URL, second.URL)
	}

	if got := src.downloads.Load(); got != 1 {
		t.Errorf("downloads = %d, want 1 (idempotent resolve)", got)
	}
}

func TestResolve_ConcurrentSameTokenDownloadsOnce(t *testing.T) {
	src := &fakeSource{}
	store := newFakeStore()
	r := NewResolver(NewMemoryCache(), src, store, 0)

	const workers = 8
	var wg sync.WaitGroup
	results := make([]Resolution, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Resolve(context.Background(), "P001", product.SlotFront, ref("shared"))
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		if res.Failed() {
			t.Errorf("worker %d failed: %s", i, res.FailReason)
		}
	}
	if got := src.downloads.Load(); got != 1 {
		t.Errorf("downloads = %d, want 1 (single-flight collapse)", got)
	}

	hits := 0
	for _, res := range results {
		if res.CacheHit {
			hits++
		}
	}
	if hits != workers-1 {
		t.Errorf("cache hits = %d, want %d (the one download must be reported)", hits, workers-1)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	for key, n := range store.puts {
		if n != 1 {
			t.Errorf("key %s uploaded %d times", key, n)
		}
	}
}

func TestResolve_CollapsedFlightStillReportsTheDownload(t *testing.T) {
	// Hold the downloader inside the source call so a second resolver is
	// guaranteed to join its flight before it completes. The download must
	// be attributed to exactly one of the two results.
	src := &fakeSource{gate: make(chan struct{})}
	store := newFakeStore()
	r := NewResolver(NewMemoryCache(), src, store, 0)

	var wg sync.WaitGroup
	results := make([]Resolution, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Resolve(context.Background(), "P001", product.SlotFront, ref("held"))
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	if got := src.downloads.Load(); got != 1 {
		t.Fatalf("downloads = %d, want 1", got)
	}
	hits := 0
	for i, res := range results {
		if res.Failed() {
			t.Fatalf("resolver %d failed: %s", i, res.FailReason)
		}
		if res.CacheHit {
			hits++
		}
	}
	if hits != 1 {
		t.Errorf("cache hits = %d, want 1 of 2 (one caller did the download)", hits)
	}
}

func TestResolve_ExistingObjectSkipsReupload(t *testing.T) {
	// The object was uploaded by a prior run whose cache insert was lost.
	// The token still needs a download to rebuild the cache entry, but the
	// durable object must not be written again.
	src := &fakeSource{}
	store := newFakeStore()
	key := ObjectKey("P001", product.SlotFront, ref("orphan"))
	store.preexisting[key] = true

	r := NewResolver(NewMemoryCache(), src, store, 0)
	res := r.Resolve(context.Background(), "P001", product.SlotFront, ref("orphan"))
	if res.Failed() {
		t.Fatalf("resolve failed: %s", res.FailReason)
	}
	if res.CacheHit {
		t.Error("cache was empty, must not report a cache hit")
	}
	if want := store.URL(key); res.URL != want {
		t.Errorf("URL = %q, want %q", res.URL, want)
	}

	store.mu.Lock()
	uploads := store.puts[key]
	store.mu.Unlock()
	if uploads != 0 {
		t.Errorf("object uploaded %d times, want 0", uploads)
	}
}

func TestResolve_StaleTokenFails(t *testing.T) {
	src := &fakeSource{failTokens: map[string]error{
		"expired": errors.New("code=1061045 msg=file token expired"),
	}}
	r := NewResolver(NewMemoryCache(), src, newFakeStore(), 0)

	res := r.Resolve(context.Background(), "P001", product.SlotBack, ref("expired"))
	if !res.Failed() {
		t.Fatal("expected failure for expired token")
	}
	if res.URL != "" {
		t.Error("failed resolution must not carry a URL")
	}
	if !strings.Contains(res.FailReason, "download url") {
		t.Errorf("reason = %q", res.FailReason)
	}
}

func TestResolve_EmptyToken(t *testing.T) {
	r := NewResolver(NewMemoryCache(), &fakeSource{}, newFakeStore(), 0)
	res := r.Resolve(context.Background(), "P001", product.SlotFront, product.ImageRef{})
	if !res.Failed() {
		t.Fatal("expected failure for empty token")
	}
}

func TestResolve_FailureIsRetryable(t *testing.T) {
	src := &fakeSource{failTokens: map[string]error{
		"flaky": errors.New("temporarily denied"),
	}}
	r := NewResolver(NewMemoryCache(), src, newFakeStore(), 0)

	if res := r.Resolve(context.Background(), "P001", product.SlotFront, ref("flaky")); !res.Failed() {
		t.Fatal("expected first attempt to fail")
	}

	// Token becomes valid again; nothing about the failure may be cached.
	delete(src.failTokens, "flaky")
	res := r.Resolve(context.Background(), "P001", product.SlotFront, ref("flaky"))
	if res.Failed() {
		t.Fatalf("retry failed: %s", res.FailReason)
	}
	if res.CacheHit {
		t.Error("retry after failure must not report a cache hit")
	}
}

func TestObjectKey_DeterministicAndSafe(t *testing.T) {
	a := ObjectKey("P001", product.SlotFront, product.ImageRef{Token: "tok", Name: "照片.PNG"})
	b := ObjectKey("P001", product.SlotFront, product.ImageRef{Token: "tok", Name: "照片.PNG"})
	if a != b {
		t.Errorf("keys differ: %q vs %q", a, b)
	}
	if !strings.HasSuffix(a, ".png") {
		t.Errorf("extension not preserved lowercase: %q", a)
	}
	if !strings.HasPrefix(a, "products/P001/front-") {
		t.Errorf("unexpected key shape: %q", a)
	}

	// Slashes in the product id must not create nested prefixes.
	c := ObjectKey("6/22", product.SlotGift, product.ImageRef{Token: "tok"})
	if strings.Contains(strings.TrimPrefix(c, "products/"), "6/22") {
		t.Errorf("unsanitized id in key: %q", c)
	}
	if !strings.HasSuffix(c, ".jpg") {
		t.Errorf("missing default extension: %q", c)
	}

	// Different tokens give different keys even for the same slot.
	d := ObjectKey("P001", product.SlotFront, product.ImageRef{Token: "other", Name: "x.jpg"})
	if a == d {
		t.Error("different tokens must map to different keys")
	}
}
