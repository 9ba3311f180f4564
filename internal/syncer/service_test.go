package syncer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/c1767673917/products-b-test-sub004/internal/fieldmap"
	"github.com/c1767673917/products-b-test-sub004/internal/images"
	"github.com/c1767673917/products-b-test-sub004/internal/product"
	"github.com/c1767673917/products-b-test-sub004/internal/source"
	"github.com/c1767673917/products-b-test-sub004/internal/transform"
)

type fakeSource struct {
	records []source.Record
	err     error
	delay   time.Duration
}

func (f *fakeSource) ListAllRecords(ctx context.Context) ([]source.Record, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

type fakeResolver struct {
	mu         sync.Mutex
	cached     map[string]string // token -> url served as cache hit
	failTokens map[string]string // token -> failure reason
	delay      time.Duration
	resolved   []string
}

func (f *fakeResolver) Resolve(ctx context.Context, productID string, slot product.ImageSlot, ref product.ImageRef) images.Resolution {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return images.Resolution{FailReason: ctx.Err().Error()}
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if reason, ok := f.failTokens[ref.Token]; ok {
		return images.Resolution{FailReason: reason}
	}
	if url, ok := f.cached[ref.Token]; ok {
		return images.Resolution{URL: url, CacheHit: true}
	}
	f.resolved = append(f.resolved, ref.Token)
	return images.Resolution{URL: "https://cdn.example.com/" + productID + "/" + string(slot)}
}

type fakeStore struct {
	mu      sync.Mutex
	byID    map[string]*product.Product
	order   []string
	failIDs map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{byID: make(map[string]*product.Product)}
}

func (f *fakeStore) UpsertByID(ctx context.Context, p *product.Product) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failIDs[p.ID]; ok {
		return false, err
	}
	_, exists := f.byID[p.ID]
	f.byID[p.ID] = p
	f.order = append(f.order, p.ID)
	return !exists, nil
}

type fakeArchiver struct {
	mu      sync.Mutex
	reports []Report
}

func (f *fakeArchiver) ArchiveRun(ctx context.Context, report Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, report)
	return nil
}

// record builds a raw record keyed by the table's primary header names.
func record(id string, fields map[string]any) source.Record {
	all := map[string]any{
		"序号":   "s-" + id,
		"品名":   "Product " + id,
		"品类一级": "零食",
		"正常售价": 100.0,
	}
	for k, v := range fields {
		all[k] = v
	}
	return source.Record{RecordID: "rec-" + id, Fields: all}
}

func attachment(token string) []any {
	return []any{map[string]any{"file_token": token, "name": token + ".jpg", "size": float64(2048)}}
}

func newTestService(t *testing.T, src SourceClient, resolver ImageResolver, store ProductStore, opts Options) *Service {
	t.Helper()
	table, err := fieldmap.LoadProductTable()
	if err != nil {
		t.Fatalf("loading mapping table: %v", err)
	}
	return NewService(src, transform.New(table), resolver, store, opts)
}

func waitTerminal(t *testing.T, s *Service, runID string) Report {
	t.Helper()
	rep, err := s.WaitForRun(runID)
	if err != nil {
		t.Fatalf("WaitForRun: %v", err)
	}
	if !rep.Phase.Terminal() {
		t.Fatalf("run finished in non-terminal phase %q", rep.Phase)
	}
	return rep
}

func TestService_FullRun(t *testing.T) {
	src := &fakeSource{records: []source.Record{
		// Valid, two image tokens, one already cached.
		record("1", map[string]any{
			"正面图片": attachment("tok-front"),
			"背面图片": attachment("tok-back"),
		}),
		// Missing price: record fails, run continues.
		{RecordID: "rec-2", Fields: map[string]any{
			"序号": "s-2", "品名": "Broken", "品类一级": "饮料",
		}},
		// Duplicate id with the first record: reconciled, not an error.
		record("3", map[string]any{"序号": "s-1"}),
	}}
	resolver := &fakeResolver{cached: map[string]string{
		"tok-back": "https://cdn.example.com/cached/back",
	}}
	store := newFakeStore()
	archiver := &fakeArchiver{}

	svc := newTestService(t, src, resolver, store, Options{Archiver: archiver})

	runID, err := svc.StartSync(context.Background(), ModeFull)
	if err != nil {
		t.Fatalf("StartSync: %v", err)
	}

	rep := waitTerminal(t, svc, runID)

	if rep.Phase != PhaseCompleted {
		t.Fatalf("phase = %q, want %q (error: %s)", rep.Phase, PhaseCompleted, rep.Error)
	}
	if rep.TotalFetched != 3 {
		t.Errorf("TotalFetched = %d, want 3", rep.TotalFetched)
	}
	if rep.Created != 2 {
		t.Errorf("Created = %d, want 2", rep.Created)
	}
	if rep.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", rep.Skipped)
	}
	if rep.IdentityRenames != 1 {
		t.Errorf("IdentityRenames = %d, want 1", rep.IdentityRenames)
	}
	if rep.ImagesDownloaded != 1 {
		t.Errorf("ImagesDownloaded = %d, want 1", rep.ImagesDownloaded)
	}
	if rep.ImagesCacheHit != 1 {
		t.Errorf("ImagesCacheHit = %d, want 1", rep.ImagesCacheHit)
	}
	if len(rep.Errors) == 0 {
		t.Fatal("expected the failed record to appear in Errors")
	}
	for _, re := range rep.Errors {
		if re.RecordID != "rec-2" {
			t.Errorf("unexpected error for record %q: %s", re.RecordID, re.Message)
		}
	}

	// Both surviving products persisted under distinct ids.
	if len(store.byID) != 2 {
		t.Fatalf("store holds %d products, want 2", len(store.byID))
	}
	first, ok := store.byID["s-1"]
	if !ok {
		t.Fatal("first occurrence should keep its original id")
	}
	if got := first.Images[product.SlotFront].URL; !strings.HasPrefix(got, "https://cdn.example.com/") {
		t.Errorf("front image not resolved: %q", got)
	}
	if got := first.Images[product.SlotBack].URL; got != "https://cdn.example.com/cached/back" {
		t.Errorf("back image should come from cache, got %q", got)
	}

	// Archiver received the final report.
	archiver.mu.Lock()
	defer archiver.mu.Unlock()
	if len(archiver.reports) != 1 {
		t.Fatalf("archiver received %d reports, want 1", len(archiver.reports))
	}
	if archiver.reports[0].RunID != runID {
		t.Errorf("archived run id = %q, want %q", archiver.reports[0].RunID, runID)
	}
}

func TestService_RejectsConcurrentRuns(t *testing.T) {
	src := &fakeSource{records: nil, delay: 200 * time.Millisecond}
	svc := newTestService(t, src, &fakeResolver{}, newFakeStore(), Options{})

	runID, err := svc.StartSync(context.Background(), ModeFull)
	if err != nil {
		t.Fatalf("first StartSync: %v", err)
	}

	if _, err := svc.StartSync(context.Background(), ModeFull); !errors.Is(err, ErrRunBusy) {
		t.Errorf("second StartSync error = %v, want ErrRunBusy", err)
	}

	waitTerminal(t, svc, runID)

	// Once the first run finishes a new one is accepted again.
	if _, err := svc.StartSync(context.Background(), ModeIncremental); err != nil {
		t.Errorf("StartSync after completion: %v", err)
	}
}

func TestService_SourceFailureFailsRun(t *testing.T) {
	src := &fakeSource{err: source.ErrUnavailable}
	store := newFakeStore()
	svc := newTestService(t, src, &fakeResolver{}, store, Options{})

	runID, err := svc.StartSync(context.Background(), ModeFull)
	if err != nil {
		t.Fatalf("StartSync: %v", err)
	}

	rep := waitTerminal(t, svc, runID)
	if rep.Phase != PhaseFailed {
		t.Fatalf("phase = %q, want %q", rep.Phase, PhaseFailed)
	}
	if rep.Error == "" {
		t.Error("failed run should carry an error message")
	}
	if rep.FinishedAt == nil {
		t.Error("terminal run should have FinishedAt set")
	}
	if len(store.byID) != 0 {
		t.Errorf("nothing should persist after a fetch failure, store holds %d", len(store.byID))
	}
}

func TestService_ImageFailureIsPerRecord(t *testing.T) {
	src := &fakeSource{records: []source.Record{
		record("1", map[string]any{"正面图片": attachment("tok-bad")}),
		record("2", map[string]any{"序号": "s-2", "正面图片": attachment("tok-good")}),
	}}
	resolver := &fakeResolver{failTokens: map[string]string{"tok-bad": "download: gone"}}
	store := newFakeStore()
	svc := newTestService(t, src, resolver, store, Options{})

	runID, err := svc.StartSync(context.Background(), ModeFull)
	if err != nil {
		t.Fatalf("StartSync: %v", err)
	}

	rep := waitTerminal(t, svc, runID)
	if rep.Phase != PhaseCompleted {
		t.Fatalf("phase = %q, want %q", rep.Phase, PhaseCompleted)
	}
	if rep.ImagesFailed != 1 {
		t.Errorf("ImagesFailed = %d, want 1", rep.ImagesFailed)
	}
	if rep.ImagesDownloaded != 1 {
		t.Errorf("ImagesDownloaded = %d, want 1", rep.ImagesDownloaded)
	}

	// Both products persist; the failed slot stays unresolved for a
	// later run to repair.
	if rep.Created != 2 {
		t.Fatalf("Created = %d, want 2", rep.Created)
	}
	p := store.byID["s-1"]
	if p == nil {
		t.Fatal("product s-1 missing from store")
	}
	ref := p.Images[product.SlotFront]
	if ref.Resolved() {
		t.Errorf("failed slot should remain unresolved, got URL %q", ref.URL)
	}
	if ref.Token != "tok-bad" {
		t.Errorf("failed slot should keep its token, got %q", ref.Token)
	}
}

func TestService_CancelDuringImages(t *testing.T) {
	records := make([]source.Record, 0, 8)
	for _, id := range []string{"1", "2", "3", "4", "5", "6", "7", "8"} {
		records = append(records, record(id, map[string]any{
			"序号":   "s-" + id,
			"正面图片": attachment("tok-" + id),
		}))
	}
	src := &fakeSource{records: records}
	resolver := &fakeResolver{delay: 50 * time.Millisecond}
	store := newFakeStore()
	svc := newTestService(t, src, resolver, store, Options{ImageWorkers: 2})

	runID, err := svc.StartSync(context.Background(), ModeFull)
	if err != nil {
		t.Fatalf("StartSync: %v", err)
	}

	// Wait until the images stage has started, then cancel.
	deadline := time.Now().Add(2 * time.Second)
	for {
		rep, err := svc.GetRunStatus(runID)
		if err != nil {
			t.Fatalf("GetRunStatus: %v", err)
		}
		if rep.Phase == PhaseImages {
			break
		}
		if rep.Phase.Terminal() || time.Now().After(deadline) {
			t.Fatalf("run never reached images phase, at %q", rep.Phase)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := svc.CancelRun(runID); err != nil {
		t.Fatalf("CancelRun: %v", err)
	}

	rep := waitTerminal(t, svc, runID)
	if rep.Phase != PhaseCancelled {
		t.Fatalf("phase = %q, want %q", rep.Phase, PhaseCancelled)
	}
	if len(store.byID) != 0 {
		t.Errorf("cancelled run must not persist, store holds %d", len(store.byID))
	}
}

func TestService_DrainWaitsForImageWorkers(t *testing.T) {
	records := []source.Record{
		record("1", map[string]any{"正面图片": attachment("tok-1")}),
		record("2", map[string]any{"正面图片": attachment("tok-2")}),
	}
	src := &fakeSource{records: records}
	resolver := &fakeResolver{delay: 80 * time.Millisecond}
	svc := newTestService(t, src, resolver, newFakeStore(), Options{ImageWorkers: 2})

	runID, err := svc.StartSync(context.Background(), ModeFull)
	if err != nil {
		t.Fatalf("StartSync: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		rep, err := svc.GetRunStatus(runID)
		if err != nil {
			t.Fatalf("GetRunStatus: %v", err)
		}
		if rep.Phase == PhaseImages {
			break
		}
		if rep.Phase.Terminal() || time.Now().After(deadline) {
			t.Fatalf("run never reached images phase, at %q", rep.Phase)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Give the workers a moment to take their slots.
	time.Sleep(20 * time.Millisecond)

	// Workers are busy: a short drain window must time out.
	shortCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	err = svc.Drain(shortCtx)
	cancel()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Drain with busy workers = %v, want deadline exceeded", err)
	}

	waitTerminal(t, svc, runID)

	drainCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.Drain(drainCtx); err != nil {
		t.Fatalf("Drain after run finished: %v", err)
	}
}

func TestService_SubscribeProgress(t *testing.T) {
	src := &fakeSource{records: []source.Record{record("1", nil)}}
	svc := newTestService(t, src, &fakeResolver{}, newFakeStore(), Options{})

	runID, err := svc.StartSync(context.Background(), ModeFull)
	if err != nil {
		t.Fatalf("StartSync: %v", err)
	}

	ch, err := svc.SubscribeProgress(runID)
	if err != nil {
		t.Fatalf("SubscribeProgress: %v", err)
	}

	var last Report
	for rep := range ch {
		last = rep
	}
	if !last.Phase.Terminal() {
		t.Errorf("final progress event phase = %q, want terminal", last.Phase)
	}
}

func TestService_UnknownRun(t *testing.T) {
	svc := newTestService(t, &fakeSource{}, &fakeResolver{}, newFakeStore(), Options{})

	if _, err := svc.GetRunStatus("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRunStatus error = %v, want ErrRunNotFound", err)
	}
	if err := svc.CancelRun("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("CancelRun error = %v, want ErrRunNotFound", err)
	}
	if _, err := svc.SubscribeProgress("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("SubscribeProgress error = %v, want ErrRunNotFound", err)
	}
}

func TestParseMode(t *testing.T) {
	cases := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeFull, false},
		{"full", ModeFull, false},
		{"incremental", ModeIncremental, false},
		{"partial", "", true},
	}
	for _, tc := range cases {
		got, err := ParseMode(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseMode(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMode(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
