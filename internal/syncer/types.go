// Package syncer orchestrates a full synchronization run: fetch raw
// records, transform to canonical products, resolve image tokens, reconcile
// duplicate identifiers and upsert into the product store, accumulating a
// per-run report. Per-record and per-image failures are tallied and the run
// keeps going; only whole-source failures terminate it.
package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/c1767673917/products-b-test-sub004/internal/images"
	"github.com/c1767673917/products-b-test-sub004/internal/product"
	"github.com/c1767673917/products-b-test-sub004/internal/source"
)

// ErrRunBusy is returned when a run is requested while another is active.
// Runs are strictly one-at-a-time against the shared store.
var ErrRunBusy = errors.New("a sync run is already in progress")

// ErrRunNotFound is returned for unknown or expired run ids.
var ErrRunNotFound = errors.New("sync run not found")

// Mode selects the intent of a run. Both modes execute the same pipeline;
// incremental relies on the image cache to make re-syncs cheap and exists
// so callers and reports distinguish scheduled refreshes from full loads.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// ParseMode validates a caller-supplied mode string, defaulting to full.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFull, "":
		return ModeFull, nil
	case ModeIncremental:
		return ModeIncremental, nil
	}
	return "", errors.New("invalid sync mode: " + s)
}

// Phase is the lifecycle state of a run.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhasePreparing  Phase = "preparing"
	PhaseFetching   Phase = "fetching"
	PhaseProcessing Phase = "processing"
	PhaseImages     Phase = "images"
	PhaseValidating Phase = "validating"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
	PhaseCancelled  Phase = "cancelled"
)

// Terminal reports whether a phase is an end state.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}

// RecordError is one per-record or per-image failure captured in a report.
type RecordError struct {
	RecordID string `json:"recordId"`
	Field    string `json:"field,omitempty"`
	Message  string `json:"message"`
}

// Report is the accumulated outcome of one run. It mutates while the run
// progresses and is immutable once Phase is terminal.
type Report struct {
	RunID      string     `json:"runId"`
	Mode       Mode       `json:"mode"`
	Phase      Phase      `json:"phase"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	TotalFetched int           `json:"totalFetched"`
	Created      int           `json:"created"`
	Updated      int           `json:"updated"`
	Skipped      int           `json:"skipped"`
	Errors       []RecordError `json:"errors"`

	ImagesDownloaded int `json:"imagesDownloaded"`
	ImagesCacheHit   int `json:"imagesCacheHit"`
	ImagesFailed     int `json:"imagesFailed"`

	// IdentityRenames counts duplicate ids reconciled; informational.
	IdentityRenames int `json:"identityRenames"`

	// Error is set when Phase is failed.
	Error string `json:"error,omitempty"`
}

// SourceClient fetches the complete raw record set, paginated internally.
type SourceClient interface {
	ListAllRecords(ctx context.Context) ([]source.Record, error)
}

// ImageResolver turns one unresolved slot reference into a durable URL.
type ImageResolver interface {
	Resolve(ctx context.Context, productID string, slot product.ImageSlot, ref product.ImageRef) images.Resolution
}

// ProductStore persists canonical products with findOrCreate-by-id
// semantics: update when the id exists, insert otherwise.
type ProductStore interface {
	UpsertByID(ctx context.Context, p *product.Product) (created bool, err error)
}

// RunArchiver optionally persists finished run reports for history.
type RunArchiver interface {
	ArchiveRun(ctx context.Context, report Report) error
}
