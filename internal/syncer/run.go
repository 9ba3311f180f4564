package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/c1767673917/products-b-test-sub004/internal/identity"
	"github.com/c1767673917/products-b-test-sub004/internal/product"
	"github.com/c1767673917/products-b-test-sub004/internal/source"
)

// execute drives one run through its phases. Per-record and per-image
// failures are recorded and the run continues; only fetch-level failures
// or a store outage terminate it early.
func (s *Service) execute(ctx context.Context, run *activeRun) {
	// Fetch. A source failure here fails the whole run; there is nothing
	// to partially process.
	run.setPhase(PhaseFetching)
	records, err := s.src.ListAllRecords(ctx)
	if err != nil {
		s.finishWithError(ctx, run, err)
		return
	}
	run.update(func(rep *Report) { rep.TotalFetched = len(records) })
	slog.Info("records fetched", "run_id", run.id, "count", len(records))

	// Transform. Sequential; the work is pure CPU and cheap relative to
	// the network stages around it.
	run.setPhase(PhaseProcessing)
	products := s.transformAll(run, records)

	if ctx.Err() != nil {
		s.finishWithError(ctx, run, ctx.Err())
		return
	}

	// Resolve images. The only parallel stage: each unresolved token is a
	// worker-pool task bounded by the limiter.
	run.setPhase(PhaseImages)
	s.resolveImages(ctx, run, products)

	if ctx.Err() != nil {
		s.finishWithError(ctx, run, ctx.Err())
		return
	}

	// Reconcile duplicate ids, then persist.
	run.setPhase(PhaseValidating)
	renames := identity.Reconcile(products)
	run.update(func(rep *Report) { rep.IdentityRenames = len(renames) })

	if !s.persist(ctx, run, products) {
		return
	}

	run.finish(PhaseCompleted, "")
	final := run.snapshot()
	slog.Info("sync run completed",
		"run_id", run.id,
		"fetched", final.TotalFetched,
		"created", final.Created,
		"updated", final.Updated,
		"skipped", final.Skipped,
		"errors", len(final.Errors),
		"images_downloaded", final.ImagesDownloaded,
		"images_cache_hit", final.ImagesCacheHit,
		"images_failed", final.ImagesFailed,
		"duration", time.Since(final.StartedAt).String())
}

// transformAll converts every record, tallying per-record failures into
// the report and returning only the products that survived.
func (s *Service) transformAll(run *activeRun, records []source.Record) []*product.Product {
	products := make([]*product.Product, 0, len(records))
	for _, rec := range records {
		res := s.transformer.Transform(rec)
		if res.Failed() {
			run.update(func(rep *Report) {
				rep.Skipped++
				for _, issue := range res.Errors {
					rep.Errors = append(rep.Errors, RecordError{
						RecordID: rec.RecordID,
						Field:    issue.Field,
						Message:  issue.Message,
					})
				}
			})
			continue
		}
		for _, issue := range res.Warnings {
			slog.Warn("record field warning",
				"run_id", run.id, "record_id", rec.RecordID,
				"field", issue.Field, "message", issue.Message)
		}
		products = append(products, res.Product)
	}
	return products
}

// resolveImages fans unresolved tokens out to the bounded worker pool and
// waits for all in-flight work to drain, including on cancellation. A
// failed resolution leaves the slot unresolved for a later run to repair.
func (s *Service) resolveImages(ctx context.Context, run *activeRun, products []*product.Product) {
	var wg sync.WaitGroup
	var imagesMu sync.Mutex

	for _, p := range products {
		for _, slot := range p.UnresolvedTokens() {
			if ctx.Err() != nil {
				break
			}
			if err := s.workers.Acquire(ctx); err != nil {
				break
			}

			wg.Add(1)
			go func(p *product.Product, slot product.ImageSlot) {
				defer wg.Done()
				defer s.workers.Release()

				imagesMu.Lock()
				ref := p.Images[slot]
				imagesMu.Unlock()

				res := s.resolver.Resolve(ctx, p.ID, slot, ref)
				if res.Failed() {
					run.update(func(rep *Report) {
						rep.ImagesFailed++
						rep.Errors = append(rep.Errors, RecordError{
							RecordID: p.RecordID,
							Field:    "images." + string(slot),
							Message:  res.FailReason,
						})
					})
					return
				}

				imagesMu.Lock()
				ref.URL = res.URL
				p.Images[slot] = ref
				imagesMu.Unlock()

				run.update(func(rep *Report) {
					if res.CacheHit {
						rep.ImagesCacheHit++
					} else {
						rep.ImagesDownloaded++
					}
				})
			}(p, slot)
		}
		if ctx.Err() != nil {
			break
		}
	}

	wg.Wait()
}

// persist upserts the surviving products one at a time. A store error
// marks the record failed and the loop continues, unless the context is
// gone, in which case the run terminates.
func (s *Service) persist(ctx context.Context, run *activeRun, products []*product.Product) bool {
	for _, p := range products {
		if ctx.Err() != nil {
			s.finishWithError(ctx, run, ctx.Err())
			return false
		}
		created, err := s.store.UpsertByID(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				s.finishWithError(ctx, run, ctx.Err())
				return false
			}
			run.update(func(rep *Report) {
				rep.Skipped++
				rep.Errors = append(rep.Errors, RecordError{
					RecordID: p.RecordID,
					Message:  "persist: " + err.Error(),
				})
			})
			continue
		}
		run.update(func(rep *Report) {
			if created {
				rep.Created++
			} else {
				rep.Updated++
			}
		})
	}
	return true
}

// finishWithError closes the run as cancelled or failed depending on why
// the context ended.
func (s *Service) finishWithError(ctx context.Context, run *activeRun, err error) {
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
		run.finish(PhaseCancelled, "")
		slog.Info("sync run cancelled", "run_id", run.id)
		return
	}
	run.finish(PhaseFailed, err.Error())
	slog.Error("sync run failed", "run_id", run.id, "error", err)
}
