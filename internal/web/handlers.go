package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/c1767673917/products-b-test-sub004/internal/store"
	"github.com/c1767673917/products-b-test-sub004/internal/syncer"
)

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// startSyncRequest is the optional JSON body for POST /api/sync.
type startSyncRequest struct {
	Mode string `json:"mode"`
}

// startSyncResponse acknowledges an accepted run.
type startSyncResponse struct {
	RunID string `json:"runId"`
	Mode  string `json:"mode"`
}

// handleStartSync begins an asynchronous run. The mode comes from the
// JSON body or the "mode" query parameter; both default to full.
func (s *Server) handleStartSync(w http.ResponseWriter, r *http.Request) {
	modeStr := r.URL.Query().Get("mode")
	if r.Body != nil && r.ContentLength != 0 {
		var req startSyncRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, r, fmt.Errorf("decoding request body: %w", err), http.StatusBadRequest)
			return
		}
		if req.Mode != "" {
			modeStr = req.Mode
		}
	}

	mode, err := syncer.ParseMode(modeStr)
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	runID, err := s.sync.StartSync(r.Context(), mode)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	writeJSON(w, http.StatusAccepted, startSyncResponse{RunID: runID, Mode: string(mode)})
}

// handleRunStatus returns the current report for a run.
func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	report, err := s.sync.GetRunStatus(runID)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleCancelRun requests cooperative cancellation of a run.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := s.sync.CancelRun(runID); err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"runId": runID, "status": "cancelling"})
}

// handleRunEvents streams report snapshots over SSE until the run ends.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	events, err := s.sync.SubscribeProgress(runID)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, fmt.Errorf("streaming not supported"), http.StatusInternalServerError)
		return
	}

	for {
		select {
		case report, ok := <-events:
			if !ok {
				fmt.Fprintf(w, "event: done\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			data, _ := json.Marshal(report)
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// handleRunHistory lists archived run reports, newest first.
func (s *Server) handleRunHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	reports, err := s.runs.RecentRuns(r.Context(), limit)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": reports})
}

// productListResponse pages the product listing.
type productListResponse struct {
	Products []store.StoredProduct `json:"products"`
	Total    int64                 `json:"total"`
	Limit    int                   `json:"limit"`
	Offset   int                   `json:"offset"`
}

// handleListProducts serves the filtered, paged product listing.
func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	opts := store.ListOptions{
		Category: q.Get("category"),
		Platform: q.Get("platform"),
		Search:   q.Get("search"),
		Limit:    limit,
		Offset:   offset,
	}

	products, total, err := s.products.List(r.Context(), opts)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, productListResponse{
		Products: products,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

// handleGetProduct serves one product by canonical id.
func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.products.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, p)
}
