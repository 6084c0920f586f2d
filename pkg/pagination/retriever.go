package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/bagelstudio/bageldb-go/pkg/query"
)

// Prometheus metrics for bulk retrieval.
var (
	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bageldb_pages_fetched_total",
		Help: "Total pages fetched by retrieval strategy",
	}, []string{"strategy"})

	bulkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bageldb_bulk_retrieval_duration_seconds",
		Help:    "Bulk retrieval duration in seconds by strategy",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"strategy"})
)

// ErrMissingItemCount is returned when the backend omits the item-count
// header on the first page of a paginated read. The pagination contract
// requires it; nothing is fanned out in that case.
var ErrMissingItemCount = errors.New("missing or non-numeric item-count header")

// PageFetcher is the interface the BagelDB client implements for
// single-page fetching.
type PageFetcher interface {
	// FetchPage fetches one page and returns its items plus the total
	// matching item count from the item-count header (-1 when absent).
	FetchPage(ctx context.Context, q query.CollectionQuery, mode query.EncodeMode, page int) (items []json.RawMessage, itemCount int, err error)

	// FetchUnpaged performs a single read without pagination parameters.
	FetchUnpaged(ctx context.Context, q query.CollectionQuery) ([]json.RawMessage, error)
}

// ProgressFunc is invoked once per settled page with the number of pages
// fetched so far and the total page count. It may be called from multiple
// goroutines during concurrent retrieval, but never concurrently with
// itself.
type ProgressFunc func(fetched, total int)

// Config holds retriever configuration.
type Config struct {
	// MaxConcurrency is the maximum number of in-flight page fetches
	// used by FetchAll.
	MaxConcurrency int

	// Progress, when set, is notified once per settled page.
	Progress ProgressFunc
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 10,
	}
}

// Retriever merges all pages of a collection query into one ordered
// result set.
type Retriever struct {
	fetcher PageFetcher
	config  Config
	logger  zerolog.Logger
}

// NewRetriever creates a new retriever on top of fetcher.
func NewRetriever(fetcher PageFetcher, config Config) *Retriever {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 10
	}

	return &Retriever{
		fetcher: fetcher,
		config:  config,
		logger:  log.With().Str("component", "bageldb-pagination").Logger(),
	}
}

// probe fetches page 1 and derives the total page count from the
// item-count header. The page-1 items are returned so they are never
// fetched twice.
func (r *Retriever) probe(ctx context.Context, q query.CollectionQuery, mode query.EncodeMode) ([]json.RawMessage, int, error) {
	items, itemCount, err := r.fetcher.FetchPage(ctx, q, mode, 1)
	if err != nil {
		return nil, 0, fmt.Errorf("probe page 1: %w", err)
	}
	if itemCount < 0 {
		return nil, 0, fmt.Errorf("probe page 1 of %s: %w", q.Collection, ErrMissingItemCount)
	}

	perPage := q.PerPageOrDefault()
	totalPages := (itemCount + perPage - 1) / perPage
	return items, totalPages, nil
}

// FetchAll retrieves every page of q concurrently under the configured
// in-flight limit and returns the merged items in page order.
//
// Failure policy: a page that fails (after the client's transport retry
// budget) fails the whole call and cancels in-flight fetches. An ordered
// result cannot represent a missing page; callers wanting partial results
// on failure should use FetchSequential.
func (r *Retriever) FetchAll(ctx context.Context, q query.CollectionQuery) ([]json.RawMessage, error) {
	if !q.Paginate {
		return r.fetcher.FetchUnpaged(ctx, q)
	}

	start := time.Now()
	defer func() {
		bulkDuration.WithLabelValues("concurrent").Observe(time.Since(start).Seconds())
	}()

	firstPage, totalPages, err := r.probe(ctx, q, query.ModeBatched)
	if err != nil {
		return nil, err
	}
	pagesFetchedTotal.WithLabelValues("concurrent").Inc()

	r.logger.Info().
		Str("collection", q.Collection).
		Int("total_pages", totalPages).
		Int("max_concurrency", r.config.MaxConcurrency).
		Msg("Starting parallel page fetch")

	progress := newProgressTracker(r.config.Progress, totalPages, r.logger)
	progress.settle()

	if totalPages <= 1 {
		r.logger.Info().
			Str("collection", q.Collection).
			Int("pages", totalPages).
			Dur("duration", time.Since(start)).
			Msg("Fetch complete (single page)")
		return firstPage, nil
	}

	// Per-page slot arena: each worker writes exactly one disjoint slot,
	// so the merge needs no locking and is always in page order.
	slots := make([][]json.RawMessage, totalPages)
	slots[0] = firstPage

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.MaxConcurrency)

	for page := 2; page <= totalPages; page++ {
		page := page // per-iteration copy; go directive is below 1.22
		g.Go(func() error {
			items, _, err := r.fetcher.FetchPage(gctx, q, query.ModeBatched, page)
			if err != nil {
				r.logger.Warn().
					Err(err).
					Str("collection", q.Collection).
					Int("page", page).
					Msg("Page fetch failed")
				return fmt.Errorf("page %d: %w", page, err)
			}

			slots[page-1] = items
			pagesFetchedTotal.WithLabelValues("concurrent").Inc()
			progress.settle()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := flatten(slots)

	r.logger.Info().
		Str("collection", q.Collection).
		Int("pages", totalPages).
		Int("items", len(merged)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return merged, nil
}

// FetchSequential retrieves pages strictly in increasing order. On a page
// failure it stops and returns the items accumulated so far together with
// the page error, so callers can distinguish complete success (nil error),
// partial success (items plus error), and total failure (no items).
func (r *Retriever) FetchSequential(ctx context.Context, q query.CollectionQuery) ([]json.RawMessage, error) {
	if !q.Paginate {
		return r.fetcher.FetchUnpaged(ctx, q)
	}

	start := time.Now()
	defer func() {
		bulkDuration.WithLabelValues("sequential").Observe(time.Since(start).Seconds())
	}()

	items, totalPages, err := r.probe(ctx, q, query.ModePerTerm)
	if err != nil {
		return nil, err
	}
	pagesFetchedTotal.WithLabelValues("sequential").Inc()

	progress := newProgressTracker(r.config.Progress, totalPages, r.logger)
	progress.settle()

	for page := 2; page <= totalPages; page++ {
		pageItems, _, err := r.fetcher.FetchPage(ctx, q, query.ModePerTerm, page)
		if err != nil {
			r.logger.Warn().
				Err(err).
				Str("collection", q.Collection).
				Int("page", page).
				Int("fetched_pages", page-1).
				Msg("Page fetch failed - returning partial results")
			return items, fmt.Errorf("page %d of %s (partial: %d/%d pages): %w",
				page, q.Collection, page-1, totalPages, err)
		}

		items = append(items, pageItems...)
		pagesFetchedTotal.WithLabelValues("sequential").Inc()
		progress.settle()
	}

	r.logger.Info().
		Str("collection", q.Collection).
		Int("pages", totalPages).
		Int("items", len(items)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return items, nil
}

// flatten concatenates the per-page slots in index order.
func flatten(slots [][]json.RawMessage) []json.RawMessage {
	total := 0
	for _, slot := range slots {
		total += len(slot)
	}

	merged := make([]json.RawMessage, 0, total)
	for _, slot := range slots {
		merged = append(merged, slot...)
	}
	return merged
}

// progressTracker serializes progress callbacks and emits periodic
// progress logs during long retrievals.
type progressTracker struct {
	mu      sync.Mutex
	fn      ProgressFunc
	fetched int
	total   int
	logger  zerolog.Logger
}

func newProgressTracker(fn ProgressFunc, total int, logger zerolog.Logger) *progressTracker {
	return &progressTracker{
		fn:     fn,
		total:  total,
		logger: logger,
	}
}

// settle records one completed page fetch.
func (p *progressTracker) settle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.fetched++

	if p.fetched%50 == 0 {
		p.logger.Info().
			Int("fetched", p.fetched).
			Int("total", p.total).
			Float64("progress_pct", float64(p.fetched)/float64(p.total)*100).
			Msg("Fetch progress")
	}

	if p.fn != nil {
		p.fn(p.fetched, p.total)
	}
}
