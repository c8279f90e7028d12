package easm

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strconv"

	"github.com/easmkit/sdk/pkg/auth"
	"github.com/easmkit/sdk/pkg/checkpoint"
	sdkerrors "github.com/easmkit/sdk/pkg/errors"
	"github.com/easmkit/sdk/pkg/metrics"
)

// StartMark is the initial cursor for mark-mode pagination.
const StartMark = "*"

const (
	defaultPageSize = 25
	maxPageSize     = 100
)

// ProgressFunc receives a checkpoint after every completed page. It is
// the sole resume mechanism; a checkpoint.Store's Save method satisfies
// this type directly. A non-nil error aborts the run.
type ProgressFunc func(checkpoint.Checkpoint) error

// PageOptions controls a paged listing.
type PageOptions struct {
	// Filter is the server-side query filter.
	Filter string

	// OrderBy is the server-side sort expression.
	OrderBy string

	// PageSize is clamped to 1..100; zero means 25.
	PageSize int

	// Page is the starting page index (skip mode); the initial record
	// offset is Page * PageSize.
	Page int

	// Mark enables cursor pagination when non-empty; use StartMark to
	// begin a fresh mark-mode run. Mutually exclusive with Page.
	Mark string

	// MaxAssets caps total records emitted; the final page is trimmed.
	// Zero means unbounded.
	MaxAssets int

	// MaxPageCount caps pages fetched. Zero means unbounded.
	MaxPageCount int

	// GetAll fetches pages until exhausted; otherwise a single page.
	GetAll bool

	// Progress is invoked after every page.
	Progress ProgressFunc
}

// pageState tracks a pagination run.
type pageState struct {
	size     int
	page     int
	skip     int
	mark     string
	markMode bool

	pagesConsumed  int
	recordsEmitted int
	totalElements  *int
	isLast         bool
}

func newPageState(opts PageOptions) (*pageState, error) {
	size := opts.PageSize
	if size == 0 {
		size = defaultPageSize
	}
	if size < 1 || size > maxPageSize {
		return nil, sdkerrors.Validation("easm.pager",
			fmt.Sprintf("page size must be between 1 and %d, got %d", maxPageSize, size))
	}
	if opts.Mark != "" && opts.Page != 0 {
		return nil, sdkerrors.Validation("easm.pager",
			"skip and mark pagination are mutually exclusive")
	}
	page := opts.Page
	if page < 0 {
		page = 0
	}
	return &pageState{
		size:     size,
		page:     page,
		skip:     page * size,
		mark:     opts.Mark,
		markMode: opts.Mark != "",
	}, nil
}

func (st *pageState) params(opts PageOptions) url.Values {
	params := url.Values{}
	if opts.Filter != "" {
		params.Set("filter", opts.Filter)
	}
	if opts.OrderBy != "" {
		params.Set("orderby", opts.OrderBy)
	}
	params.Set("maxpagesize", strconv.Itoa(st.size))
	if st.markMode {
		params.Set("mark", st.mark)
	} else {
		params.Set("skip", strconv.Itoa(st.skip))
	}
	return params
}

// checkpoint builds the resumable snapshot of this run.
func (st *pageState) checkpoint() checkpoint.Checkpoint {
	cp := checkpoint.Checkpoint{
		PagesCompleted: st.pagesConsumed,
		AssetsEmitted:  st.recordsEmitted,
		TotalElements:  st.totalElements,
		Last:           st.isLast,
	}
	if st.markMode {
		cp.NextMark = st.mark
	} else {
		page := st.page
		cp.NextPage = &page
	}
	return cp
}

// page is one decoded page of results.
type page struct {
	rows     []map[string]any
	total    *int
	last     bool
	hasLast  bool
	nextMark string
}

// decodePage extracts rows (under value or content), totalElements,
// last, and the next mark cursor.
func decodePage(body map[string]any) page {
	var p page

	rawRows, ok := body["value"]
	if !ok {
		rawRows = body["content"]
	}
	if list, ok := rawRows.([]any); ok {
		p.rows = make([]map[string]any, 0, len(list))
		for _, item := range list {
			if row, ok := item.(map[string]any); ok {
				p.rows = append(p.rows, row)
			}
		}
	}

	if v, ok := body["totalElements"].(float64); ok {
		total := int(v)
		p.total = &total
	}
	if v, ok := body["last"].(bool); ok {
		p.last = v
		p.hasLast = true
	}
	if v, ok := body["nextMark"].(string); ok && v != "" {
		p.nextMark = v
	} else if v, ok := body["mark"].(string); ok && v != "" {
		p.nextMark = v
	}
	return p
}

// streamRows drives a paged listing lazily. Each advance may fetch a
// page; cancellation is checked between pages. Stop order per page:
// max-assets cap (final page trimmed), max page count, server
// last/total (or a missing next cursor in mark mode), short page.
func (s *Session) streamRows(ctx context.Context, baseURL, endpoint string, opts PageOptions) iter.Seq2[map[string]any, error] {
	return func(yield func(map[string]any, error) bool) {
		st, err := newPageState(opts)
		if err != nil {
			yield(nil, err)
			return
		}

		mode := "skip"
		if st.markMode {
			mode = "mark"
		}

		for {
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}

			resp, err := s.do(ctx, apiRequest{
				method:   "GET",
				baseURL:  baseURL,
				endpoint: endpoint,
				plane:    auth.PlaneData,
				params:   st.params(opts),
			})
			if err != nil {
				yield(nil, err)
				return
			}
			body, err := resp.Map()
			if err != nil {
				yield(nil, err)
				return
			}
			pg := decodePage(body)

			capped := false
			emit := pg.rows
			if opts.MaxAssets > 0 {
				remaining := opts.MaxAssets - st.recordsEmitted
				if len(emit) >= remaining {
					emit = emit[:remaining]
					capped = true
				}
			}

			for _, row := range emit {
				if !yield(row, nil) {
					return
				}
			}

			st.pagesConsumed++
			st.page++
			st.recordsEmitted += len(emit)
			// Offset advances by records actually returned, not page size.
			st.skip += len(pg.rows)
			if pg.nextMark != "" {
				st.mark = pg.nextMark
			}
			if pg.total != nil {
				st.totalElements = pg.total
			}
			// A mark-mode page without a next cursor is exhausted even
			// when full; reissuing the same mark would refetch it.
			serverDone := (pg.hasLast && pg.last) ||
				(pg.total != nil && st.recordsEmitted >= *pg.total) ||
				(st.markMode && pg.nextMark == "")
			st.isLast = serverDone || capped

			s.collector.CounterInc(metrics.PagesTotal.Name, "mode", mode)
			s.collector.CounterAdd(metrics.AssetsTotal.Name, float64(len(emit)))
			if st.totalElements != nil {
				s.logger.Info("%d assets identified by query, %d emitted after page %d",
					*st.totalElements, st.recordsEmitted, st.pagesConsumed)
			}

			if opts.Progress != nil {
				if err := opts.Progress(st.checkpoint()); err != nil {
					yield(nil, fmt.Errorf("progress callback: %w", err))
					return
				}
			}

			if capped {
				return
			}
			if opts.MaxPageCount > 0 && st.pagesConsumed >= opts.MaxPageCount {
				return
			}
			if serverDone {
				s.logger.Info("query complete: %d assets in %d pages",
					st.recordsEmitted, st.pagesConsumed)
				return
			}
			if len(pg.rows) < st.size {
				return
			}
			if !opts.GetAll {
				return
			}
		}
	}
}

// collectRows materializes a paged listing.
func (s *Session) collectRows(ctx context.Context, baseURL, endpoint string, opts PageOptions) ([]map[string]any, error) {
	var rows []map[string]any
	for row, err := range s.streamRows(ctx, baseURL, endpoint, opts) {
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}
