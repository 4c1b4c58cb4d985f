package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/romdo/go-debounce"

	"github.com/lastmilehq/deliverysync/internal/domain"
)

const (
	defaultPageSize       = 20
	defaultFreshness      = 30 * time.Second
	defaultSearchDebounce = 300 * time.Millisecond
	backgroundOpTimeout   = 10 * time.Second
)

// Options tunes a Controller. Zero values fall back to defaults.
type Options struct {
	// PageSize is the window size for remote fetches.
	PageSize int
	// Freshness is how long a page-one fetch satisfies later loads with the
	// same server-side slice without a network round-trip.
	Freshness time.Duration
	// SearchDebounce delays the remote search fetch after the last Search call.
	SearchDebounce time.Duration
	// MinSearchLength gates network searches; shorter non-empty terms are
	// applied locally only. The empty term always passes (it clears a search).
	MinSearchLength int
	// RefetchOnUpdate re-fetches the full record on UPDATE events instead of
	// trusting a possibly partial event payload.
	RefetchOnUpdate bool
}

// State is a point-in-time snapshot of what the UI layer reads.
type State struct {
	Visible     []domain.Service `json:"visible"`
	Total       int              `json:"total"`
	FullyLoaded bool             `json:"fully_loaded"`
	Loading     bool             `json:"loading"`
	LoadingMore bool             `json:"loading_more"`
	Err         error            `json:"-"`
}

// Controller orchestrates the remote data source, the change feed, the cache,
// and the filter engine behind a single derived visible list. One controller
// instance owns one cache; UI surfaces that need the same data share the
// instance rather than holding independent caches.
//
// All cache mutation and recomputation happens under a single mutex and runs
// to completion, so readers never observe a half-applied change.
type Controller struct {
	mu     sync.Mutex
	cache  *Cache
	remote domain.RemoteDataSource
	feed   domain.ChangeFeedSource
	store  domain.SnapshotStore
	log    *slog.Logger
	opts   Options

	criteria domain.FilterCriteria
	visible  []domain.Service

	token       string
	unsubscribe func()

	loading     bool
	loadingMore bool
	lastErr     error

	// Monotonic request tokens. A response whose sequence number no longer
	// matches activeSeq was superseded and is discarded on arrival, so a slow
	// early response can never overwrite a faster later one.
	seq           uint64
	activeSeq     uint64
	activeKey     string
	lastServerKey string

	debouncedFlush func()
	cancelFlush    func()

	now func() time.Time
}

// New creates a Controller. remote is required; feed, store, and log are
// optional (a nil feed disables live updates, a nil store disables snapshots).
func New(remote domain.RemoteDataSource, feed domain.ChangeFeedSource, store domain.SnapshotStore, log *slog.Logger, opts Options) *Controller {
	if log == nil {
		log = slog.Default()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.Freshness <= 0 {
		opts.Freshness = defaultFreshness
	}
	if opts.SearchDebounce <= 0 {
		opts.SearchDebounce = defaultSearchDebounce
	}

	c := &Controller{
		cache:    NewCache(),
		remote:   remote,
		feed:     feed,
		store:    store,
		log:      log,
		opts:     opts,
		criteria: domain.DefaultCriteria(),
		now:      time.Now,
	}
	// Single pending timer per controller: a Search inside the window
	// reschedules the same flush instead of queueing another.
	c.debouncedFlush, c.cancelFlush = debounce.New(opts.SearchDebounce, c.flushSearch)
	return c
}

// Start binds the controller to a session token, seeds the cache from the
// snapshot store when one is configured, and subscribes to the change feed.
// A failed subscription leaves the controller functional in poll-only mode.
func (c *Controller) Start(ctx context.Context, token string) {
	c.mu.Lock()
	c.token = token
	if c.store != nil && c.cache.Len() == 0 {
		items, err := c.store.Load(ctx)
		switch {
		case err != nil:
			c.log.Warn("snapshot load failed", slog.Any("error", err))
		case len(items) > 0:
			c.cache.Seed(items)
			c.recomputeLocked()
			c.log.Info("cache seeded from snapshot", slog.Int("records", len(items)))
		}
	}
	c.mu.Unlock()

	c.subscribe(token)
}

// SetToken re-keys the controller to a new session. The cache is invalidated
// entirely, any in-flight load is abandoned, and the feed subscription is
// re-established for the new token (or torn down when the token is empty).
func (c *Controller) SetToken(token string) {
	c.mu.Lock()
	if token == c.token {
		c.mu.Unlock()
		return
	}
	old := c.unsubscribe
	c.unsubscribe = nil
	c.token = token
	c.cache.Clear()
	c.visible = nil
	c.lastErr = nil
	c.lastServerKey = ""
	c.activeSeq = 0
	c.activeKey = ""
	c.loading = false
	c.loadingMore = false
	c.mu.Unlock()

	c.cancelFlush()
	if old != nil {
		old()
	}
	if token != "" {
		c.subscribe(token)
	}
}

// Close tears the controller down: the pending search timer is cancelled and
// the feed subscription is released unconditionally.
func (c *Controller) Close() {
	c.cancelFlush()
	c.mu.Lock()
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (c *Controller) subscribe(token string) {
	if c.feed == nil || token == "" {
		return
	}
	unsub, err := c.feed.Subscribe(token, c.handleEvent)
	if err != nil {
		c.log.Warn("change feed subscribe failed, staying in poll-only mode", slog.Any("error", err))
		return
	}

	c.mu.Lock()
	if c.token != token {
		// Token rotated while subscribing; this subscription is obsolete.
		c.mu.Unlock()
		unsub()
		return
	}
	c.unsubscribe = unsub
	c.mu.Unlock()
}

// Load applies criteria and brings the visible list up to date. With
// appendPage it always fetches the next remote window; otherwise it serves
// from the cache when the cache is non-empty, fresh, and holds the same
// server-side slice, and fetches page one when it does not. A non-blank
// search term always forces a round-trip: the local cache cannot answer an
// arbitrary search exhaustively.
func (c *Controller) Load(ctx context.Context, criteria domain.FilterCriteria, appendPage bool) error {
	return c.load(ctx, criteria, appendPage, false)
}

// LoadMore fetches the next page for the current criteria. It is a no-op when
// everything is already loaded or a load is in flight.
func (c *Controller) LoadMore(ctx context.Context) error {
	c.mu.Lock()
	if c.cache.FullyLoaded() || c.activeSeq != 0 {
		c.mu.Unlock()
		return nil
	}
	criteria := c.criteria
	c.mu.Unlock()
	return c.load(ctx, criteria, true, false)
}

// Refresh forces a page-one fetch regardless of cache freshness.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	criteria := c.criteria
	c.mu.Unlock()
	return c.load(ctx, criteria, false, true)
}

// Search updates the search term. The remote round-trip is debounced; calls
// within the window supersede the pending one, so rapid keystrokes coalesce
// into a single fetch with the final term. An empty term is loaded
// immediately (it clears the search); a non-empty term shorter than
// MinSearchLength is applied locally without a network call.
func (c *Controller) Search(term string) {
	c.mu.Lock()
	c.criteria.Search = term
	trimmed := strings.TrimSpace(term)
	if trimmed != "" && len([]rune(trimmed)) < c.opts.MinSearchLength {
		c.recomputeLocked()
		c.mu.Unlock()
		// A flush scheduled by an earlier, longer term must not fire now
		// that the term is below the gate.
		c.cancelFlush()
		return
	}
	c.mu.Unlock()

	if trimmed == "" {
		c.cancelFlush()
		go c.flushSearch()
		return
	}
	c.debouncedFlush()
}

// SetFilter merges a partial filter change into the current criteria and
// recomputes the visible list locally. No network call: filters other than
// search are answerable from the already-loaded window, trading exhaustive
// results for instant feedback.
func (c *Controller) SetFilter(patch domain.FilterPatch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.criteria = patch.Merge(c.criteria)
	c.recomputeLocked()
}

// ClearFilters resets the criteria to defaults and recomputes locally.
func (c *Controller) ClearFilters() {
	c.cancelFlush()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.criteria = domain.DefaultCriteria()
	c.recomputeLocked()
}

// GetDetail fetches one record's full detail. The list cache is not touched,
// and a successful detail fetch does not clear a surfaced list-load error;
// only list operations do that.
func (c *Controller) GetDetail(ctx context.Context, id string) (*domain.Service, error) {
	svc, err := c.remote.FetchOne(ctx, id)
	if err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		return nil, err
	}
	return svc, nil
}

// Criteria returns the currently applied filter criteria.
func (c *Controller) Criteria() domain.FilterCriteria {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.criteria
}

// State returns a snapshot of the derived visible list and load status.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	visible := make([]domain.Service, len(c.visible))
	copy(visible, c.visible)
	return State{
		Visible:     visible,
		Total:       c.cache.Total(),
		FullyLoaded: c.cache.FullyLoaded(),
		Loading:     c.loading,
		LoadingMore: c.loadingMore,
		Err:         c.lastErr,
	}
}

func (c *Controller) load(ctx context.Context, criteria domain.FilterCriteria, appendPage, force bool) error {
	c.mu.Lock()
	c.criteria = criteria

	offset := 0
	if appendPage {
		if c.cache.FullyLoaded() {
			c.mu.Unlock()
			return nil
		}
		offset = c.cache.Len()
	}
	q := criteria.Remote(c.opts.PageSize, offset)
	key := fmt.Sprintf("%s|off=%d|append=%t", q.Key(), q.Offset, appendPage)

	if c.activeSeq != 0 && key == c.activeKey && !force {
		// Exact duplicate of the in-flight request; drop it. Anything else
		// supersedes: the new sequence number below invalidates the old
		// response on arrival.
		c.mu.Unlock()
		return nil
	}

	if !appendPage && !force && !criteria.HasSearch() &&
		c.cache.Len() > 0 &&
		q.Key() == c.lastServerKey &&
		c.now().Sub(c.cache.LastFetch()) < c.opts.Freshness {
		c.recomputeLocked()
		c.mu.Unlock()
		return nil
	}

	c.seq++
	mySeq := c.seq
	c.activeSeq = mySeq
	c.activeKey = key
	if appendPage {
		c.loadingMore = true
	} else {
		c.loading = true
	}
	c.mu.Unlock()

	page, err := c.remote.FetchPage(ctx, q)

	c.mu.Lock()
	defer c.mu.Unlock()
	if mySeq != c.activeSeq {
		// Superseded while in flight; discard whatever came back.
		return nil
	}
	c.activeSeq = 0
	c.activeKey = ""
	c.loading = false
	c.loadingMore = false

	if err != nil {
		// Keep the previous cache and visible list: stale data beats a blank
		// screen. The error is surfaced until the next successful operation.
		c.lastErr = err
		return err
	}

	now := c.now()
	if appendPage {
		c.cache.AppendPage(page.Items, page.Total, now)
	} else {
		c.cache.ReplaceAll(page.Items, page.Total, now)
	}
	c.lastServerKey = q.Key()
	c.lastErr = nil
	c.recomputeLocked()

	if c.store != nil && !appendPage {
		go c.persistSnapshot(c.cache.All())
	}
	return nil
}

// flushSearch performs the debounced remote search with the current criteria.
func (c *Controller) flushSearch() {
	c.mu.Lock()
	criteria := c.criteria
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), backgroundOpTimeout)
	defer cancel()
	if err := c.load(ctx, criteria, false, false); err != nil {
		c.log.Warn("search fetch failed", slog.String("term", criteria.Search), slog.Any("error", err))
	}
}

// handleEvent applies one change-feed notification. Events are applied in
// delivery order; upsert and remove are idempotent, so redelivery after a
// feed reconnect is harmless.
func (c *Controller) handleEvent(ev domain.ChangeEvent) {
	switch ev.Kind {
	case domain.EventInsert:
		c.mu.Lock()
		c.cache.Upsert(ev.ID, ev.Patch)
		c.recomputeLocked()
		c.mu.Unlock()
	case domain.EventUpdate:
		if c.opts.RefetchOnUpdate {
			// The event payload may omit filterable fields; re-fetch the full
			// record instead of patching blind.
			go c.refetch(ev.ID)
			return
		}
		c.mu.Lock()
		c.cache.Upsert(ev.ID, ev.Patch)
		c.recomputeLocked()
		c.mu.Unlock()
	case domain.EventDelete:
		c.mu.Lock()
		c.cache.Remove(ev.ID)
		c.recomputeLocked()
		c.mu.Unlock()
	default:
		c.log.Warn("unknown change event kind", slog.String("kind", string(ev.Kind)), slog.String("id", ev.ID))
	}
}

// refetch replaces a record with its remote state after a partial UPDATE.
func (c *Controller) refetch(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundOpTimeout)
	defer cancel()

	svc, err := c.remote.FetchOne(ctx, id)
	if err != nil {
		if domain.IsNotFound(err) {
			// Updated then deleted before we could re-fetch.
			c.mu.Lock()
			c.cache.Remove(id)
			c.recomputeLocked()
			c.mu.Unlock()
			return
		}
		c.log.Warn("record re-fetch failed", slog.String("id", id), slog.Any("error", err))
		return
	}

	c.mu.Lock()
	c.cache.UpsertFull(*svc)
	c.recomputeLocked()
	c.mu.Unlock()
}

func (c *Controller) persistSnapshot(items []domain.Service) {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundOpTimeout)
	defer cancel()
	if err := c.store.Save(ctx, items); err != nil {
		c.log.Warn("snapshot save failed", slog.Int("records", len(items)), slog.Any("error", err))
	}
}

// recomputeLocked re-derives the visible list. Callers must hold mu.
func (c *Controller) recomputeLocked() {
	c.visible = Apply(c.cache.All(), c.criteria)
}
