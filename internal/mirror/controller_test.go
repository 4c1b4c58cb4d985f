package mirror

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lastmilehq/deliverysync/internal/domain"
)

// --- fakes ---

type fakeRemote struct {
	mu        sync.Mutex
	pageFn    func(q domain.RemoteQuery) (*domain.Page, error)
	oneFn     func(id string) (*domain.Service, error)
	pageCalls []domain.RemoteQuery
	oneCalls  []string
}

func (f *fakeRemote) FetchPage(_ context.Context, q domain.RemoteQuery) (*domain.Page, error) {
	f.mu.Lock()
	f.pageCalls = append(f.pageCalls, q)
	fn := f.pageFn
	f.mu.Unlock()
	if fn == nil {
		return &domain.Page{Items: []domain.Service{}}, nil
	}
	return fn(q)
}

func (f *fakeRemote) FetchOne(_ context.Context, id string) (*domain.Service, error) {
	f.mu.Lock()
	f.oneCalls = append(f.oneCalls, id)
	fn := f.oneFn
	f.mu.Unlock()
	if fn == nil {
		return nil, domain.ErrNotFound
	}
	return fn(id)
}

func (f *fakeRemote) pageCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pageCalls)
}

func (f *fakeRemote) lastPageCall() domain.RemoteQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pageCalls[len(f.pageCalls)-1]
}

type fakeFeed struct {
	mu         sync.Mutex
	onEvent    func(domain.ChangeEvent)
	subscribes []string
	unsubs     int
	subErr     error
}

func (f *fakeFeed) Subscribe(token string, onEvent func(domain.ChangeEvent)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	f.subscribes = append(f.subscribes, token)
	f.onEvent = onEvent
	return func() {
		f.mu.Lock()
		f.unsubs++
		f.mu.Unlock()
	}, nil
}

func (f *fakeFeed) emit(ev domain.ChangeEvent) {
	f.mu.Lock()
	fn := f.onEvent
	f.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

type fakeStore struct {
	mu      sync.Mutex
	items   []domain.Service
	saves   int
	loadErr error
	saveErr error
}

func (f *fakeStore) Save(_ context.Context, items []domain.Service) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.items = append([]domain.Service(nil), items...)
	f.saves++
	return nil
}

func (f *fakeStore) Load(_ context.Context) ([]domain.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return append([]domain.Service(nil), f.items...), nil
}

// --- helpers ---

func pageOf(total int, items ...domain.Service) *domain.Page {
	return &domain.Page{Items: items, Total: total}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func newTestController(remote *fakeRemote, feed domain.ChangeFeedSource, store domain.SnapshotStore, opts Options) *Controller {
	if opts.PageSize == 0 {
		opts.PageSize = 2
	}
	if opts.Freshness == 0 {
		opts.Freshness = time.Minute
	}
	if opts.SearchDebounce == 0 {
		opts.SearchDebounce = 30 * time.Millisecond
	}
	return New(remote, feed, store, nil, opts)
}

// --- tests ---

func TestControllerLoad(t *testing.T) {
	t.Run("happy_populates_visible_list", func(t *testing.T) {
		remote := &fakeRemote{pageFn: func(q domain.RemoteQuery) (*domain.Page, error) {
			return pageOf(2, svc("a", "A"), svc("b", "B")), nil
		}}
		c := newTestController(remote, nil, nil, Options{})

		if err := c.Load(context.Background(), domain.DefaultCriteria(), false); err != nil {
			t.Fatalf("Load: %v", err)
		}

		st := c.State()
		if len(st.Visible) != 2 || st.Total != 2 || !st.FullyLoaded {
			t.Errorf("state = %+v, want 2 visible, total 2, fully loaded", st)
		}
		if st.Loading || st.LoadingMore || st.Err != nil {
			t.Errorf("state flags not reset: %+v", st)
		}
	})

	t.Run("happy_fresh_cache_skips_network", func(t *testing.T) {
		remote := &fakeRemote{pageFn: func(q domain.RemoteQuery) (*domain.Page, error) {
			return pageOf(1, svc("a", "A")), nil
		}}
		c := newTestController(remote, nil, nil, Options{})

		criteria := domain.DefaultCriteria()
		_ = c.Load(context.Background(), criteria, false)
		_ = c.Load(context.Background(), criteria, false)

		if got := remote.pageCallCount(); got != 1 {
			t.Errorf("page fetches = %d, want 1 (second load served from cache)", got)
		}
	})

	t.Run("happy_stale_cache_refetches", func(t *testing.T) {
		remote := &fakeRemote{pageFn: func(q domain.RemoteQuery) (*domain.Page, error) {
			return pageOf(1, svc("a", "A")), nil
		}}
		c := newTestController(remote, nil, nil, Options{Freshness: time.Minute})

		base := time.Now()
		c.now = func() time.Time { return base }
		criteria := domain.DefaultCriteria()
		_ = c.Load(context.Background(), criteria, false)

		c.now = func() time.Time { return base.Add(2 * time.Minute) }
		_ = c.Load(context.Background(), criteria, false)

		if got := remote.pageCallCount(); got != 2 {
			t.Errorf("page fetches = %d, want 2", got)
		}
	})

	t.Run("happy_changed_criteria_bypasses_cache", func(t *testing.T) {
		remote := &fakeRemote{pageFn: func(q domain.RemoteQuery) (*domain.Page, error) {
			return pageOf(1, svc("a", "A")), nil
		}}
		c := newTestController(remote, nil, nil, Options{})

		_ = c.Load(context.Background(), domain.DefaultCriteria(), false)
		filtered := domain.DefaultCriteria()
		filtered.Status = domain.StatusCompleted
		_ = c.Load(context.Background(), filtered, false)

		if got := remote.pageCallCount(); got != 2 {
			t.Errorf("page fetches = %d, want 2", got)
		}
		if remote.lastPageCall().Status != domain.StatusCompleted {
			t.Errorf("second fetch missing status filter: %+v", remote.lastPageCall())
		}
	})

	t.Run("error_keeps_previous_data", func(t *testing.T) {
		var failing bool
		var mu sync.Mutex
		remote := &fakeRemote{pageFn: func(q domain.RemoteQuery) (*domain.Page, error) {
			mu.Lock()
			defer mu.Unlock()
			if failing {
				return nil, domain.NewAppError(domain.CodeFetch, "backend down", nil)
			}
			return pageOf(1, svc("a", "A")), nil
		}}
		c := newTestController(remote, nil, nil, Options{})

		_ = c.Load(context.Background(), domain.DefaultCriteria(), false)
		mu.Lock()
		failing = true
		mu.Unlock()

		err := c.Refresh(context.Background())
		if !domain.IsFetch(err) {
			t.Fatalf("Refresh error = %v, want fetch error", err)
		}

		st := c.State()
		if len(st.Visible) != 1 || st.Visible[0].ID != "a" {
			t.Errorf("stale data dropped on error: %+v", st.Visible)
		}
		if st.Err == nil {
			t.Error("State().Err not surfaced")
		}

		// The next successful fetch clears the error.
		mu.Lock()
		failing = false
		mu.Unlock()
		_ = c.Refresh(context.Background())
		if st := c.State(); st.Err != nil {
			t.Errorf("error not cleared after recovery: %v", st.Err)
		}
	})
}

func TestControllerLoadMore(t *testing.T) {
	pages := map[int]*domain.Page{
		0: pageOf(4, svc("a", "A"), svc("b", "B")),
		2: pageOf(4, svc("c", "C"), svc("d", "D")),
	}
	newRemote := func() *fakeRemote {
		return &fakeRemote{pageFn: func(q domain.RemoteQuery) (*domain.Page, error) {
			p, ok := pages[q.Offset]
			if !ok {
				return pageOf(4), nil
			}
			return p, nil
		}}
	}

	t.Run("happy_appends_next_window", func(t *testing.T) {
		remote := newRemote()
		c := newTestController(remote, nil, nil, Options{PageSize: 2})

		_ = c.Load(context.Background(), domain.DefaultCriteria(), false)
		if err := c.LoadMore(context.Background()); err != nil {
			t.Fatalf("LoadMore: %v", err)
		}

		st := c.State()
		if len(st.Visible) != 4 || !st.FullyLoaded {
			t.Errorf("state = %+v, want 4 visible and fully loaded", st)
		}
		if remote.lastPageCall().Offset != 2 {
			t.Errorf("offset = %d, want 2", remote.lastPageCall().Offset)
		}
	})

	t.Run("happy_noop_when_fully_loaded", func(t *testing.T) {
		remote := newRemote()
		c := newTestController(remote, nil, nil, Options{PageSize: 2})

		_ = c.Load(context.Background(), domain.DefaultCriteria(), false)
		_ = c.LoadMore(context.Background())
		before := remote.pageCallCount()

		if err := c.LoadMore(context.Background()); err != nil {
			t.Fatalf("LoadMore: %v", err)
		}
		if remote.pageCallCount() != before {
			t.Error("LoadMore fetched past the end of the collection")
		}
	})
}

func TestControllerStaleResponseDiscarded(t *testing.T) {
	release := make(chan struct{})
	remote := &fakeRemote{pageFn: func(q domain.RemoteQuery) (*domain.Page, error) {
		if q.Status == domain.StatusPending {
			<-release // request A parks here
			return pageOf(1, svc("old", "Old")), nil
		}
		rec := svc("new", "New")
		rec.Status = domain.StatusCompleted
		return pageOf(1, rec), nil
	}}
	c := newTestController(remote, nil, nil, Options{})

	slow := domain.DefaultCriteria()
	slow.Status = domain.StatusPending
	fast := domain.DefaultCriteria()
	fast.Status = domain.StatusCompleted

	done := make(chan error, 1)
	go func() { done <- c.Load(context.Background(), slow, false) }()
	waitFor(t, func() bool { return remote.pageCallCount() == 1 }, "request A never started")

	// Request B supersedes A and completes first.
	if err := c.Load(context.Background(), fast, false); err != nil {
		t.Fatalf("Load B: %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Load A: %v", err)
	}

	st := c.State()
	if len(st.Visible) != 1 || st.Visible[0].ID != "new" {
		t.Errorf("stale response overwrote the newer one: %+v", st.Visible)
	}
}

func TestControllerDuplicateLoadDropped(t *testing.T) {
	release := make(chan struct{})
	remote := &fakeRemote{pageFn: func(q domain.RemoteQuery) (*domain.Page, error) {
		<-release
		return pageOf(1, svc("a", "A")), nil
	}}
	c := newTestController(remote, nil, nil, Options{})

	criteria := domain.DefaultCriteria()
	done := make(chan error, 1)
	go func() { done <- c.Load(context.Background(), criteria, false) }()
	waitFor(t, func() bool { return remote.pageCallCount() == 1 }, "first load never started")

	// Identical request while the first is in flight: dropped, not queued.
	if err := c.Load(context.Background(), criteria, false); err != nil {
		t.Fatalf("duplicate Load: %v", err)
	}
	if got := remote.pageCallCount(); got != 1 {
		t.Errorf("page fetches = %d, want 1", got)
	}

	close(release)
	<-done
}

func TestControllerSearchDebounce(t *testing.T) {
	t.Run("happy_keystrokes_coalesce_into_one_fetch", func(t *testing.T) {
		remote := &fakeRemote{pageFn: func(q domain.RemoteQuery) (*domain.Page, error) {
			return pageOf(0), nil
		}}
		c := newTestController(remote, nil, nil, Options{SearchDebounce: 40 * time.Millisecond})

		c.Search("a")
		c.Search("ab")
		c.Search("abc")

		waitFor(t, func() bool { return remote.pageCallCount() == 1 }, "debounced fetch never fired")
		time.Sleep(100 * time.Millisecond) // no trailing extra fetch
		if got := remote.pageCallCount(); got != 1 {
			t.Fatalf("page fetches = %d, want 1", got)
		}
		if remote.lastPageCall().Search != "abc" {
			t.Errorf("fetched term = %q, want %q", remote.lastPageCall().Search, "abc")
		}
	})

	t.Run("happy_clearing_fires_immediately", func(t *testing.T) {
		remote := &fakeRemote{pageFn: func(q domain.RemoteQuery) (*domain.Page, error) {
			return pageOf(0), nil
		}}
		c := newTestController(remote, nil, nil, Options{SearchDebounce: 5 * time.Second})

		c.Search("")
		waitFor(t, func() bool { return remote.pageCallCount() == 1 }, "clear-search fetch never fired")
		if remote.lastPageCall().Search != "" {
			t.Errorf("fetched term = %q, want empty", remote.lastPageCall().Search)
		}
	})

	t.Run("happy_short_term_stays_local", func(t *testing.T) {
		remote := &fakeRemote{pageFn: func(q domain.RemoteQuery) (*domain.Page, error) {
			return pageOf(2, svc("a", "Alice"), svc("b", "Bob")), nil
		}}
		c := newTestController(remote, nil, nil, Options{
			MinSearchLength: 3,
			SearchDebounce:  20 * time.Millisecond,
		})
		_ = c.Load(context.Background(), domain.DefaultCriteria(), false)

		c.Search("al")
		time.Sleep(80 * time.Millisecond)

		if got := remote.pageCallCount(); got != 1 {
			t.Errorf("page fetches = %d, want 1 (short term must not hit the network)", got)
		}
		st := c.State()
		if len(st.Visible) != 1 || st.Visible[0].ID != "a" {
			t.Errorf("short term not applied locally: %+v", st.Visible)
		}
	})

	t.Run("happy_shrinking_below_min_cancels_pending_fetch", func(t *testing.T) {
		remote := &fakeRemote{pageFn: func(q domain.RemoteQuery) (*domain.Page, error) {
			return pageOf(0), nil
		}}
		c := newTestController(remote, nil, nil, Options{
			MinSearchLength: 3,
			SearchDebounce:  40 * time.Millisecond,
		})

		c.Search("abc") // schedules a fetch
		c.Search("ab")  // drops below the gate before the window elapses
		time.Sleep(120 * time.Millisecond)

		if got := remote.pageCallCount(); got != 0 {
			t.Fatalf("page fetches = %d, want 0 (shrinking below the gate must cancel the pending fetch)", got)
		}
		if got := c.Criteria().Search; got != "ab" {
			t.Errorf("criteria search = %q, want %q applied locally", got, "ab")
		}
	})
}

func TestControllerSetFilter(t *testing.T) {
	remote := &fakeRemote{pageFn: func(q domain.RemoteQuery) (*domain.Page, error) {
		return pageOf(3,
			domain.Service{ID: "a", Status: domain.StatusPending, CreatedAt: day(1)},
			domain.Service{ID: "b", Status: domain.StatusCompleted, CreatedAt: day(2)},
			domain.Service{ID: "c", Status: domain.StatusPending, CreatedAt: day(3)},
		), nil
	}}
	c := newTestController(remote, nil, nil, Options{PageSize: 10})
	_ = c.Load(context.Background(), domain.DefaultCriteria(), false)

	status := domain.StatusPending
	c.SetFilter(domain.FilterPatch{Status: &status})

	if got := remote.pageCallCount(); got != 1 {
		t.Errorf("page fetches = %d, want 1 (filters are local)", got)
	}
	st := c.State()
	wantIDs(t, st.Visible, "c", "a") // created_at desc
	if st.Total != 3 {
		t.Errorf("Total = %d, want 3 (total reflects the full set, not the filtered view)", st.Total)
	}

	c.ClearFilters()
	st = c.State()
	if len(st.Visible) != 3 {
		t.Errorf("ClearFilters left %d visible, want 3", len(st.Visible))
	}
	if remote.pageCallCount() != 1 {
		t.Error("ClearFilters must not hit the network")
	}
}

func TestControllerGetDetail(t *testing.T) {
	t.Run("happy_success_keeps_list_error_surfaced", func(t *testing.T) {
		fetchErr := domain.NewAppError(domain.CodeFetch, "backend down", nil)
		remote := &fakeRemote{
			pageFn: func(q domain.RemoteQuery) (*domain.Page, error) { return nil, fetchErr },
			oneFn: func(id string) (*domain.Service, error) {
				return &domain.Service{ID: id, CustomerName: "Alice"}, nil
			},
		}
		c := newTestController(remote, nil, nil, Options{})

		if err := c.Load(context.Background(), domain.DefaultCriteria(), false); err == nil {
			t.Fatal("list load succeeded, want failure")
		}

		svc, err := c.GetDetail(context.Background(), "a")
		if err != nil || svc == nil || svc.ID != "a" {
			t.Fatalf("GetDetail = %+v, %v", svc, err)
		}
		if c.State().Err == nil {
			t.Error("list error cleared by an unrelated detail fetch")
		}
	})

	t.Run("error_failure_surfaces", func(t *testing.T) {
		remote := &fakeRemote{oneFn: func(id string) (*domain.Service, error) {
			return nil, domain.ErrNotFound
		}}
		c := newTestController(remote, nil, nil, Options{})

		if _, err := c.GetDetail(context.Background(), "gone"); !domain.IsNotFound(err) {
			t.Fatalf("GetDetail err = %v, want not found", err)
		}
		if c.State().Err == nil {
			t.Error("detail failure not surfaced")
		}
	})
}

func TestControllerFeedEvents(t *testing.T) {
	remote := &fakeRemote{pageFn: func(q domain.RemoteQuery) (*domain.Page, error) {
		return pageOf(2, svc("a", "A"), svc("b", "B")), nil
	}}
	feed := &fakeFeed{}
	c := newTestController(remote, feed, nil, Options{PageSize: 10})
	c.Start(context.Background(), "token-1")
	_ = c.Load(context.Background(), domain.DefaultCriteria(), false)

	t.Run("happy_insert_front_inserts", func(t *testing.T) {
		feed.emit(domain.ChangeEvent{Kind: domain.EventInsert, ID: "new",
			Patch: &domain.ServicePatch{CustomerName: strPtr("New"), Status: strPtr(domain.StatusPending)}})

		st := c.State()
		if st.Total != 3 {
			t.Errorf("Total = %d, want 3", st.Total)
		}
		found := false
		for _, s := range st.Visible {
			if s.ID == "new" {
				found = true
			}
		}
		if !found {
			t.Errorf("inserted record not visible: %+v", st.Visible)
		}
	})

	t.Run("happy_update_merges_partial_patch", func(t *testing.T) {
		feed.emit(domain.ChangeEvent{Kind: domain.EventUpdate, ID: "a",
			Patch: &domain.ServicePatch{Status: strPtr(domain.StatusCompleted)}})

		for _, s := range c.State().Visible {
			if s.ID == "a" {
				if s.Status != domain.StatusCompleted {
					t.Errorf("Status = %q, want completed", s.Status)
				}
				if s.CustomerName != "A" {
					t.Errorf("partial update cleared CustomerName: %+v", s)
				}
				return
			}
		}
		t.Error("record a disappeared")
	})

	t.Run("happy_delete_removes_and_duplicate_is_noop", func(t *testing.T) {
		feed.emit(domain.ChangeEvent{Kind: domain.EventDelete, ID: "b"})
		totalAfterFirst := c.State().Total

		feed.emit(domain.ChangeEvent{Kind: domain.EventDelete, ID: "b"})

		st := c.State()
		if st.Total != totalAfterFirst {
			t.Errorf("duplicate delete changed total: %d vs %d", st.Total, totalAfterFirst)
		}
		for _, s := range st.Visible {
			if s.ID == "b" {
				t.Error("deleted record still visible")
			}
		}
	})

	t.Run("happy_unknown_kind_is_ignored", func(t *testing.T) {
		before := c.State()
		feed.emit(domain.ChangeEvent{Kind: "MOVE", ID: "a"})
		after := c.State()
		if len(after.Visible) != len(before.Visible) || after.Total != before.Total {
			t.Error("unknown event kind changed state")
		}
	})
}

func TestControllerRefetchOnUpdate(t *testing.T) {
	t.Run("happy_update_refetches_full_record", func(t *testing.T) {
		remote := &fakeRemote{
			pageFn: func(q domain.RemoteQuery) (*domain.Page, error) {
				return pageOf(1, svc("a", "A")), nil
			},
			oneFn: func(id string) (*domain.Service, error) {
				return &domain.Service{ID: id, CustomerName: "A", Status: domain.StatusCompleted, Paid: true}, nil
			},
		}
		feed := &fakeFeed{}
		c := newTestController(remote, feed, nil, Options{RefetchOnUpdate: true})
		c.Start(context.Background(), "token-1")
		_ = c.Load(context.Background(), domain.DefaultCriteria(), false)

		feed.emit(domain.ChangeEvent{Kind: domain.EventUpdate, ID: "a",
			Patch: &domain.ServicePatch{Status: strPtr(domain.StatusCompleted)}})

		waitFor(t, func() bool {
			for _, s := range c.State().Visible {
				if s.ID == "a" && s.Paid {
					return true
				}
			}
			return false
		}, "re-fetched record never applied")
	})

	t.Run("happy_vanished_record_is_removed", func(t *testing.T) {
		remote := &fakeRemote{
			pageFn: func(q domain.RemoteQuery) (*domain.Page, error) {
				return pageOf(1, svc("a", "A")), nil
			},
			oneFn: func(id string) (*domain.Service, error) {
				return nil, domain.NewAppError(domain.CodeNotFound, "gone", nil)
			},
		}
		feed := &fakeFeed{}
		c := newTestController(remote, feed, nil, Options{RefetchOnUpdate: true})
		c.Start(context.Background(), "token-1")
		_ = c.Load(context.Background(), domain.DefaultCriteria(), false)

		feed.emit(domain.ChangeEvent{Kind: domain.EventUpdate, ID: "a",
			Patch: &domain.ServicePatch{Status: strPtr(domain.StatusCompleted)}})

		waitFor(t, func() bool { return len(c.State().Visible) == 0 }, "vanished record never removed")
	})
}

func TestControllerSnapshot(t *testing.T) {
	t.Run("happy_start_seeds_from_snapshot", func(t *testing.T) {
		store := &fakeStore{items: []domain.Service{svc("snap", "Snap")}}
		remote := &fakeRemote{}
		c := newTestController(remote, nil, store, Options{})

		c.Start(context.Background(), "token-1")

		st := c.State()
		if len(st.Visible) != 1 || st.Visible[0].ID != "snap" {
			t.Errorf("snapshot not seeded: %+v", st.Visible)
		}
		if st.FullyLoaded {
			t.Error("seeded cache reported fully loaded")
		}
		if remote.pageCallCount() != 0 {
			t.Error("Start must not fetch")
		}
	})

	t.Run("happy_successful_load_persists", func(t *testing.T) {
		store := &fakeStore{}
		remote := &fakeRemote{pageFn: func(q domain.RemoteQuery) (*domain.Page, error) {
			return pageOf(1, svc("a", "A")), nil
		}}
		c := newTestController(remote, nil, store, Options{})
		c.Start(context.Background(), "token-1")

		_ = c.Load(context.Background(), domain.DefaultCriteria(), false)

		waitFor(t, func() bool {
			store.mu.Lock()
			defer store.mu.Unlock()
			return store.saves == 1 && len(store.items) == 1
		}, "snapshot never persisted")
	})

	t.Run("error_store_failure_does_not_break_sync", func(t *testing.T) {
		store := &fakeStore{loadErr: errors.New("disk gone"), saveErr: errors.New("disk gone")}
		remote := &fakeRemote{pageFn: func(q domain.RemoteQuery) (*domain.Page, error) {
			return pageOf(1, svc("a", "A")), nil
		}}
		c := newTestController(remote, nil, store, Options{})
		c.Start(context.Background(), "token-1")

		if err := c.Load(context.Background(), domain.DefaultCriteria(), false); err != nil {
			t.Fatalf("Load: %v", err)
		}
		if st := c.State(); len(st.Visible) != 1 {
			t.Errorf("sync broken by store failure: %+v", st)
		}
	})
}

func TestControllerTokenLifecycle(t *testing.T) {
	t.Run("happy_start_subscribes_with_token", func(t *testing.T) {
		feed := &fakeFeed{}
		c := newTestController(&fakeRemote{}, feed, nil, Options{})
		c.Start(context.Background(), "token-1")

		feed.mu.Lock()
		defer feed.mu.Unlock()
		if len(feed.subscribes) != 1 || feed.subscribes[0] != "token-1" {
			t.Errorf("subscribes = %v, want [token-1]", feed.subscribes)
		}
	})

	t.Run("happy_settoken_clears_and_resubscribes", func(t *testing.T) {
		remote := &fakeRemote{pageFn: func(q domain.RemoteQuery) (*domain.Page, error) {
			return pageOf(1, svc("a", "A")), nil
		}}
		feed := &fakeFeed{}
		c := newTestController(remote, feed, nil, Options{})
		c.Start(context.Background(), "token-1")
		_ = c.Load(context.Background(), domain.DefaultCriteria(), false)

		c.SetToken("token-2")

		st := c.State()
		if len(st.Visible) != 0 || st.Total != 0 {
			t.Errorf("cache not cleared on token change: %+v", st)
		}
		feed.mu.Lock()
		defer feed.mu.Unlock()
		if feed.unsubs != 1 {
			t.Errorf("unsubs = %d, want 1", feed.unsubs)
		}
		if len(feed.subscribes) != 2 || feed.subscribes[1] != "token-2" {
			t.Errorf("subscribes = %v, want [token-1 token-2]", feed.subscribes)
		}
	})

	t.Run("happy_same_token_is_noop", func(t *testing.T) {
		feed := &fakeFeed{}
		c := newTestController(&fakeRemote{}, feed, nil, Options{})
		c.Start(context.Background(), "token-1")

		c.SetToken("token-1")

		feed.mu.Lock()
		defer feed.mu.Unlock()
		if len(feed.subscribes) != 1 || feed.unsubs != 0 {
			t.Errorf("same-token SetToken churned the subscription: subs=%v unsubs=%d", feed.subscribes, feed.unsubs)
		}
	})

	t.Run("happy_empty_token_tears_down_without_resubscribe", func(t *testing.T) {
		feed := &fakeFeed{}
		c := newTestController(&fakeRemote{}, feed, nil, Options{})
		c.Start(context.Background(), "token-1")

		c.SetToken("")

		feed.mu.Lock()
		defer feed.mu.Unlock()
		if feed.unsubs != 1 || len(feed.subscribes) != 1 {
			t.Errorf("empty token: subs=%v unsubs=%d", feed.subscribes, feed.unsubs)
		}
	})

	t.Run("happy_close_unsubscribes_once", func(t *testing.T) {
		feed := &fakeFeed{}
		c := newTestController(&fakeRemote{}, feed, nil, Options{})
		c.Start(context.Background(), "token-1")

		c.Close()
		c.Close()

		feed.mu.Lock()
		defer feed.mu.Unlock()
		if feed.unsubs != 1 {
			t.Errorf("unsubs = %d, want 1", feed.unsubs)
		}
	})

	t.Run("error_subscribe_failure_stays_poll_only", func(t *testing.T) {
		remote := &fakeRemote{pageFn: func(q domain.RemoteQuery) (*domain.Page, error) {
			return pageOf(1, svc("a", "A")), nil
		}}
		feed := &fakeFeed{subErr: domain.NewAppError(domain.CodeSubscription, "feed down", nil)}
		c := newTestController(remote, feed, nil, Options{})
		c.Start(context.Background(), "token-1")

		if err := c.Load(context.Background(), domain.DefaultCriteria(), false); err != nil {
			t.Fatalf("Load in poll-only mode: %v", err)
		}
		if st := c.State(); len(st.Visible) != 1 {
			t.Errorf("poll-only load failed: %+v", st)
		}
	})
}

func TestControllerSetTokenInvalidatesInflight(t *testing.T) {
	release := make(chan struct{})
	remote := &fakeRemote{pageFn: func(q domain.RemoteQuery) (*domain.Page, error) {
		<-release
		return pageOf(1, svc("stale", "Stale")), nil
	}}
	c := newTestController(remote, nil, nil, Options{})
	c.Start(context.Background(), "token-1")

	done := make(chan error, 1)
	go func() { done <- c.Load(context.Background(), domain.DefaultCriteria(), false) }()
	waitFor(t, func() bool { return remote.pageCallCount() == 1 }, "load never started")

	c.SetToken("token-2")
	close(release)
	<-done

	if st := c.State(); len(st.Visible) != 0 {
		t.Errorf("response for the old session applied after token change: %+v", st.Visible)
	}
}
