package fixes

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrepp/prism-plumber/pkg/lifecycle"
	"github.com/jrepp/prism-plumber/pkg/looper"
	"github.com/jrepp/prism-plumber/pkg/patch"
	"github.com/jrepp/prism-plumber/pkg/pool"
	"github.com/jrepp/prism-plumber/pkg/scheduler"
	"github.com/jrepp/prism-plumber/pkg/threads"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHooks records which platform internals were touched
type fakeHooks struct {
	mediaSession atomic.Int32
	userManager  atomic.Int32
	cache        *pool.Pool[*string]
	obtained     atomic.Int32
}

func newFakeHooks() *fakeHooks {
	return &fakeHooks{cache: pool.New(8, func() *string { return new(string) })}
}

func (f *fakeHooks) PrimeMediaSessionHelper(lifecycle.Bridge) error {
	f.mediaSession.Add(1)
	return nil
}

func (f *fakeHooks) PrimeUserManager(lifecycle.Bridge) error {
	f.userManager.Add(1)
	return nil
}

func (f *fakeHooks) TextLineCache() (Cache, error) {
	return f.cache, nil
}

func (f *fakeHooks) AccessibilityNodeSource() (func() any, error) {
	return func() any {
		f.obtained.Add(1)
		return nil
	}, nil
}

type fixture struct {
	sched   *scheduler.Scheduler
	group   *looper.Group
	scanner *threads.Scanner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	sched := scheduler.New()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, sched.Shutdown(ctx))
	})

	group := looper.NewGroup(nil, t.Name())
	scanner := threads.NewScanner(threads.NewScopedDirectory(group), threads.NewInstaller(time.Hour, nil, nil), nil, nil)
	return &fixture{sched: sched, group: group, scanner: scanner}
}

func (f *fixture) catalog(t *testing.T, hooks Hooks) *patch.Catalog {
	t.Helper()
	c, err := NewCatalog(hooks, f.scanner,
		WithFlushSchedule(time.Millisecond, 10*time.Millisecond),
		WithScrubSchedule(time.Millisecond, 10*time.Millisecond, 50),
	)
	require.NoError(t, err)
	return c
}

// TestCatalog_DeclaredOrder tests the catalog order and names
func TestCatalog_DeclaredOrder(t *testing.T) {
	f := newFixture(t)
	c := f.catalog(t, nil)

	var got []string
	for _, p := range c.Patches() {
		got = append(got, p.Name)
	}
	assert.Equal(t, []string{
		"media-session-legacy-helper",
		"text-line-pool",
		"user-manager",
		"flush-handler-threads",
		"accessibility-node-info",
	}, got)
}

// TestCatalog_Triggers tests each entry's level gate
func TestCatalog_Triggers(t *testing.T) {
	f := newFixture(t)
	c := f.catalog(t, nil)

	tests := []struct {
		id     patch.ID
		levels map[int]bool
	}{
		{MediaSessionLegacyHelper, map[int]bool{20: false, 21: true, 22: false}},
		{TextLinePool, map[int]bool{21: true, 27: true, 28: false}},
		{UserManager, map[int]bool{16: false, 17: true, 25: true, 26: false}},
		{FlushHandlerThreads, map[int]bool{1: true, 21: true, 34: true}},
		{AccessibilityNodeInfo, map[int]bool{27: true, 28: false}},
	}

	for _, tt := range tests {
		t.Run(Name(tt.id), func(t *testing.T) {
			p, ok := c.Lookup(tt.id)
			require.True(t, ok)
			for level, want := range tt.levels {
				assert.Equal(t, want, p.Trigger(patch.Facts{APILevel: level}), "level %d", level)
			}
		})
	}
}

// TestCatalog_RequiresScanner tests a catalog cannot be built without a scanner
func TestCatalog_RequiresScanner(t *testing.T) {
	_, err := NewCatalog(nil, nil)
	assert.Error(t, err)
}

// TestApplyFixes_Level21 tests every patch on a level where all apply
func TestApplyFixes_Level21(t *testing.T) {
	f := newFixture(t)
	hooks := newFakeHooks()
	c := f.catalog(t, hooks)
	app := lifecycle.NewDispatcher()

	coord := patch.NewCoordinator(c, patch.Facts{APILevel: 21}, f.sched)
	report := coord.ApplyFixes(context.Background(), app, nil)

	assert.Len(t, report.Applied, 5)
	assert.Empty(t, report.Failed)

	require.Eventually(t, func() bool {
		return hooks.mediaSession.Load() == 1 && app.Len() == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), hooks.userManager.Load(), "user manager is primed inline")

	require.Eventually(t, func() bool { return hooks.obtained.Load() >= 100 }, time.Second, time.Millisecond)
}

// TestApplyFixes_TextLinePoolClearsOnDestroy tests the cache is emptied per destroyed unit
func TestApplyFixes_TextLinePoolClearsOnDestroy(t *testing.T) {
	f := newFixture(t)
	hooks := newFakeHooks()
	c := f.catalog(t, hooks)
	app := lifecycle.NewDispatcher()

	coord := patch.NewCoordinator(c, patch.Facts{APILevel: 27}, f.sched)
	coord.ApplyFixes(context.Background(), app, patch.Select(TextLinePool))
	require.Eventually(t, func() bool { return app.Len() == 1 }, time.Second, time.Millisecond)

	s := "stale"
	hooks.cache.Recycle(&s)
	require.Equal(t, 1, hooks.cache.Len())

	app.Destroy(lifecycle.NamedUnit("screen"))
	assert.Equal(t, 0, hooks.cache.Len())
}

// TestApplyFixes_FlushHandlerThreads tests worker threads are discovered repeatedly
func TestApplyFixes_FlushHandlerThreads(t *testing.T) {
	f := newFixture(t)
	c := f.catalog(t, nil)

	th := looper.NewHandlerThread(f.group, "worker")
	th.Start()
	t.Cleanup(func() {
		th.Quit()
		<-th.Done()
	})

	coord := patch.NewCoordinator(c, patch.Facts{APILevel: 30}, f.sched)
	report := coord.ApplyFixes(context.Background(), nil, patch.Select(FlushHandlerThreads))
	require.Equal(t, []patch.ID{FlushHandlerThreads}, report.Applied)

	require.Eventually(t, func() bool { return f.scanner.Seen().Seen(th.ThreadID()) }, time.Second, time.Millisecond)

	late := looper.NewHandlerThread(f.group, "late")
	late.Start()
	t.Cleanup(func() {
		late.Quit()
		<-late.Done()
	})
	require.Eventually(t, func() bool {
		id := late.ThreadID()
		return id != looper.InvalidThreadID && f.scanner.Seen().Seen(id)
	}, time.Second, time.Millisecond)
}

// TestApplyFixes_UnavailableHooks tests missing internals only disable their patch
func TestApplyFixes_UnavailableHooks(t *testing.T) {
	f := newFixture(t)
	c := f.catalog(t, UnavailableHooks{})

	coord := patch.NewCoordinator(c, patch.Facts{APILevel: 21}, f.sched)
	var report patch.Report
	assert.NotPanics(t, func() {
		report = coord.ApplyFixes(context.Background(), lifecycle.NewDispatcher(), nil)
	})

	// The inline and eagerly resolved hooks fail; background ones fail on the worker
	assert.ElementsMatch(t, []patch.ID{UserManager, AccessibilityNodeInfo}, report.Failed)
	assert.Contains(t, report.Applied, FlushHandlerThreads)
}

// TestApplyFixes_Idempotent tests a second apply schedules nothing new
func TestApplyFixes_Idempotent(t *testing.T) {
	f := newFixture(t)
	hooks := newFakeHooks()
	c := f.catalog(t, hooks)
	app := lifecycle.NewDispatcher()

	coord := patch.NewCoordinator(c, patch.Facts{APILevel: 21}, f.sched)
	coord.ApplyFixes(context.Background(), app, patch.Select(UserManager, TextLinePool))
	coord.ApplyFixes(context.Background(), app, patch.Select(UserManager, TextLinePool))

	require.Eventually(t, func() bool { return app.Len() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, app.Len())
	assert.Equal(t, int32(1), hooks.userManager.Load())
}

// TestApplyFixes_NoScheduler tests background patches fail without a scheduler
func TestApplyFixes_NoScheduler(t *testing.T) {
	f := newFixture(t)
	c := f.catalog(t, newFakeHooks())

	report := patch.NewCoordinator(c, patch.Facts{APILevel: 21}, nil).
		ApplyFixes(context.Background(), lifecycle.NewDispatcher(), nil)

	assert.Equal(t, []patch.ID{UserManager}, report.Applied)
	assert.Len(t, report.Failed, 4)
}

// TestParseID tests name normalization
func TestParseID(t *testing.T) {
	id, err := ParseID("flush-handler-threads")
	require.NoError(t, err)
	assert.Equal(t, FlushHandlerThreads, id)

	id, err = ParseID(" ACCESSIBILITY_NODE_INFO ")
	require.NoError(t, err)
	assert.Equal(t, AccessibilityNodeInfo, id)

	_, err = ParseID("view-locations")
	assert.ErrorIs(t, err, ErrUnknownPatch)
}

// TestParseSelection tests building a selection from names
func TestParseSelection(t *testing.T) {
	sel, err := ParseSelection([]string{"user-manager", "text_line_pool"})
	require.NoError(t, err)
	assert.Equal(t, []patch.ID{TextLinePool, UserManager}, sel.IDs())

	_, err = ParseSelection([]string{"user-manager", "nope"})
	assert.ErrorIs(t, err, ErrUnknownPatch)

	assert.Equal(t, "patch(99)", Name(patch.ID(99)))
}

// TestOnce tests a failed apply may be retried but a successful one is not
func TestOnce(t *testing.T) {
	var mu sync.Mutex
	calls, fail := 0, true
	action := once(func(context.Context, patch.Env) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if fail {
			return ErrHookUnavailable
		}
		return nil
	})

	assert.ErrorIs(t, action(context.Background(), patch.Env{}), ErrHookUnavailable)
	fail = false
	assert.NoError(t, action(context.Background(), patch.Env{}))
	assert.NoError(t, action(context.Background(), patch.Env{}))
	assert.Equal(t, 2, calls)
}
