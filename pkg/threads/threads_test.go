package threads

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jrepp/prism-plumber/pkg/looper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHandle is a synthetic worker thread whose posts are captured, not run
type fakeHandle struct {
	id         int64
	postErr    error
	postPanic  bool
	posted     []looper.Task
	delayed    []looper.Task
	delays     []time.Duration
	postCalls  int
	delayCalls int
}

func (f *fakeHandle) ThreadID() int64 { return f.id }

func (f *fakeHandle) Post(task looper.Task) error {
	f.postCalls++
	if f.postPanic {
		panic("thread is quitting")
	}
	if f.postErr != nil {
		return f.postErr
	}
	f.posted = append(f.posted, task)
	return nil
}

func (f *fakeHandle) PostDelayed(task looper.Task, delay time.Duration) error {
	f.delayCalls++
	if f.postPanic {
		panic("thread is quitting")
	}
	if f.postErr != nil {
		return f.postErr
	}
	f.delayed = append(f.delayed, task)
	f.delays = append(f.delays, delay)
	return nil
}

func startThread(t *testing.T, group *looper.Group, name string) *looper.HandlerThread {
	t.Helper()

	th := looper.NewHandlerThread(group, name)
	th.Start()
	t.Cleanup(func() {
		th.Quit()
		<-th.Done()
	})
	require.Eventually(t, func() bool {
		return th.ThreadID() != looper.InvalidThreadID
	}, time.Second, time.Millisecond)
	return th
}

func ids(handles []Handle) []int64 {
	out := make([]int64, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.ThreadID())
	}
	return out
}

// TestDirectory_ListWorkerThreads tests filtering to looper threads
func TestDirectory_ListWorkerThreads(t *testing.T) {
	root := looper.NewGroup(nil, t.Name())
	child := looper.NewGroup(root, "child")

	a := startThread(t, root, "a")
	b := startThread(t, child, "b")

	block := make(chan struct{})
	r := looper.Go(child, "plain", func() { <-block })
	defer func() {
		close(block)
		<-r.Done()
	}()

	workers := NewScopedDirectory(root).ListWorkerThreads()
	assert.ElementsMatch(t, []int64{a.ThreadID(), b.ThreadID()}, ids(workers))
}

// TestDirectory_GrowsBuffer tests enumeration beyond the initial estimate
func TestDirectory_GrowsBuffer(t *testing.T) {
	root := looper.NewGroup(nil, t.Name())

	var want []int64
	for i := 0; i < 20; i++ {
		want = append(want, startThread(t, looper.NewGroup(root, "g"), "w").ThreadID())
	}

	workers := NewScopedDirectory(root).ListWorkerThreads()
	assert.ElementsMatch(t, want, ids(workers))
}

// TestDirectory_ClimbsToRoot tests the unscoped directory sees the whole tree
func TestDirectory_ClimbsToRoot(t *testing.T) {
	leaf := looper.NewGroup(looper.NewGroup(nil, t.Name()), "leaf")
	other := looper.NewGroup(nil, t.Name()+"-sibling")

	th := startThread(t, other, "elsewhere")

	workers := NewDirectory(leaf).ListWorkerThreads()
	assert.Contains(t, ids(workers), th.ThreadID())
}

// TestSeenTracker_FilterUnseen tests idempotent discovery
func TestSeenTracker_FilterUnseen(t *testing.T) {
	s := NewSeenTracker()
	a, b := &fakeHandle{id: 1}, &fakeHandle{id: 2}

	first := s.FilterUnseen([]Handle{a, b})
	assert.Equal(t, []int64{1, 2}, ids(first))

	second := s.FilterUnseen([]Handle{a, b})
	assert.Empty(t, second, "second cycle over the same threads installs nothing")

	c := &fakeHandle{id: 3}
	third := s.FilterUnseen([]Handle{a, b, c})
	assert.Equal(t, []int64{3}, ids(third))
}

// TestSeenTracker_Monotonic tests ids stay seen after their thread disappears
func TestSeenTracker_Monotonic(t *testing.T) {
	s := NewSeenTracker()
	s.FilterUnseen([]Handle{&fakeHandle{id: 7}})

	s.FilterUnseen(nil)
	s.FilterUnseen([]Handle{&fakeHandle{id: 8}})

	assert.True(t, s.Seen(7))
	assert.True(t, s.Seen(8))
	assert.Equal(t, 2, s.Len())

	again := s.FilterUnseen([]Handle{&fakeHandle{id: 7}})
	assert.Empty(t, again)
}

// TestSeenTracker_InvalidID tests threads without an id are never recorded
func TestSeenTracker_InvalidID(t *testing.T) {
	s := NewSeenTracker()
	pending := &fakeHandle{id: looper.InvalidThreadID}

	for i := 0; i < 3; i++ {
		assert.Empty(t, s.FilterUnseen([]Handle{pending}))
	}
	assert.False(t, s.Seen(looper.InvalidThreadID))
	assert.Equal(t, 0, s.Len())

	// Once the thread is running it is offered exactly once
	pending.id = 42
	assert.Len(t, s.FilterUnseen([]Handle{pending}), 1)
	assert.Empty(t, s.FilterUnseen([]Handle{pending}))
}

// TestSeenTracker_DuplicateInput tests the same id twice in one snapshot
func TestSeenTracker_DuplicateInput(t *testing.T) {
	s := NewSeenTracker()
	fresh := s.FilterUnseen([]Handle{&fakeHandle{id: 5}, &fakeHandle{id: 5}})
	assert.Len(t, fresh, 1)
}

// TestSeenTracker_ConcurrentReaders tests Seen and Len are readable while a
// worker keeps recording ids
func TestSeenTracker_ConcurrentReaders(t *testing.T) {
	s := NewSeenTracker()
	const total = 200

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(1); i <= total; i++ {
			s.FilterUnseen([]Handle{&fakeHandle{id: i}})
		}
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := 0
			for last < total {
				n := s.Len()
				assert.GreaterOrEqual(t, n, last, "recorded count never shrinks")
				last = n
				_ = s.Seen(int64(n))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, total, s.Len())
	assert.True(t, s.Seen(total))
}

// TestInstaller_BoundedChurn tests a burst of idle notifications posts one re-arm
func TestInstaller_BoundedChurn(t *testing.T) {
	in := NewInstaller(250*time.Millisecond, nil, nil)
	h := &fakeHandle{id: 1}
	onIdle := in.IdleHandler(h)

	for i := 0; i < 10; i++ {
		assert.True(t, onIdle(), "observer stays registered")
	}
	require.Len(t, h.delayed, 1)
	assert.Equal(t, 250*time.Millisecond, h.delays[0])

	// Running the re-arm task allows exactly one more post
	h.delayed[0](context.Background())
	for i := 0; i < 10; i++ {
		onIdle()
	}
	assert.Len(t, h.delayed, 2)
}

// TestInstaller_RearmPostFailure tests failures after disarm are swallowed
func TestInstaller_RearmPostFailure(t *testing.T) {
	in := NewInstaller(0, nil, nil)

	failing := &fakeHandle{id: 1, postErr: looper.ErrQuitting}
	onIdle := in.IdleHandler(failing)
	assert.True(t, onIdle())
	assert.True(t, onIdle())
	assert.Equal(t, 1, failing.delayCalls, "no retry once disarmed")

	panicking := &fakeHandle{id: 2, postPanic: true}
	assert.NotPanics(t, func() { in.IdleHandler(panicking)() })
}

// TestInstaller_PostFailureIsolation tests one failing thread does not affect others
func TestInstaller_PostFailureIsolation(t *testing.T) {
	in := NewInstaller(0, nil, nil)

	dead := &fakeHandle{id: 1, postErr: looper.ErrQuitting}
	hostile := &fakeHandle{id: 2, postPanic: true}
	healthy := &fakeHandle{id: 3}

	assert.NotPanics(t, func() {
		in.Install(dead)
		in.Install(hostile)
		in.Install(healthy)
	})

	assert.Equal(t, 1, dead.postCalls)
	assert.Equal(t, 1, hostile.postCalls)
	assert.Len(t, healthy.posted, 1, "bootstrap posted to healthy thread")
}

// TestInstaller_BootstrapOutsideLooper tests the bootstrap is inert off-thread
func TestInstaller_BootstrapOutsideLooper(t *testing.T) {
	in := NewInstaller(0, nil, nil)
	h := &fakeHandle{id: 1}
	in.Install(h)

	require.Len(t, h.posted, 1)
	assert.NotPanics(t, func() { h.posted[0](context.Background()) })
}

// TestInstaller_InstallOnLooper tests end-to-end flushing on a real thread
func TestInstaller_InstallOnLooper(t *testing.T) {
	th := startThread(t, looper.NewGroup(nil, t.Name()), "worker")
	in := NewInstaller(20*time.Millisecond, nil, nil)

	in.Install(th)

	// Bootstrap, then a re-arm roughly every 20ms while idle
	require.Eventually(t, func() bool { return th.Dispatched() >= 4 }, time.Second, time.Millisecond)

	// The churn is bounded by the re-arm delay
	before := th.Dispatched()
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, th.Dispatched()-before, uint64(7))
}

// TestInstaller_ThreadExitsDuringInstall tests installing on a dead thread
func TestInstaller_ThreadExitsDuringInstall(t *testing.T) {
	th := looper.NewHandlerThread(looper.NewGroup(nil, t.Name()), "gone")
	th.Start()
	th.Quit()
	<-th.Done()

	err := th.Post(func(ctx context.Context) {})
	require.True(t, errors.Is(err, looper.ErrQuitting))

	in := NewInstaller(0, nil, nil)
	assert.NotPanics(t, func() { in.Install(th) })
}

// TestScanner_ScanCycle tests discovery and installation across cycles
func TestScanner_ScanCycle(t *testing.T) {
	root := looper.NewGroup(nil, t.Name())
	a := startThread(t, root, "a")

	in := NewInstaller(time.Hour, nil, nil)
	s := NewScanner(NewScopedDirectory(root), in, nil, nil)

	require.NoError(t, s.ScanCycle(context.Background()))
	assert.True(t, s.Seen().Seen(a.ThreadID()))
	assert.Equal(t, 1, s.Seen().Len())

	// Bootstrap plus the idle observer registration leave one delayed re-arm
	require.Eventually(t, func() bool { return a.Dispatched() == 1 }, time.Second, time.Millisecond)

	// Second cycle with no new threads installs nothing
	require.NoError(t, s.ScanCycle(context.Background()))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, uint64(1), a.Dispatched())

	b := startThread(t, root, "b")
	require.NoError(t, s.ScanCycle(context.Background()))
	assert.Equal(t, 2, s.Seen().Len())
	require.Eventually(t, func() bool { return b.Dispatched() == 1 }, time.Second, time.Millisecond)

	// Exited threads stay seen
	a.Quit()
	<-a.Done()
	require.NoError(t, s.ScanCycle(context.Background()))
	assert.True(t, s.Seen().Seen(a.ThreadID()))
}
