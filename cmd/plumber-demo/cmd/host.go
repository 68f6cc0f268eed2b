package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jrepp/prism-plumber/pkg/fixes"
	"github.com/jrepp/prism-plumber/pkg/lifecycle"
	"github.com/jrepp/prism-plumber/pkg/looper"
	"github.com/jrepp/prism-plumber/pkg/pool"
)

// screen is a short-lived unit of the synthetic host
type screen struct {
	name    string
	payload []byte
}

func (s *screen) Name() string { return s.name }

// node and textLine are pooled objects that keep a reference to the screen
// that used them last.
type node struct {
	owner *screen
}

type textLine struct {
	owner *screen
}

// host is a small application: worker threads, two recycle pools and a
// lifecycle dispatcher.
type host struct {
	logger    *slog.Logger
	group     *looper.Group
	workers   []*looper.HandlerThread
	app       *lifecycle.Dispatcher
	nodes     *pool.Pool[*node]
	textLines *pool.Pool[*textLine]

	screens atomic.Uint64
	primed  atomic.Int32
}

func newHost(logger *slog.Logger, workers int) *host {
	h := &host{
		logger:    logger.With("component", "demo-host"),
		group:     looper.NewGroup(nil, "demo-host"),
		app:       lifecycle.NewDispatcher(),
		nodes:     pool.New(pool.DefaultMaxIterations, func() *node { return &node{} }),
		textLines: pool.New(3, func() *textLine { return &textLine{} }),
	}
	for i := 0; i < workers; i++ {
		t := looper.NewHandlerThread(h.group, fmt.Sprintf("worker-%d", i))
		t.Start()
		h.workers = append(h.workers, t)
	}
	return h
}

// openScreen runs one screen through its whole lifecycle, leaving references
// to it on a worker thread and in both pools.
func (h *host) openScreen(ctx context.Context) {
	n := h.screens.Add(1)
	s := &screen{name: fmt.Sprintf("screen-%d", n), payload: make([]byte, 64<<10)}

	h.app.Create(s)
	h.app.Start(s)
	h.app.Resume(s)

	worker := h.workers[int(n)%len(h.workers)]
	if err := worker.Post(func(ctx context.Context) {
		_ = len(s.payload)
	}); err != nil {
		h.logger.Debug("worker gone", "thread", worker, "error", err)
	}

	nd := h.nodes.Obtain()
	nd.owner = s
	h.nodes.Recycle(nd)

	tl := h.textLines.Obtain()
	tl.owner = s
	h.textLines.Recycle(tl)

	h.app.Pause(s)
	h.app.Stop(s)
	h.app.Destroy(s)
}

func (h *host) stop() {
	for _, t := range h.workers {
		t.QuitSafely()
		<-t.Done()
	}
}

// hooks gives the mitigations access to the host internals
func (h *host) hooks() fixes.Hooks {
	return hostHooks{h: h}
}

type hostHooks struct {
	h *host
}

func (k hostHooks) PrimeMediaSessionHelper(app lifecycle.Bridge) error {
	k.h.primed.Add(1)
	k.h.logger.Debug("media session helper primed with application scope")
	return nil
}

func (k hostHooks) PrimeUserManager(app lifecycle.Bridge) error {
	k.h.primed.Add(1)
	k.h.logger.Debug("user manager primed with application scope")
	return nil
}

func (k hostHooks) TextLineCache() (fixes.Cache, error) {
	return k.h.textLines, nil
}

func (k hostHooks) AccessibilityNodeSource() (func() any, error) {
	return func() any { return k.h.nodes.Obtain() }, nil
}
