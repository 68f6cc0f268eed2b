package threads

import (
	"time"

	"github.com/jrepp/prism-plumber/pkg/looper"
)

// Handle is a live worker thread as seen by the mitigation. Whether the thread
// is still accepting work is only observable by posting to it.
type Handle interface {
	ThreadID() int64
	Post(task looper.Task) error
	PostDelayed(task looper.Task, delay time.Duration) error
}

var _ Handle = (*looper.HandlerThread)(nil)

// Directory lists the live looper threads of the process.
type Directory struct {
	start *looper.Group
	climb bool
}

// NewDirectory creates a directory that climbs from start to the root group
// and walks the whole tree. A nil start means looper.MainGroup.
func NewDirectory(start *looper.Group) *Directory {
	if start == nil {
		start = looper.MainGroup()
	}
	return &Directory{start: start, climb: true}
}

// NewScopedDirectory creates a directory that only walks root and its subgroups
func NewScopedDirectory(root *looper.Group) *Directory {
	if root == nil {
		root = looper.MainGroup()
	}
	return &Directory{start: root}
}

// ListWorkerThreads returns a best-effort snapshot of the worker threads in
// the tree. Threads created during the walk may be missed and threads that
// exit during it may be included; later scans make up for both.
func (d *Directory) ListWorkerThreads() []Handle {
	root := d.start
	if d.climb {
		for root.Parent() != nil {
			root = root.Parent()
		}
	}

	// A full buffer means the snapshot may be truncated: grow and retry
	buf := make([]looper.Thread, root.ActiveCount()+1)
	n := root.Enumerate(buf, true)
	for n == len(buf) {
		buf = make([]looper.Thread, len(buf)*2)
		n = root.Enumerate(buf, true)
	}

	var workers []Handle
	for _, t := range buf[:n] {
		if ht, ok := t.(*looper.HandlerThread); ok {
			workers = append(workers, ht)
		}
	}
	return workers
}
