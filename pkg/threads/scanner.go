package threads

import (
	"context"
	"log/slog"

	"github.com/jrepp/prism-plumber/pkg/metrics"
)

// Scanner runs discovery and installation as one scan cycle. It owns its
// SeenTracker, so a Scanner must only be driven by one goroutine.
type Scanner struct {
	directory *Directory
	seen      *SeenTracker
	installer *Installer
	logger    *slog.Logger
	metrics   metrics.Collector
}

// NewScanner creates a scanner with an empty seen set
func NewScanner(directory *Directory, installer *Installer, logger *slog.Logger, mc metrics.Collector) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	if mc == nil {
		mc = metrics.NewNoopCollector()
	}

	return &Scanner{
		directory: directory,
		seen:      NewSeenTracker(),
		installer: installer,
		logger:    logger.With("component", "thread-scanner"),
		metrics:   mc,
	}
}

// ScanCycle instruments every worker thread not seen by an earlier cycle
func (s *Scanner) ScanCycle(ctx context.Context) error {
	all := s.directory.ListWorkerThreads()
	fresh := s.seen.FilterUnseen(all)

	for _, h := range fresh {
		s.installer.Install(h)
	}

	s.metrics.ScanCycle(len(all), len(fresh))
	if len(fresh) > 0 {
		s.logger.Debug("instrumented worker threads", "new", len(fresh), "total", s.seen.Len())
	}
	return nil
}

// Seen returns the scanner's seen set
func (s *Scanner) Seen() *SeenTracker {
	return s.seen
}
