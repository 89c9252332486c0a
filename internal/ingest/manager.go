package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/WispAyr/overwatch-sub003/pkg/logging"
	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

// Manager owns every Source in the process: the Stream Ingestor's public
// surface (spec §4.1).
type Manager struct {
	logger    logging.Logger
	factory   TransportFactory
	onDropped func(sourceID string, dropped uint64)

	mu      sync.Mutex
	sources map[string]*Source
}

// NewManager creates a Manager. factory builds the Transport for a given
// source kind; onDropped, if non-nil, is invoked whenever a ring buffer
// overwrite occurs, feeding the drop-count metric named in spec §4.1.
func NewManager(factory TransportFactory, logger logging.Logger, onDropped func(sourceID string, dropped uint64)) *Manager {
	return &Manager{
		logger:    logger,
		factory:   factory,
		onDropped: onDropped,
		sources:   make(map[string]*Source),
	}
}

// Start is idempotent: starting an already-running source returns its
// existing handle rather than opening a second transport.
func (m *Manager) Start(ctx context.Context, cfg models.SourceConfig) (*Source, error) {
	m.mu.Lock()
	if existing, ok := m.sources[cfg.ID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	src := newSource(cfg, m.factory, m.logger)
	runCtx, cancel := context.WithCancel(context.Background())
	src.cancel = cancel
	src.done = make(chan struct{})
	m.sources[cfg.ID] = src
	m.mu.Unlock()

	go src.run(runCtx)
	if m.onDropped != nil {
		go m.watchDrops(runCtx, src)
	}
	return src, nil
}

// watchDrops periodically surfaces the ring buffer's drop counter so
// callers don't need to poll Source directly for metrics wiring.
func (m *Manager) watchDrops(ctx context.Context, src *Source) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	var last uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := src.ring.DroppedCount()
			if cur != last {
				m.onDropped(src.cfg.ID, cur)
				last = cur
			}
		}
	}
}

// Stop cancels decoding and releases the transport for a source, blocking
// until release or the given timeout elapses. The source's ring buffer is
// not drained; it is dropped along with the source.
func (m *Manager) Stop(id string, timeout time.Duration) error {
	m.mu.Lock()
	src, ok := m.sources[id]
	if ok {
		delete(m.sources, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("ingest: unknown source %q", id)
	}
	src.cancel()
	select {
	case <-src.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("ingest: stop of source %q timed out", id)
	}
}

// Subscribe adds a broadcast subscriber to a source's frame stream.
func (m *Manager) Subscribe(id, subscriberID string, queueDepth int) (<-chan models.Frame, func(), error) {
	src, ok := m.get(id)
	if !ok {
		return nil, nil, fmt.Errorf("ingest: unknown source %q", id)
	}
	ch, cancel := src.subscribe(subscriberID, queueDepth)
	return ch, cancel, nil
}

// Latest returns the most recent buffered frame for a source, non-blocking.
func (m *Manager) Latest(id string) (models.Frame, bool) {
	src, ok := m.get(id)
	if !ok {
		return models.Frame{}, false
	}
	return src.ring.Latest()
}

// Buffer returns the buffered frames covering the trailing duration window,
// used by recording actions for a pre-event clip.
func (m *Manager) Buffer(id string, window time.Duration) []models.Frame {
	src, ok := m.get(id)
	if !ok {
		return nil
	}
	all := src.ring.Snapshot()
	if window <= 0 || len(all) == 0 {
		return all
	}
	cutoff := all[len(all)-1].Timestamp.Add(-window)
	start := 0
	for i, f := range all {
		if !f.Timestamp.Before(cutoff) {
			start = i
			break
		}
	}
	return all[start:]
}

// Quality reopens a source's transport at a different stream variant.
// Previously buffered frames remain valid; subscribers experience a short
// gap while the new transport connects.
func (m *Manager) Quality(ctx context.Context, id string, level models.SourceQuality) error {
	src, ok := m.get(id)
	if !ok {
		return fmt.Errorf("ingest: unknown source %q", id)
	}
	src.mu.Lock()
	src.cfg.Quality = level
	transport := src.transport
	src.mu.Unlock()
	if transport != nil {
		return transport.Open(ctx, src.cfg.Location, level)
	}
	return nil
}

// State returns a source's current state machine position.
func (m *Manager) State(id string) (models.SourceState, bool) {
	src, ok := m.get(id)
	if !ok {
		return "", false
	}
	return src.State(), true
}

func (m *Manager) get(id string) (*Source, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[id]
	return src, ok
}
