// Package ingest implements the Stream Ingestor (spec §4.1): one long-lived
// task per source that owns a transport connection, decodes frames onto a
// ring buffer, and broadcasts them to subscribers without blocking on slow
// consumers.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/WispAyr/overwatch-sub003/pkg/logging"
	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

// ErrSourceUnreachable is returned (and reported) after the reconnect
// backoff budget is exhausted.
var ErrSourceUnreachable = errors.New("ingest: source unreachable")

// Transport decodes frames from a source's underlying connection. It is the
// pluggable boundary spec §1 carves out for codec libraries: Overwatch's
// core never implements a decoder itself.
type Transport interface {
	// Open establishes the connection for the given location/quality.
	Open(ctx context.Context, location string, quality models.SourceQuality) error
	// Next blocks until the next frame is available or ctx is cancelled, or
	// returns an error on a decode/read failure.
	Next(ctx context.Context) (models.Frame, error)
	// Close releases any transport resources.
	Close() error
}

// TransportFactory builds a fresh Transport for a source kind.
type TransportFactory func(kind models.SourceKind) (Transport, error)

const (
	maxReconnectBackoff   = 30 * time.Second
	maxConsecutiveDecodeErrs = 10
	defaultMaxRetries       = 8
)

type subscription struct {
	id     string
	ch     chan models.Frame
	cancel context.CancelFunc
}

// Source is one running instance of the Stream Ingestor's state machine for
// a single configured source.
type Source struct {
	cfg    models.SourceConfig
	logger logging.Logger

	mu            sync.RWMutex
	state         models.SourceState
	subscribers   map[string]*subscription
	consecutiveErrs int
	retries       int
	lastErr       error

	ring *ringBuffer

	transport     Transport
	transportFactory TransportFactory

	cancel context.CancelFunc
	done   chan struct{}
}

// newSource constructs a Source in INIT state; it does not start decoding
// until Start is called by the Manager.
func newSource(cfg models.SourceConfig, factory TransportFactory, logger logging.Logger) *Source {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 300
	}
	return &Source{
		cfg:              cfg,
		logger:           logger.WithField("source_id", cfg.ID).Logger,
		state:            models.SourceInit,
		subscribers:      make(map[string]*subscription),
		ring:             newRingBuffer(cfg.BufferSize),
		transportFactory: factory,
	}
}

// State returns the current state machine position.
func (s *Source) State() models.SourceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Source) setState(state models.SourceState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// run is the decode loop: open transport, decode frames, publish, reconnect
// on error with exponential backoff, until ctx is cancelled or the retry
// budget is exhausted.
func (s *Source) run(ctx context.Context) {
	defer close(s.done)
	attempt := 0
	for {
		if ctx.Err() != nil {
			s.setState(models.SourceStopped)
			return
		}
		s.setState(models.SourceConnecting)
		transport, err := s.transportFactory(s.cfg.Kind)
		if err != nil {
			s.fail(err)
			return
		}
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = transport.Open(connectCtx, s.cfg.Location, s.cfg.Quality)
		cancel()
		if err != nil {
			if !s.backoff(ctx, &attempt) {
				s.fail(fmt.Errorf("%w: %v", ErrSourceUnreachable, err))
				return
			}
			continue
		}
		s.mu.Lock()
		s.transport = transport
		s.mu.Unlock()
		s.setState(models.SourceStreaming)
		attempt = 0

		decodeErr := s.decodeLoop(ctx, transport)
		transport.Close()
		if ctx.Err() != nil {
			s.setState(models.SourceStopped)
			return
		}
		if decodeErr != nil {
			s.logger.WithError(decodeErr).Warn("decode loop ended, reconnecting")
		}
		if !s.backoff(ctx, &attempt) {
			s.fail(fmt.Errorf("%w: retry budget exhausted", ErrSourceUnreachable))
			return
		}
	}
}

// decodeLoop pulls frames until a threshold of consecutive decode errors is
// hit, at which point it returns to trigger a reconnect (spec §4.1: ">K
// consecutive triggers reconnect").
func (s *Source) decodeLoop(ctx context.Context, transport Transport) error {
	var seq uint64
	for {
		frame, err := transport.Next(ctx)
		if err != nil {
			s.mu.Lock()
			s.consecutiveErrs++
			exceeded := s.consecutiveErrs > maxConsecutiveDecodeErrs
			s.mu.Unlock()
			if exceeded {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		s.mu.Lock()
		s.consecutiveErrs = 0
		s.mu.Unlock()

		seq++
		frame.SourceID = s.cfg.ID
		frame.Sequence = seq
		s.publish(frame)
	}
}

// publish writes the frame to the ring buffer and offers it to every
// subscriber without blocking: a full subscriber channel drops the frame for
// that subscriber rather than stalling the decode loop (spec §4.1: "decode
// runs on a dedicated worker thread; the loop must not be blocked by slow
// consumers").
func (s *Source) publish(frame models.Frame) {
	s.ring.Push(frame)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subscribers {
		select {
		case sub.ch <- frame:
		default:
		}
	}
}

// backoff sleeps for an exponentially increasing duration capped at 30s,
// and reports whether another attempt should be made.
func (s *Source) backoff(ctx context.Context, attempt *int) bool {
	s.setState(models.SourceReconnecting)
	s.mu.Lock()
	s.retries++
	retries := s.retries
	s.mu.Unlock()
	if retries > defaultMaxRetries {
		return false
	}
	delay := time.Duration(math.Min(
		float64(maxReconnectBackoff),
		float64(time.Second)*math.Pow(2, float64(*attempt)),
	))
	*attempt++
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Source) fail(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.setState(models.SourceFailed)
	s.logger.WithError(err).Error("source failed permanently")
}

// LastError returns the error that moved this source into FAILED, if any.
func (s *Source) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// subscribe registers a new broadcast subscriber and returns its channel.
// queueDepth bounds how far the subscriber may lag before frames are
// dropped for it specifically.
func (s *Source) subscribe(subscriberID string, queueDepth int) (<-chan models.Frame, func()) {
	if queueDepth <= 0 {
		queueDepth = 32
	}
	ch := make(chan models.Frame, queueDepth)
	sub := &subscription{id: subscriberID, ch: ch}
	s.mu.Lock()
	s.subscribers[subscriberID] = sub
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.subscribers, subscriberID)
		s.mu.Unlock()
		close(ch)
	}
	return ch, cancel
}

// NewSubscriberID generates a unique handle for an anonymous subscription,
// shared with the Frame Router so edge subscriber IDs never collide with a
// direct ingest-level subscription.
func NewSubscriberID() string {
	return uuid.NewString()
}
