package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/WispAyr/overwatch-sub003/pkg/logging"
	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

// ClickHouseConfig holds ClickHouse connection configuration.
type ClickHouseConfig struct {
	Addr     []string
	Database string
	Username string
	Password string
	Debug    bool
}

// DefaultClickHouseConfig matches a local single-node deployment.
func DefaultClickHouseConfig() ClickHouseConfig {
	return ClickHouseConfig{Addr: []string{"127.0.0.1:9000"}, Database: "default", Username: "default"}
}

// ConnectClickHouse opens the database/sql-compatible ClickHouse connection
// used for both the batched event writer and ad-hoc SELECT queries.
func ConnectClickHouse(cfg ClickHouseConfig, logger logging.Logger) (*sql.DB, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{Database: cfg.Database, Username: cfg.Username, Password: cfg.Password},
		Debug: cfg.Debug,
	})
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping clickhouse: %w", err)
	}
	if logger != nil {
		logger.WithFields(logging.Fields{"addr": cfg.Addr, "database": cfg.Database}).Info("persistence layer connected to clickhouse")
	}
	return conn, nil
}

// EventSchema is the append-only table backing raw and correlated events
// (spec §4.9: "events" store, asynchronous/batched writes).
const EventSchema = `
CREATE TABLE IF NOT EXISTS events (
	id          String,
	tenant      String,
	site        String,
	area        String,
	type        String,
	device_id   String,
	observed_at DateTime64(3),
	ingested_at DateTime64(3),
	attributes  String,
	tags        String
) ENGINE = MergeTree ORDER BY (tenant, site, observed_at)
`

const (
	defaultBatchSize     = 200
	defaultFlushInterval = 2 * time.Second
	defaultQueueCapacity = 4096
)

// EventStoreOptions tunes the batching behavior of EventStore.
type EventStoreOptions struct {
	BatchSize     int
	FlushInterval time.Duration
	QueueCapacity int
}

// EventStore batches RawEvents in memory and flushes them to ClickHouse
// asynchronously, matching spec §4.9's "asynchronous/batched for raw
// events" (as opposed to the Alarm Manager's synchronous Postgres writes).
// The in-memory queue is bounded; once full, new events are dropped
// (drop-newest, spec §5: "event queues default to drop-newest, with
// surfaced error") and counted so callers can alert on sustained overflow.
type EventStore struct {
	db     *sql.DB
	logger logging.Logger
	opts   EventStoreOptions

	queue  chan models.RawEvent
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	dropped uint64
}

// NewEventStore starts the background flush loop. Close must be called to
// drain the queue and release the loop on shutdown.
func NewEventStore(db *sql.DB, logger logging.Logger, opts EventStoreOptions) *EventStore {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = defaultQueueCapacity
	}
	s := &EventStore{
		db:     db,
		logger: logger,
		opts:   opts,
		queue:  make(chan models.RawEvent, opts.QueueCapacity),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Append enqueues e for the next batch flush. Non-blocking: a full queue
// drops the event and increments the dropped counter rather than stalling
// the correlator that produced it.
func (s *EventStore) Append(e models.RawEvent) {
	select {
	case s.queue <- e:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		if s.logger != nil {
			s.logger.WithField("group_key", e.GroupKey()).Warn("event store queue full, dropping event")
		}
	}
}

// Dropped reports the number of events dropped due to a full queue.
func (s *EventStore) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *EventStore) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]models.RawEvent, 0, s.opts.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.flush(batch); err != nil && s.logger != nil {
			s.logger.WithError(err).Warn("event batch flush failed")
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-s.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= s.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.done:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case e := <-s.queue:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close stops accepting new flush ticks, drains the queue, and waits for
// the final flush (spec §5 cancellation: "flush in-flight I/O with a
// bounded deadline, then abort").
func (s *EventStore) Close(ctx context.Context) error {
	close(s.done)
	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *EventStore) flush(batch []models.RawEvent) error {
	if s.db == nil {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO events (id, tenant, site, area, type, device_id, observed_at, ingested_at, attributes, tags) VALUES ")
	args := make([]any, 0, len(batch)*10)
	for i, e := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?,?,?,?,?,?,?,?,?,?)")
		attrs, _ := json.Marshal(e.Attributes)
		tags, _ := json.Marshal(e.Tags)
		args = append(args, e.ID, e.Tenant, e.Site, e.Area, e.Type, e.DeviceID, e.ObservedAt, e.IngestedAt, string(attrs), string(tags))
	}
	_, err := s.db.ExecContext(context.Background(), sb.String(), args...)
	if err != nil {
		return fmt.Errorf("store: flush %d events: %w", len(batch), err)
	}
	return nil
}
