package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

func TestEventStoreFlushesOnBatchSize(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO events").WillReturnResult(sqlmock.NewResult(0, 2))

	s := NewEventStore(db, nil, EventStoreOptions{BatchSize: 2, FlushInterval: time.Hour, QueueCapacity: 8})
	s.Append(models.RawEvent{ID: "e1", Tenant: "t1", Site: "s1", Type: "x", ObservedAt: time.Now(), IngestedAt: time.Now()})
	s.Append(models.RawEvent{ID: "e2", Tenant: "t1", Site: "s1", Type: "x", ObservedAt: time.Now(), IngestedAt: time.Now()})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStoreFlushesOnTickerWithPartialBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO events").WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewEventStore(db, nil, EventStoreOptions{BatchSize: 50, FlushInterval: 20 * time.Millisecond, QueueCapacity: 8})
	s.Append(models.RawEvent{ID: "e1", Tenant: "t1", Site: "s1", Type: "x", ObservedAt: time.Now(), IngestedAt: time.Now()})

	require.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))
}

func TestEventStoreAppendDropsWhenQueueFull(t *testing.T) {
	// Construct directly without starting the run() goroutine so the queue
	// is never drained, making the drop path deterministic.
	s := &EventStore{queue: make(chan models.RawEvent, 1)}
	s.Append(models.RawEvent{ID: "e1"})
	s.Append(models.RawEvent{ID: "e2"})
	s.Append(models.RawEvent{ID: "e3"})
	assert.EqualValues(t, 2, s.Dropped())
}
