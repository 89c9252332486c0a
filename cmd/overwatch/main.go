// Command overwatch wires the Stream Ingestor, Frame Router, Model
// Registry, Graph Validator, Workflow Engine, Event Bus, Event Correlator,
// Alarm Manager, and Persistence Layer into one running process. There is
// no HTTP/WebSocket API surface here (spec §1 non-goal) — workflows and
// sources are loaded from local JSON directories at startup, and the
// process runs until signalled to stop.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/WispAyr/overwatch-sub003/internal/alarm"
	"github.com/WispAyr/overwatch-sub003/internal/assets"
	"github.com/WispAyr/overwatch-sub003/internal/correlator"
	"github.com/WispAyr/overwatch-sub003/internal/devices"
	"github.com/WispAyr/overwatch-sub003/internal/eventbus"
	"github.com/WispAyr/overwatch-sub003/internal/graph"
	"github.com/WispAyr/overwatch-sub003/internal/ingest"
	"github.com/WispAyr/overwatch-sub003/internal/notify"
	"github.com/WispAyr/overwatch-sub003/internal/registry"
	"github.com/WispAyr/overwatch-sub003/internal/router"
	"github.com/WispAyr/overwatch-sub003/internal/store"
	"github.com/WispAyr/overwatch-sub003/internal/workflow"
	"github.com/WispAyr/overwatch-sub003/pkg/config"
	"github.com/WispAyr/overwatch-sub003/pkg/logging"
	overwatchredis "github.com/WispAyr/overwatch-sub003/pkg/redis"
)

func main() {
	logger := logging.NewLoggerWithComponent("overwatch")
	config.LoadEnv(logger)

	if err := run(logger); err != nil {
		logger.WithError(err).Fatal("overwatch exited with error")
	}
}

func run(logger logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	promReg := prometheus.NewRegistry()

	db, err := connectPostgres(logger)
	if err != nil {
		return err
	}
	defer db.Close()
	postgresStore := store.NewPostgresStore(db, logger)

	eventStore, closeEvents, err := connectClickHouse(logger)
	if err != nil {
		return err
	}
	if closeEvents != nil {
		defer closeEvents()
	}

	snapshotDir := config.GetEnv("OVERWATCH_SNAPSHOT_DIR", "./data/snapshots")
	snapshots, err := store.NewLocalSnapshotStore(snapshotDir)
	if err != nil {
		return fmt.Errorf("overwatch: snapshot store: %w", err)
	}

	deviceRegistry, err := devices.Load(config.GetEnv("OVERWATCH_DEVICES_FILE", ""))
	if err != nil {
		return err
	}
	assetIndex, err := assets.Load(config.GetEnv("OVERWATCH_ASSETS_FILE", ""))
	if err != nil {
		return err
	}

	dedup, closeDedup, err := buildDedupWindow(ctx, logger)
	if err != nil {
		return err
	}
	if closeDedup != nil {
		defer closeDedup()
	}

	bus := eventbus.New(config.GetEnvInt("OVERWATCH_EVENT_HISTORY", 0))

	alarmMgr := alarm.New(postgresStore, logger, alarm.DefaultSLAPolicy)
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				alarmMgr.WakeSnoozed(now)
			}
		}
	}()

	dedupWindow := config.GetEnvDuration("OVERWATCH_DEDUP_WINDOW", 0)
	sink := eventAppendingSink{events: eventStore, sink: alarmMgr}
	var corr *correlator.Correlator
	if dedup != nil {
		corr = correlator.NewWithDedup(deviceRegistry, assetIndex, nil, sink, correlator.DefaultScoreWeights, dedupWindow, dedup)
	} else {
		corr = correlator.New(deviceRegistry, assetIndex, nil, sink, correlator.DefaultScoreWeights, dedupWindow)
	}

	ingestMgr := ingest.NewManager(unconfiguredTransportFactory, logging.NewLoggerWithComponent("ingest"), func(sourceID string, dropped uint64) {
		logger.WithFields(logging.Fields{"source_id": sourceID, "dropped": dropped}).Warn("ring buffer overwrite")
	})

	frameRouter := router.New(ingestMgr, logging.NewLoggerWithComponent("router"), promReg)

	modelRegistry := registry.New(unimplementedEngineFactory, logging.NewLoggerWithComponent("registry"), defaultModelDescriptors())

	executor := &workflow.DefaultExecutor{
		Webhook:  notify.NewWebhookSender(),
		Frames:   ingestMgr,
		Media:    snapshots,
		Notifier: eventProjector{c: corr},
		Logger:   logging.NewLoggerWithComponent("action"),
	}
	// buildEmailSender may return nil when SMTP isn't configured; assigning
	// a nil *notify.EmailSender straight into the EmailSender interface
	// field would make a non-nil interface wrapping a nil pointer, so this
	// is only set when a real sender exists.
	if sender := buildEmailSender(); sender != nil {
		executor.Email = sender
	}

	engine := workflow.NewEngine(workflow.Deps{
		Router:         routerSource{r: frameRouter},
		Models:         modelCaller{reg: modelRegistry},
		Bus:            bus,
		Correlator:     eventProjector{c: corr},
		Logger:         logging.NewLoggerWithComponent("workflow"),
		Executor:       executor,
		BrightnessFunc: averageBrightness,
	}, postgresStore, graph.Validate)

	sources, err := loadSourceDir(config.GetEnv("OVERWATCH_SOURCES_DIR", "./sources"))
	if err != nil {
		return err
	}
	for _, src := range sources {
		if _, err := ingestMgr.Start(ctx, src); err != nil {
			logger.WithError(err).WithField("source_id", src.ID).Error("failed to start source")
		}
	}

	workflows, err := loadWorkflowDir(config.GetEnv("OVERWATCH_WORKFLOWS_DIR", "./workflows"))
	if err != nil {
		return err
	}
	for _, wf := range workflows {
		result, err := engine.Deploy(ctx, wf)
		if err != nil {
			logger.WithError(err).WithField("workflow_id", wf.ID).Error("failed to deploy workflow")
			continue
		}
		logger.WithFields(logging.Fields{"workflow_id": wf.ID, "version": wf.Version, "ok": result.OK()}).Info("workflow deployed")
	}

	logger.WithFields(logging.Fields{
		"sources":   len(sources),
		"workflows": len(workflows),
	}).Info("overwatch runtime started")

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")
	return nil
}

func connectPostgres(logger logging.Logger) (*sql.DB, error) {
	cfg := store.DefaultConfig()
	cfg.URL = config.RequireEnv("DATABASE_URL")
	db, err := store.Connect(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("overwatch: postgres: %w", err)
	}
	if _, err := db.Exec(store.Schema); err != nil {
		return nil, fmt.Errorf("overwatch: migrate postgres schema: %w", err)
	}
	return db, nil
}

// connectClickHouse wires the asynchronous events store. ClickHouse is
// optional: deployments that only need alarm state (no long-term raw event
// history) can leave CLICKHOUSE_ADDR unset.
func connectClickHouse(logger logging.Logger) (*store.EventStore, func(), error) {
	addr := config.GetEnv("CLICKHOUSE_ADDR", "")
	if addr == "" {
		logger.Info("CLICKHOUSE_ADDR not set, raw event history disabled")
		return nil, nil, nil
	}
	cfg := store.ClickHouseConfig{
		Addr:     strings.Split(addr, ","),
		Database: config.GetEnv("CLICKHOUSE_DATABASE", "default"),
		Username: config.GetEnv("CLICKHOUSE_USERNAME", "default"),
		Password: config.GetEnv("CLICKHOUSE_PASSWORD", ""),
	}
	db, err := store.ConnectClickHouse(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("overwatch: clickhouse: %w", err)
	}
	if _, err := db.Exec(store.EventSchema); err != nil {
		return nil, nil, fmt.Errorf("overwatch: migrate clickhouse schema: %w", err)
	}
	events := store.NewEventStore(db, logger, store.EventStoreOptions{})
	closeFn := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := events.Close(closeCtx); err != nil {
			logger.WithError(err).Warn("event store close failed")
		}
		db.Close()
	}
	return events, closeFn, nil
}

// buildDedupWindow returns the correlator's DedupWindow: Redis-backed when
// REDIS_ADDR is configured (so the window is shared across a horizontally
// scaled deployment), otherwise nil — NewWithDedup's caller substitutes the
// in-process default via correlator.New's behavior. The Frame Router's own
// per-process edge bookkeeping is deliberately left unshared: this runtime
// has no multi-process deployment topology for it to synchronize against.
func buildDedupWindow(ctx context.Context, logger logging.Logger) (correlator.DedupWindow, func(), error) {
	addr := config.GetEnv("REDIS_ADDR", "")
	if addr == "" {
		return nil, nil, nil
	}
	client, err := overwatchredis.NewClient(ctx, overwatchredis.Config{
		Addr:     addr,
		Username: config.GetEnv("REDIS_USERNAME", ""),
		Password: config.GetEnv("REDIS_PASSWORD", ""),
		DB:       config.GetEnvInt("REDIS_DB", 0),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("overwatch: redis: %w", err)
	}
	logger.WithField("addr", addr).Info("correlator dedup window backed by redis")
	return correlator.NewRedisDedup(client, ""), func() { client.Close() }, nil
}

func buildEmailSender() *notify.EmailSender {
	host := config.GetEnv("SMTP_HOST", "")
	if host == "" {
		return nil
	}
	return notify.NewEmailSender(notify.EmailConfig{
		Host:     host,
		Port:     config.GetEnv("SMTP_PORT", "587"),
		User:     config.GetEnv("SMTP_USER", ""),
		Password: config.GetEnv("SMTP_PASSWORD", ""),
		From:     config.GetEnv("SMTP_FROM", "overwatch@localhost"),
		FromName: config.GetEnv("SMTP_FROM_NAME", "Overwatch"),
	})
}
