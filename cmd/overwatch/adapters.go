package main

import (
	"github.com/WispAyr/overwatch-sub003/internal/correlator"
	"github.com/WispAyr/overwatch-sub003/internal/registry"
	"github.com/WispAyr/overwatch-sub003/internal/router"
	"github.com/WispAyr/overwatch-sub003/internal/store"
	"github.com/WispAyr/overwatch-sub003/internal/workflow"
	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

// routerSource adapts *router.Router to workflow.FrameSource. The two
// packages keep distinct EdgeConfig types (router.EdgeConfig, which the
// Frame Router's pump loop owns, vs workflow.FrameRouterEdgeConfig, which
// lets the workflow package avoid importing router) so this is where they
// get reconciled.
type routerSource struct {
	r *router.Router
}

func (a routerSource) AddEdge(edgeKey string, cfg workflow.FrameRouterEdgeConfig) (<-chan models.Frame, func(), error) {
	return a.r.AddEdge(edgeKey, router.EdgeConfig{
		SourceID:   cfg.SourceID,
		WorkflowID: cfg.WorkflowID,
		TargetFPS:  float64(cfg.TargetFPS),
		QueueDepth: cfg.QueueDepth,
		DropPolicy: cfg.DropPolicy,
	})
}

// modelCaller adapts *registry.Registry to workflow.ModelCaller. Acquire's
// concrete *registry.Handle already satisfies workflow.ModelHandle; Go's
// implicit interface satisfaction only kicks in at the declared return
// type, so the adapter exists purely to convert *Handle -> ModelHandle.
type modelCaller struct {
	reg *registry.Registry
}

func (a modelCaller) Acquire(modelID string, config map[string]any) (workflow.ModelHandle, error) {
	h, err := a.reg.Acquire(modelID, config)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// eventProjector adapts *correlator.Correlator to workflow.EventProjector,
// translating the sink-node payload shape and discarding the
// (*models.Alarm, isNew) results a workflow node has no use for.
type eventProjector struct {
	c *correlator.Correlator
}

func (a eventProjector) Project(p workflow.CorrelatorPayload) error {
	_, _, err := a.c.Project(correlator.DetectionPayload{
		DeviceID:   p.DeviceID,
		Type:       p.Type,
		Confidence: p.Confidence,
		ObservedAt: p.ObservedAt,
		Location:   p.Location,
		Attributes: p.Attributes,
		Media:      p.Media,
	})
	return err
}

// eventAppendingSink composes the Alarm Manager with the batched event
// store so a correlated event is both appended to the asynchronous events
// table and forwarded synchronously into alarm state (spec §4.9: raw/
// correlated events batched, alarm mutations synchronous). Kept as a
// wiring-time decorator rather than a correlator dependency, since the
// correlator itself only needs an AlarmSink.
type eventAppendingSink struct {
	events *store.EventStore
	sink   correlator.AlarmSink
}

func (s eventAppendingSink) Ingest(e models.RawEvent, score float64) (*models.Alarm, error) {
	if s.events != nil {
		s.events.Append(e)
	}
	return s.sink.Ingest(e, score)
}
