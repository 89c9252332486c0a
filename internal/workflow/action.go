package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/WispAyr/overwatch-sub003/internal/eventbus"
)

// ActionExecutor performs one fire-and-forget side effect for an action
// node's declared kind (email/webhook/record/alert/snapshot/log). The
// concrete senders (SMTP client, HTTP client, recorder, notifier) live
// outside this package; Instance.Start wires them in via config.
type ActionExecutor interface {
	Execute(ctx context.Context, kind string, cfg map[string]any, pkt Packet) error
}

// actionCircuitBreakers holds one circuit breaker per action node, keyed by
// workflow ID and node ID, so a persistently failing target (dead SMTP relay, unreachable
// webhook) stops being retried on every packet instead of blocking the
// node's worker goroutine on the full retry budget each time.
var (
	actionCircuitMu sync.Mutex
	actionCircuits  = map[string]circuitbreaker.CircuitBreaker[any]{}
)

func circuitStateName(s circuitbreaker.State) string {
	switch s {
	case circuitbreaker.ClosedState:
		return "closed"
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	default:
		return "unknown"
	}
}

func circuitFor(rt *nodeRuntime) circuitbreaker.CircuitBreaker[any] {
	key := rt.wf.wf.ID + "|" + rt.node.ID
	actionCircuitMu.Lock()
	defer actionCircuitMu.Unlock()
	if cb, ok := actionCircuits[key]; ok {
		return cb
	}
	nodeID := rt.node.ID
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureThresholdRatio(5, 10).
		WithDelay(15 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			if rt.wf.deps.Bus == nil {
				return
			}
			rt.wf.deps.Bus.Publish(eventbus.Event{
				Type:       eventbus.StatusUpdate,
				WorkflowID: rt.wf.wf.ID,
				NodeID:     nodeID,
				Timestamp:  time.Now(),
				Payload: map[string]string{
					"circuit": "action",
					"from":    circuitStateName(event.OldState),
					"to":      circuitStateName(event.NewState),
				},
			})
		}).
		Build()
	actionCircuits[key] = cb
	return cb
}

// actionNode runs the configured executor through a retry policy (default 3
// retries after the first attempt, exponential backoff) wrapping the node's
// circuit breaker, and returns the error on exhaustion so the runtime raises
// node_error (spec §4.5). The circuit breaker's state
// transitions are surfaced on the Event Bus as STATUS_UPDATE events so an
// operator can see a target has been tripped open without tailing logs.
func actionNode(ctx context.Context, rt *nodeRuntime, pkt Packet) error {
	executor, _ := rt.config["_executor"].(ActionExecutor)
	if executor == nil {
		return nil // no concrete side-effect wired; validated graphs still pass through cleanly in tests
	}
	kind, _ := rt.config["kind"].(string)

	retries := 3
	if v, ok := toFloat(rt.config["retries"]); ok {
		retries = int(v)
	}
	timeout := 10 * time.Second
	if v, ok := toFloat(rt.config["timeoutSec"]); ok {
		timeout = time.Duration(v) * time.Second
	}

	retry := retrypolicy.NewBuilder[any]().
		WithBackoff(200*time.Millisecond, 5*time.Second).
		WithMaxRetries(retries).
		Build()
	cb := circuitFor(rt)

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := failsafe.With(retry, cb).WithContext(callCtx).Get(func() (any, error) {
		return nil, executor.Execute(callCtx, kind, rt.config, pkt)
	})
	if err != nil {
		return fmt.Errorf("action node %s (%s): %w", rt.node.ID, kind, err)
	}
	return nil
}
