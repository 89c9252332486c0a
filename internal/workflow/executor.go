package workflow

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"time"

	"github.com/WispAyr/overwatch-sub003/pkg/logging"
	"github.com/WispAyr/overwatch-sub003/pkg/models"
)

// EmailSender delivers action(email) messages.
type EmailSender interface {
	Send(ctx context.Context, to string, cc []string, subject, htmlBody string) error
}

// WebhookSender delivers action(webhook) payloads.
type WebhookSender interface {
	Send(ctx context.Context, url, method string, headers map[string]string, secretKey string, body []byte) error
}

// FrameBuffer is the subset of the Stream Ingestor the record action needs:
// the trailing buffered window for a source (spec §6 action(record)'s
// preBufferSec).
type FrameBuffer interface {
	Buffer(sourceID string, window time.Duration) []models.Frame
}

// MediaStore persists recorded/snapshotted media, keyed by an owning
// subject (normally the workflow+node pair that produced it) plus a kind
// tag; internal/store.LocalSnapshotStore satisfies this directly.
type MediaStore interface {
	Put(subject string, takenAt time.Time, kind string, data []byte) (key string, err error)
}

// DefaultExecutor implements ActionExecutor for every action(kind) in spec
// §6 against concrete, swappable collaborators. Any collaborator left nil
// makes that action kind a silent no-op rather than a panic, so a workflow
// can be exercised in an environment missing some of them (e.g. tests, or a
// deployment without an SMTP relay configured).
type DefaultExecutor struct {
	Email    EmailSender
	Webhook  WebhookSender
	Frames   FrameBuffer
	Media    MediaStore
	Notifier EventProjector // used by action(alert) to raise a correlator event
	Logger   logging.Logger
}

// Execute dispatches to the sender matching kind (spec §4.5/§6).
func (e *DefaultExecutor) Execute(ctx context.Context, kind string, cfg map[string]any, pkt Packet) error {
	switch kind {
	case "email":
		return e.execEmail(ctx, cfg, pkt)
	case "webhook":
		return e.execWebhook(ctx, cfg, pkt)
	case "record":
		return e.execRecord(cfg, pkt)
	case "snapshot":
		return e.execSnapshot(cfg, pkt)
	case "alert":
		return e.execAlert(cfg, pkt)
	case "log":
		return e.execLog(cfg, pkt)
	default:
		return fmt.Errorf("action executor: unknown kind %q", kind)
	}
}

func (e *DefaultExecutor) execEmail(ctx context.Context, cfg map[string]any, pkt Packet) error {
	if e.Email == nil {
		return nil
	}
	to, _ := cfg["to"].(string)
	subject, _ := cfg["subject"].(string)
	if subject == "" {
		subject = "Overwatch alert"
	}
	var cc []string
	if raw, ok := cfg["cc"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				cc = append(cc, s)
			}
		}
	}
	body := fmt.Sprintf("<p>%s</p><p>%d detection(s) at %s</p>", subject, len(pkt.Detections), time.Now().Format(time.RFC3339))
	return e.Email.Send(ctx, to, cc, subject, body)
}

func (e *DefaultExecutor) execWebhook(ctx context.Context, cfg map[string]any, pkt Packet) error {
	if e.Webhook == nil {
		return nil
	}
	url, _ := cfg["url"].(string)
	method, _ := cfg["method"].(string)
	secretKey, _ := cfg["secretKey"].(string)
	headers := map[string]string{}
	if raw, ok := cfg["headers"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}
	body, err := webhookPayload(pkt)
	if err != nil {
		return fmt.Errorf("action executor: encode webhook payload: %w", err)
	}
	return e.Webhook.Send(ctx, url, method, headers, secretKey, body)
}

func webhookPayload(pkt Packet) ([]byte, error) {
	return json.Marshal(pkt.Detections)
}

func (e *DefaultExecutor) execRecord(cfg map[string]any, pkt Packet) error {
	if e.Frames == nil || e.Media == nil || pkt.SourceID == "" {
		return nil
	}
	preSec, _ := toFloat(cfg["preBufferSec"])
	if preSec == 0 {
		preSec = 10
	}
	frames := e.Frames.Buffer(pkt.SourceID, time.Duration(preSec)*time.Second)
	if len(frames) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(frames); err != nil {
		return fmt.Errorf("action executor: encode recording: %w", err)
	}
	_, err := e.Media.Put(pkt.SourceID, time.Now(), "clip", buf.Bytes())
	return err
}

func (e *DefaultExecutor) execSnapshot(cfg map[string]any, pkt Packet) error {
	if e.Media == nil || pkt.Frame == nil {
		return nil
	}
	_, err := e.Media.Put(pkt.SourceID, time.Now(), "snapshot", pkt.Frame.Pixels)
	return err
}

func (e *DefaultExecutor) execAlert(cfg map[string]any, pkt Packet) error {
	if e.Notifier == nil {
		return nil
	}
	severity, _ := cfg["severity"].(string)
	message, _ := cfg["message"].(string)
	return e.Notifier.Project(CorrelatorPayload{
		DeviceID:   pkt.SourceID,
		Type:       "manual_alert",
		Confidence: 1,
		ObservedAt: time.Now(),
		Attributes: map[string]any{"severity": severity, "message": message},
	})
}

func (e *DefaultExecutor) execLog(cfg map[string]any, pkt Packet) error {
	if e.Logger == nil {
		return nil
	}
	e.Logger.WithField("detections", len(pkt.Detections)).Info("action(log): " + fmt.Sprint(cfg["message"]))
	return nil
}
