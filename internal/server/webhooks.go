package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"taskboard/internal/config"
	"taskboard/internal/domain"
	"taskboard/internal/engine"
)

const (
	webhookPollInterval   = 2 * time.Second
	webhookDefaultTimeout = 5 * time.Second
	webhookBatchSize      = 100
)

// StartWebhookDispatcher begins background delivery of project events to
// the webhooks configured in taskboard.yml. It is a no-op when none are
// configured. Delivery stops when ctx is cancelled.
func StartWebhookDispatcher(ctx context.Context, e engine.Engine) {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return
	}
	projectID := strings.TrimSpace(e.Config.Project.ID)
	if projectID == "" {
		return
	}
	d := &webhookDispatcher{
		events:  e.Repo,
		project: projectID,
		hooks:   e.Config.Webhooks,
		client:  &http.Client{Timeout: webhookDefaultTimeout},
		cursors: make([]int64, len(e.Config.Webhooks)),
	}
	go d.run(ctx)
}

// webhookDispatcher polls the event log and posts new events to each
// configured hook. Cursors track the last delivered event id per hook;
// they start at the log head so only events after startup are sent.
type webhookDispatcher struct {
	events  eventSource
	project string
	hooks   []config.Webhook
	client  *http.Client
	cursors []int64
}

type eventSource interface {
	EventsAfter(ctx context.Context, limit int, afterID int64, projectID string) ([]domain.Event, error)
	LatestEventID(ctx context.Context, projectID string) (int64, error)
}

func (d *webhookDispatcher) run(ctx context.Context) {
	head, err := d.events.LatestEventID(ctx, d.project)
	if err != nil {
		log.Printf("webhook: init cursor failed: %v", err)
	}
	for i := range d.cursors {
		d.cursors[i] = head
	}
	ticker := time.NewTicker(webhookPollInterval)
	defer ticker.Stop()
	for {
		for i, hook := range d.hooks {
			if !hookEnabled(hook) {
				continue
			}
			d.deliver(ctx, i, hook)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func hookEnabled(hook config.Webhook) bool {
	if hook.Enabled != nil && !*hook.Enabled {
		return false
	}
	return strings.TrimSpace(hook.URL) != ""
}

// deliver sends pending events to one hook in order, stopping at the
// first failure so the cursor stays behind the undelivered event.
func (d *webhookDispatcher) deliver(ctx context.Context, idx int, hook config.Webhook) {
	events, err := d.events.EventsAfter(ctx, webhookBatchSize, d.cursors[idx], d.project)
	if err != nil {
		log.Printf("webhook: fetch events failed: %v", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		if filter.match(evt.Type) {
			if err := d.post(ctx, hook, evt); err != nil {
				log.Printf("webhook: deliver to %s failed: %v", hook.URL, err)
				return
			}
		}
		d.cursors[idx] = evt.ID
	}
}

type webhookDelivery struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	ProjectID  string          `json:"project_id"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

func (d *webhookDispatcher) post(ctx context.Context, hook config.Webhook, evt domain.Event) error {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	body, err := json.Marshal(webhookDelivery{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Taskboard-Event", evt.Type)
	req.Header.Set("X-Taskboard-Delivery", fmt.Sprintf("%d", evt.ID))
	req.Header.Set("X-Taskboard-Project", d.project)
	if s := strings.TrimSpace(hook.Secret); s != "" {
		req.Header.Set("X-Taskboard-Secret", s)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(types []string) eventFilter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			set[t] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(t string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[t]
	return ok
}
