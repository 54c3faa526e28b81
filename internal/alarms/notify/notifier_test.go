package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	alarmapp "greenhouse-brain/internal/alarms/application"
	alarms "greenhouse-brain/internal/alarms/domain"
)

func soilLowEvent(at time.Time, severity alarms.Severity) alarmapp.AnomalyEvent {
	return alarmapp.AnomalyEvent{
		PlantID: "plant-1",
		Anomaly: alarms.Anomaly{
			SchemaVersion:        alarms.SchemaV1,
			ID:                   "a-1",
			PlantID:              "plant-1",
			Timestamp:            at,
			Severity:             severity,
			Type:                 alarms.TypeSoilMoistureLow,
			Measurement:          "soil_moisture_avg",
			Value:                18.5,
			Threshold:            25,
			RecommendedResponses: []string{alarms.ResponseIrrigate},
			DetectionMode:        alarms.ModeSustained,
		},
	}
}

func TestWebhookNotifierPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	tokenCh := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		tokenCh <- r.Header.Get("Authorization")
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL, WithHeader("Authorization", "Bearer hook"))
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	notifier, err := NewNotifier(
		channel,
		nil,
		WithPlantNameResolver(func(_ context.Context, plantID string) string {
			return "Basil " + plantID
		}),
		WithReportURLResolver(func(_ context.Context, _ alarmapp.AnomalyEvent) string {
			return "http://example.com/report"
		}),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), soilLowEvent(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), alarms.SeverityError))

	select {
	case payload := <-payloadCh:
		if payload.MsgType != "text" {
			t.Fatalf("expected msgtype text, got %s", payload.MsgType)
		}
		content := payload.Text.Content
		checks := []string{
			"[Anomaly Detected] ERROR soil_moisture_low",
			"Plant: Basil plant-1",
			"Measurement: soil_moisture_avg",
			"Value: 18.50",
			"Threshold: 25.00",
			"Detected At: 2026-03-01T08:00:00Z",
			"Mode: sustained",
			"Responses: irrigate",
			"Suggestion:",
			"Report: http://example.com/report",
		}
		for _, expected := range checks {
			if !strings.Contains(content, expected) {
				t.Fatalf("expected content to include %q, got %s", expected, content)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for webhook payload")
	}
	if token := <-tokenCh; token != "Bearer hook" {
		t.Fatalf("expected authorization header, got %q", token)
	}
}

type recordingChannel struct {
	mu       sync.Mutex
	contents []string
	err      error
}

func (r *recordingChannel) Send(_ context.Context, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.contents = append(r.contents, content)
	return nil
}

func (r *recordingChannel) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contents)
}

func (r *recordingChannel) Latest() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.contents) == 0 {
		return ""
	}
	return r.contents[len(r.contents)-1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestNotifierCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	notifier, err := NewNotifier(channel, nil, WithClock(clock), WithCooldown(10*time.Minute))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	ctx := context.Background()
	notifier.Notify(ctx, soilLowEvent(clock.Now(), alarms.SeverityError))
	clock.Add(5 * time.Minute)
	notifier.Notify(ctx, soilLowEvent(clock.Now(), alarms.SeverityError))
	if channel.Count() != 1 {
		t.Fatalf("expected 1 notification within cooldown, got %d", channel.Count())
	}

	clock.Add(6 * time.Minute)
	notifier.Notify(ctx, soilLowEvent(clock.Now(), alarms.SeverityError))
	if channel.Count() != 2 {
		t.Fatalf("expected 2 notifications after cooldown, got %d", channel.Count())
	}
}

func TestNotifierDedupeWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	notifier, err := NewNotifier(channel, nil, WithClock(clock), WithDedupeWindow(time.Hour))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	ctx := context.Background()
	at := clock.Now()
	notifier.Notify(ctx, soilLowEvent(at, alarms.SeverityError))
	clock.Add(time.Minute)
	notifier.Notify(ctx, soilLowEvent(at, alarms.SeverityError))
	if channel.Count() != 1 {
		t.Fatalf("expected identical content to be suppressed, got %d", channel.Count())
	}

	notifier.Notify(ctx, soilLowEvent(clock.Now(), alarms.SeverityError))
	if channel.Count() != 2 {
		t.Fatalf("expected changed content to be sent, got %d", channel.Count())
	}
}

func TestNotifierSeverityFilter(t *testing.T) {
	channel := &recordingChannel{}
	notifier, err := NewNotifier(channel, nil)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	notifier.Notify(ctx, soilLowEvent(at, alarms.SeverityWarn))
	if channel.Count() != 0 {
		t.Fatalf("expected WARN below default minimum to be skipped, got %d", channel.Count())
	}

	flagged := soilLowEvent(at, alarms.SeverityWarn)
	flagged.Anomaly.RecommendedResponses = append(flagged.Anomaly.RecommendedResponses, alarms.ResponseNotify)
	notifier.Notify(ctx, flagged)
	if channel.Count() != 1 {
		t.Fatalf("expected notify response to force delivery, got %d", channel.Count())
	}

	lenient, err := NewNotifier(channel, nil, WithMinSeverity(alarms.SeverityWarn))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	lenient.Notify(ctx, soilLowEvent(at, alarms.SeverityWarn))
	if channel.Count() != 2 {
		t.Fatalf("expected WARN to pass lowered minimum, got %d", channel.Count())
	}
}

func TestNotifierEscalation(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	notifier, err := NewNotifier(channel, nil,
		WithClock(clock),
		WithCooldown(time.Hour),
		WithEscalation(30*time.Minute),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 7; i++ {
		notifier.Notify(ctx, soilLowEvent(clock.Now(), alarms.SeverityError))
		clock.Add(5 * time.Minute)
	}
	if channel.Count() != 2 {
		t.Fatalf("expected detected and escalated notifications, got %d", channel.Count())
	}
	if !strings.Contains(channel.Latest(), "[Anomaly Escalated]") {
		t.Fatalf("expected escalation content, got %s", channel.Latest())
	}

	clock.Add(5 * time.Minute)
	notifier.Notify(ctx, soilLowEvent(clock.Now(), alarms.SeverityError))
	if channel.Count() != 2 {
		t.Fatalf("expected escalation to fire once, got %d", channel.Count())
	}
}

func TestNotifierSendFailure(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{err: errors.New("unreachable")}
	notifier, err := NewNotifier(channel, nil, WithClock(clock), WithCooldown(time.Hour))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	ctx := context.Background()
	notifier.Notify(ctx, soilLowEvent(clock.Now(), alarms.SeverityError))

	channel.mu.Lock()
	channel.err = nil
	channel.mu.Unlock()
	notifier.Notify(ctx, soilLowEvent(clock.Now(), alarms.SeverityError))
	if channel.Count() != 1 {
		t.Fatalf("expected failed send not to start cooldown, got %d", channel.Count())
	}
}

func TestMultiNotifierFansOut(t *testing.T) {
	first := &recordingChannel{}
	second := &recordingChannel{}
	a, err := NewNotifier(first, nil)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	b, err := NewNotifier(second, nil)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	multi := NewMultiNotifier(a, nil, b)
	multi.Notify(context.Background(), soilLowEvent(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), alarms.SeverityCrit))
	if first.Count() != 1 || second.Count() != 1 {
		t.Fatalf("expected both channels to receive, got %d and %d", first.Count(), second.Count())
	}
}
