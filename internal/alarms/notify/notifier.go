package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	alarmapp "greenhouse-brain/internal/alarms/application"
	alarms "greenhouse-brain/internal/alarms/domain"
	"greenhouse-brain/internal/observability/metrics"
)

// Notification events.
const (
	EventDetected  = "detected"
	EventEscalated = "escalated"
)

// Clock provides time for cooldown and escalation tracking.
type Clock interface {
	Now() time.Time
}

// PlantNameResolver maps a plant id to a display name.
type PlantNameResolver func(ctx context.Context, plantID string) string

// ReportURLResolver provides a report link for an anomaly when available.
type ReportURLResolver func(ctx context.Context, event alarmapp.AnomalyEvent) string

type sendRecord struct {
	at   time.Time
	hash string
}

type activeRecord struct {
	firstSeen time.Time
	lastSeen  time.Time
	escalated bool
}

// Notifier renders anomalies and sends them over a channel. Anomalies that
// recommend notify, or reach the minimum severity, are sent. An anomaly that
// keeps firing past the escalation delay is sent once more as escalated.
type Notifier struct {
	channel      Channel
	channelName  string
	template     *Template
	minSeverity  alarms.Severity
	escalation   time.Duration
	clock        Clock
	logger       logrus.FieldLogger
	mu           sync.Mutex
	sent         map[string]sendRecord
	active       map[string]activeRecord
	cooldown     time.Duration
	dedupeWindow time.Duration
	plantName    PlantNameResolver
	reportURL    ReportURLResolver
}

// Option configures the notifier.
type Option func(*Notifier)

// WithMinSeverity sends every anomaly at or above severity.
func WithMinSeverity(severity alarms.Severity) Option {
	return func(n *Notifier) {
		if severity.Valid() {
			n.minSeverity = severity
		}
	}
}

// WithEscalation configures the escalation delay.
func WithEscalation(after time.Duration) Option {
	return func(n *Notifier) {
		if after > 0 {
			n.escalation = after
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same anomaly and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithPlantNameResolver injects a plant display name lookup.
func WithPlantNameResolver(resolver PlantNameResolver) Option {
	return func(n *Notifier) {
		if resolver != nil {
			n.plantName = resolver
		}
	}
}

// WithReportURLResolver injects a report link resolver.
func WithReportURLResolver(resolver ReportURLResolver) Option {
	return func(n *Notifier) {
		if resolver != nil {
			n.reportURL = resolver
		}
	}
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewNotifier constructs an anomaly notifier.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("anomaly notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	name := "channel"
	if named, ok := channel.(interface{ Name() string }); ok {
		name = named.Name()
	}
	n := &Notifier{
		channel:     channel,
		channelName: name,
		template:    template,
		minSeverity: alarms.SeverityError,
		clock:       systemClock{},
		logger:      logrus.StandardLogger(),
		sent:        make(map[string]sendRecord),
		active:      make(map[string]activeRecord),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements AnomalyNotifier.
func (n *Notifier) Notify(ctx context.Context, event alarmapp.AnomalyEvent) {
	if n == nil || n.channel == nil {
		return
	}
	if !n.wants(event.Anomaly) {
		return
	}
	key := anomalyKey(event)
	n.dispatch(ctx, key, EventDetected, event)
	if n.track(key) {
		n.dispatch(ctx, key, EventEscalated, event)
	}
}

func (n *Notifier) wants(anomaly alarms.Anomaly) bool {
	return anomaly.HasResponse(alarms.ResponseNotify) || anomaly.Severity >= n.minSeverity
}

// track records a sighting and reports whether the anomaly just crossed the
// escalation delay. A pause longer than the delay restarts the clock.
func (n *Notifier) track(key string) bool {
	if n.escalation <= 0 {
		return false
	}
	now := n.clock.Now().UTC()
	n.mu.Lock()
	defer n.mu.Unlock()
	record, ok := n.active[key]
	if !ok || now.Sub(record.lastSeen) > n.escalation {
		n.active[key] = activeRecord{firstSeen: now, lastSeen: now}
		return false
	}
	record.lastSeen = now
	escalate := !record.escalated && now.Sub(record.firstSeen) >= n.escalation
	if escalate {
		record.escalated = true
	}
	n.active[key] = record
	return escalate
}

func (n *Notifier) dispatch(ctx context.Context, key, eventType string, event alarmapp.AnomalyEvent) {
	data := n.buildTemplateData(ctx, eventType, event)
	content, err := n.template.Render(data)
	if err != nil {
		n.logger.WithError(err).Warn("render anomaly notification failed")
		return
	}
	if !n.shouldSend(key, eventType, content) {
		return
	}
	if err := n.channel.Send(ctx, content); err != nil {
		metrics.IncNotification(n.channelName, metrics.ResultError)
		n.logger.WithError(err).WithFields(logrus.Fields{
			"plant_id": event.PlantID,
			"type":     event.Anomaly.Type,
		}).Warn("send anomaly notification failed")
		return
	}
	metrics.IncNotification(n.channelName, metrics.ResultSuccess)
	n.markSent(key, eventType, content)
}

func (n *Notifier) buildTemplateData(ctx context.Context, eventType string, event alarmapp.AnomalyEvent) TemplateData {
	anomaly := event.Anomaly
	plant := event.PlantID
	if n.plantName != nil {
		if name := n.plantName(ctx, event.PlantID); name != "" {
			plant = name
		}
	}
	reportURL := ""
	if n.reportURL != nil {
		reportURL = n.reportURL(ctx, event)
	}
	return TemplateData{
		Plant:       plant,
		PlantID:     event.PlantID,
		Type:        anomaly.Type,
		Measurement: anomaly.Measurement,
		Value:       formatFloat(anomaly.Value),
		Threshold:   formatFloat(anomaly.Threshold),
		Severity:    anomaly.Severity.String(),
		Mode:        anomaly.DetectionMode,
		DetectedAt:  anomaly.Timestamp.UTC().Format(time.RFC3339),
		Description: anomaly.Description,
		Responses:   strings.Join(anomaly.RecommendedResponses, ", "),
		SafeMode:    anomaly.RequiresSafeMode,
		Suggestion:  suggestionFor(anomaly),
		ReportURL:   reportURL,
		Event:       eventType,
		EventLabel:  eventLabel(eventType),
	}
}

func eventLabel(event string) string {
	switch event {
	case EventDetected:
		return "Detected"
	case EventEscalated:
		return "Escalated"
	default:
		return event
	}
}

func suggestionFor(anomaly alarms.Anomaly) string {
	switch {
	case anomaly.RequiresSafeMode:
		return "Plant at risk: switch to safe mode and intervene now."
	case anomaly.Severity >= alarms.SeverityError:
		return "Investigate promptly and apply the recommended responses."
	case anomaly.Severity == alarms.SeverityWarn:
		return "Verify the condition and act if it persists."
	default:
		return "No action required."
	}
}

func formatFloat(value float64) string {
	return fmt.Sprintf("%.2f", value)
}

func (n *Notifier) shouldSend(key, eventType, content string) bool {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[notificationKey(key, eventType)]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(key, eventType, content string) {
	n.mu.Lock()
	n.sent[notificationKey(key, eventType)] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func anomalyKey(event alarmapp.AnomalyEvent) string {
	return event.PlantID + "|" + event.Anomaly.Type + "|" + event.Anomaly.Measurement
}

func notificationKey(key, eventType string) string {
	return key + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
