package notify

import (
	"context"

	alarmapp "greenhouse-brain/internal/alarms/application"
)

// MultiNotifier dispatches anomaly events to multiple notifiers.
type MultiNotifier struct {
	notifiers []alarmapp.AnomalyNotifier
}

// NewMultiNotifier constructs a MultiNotifier.
func NewMultiNotifier(notifiers ...alarmapp.AnomalyNotifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Notify forwards events to all notifiers.
func (m *MultiNotifier) Notify(ctx context.Context, event alarmapp.AnomalyEvent) {
	if m == nil {
		return
	}
	for _, notifier := range m.notifiers {
		if notifier != nil {
			notifier.Notify(ctx, event)
		}
	}
}
