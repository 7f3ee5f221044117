package notifier

import (
	"context"
	"time"

	"keel/internal/logger"
)

// Alerts renders keel incidents as structured pushes. A failed push is logged
// and dropped; alerting never feeds back into reconciliation.
type Alerts struct {
	sink  TextNotifier
	botID string
}

func NewAlerts(sink TextNotifier, botID string) *Alerts {
	return &Alerts{sink: sink, botID: botID}
}

// Alert pushes one incident.
func (a *Alerts) Alert(ctx context.Context, title, text string) {
	if a == nil || a.sink == nil {
		return
	}
	msg := StructuredMessage{
		Icon:  "⚠️",
		Title: title,
		Sections: []MessageSection{
			{Lines: []string{text}},
		},
		Footer:    "bot: " + a.botID,
		Timestamp: time.Now(),
	}
	if err := a.sink.SendText(ctx, msg.RenderMarkdown()); err != nil {
		logger.Warnf("notifier: push failed: %v", err)
	}
}
