package app

import (
	"context"
	"errors"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/alerting"
)

// SimulateAlert sends a test notification through every configured channel.
func (a *App) SimulateAlert(ctx context.Context, message string) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	notifier := a.newNotifier()
	if notifier.Len() == 0 {
		return errors.New("no alert channel configured")
	}

	if message == "" {
		message = "simulated alert from corridorwatch"
	}
	return notifier.Notify(ctx, alerting.Notification{
		Kind:     alerting.KindSimulated,
		Detail:   message,
		Channels: a.Config.Alerting.Channels,
	})
}
