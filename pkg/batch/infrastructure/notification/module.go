package notification

import (
	"go.uber.org/fx"

	config "github.com/tigerroll/swell/pkg/batch/core/config"
	"github.com/tigerroll/swell/pkg/batch/core/ports"
)

// NewFxNotifier selects the Notifier implementation from configuration.
// A configured webhook endpoint enables HTTP delivery; anything else falls
// back to log-only notifications.
func NewFxNotifier(cfg *config.Config) ports.Notifier {
	if cfg.Swell.Alerting.Enabled && cfg.Swell.Alerting.WebhookURL != "" {
		return NewWebhookNotifier(cfg)
	}
	return NewLoggingNotifier()
}

// Module provides the concrete Notifier implementation.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewFxNotifier,
		fx.As(new(ports.Notifier)),
	)),
)
