package notification

import (
	"context"

	"go.uber.org/zap"
)

type NoOpSender struct{}

func (NoOpSender) Send(context.Context, []string, string, string, map[string]any) error {
	return nil
}

// DryRunSender logs the intended delivery instead of sending it.
type DryRunSender struct {
	log *zap.Logger
}

func NewDryRun(log *zap.Logger) *DryRunSender {
	return &DryRunSender{log: log.Named("notification.dry_run")}
}

func (s *DryRunSender) Send(_ context.Context, recipients []string, subject, templateKey string, _ map[string]any) error {
	s.log.Info("notification.skipped",
		zap.String("template", templateKey),
		zap.String("subject", subject),
		zap.Strings("recipients", recipients),
	)
	return nil
}
