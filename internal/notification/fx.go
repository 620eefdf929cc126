package notification

import (
	"strings"

	"github.com/smallbiznis/lifecycle/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification",
	fx.Provide(NewRenderer),
	fx.Provide(NewFromConfig),
)

// NewFromConfig selects the provider named by EMAIL_PROVIDER.
func NewFromConfig(cfg config.Config, renderer *Renderer, log *zap.Logger) Sender {
	emailCfg := cfg.Email
	switch strings.ToLower(strings.TrimSpace(emailCfg.Provider)) {
	case config.EmailProviderResend:
		if strings.TrimSpace(emailCfg.ResendAPIKey) == "" {
			log.Warn("resend selected without api key, notifications disabled")
			return NoOpSender{}
		}
		return NewRateLimited(NewResend(emailCfg.ResendAPIKey, emailCfg.From, renderer, log), emailCfg.RatePerSecond, 1)
	case config.EmailProviderSMTP:
		return NewRateLimited(NewSMTP(SMTPConfig{
			Host:     emailCfg.SMTPHost,
			Port:     emailCfg.SMTPPort,
			Username: emailCfg.SMTPUsername,
			Password: emailCfg.SMTPPassword,
			From:     emailCfg.From,
		}, renderer), emailCfg.RatePerSecond, 1)
	default:
		return NoOpSender{}
	}
}
