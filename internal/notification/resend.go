package notification

import (
	"context"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
)

type ResendSender struct {
	client   *resend.Client
	from     string
	renderer *Renderer
	log      *zap.SugaredLogger
}

func NewResend(apiKey, from string, renderer *Renderer, log *zap.Logger) *ResendSender {
	return &ResendSender{
		client:   resend.NewClient(apiKey),
		from:     from,
		renderer: renderer,
		log:      log.Named("notification.resend").Sugar(),
	}
}

func (p *ResendSender) Send(ctx context.Context, recipients []string, subject, templateKey string, data map[string]any) error {
	if len(recipients) == 0 {
		return ErrNoRecipients
	}
	html, err := p.renderer.Render(templateKey, data)
	if err != nil {
		return err
	}

	resp, err := p.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    p.from,
		To:      recipients,
		Subject: subject,
		Html:    html,
	})
	if err != nil {
		p.log.Errorw("failed to send email",
			"error", err,
			"template", templateKey,
			"recipients", len(recipients),
		)
		return deliveryFailed(templateKey, err)
	}

	p.log.Debugw("email sent",
		"message_id", resp.Id,
		"template", templateKey,
	)
	return nil
}
