// Package notification delivers templated messages to tenant owners and operators.
package notification

import (
	"context"
	"errors"
	"fmt"
)

const (
	TemplateRenewalReminder        = "renewal_reminder"
	TemplateAlertTriggered         = "alert_triggered"
	TemplateRetentionActive        = "retention_active"
	TemplateRetentionGraceReadonly = "retention_grace_readonly"
	TemplateRetentionArchived      = "retention_archived"
	TemplateRetentionPendingDelete = "retention_pending_delete"
)

// Sender delivers one rendered template to a set of recipients.
type Sender interface {
	Send(ctx context.Context, recipients []string, subject, templateKey string, data map[string]any) error
}

var (
	ErrDeliveryFailed  = errors.New("notification_delivery_failed")
	ErrNoRecipients    = errors.New("notification_no_recipients")
	ErrUnknownTemplate = errors.New("notification_unknown_template")
)

// DeliveryError wraps a provider failure for one template.
type DeliveryError struct {
	Template string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrDeliveryFailed, e.Template, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) Is(target error) bool { return target == ErrDeliveryFailed }

// NotificationFailure marks the error for job metrics classification.
func (e *DeliveryError) NotificationFailure() bool { return true }

func deliveryFailed(templateKey string, err error) error {
	if err == nil {
		return nil
	}
	return &DeliveryError{Template: templateKey, Err: err}
}
