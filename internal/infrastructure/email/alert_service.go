package email

import (
	"context"
	"fmt"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"

	"github.com/simcorehq/admission/internal/core/ports"
)

// AlertConfig holds alert delivery configuration.
type AlertConfig struct {
	SendGridAPIKey string
	FromEmail      string
	FromName       string
	OpsEmail       string
}

// AlertService delivers quota alerts to the operations address via
// SendGrid.
type AlertService struct {
	config *AlertConfig
	logger *logrus.Logger
	client *sendgrid.Client
}

// NewAlertService creates a SendGrid-backed alert service. When no API key
// or ops address is configured it returns a no-op implementation, so
// callers never need to nil-check.
func NewAlertService(config *AlertConfig, logger *logrus.Logger) ports.AlertService {
	if config == nil || config.SendGridAPIKey == "" || config.OpsEmail == "" {
		if logger != nil {
			logger.Warn("alerts: sendgrid not configured, quota alerts disabled")
		}
		return &noopAlertService{logger: logger}
	}
	return &AlertService{
		config: config,
		logger: logger,
		client: sendgrid.NewSendClient(config.SendGridAPIKey),
	}
}

func (a *AlertService) QuotaStoreFailure(ctx context.Context, identity, resourceType string, cause error) error {
	subject := fmt.Sprintf("[admission] quota store failure (%s)", resourceType)
	body := fmt.Sprintf(
		"<p>The quota store was unreachable while checking <b>%s</b> for identity <b>%s</b>.</p>"+
			"<p>The request was admitted under the fail-open policy and is <b>not counted</b>.</p>"+
			"<p>Cause: %v</p><p>Time: %s</p>",
		resourceType, identity, cause, time.Now().UTC().Format(time.RFC3339))
	return a.send(subject, body)
}

func (a *AlertService) QuotaExhausted(ctx context.Context, identity, platform, resourceType string, limit int) error {
	subject := fmt.Sprintf("[admission] quota exhausted (%s/%s)", platform, resourceType)
	body := fmt.Sprintf(
		"<p>Identity <b>%s</b> reached its monthly limit of <b>%d</b> for %s on %s.</p>"+
			"<p>Further creations are rejected until the next period or a plan change.</p>",
		identity, limit, resourceType, platform)
	return a.send(subject, body)
}

func (a *AlertService) send(subject, htmlContent string) error {
	from := mail.NewEmail(a.config.FromName, a.config.FromEmail)
	recipient := mail.NewEmail("", a.config.OpsEmail)
	message := mail.NewSingleEmail(from, subject, recipient, "", htmlContent)

	response, err := a.client.Send(message)
	if err != nil {
		if a.logger != nil {
			a.logger.WithFields(logrus.Fields{"subject": subject}).WithError(err).Error("alerts: failed to send")
		}
		return err
	}
	if response.StatusCode >= 400 {
		if a.logger != nil {
			a.logger.WithFields(logrus.Fields{"subject": subject, "status": response.StatusCode}).Error("alerts: sendgrid rejected message")
		}
		return fmt.Errorf("sendgrid returned status %d", response.StatusCode)
	}
	return nil
}

type noopAlertService struct {
	logger *logrus.Logger
}

func (n *noopAlertService) QuotaStoreFailure(ctx context.Context, identity, resourceType string, cause error) error {
	if n.logger != nil {
		n.logger.WithFields(logrus.Fields{"identity": identity, "resource_type": resourceType}).WithError(cause).Warn("alerts(disabled): quota store failure")
	}
	return nil
}

func (n *noopAlertService) QuotaExhausted(ctx context.Context, identity, platform, resourceType string, limit int) error {
	if n.logger != nil {
		n.logger.WithFields(logrus.Fields{"identity": identity, "platform": platform, "resource_type": resourceType, "limit": limit}).Info("alerts(disabled): quota exhausted")
	}
	return nil
}
