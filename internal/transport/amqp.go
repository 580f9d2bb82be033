package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	mqcontracts "trainingportal/contracts/mq"
	"trainingportal/pkg/config"
)

// Publisher is the subset of mq.Publisher the AMQP transport needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// Deps carries what New may need for any driver.
type Deps struct {
	Logger    *zap.Logger
	SMTP      config.SMTPConfig
	Publisher Publisher
}

// AMQPTransport hands rendered mail to an external mailer over the topic exchange.
// A nil error means the broker accepted the message.
type AMQPTransport struct {
	publisher Publisher
	logger    *zap.Logger
}

func NewAMQPTransport(publisher Publisher, logger *zap.Logger) *AMQPTransport {
	return &AMQPTransport{publisher: publisher, logger: logger}
}

func (t *AMQPTransport) Name() string { return "amqp" }

func (t *AMQPTransport) Send(ctx context.Context, to, subject, htmlBody string) error {
	msg := mqcontracts.MailSendPayload{
		MessageID: uuid.NewString(),
		To:        to,
		Subject:   subject,
		HTMLBody:  htmlBody,
		CreatedAt: time.Now().UTC(),
	}
	if err := t.publisher.PublishWithContext(ctx, mqcontracts.RoutingKeyMailSend, msg); err != nil {
		return fmt.Errorf("publish %s: %w", mqcontracts.RoutingKeyMailSend, err)
	}
	t.logger.Debug("Mail published",
		zap.String("message_id", msg.MessageID),
		zap.String("to", to),
	)
	return nil
}
