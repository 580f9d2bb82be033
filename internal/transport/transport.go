// Package transport sends rendered mail over SMTP, AMQP, or the log.
package transport

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trainingportal/pkg/metrics"
)

// Transport delivers one rendered email.
type Transport interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
	Name() string
}

// LogTransport writes mail to the logger instead of sending it.
type LogTransport struct {
	logger *zap.Logger
}

func NewLogTransport(logger *zap.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Name() string { return "log" }

func (t *LogTransport) Send(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.logger.Info("Mail send (log transport)",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(htmlBody)),
	)
	return nil
}

// Instrumented records send latency and outcome per transport.
type Instrumented struct {
	next Transport
}

func NewInstrumented(next Transport) *Instrumented {
	return &Instrumented{next: next}
}

func (t *Instrumented) Name() string { return t.next.Name() }

func (t *Instrumented) Send(ctx context.Context, to, subject, htmlBody string) error {
	start := time.Now()
	err := t.next.Send(ctx, to, subject, htmlBody)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordTransportSend(t.next.Name(), status, time.Since(start))
	return err
}

// New builds the transport named by driver. deps must carry what the driver needs.
func New(driver string, deps Deps) (Transport, error) {
	switch driver {
	case "log":
		return NewLogTransport(deps.Logger), nil
	case "smtp":
		return NewSMTPTransport(deps.SMTP), nil
	case "amqp":
		if deps.Publisher == nil {
			return nil, fmt.Errorf("amqp transport requires a publisher")
		}
		return NewAMQPTransport(deps.Publisher, deps.Logger), nil
	default:
		return nil, fmt.Errorf("unknown transport driver %q", driver)
	}
}
