package email

import (
	"context"
	"fmt"
	"net/smtp"

	"go.uber.org/zap"
)

type SMTPNotifier struct {
	host   string
	port   int
	from   string
	logger *zap.Logger
}

func NewSMTPNotifier(host string, port int, from string, logger *zap.Logger) *SMTPNotifier {
	return &SMTPNotifier{host: host, port: port, from: from, logger: logger}
}

// NotifyFailure tells the requester that a training run gave up.
func (n *SMTPNotifier) NotifyFailure(_ context.Context, to, runID, errorMsg string) error {
	addr := fmt.Sprintf("%s:%d", n.host, n.port)
	msg := composeFailure(n.from, to, runID, errorMsg)

	if err := smtp.SendMail(addr, nil, n.from, []string{to}, msg); err != nil {
		n.logger.Error("failed to send failure notification email",
			zap.String("to", to),
			zap.String("run_id", runID),
			zap.Error(err),
		)
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("failure notification email sent",
		zap.String("to", to),
		zap.String("run_id", runID),
	)
	return nil
}

func composeFailure(from, to, runID, errorMsg string) []byte {
	subject := fmt.Sprintf("sife-net - Training Run Failed [Run %s]", runID)
	body := fmt.Sprintf(
		"Hello,\r\n\r\n"+
			"Your training run has permanently failed after all retry attempts.\r\n\r\n"+
			"Run ID: %s\r\n"+
			"Error: %s\r\n\r\n"+
			"Checkpoints saved before the failure remain in the checkpoint bucket under the run ID.\r\n\r\n"+
			"-- sife-net trainer",
		runID, errorMsg,
	)
	return []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", from, to, subject, body))
}
