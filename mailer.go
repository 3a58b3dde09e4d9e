package auth

import "context"

// logMailer is the default Mailer: it prints the outbound message instead of
// delivering it, which keeps local development and tests self contained.
type logMailer struct {
	logger Logger
}

// NewLogMailer returns a Mailer that logs instead of sending.
func NewLogMailer(logger Logger) Mailer {
	if logger == nil {
		logger = defLogger{}
	}
	return logMailer{logger: logger}
}

func (m logMailer) SendVerificationEmail(_ context.Context, email, token string) error {
	m.logger.Info("verification email to %s: /verify-email/%s", email, token)
	return nil
}

func (m logMailer) SendPasswordResetEmail(_ context.Context, email, token string) error {
	m.logger.Info("password reset email to %s: /password-reset/%s", email, token)
	return nil
}

func normalizeMailer(m Mailer) Mailer {
	if m == nil {
		return NewLogMailer(nil)
	}
	return m
}
