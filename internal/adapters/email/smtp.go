package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/spec-kit/integration-service/internal/config"
	"github.com/spec-kit/integration-service/internal/transport"
	apperrors "github.com/spec-kit/integration-service/pkg/util"
)

// Sender submits a composed message to a mail relay.
type Sender interface {
	Send(ctx context.Context, from string, to []string, msg []byte) error
}

// SMTPSender submits over SMTP with implicit TLS or STARTTLS.
type SMTPSender struct {
	cfg config.EmailConfig
}

// NewSMTPSender returns a sender for cfg.
func NewSMTPSender(cfg config.EmailConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// Send dials the relay once and runs one SMTP transaction. Failures are
// classified for the retry policy: 4xx replies and network errors are
// transient, 5xx replies are permanent.
func (s *SMTPSender) Send(ctx context.Context, from string, to []string, msg []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)
	dialer := &net.Dialer{Timeout: 30 * time.Second}

	var conn net.Conn
	var err error
	if s.cfg.ImplicitTLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: s.cfg.Host}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return classify(fmt.Errorf("dial to %s: %w", addr, err))
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return classify(fmt.Errorf("creating SMTP client: %w", err))
	}
	defer client.Close()

	if !s.cfg.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
				return classify(fmt.Errorf("SMTP STARTTLS: %w", err))
			}
		}
	}
	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return classify(fmt.Errorf("SMTP auth: %w", err))
		}
	}

	if err := client.Mail(from); err != nil {
		return classify(fmt.Errorf("SMTP MAIL FROM: %w", err))
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return classify(fmt.Errorf("SMTP RCPT TO %s: %w", rcpt, err))
		}
	}
	writer, err := client.Data()
	if err != nil {
		return classify(fmt.Errorf("SMTP DATA: %w", err))
	}
	if _, err := writer.Write(msg); err != nil {
		return classify(fmt.Errorf("writing email body: %w", err))
	}
	if err := writer.Close(); err != nil {
		return classify(fmt.Errorf("closing email body: %w", err))
	}
	// The relay owns the message once DATA is accepted; a failed QUIT must
	// not trigger a resend.
	_ = client.Quit()
	return nil
}

// classify maps an SMTP or network failure onto the error taxonomy.
func classify(err error) error {
	var reply *textproto.Error
	if errors.As(err, &reply) {
		if reply.Code >= 400 && reply.Code < 500 {
			return transport.Retryable(err, 0)
		}
		return apperrors.NewPermanentRejection(err.Error(), reply.Code)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, net.ErrClosed) {
		return transport.Retryable(err, 0)
	}
	return err
}
