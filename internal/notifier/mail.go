package notifier

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/pilot-net/urlcheck/internal/secrets"
	"github.com/pilot-net/urlcheck/pkg/types"
)

// MailSender delivers alert events by SMTP-over-TLS. The password is
// resolved through the credential store rather than read from plaintext
// YAML, by name (passwordSecretRef).
type MailSender struct {
	host            string
	port            string
	username        string
	passwordSecretRef string
	from            string
	to              []string
	credentials     secrets.CredentialStore
}

// NewMailSender builds a sender for the given SMTP host.
func NewMailSender(host, port, username, passwordSecretRef, from string, to []string, credentials secrets.CredentialStore) *MailSender {
	return &MailSender{
		host: host, port: port, username: username,
		passwordSecretRef: passwordSecretRef, from: from, to: to,
		credentials: credentials,
	}
}

func (m *MailSender) Kind() types.ChannelKind { return types.ChannelMail }

// Send delivers event as a plain-text email to every configured recipient.
func (m *MailSender) Send(ctx context.Context, event types.AlertEvent) error {
	subject := fmt.Sprintf("[url-check] %s %s", event.Kind.DisplayName(), event.TaskName)
	return m.SendRaw(ctx, m.to, subject, event.Message)
}

// SendReport delivers the aggregated report body to the configured
// recipients, satisfying report.Sender.
func (m *MailSender) SendReport(ctx context.Context, subject, body string) error {
	return m.SendRaw(ctx, m.to, subject, body)
}

// SendRaw delivers an ad-hoc subject/body to the given recipients, used by
// both the Notifier's mail channel and the /sender/mail admin endpoint.
func (m *MailSender) SendRaw(ctx context.Context, to []string, subject, body string) error {
	password := ""
	if m.passwordSecretRef != "" && m.credentials != nil {
		var err error
		password, err = m.credentials.GetSecret(ctx, m.passwordSecretRef)
		if err != nil {
			return fmt.Errorf("resolving smtp password: %w", err)
		}
	}

	auth := smtp.PlainAuth("", m.username, password, m.host)

	msg := buildMessage(m.from, to, subject, body)

	addr := net.JoinHostPort(m.host, m.port)
	tlsConfig := &tls.Config{ServerName: m.host}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("dialing smtp tls: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, m.host)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	defer client.Close()

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := client.Mail(m.from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			return fmt.Errorf("smtp rcpt to %q: %w", addr, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("writing smtp body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing smtp data writer: %w", err)
	}
	return client.Quit()
}

func buildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
