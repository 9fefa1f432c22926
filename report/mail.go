package report

import (
	"crypto/tls"
	"fmt"
	"html"
	"strings"

	mail "github.com/go-mail/mail/v2"
)

// MailConfig configures mail delivery of the final retry report.
type MailConfig struct {
	SMTPHost          string `mapstructure:"smtp-host" yaml:"smtp-host"`
	SMTPPort          int    `mapstructure:"smtp-port" yaml:"smtp-port"`
	SMTPUser          string `mapstructure:"smtp-user" yaml:"smtp-user" json:"-"`
	SMTPPassword      string `mapstructure:"smtp-password" yaml:"smtp-password" json:"-"`
	SMTPTLSSkipVerify bool   `mapstructure:"smtp-tls-skip-verify" yaml:"smtp-tls-skip-verify"`
	EmailTo           string `mapstructure:"email-to" yaml:"email-to"`
	EmailFrom         string `mapstructure:"email-from" yaml:"email-from"`
	EmailSubject      string `mapstructure:"email-subject" yaml:"email-subject"`
}

// MailSink delivers the session's retry report by mail. NewMailSink returns
// nil when no SMTP host is configured.
type MailSink struct {
	MailConfig
}

func NewMailSink(c *MailConfig) *MailSink {
	if c == nil || c.SMTPHost == "" {
		return nil
	}
	return &MailSink{MailConfig: *c}
}

// Deliver sends the retry narrative. An empty narrative is not delivered.
func (m *MailSink) Deliver(sessionName, contents string) error {
	if contents == "" {
		return nil
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.EmailFrom)
	msg.SetHeader("To", strings.Split(m.EmailTo, ",")...)
	msg.SetHeader("Subject", m.subject(sessionName))
	msg.SetBody("text/html", m.body(sessionName, contents))

	d := mail.NewDialer(m.SMTPHost, m.SMTPPort, m.SMTPUser, m.SMTPPassword)
	d.TLSConfig = &tls.Config{
		InsecureSkipVerify: m.SMTPTLSSkipVerify, //nolint:gosec // operator opt-in for self-signed SMTP
		ServerName:         m.SMTPHost,
	}

	if err := d.DialAndSend(msg); err != nil {
		return fmt.Errorf("send retry report mail: %w", err)
	}
	return nil
}

func (m *MailSink) subject(sessionName string) string {
	if m.EmailSubject != "" {
		return m.EmailSubject
	}
	return fmt.Sprintf("Retry report for session %s", sessionName)
}

func (m *MailSink) body(sessionName, contents string) string {
	return fmt.Sprintf(
		"<h3>Flaky tests were retried in session %s</h3>\n<pre>\n%s</pre>\n",
		html.EscapeString(sessionName),
		html.EscapeString(contents),
	)
}
