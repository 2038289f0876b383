package mail

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net"
	netmail "net/mail"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/ariefcatur/go-canteen-orders/internal/config"
	"github.com/ariefcatur/go-canteen-orders/internal/logging"
)

type Message struct {
	To      string
	Subject string
	HTML    string
}

type Mailer interface {
	Send(ctx context.Context, m Message) error
}

type SMTPMailer struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

func (s *SMTPMailer) Send(ctx context.Context, m Message) error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("mail: empty recipient")
	}
	if _, err := netmail.ParseAddress(m.To); err != nil {
		return fmt.Errorf("mail: bad recipient %q: %w", m.To, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	var auth smtp.Auth
	if s.User != "" {
		auth = smtp.PlainAuth("", s.User, s.Pass, s.Host)
	}
	if err := smtp.SendMail(addr, auth, envelopeAddr(s.From), []string{m.To}, Compose(s.From, m)); err != nil {
		return fmt.Errorf("mail to %s: %w", m.To, err)
	}
	return nil
}

var stripLineBreaks = strings.NewReplacer("\r", "", "\n", "")

// Compose renders m as an RFC 5322 HTML message. The subject is sent as an
// RFC 2047 encoded word whenever it is not plain printable ASCII.
func Compose(from string, m Message) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", stripLineBreaks.Replace(from))
	fmt.Fprintf(&b, "To: %s\r\n", stripLineBreaks.Replace(m.To))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(m.HTML)
	return b.Bytes()
}

// envelopeAddr strips a display name: "Canteen <a@b>" -> "a@b".
func envelopeAddr(from string) string {
	if i := strings.LastIndex(from, "<"); i >= 0 {
		if j := strings.LastIndex(from, ">"); j > i {
			return from[i+1 : j]
		}
	}
	return strings.TrimSpace(from)
}

// LogMailer stands in when no SMTP server is configured: every message is
// logged and dropped.
type LogMailer struct {
	Service string
}

func (l *LogMailer) Send(ctx context.Context, m Message) error {
	logging.Log(logging.Fields{
		Service: l.Service, Step: "mail.send", Status: "disabled",
		Message: "mail disabled, dropping " + strconv.Quote(m.Subject) + " to " + m.To,
	})
	return nil
}

// FromConfig picks SMTP delivery when a host is configured.
func FromConfig(cfg config.Config) Mailer {
	if cfg.SMTPHost == "" {
		return &LogMailer{Service: cfg.ServiceName}
	}
	return &SMTPMailer{Host: cfg.SMTPHost, Port: cfg.SMTPPort, User: cfg.SMTPUser, Pass: cfg.SMTPPass, From: cfg.MailFrom}
}
