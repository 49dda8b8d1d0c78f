package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"newstrace/internal/config"
	"newstrace/internal/security"
)

// EmailNotifier sends notifications over SMTP. Port 465 uses implicit TLS;
// other ports use smtp.SendMail, which upgrades with STARTTLS when offered.
type EmailNotifier struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       []string
	enabled  bool
}

// NewEmailNotifier creates a new EmailNotifier. To may hold several
// comma-separated recipients.
func NewEmailNotifier(cfg config.EmailConfig) *EmailNotifier {
	var to []string
	for _, addr := range strings.Split(cfg.To, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	return &EmailNotifier{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		to:       to,
		enabled:  cfg.Enabled && cfg.SMTPHost != "" && cfg.From != "" && len(to) > 0,
	}
}

func (e *EmailNotifier) Name() string    { return "email" }
func (e *EmailNotifier) IsEnabled() bool { return e.enabled }

// Send delivers n as a plain-text mail.
func (e *EmailNotifier) Send(ctx context.Context, n Notification) error {
	if !e.enabled {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(e.host, strconv.Itoa(e.port))
	var auth smtp.Auth
	if e.username != "" && e.password != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.host)
	}

	msg := buildMessage(e.from, e.to, n)
	var err error
	if e.port == 465 {
		err = e.sendTLS(addr, auth, msg)
	} else {
		err = smtp.SendMail(addr, auth, e.from, e.to, msg)
	}
	if err != nil {
		return fmt.Errorf("smtp %s: %s", addr, security.MaskString(err.Error()))
	}
	return nil
}

func buildMessage(from string, to []string, n Notification) []byte {
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(n.Level)), n.Title)
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", strings.NewReplacer("\r", " ", "\n", " ").Replace(subject))
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(n.Message, "\n", "\r\n"))
	fmt.Fprintf(&b, "\r\n\r\nSent: %s\r\n", n.Timestamp.Format(time.RFC3339))
	return []byte(b.String())
}

func (e *EmailNotifier) sendTLS(addr string, auth smtp.Auth, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: e.host})
	if err != nil {
		return fmt.Errorf("TLS dial: %w", err)
	}
	client, err := smtp.NewClient(conn, e.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := client.Mail(e.from); err != nil {
		return fmt.Errorf("MAIL: %w", err)
	}
	for _, rcpt := range e.to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("writing body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing body: %w", err)
	}
	return client.Quit()
}
