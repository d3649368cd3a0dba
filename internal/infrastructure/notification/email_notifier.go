package notification

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	appaccount "github.com/textress/backend/internal/application/account"
	"github.com/textress/backend/internal/domain/account"
	"github.com/textress/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

var _ appaccount.Notifier = (*EmailNotifier)(nil)

// SendFunc delivers one rendered message. It matches smtp.SendMail.
type SendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// Message is a rendered email ready to be sent.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// EmailNotifier sends suspension and statement notices over SMTP.
type EmailNotifier struct {
	cfg    config.EmailConfig
	send   SendFunc
	logger *zap.Logger
}

// Option configures an EmailNotifier.
type Option func(*EmailNotifier)

// WithSendFunc replaces the SMTP transport.
func WithSendFunc(fn SendFunc) Option {
	return func(n *EmailNotifier) {
		n.send = fn
	}
}

// NewEmailNotifier creates a notifier. When email is disabled or the host is
// empty, notices are logged and dropped.
func NewEmailNotifier(cfg config.EmailConfig, logger *zap.Logger, opts ...Option) *EmailNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &EmailNotifier{cfg: cfg, send: sendMail, logger: logger}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// IsConfigured reports whether notices will actually be sent.
func (n *EmailNotifier) IsConfigured() bool {
	return n.cfg.Enabled && n.cfg.Host != "" && n.cfg.From != ""
}

// NotifySuspended tells the tenant their messaging has been suspended.
func (n *EmailNotifier) NotifySuspended(ctx context.Context, tenant *account.Tenant, reason string) error {
	msg, err := RenderSuspended(tenant, reason)
	if err != nil {
		return err
	}
	return n.deliver(ctx, msg)
}

// NotifyStatementReady tells the tenant a monthly statement is available.
func (n *EmailNotifier) NotifyStatementReady(ctx context.Context, tenant *account.Tenant, stmt *account.AcctStmt) error {
	msg, err := RenderStatementReady(tenant, stmt)
	if err != nil {
		return err
	}
	return n.deliver(ctx, msg)
}

func (n *EmailNotifier) deliver(ctx context.Context, msg *Message) error {
	if !n.IsConfigured() {
		n.logger.Debug("Email not configured, dropping notice",
			zap.String("to", msg.To),
			zap.String("subject", msg.Subject))
		return nil
	}
	if msg.To == "" {
		return fmt.Errorf("notification: tenant has no email address")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	body := buildMIME(n.cfg.From, msg)
	if err := n.send(addr, auth, n.cfg.From, []string{msg.To}, body); err != nil {
		return fmt.Errorf("notification: send to %s: %w", msg.To, err)
	}
	n.logger.Info("Notice sent",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject))
	return nil
}

func buildMIME(from string, msg *Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + sanitizeHeader(from) + "\r\n")
	b.WriteString("To: " + sanitizeHeader(msg.To) + "\r\n")
	b.WriteString("Subject: " + sanitizeHeader(msg.Subject) + "\r\n")
	b.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	return []byte(b.String())
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(v)
}

// sendMail uses smtp.SendMail when authenticating, and a bare session for
// relays that accept unauthenticated mail.
func sendMail(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	if auth != nil {
		return smtp.SendMail(addr, auth, from, to, msg)
	}
	c, err := smtp.Dial(addr)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

var (
	suspendedTmpl = template.Must(template.New("suspended").Parse(`<html><body>
<p>Hello {{.Name}},</p>
<p>Outgoing messaging for your account has been suspended because the automatic recharge could not complete ({{.Reason}}).</p>
<p>Update your payment method and recharge your balance to resume service.</p>
</body></html>`))

	statementTmpl = template.Must(template.New("statement").Parse(`<html><body>
<p>Hello {{.Name}},</p>
<p>Your statement for {{.Period}} is ready.</p>
<table>
<tr><td>Messages</td><td>{{.TotalSMS}}</td></tr>
<tr><td>Monthly fee</td><td>{{.MonthlyCosts}}</td></tr>
<tr><td>Closing balance</td><td>{{.Balance}}</td></tr>
</table>
</body></html>`))
)

// RenderSuspended builds the suspension notice.
func RenderSuspended(tenant *account.Tenant, reason string) (*Message, error) {
	var buf bytes.Buffer
	err := suspendedTmpl.Execute(&buf, struct {
		Name   string
		Reason string
	}{tenant.Name, humanReason(reason)})
	if err != nil {
		return nil, fmt.Errorf("notification: render suspended: %w", err)
	}
	return &Message{
		To:      tenant.Email,
		Subject: "Messaging suspended",
		HTML:    buf.String(),
	}, nil
}

// RenderStatementReady builds the statement notice.
func RenderStatementReady(tenant *account.Tenant, stmt *account.AcctStmt) (*Message, error) {
	period := fmt.Sprintf("%s %d", stmt.Month, stmt.Year)
	var buf bytes.Buffer
	err := statementTmpl.Execute(&buf, struct {
		Name         string
		Period       string
		TotalSMS     int64
		MonthlyCosts string
		Balance      string
	}{tenant.Name, period, stmt.TotalSMS, stmt.MonthlyCosts.StringFixed(2), stmt.Balance.StringFixed(2)})
	if err != nil {
		return nil, fmt.Errorf("notification: render statement: %w", err)
	}
	return &Message{
		To:      tenant.Email,
		Subject: "Your statement for " + period,
		HTML:    buf.String(),
	}, nil
}

func humanReason(reason string) string {
	return strings.ReplaceAll(reason, "_", " ")
}
