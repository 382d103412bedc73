// services/mail_service.go
package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"text/template"
	"time"

	dbm "payledger/internal/models/db_models"
)

// SMTPConfig holds SMTP + branding config.
type SMTPConfig struct {
	Host     string // e.g. "smtp.gmail.com"
	Port     int    // 587 (STARTTLS) or 465 (SMTPS)
	Username string
	Password string
	From     string // envelope from, e.g. "billing@yourapp.com"
	FromName string
	UseSSL   bool // true for SMTPS 465
	AppName  string
}

// UserDirectory resolves the mailbox of a user id.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*dbm.Account, error)
}

type mailMessage struct {
	subject string
	body    string
}

// Bodies never carry card numbers; amounts come from the payload the core built.
var mailMessages = map[TemplateKind]mailMessage{
	NotifyPaymentSucceeded:      {"Payment Confirmation", "Your payment was successful!"},
	NotifyPaymentFailed:         {"Payment Failed", "Payment failed. Please check your details and try again."},
	NotifyOrderCancelled:        {"Order Cancelled", "Your order has been cancelled."},
	NotifyRefundIssued:          {"Refund Issued", "A refund has been issued for your payment."},
	NotifyPaymentConfirmed:      {"Payment Confirmed", "Your payment has been reviewed and confirmed."},
	NotifyPaymentRejected:       {"Payment Rejected", "Your payment could not be verified and was rejected."},
	NotifySubscriptionSetup:     {"Subscription Setup", "Your recurring payment is set up!"},
	NotifySubscriptionCharged:   {"Subscription Payment", "Your subscription payment was successful."},
	NotifySubscriptionFailed:    {"Subscription Payment", "Your subscription payment failed. We will retry on the next run."},
	NotifySubscriptionReminder:  {"Payment Reminder", "Your subscription payment is due soon."},
	NotifySubscriptionCancelled: {"Subscription Cancelled", "Your subscription has been cancelled."},
}

const mailTemplate = `{{.Body}}
{{range $k, $v := .Payload}}
{{$k}}: {{$v}}{{end}}

-- {{.AppName}} (c) {{.Year}}
`

type smtpNotificationSink struct {
	cfg   SMTPConfig
	users UserDirectory
	tpl   *template.Template
	send  func(addr string, to string, msg []byte) error
}

func NewSMTPNotificationSink(cfg SMTPConfig, users UserDirectory) NotificationSink {
	s := &smtpNotificationSink{
		cfg:   cfg,
		users: users,
		tpl:   template.Must(template.New("mail").Parse(mailTemplate)),
	}
	s.send = s.deliver
	return s
}

func (s *smtpNotificationSink) Notify(ctx context.Context, userID string, kind TemplateKind, payload map[string]any) error {
	msg, ok := mailMessages[kind]
	if !ok {
		return fmt.Errorf("mail: unknown template %q", kind)
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("mail: resolve recipient: %w", err)
	}
	if user.Email == "" {
		return fmt.Errorf("mail: user has no email")
	}

	var body bytes.Buffer
	err = s.tpl.Execute(&body, map[string]any{
		"Body":    msg.body,
		"Payload": payload,
		"AppName": s.cfg.AppName,
		"Year":    time.Now().Year(),
	})
	if err != nil {
		return fmt.Errorf("mail: render %q: %w", kind, err)
	}

	raw := s.compose(user.Email, msg.subject, body.String())
	return s.send(fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port), user.Email, raw)
}

func (s *smtpNotificationSink) compose(to, subject, text string) []byte {
	var msg bytes.Buffer
	write := func(format string, a ...any) { _, _ = msg.WriteString(fmt.Sprintf(format, a...)) }

	from := s.cfg.From
	if s.cfg.FromName != "" {
		from = fmt.Sprintf("%q <%s>", s.cfg.FromName, s.cfg.From)
	}
	write("From: %s\r\n", from)
	write("To: %s\r\n", to)
	write("Subject: %s\r\n", subject)
	write("Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	write("MIME-Version: 1.0\r\n")
	write("Content-Type: text/plain; charset=UTF-8\r\n")
	write("Content-Transfer-Encoding: 7bit\r\n\r\n")
	write("%s\r\n", text)
	return msg.Bytes()
}

func (s *smtpNotificationSink) deliver(addr, to string, msg []byte) error {
	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	if !s.cfg.UseSSL {
		// STARTTLS is negotiated by SendMail when the server offers it
		return smtp.SendMail(addr, auth, s.cfg.From, []string{to}, msg)
	}

	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12})
	if err != nil {
		return err
	}
	defer conn.Close()

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return err
	}
	defer c.Quit()

	if err = c.Auth(auth); err != nil {
		return err
	}
	if err = c.Mail(s.cfg.From); err != nil {
		return err
	}
	if err = c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err = w.Write(msg); err != nil {
		return err
	}
	return w.Close()
}
