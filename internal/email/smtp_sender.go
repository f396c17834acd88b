package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// SMTPSender envia correos via SMTP.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	from     string
	fromName string
	appURL   string
	useTLS   bool
}

// SMTPOptions agrupa los parametros de conexion.
type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	AppURL   string
	UseTLS   bool
}

func NewSMTPSender(opts SMTPOptions) (*SMTPSender, error) {
	if strings.TrimSpace(opts.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if strings.TrimSpace(opts.From) == "" {
		return nil, fmt.Errorf("smtp from is required")
	}
	if opts.Port == 0 {
		opts.Port = 587
	}
	return &SMTPSender{
		host:     opts.Host,
		port:     opts.Port,
		username: opts.Username,
		password: opts.Password,
		from:     opts.From,
		fromName: opts.FromName,
		appURL:   strings.TrimRight(opts.AppURL, "/"),
		useTLS:   opts.UseTLS,
	}, nil
}

func (s *SMTPSender) SendPasswordReset(_ context.Context, toEmail, code string, expiresAt time.Time) error {
	if strings.TrimSpace(toEmail) == "" {
		return fmt.Errorf("to email is required")
	}
	body := passwordResetBody(s.appURL, code, expiresAt)
	return s.send(toEmail, "OpenArchive password reset", body)
}

func (s *SMTPSender) send(to, subject, body string) error {
	msg := buildMessage(s.from, s.fromName, to, subject, body)
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}
	if !s.useTLS {
		return smtp.SendMail(addr, auth, s.from, []string{to}, []byte(msg))
	}

	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: s.host})
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Quit()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(s.from); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func passwordResetBody(appURL, code string, expiresAt time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your OpenArchive password reset code is %s.\n", code)
	fmt.Fprintf(&b, "It expires at %s UTC.\n", expiresAt.UTC().Format(time.RFC3339))
	if appURL != "" {
		fmt.Fprintf(&b, "Enter it at %s/reset-password\n", appURL)
	}
	b.WriteString("If you did not request a reset, ignore this message.\n")
	return b.String()
}

func buildMessage(from, fromName, to, subject, body string) string {
	fromHeader := from
	if strings.TrimSpace(fromName) != "" {
		fromHeader = fmt.Sprintf("%s <%s>", fromName, from)
	}
	headers := []string{
		"From: " + fromHeader,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		`Content-Type: text/plain; charset="UTF-8"`,
	}
	return strings.Join(headers, "\r\n") + "\r\n\r\n" + body
}
