package report

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"
)

// SMTPConfig holds what the mailer needs to reach the owner's inbox.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	FromName string
	To       []string
	Exponent int32
	Timeout  time.Duration // bounds one send when ctx has no earlier deadline
}

const defaultSMTPTimeout = 30 * time.Second

// SendFunc is smtp.SendMail with a context.
type SendFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer sends the rendered report as an email attachment.
type Mailer struct {
	config SMTPConfig
	send   SendFunc
	now    func() time.Time
}

type MailerOption func(*Mailer)

// WithSendFunc replaces the SMTP client, mostly for tests.
func WithSendFunc(fn SendFunc) MailerOption {
	return func(m *Mailer) { m.send = fn }
}

func NewMailer(config SMTPConfig, opts ...MailerOption) *Mailer {
	if config.Timeout <= 0 {
		config.Timeout = defaultSMTPTimeout
	}
	m := &Mailer{
		config: config,
		now:    time.Now,
	}
	m.send = m.sendMail
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Send mails the artifact to every configured recipient.
func (m *Mailer) Send(ctx context.Context, art Artifact, rep DailyReport) error {
	if m.config.Host == "" || m.config.Username == "" {
		return errors.New("smtp is not configured")
	}
	if len(m.config.To) == 0 {
		return errors.New("no report recipients configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := m.buildMessage(art, rep)
	if err != nil {
		return err
	}
	addr := fmt.Sprintf("%s:%d", m.config.Host, m.config.Port)
	auth := smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	if err := m.send(ctx, addr, auth, m.config.Username, m.config.To, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// sendMail follows smtp.SendMail but dials with ctx and puts a deadline on
// the connection, so a stalled server cannot hold the close pipeline.
func (m *Mailer) sendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	err = func() error {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		// Once ctx is done any pending read or write fails.
		stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
		defer stop()
		return converse(conn, host, a, from, to, msg)
	}()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %v", ctxErr, err)
		}
	}
	return err
}

func converse(conn net.Conn, host string, a smtp.Auth, from string, to []string, msg []byte) error {
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(a); err != nil {
				return err
			}
		}
	}
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

// Subject is the mail subject for a report.
func Subject(day string) string {
	return "📊 Stock Report – " + day
}

func (m *Mailer) body(rep DailyReport) string {
	body := fmt.Sprintf("Attached is the stock report from %s with notes and manager's drinks included.\n\nTotal Sales: %s",
		rep.StaffName, rep.TotalSales.Format(m.config.Exponent))
	if rep.Payload.DrinksPolicy == DrinksDeduct {
		body += fmt.Sprintf("\nGross Sales: %s\nManager Drinks: %s",
			rep.Payload.GrossSales.Format(m.config.Exponent), rep.Payload.DrinksValue.Format(m.config.Exponent))
	}
	return body
}

func (m *Mailer) buildMessage(art Artifact, rep DailyReport) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	from := mail.Address{Name: m.config.FromName, Address: m.config.Username}
	headers := []string{
		"From: " + from.String(),
		"To: " + strings.Join(m.config.To, ", "),
		"Subject: " + mime.QEncoding.Encode("utf-8", Subject(rep.Day.String())),
		"Date: " + m.now().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		"Content-Type: multipart/mixed; boundary=" + mw.Boundary(),
	}
	head := strings.Join(headers, "\r\n") + "\r\n\r\n"

	text, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {`text/plain; charset="UTF-8"`},
		"Content-Transfer-Encoding": {"8bit"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build mail body: %w", err)
	}
	if _, err := text.Write([]byte(m.body(rep))); err != nil {
		return nil, fmt.Errorf("failed to build mail body: %w", err)
	}

	attachment, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {art.ContentType},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": art.Name})},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to attach report: %w", err)
	}
	enc := base64.NewEncoder(base64.StdEncoding, &lineWrapper{w: attachment})
	if _, err := enc.Write(art.Data); err != nil {
		return nil, fmt.Errorf("failed to attach report: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to attach report: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close mail: %w", err)
	}

	return append([]byte(head), buf.Bytes()...), nil
}

// lineWrapper breaks base64 output into 76-column lines.
type lineWrapper struct {
	w   io.Writer
	col int
}

func (l *lineWrapper) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := 76 - l.col
		if n > len(p) {
			n = len(p)
		}
		if _, err := l.w.Write(p[:n]); err != nil {
			return written, err
		}
		written += n
		l.col += n
		p = p[n:]
		if l.col == 76 {
			if _, err := l.w.Write([]byte("\r\n")); err != nil {
				return written, err
			}
			l.col = 0
		}
	}
	return written, nil
}
