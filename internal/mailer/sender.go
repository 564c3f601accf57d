package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
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

// Sender delivers one job.
type Sender interface {
	Send(ctx context.Context, job *Job) error
}

// SMTPSender delivers jobs through the SMTP account carried on each job.
type SMTPSender struct {
	Timeout time.Duration
	// SkipVerify disables certificate verification (for testing).
	SkipVerify bool
}

// NewSMTPSender creates a sender with the given dial timeout.
func NewSMTPSender(timeout time.Duration) *SMTPSender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SMTPSender{Timeout: timeout}
}

// Send implements Sender.
func (s *SMTPSender) Send(ctx context.Context, job *Job) error {
	msg, err := BuildMessage(job, time.Now())
	if err != nil {
		return err
	}
	acct := job.Account
	addr := net.JoinHostPort(acct.Host, fmt.Sprint(acct.Port))

	var conn net.Conn
	if acct.Secure {
		dialer := &tls.Dialer{
			NetDialer: &net.Dialer{Timeout: s.Timeout},
			Config:    s.tlsConfig(acct.Host),
		}
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		dialer := &net.Dialer{Timeout: s.Timeout}
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, acct.Host)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()

	if !acct.Secure {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(s.tlsConfig(acct.Host)); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}

	if acct.Username != "" {
		auth := smtp.PlainAuth("", acct.Username, acct.Password, acct.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(job.FromEmail); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range recipients(job.To) {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt to: %w", err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}
	return client.Quit()
}

func (s *SMTPSender) tlsConfig(host string) *tls.Config {
	return &tls.Config{ServerName: host, InsecureSkipVerify: s.SkipVerify}
}

// recipients splits a comma-separated To value.
func recipients(to string) []string {
	var out []string
	for _, part := range strings.Split(to, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// bodyContentType treats bodies that start with markup as HTML.
func bodyContentType(body string) string {
	if strings.HasPrefix(strings.TrimSpace(body), "<") {
		return "text/html; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}

// BuildMessage renders job as an RFC 5322 message. Attachments turn it into
// multipart/mixed.
func BuildMessage(job *Job, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	from := mail.Address{Name: job.FromName, Address: job.FromEmail}
	fmt.Fprintf(&buf, "From: %s\r\n", from.String())
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(recipients(job.To), ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", job.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", now.Format(time.RFC1123Z))
	if job.ID != "" {
		fmt.Fprintf(&buf, "Message-ID: <%s@docrelay>\r\n", job.ID)
	}
	buf.WriteString("MIME-Version: 1.0\r\n")

	if len(job.Attachments) == 0 {
		fmt.Fprintf(&buf, "Content-Type: %s\r\n", bodyContentType(job.Body))
		buf.WriteString("\r\n")
		buf.WriteString(job.Body)
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", mw.Boundary())

	part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {bodyContentType(job.Body)}})
	if err != nil {
		return nil, fmt.Errorf("body part: %w", err)
	}
	if _, err := part.Write([]byte(job.Body)); err != nil {
		return nil, fmt.Errorf("body part: %w", err)
	}

	for _, a := range job.Attachments {
		data, err := attachmentBytes(a)
		if err != nil {
			return nil, fmt.Errorf("attachment %q: %w", a.Filename, err)
		}
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", ct)
		h.Set("Content-Transfer-Encoding", "base64")
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename}))
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("attachment %q: %w", a.Filename, err)
		}
		if err := writeBase64Lines(part, data); err != nil {
			return nil, fmt.Errorf("attachment %q: %w", a.Filename, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func attachmentBytes(a Attachment) ([]byte, error) {
	if strings.EqualFold(a.Encoding, "base64") {
		return base64.StdEncoding.DecodeString(a.Content)
	}
	return []byte(a.Content), nil
}

// writeBase64Lines wraps base64 output at 76 columns.
func writeBase64Lines(w io.Writer, data []byte) error {
	enc := base64.StdEncoding.EncodeToString(data)
	for len(enc) > 76 {
		if _, err := w.Write([]byte(enc[:76] + "\r\n")); err != nil {
			return err
		}
		enc = enc[76:]
	}
	_, err := w.Write([]byte(enc + "\r\n"))
	return err
}
