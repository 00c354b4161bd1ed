package email

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/storefront-dev/storefront/shared/config"
	"github.com/yuin/goldmark"
)

// Email delivers messages over SMTP. Bodies are written in Markdown and sent
// as multipart/alternative with a plain text and a rendered HTML part.
type Email struct {
	config *config.Email
	auth   smtp.Auth
	md     goldmark.Markdown
	logger *slog.Logger
}

func New(config *config.Email, logger *slog.Logger) *Email {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.SMTPServer)
	return &Email{
		config: config,
		auth:   auth,
		md:     goldmark.New(),
		logger: logger,
	}
}

// Send blocks until the SMTP server accepted the message or ctx is done.
func (e *Email) Send(ctx context.Context, recipientEmail, subject, body string) error {
	msg, err := e.buildMessage(recipientEmail, subject, body)
	if err != nil {
		return err
	}
	address := net.JoinHostPort(e.config.SMTPServer, strconv.Itoa(e.config.SMTPPort))

	// Port 465 = implicit TLS, otherwise STARTTLS
	if e.config.SMTPPort == 465 {
		err = e.sendImplicitTLS(ctx, address, recipientEmail, msg)
	} else {
		err = e.sendSTARTTLS(ctx, address, recipientEmail, msg)
	}
	if err != nil {
		e.logger.Error("email delivery failed", "recipient", recipientEmail, "subject", subject, "error", err)
		return err
	}
	e.logger.Info("email sent", "recipient", recipientEmail, "subject", subject)
	return nil
}

func (e *Email) timeout() time.Duration {
	timeout := time.Duration(e.config.Timeout) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return timeout
}

func (e *Email) dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: e.timeout()}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("connect to smtp server %s: %w", address, err)
	}
	deadline := time.Now().Add(e.timeout())
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	return conn, nil
}

// sendImplicitTLS sends email over a connection that is TLS from the start (port 465).
func (e *Email) sendImplicitTLS(ctx context.Context, address, recipientEmail string, msg []byte) error {
	raw, err := e.dial(ctx, address)
	if err != nil {
		return err
	}
	conn := tls.Client(raw, &tls.Config{ServerName: e.config.SMTPServer})
	defer conn.Close()

	client, err := smtp.NewClient(conn, e.config.SMTPServer)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer client.Close()

	return e.sendViaClient(client, recipientEmail, msg)
}

// sendSTARTTLS sends email by upgrading a plain connection to TLS (port 587).
func (e *Email) sendSTARTTLS(ctx context.Context, address, recipientEmail string, msg []byte) error {
	conn, err := e.dial(ctx, address)
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, e.config.SMTPServer)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer client.Close()

	if err = client.StartTLS(&tls.Config{ServerName: e.config.SMTPServer}); err != nil {
		return fmt.Errorf("start tls: %w", err)
	}

	return e.sendViaClient(client, recipientEmail, msg)
}

// sendViaClient performs auth, sets sender/recipient, and sends the message body.
func (e *Email) sendViaClient(client *smtp.Client, recipientEmail string, msg []byte) error {
	if err := client.Auth(e.auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := client.Mail(e.config.Username); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := client.Rcpt(recipientEmail); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("open data writer: %w", err)
	}
	if _, err = w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("close data writer: %w", err)
	}

	return client.Quit()
}

func (e *Email) messageID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	host := e.config.SMTPServer
	if at := strings.LastIndex(e.config.Username, "@"); at >= 0 {
		host = e.config.Username[at+1:]
	}
	return fmt.Sprintf("<%d.%s@%s>", time.Now().UnixNano(), hex.EncodeToString(b), host)
}

func (e *Email) buildMessage(recipient, subject, markdown string) ([]byte, error) {
	var html bytes.Buffer
	if err := e.md.Convert([]byte(markdown), &html); err != nil {
		return nil, fmt.Errorf("render email body: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	parts := []struct {
		contentType string
		content     []byte
	}{
		{"text/plain; charset=\"utf-8\"", []byte(markdown)},
		{"text/html; charset=\"utf-8\"", html.Bytes()},
	}
	for _, p := range parts {
		pw, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {p.contentType}})
		if err != nil {
			return nil, err
		}
		if _, err := pw.Write(p.content); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "Message-ID: %s\r\n", e.messageID())
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "To: %s\r\n", recipient)
	fmt.Fprintf(&msg, "From: %s <%s>\r\n", mime.QEncoding.Encode("utf-8", e.config.SenderName), e.config.Username)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}
