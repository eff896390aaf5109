package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/mohammad-safakhou/newsletter/internal/failure"
)

// SMTPTransport submits over implicit TLS (SMTPS, usually port 465).
type SMTPTransport struct {
	Host      string
	Port      int
	Timeout   time.Duration
	TLSConfig *tls.Config

	// Dial replaces the TLS dial; tests use it to talk to an in-memory server.
	Dial func(ctx context.Context, addr string) (net.Conn, error)
}

func NewSMTPTransport(host string, port int, timeout time.Duration) *SMTPTransport {
	return &SMTPTransport{Host: host, Port: port, Timeout: timeout}
}

func (t *SMTPTransport) addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t *SMTPTransport) Open(ctx context.Context) (Session, error) {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	conn, err := t.dial(ctx)
	if err != nil {
		return nil, &failure.NetworkError{URL: "smtps://" + t.addr(), Cause: err}
	}
	if t.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(t.Timeout))
	}
	client, err := smtp.NewClient(conn, t.Host)
	if err != nil {
		conn.Close()
		return nil, &failure.NetworkError{URL: "smtps://" + t.addr(), Cause: err}
	}
	return &smtpSession{client: client, host: t.Host}, nil
}

func (t *SMTPTransport) dial(ctx context.Context) (net.Conn, error) {
	if t.Dial != nil {
		return t.Dial(ctx, t.addr())
	}
	cfg := t.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{ServerName: t.Host, MinVersion: tls.VersionTLS12}
	}
	d := &tls.Dialer{NetDialer: &net.Dialer{}, Config: cfg}
	return d.DialContext(ctx, "tcp", t.addr())
}

type smtpSession struct {
	client *smtp.Client
	host   string
	done   bool
}

// Auth uses PLAIN. Replies 530, 534 and 535 mean the credentials were
// refused; anything else is a transport problem.
func (s *smtpSession) Auth(username, password string) error {
	err := s.client.Auth(smtp.PlainAuth("", username, password, s.host))
	if err == nil {
		return nil
	}
	// net/smtp quits the connection itself after a refused AUTH.
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		s.done = true
		switch tpErr.Code {
		case 530, 534, 535:
			return &failure.AuthError{Cause: err}
		}
	}
	return &failure.NetworkError{Cause: fmt.Errorf("smtp auth: %w", err)}
}

func (s *smtpSession) Send(from, to string, msg []byte) error {
	if err := s.client.Mail(from); err != nil {
		return &failure.NetworkError{Cause: fmt.Errorf("smtp MAIL FROM: %w", err)}
	}
	if err := s.client.Rcpt(to); err != nil {
		return &failure.NetworkError{Cause: fmt.Errorf("smtp RCPT TO: %w", err)}
	}
	w, err := s.client.Data()
	if err != nil {
		return &failure.NetworkError{Cause: fmt.Errorf("smtp DATA: %w", err)}
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return &failure.NetworkError{Cause: fmt.Errorf("smtp write: %w", err)}
	}
	if err := w.Close(); err != nil {
		return &failure.NetworkError{Cause: fmt.Errorf("smtp end of data: %w", err)}
	}
	return nil
}

// Close sends QUIT and releases the connection.
func (s *smtpSession) Close() error {
	if s.done {
		s.client.Close()
		return nil
	}
	s.done = true
	if err := s.client.Quit(); err != nil {
		s.client.Close()
		return err
	}
	return nil
}
