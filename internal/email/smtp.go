package email

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

const dialTimeout = 15 * time.Second

type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	To   string
}

func (c SMTPConfig) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func Enabled(cfg SMTPConfig) bool {
	return strings.TrimSpace(cfg.User) != "" &&
		strings.TrimSpace(cfg.Pass) != "" &&
		strings.TrimSpace(cfg.To) != ""
}

// Send mails a plain text report to every address in cfg.To.
func Send(cfg SMTPConfig, subject, body string) error {
	to, err := parseRecipients(cfg.To)
	if err != nil {
		return err
	}
	auth := smtp.PlainAuth("", cfg.User, cfg.Pass, cfg.Host)
	return smtp.SendMail(cfg.addr(), auth, cfg.User, to, buildMessage(cfg.User, to, subject, body))
}

func buildMessage(from string, to []string, subject, body string) []byte {
	var msg strings.Builder
	msg.WriteString("From: " + from + "\r\n")
	msg.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	msg.WriteString("\r\n")
	return []byte(msg.String())
}

// CheckConnection verifies the server answers EHLO and NOOP.
func CheckConnection(cfg SMTPConfig) error {
	return checkConnection(cfg, false)
}

// CheckConnectionRequireAuth additionally authenticates with cfg.User/cfg.Pass.
func CheckConnectionRequireAuth(cfg SMTPConfig) error {
	return checkConnection(cfg, true)
}

func checkConnection(cfg SMTPConfig, requireAuth bool) error {
	conn, err := net.DialTimeout("tcp", cfg.addr(), dialTimeout)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", cfg.addr(), err)
	}
	c, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if err := c.Hello("localhost"); err != nil {
		return fmt.Errorf("smtp hello: %w", err)
	}
	if requireAuth {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
		if err := c.Auth(smtp.PlainAuth("", cfg.User, cfg.Pass, cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Noop(); err != nil {
		return fmt.Errorf("smtp noop: %w", err)
	}
	return c.Quit()
}

func parseRecipients(s string) ([]string, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no mail recipients configured")
	}
	return out, nil
}
