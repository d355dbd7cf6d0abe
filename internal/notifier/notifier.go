// Package notifier implements the Notifier: a best-effort HTML summary
// email sent via SMTP with STARTTLS.
package notifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"

	"github.com/yuin/goldmark"

	"log/slog"

	"github.com/autorepair/autorepair/internal/logfields"
)

// Config carries SMTP connection and message settings.
type Config struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// Notifier sends incident summary emails. A failure to send is logged and
// never propagated as a step failure.
type Notifier struct {
	cfg    Config
	logger *slog.Logger
}

// New constructs a Notifier from cfg.
func New(cfg Config, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{cfg: cfg, logger: logger}
}

// Summary is the content rendered into the notification email.
type Summary struct {
	RepoURL      string
	ErrorExcerpt string
	AIAnalysisMD string // Markdown AI_SUMMARY content
	PRURL        string
}

// Notify renders and sends a summary email if enabled. Any failure is
// logged and swallowed.
func (n *Notifier) Notify(ctx context.Context, s Summary) {
	if !n.cfg.Enabled {
		return
	}
	html, err := renderHTML(s)
	if err != nil {
		n.logger.Warn("notifier: render failed", logfields.Error(err))
		return
	}
	if err := n.send(ctx, s, html); err != nil {
		n.logger.Warn("notifier: send failed", logfields.Error(err), logfields.RepoURL(s.RepoURL))
	}
}

func renderHTML(s Summary) (string, error) {
	var analysisHTML bytes.Buffer
	if err := goldmark.Convert([]byte(s.AIAnalysisMD), &analysisHTML); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	buf.WriteString(`<html><body style="font-family:sans-serif;max-width:640px;margin:0 auto;">`)
	fmt.Fprintf(&buf, `<h2 style="color:#b00020;">Incident fixed in %s</h2>`, htmlEscape(s.RepoURL))
	buf.WriteString(`<h3>Error excerpt</h3>`)
	fmt.Fprintf(&buf, `<pre style="background:#f5f5f5;padding:12px;overflow:auto;">%s</pre>`, htmlEscape(s.ErrorExcerpt))
	buf.WriteString(`<h3>Analysis</h3>`)
	buf.Write(analysisHTML.Bytes())
	if s.PRURL != "" {
		fmt.Fprintf(&buf, `<p><a href="%s">View pull request</a></p>`, htmlEscape(s.PRURL))
	}
	buf.WriteString(`</body></html>`)
	return buf.String(), nil
}

func (n *Notifier) send(ctx context.Context, s Summary, html string) error {
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	msg := buildMIMEMessage(n.cfg.From, n.cfg.To, fmt.Sprintf("Incident fixed: %s", s.RepoURL), html)
	return sendWithSTARTTLS(addr, auth, n.cfg.Host, n.cfg.From, n.cfg.To, msg)
}

func sendWithSTARTTLS(addr string, auth smtp.Auth, host, from string, to []string, msg []byte) error {
	c, err := smtp.Dial(addr)
	if err != nil {
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return err
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

func buildMIMEMessage(from string, to []string, subject, html string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", joinAddrs(to))
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	buf.WriteString(html)
	return buf.Bytes()
}

func joinAddrs(addrs []string) string {
	out := ""
	for i, a := range addrs {
		if i > 0 {
			out += ", "
		}
		out += a
	}
	return out
}

func htmlEscape(s string) string {
	replacer := []struct{ from, to string }{
		{"&", "&amp;"}, {"<", "&lt;"}, {">", "&gt;"}, {`"`, "&quot;"},
	}
	for _, r := range replacer {
		s = replaceAll(s, r.from, r.to)
	}
	return s
}

func replaceAll(s, old, new string) string {
	out := bytes.ReplaceAll([]byte(s), []byte(old), []byte(new))
	return string(out)
}
