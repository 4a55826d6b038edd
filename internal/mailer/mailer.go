// Package mailer delivers secure links to recipients. The HTML part embeds
// the tracking pixel so opens reach the beacon endpoint.
package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"

	"github.com/and161185/securelink/internal/model"
)

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SendFunc hands a composed message to a transport.
type SendFunc func(ctx context.Context, from string, to []string, msg []byte) error

// Mailer composes and sends link emails.
type Mailer struct {
	cfg  Config
	from *mail.Address
	send SendFunc
	log  *zap.Logger
	now  func() time.Time
}

// New creates an SMTP-backed mailer.
func New(cfg Config, log *zap.Logger) (*Mailer, error) {
	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("mail from: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	m := &Mailer{cfg: cfg, from: from, log: log, now: time.Now}
	m.send = m.sendSMTP
	return m, nil
}

// WithSender replaces the transport.
func (m *Mailer) WithSender(send SendFunc) *Mailer {
	m.send = send
	return m
}

var htmlBody = template.Must(template.New("link").Parse(`<!DOCTYPE html>
<html><body style="font-family:sans-serif">
<p>You have received a secure document.</p>
<p><a href="{{.Link}}">Open the secure document</a></p>
{{if .Expires}}<p style="color:#666">This link expires on {{.Expires}}.</p>{{end}}
{{if .Guest}}<p style="color:#666">No PIN is required for this link.</p>{{else}}<p style="color:#666">You will be asked for the PIN shared by the sender.</p>{{end}}
<img src="{{.Pixel}}" width="1" height="1" alt="" style="display:block;border:0">
</body></html>`))

type bodyData struct {
	Link    string
	Pixel   string
	Expires string
	Guest   bool
}

// Compose renders the RFC 5322 message for e.
func (m *Mailer) Compose(e *model.SecureEmail, linkURL, pixelURL string) ([]byte, error) {
	to, err := mail.ParseAddress(e.RecipientEmail)
	if err != nil {
		return nil, fmt.Errorf("mail to: %w", err)
	}
	data := bodyData{Link: linkURL, Pixel: pixelURL, Guest: e.IsGuest}
	if e.ExpiresAt != nil {
		data.Expires = e.ExpiresAt.UTC().Format("2 Jan 2006 15:04 MST")
	}

	var h mail.Header
	h.SetDate(m.now())
	h.SetAddressList("From", []*mail.Address{m.from})
	h.SetAddressList("To", []*mail.Address{to})
	h.SetSubject("You have received a secure document")
	h.Set("X-Securelink-Id", e.ID.String())

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	iw, err := mw.CreateInline()
	if err != nil {
		return nil, err
	}

	var th mail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	text := "You have received a secure document.\r\n\r\nOpen it here: " + linkURL + "\r\n"
	if data.Expires != "" {
		text += "\r\nThis link expires on " + data.Expires + ".\r\n"
	}
	if err := writePart(iw, th, func(w io.Writer) error {
		_, err := io.WriteString(w, text)
		return err
	}); err != nil {
		return nil, err
	}

	var hh mail.InlineHeader
	hh.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	if err := writePart(iw, hh, func(w io.Writer) error { return htmlBody.Execute(w, data) }); err != nil {
		return nil, err
	}

	if err := iw.Close(); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writePart(iw *mail.InlineWriter, h mail.InlineHeader, fill func(io.Writer) error) error {
	w, err := iw.CreatePart(h)
	if err != nil {
		return err
	}
	if err := fill(w); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// SendLink composes and delivers the link email for e.
func (m *Mailer) SendLink(ctx context.Context, e *model.SecureEmail, linkURL, pixelURL string) error {
	msg, err := m.Compose(e, linkURL, pixelURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	if err := m.send(ctx, m.from.Address, []string{e.RecipientEmail}, msg); err != nil {
		return fmt.Errorf("send link email: %w", err)
	}
	m.log.Info("link email sent", zap.String("email_id", e.ID.String()))
	return nil
}

// sendSMTP delivers msg over SMTP, upgrading to TLS when offered.
func (m *Mailer) sendSMTP(ctx context.Context, from string, to []string, msg []byte) error {
	if m.cfg.Host == "" {
		return errors.New("smtp host is not configured")
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
			return err
		}
	}
	if m.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
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
