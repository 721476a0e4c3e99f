// Package mailer sends the customer-facing license notices over SMTP.
// Delivery happens from job queue workers, never on the request path.
package mailer

import (
	"errors"
	"fmt"
	"net/smtp"
	"time"

	"github.com/keygate/internal/license"
)

// ErrNotConfigured is returned when SMTP settings are absent. Callers treat
// it as "email disabled", not as a delivery failure worth retrying.
var ErrNotConfigured = errors.New("mailer: smtp configuration missing")

// Mailer sends plain-text notices through a single SMTP account.
type Mailer struct {
	host string
	port string
	user string
	pass string
	from string
}

func New(host, port, user, pass, from string) *Mailer {
	if from == "" {
		from = user
	}
	return &Mailer{host: host, port: port, user: user, pass: pass, from: from}
}

// Configured reports whether the mailer can actually deliver.
func (m *Mailer) Configured() bool {
	return m.host != "" && m.port != "" && m.user != "" && m.pass != ""
}

// Send delivers one plain-text message.
func (m *Mailer) Send(to, subject, body string) error {
	if !m.Configured() {
		return ErrNotConfigured
	}

	auth := smtp.PlainAuth("", m.user, m.pass, m.host)

	msg := []byte(fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"\r\n"+
		"%s\r\n", m.from, to, subject, body))

	addr := fmt.Sprintf("%s:%s", m.host, m.port)
	return smtp.SendMail(addr, auth, m.from, []string{to}, msg)
}

// SendLicenseActivationNotice tells the customer their license was activated
// on a new domain.
func (m *Mailer) SendLicenseActivationNotice(l *license.License, domain string) error {
	subject := fmt.Sprintf("%s license activated", l.ProductName)
	body := fmt.Sprintf(
		"Hello %s,\n\nYour %s license %s was activated on %s.\n\nIf this was not you, suspend the license from your dashboard.\n",
		l.CustomerName, l.ProductName, l.LicenseKey, domain)
	return m.Send(l.CustomerEmail, subject, body)
}

// SendLicenseExpirationNotice warns the customer about an upcoming expiry.
func (m *Mailer) SendLicenseExpirationNotice(l *license.License) error {
	subject := fmt.Sprintf("%s license expiring soon", l.ProductName)
	expires := "soon"
	if l.ExpiresAt != nil {
		expires = l.ExpiresAt.UTC().Format(time.RFC1123)
	}
	body := fmt.Sprintf(
		"Hello %s,\n\nYour %s license %s expires on %s. Renew before then to keep your activations working.\n",
		l.CustomerName, l.ProductName, l.LicenseKey, expires)
	return m.Send(l.CustomerEmail, subject, body)
}
