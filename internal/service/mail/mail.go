package mail

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"sync"
	"text/template"

	"github.com/splax/accountd/internal/domain"
)

// Mailer delivers a rendered message to a recipient.
type Mailer interface {
	Send(to, subject, body string) error
}

// SMTPSender delivers mail through a plain SMTP endpoint.
type SMTPSender struct {
	Addr     string
	From     string
	Username string
	Password string
}

// Send transmits the message. Auth is only attempted when a username is
// configured.
func (s SMTPSender) Send(to, subject, body string) error {
	var auth smtp.Auth
	if s.Username != "" {
		host := s.Addr
		if idx := strings.IndexByte(host, ':'); idx >= 0 {
			host = host[:idx]
		}
		auth = smtp.PlainAuth("", s.Username, s.Password, host)
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s", s.From, to, subject, body)
	return smtp.SendMail(s.Addr, auth, s.From, []string{to}, []byte(msg))
}

// LogSender writes mail to the log instead of delivering it. Default in
// development, where no SMTP endpoint is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(to, subject, body string) error {
	s.Logger.Info("mail suppressed", "to", to, "subject", subject, "bytes", len(body))
	return nil
}

// emailParams is the data passed to body templates.
type emailParams struct {
	User     domain.User
	SiteName string
	Link     string
}

var (
	activationTemplate = template.Must(template.New("activation").Parse(`Hi {{.User.Login}},

Your {{.SiteName}} account has been created. Please activate it by
visiting the link below:

{{.Link}}

Regards,

The {{.SiteName}} team
`))

	creationTemplate = template.Must(template.New("creation").Parse(`Hi {{.User.Login}},

Your {{.SiteName}} account has been activated. You can now sign in at:

{{.Link}}

Regards,

The {{.SiteName}} team
`))

	resetTemplate = template.Must(template.New("reset").Parse(`Hi {{.User.Login}},

A password reset was requested for your {{.SiteName}} account. Use the
link below to choose a new password:

{{.Link}}

If you did not request a reset, you can ignore this email.

Regards,

The {{.SiteName}} team
`))
)

// Dispatcher renders notification emails and sends them without blocking the
// caller. Delivery failures are logged, never propagated: lifecycle state is
// already committed when a notification fires.
type Dispatcher struct {
	mailer   Mailer
	logger   *slog.Logger
	baseURL  string
	siteName string
	wg       sync.WaitGroup
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(mailer Mailer, logger *slog.Logger, baseURL, siteName string) *Dispatcher {
	return &Dispatcher{
		mailer:   mailer,
		logger:   logger,
		baseURL:  strings.TrimRight(baseURL, "/"),
		siteName: siteName,
	}
}

// SendActivationEmail mails the one-time activation link.
func (d *Dispatcher) SendActivationEmail(user domain.User, key string) {
	link := fmt.Sprintf("%s/api/v1/activate?key=%s", d.baseURL, key)
	d.dispatch(user, "activation", activationTemplate, emailParams{User: user, SiteName: d.siteName, Link: link})
}

// SendCreationEmail mails the post-activation welcome.
func (d *Dispatcher) SendCreationEmail(user domain.User) {
	d.dispatch(user, "creation", creationTemplate, emailParams{User: user, SiteName: d.siteName, Link: d.baseURL})
}

// SendPasswordResetEmail mails the one-time reset link.
func (d *Dispatcher) SendPasswordResetEmail(user domain.User, key string) {
	link := fmt.Sprintf("%s/reset?key=%s", d.baseURL, key)
	d.dispatch(user, "password reset", resetTemplate, emailParams{User: user, SiteName: d.siteName, Link: link})
}

// Wait blocks until in-flight sends finish. Used by shutdown and tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(user domain.User, kind string, tmpl *template.Template, params emailParams) {
	var body bytes.Buffer
	if err := tmpl.Execute(&body, params); err != nil {
		d.logger.Error("mail template failed", "kind", kind, "error", err)
		return
	}
	subject := fmt.Sprintf("%s %s", d.siteName, kind)
	to := user.Email
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.mailer.Send(to, subject, body.String()); err != nil {
			d.logger.Error("mail delivery failed", "kind", kind, "to", to, "error", err)
			return
		}
		d.logger.Info("mail sent", "kind", kind, "to", to)
	}()
}
