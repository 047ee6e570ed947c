// Package mailer renders and delivers the transactional emails sent by the
// service: password-reset codes and verification decisions.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/sirupsen/logrus"
)

// Sender delivers one rendered HTML message.
type Sender interface {
	Send(ctx context.Context, to, subject, html string) error
}

var templates = template.Must(template.New("mail").Parse(`
{{define "otp"}}<p>Hello,</p>
<p>Your password reset code is <strong>{{.Code}}</strong>.</p>
<p>The code is valid for {{.ValidFor}}. If you did not request a reset, you can ignore this email.</p>
<p>{{.AppName}}</p>{{end}}

{{define "approved"}}<p>Dear {{.Name}},</p>
<p>Your identity has been verified. You now have full access to {{.AppName}}.</p>
<p>{{.AppName}}</p>{{end}}

{{define "disapproved"}}<p>Dear {{.Name}},</p>
<p>Your identity verification has been revoked. Please contact support or submit your documents again.</p>
<p>{{.AppName}}</p>{{end}}
`))

type Notifier struct {
	sender   Sender
	appName  string
	otpValid time.Duration
	logger   *logrus.Logger
}

func NewNotifier(sender Sender, appName string, otpValid time.Duration, logger *logrus.Logger) *Notifier {
	return &Notifier{
		sender:   sender,
		appName:  appName,
		otpValid: otpValid,
		logger:   logger,
	}
}

func (n *Notifier) SendOTP(ctx context.Context, email, code string) error {
	return n.send(ctx, email, "Your password reset code", "otp", map[string]any{
		"Code":     code,
		"ValidFor": validFor(n.otpValid),
		"AppName":  n.appName,
	})
}

func (n *Notifier) SendVerificationApproved(ctx context.Context, email, name string) error {
	return n.send(ctx, email, "Your account has been verified", "approved", map[string]any{
		"Name":    name,
		"AppName": n.appName,
	})
}

func (n *Notifier) SendVerificationDisapproved(ctx context.Context, email, name string) error {
	return n.send(ctx, email, "Your account verification was revoked", "disapproved", map[string]any{
		"Name":    name,
		"AppName": n.appName,
	})
}

func (n *Notifier) send(ctx context.Context, to, subject, tmpl string, data map[string]any) error {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, tmpl, data); err != nil {
		return fmt.Errorf("failed to render %s email: %w", tmpl, err)
	}

	if err := n.sender.Send(ctx, to, subject, buf.String()); err != nil {
		return fmt.Errorf("failed to send %s email: %w", tmpl, err)
	}

	n.logger.WithFields(logrus.Fields{
		"to":       to,
		"template": tmpl,
	}).Info("Email sent")
	return nil
}

func validFor(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		if m := int(d / time.Minute); m != 1 {
			return fmt.Sprintf("%d minutes", m)
		}
		return "1 minute"
	}
	return d.String()
}
