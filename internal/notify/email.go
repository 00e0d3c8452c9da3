package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net/mail"
	"net/smtp"
	"strings"

	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/board"
)

// SMTPConfig holds SMTP configuration
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer sends assignment notifications as HTML email. Recipients without an
// address are skipped.
type Mailer struct {
	config   SMTPConfig
	server   string
	auth     smtp.Auth
	dir      board.Directory
	resolver *board.Resolver
	send     sendFunc
}

func NewMailer(config SMTPConfig, dir board.Directory) *Mailer {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Mailer{
		config:   config,
		server:   config.Host + ":" + config.Port,
		auth:     auth,
		dir:      dir,
		resolver: board.NewResolver(dir),
		send:     smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (m *Mailer) IsConfigured() bool {
	return m.config.Host != "" && m.config.Port != "" && m.config.From != ""
}

func (m *Mailer) SendToUser(ctx context.Context, userID int64, msg Message) error {
	return m.deliver(ctx, board.AssignUser, userID, msg)
}

func (m *Mailer) SendToGroup(ctx context.Context, roleID int64, msg Message) error {
	return m.deliver(ctx, board.AssignRole, roleID, msg)
}

func (m *Mailer) deliver(ctx context.Context, assignType board.AssignType, id int64, msg Message) error {
	if !m.IsConfigured() {
		return errors.New("email not configured")
	}
	recipients, err := m.resolver.Audience(ctx, assignType, id)
	if err != nil {
		return err
	}

	var errs []error
	for _, recipient := range recipients {
		user, err := m.dir.GetUser(ctx, recipient)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if user.Email == "" {
			continue
		}
		html, err := renderTemplate(assignmentEmailTemplate, assignmentEmailData{
			UserName: user.Name,
			Title:    msg.Title,
			Body:     msg.Body,
			Path:     msg.Element.FullPath,
			Type:     msg.Element.Ref.Type,
			ID:       msg.Element.Ref.ID,
		})
		if err != nil {
			return fmt.Errorf("render assignment template: %w", err)
		}
		if err := m.sendHTML([]string{user.Email}, msg.Title, html); err != nil {
			errs = append(errs, fmt.Errorf("mail user %d: %w", recipient, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Mailer) sendHTML(to []string, subject, htmlBody string) error {
	from := m.config.From
	if m.config.FromName != "" {
		from = (&mail.Address{Name: headerText(m.config.FromName), Address: m.config.From}).String()
	}
	subject = headerText(subject)

	boundary := "boundary-workflow-board"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	// Plain text part (fallback)
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", subject)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return m.send(m.server, m.auth, m.config.From, to, msg.Bytes())
}

// headerText folds host-supplied text onto one line so it cannot start a new header.
func headerText(s string) string {
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool { return r == '\r' || r == '\n' }), " ")
}

type assignmentEmailData struct {
	UserName string
	Title    string
	Body     string
	Path     string
	Type     string
	ID       int64
}

func renderTemplate(tmpl string, data any) (string, error) {
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const assignmentEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .element { background: #f4f6f8; padding: 12px; border-radius: 4px; margin: 20px 0; font-family: monospace; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>Workflow Board</h1>
    </div>

    <p>Hi {{.UserName}},</p>

    <p>{{.Body}}</p>

    <div class="element">{{.Type}} #{{.ID}} {{.Path}}</div>

    <div class="footer">
        <p>You receive this email because an element was assigned to you or one of your roles.</p>
    </div>
</body>
</html>`
