// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Sender delivers a composed message. smtp.SendMail satisfies it.
type Sender func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   Sender
}

// NewService creates a new email service
func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// WithSender replaces the transport, for tests.
func (s *Service) WithSender(send Sender) *Service {
	s.send = send
	return s
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends an HTML email with a plain text fallback part.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	if len(to) == 0 {
		return fmt.Errorf("email has no recipients")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-designdesk"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", textBody)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// DeliveredFile is one output file listed in the delivery email.
type DeliveredFile struct {
	Name string
	URL  string
}

type FinalFilesData struct {
	AppName       string
	RequesterName string
	TaskTitle     string
	DesignerName  string
	TaskURL       string
	Files         []DeliveredFile
}

type TaskUpdateData struct {
	AppName       string
	RecipientName string
	TaskTitle     string
	Headline      string
	Detail        string
	TaskURL       string
}

// SendFinalFiles tells the requester their final files are ready.
func (s *Service) SendFinalFiles(to string, data FinalFilesData) error {
	if data.AppName == "" {
		data.AppName = "DesignDesk"
	}
	subject := fmt.Sprintf("Final files ready: %s", data.TaskTitle)
	html, err := renderTemplate(finalFilesTemplate, data)
	if err != nil {
		return fmt.Errorf("render final files template: %w", err)
	}
	text := fmt.Sprintf("%s delivered the final files for %q. Open %s to download them.", data.DesignerName, data.TaskTitle, data.TaskURL)
	return s.SendHTMLEmail([]string{to}, subject, text, html)
}

// SendTaskUpdate sends a generic workflow update.
func (s *Service) SendTaskUpdate(to string, data TaskUpdateData) error {
	if data.AppName == "" {
		data.AppName = "DesignDesk"
	}
	subject := fmt.Sprintf("%s: %s", data.Headline, data.TaskTitle)
	html, err := renderTemplate(taskUpdateTemplate, data)
	if err != nil {
		return fmt.Errorf("render task update template: %w", err)
	}
	text := strings.TrimSpace(data.Headline + ". " + data.Detail + " " + data.TaskURL)
	return s.SendHTMLEmail([]string{to}, subject, text, html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
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

const finalFilesTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Final files ready</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>Hi {{.RequesterName}},</p>

    <p>{{.DesignerName}} completed <strong>{{.TaskTitle}}</strong> and delivered the final files:</p>

    <ul>
    {{range .Files}}<li><a href="{{.URL}}">{{.Name}}</a></li>
    {{end}}</ul>

    <p>
        <a href="{{.TaskURL}}" class="button">Open request</a>
    </p>

    <div class="footer">
        <p>You received this because you requested this design.</p>
    </div>
</body>
</html>`

const taskUpdateTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Headline}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>Hi {{.RecipientName}},</p>

    <h2>{{.Headline}}</h2>
    <p><strong>{{.TaskTitle}}</strong></p>
    <p>{{.Detail}}</p>

    <p>
        <a href="{{.TaskURL}}" class="button">Open request</a>
    </p>
</body>
</html>`
