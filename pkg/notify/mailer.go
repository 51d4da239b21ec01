package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	mail "github.com/go-mail/mail/v2"

	"foundersforum/pkg/domain"
)

// SMTPConfig configures the confirmation mailer.
type SMTPConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	From          string
	SkipTLSVerify bool
	EventName     string
	EventDate     string
	EventVenue    string
}

// Mailer sends a confirmation e-mail to the applicant.
type Mailer struct {
	cfg    SMTPConfig
	dialer *mail.Dialer
}

var confirmationTemplate = template.Must(template.New("confirmation").Parse(`<!doctype html>
<html lang="ko">
<body>
<h2>{{.EventName}} 참가신청이 완료되었습니다!</h2>
<p>{{.Name}}님, 신청해주셔서 감사합니다.</p>
<ul>
<li>이름: {{.Name}}</li>
<li>이메일: {{.Email}}</li>
<li>소속: {{.Organization}} / {{.Position}}</li>
{{- if .CompanyName}}
<li>창업 회사명: {{.CompanyName}}</li>
{{- end}}
{{- if .IsPitching}}
<li>IR 피칭 참여: 신청됨</li>
{{- end}}
</ul>
{{- if .EventDate}}
<p>일시: {{.EventDate}}</p>
{{- end}}
{{- if .EventVenue}}
<p>장소: {{.EventVenue}}</p>
{{- end}}
</body>
</html>
`))

// NewMailer validates cfg and prepares an SMTP dialer.
func NewMailer(cfg SMTPConfig) (*Mailer, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.From = strings.TrimSpace(cfg.From)
	if cfg.Host == "" || cfg.From == "" {
		return nil, errors.New("smtp not configured (host/from)")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if strings.TrimSpace(cfg.EventName) == "" {
		cfg.EventName = "Young Tech Founders Forum 2025"
	}
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.StartTLSPolicy = mail.MandatoryStartTLS
	d.TLSConfig = &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.SkipTLSVerify,
	}
	d.Timeout = 10 * time.Second
	return &Mailer{cfg: cfg, dialer: d}, nil
}

// NotifyRegistered sends the confirmation e-mail.
func (m *Mailer) NotifyRegistered(ctx context.Context, reg domain.Registration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := m.message(reg)
	if err != nil {
		return err
	}
	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send confirmation mail: %w", err)
	}
	return nil
}

func (m *Mailer) message(reg domain.Registration) (*mail.Message, error) {
	body, err := renderConfirmation(m.cfg, reg)
	if err != nil {
		return nil, err
	}
	msg := mail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetAddressHeader("To", reg.Email, reg.Name)
	msg.SetHeader("Subject", fmt.Sprintf("[%s] 참가신청 확인", m.cfg.EventName))
	msg.SetBody("text/html", body)
	return msg, nil
}

func renderConfirmation(cfg SMTPConfig, reg domain.Registration) (string, error) {
	data := struct {
		domain.Application
		EventName  string
		EventDate  string
		EventVenue string
	}{
		Application: reg.Application,
		EventName:   cfg.EventName,
		EventDate:   cfg.EventDate,
		EventVenue:  cfg.EventVenue,
	}
	var buf bytes.Buffer
	if err := confirmationTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render confirmation: %w", err)
	}
	return buf.String(), nil
}
