package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/authguard/pkg/logger"
	"github.com/charlesng35/authguard/pkg/mail"
)

// Security notice kinds carried in the X-Notice-Type header.
const (
	NoticeDeviceApproval = "device_approval"
	NoticeDeviceRevoked  = "device_revoked"
	NoticeAccountLocked  = "account_locked"
	NoticeTokenReuse     = "token_reuse"
	NoticeNewDevice      = "new_device"
)

// NotificationConfig configures outbound security mail.
type NotificationConfig struct {
	Enabled bool
	From    string
	AppName string
	// ApprovalURL is the base link for one-click approval; the link secret is appended as ?link=.
	ApprovalURL string
	BufferSize  int
	DropIfFull  bool
}

// ApprovalNotice asks the account owner to approve a new or re-armed device.
type ApprovalNotice struct {
	UserID     string
	Email      string
	DeviceName string
	Browser    string
	OS         string
	IPAddress  string
	Country    string
	City       string
	Link       string
	Code       string
	ExpiresAt  time.Time
}

// SecurityNotice informs the account owner about a security-relevant event.
type SecurityNotice struct {
	UserID  string
	Email   string
	Kind    string
	Summary string
	At      time.Time
	Details map[string]string
}

var (
	approvalTemplate = template.Must(template.New("approval").Parse(`A sign-in to {{.AppName}} from a device we don't recognise needs your approval.

Device:   {{.Notice.DeviceName}} ({{.Notice.Browser}} on {{.Notice.OS}})
Location: {{if .Notice.City}}{{.Notice.City}}, {{end}}{{.Notice.Country}}
IP:       {{.Notice.IPAddress}}

Verification code: {{.Notice.Code}}
{{if .Link}}
Approve this device: {{.Link}}
{{end}}
This request expires at {{.Notice.ExpiresAt.UTC.Format "2006-01-02 15:04 MST"}}.
If this wasn't you, change your password and ignore this message.
`))

	securityTemplate = template.Must(template.New("security").Parse(`{{.Notice.Summary}}

Time: {{.Notice.At.UTC.Format "2006-01-02 15:04 MST"}}
{{range $k, $v := .Notice.Details}}{{$k}}: {{$v}}
{{end}}
If you don't recognise this activity, contact your administrator.
`))
)

// NotificationService renders security mail and delivers it through an asynchronous dispatcher.
type NotificationService struct {
	cfg        NotificationConfig
	mailer     mail.Mailer
	dispatcher *Dispatcher[mail.Message]
	log        *zap.Logger
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(mailer mail.Mailer, cfg NotificationConfig) (*NotificationService, error) {
	if mailer == nil {
		return nil, errors.New("notification service: mailer is required")
	}
	if strings.TrimSpace(cfg.AppName) == "" {
		cfg.AppName = "authguard"
	}

	svc := &NotificationService{
		cfg:    cfg,
		mailer: mailer,
		log:    logger.WithModule("notifications"),
	}
	svc.dispatcher = NewDispatcher(DispatcherConfig{
		Name:       "notifications",
		BufferSize: cfg.BufferSize,
		DropIfFull: cfg.DropIfFull,
	}, mailer.Send)
	return svc, nil
}

// SendApprovalRequest queues the approval code and approval link for the account owner.
func (s *NotificationService) SendApprovalRequest(ctx context.Context, notice ApprovalNotice) {
	if s == nil || !s.cfg.Enabled {
		return
	}

	var link string
	if base := strings.TrimSpace(s.cfg.ApprovalURL); base != "" {
		link = base + "?link=" + url.QueryEscape(notice.Link)
	}

	body, err := render(approvalTemplate, map[string]any{
		"AppName": s.cfg.AppName,
		"Notice":  notice,
		"Link":    link,
	})
	if err != nil {
		s.log.Warn("render approval notice failed", zap.String("user_id", notice.UserID), zap.Error(err))
		return
	}

	s.enqueue(ctx, notice.Email, fmt.Sprintf("[%s] Approve new sign-in", s.cfg.AppName), body, NoticeDeviceApproval)
}

// SendSecurityNotice queues a security notice for the account owner.
func (s *NotificationService) SendSecurityNotice(ctx context.Context, notice SecurityNotice) {
	if s == nil || !s.cfg.Enabled {
		return
	}
	if notice.At.IsZero() {
		notice.At = time.Now()
	}

	body, err := render(securityTemplate, map[string]any{"Notice": notice})
	if err != nil {
		s.log.Warn("render security notice failed", zap.String("kind", notice.Kind), zap.Error(err))
		return
	}

	s.enqueue(ctx, notice.Email, fmt.Sprintf("[%s] Security alert", s.cfg.AppName), body, notice.Kind)
}

// Close drains queued messages.
func (s *NotificationService) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.dispatcher.Close(ctx)
}

func (s *NotificationService) enqueue(ctx context.Context, to, subject, body, kind string) {
	to = strings.TrimSpace(to)
	if to == "" {
		s.log.Warn("notification skipped: recipient missing", zap.String("kind", kind))
		return
	}
	s.dispatcher.Emit(ctx, mail.Message{
		From:    s.cfg.From,
		To:      []string{to},
		Subject: subject,
		Body:    body,
		Headers: map[string]string{"X-Notice-Type": kind},
	})
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
