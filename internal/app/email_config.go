package app

import (
	"strings"

	"github.com/charlesng35/authguard/internal/services"
	"github.com/charlesng35/authguard/pkg/mail"
)

// SMTPSettings converts EmailConfig to the mail package representation.
func (c EmailConfig) SMTPSettings() mail.SMTPSettings {
	return mail.SMTPSettings{
		Enabled:  c.SMTP.Enabled,
		Host:     c.SMTP.Host,
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     c.SMTP.From,
		UseTLS:   c.SMTP.UseTLS,
		Timeout:  c.SMTP.Timeout,
	}
}

// NotificationServiceConfig combines the notification section with the sender address.
func (c *Config) NotificationServiceConfig() services.NotificationConfig {
	return services.NotificationConfig{
		Enabled:     c.Notifications.Enabled,
		From:        strings.TrimSpace(c.Email.SMTP.From),
		AppName:     strings.TrimSpace(c.Notifications.AppName),
		ApprovalURL: strings.TrimSpace(c.Notifications.ApprovalURL),
		BufferSize:  c.Notifications.BufferSize,
		DropIfFull:  c.Notifications.DropIfFull,
	}
}

// AuditServiceConfig converts the audit section.
func (c AuditConfig) AuditServiceConfig() services.AuditConfig {
	return services.AuditConfig{
		Enabled:    c.Enabled,
		BufferSize: c.BufferSize,
		DropIfFull: c.DropIfFull,
	}
}
